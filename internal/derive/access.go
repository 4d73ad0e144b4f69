package derive

import (
	"context"
	"sort"

	"clinicsync/pkg/domain"
)

// ProfessionalRoles may read every patient.
var ProfessionalRoles = []domain.Role{domain.RoleAdmin, domain.RoleDoctor, domain.RoleNurse}

// RoleReader is the reader entry granting a role access.
func RoleReader(r domain.Role) string { return "role:" + string(r) }

type accessRule struct{}

// NewAccessRule projects which users may read the patient.
func NewAccessRule() Rule { return accessRule{} }

func (accessRule) Name() string { return "patient_access" }

func (accessRule) Evaluate(_ context.Context, in Input) (Output, error) {
	parents := dedupe(in.ParentUserIDs)
	readers := append([]string(nil), parents...)
	for _, r := range ProfessionalRoles {
		readers = append(readers, RoleReader(r))
	}
	return Output{Access: []domain.PatientAccess{{
		PatientID:     in.Patient.ID,
		ParentUserIDs: parents,
		Readers:       readers,
	}}}, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
