package resolve

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"clinicsync/internal/docstore/core"
	"clinicsync/pkg/domain"
)

// PlaceholderDomain hosts synthesized emails for secondary-source customers without one.
const PlaceholderDomain = "placeholder.local"

// PlaceholderEmail synthesizes setmore_<digits>@placeholder.local from a phone number.
// It returns "" when the phone carries no digits.
func PlaceholderEmail(phone string) string {
	digits := digitsOf(phone)
	if digits == "" {
		return ""
	}
	return "setmore_" + digits + "@" + PlaceholderDomain
}

// CaregiverID is user_<national_id>, else the email with '@' and '.' replaced by '_'.
func CaregiverID(c domain.Caregiver) (string, error) {
	if c.NationalID != "" {
		return "user_" + c.NationalID, nil
	}
	if c.Email != "" {
		return strings.NewReplacer("@", "_", ".", "_").Replace(strings.ToLower(c.Email)), nil
	}
	return "", ErrNoCaregiverKey
}

// Linkage is the result of attaching a caregiver to a patient.
type Linkage struct {
	Caregiver domain.Caregiver
	Link      domain.PatientCaregiverLink
	// Added is false when the patient was already among the caregiver's children.
	Added bool
}

// LinkCaregiver adds patientID to the caregiver's children, reading the stored
// caregiver the first time it is seen in this run.
func (r *Resolver) LinkCaregiver(ctx context.Context, c domain.Caregiver, patientID string) (Linkage, error) {
	id, err := CaregiverID(c)
	if err != nil {
		return Linkage{}, err
	}
	cached, ok := r.caregivers[id]
	if !ok {
		cached, err = r.loadCaregiver(ctx, id)
		if err != nil {
			return Linkage{}, err
		}
		r.caregivers[id] = cached
	}
	mergeCaregiver(cached, c)
	cached.ID = id
	if cached.Role == "" {
		cached.Role = domain.RoleParent
	}
	added := cached.AddChild(patientID)
	return Linkage{
		Caregiver: cloneCaregiver(*cached),
		Link:      domain.PatientCaregiverLink{PatientID: patientID, CaregiverID: id, Source: c.Source},
		Added:     added,
	}, nil
}

// Caregivers returns every caregiver touched in this run.
func (r *Resolver) Caregivers() []domain.Caregiver {
	out := make([]domain.Caregiver, 0, len(r.caregivers))
	for _, c := range r.caregivers {
		out = append(out, cloneCaregiver(*c))
	}
	return out
}

func (r *Resolver) loadCaregiver(ctx context.Context, id string) (*domain.Caregiver, error) {
	doc, err := r.store.Get(ctx, domain.CollectionUsers, id)
	if errors.Is(err, core.ErrNotFound) {
		return &domain.Caregiver{ID: id}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load caregiver %s: %w", id, err)
	}
	var c domain.Caregiver
	if err := core.Decode(doc, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func mergeCaregiver(dst *domain.Caregiver, src domain.Caregiver) {
	set := func(d *string, v string) {
		if v != "" {
			*d = v
		}
	}
	set(&dst.NationalID, src.NationalID)
	set(&dst.Email, src.Email)
	set(&dst.Phone, src.Phone)
	set(&dst.FirstName, src.FirstName)
	set(&dst.LastName, src.LastName)
	if src.Role != "" {
		dst.Role = src.Role
	}
	if dst.Source == "" {
		dst.Source = src.Source
	}
}

func cloneCaregiver(c domain.Caregiver) domain.Caregiver {
	c.Children = append([]string(nil), c.Children...)
	return c
}

// LinkID is the deterministic document ID of a patient/caregiver link row.
func LinkID(l domain.PatientCaregiverLink) string {
	return l.PatientID + "__" + l.CaregiverID
}
