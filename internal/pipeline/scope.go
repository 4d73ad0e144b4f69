package pipeline

import (
	"fmt"

	"clinicsync/pkg/domain"
)

// Scope narrows a run to one family of datasets.
type Scope string

// Run scopes selectable from the command line.
const (
	ScopeAll          Scope = ""
	ScopePatients     Scope = "patients"
	ScopeAppointments Scope = "appointments"
	ScopeMedical      Scope = "medical"
	ScopeFinancial    Scope = "financial"
	ScopeGrowth       Scope = "growth"
	ScopeBF           Scope = "bf"
)

var scopeDatasets = map[Scope][]domain.Dataset{
	ScopePatients:     {domain.DatasetPatients},
	ScopeAppointments: {domain.DatasetAppointments, domain.DatasetSetmoreAppointments},
	ScopeMedical: {
		domain.DatasetProtocols, domain.DatasetMedicalInfo, domain.DatasetPediatricExamination,
		domain.DatasetObstetrics, domain.DatasetGynecology,
	},
	ScopeFinancial: {domain.DatasetServices, domain.DatasetPayments},
	ScopeGrowth:    {domain.DatasetPediatricPercentile},
	ScopeBF:        {domain.DatasetPediatricExamination, domain.DatasetPediatricVaccination},
}

// ParseScope validates a scope name.
func ParseScope(name string) (Scope, error) {
	s := Scope(name)
	if s == ScopeAll {
		return s, nil
	}
	if _, ok := scopeDatasets[s]; !ok {
		return "", fmt.Errorf("unknown scope %q", name)
	}
	return s, nil
}

// Includes reports whether ds is processed under the scope.
func (s Scope) Includes(ds domain.Dataset) bool {
	if s == ScopeAll {
		return true
	}
	for _, d := range scopeDatasets[s] {
		if d == ds {
			return true
		}
	}
	return false
}

// Datasets lists the scope's datasets in load order.
func (s Scope) Datasets() []domain.Dataset {
	var out []domain.Dataset
	for _, ds := range domain.AllDatasets() {
		if s.Includes(ds) {
			out = append(out, ds)
		}
	}
	return out
}

// RederivesAll reports whether derivation covers every known patient rather than
// only those touched by the run.
func (s Scope) RederivesAll() bool { return s == ScopeBF }
