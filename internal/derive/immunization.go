package derive

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"clinicsync/pkg/domain"
)

//go:embed immunization_schedule.yaml
var defaultScheduleYAML []byte

// ScheduledVaccine is one vaccine of the immunization schedule.
type ScheduledVaccine struct {
	Code string `yaml:"code"`
	Name string `yaml:"name"`
	Ages []int  `yaml:"ages"`
}

// Schedule is a versioned immunization schedule.
type Schedule struct {
	Version  string             `yaml:"version"`
	Vaccines []ScheduledVaccine `yaml:"vaccines"`
}

// DefaultSchedule returns the embedded schedule.
func DefaultSchedule() (*Schedule, error) {
	return ParseSchedule(defaultScheduleYAML)
}

// LoadSchedule reads a schedule file, falling back to the embedded one when path is empty.
func LoadSchedule(path string) (*Schedule, error) {
	if path == "" {
		return DefaultSchedule()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read immunization schedule: %w", err)
	}
	return ParseSchedule(data)
}

// ParseSchedule decodes and validates a YAML schedule.
func ParseSchedule(data []byte) (*Schedule, error) {
	var s Schedule
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse immunization schedule: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks the schedule is versioned and each vaccine has ordered ages.
func (s *Schedule) Validate() error {
	if s.Version == "" {
		return domain.ValidationError{Field: "version", Message: "immunization schedule must be versioned"}
	}
	if len(s.Vaccines) == 0 {
		return domain.ValidationError{Field: "vaccines", Message: "immunization schedule is empty"}
	}
	seen := make(map[string]bool, len(s.Vaccines))
	for _, v := range s.Vaccines {
		if v.Code == "" {
			return domain.ValidationError{Field: "code", Message: "vaccine without code"}
		}
		if seen[v.Code] {
			return domain.ValidationError{Field: "code", Message: fmt.Sprintf("duplicate vaccine %s", v.Code)}
		}
		seen[v.Code] = true
		if len(v.Ages) == 0 {
			return domain.ValidationError{Field: v.Code, Message: "vaccine without ages"}
		}
		if !sort.IntsAreSorted(v.Ages) {
			return domain.ValidationError{Field: v.Code, Message: "ages must be ascending"}
		}
	}
	return nil
}

// Name returns the display name of a vaccine code.
func (s *Schedule) Name(code string) string {
	for _, v := range s.Vaccines {
		if v.Code == code {
			return v.Name
		}
	}
	return code
}

// CodesBetween lists vaccine codes with a dose due between minAge and maxAge inclusive.
func (s *Schedule) CodesBetween(minAge, maxAge int) []string {
	if s == nil {
		return nil
	}
	var out []string
	for _, v := range s.Vaccines {
		for _, a := range v.Ages {
			if a >= minAge && a <= maxAge {
				out = append(out, v.Code)
				break
			}
		}
	}
	return out
}

// Expected computes the schedule state at ageMonths given the recorded doses.
// A dose within one month of the patient's age is due soon; an earlier unrecorded
// dose is overdue. Recorded doses at or below the patient's age are reported as recorded.
func (s *Schedule) Expected(patientID string, dob time.Time, ageMonths int, recorded map[string]bool) []domain.ExpectedVaccination {
	var out []domain.ExpectedVaccination
	for _, v := range s.Vaccines {
		for i, a := range v.Ages {
			dose := i + 1
			key := domain.VaccinationRecord{VaccineCode: v.Code, DoseNumber: dose}.Key()
			status := ""
			near := a-ageMonths <= 1 && ageMonths-a <= 1
			switch {
			case recorded[key] && a <= ageMonths+1:
				status = domain.VaccinationRecorded
			case recorded[key]:
				continue
			case near:
				status = domain.VaccinationDueSoon
			case a < ageMonths:
				status = domain.VaccinationOverdue
			default:
				continue
			}
			out = append(out, domain.ExpectedVaccination{
				PatientID:   patientID,
				VaccineCode: v.Code,
				VaccineName: v.Name,
				DoseNumber:  dose,
				AgeMonths:   a,
				DueDate:     DueDate(dob, a),
				Status:      status,
			})
		}
	}
	return out
}

type vaccinationRule struct {
	schedule *Schedule
}

// NewVaccinationRule derives expected vaccinations from the schedule and recorded doses.
func NewVaccinationRule(s *Schedule) Rule { return vaccinationRule{schedule: s} }

func (vaccinationRule) Name() string { return "vaccinations" }

func (r vaccinationRule) Evaluate(_ context.Context, in Input) (Output, error) {
	var out Output
	age, ok := in.AgeMonths()
	if !ok || r.schedule == nil {
		return out, nil
	}
	recorded := make(map[string]bool)
	for _, v := range in.Vaccinations {
		if v.VaccineCode != "" {
			recorded[v.Key()] = true
		}
	}
	for _, exam := range in.Exams {
		for _, m := range exam.Facts.Vaccines {
			if m.Dose > 0 {
				recorded[domain.VaccinationRecord{VaccineCode: m.Code, DoseNumber: m.Dose}.Key()] = true
			}
		}
	}
	out.Vaccinations = r.schedule.Expected(in.Patient.ID, *in.Patient.DateOfBirth, age, recorded)
	return out, nil
}

// VaccinationDocID is the deterministic document ID of an expected vaccination.
func VaccinationDocID(v domain.ExpectedVaccination) string {
	return fmt.Sprintf("%s_%s_%d", v.PatientID, v.VaccineCode, v.DoseNumber)
}
