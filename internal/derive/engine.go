// Package derive computes Bright Futures visits, expected vaccinations, screening
// state, milestone observations, risk and access projections for a patient.
//
// Each derivation is a Rule; the Engine runs the registered rules in order and merges
// their outputs. Scorer failures are returned as Issues rather than errors so one bad
// questionnaire never hides the rest of a patient's artifacts.
package derive

import (
	"context"
	"sort"
	"time"

	"clinicsync/internal/textpattern"
	"clinicsync/pkg/domain"
)

// Exam is one examination of the patient with the facts read from its notes.
type Exam struct {
	ProtocolNo string
	At         *time.Time
	VisitType  domain.VisitType
	Facts      textpattern.Facts
	Extras     map[string]string
}

// Input is everything the rules see for one patient.
type Input struct {
	Patient       domain.PatientKey
	Now           time.Time
	Exams         []Exam
	Vaccinations  []domain.VaccinationRecord
	ParentUserIDs []string
}

// AgeMonths is the patient's age at Now, false when DOB is unknown.
func (in Input) AgeMonths() (int, bool) {
	return in.Patient.AgeMonths(in.Now)
}

// Output collects every derived artifact.
type Output struct {
	Visits       []domain.BFVisit
	Vaccinations []domain.ExpectedVaccination
	Screenings   []domain.ScreeningAssessment
	Milestones   []domain.MilestoneObservation
	Risk         []domain.RiskAssessment
	Access       []domain.PatientAccess
	Issues       []domain.ValidationError
}

// Merge appends other into o.
func (o *Output) Merge(other Output) {
	o.Visits = append(o.Visits, other.Visits...)
	o.Vaccinations = append(o.Vaccinations, other.Vaccinations...)
	o.Screenings = append(o.Screenings, other.Screenings...)
	o.Milestones = append(o.Milestones, other.Milestones...)
	o.Risk = append(o.Risk, other.Risk...)
	o.Access = append(o.Access, other.Access...)
	o.Issues = append(o.Issues, other.Issues...)
}

// Rule is one derivation.
type Rule interface {
	Name() string
	Evaluate(ctx context.Context, in Input) (Output, error)
}

// Engine orchestrates rule evaluation.
type Engine struct {
	rules []Rule
}

// NewEngine constructs an engine with the given rules.
func NewEngine(rules ...Rule) *Engine {
	return &Engine{rules: rules}
}

// Default registers every rule with the given immunization schedule.
func Default(schedule *Schedule) *Engine {
	return NewEngine(
		NewBrightFuturesRule(schedule),
		NewMilestoneRule(),
		NewVaccinationRule(schedule),
		NewScreeningRule(),
		NewRiskRule(),
		NewAccessRule(),
	)
}

// Register appends a rule to the engine.
func (e *Engine) Register(rule Rule) {
	e.rules = append(e.rules, rule)
}

// Rules returns the registered rule names in evaluation order.
func (e *Engine) Rules() []string {
	names := make([]string, len(e.rules))
	for i, r := range e.rules {
		names[i] = r.Name()
	}
	return names
}

// Evaluate executes all registered rules and aggregates their results.
func (e *Engine) Evaluate(ctx context.Context, in Input) (Output, error) {
	in.Exams = sortedExams(in.Exams)
	var combined Output
	for _, rule := range e.rules {
		if err := ctx.Err(); err != nil {
			return Output{}, err
		}
		res, err := rule.Evaluate(ctx, in)
		if err != nil {
			return Output{}, err
		}
		combined.Merge(res)
	}
	return combined, nil
}

func sortedExams(exams []Exam) []Exam {
	out := append([]Exam(nil), exams...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].At, out[j].At
		switch {
		case a == nil && b == nil:
			return out[i].ProtocolNo < out[j].ProtocolNo
		case a == nil:
			return true
		case b == nil:
			return false
		}
		return a.Before(*b)
	})
	return out
}

// daysPerMonth converts schedule ages into calendar offsets.
const daysPerMonth = 30.44

// DueDate is dob + months × 30.44 days.
func DueDate(dob time.Time, months int) time.Time {
	return dob.Add(time.Duration(float64(months) * daysPerMonth * 24 * float64(time.Hour)))
}

func timePtr(t time.Time) *time.Time { return &t }
