package derive

import (
	"fmt"
	"sort"
	"strings"

	"clinicsync/pkg/domain"
)

// ASQ-3 domains.
const (
	ASQCommunication  = "communication"
	ASQGrossMotor     = "gross_motor"
	ASQFineMotor      = "fine_motor"
	ASQProblemSolving = "problem_solving"
	ASQPersonalSocial = "personal_social"
)

// ASQDomains lists the domains in questionnaire order.
var ASQDomains = []string{ASQCommunication, ASQGrossMotor, ASQFineMotor, ASQProblemSolving, ASQPersonalSocial}

// ASQ-3 domain statuses.
const (
	ASQConcerning = "concerning"
	ASQMonitor    = "monitor"
	ASQOnTrack    = "on_track"
)

// asqMonitorBand is the width of the monitoring zone above each cutoff.
const asqMonitorBand = 5

// asqCutoffs holds per-questionnaire cutoffs in ASQDomains order.
var asqCutoffs = []struct {
	months  int
	cutoffs [5]float64
}{
	{2, [5]float64{22.77, 41.84, 30.16, 24.62, 33.71}},
	{4, [5]float64{34.60, 38.41, 29.62, 34.98, 33.16}},
	{6, [5]float64{29.65, 22.25, 25.14, 27.72, 25.34}},
	{8, [5]float64{33.06, 30.61, 40.15, 36.17, 35.84}},
	{9, [5]float64{13.97, 17.82, 31.32, 28.72, 18.91}},
	{10, [5]float64{22.87, 30.07, 37.97, 32.51, 27.25}},
	{12, [5]float64{15.64, 21.49, 34.50, 27.32, 21.73}},
	{14, [5]float64{17.40, 25.80, 23.06, 22.56, 23.18}},
	{16, [5]float64{16.81, 37.91, 31.98, 30.51, 26.43}},
	{18, [5]float64{13.06, 37.38, 34.32, 25.74, 27.19}},
	{20, [5]float64{20.50, 39.89, 36.05, 28.84, 33.36}},
	{22, [5]float64{13.04, 27.75, 29.61, 29.30, 30.07}},
	{24, [5]float64{25.17, 38.07, 35.16, 29.78, 31.54}},
	{27, [5]float64{24.02, 28.01, 18.42, 27.62, 25.31}},
	{30, [5]float64{33.30, 36.14, 19.25, 27.08, 32.01}},
	{33, [5]float64{25.36, 34.80, 12.28, 26.92, 28.96}},
	{36, [5]float64{30.99, 36.99, 18.07, 30.29, 35.33}},
	{42, [5]float64{27.06, 36.27, 19.82, 28.11, 31.12}},
	{48, [5]float64{30.72, 32.78, 15.81, 31.30, 26.60}},
	{54, [5]float64{31.85, 35.18, 17.32, 28.12, 32.33}},
	{60, [5]float64{33.19, 31.28, 26.54, 29.99, 39.07}},
}

// ASQCutoff returns the cutoff of a domain for the questionnaire matching ageMonths:
// the latest questionnaire interval not after the child's age.
func ASQCutoff(ageMonths int, domainName string) (float64, bool) {
	idx := -1
	for i, d := range ASQDomains {
		if d == domainName {
			idx = i
		}
	}
	if idx < 0 {
		return 0, false
	}
	row := asqCutoffs[0]
	for _, c := range asqCutoffs {
		if c.months <= ageMonths {
			row = c
		}
	}
	return row.cutoffs[idx], true
}

// ASQDomainResult is one domain's score.
type ASQDomainResult struct {
	Score  int
	Cutoff float64
	Status string
}

// ASQResult is a scored ASQ-3 questionnaire.
type ASQResult struct {
	AgeMonths        int
	Domains          map[string]ASQDomainResult
	Concerning       int
	Risk             domain.RiskLevel
	Referral         bool
	FollowUp         bool
	Interpretation   string
	InterpretationTR string
}

// ScoreASQ sums responses keyed "<domain>_<n>" per domain and grades each against its cutoff.
func ScoreASQ(ageMonths int, responses map[string]int) (ASQResult, error) {
	if ageMonths < 2 || ageMonths > 60 {
		return ASQResult{}, domain.ValidationError{
			Field:   "ageMonths",
			Message: fmt.Sprintf("ASQ-3 applies from 2 to 60 months, got %d", ageMonths),
		}
	}
	sums := make(map[string]int, len(ASQDomains))
	seen := make(map[string]bool, len(ASQDomains))
	for key, v := range responses {
		i := strings.LastIndex(key, "_")
		if i <= 0 {
			return ASQResult{}, domain.ValidationError{Field: key, Message: "ASQ-3 response keys are <domain>_<n>"}
		}
		d := key[:i]
		if _, ok := ASQCutoff(ageMonths, d); !ok {
			return ASQResult{}, domain.ValidationError{Field: key, Message: fmt.Sprintf("unknown ASQ-3 domain %q", d)}
		}
		sums[d] += v
		seen[d] = true
	}
	if len(seen) == 0 {
		return ASQResult{}, domain.ValidationError{Field: "responses", Message: "ASQ-3 needs at least one response"}
	}

	res := ASQResult{AgeMonths: ageMonths, Domains: make(map[string]ASQDomainResult, len(ASQDomains))}
	for _, d := range ASQDomains {
		if !seen[d] {
			continue
		}
		cutoff, _ := ASQCutoff(ageMonths, d)
		score := sums[d]
		status := ASQOnTrack
		switch {
		case float64(score) < cutoff:
			status = ASQConcerning
			res.Concerning++
		case float64(score) < cutoff+asqMonitorBand:
			status = ASQMonitor
		}
		res.Domains[d] = ASQDomainResult{Score: score, Cutoff: cutoff, Status: status}
	}
	switch {
	case res.Concerning >= 2:
		res.Risk, res.Referral, res.FollowUp = domain.RiskHigh, true, true
		res.Interpretation = "Scores below cutoff in several domains; refer for developmental evaluation"
		res.InterpretationTR = "Birden fazla alanda eşik altı puan; gelişimsel değerlendirmeye yönlendirin"
	case res.Concerning == 1:
		res.Risk, res.FollowUp = domain.RiskModerate, true
		res.Interpretation = "Score below cutoff in one domain; provide activities and rescreen"
		res.InterpretationTR = "Bir alanda eşik altı puan; etkinlik önerin ve yeniden tarayın"
	default:
		res.Risk = domain.RiskLow
		res.Interpretation = "Development appears on schedule"
		res.InterpretationTR = "Gelişim yaşına uygun görünüyor"
	}
	return res, nil
}

// Assessment converts the result into a screening record.
func (r ASQResult) Assessment(patientID string, responses map[string]int) domain.ScreeningAssessment {
	raw := make(map[string]any, len(responses))
	total := 0
	for k, v := range responses {
		raw[k] = v
		total += v
	}
	breakdown := make(map[string]any, len(r.Domains))
	names := make([]string, 0, len(r.Domains))
	for d := range r.Domains {
		names = append(names, d)
	}
	sort.Strings(names)
	for _, d := range names {
		dr := r.Domains[d]
		breakdown[d] = map[string]any{"score": dr.Score, "cutoff": dr.Cutoff, "status": dr.Status}
	}
	text := ""
	if r.FollowUp {
		text = "Rescreen in 2-4 months with targeted activities for low-scoring domains."
		if r.Referral {
			text = "Refer for comprehensive developmental evaluation."
		}
	}
	return domain.ScreeningAssessment{
		PatientID:        patientID,
		Tool:             domain.ToolASQ3,
		Kind:             domain.ScreeningKindScored,
		Responses:        raw,
		RawScore:         total,
		Breakdown:        breakdown,
		Interpretation:   r.Interpretation,
		InterpretationTR: r.InterpretationTR,
		RiskLevel:        r.Risk,
		FollowUp:         r.FollowUp,
		Referral:         r.Referral,
		FollowUpText:     text,
		Status:           domain.ScreeningCompleted,
	}
}
