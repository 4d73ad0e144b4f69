package derive

import (
	"context"
	"sort"

	"clinicsync/internal/textpattern"
	"clinicsync/pkg/domain"
)

// ScoreRisk counts truthy responses: 0 low, 1-2 moderate, 3-4 high, 5 or more critical.
func ScoreRisk(responses map[string]bool) (int, domain.RiskLevel) {
	score := 0
	for _, v := range responses {
		if v {
			score++
		}
	}
	switch {
	case score >= 5:
		return score, domain.RiskCritical
	case score >= 3:
		return score, domain.RiskHigh
	case score >= 1:
		return score, domain.RiskModerate
	}
	return score, domain.RiskLow
}

// lowBirthWeightKg is the WHO low birth weight threshold.
const lowBirthWeightKg = 2.5

type riskRule struct{}

// NewRiskRule scores risk factors stated in notes and the recorded birth history.
func NewRiskRule() Rule { return riskRule{} }

func (riskRule) Name() string { return "risk" }

func (riskRule) Evaluate(_ context.Context, in Input) (Output, error) {
	var out Output
	responses := make(map[string]bool)
	if bh := in.Patient.BirthHistory; bh != nil {
		if bh.GestationalAgeWeeks != nil {
			responses[textpattern.RiskPrematurity] = bh.Preterm()
		}
		if bh.BirthWeightKg != nil {
			responses[textpattern.RiskLowBirthWeight] = *bh.BirthWeightKg < lowBirthWeightKg
		}
	}
	var assessed *Exam
	for i, exam := range in.Exams {
		if len(exam.Facts.RiskFactors) == 0 {
			continue
		}
		keys := make([]string, 0, len(exam.Facts.RiskFactors))
		for k := range exam.Facts.RiskFactors {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			responses[k] = exam.Facts.RiskFactors[k]
		}
		assessed = &in.Exams[i]
	}
	if len(responses) == 0 {
		return out, nil
	}
	score, level := ScoreRisk(responses)
	at := in.Now
	if assessed != nil && assessed.At != nil {
		at = *assessed.At
	}
	out.Risk = append(out.Risk, domain.RiskAssessment{
		PatientID:  in.Patient.ID,
		Tool:       domain.ToolSocialRisk,
		Responses:  responses,
		Score:      score,
		RiskLevel:  level,
		AssessedAt: at,
	})
	return out, nil
}

// RiskDocID is the deterministic document ID of a patient's risk assessment.
func RiskDocID(r domain.RiskAssessment) string {
	return r.PatientID + "_" + r.Tool
}
