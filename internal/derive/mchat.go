package derive

import (
	"fmt"

	"clinicsync/pkg/domain"
)

// MCHATItems is the number of M-CHAT-R questions.
const MCHATItems = 20

// mchatCritical are the 1-based items whose failure weighs most.
var mchatCritical = []int{2, 5, 8, 10, 14, 15, 18, 20}

// MCHATResult is a scored M-CHAT-R questionnaire.
type MCHATResult struct {
	Total            int
	Critical         int
	FailedItems      []int
	Risk             domain.RiskLevel
	FollowUp         bool
	Referral         bool
	Interpretation   string
	InterpretationTR string
	FollowUpText     string
}

// ScoreMCHAT scores 20 yes/no answers; answers[0] is item 1. A false answer is a failed item.
func ScoreMCHAT(answers []bool) (MCHATResult, error) {
	if len(answers) != MCHATItems {
		return MCHATResult{}, domain.ValidationError{
			Field:   "responses",
			Message: fmt.Sprintf("M-CHAT-R needs exactly %d answers, got %d", MCHATItems, len(answers)),
		}
	}
	var res MCHATResult
	for i, a := range answers {
		if !a {
			res.Total++
			res.FailedItems = append(res.FailedItems, i+1)
		}
	}
	for _, q := range mchatCritical {
		if !answers[q-1] {
			res.Critical++
		}
	}
	switch {
	case res.Total >= 8:
		res.Risk, res.FollowUp, res.Referral = domain.RiskHigh, true, true
		res.Interpretation = "High risk for autism spectrum disorder"
		res.InterpretationTR = "Otizm spektrum bozukluğu açısından yüksek risk"
		res.FollowUpText = "Refer for diagnostic evaluation and early intervention eligibility without waiting for the follow-up interview."
	case res.Total >= 3 || res.Critical >= 2:
		res.Risk, res.FollowUp = domain.RiskModerate, true
		res.Interpretation = "Medium risk for autism spectrum disorder"
		res.InterpretationTR = "Otizm spektrum bozukluğu açısından orta risk"
		res.FollowUpText = "Administer the M-CHAT-R follow-up interview for failed items."
	default:
		res.Risk = domain.RiskLow
		res.Interpretation = "Low risk for autism spectrum disorder"
		res.InterpretationTR = "Otizm spektrum bozukluğu açısından düşük risk"
		res.FollowUpText = "No action needed; rescreen at the 24-month visit if younger than 24 months."
	}
	return res, nil
}

// Assessment converts the result into a screening record.
func (r MCHATResult) Assessment(patientID string, answers []bool) domain.ScreeningAssessment {
	responses := make(map[string]any, len(answers))
	for i, a := range answers {
		responses[fmt.Sprintf("q%d", i+1)] = a
	}
	return domain.ScreeningAssessment{
		PatientID: patientID,
		Tool:      domain.ToolMCHATR,
		Kind:      domain.ScreeningKindScored,
		Responses: responses,
		RawScore:  r.Total,
		Breakdown: map[string]any{
			"total":       r.Total,
			"critical":    r.Critical,
			"failedItems": r.FailedItems,
		},
		Interpretation:   r.Interpretation,
		InterpretationTR: r.InterpretationTR,
		RiskLevel:        r.Risk,
		FollowUp:         r.FollowUp,
		Referral:         r.Referral,
		FollowUpText:     r.FollowUpText,
		Status:           domain.ScreeningCompleted,
	}
}
