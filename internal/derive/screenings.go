package derive

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"clinicsync/internal/textpattern"
	"clinicsync/pkg/domain"
)

// screeningPeriodicity is the age schedule of standardized screenings.
var screeningPeriodicity = []struct {
	tool string
	ages []int
}{
	{textpattern.ScreeningASQ3, []int{9, 18, 30}},
	{textpattern.ScreeningMCHATR, []int{18, 24}},
}

// screeningWindow is how many months after its age a screening still counts as due.
const screeningWindow = 3

// Extras column prefixes carrying questionnaire answers.
const (
	mchatPrefix = "MCHAT_"
	asqPrefix   = "ASQ_"
)

var asqDomainAliases = map[string]string{
	"iletisim":       ASQCommunication,
	"kaba_motor":     ASQGrossMotor,
	"ince_motor":     ASQFineMotor,
	"problem_cozme":  ASQProblemSolving,
	"kisisel_sosyal": ASQPersonalSocial,
}

type screeningRule struct{}

// NewScreeningRule scores submitted questionnaires and derives expected screenings.
func NewScreeningRule() Rule { return screeningRule{} }

func (screeningRule) Name() string { return "screenings" }

func (screeningRule) Evaluate(_ context.Context, in Input) (Output, error) {
	var out Output
	dob := in.Patient.DateOfBirth
	// completedAt maps a tool to the ages (months) at which it was administered.
	completedAt := make(map[string][]int)

	for _, exam := range in.Exams {
		examAge := -1
		if dob != nil && exam.At != nil {
			examAge = domain.MonthsBetween(*dob, *exam.At)
		}
		if answers, ok, err := mchatAnswers(exam.Extras); ok {
			if err == nil {
				var res MCHATResult
				res, err = ScoreMCHAT(answers)
				if err == nil {
					a := res.Assessment(in.Patient.ID, answers)
					a.AdministeredAt = exam.At
					a.ProtocolNo = exam.ProtocolNo
					a.Language = "tr"
					out.Screenings = append(out.Screenings, a)
					completedAt[domain.ToolMCHATR] = append(completedAt[domain.ToolMCHATR], examAge)
				}
			}
			if err != nil {
				out.Issues = append(out.Issues, issue(exam, err))
			}
		}
		if responses, ok, err := asqResponses(exam.Extras); ok {
			if err == nil {
				var res ASQResult
				res, err = ScoreASQ(examAge, responses)
				if err == nil {
					a := res.Assessment(in.Patient.ID, responses)
					a.AdministeredAt = exam.At
					a.ProtocolNo = exam.ProtocolNo
					a.Language = "tr"
					out.Screenings = append(out.Screenings, a)
					completedAt[domain.ToolASQ3] = append(completedAt[domain.ToolASQ3], examAge)
				}
			}
			if err != nil {
				out.Issues = append(out.Issues, issue(exam, err))
			}
		}
		for _, tool := range exam.Facts.Screenings {
			out.Screenings = append(out.Screenings, domain.ScreeningAssessment{
				PatientID:      in.Patient.ID,
				Tool:           tool,
				Kind:           domain.ScreeningKindMentioned,
				AdministeredAt: exam.At,
				Language:       "tr",
				Status:         domain.ScreeningCompleted,
				ProtocolNo:     exam.ProtocolNo,
			})
			completedAt[tool] = append(completedAt[tool], examAge)
		}
	}

	age, ok := in.AgeMonths()
	if !ok {
		return out, nil
	}
	for _, p := range screeningPeriodicity {
		for _, due := range p.ages {
			if due > age+1 {
				continue
			}
			status := domain.ScreeningDue
			switch {
			case administeredNear(completedAt[p.tool], due):
				status = domain.ScreeningCompleted
			case age > due+screeningWindow:
				status = domain.ScreeningOverdue
			}
			dueDate := DueDate(*dob, due)
			out.Screenings = append(out.Screenings, domain.ScreeningAssessment{
				PatientID: in.Patient.ID,
				Tool:      p.tool,
				Kind:      domain.ScreeningKindExpected,
				DueDate:   timePtr(dueDate),
				Status:    status,
			})
		}
	}
	return out, nil
}

func administeredNear(ages []int, due int) bool {
	for _, a := range ages {
		// Unknown administration age counts for any slot.
		if a < 0 || (a >= due-1 && a <= due+screeningWindow) {
			return true
		}
	}
	return false
}

func issue(exam Exam, err error) domain.ValidationError {
	verr, ok := err.(domain.ValidationError)
	if !ok {
		verr = domain.ValidationError{Message: err.Error()}
	}
	verr.Message = fmt.Sprintf("protocol %s: %s", exam.ProtocolNo, verr.Message)
	return verr
}

// mchatAnswers reads MCHAT_1..MCHAT_20 from extras. ok is false when no M-CHAT column exists.
func mchatAnswers(extras map[string]string) ([]bool, bool, error) {
	byItem := make(map[int]bool)
	present := false
	for k, v := range extras {
		if !strings.HasPrefix(strings.ToUpper(k), mchatPrefix) {
			continue
		}
		present = true
		n, err := strconv.Atoi(k[len(mchatPrefix):])
		if err != nil || n < 1 {
			return nil, true, domain.ValidationError{Field: k, Message: "M-CHAT-R columns are MCHAT_<item>"}
		}
		if strings.TrimSpace(v) == "" {
			continue
		}
		answer, ok := yesNo(v)
		if !ok {
			return nil, true, domain.ValidationError{Field: k, Message: fmt.Sprintf("unreadable answer %q", v)}
		}
		byItem[n] = answer
	}
	if !present {
		return nil, false, nil
	}
	answers := make([]bool, 0, len(byItem))
	for i := 1; i <= len(byItem); i++ {
		a, ok := byItem[i]
		if !ok {
			return nil, true, domain.ValidationError{Field: "responses", Message: fmt.Sprintf("M-CHAT-R item %d missing", i)}
		}
		answers = append(answers, a)
	}
	return answers, true, nil
}

// asqResponses reads ASQ_<domain>_<n> columns from extras.
func asqResponses(extras map[string]string) (map[string]int, bool, error) {
	out := make(map[string]int)
	present := false
	keys := make([]string, 0, len(extras))
	for k := range extras {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !strings.HasPrefix(strings.ToUpper(k), asqPrefix) {
			continue
		}
		present = true
		v := strings.TrimSpace(extras[k])
		if v == "" {
			continue
		}
		key := strings.ToLower(k[len(asqPrefix):])
		if i := strings.LastIndex(key, "_"); i > 0 {
			if alias, ok := asqDomainAliases[key[:i]]; ok {
				key = alias + key[i:]
			}
		}
		score, ok := asqValue(v)
		if !ok {
			return nil, true, domain.ValidationError{Field: k, Message: fmt.Sprintf("unreadable ASQ-3 answer %q", v)}
		}
		out[key] = score
	}
	return out, present, nil
}

func yesNo(v string) (bool, bool) {
	switch textpattern.Fold(strings.TrimSpace(v)) {
	case "evet", "e", "yes", "y", "1", "true", "var":
		return true, true
	case "hayir", "h", "no", "n", "0", "false", "yok":
		return false, true
	}
	return false, false
}

// asqValue reads a numeric item score or the Turkish answer words (evet 10, bazen 5, henuz degil 0).
func asqValue(v string) (int, bool) {
	if n, err := strconv.Atoi(v); err == nil {
		return n, true
	}
	switch textpattern.Fold(v) {
	case "evet", "yes":
		return 10, true
	case "bazen", "sometimes":
		return 5, true
	case "henuz degil", "hayir", "not yet":
		return 0, true
	}
	return 0, false
}

// ScreeningDocID is the deterministic document ID of a screening record.
func ScreeningDocID(s domain.ScreeningAssessment) string {
	tool := strings.ToLower(strings.NewReplacer("-", "", " ", "_").Replace(s.Tool))
	switch {
	case s.Kind == domain.ScreeningKindExpected && s.DueDate != nil:
		return fmt.Sprintf("%s_%s_due_%s", s.PatientID, tool, s.DueDate.Format("20060102"))
	case s.ProtocolNo != "":
		return fmt.Sprintf("%s_%s_%s_%s", s.PatientID, tool, s.Kind, s.ProtocolNo)
	case s.AdministeredAt != nil:
		return fmt.Sprintf("%s_%s_%s_%s", s.PatientID, tool, s.Kind, s.AdministeredAt.Format("20060102"))
	}
	return fmt.Sprintf("%s_%s_%s", s.PatientID, tool, s.Kind)
}
