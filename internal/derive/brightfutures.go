package derive

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"clinicsync/internal/textpattern"
	"clinicsync/pkg/domain"
)

// Visit is one Bright Futures schedule entry. MinAge and MaxAge bound the patient
// ages, in completed months, at which a visit of this type may be recorded.
type Visit struct {
	Type      domain.VisitType
	AgeMonths int
	MinAge    int
	MaxAge    int
}

func yearly(t domain.VisitType, years int) Visit {
	m := years * 12
	return Visit{Type: t, AgeMonths: m, MinAge: m, MaxAge: m + 11}
}

var schedule = []Visit{
	{domain.VisitPrenatal, -1, -12, -1},
	{domain.VisitNewborn, 0, 0, 0},
	{domain.VisitOneMonth, 1, 1, 1},
	{domain.VisitTwoMonth, 2, 2, 3},
	{domain.VisitFourMonth, 4, 4, 5},
	{domain.VisitSixMonth, 6, 6, 8},
	{domain.VisitNineMonth, 9, 9, 11},
	{domain.VisitTwelveMonth, 12, 12, 14},
	{domain.VisitFifteenMonth, 15, 15, 17},
	{domain.VisitEighteenMonth, 18, 18, 23},
	{domain.VisitTwentyFourMonth, 24, 24, 29},
	{domain.VisitThirtyMonth, 30, 30, 35},
	{domain.VisitThreeYear, 36, 36, 47},
	{domain.VisitFourYear, 48, 48, 59},
	yearly(domain.VisitFiveYear, 5),
	yearly(domain.VisitSixYear, 6),
	yearly(domain.VisitSevenYear, 7),
	yearly(domain.VisitEightYear, 8),
	yearly(domain.VisitNineYear, 9),
	yearly(domain.VisitTenYear, 10),
	yearly(domain.VisitElevenYear, 11),
	yearly(domain.VisitTwelveYear, 12),
	yearly(domain.VisitThirteenYear, 13),
	yearly(domain.VisitFourteenYear, 14),
	yearly(domain.VisitFifteenYear, 15),
	yearly(domain.VisitSixteenYear, 16),
	yearly(domain.VisitSeventeenYear, 17),
	yearly(domain.VisitEighteenYear, 18),
	yearly(domain.VisitNineteenYear, 19),
	yearly(domain.VisitTwentyYear, 20),
	yearly(domain.VisitTwentyOneYear, 21),
}

// BrightFutures returns the 31 schedule entries, prenatal through twenty-one years.
func BrightFutures() []Visit {
	return append([]Visit(nil), schedule...)
}

// LookupVisit finds the schedule entry for a visit type.
func LookupVisit(t domain.VisitType) (Visit, bool) {
	for _, v := range schedule {
		if v.Type == t {
			return v, true
		}
	}
	return Visit{}, false
}

var visitAgeRe = regexp.MustCompile(`(\d{1,2})\s*(ay|yas|yil)`)

// VisitTypeFor maps an examination's visit label ("nine_month", "9 ay kontrolu",
// "2 yas", "yenidogan") to a schedule visit type; "" when the label names none.
func VisitTypeFor(label string) domain.VisitType {
	f := strings.TrimSpace(textpattern.Fold(label))
	if f == "" {
		return ""
	}
	if _, ok := LookupVisit(domain.VisitType(f)); ok {
		return domain.VisitType(f)
	}
	switch {
	case strings.Contains(f, "prenatal") || strings.Contains(f, "dogum oncesi"):
		return domain.VisitPrenatal
	case strings.Contains(f, "yenidogan") || strings.Contains(f, "newborn"):
		return domain.VisitNewborn
	}
	m := visitAgeRe.FindStringSubmatch(f)
	if m == nil {
		return ""
	}
	n, _ := strconv.Atoi(m[1])
	if m[2] != "ay" {
		n *= 12
	}
	for _, v := range schedule {
		if v.AgeMonths == n {
			return v.Type
		}
	}
	return ""
}

// ValidateVisitType fails when a visit of type t is recorded at an age outside its window.
func ValidateVisitType(t domain.VisitType, ageMonths int) error {
	v, ok := LookupVisit(t)
	if !ok {
		return domain.ValidationError{Field: "visitType", Message: fmt.Sprintf("unknown visit type %q", t)}
	}
	if ageMonths < v.MinAge || ageMonths > v.MaxAge {
		return domain.ValidationError{
			Field:   "visitType",
			Message: fmt.Sprintf("%s visit requires age %d-%d months, patient is %d", t, v.MinAge, v.MaxAge, ageMonths),
		}
	}
	return nil
}

// NextVisit returns the first entry older than ageMonths without a completed visit.
func NextVisit(ageMonths int, completed map[domain.VisitType]bool) (Visit, bool) {
	for _, v := range schedule {
		if v.AgeMonths > ageMonths && !completed[v.Type] {
			return v, true
		}
	}
	return Visit{}, false
}

// ExpectedScreenings lists the screening tools due at a schedule age.
func ExpectedScreenings(ageMonths int) []string {
	var out []string
	for _, p := range screeningPeriodicity {
		for _, a := range p.ages {
			if a == ageMonths {
				out = append(out, p.tool)
			}
		}
	}
	if len(out) == 0 && ageMonths >= 0 && ageMonths <= 60 {
		out = append(out, textpattern.ScreeningDevelopmental)
	}
	return out
}

type bfRule struct {
	schedule *Schedule
}

// NewBrightFuturesRule derives completed, overdue and scheduled supervision visits.
func NewBrightFuturesRule(s *Schedule) Rule {
	return bfRule{schedule: s}
}

func (bfRule) Name() string { return "bright_futures" }

func (r bfRule) Evaluate(_ context.Context, in Input) (Output, error) {
	var out Output
	dob := in.Patient.DateOfBirth
	age, ok := in.AgeMonths()
	if !ok {
		return out, nil
	}

	completed := make(map[domain.VisitType]string)
	for _, exam := range in.Exams {
		if exam.VisitType == "" || exam.At == nil {
			continue
		}
		examAge := domain.MonthsBetween(*dob, *exam.At)
		if err := ValidateVisitType(exam.VisitType, examAge); err != nil {
			var verr domain.ValidationError
			verr, _ = err.(domain.ValidationError)
			verr.Message = fmt.Sprintf("protocol %s: %s", exam.ProtocolNo, verr.Message)
			out.Issues = append(out.Issues, verr)
			continue
		}
		if _, seen := completed[exam.VisitType]; !seen {
			completed[exam.VisitType] = exam.ProtocolNo
		}
	}
	done := make(map[domain.VisitType]bool, len(completed))
	for t := range completed {
		done[t] = true
	}
	next, hasNext := NextVisit(age, done)

	for i, v := range schedule {
		if hasNext && v.AgeMonths > next.AgeMonths {
			break
		}
		protocol, isDone := completed[v.Type]
		status := domain.VisitScheduled
		switch {
		case isDone:
			status = domain.VisitCompleted
		case v.Type == domain.VisitPrenatal:
			continue
		case age > v.MaxAge:
			status = domain.VisitOverdue
		}
		prev := -1
		if i > 0 {
			prev = schedule[i-1].AgeMonths
		}
		out.Visits = append(out.Visits, domain.BFVisit{
			PatientID:            in.Patient.ID,
			VisitType:            v.Type,
			AgeMonths:            v.AgeMonths,
			ScheduledDate:        DueDate(*dob, v.AgeMonths),
			Status:               status,
			CompletedProtocolNo:  protocol,
			ExpectedMilestones:   milestoneIDsBetween(prev, v.AgeMonths),
			ExpectedVaccinations: r.schedule.CodesBetween(v.MinAge, v.MaxAge),
			ExpectedScreenings:   ExpectedScreenings(v.AgeMonths),
		})
	}
	return out, nil
}

// VisitDocID is the deterministic document ID of a derived visit.
func VisitDocID(v domain.BFVisit) string {
	return v.PatientID + "_" + string(v.VisitType)
}
