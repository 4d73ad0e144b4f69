package derive

import (
	"context"

	"clinicsync/internal/textpattern"
	"clinicsync/pkg/domain"
)

// Developmental domains.
const (
	DomainSocial     = "social_emotional"
	DomainLanguage   = "language_communication"
	DomainGrossMotor = "gross_motor"
	DomainFineMotor  = "fine_motor"
	DomainCognitive  = "cognitive"
	DomainSelfCare   = "self_care"
)

// Milestone is one catalog entry.
type Milestone struct {
	ID            string
	Domain        string
	Description   string
	DescriptionTR string
	AgeMonths     int
}

var milestoneCatalog = []Milestone{
	{textpattern.MilestoneSocialSmile, DomainSocial, "Smiles responsively", "Sosyal gülümseme", 2},
	{textpattern.MilestoneEyeContact, DomainSocial, "Makes eye contact", "Göz teması kurar", 2},
	{textpattern.MilestoneCoos, DomainLanguage, "Coos and makes gurgling sounds", "Agulama", 2},
	{textpattern.MilestoneHeadControl, DomainGrossMotor, "Holds head steady", "Baş kontrolü", 4},
	{"reaches_for_toys", DomainFineMotor, "Reaches for a toy with one hand", "Oyuncağa uzanır", 4},
	{textpattern.MilestoneRollsOver, DomainGrossMotor, "Rolls from tummy to back", "Döner", 6},
	{"transfers_objects", DomainFineMotor, "Passes objects between hands", "Nesneyi elden ele geçirir", 6},
	{textpattern.MilestoneSitsUnsupported, DomainGrossMotor, "Sits without support", "Desteksiz oturur", 9},
	{textpattern.MilestoneRespondsToName, DomainLanguage, "Looks when name is called", "İsmine döner", 9},
	{textpattern.MilestoneCrawls, DomainGrossMotor, "Crawls", "Emekler", 9},
	{textpattern.MilestoneFirstWords, DomainLanguage, "Says a word besides mama or dada", "İlk kelimeler", 12},
	{"pulls_to_stand", DomainGrossMotor, "Pulls up to stand", "Tutunarak ayağa kalkar", 12},
	{"pincer_grasp", DomainFineMotor, "Picks things up between thumb and finger", "Kıskaç tutma", 12},
	{textpattern.MilestoneWalks, DomainGrossMotor, "Walks without holding on", "Desteksiz yürür", 15},
	{textpattern.MilestonePoints, DomainSocial, "Points to show something interesting", "Göstermek için işaret eder", 18},
	{"uses_spoon", DomainSelfCare, "Tries to use a spoon", "Kaşık kullanmaya çalışır", 18},
	{textpattern.MilestoneTwoWordPhrases, DomainLanguage, "Says two words together", "İki kelimelik cümle", 24},
	{"kicks_ball", DomainGrossMotor, "Kicks a ball", "Topa vurur", 24},
	{textpattern.MilestoneClimbsStairs, DomainGrossMotor, "Walks up stairs alternating feet", "Merdiven çıkar", 36},
	{"draws_circle", DomainFineMotor, "Draws a circle when shown", "Daire çizer", 36},
	{textpattern.MilestoneToiletTrained, DomainSelfCare, "Uses the toilet", "Tuvalet eğitimi tamam", 48},
	{"hops_one_foot", DomainGrossMotor, "Hops on one foot", "Tek ayak üstünde sıçrar", 48},
	{"counts_to_ten", DomainCognitive, "Counts to ten", "Ona kadar sayar", 60},
	{"dresses_self", DomainSelfCare, "Dresses without help", "Yardımsız giyinir", 60},
}

// MilestoneAges are the catalog keys in months.
var MilestoneAges = []int{2, 4, 6, 9, 12, 15, 18, 24, 36, 48, 60}

// Catalog returns a copy of the milestone catalog.
func Catalog() []Milestone {
	return append([]Milestone(nil), milestoneCatalog...)
}

// ExpectedMilestones is the union of catalog entries keyed at or below ageMonths.
func ExpectedMilestones(ageMonths int) []Milestone {
	var out []Milestone
	for _, m := range milestoneCatalog {
		if m.AgeMonths <= ageMonths {
			out = append(out, m)
		}
	}
	return out
}

func milestoneIDsBetween(after, upTo int) []string {
	var out []string
	for _, m := range milestoneCatalog {
		if m.AgeMonths > after && m.AgeMonths <= upTo {
			out = append(out, m.ID)
		}
	}
	return out
}

// MilestoneStatus grades a milestone given whether it was observed and the patient's age.
// A milestone stated as not achieved is concerning until three months past its age,
// delayed until six, and referred for evaluation after that.
func MilestoneStatus(m Milestone, mention *textpattern.MilestoneMention, ageMonths int) domain.MilestoneStatus {
	if mention == nil {
		return domain.MilestoneNotAssessed
	}
	if mention.Achieved {
		return domain.MilestoneOnTrack
	}
	late := ageMonths - m.AgeMonths
	switch {
	case late >= 6:
		return domain.MilestoneRefer
	case late >= 3:
		return domain.MilestoneDelayed
	default:
		return domain.MilestoneConcerning
	}
}

type milestoneRule struct{}

// NewMilestoneRule derives milestone observations from note mentions.
func NewMilestoneRule() Rule { return milestoneRule{} }

func (milestoneRule) Name() string { return "milestones" }

func (milestoneRule) Evaluate(_ context.Context, in Input) (Output, error) {
	var out Output
	age, ok := in.AgeMonths()
	if !ok {
		return out, nil
	}
	type observed struct {
		mention textpattern.MilestoneMention
		exam    Exam
	}
	// Exams are chronological, so the latest mention wins.
	latest := make(map[string]observed)
	for _, exam := range in.Exams {
		for _, m := range exam.Facts.Milestones {
			latest[m.ID] = observed{mention: m, exam: exam}
		}
	}
	for _, m := range milestoneCatalog {
		obs, mentioned := latest[m.ID]
		if m.AgeMonths > age && !mentioned {
			continue
		}
		rec := domain.MilestoneObservation{
			PatientID:         in.Patient.ID,
			MilestoneID:       m.ID,
			Domain:            m.Domain,
			Description:       m.Description,
			DescriptionTR:     m.DescriptionTR,
			ExpectedAgeMonths: m.AgeMonths,
			Status:            domain.MilestoneNotAssessed,
		}
		if mentioned {
			mention := obs.mention
			rec.Status = MilestoneStatus(m, &mention, age)
			rec.ObservedAt = obs.exam.At
			rec.Evidence = mention.Evidence
		}
		out.Milestones = append(out.Milestones, rec)
	}
	return out, nil
}

// MilestoneDocID is the deterministic document ID of a milestone observation.
func MilestoneDocID(m domain.MilestoneObservation) string {
	return m.PatientID + "_" + m.MilestoneID
}
