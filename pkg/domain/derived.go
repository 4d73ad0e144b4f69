package domain

import "time"

// VisitType enumerates Bright Futures health-supervision visits.
type VisitType string

// Bright Futures visit types, prenatal through twenty-one years.
const (
	VisitPrenatal        VisitType = "prenatal"
	VisitNewborn         VisitType = "newborn"
	VisitOneMonth        VisitType = "one_month"
	VisitTwoMonth        VisitType = "two_month"
	VisitFourMonth       VisitType = "four_month"
	VisitSixMonth        VisitType = "six_month"
	VisitNineMonth       VisitType = "nine_month"
	VisitTwelveMonth     VisitType = "twelve_month"
	VisitFifteenMonth    VisitType = "fifteen_month"
	VisitEighteenMonth   VisitType = "eighteen_month"
	VisitTwentyFourMonth VisitType = "twenty_four_month"
	VisitThirtyMonth     VisitType = "thirty_month"
	VisitThreeYear       VisitType = "three_year"
	VisitFourYear        VisitType = "four_year"
	VisitFiveYear        VisitType = "five_year"
	VisitSixYear         VisitType = "six_year"
	VisitSevenYear       VisitType = "seven_year"
	VisitEightYear       VisitType = "eight_year"
	VisitNineYear        VisitType = "nine_year"
	VisitTenYear         VisitType = "ten_year"
	VisitElevenYear      VisitType = "eleven_year"
	VisitTwelveYear      VisitType = "twelve_year"
	VisitThirteenYear    VisitType = "thirteen_year"
	VisitFourteenYear    VisitType = "fourteen_year"
	VisitFifteenYear     VisitType = "fifteen_year"
	VisitSixteenYear     VisitType = "sixteen_year"
	VisitSeventeenYear   VisitType = "seventeen_year"
	VisitEighteenYear    VisitType = "eighteen_year"
	VisitNineteenYear    VisitType = "nineteen_year"
	VisitTwentyYear      VisitType = "twenty_year"
	VisitTwentyOneYear   VisitType = "twenty_one_year"
)

// VisitStatus is the derived state of a scheduled supervision visit.
type VisitStatus string

// Visit statuses.
const (
	VisitScheduled VisitStatus = "scheduled"
	VisitCompleted VisitStatus = "completed"
	VisitOverdue   VisitStatus = "overdue"
)

// RiskLevel grades screening and risk-assessment outcomes.
type RiskLevel string

// Risk levels, ordered by severity.
const (
	RiskLow      RiskLevel = "low"
	RiskModerate RiskLevel = "moderate"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// MilestoneStatus is the assessment state of one developmental milestone.
type MilestoneStatus string

// Milestone statuses.
const (
	MilestoneNotAssessed MilestoneStatus = "not_assessed"
	MilestoneOnTrack     MilestoneStatus = "on_track"
	MilestoneConcerning  MilestoneStatus = "concerning"
	MilestoneDelayed     MilestoneStatus = "delayed"
	MilestoneRefer       MilestoneStatus = "refer_for_evaluation"
)

// Screening tool names.
const (
	ToolMCHATR        = "M-CHAT-R"
	ToolASQ3          = "ASQ-3"
	ToolDevelopmental = "developmental"
	ToolSocialRisk    = "social_determinants"
)

// BFVisit is a derived Bright Futures supervision visit.
type BFVisit struct {
	PatientID            string      `json:"patientId"`
	VisitType            VisitType   `json:"visitType"`
	AgeMonths            int         `json:"ageMonths"`
	ScheduledDate        time.Time   `json:"scheduledDate"`
	Status               VisitStatus `json:"status"`
	CompletedProtocolNo  string      `json:"completedProtocolNo,omitempty"`
	ExpectedMilestones   []string    `json:"expectedMilestones,omitempty"`
	ExpectedVaccinations []string    `json:"expectedVaccinations,omitempty"`
	ExpectedScreenings   []string    `json:"expectedScreenings,omitempty"`
}

// ExpectedVaccination is a dose the immunization schedule expects around the patient's age.
type ExpectedVaccination struct {
	PatientID   string    `json:"patientId"`
	VaccineCode string    `json:"vaccineCode"`
	VaccineName string    `json:"vaccineName"`
	DoseNumber  int       `json:"doseNumber"`
	AgeMonths   int       `json:"ageMonths"`
	DueDate     time.Time `json:"dueDate"`
	Status      string    `json:"status"`
}

// Expected vaccination statuses.
const (
	VaccinationDueSoon  = "due_soon"
	VaccinationOverdue  = "overdue"
	VaccinationRecorded = "recorded"
)

// ScreeningAssessment is a scored or expected instance of a screening tool.
type ScreeningAssessment struct {
	PatientID        string         `json:"patientId"`
	Tool             string         `json:"tool"`
	Kind             string         `json:"kind"`
	AdministeredAt   *time.Time     `json:"administeredAt,omitempty"`
	DueDate          *time.Time     `json:"dueDate,omitempty"`
	Language         string         `json:"language,omitempty"`
	Responses        map[string]any `json:"responses,omitempty"`
	RawScore         int            `json:"rawScore"`
	Breakdown        map[string]any `json:"breakdown,omitempty"`
	Interpretation   string         `json:"interpretation,omitempty"`
	InterpretationTR string         `json:"interpretationTr,omitempty"`
	RiskLevel        RiskLevel      `json:"riskLevel,omitempty"`
	FollowUp         bool           `json:"followUp"`
	Referral         bool           `json:"referral"`
	FollowUpText     string         `json:"followUpText,omitempty"`
	Status           string         `json:"status"`
	ProtocolNo       string         `json:"protocolNo,omitempty"`
}

// Screening kinds and statuses.
const (
	ScreeningKindScored    = "scored"
	ScreeningKindExpected  = "expected"
	ScreeningKindMentioned = "mentioned"

	ScreeningDue       = "due"
	ScreeningOverdue   = "overdue"
	ScreeningCompleted = "completed"
)

// MilestoneObservation is a domain-tagged developmental milestone for a patient.
type MilestoneObservation struct {
	PatientID         string          `json:"patientId"`
	MilestoneID       string          `json:"milestoneId"`
	Domain            string          `json:"domain"`
	Description       string          `json:"description"`
	DescriptionTR     string          `json:"descriptionTr,omitempty"`
	ExpectedAgeMonths int             `json:"expectedAgeMonths"`
	Status            MilestoneStatus `json:"status"`
	ObservedAt        *time.Time      `json:"observedAt,omitempty"`
	Evidence          string          `json:"evidence,omitempty"`
}

// RiskAssessment is a scored flat questionnaire of risk factors.
type RiskAssessment struct {
	PatientID  string          `json:"patientId"`
	Tool       string          `json:"tool"`
	Responses  map[string]bool `json:"responses"`
	Score      int             `json:"score"`
	RiskLevel  RiskLevel       `json:"riskLevel"`
	AssessedAt time.Time       `json:"assessedAt"`
}

// PatientAccess lists the user IDs allowed to read a patient.
type PatientAccess struct {
	PatientID     string   `json:"patientId"`
	ParentUserIDs []string `json:"parentUserIds"`
	Readers       []string `json:"readers"`
}
