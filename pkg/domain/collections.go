package domain

// Target-store collection names.
const (
	CollectionUsers              = "users"
	CollectionPatients           = "patients"
	CollectionPatientCaregivers  = "patient_caregivers"
	CollectionHealthRecords      = "health_records"
	CollectionFinancialRecords   = "financial_records"
	CollectionAppointments       = "appointments"
	CollectionGrowthTracking     = "growth_tracking"
	CollectionVaccinationRecords = "vaccination_records"
	CollectionServices           = "services"
	CollectionBFVisits           = "bf_visits"
	CollectionBFVaccinations     = "bf_vaccinations"
	CollectionBFScreenings       = "bf_screenings"
	CollectionBFMilestones       = "bf_milestones"
	CollectionRiskAssessments    = "risk_assessments"
	CollectionPatientAccess      = "patient_access"
)
