// Package domain defines the canonical records, derived clinical artifacts and
// sync bookkeeping types shared by every stage of the clinicsync pipeline.
package domain

import (
	"strconv"
	"strings"
	"time"
)

// Source identifies an external system the pipeline mirrors.
type Source string

// Known sources.
const (
	// SourceBulutKlinik is the EHR (source-of-record).
	SourceBulutKlinik Source = "bulut_klinik"
	// SourceSetmore is the secondary scheduling system.
	SourceSetmore Source = "setmore"
)

// Dataset names one logical export. Values match the file names emitted by the source.
type Dataset string

// Datasets exported by the EHR and the secondary source.
const (
	DatasetPatients             Dataset = "hastalar"
	DatasetServices             Dataset = "hizmetler"
	DatasetProtocols            Dataset = "protokoller"
	DatasetPayments             Dataset = "tahsilatlar"
	DatasetAppointments         Dataset = "randevular"
	DatasetMedicalInfo          Dataset = "medikal_bilgiler"
	DatasetObstetrics           Dataset = "obstetri"
	DatasetGynecology           Dataset = "jinekoloji"
	DatasetPediatricPercentile  Dataset = "pediatri_persentil"
	DatasetPediatricExamination Dataset = "pediatri_muayene"
	DatasetPediatricVaccination Dataset = "pediatri_asi"
	DatasetSetmoreAppointments  Dataset = "setmore_randevular"
)

// EHRDatasets lists the eleven EHR exports in load order. Patients come first so
// every later dataset can reference resolved patient keys.
func EHRDatasets() []Dataset {
	return []Dataset{
		DatasetPatients,
		DatasetServices,
		DatasetProtocols,
		DatasetMedicalInfo,
		DatasetPediatricPercentile,
		DatasetPediatricExamination,
		DatasetPediatricVaccination,
		DatasetObstetrics,
		DatasetGynecology,
		DatasetAppointments,
		DatasetPayments,
	}
}

// AllDatasets lists every dataset known to the pipeline in load order.
func AllDatasets() []Dataset {
	return append(EHRDatasets(), DatasetSetmoreAppointments)
}

// Source reports which external system emits the dataset.
func (d Dataset) Source() Source {
	if d == DatasetSetmoreAppointments {
		return SourceSetmore
	}
	return SourceBulutKlinik
}

// Valid reports whether d is a known dataset.
func (d Dataset) Valid() bool {
	for _, known := range AllDatasets() {
		if known == d {
			return true
		}
	}
	return false
}

// Gender is the normalized patient gender.
type Gender string

// Canonical genders.
const (
	GenderMale    Gender = "male"
	GenderFemale  Gender = "female"
	GenderUnknown Gender = "unknown"
)

// Role is a user role as seen by the API layer.
type Role string

// Roles. Professional roles may read every patient.
const (
	RoleParent Role = "parent"
	RoleAdmin  Role = "admin"
	RoleDoctor Role = "doctor"
	RoleNurse  Role = "nurse"
)

// Professional reports whether the role grants access to all patients.
func (r Role) Professional() bool {
	return r == RoleAdmin || r == RoleDoctor || r == RoleNurse
}

// Provenance records where a loaded document came from.
type Provenance struct {
	Source       Source  `json:"source"`
	Dataset      Dataset `json:"dataset"`
	RevisionHash string  `json:"revisionHash,omitempty"`
	RunID        string  `json:"runId,omitempty"`
	Row          int     `json:"row,omitempty"`
}

// PatientKey is the canonical patient identity produced by entity resolution.
// Aliases lists the document IDs of other EHR patient numbers that carried the same
// national ID and were folded into this patient.
type PatientKey struct {
	ID              string            `json:"id"`
	Source          Source            `json:"source"`
	SourcePatientNo string            `json:"sourcePatientNo,omitempty"`
	Aliases         []string          `json:"aliases,omitempty"`
	NationalID      string            `json:"nationalId,omitempty"`
	Phone           string            `json:"phone,omitempty"`
	Email           string            `json:"email,omitempty"`
	FirstName       string            `json:"firstName"`
	LastName        string            `json:"lastName"`
	DateOfBirth     *time.Time        `json:"dateOfBirth,omitempty"`
	Gender          Gender            `json:"gender"`
	BloodType       string            `json:"bloodType,omitempty"`
	Address         string            `json:"address,omitempty"`
	Active          bool              `json:"active"`
	BirthHistory    *BirthHistory     `json:"birthHistory,omitempty"`
	Extras          map[string]string `json:"extras,omitempty"`
	CreatedAt       time.Time         `json:"createdAt"`
	UpdatedAt       time.Time         `json:"updatedAt"`
}

// PatientDocID is the deterministic document ID of an EHR patient.
func PatientDocID(sourcePatientNo string) string {
	return "patient_" + strings.TrimSpace(sourcePatientNo)
}

// FullName joins first and last name with a single space.
func (p PatientKey) FullName() string {
	return strings.TrimSpace(strings.TrimSpace(p.FirstName) + " " + strings.TrimSpace(p.LastName))
}

// Validate enforces that a key carries at least one usable identity.
func (p PatientKey) Validate() error {
	if p.ID == "" {
		return ValidationError{Field: "id", Message: "patient key requires an id"}
	}
	if p.NationalID == "" && p.Phone == "" && (p.FullName() == "" || p.DateOfBirth == nil) {
		return ValidationError{Field: "identity", Message: "patient key needs a national id, phone, or name with date of birth"}
	}
	return nil
}

// AgeMonths returns the completed calendar months between DOB and now.
func (p PatientKey) AgeMonths(now time.Time) (int, bool) {
	if p.DateOfBirth == nil {
		return 0, false
	}
	return MonthsBetween(*p.DateOfBirth, now), true
}

// MonthsBetween counts completed calendar months from start to end. Negative when end precedes start.
func MonthsBetween(start, end time.Time) int {
	if end.Before(start) {
		return -MonthsBetween(end, start)
	}
	months := (end.Year()-start.Year())*12 + int(end.Month()) - int(start.Month())
	if end.Day() < start.Day() {
		months--
	}
	return months
}

// Caregiver is a parent user document linked to one or more patients.
type Caregiver struct {
	ID           string    `json:"id"`
	NationalID   string    `json:"nationalId,omitempty"`
	Email        string    `json:"email,omitempty"`
	Phone        string    `json:"phone,omitempty"`
	FirstName    string    `json:"firstName,omitempty"`
	LastName     string    `json:"lastName,omitempty"`
	Role         Role      `json:"role"`
	Children     []string  `json:"children"`
	IsMultiChild bool      `json:"isMultiChild"`
	Source       Source    `json:"source"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// AddChild appends patientID when absent and refreshes IsMultiChild. Reports whether the list grew.
func (c *Caregiver) AddChild(patientID string) bool {
	for _, existing := range c.Children {
		if existing == patientID {
			c.IsMultiChild = len(c.Children) > 1
			return false
		}
	}
	c.Children = append(c.Children, patientID)
	c.IsMultiChild = len(c.Children) > 1
	return true
}

// PatientCaregiverLink is one row of the patient/caregiver many-to-many table.
type PatientCaregiverLink struct {
	PatientID   string `json:"patientId"`
	CaregiverID string `json:"caregiverId"`
	Source      Source `json:"source"`
}

// SourceRecord is a raw row from a source, tagged with the revision it came from.
type SourceRecord struct {
	Source       Source            `json:"source"`
	Dataset      Dataset           `json:"dataset"`
	RevisionHash string            `json:"revisionHash"`
	Row          int               `json:"row"`
	Key          string            `json:"key"`
	Fields       map[string]string `json:"fields"`
	Extras       map[string]string `json:"extras,omitempty"`
}

// Field returns the trimmed value of a known column or extra.
func (r SourceRecord) Field(name string) string {
	if v, ok := r.Fields[name]; ok {
		return strings.TrimSpace(v)
	}
	return strings.TrimSpace(r.Extras[name])
}

// VisitRecord is a clinical encounter (health record).
type VisitRecord struct {
	ID              string            `json:"id,omitempty"`
	PatientID       string            `json:"patientId"`
	NationalID      string            `json:"nationalId,omitempty"`
	Source          Source            `json:"source"`
	ProtocolNo      string            `json:"protocolNo"`
	EncounterAt     *time.Time        `json:"encounterAt,omitempty"`
	ChiefComplaint  string            `json:"chiefComplaint,omitempty"`
	History         string            `json:"history,omitempty"`
	Findings        string            `json:"findings,omitempty"`
	Procedures      string            `json:"procedures,omitempty"`
	Recommendations string            `json:"recommendations,omitempty"`
	PastHistory     string            `json:"pastHistory,omitempty"`
	FamilyHistory   string            `json:"familyHistory,omitempty"`
	DiagnosisCodes  []string          `json:"diagnosisCodes,omitempty"`
	ServiceType     string            `json:"serviceType,omitempty"`
	VisitType       VisitType         `json:"visitType,omitempty"`
	Status          string            `json:"status,omitempty"`
	Extras          map[string]string `json:"extras,omitempty"`
	Provenance      Provenance        `json:"provenance"`
}

// GrowthPoint is a single anthropometric measurement.
type GrowthPoint struct {
	PatientID           string     `json:"patientId"`
	NationalID          string     `json:"nationalId,omitempty"`
	ProtocolNo          string     `json:"protocolNo,omitempty"`
	MeasuredAt          time.Time  `json:"measuredAt"`
	WeightKg            *float64   `json:"weightKg,omitempty"`
	HeightCm            *float64   `json:"heightCm,omitempty"`
	HeadCircumferenceCm *float64   `json:"headCircumferenceCm,omitempty"`
	BMI                 *float64   `json:"bmi,omitempty"`
	GestationalAgeWeeks *float64   `json:"gestationalAgeWeeks,omitempty"`
	DeliveryType        string     `json:"deliveryType,omitempty"`
	Provenance          Provenance `json:"provenance"`
}

// Validate checks that at least one measurement is present and that it does not predate birth.
func (g GrowthPoint) Validate(dob *time.Time) error {
	if g.WeightKg == nil && g.HeightCm == nil && g.HeadCircumferenceCm == nil {
		return ValidationError{Field: "measurement", Message: "growth point needs weight, height or head circumference"}
	}
	if dob != nil && g.MeasuredAt.Before(*dob) {
		return ValidationError{Field: "measuredAt", Message: "growth point predates date of birth"}
	}
	return nil
}

// VaccinationRecord is one administered dose.
type VaccinationRecord struct {
	PatientID      string     `json:"patientId"`
	VaccineCode    string     `json:"vaccineCode"`
	VaccineName    string     `json:"vaccineName,omitempty"`
	DoseNumber     int        `json:"doseNumber"`
	AdministeredAt *time.Time `json:"administeredAt,omitempty"`
	Route          string     `json:"route,omitempty"`
	Site           string     `json:"site,omitempty"`
	Lot            string     `json:"lot,omitempty"`
	AdverseEvents  string     `json:"adverseEvents,omitempty"`
	Provenance     Provenance `json:"provenance"`
}

// Key returns the per-patient natural key (vaccine, dose).
func (v VaccinationRecord) Key() string {
	return v.VaccineCode + "#" + strconv.Itoa(v.DoseNumber)
}

// FinancialRecord is a payment collected against a protocol.
type FinancialRecord struct {
	PatientID       string     `json:"patientId"`
	SourcePatientNo string     `json:"sourcePatientNo,omitempty"`
	ProtocolNo      string     `json:"protocolNo"`
	Amount          float64    `json:"amount"`
	Currency        string     `json:"currency"`
	PaidAt          *time.Time `json:"paidAt,omitempty"`
	Provenance      Provenance `json:"provenance"`
}

// Validate enforces a non-negative amount.
func (f FinancialRecord) Validate() error {
	if f.Amount < 0 {
		return ValidationError{Field: "amount", Message: "payment amount must not be negative"}
	}
	return nil
}

// Appointment is a scheduled encounter from either source.
type Appointment struct {
	PatientID   string     `json:"patientId"`
	Date        string     `json:"date"`
	StartsAt    *time.Time `json:"startsAt,omitempty"`
	ServiceType string     `json:"serviceType,omitempty"`
	Provider    string     `json:"provider,omitempty"`
	Status      string     `json:"status,omitempty"`
	Notes       string     `json:"notes,omitempty"`
	ExternalID  string     `json:"externalId,omitempty"`
	Provenance  Provenance `json:"provenance"`
}

// ServiceItem is one entry of the clinic services catalog.
type ServiceItem struct {
	Code            string   `json:"code"`
	Name            string   `json:"name"`
	Category        string   `json:"category,omitempty"`
	Price           *float64 `json:"price,omitempty"`
	DurationMinutes int      `json:"durationMinutes,omitempty"`
}

// BirthHistory is perinatal information recorded in obstetric exports or notes.
type BirthHistory struct {
	GestationalAgeWeeks *float64 `json:"gestationalAgeWeeks,omitempty"`
	DeliveryType        string   `json:"deliveryType,omitempty"`
	BirthWeightKg       *float64 `json:"birthWeightKg,omitempty"`
}

// Preterm reports birth before 37 completed weeks.
func (b BirthHistory) Preterm() bool {
	return b.GestationalAgeWeeks != nil && *b.GestationalAgeWeeks < 37
}
