package normalize

import (
	"strings"
	"time"

	"clinicsync/internal/tabular"
	"clinicsync/pkg/domain"
)

// Provenance describes where the row came from.
func (r *Row) Provenance() domain.Provenance {
	return domain.Provenance{
		Source:       r.Record.Source,
		Dataset:      r.Record.Dataset,
		RevisionHash: r.Record.RevisionHash,
		Row:          r.Record.Row,
	}
}

// Patient maps a hastalar row.
func Patient(r *Row) domain.PatientKey {
	no := r.Text(tabular.ColPatientNo)
	return domain.PatientKey{
		ID:              domain.PatientDocID(no),
		Source:          r.Record.Source,
		SourcePatientNo: no,
		NationalID:      r.NationalID(tabular.ColNationalID),
		Phone:           r.Phone(tabular.ColPhone),
		Email:           r.Email(tabular.ColEmail),
		FirstName:       r.Text(tabular.ColFirstName),
		LastName:        r.Text(tabular.ColLastName),
		DateOfBirth:     r.Date(tabular.ColBirthDate),
		Gender:          r.Gender(tabular.ColGender),
		BloodType:       r.Text(tabular.ColBloodType),
		Address:         r.Text(tabular.ColAddress),
		Active:          true,
		Extras:          r.Record.Extras,
	}
}

// Guardian maps the parent columns of a hastalar row. ok is false when the row names no
// guardian contact a caregiver could be keyed on.
func Guardian(r *Row) (domain.Caregiver, bool) {
	first, last := SplitName(r.Text(tabular.ColGuardianName))
	c := domain.Caregiver{
		NationalID: r.NationalID(tabular.ColGuardianNatID),
		Email:      r.Email(tabular.ColGuardianEmail),
		Phone:      r.Phone(tabular.ColGuardianPhone),
		FirstName:  first,
		LastName:   last,
		Role:       domain.RoleParent,
		Source:     r.Record.Source,
	}
	return c, c.NationalID != "" || c.Email != ""
}

// ProtocolRef is a protokoller row; it enriches visits sharing its protocol number.
type ProtocolRef struct {
	ProtocolNo  string
	PatientNo   string
	Date        *time.Time
	ServiceType string
	Status      string
}

// Protocol maps a protokoller row.
func Protocol(r *Row) ProtocolRef {
	return ProtocolRef{
		ProtocolNo:  r.Text(tabular.ColProtocolNo),
		PatientNo:   r.Text(tabular.ColPatientNo),
		Date:        r.Date(tabular.ColDate),
		ServiceType: r.Text(tabular.ColServiceType),
		Status:      r.Text(tabular.ColStatus),
	}
}

// MedicalVisit maps a medikal_bilgiler row. PatientID is filled by resolution.
func MedicalVisit(r *Row) domain.VisitRecord {
	return domain.VisitRecord{
		NationalID:      r.NationalID(tabular.ColMedNationalID),
		Source:          r.Record.Source,
		ProtocolNo:      r.Text(tabular.ColMedProtocolNo),
		EncounterAt:     r.Date(tabular.ColMedDate),
		ChiefComplaint:  r.Text(tabular.ColComplaint),
		History:         r.Text(tabular.ColHistory),
		Findings:        r.Text(tabular.ColFindings),
		Procedures:      r.Text(tabular.ColProcedures),
		Recommendations: r.Text(tabular.ColRecommendation),
		PastHistory:     r.Text(tabular.ColPastHistory),
		FamilyHistory:   r.Text(tabular.ColFamilyHistory),
		DiagnosisCodes:  r.List(tabular.ColDiagnosisCodes),
		Provenance:      r.Provenance(),
	}
}

// GynecologyVisit maps a jinekoloji row.
func GynecologyVisit(r *Row) domain.VisitRecord {
	return domain.VisitRecord{
		PatientID:   domain.PatientDocID(r.Text(tabular.ColPatientNo)),
		Source:      r.Record.Source,
		ProtocolNo:  r.Text(tabular.ColProtocolNo),
		EncounterAt: r.Date(tabular.ColDate),
		Findings:    r.Text(tabular.ColFindings),
		History:     r.Text(tabular.ColNotes),
		ServiceType: string(domain.DatasetGynecology),
		Provenance:  r.Provenance(),
	}
}

// Payment maps a tahsilatlar row.
func Payment(r *Row) domain.FinancialRecord {
	no := r.Text(tabular.ColPatientNo)
	amount := 0.0
	if v := r.Decimal(tabular.ColPaidAmount); v != nil {
		amount = RoundCents(*v)
	}
	currency := strings.ToUpper(r.Text(tabular.ColCurrency))
	switch currency {
	case "", "TL", "₺":
		currency = "TRY"
	}
	return domain.FinancialRecord{
		PatientID:       domain.PatientDocID(no),
		SourcePatientNo: no,
		ProtocolNo:      r.Text(tabular.ColProtocolNo),
		Amount:          amount,
		Currency:        currency,
		PaidAt:          r.Date(tabular.ColPaidAt),
		Provenance:      r.Provenance(),
	}
}

// Service maps a hizmetler row.
func Service(r *Row) domain.ServiceItem {
	item := domain.ServiceItem{
		Code:     r.Text(tabular.ColServiceCode),
		Name:     r.Text(tabular.ColServiceName),
		Category: r.Text(tabular.ColCategory),
		Price:    r.Decimal(tabular.ColPrice),
	}
	if item.Price != nil {
		p := RoundCents(*item.Price)
		item.Price = &p
	}
	if d, ok := r.Int(tabular.ColDuration); ok {
		item.DurationMinutes = d
	}
	return item
}

// EHRAppointment maps a randevular row.
func EHRAppointment(r *Row) domain.Appointment {
	at := r.DateTime(tabular.ColAppointmentAt, tabular.ColTime)
	return domain.Appointment{
		PatientID:   domain.PatientDocID(r.Text(tabular.ColPatientNo)),
		Date:        dayOf(at),
		StartsAt:    at,
		ServiceType: r.Text(tabular.ColService),
		Provider:    r.Text(tabular.ColDoctor),
		Status:      r.Text(tabular.ColStatus),
		Notes:       r.Text(tabular.ColNotes),
		ExternalID:  r.Text(tabular.ColAppointmentNo),
		Provenance:  r.Provenance(),
	}
}

// Customer is the contact on a secondary-source appointment.
type Customer struct {
	FirstName string
	LastName  string
	Phone     string
	Email     string
}

// FullName joins the customer's names.
func (c Customer) FullName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// SetmoreAppointment maps a setmore_randevular row and its customer.
func SetmoreAppointment(r *Row) (domain.Appointment, Customer) {
	at := r.DateTime(tabular.ColSetmoreDate, tabular.ColSetmoreTime)
	first, last := SplitName(r.Text(tabular.ColSetmoreCustomer))
	cust := Customer{
		FirstName: first,
		LastName:  last,
		Phone:     r.Phone(tabular.ColSetmorePhone),
		Email:     r.Email(tabular.ColSetmoreEmail),
	}
	appt := domain.Appointment{
		Date:        dayOf(at),
		StartsAt:    at,
		ServiceType: r.Text(tabular.ColSetmoreService),
		Provider:    r.Text(tabular.ColSetmoreStaff),
		Status:      r.Text(tabular.ColSetmoreStatus),
		Notes:       r.Text(tabular.ColSetmoreComments),
		ExternalID:  r.Text(tabular.ColSetmoreID),
		Provenance:  r.Provenance(),
	}
	return appt, cust
}

// Percentile maps a pediatri_persentil row.
func Percentile(r *Row) domain.GrowthPoint {
	g := domain.GrowthPoint{
		PatientID:           domain.PatientDocID(r.Text(tabular.ColPatientNo)),
		ProtocolNo:          r.Text(tabular.ColProtocolNo),
		WeightKg:            r.Decimal(tabular.ColWeight),
		HeightCm:            r.Decimal(tabular.ColHeight),
		HeadCircumferenceCm: r.Decimal(tabular.ColHeadCirc),
		Provenance:          r.Provenance(),
	}
	if at := r.Date(tabular.ColMeasuredAt); at != nil {
		g.MeasuredAt = *at
	}
	g.BMI = BMI(g.WeightKg, g.HeightCm)
	return g
}

// Examination is a pediatri_muayene row: a well-child or sick visit with free-text notes.
type Examination struct {
	ProtocolNo string
	PatientID  string
	At         *time.Time
	VisitType  string
	Notes      map[string]string
	Extras     map[string]string
	Provenance domain.Provenance
}

// NoteFields are the free-text columns mined for clinical facts, in reading order.
var NoteFields = []string{
	tabular.ColFindings, tabular.ColHistory, tabular.ColComplaint, tabular.ColPastHistory, tabular.ColFamilyHistory,
}

// Text concatenates the note fields.
func (e Examination) Text() string {
	var parts []string
	for _, f := range NoteFields {
		if v := e.Notes[f]; v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, "\n")
}

// PediatricExam maps a pediatri_muayene row.
func PediatricExam(r *Row) Examination {
	e := Examination{
		ProtocolNo: r.Text(tabular.ColProtocolNo),
		PatientID:  domain.PatientDocID(r.Text(tabular.ColPatientNo)),
		At:         r.Date(tabular.ColExamDate),
		VisitType:  strings.ToLower(r.Text(tabular.ColVisitType)),
		Notes:      make(map[string]string, len(NoteFields)),
		Extras:     r.Record.Extras,
		Provenance: r.Provenance(),
	}
	for _, f := range NoteFields {
		e.Notes[f] = r.Text(f)
	}
	return e
}

// Vaccination maps a pediatri_asi row. VaccineCode is left for the vaccine dictionary to fill.
func Vaccination(r *Row) domain.VaccinationRecord {
	dose, _ := r.Int(tabular.ColDose)
	if dose == 0 {
		dose = 1
	}
	return domain.VaccinationRecord{
		PatientID:      domain.PatientDocID(r.Text(tabular.ColPatientNo)),
		VaccineName:    r.Text(tabular.ColVaccineName),
		DoseNumber:     dose,
		AdministeredAt: r.Date(tabular.ColAdministeredAt),
		Route:          r.Text(tabular.ColRoute),
		Site:           r.Text(tabular.ColSite),
		Lot:            r.Text(tabular.ColLot),
		AdverseEvents:  r.Text(tabular.ColAdverseEvent),
		Provenance:     r.Provenance(),
	}
}

// Obstetric is an obstetri row, mined for the child's birth history.
type Obstetric struct {
	PatientID    string
	ProtocolNo   string
	At           *time.Time
	Gestation    string
	DeliveryText string
	Notes        string
}

// ObstetricRecord maps an obstetri row.
func ObstetricRecord(r *Row) Obstetric {
	return Obstetric{
		PatientID:    domain.PatientDocID(r.Text(tabular.ColPatientNo)),
		ProtocolNo:   r.Text(tabular.ColProtocolNo),
		At:           r.Date(tabular.ColDate),
		Gestation:    r.Text(tabular.ColGestationWeek),
		DeliveryText: r.Text(tabular.ColDeliveryType),
		Notes:        r.Text(tabular.ColNotes),
	}
}

// SplitName splits a full name on its last space: "Ayşe Nur Yılmaz" → "Ayşe Nur", "Yılmaz".
func SplitName(full string) (string, string) {
	full = strings.Join(strings.Fields(full), " ")
	i := strings.LastIndex(full, " ")
	if i < 0 {
		return full, ""
	}
	return full[:i], full[i+1:]
}

// RoundCents rounds an amount to two decimals.
func RoundCents(v float64) float64 {
	return roundTo(v, 2)
}

// BMI computes kg/m² rounded to one decimal when both inputs are present and positive.
func BMI(weightKg, heightCm *float64) *float64 {
	if weightKg == nil || heightCm == nil || *weightKg <= 0 || *heightCm <= 0 {
		return nil
	}
	m := *heightCm / 100
	v := roundTo(*weightKg/(m*m), 1)
	return &v
}

func dayOf(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}
