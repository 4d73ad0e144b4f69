package tabular

import (
	"fmt"

	"clinicsync/pkg/domain"
)

// Schema describes the columns the pipeline understands for one dataset.
// Columns not listed are carried as extras.
type Schema struct {
	Dataset    domain.Dataset
	PrimaryKey string
	Columns    []string
}

// Column names as emitted by the sources.
const (
	ColPatientNo      = "Hasta_No"
	ColNationalID     = "TC_Kimlik_No"
	ColFirstName      = "Hasta_Adı"
	ColLastName       = "Hasta_Soyadı"
	ColBirthDate      = "Doğum_Tarihi"
	ColGender         = "Cinsiyet"
	ColBloodType      = "Kan_Grubu"
	ColPhone          = "Telefon"
	ColEmail          = "Email"
	ColAddress        = "Adres"
	ColGuardianName   = "Veli_Adı"
	ColGuardianPhone  = "Veli_Telefon"
	ColGuardianNatID  = "Veli_TC_Kimlik_No"
	ColGuardianEmail  = "Veli_Email"
	ColMedProtocolNo  = "Protokol No"
	ColMedNationalID  = "Hasta Kimlik Numarası"
	ColMedDate        = "Protokol Tarihi"
	ColHistory        = "Hikayesi"
	ColComplaint      = "Şikayeti"
	ColFindings       = "Bulgular"
	ColProcedures     = "Uygulamalar"
	ColRecommendation = "Öneriler"
	ColDiagnosisCodes = "Tanı Kodları"
	ColPastHistory    = "Özgeçmiş"
	ColFamilyHistory  = "Soygeçmiş"
	ColProtocolNo     = "Protokol_No"
	ColDate           = "Tarih"
	ColServiceType    = "Hizmet_Tipi"
	ColStatus         = "Durum"
	ColPaidAmount     = "Ödenen_Miktar"
	ColCurrency       = "Cinsi"
	ColPaidAt         = "Tarihi"
	ColServiceCode    = "Hizmet_Kodu"
	ColServiceName    = "Hizmet_Adı"
	ColCategory       = "Kategori"
	ColPrice          = "Fiyat"
	ColDuration       = "Süre"
	ColAppointmentNo  = "Randevu_No"
	ColAppointmentAt  = "Randevu_Tarihi"
	ColTime           = "Saat"
	ColService        = "Hizmet"
	ColDoctor         = "Doktor"
	ColNotes          = "Notlar"
	ColGestationWeek  = "Gebelik_Haftası"
	ColDeliveryType   = "Doğum_Şekli"
	ColMeasuredAt     = "Ölçüm_Tarihi"
	ColWeight         = "Kilo"
	ColHeight         = "Boy"
	ColHeadCirc       = "Baş_Çevresi"
	ColExamDate       = "Muayene_Tarihi"
	ColVisitType      = "Muayene_Tipi"
	ColVaccineRecNo   = "Aşı_Kayıt_No"
	ColVaccineName    = "Aşı_Adı"
	ColDose           = "Doz"
	ColAdministeredAt = "Uygulama_Tarihi"
	ColRoute          = "Uygulama_Yolu"
	ColSite           = "Uygulama_Yeri"
	ColLot            = "Lot_No"
	ColAdverseEvent   = "Yan_Etki"

	ColSetmoreID       = "Appointment ID"
	ColSetmoreDate     = "Appointment Date"
	ColSetmoreTime     = "Start Time"
	ColSetmoreCustomer = "Customer Name"
	ColSetmoreEmail    = "Customer Email"
	ColSetmorePhone    = "Customer Phone"
	ColSetmoreService  = "Service"
	ColSetmoreStaff    = "Staff"
	ColSetmoreStatus   = "Status"
	ColSetmoreComments = "Comments"
)

var schemas = map[domain.Dataset]Schema{
	domain.DatasetPatients: {
		PrimaryKey: ColPatientNo,
		Columns: []string{ColPatientNo, ColNationalID, ColFirstName, ColLastName, ColBirthDate, ColGender,
			ColBloodType, ColPhone, ColEmail, ColAddress, ColGuardianName, ColGuardianPhone, ColGuardianNatID, ColGuardianEmail},
	},
	domain.DatasetMedicalInfo: {
		PrimaryKey: ColMedProtocolNo,
		Columns: []string{ColMedProtocolNo, ColMedNationalID, ColMedDate, ColHistory, ColComplaint, ColFindings,
			ColProcedures, ColRecommendation, ColDiagnosisCodes, ColPastHistory, ColFamilyHistory},
	},
	domain.DatasetProtocols: {
		PrimaryKey: ColProtocolNo,
		Columns:    []string{ColProtocolNo, ColPatientNo, ColDate, ColServiceType, ColStatus},
	},
	domain.DatasetPayments: {
		PrimaryKey: ColProtocolNo,
		Columns:    []string{ColProtocolNo, ColPatientNo, ColPaidAmount, ColCurrency, ColPaidAt},
	},
	domain.DatasetServices: {
		PrimaryKey: ColServiceCode,
		Columns:    []string{ColServiceCode, ColServiceName, ColCategory, ColPrice, ColDuration},
	},
	domain.DatasetAppointments: {
		PrimaryKey: ColAppointmentNo,
		Columns:    []string{ColAppointmentNo, ColPatientNo, ColAppointmentAt, ColTime, ColService, ColDoctor, ColStatus, ColNotes},
	},
	domain.DatasetObstetrics: {
		PrimaryKey: ColProtocolNo,
		Columns:    []string{ColProtocolNo, ColPatientNo, ColDate, ColGestationWeek, ColDeliveryType, ColNotes},
	},
	domain.DatasetGynecology: {
		PrimaryKey: ColProtocolNo,
		Columns:    []string{ColProtocolNo, ColPatientNo, ColDate, ColFindings, ColNotes},
	},
	domain.DatasetPediatricPercentile: {
		PrimaryKey: ColProtocolNo,
		Columns:    []string{ColProtocolNo, ColPatientNo, ColMeasuredAt, ColWeight, ColHeight, ColHeadCirc},
	},
	domain.DatasetPediatricExamination: {
		PrimaryKey: ColProtocolNo,
		Columns: []string{ColProtocolNo, ColPatientNo, ColExamDate, ColVisitType, ColComplaint, ColHistory,
			ColFindings, ColPastHistory, ColFamilyHistory, ColRecommendation},
	},
	domain.DatasetPediatricVaccination: {
		PrimaryKey: ColVaccineRecNo,
		Columns: []string{ColVaccineRecNo, ColPatientNo, ColVaccineName, ColDose, ColAdministeredAt,
			ColRoute, ColSite, ColLot, ColAdverseEvent},
	},
	domain.DatasetSetmoreAppointments: {
		PrimaryKey: ColSetmoreID,
		Columns: []string{ColSetmoreID, ColSetmoreDate, ColSetmoreTime, ColSetmoreCustomer, ColSetmoreEmail,
			ColSetmorePhone, ColSetmoreService, ColSetmoreStaff, ColSetmoreStatus, ColSetmoreComments},
	},
}

// SchemaFor returns the schema registered for ds.
func SchemaFor(ds domain.Dataset) (Schema, error) {
	s, ok := schemas[ds]
	if !ok {
		return Schema{}, fmt.Errorf("no schema for dataset %q", ds)
	}
	s.Dataset = ds
	return s, nil
}

func (s Schema) known(col string) bool {
	for _, c := range s.Columns {
		if c == col {
			return true
		}
	}
	return false
}
