package extract

import "clinicsync/pkg/domain"

// EHR pages visited by the browser extractor, relative to the base URL.
const (
	LoginPath     = "/giris"
	TwoFactorPath = "/dogrulama"
	LandingPath   = "/uyelik"
)

// Entry describes one EHR export.
type Entry struct {
	Dataset    domain.Dataset
	ExportPath string
}

var catalog = []Entry{
	{Dataset: domain.DatasetPatients, ExportPath: "/raporlar/disa-aktar/hastalar"},
	{Dataset: domain.DatasetServices, ExportPath: "/raporlar/disa-aktar/hizmetler"},
	{Dataset: domain.DatasetProtocols, ExportPath: "/raporlar/disa-aktar/protokoller"},
	{Dataset: domain.DatasetMedicalInfo, ExportPath: "/raporlar/disa-aktar/medikal-bilgiler"},
	{Dataset: domain.DatasetPediatricPercentile, ExportPath: "/raporlar/disa-aktar/pediatri-persentil"},
	{Dataset: domain.DatasetPediatricExamination, ExportPath: "/raporlar/disa-aktar/pediatri-muayene"},
	{Dataset: domain.DatasetPediatricVaccination, ExportPath: "/raporlar/disa-aktar/pediatri-asi"},
	{Dataset: domain.DatasetObstetrics, ExportPath: "/raporlar/disa-aktar/obstetri"},
	{Dataset: domain.DatasetGynecology, ExportPath: "/raporlar/disa-aktar/jinekoloji"},
	{Dataset: domain.DatasetAppointments, ExportPath: "/raporlar/disa-aktar/randevular"},
	{Dataset: domain.DatasetPayments, ExportPath: "/raporlar/disa-aktar/tahsilatlar"},
}

// Catalog returns the EHR exports in load order.
func Catalog() []Entry {
	return append([]Entry(nil), catalog...)
}

// EntryFor looks up the export of ds.
func EntryFor(ds domain.Dataset) (Entry, bool) {
	for _, e := range catalog {
		if e.Dataset == ds {
			return e, true
		}
	}
	return Entry{}, false
}
