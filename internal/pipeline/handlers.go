package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"clinicsync/internal/derive"
	"clinicsync/internal/normalize"
	"clinicsync/internal/resolve"
	"clinicsync/internal/tabular"
	"clinicsync/internal/textpattern"
	"clinicsync/pkg/domain"
)

// handler maps the parsed records of one dataset onto target-store writes.
// Row problems are recorded on the run; a returned error fails the dataset.
type handler func(ctx context.Context, r *run, recs []domain.SourceRecord) error

var handlers = map[domain.Dataset]handler{
	domain.DatasetPatients:             loadPatients,
	domain.DatasetServices:             loadServices,
	domain.DatasetProtocols:            loadProtocols,
	domain.DatasetMedicalInfo:          loadMedicalInfo,
	domain.DatasetPediatricPercentile:  loadPercentiles,
	domain.DatasetPediatricExamination: loadExaminations,
	domain.DatasetPediatricVaccination: loadVaccinations,
	domain.DatasetObstetrics:           loadObstetrics,
	domain.DatasetGynecology:           loadGynecology,
	domain.DatasetAppointments:         loadAppointments,
	domain.DatasetPayments:             loadPayments,
	domain.DatasetSetmoreAppointments:  loadSetmoreAppointments,
}

var errNoPatient = errors.New("row does not reference a patient")

func loadPatients(ctx context.Context, r *run, recs []domain.SourceRecord) error {
	for _, rec := range recs {
		row := normalize.NewRow(rec)
		p := normalize.Patient(row)
		guardian, hasGuardian := normalize.Guardian(row)
		r.noteIssues(row)
		if err := p.Validate(); err != nil {
			r.rowError(rec, err)
			continue
		}
		merged := p
		if owner, ok := r.resolver.NationalIDOwner(p); ok {
			folded, err := r.resolver.FoldInto(owner.ID, p)
			if err != nil {
				r.rowError(rec, err)
				continue
			}
			merged = folded
		} else {
			merged = r.resolver.Upsert(p)
		}
		if err := r.loader.Upsert(ctx, domain.CollectionPatients, merged.ID, merged, true); err != nil {
			return err
		}
		r.touch(merged.ID)
		if hasGuardian {
			if err := r.linkCaregiver(ctx, guardian, merged.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

func loadServices(ctx context.Context, r *run, recs []domain.SourceRecord) error {
	for _, rec := range recs {
		row := normalize.NewRow(rec)
		item := normalize.Service(row)
		r.noteIssues(row)
		if item.Code == "" {
			r.rowError(rec, domain.ValidationError{Field: "code", Message: "service without a code"})
			continue
		}
		if err := r.loader.Upsert(ctx, domain.CollectionServices, "service_"+item.Code, item, false); err != nil {
			return err
		}
	}
	return nil
}

func loadProtocols(ctx context.Context, r *run, recs []domain.SourceRecord) error {
	for _, rec := range recs {
		row := normalize.NewRow(rec)
		ref := normalize.Protocol(row)
		r.noteIssues(row)
		if ref.PatientNo == "" {
			r.rowError(rec, errNoPatient)
			continue
		}
		r.protocols[ref.ProtocolNo] = ref
		err := r.writeVisit(ctx, domain.VisitRecord{
			PatientID:   r.patientID(domain.PatientDocID(ref.PatientNo)),
			Source:      rec.Source,
			ProtocolNo:  ref.ProtocolNo,
			EncounterAt: ref.Date,
			ServiceType: ref.ServiceType,
			Status:      ref.Status,
			Provenance:  r.provenance(row),
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func noteFields(row *normalize.Row) map[string]string {
	fields := make(map[string]string, len(normalize.NoteFields))
	for _, f := range normalize.NoteFields {
		fields[f] = row.Text(f)
	}
	return fields
}

// noteGrowth stores the anthropometry written in a visit's notes.
func (r *run) noteGrowth(ctx context.Context, rec domain.SourceRecord, patientID, protocolNo string, at *time.Time, facts textpattern.Facts, prov domain.Provenance) error {
	if facts.Growth.Empty() || at == nil {
		return nil
	}
	return r.writeGrowth(ctx, rec, domain.GrowthPoint{
		PatientID:           patientID,
		ProtocolNo:          protocolNo,
		MeasuredAt:          *at,
		WeightKg:            facts.Growth.WeightKg,
		HeightCm:            facts.Growth.HeightCm,
		HeadCircumferenceCm: facts.Growth.HeadCircumferenceCm,
		BMI:                 facts.Growth.BMI,
		GestationalAgeWeeks: facts.GestationalAgeWeeks,
		DeliveryType:        facts.DeliveryType,
		Provenance:          prov,
	})
}

func loadMedicalInfo(ctx context.Context, r *run, recs []domain.SourceRecord) error {
	for _, rec := range recs {
		row := normalize.NewRow(rec)
		v := normalize.MedicalVisit(row)
		r.noteIssues(row)
		pid, err := r.patientForVisit(ctx, v.NationalID, v.ProtocolNo)
		if err != nil {
			return err
		}
		if pid == "" {
			r.rowError(rec, errNoPatient)
			continue
		}
		v.PatientID = pid
		v.Provenance = r.provenance(row)
		if err := r.writeVisit(ctx, v); err != nil {
			return err
		}
		facts := textpattern.ExtractFields(noteFields(row), normalize.NoteFields)
		if err := r.noteGrowth(ctx, rec, pid, v.ProtocolNo, v.EncounterAt, facts, v.Provenance); err != nil {
			return err
		}
		r.touch(pid)
	}
	return nil
}

func loadPercentiles(ctx context.Context, r *run, recs []domain.SourceRecord) error {
	for _, rec := range recs {
		row := normalize.NewRow(rec)
		g := normalize.Percentile(row)
		r.noteIssues(row)
		if rec.Field(tabular.ColPatientNo) == "" {
			r.rowError(rec, errNoPatient)
			continue
		}
		if g.MeasuredAt.IsZero() {
			r.rowError(rec, domain.ValidationError{Field: "measuredAt", Message: "growth point without a measurement date"})
			continue
		}
		g.PatientID = r.patientID(g.PatientID)
		g.Provenance.RunID = r.id
		if err := r.writeGrowth(ctx, rec, g); err != nil {
			return err
		}
	}
	return nil
}

func loadExaminations(ctx context.Context, r *run, recs []domain.SourceRecord) error {
	for _, rec := range recs {
		row := normalize.NewRow(rec)
		e := normalize.PediatricExam(row)
		r.noteIssues(row)
		if rec.Field(tabular.ColPatientNo) == "" {
			r.rowError(rec, errNoPatient)
			continue
		}
		e.PatientID = r.patientID(e.PatientID)
		prov := r.provenance(row)
		err := r.writeVisit(ctx, domain.VisitRecord{
			PatientID:       e.PatientID,
			Source:          rec.Source,
			ProtocolNo:      e.ProtocolNo,
			EncounterAt:     e.At,
			ChiefComplaint:  e.Notes[tabular.ColComplaint],
			History:         e.Notes[tabular.ColHistory],
			Findings:        e.Notes[tabular.ColFindings],
			PastHistory:     e.Notes[tabular.ColPastHistory],
			FamilyHistory:   e.Notes[tabular.ColFamilyHistory],
			Recommendations: row.Text(tabular.ColRecommendation),
			VisitType:       derive.VisitTypeFor(e.VisitType),
			Extras:          e.Extras,
			Provenance:      prov,
		})
		if err != nil {
			return err
		}
		facts := textpattern.Extract(e.Text())
		if err := r.noteGrowth(ctx, rec, e.PatientID, e.ProtocolNo, e.At, facts, prov); err != nil {
			return err
		}
		for _, m := range facts.Vaccines {
			if m.Dose <= 0 {
				continue
			}
			err := r.writeVaccination(ctx, domain.VaccinationRecord{
				PatientID:      e.PatientID,
				VaccineCode:    m.Code,
				VaccineName:    r.vaccineName(m.Code),
				DoseNumber:     m.Dose,
				AdministeredAt: e.At,
				Provenance:     prov,
			})
			if err != nil {
				return err
			}
		}
		if facts.GestationalAgeWeeks != nil || facts.DeliveryType != "" {
			bh := domain.BirthHistory{GestationalAgeWeeks: facts.GestationalAgeWeeks, DeliveryType: facts.DeliveryType}
			if err := r.updateBirthHistory(ctx, rec, e.PatientID, bh); err != nil {
				return err
			}
		}
		r.touch(e.PatientID)
	}
	return nil
}

func loadVaccinations(ctx context.Context, r *run, recs []domain.SourceRecord) error {
	for _, rec := range recs {
		row := normalize.NewRow(rec)
		v := normalize.Vaccination(row)
		r.noteIssues(row)
		if rec.Field(tabular.ColPatientNo) == "" {
			r.rowError(rec, errNoPatient)
			continue
		}
		code, ok := textpattern.CanonicalVaccine(v.VaccineName)
		if !ok {
			code = strings.ToUpper(strings.Join(strings.Fields(v.VaccineName), "_"))
		}
		if code == "" {
			r.rowError(rec, domain.ValidationError{Field: "vaccine", Message: "vaccination without a vaccine name"})
			continue
		}
		v.PatientID = r.patientID(v.PatientID)
		v.VaccineCode = code
		if ok {
			v.VaccineName = r.vaccineName(code)
		}
		v.Provenance.RunID = r.id
		if err := r.writeVaccination(ctx, v); err != nil {
			return err
		}
	}
	return nil
}

// gestationText lets a bare "38+2" column read like note notation.
func gestationText(s string) string {
	if strings.Contains(strings.ToUpper(s), "GH") {
		return s
	}
	return s + " GH"
}

func loadObstetrics(ctx context.Context, r *run, recs []domain.SourceRecord) error {
	for _, rec := range recs {
		row := normalize.NewRow(rec)
		o := normalize.ObstetricRecord(row)
		r.noteIssues(row)
		if rec.Field(tabular.ColPatientNo) == "" {
			r.rowError(rec, errNoPatient)
			continue
		}
		var bh domain.BirthHistory
		if o.Gestation != "" {
			bh.GestationalAgeWeeks = textpattern.GestationalAge(gestationText(o.Gestation))
		}
		bh.DeliveryType = textpattern.DeliveryType(o.DeliveryText)
		facts := textpattern.Extract(o.Notes)
		if bh.GestationalAgeWeeks == nil {
			bh.GestationalAgeWeeks = facts.GestationalAgeWeeks
		}
		if bh.DeliveryType == "" {
			bh.DeliveryType = facts.DeliveryType
		}
		bh.BirthWeightKg = facts.Growth.WeightKg
		if bh.GestationalAgeWeeks == nil && bh.DeliveryType == "" && bh.BirthWeightKg == nil {
			continue
		}
		if err := r.updateBirthHistory(ctx, rec, r.patientID(o.PatientID), bh); err != nil {
			return err
		}
	}
	return nil
}

func loadGynecology(ctx context.Context, r *run, recs []domain.SourceRecord) error {
	for _, rec := range recs {
		row := normalize.NewRow(rec)
		v := normalize.GynecologyVisit(row)
		r.noteIssues(row)
		if rec.Field(tabular.ColPatientNo) == "" {
			r.rowError(rec, errNoPatient)
			continue
		}
		v.PatientID = r.patientID(v.PatientID)
		v.Provenance.RunID = r.id
		if err := r.writeVisit(ctx, v); err != nil {
			return err
		}
	}
	return nil
}

func loadAppointments(ctx context.Context, r *run, recs []domain.SourceRecord) error {
	for _, rec := range recs {
		row := normalize.NewRow(rec)
		a := normalize.EHRAppointment(row)
		r.noteIssues(row)
		if rec.Field(tabular.ColPatientNo) == "" {
			r.rowError(rec, errNoPatient)
			continue
		}
		a.PatientID = r.patientID(a.PatientID)
		a.Provenance.RunID = r.id
		if err := r.writeAppointment(ctx, rec, a); err != nil {
			return err
		}
	}
	return nil
}

func loadPayments(ctx context.Context, r *run, recs []domain.SourceRecord) error {
	for _, rec := range recs {
		row := normalize.NewRow(rec)
		f := normalize.Payment(row)
		r.noteIssues(row)
		if f.SourcePatientNo == "" {
			r.rowError(rec, errNoPatient)
			continue
		}
		if err := f.Validate(); err != nil {
			r.rowError(rec, err)
			continue
		}
		f.PatientID = r.patientID(f.PatientID)
		f.Provenance.RunID = r.id
		id, ok, err := r.assignedID(ctx, domain.CollectionFinancialRecords, f.ProtocolNo)
		if err != nil {
			return err
		}
		if !ok {
			r.rowError(rec, domain.ValidationError{Field: "protocolNo", Message: "payment without a protocol number"})
			continue
		}
		if err := r.loader.Upsert(ctx, domain.CollectionFinancialRecords, id, f, true); err != nil {
			return err
		}
	}
	return nil
}

func loadSetmoreAppointments(ctx context.Context, r *run, recs []domain.SourceRecord) error {
	for _, rec := range recs {
		row := normalize.NewRow(rec)
		a, cust := normalize.SetmoreAppointment(row)
		r.noteIssues(row)
		m, err := r.resolver.Resolve(resolve.Candidate{
			Phone:     cust.Phone,
			Email:     cust.Email,
			FirstName: cust.FirstName,
			LastName:  cust.LastName,
			Source:    domain.SourceSetmore,
		})
		if err != nil {
			r.rowError(rec, err)
			continue
		}
		if m.Ambiguity != nil {
			r.log.Warn().Str("dataset", string(rec.Dataset)).Int("row", rec.Row).Msg(m.Ambiguity.Error())
		}
		if m.Created {
			if err := r.loader.Upsert(ctx, domain.CollectionPatients, m.Patient.ID, m.Patient, true); err != nil {
				return err
			}
			r.touch(m.Patient.ID)
		}
		a.PatientID = m.Patient.ID
		a.Provenance.RunID = r.id

		email := cust.Email
		if email == "" {
			email = resolve.PlaceholderEmail(cust.Phone)
		}
		if email != "" {
			err := r.linkCaregiver(ctx, domain.Caregiver{
				Email:     email,
				Phone:     cust.Phone,
				FirstName: cust.FirstName,
				LastName:  cust.LastName,
				Role:      domain.RoleParent,
				Source:    domain.SourceSetmore,
			}, m.Patient.ID)
			if err != nil {
				return err
			}
		}
		if err := r.writeAppointment(ctx, rec, a); err != nil {
			return err
		}
	}
	return nil
}
