package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"clinicsync/internal/derive"
	"clinicsync/internal/docstore/core"
	"clinicsync/internal/textpattern"
	"clinicsync/pkg/domain"
)

// derivePatients recomputes the derived artifacts of each patient from what the
// store holds after loading, so a patient's artifacts never mix two runs' inputs.
func (r *run) derivePatients(ctx context.Context, engine *derive.Engine, ids []string, now time.Time) error {
	for _, id := range ids {
		p, ok := r.resolver.Patient(id)
		if !ok {
			continue
		}
		in, err := r.deriveInput(ctx, p, now)
		if err != nil {
			return err
		}
		out, err := engine.Evaluate(ctx, in)
		if err != nil {
			return fmt.Errorf("derive %s: %w", id, err)
		}
		for _, issue := range out.Issues {
			r.addError(fmt.Sprintf("derive %s: %v", id, issue))
		}
		if err := r.writeDerived(ctx, out); err != nil {
			return err
		}
	}
	return r.loader.Flush(ctx)
}

func (r *run) deriveInput(ctx context.Context, p domain.PatientKey, now time.Time) (derive.Input, error) {
	in := derive.Input{Patient: p, Now: now}
	q := core.Where("patientId", p.ID)

	visits, err := r.store.Query(ctx, domain.CollectionHealthRecords, q)
	if err != nil {
		return in, fmt.Errorf("read visits of %s: %w", p.ID, err)
	}
	for _, doc := range visits {
		var v domain.VisitRecord
		if err := core.Decode(doc, &v); err != nil {
			return in, err
		}
		in.Exams = append(in.Exams, derive.Exam{
			ProtocolNo: v.ProtocolNo,
			At:         v.EncounterAt,
			VisitType:  v.VisitType,
			Facts:      textpattern.Extract(visitNotes(v)),
			Extras:     v.Extras,
		})
	}

	doses, err := r.store.Query(ctx, domain.CollectionVaccinationRecords, q)
	if err != nil {
		return in, fmt.Errorf("read vaccinations of %s: %w", p.ID, err)
	}
	for _, doc := range doses {
		var v domain.VaccinationRecord
		if err := core.Decode(doc, &v); err != nil {
			return in, err
		}
		in.Vaccinations = append(in.Vaccinations, v)
	}

	links, err := r.store.Query(ctx, domain.CollectionPatientCaregivers, q)
	if err != nil {
		return in, fmt.Errorf("read caregivers of %s: %w", p.ID, err)
	}
	for _, doc := range links {
		var l domain.PatientCaregiverLink
		if err := core.Decode(doc, &l); err != nil {
			return in, err
		}
		in.ParentUserIDs = append(in.ParentUserIDs, l.CaregiverID)
	}
	return in, nil
}

// visitNotes joins the free-text parts of a stored visit in the order they are mined.
func visitNotes(v domain.VisitRecord) string {
	var parts []string
	for _, s := range []string{v.Findings, v.History, v.ChiefComplaint, v.PastHistory, v.FamilyHistory} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n")
}

// agedPatients lists the patients whose artifacts were last derived at another
// age in months than now, or never derived. Visit, vaccine and milestone
// statuses follow age, so they go stale even when no source row changed.
func (r *run) agedPatients(ctx context.Context, now time.Time) ([]string, error) {
	docs, err := r.store.Query(ctx, domain.CollectionPatientAccess, core.Query{})
	if err != nil {
		return nil, fmt.Errorf("read patient access: %w", err)
	}
	derivedAt := make(map[string]time.Time, len(docs))
	for _, doc := range docs {
		derivedAt[doc.ID] = doc.UpdatedAt
	}
	var ids []string
	for _, p := range r.resolver.Patients() {
		at, ok := derivedAt[p.ID]
		switch {
		case !ok:
			ids = append(ids, p.ID)
		case p.DateOfBirth != nil && domain.MonthsBetween(*p.DateOfBirth, at) != domain.MonthsBetween(*p.DateOfBirth, now):
			ids = append(ids, p.ID)
		}
	}
	return ids, nil
}

func (r *run) writeDerived(ctx context.Context, out derive.Output) error {
	for _, v := range out.Visits {
		if err := r.loader.Upsert(ctx, domain.CollectionBFVisits, derive.VisitDocID(v), v, false); err != nil {
			return err
		}
	}
	for _, v := range out.Vaccinations {
		if err := r.loader.Upsert(ctx, domain.CollectionBFVaccinations, derive.VaccinationDocID(v), v, false); err != nil {
			return err
		}
	}
	for _, s := range out.Screenings {
		if err := r.loader.Upsert(ctx, domain.CollectionBFScreenings, derive.ScreeningDocID(s), s, false); err != nil {
			return err
		}
	}
	for _, m := range out.Milestones {
		if err := r.loader.Upsert(ctx, domain.CollectionBFMilestones, derive.MilestoneDocID(m), m, false); err != nil {
			return err
		}
	}
	for _, a := range out.Risk {
		if err := r.loader.Upsert(ctx, domain.CollectionRiskAssessments, derive.RiskDocID(a), a, false); err != nil {
			return err
		}
	}
	for _, a := range out.Access {
		if err := r.loader.Upsert(ctx, domain.CollectionPatientAccess, a.PatientID, a, false); err != nil {
			return err
		}
	}
	return nil
}
