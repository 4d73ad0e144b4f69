package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"clinicsync/internal/derive"
	"clinicsync/internal/docstore/core"
	"clinicsync/internal/load"
	"clinicsync/internal/normalize"
	"clinicsync/internal/reap"
	"clinicsync/internal/resolve"
	"clinicsync/pkg/domain"
)

// maxReportErrors bounds the error list carried into the report and status file.
const maxReportErrors = 200

// run is the mutable state of one pipeline run, shared by the dataset handlers.
type run struct {
	id       string
	log      zerolog.Logger
	store    core.Store
	resolver *resolve.Resolver
	loader   *load.Loader
	schedule *derive.Schedule

	indexes   map[string]*keyIndex
	protocols map[string]normalize.ProtocolRef
	touched   map[string]bool

	errors     []string
	suppressed int
	normalized int
}

func newRun(id string, store core.Store, loader *load.Loader, schedule *derive.Schedule, log zerolog.Logger) *run {
	r := &run{
		id:        id,
		log:       log,
		store:     store,
		resolver:  resolve.New(store, log),
		loader:    loader,
		schedule:  schedule,
		indexes:   make(map[string]*keyIndex),
		protocols: make(map[string]normalize.ProtocolRef),
		touched:   make(map[string]bool),
	}
	for _, key := range reap.DefaultKeys() {
		r.indexes[key.Collection] = newKeyIndex(store, key)
	}
	return r
}

func (r *run) addError(msg string) {
	if len(r.errors) >= maxReportErrors {
		r.suppressed++
		return
	}
	r.errors = append(r.errors, msg)
}

func (r *run) rowError(rec domain.SourceRecord, err error) {
	r.log.Debug().Err(err).Str("dataset", string(rec.Dataset)).Int("row", rec.Row).Msg("row skipped")
	r.addError(fmt.Sprintf("%s row %d: %v", rec.Dataset, rec.Row, err))
}

// noteIssues logs the fields a row had nulled during normalization.
func (r *run) noteIssues(row *normalize.Row) {
	for _, issue := range row.Issues {
		r.normalized++
		r.log.Debug().Str("dataset", string(row.Record.Dataset)).Int("row", row.Record.Row).
			Str("field", issue.Field).Str("reason", issue.Reason).Msg("value nulled")
	}
}

func (r *run) provenance(row *normalize.Row) domain.Provenance {
	p := row.Provenance()
	p.RunID = r.id
	return p
}

// patientID maps a row's patient document ID onto the patient it was folded into.
func (r *run) patientID(id string) string { return r.resolver.Canonical(id) }

func (r *run) touch(patientID string) {
	if patientID != "" {
		r.touched[patientID] = true
	}
}

// touchedPatients lists the patients whose derived artifacts must be recomputed.
func (r *run) touchedPatients() []string {
	ids := make([]string, 0, len(r.touched))
	for id := range r.touched {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// mergeIDs returns the sorted union of a and b.
func mergeIDs(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, id := range append(append([]string(nil), a...), b...) {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// reportErrors returns the collected errors, noting how many were left out.
func (r *run) reportErrors() []string {
	out := append([]string(nil), r.errors...)
	if r.suppressed > 0 {
		out = append(out, fmt.Sprintf("%d further errors omitted", r.suppressed))
	}
	return out
}

func (r *run) errorCount() int { return len(r.errors) + r.suppressed }

func (r *run) vaccineName(code string) string {
	if r.schedule == nil {
		return code
	}
	return r.schedule.Name(code)
}

// assignedID returns the ID of the document holding the natural key in collection.
func (r *run) assignedID(ctx context.Context, collection string, values ...string) (string, bool, error) {
	idx, ok := r.indexes[collection]
	if !ok {
		return "", false, fmt.Errorf("no natural key for %s", collection)
	}
	return idx.ID(ctx, values...)
}

// linkCaregiver attaches a caregiver to a patient and writes both the user and the link.
// Caregivers without a national ID or email are ignored.
func (r *run) linkCaregiver(ctx context.Context, c domain.Caregiver, patientID string) error {
	link, err := r.resolver.LinkCaregiver(ctx, c, patientID)
	if errors.Is(err, resolve.ErrNoCaregiverKey) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := r.loader.UpsertCaregiver(ctx, link.Caregiver); err != nil {
		return err
	}
	return r.loader.Upsert(ctx, domain.CollectionPatientCaregivers, resolve.LinkID(link.Link), link.Link, false)
}

// patientForVisit finds the patient of a visit keyed only by national ID and protocol.
func (r *run) patientForVisit(ctx context.Context, nationalID, protocolNo string) (string, error) {
	if p, ok := r.resolver.ResolveNationalID(nationalID); ok {
		return p.ID, nil
	}
	if ref, ok := r.protocols[protocolNo]; ok && ref.PatientNo != "" {
		return r.patientID(domain.PatientDocID(ref.PatientNo)), nil
	}
	if protocolNo == "" {
		return "", nil
	}
	q := core.Where("protocolNo", protocolNo)
	q.Limit = 1
	docs, err := r.store.Query(ctx, domain.CollectionHealthRecords, q)
	if err != nil {
		return "", fmt.Errorf("lookup protocol %s: %w", protocolNo, err)
	}
	for _, doc := range docs {
		if id, ok := doc.Data["patientId"].(string); ok && strings.TrimPrefix(id, "patient_") != "" {
			return id, nil
		}
	}
	return "", nil
}

// updateBirthHistory overlays the known parts of bh onto the patient's birth history.
func (r *run) updateBirthHistory(ctx context.Context, rec domain.SourceRecord, patientID string, bh domain.BirthHistory) error {
	p, ok := r.resolver.Patient(patientID)
	if !ok {
		r.rowError(rec, fmt.Errorf("unknown patient %s", patientID))
		return nil
	}
	merged := domain.BirthHistory{}
	if p.BirthHistory != nil {
		merged = *p.BirthHistory
	}
	if bh.GestationalAgeWeeks != nil {
		merged.GestationalAgeWeeks = bh.GestationalAgeWeeks
	}
	if bh.DeliveryType != "" {
		merged.DeliveryType = bh.DeliveryType
	}
	if bh.BirthWeightKg != nil {
		merged.BirthWeightKg = bh.BirthWeightKg
	}
	p.BirthHistory = &merged
	r.resolver.Upsert(p)
	r.touch(p.ID)
	patch := struct {
		BirthHistory domain.BirthHistory `json:"birthHistory"`
	}{merged}
	return r.loader.Upsert(ctx, domain.CollectionPatients, p.ID, patch, true)
}

// growthDocID is <national_id>_<protocol_no>, falling back to the patient ID and the
// measurement day when either part is unknown.
func growthDocID(g domain.GrowthPoint) string {
	owner := g.NationalID
	if owner == "" {
		owner = g.PatientID
	}
	visit := g.ProtocolNo
	if visit == "" {
		visit = g.MeasuredAt.UTC().Format("20060102")
	}
	return owner + "_" + visit
}

func (r *run) writeGrowth(ctx context.Context, rec domain.SourceRecord, g domain.GrowthPoint) error {
	p, known := r.resolver.Patient(g.PatientID)
	var dob *time.Time
	if known {
		dob = p.DateOfBirth
		if g.NationalID == "" {
			g.NationalID = p.NationalID
		}
	}
	if err := g.Validate(dob); err != nil {
		r.rowError(rec, err)
		return nil
	}
	return r.loader.Upsert(ctx, domain.CollectionGrowthTracking, growthDocID(g), g, true)
}

// vaccinationDocID keys a dose on (patient, vaccine, dose).
func vaccinationDocID(v domain.VaccinationRecord) string {
	return fmt.Sprintf("%s_%s_%d", v.PatientID, v.VaccineCode, v.DoseNumber)
}

func (r *run) writeVaccination(ctx context.Context, v domain.VaccinationRecord) error {
	r.touch(v.PatientID)
	return r.loader.Upsert(ctx, domain.CollectionVaccinationRecords, vaccinationDocID(v), v, true)
}

func (r *run) writeVisit(ctx context.Context, v domain.VisitRecord) error {
	id, ok, err := r.assignedID(ctx, domain.CollectionHealthRecords, v.ProtocolNo)
	if err != nil || !ok {
		return err
	}
	return r.loader.Upsert(ctx, domain.CollectionHealthRecords, id, v, true)
}

func (r *run) writeAppointment(ctx context.Context, rec domain.SourceRecord, a domain.Appointment) error {
	id, ok, err := r.assignedID(ctx, domain.CollectionAppointments, a.PatientID, a.Date)
	if err != nil {
		return err
	}
	if !ok {
		r.rowError(rec, errors.New("appointment without patient or date"))
		return nil
	}
	return r.loader.Upsert(ctx, domain.CollectionAppointments, id, a, true)
}
