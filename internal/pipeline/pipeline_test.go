package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"clinicsync/internal/clock"
	"clinicsync/internal/derive"
	"clinicsync/internal/docstore/core"
	"clinicsync/internal/events"
	"clinicsync/internal/extract"
	memblob "clinicsync/internal/infra/blob/memory"
	memdoc "clinicsync/internal/infra/docstore/memory"
	"clinicsync/internal/logging"
	"clinicsync/internal/metrics"
	"clinicsync/internal/report"
	"clinicsync/internal/revision"
	"clinicsync/internal/syncstate"
	"clinicsync/pkg/domain"
)

const patientsCSV = "Hasta_No;TC_Kimlik_No;Hasta_Adı;Hasta_Soyadı;Doğum_Tarihi;Cinsiyet;Telefon;Veli_Adı;Veli_Telefon;Veli_Email\n" +
	"1001;10000000146;Ali;Yılmaz;2024-01-15;Erkek;05321234567;Ayşe Yılmaz;05329876543;ayse@example.com\n" +
	"1002;;Zeynep;Kaya;2023-06-01;Kız;05551112233;;;\n" +
	";;Eksik;Kayıt;2023-01-01;;;;;\n"

const vaccinationsCSV = "Aşı_Kayıt_No;Hasta_No;Aşı_Adı;Doz;Uygulama_Tarihi\n" +
	"V1;1001;Hepatit B;1;15.01.2024\n"

const appointmentsCSV = "Randevu_No;Hasta_No;Randevu_Tarihi;Saat;Hizmet;Doktor;Durum\n" +
	"R1;1001;2025-06-10;10:30;Muayene;Dr. Demir;Onaylandı\n"

const setmoreCSV = "Appointment ID;Appointment Date;Start Time;Customer Name;Customer Email;Customer Phone;Service;Staff;Status\n" +
	"S1;2025-06-12;09:00;Zeynep Kaya;;0555 111 22 33;Kontrol;Dr. Demir;Confirmed\n"

type fixture struct {
	clients *Clients
	store   *memdoc.Store
	clock   *clock.Fixed
	revs    *revision.Store
	dir     string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	clk := clock.NewFixed(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	log := logging.Nop()
	sched, err := derive.DefaultSchedule()
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	store := memdoc.New(clk)
	revs := revision.New(memblob.New(), clk, log)
	statusPath := filepath.Join(dir, "status", "last_sync.json")
	return &fixture{
		clients: &Clients{
			Clock:     clk,
			Revisions: revs,
			Store:     store,
			Lock:      syncstate.NewFileLock(syncstate.LockPathFor(statusPath)),
			Status:    syncstate.NewStatusStore(statusPath),
			Metrics:   metrics.New(),
			Events:    events.Nop{},
			Schedule:  sched,
			Layout:    Layout{LogsDir: filepath.Join(dir, "logs")},
		},
		store: store,
		clock: clk,
		revs:  revs,
		dir:   dir,
	}
}

func (f *fixture) put(t *testing.T, ds domain.Dataset, body string) {
	t.Helper()
	if _, err := f.revs.Put(context.Background(), ds, []byte(body)); err != nil {
		t.Fatalf("put %s: %v", ds, err)
	}
	f.clock.Advance(time.Second)
}

func (f *fixture) run(t *testing.T, opts Options) Result {
	t.Helper()
	opts.SkipExtract = opts.SkipExtract || len(f.clients.Extractors) == 0
	res, err := New(f.clients, logging.Nop()).Run(context.Background(), opts)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	return res
}

func outcomeOf(t *testing.T, res Result, ds domain.Dataset) string {
	t.Helper()
	for _, o := range res.Datasets {
		if o.Dataset == ds {
			return o.Outcome
		}
	}
	t.Fatalf("no outcome for %s", ds)
	return ""
}

func TestRunLoadsDatasets(t *testing.T) {
	f := newFixture(t)
	f.put(t, domain.DatasetPatients, patientsCSV)
	f.put(t, domain.DatasetPediatricVaccination, vaccinationsCSV)

	res := f.run(t, Options{})
	if res.Status != domain.RunSuccess || res.ExitCode() != 0 {
		t.Fatalf("expected success, got %s (errors %v)", res.Status, res.Errors)
	}
	if got := outcomeOf(t, res, domain.DatasetPatients); got != report.OutcomeLoaded {
		t.Fatalf("patients outcome %s", got)
	}
	if got := outcomeOf(t, res, domain.DatasetGynecology); got != report.OutcomeSkipped {
		t.Fatalf("missing dataset should be skipped, got %s", got)
	}
	if n := f.store.Count(domain.CollectionPatients); n != 2 {
		t.Fatalf("expected 2 patients, got %d", n)
	}
	if n := f.store.Count(domain.CollectionVaccinationRecords); n != 1 {
		t.Fatalf("expected 1 vaccination, got %d", n)
	}
	if res.Statistics.Users != 1 {
		t.Fatalf("expected 1 caregiver written, got %d", res.Statistics.Users)
	}
	if _, err := f.store.Get(context.Background(), domain.CollectionUsers, "ayse_example_com"); err != nil {
		t.Fatalf("caregiver missing: %v", err)
	}
	if n := f.store.Count(domain.CollectionPatientCaregivers); n != 1 {
		t.Fatalf("expected 1 caregiver link, got %d", n)
	}
	if n := f.store.Count(domain.CollectionPatientAccess); n != 2 {
		t.Fatalf("expected access projection for both patients, got %d", n)
	}
	if res.Statistics.BFVisits == 0 {
		t.Fatalf("expected derived visits")
	}

	status, err := f.clients.Status.Load()
	if err != nil {
		t.Fatalf("load status: %v", err)
	}
	if status.LastHash(domain.DatasetPatients) == "" || status.LastSuccessfulRun == nil {
		t.Fatalf("status not recorded: %+v", status)
	}
	if len(status.Runs) != 1 || status.Runs[0].RunID != res.RunID {
		t.Fatalf("unexpected run ring %+v", status.Runs)
	}
	if res.Report.JSON == "" || filepath.Dir(res.Report.JSON) != filepath.Join(f.dir, "logs") {
		t.Fatalf("unexpected report path %q", res.Report.JSON)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.put(t, domain.DatasetPatients, patientsCSV)
	f.put(t, domain.DatasetAppointments, appointmentsCSV)
	f.run(t, Options{})

	commits := f.store.Commits()
	counts := map[string]int{}
	for _, coll := range []string{domain.CollectionPatients, domain.CollectionAppointments, domain.CollectionUsers, domain.CollectionBFVisits} {
		counts[coll] = f.store.Count(coll)
	}

	res := f.run(t, Options{})
	if res.Status != domain.RunSuccess {
		t.Fatalf("second run status %s", res.Status)
	}
	if got := outcomeOf(t, res, domain.DatasetPatients); got != report.OutcomeUnchanged {
		t.Fatalf("patients outcome %s", got)
	}
	if res.Statistics != (domain.Statistics{}) {
		t.Fatalf("second run wrote documents: %+v", res.Statistics)
	}
	if f.store.Commits() != commits {
		t.Fatalf("second run committed %d batches", f.store.Commits()-commits)
	}
	for coll, want := range counts {
		if got := f.store.Count(coll); got != want {
			t.Fatalf("%s: %d documents, want %d", coll, got, want)
		}
	}
}

func TestRunRederivesPatientsWhoAged(t *testing.T) {
	f := newFixture(t)
	f.put(t, domain.DatasetPatients, patientsCSV)
	f.run(t, Options{})

	overdue := func() int {
		t.Helper()
		docs, err := f.store.Query(context.Background(), domain.CollectionBFVisits, core.Where("patientId", "patient_1001"))
		if err != nil {
			t.Fatalf("query visits: %v", err)
		}
		n := 0
		for _, doc := range docs {
			if doc.Data["status"] == string(domain.VisitOverdue) {
				n++
			}
		}
		return n
	}
	before := overdue()

	f.clock.Advance(2 * 365 * 24 * time.Hour)
	res := f.run(t, Options{})
	if got := outcomeOf(t, res, domain.DatasetPatients); got != report.OutcomeUnchanged {
		t.Fatalf("patients outcome %s", got)
	}
	if after := overdue(); after <= before {
		t.Fatalf("overdue visits %d after two years, %d before", after, before)
	}

	res = f.run(t, Options{})
	if res.Statistics != (domain.Statistics{}) {
		t.Fatalf("run in the same month rederived: %+v", res.Statistics)
	}
}

func TestRunForceReloadsWithoutDuplicates(t *testing.T) {
	f := newFixture(t)
	f.put(t, domain.DatasetPatients, patientsCSV)
	f.put(t, domain.DatasetAppointments, appointmentsCSV)
	f.run(t, Options{})

	res := f.run(t, Options{Force: true})
	if got := outcomeOf(t, res, domain.DatasetAppointments); got != report.OutcomeLoaded {
		t.Fatalf("forced appointments outcome %s", got)
	}
	if n := f.store.Count(domain.CollectionAppointments); n != 1 {
		t.Fatalf("forced reload duplicated appointments: %d", n)
	}
	if res.Statistics.DuplicatesRemoved != 0 {
		t.Fatalf("unexpected duplicates removed: %d", res.Statistics.DuplicatesRemoved)
	}
}

func TestRunReloadsChangedRevision(t *testing.T) {
	f := newFixture(t)
	f.put(t, domain.DatasetPatients, patientsCSV)
	first := f.run(t, Options{})
	status, _ := f.clients.Status.Load()
	before := status.LastHash(domain.DatasetPatients)

	f.put(t, domain.DatasetPatients, patientsCSV+"1003;;Can;Demir;2024-03-03;Erkek;05441234567;;;\n")
	second := f.run(t, Options{})
	if got := outcomeOf(t, second, domain.DatasetPatients); got != report.OutcomeLoaded {
		t.Fatalf("changed revision outcome %s", got)
	}
	status, _ = f.clients.Status.Load()
	if after := status.LastHash(domain.DatasetPatients); after == before || after == "" {
		t.Fatalf("hash not advanced: %q -> %q", before, after)
	}
	if n := f.store.Count(domain.CollectionPatients); n != 3 {
		t.Fatalf("expected 3 patients, got %d", n)
	}
	if first.RunID == second.RunID {
		t.Fatalf("run IDs must differ")
	}
}

func TestRunLinksSetmoreCustomerByPhone(t *testing.T) {
	f := newFixture(t)
	f.put(t, domain.DatasetPatients, patientsCSV)
	f.put(t, domain.DatasetSetmoreAppointments, setmoreCSV)

	res := f.run(t, Options{})
	if res.Status != domain.RunSuccess {
		t.Fatalf("status %s: %v", res.Status, res.Errors)
	}
	if n := f.store.Count(domain.CollectionPatients); n != 2 {
		t.Fatalf("setmore customer should match an existing patient, have %d patients", n)
	}
	docs, err := f.store.Query(context.Background(), domain.CollectionAppointments, core.Where("patientId", "patient_1002"))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected 1 appointment for patient_1002, got %d", len(docs))
	}
	if _, err := f.store.Get(context.Background(), domain.CollectionUsers, "setmore_905551112233_placeholder_local"); err != nil {
		t.Fatalf("placeholder caregiver missing: %v", err)
	}
}

func TestRunFoldsPatientsSharingNationalID(t *testing.T) {
	f := newFixture(t)
	f.put(t, domain.DatasetPatients, "Hasta_No;TC_Kimlik_No;Hasta_Adı;Hasta_Soyadı;Doğum_Tarihi;Cinsiyet;Telefon;Veli_Adı;Veli_Telefon;Veli_Email\n"+
		"2001;10000000146;Ali;Yılmaz;2024-01-15;Erkek;05321234567;;;\n"+
		"2002;10000000146;Ali;Yılmaz;2024-01-15;Erkek;05327654321;;;\n")
	f.put(t, domain.DatasetAppointments, "Randevu_No;Hasta_No;Randevu_Tarihi;Saat;Hizmet;Doktor;Durum\n"+
		"R9;2002;2025-06-10;10:30;Muayene;Dr. Demir;Onaylandı\n")

	for i := 0; i < 2; i++ {
		res := f.run(t, Options{Force: i == 1})
		if res.Status != domain.RunSuccess {
			t.Fatalf("run %d status %s: %v", i, res.Status, res.Errors)
		}
		docs, err := f.store.Query(context.Background(), domain.CollectionPatients, core.Where("nationalId", "10000000146"))
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		if len(docs) != 1 || docs[0].ID != "patient_2001" {
			t.Fatalf("run %d: expected only patient_2001 for the national id, got %d documents", i, len(docs))
		}
		appts, err := f.store.Query(context.Background(), domain.CollectionAppointments, core.Where("patientId", "patient_2001"))
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		if len(appts) != 1 {
			t.Fatalf("run %d: appointment of the folded number not attached, got %d", i, len(appts))
		}
	}
	var p domain.PatientKey
	doc, err := f.store.Get(context.Background(), domain.CollectionPatients, "patient_2001")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if err := core.Decode(doc, &p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(p.Aliases) != 1 || p.Aliases[0] != "patient_2002" {
		t.Fatalf("aliases = %v", p.Aliases)
	}
}

type fakeExtractor struct {
	sink    extract.Sink
	openErr error
	bodies  map[domain.Dataset]string
	fail    map[domain.Dataset]bool
}

func (f *fakeExtractor) Source() domain.Source { return domain.SourceBulutKlinik }

func (f *fakeExtractor) Datasets() []domain.Dataset {
	return []domain.Dataset{domain.DatasetPatients, domain.DatasetAppointments}
}

func (f *fakeExtractor) Open(context.Context) error { return f.openErr }

func (f *fakeExtractor) Fetch(ctx context.Context, ds domain.Dataset) (revision.Revision, error) {
	if f.fail[ds] {
		return revision.Revision{}, domain.ExtractorDatasetError{Dataset: ds, Kind: domain.FailureNavigation}
	}
	return f.sink.Put(ctx, ds, []byte(f.bodies[ds]))
}

func (f *fakeExtractor) Close() error { return nil }

func TestRunPartialKeepsFailedHash(t *testing.T) {
	f := newFixture(t)
	f.clients.Extractors = []extract.Extractor{&fakeExtractor{
		sink:   f.revs,
		bodies: map[domain.Dataset]string{domain.DatasetPatients: patientsCSV},
		fail:   map[domain.Dataset]bool{domain.DatasetAppointments: true},
	}}

	res := f.run(t, Options{})
	if res.Status != domain.RunPartial || res.ExitCode() != 2 {
		t.Fatalf("expected partial, got %s", res.Status)
	}
	if got := outcomeOf(t, res, domain.DatasetAppointments); got != report.OutcomeFailed {
		t.Fatalf("appointments outcome %s", got)
	}
	status, _ := f.clients.Status.Load()
	if status.LastHash(domain.DatasetAppointments) != "" {
		t.Fatalf("failed dataset hash must not advance")
	}
	if status.LastHash(domain.DatasetPatients) == "" {
		t.Fatalf("loaded dataset hash missing")
	}
	if status.LastSuccessfulRun != nil {
		t.Fatalf("partial run must not count as successful")
	}
}

// commitFault rejects every batch that writes to collection while armed.
type commitFault struct {
	core.Store
	collection string
	armed      bool
}

func (s *commitFault) Commit(ctx context.Context, ops []core.Op) ([]core.OpResult, error) {
	if s.armed {
		for _, op := range ops {
			if op.Collection == s.collection {
				return nil, errors.New("write rejected")
			}
		}
	}
	return s.Store.Commit(ctx, ops)
}

func TestRunKeepsHashWhenDerivationFails(t *testing.T) {
	f := newFixture(t)
	faulty := &commitFault{Store: f.store, collection: domain.CollectionBFVisits, armed: true}
	f.clients.Store = faulty
	f.put(t, domain.DatasetPatients, patientsCSV)

	res := f.run(t, Options{})
	if res.Status != domain.RunFailure || res.ExitCode() != 1 {
		t.Fatalf("expected failure, got %s", res.Status)
	}
	status, _ := f.clients.Status.Load()
	if got := status.LastHash(domain.DatasetPatients); got != "" {
		t.Fatalf("hash advanced past a failed derivation: %q", got)
	}
	if n := f.store.Count(domain.CollectionBFVisits); n != 0 {
		t.Fatalf("expected no derived visits, got %d", n)
	}

	faulty.armed = false
	res = f.run(t, Options{})
	if res.Status != domain.RunSuccess {
		t.Fatalf("retry status %s: %v", res.Status, res.Errors)
	}
	if got := outcomeOf(t, res, domain.DatasetPatients); got != report.OutcomeLoaded {
		t.Fatalf("retry must reload patients, got %s", got)
	}
	if f.store.Count(domain.CollectionBFVisits) == 0 {
		t.Fatalf("retry did not write derived visits")
	}
	status, _ = f.clients.Status.Load()
	if status.LastHash(domain.DatasetPatients) == "" {
		t.Fatalf("hash not committed after a clean derivation")
	}
}

func TestRunFailsOnAuthError(t *testing.T) {
	f := newFixture(t)
	f.clients.Extractors = []extract.Extractor{&fakeExtractor{
		sink:    f.revs,
		openErr: domain.ExtractorAuthError{Kind: domain.FailureLoginRejected},
	}}
	f.put(t, domain.DatasetPatients, patientsCSV)

	res := f.run(t, Options{})
	if res.Status != domain.RunFailure || res.ExitCode() != 1 {
		t.Fatalf("expected failure, got %s", res.Status)
	}
	if n := f.store.Count(domain.CollectionPatients); n != 0 {
		t.Fatalf("nothing may load after an auth failure, got %d patients", n)
	}
	status, _ := f.clients.Status.Load()
	if len(status.Runs) != 1 || status.Runs[0].Status != domain.RunFailure {
		t.Fatalf("failed run not recorded: %+v", status.Runs)
	}
}

func TestRunRejectsConcurrentRun(t *testing.T) {
	f := newFixture(t)
	holder := syncstate.NewFileLock(syncstate.LockPathFor(f.clients.Status.Path()))
	if err := syncstate.Acquire(context.Background(), holder); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer func() { _ = holder.Unlock(context.Background()) }()

	_, err := New(f.clients, logging.Nop()).Run(context.Background(), Options{SkipExtract: true})
	if !errors.Is(err, domain.ErrAlreadyRunning) || !IsAlreadyRunning(err) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
	status, err := f.clients.Status.Load()
	if err != nil {
		t.Fatalf("load status: %v", err)
	}
	if len(status.Runs) != 0 {
		t.Fatalf("rejected run must not touch status")
	}
}

func TestRunCancelledBeforeDatasetsIsPartial(t *testing.T) {
	f := newFixture(t)
	f.put(t, domain.DatasetPatients, patientsCSV)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := New(f.clients, logging.Nop()).Run(ctx, Options{SkipExtract: true})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Status != domain.RunPartial {
		t.Fatalf("expected partial, got %s", res.Status)
	}
	if got := outcomeOf(t, res, domain.DatasetPatients); got != report.OutcomeSkipped {
		t.Fatalf("patients outcome %s", got)
	}
	status, _ := f.clients.Status.Load()
	if status.LastHash(domain.DatasetPatients) != "" {
		t.Fatalf("skipped dataset hash recorded")
	}
}

func TestClearCacheForcesReload(t *testing.T) {
	f := newFixture(t)
	f.put(t, domain.DatasetPatients, patientsCSV)
	f.run(t, Options{})

	p := New(f.clients, logging.Nop())
	if err := p.ClearCache(context.Background()); err != nil {
		t.Fatalf("clear cache: %v", err)
	}
	status, err := p.Status()
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.LastHash(domain.DatasetPatients) != "" {
		t.Fatalf("hash survived clear-cache")
	}
	res := f.run(t, Options{})
	if got := outcomeOf(t, res, domain.DatasetPatients); got != report.OutcomeLoaded {
		t.Fatalf("expected reload after clear-cache, got %s", got)
	}
	if n := f.store.Count(domain.CollectionPatients); n != 2 {
		t.Fatalf("reload duplicated patients: %d", n)
	}
}

func TestRunScopeLimitsDatasets(t *testing.T) {
	f := newFixture(t)
	f.put(t, domain.DatasetPatients, patientsCSV)
	f.put(t, domain.DatasetAppointments, appointmentsCSV)

	res := f.run(t, Options{Scope: ScopePatients})
	if len(res.Datasets) != 1 || res.Datasets[0].Dataset != domain.DatasetPatients {
		t.Fatalf("unexpected datasets %+v", res.Datasets)
	}
	if n := f.store.Count(domain.CollectionAppointments); n != 0 {
		t.Fatalf("out-of-scope dataset loaded")
	}
}

func TestNewRunID(t *testing.T) {
	id := NewRunID(time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC))
	if len(id) != len("20250102_030405_")+8 || id[:16] != "20250102_030405_" {
		t.Fatalf("unexpected run id %q", id)
	}
}

func TestRunStatus(t *testing.T) {
	loaded := report.DatasetOutcome{Outcome: report.OutcomeLoaded}
	failed := report.DatasetOutcome{Outcome: report.OutcomeFailed}
	skipped := report.DatasetOutcome{Outcome: report.OutcomeSkipped}
	cases := []struct {
		name        string
		fatal       error
		outcomes    []report.DatasetOutcome
		interrupted bool
		want        domain.RunStatus
	}{
		{"all loaded", nil, []report.DatasetOutcome{loaded, skipped}, false, domain.RunSuccess},
		{"some failed", nil, []report.DatasetOutcome{loaded, failed}, false, domain.RunPartial},
		{"all failed", nil, []report.DatasetOutcome{failed, skipped}, false, domain.RunFailure},
		{"no data", nil, []report.DatasetOutcome{skipped, skipped}, false, domain.RunFailure},
		{"interrupted", nil, []report.DatasetOutcome{loaded, skipped}, true, domain.RunPartial},
		{"fatal", domain.LoaderBatchError{Err: errors.New("boom")}, []report.DatasetOutcome{loaded}, false, domain.RunFailure},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := runStatus(tc.fatal, tc.outcomes, tc.interrupted); got != tc.want {
				t.Fatalf("got %s want %s", got, tc.want)
			}
		})
	}
}
