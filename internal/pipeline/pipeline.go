// Package pipeline runs one sync: extract, detect changes, parse, normalize,
// resolve, load, derive, reap and report, under the single-run lock.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"clinicsync/internal/change"
	"clinicsync/internal/derive"
	"clinicsync/internal/events"
	"clinicsync/internal/extract"
	"clinicsync/internal/load"
	"clinicsync/internal/reap"
	"clinicsync/internal/report"
	"clinicsync/internal/syncstate"
	"clinicsync/internal/tabular"
	"clinicsync/pkg/domain"
)

// Options tune one run.
type Options struct {
	// Force reloads every dataset regardless of its recorded hash.
	Force bool
	Scope Scope
	// KeepCount prunes revisions beyond the newest n per dataset; 0 keeps all.
	KeepCount int
	// SoftCap stops starting new datasets once the run is older than it.
	SoftCap      time.Duration
	BatchTimeout time.Duration
	// SkipExtract processes the revisions already stored.
	SkipExtract bool
}

// Result summarizes a finished run.
type Result struct {
	RunID      string
	Status     domain.RunStatus
	Statistics domain.Statistics
	Datasets   []report.DatasetOutcome
	Errors     []string
	Report     report.Paths
	StartedAt  time.Time
	FinishedAt time.Time
}

// ExitCode maps the run status to the process exit code.
func (r Result) ExitCode() int { return r.Status.ExitCode() }

// Pipeline executes runs against a set of clients.
type Pipeline struct {
	c      *Clients
	log    zerolog.Logger
	parser *tabular.Parser
	engine *derive.Engine
}

// New returns a Pipeline using c.
func New(c *Clients, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		c:      c,
		log:    log.With().Str("component", "pipeline").Logger(),
		parser: tabular.New(log),
		engine: derive.Default(c.Schedule),
	}
}

// NewRunID formats YYYYMMDD_HHMMSS_<8 hex>.
func NewRunID(t time.Time) string {
	return t.UTC().Format("20060102_150405") + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// Run executes one sync. It returns domain.ErrAlreadyRunning without touching any
// state when another run holds the lock. Otherwise the outcome is reported through
// Result.Status and the error is reserved for bookkeeping failures.
func (p *Pipeline) Run(ctx context.Context, opts Options) (Result, error) {
	if err := syncstate.Acquire(ctx, p.c.Lock); err != nil {
		return Result{}, err
	}
	defer func() {
		if err := p.c.Lock.Unlock(context.WithoutCancel(ctx)); err != nil {
			p.log.Warn().Err(err).Msg("release run lock")
		}
	}()

	started := p.c.Clock.Now()
	res := Result{RunID: NewRunID(started), StartedAt: started}
	log := p.log.With().Str("run_id", res.RunID).Logger()
	log.Info().Bool("force", opts.Force).Str("scope", string(opts.Scope)).Msg("sync started")

	status, err := p.c.Status.Load()
	if err != nil {
		return Result{}, err
	}

	// Datasets are processed to completion once started.
	work := context.WithoutCancel(ctx)

	var fatal error
	extractFailures := map[domain.Dataset]error{}
	if !opts.SkipExtract && len(p.c.Extractors) > 0 {
		extracted := extract.NewRunner(log, p.c.Metrics).Run(ctx, p.c.Extractors, opts.Scope.Includes)
		fatal = extracted.Fatal
		extractFailures = extracted.Failed()
	}

	loadOpts := []load.Option{load.WithRecorder(p.c.Metrics)}
	if opts.BatchTimeout > 0 {
		loadOpts = append(loadOpts, load.WithBatchTimeout(opts.BatchTimeout))
	}
	loader := load.New(p.c.Store, log, loadOpts...)
	r := newRun(res.RunID, p.c.Store, loader, p.c.Schedule, log)
	if fatal != nil {
		r.addError(fatal.Error())
	} else if err := r.resolver.Load(work); err != nil {
		fatal = err
		r.addError(err.Error())
	}

	det := change.New(p.c.Revisions, &status, opts.Force)
	interrupted := false
	for _, ds := range opts.Scope.Datasets() {
		switch {
		case fatal != nil:
			res.Datasets = append(res.Datasets, report.DatasetOutcome{Dataset: ds, Outcome: report.OutcomeSkipped})
			continue
		case ctx.Err() != nil || p.overCap(started, opts.SoftCap):
			if !interrupted {
				log.Warn().Str("dataset", string(ds)).Msg("run interrupted; remaining datasets left for the next run")
			}
			interrupted = true
			res.Datasets = append(res.Datasets, report.DatasetOutcome{Dataset: ds, Outcome: report.OutcomeSkipped})
			continue
		}
		if err, failed := extractFailures[ds]; failed {
			r.addError(err.Error())
			res.Datasets = append(res.Datasets, report.DatasetOutcome{Dataset: ds, Outcome: report.OutcomeFailed})
			p.c.Metrics.Dataset(string(ds), report.OutcomeFailed)
			continue
		}
		out, err := p.processDataset(work, r, det, ds)
		if err != nil {
			log.Error().Err(err).Str("dataset", string(ds)).Msg("dataset failed")
			r.addError(fmt.Sprintf("%s: %v", ds, err))
			if domain.IsFatal(err) {
				fatal = err
			}
		}
		res.Datasets = append(res.Datasets, out)
		p.c.Metrics.Dataset(string(ds), out.Outcome)
	}

	if fatal == nil {
		now := p.c.Clock.Now()
		ids := r.touchedPatients()
		if opts.Scope.RederivesAll() {
			ids = ids[:0]
			for _, pk := range r.resolver.Patients() {
				ids = append(ids, pk.ID)
			}
		} else if aged, err := r.agedPatients(work, now); err != nil {
			log.Warn().Err(err).Msg("aged patients not rederived")
		} else {
			ids = mergeIDs(ids, aged)
		}
		if err := r.derivePatients(work, p.engine, ids, now); err != nil {
			r.addError("derive: " + err.Error())
			if domain.IsFatal(err) {
				fatal = err
			}
		} else {
			det.CommitStaged()
		}
	}
	if n := det.Staged(); n > 0 {
		log.Warn().Int("datasets", n).Msg("dataset hashes not advanced; derived artifacts are incomplete")
	}

	if fatal == nil {
		reaped, err := reap.New(p.c.Store, log, p.c.Metrics, reap.DefaultKeys()...).Run(work)
		if err != nil {
			r.addError("reap: " + err.Error())
		}
		for _, e := range reaped.Errors {
			r.addError(e.Error())
		}
		for coll, n := range reaped.Removed {
			p.c.Metrics.Duplicates(coll, n)
		}
		res.Statistics.DuplicatesRemoved = reaped.Total()
	}

	fillStatistics(&res.Statistics, loader)
	for _, coll := range loader.Collections() {
		c := loader.Counts(coll)
		p.c.Metrics.Documents(coll, c.Created, c.Updated)
	}
	res.Status = runStatus(fatal, res.Datasets, interrupted)
	res.FinishedAt = p.c.Clock.Now()
	res.Errors = r.reportErrors()

	res.Report, err = report.Write(p.c.Layout.LogsDir, report.Report{
		Timestamp:  res.FinishedAt,
		RunID:      res.RunID,
		Status:     res.Status,
		Statistics: res.Statistics,
		Errors:     res.Errors,
		Datasets:   res.Datasets,
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
	})
	if err != nil {
		log.Error().Err(err).Msg("write sync report")
	}

	status.RecordRun(domain.RunSummary{
		RunID:      res.RunID,
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
		Status:     res.Status,
		Statistics: res.Statistics,
		ErrorCount: r.errorCount(),
	})
	if err := p.c.Status.Save(status); err != nil {
		return res, fmt.Errorf("save sync status: %w", err)
	}

	p.c.Metrics.Run(string(res.Status), res.StartedAt, res.FinishedAt)
	if path := p.c.Layout.MetricsPath; path != "" {
		if err := p.c.Metrics.WriteTextfile(path); err != nil {
			log.Warn().Err(err).Msg("write metrics textfile")
		}
	}
	if err := p.c.Events.Publish(work, completedEvent(res, r.errorCount())); err != nil {
		log.Warn().Err(err).Msg("publish run event")
	}
	if opts.KeepCount > 0 {
		p.prune(work, log, opts)
	}

	log.Info().
		Str("status", string(res.Status)).
		Int("errors", r.errorCount()).
		Int("duplicates_removed", res.Statistics.DuplicatesRemoved).
		Dur("elapsed", res.FinishedAt.Sub(res.StartedAt)).
		Msg("sync finished")
	return res, nil
}

func (p *Pipeline) overCap(started time.Time, limit time.Duration) bool {
	return limit > 0 && p.c.Clock.Now().Sub(started) >= limit
}

// processDataset loads one dataset when its revision changed. The hash is staged
// once every document of the dataset was written and committed by Run after derivation.
func (p *Pipeline) processDataset(ctx context.Context, r *run, det *change.Detector, ds domain.Dataset) (report.DatasetOutcome, error) {
	started := time.Now()
	out := report.DatasetOutcome{Dataset: ds, Outcome: report.OutcomeFailed}

	dec, err := det.Check(ctx, ds)
	if err != nil {
		return out, err
	}
	out.Hash = dec.Hash
	if !dec.Changed {
		out.Outcome = report.OutcomeUnchanged
		if dec.Reason == change.ReasonMissing {
			out.Outcome = report.OutcomeSkipped
		}
		r.log.Debug().Str("dataset", string(ds)).Str("reason", string(dec.Reason)).Msg("dataset not loaded")
		return out, nil
	}

	data, err := p.c.Revisions.Latest(ctx, ds)
	if err != nil {
		return out, err
	}
	schema, err := tabular.SchemaFor(ds)
	if err != nil {
		return out, err
	}
	parsed, err := p.parser.Parse(data, schema, tabular.Options{RevisionHash: dec.Hash})
	if err != nil {
		return out, err
	}
	out.Rows, out.Dropped = len(parsed.Records), parsed.Dropped
	p.c.Metrics.Rows(string(ds), len(parsed.Records), parsed.Dropped)

	h, ok := handlers[ds]
	if !ok {
		return out, fmt.Errorf("no handler for %s", ds)
	}
	if err := h(ctx, r, parsed.Records); err != nil {
		return out, err
	}
	if err := r.loader.Flush(ctx); err != nil {
		return out, err
	}
	det.Stage(ds, dec.Hash, len(parsed.Records), r.id, p.c.Clock.Now())
	out.Outcome = report.OutcomeLoaded
	out.Duration = time.Since(started).Round(time.Millisecond).String()
	r.log.Info().
		Str("dataset", string(ds)).
		Str("reason", string(dec.Reason)).
		Str("encoding", parsed.Encoding).
		Int("rows", out.Rows).
		Int("dropped", out.Dropped).
		Msg("dataset loaded")
	return out, nil
}

func fillStatistics(s *domain.Statistics, l *load.Loader) {
	s.Users = l.Counts(domain.CollectionUsers).Written()
	s.HealthRecords = l.Counts(domain.CollectionHealthRecords).Written()
	s.FinancialRecords = l.Counts(domain.CollectionFinancialRecords).Written()
	s.Appointments = l.Counts(domain.CollectionAppointments).Written()
	s.GrowthTracking = l.Counts(domain.CollectionGrowthTracking).Written()
	s.BFVisits = l.Counts(domain.CollectionBFVisits).Written()
	s.BFVaccinations = l.Counts(domain.CollectionBFVaccinations).Written()
	s.BFScreenings = l.Counts(domain.CollectionBFScreenings).Written()
	s.BFMilestones = l.Counts(domain.CollectionBFMilestones).Written()
}

// runStatus is failure when the run stopped on a fatal error or no dataset has
// data, partial when some dataset failed or the run was cut short.
func runStatus(fatal error, outcomes []report.DatasetOutcome, interrupted bool) domain.RunStatus {
	if fatal != nil {
		return domain.RunFailure
	}
	current, failed := 0, 0
	for _, o := range outcomes {
		switch o.Outcome {
		case report.OutcomeLoaded, report.OutcomeUnchanged:
			current++
		case report.OutcomeFailed:
			failed++
		}
	}
	switch {
	case failed > 0 && current == 0:
		return domain.RunFailure
	case current == 0 && !interrupted:
		return domain.RunFailure
	case failed > 0 || interrupted:
		return domain.RunPartial
	default:
		return domain.RunSuccess
	}
}

func completedEvent(res Result, errorCount int) events.RunCompleted {
	ev := events.RunCompleted{
		RunID:      res.RunID,
		Status:     res.Status,
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
		Statistics: res.Statistics,
		Datasets:   make(map[domain.Dataset]string, len(res.Datasets)),
		ErrorCount: errorCount,
	}
	for _, o := range res.Datasets {
		ev.Datasets[o.Dataset] = o.Outcome
	}
	return ev
}

func (p *Pipeline) prune(ctx context.Context, log zerolog.Logger, opts Options) {
	for _, ds := range opts.Scope.Datasets() {
		n, err := p.c.Revisions.Prune(ctx, ds, opts.KeepCount)
		if err != nil {
			log.Warn().Err(err).Str("dataset", string(ds)).Msg("prune revisions")
			continue
		}
		if n > 0 {
			log.Debug().Str("dataset", string(ds)).Int("removed", n).Msg("revisions pruned")
		}
	}
}

// ClearCache forgets every dataset hash so the next run reloads all revisions.
func (p *Pipeline) ClearCache(ctx context.Context) error {
	if err := syncstate.Acquire(ctx, p.c.Lock); err != nil {
		return err
	}
	defer func() {
		if err := p.c.Lock.Unlock(context.WithoutCancel(ctx)); err != nil {
			p.log.Warn().Err(err).Msg("release run lock")
		}
	}()
	status, err := p.c.Status.Load()
	if err != nil {
		return err
	}
	status.ClearHashes()
	if err := p.c.Status.Save(status); err != nil {
		return fmt.Errorf("save sync status: %w", err)
	}
	p.log.Info().Str("path", p.c.Status.Path()).Msg("dataset hashes cleared")
	return nil
}

// Status returns the persisted sync status.
func (p *Pipeline) Status() (domain.SyncStatus, error) {
	return p.c.Status.Load()
}

// IsAlreadyRunning reports whether err means another run holds the lock.
func IsAlreadyRunning(err error) bool { return errors.Is(err, domain.ErrAlreadyRunning) }
