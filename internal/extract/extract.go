// Package extract pulls dataset exports from the external sources into the
// revision store.
package extract

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"clinicsync/internal/metrics"
	"clinicsync/internal/revision"
	"clinicsync/pkg/domain"
)

// Extractor fetches datasets from one source. Open establishes whatever session the
// source needs; Fetch is called once per dataset between Open and Close.
type Extractor interface {
	Source() domain.Source
	Datasets() []domain.Dataset
	Open(ctx context.Context) error
	Fetch(ctx context.Context, ds domain.Dataset) (revision.Revision, error)
	Close() error
}

// Sink stores fetched bytes as a new dataset revision.
type Sink interface {
	Put(ctx context.Context, ds domain.Dataset, data []byte) (revision.Revision, error)
}

// Outcome is the fetch result of one dataset.
type Outcome struct {
	Dataset  domain.Dataset
	Revision *revision.Revision
	Err      error
}

// Result aggregates a whole extraction pass.
type Result struct {
	Outcomes []Outcome
	// Fatal is set when a source could not authenticate; the run must stop.
	Fatal error
}

// Succeeded lists datasets with a fresh revision.
func (r Result) Succeeded() []domain.Dataset {
	var out []domain.Dataset
	for _, o := range r.Outcomes {
		if o.Err == nil {
			out = append(out, o.Dataset)
		}
	}
	return out
}

// Failed maps failed datasets to their errors.
func (r Result) Failed() map[domain.Dataset]error {
	out := make(map[domain.Dataset]error)
	for _, o := range r.Outcomes {
		if o.Err != nil {
			out[o.Dataset] = o.Err
		}
	}
	return out
}

// ExitCode is 0 when every dataset was fetched, 2 when some were, 1 when none were
// or authentication failed.
func (r Result) ExitCode() int {
	if r.Fatal != nil {
		return 1
	}
	ok := len(r.Succeeded())
	switch {
	case ok == 0:
		return 1
	case ok < len(r.Outcomes):
		return 2
	default:
		return 0
	}
}

// Runner drives extractors in order.
type Runner struct {
	log      zerolog.Logger
	recorder metrics.Recorder
}

// NewRunner returns a Runner. recorder may be nil.
func NewRunner(log zerolog.Logger, recorder metrics.Recorder) *Runner {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &Runner{log: log.With().Str("component", "extract").Logger(), recorder: recorder}
}

// Run fetches every dataset accepted by want (all when nil). Per-dataset failures
// are recorded and the pass continues; an authentication failure stops it.
// Cancellation is honored between datasets.
func (r *Runner) Run(ctx context.Context, extractors []Extractor, want func(domain.Dataset) bool) Result {
	var res Result
	for _, ex := range extractors {
		datasets := selected(ex.Datasets(), want)
		if len(datasets) == 0 {
			continue
		}
		log := r.log.With().Str("source", string(ex.Source())).Logger()
		if err := ex.Open(ctx); err != nil {
			var auth domain.ExtractorAuthError
			if errors.As(err, &auth) {
				log.Error().Err(err).Msg("authentication failed")
				res.Fatal = err
				for _, ds := range datasets {
					res.Outcomes = append(res.Outcomes, Outcome{Dataset: ds, Err: err})
				}
				_ = ex.Close()
				return res
			}
			log.Warn().Err(err).Msg("source unavailable")
			for _, ds := range datasets {
				res.Outcomes = append(res.Outcomes, Outcome{Dataset: ds, Err: datasetError(ds, err)})
			}
			_ = ex.Close()
			continue
		}
		for i, ds := range datasets {
			if err := ctx.Err(); err != nil {
				for _, rest := range datasets[i:] {
					res.Outcomes = append(res.Outcomes, Outcome{Dataset: rest, Err: domain.ExtractorDatasetError{Dataset: rest, Kind: domain.FailureCancelled, Err: err}})
				}
				break
			}
			started := time.Now()
			rev, err := ex.Fetch(ctx, ds)
			r.recorder.Observe(ctx, "extract."+string(ds), err == nil, time.Since(started))
			if err != nil {
				var auth domain.ExtractorAuthError
				if errors.As(err, &auth) {
					res.Fatal = err
					res.Outcomes = append(res.Outcomes, Outcome{Dataset: ds, Err: err})
					_ = ex.Close()
					return res
				}
				log.Warn().Err(err).Str("dataset", string(ds)).Msg("dataset extraction failed")
				res.Outcomes = append(res.Outcomes, Outcome{Dataset: ds, Err: datasetError(ds, err)})
				continue
			}
			log.Info().Str("dataset", string(ds)).Str("revision", rev.ID).Int64("bytes", rev.Size).Msg("dataset extracted")
			res.Outcomes = append(res.Outcomes, Outcome{Dataset: ds, Revision: &rev})
		}
		if err := ex.Close(); err != nil {
			log.Warn().Err(err).Msg("close extractor")
		}
		if ctx.Err() != nil {
			break
		}
	}
	return res
}

func selected(all []domain.Dataset, want func(domain.Dataset) bool) []domain.Dataset {
	if want == nil {
		return all
	}
	var out []domain.Dataset
	for _, ds := range all {
		if want(ds) {
			out = append(out, ds)
		}
	}
	return out
}

func datasetError(ds domain.Dataset, err error) error {
	var dsErr domain.ExtractorDatasetError
	if errors.As(err, &dsErr) {
		return err
	}
	kind := domain.FailureNavigation
	if errors.Is(err, context.Canceled) {
		kind = domain.FailureCancelled
	}
	return domain.ExtractorDatasetError{Dataset: ds, Kind: kind, Err: err}
}
