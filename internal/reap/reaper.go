// Package reap removes documents that share a natural key, keeping the oldest.
package reap

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"clinicsync/internal/docstore/core"
	"clinicsync/internal/metrics"
	"clinicsync/pkg/domain"
)

// NaturalKey names the fields that identify a logical document within a collection.
type NaturalKey struct {
	Collection string
	Fields     []string
}

// DefaultKeys are the natural keys reaped after every run.
func DefaultKeys() []NaturalKey {
	return []NaturalKey{
		{Collection: domain.CollectionAppointments, Fields: []string{"patientId", "date"}},
		{Collection: domain.CollectionHealthRecords, Fields: []string{"protocolNo"}},
		{Collection: domain.CollectionFinancialRecords, Fields: []string{"protocolNo"}},
		{Collection: domain.CollectionBFVisits, Fields: []string{"patientId", "visitType", "scheduledDate"}},
	}
}

// Result reports the deletions made per collection and the collections that failed.
type Result struct {
	Removed map[string]int
	Errors  []domain.ReaperError
}

// Total is the number of documents removed across collections.
func (r Result) Total() int {
	n := 0
	for _, v := range r.Removed {
		n += v
	}
	return n
}

// Reaper deletes duplicates, at most core.MaxBatch per collection per run.
type Reaper struct {
	store    core.Store
	keys     []NaturalKey
	log      zerolog.Logger
	recorder metrics.Recorder
	timeout  time.Duration
}

// New returns a Reaper over keys (DefaultKeys when empty).
func New(store core.Store, log zerolog.Logger, recorder metrics.Recorder, keys ...NaturalKey) *Reaper {
	if len(keys) == 0 {
		keys = DefaultKeys()
	}
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &Reaper{store: store, keys: keys, log: log, recorder: recorder, timeout: 10 * time.Second}
}

// Run reaps every configured collection. A failing collection is recorded and
// the others still run; only context cancellation stops the sweep.
func (r *Reaper) Run(ctx context.Context) (Result, error) {
	res := Result{Removed: make(map[string]int, len(r.keys))}
	for _, key := range r.keys {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		started := time.Now()
		n, err := r.reapCollection(ctx, key)
		r.recorder.Observe(ctx, "reap."+key.Collection, err == nil, time.Since(started))
		if err != nil {
			rerr := domain.ReaperError{Collection: key.Collection, Err: err}
			res.Errors = append(res.Errors, rerr)
			r.log.Warn().Err(err).Str("collection", key.Collection).Msg("reap failed")
			continue
		}
		res.Removed[key.Collection] = n
		if n > 0 {
			r.log.Info().Str("collection", key.Collection).Int("removed", n).Msg("duplicates removed")
		}
	}
	return res, nil
}

// Duplicates returns the IDs that would be deleted for key, oldest-first order kept.
func Duplicates(docs []core.Document, key NaturalKey) []string {
	seen := make(map[string]struct{}, len(docs))
	var dups []string
	for _, doc := range docs {
		k, ok := KeyOf(doc, key.Fields)
		if !ok {
			continue
		}
		if _, dup := seen[k]; dup {
			dups = append(dups, doc.ID)
			continue
		}
		seen[k] = struct{}{}
	}
	return dups
}

func (r *Reaper) reapCollection(ctx context.Context, key NaturalKey) (int, error) {
	docs, err := r.store.Query(ctx, key.Collection, core.Query{OrderBy: core.FieldCreatedAt})
	if err != nil {
		return 0, fmt.Errorf("scan: %w", err)
	}
	dups := Duplicates(docs, key)
	if len(dups) == 0 {
		return 0, nil
	}
	if len(dups) > core.MaxBatch {
		r.log.Info().Str("collection", key.Collection).Int("remaining", len(dups)-core.MaxBatch).Msg("duplicate cap reached")
		dups = dups[:core.MaxBatch]
	}
	ops := make([]core.Op, len(dups))
	for i, id := range dups {
		ops[i] = core.Op{Kind: core.OpDelete, Collection: key.Collection, ID: id}
	}
	commitCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	results, err := r.store.Commit(commitCtx, ops)
	if err != nil {
		return 0, fmt.Errorf("delete: %w", err)
	}
	removed := 0
	for _, res := range results {
		if res.Deleted {
			removed++
		}
	}
	return removed, nil
}

// KeyOf joins the values of fields in doc; ok is false when any of them is missing or blank.
func KeyOf(doc core.Document, fields []string) (string, bool) {
	parts := make([]string, len(fields))
	for i, f := range fields {
		v, ok := doc.Data[f]
		if !ok || v == nil {
			return "", false
		}
		s := strings.TrimSpace(fmt.Sprint(v))
		if s == "" {
			return "", false
		}
		parts[i] = s
	}
	return strings.Join(parts, "\x1f"), true
}
