// Package load writes canonical documents to the target store in ordered,
// bounded batches.
package load

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"clinicsync/internal/docstore/core"
	"clinicsync/internal/metrics"
	"clinicsync/pkg/domain"
)

// DefaultBatchTimeout bounds a single batch commit.
const DefaultBatchTimeout = 10 * time.Second

// Counts tallies committed writes for one collection.
type Counts struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Deleted int `json:"deleted"`
}

// Written is the number of documents created or updated.
func (c Counts) Written() int { return c.Created + c.Updated }

// Option configures a Loader.
type Option func(*Loader)

// WithBatchTimeout overrides DefaultBatchTimeout.
func WithBatchTimeout(d time.Duration) Option {
	return func(l *Loader) {
		if d > 0 {
			l.timeout = d
		}
	}
}

// WithRecorder reports each batch commit as the "load.batch" operation.
func WithRecorder(r metrics.Recorder) Option {
	return func(l *Loader) {
		if r != nil {
			l.recorder = r
		}
	}
}

// WithBatchSize lowers the batch size below core.MaxBatch.
func WithBatchSize(n int) Option {
	return func(l *Loader) {
		if n > 0 && n <= core.MaxBatch {
			l.size = n
		}
	}
}

// Loader buffers upserts and commits them in batches. After a failed batch
// every further call returns the same LoaderBatchError and nothing else is committed.
type Loader struct {
	store    core.Store
	log      zerolog.Logger
	recorder metrics.Recorder
	timeout  time.Duration
	size     int

	pending []core.Op
	batches []int
	counts  map[string]Counts
	failed  error
}

// New returns a Loader writing to store.
func New(store core.Store, log zerolog.Logger, opts ...Option) *Loader {
	l := &Loader{
		store:    store,
		log:      log,
		recorder: metrics.Nop{},
		timeout:  DefaultBatchTimeout,
		size:     core.MaxBatch,
		counts:   make(map[string]Counts),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Upsert queues doc for collection/id. An empty id asks the store to assign one.
// A full batch is committed before Upsert returns.
func (l *Loader) Upsert(ctx context.Context, collection, id string, doc any, merge bool) error {
	data, err := core.Encode(doc)
	if err != nil {
		return fmt.Errorf("upsert %s/%s: %w", collection, id, err)
	}
	return l.enqueue(ctx, core.Op{Kind: core.OpSet, Collection: collection, ID: id, Data: data, Merge: merge})
}

// UpsertCaregiver merges a caregiver user document; children are unioned with
// the stored list and isMultiChild reflects the caregiver after the merge.
func (l *Loader) UpsertCaregiver(ctx context.Context, c domain.Caregiver) error {
	if c.ID == "" {
		return fmt.Errorf("upsert caregiver: %w", domain.ValidationError{Field: "id", Message: "caregiver id is required"})
	}
	data, err := core.Encode(c)
	if err != nil {
		return fmt.Errorf("upsert caregiver %s: %w", c.ID, err)
	}
	children := make([]any, 0, len(c.Children))
	for _, child := range c.Children {
		children = append(children, child)
	}
	delete(data, "children")
	return l.enqueue(ctx, core.Op{
		Kind:       core.OpSet,
		Collection: domain.CollectionUsers,
		ID:         c.ID,
		Data:       data,
		Merge:      true,
		Union:      map[string][]any{"children": children},
	})
}

// Delete queues a delete.
func (l *Loader) Delete(ctx context.Context, collection, id string) error {
	return l.enqueue(ctx, core.Op{Kind: core.OpDelete, Collection: collection, ID: id})
}

func (l *Loader) enqueue(ctx context.Context, op core.Op) error {
	if l.failed != nil {
		return l.failed
	}
	l.pending = append(l.pending, op)
	if len(l.pending) >= l.size {
		return l.Flush(ctx)
	}
	return nil
}

// Flush commits whatever is pending.
func (l *Loader) Flush(ctx context.Context) error {
	if l.failed != nil {
		return l.failed
	}
	if len(l.pending) == 0 {
		return nil
	}
	ops := l.pending
	l.pending = nil
	batch := len(l.batches) + 1

	commitCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	started := time.Now()
	results, err := l.store.Commit(commitCtx, ops)
	l.recorder.Observe(ctx, "load.batch", err == nil, time.Since(started))
	if err != nil {
		l.failed = domain.LoaderBatchError{Batch: batch, Size: len(ops), Err: err}
		l.log.Error().Err(err).Int("batch", batch).Int("size", len(ops)).Msg("batch commit failed")
		return l.failed
	}
	l.batches = append(l.batches, len(ops))
	for i, res := range results {
		c := l.counts[ops[i].Collection]
		switch {
		case ops[i].Kind == core.OpDelete:
			if res.Deleted {
				c.Deleted++
			}
		case res.Created:
			c.Created++
		default:
			c.Updated++
		}
		l.counts[ops[i].Collection] = c
	}
	l.log.Debug().Int("batch", batch).Int("size", len(ops)).Msg("batch committed")
	return nil
}

// Pending is the number of queued, uncommitted ops.
func (l *Loader) Pending() int { return len(l.pending) }

// Batches returns the sizes of committed batches in commit order.
func (l *Loader) Batches() []int { return append([]int(nil), l.batches...) }

// Err returns the batch failure that stopped the loader, if any.
func (l *Loader) Err() error { return l.failed }

// Counts returns committed write counts for collection.
func (l *Loader) Counts(collection string) Counts { return l.counts[collection] }

// Collections lists every collection written so far, sorted.
func (l *Loader) Collections() []string {
	out := make([]string, 0, len(l.counts))
	for name := range l.counts {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Total sums the counts of all collections.
func (l *Loader) Total() Counts {
	var total Counts
	for _, c := range l.counts {
		total.Created += c.Created
		total.Updated += c.Updated
		total.Deleted += c.Deleted
	}
	return total
}
