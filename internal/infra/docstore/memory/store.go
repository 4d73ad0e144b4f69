// Package memory provides an in-process document store used by tests and dry runs.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"clinicsync/internal/clock"
	"clinicsync/internal/docstore/core"
)

type record struct {
	data    map[string]any
	created string
	updated string
}

// Store keeps collections in maps guarded by a single mutex.
type Store struct {
	mu          sync.RWMutex
	clock       clock.Clock
	collections map[string]map[string]record
	commits     int
}

// New returns an empty store stamping documents with clk (system time when nil).
func New(clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.System{}
	}
	return &Store{clock: clk, collections: make(map[string]map[string]record)}
}

// Driver implements core.Store.
func (s *Store) Driver() core.Driver { return core.DriverMemory }

// Close implements core.Store.
func (s *Store) Close() error { return nil }

// Commits reports how many batches have been committed.
func (s *Store) Commits() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.commits
}

// Count returns the number of documents in a collection.
func (s *Store) Count(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.collections[collection])
}

// Get implements core.Store.
func (s *Store) Get(ctx context.Context, collection, id string) (core.Document, error) {
	if err := ctx.Err(); err != nil {
		return core.Document{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.collections[collection][id]
	if !ok {
		return core.Document{}, fmt.Errorf("%s/%s: %w", collection, id, core.ErrNotFound)
	}
	return toDocument(id, rec)
}

// Query implements core.Store.
func (s *Store) Query(ctx context.Context, collection string, q core.Query) ([]core.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	docs := make([]core.Document, 0, len(s.collections[collection]))
	for id, rec := range s.collections[collection] {
		doc, err := toDocument(id, rec)
		if err != nil {
			s.mu.RUnlock()
			return nil, err
		}
		docs = append(docs, doc)
	}
	s.mu.RUnlock()
	return core.Select(docs, q), nil
}

// Commit implements core.Store. All ops are computed before any is applied.
func (s *Store) Commit(ctx context.Context, ops []core.Op) ([]core.OpResult, error) {
	if len(ops) > core.MaxBatch {
		return nil, core.ErrBatchTooLarge
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := core.FormatTime(s.clock.Now())
	staged := make(map[string]map[string]*record)
	lookup := func(collection, id string) (*record, bool) {
		if byID, ok := staged[collection]; ok {
			if rec, ok := byID[id]; ok {
				return rec, rec != nil
			}
		}
		rec, ok := s.collections[collection][id]
		if !ok {
			return nil, false
		}
		return &rec, true
	}
	stage := func(collection, id string, rec *record) {
		if staged[collection] == nil {
			staged[collection] = make(map[string]*record)
		}
		staged[collection][id] = rec
	}

	results := make([]core.OpResult, len(ops))
	for i, op := range ops {
		if op.Collection == "" {
			return nil, fmt.Errorf("op %d: collection is required", i)
		}
		switch op.Kind {
		case core.OpDelete:
			if op.ID == "" {
				return nil, fmt.Errorf("op %d: delete requires an id", i)
			}
			_, existed := lookup(op.Collection, op.ID)
			stage(op.Collection, op.ID, nil)
			results[i] = core.OpResult{ID: op.ID, Deleted: existed}
		case core.OpSet, "":
			id := op.ID
			if id == "" {
				id = uuid.NewString()
			}
			prev, existed := lookup(op.Collection, id)
			var existing map[string]any
			created := now
			if existed {
				existing = prev.data
				created = prev.created
			}
			data, err := core.Apply(existing, op)
			if err != nil {
				return nil, fmt.Errorf("op %d: %w", i, err)
			}
			stage(op.Collection, id, &record{data: data, created: created, updated: now})
			results[i] = core.OpResult{ID: id, Created: !existed}
		default:
			return nil, fmt.Errorf("op %d: unknown kind %q", i, op.Kind)
		}
	}

	for collection, byID := range staged {
		if s.collections[collection] == nil {
			s.collections[collection] = make(map[string]record)
		}
		for id, rec := range byID {
			if rec == nil {
				delete(s.collections[collection], id)
				continue
			}
			s.collections[collection][id] = *rec
		}
	}
	s.commits++
	return results, nil
}

func toDocument(id string, rec record) (core.Document, error) {
	data, err := core.Normalize(rec.data)
	if err != nil {
		return core.Document{}, err
	}
	created, err := core.ParseTime(rec.created)
	if err != nil {
		return core.Document{}, err
	}
	updated, err := core.ParseTime(rec.updated)
	if err != nil {
		return core.Document{}, err
	}
	return core.Document{ID: id, Data: data, CreatedAt: created, UpdatedAt: updated}, nil
}
