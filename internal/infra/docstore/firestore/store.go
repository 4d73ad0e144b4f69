// Package firestore writes documents to Cloud Firestore, the clinic's production store.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/api/option"

	"clinicsync/internal/docstore/core"
)

// maxInValues is the largest "in" filter Firestore accepts; larger lists are matched client side.
const maxInValues = 30

// Config selects the project and credentials.
type Config struct {
	ProjectID       string
	CredentialsJSON []byte
}

// Store adapts a Firestore client to core.Store.
type Store struct {
	client *firestore.Client
}

// New connects to Firestore. Application default credentials are used when
// CredentialsJSON is empty.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("firestore: project id is required")
	}
	var opts []option.ClientOption
	if len(cfg.CredentialsJSON) > 0 {
		opts = append(opts, option.WithCredentialsJSON(cfg.CredentialsJSON))
	}
	client, err := firestore.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("firestore client: %w", err)
	}
	return &Store{client: client}, nil
}

// Driver implements core.Store.
func (s *Store) Driver() core.Driver { return core.DriverFirestore }

// Close implements core.Store.
func (s *Store) Close() error { return s.client.Close() }

// Get implements core.Store.
func (s *Store) Get(ctx context.Context, collection, id string) (core.Document, error) {
	snap, err := s.client.Collection(collection).Doc(id).Get(ctx)
	if snap != nil && !snap.Exists() {
		return core.Document{}, fmt.Errorf("%s/%s: %w", collection, id, core.ErrNotFound)
	}
	if err != nil {
		return core.Document{}, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	return fromSnapshot(snap.Ref.ID, snap.Data(), snap.CreateTime, snap.UpdateTime)
}

// Query implements core.Store. Supported filters run server side; the rest, and the
// final ordering, are applied client side so results match the other drivers.
func (s *Store) Query(ctx context.Context, collection string, q core.Query) ([]core.Document, error) {
	server, _ := plan(q.Where)
	query := s.client.Collection(collection).Query
	for _, f := range server {
		query = query.Where(f.Field, f.Op, f.Value)
	}
	snaps, err := query.Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	docs := make([]core.Document, 0, len(snaps))
	for _, snap := range snaps {
		doc, err := fromSnapshot(snap.Ref.ID, snap.Data(), snap.CreateTime, snap.UpdateTime)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return core.Select(docs, q), nil
}

// plan splits filters into those Firestore can evaluate and those it cannot.
func plan(filters []core.Filter) (server, client []core.Filter) {
	for _, f := range filters {
		if f.Field == core.FieldID || f.Field == core.FieldCreatedAt || f.Field == core.FieldUpdatedAt {
			client = append(client, f)
			continue
		}
		switch f.Op {
		case core.OpEqual, "":
			server = append(server, core.Filter{Field: f.Field, Op: core.OpEqual, Value: f.Value})
		case core.OpIn:
			list, ok := core.NormalizeValue(f.Value).([]any)
			if !ok || len(list) == 0 || len(list) > maxInValues {
				client = append(client, f)
				continue
			}
			server = append(server, core.Filter{Field: f.Field, Op: core.OpIn, Value: list})
		default:
			client = append(client, f)
		}
	}
	return server, client
}

// Commit implements core.Store inside one Firestore transaction. All reads happen
// before the first write as Firestore requires.
func (s *Store) Commit(ctx context.Context, ops []core.Op) ([]core.OpResult, error) {
	if len(ops) > core.MaxBatch {
		return nil, core.ErrBatchTooLarge
	}
	refs := make([]*firestore.DocumentRef, len(ops))
	for i, op := range ops {
		if op.Collection == "" {
			return nil, fmt.Errorf("op %d: collection is required", i)
		}
		id := op.ID
		if id == "" {
			if op.Kind == core.OpDelete {
				return nil, fmt.Errorf("op %d: delete requires an id", i)
			}
			id = uuid.NewString()
		}
		refs[i] = s.client.Collection(op.Collection).Doc(id)
	}

	var results []core.OpResult
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		results = make([]core.OpResult, len(ops))
		unique := make([]*firestore.DocumentRef, 0, len(refs))
		seen := make(map[string]bool, len(refs))
		for _, ref := range refs {
			if !seen[ref.Path] {
				seen[ref.Path] = true
				unique = append(unique, ref)
			}
		}
		read, err := tx.GetAll(unique)
		if err != nil {
			return fmt.Errorf("read batch: %w", err)
		}
		// Later ops see the effect of earlier ops on the same document.
		exists := make(map[string]bool, len(read))
		snaps := make(map[string]*firestore.DocumentSnapshot, len(read))
		for i, snap := range read {
			exists[unique[i].Path] = snap.Exists()
			snaps[unique[i].Path] = snap
		}
		for i, op := range ops {
			ref := refs[i]
			existed := exists[ref.Path]
			if op.Kind == core.OpDelete {
				if err := tx.Delete(ref); err != nil {
					return err
				}
				exists[ref.Path] = false
				results[i] = core.OpResult{ID: ref.ID, Deleted: existed}
				continue
			}
			data, err := writeData(op, existed, snaps[ref.Path])
			if err != nil {
				return fmt.Errorf("op %d: %w", i, err)
			}
			if op.Merge {
				err = tx.Set(ref, data, firestore.MergeAll)
			} else {
				err = tx.Set(ref, data)
			}
			if err != nil {
				return err
			}
			exists[ref.Path] = true
			results[i] = core.OpResult{ID: ref.ID, Created: !existed}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("commit batch: %w", err)
	}
	return results, nil
}

func writeData(op core.Op, existed bool, snap *firestore.DocumentSnapshot) (map[string]any, error) {
	data, err := core.Normalize(op.Data)
	if err != nil {
		return nil, err
	}
	for field, values := range op.Union {
		normalized := make([]any, len(values))
		for i, v := range values {
			normalized[i] = core.NormalizeValue(v)
		}
		data[field] = firestore.ArrayUnion(normalized...)
	}
	data[core.FieldUpdatedAt] = firestore.ServerTimestamp
	switch {
	case !existed:
		data[core.FieldCreatedAt] = firestore.ServerTimestamp
	case !op.Merge:
		data[core.FieldCreatedAt] = firestore.ServerTimestamp
		if snap != nil && snap.Exists() {
			if created, ok := snap.Data()[core.FieldCreatedAt]; ok {
				data[core.FieldCreatedAt] = created
			} else {
				data[core.FieldCreatedAt] = snap.CreateTime
			}
		}
	}
	return data, nil
}

func fromSnapshot(id string, raw map[string]any, created, updated time.Time) (core.Document, error) {
	if t, ok := raw[core.FieldCreatedAt].(time.Time); ok {
		created = t
	}
	if t, ok := raw[core.FieldUpdatedAt].(time.Time); ok {
		updated = t
	}
	data, err := core.Normalize(raw)
	if err != nil {
		return core.Document{}, fmt.Errorf("document %s: %w", id, err)
	}
	return core.Document{ID: id, Data: data, CreatedAt: created.UTC(), UpdatedAt: updated.UTC()}, nil
}
