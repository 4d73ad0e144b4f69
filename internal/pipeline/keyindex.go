package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"clinicsync/internal/docstore/core"
	"clinicsync/internal/reap"
)

// keyIndex maps the natural key of documents in a collection whose IDs the store
// assigns onto those IDs, so a changed export updates its documents in place.
// The oldest document wins, matching what the reaper keeps.
type keyIndex struct {
	store  core.Store
	key    reap.NaturalKey
	ids    map[string]string
	loaded bool
	newID  func() string
}

func newKeyIndex(store core.Store, key reap.NaturalKey) *keyIndex {
	return &keyIndex{store: store, key: key, newID: uuid.NewString}
}

func (x *keyIndex) load(ctx context.Context) error {
	if x.loaded {
		return nil
	}
	docs, err := x.store.Query(ctx, x.key.Collection, core.Query{OrderBy: core.FieldCreatedAt})
	if err != nil {
		return fmt.Errorf("index %s: %w", x.key.Collection, err)
	}
	x.ids = make(map[string]string, len(docs))
	for _, doc := range docs {
		k, ok := reap.KeyOf(doc, x.key.Fields)
		if !ok {
			continue
		}
		if _, seen := x.ids[k]; !seen {
			x.ids[k] = doc.ID
		}
	}
	x.loaded = true
	return nil
}

// ID returns the document ID for the natural key values, minting and remembering
// a new one the first time a key is seen. ok is false when a value is blank.
func (x *keyIndex) ID(ctx context.Context, values ...string) (string, bool, error) {
	if len(values) != len(x.key.Fields) {
		return "", false, fmt.Errorf("index %s: want %d key values, got %d", x.key.Collection, len(x.key.Fields), len(values))
	}
	doc := core.Document{Data: make(map[string]any, len(values))}
	for i, v := range values {
		doc.Data[x.key.Fields[i]] = strings.TrimSpace(v)
	}
	k, ok := reap.KeyOf(doc, x.key.Fields)
	if !ok {
		return "", false, nil
	}
	if err := x.load(ctx); err != nil {
		return "", false, err
	}
	if id, found := x.ids[k]; found {
		return id, true, nil
	}
	id := x.newID()
	x.ids[k] = id
	return id, true, nil
}
