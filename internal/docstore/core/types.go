// Package core defines the target document-store contract the loader, reaper
// and resolver depend on.
package core

import (
	"context"
	"errors"
	"time"
)

// Driver identifies a concrete document store backend.
type Driver string

const (
	// DriverMemory keeps documents in process memory (tests, dry runs).
	DriverMemory Driver = "memory"
	// DriverSQLite stores documents in a local SQLite file.
	DriverSQLite Driver = "sqlite"
	// DriverPostgres stores documents in a Postgres JSONB table.
	DriverPostgres Driver = "postgres"
	// DriverFirestore writes to Cloud Firestore, the production target.
	DriverFirestore Driver = "firestore"
)

// MaxBatch is the largest number of operations one Commit accepts.
const MaxBatch = 500

// Reserved field names stamped by the store on every write.
const (
	FieldCreatedAt = "createdAt"
	FieldUpdatedAt = "updatedAt"
	FieldID        = "id"
)

// Filter operators.
const (
	OpEqual = "=="
	OpIn    = "in"
)

// Filter is one where clause.
type Filter struct {
	Field string
	Op    string
	Value any
}

// Query selects documents from one collection. Results are ordered by OrderBy
// (ties broken by document ID) and truncated to Limit when it is positive.
type Query struct {
	Where   []Filter
	OrderBy string
	Desc    bool
	Limit   int
}

// Where is a convenience constructor for an equality query.
func Where(field string, value any) Query {
	return Query{Where: []Filter{{Field: field, Op: OpEqual, Value: value}}}
}

// Document is a stored document. Data never contains the reserved timestamp fields;
// they are surfaced as CreatedAt and UpdatedAt.
type Document struct {
	ID        string
	Data      map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// OpKind distinguishes writes from deletes.
type OpKind string

// Operation kinds.
const (
	OpSet    OpKind = "set"
	OpDelete OpKind = "delete"
)

// Op is one write in a batch. An empty ID on a set asks the store to assign one.
// Merge keeps fields of an existing document that Data does not mention; Union lists
// array fields whose values are added to the stored array instead of replacing it.
type Op struct {
	Kind       OpKind
	Collection string
	ID         string
	Data       map[string]any
	Merge      bool
	Union      map[string][]any
}

// OpResult reports what a committed op did.
type OpResult struct {
	ID      string
	Created bool
	Deleted bool
}

// Store is the target store contract.
type Store interface {
	Get(ctx context.Context, collection, id string) (Document, error)
	Query(ctx context.Context, collection string, q Query) ([]Document, error)
	// Commit applies ops atomically and in order. At most MaxBatch ops are accepted.
	Commit(ctx context.Context, ops []Op) ([]OpResult, error)
	Driver() Driver
	Close() error
}

var (
	// ErrNotFound is returned by Get for missing documents.
	ErrNotFound = errors.New("docstore: not found")
	// ErrBatchTooLarge is returned by Commit for more than MaxBatch ops.
	ErrBatchTooLarge = errors.New("docstore: batch exceeds 500 operations")
)
