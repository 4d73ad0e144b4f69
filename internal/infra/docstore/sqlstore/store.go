// Package sqlstore implements the document store on top of database/sql. The sqlite
// and postgres drivers differ only in their Dialect.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"clinicsync/internal/clock"
	"clinicsync/internal/docstore/core"
)

// Dialect captures the SQL differences between engines.
type Dialect struct {
	Driver core.Driver
	// DDL creates the documents table and its indexes.
	DDL []string
	// Placeholder renders the n-th (1-based) bind parameter.
	Placeholder func(n int) string
	// JSONText renders an expression extracting a top-level string field from data.
	JSONText func(field string) string
	// LockSuffix is appended to the read issued before each write inside a commit.
	LockSuffix string
}

var fieldName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Store is a database/sql backed document store.
type Store struct {
	db      *sql.DB
	dialect Dialect
	clock   clock.Clock
}

// New prepares db with the dialect's DDL.
func New(ctx context.Context, db *sql.DB, dialect Dialect, clk clock.Clock) (*Store, error) {
	if clk == nil {
		clk = clock.System{}
	}
	for _, stmt := range dialect.DDL {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("ensure documents table: %w", err)
		}
	}
	return &Store{db: db, dialect: dialect, clock: clk}, nil
}

// DB exposes the underlying handle for tests.
func (s *Store) DB() *sql.DB { return s.db }

// Driver implements core.Store.
func (s *Store) Driver() core.Driver { return s.dialect.Driver }

// Close implements core.Store.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) ph(n int) string { return s.dialect.Placeholder(n) }

// Get implements core.Store.
func (s *Store) Get(ctx context.Context, collection, id string) (core.Document, error) {
	query := fmt.Sprintf(`SELECT id, data, created_at, updated_at FROM documents WHERE collection = %s AND id = %s`, s.ph(1), s.ph(2))
	rows, err := s.db.QueryContext(ctx, query, collection, id)
	if err != nil {
		return core.Document{}, fmt.Errorf("select %s/%s: %w", collection, id, err)
	}
	docs, err := scanDocuments(rows)
	if err != nil {
		return core.Document{}, err
	}
	if len(docs) == 0 {
		return core.Document{}, fmt.Errorf("%s/%s: %w", collection, id, core.ErrNotFound)
	}
	return docs[0], nil
}

// Query implements core.Store. String equality and membership filters are pushed into
// SQL; every filter is re-checked in memory so results match the other drivers.
func (s *Store) Query(ctx context.Context, collection string, q core.Query) ([]core.Document, error) {
	var (
		clauses = []string{"collection = " + s.ph(1)}
		args    = []any{collection}
	)
	for _, f := range q.Where {
		expr, values, ok := s.pushdown(f)
		if !ok {
			continue
		}
		marks := make([]string, len(values))
		for i, v := range values {
			args = append(args, v)
			marks[i] = s.ph(len(args))
		}
		if f.Op == core.OpIn {
			clauses = append(clauses, fmt.Sprintf("%s IN (%s)", expr, strings.Join(marks, ", ")))
		} else {
			clauses = append(clauses, fmt.Sprintf("%s = %s", expr, marks[0]))
		}
	}
	query := "SELECT id, data, created_at, updated_at FROM documents WHERE " + strings.Join(clauses, " AND ")
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	docs, err := scanDocuments(rows)
	if err != nil {
		return nil, err
	}
	return core.Select(docs, q), nil
}

func (s *Store) pushdown(f core.Filter) (string, []any, bool) {
	var expr string
	switch {
	case f.Field == core.FieldID:
		expr = "id"
	case fieldName.MatchString(f.Field) && f.Field != core.FieldCreatedAt && f.Field != core.FieldUpdatedAt:
		expr = s.dialect.JSONText(f.Field)
	default:
		return "", nil, false
	}
	switch f.Op {
	case core.OpEqual, "":
		v, ok := f.Value.(string)
		if !ok {
			return "", nil, false
		}
		return expr, []any{v}, true
	case core.OpIn:
		list, ok := core.NormalizeValue(f.Value).([]any)
		if !ok || len(list) == 0 {
			return "", nil, false
		}
		values := make([]any, len(list))
		for i, item := range list {
			str, ok := item.(string)
			if !ok {
				return "", nil, false
			}
			values[i] = str
		}
		return expr, values, true
	}
	return "", nil, false
}

// Commit implements core.Store in a single transaction.
func (s *Store) Commit(ctx context.Context, ops []core.Op) (results []core.OpResult, err error) {
	if len(ops) > core.MaxBatch {
		return nil, core.ErrBatchTooLarge
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	now := core.FormatTime(s.clock.Now())
	selectQ := fmt.Sprintf(`SELECT data, created_at FROM documents WHERE collection = %s AND id = %s%s`, s.ph(1), s.ph(2), s.dialect.LockSuffix)
	upsertQ := fmt.Sprintf(`INSERT INTO documents (collection, id, data, created_at, updated_at) VALUES (%s, %s, %s, %s, %s)
ON CONFLICT (collection, id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5))
	deleteQ := fmt.Sprintf(`DELETE FROM documents WHERE collection = %s AND id = %s`, s.ph(1), s.ph(2))

	results = make([]core.OpResult, len(ops))
	for i, op := range ops {
		if op.Collection == "" {
			return nil, fmt.Errorf("op %d: collection is required", i)
		}
		switch op.Kind {
		case core.OpDelete:
			if op.ID == "" {
				return nil, fmt.Errorf("op %d: delete requires an id", i)
			}
			res, err := tx.ExecContext(ctx, deleteQ, op.Collection, op.ID)
			if err != nil {
				return nil, fmt.Errorf("delete %s/%s: %w", op.Collection, op.ID, err)
			}
			n, _ := res.RowsAffected()
			results[i] = core.OpResult{ID: op.ID, Deleted: n > 0}
		case core.OpSet, "":
			id := op.ID
			if id == "" {
				id = uuid.NewString()
			}
			existing, createdAt, found, err := readForWrite(ctx, tx, selectQ, op.Collection, id)
			if err != nil {
				return nil, err
			}
			data, err := core.Apply(existing, op)
			if err != nil {
				return nil, fmt.Errorf("op %d: %w", i, err)
			}
			payload, err := json.Marshal(data)
			if err != nil {
				return nil, fmt.Errorf("encode %s/%s: %w", op.Collection, id, err)
			}
			if !found {
				createdAt = now
			}
			if _, err := tx.ExecContext(ctx, upsertQ, op.Collection, id, string(payload), createdAt, now); err != nil {
				return nil, fmt.Errorf("upsert %s/%s: %w", op.Collection, id, err)
			}
			results[i] = core.OpResult{ID: id, Created: !found}
		default:
			return nil, fmt.Errorf("op %d: unknown kind %q", i, op.Kind)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	committed = true
	return results, nil
}

func readForWrite(ctx context.Context, tx *sql.Tx, query, collection, id string) (map[string]any, string, bool, error) {
	var (
		payload   []byte
		createdAt string
	)
	err := tx.QueryRowContext(ctx, query, collection, id).Scan(&payload, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", false, nil
	}
	if err != nil {
		return nil, "", false, fmt.Errorf("read %s/%s: %w", collection, id, err)
	}
	data := map[string]any{}
	if err := json.Unmarshal(payload, &data); err != nil {
		return nil, "", false, fmt.Errorf("decode %s/%s: %w", collection, id, err)
	}
	return data, createdAt, true, nil
}

func scanDocuments(rows *sql.Rows) ([]core.Document, error) {
	defer func() { _ = rows.Close() }()
	var docs []core.Document
	for rows.Next() {
		var (
			id               string
			payload          []byte
			created, updated string
		)
		if err := rows.Scan(&id, &payload, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		data := map[string]any{}
		if err := json.Unmarshal(payload, &data); err != nil {
			return nil, fmt.Errorf("decode document %s: %w", id, err)
		}
		doc := core.Document{ID: id, Data: data}
		var err error
		if doc.CreatedAt, err = core.ParseTime(created); err != nil {
			return nil, fmt.Errorf("document %s created_at: %w", id, err)
		}
		if doc.UpdatedAt, err = core.ParseTime(updated); err != nil {
			return nil, fmt.Errorf("document %s updated_at: %w", id, err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return docs, nil
}
