// Package sqlite stores documents as JSON text in a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"clinicsync/internal/clock"
	"clinicsync/internal/docstore/core"
	"clinicsync/internal/infra/docstore/sqlstore"
)

var dialect = sqlstore.Dialect{
	Driver: core.DriverSQLite,
	DDL: []string{
		`CREATE TABLE IF NOT EXISTS documents (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		data TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (collection, id)
	)`,
		`CREATE INDEX IF NOT EXISTS documents_created ON documents (collection, created_at)`,
	},
	Placeholder: func(int) string { return "?" },
	JSONText: func(field string) string {
		return fmt.Sprintf("json_extract(data, '$.%s')", field)
	},
}

// Store wraps the shared SQL implementation with the sqlite file it owns.
type Store struct {
	*sqlstore.Store
	path string
}

// NewStore opens (creating when needed) the database at path.
func NewStore(ctx context.Context, path string, clk clock.Clock) (*Store, error) {
	if path == "" {
		path = "clinicsync.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer keeps modernc from returning SQLITE_BUSY inside commits.
	db.SetMaxOpenConns(1)
	inner, err := sqlstore.New(ctx, db, dialect, clk)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{Store: inner, path: path}, nil
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }
