// Package postgres stores documents in a JSONB table through the pgx database/sql driver.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"clinicsync/internal/clock"
	"clinicsync/internal/docstore/core"
	"clinicsync/internal/infra/docstore/sqlstore"
)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/clinicsync?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// OverrideSQLOpen swaps the sql.Open implementation; the returned func restores it.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	prev := sqlOpen
	sqlOpen = fn
	openMu.Unlock()
	return func() {
		openMu.Lock()
		sqlOpen = prev
		openMu.Unlock()
	}
}

var dialect = sqlstore.Dialect{
	Driver: core.DriverPostgres,
	DDL: []string{
		`CREATE TABLE IF NOT EXISTS documents (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		data JSONB NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (collection, id)
	)`,
		`CREATE INDEX IF NOT EXISTS documents_created ON documents (collection, created_at)`,
	},
	Placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	JSONText: func(field string) string {
		return fmt.Sprintf("data->>'%s'", field)
	},
	LockSuffix: " FOR UPDATE",
}

// Store is the Postgres document store.
type Store struct {
	*sqlstore.Store
}

// NewStore connects to dsn (defaultDSN when empty), pings and ensures the documents table.
func NewStore(ctx context.Context, dsn string, clk clock.Clock) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	inner, err := sqlstore.New(ctx, db, dialect, clk)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{Store: inner}, nil
}
