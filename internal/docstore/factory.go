// Package docstore selects the target document store the loader writes to.
package docstore

import (
	"context"
	"fmt"

	"clinicsync/internal/clock"
	"clinicsync/internal/docstore/core"
	"clinicsync/internal/infra/docstore/firestore"
	"clinicsync/internal/infra/docstore/memory"
	"clinicsync/internal/infra/docstore/postgres"
	"clinicsync/internal/infra/docstore/sqlite"
)

// Store aliases core.Store.
type Store = core.Store

// Options selects and configures a driver.
type Options struct {
	Driver             string
	DSN                string
	FirestoreProjectID string
	CredentialsJSON    []byte
	Clock              clock.Clock
}

// Open constructs the configured driver. An empty driver means sqlite.
func Open(ctx context.Context, opts Options) (Store, error) {
	driver := opts.Driver
	if driver == "" {
		driver = string(core.DriverSQLite)
	}
	switch core.Driver(driver) {
	case core.DriverMemory:
		return memory.New(opts.Clock), nil
	case core.DriverSQLite:
		return sqlite.NewStore(ctx, opts.DSN, opts.Clock)
	case core.DriverPostgres:
		return postgres.NewStore(ctx, opts.DSN, opts.Clock)
	case core.DriverFirestore:
		return firestore.New(ctx, firestore.Config{ProjectID: opts.FirestoreProjectID, CredentialsJSON: opts.CredentialsJSON})
	default:
		return nil, fmt.Errorf("unknown document store driver %s", driver)
	}
}
