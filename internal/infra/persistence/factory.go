// Package persistence selects a library storage backend by driver name.
package persistence

import (
	"fmt"

	"patterncore/internal/core"
	"patterncore/internal/infra/persistence/memory"
	"patterncore/internal/infra/persistence/postgres"
	"patterncore/internal/infra/persistence/sqlite"
)

// Driver identifies a concrete storage implementation.
type Driver string

const (
	DriverMemory   Driver = "memory"   // in-memory only (tests / ephemeral)
	DriverSQLite   Driver = "sqlite"   // embedded sqlite file
	DriverPostgres Driver = "postgres" // PostgreSQL server
)

// Options carries the backend-specific connection settings.
type Options struct {
	// SQLitePath is the database file for the sqlite driver.
	SQLitePath string
	// PostgresDSN is the connection string for the postgres driver.
	PostgresDSN string
}

// Open constructs a library store for the given driver. The returned store
// satisfies core.Store; the durable backends embed the in-memory library and
// snapshot it after every successful mutation.
func Open(driver Driver, opts Options, gate core.GateConfig, drift core.DriftConfig, embeddingDim int) (core.Store, error) {
	switch driver {
	case DriverMemory, "":
		return memory.NewStore(gate, drift, embeddingDim), nil
	case DriverSQLite:
		return sqlite.NewStore(opts.SQLitePath, gate, drift, embeddingDim)
	case DriverPostgres:
		return postgres.NewStore(opts.PostgresDSN, gate, drift, embeddingDim)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}
