// Package postgres provides a Postgres-backed library store mirroring the
// in-memory semantics, snapshotting state as JSONB buckets after every
// successful mutation.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	"github.com/shopspring/decimal"

	"patterncore/internal/core"
	"patterncore/pkg/domain"
)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/patterncore?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store persists library state to Postgres while reusing the in-memory
// library for reads and evaluation views.
type Store struct {
	*core.Library
	db *sql.DB
	mu sync.Mutex
}

// NewStore opens a Postgres-backed store using the provided DSN (falls back
// to defaultDSN), ensures the snapshot table exists, and hydrates the
// in-memory library from any existing snapshot.
func NewStore(dsn string, gate core.GateConfig, drift core.DriftConfig, embeddingDim int) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload JSONB NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("ensure state table: %w", err)
	}
	s := &Store{Library: core.NewLibrary(gate, drift, embeddingDim), db: db}
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

var buckets = []string{"patterns", "regimes", "committed", "audit", "version"}

func (s *Store) load(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT bucket, payload FROM state`)
	if err != nil {
		return fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var snapshot core.Snapshot
	loaded := false
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return fmt.Errorf("scan state: %w", err)
		}
		if len(payload) == 0 {
			continue
		}
		loaded = true
		switch bucket {
		case "patterns":
			err = json.Unmarshal(payload, &snapshot.Patterns)
		case "regimes":
			err = json.Unmarshal(payload, &snapshot.Regimes)
		case "committed":
			err = json.Unmarshal(payload, &snapshot.Committed)
		case "audit":
			err = json.Unmarshal(payload, &snapshot.Audit)
		case "version":
			err = json.Unmarshal(payload, &snapshot.Version)
		}
		if err != nil {
			return fmt.Errorf("decode %s: %w", bucket, err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate state: %w", err)
	}
	if loaded {
		s.ImportState(snapshot)
	}
	return nil
}

func (s *Store) persist(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.ExportState()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	for _, bucket := range buckets {
		var data []byte
		switch bucket {
		case "patterns":
			data, err = json.Marshal(snapshot.Patterns)
		case "regimes":
			data, err = json.Marshal(snapshot.Regimes)
		case "committed":
			data, err = json.Marshal(snapshot.Committed)
		case "audit":
			data, err = json.Marshal(snapshot.Audit)
		case "version":
			data, err = json.Marshal(snapshot.Version)
		}
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO state(bucket,payload) VALUES($1,$2) ON CONFLICT(bucket) DO UPDATE SET payload=EXCLUDED.payload`, bucket, data); err != nil {
			return fmt.Errorf("upsert %s: %w", bucket, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

// ApplyCommit applies the mutation in memory, then snapshots to Postgres.
func (s *Store) ApplyCommit(p domain.Proposal, record domain.CommitRecord) error {
	if err := s.Library.ApplyCommit(p, record); err != nil {
		return err
	}
	if err := s.persist(context.Background()); err != nil {
		return domain.ErrStoreUnavailable{Op: "persist commit", Err: err}
	}
	return nil
}

// RecordRejection appends the rejected outcome and snapshots the audit log.
func (s *Store) RecordRejection(record domain.CommitRecord) {
	s.Library.RecordRejection(record)
	if err := s.persist(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "postgres: persist rejection: %v\n", err)
	}
}

// RecordLiveTrade updates live counters in memory, then snapshots.
func (s *Store) RecordLiveTrade(patternID string, win bool, pnl decimal.Decimal) (domain.Pattern, error) {
	p, err := s.Library.RecordLiveTrade(patternID, win, pnl)
	if err != nil {
		return p, err
	}
	if err := s.persist(context.Background()); err != nil {
		return p, domain.ErrStoreUnavailable{Op: "persist live trade", Err: err}
	}
	return p, nil
}

// PutRegime registers reference data and snapshots.
func (s *Store) PutRegime(r domain.Regime) domain.Regime {
	out := s.Library.PutRegime(r)
	if err := s.persist(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "postgres: persist regime: %v\n", err)
	}
	return out
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore
// function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
