// Package sqlite provides a SQLite-backed library store. The in-memory
// library remains the source of truth for reads; every successful mutation
// snapshots the full state to a single-table JSON layout.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite" // pure go sqlite driver

	"patterncore/internal/core"
	"patterncore/pkg/domain"
)

// Store persists library state to a SQLite table as JSON buckets,
// snapshotting after every successful commit.
type Store struct {
	*core.Library
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// NewStore opens (or creates) the database at path and hydrates the library
// from any existing snapshot.
func NewStore(path string, gate core.GateConfig, drift core.DriftConfig, embeddingDim int) (*Store, error) {
	if path == "" {
		path = "patterncore.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("create state table: %w", err)
	}
	s := &Store{Library: core.NewLibrary(gate, drift, embeddingDim), db: db, path: path}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

var buckets = []string{"patterns", "regimes", "committed", "audit", "version"}

func (s *Store) load() error {
	rows, err := s.db.Query(`SELECT bucket, payload FROM state`)
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

func (s *Store) persist() (retErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.ExportState()
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if retErr != nil {
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
			retErr = err
			return retErr
		}
		if _, err = tx.Exec(`INSERT INTO state(bucket,payload) VALUES(?,?) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`, bucket, data); err != nil {
			retErr = fmt.Errorf("upsert %s: %w", bucket, err)
			return retErr
		}
	}
	return tx.Commit()
}

// ApplyCommit applies the mutation in memory, then snapshots to disk.
func (s *Store) ApplyCommit(p domain.Proposal, record domain.CommitRecord) error {
	if err := s.Library.ApplyCommit(p, record); err != nil {
		return err
	}
	if err := s.persist(); err != nil {
		return domain.ErrStoreUnavailable{Op: "persist commit", Err: err}
	}
	return nil
}

// RecordRejection appends the rejected outcome and snapshots the audit log.
func (s *Store) RecordRejection(record domain.CommitRecord) {
	s.Library.RecordRejection(record)
	if err := s.persist(); err != nil {
		// Rejections carry no library mutation; a failed snapshot here only
		// delays audit durability until the next successful persist.
		fmt.Fprintf(os.Stderr, "sqlite: persist rejection: %v\n", err)
	}
}

// RecordLiveTrade updates live counters in memory, then snapshots.
func (s *Store) RecordLiveTrade(patternID string, win bool, pnl decimal.Decimal) (domain.Pattern, error) {
	p, err := s.Library.RecordLiveTrade(patternID, win, pnl)
	if err != nil {
		return p, err
	}
	if err := s.persist(); err != nil {
		return p, domain.ErrStoreUnavailable{Op: "persist live trade", Err: err}
	}
	return p, nil
}

// PutRegime registers reference data and snapshots.
func (s *Store) PutRegime(r domain.Regime) domain.Regime {
	out := s.Library.PutRegime(r)
	if err := s.persist(); err != nil {
		fmt.Fprintf(os.Stderr, "sqlite: persist regime: %v\n", err)
	}
	return out
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }
