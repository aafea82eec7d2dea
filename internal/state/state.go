// Package state persists per-package synchronization state in SQLite. The
// engine treats it as a plain key-value surface: one row per package.
package state

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/upmirror/upmirror/api"
)

const ddl = `
CREATE TABLE IF NOT EXISTS sync_state (
	package   TEXT PRIMARY KEY,
	last_ref  TEXT NOT NULL,
	synced_at TEXT NOT NULL,
	outcome   TEXT NOT NULL
);`

// Store is a SQLite-backed SyncState table. Safe for concurrent use; SQLite
// serializes writers internally.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the state database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	if _, err := db.Exec(ddl); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init state schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the recorded state for a package, or nil when the package has
// never been synced.
func (s *Store) Get(pkg string) (*api.SyncState, error) {
	row := s.db.QueryRow(
		`SELECT last_ref, synced_at, outcome FROM sync_state WHERE package = ?`, pkg)

	var st api.SyncState
	var syncedAt string
	if err := row.Scan(&st.LastRef, &syncedAt, &st.Outcome); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("read state for %s: %w", pkg, err)
	}
	ts, err := time.Parse(time.RFC3339Nano, syncedAt)
	if err != nil {
		return nil, fmt.Errorf("parse synced_at for %s: %w", pkg, err)
	}
	st.SyncedAt = ts
	return &st, nil
}

// Put inserts or replaces the state for a package.
func (s *Store) Put(pkg string, st api.SyncState) error {
	_, err := s.db.Exec(
		`INSERT INTO sync_state (package, last_ref, synced_at, outcome)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(package) DO UPDATE SET
		   last_ref = excluded.last_ref,
		   synced_at = excluded.synced_at,
		   outcome = excluded.outcome`,
		pkg, st.LastRef, st.SyncedAt.UTC().Format(time.RFC3339Nano), st.Outcome)
	if err != nil {
		return fmt.Errorf("write state for %s: %w", pkg, err)
	}
	return nil
}
