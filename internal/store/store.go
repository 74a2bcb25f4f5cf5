// Package store persists raw events, time blocks and week summaries in a
// SQLite database. It implements the engine's Repository boundary.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const currentVersion = 1

// DBFile is the name of the SQLite database file.
const DBFile = "billable.db"

// Store wraps the SQLite database handle.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the SQLite database at dbPath and runs migrations.
func New(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// NewMemory creates an in-memory store for testing.
func NewMemory() (*Store, error) {
	return New(":memory:")
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}

	if version >= currentVersion {
		return nil
	}

	if version < 1 {
		if err := s.migrateV1(); err != nil {
			return err
		}
	}

	_, err := s.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentVersion))
	return err
}

func (s *Store) migrateV1() error {
	const ddl = `
	CREATE TABLE IF NOT EXISTS raw_events (
		id               INTEGER PRIMARY KEY AUTOINCREMENT,
		source           TEXT NOT NULL,
		source_id        TEXT NOT NULL,
		timestamp        TEXT NOT NULL,
		duration_minutes INTEGER NOT NULL DEFAULT 0,
		description      TEXT NOT NULL DEFAULT '',
		metadata         TEXT NOT NULL DEFAULT '{}',
		created_at       TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ','now')),
		UNIQUE(source, source_id)
	);

	CREATE INDEX IF NOT EXISTS idx_raw_events_timestamp ON raw_events(timestamp);

	CREATE TABLE IF NOT EXISTS time_blocks (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		week_start     TEXT NOT NULL,
		block_start    TEXT NOT NULL,
		block_end      TEXT NOT NULL,
		source         TEXT NOT NULL,
		description    TEXT NOT NULL DEFAULT '',
		duration_hours REAL NOT NULL,
		metadata       TEXT NOT NULL DEFAULT '{}'
	);

	CREATE INDEX IF NOT EXISTS idx_time_blocks_week  ON time_blocks(week_start);
	CREATE INDEX IF NOT EXISTS idx_time_blocks_start ON time_blocks(block_start);

	CREATE TABLE IF NOT EXISTS week_summaries (
		week_start  TEXT PRIMARY KEY,
		total_hours REAL NOT NULL DEFAULT 0,
		metadata    TEXT NOT NULL DEFAULT '{}'
	);
	`
	_, err := s.db.Exec(ddl)
	return err
}

// DefaultDBPath returns the database location under the user config dir.
func DefaultDBPath() (string, error) {
	cfg, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(cfg, "billable", DBFile), nil
}
