// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package usage keeps an opt-in ledger of exchange metadata in a local
// SQLite file. Only counts and timings are stored; prompt and response
// text never touch the database.
package usage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// =============================================================================
// SCHEMA
// =============================================================================

// Schema holds exchange metadata. One row per finished exchange.
const schema = `
CREATE TABLE IF NOT EXISTS exchanges (
    id TEXT PRIMARY KEY,
    started_at INTEGER NOT NULL,        -- Unix timestamp
    model TEXT NOT NULL,
    outcome TEXT NOT NULL,              -- completed, failed, cancelled
    fragments INTEGER NOT NULL,
    chars INTEGER NOT NULL,
    duration_ms INTEGER NOT NULL,
    first_fragment_ms INTEGER           -- NULL when no output arrived
);

CREATE INDEX IF NOT EXISTS idx_exchanges_model ON exchanges(model);
CREATE INDEX IF NOT EXISTS idx_exchanges_started_at ON exchanges(started_at);
`

// =============================================================================
// STORE
// =============================================================================

// Store is the usage ledger backed by a SQLite file.
type Store struct {
	db *sql.DB
}

// Exchange is one finished exchange's metadata.
type Exchange struct {
	ID        string
	StartedAt time.Time
	Model     string
	Outcome   string // terminal state name: completed, failed, cancelled
	Fragments int
	Chars     int
	Duration  time.Duration

	// FirstFragment is the time to the first fragment. Zero means no
	// fragment ever arrived.
	FirstFragment time.Duration
}

// Open opens the ledger at path, creating the file and parent directory
// as needed.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating ledger directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}

	// SQLite supports one writer at a time, so limit connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=2000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing ledger schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Record inserts one finished exchange.
func (s *Store) Record(ex Exchange) error {
	firstFragment := sql.NullInt64{
		Int64: ex.FirstFragment.Milliseconds(),
		Valid: ex.FirstFragment > 0,
	}

	_, err := s.db.Exec(`
		INSERT INTO exchanges
			(id, started_at, model, outcome, fragments, chars, duration_ms, first_fragment_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ex.ID,
		ex.StartedAt.Unix(),
		ex.Model,
		ex.Outcome,
		ex.Fragments,
		ex.Chars,
		ex.Duration.Milliseconds(),
		firstFragment,
	)
	if err != nil {
		return fmt.Errorf("recording exchange: %w", err)
	}
	return nil
}

// Close closes the ledger.
func (s *Store) Close() error {
	return s.db.Close()
}
