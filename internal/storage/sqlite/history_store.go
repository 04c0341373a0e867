// Package sqlite stores run history in a SQLite database file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JakeFAU/serp-rank-tracker/internal/serp"
)

const schema = `
CREATE TABLE IF NOT EXISTS serp_history (
	store_id   TEXT PRIMARY KEY,
	entries    TEXT NOT NULL,
	updated_at TEXT NOT NULL DEFAULT (datetime('now'))
)`

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=10000",
	"PRAGMA synchronous=NORMAL",
}

// HistoryStore persists each project's history as one JSON row.
type HistoryStore struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and prepares the schema.
func Open(ctx context.Context, path string) (*HistoryStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer keeps SQLite from returning SQLITE_BUSY under concurrent runs.
	db.SetMaxOpenConns(1)
	store, err := New(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// New prepares the schema on an existing handle.
func New(ctx context.Context, db *sql.DB) (*HistoryStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &HistoryStore{db: db}, nil
}

// Close closes the database.
func (s *HistoryStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}

// Load returns the stored history or serp.ErrNotFound.
func (s *HistoryStore) Load(ctx context.Context, storeID string) ([]serp.HistoryEntry, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT entries FROM serp_history WHERE store_id = ?`, storeID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("history %s: %w", storeID, serp.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("select history: %w", err)
	}
	var entries []serp.HistoryEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("decode history %s: %w", storeID, err)
	}
	return entries, nil
}

// Save upserts the full history.
func (s *HistoryStore) Save(ctx context.Context, storeID string, entries []serp.HistoryEntry) error {
	if entries == nil {
		entries = []serp.HistoryEntry{}
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode history %s: %w", storeID, err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO serp_history (store_id, entries, updated_at)
VALUES (?, ?, datetime('now'))
ON CONFLICT (store_id) DO UPDATE SET entries = excluded.entries, updated_at = excluded.updated_at`,
		storeID, string(raw))
	if err != nil {
		return fmt.Errorf("upsert history: %w", err)
	}
	return nil
}
