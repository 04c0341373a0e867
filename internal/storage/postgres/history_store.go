package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/serp-rank-tracker/internal/serp"
)

const defaultHistoryTable = "serp_history"

// HistoryStore keeps each project's history as one JSONB array row.
type HistoryStore struct {
	db    DB
	table string
}

// NewHistoryStore wraps db. table defaults to serp_history.
func NewHistoryStore(db DB, table string) (*HistoryStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table, defaultHistoryTable)
	if err != nil {
		return nil, err
	}
	return &HistoryStore{db: db, table: name}, nil
}

// EnsureSchema creates the history table when missing.
func (s *HistoryStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	store_id   TEXT PRIMARY KEY,
	entries    JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, s.table)
	if _, err := s.db.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// Load returns the stored history or serp.ErrNotFound.
func (s *HistoryStore) Load(ctx context.Context, storeID string) ([]serp.HistoryEntry, error) {
	query := fmt.Sprintf(`SELECT entries FROM %s WHERE store_id = $1`, s.table)
	var raw []byte
	if err := s.db.QueryRow(ctx, query, storeID).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("history %s: %w", storeID, serp.ErrNotFound)
		}
		return nil, fmt.Errorf("select history: %w", err)
	}
	var entries []serp.HistoryEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
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
	query := fmt.Sprintf(`
INSERT INTO %s (store_id, entries, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (store_id) DO UPDATE
SET entries = EXCLUDED.entries, updated_at = EXCLUDED.updated_at`, s.table)
	if _, err := s.db.Exec(ctx, query, storeID, raw); err != nil {
		return fmt.Errorf("upsert history: %w", err)
	}
	return nil
}
