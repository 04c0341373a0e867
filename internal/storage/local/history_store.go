package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/JakeFAU/serp-rank-tracker/internal/serp"
)

// HistoryStore keeps each project's history as a JSON array file, oldest
// entry first. The store ID is the file name relative to the base directory.
type HistoryStore struct {
	baseDir string
}

// NewHistoryStore creates a JSON-file history store.
func NewHistoryStore(cfg Config) (*HistoryStore, error) {
	if err := ensureDir(cfg.BaseDir); err != nil {
		return nil, err
	}
	return &HistoryStore{baseDir: cfg.BaseDir}, nil
}

// Load reads the history file. A missing file yields serp.ErrNotFound; an
// unparseable one is an error so callers never overwrite it blindly.
func (s *HistoryStore) Load(_ context.Context, storeID string) ([]serp.HistoryEntry, error) {
	path, err := resolve(s.baseDir, storeID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path) // #nosec G304 -- path is confined to baseDir by resolve.
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("history %s: %w", storeID, serp.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read history %s: %w", storeID, err)
	}
	var entries []serp.HistoryEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode history %s: %w", storeID, err)
	}
	return entries, nil
}

// Save replaces the history file atomically.
func (s *HistoryStore) Save(_ context.Context, storeID string, entries []serp.HistoryEntry) error {
	path, err := resolve(s.baseDir, storeID)
	if err != nil {
		return err
	}
	if entries == nil {
		entries = []serp.HistoryEntry{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode history %s: %w", storeID, err)
	}
	return writeAtomic(path, data)
}
