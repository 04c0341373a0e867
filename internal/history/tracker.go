// Package history keeps the capped per-project run history and derives
// run-over-run trends from it.
package history

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/serp-rank-tracker/internal/serp"
)

// Defaults for history retention and LOST detection.
const (
	DefaultMaxEntries = 10
	DefaultLostWindow = 2
)

// Config controls retention.
type Config struct {
	MaxEntries int
	LostWindow int
}

func (c Config) withDefaults() Config {
	if c.MaxEntries <= 0 {
		c.MaxEntries = DefaultMaxEntries
	}
	if c.LostWindow <= 0 {
		c.LostWindow = DefaultLostWindow
	}
	return c
}

// Tracker loads and appends run history through a serp.HistoryStore.
type Tracker struct {
	store  serp.HistoryStore
	cfg    Config
	logger *zap.Logger

	mu    sync.Mutex
	locks map[string]chan struct{}
}

// NewTracker wires a store with retention settings.
func NewTracker(store serp.HistoryStore, cfg Config, logger *zap.Logger) (*Tracker, error) {
	if store == nil {
		return nil, errors.New("history: store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		store:  store,
		cfg:    cfg.withDefaults(),
		logger: logger,
		locks:  make(map[string]chan struct{}),
	}, nil
}

// Lock serializes runs that share a history store id so each one loads the
// history its predecessor saved. An uncontended lock is granted even when ctx
// is already done; a contended one gives up when ctx is.
func (t *Tracker) Lock(ctx context.Context, storeID string) (func(), error) {
	t.mu.Lock()
	l, ok := t.locks[storeID]
	if !ok {
		l = make(chan struct{}, 1)
		t.locks[storeID] = l
	}
	t.mu.Unlock()

	release := func() { <-l }
	select {
	case l <- struct{}{}:
		return release, nil
	default:
	}
	t.logger.Debug("waiting for history lock", zap.String("store_id", storeID))
	select {
	case l <- struct{}{}:
		return release, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("lock history %q: %w", storeID, ctx.Err())
	}
}

// Config returns the effective retention settings.
func (t *Tracker) Config() Config {
	return t.cfg
}

// Load returns the stored history, oldest first. A missing history is empty.
func (t *Tracker) Load(ctx context.Context, storeID string) ([]serp.HistoryEntry, error) {
	entries, err := t.store.Load(ctx, storeID)
	if errors.Is(err, serp.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load history %q: %w", storeID, err)
	}
	return entries, nil
}

// Save appends an entry for the target rows of a run and evicts the oldest
// entries beyond the cap. The history is re-read first so concurrent writers
// and unreadable stores are never silently overwritten.
func (t *Tracker) Save(ctx context.Context, storeID string, rows []serp.RankedEntry, ts time.Time) ([]serp.HistoryEntry, error) {
	entries, err := t.Load(ctx, storeID)
	if err != nil {
		return nil, err
	}
	entries = Cap(append(entries, NewEntry(rows, ts)), t.cfg.MaxEntries)
	if err := t.store.Save(ctx, storeID, entries); err != nil {
		return nil, fmt.Errorf("save history %q: %w", storeID, err)
	}
	t.logger.Info("history saved",
		zap.String("store_id", storeID),
		zap.Int("entries", len(entries)),
	)
	return entries, nil
}

// NewEntry snapshots the target-matching rows of a run.
func NewEntry(rows []serp.RankedEntry, ts time.Time) serp.HistoryEntry {
	entry := serp.HistoryEntry{
		Timestamp: ts.Format(serp.TimestampLayout),
		Results:   []serp.HistorySnapshot{},
	}
	for _, row := range rows {
		if row.IsTarget {
			entry.Results = append(entry.Results, serp.SnapshotOf(row))
		}
	}
	return entry
}

// Cap keeps the newest limit entries.
func Cap(entries []serp.HistoryEntry, limit int) []serp.HistoryEntry {
	if limit <= 0 || len(entries) <= limit {
		return entries
	}
	out := make([]serp.HistoryEntry, limit)
	copy(out, entries[len(entries)-limit:])
	return out
}
