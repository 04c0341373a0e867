package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/serp-rank-tracker/internal/serp"
)

// HistoryStore keeps run histories keyed by store ID.
type HistoryStore struct {
	mu      sync.RWMutex
	entries map[string][]serp.HistoryEntry
}

// NewHistoryStore creates an empty HistoryStore.
func NewHistoryStore() *HistoryStore {
	return &HistoryStore{entries: make(map[string][]serp.HistoryEntry)}
}

// Load returns a copy of the stored history or serp.ErrNotFound.
func (s *HistoryStore) Load(_ context.Context, storeID string) ([]serp.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries, ok := s.entries[storeID]
	if !ok {
		return nil, fmt.Errorf("history %s: %w", storeID, serp.ErrNotFound)
	}
	return cloneEntries(entries), nil
}

// Save replaces the stored history.
func (s *HistoryStore) Save(_ context.Context, storeID string, entries []serp.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[storeID] = cloneEntries(entries)
	return nil
}

func cloneEntries(in []serp.HistoryEntry) []serp.HistoryEntry {
	out := make([]serp.HistoryEntry, len(in))
	for i, e := range in {
		out[i] = serp.HistoryEntry{
			Timestamp: e.Timestamp,
			Results:   append([]serp.HistorySnapshot(nil), e.Results...),
		}
	}
	return out
}
