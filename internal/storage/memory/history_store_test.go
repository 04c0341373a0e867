package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/JakeFAU/serp-rank-tracker/internal/serp"
)

func TestHistoryStoreRoundTrip(t *testing.T) {
	t.Parallel()

	store := NewHistoryStore()
	ctx := context.Background()
	if _, err := store.Load(ctx, "acme"); !errors.Is(err, serp.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	entries := []serp.HistoryEntry{{
		Timestamp: "2026-10-16 09:00:00",
		Results:   []serp.HistorySnapshot{{Keyword: "widgets", Position: 5, Domain: "example.com", IsTarget: true}},
	}}
	if err := store.Save(ctx, "acme", entries); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	entries[0].Results[0].Position = 99

	got, err := store.Load(ctx, "acme")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(got) != 1 || got[0].Results[0].Position != 5 {
		t.Fatalf("expected stored copy, got %+v", got)
	}
}
