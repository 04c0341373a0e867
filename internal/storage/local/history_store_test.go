package local_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/serp-rank-tracker/internal/serp"
	"github.com/JakeFAU/serp-rank-tracker/internal/storage/local"
)

func TestHistoryStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := local.NewHistoryStore(local.Config{BaseDir: dir})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.Load(ctx, "acme_history.json")
	require.ErrorIs(t, err, serp.ErrNotFound)

	entries := []serp.HistoryEntry{{
		Timestamp: "2026-10-16 09:00:00",
		Results: []serp.HistorySnapshot{{
			Keyword: "widgets", Position: 5, Domain: "example.com", URL: "https://example.com/page", IsTarget: true,
		}},
	}}
	require.NoError(t, store.Save(ctx, "acme_history.json", entries))

	got, err := store.Load(ctx, "acme_history.json")
	require.NoError(t, err)
	assert.Equal(t, entries, got)

	raw, err := os.ReadFile(filepath.Join(dir, "acme_history.json"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"timestamp": "2026-10-16 09:00:00"`)
	assert.Contains(t, string(raw), `"isTarget": true`)
}

func TestHistoryStoreEmptySavesArray(t *testing.T) {
	dir := t.TempDir()
	store, err := local.NewHistoryStore(local.Config{BaseDir: dir})
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), "h.json", nil))

	raw, err := os.ReadFile(filepath.Join(dir, "h.json"))
	require.NoError(t, err)
	assert.Equal(t, "[]", string(raw))
}

func TestHistoryStoreCorruptFileIsAnError(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "h.json"), []byte("{not json"), 0o600))
	store, err := local.NewHistoryStore(local.Config{BaseDir: dir})
	require.NoError(t, err)

	_, err = store.Load(context.Background(), "h.json")
	require.Error(t, err)
	assert.NotErrorIs(t, err, serp.ErrNotFound)
}

func TestHistoryStoreRejectsTraversal(t *testing.T) {
	store, err := local.NewHistoryStore(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	_, err = store.Load(context.Background(), "../../etc/passwd")
	assert.ErrorIs(t, err, local.ErrPathTraversal)
	assert.ErrorIs(t, store.Save(context.Background(), "../x.json", nil), local.ErrPathTraversal)
}
