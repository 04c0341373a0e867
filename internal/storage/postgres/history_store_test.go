package postgres

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/serp-rank-tracker/internal/serp"
)

func TestHistoryStoreLoad(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewHistoryStore(mock, "")
	require.NoError(t, err)

	raw := []byte(`[{"timestamp":"2026-10-16 09:00:00","results":[{"keyword":"widgets","position":5,"domain":"example.com","title":"","snippet":"","url":"https://example.com/page","isTarget":true}]}]`)
	mock.ExpectQuery("SELECT entries FROM serp_history WHERE store_id = \\$1").
		WithArgs("acme").
		WillReturnRows(pgxmock.NewRows([]string{"entries"}).AddRow(raw))

	entries, err := store.Load(context.Background(), "acme")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "2026-10-16 09:00:00", entries[0].Timestamp)
	assert.Equal(t, 5, entries[0].Results[0].Position)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHistoryStoreLoadMissing(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewHistoryStore(mock, "history")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT entries FROM history").
		WithArgs("acme").
		WillReturnError(pgx.ErrNoRows)

	_, err = store.Load(context.Background(), "acme")
	require.ErrorIs(t, err, serp.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHistoryStoreSaveUpserts(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewHistoryStore(mock, "")
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO serp_history").
		WithArgs("acme", []byte(`[{"timestamp":"2026-10-16 09:00:00","results":[]}]`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = store.Save(context.Background(), "acme", []serp.HistoryEntry{{
		Timestamp: "2026-10-16 09:00:00",
		Results:   []serp.HistorySnapshot{},
	}})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHistoryStoreEnsureSchema(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewHistoryStore(mock, "")
	require.NoError(t, err)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS serp_history").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewHistoryStoreRejectsBadInput(t *testing.T) {
	t.Parallel()

	_, err := NewHistoryStore(nil, "")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewHistoryStore(mock, "history; DROP TABLE x")
	require.Error(t, err)
}
