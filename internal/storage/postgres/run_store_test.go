package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/serp-rank-tracker/internal/serp"
)

func newMockRunStore(t *testing.T) (*RunStore, pgxmock.PgxPoolIface, time.Time) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewRunStore(mock, "")
	require.NoError(t, err)
	now := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	return store, mock, now
}

func TestRunStoreCreateRun(t *testing.T) {
	t.Parallel()
	store, mock, now := newMockRunStore(t)

	pages := 2
	mock.ExpectExec("INSERT INTO serp_runs").
		WithArgs("run-1", "acme", &pages, "queued", now, []byte(`{"keywords_total":0,"keywords_processed":0,"rows":0,"target_hits":0,"requests":0,"retries":0,"failed_pages":0}`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := store.CreateRun(context.Background(), serp.Run{
		ID: "run-1", Project: "acme", Pages: &pages, Status: serp.RunStatusQueued, Submitted: now,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunStoreUpdateRunStatusStampsTimes(t *testing.T) {
	t.Parallel()
	store, mock, now := newMockRunStore(t)

	counters := serp.RunCounters{KeywordsTotal: 3, KeywordsProcessed: 3, Rows: 30}
	mock.ExpectExec("UPDATE serp_runs").
		WithArgs("succeeded", "", pgxmock.AnyArg(), (*time.Time)(nil), &now, "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.UpdateRunStatus(context.Background(), "run-1", serp.RunStatusSucceeded, "", counters))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunStoreUpdateMissingRun(t *testing.T) {
	t.Parallel()
	store, mock, _ := newMockRunStore(t)

	mock.ExpectExec("UPDATE serp_runs").
		WithArgs(1, 3, 10, "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.UpdateProgress(context.Background(), "missing", 1, 3, 10)
	require.ErrorIs(t, err, serp.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunStoreSetReport(t *testing.T) {
	t.Parallel()
	store, mock, _ := newMockRunStore(t)

	mock.ExpectExec("UPDATE serp_runs SET report_uri").
		WithArgs("gs://bucket/acme.xlsx", "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.SetReport(context.Background(), "run-1", "gs://bucket/acme.xlsx"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func runRow(id string, submitted time.Time, started *time.Time) *pgxmock.Rows {
	pages := int32(2)
	return pgxmock.NewRows([]string{
		"id", "project", "pages", "status", "submitted_at", "started_at", "finished_at", "error_text", "report_uri", "counters",
	}).AddRow(id, "acme", &pages, "running", submitted, started, (*time.Time)(nil), "", "", []byte(`{"keywords_total":3,"keywords_processed":1}`))
}

func TestRunStoreGetRun(t *testing.T) {
	t.Parallel()
	store, mock, now := newMockRunStore(t)

	mock.ExpectQuery("SELECT id, project, pages").
		WithArgs("run-1").
		WillReturnRows(runRow("run-1", now, &now))

	run, err := store.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", run.ID)
	assert.Equal(t, serp.RunStatusRunning, run.Status)
	require.NotNil(t, run.Pages)
	assert.Equal(t, 2, *run.Pages)
	require.NotNil(t, run.Started)
	assert.Nil(t, run.Finished)
	assert.Equal(t, 1, run.Counters.KeywordsProcessed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunStoreGetRunNotFound(t *testing.T) {
	t.Parallel()
	store, mock, _ := newMockRunStore(t)

	mock.ExpectQuery("SELECT id, project, pages").
		WithArgs("nope").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.GetRun(context.Background(), "nope")
	require.ErrorIs(t, err, serp.ErrNotFound)
}

func TestRunStoreListRuns(t *testing.T) {
	t.Parallel()
	store, mock, now := newMockRunStore(t)

	mock.ExpectQuery("SELECT id, project, pages .* ORDER BY submitted_at DESC").
		WillReturnRows(runRow("run-2", now, nil))

	runs, err := store.ListRuns(context.Background())
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-2", runs[0].ID)
	assert.Nil(t, runs[0].Started)
	require.NoError(t, mock.ExpectationsWereMet())
}
