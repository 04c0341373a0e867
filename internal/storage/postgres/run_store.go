package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/serp-rank-tracker/internal/serp"
)

const defaultRunsTable = "serp_runs"

// RunStore implements serp.RunStore on Postgres.
type RunStore struct {
	db    DB
	table string
	now   func() time.Time
}

// NewRunStore wraps db. table defaults to serp_runs.
func NewRunStore(db DB, table string) (*RunStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table, defaultRunsTable)
	if err != nil {
		return nil, err
	}
	return &RunStore{db: db, table: name, now: func() time.Time { return time.Now().UTC() }}, nil
}

// EnsureSchema creates the runs table when missing.
func (s *RunStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id           TEXT PRIMARY KEY,
	project      TEXT NOT NULL,
	pages        INTEGER,
	status       TEXT NOT NULL,
	submitted_at TIMESTAMPTZ NOT NULL,
	started_at   TIMESTAMPTZ,
	finished_at  TIMESTAMPTZ,
	error_text   TEXT NOT NULL DEFAULT '',
	report_uri   TEXT NOT NULL DEFAULT '',
	counters     JSONB NOT NULL DEFAULT '{}'
)`, s.table)
	if _, err := s.db.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// CreateRun inserts a new run.
func (s *RunStore) CreateRun(ctx context.Context, run serp.Run) error {
	counters, err := json.Marshal(run.Counters)
	if err != nil {
		return fmt.Errorf("marshal counters: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, project, pages, status, submitted_at, counters)
VALUES ($1, $2, $3, $4, $5, $6)`, s.table)
	if _, err := s.db.Exec(ctx, query, run.ID, run.Project, run.Pages, string(run.Status), run.Submitted, counters); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// UpdateRunStatus sets status, error text and counters, stamping start and finish times.
func (s *RunStore) UpdateRunStatus(
	ctx context.Context,
	runID string,
	status serp.RunStatus,
	errText string,
	counters serp.RunCounters,
) error {
	raw, err := json.Marshal(counters)
	if err != nil {
		return fmt.Errorf("marshal counters: %w", err)
	}
	now := s.now()
	var started, finished *time.Time
	switch status {
	case serp.RunStatusRunning:
		started = &now
	case serp.RunStatusSucceeded, serp.RunStatusFailed, serp.RunStatusCanceled:
		finished = &now
	}
	query := fmt.Sprintf(`
UPDATE %s
SET status = $1,
	error_text = $2,
	counters = $3,
	started_at = COALESCE(started_at, $4),
	finished_at = COALESCE($5, finished_at)
WHERE id = $6`, s.table)
	tag, err := s.db.Exec(ctx, query, string(status), errText, raw, started, finished, runID)
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	return affected(tag.RowsAffected(), runID)
}

// UpdateProgress merges keyword progress into the stored counters.
func (s *RunStore) UpdateProgress(ctx context.Context, runID string, processed, total, rows int) error {
	query := fmt.Sprintf(`
UPDATE %s
SET counters = counters || jsonb_build_object(
	'keywords_processed', $1::int,
	'keywords_total', $2::int,
	'rows', $3::int)
WHERE id = $4`, s.table)
	tag, err := s.db.Exec(ctx, query, processed, total, rows, runID)
	if err != nil {
		return fmt.Errorf("update run progress: %w", err)
	}
	return affected(tag.RowsAffected(), runID)
}

// SetReport records the report URI of a run.
func (s *RunStore) SetReport(ctx context.Context, runID string, uri string) error {
	query := fmt.Sprintf(`UPDATE %s SET report_uri = $1 WHERE id = $2`, s.table)
	tag, err := s.db.Exec(ctx, query, uri, runID)
	if err != nil {
		return fmt.Errorf("set run report: %w", err)
	}
	return affected(tag.RowsAffected(), runID)
}

const runColumns = `id, project, pages, status, submitted_at, started_at, finished_at, error_text, report_uri, counters`

// GetRun retrieves a single run by its ID.
func (s *RunStore) GetRun(ctx context.Context, runID string) (serp.Run, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, runColumns, s.table)
	run, err := scanRun(s.db.QueryRow(ctx, query, runID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return serp.Run{}, fmt.Errorf("run %s: %w", runID, serp.ErrNotFound)
		}
		return serp.Run{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns returns runs newest submission first.
func (s *RunStore) ListRuns(ctx context.Context) ([]serp.Run, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY submitted_at DESC, id DESC`, runColumns, s.table)
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []serp.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

func scanRun(row pgx.Row) (serp.Run, error) {
	var (
		run      serp.Run
		pages    *int32
		status   string
		counters []byte
	)
	if err := row.Scan(
		&run.ID,
		&run.Project,
		&pages,
		&status,
		&run.Submitted,
		&run.Started,
		&run.Finished,
		&run.ErrorText,
		&run.ReportURI,
		&counters,
	); err != nil {
		return serp.Run{}, err
	}
	if pages != nil {
		p := int(*pages)
		run.Pages = &p
	}
	run.Status = serp.RunStatus(status)
	if len(counters) > 0 {
		if err := json.Unmarshal(counters, &run.Counters); err != nil {
			return serp.Run{}, fmt.Errorf("decode counters: %w", err)
		}
	}
	return run, nil
}

func affected(n int64, runID string) error {
	if n == 0 {
		return fmt.Errorf("run %s: %w", runID, serp.ErrNotFound)
	}
	return nil
}
