package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/serp-rank-tracker/internal/serp"
)

// RunStore provides an in-memory run store for development/testing.
type RunStore struct {
	mu   sync.RWMutex
	runs map[string]serp.Run
	now  func() time.Time
}

// NewRunStore constructs a RunStore.
func NewRunStore() *RunStore {
	return &RunStore{
		runs: make(map[string]serp.Run),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// CreateRun stores a new run.
func (s *RunStore) CreateRun(_ context.Context, run serp.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return errors.New("run already exists")
	}
	s.runs[run.ID] = run
	return nil
}

// UpdateRunStatus updates the status and counters for a run.
func (s *RunStore) UpdateRunStatus(
	_ context.Context,
	runID string,
	status serp.RunStatus,
	errText string,
	counters serp.RunCounters,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("run %s: %w", runID, serp.ErrNotFound)
	}
	run.Status = status
	run.ErrorText = errText
	run.Counters = counters
	now := s.now()
	if status == serp.RunStatusRunning && run.Started == nil {
		run.Started = pointerTime(now)
	}
	if isTerminal(status) {
		run.Finished = pointerTime(now)
	}
	s.runs[runID] = run
	return nil
}

// UpdateProgress records keyword progress without touching the status.
func (s *RunStore) UpdateProgress(_ context.Context, runID string, processed, total, rows int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("run %s: %w", runID, serp.ErrNotFound)
	}
	run.Counters.KeywordsProcessed = processed
	run.Counters.KeywordsTotal = total
	run.Counters.Rows = rows
	s.runs[runID] = run
	return nil
}

// SetReport stores the report location of a run.
func (s *RunStore) SetReport(_ context.Context, runID string, uri string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("run %s: %w", runID, serp.ErrNotFound)
	}
	run.ReportURI = uri
	s.runs[runID] = run
	return nil
}

// GetRun fetches a run by ID.
func (s *RunStore) GetRun(_ context.Context, runID string) (serp.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return serp.Run{}, fmt.Errorf("run %s: %w", runID, serp.ErrNotFound)
	}
	return run, nil
}

// ListRuns returns every run, newest submission first.
func (s *RunStore) ListRuns(_ context.Context) ([]serp.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]serp.Run, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, run)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Submitted.Equal(out[j].Submitted) {
			return out[i].Submitted.After(out[j].Submitted)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}

func isTerminal(status serp.RunStatus) bool {
	switch status {
	case serp.RunStatusSucceeded, serp.RunStatusFailed, serp.RunStatusCanceled:
		return true
	default:
		return false
	}
}
