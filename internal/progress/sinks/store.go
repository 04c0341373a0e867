package sinks

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/serp-rank-tracker/internal/progress"
	"github.com/JakeFAU/serp-rank-tracker/internal/serp"
)

// ProgressWriter is the slice of the run store the sink needs.
type ProgressWriter interface {
	UpdateProgress(ctx context.Context, runID string, processed, total, rows int) error
}

// StoreSink records keyword progress in the run store so the API can report
// it while a run is still going. Only the latest keyword event per run in a
// batch is written.
type StoreSink struct {
	store  ProgressWriter
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided store.
func NewStoreSink(store ProgressWriter, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{store: store, logger: logger}
}

// Consume collapses keyword events per run and forwards the newest one.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.store == nil {
		return nil
	}
	latest := make(map[string]progress.Event)
	order := make([]string, 0)
	for _, evt := range batch {
		if evt.Stage != progress.StageKeywordDone {
			continue
		}
		prev, seen := latest[evt.RunID]
		if !seen {
			order = append(order, evt.RunID)
		}
		if !seen || evt.Processed >= prev.Processed {
			latest[evt.RunID] = evt
		}
	}
	for _, runID := range order {
		evt := latest[runID]
		err := s.store.UpdateProgress(ctx, runID, evt.Processed, evt.Total, evt.Matches)
		switch {
		case errors.Is(err, serp.ErrNotFound):
			// foreground runs are not recorded in the run store
			s.logger.Debug("progress for untracked run", zap.String("run_id", runID))
		case err != nil:
			return fmt.Errorf("update run progress: %w", err)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
