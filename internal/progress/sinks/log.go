package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/serp-rank-tracker/internal/progress"
)

// LogSink emits structured logs for run progress.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch. Page events are logged at debug level.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunID),
			zap.String("stage", string(evt.Stage)),
			zap.String("project", evt.Project),
		}
		switch evt.Stage {
		case progress.StagePageDone:
			s.logger.Debug("page fetched", append(fields,
				zap.String("keyword", evt.Keyword),
				zap.Int("page", evt.Page),
				zap.String("status_class", string(evt.StatusClass)),
				zap.Int("attempts", evt.Attempts),
				zap.Int("hits", evt.Hits),
				zap.Duration("dur", evt.Dur),
			)...)
		case progress.StageKeywordDone:
			s.logger.Info("keyword processed", append(fields,
				zap.String("keyword", evt.Keyword),
				zap.Int("processed", evt.Processed),
				zap.Int("total", evt.Total),
				zap.Int("matches", evt.Matches),
			)...)
		default:
			s.logger.Info("run progress", append(fields,
				zap.Int("processed", evt.Processed),
				zap.Int("total", evt.Total),
				zap.Int("matches", evt.Matches),
				zap.Duration("dur", evt.Dur),
				zap.String("note", evt.Note),
			)...)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
