// Package worker executes queued tracking runs and records their lifecycle.
package worker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/serp-rank-tracker/internal/engine"
	"github.com/JakeFAU/serp-rank-tracker/internal/metrics"
	"github.com/JakeFAU/serp-rank-tracker/internal/runner"
	"github.com/JakeFAU/serp-rank-tracker/internal/serp"
)

// Executor runs one tracking run end to end.
type Executor interface {
	Execute(ctx context.Context, cfg serp.RunConfig, onProgress engine.ProgressFunc) (runner.Outcome, error)
}

// Config controls Worker behavior.
type Config struct {
	ResultsPerPage int
}

// Worker consumes queue items and executes runs.
type Worker struct {
	queue    serp.Queue
	runs     serp.RunStore
	projects serp.ProjectStore
	executor Executor
	registry *Registry
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Worker.
func New(
	queue serp.Queue,
	runs serp.RunStore,
	projects serp.ProjectStore,
	executor Executor,
	registry *Registry,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if registry == nil {
		registry = NewRegistry()
	}
	if cfg.ResultsPerPage <= 0 {
		cfg.ResultsPerPage = engine.DefaultConfig().ResultsPerPage
	}
	return &Worker{
		queue:    queue,
		runs:     runs,
		projects: projects,
		executor: executor,
		registry: registry,
		cfg:      cfg,
		logger:   logger,
	}
}

// Run blocks, consuming queue items until the context finishes or the queue closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, serp.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued run", zap.String("run_id", item.RunID), zap.String("project", item.Project))
		w.Process(ctx, item)
	}
}

// Process executes a single queue item and records its final status.
func (w *Worker) Process(ctx context.Context, item serp.QueueItem) {
	logger := w.logger.With(zap.String("run_id", item.RunID), zap.String("project", item.Project))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if !w.registry.start(item.RunID, cancel) {
		logger.Info("run canceled before start")
		w.finish(ctx, logger, item.RunID, serp.RunStatusCanceled, "canceled before start", serp.RunCounters{})
		return
	}
	defer w.registry.done(item.RunID)

	cfg, err := w.buildConfig(ctx, item)
	if err != nil {
		logger.Error("run config rejected", zap.Error(err))
		w.finish(ctx, logger, item.RunID, serp.RunStatusFailed, err.Error(), serp.RunCounters{})
		return
	}
	counters := serp.RunCounters{KeywordsTotal: len(cfg.Keywords)}
	if err := w.runs.UpdateRunStatus(ctx, item.RunID, serp.RunStatusRunning, "", counters); err != nil {
		logger.Error("update run status failed", zap.Error(err))
		w.finish(ctx, logger, item.RunID, serp.RunStatusFailed, fmt.Sprintf("mark running: %v", err), counters)
		return
	}

	metrics.IncActiveWorkers()
	out, err := w.executor.Execute(runCtx, cfg, func(processed, total, matches int) {
		logger.Debug("keyword processed",
			zap.Int("processed", processed),
			zap.Int("total", total),
			zap.Int("matches", matches),
		)
	})
	metrics.DecActiveWorkers()

	status, errText := deriveFinalStatus(out, err)
	if out.ReportURI != "" {
		if err := w.runs.SetReport(context.WithoutCancel(ctx), item.RunID, out.ReportURI); err != nil {
			logger.Error("record report failed", zap.Error(err))
		}
	}
	w.finish(ctx, logger, item.RunID, status, errText, out.Result.Counters)
}

func (w *Worker) buildConfig(ctx context.Context, item serp.QueueItem) (serp.RunConfig, error) {
	project, err := w.projects.Get(ctx, item.Project)
	if err != nil {
		return serp.RunConfig{}, fmt.Errorf("load project %q: %w", item.Project, err)
	}
	cfg, err := serp.BuildRunConfig(project, w.cfg.ResultsPerPage, item.Pages)
	if err != nil {
		return serp.RunConfig{}, err
	}
	cfg.RunID = item.RunID
	return cfg, nil
}

func (w *Worker) finish(
	ctx context.Context,
	logger *zap.Logger,
	runID string,
	status serp.RunStatus,
	errText string,
	counters serp.RunCounters,
) {
	metrics.ObserveRun(string(status))
	if err := w.runs.UpdateRunStatus(context.WithoutCancel(ctx), runID, status, errText, counters); err != nil {
		logger.Error("final run status update failed", zap.Error(err))
		return
	}
	logger.Info("run recorded", zap.String("status", string(status)), zap.String("error", errText))
}

// deriveFinalStatus maps an execution outcome onto a run status. Output
// errors after a completed fetch keep the fetch status and surface as text.
func deriveFinalStatus(out runner.Outcome, err error) (serp.RunStatus, string) {
	if err != nil && out.Result.Status == "" {
		return serp.RunStatusFailed, err.Error()
	}
	errText := ""
	if err != nil {
		errText = err.Error()
	}
	if out.Result.Status == "" {
		return serp.RunStatusFailed, "run produced no result"
	}
	return out.Result.Status, errText
}
