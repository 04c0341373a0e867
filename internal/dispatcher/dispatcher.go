// Package dispatcher accepts run submissions and fans queued runs out to workers.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/serp-rank-tracker/internal/serp"
	"github.com/JakeFAU/serp-rank-tracker/internal/worker"
)

// ErrNotCancelable is returned when canceling a run that already finished.
var ErrNotCancelable = errors.New("run already finished")

// Dispatcher owns the queue, the worker pool and the cancel registry.
type Dispatcher struct {
	queue    serp.Queue
	runs     serp.RunStore
	ids      serp.IDGenerator
	clock    serp.Clock
	registry *worker.Registry
	workers  []*worker.Worker
	logger   *zap.Logger
}

// New creates a Dispatcher.
func New(
	queue serp.Queue,
	runs serp.RunStore,
	ids serp.IDGenerator,
	clock serp.Clock,
	registry *worker.Registry,
	workers []*worker.Worker,
	logger *zap.Logger,
) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:    queue,
		runs:     runs,
		ids:      ids,
		clock:    clock,
		registry: registry,
		workers:  workers,
		logger:   logger,
	}
}

// Run starts all workers and blocks until the context finishes.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}

// Submit records a queued run for project and enqueues it.
func (d *Dispatcher) Submit(ctx context.Context, project string, pages *int) (serp.Run, error) {
	id, err := d.ids.NewID()
	if err != nil {
		return serp.Run{}, fmt.Errorf("generate run id: %w", err)
	}
	run := serp.Run{
		ID:        id,
		Project:   project,
		Pages:     pages,
		Status:    serp.RunStatusQueued,
		Submitted: d.clock.Now().UTC(),
	}
	if err := d.runs.CreateRun(ctx, run); err != nil {
		return serp.Run{}, fmt.Errorf("create run: %w", err)
	}
	item := serp.QueueItem{RunID: id, Project: project, Pages: pages, Submitted: run.Submitted.Unix()}
	if err := d.queue.Enqueue(ctx, item); err != nil {
		if uerr := d.runs.UpdateRunStatus(context.WithoutCancel(ctx), id, serp.RunStatusFailed, err.Error(), serp.RunCounters{}); uerr != nil {
			d.logger.Error("mark unqueued run failed", zap.String("run_id", id), zap.Error(uerr))
		}
		return serp.Run{}, fmt.Errorf("queue enqueue: %w", err)
	}
	d.logger.Info("run queued", zap.String("run_id", id), zap.String("project", project))
	return run, nil
}

// Cancel stops a running run or prevents a queued one from starting.
func (d *Dispatcher) Cancel(ctx context.Context, runID string) (serp.Run, error) {
	run, err := d.runs.GetRun(ctx, runID)
	if err != nil {
		return serp.Run{}, err
	}
	switch run.Status {
	case serp.RunStatusSucceeded, serp.RunStatusFailed, serp.RunStatusCanceled:
		return run, ErrNotCancelable
	}
	if !d.registry.Cancel(runID) {
		if err := d.runs.UpdateRunStatus(ctx, runID, serp.RunStatusCanceled, "canceled before start", run.Counters); err != nil {
			return serp.Run{}, fmt.Errorf("cancel run: %w", err)
		}
	}
	d.logger.Info("run cancel requested", zap.String("run_id", runID))
	return d.runs.GetRun(ctx, runID)
}
