// Package server builds the tracker's dependency graph and runs it either as a
// long-lived service or for a single run.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/serp-rank-tracker/internal/api"
	"github.com/JakeFAU/serp-rank-tracker/internal/clock/system"
	"github.com/JakeFAU/serp-rank-tracker/internal/config"
	"github.com/JakeFAU/serp-rank-tracker/internal/dispatcher"
	"github.com/JakeFAU/serp-rank-tracker/internal/engine"
	"github.com/JakeFAU/serp-rank-tracker/internal/hash/sha256"
	"github.com/JakeFAU/serp-rank-tracker/internal/history"
	"github.com/JakeFAU/serp-rank-tracker/internal/id/uuid"
	"github.com/JakeFAU/serp-rank-tracker/internal/metrics"
	"github.com/JakeFAU/serp-rank-tracker/internal/policy/ratelimit"
	"github.com/JakeFAU/serp-rank-tracker/internal/progress"
	"github.com/JakeFAU/serp-rank-tracker/internal/project"
	queueMemory "github.com/JakeFAU/serp-rank-tracker/internal/queue/memory"
	"github.com/JakeFAU/serp-rank-tracker/internal/runner"
	"github.com/JakeFAU/serp-rank-tracker/internal/schedule"
	"github.com/JakeFAU/serp-rank-tracker/internal/search/serper"
	"github.com/JakeFAU/serp-rank-tracker/internal/serp"
	"github.com/JakeFAU/serp-rank-tracker/internal/worker"
)

const defaultShutdownTimeout = 30 * time.Second

// App contains the application's dependencies.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	clock    *system.Clock
	ids      *uuid.Generator
	projects *project.FileStore
	runs     serp.RunStore
	runner   *runner.Runner
	hub      *progress.Hub

	queue     *queueMemory.Queue
	registry  *worker.Registry
	dispatch  *dispatcher.Dispatcher
	scheduler *schedule.Scheduler
	apiServer *api.Server

	registerer prometheus.Registerer
	closers    []closer
}

// Option customizes Build.
type Option func(*App)

// WithRegisterer registers progress collectors against reg instead of the
// default Prometheus registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(a *App) {
		a.registerer = reg
	}
}

type closer struct {
	name string
	fn   func(context.Context) error
}

// Build creates the application's dependencies. The caller owns logger.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	app := &App{
		cfg:    cfg,
		logger: logger,
		clock:  system.New(),
		ids:    uuid.NewUUIDGenerator(),

		registerer: prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(app)
	}
	logger.Info("building application dependencies",
		zap.String("history_backend", cfg.History.Backend),
		zap.String("report_backend", cfg.Report.Backend),
		zap.String("run_store", cfg.Workers.RunStore),
	)

	if err := app.build(ctx); err != nil {
		if cerr := app.Close(context.WithoutCancel(ctx)); cerr != nil {
			logger.Warn("cleanup after failed build", zap.Error(cerr))
		}
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	var err error
	a.projects, err = project.NewFileStore(a.cfg.Projects.File)
	if err != nil {
		return fmt.Errorf("project store init failed: %w", err)
	}

	pg, err := a.setupPostgres(ctx)
	if err != nil {
		return err
	}
	historyStore, err := a.setupHistory(ctx, pg)
	if err != nil {
		return err
	}
	blobs, err := a.setupBlobs(ctx)
	if err != nil {
		return err
	}
	a.runs, err = a.setupRunStore(ctx, pg)
	if err != nil {
		return err
	}
	publisher, err := a.setupPublisher(ctx)
	if err != nil {
		return err
	}
	a.hub, err = a.setupProgress()
	if err != nil {
		return err
	}

	tracker, err := history.NewTracker(historyStore, a.cfg.HistoryRetention(), a.logger.Named("history"))
	if err != nil {
		return fmt.Errorf("history tracker init failed: %w", err)
	}

	client := serper.New(serper.Options{
		Endpoint: a.cfg.Search.Endpoint,
		Timeout:  a.cfg.Search.Timeout,
		Logger:   a.logger.Named("serper"),
	})
	opts := []engine.Option{
		engine.WithLogger(a.logger.Named("engine")),
		engine.WithEmitter(a.hub),
	}
	if a.cfg.Search.RateLimitRPS > 0 {
		opts = append(opts, engine.WithRateLimiter(ratelimit.New(a.cfg.RateLimit())))
		a.logger.Info("rate limiter enabled",
			zap.Float64("rps", a.cfg.Search.RateLimitRPS),
			zap.Int("burst", a.cfg.Search.RateLimitBurst),
		)
	}
	eng, err := engine.New(a.cfg.EngineConfig(), client, a.clock, opts...)
	if err != nil {
		return fmt.Errorf("engine init failed: %w", err)
	}

	a.runner, err = runner.New(eng, tracker, blobs, publisher, sha256.New(), a.clock, runner.Config{
		ReportPrefix: a.cfg.Report.Prefix,
		Topic:        a.cfg.PubSub.TopicName,
		Alerts:       a.cfg.AlertRules(),
	}, a.logger.Named("runner"))
	if err != nil {
		return fmt.Errorf("runner init failed: %w", err)
	}
	return nil
}

// Runner exposes the run pipeline for one-shot runs.
func (a *App) Runner() *runner.Runner {
	return a.runner
}

// Projects exposes the project definitions.
func (a *App) Projects() serp.ProjectStore {
	return a.projects
}

// RunOnce executes project in the foreground, bypassing the queue.
func (a *App) RunOnce(ctx context.Context, name string, pages *int, onProgress engine.ProgressFunc) (runner.Outcome, error) {
	p, err := a.projects.Get(ctx, name)
	if err != nil {
		return runner.Outcome{}, err
	}
	cfg, err := serp.BuildRunConfig(p, a.cfg.Search.ResultsPerPage, pages)
	if err != nil {
		return runner.Outcome{}, err
	}
	cfg.RunID, err = a.ids.NewID()
	if err != nil {
		return runner.Outcome{}, fmt.Errorf("generate run id: %w", err)
	}
	return a.runner.Execute(ctx, cfg, onProgress)
}

// Serve starts workers, the scheduler and the HTTP server, and blocks until
// the context is canceled or a signal arrives.
func (a *App) Serve(ctx context.Context) error {
	if err := a.setupService(); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		a.logger.Info("dispatcher started", zap.Int("workers", a.cfg.Workers.Count))
		a.dispatch.Run(ctx)
	}()
	if a.scheduler != nil {
		a.scheduler.Start(ctx)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	if a.scheduler != nil {
		if err := a.scheduler.Stop(shutdownCtx); err != nil {
			a.logger.Warn("scheduler stop failed", zap.Error(err))
		}
	}
	a.queue.Close()
	select {
	case <-dispatchDone:
	case <-shutdownCtx.Done():
		a.logger.Warn("workers still running at shutdown deadline")
	}
	return a.Close(shutdownCtx)
}

func (a *App) setupService() error {
	a.queue = queueMemory.NewQueue(a.cfg.Workers.QueueDepth)
	a.registry = worker.NewRegistry()

	workers := make([]*worker.Worker, 0, a.cfg.Workers.Count)
	for i := range a.cfg.Workers.Count {
		workers = append(workers, worker.New(
			a.queue,
			a.runs,
			a.projects,
			a.runner,
			a.registry,
			worker.Config{ResultsPerPage: a.cfg.Search.ResultsPerPage},
			a.logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	a.dispatch = dispatcher.New(a.queue, a.runs, a.ids, a.clock, a.registry, workers, a.logger.Named("dispatcher"))

	if a.cfg.Schedule.Enabled {
		var err error
		a.scheduler, err = schedule.New(schedule.Config{
			Spec:     a.cfg.Schedule.Spec,
			Projects: a.cfg.Schedule.Projects,
		}, a.dispatch, a.projects, a.logger.Named("scheduler"))
		if err != nil {
			return fmt.Errorf("scheduler init failed: %w", err)
		}
	}

	a.apiServer = api.NewServer(a.runs, a.projects, a.dispatch, api.Config{
		AuthEnabled:    a.cfg.Auth.Enabled,
		APIKey:         a.cfg.Auth.APIKey,
		RequestTimeout: a.cfg.Server.RequestTimeout,
	}, a.logger.Named("api"))
	return nil
}

// Close flushes progress and releases clients in reverse construction order.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(ctx); err != nil {
			a.logger.Warn("close failed", zap.String("resource", c.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	a.closers = nil
	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}

func (a *App) onClose(name string, fn func(context.Context) error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}
