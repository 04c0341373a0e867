package server

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/serp-rank-tracker/internal/config"
	"github.com/JakeFAU/serp-rank-tracker/internal/progress"
	progresssinks "github.com/JakeFAU/serp-rank-tracker/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/serp-rank-tracker/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/serp-rank-tracker/internal/publisher/pubsub"
	"github.com/JakeFAU/serp-rank-tracker/internal/serp"
	gcsstorage "github.com/JakeFAU/serp-rank-tracker/internal/storage/gcs"
	localstorage "github.com/JakeFAU/serp-rank-tracker/internal/storage/local"
	memoryStorage "github.com/JakeFAU/serp-rank-tracker/internal/storage/memory"
	pgstore "github.com/JakeFAU/serp-rank-tracker/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/serp-rank-tracker/internal/storage/sqlite"
)

// setupPostgres opens the pool only when a store is configured to use it.
func (a *App) setupPostgres(ctx context.Context) (*pgxpool.Pool, error) {
	if a.cfg.History.Backend != config.BackendPostgres && a.cfg.Workers.RunStore != config.BackendPostgres {
		return nil, nil
	}
	pool, err := pgstore.Open(ctx, a.cfg.Postgres())
	if err != nil {
		return nil, fmt.Errorf("postgres init failed: %w", err)
	}
	a.onClose("postgres", func(context.Context) error {
		pool.Close()
		return nil
	})
	a.logger.Info("postgres pool initialized", zap.Int32("max_conns", a.cfg.Database.MaxConns))
	return pool, nil
}

func (a *App) setupHistory(ctx context.Context, pool *pgxpool.Pool) (serp.HistoryStore, error) {
	switch a.cfg.History.Backend {
	case config.BackendPostgres:
		store, err := pgstore.NewHistoryStore(pool, a.cfg.Database.HistoryTable)
		if err != nil {
			return nil, fmt.Errorf("postgres history store init failed: %w", err)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("postgres history schema failed: %w", err)
		}
		a.logger.Info("using postgres history backend", zap.String("table", a.cfg.Database.HistoryTable))
		return store, nil
	case config.BackendSQLite:
		store, err := sqlitestore.Open(ctx, a.cfg.History.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("sqlite history store init failed: %w", err)
		}
		a.onClose("sqlite", func(context.Context) error { return store.Close() })
		a.logger.Info("using sqlite history backend", zap.String("path", a.cfg.History.SQLitePath))
		return store, nil
	case config.BackendFile:
		store, err := localstorage.NewHistoryStore(localstorage.Config{BaseDir: a.cfg.History.Dir})
		if err != nil {
			return nil, fmt.Errorf("file history store init failed: %w", err)
		}
		a.logger.Info("using file history backend", zap.String("dir", a.cfg.History.Dir))
		return store, nil
	default:
		a.logger.Warn("using in-memory history backend; history is lost on exit")
		return memoryStorage.NewHistoryStore(), nil
	}
}

func (a *App) setupBlobs(ctx context.Context) (serp.BlobStore, error) {
	switch a.cfg.Report.Backend {
	case config.BackendGCS:
		store, err := gcsstorage.Dial(ctx, gcsstorage.Config{Bucket: a.cfg.Report.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.onClose("gcs", func(context.Context) error { return store.Close() })
		a.logger.Info("using GCS report backend", zap.String("bucket", a.cfg.Report.Bucket))
		return store, nil
	case config.BackendLocal:
		store, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Report.Dir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("using local report backend", zap.String("dir", a.cfg.Report.Dir))
		return store, nil
	default:
		a.logger.Warn("using in-memory report backend; workbooks are lost on exit")
		return memoryStorage.NewBlobStore(), nil
	}
}

func (a *App) setupRunStore(ctx context.Context, pool *pgxpool.Pool) (serp.RunStore, error) {
	if a.cfg.Workers.RunStore != config.BackendPostgres {
		return memoryStorage.NewRunStore(), nil
	}
	store, err := pgstore.NewRunStore(pool, a.cfg.Database.RunsTable)
	if err != nil {
		return nil, fmt.Errorf("postgres run store init failed: %w", err)
	}
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("postgres run schema failed: %w", err)
	}
	a.logger.Info("using postgres run store", zap.String("table", a.cfg.Database.RunsTable))
	return store, nil
}

func (a *App) setupPublisher(ctx context.Context) (serp.Publisher, error) {
	if a.cfg.PubSub.TopicName == "" || a.cfg.PubSub.ProjectID == "" {
		a.logger.Warn("No Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	pub, err := gcppublisher.Dial(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.onClose("pubsub", func(context.Context) error { return pub.Close() })
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return pub, nil
}

// setupProgress always logs and exports progress; the store sink is added so
// the API can report keyword progress of running runs.
func (a *App) setupProgress() (*progress.Hub, error) {
	promSink, err := progresssinks.NewPrometheusSink(a.registerer)
	if err != nil {
		return nil, fmt.Errorf("prometheus sink init failed: %w", err)
	}
	sinkList := []progress.Sink{
		progresssinks.NewLogSink(a.logger.Named("progress_log")),
		promSink,
		progresssinks.NewStoreSink(a.runs, a.logger.Named("progress_store")),
	}
	hubCfg := a.cfg.HubConfig()
	hubCfg.Logger = a.logger.Named("progress_hub")
	hub := progress.NewHub(hubCfg, sinkList...)
	a.logger.Info("progress hub initialized",
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
		zap.Duration("sink_timeout", hubCfg.SinkTimeout),
	)
	return hub, nil
}
