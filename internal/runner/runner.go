// Package runner executes one complete tracking run: fetch, history, alerts,
// report and notification.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/serp-rank-tracker/internal/alerts"
	"github.com/JakeFAU/serp-rank-tracker/internal/engine"
	"github.com/JakeFAU/serp-rank-tracker/internal/history"
	"github.com/JakeFAU/serp-rank-tracker/internal/report"
	"github.com/JakeFAU/serp-rank-tracker/internal/serp"
)

// Engine runs the fetch stage.
type Engine interface {
	Run(ctx context.Context, cfg serp.RunConfig, onProgress engine.ProgressFunc) (engine.Result, error)
}

// Config controls where reports go and where completion events are published.
type Config struct {
	ReportPrefix string
	Topic        string
	Alerts       alerts.Config
}

// RunCompletedEvent is published once a run's report is stored.
type RunCompletedEvent struct {
	RunID        string           `json:"run_id"`
	Project      string           `json:"project"`
	Status       serp.RunStatus   `json:"status"`
	Timestamp    string           `json:"timestamp"`
	ReportURI    string           `json:"report_uri,omitempty"`
	ReportSHA256 string           `json:"report_sha256,omitempty"`
	Counters     serp.RunCounters `json:"counters"`
	Lost         int              `json:"lost"`
	Alerts       []alerts.Alert   `json:"alerts,omitempty"`
}

// Outcome is everything a run produced, including partial output when
// post-processing failed.
type Outcome struct {
	Result       engine.Result
	Analysis     history.Analysis
	History      []serp.HistoryEntry
	Alerts       []alerts.Alert
	Workbook     report.Workbook
	ReportName   string
	ReportURI    string
	ReportSHA256 string
	EventID      string
}

// Runner ties the engine to history, reporting and publishing.
type Runner struct {
	engine    Engine
	history   *history.Tracker
	blobs     serp.BlobStore
	publisher serp.Publisher
	hasher    serp.Hasher
	clock     serp.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Runner. publisher may be nil.
func New(
	eng Engine,
	tracker *history.Tracker,
	blobs serp.BlobStore,
	publisher serp.Publisher,
	hasher serp.Hasher,
	clock serp.Clock,
	cfg Config,
	logger *zap.Logger,
) (*Runner, error) {
	switch {
	case eng == nil:
		return nil, errors.New("runner: engine is required")
	case tracker == nil:
		return nil, errors.New("runner: history tracker is required")
	case blobs == nil:
		return nil, errors.New("runner: blob store is required")
	case hasher == nil:
		return nil, errors.New("runner: hasher is required")
	case clock == nil:
		return nil, errors.New("runner: clock is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		engine:    eng,
		history:   tracker,
		blobs:     blobs,
		publisher: publisher,
		hasher:    hasher,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}, nil
}

// Execute runs cfg end to end. Only an invalid config or engine failure
// aborts the run; history, report and publish failures are joined into the
// returned error next to a complete Outcome. A canceled run still produces a
// report but is not added to history. Runs sharing a history store execute
// one at a time.
func (r *Runner) Execute(ctx context.Context, cfg serp.RunConfig, onProgress engine.ProgressFunc) (Outcome, error) {
	logger := r.logger.With(zap.String("run_id", cfg.RunID), zap.String("project", cfg.Name))
	var errs []error

	unlock, err := r.history.Lock(ctx, cfg.HistoryStoreID)
	if err != nil {
		return Outcome{}, fmt.Errorf("run %s: %w", cfg.Name, err)
	}
	defer unlock()

	prior, err := r.history.Load(ctx, cfg.HistoryStoreID)
	if err != nil {
		logger.Warn("history unavailable; reporting without it", zap.Error(err))
		errs = append(errs, err)
		prior = nil
	}

	res, err := r.engine.Run(ctx, cfg, onProgress)
	if err != nil {
		return Outcome{}, fmt.Errorf("run %s: %w", cfg.Name, err)
	}

	// Post-processing outlives cancellation of the caller.
	detached := context.WithoutCancel(ctx)
	ts := r.clock.Now()
	out := Outcome{Result: res}
	out.Analysis = history.Analyze(history.Input{
		Prior:      prior,
		Current:    res.Rows,
		Now:        ts,
		LostWindow: r.history.Config().LostWindow,
		Buckets:    res.Buckets,
		Fetched:    fetchedKeywords(cfg, res),
	})

	if res.Canceled() {
		logger.Info("run canceled; history left unchanged", zap.Int("processed", res.Processed))
	} else {
		updated, err := r.history.Save(detached, cfg.HistoryStoreID, res.Rows, ts)
		if err != nil {
			logger.Error("history save failed", zap.Error(err))
			errs = append(errs, err)
		} else {
			out.History = updated
			out.Alerts = alerts.Analyze(updated, r.cfg.Alerts)
			for _, a := range out.Alerts {
				logger.Warn("rank alert", zap.String("kind", string(a.Kind)), zap.String("alert", a.String()))
			}
		}
	}

	out.Workbook = report.Assemble(report.Input{
		Project:     cfg.Name,
		Rows:        res.Rows,
		AllStats:    res.AllStats,
		TargetStats: res.TargetStats,
		Buckets:     res.Buckets,
		Analysis:    out.Analysis,
		PriorRuns:   len(prior),
	})
	out.ReportName = report.FileName(cfg.OutputPrefix, ts)

	if err := r.storeReport(detached, &out); err != nil {
		logger.Error("report write failed", zap.String("report", out.ReportName), zap.Error(err))
		errs = append(errs, err)
	} else {
		logger.Info("report written",
			zap.String("uri", out.ReportURI),
			zap.String("sha256", out.ReportSHA256),
			zap.Int("lost", len(out.Analysis.Lost)),
		)
	}

	if err := r.publish(detached, cfg, ts, &out); err != nil {
		logger.Warn("run completion publish failed", zap.Error(err))
		errs = append(errs, err)
	}
	return out, errors.Join(errs...)
}

// fetchedKeywords is nil for a complete run and the processed prefix of the
// keyword list for a canceled one.
func fetchedKeywords(cfg serp.RunConfig, res engine.Result) map[string]bool {
	if !res.Canceled() {
		return nil
	}
	fetched := make(map[string]bool, res.Processed)
	for _, kw := range cfg.Keywords[:min(res.Processed, len(cfg.Keywords))] {
		fetched[kw] = true
	}
	return fetched
}

func (r *Runner) storeReport(ctx context.Context, out *Outcome) error {
	data, err := report.EncodeXLSX(out.Workbook)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	digest, err := r.hasher.Hash(data)
	if err != nil {
		return fmt.Errorf("hash report: %w", err)
	}
	uri, err := r.blobs.PutObject(ctx, r.reportPath(out.ReportName), report.ContentTypeXLSX, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("put report: %w", err)
	}
	out.ReportURI = uri
	out.ReportSHA256 = digest
	return nil
}

func (r *Runner) reportPath(name string) string {
	prefix := strings.Trim(r.cfg.ReportPrefix, "/")
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}

func (r *Runner) publish(ctx context.Context, cfg serp.RunConfig, ts time.Time, out *Outcome) error {
	if r.cfg.Topic == "" || r.publisher == nil {
		return nil
	}
	event := RunCompletedEvent{
		RunID:        cfg.RunID,
		Project:      cfg.Name,
		Status:       out.Result.Status,
		Timestamp:    ts.Format(time.RFC3339),
		ReportURI:    out.ReportURI,
		ReportSHA256: out.ReportSHA256,
		Counters:     out.Result.Counters,
		Lost:         len(out.Analysis.Lost),
		Alerts:       out.Alerts,
	}
	id, err := r.publisher.Publish(ctx, r.cfg.Topic, event)
	if err != nil {
		return fmt.Errorf("publish run completed: %w", err)
	}
	out.EventID = id
	return nil
}
