package sinks

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/serp-rank-tracker/internal/progress"
)

// PrometheusSink exports run progress via Prometheus. It owns the collectors
// for runs started/completed/running, keywords processed and page fetches.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsRunning   prometheus.Gauge
	runRuntime    *prometheus.HistogramVec

	keywordsProcessed *prometheus.CounterVec
	pageFetches       *prometheus.CounterVec
	pageHits          *prometheus.CounterVec
	pageDuration      *prometheus.HistogramVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "serp_runs_started_total",
			Help: "Total tracking runs that have started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "serp_runs_completed_total",
			Help: "Total tracking runs completed partitioned by result.",
		}, []string{"result"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "serp_runs_running",
			Help: "Current number of running tracking runs.",
		}),
		runRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "serp_run_runtime_seconds",
			Help:    "Wall time per completed run.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200, 3600},
		}, []string{"result"}),
		keywordsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "serp_keywords_processed_total",
			Help: "Keywords processed partitioned by project.",
		}, []string{"project"}),
		pageFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "serp_page_fetches_total",
			Help: "Page fetches partitioned by project and final status class.",
		}, []string{"project", "status_class"}),
		pageHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "serp_page_hits_total",
			Help: "Organic hits returned per project.",
		}, []string{"project"}),
		pageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "serp_page_duration_seconds",
			Help:    "Page fetch duration including retries.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"status_class"}),
		tracker: newRunTracker(),
	}
	var err error
	if s.runsStarted, err = register(reg, s.runsStarted); err != nil {
		return nil, err
	}
	if s.runsCompleted, err = register(reg, s.runsCompleted); err != nil {
		return nil, err
	}
	if s.runsRunning, err = register(reg, s.runsRunning); err != nil {
		return nil, err
	}
	if s.runRuntime, err = register(reg, s.runRuntime); err != nil {
		return nil, err
	}
	if s.keywordsProcessed, err = register(reg, s.keywordsProcessed); err != nil {
		return nil, err
	}
	if s.pageFetches, err = register(reg, s.pageFetches); err != nil {
		return nil, err
	}
	if s.pageHits, err = register(reg, s.pageHits); err != nil {
		return nil, err
	}
	if s.pageDuration, err = register(reg, s.pageDuration); err != nil {
		return nil, err
	}
	return s, nil
}

// register adds c to reg, reusing the collector already registered under the
// same descriptor so several sinks can share one registry.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(T); ok {
			return existing, nil
		}
	}
	return c, fmt.Errorf("register progress collector: %w", err)
}

// Consume updates the Prometheus collectors using the provided batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	project := evt.Project
	if project == "" {
		project = "unknown"
	}
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
		if s.tracker.start(evt.RunID) {
			s.runsRunning.Inc()
		}
	case progress.StageRunDone:
		s.completeRun(evt, "success")
	case progress.StageRunCanceled:
		s.completeRun(evt, "canceled")
	case progress.StageRunError:
		s.completeRun(evt, "error")
	case progress.StageKeywordDone:
		s.keywordsProcessed.WithLabelValues(project).Inc()
	case progress.StagePageDone:
		statusClass := string(evt.StatusClass)
		if statusClass == "" {
			statusClass = string(progress.StatusOther)
		}
		s.pageFetches.WithLabelValues(project, statusClass).Inc()
		if evt.Hits > 0 {
			s.pageHits.WithLabelValues(project).Add(float64(evt.Hits))
		}
		if evt.Dur > 0 {
			s.pageDuration.WithLabelValues(statusClass).Observe(evt.Dur.Seconds())
		}
	}
}

func (s *PrometheusSink) completeRun(evt progress.Event, result string) {
	s.runsCompleted.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.runRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
	if s.tracker.complete(evt.RunID) {
		s.runsRunning.Dec()
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[string]struct{})}
}

func (t *runTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
