// Package metrics exposes Prometheus collectors for the rank tracker service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	searchRequestsTotal        *prometheus.CounterVec
	searchRetriesTotal         *prometheus.CounterVec
	searchFailedPagesTotal     prometheus.Counter
	credentialFailuresTotal    prometheus.Counter
	credentialCooldownsTotal   prometheus.Counter
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	runsTotal                  *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	rateLimitDelaysSeconds     prometheus.Histogram

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		searchRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "serp_search_requests_total",
				Help: "Total search API attempts, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		searchRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "serp_search_retries_total",
				Help: "Total search API retries, labeled by reason.",
			},
			[]string{"reason"},
		)

		searchFailedPagesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "serp_search_failed_pages_total",
				Help: "Pages that yielded no hits after a fatal status or an exhausted retry budget.",
			},
		)

		credentialFailuresTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "serp_credential_failures_total",
				Help: "Credential-limited replies counted against an API key.",
			},
		)

		credentialCooldownsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "serp_credential_cooldowns_total",
				Help: "Times every API key was exhausted and the pool cooled down.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "serp_runs_total",
				Help: "Total number of runs processed by workers, labeled by status.",
			},
			[]string{"status"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "serp_active_workers",
				Help: "Number of workers currently executing a run.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "serp_rate_limit_delays_seconds",
				Help:    "Histogram of outbound rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveSearch counts one search API attempt.
func ObserveSearch(outcome string) {
	Init()
	searchRequestsTotal.WithLabelValues(outcome).Inc()
}

// ObserveRetry counts one retry of a page request.
func ObserveRetry(reason string) {
	Init()
	searchRetriesTotal.WithLabelValues(reason).Inc()
}

// ObserveFailedPage counts a page that gave up without hits.
func ObserveFailedPage() {
	Init()
	searchFailedPagesTotal.Inc()
}

// ObserveCredentialFailure counts a failure recorded against an API key.
func ObserveCredentialFailure() {
	Init()
	credentialFailuresTotal.Inc()
}

// ObserveCredentialCooldown counts a pool-wide cooldown.
func ObserveCredentialCooldown() {
	Init()
	credentialCooldownsTotal.Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRun increments the run counter for the given status.
func ObserveRun(status string) {
	Init()
	runsTotal.WithLabelValues(status).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.Observe(duration.Seconds())
}
