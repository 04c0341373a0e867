// Package engine runs one tracking pass: it fetches every keyword page from the
// search API under a shared concurrency bound, retries with backoff and key
// rotation, and streams the hits into the aggregator.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/serp-rank-tracker/internal/aggregate"
	"github.com/JakeFAU/serp-rank-tracker/internal/bucket"
	"github.com/JakeFAU/serp-rank-tracker/internal/credentials"
	"github.com/JakeFAU/serp-rank-tracker/internal/metrics"
	"github.com/JakeFAU/serp-rank-tracker/internal/progress"
	"github.com/JakeFAU/serp-rank-tracker/internal/serp"
)

const (
	defaultResultsPerPage  = 10
	defaultMaxConcurrent   = 3
	defaultRequestTimeout  = 30 * time.Second
	defaultBackoffInitial  = time.Second
	defaultBackoffMax      = 16 * time.Second
	defaultRetryMultiplier = 3
	defaultPauseMin        = 400 * time.Millisecond
	defaultPauseMax        = 900 * time.Millisecond
)

// Config tunes request pacing and failure handling.
type Config struct {
	ResultsPerPage  int
	MaxConcurrent   int
	RequestTimeout  time.Duration
	BackoffInitial  time.Duration
	BackoffMax      time.Duration
	RetryMultiplier int
	KeywordPauseMin time.Duration
	KeywordPauseMax time.Duration
	Credentials     credentials.Config
}

// DefaultConfig returns the production pacing.
func DefaultConfig() Config {
	return Config{
		ResultsPerPage:  defaultResultsPerPage,
		MaxConcurrent:   defaultMaxConcurrent,
		RequestTimeout:  defaultRequestTimeout,
		BackoffInitial:  defaultBackoffInitial,
		BackoffMax:      defaultBackoffMax,
		RetryMultiplier: defaultRetryMultiplier,
		KeywordPauseMin: defaultPauseMin,
		KeywordPauseMax: defaultPauseMax,
		Credentials: credentials.Config{
			MaxFailures: credentials.DefaultMaxFailures,
			Cooldown:    credentials.DefaultCooldown,
		},
	}
}

func (c *Config) applyDefaults() {
	if c.ResultsPerPage <= 0 {
		c.ResultsPerPage = defaultResultsPerPage
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = defaultMaxConcurrent
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.BackoffInitial <= 0 {
		c.BackoffInitial = defaultBackoffInitial
	}
	if c.BackoffMax < c.BackoffInitial {
		c.BackoffMax = max(defaultBackoffMax, c.BackoffInitial)
	}
	if c.RetryMultiplier <= 0 {
		c.RetryMultiplier = defaultRetryMultiplier
	}
	if c.KeywordPauseMin < 0 {
		c.KeywordPauseMin = 0
	}
	if c.KeywordPauseMax < c.KeywordPauseMin {
		c.KeywordPauseMax = c.KeywordPauseMin
	}
}

// CredentialPool is the key rotation the engine needs.
type CredentialPool interface {
	Len() int
	Current() string
	MarkFailed()
	Rotate(ctx context.Context) error
}

// PoolFactory builds a fresh pool for each run.
type PoolFactory func(keys []string) (CredentialPool, error)

// RateLimiter paces calls per credential.
type RateLimiter interface {
	Wait(ctx context.Context, credential string) error
}

// ProgressFunc is called after every keyword with the cumulative row count.
type ProgressFunc func(processed, total, matches int)

// Result is everything one run produced. Rows keep keyword order and rank
// order within a keyword.
type Result struct {
	RunID       string
	Config      serp.RunConfig
	Buckets     bucket.Definition
	Rows        []serp.RankedEntry
	AllStats    []aggregate.DomainStat
	TargetStats []aggregate.DomainStat
	Status      serp.RunStatus
	Processed   int
	StartedAt   time.Time
	FinishedAt  time.Time
	Counters    serp.RunCounters
}

// Canceled reports whether the run stopped before its last keyword.
func (r Result) Canceled() bool {
	return r.Status == serp.RunStatusCanceled
}

// Engine executes runs. It holds no per-run state, so one Engine can serve
// concurrent runs.
type Engine struct {
	cfg     Config
	client  serp.SearchClient
	clock   serp.Clock
	limiter RateLimiter
	emitter progress.Emitter
	logger  *zap.Logger
	newPool PoolFactory
	jitter  func(n int64) int64
}

// Option customizes an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithEmitter sends progress events to emitter.
func WithEmitter(emitter progress.Emitter) Option {
	return func(e *Engine) {
		if emitter != nil {
			e.emitter = emitter
		}
	}
}

// WithRateLimiter paces every attempt through limiter.
func WithRateLimiter(limiter RateLimiter) Option {
	return func(e *Engine) { e.limiter = limiter }
}

// WithPoolFactory replaces the default credentials.Pool.
func WithPoolFactory(factory PoolFactory) Option {
	return func(e *Engine) {
		if factory != nil {
			e.newPool = factory
		}
	}
}

// WithJitter replaces the random source of the keyword pause; f returns a value in [0, n).
func WithJitter(f func(n int64) int64) Option {
	return func(e *Engine) {
		if f != nil {
			e.jitter = f
		}
	}
}

// New builds an Engine.
func New(cfg Config, client serp.SearchClient, clock serp.Clock, opts ...Option) (*Engine, error) {
	if client == nil {
		return nil, errors.New("engine: search client is required")
	}
	if clock == nil {
		return nil, errors.New("engine: clock is required")
	}
	cfg.applyDefaults()
	e := &Engine{
		cfg:     cfg,
		client:  client,
		clock:   clock,
		emitter: progress.Nop{},
		logger:  zap.NewNop(),
		jitter:  rand.Int64N,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.newPool == nil {
		e.newPool = func(keys []string) (CredentialPool, error) {
			pool, err := credentials.New(keys, e.cfg.Credentials, e.clock, e.logger.Named("credentials"))
			if err != nil {
				return nil, err
			}
			return pool, nil
		}
	}
	return e, nil
}

// ResultsPerPage is the page size the engine requests.
func (e *Engine) ResultsPerPage() int {
	return e.cfg.ResultsPerPage
}

// run holds the state of one Run call.
type run struct {
	cfg         serp.RunConfig
	pool        CredentialPool
	sem         *semaphore.Weighted
	requests    atomic.Int64
	retries     atomic.Int64
	failedPages atomic.Int64
}

// Run fetches every keyword in order. Pages of one keyword are fetched
// concurrently and joined before the next keyword starts. ctx is only checked
// between keywords; a canceled run returns the rows gathered so far with
// status canceled and a nil error.
func (e *Engine) Run(ctx context.Context, cfg serp.RunConfig, onProgress ProgressFunc) (Result, error) {
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}
	if cfg.ResultsPerPage != e.cfg.ResultsPerPage {
		return Result{}, fmt.Errorf("%w: run expects %d results per page, engine requests %d",
			serp.ErrInvalidConfig, cfg.ResultsPerPage, e.cfg.ResultsPerPage)
	}
	pool, err := e.newPool(cfg.Credentials)
	if err != nil {
		return Result{}, fmt.Errorf("build credential pool: %w", err)
	}

	defs := bucket.New(cfg.MaxDepth)
	agg := aggregate.New(defs, serp.NewTargetMatcher(cfg.TargetDomains))
	r := &run{
		cfg:  cfg,
		pool: pool,
		sem:  semaphore.NewWeighted(int64(e.cfg.MaxConcurrent)),
	}
	logger := e.logger.With(zap.String("run_id", cfg.RunID), zap.String("project", cfg.Name))
	total := len(cfg.Keywords)

	res := Result{
		RunID:     cfg.RunID,
		Config:    cfg,
		Buckets:   defs,
		Status:    serp.RunStatusSucceeded,
		StartedAt: e.clock.Now(),
	}
	e.emit(progress.Event{RunID: cfg.RunID, Stage: progress.StageRunStart, Project: cfg.Name, Total: total})
	logger.Info("run started",
		zap.Int("keywords", total),
		zap.Int("pages", cfg.Pages),
		zap.Int("max_depth", cfg.MaxDepth),
		zap.Int("credentials", pool.Len()),
	)

	// In-flight batches finish even if ctx is canceled mid-keyword.
	batchCtx := context.WithoutCancel(ctx)
	for i, keyword := range cfg.Keywords {
		if ctx.Err() != nil {
			res.Status = serp.RunStatusCanceled
			break
		}
		if i > 0 {
			if err := e.clock.Sleep(ctx, e.pause()); err != nil {
				res.Status = serp.RunStatusCanceled
				break
			}
		}

		hits := e.fetchKeyword(batchCtx, r, keyword)
		res.Rows = append(res.Rows, agg.Add(keyword, hits)...)
		res.Processed++

		matches := agg.Rows()
		if onProgress != nil {
			onProgress(res.Processed, total, matches)
		}
		e.emit(progress.Event{
			RunID:     cfg.RunID,
			Stage:     progress.StageKeywordDone,
			Project:   cfg.Name,
			Keyword:   keyword,
			Processed: res.Processed,
			Total:     total,
			Matches:   matches,
		})
	}

	res.FinishedAt = e.clock.Now()
	res.AllStats = agg.Stats()
	res.TargetStats = agg.TargetStats()
	res.Counters = serp.RunCounters{
		KeywordsTotal:     total,
		KeywordsProcessed: res.Processed,
		Rows:              agg.Rows(),
		TargetHits:        agg.TargetHits(),
		Requests:          int(r.requests.Load()),
		Retries:           int(r.retries.Load()),
		FailedPages:       int(r.failedPages.Load()),
	}

	stage := progress.StageRunDone
	if res.Canceled() {
		stage = progress.StageRunCanceled
	}
	e.emit(progress.Event{
		RunID:     cfg.RunID,
		Stage:     stage,
		Project:   cfg.Name,
		Processed: res.Processed,
		Total:     total,
		Matches:   res.Counters.Rows,
		Dur:       max(0, res.FinishedAt.Sub(res.StartedAt)),
	})
	logger.Info("run finished",
		zap.String("status", string(res.Status)),
		zap.Int("processed", res.Processed),
		zap.Int("rows", res.Counters.Rows),
		zap.Int("target_hits", res.Counters.TargetHits),
		zap.Int("requests", res.Counters.Requests),
		zap.Int("retries", res.Counters.Retries),
		zap.Int("failed_pages", res.Counters.FailedPages),
	)
	return res, nil
}

// fetchKeyword fetches all pages of keyword and ranks the combined hits.
func (e *Engine) fetchKeyword(ctx context.Context, r *run, keyword string) []serp.OrganicHit {
	pages := make([][]serp.OrganicItem, r.cfg.Pages)
	var g errgroup.Group
	for page := 1; page <= r.cfg.Pages; page++ {
		g.Go(func() error {
			if err := r.sem.Acquire(ctx, 1); err != nil {
				return nil
			}
			defer r.sem.Release(1)
			pages[page-1] = e.fetchPage(ctx, r, serp.SearchRequest{Keyword: keyword, Page: page})
			return nil
		})
	}
	_ = g.Wait()
	return rankHits(pages, r.cfg.ResultsPerPage, r.cfg.MaxDepth)
}

// rankHits assigns run-wide ranks: (page-1)*perPage + position in page. Items
// past perPage on a page or past maxDepth overall are dropped.
func rankHits(pages [][]serp.OrganicItem, perPage, maxDepth int) []serp.OrganicHit {
	var hits []serp.OrganicHit
	for i, items := range pages {
		for j, item := range items {
			if j >= perPage {
				break
			}
			rank := i*perPage + j + 1
			if rank > maxDepth {
				break
			}
			hits = append(hits, serp.OrganicHit{
				Link:    item.Link,
				Title:   item.Title,
				Snippet: item.Snippet,
				Rank:    rank,
			})
		}
	}
	return hits
}

// fetchPage runs the retry loop for one page request. It never fails: every
// give-up path yields no items.
func (e *Engine) fetchPage(ctx context.Context, r *run, req serp.SearchRequest) []serp.OrganicItem {
	keyword, page := req.Keyword, req.Page
	query := serp.SearchQuery{
		Q:        keyword,
		Location: r.cfg.Location,
		GL:       r.cfg.CountryCode,
		HL:       r.cfg.LanguageCode,
		Num:      r.cfg.ResultsPerPage,
		Page:     page,
	}
	logger := e.logger.With(zap.String("keyword", keyword), zap.Int("page", page))
	budget := r.pool.Len() * e.cfg.RetryMultiplier
	delays := newBackoff(e.cfg.BackoffInitial, e.cfg.BackoffMax)
	start := e.clock.Now()
	attempts, retries := 0, 0

	done := func(status int, items []serp.OrganicItem, note string) []serp.OrganicItem {
		if items == nil {
			r.failedPages.Add(1)
			metrics.ObserveFailedPage()
		}
		e.emit(progress.Event{
			RunID:       r.cfg.RunID,
			Stage:       progress.StagePageDone,
			Project:     r.cfg.Name,
			Keyword:     keyword,
			Page:        page,
			StatusClass: progress.ClassifyStatus(status),
			Attempts:    attempts,
			Hits:        len(items),
			Dur:         max(0, e.clock.Now().Sub(start)),
			Note:        note,
		})
		return items
	}

	for {
		credential := r.pool.Current()
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx, credential); err != nil {
				logger.Warn("rate limiter wait failed", zap.Error(err))
				return done(0, nil, err.Error())
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
		resp, err := e.client.Search(attemptCtx, credential, query)
		cancel()
		attempts++
		r.requests.Add(1)

		result, label := classify(resp, err)
		metrics.ObserveSearch(label)
		switch result {
		case outcomeSuccess:
			if resp.Malformed {
				logger.Warn("unusable search response", zap.String("message", resp.Message))
				return done(resp.StatusCode, []serp.OrganicItem{}, resp.Message)
			}
			items := resp.Organic
			if items == nil {
				items = []serp.OrganicItem{}
			}
			return done(resp.StatusCode, items, "")
		case outcomeFatal:
			logger.Warn("search request rejected",
				zap.Int("status", resp.StatusCode),
				zap.String("message", resp.Message),
			)
			return done(resp.StatusCode, nil, resp.Message)
		case outcomeCredentialLimited:
			logger.Warn("credential limited",
				zap.Int("status", resp.StatusCode),
				zap.String("message", resp.Message),
			)
			r.pool.MarkFailed()
			if err := r.pool.Rotate(ctx); err != nil {
				return done(resp.StatusCode, nil, err.Error())
			}
		case outcomeRetryable:
			if err != nil {
				logger.Warn("search request failed", zap.Error(err))
			} else {
				logger.Warn("search server error", zap.Int("status", resp.StatusCode))
			}
		}

		retries++
		if retries >= budget {
			logger.Warn("retry budget exhausted", zap.Int("attempts", attempts), zap.Int("budget", budget))
			return done(resp.StatusCode, nil, "retry budget exhausted")
		}
		metrics.ObserveRetry(label)
		r.retries.Add(1)
		if err := e.clock.Sleep(ctx, delays.Next()); err != nil {
			return done(resp.StatusCode, nil, err.Error())
		}
	}
}

func (e *Engine) pause() time.Duration {
	lo, hi := e.cfg.KeywordPauseMin, e.cfg.KeywordPauseMax
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(e.jitter(int64(hi-lo)+1))
}

func (e *Engine) emit(evt progress.Event) {
	if evt.TS.IsZero() {
		evt.TS = e.clock.Now().UTC()
	}
	e.emitter.Emit(evt)
}
