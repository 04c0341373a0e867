// Package credentials rotates search API keys with per-key failure tracking.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/serp-rank-tracker/internal/metrics"
)

// Default pool settings.
const (
	DefaultMaxFailures = 3
	DefaultCooldown    = 60 * time.Second
)

// ErrNoCredentials is returned when a pool is built from an empty key list.
var ErrNoCredentials = errors.New("credentials: at least one key is required")

// Config tunes failure tracking.
type Config struct {
	MaxFailures int
	Cooldown    time.Duration
}

// Sleeper pauses the pool during cooldown.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// Pool hands out API keys. Every method runs under one mutex, and the mutex is
// held through the cooldown so no caller can pick a key mid-reset.
type Pool struct {
	mu       sync.Mutex
	keys     []string
	failures []int
	index    int
	cfg      Config
	sleeper  Sleeper
	logger   *zap.Logger
}

// New builds a pool starting at the first key.
func New(keys []string, cfg Config, sleeper Sleeper, logger *zap.Logger) (*Pool, error) {
	if len(keys) == 0 {
		return nil, ErrNoCredentials
	}
	if sleeper == nil {
		return nil, errors.New("credentials: sleeper is required")
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultMaxFailures
	}
	if cfg.Cooldown < 0 {
		cfg.Cooldown = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	owned := make([]string, len(keys))
	copy(owned, keys)
	return &Pool{
		keys:     owned,
		failures: make([]int, len(keys)),
		cfg:      cfg,
		sleeper:  sleeper,
		logger:   logger,
	}, nil
}

// Len returns the number of keys in the pool.
func (p *Pool) Len() int {
	return len(p.keys)
}

// Current returns the active key.
func (p *Pool) Current() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.keys[p.index]
}

// Index returns the position of the active key.
func (p *Pool) Index() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.index
}

// Failures returns the failure counter of the key at i.
func (p *Pool) Failures(i int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 || i >= len(p.failures) {
		return 0
	}
	return p.failures[i]
}

// MarkFailed counts a credential-limited reply against the active key.
func (p *Pool) MarkFailed() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[p.index]++
	metrics.ObserveCredentialFailure()
	p.logger.Debug("credential marked failed",
		zap.Int("index", p.index),
		zap.Int("failures", p.failures[p.index]),
	)
}

// Rotate moves to the next key below the failure limit, wrapping around. When
// every key is at the limit it sleeps for the cooldown, clears all counters and
// restarts at the first key. It only fails if ctx ends during the cooldown.
func (p *Pool) Rotate(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.keys)
	for step := 1; step <= n; step++ {
		next := (p.index + step) % n
		if p.failures[next] < p.cfg.MaxFailures {
			p.index = next
			return nil
		}
	}

	p.logger.Warn("all credentials exhausted, cooling down",
		zap.Int("credentials", n),
		zap.Duration("cooldown", p.cfg.Cooldown),
	)
	metrics.ObserveCredentialCooldown()
	if err := p.sleeper.Sleep(ctx, p.cfg.Cooldown); err != nil {
		return fmt.Errorf("credential cooldown: %w", err)
	}
	for i := range p.failures {
		p.failures[i] = 0
	}
	p.index = 0
	return nil
}
