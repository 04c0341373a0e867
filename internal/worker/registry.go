package worker

import (
	"context"
	"sync"
)

// Registry tracks cancel functions of running runs and cancellation requests
// for runs that are still queued.
type Registry struct {
	mu      sync.Mutex
	running map[string]context.CancelFunc
	pending map[string]struct{}
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		running: make(map[string]context.CancelFunc),
		pending: make(map[string]struct{}),
	}
}

// Cancel stops a running run or marks a queued one so it is skipped.
// It reports whether the run was running.
func (r *Registry) Cancel(runID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cancel, ok := r.running[runID]; ok {
		cancel()
		return true
	}
	r.pending[runID] = struct{}{}
	return false
}

// start registers cancel for runID. It returns false when the run was
// canceled before it started.
func (r *Registry) start(runID string, cancel context.CancelFunc) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pending[runID]; ok {
		delete(r.pending, runID)
		return false
	}
	r.running[runID] = cancel
	return true
}

func (r *Registry) done(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.running, runID)
}

// Running reports whether runID is executing.
func (r *Registry) Running(runID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.running[runID]
	return ok
}
