// Package progress provides the run event primitives, a non-blocking hub and
// the emitter interface the fetch engine uses to report keyword progress. The
// hub batches events on a background goroutine and fans them out to sinks
// such as structured logs, Prometheus or the run store.
package progress
