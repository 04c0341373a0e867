package serp

import (
	"context"
	"errors"
	"io"
	"time"
)

// Sentinel errors shared by stores and queues.
var (
	ErrNotFound    = errors.New("not found")
	ErrQueueClosed = errors.New("queue closed")
)

// SearchClient performs a single search API attempt with the given credential.
// A non-nil error means the request did not complete (transport failure or timeout).
type SearchClient interface {
	Search(ctx context.Context, credential string, query SearchQuery) (SearchResponse, error)
}

// HistoryStore persists the capped run history of a project, oldest first.
type HistoryStore interface {
	Load(ctx context.Context, storeID string) ([]HistoryEntry, error)
	Save(ctx context.Context, storeID string, entries []HistoryEntry) error
}

// BlobStore writes report artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes run completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// ProjectStore exposes the project definitions that runs are built from.
type ProjectStore interface {
	List(ctx context.Context) ([]Project, error)
	Get(ctx context.Context, name string) (Project, error)
	Delete(ctx context.Context, name string) error
}

// RunStore persists run metadata for the API.
type RunStore interface {
	CreateRun(ctx context.Context, run Run) error
	UpdateRunStatus(ctx context.Context, runID string, status RunStatus, errText string, counters RunCounters) error
	UpdateProgress(ctx context.Context, runID string, processed, total, rows int) error
	SetReport(ctx context.Context, runID string, uri string) error
	GetRun(ctx context.Context, runID string) (Run, error)
	ListRuns(ctx context.Context) ([]Run, error)
}

// Queue provides enqueue/dequeue semantics for runs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Hasher computes digests of report artifacts.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time and sleeps with cancellation (fakeable in tests).
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
