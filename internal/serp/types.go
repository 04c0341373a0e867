// Package serp defines the core types shared across the rank tracker subsystems.
package serp

import (
	"time"
)

// RunStatus represents the lifecycle state of a tracking run.
type RunStatus string

// Run status values recorded in the run store.
const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCanceled  RunStatus = "canceled"
)

// TimestampLayout is the layout used for run timestamps in history and reports.
const TimestampLayout = "2006-01-02 15:04:05"

// SearchRequest identifies a single page request for a keyword.
type SearchRequest struct {
	Keyword string
	Page    int
}

// SearchQuery is the JSON body sent to the search API.
type SearchQuery struct {
	Q        string `json:"q"`
	Location string `json:"location"`
	GL       string `json:"gl"`
	HL       string `json:"hl"`
	Num      int    `json:"num"`
	Page     int    `json:"page"`
}

// OrganicItem is one entry of the "organic" array returned by the search API.
type OrganicItem struct {
	Link    string `json:"link"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// SearchResponse is the outcome of a single search API attempt.
type SearchResponse struct {
	StatusCode int
	Organic    []OrganicItem
	// Message carries the provider error text for non-200 replies.
	Message string
	// Malformed is set when a 200 reply had an unparseable or error-shaped body.
	Malformed bool
}

// OrganicHit is a search result placed at its 1-based rank within the run.
type OrganicHit struct {
	Link    string
	Title   string
	Snippet string
	Rank    int
}

// RankedEntry is a normalized, bucketed result row produced by a run.
type RankedEntry struct {
	Keyword  string `json:"keyword"`
	Position int    `json:"position"`
	Domain   string `json:"domain"`
	Bucket   string `json:"bucket"`
	IsTarget bool   `json:"isTarget"`
	Title    string `json:"title"`
	Snippet  string `json:"snippet"`
	URL      string `json:"url"`
}

// HistorySnapshot is the persisted form of a target-matching RankedEntry.
type HistorySnapshot struct {
	Keyword  string `json:"keyword"`
	Position int    `json:"position"`
	Domain   string `json:"domain"`
	Title    string `json:"title"`
	Snippet  string `json:"snippet"`
	URL      string `json:"url"`
	IsTarget bool   `json:"isTarget"`
}

// HistoryEntry groups the snapshots of one completed run.
type HistoryEntry struct {
	Timestamp string            `json:"timestamp"`
	Results   []HistorySnapshot `json:"results"`
}

// Time parses the entry timestamp; ok is false for malformed values.
func (e HistoryEntry) Time() (time.Time, bool) {
	ts, err := time.ParseInLocation(TimestampLayout, e.Timestamp, time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// SnapshotOf converts a RankedEntry into its persisted form.
func SnapshotOf(e RankedEntry) HistorySnapshot {
	return HistorySnapshot{
		Keyword:  e.Keyword,
		Position: e.Position,
		Domain:   e.Domain,
		Title:    e.Title,
		Snippet:  e.Snippet,
		URL:      e.URL,
		IsTarget: e.IsTarget,
	}
}

// RunCounters tracks progress and failure stats per run.
type RunCounters struct {
	KeywordsTotal     int `json:"keywords_total"`
	KeywordsProcessed int `json:"keywords_processed"`
	Rows              int `json:"rows"`
	TargetHits        int `json:"target_hits"`
	Requests          int `json:"requests"`
	Retries           int `json:"retries"`
	FailedPages       int `json:"failed_pages"`
}

// Run is the metadata recorded for each submitted tracking run.
type Run struct {
	ID        string      `json:"id"`
	Project   string      `json:"project"`
	Pages     *int        `json:"pages,omitempty"`
	Status    RunStatus   `json:"status"`
	Submitted time.Time   `json:"submitted_at"`
	Started   *time.Time  `json:"started_at,omitempty"`
	Finished  *time.Time  `json:"finished_at,omitempty"`
	ErrorText string      `json:"error_text,omitempty"`
	ReportURI string      `json:"report_uri,omitempty"`
	Counters  RunCounters `json:"counters"`
}

// QueueItem wraps a run ready to execute.
type QueueItem struct {
	RunID     string
	Project   string
	Pages     *int
	Submitted int64
}
