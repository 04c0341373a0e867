// Package progress defines the event structures emitted while a run executes.
package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart    Stage = "RUN_START"
	StagePageDone    Stage = "PAGE_DONE"
	StageKeywordDone Stage = "KEYWORD_DONE"
	StageRunDone     Stage = "RUN_DONE"
	StageRunCanceled Stage = "RUN_CANCELED"
	StageRunError    Stage = "RUN_ERROR"
)

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Supported HTTP status classes tracked for page fetches.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
)

// Event captures a single step of run progress.
type Event struct {
	// RunID identifies the run that emitted the event.
	RunID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle milestone occurred.
	Stage Stage
	// Project is the project name of the run.
	Project string
	// Keyword scopes page and keyword events.
	Keyword string
	// Page is the 1-based page number of a page event.
	Page int
	// StatusClass groups the final HTTP status of a page fetch.
	StatusClass StatusClass
	// Attempts counts the API calls a page fetch needed.
	Attempts int
	// Hits is the number of organic hits a page yielded.
	Hits int
	// Processed and Total report keyword progress.
	Processed int
	Total     int
	// Matches is the cumulative row count of the run so far.
	Matches int
	// Dur captures page latency or total run time.
	Dur time.Duration
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == "" {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunCanceled, StageRunError:
	case StagePageDone:
		if e.Keyword == "" || e.Page < 1 {
			return errors.New("page done requires keyword and page")
		}
		if e.StatusClass == "" {
			return errors.New("page done requires status class")
		}
	case StageKeywordDone:
		if e.Keyword == "" {
			return errors.New("keyword done requires keyword")
		}
		if e.Processed > e.Total {
			return fmt.Errorf("processed %d exceeds total %d", e.Processed, e.Total)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// Terminal reports whether the stage ends a run.
func (e Event) Terminal() bool {
	switch e.Stage {
	case StageRunDone, StageRunCanceled, StageRunError:
		return true
	default:
		return false
	}
}

// ClassifyStatus groups HTTP status codes for page events. Zero means the
// request never got a reply.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}
