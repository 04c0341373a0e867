package engine

import (
	"net/http"
	"time"

	"github.com/JakeFAU/serp-rank-tracker/internal/serp"
)

// outcome is the result class of one search attempt.
type outcome int

const (
	outcomeSuccess outcome = iota
	// outcomeCredentialLimited rotates the key before retrying.
	outcomeCredentialLimited
	// outcomeRetryable retries with the same key.
	outcomeRetryable
	// outcomeFatal gives up on the page.
	outcomeFatal
)

// classify maps one attempt to its outcome and a short metric label.
func classify(resp serp.SearchResponse, err error) (outcome, string) {
	if err != nil {
		return outcomeRetryable, "transport_error"
	}
	switch code := resp.StatusCode; {
	case code == http.StatusOK:
		if resp.Malformed {
			return outcomeSuccess, "malformed"
		}
		return outcomeSuccess, "ok"
	case code == http.StatusForbidden || code == http.StatusTooManyRequests:
		return outcomeCredentialLimited, "credential_limited"
	case code >= http.StatusInternalServerError:
		return outcomeRetryable, "server_error"
	default:
		return outcomeFatal, "rejected"
	}
}

// backoff doubles from initial up to ceiling.
type backoff struct {
	next    time.Duration
	ceiling time.Duration
}

func newBackoff(initial, ceiling time.Duration) *backoff {
	if initial <= 0 {
		initial = defaultBackoffInitial
	}
	if ceiling < initial {
		ceiling = initial
	}
	return &backoff{next: initial, ceiling: ceiling}
}

// Next returns the current delay and doubles it for the following call.
func (b *backoff) Next() time.Duration {
	d := b.next
	b.next = min(b.ceiling, b.next*2)
	return d
}
