// Package serper calls the serper.dev Google search API.
package serper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/JakeFAU/serp-rank-tracker/internal/serp"
)

// DefaultEndpoint is the serper.dev search endpoint.
const DefaultEndpoint = "https://google.serper.dev/search"

// DefaultTimeout bounds one API attempt.
const DefaultTimeout = 30 * time.Second

const (
	maxBodyBytes   = 4 << 20
	maxMessageSize = 200
)

// Error describes a search attempt that never produced an HTTP reply.
type Error struct {
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("serper: %s: %v", e.Message, e.Cause)
	}
	return "serper: " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Options configures the client.
type Options struct {
	Endpoint   string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client implements serp.SearchClient.
type Client struct {
	endpoint string
	http     *http.Client
	logger   *zap.Logger
}

// New builds a Client; zero options fall back to the public endpoint.
func New(opts Options) *Client {
	if opts.Endpoint == "" {
		opts.Endpoint = DefaultEndpoint
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{endpoint: opts.Endpoint, http: httpClient, logger: logger}
}

// Search performs one POST with the credential in the X-API-KEY header. Any
// HTTP reply is returned as a SearchResponse; err is only set when no reply
// arrived.
func (c *Client) Search(ctx context.Context, credential string, query serp.SearchQuery) (serp.SearchResponse, error) {
	body, err := json.Marshal(query)
	if err != nil {
		return serp.SearchResponse{}, &Error{Message: "encode query", Cause: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return serp.SearchResponse{}, &Error{Message: "build request", Cause: err}
	}
	req.Header.Set("X-API-KEY", credential)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return serp.SearchResponse{}, &Error{Message: "request failed", Cause: err}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return serp.SearchResponse{}, &Error{Message: "read body", Cause: err}
	}

	out := serp.SearchResponse{StatusCode: resp.StatusCode}
	if resp.StatusCode != http.StatusOK {
		out.Message = errorMessage(raw)
		c.logger.Debug("search api returned non-200",
			zap.Int("status", resp.StatusCode),
			zap.String("message", out.Message),
			zap.String("q", query.Q),
			zap.Int("page", query.Page),
		)
		return out, nil
	}
	decodeOrganic(raw, &out)
	if out.Malformed {
		c.logger.Warn("search api returned unusable body",
			zap.String("q", query.Q),
			zap.Int("page", query.Page),
			zap.String("message", out.Message),
		)
	}
	return out, nil
}

// decodeOrganic fills out.Organic, or flags the reply when it is not JSON or
// carries an "error"/"message" field.
func decodeOrganic(raw []byte, out *serp.SearchResponse) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		out.Malformed = true
		out.Message = truncate(strings.TrimSpace(string(raw)))
		return
	}
	if _, ok := fields["error"]; ok {
		out.Malformed = true
		out.Message = errorMessage(raw)
		return
	}
	if _, ok := fields["message"]; ok {
		out.Malformed = true
		out.Message = errorMessage(raw)
		return
	}
	organic, ok := fields["organic"]
	if !ok || string(organic) == "null" {
		return
	}
	if err := json.Unmarshal(organic, &out.Organic); err != nil {
		out.Organic = nil
		out.Malformed = true
		out.Message = "organic: " + err.Error()
	}
}

func errorMessage(raw []byte) string {
	var body struct {
		Message string `json:"message"`
		Error   any    `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		switch {
		case body.Message != "":
			return truncate(body.Message)
		case body.Error != nil:
			return truncate(fmt.Sprint(body.Error))
		}
	}
	return truncate(strings.TrimSpace(string(raw)))
}

// truncate cuts s to at most maxMessageSize bytes on a rune boundary.
func truncate(s string) string {
	if len(s) <= maxMessageSize {
		return s
	}
	cut := maxMessageSize
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
