package serper

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/serp-rank-tracker/internal/serp"
)

func newServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Options{Endpoint: srv.URL, Timeout: time.Second})
}

func TestSearchSendsQueryAndParsesOrganic(t *testing.T) {
	t.Parallel()

	var got serp.SearchQuery
	client := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "key-1", r.Header.Get("X-API-KEY"))
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"searchParameters":{},"organic":[{"link":"https://example.com/a","title":"A","snippet":"s","position":1}]}`))
	})

	query := serp.SearchQuery{Q: "widgets", Location: "Kyiv,Ukraine", GL: "ua", HL: "uk", Num: 10, Page: 2}
	resp, err := client.Search(context.Background(), "key-1", query)
	require.NoError(t, err)
	require.Equal(t, query, got)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.False(t, resp.Malformed)
	require.Equal(t, []serp.OrganicItem{{Link: "https://example.com/a", Title: "A", Snippet: "s"}}, resp.Organic)
}

func TestSearchNon200CarriesMessage(t *testing.T) {
	t.Parallel()

	client := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"message":"Not enough credits","statusCode":429}`))
	})

	resp, err := client.Search(context.Background(), "k", serp.SearchQuery{Q: "q", Page: 1})
	require.NoError(t, err)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	require.Equal(t, "Not enough credits", resp.Message)
}

func TestSearchErrorShapedBodyIsMalformed(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"error field":   `{"error":"quota"}`,
		"message field": `{"message":"bad request","organic":[{"link":"https://x.org"}]}`,
		"not json":      `<html>oops</html>`,
		"bad organic":   `{"organic":"nope"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			client := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(body))
			})
			resp, err := client.Search(context.Background(), "k", serp.SearchQuery{Q: "q", Page: 1})
			require.NoError(t, err)
			require.True(t, resp.Malformed)
			require.Empty(t, resp.Organic)
		})
	}
}

func TestSearchMissingOrganicIsEmpty(t *testing.T) {
	t.Parallel()

	client := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"searchParameters":{"q":"q"}}`))
	})
	resp, err := client.Search(context.Background(), "k", serp.SearchQuery{Q: "q", Page: 1})
	require.NoError(t, err)
	require.False(t, resp.Malformed)
	require.Empty(t, resp.Organic)
}

func TestSearchTransportErrorAndTimeout(t *testing.T) {
	t.Parallel()

	client := newServer(t, func(_ http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := client.Search(ctx, "k", serp.SearchQuery{Q: "q", Page: 1})
	require.Error(t, err)
	var serperErr *Error
	require.True(t, errors.As(err, &serperErr))
	require.ErrorIs(t, err, context.DeadlineExceeded)

	down := New(Options{Endpoint: "http://127.0.0.1:1"})
	_, err = down.Search(context.Background(), "k", serp.SearchQuery{Q: "q", Page: 1})
	require.Error(t, err)
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("x", 500)
	require.Len(t, truncate(long), maxMessageSize)
	require.Equal(t, "short", truncate("short"))

	// "é" is two bytes, so byte maxMessageSize falls inside a rune.
	accented := "x" + strings.Repeat("é", maxMessageSize)
	cut := truncate(accented)
	require.True(t, utf8.ValidString(cut))
	require.Len(t, cut, maxMessageSize-1)
}
