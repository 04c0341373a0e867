package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/serp-rank-tracker/internal/dispatcher"
	"github.com/JakeFAU/serp-rank-tracker/internal/id/uuid"
	"github.com/JakeFAU/serp-rank-tracker/internal/project"
	queueMemory "github.com/JakeFAU/serp-rank-tracker/internal/queue/memory"
	"github.com/JakeFAU/serp-rank-tracker/internal/serp"
	storageMemory "github.com/JakeFAU/serp-rank-tracker/internal/storage/memory"
	"github.com/JakeFAU/serp-rank-tracker/internal/worker"
)

const projectsJSON = `{"projects": [
  {"name": "acme", "location": "Austin,Texas,United States", "gl": "us", "hl": "en",
   "api_keys": ["k1", "k2"], "target_domains": ["acme.com"], "keywords": ["widgets"]},
  {"name": "zeta", "location": "Paris,France", "gl": "fr", "hl": "fr",
   "api_keys": ["k3"], "target_domains": ["zeta.fr"], "keywords": ["gadgets"]}
]}`

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func (fixedClock) Sleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

type testEnv struct {
	server   *Server
	queue    *queueMemory.Queue
	runs     *storageMemory.RunStore
	registry *worker.Registry
}

func newTestEnv(t *testing.T, cfg Config) testEnv {
	t.Helper()
	path := filepath.Join(t.TempDir(), "projects.json")
	require.NoError(t, os.WriteFile(path, []byte(projectsJSON), 0o600))
	projects, err := project.NewFileStore(path)
	require.NoError(t, err)

	q := queueMemory.NewQueue(4)
	runs := storageMemory.NewRunStore()
	registry := worker.NewRegistry()
	clock := fixedClock{now: time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)}
	d := dispatcher.New(q, runs, uuid.NewUUIDGenerator(), clock, registry, nil, zap.NewNop())
	return testEnv{
		server:   NewServer(runs, projects, d, cfg, zap.NewNop()),
		queue:    q,
		runs:     runs,
		registry: registry,
	}
}

func (e testEnv) do(t *testing.T, method, target string, body []byte, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst))
}

func TestServer_Healthz(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Config{})

	rec := env.do(t, http.MethodGet, "/healthz", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Config{})

	rec := env.do(t, http.MethodGet, "/metrics", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestServer_SubmitRun_Succeeds(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Config{})

	rec := env.do(t, http.MethodPost, "/v1/runs", []byte(`{"project":"acme","pages":2}`))

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp map[string]string
	decode(t, rec, &resp)
	require.True(t, uuid.Valid(resp["run_id"]))

	item, err := env.queue.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, resp["run_id"], item.RunID)
	assert.Equal(t, "acme", item.Project)
	require.NotNil(t, item.Pages)
	assert.Equal(t, 2, *item.Pages)

	run, err := env.runs.GetRun(context.Background(), resp["run_id"])
	require.NoError(t, err)
	assert.Equal(t, serp.RunStatusQueued, run.Status)
}

func TestServer_SubmitRun_Rejects(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Config{})

	cases := []struct {
		name string
		body string
		code int
	}{
		{"invalid json", `{oops`, http.StatusBadRequest},
		{"missing project", `{"pages":1}`, http.StatusBadRequest},
		{"zero pages", `{"project":"acme","pages":0}`, http.StatusBadRequest},
		{"unknown project", `{"project":"nope"}`, http.StatusNotFound},
	}
	for _, tc := range cases {
		rec := env.do(t, http.MethodPost, "/v1/runs", []byte(tc.body))
		assert.Equal(t, tc.code, rec.Code, tc.name)
	}
	assert.Zero(t, env.queue.Len())
}

func TestServer_GetRun(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Config{})
	rec := env.do(t, http.MethodPost, "/v1/runs", []byte(`{"project":"acme"}`))
	var submitted map[string]string
	decode(t, rec, &submitted)

	rec = env.do(t, http.MethodGet, "/v1/runs/"+submitted["run_id"], nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Run serp.Run `json:"run"`
	}
	decode(t, rec, &resp)
	assert.Equal(t, "acme", resp.Run.Project)
	assert.Equal(t, serp.RunStatusQueued, resp.Run.Status)

	missing, err := uuid.NewUUIDGenerator().NewID()
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/v1/runs/"+missing, nil).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/v1/runs/not-a-uuid", nil).Code)
}

func TestServer_ListRunsFiltersByStatus(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Config{})
	var ids []string
	for range 3 {
		rec := env.do(t, http.MethodPost, "/v1/runs", []byte(`{"project":"zeta"}`))
		var resp map[string]string
		decode(t, rec, &resp)
		ids = append(ids, resp["run_id"])
	}
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/v1/runs/"+ids[0]+"/cancel", nil).Code)

	var resp struct {
		Runs []serp.Run `json:"runs"`
	}
	rec := env.do(t, http.MethodGet, "/v1/runs?status=queued&limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &resp)
	require.Len(t, resp.Runs, 1)
	assert.Equal(t, serp.RunStatusQueued, resp.Runs[0].Status)

	rec = env.do(t, http.MethodGet, "/v1/runs?status=canceled", nil)
	decode(t, rec, &resp)
	require.Len(t, resp.Runs, 1)
	assert.Equal(t, ids[0], resp.Runs[0].ID)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/v1/runs?status=paused", nil).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/v1/runs?limit=-1", nil).Code)
}

func TestServer_CancelRun(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Config{})
	rec := env.do(t, http.MethodPost, "/v1/runs", []byte(`{"project":"acme"}`))
	var submitted map[string]string
	decode(t, rec, &submitted)
	target := "/v1/runs/" + submitted["run_id"] + "/cancel"

	rec = env.do(t, http.MethodPost, target, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	decode(t, rec, &resp)
	assert.Equal(t, string(serp.RunStatusCanceled), resp["status"])

	rec = env.do(t, http.MethodPost, target, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	decode(t, rec, &resp)
	assert.Equal(t, string(serp.RunStatusCanceled), resp["status"])
}

func TestServer_Projects(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Config{})

	rec := env.do(t, http.MethodGet, "/v1/projects", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "k1")
	var list struct {
		Projects []projectDTO `json:"projects"`
	}
	decode(t, rec, &list)
	require.Len(t, list.Projects, 2)
	assert.Equal(t, "acme", list.Projects[0].Name)
	assert.Equal(t, 2, list.Projects[0].Credentials)

	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/v1/projects/zeta", nil).Code)
	require.Equal(t, http.StatusNoContent, env.do(t, http.MethodDelete, "/v1/projects/zeta", nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/v1/projects/zeta", nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodDelete, "/v1/projects/zeta", nil).Code)
}

func TestServer_APIKeyAuth(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Config{AuthEnabled: true, APIKey: "secret"})

	assert.Equal(t, http.StatusForbidden, env.do(t, http.MethodGet, "/v1/projects", nil).Code)
	assert.Equal(t, http.StatusForbidden, env.do(t, http.MethodGet, "/v1/projects", nil, "X-API-Key", "wrong").Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/v1/projects", nil, "X-API-Key", "secret").Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/v1/projects?api_key=secret", nil).Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/healthz", nil).Code)
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()
	h := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRequestIDPropagates(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Config{})
	rec := env.do(t, http.MethodGet, "/healthz", nil, "X-Request-ID", "req-42")
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
}
