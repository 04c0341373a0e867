package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/serp-rank-tracker/internal/config"
	"github.com/JakeFAU/serp-rank-tracker/internal/report"
	"github.com/JakeFAU/serp-rank-tracker/internal/serp"
)

const testProjects = `{"projects": [{
  "name": "acme", "location": "Austin,Texas,United States", "gl": "us", "hl": "en",
  "api_keys": ["k1"], "target_domains": ["example.com"], "keywords": ["widgets"],
  "pages": 1, "history_file": "acme.json", "output_prefix": "acme"
}]}`

func testConfig(t *testing.T, endpoint string) config.Config {
	t.Helper()
	dir := t.TempDir()
	projects := filepath.Join(dir, "projects.json")
	require.NoError(t, os.WriteFile(projects, []byte(testProjects), 0o600))

	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Projects.File = projects
	cfg.Search.Endpoint = endpoint
	cfg.Search.Timeout = 2 * time.Second
	cfg.Search.KeywordPauseMin = time.Millisecond
	cfg.Search.KeywordPauseMax = time.Millisecond
	cfg.History.Backend = config.BackendFile
	cfg.History.Dir = filepath.Join(dir, "history")
	cfg.Report.Backend = config.BackendLocal
	cfg.Report.Dir = filepath.Join(dir, "reports")
	cfg.Progress.MaxBatchWait = 10 * time.Millisecond
	require.NoError(t, cfg.Validate())
	return cfg
}

func searchAPI(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "k1", r.Header.Get("X-API-KEY"))
		_, _ = w.Write([]byte(`{"organic":[
			{"link":"https://www.example.com/widgets","title":"Widgets","snippet":"buy"},
			{"link":"https://other.com/w","title":"Other","snippet":"meh"}
		]}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRunOnceWritesReportAndHistory(t *testing.T) {
	var calls atomic.Int32
	cfg := testConfig(t, searchAPI(t, &calls).URL)

	app, err := Build(context.Background(), cfg, zap.NewNop(), WithRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })

	var lastProcessed int
	out, err := app.RunOnce(context.Background(), "acme", nil, func(processed, _, _ int) {
		lastProcessed = processed
	})
	require.NoError(t, err)

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1, lastProcessed)
	assert.Equal(t, serp.RunStatusSucceeded, out.Result.Status)
	require.Len(t, out.Result.Rows, 2)
	assert.True(t, out.Result.Rows[0].IsTarget)
	assert.True(t, strings.HasPrefix(out.ReportURI, "file://"))
	assert.True(t, strings.HasPrefix(out.ReportName, "acme_"))
	assert.Len(t, out.ReportSHA256, 64)
	require.NotNil(t, out.Workbook.Sheet(report.SheetResults))
	require.Len(t, out.History, 1)

	_, err = os.Stat(filepath.Join(cfg.History.Dir, "acme.json"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(cfg.Report.Dir, cfg.Report.Prefix, out.ReportName))
	require.NoError(t, err)
}

func TestRunOnceUnknownProject(t *testing.T) {
	var calls atomic.Int32
	cfg := testConfig(t, searchAPI(t, &calls).URL)
	app, err := Build(context.Background(), cfg, zap.NewNop(), WithRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })

	_, err = app.RunOnce(context.Background(), "nope", nil, nil)
	require.ErrorIs(t, err, serp.ErrNotFound)
	assert.Zero(t, calls.Load())
}

func TestServiceAcceptsRuns(t *testing.T) {
	var calls atomic.Int32
	cfg := testConfig(t, searchAPI(t, &calls).URL)
	cfg.Schedule.Enabled = true
	app, err := Build(context.Background(), cfg, zap.NewNop(), WithRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })
	require.NoError(t, app.setupService())
	require.NotNil(t, app.scheduler)

	req := httptest.NewRequest(http.MethodPost, "/v1/runs", bytes.NewBufferString(`{"project":"acme"}`))
	rec := httptest.NewRecorder()
	app.apiServer.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	run, err := app.runs.GetRun(context.Background(), resp["run_id"])
	require.NoError(t, err)
	assert.Equal(t, serp.RunStatusQueued, run.Status)
	assert.Equal(t, 1, app.queue.Len())
}

func TestBuildWithMemoryBackends(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:0")
	cfg.History.Backend = config.BackendMemory
	cfg.Report.Backend = config.BackendMemory
	app, err := Build(context.Background(), cfg, zap.NewNop(), WithRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)
	require.NotNil(t, app.Runner())

	projects, err := app.Projects().List(context.Background())
	require.NoError(t, err)
	require.Len(t, projects, 1)
	require.NoError(t, app.Close(context.Background()))
}
