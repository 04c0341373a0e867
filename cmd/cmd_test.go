package cmd

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const projectsFile = `{"projects": [
  {"name": "acme", "location": "Austin,Texas,United States", "gl": "us", "hl": "en",
   "api_keys": ["k1"], "target_domains": ["example.com"], "keywords": ["widgets", "gadgets"],
   "pages": 1, "history_file": "acme.json", "output_prefix": "acme"},
  {"name": "zeta", "location": "Paris,France", "gl": "fr", "hl": "fr",
   "api_keys": ["k2"], "target_domains": ["zeta.fr"], "keywords": ["outils"],
   "history_file": "zeta.json", "output_prefix": "zeta"}
]}`

func writeConfig(t *testing.T, endpoint string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	projects := filepath.Join(dir, "projects.json")
	require.NoError(t, os.WriteFile(projects, []byte(projectsFile), 0o600))
	cfgPath := filepath.Join(dir, "config.yaml")
	cfgYAML := fmt.Sprintf(`
projects:
  file: %s
search:
  endpoint: %s
  keyword_pause_min: 1ms
  keyword_pause_max: 1ms
history:
  backend: file
  dir: %s
report:
  backend: local
  dir: %s
logging:
  development: false
  level: error
`, projects, endpoint, filepath.Join(dir, "history"), filepath.Join(dir, "reports"))
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfgYAML), 0o600))
	return cfgPath, dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return executeContext(t, context.Background(), args...)
}

func executeContext(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func TestProjectsList(t *testing.T) {
	cfgPath, _ := writeConfig(t, "http://127.0.0.1:0")

	out, err := execute(t, "projects", "list", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "acme")
	assert.Contains(t, out, "Paris,France")
}

func TestProjectsDelete(t *testing.T) {
	cfgPath, _ := writeConfig(t, "http://127.0.0.1:0")

	out, err := execute(t, "projects", "delete", "zeta", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "deleted project zeta")

	out, err = execute(t, "projects", "list", "--config", cfgPath)
	require.NoError(t, err)
	assert.NotContains(t, out, "zeta")

	_, err = execute(t, "projects", "delete", "zeta", "--config", cfgPath)
	require.Error(t, err)
}

func TestRunWritesReport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"organic":[{"link":"https://example.com/a","title":"A","snippet":"s"}]}`))
	}))
	t.Cleanup(srv.Close)
	cfgPath, dir := writeConfig(t, srv.URL)

	out, err := execute(t, "run", "--project", "acme", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "[2/2] keywords processed")
	assert.Contains(t, out, ": succeeded")
	assert.Contains(t, out, "report: file://")

	matches, err := filepath.Glob(filepath.Join(dir, "reports", "reports", "acme_*.xlsx"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestRunCanceledMidRunWritesPartialReport(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var once sync.Once
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		once.Do(cancel)
		_, _ = w.Write([]byte(`{"organic":[{"link":"https://example.com/a","title":"A","snippet":"s"}]}`))
	}))
	t.Cleanup(srv.Close)
	cfgPath, dir := writeConfig(t, srv.URL)

	out, err := executeContext(t, ctx, "run", "--project", "acme", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "[1/2] keywords processed")
	assert.NotContains(t, out, "[2/2]")
	assert.Contains(t, out, ": canceled")
	assert.Contains(t, out, "report: file://")

	matches, err := filepath.Glob(filepath.Join(dir, "reports", "reports", "acme_*.xlsx"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)

	_, err = os.Stat(filepath.Join(dir, "history", "acme.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestSignalContextCancelsOnInterrupt(t *testing.T) {
	ctx, stop := signalContext(context.Background())
	defer stop()

	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGINT))
	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("context not canceled by SIGINT")
	}
}

func TestRunRequiresProject(t *testing.T) {
	cfgPath, _ := writeConfig(t, "http://127.0.0.1:0")

	_, err := execute(t, "run", "--config", cfgPath)
	require.ErrorContains(t, err, "project")
}

func TestRunRejectsZeroPages(t *testing.T) {
	cfgPath, _ := writeConfig(t, "http://127.0.0.1:0")

	_, err := execute(t, "run", "--project", "acme", "--pages", "0", "--config", cfgPath)
	require.ErrorContains(t, err, "--pages")
}
