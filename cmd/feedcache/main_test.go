package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/Sternrassler/feedcache/internal/config"
	"github.com/Sternrassler/feedcache/internal/testutil"
)

const itemsPath = "/schemas/articles/items"

// setupConfig writes a config file pointing at a mock upstream and a fresh
// LevelDB directory.
func setupConfig(t *testing.T) (string, *testutil.MockServer) {
	t.Helper()

	mock := testutil.NewMockServer()
	t.Cleanup(mock.Close)
	mock.SetHandler(itemsPath, testutil.NewItemPagesHandler(
		`[{"id":"a1","timeCreated":1700000000,"title":"First","link":"https://example.com/a1"}]`,
		`[{"id":"a2","timeCreated":1700000100,"title":"Second","link":"https://example.com/a2"}]`,
	))

	dir := t.TempDir()
	content := fmt.Sprintf(`
server:
  base_url: https://feeds.example.com
cache:
  dir: %s
upstream:
  base_url: %s
  initial_backoff: 5ms
  max_backoff: 20ms
logging:
  level: error
collections:
  news:
    schema: articles
    title: News
`, filepath.Join(dir, "cache"), mock.URL())

	path := filepath.Join(dir, "feedcache.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path, mock
}

func setupApp(t *testing.T) (*app, *testutil.MockServer, string) {
	t.Helper()

	path, mock := setupConfig(t)
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	a, err := newApp(context.Background(), cfg)
	if err != nil {
		t.Fatalf("newApp() error = %v", err)
	}
	return a, mock, path
}

func get(t *testing.T, h http.Handler, target string) (*http.Response, string) {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	resp := w.Result()
	body, _ := io.ReadAll(resp.Body)
	return resp, string(body)
}

func TestHealthEndpoint(t *testing.T) {
	a, _, _ := setupApp(t)
	defer a.Close()

	resp, body := get(t, a.router, "/health")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	if body != "OK" {
		t.Errorf("Expected body 'OK', got %s", body)
	}
}

func TestReadyEndpoint(t *testing.T) {
	a, _, _ := setupApp(t)

	resp, body := get(t, a.router, "/ready")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	if body != "READY" {
		t.Errorf("Expected body 'READY', got %s", body)
	}

	a.Close()

	resp, _ = get(t, a.router, "/ready")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503 after close, got %d", resp.StatusCode)
	}
}

func TestFeedEndpoint(t *testing.T) {
	a, mock, _ := setupApp(t)
	defer a.Close()

	resp, body := get(t, a.router, "/news/rss")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", resp.StatusCode, body)
	}
	if got := resp.Header.Get("X-Cache"); got != "MISS" {
		t.Errorf("Expected X-Cache MISS, got %q", got)
	}
	if !strings.Contains(body, "Second") || !strings.Contains(body, "First") {
		t.Errorf("Feed body missing items: %s", body)
	}
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "application/rss+xml") {
		t.Errorf("Unexpected content type %q", resp.Header.Get("Content-Type"))
	}

	resp, _ = get(t, a.router, "/news/rss")
	if got := resp.Header.Get("X-Cache"); got != "HIT" {
		t.Errorf("Expected X-Cache HIT, got %q", got)
	}
	if got := mock.GetPathCount(itemsPath); got != 2 {
		t.Errorf("Expected 2 upstream page requests, got %d", got)
	}

	resp, _ = get(t, a.router, "/news/yaml")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected status 400 for unknown format, got %d", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	a, _, _ := setupApp(t)
	defer a.Close()

	get(t, a.router, "/news/json")

	resp, body := get(t, a.router, "/metrics")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	for _, name := range []string{
		"feedcache_feed_requests_total",
		"feedcache_upstream_requests_total",
		"feedcache_cache_misses_total",
	} {
		if !strings.Contains(body, name) {
			t.Errorf("Expected metric %s in output", name)
		}
	}
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := runCLI(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, "feedcache dev") {
		t.Errorf("Expected version output, got %q", out)
	}
}

func TestCacheCommands(t *testing.T) {
	a, _, path := setupApp(t)
	get(t, a.router, "/news/atom")
	get(t, a.router, "/news/json")
	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	envFile := filepath.Join(t.TempDir(), "missing.env")

	out, err := runCLI(t, "--config", path, "--env-file", envFile, "cache", "inspect", "news")
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	var report inspectReport
	if err := yaml.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("inspect output is not YAML: %v\n%s", err, out)
	}
	if report.Schema != "articles" {
		t.Errorf("Expected schema articles, got %q", report.Schema)
	}
	if report.Data == nil || report.Data.Items != 2 {
		t.Fatalf("Expected 2 cached items, got %+v", report.Data)
	}
	if len(report.Contents) != 2 {
		t.Errorf("Expected 2 rendered formats, got %d", len(report.Contents))
	}

	out, err = runCLI(t, "--config", path, "--env-file", envFile, "cache", "stats")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if !strings.Contains(out, "data: 1") || !strings.Contains(out, "content: 2") {
		t.Errorf("Unexpected stats output %q", out)
	}

	if _, err := runCLI(t, "--config", path, "--env-file", envFile, "cache", "clear", "--namespace", "content"); err != nil {
		t.Fatalf("clear namespace: %v", err)
	}
	out, _ = runCLI(t, "--config", path, "--env-file", envFile, "cache", "stats")
	if !strings.Contains(out, "content: 0") || !strings.Contains(out, "data: 1") {
		t.Errorf("Expected content cleared, got %q", out)
	}

	if _, err := runCLI(t, "--config", path, "--env-file", envFile, "cache", "clear", "--collection", "news"); err != nil {
		t.Fatalf("clear collection: %v", err)
	}
	out, _ = runCLI(t, "--config", path, "--env-file", envFile, "cache", "inspect", "news")
	if strings.Contains(out, "items:") {
		t.Errorf("Expected no data after clear, got %q", out)
	}

	if _, err := runCLI(t, "--config", path, "--env-file", envFile, "cache", "clear", "--namespace", "bogus"); err == nil {
		t.Error("Expected error for unknown namespace")
	}
	if _, err := runCLI(t, "--config", path, "--env-file", envFile, "cache", "clear", "--namespace", "data", "--collection", "news"); err == nil {
		t.Error("Expected error for conflicting flags")
	}
}
