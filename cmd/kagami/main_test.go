package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"go.uber.org/zap"

	"github.com/hyperjump/kagami/internal/config"
	"github.com/hyperjump/kagami/internal/models"
)

func TestSearchArgsReorder(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected []string
	}{
		{
			name:     "flags after query are moved first",
			args:     []string{"dog on a beach", "-top-k", "5"},
			expected: []string{"-top-k", "5", "dog on a beach"},
		},
		{
			name:     "flags first returns unchanged",
			args:     []string{"-top-k", "5", "dog on a beach"},
			expected: []string{"-top-k", "5", "dog on a beach"},
		},
		{
			name:     "query only returns unchanged",
			args:     []string{"dog on a beach"},
			expected: []string{"dog on a beach"},
		},
		{
			name:     "empty args returns unchanged",
			args:     []string{},
			expected: []string{},
		},
		{
			name:     "multiple positionals then flags",
			args:     []string{"red", "car", "-collection", "cars"},
			expected: []string{"-collection", "cars", "red", "car"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := searchArgsReorder(tt.args)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("searchArgsReorder() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestBuildSearchQuery(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected string
	}{
		{"single word", []string{"sunset"}, "sunset"},
		{"multiple words", []string{"red", "car"}, "red car"},
		{"single quoted phrase", []string{"red car"}, "red car"},
		{"empty args", []string{}, ""},
		{"blank args", []string{"  ", "  "}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := buildSearchQuery(tt.args)
			if got != tt.expected {
				t.Errorf("buildSearchQuery(%v) = %q, want %q", tt.args, got, tt.expected)
			}
		})
	}
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"GOOGLE_APPLICATION_CREDENTIALS", "GCP_PROJECT_ID", "GCP_LOCATION",
		"KAGAMI_EMBEDDING_PROVIDER", "KAGAMI_STORE_DIR", "CHROMA_PERSIST_DIR",
		"KAGAMI_STORE_TYPE", "KAGAMI_CHROMA_URL", "IMAGE_BASE_PATH",
	} {
		t.Setenv(k, "")
	}
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	origWd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(origWd) })
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
}

func TestLoadConfig_prefersCwdConfigWhenDefaultPath(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
debug: true
server:
  host: "localhost"
  port: 8080
store:
  dir: "./data"
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	chdir(t, dir)

	cfg, resolved, err := loadConfig(defaultConfigPath)
	if err != nil {
		t.Fatal(err)
	}
	// On macOS, cwd can be /private/var/... while t.TempDir() is /var/...
	resolvedCanon, _ := filepath.EvalSymlinks(resolved)
	configPathCanon, _ := filepath.EvalSymlinks(configPath)
	if resolvedCanon != configPathCanon {
		t.Errorf("resolved path = %q, want %q", resolved, configPath)
	}
	if !cfg.Debug || cfg.Server.Port != 8080 {
		t.Errorf("unexpected config: debug=%v port=%d", cfg.Debug, cfg.Server.Port)
	}
}

func TestLoadConfig_fallsBackToEnvironment(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	chdir(t, dir)
	t.Setenv("GCP_PROJECT_ID", "proj-from-env")

	if _, err := os.Stat(defaultConfigPath); err == nil {
		t.Skip("a system config exists at the default path")
	}
	cfg, resolved, err := loadConfig(defaultConfigPath)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != "" {
		t.Errorf("resolved path = %q, want empty for environment config", resolved)
	}
	if cfg.Embedding.ProjectID != "proj-from-env" {
		t.Errorf("project id = %q", cfg.Embedding.ProjectID)
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("port = %d, want default 8000", cfg.Server.Port)
	}
}

func TestLoadConfig_usesExplicitPath(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	configPath := filepath.Join(dir, "custom.yaml")
	content := `
server:
  port: 9999
store:
  type: memory
  dir: "./vectors"
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != configPath {
		t.Errorf("resolved path = %q, want %q", resolved, configPath)
	}
	if cfg.Server.Port != 9999 || cfg.Store.Type != "memory" {
		t.Errorf("unexpected config: %+v %+v", cfg.Server, cfg.Store)
	}
	if cfg.Store.Dir != filepath.Join(dir, "vectors") {
		t.Errorf("store dir = %q", cfg.Store.Dir)
	}
}

func TestLoadConfig_missingExplicitPath(t *testing.T) {
	if _, _, err := loadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for a missing explicit config")
	}
}

func testConfig(t *testing.T, provider string) *config.Config {
	t.Helper()
	clearEnv(t)
	dir := t.TempDir()
	cfg := &config.Config{}
	cfg.Paths.BasePath = dir
	cfg.Store.Type = "memory"
	cfg.Store.Dir = filepath.Join(dir, "vectors")
	cfg.Embedding.Provider = provider
	cfg.Embedding.Dimension = 128
	config.ApplyDefaults(cfg)
	return cfg
}

func TestNewProvider_mock(t *testing.T) {
	cfg := testConfig(t, "mock")
	p := newProvider(cfg, zap.NewNop())
	defer p.Close()

	v, err := p.EmbedText(context.Background(), "a red car", 128)
	if err != nil {
		t.Fatalf("EmbedText: %v", err)
	}
	if len(v) != 128 {
		t.Errorf("len = %d, want 128", len(v))
	}
}

func TestNewProvider_vertexWithoutCredentials(t *testing.T) {
	cfg := testConfig(t, "vertex")
	p := newProvider(cfg, zap.NewNop())
	defer p.Close()

	_, err := p.EmbedText(context.Background(), "a red car", 128)
	if !errors.Is(err, config.ErrConfiguration) {
		t.Errorf("err = %v, want ErrConfiguration", err)
	}
}

func TestInitializeComponents(t *testing.T) {
	cfg := testConfig(t, "mock")
	c, err := initializeComponents(cfg, zap.NewNop(), false)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if c.Store.Type() != "memory" {
		t.Errorf("store type = %q", c.Store.Type())
	}
	if c.Sandbox == nil || c.Indexer == nil || c.Orchestrator == nil || c.Locks == nil {
		t.Errorf("components not fully built: %+v", c)
	}
}

func TestInitializeComponents_missingBasePath(t *testing.T) {
	cfg := testConfig(t, "mock")
	cfg.Paths.BasePath = filepath.Join(cfg.Paths.BasePath, "missing")
	if _, err := initializeComponents(cfg, zap.NewNop(), false); !errors.Is(err, config.ErrConfiguration) {
		t.Errorf("err = %v, want ErrConfiguration", err)
	}
}

func TestStatsDirect(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
store:
  type: memory
  dir: "./vectors"
embedding:
  provider: mock
  dimension: 128
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	stats, err := statsDirect(configPath, "holiday")
	if err != nil {
		t.Fatal(err)
	}
	if stats.CollectionName != "holiday" || stats.TotalImages != 0 || stats.StoreType != "memory" {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if stats.EmbeddingDimension != 128 {
		t.Errorf("dimension = %d, want config fallback 128", stats.EmbeddingDimension)
	}
}

func TestSearchViaHTTP(t *testing.T) {
	var got models.SearchRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/search" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(w).Encode(models.SearchResponse{Results: []models.SearchResultItem{
			{Path: "/photos/a.jpg", Score: 0.91, Rank: 1},
			{Path: "/photos/b.jpg", Score: 0.5, Rank: 2},
		}})
	}))
	defer srv.Close()

	k := 2
	hits, err := searchViaHTTP(srv.URL, models.SearchRequest{QueryText: "beach", TopK: &k, CollectionName: "holiday"})
	if err != nil {
		t.Fatal(err)
	}
	if got.QueryText != "beach" || got.TopK == nil || *got.TopK != 2 || got.CollectionName != "holiday" {
		t.Errorf("request body = %+v", got)
	}
	if len(hits) != 2 || hits[0].Path != "/photos/a.jpg" || hits[1].Rank != 2 {
		t.Errorf("hits = %+v", hits)
	}
}

func TestSearchViaHTTP_errorMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":"embedding service unavailable"}`))
	}))
	defer srv.Close()

	_, err := searchViaHTTP(srv.URL, models.SearchRequest{QueryText: "beach"})
	if err == nil || err.Error() != "server returned 502: embedding service unavailable" {
		t.Errorf("err = %v", err)
	}
}

func TestStatsViaHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("collection_name") != "holiday" {
			t.Errorf("collection_name = %q", r.URL.Query().Get("collection_name"))
		}
		_, _ = w.Write([]byte(`{"collection_name":"holiday","total_images":3,"embedding_dimension":1408,"store_type":"sqlite"}`))
	}))
	defer srv.Close()

	stats, err := statsViaHTTP(srv.URL, "holiday")
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalImages != 3 || stats.EmbeddingDimension != 1408 || stats.StoreType != "sqlite" {
		t.Errorf("stats = %+v", stats)
	}
}

func TestCollectionsViaHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/collections" {
			t.Errorf("path = %q", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"collections":[{"collection_name":"holiday","total_images":3,"embedding_dimension":512}],"store_type":"sqlite"}`))
	}))
	defer srv.Close()

	resp, err := collectionsViaHTTP(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StoreType != "sqlite" || len(resp.Collections) != 1 || resp.Collections[0].TotalImages != 3 {
		t.Errorf("collections = %+v", resp)
	}
}

func TestCollectionsDirect(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
store:
  type: memory
  dir: "./vectors"
embedding:
  provider: mock
  dimension: 128
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	resp, err := collectionsDirect(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StoreType != "memory" || len(resp.Collections) != 0 {
		t.Errorf("collections = %+v", resp)
	}
}

func TestWatchRequest(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"status":"added","path":"/photos/new"}`))
	}))
	defer srv.Close()

	err := watchRequest(http.MethodPost, srv.URL+"/watch/directories", map[string]any{"path": "new", "sync": false}, http.StatusCreated)
	if err != nil {
		t.Fatal(err)
	}
	if body["path"] != "new" || body["sync"] != false {
		t.Errorf("body = %v", body)
	}

	err = watchRequest(http.MethodDelete, srv.URL+"/watch/directories?path=x", nil, http.StatusOK)
	if err == nil {
		t.Error("expected error when status does not match")
	}
}
