package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

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

func TestLoad(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  host: "127.0.0.1"
  port: 9000
store:
  dir: "./data"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Store.Dir != filepath.Join(dir, "data") {
		t.Errorf("store dir = %s", cfg.Store.Dir)
	}
	if cfg.Paths.BasePath != dir {
		t.Errorf("base path = %s, want %s", cfg.Paths.BasePath, dir)
	}
	if cfg.Debug {
		t.Error("debug should default to false when unset")
	}
}

func TestLoad_envOverrides(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("embedding:\n  project_id: from-file\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GCP_PROJECT_ID", "from-env")
	t.Setenv("CHROMA_PERSIST_DIR", "/var/lib/kagami")
	t.Setenv("IMAGE_BASE_PATH", "/srv/photos")
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Embedding.ProjectID != "from-env" {
		t.Errorf("project id = %s", cfg.Embedding.ProjectID)
	}
	if cfg.Store.Dir != "/var/lib/kagami" {
		t.Errorf("store dir = %s", cfg.Store.Dir)
	}
	if cfg.Paths.BasePath != "/srv/photos" {
		t.Errorf("base path = %s", cfg.Paths.BasePath)
	}
}

func TestLoad_watchDirectoriesDefaultCollection(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
watch:
  directories:
    - path: "./photos"
    - path: "./scans"
      collection: scans
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Watch.Directories) != 2 {
		t.Fatalf("watch directories: got %d", len(cfg.Watch.Directories))
	}
	if cfg.Watch.Directories[0].Collection != DefaultCollection {
		t.Errorf("collection = %s", cfg.Watch.Directories[0].Collection)
	}
	if cfg.Watch.Directories[1].Path != filepath.Join(dir, "scans") {
		t.Errorf("path = %s", cfg.Watch.Directories[1].Path)
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if cfg.Server.Port != 8000 {
		t.Errorf("default port: got %d", cfg.Server.Port)
	}
	if cfg.Store.Type != "sqlite" {
		t.Errorf("default store type: got %s", cfg.Store.Type)
	}
	if cfg.Embedding.Dimension != 1408 {
		t.Errorf("default dimension: got %d", cfg.Embedding.Dimension)
	}
	if cfg.Embedding.Location != "us-central1" {
		t.Errorf("default location: got %s", cfg.Embedding.Location)
	}
	if cfg.Search.MaxBatchQueries != 10 || cfg.Search.SimilarMaxTopK != 50 || cfg.Search.MaxTopK != 100 {
		t.Errorf("search limits: %+v", cfg.Search)
	}
	if cfg.Watch.Debounce != 400*time.Millisecond {
		t.Errorf("debounce: %v", cfg.Watch.Debounce)
	}
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	creds := filepath.Join(dir, "sa.json")
	if err := os.WriteFile(creds, []byte("{}"), 0600); err != nil {
		t.Fatal(err)
	}
	valid := func() *Config {
		cfg := &Config{
			Paths:     PathsConfig{BasePath: dir},
			Store:     StoreConfig{Dir: dir},
			Embedding: EmbeddingConfig{CredentialsFile: creds, ProjectID: "p"},
		}
		ApplyDefaults(cfg)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"mock provider needs no credentials", func(c *Config) {
			c.Embedding.Provider = "mock"
			c.Embedding.CredentialsFile = ""
			c.Embedding.ProjectID = ""
		}, false},
		{"missing credentials", func(c *Config) { c.Embedding.CredentialsFile = "" }, true},
		{"credentials is a directory", func(c *Config) { c.Embedding.CredentialsFile = dir }, true},
		{"missing project", func(c *Config) { c.Embedding.ProjectID = "" }, true},
		{"bad dimension", func(c *Config) { c.Embedding.Dimension = 300 }, true},
		{"smallest dimension", func(c *Config) { c.Embedding.Dimension = 128 }, false},
		{"zero dimension", func(c *Config) { c.Embedding.Dimension = 0 }, true},
		{"missing base path", func(c *Config) { c.Paths.BasePath = filepath.Join(dir, "nope") }, true},
		{"base path is a file", func(c *Config) { c.Paths.BasePath = creds }, true},
		{"unknown store", func(c *Config) { c.Store.Type = "pinecone" }, true},
		{"chroma without url", func(c *Config) { c.Store.Type = "chroma" }, true},
		{"unknown provider", func(c *Config) { c.Embedding.Provider = "openai" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrConfiguration) {
				t.Errorf("error should wrap ErrConfiguration: %v", err)
			}
		})
	}
}

func TestSave(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "saved.yaml")
	cfg := &Config{
		Server: ServerConfig{Host: "localhost", Port: 9090},
		Store:  StoreConfig{Dir: "/tmp/kagami"},
	}
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Server.Port != 9090 {
		t.Errorf("loaded port: got %d", loaded.Server.Port)
	}
}
