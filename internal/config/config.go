// Package config provides configuration loading and structs for the Kagami server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Paths     PathsConfig     `yaml:"paths"`
	Store     StoreConfig     `yaml:"store"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Search    SearchConfig    `yaml:"search"`
	Watch     WatchConfig     `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// PathsConfig holds the containment root for every user-supplied path.
type PathsConfig struct {
	BasePath string `yaml:"base_path"`
}

// StoreConfig selects and configures the vector store backend.
type StoreConfig struct {
	Type              string `yaml:"type"`
	Dir               string `yaml:"dir"`
	ChromaURL         string `yaml:"chroma_url"`
	DefaultCollection string `yaml:"default_collection"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider          string        `yaml:"provider"`
	CredentialsFile   string        `yaml:"credentials_file"`
	ProjectID         string        `yaml:"project_id"`
	Location          string        `yaml:"location"`
	Model             string        `yaml:"model"`
	Dimension         int           `yaml:"dimension"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	CacheSize         int           `yaml:"cache_size"`
}

// SearchConfig holds query limits.
type SearchConfig struct {
	DefaultTopK      int   `yaml:"default_top_k"`
	MaxTopK          int   `yaml:"max_top_k"`
	SimilarMaxTopK   int   `yaml:"similar_max_top_k"`
	MaxBatchQueries  int   `yaml:"max_batch_queries"`
	BatchConcurrency int   `yaml:"batch_concurrency"`
	UploadMaxBytes   int64 `yaml:"upload_max_bytes"`
}

// WatchConfig holds directory watch settings.
type WatchConfig struct {
	Directories []WatchDirectory `yaml:"directories"`
	Debounce    time.Duration    `yaml:"debounce"`
}

// WatchDirectory binds a watched folder to the collection it keeps in sync.
type WatchDirectory struct {
	Path       string `yaml:"path" json:"path"`
	Collection string `yaml:"collection" json:"collection"`
}

// Load reads and parses the config file at path, applies environment overrides,
// expands paths, and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyEnv(&cfg)
	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Paths.BasePath = expandPath(cfg.Paths.BasePath, configDir)
	cfg.Store.Dir = expandPath(cfg.Store.Dir, configDir)
	if cfg.Embedding.CredentialsFile != "" {
		cfg.Embedding.CredentialsFile = expandPath(cfg.Embedding.CredentialsFile, configDir)
	}
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i].Path = expandPath(cfg.Watch.Directories[i].Path, configDir)
	}

	return &cfg, nil
}

// FromEnv builds a config without a file: environment overrides on top of defaults.
// Relative paths are resolved against the working directory.
func FromEnv() (*Config, error) {
	var cfg Config
	ApplyEnv(&cfg)
	ApplyDefaults(&cfg)
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("working directory: %w", err)
	}
	for _, p := range []*string{&cfg.Paths.BasePath, &cfg.Store.Dir, &cfg.Embedding.CredentialsFile} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(cwd, *p)
		}
	}
	return &cfg, nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
