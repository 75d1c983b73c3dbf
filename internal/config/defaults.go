package config

import "time"

const (
	// DefaultCollection is the collection used when a request names none.
	DefaultCollection = "images"
	// DefaultDimension is the multimodal embedding size.
	DefaultDimension = 1408
)

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 10 * time.Minute
	}
	if cfg.Paths.BasePath == "" {
		cfg.Paths.BasePath = "."
	}
	if cfg.Store.Type == "" {
		cfg.Store.Type = "sqlite"
	}
	if cfg.Store.Dir == "" {
		cfg.Store.Dir = "./kagami_data"
	}
	if cfg.Store.DefaultCollection == "" {
		cfg.Store.DefaultCollection = DefaultCollection
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "vertex"
	}
	if cfg.Embedding.Location == "" {
		cfg.Embedding.Location = "us-central1"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "multimodalembedding@001"
	}
	if cfg.Embedding.Dimension == 0 {
		cfg.Embedding.Dimension = DefaultDimension
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = 60 * time.Second
	}
	if cfg.Embedding.RequestsPerSecond == 0 {
		cfg.Embedding.RequestsPerSecond = 5
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 1000
	}
	if cfg.Search.DefaultTopK == 0 {
		cfg.Search.DefaultTopK = 10
	}
	if cfg.Search.MaxTopK == 0 {
		cfg.Search.MaxTopK = 100
	}
	if cfg.Search.SimilarMaxTopK == 0 {
		cfg.Search.SimilarMaxTopK = 50
	}
	if cfg.Search.MaxBatchQueries == 0 {
		cfg.Search.MaxBatchQueries = 10
	}
	if cfg.Search.BatchConcurrency == 0 {
		cfg.Search.BatchConcurrency = 4
	}
	if cfg.Search.UploadMaxBytes == 0 {
		cfg.Search.UploadMaxBytes = 20 << 20
	}
	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = 400 * time.Millisecond
	}
	for i := range cfg.Watch.Directories {
		if cfg.Watch.Directories[i].Collection == "" {
			cfg.Watch.Directories[i].Collection = cfg.Store.DefaultCollection
		}
	}
}
