package config

import "os"

// ApplyEnv overrides cfg with any of the recognised environment variables that are set.
func ApplyEnv(cfg *Config) {
	set := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v, ok := os.LookupEnv(k); ok && v != "" {
				*dst = v
				return
			}
		}
	}
	set(&cfg.Embedding.CredentialsFile, "GOOGLE_APPLICATION_CREDENTIALS")
	set(&cfg.Embedding.ProjectID, "GCP_PROJECT_ID")
	set(&cfg.Embedding.Location, "GCP_LOCATION")
	set(&cfg.Embedding.Provider, "KAGAMI_EMBEDDING_PROVIDER")
	set(&cfg.Store.Dir, "KAGAMI_STORE_DIR", "CHROMA_PERSIST_DIR")
	set(&cfg.Store.Type, "KAGAMI_STORE_TYPE")
	set(&cfg.Store.ChromaURL, "KAGAMI_CHROMA_URL")
	set(&cfg.Paths.BasePath, "IMAGE_BASE_PATH")
}
