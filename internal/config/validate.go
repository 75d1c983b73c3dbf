package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/hyperjump/kagami/internal/embedding"
)

// ErrConfiguration marks missing or invalid settings. Callers surface it as service unavailable.
var ErrConfiguration = errors.New("configuration error")

// Validate checks that the settings needed to serve requests are present and usable.
func (c *Config) Validate() error {
	if err := c.ValidateEmbedding(); err != nil {
		return err
	}
	info, err := os.Stat(c.Paths.BasePath)
	if err != nil {
		return fmt.Errorf("%w: base path %s: %v", ErrConfiguration, c.Paths.BasePath, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: base path is not a directory: %s", ErrConfiguration, c.Paths.BasePath)
	}
	switch c.Store.Type {
	case "sqlite", "memory":
		if c.Store.Dir == "" {
			return fmt.Errorf("%w: store dir must be set", ErrConfiguration)
		}
	case "chroma":
		if c.Store.ChromaURL == "" {
			return fmt.Errorf("%w: store chroma_url must be set for chroma", ErrConfiguration)
		}
	default:
		return fmt.Errorf("%w: unknown store type %q (supported: sqlite, memory, chroma)", ErrConfiguration, c.Store.Type)
	}
	return nil
}

// ValidateEmbedding checks the embedding provider settings only.
func (c *Config) ValidateEmbedding() error {
	e := c.Embedding
	if !embedding.IsSupportedDimension(e.Dimension) {
		return fmt.Errorf("%w: embedding dimension %d not one of %v", ErrConfiguration, e.Dimension, embedding.SupportedDimensions)
	}
	switch e.Provider {
	case "mock":
		return nil
	case "vertex":
	default:
		return fmt.Errorf("%w: unknown embedding provider %q (supported: vertex, mock)", ErrConfiguration, e.Provider)
	}
	if e.CredentialsFile == "" {
		return fmt.Errorf("%w: GOOGLE_APPLICATION_CREDENTIALS must be set (path to service account JSON)", ErrConfiguration)
	}
	info, err := os.Stat(e.CredentialsFile)
	if err != nil || !info.Mode().IsRegular() {
		return fmt.Errorf("%w: GOOGLE_APPLICATION_CREDENTIALS path is not a file: %s", ErrConfiguration, e.CredentialsFile)
	}
	if e.ProjectID == "" {
		return fmt.Errorf("%w: GCP_PROJECT_ID must be set", ErrConfiguration)
	}
	if e.Location == "" {
		return fmt.Errorf("%w: GCP_LOCATION must be set", ErrConfiguration)
	}
	return nil
}
