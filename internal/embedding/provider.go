// Package embedding provides multimodal image and text embeddings and caching.
package embedding

import (
	"context"
	"errors"
)

// ErrEmbedding is returned when a provider cannot produce a vector.
var ErrEmbedding = errors.New("embedding failed")

// Provider produces vectors for images and text in one shared space.
// A dimension of 0 means the provider's configured Dimensions().
type Provider interface {
	EmbedImage(ctx context.Context, path string, dimension int) ([]float32, error)
	EmbedText(ctx context.Context, text string, dimension int) ([]float32, error)
	Dimensions() int
	Close() error
}

// SupportedDimensions lists the output sizes the multimodal model accepts.
var SupportedDimensions = []int{128, 256, 512, 1408}

// IsSupportedDimension reports whether d is one of SupportedDimensions.
func IsSupportedDimension(d int) bool {
	for _, s := range SupportedDimensions {
		if s == d {
			return true
		}
	}
	return false
}
