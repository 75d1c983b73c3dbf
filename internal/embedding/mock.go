package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"os"
	"sync/atomic"

	"github.com/hyperjump/kagami/pkg/utils"
)

// MockProvider is a deterministic provider for tests. Image vectors derive from the
// file's bytes and text vectors from the text, so equal inputs get equal embeddings.
type MockProvider struct {
	dimensions int

	// ImageErr, when set, is consulted before embedding an image; a non-nil result fails the call.
	ImageErr func(path string) error
	// TextErr, when set, is consulted before embedding text.
	TextErr func(text string) error

	imageCalls atomic.Int64
	textCalls  atomic.Int64
}

// NewMockProvider returns a provider that produces deterministic embeddings of the given dimensions.
func NewMockProvider(dimensions int) *MockProvider {
	if dimensions <= 0 {
		dimensions = 1408
	}
	return &MockProvider{dimensions: dimensions}
}

// EmbedImage hashes the file content into a unit vector.
func (m *MockProvider) EmbedImage(ctx context.Context, path string, dimension int) ([]float32, error) {
	m.imageCalls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbedding, err)
	}
	if m.ImageErr != nil {
		if err := m.ImageErr(path); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrEmbedding, err)
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read image: %v", ErrEmbedding, err)
	}
	return m.vector(hashBytes(data), dimension), nil
}

// EmbedText hashes the text into a unit vector.
func (m *MockProvider) EmbedText(ctx context.Context, text string, dimension int) ([]float32, error) {
	m.textCalls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbedding, err)
	}
	if m.TextErr != nil {
		if err := m.TextErr(text); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrEmbedding, err)
		}
	}
	return m.vector(hashBytes([]byte(text)), dimension), nil
}

func (m *MockProvider) vector(h uint64, dimension int) []float32 {
	if dimension <= 0 {
		dimension = m.dimensions
	}
	seed := float64(h%1_000_003) + 1
	emb := make([]float32, dimension)
	for i := range emb {
		emb[i] = float32(math.Sin(seed*float64(i+1))*0.1 + 0.01)
	}
	utils.NormalizeL2(emb)
	return emb
}

func hashBytes(b []byte) uint64 {
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

// ImageCalls returns how many times EmbedImage was called.
func (m *MockProvider) ImageCalls() int64 {
	return m.imageCalls.Load()
}

// TextCalls returns how many times EmbedText was called.
func (m *MockProvider) TextCalls() int64 {
	return m.textCalls.Load()
}

// Dimensions returns the embedding dimension.
func (m *MockProvider) Dimensions() int {
	return m.dimensions
}

// Close is a no-op for MockProvider.
func (m *MockProvider) Close() error {
	return nil
}
