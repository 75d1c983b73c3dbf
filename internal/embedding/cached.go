package embedding

import (
	"context"
	"strconv"
)

// CachedProvider memoizes text embeddings of the wrapped provider.
// Image embeddings are not cached since file contents can change under the same path.
type CachedProvider struct {
	Provider
	cache *EmbeddingCache
}

// NewCachedProvider wraps p with an LRU text cache. A non-positive capacity returns p unchanged.
func NewCachedProvider(p Provider, capacity int) Provider {
	if capacity <= 0 {
		return p
	}
	return &CachedProvider{Provider: p, cache: NewEmbeddingCache(capacity)}
}

// EmbedText returns the cached vector or asks the wrapped provider.
func (c *CachedProvider) EmbedText(ctx context.Context, text string, dimension int) ([]float32, error) {
	if dimension == 0 {
		dimension = c.Dimensions()
	}
	key := strconv.Itoa(dimension) + "\x00" + text
	if v, ok := c.cache.Get(key); ok {
		return v, nil
	}
	v, err := c.Provider.EmbedText(ctx, text, dimension)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, v)
	return v, nil
}
