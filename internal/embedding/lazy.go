package embedding

import (
	"context"
	"sync"
)

// LazyProvider builds its provider on first use so a process can start
// before credentials are in place. Failed builds are retried on the next call.
type LazyProvider struct {
	build      func(ctx context.Context) (Provider, error)
	dimensions int

	mu       sync.Mutex
	provider Provider
}

// NewLazyProvider returns a provider that calls build on first use.
func NewLazyProvider(dimensions int, build func(ctx context.Context) (Provider, error)) *LazyProvider {
	return &LazyProvider{build: build, dimensions: dimensions}
}

func (l *LazyProvider) get(ctx context.Context) (Provider, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.provider != nil {
		return l.provider, nil
	}
	p, err := l.build(ctx)
	if err != nil {
		return nil, err
	}
	l.provider = p
	return p, nil
}

// EmbedImage builds the provider if needed and embeds the image.
func (l *LazyProvider) EmbedImage(ctx context.Context, path string, dimension int) ([]float32, error) {
	p, err := l.get(ctx)
	if err != nil {
		return nil, err
	}
	return p.EmbedImage(ctx, path, dimension)
}

// EmbedText builds the provider if needed and embeds the text.
func (l *LazyProvider) EmbedText(ctx context.Context, text string, dimension int) ([]float32, error) {
	p, err := l.get(ctx)
	if err != nil {
		return nil, err
	}
	return p.EmbedText(ctx, text, dimension)
}

// Dimensions returns the configured dimension without building the provider.
func (l *LazyProvider) Dimensions() int {
	return l.dimensions
}

// Close closes the underlying provider if it was built.
func (l *LazyProvider) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.provider == nil {
		return nil
	}
	return l.provider.Close()
}
