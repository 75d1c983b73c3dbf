package benchmark

import (
	"context"
	"fmt"
	"testing"

	"github.com/hyperjump/kagami/internal/embedding"
	"github.com/hyperjump/kagami/internal/models"
	"github.com/hyperjump/kagami/internal/vector"
)

const benchDim = 1408

func fillStore(b *testing.B, store vector.Store, n int) []float32 {
	b.Helper()
	ctx := context.Background()
	records := make([]models.ImageRecord, n)
	for i := range records {
		v := make([]float32, benchDim)
		v[i%benchDim] = 1
		v[(i+1)%benchDim] = float32(i) / float32(n)
		records[i] = models.ImageRecord{ID: fmt.Sprintf("id-%d", i), Path: fmt.Sprintf("/photos/%d.jpg", i), Embedding: v}
	}
	if err := store.Add(ctx, "bench", records); err != nil {
		b.Fatal(err)
	}
	query := make([]float32, benchDim)
	query[0] = 1
	return query
}

func BenchmarkMemoryStoreQuery(b *testing.B) {
	store, _ := vector.NewMemoryStore("", nil)
	defer store.Close()
	query := fillStore(b, store, 5000)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = store.Query(ctx, "bench", query, 10)
	}
}

func BenchmarkSQLiteStoreQuery(b *testing.B) {
	store, err := vector.NewStore(vector.Options{Type: "sqlite", Dir: b.TempDir()})
	if err != nil {
		b.Fatal(err)
	}
	defer store.Close()
	query := fillStore(b, store, 1000)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = store.Query(ctx, "bench", query, 10)
	}
}

func BenchmarkCosineDistance(b *testing.B) {
	x := make([]float32, benchDim)
	y := make([]float32, benchDim)
	for i := range x {
		x[i] = float32(i%7) / 7
		y[i] = float32(i%5) / 5
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = vector.CosineDistance(x, y)
	}
}

func BenchmarkCachedProvider_EmbedText(b *testing.B) {
	p := embedding.NewCachedProvider(embedding.NewMockProvider(benchDim), 100)
	defer p.Close()
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = p.EmbedText(ctx, "benchmark query text for embedding", benchDim)
	}
}
