// Package integration provides end-to-end tests (requires real storage).
package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/hyperjump/kagami/internal/embedding"
	"github.com/hyperjump/kagami/internal/indexer"
	"github.com/hyperjump/kagami/internal/sandbox"
	"github.com/hyperjump/kagami/internal/search"
	"github.com/hyperjump/kagami/internal/vector"
)

func TestIntegration_SearchSurvivesReopen(t *testing.T) {
	base := t.TempDir()
	photos := filepath.Join(base, "photos")
	if err := os.MkdirAll(photos, 0755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"beach.jpg", "dog.png", "car.webp"} {
		if err := os.WriteFile(filepath.Join(photos, name), []byte("pixels of "+name), 0644); err != nil {
			t.Fatal(err)
		}
	}
	storeDir := t.TempDir()
	sb, err := sandbox.New(base)
	if err != nil {
		t.Fatal(err)
	}
	provider := embedding.NewMockProvider(256)
	ctx := context.Background()

	store, err := vector.NewStore(vector.Options{Type: "sqlite", Dir: storeDir})
	if err != nil {
		t.Fatal(err)
	}
	locks := vector.NewCollectionLocks()
	idx := indexer.NewIndexer(sb, store, provider, locks)
	if _, err := idx.IndexFolder(ctx, "photos", "images", true, 256); err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	store, err = vector.NewStore(vector.Options{Type: "sqlite", Dir: storeDir})
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	orch := search.NewOrchestrator(sb, store, provider, vector.NewCollectionLocks())

	hits, err := orch.ImagePath(ctx, "photos/dog.png", "images", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if filepath.Base(hits[0].Path) != "dog.png" || hits[0].Score != 1 {
		t.Errorf("top hit = %+v, want dog.png with score 1", hits[0])
	}

	coll, err := store.GetOrCreate(ctx, "images")
	if err != nil {
		t.Fatal(err)
	}
	if coll.Dimension != 256 {
		t.Errorf("dimension after reopen = %d, want 256", coll.Dimension)
	}
}
