package vector

import (
	"context"
	"fmt"

	"github.com/hyperjump/kagami/internal/models"
)

// Summaries lists every collection in store with its record count and dimension.
func Summaries(ctx context.Context, store Store) ([]models.CollectionSummary, error) {
	names, err := store.Collections(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.CollectionSummary, 0, len(names))
	for _, name := range names {
		coll, err := store.GetOrCreate(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("collection %s: %w", name, err)
		}
		n, err := store.Count(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("collection %s: %w", name, err)
		}
		out = append(out, models.CollectionSummary{CollectionName: name, TotalImages: n, EmbeddingDimension: coll.Dimension})
	}
	return out, nil
}
