// Package vector provides named collections of image embeddings with cosine similarity search.
package vector

import (
	"context"
	"fmt"
	"strings"

	"github.com/hyperjump/kagami/internal/models"
)

// MetricCosine is the only similarity metric collections are created with.
const MetricCosine = "cosine"

// Collection describes a named collection.
type Collection struct {
	Name   string
	Metric string
	// Dimension is 0 until the first insert establishes it.
	Dimension int
}

// Store owns persisted image records, one collection per name.
// Collections are created lazily by any operation that names them.
type Store interface {
	// GetOrCreate returns the collection, creating it with the cosine metric if absent.
	GetOrCreate(ctx context.Context, name string) (Collection, error)

	// Add upserts records by ID. All records are validated before any is written.
	Add(ctx context.Context, name string, records []models.ImageRecord) error

	// Query returns at most min(k, count) hits ordered by ascending distance.
	// Ties keep insertion order.
	Query(ctx context.Context, name string, vector []float32, k int) ([]models.SearchHit, error)

	// Clear empties the collection and resets its dimension, creating it if absent.
	Clear(ctx context.Context, name string) error

	// Count returns the number of records in the collection.
	Count(ctx context.Context, name string) (int, error)

	// Delete removes records by ID. Unknown IDs are ignored.
	Delete(ctx context.Context, name string, ids []string) error

	// Get returns a record by ID or ErrNotFound.
	Get(ctx context.Context, name, id string) (models.ImageRecord, error)

	// Collections lists collection names in lexical order.
	Collections(ctx context.Context) ([]string, error)

	// Type returns the backend identifier.
	Type() string

	Close() error
}

// NewRecords zips parallel id, path and embedding lists into records.
func NewRecords(ids, paths []string, embeddings [][]float32) ([]models.ImageRecord, error) {
	if len(ids) != len(paths) || len(ids) != len(embeddings) {
		return nil, fmt.Errorf("%w: %d ids, %d paths, %d embeddings", ErrArityMismatch, len(ids), len(paths), len(embeddings))
	}
	records := make([]models.ImageRecord, len(ids))
	for i := range ids {
		records[i] = models.ImageRecord{ID: ids[i], Path: paths[i], Embedding: embeddings[i]}
	}
	return records, nil
}

// validateName rejects names that cannot be used as a collection key or file name.
func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: collection name is required", ErrInvalidArgument)
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("%w: collection name %q", ErrInvalidArgument, name)
	}
	return nil
}

// validateRecords checks ids and that every embedding has the same length.
// dim is the collection's current dimension (0 when not yet established);
// the returned dimension is the one the batch establishes.
func validateRecords(records []models.ImageRecord, dim int) (int, error) {
	for _, r := range records {
		if r.ID == "" {
			return 0, fmt.Errorf("%w: record id is required", ErrInvalidArgument)
		}
		if len(r.Embedding) == 0 {
			return 0, fmt.Errorf("%w: empty embedding for %s", ErrDimensionMismatch, r.ID)
		}
		if dim == 0 {
			dim = len(r.Embedding)
			continue
		}
		if len(r.Embedding) != dim {
			return 0, fmt.Errorf("%w: got %d, expected %d", ErrDimensionMismatch, len(r.Embedding), dim)
		}
	}
	return dim, nil
}

func validateK(k int) error {
	if k <= 0 {
		return fmt.Errorf("%w: k must be positive, got %d", ErrInvalidArgument, k)
	}
	return nil
}
