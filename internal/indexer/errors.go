package indexer

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/multierr"

	"github.com/hyperjump/kagami/internal/models"
)

var (
	// ErrNoImages is returned when a folder holds no files with a supported image extension.
	ErrNoImages = errors.New("no image files found")

	// ErrInvalidDimension is returned for an embedding dimension the provider does not support.
	ErrInvalidDimension = errors.New("unsupported embedding dimension")

	// ErrUnsupportedFile is returned by IndexFile for a file without an image extension.
	ErrUnsupportedFile = errors.New("unsupported file type")
)

// AllFailedError reports that every enumerated image failed to embed.
type AllFailedError struct {
	Total    int
	Failures []models.PathFailure
	cause    error
}

func newAllFailedError(total int, failures []models.PathFailure, errs []error) *AllFailedError {
	return &AllFailedError{Total: total, Failures: failures, cause: multierr.Combine(errs...)}
}

func (e *AllFailedError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "failed to generate embeddings for all %d images", e.Total)
	if len(e.Failures) > 0 {
		fmt.Fprintf(&b, ". First error: %s", e.Failures[0])
	}
	return b.String()
}

// Unwrap exposes the combined per-file errors.
func (e *AllFailedError) Unwrap() error {
	return e.cause
}
