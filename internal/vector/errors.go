package vector

import (
	"errors"
	"fmt"
)

var (
	// ErrStore groups contract errors raised by a Store.
	ErrStore = errors.New("vector store error")

	// ErrDimensionMismatch is returned when a vector's length differs from the collection's dimension.
	ErrDimensionMismatch = fmt.Errorf("%w: dimension mismatch", ErrStore)

	// ErrArityMismatch is returned when id, path and vector lists differ in length.
	ErrArityMismatch = fmt.Errorf("%w: ids, paths and embeddings must have the same length", ErrStore)

	// ErrInvalidArgument is returned for bad k, empty ids or bad collection names.
	ErrInvalidArgument = fmt.Errorf("%w: invalid argument", ErrStore)

	// ErrConnection is returned when a remote vector store cannot be reached.
	ErrConnection = fmt.Errorf("%w: connection failed", ErrStore)

	// ErrNotFound is returned when a record is not present in a collection.
	ErrNotFound = errors.New("record not found")
)
