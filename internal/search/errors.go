package search

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidQuery is returned for malformed queries. It is a client error.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrTooManyQueries is returned when a batch exceeds the query limit.
	ErrTooManyQueries = fmt.Errorf("%w: too many queries", ErrInvalidQuery)

	// ErrEmbeddingUnavailable is returned when the provider could not produce a query vector.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")
)
