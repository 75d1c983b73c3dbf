// Package models defines core data structures for image records, queries, and search results.
package models

// ImageRecord is one indexed image: its content address, absolute path and embedding.
type ImageRecord struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	Embedding []float32 `json:"-"`
}

// PathFailure describes one file that could not be embedded.
type PathFailure struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// String formats the failure as "path: error".
func (f PathFailure) String() string {
	return f.Path + ": " + f.Error
}

// IndexOutcome is the result of one indexing run.
type IndexOutcome struct {
	Collection string        `json:"collection_name"`
	Found      int           `json:"found"`
	Indexed    int           `json:"indexed"`
	Failures   []PathFailure `json:"failures,omitempty"`
}

// FailureSample returns at most n failures plus the count of those left out.
func (o *IndexOutcome) FailureSample(n int) ([]PathFailure, int) {
	if len(o.Failures) <= n {
		return o.Failures, 0
	}
	return o.Failures[:n], len(o.Failures) - n
}
