package models

import "fmt"

// DefaultIndexFolder is indexed when POST /index names no folder.
const DefaultIndexFolder = "test_photos"

// SearchRequest is the body of POST /search.
type SearchRequest struct {
	QueryText      string `json:"query_text,omitempty"`
	QueryImagePath string `json:"query_image_path,omitempty"`
	TopK           *int   `json:"top_k,omitempty"`
	CollectionName string `json:"collection_name,omitempty"`
}

// Validate requires at least one query field.
func (q *SearchRequest) Validate() error {
	if q.QueryText == "" && q.QueryImagePath == "" {
		return fmt.Errorf("provide query_text and/or query_image_path")
	}
	return nil
}

// BatchSearchRequest is the body of POST /search/batch.
type BatchSearchRequest struct {
	Queries        []string `json:"queries"`
	TopK           *int     `json:"top_k,omitempty"`
	CollectionName string   `json:"collection_name,omitempty"`
}

// IndexRequest is the body of POST /index.
type IndexRequest struct {
	FolderPath     string `json:"folder_path,omitempty"`
	CollectionName string `json:"collection_name,omitempty"`
}

// ApplyDefaults fills in the default folder and collection.
func (r *IndexRequest) ApplyDefaults(collection string) {
	if r.FolderPath == "" {
		r.FolderPath = DefaultIndexFolder
	}
	if r.CollectionName == "" {
		r.CollectionName = collection
	}
}

// TopKOrDefault returns *k, or def when the request left top_k out.
func TopKOrDefault(k *int, def int) int {
	if k == nil {
		return def
	}
	return *k
}

// ClampTopK bounds k to [1, max]. An explicit zero becomes 1.
func ClampTopK(k, max int) int {
	if k < 1 {
		return 1
	}
	if k > max {
		return max
	}
	return k
}
