package models

// SearchHit is a single ranked match from a vector query.
type SearchHit struct {
	ID       string  `json:"id"`
	Path     string  `json:"path"`
	Distance float64 `json:"distance"`
	// Score is 1 - Distance, in [-1, 1] under cosine.
	Score float64 `json:"score"`
	Rank  int     `json:"rank"`
}

// SearchResultItem is the public shape of a hit.
type SearchResultItem struct {
	Path  string  `json:"path"`
	Score float64 `json:"score"`
	Rank  int     `json:"rank"`
}

// SearchResponse is the response for single-query search endpoints.
type SearchResponse struct {
	Results []SearchResultItem `json:"results"`
}

// BatchSearchResponse maps each original query string to its results.
type BatchSearchResponse struct {
	Queries map[string][]SearchResultItem `json:"queries"`
	// Errors holds per-query failures; queries listed here are absent from Queries.
	Errors map[string]string `json:"errors,omitempty"`
}

// IndexResponse is the response for POST /index.
type IndexResponse struct {
	Indexed        int           `json:"indexed"`
	CollectionName string        `json:"collection_name"`
	Failed         int           `json:"failed,omitempty"`
	Errors         []PathFailure `json:"errors,omitempty"`
	MoreErrors     int           `json:"more_errors,omitempty"`
	// Error is set when every file failed.
	Error string `json:"error,omitempty"`
}

// StatsResponse is the response for GET /stats.
type StatsResponse struct {
	CollectionName     string `json:"collection_name"`
	TotalImages        int    `json:"total_images"`
	EmbeddingDimension int    `json:"embedding_dimension"`
	StoreType          string `json:"store_type,omitempty"`
	DiskUsageBytes     *int64 `json:"disk_usage_bytes,omitempty"`
}

// CollectionSummary is one collection in a CollectionsResponse.
// EmbeddingDimension is 0 while the collection is empty.
type CollectionSummary struct {
	CollectionName     string `json:"collection_name"`
	TotalImages        int    `json:"total_images"`
	EmbeddingDimension int    `json:"embedding_dimension"`
}

// CollectionsResponse is the response for GET /collections.
type CollectionsResponse struct {
	Collections []CollectionSummary `json:"collections"`
	StoreType   string              `json:"store_type"`
}

// ToItems converts hits to their public shape.
func ToItems(hits []SearchHit) []SearchResultItem {
	items := make([]SearchResultItem, len(hits))
	for i, h := range hits {
		items[i] = SearchResultItem{Path: h.Path, Score: h.Score, Rank: h.Rank}
	}
	return items
}
