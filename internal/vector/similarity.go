package vector

import (
	"math"
	"sort"

	"github.com/hyperjump/kagami/internal/models"
)

// CosineDistance returns 1 - cos(a, b). Zero vectors are at distance 1 from everything.
func CosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 1
	}
	na, nb := L2Norm(a), L2Norm(b)
	if na == 0 || nb == 0 {
		return 1
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return 1 - dot/(na*nb)
}

// L2Norm returns the Euclidean length of x, accumulated in float64.
func L2Norm(x []float32) float64 {
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

// rankRecords scores records in stored order against query and keeps the k nearest.
func rankRecords(query []float32, records []models.ImageRecord, k int) []models.SearchHit {
	hits := make([]models.SearchHit, len(records))
	for i, r := range records {
		d := CosineDistance(query, r.Embedding)
		hits[i] = models.SearchHit{ID: r.ID, Path: r.Path, Distance: d, Score: 1 - d}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	if k < len(hits) {
		hits = hits[:k]
	}
	for i := range hits {
		hits[i].Rank = i + 1
	}
	return hits
}
