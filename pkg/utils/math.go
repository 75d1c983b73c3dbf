package utils

import "math"

// NormalizeL2 scales x in place to unit length, the form the embedding model returns,
// and reports the length it had. A zero vector is left as is.
func NormalizeL2(x []float32) float64 {
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return 0
	}
	for i := range x {
		x[i] = float32(float64(x[i]) / norm)
	}
	return norm
}
