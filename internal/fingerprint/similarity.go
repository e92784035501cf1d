package fingerprint

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrDegenerateVector is returned when a similarity cannot be computed,
	// for example because one of the vectors has zero magnitude.
	ErrDegenerateVector = errors.New("degenerate embedding vector")
	// ErrDimensionMismatch is returned when two vectors differ in length.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// CosineSimilarity computes the cosine similarity between two embedding vectors.
// Returns a value between -1 and 1, where 1 means identical. Empty, zero-length
// or non-finite input is an error rather than a zero similarity.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}
	if len(a) == 0 {
		return 0, fmt.Errorf("%w: empty vector", ErrDegenerateVector)
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0, fmt.Errorf("%w: zero magnitude", ErrDegenerateVector)
	}

	sim := dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
	if math.IsNaN(sim) || math.IsInf(sim, 0) {
		return 0, fmt.Errorf("%w: similarity is %v", ErrDegenerateVector, sim)
	}
	return sim, nil
}

// Normalize scales v to unit length in place. Zero vectors are left unchanged.
func Normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	norm := math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
}
