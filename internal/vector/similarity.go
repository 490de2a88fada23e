// Package vector provides cosine scoring of candidate embeddings against a query embedding.
package vector

import "math"

// InnerProduct returns the inner product of two equal-length vectors, accumulated in float64.
func InnerProduct(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

// L2Norm returns the L2 norm of a vector.
func L2Norm(x []float32) float64 {
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

// Cosine returns the cosine similarity of a and b clamped to [-1, 1].
// A zero-norm vector has similarity 0 with everything. The caller checks lengths.
func Cosine(a, b []float32) float64 {
	na, nb := L2Norm(a), L2Norm(b)
	if na == 0 || nb == 0 {
		return 0
	}
	s := InnerProduct(a, b) / (na * nb)
	return math.Max(-1, math.Min(1, s))
}
