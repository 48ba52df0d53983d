// Package similarity computes cosine similarity between embedding sets.
package similarity

import "math"

// Dot returns the inner product of two vectors. Mismatched or empty inputs
// score 0.
func Dot(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i] * b[i])
	}
	return dot
}

// Norm returns the L2 norm of a vector.
func Norm(x []float32) float64 {
	var sum float64
	for _, v := range x {
		sum += float64(v * v)
	}
	return math.Sqrt(sum)
}

// Cosine returns the cosine similarity of a and b in [-1, 1]. A zero-magnitude
// vector on either side scores 0: degenerate embeddings are guarded against
// rather than raised.
func Cosine(a, b []float32) float64 {
	na, nb := Norm(a), Norm(b)
	if na == 0 || nb == 0 {
		return 0
	}
	return Dot(a, b) / (na * nb)
}

// RowCosine returns the cosine similarity of one offer vector against every
// catalog vector. This is the row-by-row path that avoids materializing the
// full matrix for very large catalogs.
func RowCosine(wfVec []float32, ref [][]float32) []float64 {
	row := make([]float64, len(ref))
	for j, refVec := range ref {
		row[j] = Cosine(wfVec, refVec)
	}
	return row
}
