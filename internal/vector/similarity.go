package vector

import (
	"errors"
	"math"

	"github.com/hyperjump/kioku/pkg/utils"
)

var (
	// ErrDimensionMismatch is returned when vectors of different lengths are combined.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrNoVectors is returned when there is nothing to combine.
	ErrNoVectors = errors.New("no vectors to combine")
)

// InnerProduct returns the inner product of two vectors (for normalized vectors equals cosine similarity).
func InnerProduct(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
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

// CosineSimilarity returns the cosine of the angle between a and b in [-1,1].
// It returns 0 when the lengths differ or either vector has zero norm.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Combine returns the weighted average of vectors, normalized to unit length.
// A nil weights slice weighs every vector equally.
func Combine(vectors [][]float32, weights []float64) ([]float32, error) {
	if len(vectors) == 0 {
		return nil, ErrNoVectors
	}
	if weights == nil {
		weights = make([]float64, len(vectors))
		for i := range weights {
			weights[i] = 1 / float64(len(vectors))
		}
	}
	if len(weights) != len(vectors) {
		return nil, errors.New("weights must match vectors")
	}
	dim := len(vectors[0])
	acc := make([]float64, dim)
	for i, v := range vectors {
		if len(v) != dim {
			return nil, ErrDimensionMismatch
		}
		for j, x := range v {
			acc[j] += float64(x) * weights[i]
		}
	}
	out := make([]float32, dim)
	for j, x := range acc {
		out[j] = float32(x)
	}
	utils.NormalizeL2(out)
	return out, nil
}
