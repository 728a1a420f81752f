package vector

import (
	"math"

	"github.com/hyperjump/kotae/pkg/utils"
)

// InnerProduct returns the inner product of two vectors of equal length.
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

// CosineSimilarity returns the cosine of the angle between a and b, in [-1, 1].
// Zero vectors score 0.
func CosineSimilarity(a, b []float32) float64 {
	na, nb := utils.L2Norm(a), utils.L2Norm(b)
	if na == 0 || nb == 0 {
		return 0
	}
	return math.Max(-1, math.Min(1, InnerProduct(a, b)/(na*nb)))
}

// EuclideanDistance returns the L2 distance between a and b.
func EuclideanDistance(a, b []float32) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// score ranks b against a under metric. Higher is always better.
func score(metric Metric, a, b []float32) float64 {
	switch metric {
	case MetricDotProduct:
		return InnerProduct(a, b)
	case MetricEuclidean:
		return -EuclideanDistance(a, b)
	default:
		return CosineSimilarity(a, b)
	}
}
