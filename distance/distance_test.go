package distance_test

import (
	"math"
	"testing"

	"github.com/hugoev/PolarisDB/distance"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelfDistanceIsZero(t *testing.T) {
	v := []float32{1, 2, 3, 4}
	zero := []float32{0, 0, 0, 0}

	assert.Equal(t, float32(0), distance.EuclideanDistance(v, v))
	assert.InDelta(t, 0, distance.CosineDistance(v, v), 1e-6)
	assert.LessOrEqual(t, distance.DotProductDistance(v, v), float32(0))
	assert.Equal(t, float32(0), distance.HammingDistance(v, v))
	assert.Equal(t, float32(0), distance.HammingDistance(zero, zero))
}

func TestEuclideanKnownValues(t *testing.T) {
	a := []float32{1, 0, 0}
	b := []float32{0, 1, 0}
	assert.InDelta(t, math.Sqrt2, distance.EuclideanDistance(a, b), 1e-6)
}

func TestCosineOrdering(t *testing.T) {
	q := []float32{1, 0, 0, 0}
	near := []float32{0.9, 0.1, 0, 0}
	far := []float32{0, 0, 0, 1}

	dNear := distance.CosineDistance(q, near)
	dFar := distance.CosineDistance(q, far)
	assert.Less(t, dNear, dFar)
	assert.InDelta(t, 1.0, dFar, 1e-6)
}

func TestDotProductNegated(t *testing.T) {
	a := []float32{1, 1}
	b := []float32{1, 1}
	assert.Equal(t, float32(-2), distance.DotProductDistance(a, b))
}

func TestHammingCountsBitwiseMismatches(t *testing.T) {
	a := []float32{1, 2, 3}
	b := []float32{1, 2, 4}
	assert.Equal(t, float32(1), distance.HammingDistance(a, b))
}

func TestProviderDispatch(t *testing.T) {
	for _, m := range []distance.Metric{distance.Euclidean, distance.Cosine, distance.DotProduct, distance.Hamming} {
		fn, err := distance.Provider(m)
		require.NoError(t, err)
		require.NotNil(t, fn)
	}

	_, err := distance.Provider(distance.Metric(99))
	assert.Error(t, err)
}

func TestParseMetricRoundTripsWithString(t *testing.T) {
	for _, m := range []distance.Metric{distance.Euclidean, distance.Cosine, distance.DotProduct, distance.Hamming} {
		got, err := distance.ParseMetric(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}

	_, err := distance.ParseMetric("not-a-metric")
	assert.Error(t, err)
}

func TestIsZero(t *testing.T) {
	assert.True(t, distance.IsZero([]float32{0, 0, 0}))
	assert.False(t, distance.IsZero([]float32{0, 0, 1}))
}

func TestNaNDoesNotPanic(t *testing.T) {
	a := []float32{float32(math.NaN()), 1}
	b := []float32{1, 1}
	assert.NotPanics(t, func() {
		distance.EuclideanDistance(a, b)
		distance.CosineDistance(a, b)
		distance.DotProductDistance(a, b)
		distance.HammingDistance(a, b)
	})
}
