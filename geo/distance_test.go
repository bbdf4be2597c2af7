package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistanceIdenticalPoints(t *testing.T) {
	points := []Point{
		{0, 0},
		{12.9716, 77.5946},
		{-33.8688, 151.2093},
		{90, 0},
		{-90, 180},
	}

	for _, p := range points {
		assert.Equal(t, 0.0, Distance(p, p), "distance of %v to itself", p)
	}
}

func TestDistanceSymmetric(t *testing.T) {
	pairs := [][2]Point{
		{{12.9716, 77.5946}, {12.9716, 77.6050}},
		{{0, 0}, {0, 0.001}},
		{{51.5074, -0.1278}, {40.7128, -74.0060}},
		{{-33.8688, 151.2093}, {35.6762, 139.6503}},
	}

	for _, p := range pairs {
		assert.Equal(t, Distance(p[0], p[1]), Distance(p[1], p[0]))
	}
}

func TestDistanceKnownValues(t *testing.T) {
	tests := []struct {
		name     string
		a, b     Point
		expected float64
		delta    float64
	}{
		{
			name:     "Bangalore east offset",
			a:        Point{12.9716, 77.5946},
			b:        Point{12.9716, 77.6050},
			expected: 1127,
			delta:    30,
		},
		{
			name:     "Equator millidegree",
			a:        Point{0, 0},
			b:        Point{0, 0.001},
			expected: 111.19,
			delta:    0.1,
		},
		{
			name:     "Antipodal",
			a:        Point{0, 0},
			b:        Point{0, 180},
			expected: math.Pi * EarthRadiusMeters,
			delta:    1e-6,
		},
		{
			name:     "Pole to pole",
			a:        Point{90, 0},
			b:        Point{-90, 0},
			expected: math.Pi * EarthRadiusMeters,
			delta:    1e-6,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, Distance(tt.a, tt.b), tt.delta)
		})
	}
}

func TestPointValid(t *testing.T) {
	assert.True(t, Point{12.9716, 77.5946}.Valid())
	assert.True(t, Point{-90, -180}.Valid())
	assert.False(t, Point{91, 0}.Valid())
	assert.False(t, Point{0, 181}.Valid())
	assert.False(t, Point{math.NaN(), 0}.Valid())
}
