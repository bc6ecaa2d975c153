package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBoxcar(t *testing.T) {
	tests := []struct {
		name     string
		src      []float64
		width    int
		expected []float64
	}{
		{name: "width 1", src: []float64{0, 10, 0, 10, 0}, width: 1, expected: []float64{0, 10.0 / 3, 20.0 / 3, 10.0 / 3, 0}},
		{name: "width 0", src: []float64{1, 2, 3}, width: 0, expected: []float64{1, 2, 3}},
		{name: "window wider than spectrum", src: []float64{1, 5, 9}, width: 2, expected: []float64{1, 5, 9}},
		{name: "exact fit", src: []float64{1, 2, 3, 4, 5}, width: 2, expected: []float64{1, 2, 3, 4, 5}},
		{name: "width 2", src: []float64{5, 0, 5, 0, 5, 0, 5}, width: 2, expected: []float64{5, 0, 3, 2, 3, 0, 5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dst := make([]float64, len(tt.src))
			Boxcar(dst, tt.src, tt.width)
			assert.InDeltaSlice(t, tt.expected, dst, 1e-9)
		})
	}
}

func TestAverage(t *testing.T) {
	sum := []float64{4, 6, 8}
	Average(sum, 2)
	assert.Equal(t, []float64{2, 3, 4}, sum)

	Average(sum, 1)
	assert.Equal(t, []float64{2, 3, 4}, sum)
}

func TestSubtractDark(t *testing.T) {
	values := []float64{10, 20, 30, 40}
	mean := SubtractDark(values, []int{0, 1, 99, -1})
	assert.InDelta(t, 15, mean, 1e-9)
	assert.InDeltaSlice(t, []float64{-5, 5, 15, 25}, values, 1e-9)

	values = []float64{1, 2}
	assert.Zero(t, SubtractDark(values, nil))
	assert.Equal(t, []float64{1, 2}, values)
}
