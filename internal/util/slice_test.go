package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCloneSlice(t *testing.T) {
	assert := assert.New(t)

	src := []float64{1, 2, 3}
	clone := CloneSlice(src, 0)
	assert.Equal(src, clone)

	clone[0] = 9
	assert.Equal(1.0, src[0])

	assert.Equal([]float64{1, 2, 3, 0}, CloneSlice(src, 4))
	assert.Equal([]float64{1}, CloneSlice(src, 1))
}

func TestResize(t *testing.T) {
	assert := assert.New(t)

	s := make([]float64, 4, 8)
	s[0] = 5

	shrunk := Resize(s, 2)
	assert.Len(shrunk, 2)
	assert.Equal(5.0, shrunk[0])

	grown := Resize(s, 16)
	assert.Len(grown, 16)
	assert.Equal(5.0, grown[0])
}
