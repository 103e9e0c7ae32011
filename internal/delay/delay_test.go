package delay_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gleb-shnshn/DeepFilterNet/internal/delay"
)

func TestLine(t *testing.T) {
	l := delay.Floats(2, 3)
	assert.Equal(t, 2, l.Len())
	assert.Equal(t, []float32{0, 0, 0}, l.Push([]float32{1, 1, 1}))
	assert.Equal(t, []float32{0, 0, 0}, l.Push([]float32{2, 2, 2}))
	assert.Equal(t, []float32{1, 1, 1}, l.Push([]float32{3, 3, 3}))

	l.Reset()
	assert.Equal(t, []float32{0, 0, 0}, l.Push([]float32{4, 4, 4}))
}

func TestZeroLength(t *testing.T) {
	l := delay.New(0, func() int { return -1 })
	assert.Zero(t, l.Len())
	assert.Equal(t, 7, l.Push(7))
	l.Reset()
	assert.Equal(t, 8, l.Push(8))
}
