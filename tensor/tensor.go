// Package tensor provides the dense float32 tensor exchanged between model
// stages. Data is stored row-major.
package tensor

import (
	"errors"
	"fmt"
)

// ErrShape is returned when data does not fit the requested shape.
var ErrShape = errors.New("shape mismatch")

// Tensor is a dense row-major float32 tensor.
type Tensor struct {
	shape []int
	data  []float32
}

// New wraps data into a tensor of provided shape.
func New(shape []int, data []float32) (*Tensor, error) {
	if v := Volume(shape); v != len(data) {
		return nil, fmt.Errorf("%w: shape %v needs %d values, got %d", ErrShape, shape, v, len(data))
	}
	return &Tensor{shape: append([]int(nil), shape...), data: data}, nil
}

// Zeros returns a zero-valued tensor of provided shape.
func Zeros(shape ...int) *Tensor {
	return &Tensor{
		shape: append([]int(nil), shape...),
		data:  make([]float32, Volume(shape)),
	}
}

// Volume returns the number of elements of a shape.
func Volume(shape []int) int {
	v := 1
	for _, d := range shape {
		v *= d
	}
	return v
}

// SameShape reports whether two shapes are equal.
func SameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Shape returns tensor dimensions.
func (t *Tensor) Shape() []int {
	return t.shape
}

// Data returns underlying values.
func (t *Tensor) Data() []float32 {
	return t.data
}

// Len returns the number of elements.
func (t *Tensor) Len() int {
	return len(t.data)
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{
		shape: append([]int(nil), t.shape...),
		data:  append([]float32(nil), t.data...),
	}
}

// Reshape returns a tensor sharing data with a new shape.
func (t *Tensor) Reshape(shape ...int) (*Tensor, error) {
	return New(shape, t.data)
}

// Frame returns a copy of i-th slice along axis. The axis is kept with
// size 1.
func (t *Tensor) Frame(axis, i int) *Tensor {
	outer, size, inner := split(t.shape, axis)
	shape := append([]int(nil), t.shape...)
	shape[axis] = 1
	data := make([]float32, 0, outer*inner)
	for o := 0; o < outer; o++ {
		start := (o*size + i) * inner
		data = append(data, t.data[start:start+inner]...)
	}
	return &Tensor{shape: shape, data: data}
}

// Concat joins tensors along axis. All other dimensions must match.
func Concat(axis int, parts ...*Tensor) (*Tensor, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: nothing to concat", ErrShape)
	}
	shape := append([]int(nil), parts[0].shape...)
	shape[axis] = 0
	for _, p := range parts {
		if len(p.shape) != len(shape) {
			return nil, fmt.Errorf("%w: rank %d vs %d", ErrShape, len(p.shape), len(shape))
		}
		for d := range shape {
			if d != axis && p.shape[d] != shape[d] {
				return nil, fmt.Errorf("%w: %v vs %v on axis %d", ErrShape, p.shape, parts[0].shape, d)
			}
		}
		shape[axis] += p.shape[axis]
	}
	outer, _, inner := split(shape, axis)
	data := make([]float32, 0, Volume(shape))
	for o := 0; o < outer; o++ {
		for _, p := range parts {
			n := p.shape[axis] * inner
			data = append(data, p.data[o*n:(o+1)*n]...)
		}
	}
	return &Tensor{shape: shape, data: data}, nil
}

func split(shape []int, axis int) (outer, size, inner int) {
	outer, inner = 1, 1
	for d := 0; d < axis; d++ {
		outer *= shape[d]
	}
	for d := axis + 1; d < len(shape); d++ {
		inner *= shape[d]
	}
	return outer, shape[axis], inner
}
