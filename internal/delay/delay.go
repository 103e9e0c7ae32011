// Package delay provides fixed length frame delay lines.
package delay

// Line is a FIFO of frames. It starts filled with zero values, so the
// first Len pushes return zeros.
type Line[T any] struct {
	buf  []T
	zero func() T
}

// New returns a line delaying by n pushes. Zero values are made with zero.
func New[T any](n int, zero func() T) *Line[T] {
	l := &Line[T]{buf: make([]T, n), zero: zero}
	l.Reset()
	return l
}

// Len returns the delay in pushes.
func (l *Line[T]) Len() int {
	return len(l.buf)
}

// Push appends v and returns the value pushed Len steps ago. A zero length
// line returns v.
func (l *Line[T]) Push(v T) T {
	if len(l.buf) == 0 {
		return v
	}
	out := l.buf[0]
	copy(l.buf, l.buf[1:])
	l.buf[len(l.buf)-1] = v
	return out
}

// Reset refills the line with zero values.
func (l *Line[T]) Reset() {
	for i := range l.buf {
		l.buf[i] = l.zero()
	}
}

// Floats returns a line of zeroed float frames of size.
func Floats(n, size int) *Line[[]float32] {
	return New(n, func() []float32 { return make([]float32, size) })
}
