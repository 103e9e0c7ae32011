package dfop

// SpectralBuffer is a fixed depth history of low band spectrum frames. It
// always holds order frames and starts zeroed.
type SpectralBuffer struct {
	frames [][]complex64
	// head is the index of the newest frame.
	head int
	bins int
}

// NewSpectralBuffer allocates a zeroed history of order frames with bins
// values each.
func NewSpectralBuffer(order, bins int) *SpectralBuffer {
	b := &SpectralBuffer{
		frames: make([][]complex64, order),
		head:   order - 1,
		bins:   bins,
	}
	for i := range b.frames {
		b.frames[i] = make([]complex64, bins)
	}
	return b
}

// Order returns the number of frames held.
func (b *SpectralBuffer) Order() int {
	return len(b.frames)
}

// Bins returns the number of values per frame.
func (b *SpectralBuffer) Bins() int {
	return b.bins
}

// Push stores the first Bins values of frame, evicting the oldest frame.
func (b *SpectralBuffer) Push(frame []complex64) {
	b.head = (b.head + 1) % len(b.frames)
	copy(b.frames[b.head], frame[:b.bins])
}

// Lag returns the frame pushed k steps ago. Lag(0) is the newest frame.
// The returned slice is owned by the buffer.
func (b *SpectralBuffer) Lag(k int) []complex64 {
	n := len(b.frames)
	return b.frames[((b.head-k)%n+n)%n]
}

// Frames returns copies of all frames, oldest first.
func (b *SpectralBuffer) Frames() [][]complex64 {
	n := len(b.frames)
	out := make([][]complex64, n)
	for i := range out {
		out[i] = append([]complex64(nil), b.Lag(n-1-i)...)
	}
	return out
}

// Reset zeroes all frames.
func (b *SpectralBuffer) Reset() {
	for _, f := range b.frames {
		for i := range f {
			f[i] = 0
		}
	}
	b.head = len(b.frames) - 1
}
