package signal_test

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gleb-shnshn/DeepFilterNet/signal"
)

func TestInterIntsAsFloat64(t *testing.T) {
	tests := []struct {
		ints        []int
		numChannels int
		bitDepth    signal.BitDepth
		expected    [][]float64
	}{
		{
			ints:        []int{1, 2, 1, 2, 1, 2, 1, 2},
			numChannels: 2,
			expected: [][]float64{
				{1, 1, 1, 1},
				{2, 2, 2, 2},
			},
		},
		{
			ints:        []int{1, 2, 1, 2, 1},
			numChannels: 2,
			expected: [][]float64{
				{1, 1, 1},
				{2, 2, 0},
			},
		},
		{
			ints:        []int{math.MaxInt16, -math.MaxInt16},
			numChannels: 2,
			expected: [][]float64{
				{1},
				{-1},
			},
			bitDepth: signal.BitDepth16,
		},
		{
			ints:     nil,
			expected: nil,
		},
	}

	for _, test := range tests {
		ints := signal.InterInt{
			Data:        test.ints,
			NumChannels: test.numChannels,
			BitDepth:    test.bitDepth,
		}
		result := ints.AsFloat64()
		assert.Equal(t, len(test.expected), len(result))
		for i := range test.expected {
			for j, val := range test.expected[i] {
				assert.Equal(t, val, result[i][j])
			}
		}
	}
}

func TestFloat64AsInterIntClips(t *testing.T) {
	floats := signal.Float64{
		{0.5, 2},
		{-3, 0},
	}
	ints := floats.AsInterInt(signal.BitDepth16)
	m := math.MaxInt16 - 1
	assert.Equal(t, []int{int(0.5 * float64(m)), -m, m, 0}, ints)
	assert.Nil(t, signal.Float64{}.AsInterInt(signal.BitDepth16))
}

func TestPad(t *testing.T) {
	floats := signal.Float64{
		{1, 2, 3, 4},
		{5, 6, 7, 8},
	}
	padded := floats.Pad(2)
	assert.Equal(t, 6, padded.Size())
	assert.Equal(t, []float64{1, 2, 3, 4, 0, 0}, padded[0])
	// source is untouched
	assert.Equal(t, 4, floats.Size())
}

func TestChannelsRoundTrip(t *testing.T) {
	floats := signal.Float64FromChannels([]float32{0.25, -0.5}, []float32{1, 0})
	assert.Equal(t, 2, floats.NumChannels())
	assert.Equal(t, []float32{0.25, -0.5}, floats.Channel(0))
	assert.Equal(t, []float32{1, 0}, floats.Channel(1))
}

func TestAsComplex(t *testing.T) {
	c, err := signal.AsComplex([]float32{1, 2, 3, 4})
	require.NoError(t, err)
	assert.Equal(t, []complex64{complex(1, 2), complex(3, 4)}, c)
	assert.Equal(t, []float32{1, 2, 3, 4}, signal.AsReal(c))

	_, err = signal.AsComplex([]float32{1, 2, 3})
	assert.ErrorIs(t, err, signal.ErrOddLength)
}

func TestDurationOf(t *testing.T) {
	assert.Equal(t, time.Second, signal.DurationOf(48000, 48000))
	assert.Equal(t, 10*time.Millisecond, signal.DurationOf(48000, 480))
}
