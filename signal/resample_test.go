package signal_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gleb-shnshn/DeepFilterNet/signal"
)

func tone(sampleRate, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 0.5 * math.Sin(2*math.Pi*200*float64(i)/float64(sampleRate))
	}
	return out
}

func TestResample(t *testing.T) {
	tests := []struct {
		from, to int
	}{
		{from: 8000, to: 16000},
		{from: 48000, to: 16000},
		{from: 44100, to: 16000},
	}
	for _, test := range tests {
		in := signal.Float64{tone(test.from, test.from/2), make([]float64, test.from/2)}
		out, err := in.Resample(test.from, test.to)
		require.NoError(t, err)
		require.Equal(t, 2, out.NumChannels())
		require.Equal(t, test.to/2, out.Size())

		want := tone(test.to, test.to/2)
		// filter edges see zeros outside the signal
		for i := test.to / 20; i < len(want)-test.to/20; i++ {
			assert.InDelta(t, want[i], out[0][i], 5e-3, "%d -> %d sample %d", test.from, test.to, i)
		}
		for _, v := range out[1] {
			assert.Zero(t, v)
		}
	}
}

func TestResampleSameRate(t *testing.T) {
	in := signal.Float64{{1, 2, 3}}
	out, err := in.Resample(16000, 16000)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = in.Resample(0, 16000)
	assert.Error(t, err)
}
