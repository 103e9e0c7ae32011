package dfstate_test

import (
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gleb-shnshn/DeepFilterNet/config"
	"github.com/gleb-shnshn/DeepFilterNet/dfstate"
)

func params(t *testing.T, fft, hop int) *config.Params {
	t.Helper()
	p, err := config.Parse([]byte(fmt.Sprintf(`
[df]
sr = 16000
hop_size = %d
fft_size = %d
min_nb_erb_freqs = 2
nb_erb = 8
nb_df = 12
norm_alpha = 0.9

[deepfilternet]
emb_hidden_dim = 16
gru_groups = 1
df_order = 3
df_hidden_dim = 8
df_num_layers = 1
conv_ch = 4
conv_width_factor = 1
`, hop, fft)))
	require.NoError(t, err)
	return p
}

func TestErbWidths(t *testing.T) {
	erb, err := dfstate.ErbWidths(16000, 64, 8, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2, 2, 2, 2, 3, 7, 13}, erb)

	erb, err = dfstate.ErbWidths(48000, 960, 32, 2)
	require.NoError(t, err)
	sum := 0
	for _, w := range erb {
		assert.Positive(t, w)
		sum += w
	}
	assert.Equal(t, 481, sum)

	_, err = dfstate.ErbWidths(16000, 8, 8, 2)
	assert.ErrorIs(t, err, dfstate.ErrBands)
}

func TestReconstruction(t *testing.T) {
	for _, hop := range []int{32, 16} {
		t.Run(fmt.Sprintf("hop %d", hop), func(t *testing.T) {
			const fft = 64
			s, err := dfstate.New(params(t, fft, hop))
			require.NoError(t, err)

			r := rand.New(rand.NewSource(1))
			in := make([]float32, hop*20)
			for i := range in {
				in[i] = r.Float32()*2 - 1
			}
			var out []float32
			for i := 0; i < len(in); i += hop {
				spec, err := s.Analysis(in[i : i+hop])
				require.NoError(t, err)
				require.Len(t, spec, s.FreqSize())
				frame, err := s.Synthesis(spec)
				require.NoError(t, err)
				out = append(out, frame...)
			}
			delay := fft - hop
			for i := delay; i < len(out); i++ {
				require.InDelta(t, in[i-delay], out[i], 1e-4, "sample %d", i)
			}
		})
	}
}

func TestFeatures(t *testing.T) {
	p := params(t, 64, 32)
	s, err := dfstate.New(p)
	require.NoError(t, err)

	spec := make([]complex64, s.FreqSize())
	for i := range spec {
		spec[i] = complex(float32(i)/10, -float32(i)/20)
	}
	erb := s.ErbFeat(spec)
	require.Len(t, erb, p.NbErb)
	for _, v := range erb {
		assert.False(t, math.IsNaN(float64(v)))
	}
	cplx := s.CplxFeat(spec)
	require.Len(t, cplx, p.NbDF)
	assert.Equal(t, complex64(0), cplx[0])

	_, err = s.Analysis(make([]float32, 5))
	assert.Error(t, err)
	_, err = s.Synthesis(make([]complex64, 5))
	assert.Error(t, err)
}

func TestApplyMask(t *testing.T) {
	s, err := dfstate.New(params(t, 64, 32))
	require.NoError(t, err)

	spec := make([]complex64, s.FreqSize())
	for i := range spec {
		spec[i] = complex(1, float32(i))
	}
	ones := make([]float32, len(s.Erb()))
	for i := range ones {
		ones[i] = 1
	}
	same := append([]complex64(nil), spec...)
	s.ApplyMask(same, ones)
	assert.Equal(t, spec, same)

	silent := append([]complex64(nil), spec...)
	s.ApplyMask(silent, make([]float32, len(ones)))
	for _, v := range silent {
		assert.Equal(t, complex64(0), v)
	}
}
