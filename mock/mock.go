// Package mock provides synthetic signals, configuration and identity-like
// model graphs for tests.
package mock

import (
	"math"
	"math/rand"

	"github.com/gleb-shnshn/DeepFilterNet/config"
)

// Config is a small model configuration. It keeps gru_groups at 1 so that
// recurrent state ports hold exactly one state vector per layer.
const Config = `[deepfilternet]
emb_hidden_dim = 16
gru_groups = 1
df_order = 3
df_hidden_dim = 8
df_num_layers = 2
conv_ch = 4
conv_width_factor = 1

[df]
sr = 16000
hop_size = 32
fft_size = 64
min_nb_erb_freqs = 2
nb_erb = 8
nb_df = 12
norm_alpha = 0.99
`

// Params returns parsed Config.
func Params() *config.Params {
	p, err := config.Parse([]byte(Config))
	if err != nil {
		panic(err)
	}
	return p
}

// Tone returns n samples of a sine wave.
func Tone(sampleRate int, freq, amp float64, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(amp * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate)))
	}
	return out
}

// Noise returns n samples of uniform noise in [-amp, amp).
func Noise(seed int64, amp float64, n int) []float32 {
	r := rand.New(rand.NewSource(seed))
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(amp * (2*r.Float64() - 1))
	}
	return out
}

// Silence returns n zero samples.
func Silence(n int) []float32 {
	return make([]float32, n)
}

// Lag returns the shift of b against a with maximum cross-correlation in
// [0, maxLag].
func Lag(a, b []float32, maxLag int) int {
	best, lag := math.Inf(-1), 0
	for l := 0; l <= maxLag; l++ {
		var sum float64
		for i := 0; i+l < len(b) && i < len(a); i++ {
			sum += float64(a[i]) * float64(b[i+l])
		}
		if sum > best {
			best, lag = sum, l
		}
	}
	return lag
}
