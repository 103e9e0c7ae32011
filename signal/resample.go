package signal

import (
	"fmt"
	"math"

	"github.com/mjibson/go-dsp/window"
)

// resampleZeros is the number of sinc zero crossings on each side of the
// filter center, counted at the lower of both rates.
const resampleZeros = 16

// Resample converts every channel from one sample rate to another. Rates
// are reduced to a rational up/down ratio and samples are interpolated
// with a Blackman windowed sinc low-pass filter cut at the lower Nyquist
// frequency. Every channel gets ceil(size*to/from) samples.
func (floats Float64) Resample(from, to int) (Float64, error) {
	if from <= 0 || to <= 0 {
		return nil, fmt.Errorf("resample: invalid sample rates %d and %d", from, to)
	}
	if from == to {
		return floats, nil
	}
	g := gcd(from, to)
	up, down := to/g, from/g
	k := max(up, down)
	half := resampleZeros * k
	h := window.Blackman(2*half + 1)
	for i := range h {
		h[i] *= float64(up) / float64(k) * sinc(float64(i-half)/float64(k))
	}

	result := make([][]float64, floats.NumChannels())
	for c, in := range floats {
		out := make([]float64, (len(in)*up+down-1)/down)
		for j := range out {
			// output sample j sits at t on the grid of rate from*up
			t := j * down
			lo := max(0, (t-half+up-1)/up)
			hi := min(len(in)-1, (t+half)/up)
			var acc float64
			for i := lo; i <= hi; i++ {
				acc += in[i] * h[t-i*up+half]
			}
			out[j] = acc
		}
		result[c] = out
	}
	return result, nil
}

func sinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	return math.Sin(math.Pi*x) / (math.Pi * x)
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
