// Package dfop implements deep filtering: a per-bin complex FIR filter over
// a short history of low band spectrum frames with taps predicted every
// frame, followed by ERB band gains on the whole spectrum.
package dfop

import (
	"errors"
	"fmt"
	"math"

	"github.com/gleb-shnshn/DeepFilterNet/dfstate"
)

// Post-filter constants.
const (
	PostFilterBeta = 0.02
	postFilterEps  = 1e-12
)

// ErrShape is returned when operands do not match operator dimensions.
var ErrShape = errors.New("deep filter operand shape mismatch")

// Blend selects how alpha mixes deep filtered and plain masked bins.
type Blend int

const (
	// BlendNone applies deep filtering unconditionally.
	BlendNone Blend = iota
	// BlendLinear mixes alpha*filtered + (1-alpha)*plain on masked bins.
	BlendLinear
)

var blends = map[string]Blend{
	"none":   BlendNone,
	"linear": BlendLinear,
}

// ParseBlend returns blend mode by name.
func ParseBlend(s string) (Blend, error) {
	b, ok := blends[s]
	if !ok {
		return 0, fmt.Errorf("unknown alpha blend mode %q", s)
	}
	return b, nil
}

func (b Blend) String() string {
	for name, v := range blends {
		if v == b {
			return name
		}
	}
	return fmt.Sprintf("Blend(%d)", int(b))
}

// Operator applies deep filtering to one frame. It holds no per-channel
// state and can be shared.
type Operator struct {
	Order int
	NbDF  int
	// Erb holds band widths in bins, one mask value per band.
	Erb        []int
	Blend      Blend
	PostFilter bool
}

// Apply pushes the low band of spec into buf and returns the enhanced
// frame. coefs are laid out as [order][nb_df][re, im] with index k
// weighting the frame of lag k. spec is not modified.
func (o *Operator) Apply(buf *SpectralBuffer, spec []complex64, mask, coefs []float32, alpha float32) ([]complex64, error) {
	switch {
	case buf.Order() != o.Order || buf.Bins() != o.NbDF:
		return nil, fmt.Errorf("%w: buffer %dx%d, operator %dx%d", ErrShape, buf.Order(), buf.Bins(), o.Order, o.NbDF)
	case len(spec) < o.NbDF:
		return nil, fmt.Errorf("%w: %d bins, need %d", ErrShape, len(spec), o.NbDF)
	case len(mask) != len(o.Erb):
		return nil, fmt.Errorf("%w: mask has %d bands, want %d", ErrShape, len(mask), len(o.Erb))
	case len(coefs) != o.Order*o.NbDF*2:
		return nil, fmt.Errorf("%w: %d coefficients, want %d", ErrShape, len(coefs), o.Order*o.NbDF*2)
	}
	buf.Push(spec)
	if o.PostFilter {
		mask = PostFilter(mask)
	}

	out := append([]complex64(nil), spec...)
	for f := range out[:o.NbDF] {
		var acc complex64
		for k := 0; k < o.Order; k++ {
			i := (k*o.NbDF + f) * 2
			acc += complex(coefs[i], coefs[i+1]) * buf.Lag(k)[f]
		}
		out[f] = acc
	}
	dfstate.ApplyBandGain(out, mask, o.Erb)

	if o.Blend == BlendLinear {
		plain := append([]complex64(nil), spec[:o.NbDF]...)
		dfstate.ApplyBandGain(plain, mask, o.Erb)
		a := complex(alpha, 0)
		for f := range plain {
			out[f] = a*out[f] + (1-a)*plain[f]
		}
	}
	return out, nil
}

// PostFilter returns mask with additional attenuation of low gains.
func PostFilter(mask []float32) []float32 {
	out := make([]float32, len(mask))
	for i, g := range mask {
		gs := float64(g) * math.Sin(math.Pi*float64(g)/2)
		if gs < postFilterEps {
			gs = postFilterEps
		}
		r := float64(g) / gs
		out[i] = float32((1 + PostFilterBeta) * float64(g) / (1 + PostFilterBeta*r*r))
	}
	return out
}
