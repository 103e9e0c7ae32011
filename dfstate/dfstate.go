// Package dfstate implements the short-time transform around the model:
// windowed analysis and overlap-add synthesis, ERB band layout, ERB and
// complex low-band features with their normalization states, and band gain
// application.
//
// A State is owned by exactly one channel.
package dfstate

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"

	"github.com/gleb-shnshn/DeepFilterNet/config"
)

// Normalization initial values.
const (
	meanNormInitHigh = -60
	meanNormInitLow  = -90
	unitNormInitHigh = 0.001
	unitNormInitLow  = 0.0001
)

// ErrBands is returned when ERB bands cannot cover the spectrum.
var ErrBands = errors.New("invalid erb band layout")

// State is a per-channel transform state.
type State struct {
	sr, fftSize, hopSize int
	nbDF                 int
	alpha                float32

	window []float32
	wnorm  float32
	erb    []int

	analysisMem  []float32
	synthesisMem []float32
	meanNorm     []float32
	unitNorm     []float32
}

// New creates a transform state from config parameters.
func New(p *config.Params) (*State, error) {
	erb, err := ErbWidths(p.SampleRate, p.FFTSize, p.NbErb, p.MinNbErbFreqs)
	if err != nil {
		return nil, err
	}
	s := &State{
		sr:           p.SampleRate,
		fftSize:      p.FFTSize,
		hopSize:      p.HopSize,
		nbDF:         p.NbDF,
		alpha:        p.NormAlpha,
		window:       vorbis(p.FFTSize),
		wnorm:        1 / (float32(p.FFTSize*p.FFTSize) / float32(2*p.HopSize)),
		erb:          erb,
		analysisMem:  make([]float32, p.FFTSize-p.HopSize),
		synthesisMem: make([]float32, p.FFTSize-p.HopSize),
	}
	s.resetNorm()
	return s, nil
}

// Reset clears overlap memories and normalization states.
func (s *State) Reset() {
	for i := range s.analysisMem {
		s.analysisMem[i] = 0
	}
	for i := range s.synthesisMem {
		s.synthesisMem[i] = 0
	}
	s.resetNorm()
}

func (s *State) resetNorm() {
	s.meanNorm = linspace(meanNormInitHigh, meanNormInitLow, len(s.erb))
	s.unitNorm = linspace(unitNormInitHigh, unitNormInitLow, s.nbDF)
}

// FreqSize returns the number of bins per spectrum frame.
func (s *State) FreqSize() int {
	return s.fftSize/2 + 1
}

// HopSize returns the number of samples per frame.
func (s *State) HopSize() int {
	return s.hopSize
}

// Erb returns band widths in bins.
func (s *State) Erb() []int {
	return append([]int(nil), s.erb...)
}

// Analysis transforms hop samples into a spectrum frame.
func (s *State) Analysis(in []float32) ([]complex64, error) {
	if len(in) != s.hopSize {
		return nil, fmt.Errorf("analysis: got %d samples, want %d", len(in), s.hopSize)
	}
	mem := len(s.analysisMem)
	buf := make([]float64, s.fftSize)
	for i, v := range s.analysisMem {
		buf[i] = float64(v * s.window[i])
	}
	for i, v := range in {
		buf[mem+i] = float64(v * s.window[mem+i])
	}
	// keep the last fft-hop samples
	joined := append(append([]float32(nil), s.analysisMem...), in...)
	copy(s.analysisMem, joined[len(joined)-mem:])

	spec := fft.FFTReal(buf)
	out := make([]complex64, s.FreqSize())
	for i := range out {
		out[i] = complex64(spec[i]) * complex(s.wnorm, 0)
	}
	return out, nil
}

// Synthesis transforms a spectrum frame into hop samples with overlap-add.
func (s *State) Synthesis(spec []complex64) ([]float32, error) {
	if len(spec) != s.FreqSize() {
		return nil, fmt.Errorf("synthesis: got %d bins, want %d", len(spec), s.FreqSize())
	}
	n := s.fftSize
	full := make([]complex128, n)
	for i, v := range spec {
		full[i] = complex128(v)
	}
	for i := len(spec); i < n; i++ {
		full[i] = cmplx.Conj(full[n-i])
	}
	// fft.IFFT scales by 1/n
	x := fft.IFFT(full)
	frame := make([]float32, n)
	for i, v := range x {
		frame[i] = float32(real(v)*float64(n)) * s.window[i]
	}

	out := make([]float32, s.hopSize)
	for i := range out {
		out[i] = frame[i]
		if i < len(s.synthesisMem) {
			out[i] += s.synthesisMem[i]
		}
	}
	rest := frame[s.hopSize:]
	split := len(s.synthesisMem) - s.hopSize
	if split > 0 {
		copy(s.synthesisMem, s.synthesisMem[s.hopSize:])
		for i := 0; i < split; i++ {
			s.synthesisMem[i] += rest[i]
		}
		copy(s.synthesisMem[split:], rest[split:])
	} else {
		copy(s.synthesisMem, rest)
	}
	return out, nil
}

// ErbFeat returns normalized log band power of spectrum and updates the
// mean normalization state.
func (s *State) ErbFeat(spec []complex64) []float32 {
	out := bandPower(spec, s.erb)
	a := s.alpha
	for i, v := range out {
		x := float32(10 * math.Log10(float64(v)+1e-10))
		s.meanNorm[i] = x*(1-a) + s.meanNorm[i]*a
		out[i] = (x - s.meanNorm[i]) / 40
	}
	return out
}

// CplxFeat returns unit-normalized low band bins and updates the unit
// normalization state. spec must hold at least nb_df bins.
func (s *State) CplxFeat(spec []complex64) []complex64 {
	out := make([]complex64, s.nbDF)
	a := s.alpha
	for i := range out {
		x := spec[i]
		s.unitNorm[i] = float32(cmplx.Abs(complex128(x)))*(1-a) + s.unitNorm[i]*a
		out[i] = x / complex(float32(math.Sqrt(float64(s.unitNorm[i]))), 0)
	}
	return out
}

// ApplyMask scales every bin by the gain of its band in place.
func (s *State) ApplyMask(spec []complex64, gains []float32) {
	ApplyBandGain(spec, gains, s.erb)
}

// ApplyBandGain scales bins of each band by its gain.
func ApplyBandGain(spec []complex64, gains []float32, erb []int) {
	bin := 0
	for b, width := range erb {
		g := complex(gains[b], 0)
		for j := 0; j < width && bin < len(spec); j++ {
			spec[bin] *= g
			bin++
		}
	}
}

func bandPower(spec []complex64, erb []int) []float32 {
	out := make([]float32, len(erb))
	bin := 0
	for b, width := range erb {
		k := 1 / float32(width)
		for j := 0; j < width; j++ {
			x := spec[bin]
			out[b] += (real(x)*real(x) + imag(x)*imag(x)) * k
			bin++
		}
	}
	return out
}

func freq2erb(f float64) float64 {
	return 9.265 * math.Log1p(f/(24.7*9.265))
}

func erb2freq(n float64) float64 {
	return 24.7 * 9.265 * (math.Exp(n/9.265) - 1)
}

// ErbWidths splits fft_size/2+1 bins into nbBands equivalent rectangular
// bandwidth bands, each at least minNbFreqs wide.
func ErbWidths(sr, fftSize, nbBands, minNbFreqs int) ([]int, error) {
	if nbBands <= 0 || fftSize <= 0 || sr <= 0 {
		return nil, fmt.Errorf("%w: %d bands for fft size %d", ErrBands, nbBands, fftSize)
	}
	freqWidth := float64(sr) / float64(fftSize)
	low, high := freq2erb(0), freq2erb(float64(sr/2))
	step := (high - low) / float64(nbBands)

	erb := make([]int, nbBands)
	prev, over := 0, 0
	for i := 1; i <= nbBands; i++ {
		fb := int(math.Round(erb2freq(low+float64(i)*step) / freqWidth))
		n := fb - prev - over
		if n < minNbFreqs {
			over = minNbFreqs - n
			n = minNbFreqs
		} else {
			over = 0
		}
		erb[i-1] = n
		prev = fb
	}
	erb[nbBands-1]++
	bins := fftSize/2 + 1
	sum := 0
	for _, w := range erb {
		sum += w
	}
	if sum > bins {
		erb[nbBands-1] -= sum - bins
		sum = bins
	}
	if sum != bins || erb[nbBands-1] <= 0 {
		return nil, fmt.Errorf("%w: %d bands of at least %d bins do not cover %d bins", ErrBands, nbBands, minNbFreqs, bins)
	}
	return erb, nil
}

// vorbis returns the power complementary window.
func vorbis(n int) []float32 {
	w := make([]float32, n)
	half := float64(n / 2)
	for i := range w {
		s := math.Sin(0.5 * math.Pi * (float64(i) + 0.5) / half)
		w[i] = float32(math.Sin(0.5 * math.Pi * s * s))
	}
	return w
}

func linspace(start, stop float32, n int) []float32 {
	out := make([]float32, n)
	if n == 1 {
		out[0] = start
		return out
	}
	step := (stop - start) / float32(n-1)
	for i := range out {
		out[i] = start + step*float32(i)
	}
	return out
}
