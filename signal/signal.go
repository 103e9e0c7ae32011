// Package signal provides an API to manipulate digital signals. It allows to:
// 	- convert interleaved data to non-interleaved
//	- convert bit depth for int signals
//	- reinterpret real buffers as complex spectra and back
package signal

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Float64 is a non-interleaved float64 signal.
type Float64 [][]float64

const (
	// BitDepth8 is 8 bit depth.
	BitDepth8 = BitDepth(8)
	// BitDepth16 is 16 bit depth.
	BitDepth16 = BitDepth(16)
	// BitDepth32 is 32 bit depth.
	BitDepth32 = BitDepth(32)
)

// ErrOddLength is returned when a real buffer with odd length is widened
// to complex values.
var ErrOddLength = errors.New("odd buffer length")

// InterInt is an interleaved int signal.
type InterInt struct {
	Data        []int
	NumChannels int
	BitDepth
}

// BitDepth contains values required for int-to-float and backward conversion.
type BitDepth int

// devider is used when int to float conversion is done.
func (bitDepth BitDepth) devider() int {
	switch bitDepth {
	case BitDepth8:
		return math.MaxInt8
	case BitDepth16:
		return math.MaxInt16
	case BitDepth32:
		return math.MaxInt32
	default:
		return 1
	}
}

// multiplier is used when float to int conversion is done.
func (bitDepth BitDepth) multiplier() int {
	switch bitDepth {
	case BitDepth8:
		return math.MaxInt8 - 1
	case BitDepth16:
		return math.MaxInt16 - 1
	case BitDepth32:
		return math.MaxInt32 - 1
	default:
		return 1
	}
}

// DurationOf returns time duration of passed samples for this sample rate.
func DurationOf(sampleRate int, samples int64) time.Duration {
	return time.Duration(float64(samples) / float64(sampleRate) * float64(time.Second))
}

// AsFloat64 converts interleaved int signal to float64.
func (ints InterInt) AsFloat64() Float64 {
	if ints.Data == nil || ints.NumChannels == 0 {
		return nil
	}
	floats := make([][]float64, ints.NumChannels)
	bufSize := int(math.Ceil(float64(len(ints.Data)) / float64(ints.NumChannels)))

	// determine the devider for bit depth conversion
	devider := float64(ints.BitDepth.devider())

	for i := range floats {
		floats[i] = make([]float64, bufSize)
		pos := 0
		for j := i; j < len(ints.Data); j = j + ints.NumChannels {
			floats[i][pos] = float64(ints.Data[j]) / devider
			pos++
		}
	}
	return floats
}

// AsInterInt converts float64 signal to interleaved int. Values are
// clipped to [-1, 1] before conversion.
func (floats Float64) AsInterInt(bitDepth BitDepth) []int {
	var numChannels int
	if numChannels = len(floats); numChannels == 0 {
		return nil
	}

	// determine the multiplier for bit depth conversion
	multiplier := float64(bitDepth.multiplier())

	ints := make([]int, len(floats[0])*numChannels)

	for j := range floats {
		for i := range floats[j] {
			v := math.Max(-1, math.Min(1, floats[j][i]))
			ints[i*numChannels+j] = int(v * multiplier)
		}
	}
	return ints
}

// EmptyFloat64 returns an empty buffer of specified dimentions.
func EmptyFloat64(numChannels int, bufferSize int) Float64 {
	result := make([][]float64, numChannels)
	for i := range result {
		result[i] = make([]float64, bufferSize)
	}
	return result
}

// NumChannels returns number of channels in this sample slice
func (floats Float64) NumChannels() int {
	return len(floats)
}

// Size returns number of samples in single block in this sample slice
func (floats Float64) Size() int {
	if floats.NumChannels() == 0 {
		return 0
	}
	return len(floats[0])
}

// Append buffers set to existing one one
// new buffer is returned if b is nil
func (floats Float64) Append(source Float64) Float64 {
	if floats == nil {
		floats = make([][]float64, source.NumChannels())
		for i := range floats {
			floats[i] = make([]float64, 0, source.Size())
		}
	}
	for i := range source {
		floats[i] = append(floats[i], source[i]...)
	}
	return floats
}

// Pad returns a copy of the buffer extended with n zero samples per channel.
func (floats Float64) Pad(n int) Float64 {
	result := make([][]float64, floats.NumChannels())
	for i := range floats {
		result[i] = make([]float64, len(floats[i])+n)
		copy(result[i], floats[i])
	}
	return result
}

// Channel returns a single channel as float32 samples.
func (floats Float64) Channel(i int) []float32 {
	out := make([]float32, len(floats[i]))
	for j, v := range floats[i] {
		out[j] = float32(v)
	}
	return out
}

// Float64FromChannels builds a non-interleaved signal from float32 channels.
func Float64FromChannels(channels ...[]float32) Float64 {
	result := make([][]float64, len(channels))
	for i := range channels {
		result[i] = make([]float64, len(channels[i]))
		for j, v := range channels[i] {
			result[i][j] = float64(v)
		}
	}
	return result
}

// AsComplex reinterprets interleaved (re, im) pairs as complex values. The
// length of the real buffer must be even.
func AsComplex(reals []float32) ([]complex64, error) {
	if len(reals)%2 != 0 {
		return nil, fmt.Errorf("%w: %d", ErrOddLength, len(reals))
	}
	out := make([]complex64, len(reals)/2)
	for i := range out {
		out[i] = complex(reals[2*i], reals[2*i+1])
	}
	return out, nil
}

// AsReal flattens complex values into interleaved (re, im) pairs.
func AsReal(values []complex64) []float32 {
	out := make([]float32, 2*len(values))
	for i, c := range values {
		out[2*i] = real(c)
		out[2*i+1] = imag(c)
	}
	return out
}
