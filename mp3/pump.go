// Package mp3 decodes mp3 files into non-interleaved signals.
package mp3

import (
	"encoding/binary"
	"errors"
	"io"
	"os"

	"github.com/hajimehoshi/go-mp3"

	"github.com/gleb-shnshn/DeepFilterNet/signal"
)

// NumChannels is the number of channels produced by the decoder.
const NumChannels = 2

// Pump allows to read mp3 files.
type Pump struct {
	f    *os.File
	d    *mp3.Decoder
	done bool
}

// NewPump opens mp3 file.
func NewPump(path string) (*Pump, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	d, err := mp3.NewDecoder(f)
	if err != nil {
		f.Close()
		return nil, err
	}

	return &Pump{
		d: d,
		f: f,
	}, nil
}

// Pump reads buffer of bufferSize samples per channel. It returns io.EOF
// with the last buffer.
func (p *Pump) Pump(bufferSize int) (signal.Float64, error) {
	if p.done {
		return nil, io.EOF
	}

	// decoder output is 16 bit little endian stereo
	ints := make([]int, 0, bufferSize*NumChannels)
	var val int16
	for len(ints) < bufferSize*NumChannels {
		if err := binary.Read(p.d, binary.LittleEndian, &val); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				p.done = true
				break
			}
			return nil, err
		}
		ints = append(ints, int(val))
	}
	if len(ints)%2 == 1 {
		ints = append(ints, 0)
	}
	b := signal.InterInt{Data: ints, NumChannels: NumChannels, BitDepth: signal.BitDepth16}.AsFloat64()
	if p.done {
		return b, io.EOF
	}
	return b, nil
}

// Flush closes the file.
func (p *Pump) Flush() error {
	return p.f.Close()
}

// SampleRate returns sample rate of decoded file.
func (p *Pump) SampleRate() int {
	if p == nil || p.d == nil {
		return 0
	}
	return p.d.SampleRate()
}

// ReadAll decodes the whole file.
func ReadAll(path string) (signal.Float64, int, error) {
	p, err := NewPump(path)
	if err != nil {
		return nil, 0, err
	}
	defer p.Flush()

	out := signal.EmptyFloat64(NumChannels, 0)
	for {
		b, err := p.Pump(4096)
		if b != nil {
			out = out.Append(b)
		}
		if errors.Is(err, io.EOF) {
			return out, p.SampleRate(), nil
		}
		if err != nil {
			return nil, 0, err
		}
	}
}
