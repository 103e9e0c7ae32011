// Package wav reads and writes wav files as non-interleaved signals.
package wav

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/gleb-shnshn/DeepFilterNet/signal"
)

const readBufferSize = 4096

type (
	// Pump reads from wav file.
	// This component cannot be reused for consequent runs.
	Pump struct {
		path    string
		file    *os.File
		decoder *wav.Decoder
	}

	// Sink sink saves audio to wav file.
	Sink struct {
		path     string
		bitDepth signal.BitDepth
		format   int
		file     *os.File
		encoder  *wav.Encoder
	}
)

// ErrUnsupportedBitDepth is returned when unsupported bit depth is used.
var ErrUnsupportedBitDepth = errors.New("only 16 and 32 bit depth is supported")

// NewPump creates a new wav pump.
func NewPump(path string) *Pump {
	return &Pump{path: path}
}

// Flush closes the file.
func (p *Pump) Flush() error {
	return p.file.Close()
}

// Pump opens the file and returns a read closure with wav attributes. The
// closure returns io.ErrUnexpectedEOF with the last short buffer and io.EOF
// when nothing is left.
func (p *Pump) Pump(bufferSize int) (func() (signal.Float64, error), int, int, error) {
	file, err := os.Open(p.path)
	if err != nil {
		return nil, 0, 0, err
	}

	decoder := wav.NewDecoder(file)
	if !decoder.IsValidFile() {
		if err := file.Close(); err != nil {
			return nil, 0, 0, fmt.Errorf("wav is not valid, failed to close the file %v: %w", p.path, err)
		}
		return nil, 0, 0, fmt.Errorf("wav is not valid: %v", p.path)
	}

	if signal.BitDepth(decoder.BitDepth) != signal.BitDepth16 && signal.BitDepth(decoder.BitDepth) != signal.BitDepth32 {
		file.Close()
		return nil, 0, 0, ErrUnsupportedBitDepth
	}

	p.file = file
	p.decoder = decoder
	numChannels := decoder.Format().NumChannels
	sampleRate := int(decoder.SampleRate)
	bitDepth := int(decoder.BitDepth)

	ib := &audio.IntBuffer{
		Format:         decoder.Format(),
		Data:           make([]int, bufferSize*numChannels),
		SourceBitDepth: bitDepth,
	}

	return func() (signal.Float64, error) {
		readSamples, err := p.decoder.PCMBuffer(ib)
		if err != nil {
			return nil, err
		}

		if readSamples == 0 {
			return nil, io.EOF
		}
		// prune buffer to actual size
		b := signal.InterInt{Data: ib.Data[:readSamples], NumChannels: numChannels, BitDepth: signal.BitDepth(bitDepth)}.AsFloat64()
		if b.Size() != bufferSize {
			return b, io.ErrUnexpectedEOF
		}
		return b, nil
	}, sampleRate, numChannels, nil
}

// ReadAll reads the whole file.
func ReadAll(path string) (signal.Float64, int, error) {
	p := NewPump(path)
	read, sampleRate, numChannels, err := p.Pump(readBufferSize)
	if err != nil {
		return nil, 0, err
	}
	defer p.Flush()

	out := signal.EmptyFloat64(numChannels, 0)
	for {
		b, err := read()
		if b != nil {
			out = out.Append(b)
		}
		switch {
		case err == nil:
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			return out, sampleRate, nil
		default:
			return nil, 0, err
		}
	}
}

// NewSink creates new wav sink.
func NewSink(path string, bitDepth signal.BitDepth) (*Sink, error) {
	if bitDepth != signal.BitDepth16 && bitDepth != signal.BitDepth32 {
		return nil, ErrUnsupportedBitDepth
	}
	return &Sink{
		path:     path,
		bitDepth: bitDepth,
		format:   1,
	}, nil
}

// Flush flushes encoder.
func (s *Sink) Flush() error {
	err := s.encoder.Close()
	if err != nil {
		return err
	}
	return s.file.Close()
}

// Sink creates the file and returns a write closure.
func (s *Sink) Sink(sampleRate, numChannels int) (func(signal.Float64) error, error) {
	f, err := os.Create(s.path)
	if err != nil {
		return nil, err
	}
	e := wav.NewEncoder(f, sampleRate, int(s.bitDepth), numChannels, s.format)

	s.file = f
	s.encoder = e
	ib := &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: numChannels,
			SampleRate:  sampleRate,
		},
		SourceBitDepth: int(s.bitDepth),
	}

	return func(b signal.Float64) error {
		ib.Data = b.AsInterInt(s.bitDepth)
		return s.encoder.Write(ib)
	}, nil
}

// WriteAll writes the whole signal into a new file.
func WriteAll(path string, sampleRate int, bitDepth signal.BitDepth, b signal.Float64) error {
	s, err := NewSink(path, bitDepth)
	if err != nil {
		return err
	}
	write, err := s.Sink(sampleRate, b.NumChannels())
	if err != nil {
		return err
	}
	if err := write(b); err != nil {
		s.Flush()
		return err
	}
	return s.Flush()
}
