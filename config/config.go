// Package config loads model hyper-parameters from config.ini.
package config

import (
	"errors"
	"fmt"

	"gopkg.in/ini.v1"
)

// Sections of config.ini.
const (
	SectionDF    = "df"
	SectionModel = "deepfilternet"
)

var (
	// ErrMissing is wrapped when a section or key is absent.
	ErrMissing = errors.New("missing")
	// ErrInvalid is wrapped when a value is out of range.
	ErrInvalid = errors.New("invalid value")
)

// Error is returned for malformed or missing configuration.
type Error struct {
	Section string
	Key     string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Key != "":
		return fmt.Sprintf("config [%s] %s: %v", e.Section, e.Key, e.Err)
	case e.Section != "":
		return fmt.Sprintf("config [%s]: %v", e.Section, e.Err)
	}
	return fmt.Sprintf("config: %v", e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Params are the hyper-parameters shared by transform and model stages.
type Params struct {
	SampleRate    int
	HopSize       int
	FFTSize       int
	MinNbErbFreqs int
	NbErb         int
	NbDF          int
	NormAlpha     float32

	EmbHiddenDim    int
	GRUGroups       int
	DFOrder         int
	DFHiddenDim     int
	DFNumLayers     int
	ConvCh          int
	ConvWidthFactor int

	// values holds every integer key of both sections.
	values map[string]int
}

// Load reads config file.
func Load(path string) (*Params, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, &Error{Err: err}
	}
	return parse(f)
}

// Parse reads config contents.
func Parse(data []byte) (*Params, error) {
	f, err := ini.Load(data)
	if err != nil {
		return nil, &Error{Err: err}
	}
	return parse(f)
}

type binding struct {
	section string
	key     string
	dst     *int
}

func parse(f *ini.File) (*Params, error) {
	p := Params{values: make(map[string]int)}
	required := []binding{
		{SectionDF, "sr", &p.SampleRate},
		{SectionDF, "hop_size", &p.HopSize},
		{SectionDF, "fft_size", &p.FFTSize},
		{SectionDF, "min_nb_erb_freqs", &p.MinNbErbFreqs},
		{SectionDF, "nb_erb", &p.NbErb},
		{SectionDF, "nb_df", &p.NbDF},
		{SectionModel, "emb_hidden_dim", &p.EmbHiddenDim},
		{SectionModel, "gru_groups", &p.GRUGroups},
		{SectionModel, "df_order", &p.DFOrder},
		{SectionModel, "df_hidden_dim", &p.DFHiddenDim},
		{SectionModel, "df_num_layers", &p.DFNumLayers},
		{SectionModel, "conv_ch", &p.ConvCh},
		{SectionModel, "conv_width_factor", &p.ConvWidthFactor},
	}
	for _, b := range required {
		sec, err := f.GetSection(b.section)
		if err != nil {
			return nil, &Error{Section: b.section, Err: ErrMissing}
		}
		if !sec.HasKey(b.key) {
			return nil, &Error{Section: b.section, Key: b.key, Err: ErrMissing}
		}
		v, err := sec.Key(b.key).Int()
		if err != nil {
			return nil, &Error{Section: b.section, Key: b.key, Err: err}
		}
		if v <= 0 {
			return nil, &Error{Section: b.section, Key: b.key, Err: fmt.Errorf("%w: %d", ErrInvalid, v)}
		}
		*b.dst = v
	}

	df := f.Section(SectionDF)
	if !df.HasKey("norm_alpha") {
		return nil, &Error{Section: SectionDF, Key: "norm_alpha", Err: ErrMissing}
	}
	alpha, err := df.Key("norm_alpha").Float64()
	if err != nil {
		return nil, &Error{Section: SectionDF, Key: "norm_alpha", Err: err}
	}
	if alpha < 0 || alpha >= 1 {
		return nil, &Error{Section: SectionDF, Key: "norm_alpha", Err: fmt.Errorf("%w: %v", ErrInvalid, alpha)}
	}
	p.NormAlpha = float32(alpha)

	for _, name := range []string{SectionDF, SectionModel} {
		for _, k := range f.Section(name).Keys() {
			if v, err := k.Int(); err == nil {
				p.values[k.Name()] = v
			}
		}
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *Params) validate() error {
	invalid := func(key, format string, args ...interface{}) error {
		return &Error{Section: SectionDF, Key: key, Err: fmt.Errorf("%w: "+format, append([]interface{}{ErrInvalid}, args...)...)}
	}
	if p.HopSize > p.FFTSize {
		return invalid("hop_size", "%d exceeds fft_size %d", p.HopSize, p.FFTSize)
	}
	if p.FFTSize%2 != 0 {
		return invalid("fft_size", "%d is odd", p.FFTSize)
	}
	if p.NbDF > p.FreqSize() {
		return invalid("nb_df", "%d exceeds %d frequency bins", p.NbDF, p.FreqSize())
	}
	if p.NbErb > p.FreqSize() {
		return invalid("nb_erb", "%d exceeds %d frequency bins", p.NbErb, p.FreqSize())
	}
	return nil
}

// FreqSize returns the number of frequency bins of a spectrum frame.
func (p *Params) FreqSize() int {
	return p.FFTSize/2 + 1
}

// Int returns an integer parameter by key name from any section.
func (p *Params) Int(key string) (int, error) {
	v, ok := p.values[key]
	if !ok {
		return 0, &Error{Key: key, Err: ErrMissing}
	}
	return v, nil
}
