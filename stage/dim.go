package stage

import (
	"fmt"
	"strings"

	"github.com/gleb-shnshn/DeepFilterNet/config"
)

// Params resolves integer configuration keys.
type Params interface {
	Int(key string) (int, error)
}

// Dim is a dimension of a port shape template: either the streaming axis
// or a positive size computed from constants and configuration keys as
// value * product(keys) / product(divKeys) / divisor + offset.
type Dim struct {
	stream  bool
	value   int
	keys    []string
	divKeys []string
	divisor int
	offset  int
}

// Stream is the streaming axis.
func Stream() Dim {
	return Dim{stream: true}
}

// Fixed is a constant size.
func Fixed(n int) Dim {
	return Dim{value: n, divisor: 1}
}

// Key is the product of configuration values.
func Key(keys ...string) Dim {
	return Dim{value: 1, keys: keys, divisor: 1}
}

// Div divides the size by n.
func (d Dim) Div(n int) Dim {
	d.divisor *= n
	return d
}

// DivKey divides the size by a configuration value.
func (d Dim) DivKey(key string) Dim {
	d.divKeys = append(append([]string(nil), d.divKeys...), key)
	return d
}

// Plus adds n to the size.
func (d Dim) Plus(n int) Dim {
	d.offset += n
	return d
}

// IsStream reports whether d is the streaming axis.
func (d Dim) IsStream() bool {
	return d.stream
}

// Resolve computes the size. Missing keys and non-positive results are
// config errors.
func (d Dim) Resolve(p Params) (int, error) {
	if d.stream {
		return 0, nil
	}
	v := d.value
	for _, k := range d.keys {
		n, err := p.Int(k)
		if err != nil {
			return 0, err
		}
		v *= n
	}
	for _, k := range d.divKeys {
		n, err := p.Int(k)
		if err != nil {
			return 0, err
		}
		if n == 0 {
			return 0, &config.Error{Key: k, Err: fmt.Errorf("%w: divisor is zero", config.ErrInvalid)}
		}
		v /= n
	}
	if d.divisor > 1 {
		v /= d.divisor
	}
	v += d.offset
	if v <= 0 {
		return 0, &config.Error{Key: d.String(), Err: fmt.Errorf("%w: dimension resolves to %d", config.ErrInvalid, v)}
	}
	return v, nil
}

func (d Dim) String() string {
	if d.stream {
		return "S"
	}
	var b strings.Builder
	parts := make([]string, 0, len(d.keys)+1)
	if d.value != 1 || len(d.keys) == 0 {
		parts = append(parts, fmt.Sprint(d.value))
	}
	parts = append(parts, d.keys...)
	b.WriteString(strings.Join(parts, "*"))
	for _, k := range d.divKeys {
		b.WriteString("/" + k)
	}
	if d.divisor > 1 {
		fmt.Fprintf(&b, "/%d", d.divisor)
	}
	if d.offset != 0 {
		fmt.Fprintf(&b, "%+d", d.offset)
	}
	return b.String()
}
