package native

import (
	"errors"
	"fmt"
	"math"
)

type activation func(float32) float32

var activations = map[string]activation{
	"":       func(x float32) float32 { return x },
	"linear": func(x float32) float32 { return x },
	"relu": func(x float32) float32 {
		if x < 0 {
			return 0
		}
		return x
	},
	"sigmoid": sigmoid,
	"tanh":    func(x float32) float32 { return float32(math.Tanh(float64(x))) },
}

func sigmoid(x float32) float32 {
	return float32(1 / (1 + math.Exp(-float64(x))))
}

func (n *Node) layers() int {
	if n.Layers <= 0 {
		return 1
	}
	return n.Layers
}

// inferSize validates node parameters against input sizes and returns the
// per-frame output size.
func inferSize(n *Node, in []int) (int, error) {
	if _, ok := activations[n.Activation]; !ok {
		return 0, fmt.Errorf("unknown activation %q", n.Activation)
	}
	arity := func(min, max int) error {
		if len(in) < min || (max >= 0 && len(in) > max) {
			return fmt.Errorf("%s takes %d..%d inputs, got %d", n.Op, min, max, len(in))
		}
		return nil
	}
	optional := func(name string, v []float32, size int) error {
		if len(v) != 0 && len(v) != size {
			return fmt.Errorf("%s has %d values, want %d", name, len(v), size)
		}
		return nil
	}
	switch n.Op {
	case OpInput:
		return 0, arity(0, 0)
	case OpConst:
		if err := arity(0, 0); err != nil {
			return 0, err
		}
		if len(n.Value) == 0 {
			return 0, errors.New("empty constant")
		}
		return len(n.Value), nil
	case OpDense:
		if err := arity(1, 1); err != nil {
			return 0, err
		}
		if n.Units <= 0 {
			return 0, errors.New("units must be positive")
		}
		if len(n.Weights) != n.Units*in[0] {
			return 0, fmt.Errorf("weights have %d values, want %d", len(n.Weights), n.Units*in[0])
		}
		return n.Units, optional("bias", n.Bias, n.Units)
	case OpAct:
		if err := arity(1, 1); err != nil {
			return 0, err
		}
		return in[0], nil
	case OpConv:
		if err := arity(1, 1); err != nil {
			return 0, err
		}
		if n.Units <= 0 || n.Kernel <= 0 {
			return 0, errors.New("units and kernel must be positive")
		}
		if n.Lookahead < 0 || n.Lookahead >= n.Kernel {
			return 0, fmt.Errorf("lookahead %d out of kernel %d", n.Lookahead, n.Kernel)
		}
		if want := n.Kernel * n.Units * in[0]; len(n.Weights) != want {
			return 0, fmt.Errorf("weights have %d values, want %d", len(n.Weights), want)
		}
		return n.Units, optional("bias", n.Bias, n.Units)
	case OpGRU:
		if err := arity(1, 2); err != nil {
			return 0, err
		}
		h, l := n.Units, n.layers()
		if h <= 0 {
			return 0, errors.New("units must be positive")
		}
		if want := 3*h*in[0] + (l-1)*3*h*h; len(n.Weights) != want {
			return 0, fmt.Errorf("weights have %d values, want %d", len(n.Weights), want)
		}
		if want := l * 3 * h * h; len(n.Recurrent) != want {
			return 0, fmt.Errorf("recurrent weights have %d values, want %d", len(n.Recurrent), want)
		}
		if err := optional("bias", n.Bias, l*3*h); err != nil {
			return 0, err
		}
		if err := optional("recurrent bias", n.RecurrentBias, l*3*h); err != nil {
			return 0, err
		}
		if len(in) == 2 && in[1] != l*h {
			return 0, fmt.Errorf("state has %d values, want %d", in[1], l*h)
		}
		return h, nil
	case OpDeconv:
		if err := arity(1, 1); err != nil {
			return 0, err
		}
		if n.Stride <= 0 || n.Kernel <= 0 {
			return 0, errors.New("stride and kernel must be positive")
		}
		if len(n.Weights) != n.Kernel {
			return 0, fmt.Errorf("weights have %d values, want %d", len(n.Weights), n.Kernel)
		}
		return (in[0]-1)*n.Stride + n.Kernel, optional("bias", n.Bias, 1)
	case OpConcat:
		if err := arity(1, -1); err != nil {
			return 0, err
		}
		size := 0
		for _, s := range in {
			size += s
		}
		return size, nil
	case OpSlice:
		if err := arity(1, 1); err != nil {
			return 0, err
		}
		if n.Start < 0 || n.End <= n.Start || n.End > in[0] {
			return 0, fmt.Errorf("slice [%d:%d] out of %d", n.Start, n.End, in[0])
		}
		return n.End - n.Start, nil
	case OpAdd, OpMul:
		if err := arity(2, -1); err != nil {
			return 0, err
		}
		for _, s := range in[1:] {
			if s != in[0] {
				return 0, fmt.Errorf("operand sizes differ: %v", in)
			}
		}
		return in[0], nil
	}
	return 0, fmt.Errorf("unknown operator %q", n.Op)
}

// apply computes a frame of a stateless operator.
func apply(n *Node, x [][]float32) []float32 {
	act := activations[n.Activation]
	switch n.Op {
	case OpConst:
		return append([]float32(nil), n.Value...)
	case OpDense:
		y := affine(n.Weights, n.Bias, x[0], n.Units)
		for i := range y {
			y[i] = act(y[i])
		}
		return y
	case OpAct:
		y := make([]float32, len(x[0]))
		for i, v := range x[0] {
			y[i] = act(v)
		}
		return y
	case OpDeconv:
		y := make([]float32, (len(x[0])-1)*n.Stride+n.Kernel)
		for i, v := range x[0] {
			for j, w := range n.Weights {
				y[i*n.Stride+j] += w * v
			}
		}
		for i := range y {
			if len(n.Bias) > 0 {
				y[i] += n.Bias[0]
			}
			y[i] = act(y[i])
		}
		return y
	case OpConcat:
		var y []float32
		for _, v := range x {
			y = append(y, v...)
		}
		return y
	case OpSlice:
		return append([]float32(nil), x[0][n.Start:n.End]...)
	case OpAdd:
		y := append([]float32(nil), x[0]...)
		for _, v := range x[1:] {
			for i := range y {
				y[i] += v[i]
			}
		}
		return y
	case OpMul:
		y := append([]float32(nil), x[0]...)
		for _, v := range x[1:] {
			for i := range y {
				y[i] *= v[i]
			}
		}
		return y
	}
	panic("native: no frame kernel for " + n.Op)
}

// affine returns w*x+b for w of shape [units x len(x)].
func affine(w, b, x []float32, units int) []float32 {
	y := make([]float32, units)
	in := len(x)
	for u := 0; u < units; u++ {
		var s float32
		if len(b) > 0 {
			s = b[u]
		}
		row := w[u*in : (u+1)*in]
		for i, v := range x {
			s += row[i] * v
		}
		y[u] = s
	}
	return y
}

// convolve computes a conv frame from window of Kernel input frames,
// oldest first.
func convolve(n *Node, window [][]float32) []float32 {
	act := activations[n.Activation]
	in := len(window[0])
	y := make([]float32, n.Units)
	if len(n.Bias) > 0 {
		copy(y, n.Bias)
	}
	tap := n.Units * in
	for k, x := range window {
		part := affine(n.Weights[k*tap:(k+1)*tap], nil, x, n.Units)
		for u := range y {
			y[u] += part[u]
		}
	}
	for u := range y {
		y[u] = act(y[u])
	}
	return y
}

// gruStep advances stacked recurrent state h of [layers x units] by one
// frame in place and returns the top layer output.
func gruStep(n *Node, x, h []float32) []float32 {
	units := n.Units
	wOff, rOff := 0, 0
	in := x
	for l := 0; l < n.layers(); l++ {
		g := 3 * units
		wi := n.Weights[wOff : wOff+g*len(in)]
		wh := n.Recurrent[rOff : rOff+g*units]
		wOff += g * len(in)
		rOff += g * units
		var bi, bh []float32
		if len(n.Bias) > 0 {
			bi = n.Bias[l*g : (l+1)*g]
		}
		if len(n.RecurrentBias) > 0 {
			bh = n.RecurrentBias[l*g : (l+1)*g]
		}
		prev := h[l*units : (l+1)*units]
		gi := affine(wi, bi, in, g)
		gh := affine(wh, bh, prev, g)
		next := make([]float32, units)
		for u := 0; u < units; u++ {
			r := sigmoid(gi[u] + gh[u])
			z := sigmoid(gi[units+u] + gh[units+u])
			c := float32(math.Tanh(float64(gi[2*units+u] + r*gh[2*units+u])))
			next[u] = (1-z)*c + z*prev[u]
		}
		copy(prev, next)
		in = next
	}
	return append([]float32(nil), in...)
}
