package native

import (
	"fmt"

	"github.com/gleb-shnshn/DeepFilterNet/graph"
	"github.com/gleb-shnshn/DeepFilterNet/internal/delay"
	"github.com/gleb-shnshn/DeepFilterNet/tensor"
)

// pulsed is the streaming form of a plan.
//
// Every node output at step s equals the offline output at frame
// s-delays[node]. Operands with smaller delay pass through delay lines so
// that they line up. Node outputs during their own warm-up are zero and
// recurrent state does not advance.
type pulsed struct {
	*plan
	delay  int
	delays []int
	// lags holds delay line length per node operand.
	lags    [][]int
	outLags []int
}

func (p *plan) pulse() (*pulsed, error) {
	pp := &pulsed{
		plan:    p,
		delays:  make([]int, len(p.nodes)),
		lags:    make([][]int, len(p.nodes)),
		outLags: make([]int, len(p.outIdx)),
	}
	for i, n := range p.nodes {
		args := p.streamArgs(i)
		switch n.Op {
		case OpDeconv:
			return nil, fmt.Errorf("%w: node %s: transposed convolution", graph.ErrNotPulsable, n.Name)
		case OpGRU:
			if len(p.args[i]) == 2 {
				if s := p.nodes[p.args[i][1]]; s.Op != OpConst {
					return nil, fmt.Errorf("%w: node %s: recurrent state %s is not constant", graph.ErrStreamConversion, n.Name, s.Name)
				}
			}
		}
		d := 0
		for _, a := range args {
			if pp.delays[a] > d {
				d = pp.delays[a]
			}
		}
		lags := make([]int, len(args))
		for j, a := range args {
			lags[j] = d - pp.delays[a]
		}
		if n.Op == OpConv {
			d += n.Lookahead
		}
		pp.delays[i] = d
		pp.lags[i] = lags
	}
	for _, k := range p.outIdx {
		if pp.delays[k] > pp.delay {
			pp.delay = pp.delays[k]
		}
	}
	for i, k := range p.outIdx {
		pp.outLags[i] = pp.delay - pp.delays[k]
	}
	return pp, nil
}

// streamArgs returns operands carrying frames. Recurrent state is read once.
func (p *plan) streamArgs(i int) []int {
	if p.nodes[i].Op == OpGRU {
		return p.args[i][:1]
	}
	return p.args[i]
}

func (pp *pulsed) NewSession() (graph.Session, error) {
	s := &pulseSession{
		pp:      pp,
		lines:   make([][]*delay.Line[[]float32], len(pp.nodes)),
		outs:    make([]*delay.Line[[]float32], len(pp.outIdx)),
		history: make(map[int][][]float32),
		state:   make(map[int][]float32),
	}
	for i, n := range pp.nodes {
		args := pp.streamArgs(i)
		s.lines[i] = make([]*delay.Line[[]float32], len(args))
		for j, a := range args {
			s.lines[i][j] = delay.Floats(pp.lags[i][j], pp.sizes[a])
		}
		switch n.Op {
		case OpConv:
			h := make([][]float32, n.Kernel)
			for k := range h {
				h[k] = make([]float32, pp.sizes[args[0]])
			}
			s.history[i] = h
		case OpGRU:
			s.state[i] = pp.initialState(n, pp.args[i], nil)
		}
	}
	for i, k := range pp.outIdx {
		s.outs[i] = delay.Floats(pp.outLags[i], pp.sizes[k])
	}
	return s, nil
}

type pulseSession struct {
	pp      *pulsed
	step    int
	lines   [][]*delay.Line[[]float32]
	outs    []*delay.Line[[]float32]
	history map[int][][]float32
	state   map[int][]float32
}

// Run executes a single frame.
func (s *pulseSession) Run(inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	pp := s.pp
	in, _, err := pp.frames(inputs, true)
	if err != nil {
		return nil, err
	}
	vals := make([][]float32, len(pp.nodes))
	for i, n := range pp.nodes {
		if n.Op == OpInput {
			if seq, ok := in[i]; ok {
				vals[i] = seq[0]
			}
			continue
		}
		args := pp.streamArgs(i)
		x := make([][]float32, len(args))
		for j, a := range args {
			x[j] = s.lines[i][j].Push(vals[a])
		}
		warm := s.step < pp.delays[i]
		var y []float32
		switch n.Op {
		case OpConv:
			h := s.history[i]
			copy(h, h[1:])
			h[len(h)-1] = x[0]
			y = convolve(n, h)
		case OpGRU:
			if warm {
				y = make([]float32, n.Units)
			} else {
				y = gruStep(n, x[0], s.state[i])
			}
		default:
			y = apply(n, x)
		}
		if warm {
			y = make([]float32, len(y))
		}
		vals[i] = y
	}
	s.step++

	out := make([]*tensor.Tensor, len(pp.outIdx))
	for i, k := range pp.outIdx {
		v := s.outs[i].Push(vals[k])
		if out[i], err = pp.join(i, [][]float32{v}); err != nil {
			return nil, err
		}
	}
	return out, nil
}
