package native

import (
	"fmt"

	"github.com/gleb-shnshn/DeepFilterNet/graph"
	"github.com/gleb-shnshn/DeepFilterNet/tensor"
)

// plan is an analysed graph. It is read-only and shared by all sessions.
type plan struct {
	nodes []*Node
	sizes []int
	// args holds node indices of operands.
	args [][]int

	inIdx    []int
	inFacts  []graph.Fact
	outIdx   []int
	outFacts []graph.Fact
}

// frames splits input tensors into per-frame values keyed by node index.
// When single is set, streaming inputs must hold exactly one frame.
func (p *plan) frames(inputs []*tensor.Tensor, single bool) (map[int][][]float32, int, error) {
	if len(inputs) != len(p.inIdx) {
		return nil, 0, fmt.Errorf("%w: expected %d inputs, got %d", graph.ErrShapeInference, len(p.inIdx), len(inputs))
	}
	steps := -1
	for i, x := range inputs {
		f := p.inFacts[i]
		if f.Streaming() {
			if len(x.Shape()) != len(f.Shape) {
				return nil, 0, p.inputErr(i, x)
			}
			n := x.Shape()[f.StreamAxis]
			if steps != -1 && n != steps {
				return nil, 0, fmt.Errorf("%w: streaming inputs differ in length: %d vs %d", graph.ErrShapeInference, n, steps)
			}
			steps = n
		}
	}
	if steps == -1 {
		steps = 1
	}
	if single && steps != 1 {
		return nil, 0, fmt.Errorf("%w: expected one frame, got %d", graph.ErrShapeInference, steps)
	}

	vals := make(map[int][][]float32, len(inputs))
	for i, x := range inputs {
		f := p.inFacts[i]
		seq := make([][]float32, steps)
		if !f.Streaming() {
			if !tensor.SameShape(x.Shape(), f.Shape) {
				return nil, 0, p.inputErr(i, x)
			}
			for t := range seq {
				seq[t] = x.Data()
			}
			vals[p.inIdx[i]] = seq
			continue
		}
		for t := range seq {
			fr := x.Frame(f.StreamAxis, t)
			if !tensor.SameShape(fr.Shape(), f.Frame()) {
				return nil, 0, p.inputErr(i, x)
			}
			seq[t] = fr.Data()
		}
		vals[p.inIdx[i]] = seq
	}
	return vals, steps, nil
}

func (p *plan) inputErr(i int, x *tensor.Tensor) error {
	return fmt.Errorf("%w: input %s: shape %v does not fit %v",
		graph.ErrShapeInference, p.nodes[p.inIdx[i]].Name, x.Shape(), p.inFacts[i])
}

// evaluate runs every node over the whole sequence. Convolution future
// context beyond the sequence end and history before its start are zero.
func (p *plan) evaluate(vals map[int][][]float32, steps int) [][][]float32 {
	seqs := make([][][]float32, len(p.nodes))
	for i, n := range p.nodes {
		if n.Op == OpInput {
			seqs[i] = vals[i]
			continue
		}
		args := p.args[i]
		seq := make([][]float32, steps)
		switch n.Op {
		case OpConv:
			x := seqs[args[0]]
			zero := make([]float32, p.sizes[args[0]])
			window := make([][]float32, n.Kernel)
			for t := range seq {
				for k := range window {
					j := t + n.Lookahead - n.Kernel + 1 + k
					if j < 0 || j >= steps {
						window[k] = zero
					} else {
						window[k] = x[j]
					}
				}
				seq[t] = convolve(n, window)
			}
		case OpGRU:
			h := p.initialState(n, args, seqs)
			for t := range seq {
				seq[t] = gruStep(n, seqs[args[0]][t], h)
			}
		default:
			x := make([][]float32, len(args))
			for t := range seq {
				for j, a := range args {
					x[j] = seqs[a][t]
				}
				seq[t] = apply(n, x)
			}
		}
		seqs[i] = seq
	}
	return seqs
}

func (p *plan) initialState(n *Node, args []int, seqs [][][]float32) []float32 {
	if len(args) == 2 {
		if seqs != nil && len(seqs[args[1]]) > 0 {
			return append([]float32(nil), seqs[args[1]][0]...)
		}
		return append([]float32(nil), p.nodes[args[1]].Value...)
	}
	return make([]float32, n.layers()*n.Units)
}

func (p *plan) runOffline(inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	vals, steps, err := p.frames(inputs, false)
	if err != nil {
		return nil, err
	}
	seqs := p.evaluate(vals, steps)
	out := make([]*tensor.Tensor, len(p.outIdx))
	for i, k := range p.outIdx {
		if out[i], err = p.join(i, seqs[k]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// join assembles output frames along the streaming axis.
func (p *plan) join(i int, seq [][]float32) (*tensor.Tensor, error) {
	f := p.outFacts[i]
	if !f.Streaming() {
		return tensor.New(f.Shape, append([]float32(nil), seq[len(seq)-1]...))
	}
	parts := make([]*tensor.Tensor, len(seq))
	for t, v := range seq {
		fr, err := tensor.New(f.Frame(), v)
		if err != nil {
			return nil, err
		}
		parts[t] = fr
	}
	return tensor.Concat(f.StreamAxis, parts...)
}

// stateless runs one frame per call on a fresh state.
type stateless struct {
	p *plan
}

func (s stateless) NewSession() (graph.Session, error) {
	return s, nil
}

func (s stateless) Run(inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	vals, steps, err := s.p.frames(inputs, true)
	if err != nil {
		return nil, err
	}
	seqs := s.p.evaluate(vals, steps)
	out := make([]*tensor.Tensor, len(s.p.outIdx))
	for i, k := range s.p.outIdx {
		if out[i], err = s.p.join(i, seqs[k]); err != nil {
			return nil, err
		}
	}
	return out, nil
}
