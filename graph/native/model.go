package native

import (
	"fmt"

	"github.com/gleb-shnshn/DeepFilterNet/graph"
	"github.com/gleb-shnshn/DeepFilterNet/tensor"
)

// Model is a native graph being prepared for execution. It implements
// graph.Model.
type Model struct {
	nodes   []*Node
	index   map[string]int
	inputs  []string
	outputs []string
	facts   map[string]graph.Fact

	// set by Analyse
	plan *plan
}

var _ graph.Model = (*Model)(nil)

func (m *Model) node(name string) (*Node, bool) {
	i, ok := m.index[name]
	if !ok {
		return nil, false
	}
	return m.nodes[i], true
}

// Inputs returns current input port names.
func (m *Model) Inputs() []string {
	return append([]string(nil), m.inputs...)
}

// Outputs returns current output port names.
func (m *Model) Outputs() []string {
	return append([]string(nil), m.outputs...)
}

// WithInputFact binds input port to a shape.
func (m *Model) WithInputFact(name string, fact graph.Fact) error {
	n, ok := m.node(name)
	if !ok || n.Op != OpInput {
		return fmt.Errorf("%w: input %s", graph.ErrPortNotFound, name)
	}
	if fact.StreamAxis != graph.NoStream && (fact.StreamAxis < 0 || fact.StreamAxis >= len(fact.Shape)) {
		return fmt.Errorf("%w: input %s: streaming axis %d out of rank %d", graph.ErrShapeInference, name, fact.StreamAxis, len(fact.Shape))
	}
	m.facts[name] = graph.Fact{Shape: append([]int(nil), fact.Shape...), StreamAxis: fact.StreamAxis}
	m.plan = nil
	return nil
}

// Constantize turns input port into a constant node holding value.
func (m *Model) Constantize(name string, value *tensor.Tensor) error {
	n, ok := m.node(name)
	if !ok || n.Op != OpInput {
		return fmt.Errorf("%w: input %s", graph.ErrPortNotFound, name)
	}
	n.Op = OpConst
	n.Value = append([]float32(nil), value.Data()...)
	n.Shape = append([]int(nil), value.Shape()...)
	delete(m.facts, name)
	inputs := m.inputs[:0]
	for _, in := range m.inputs {
		if in != name {
			inputs = append(inputs, in)
		}
	}
	m.inputs = inputs
	m.plan = nil
	return nil
}

// WithInputNames selects and orders input ports.
func (m *Model) WithInputNames(names ...string) error {
	for _, name := range names {
		if n, ok := m.node(name); !ok || n.Op != OpInput {
			return fmt.Errorf("%w: input %s", graph.ErrPortNotFound, name)
		}
	}
	m.inputs = append([]string(nil), names...)
	m.plan = nil
	return nil
}

// WithOutputNames selects and orders output ports.
func (m *Model) WithOutputNames(names ...string) error {
	for _, name := range names {
		if _, ok := m.node(name); !ok {
			return fmt.Errorf("%w: output %s", graph.ErrPortNotFound, name)
		}
	}
	m.outputs = append([]string(nil), names...)
	m.plan = nil
	return nil
}

// Analyse runs shape inference on the current graph.
func (m *Model) Analyse() error {
	p, err := m.analyse()
	if err != nil {
		return err
	}
	m.plan = p
	return nil
}

// OutputFacts returns output port facts. Nil before Analyse.
func (m *Model) OutputFacts() []graph.Fact {
	if m.plan == nil {
		return nil
	}
	return append([]graph.Fact(nil), m.plan.outFacts...)
}

// Pulse converts analysed graph into the streaming form.
func (m *Model) Pulse() (graph.Runnable, int, error) {
	if m.plan == nil {
		return nil, 0, fmt.Errorf("%w: model is not analysed", graph.ErrShapeInference)
	}
	pp, err := m.plan.pulse()
	if err != nil {
		return nil, 0, err
	}
	return pp, pp.delay, nil
}

// Optimize returns a runnable executing one frame per call without state.
func (m *Model) Optimize() (graph.Runnable, error) {
	if m.plan == nil {
		return nil, fmt.Errorf("%w: model is not analysed", graph.ErrShapeInference)
	}
	return stateless{p: m.plan}, nil
}

// Run executes analysed graph over whole sequences. Streaming inputs carry
// the same number of frames. Shorter future context at the end of the
// sequence is zero padded.
func (m *Model) Run(inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if m.plan == nil {
		return nil, fmt.Errorf("%w: model is not analysed", graph.ErrShapeInference)
	}
	return m.plan.runOffline(inputs)
}

// analyse validates operators in order and infers feature sizes.
func (m *Model) analyse() (*plan, error) {
	p := &plan{
		nodes:    m.nodes,
		sizes:    make([]int, len(m.nodes)),
		args:     make([][]int, len(m.nodes)),
		inFacts:  make([]graph.Fact, len(m.inputs)),
		inIdx:    make([]int, len(m.inputs)),
		outIdx:   make([]int, len(m.outputs)),
		outFacts: make([]graph.Fact, len(m.outputs)),
	}
	bound := make(map[string]bool, len(m.inputs))
	for i, name := range m.inputs {
		f, ok := m.facts[name]
		if !ok {
			return nil, fmt.Errorf("%w: input %s has no fact", graph.ErrShapeInference, name)
		}
		p.inFacts[i] = f
		p.inIdx[i] = m.index[name]
		bound[name] = true
	}

	for i, n := range m.nodes {
		args := make([]int, len(n.Inputs))
		in := make([]int, len(n.Inputs))
		for j, name := range n.Inputs {
			k, ok := m.index[name]
			if !ok || k >= i {
				return nil, fmt.Errorf("%w: node %s: input %s is not defined before use", graph.ErrShapeInference, n.Name, name)
			}
			args[j] = k
			in[j] = p.sizes[k]
		}
		p.args[i] = args
		size, err := inferSize(n, in)
		if err != nil {
			return nil, fmt.Errorf("%w: node %s: %v", graph.ErrShapeInference, n.Name, err)
		}
		if n.Op == OpInput {
			if !bound[n.Name] {
				if !m.referenced(n.Name) {
					continue
				}
				return nil, fmt.Errorf("%w: input %s is not bound", graph.ErrShapeInference, n.Name)
			}
			size = tensor.Volume(m.facts[n.Name].Frame())
		}
		p.sizes[i] = size
	}

	for i, name := range m.outputs {
		k := m.index[name]
		p.outIdx[i] = k
		n := m.nodes[k]
		f := graph.Fact{Shape: []int{0, p.sizes[k]}, StreamAxis: 0}
		if n.Op != OpInput && n.Shape != nil {
			f = factOf(n.Shape)
		} else if n.Op == OpInput {
			f = m.facts[name]
		}
		if v := tensor.Volume(f.Frame()); v != p.sizes[k] {
			return nil, fmt.Errorf("%w: output %s: shape %v holds %d values per frame, node produces %d",
				graph.ErrShapeInference, name, f, v, p.sizes[k])
		}
		p.outFacts[i] = f
	}
	return p, nil
}

// referenced reports whether any node or output consumes name.
func (m *Model) referenced(name string) bool {
	for _, n := range m.nodes {
		for _, in := range n.Inputs {
			if in == name {
				return true
			}
		}
	}
	for _, out := range m.outputs {
		if out == name {
			return true
		}
	}
	return false
}
