// Package onnx is a graph backend running ONNX artifacts with ONNX Runtime.
//
// ONNX Runtime executes graphs as exported and has no streaming
// conversion. A graph with constantized recurrent inputs is pulsed by
// threading state through the session: the exported graph must produce the
// next value of state input X as output X+StateSuffix. A graph without
// recurrent inputs reports graph.ErrNotPulsable and runs stateless.
//
// The shared library is located with ONNXRUNTIME_LIB when set.
package onnx

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/gleb-shnshn/DeepFilterNet/graph"
	"github.com/gleb-shnshn/DeepFilterNet/tensor"
)

// StateSuffix is appended to a state input name to get the output holding
// its next value.
const StateSuffix = "_out"

// LibraryEnv names the variable holding onnxruntime shared library path.
const LibraryEnv = "ONNXRUNTIME_LIB"

var env struct {
	once sync.Once
	err  error
}

func init() {
	graph.Register(".onnx", func(path string) (graph.Model, error) {
		return Load(path)
	})
}

func initialize() error {
	env.once.Do(func() {
		if lib := os.Getenv(LibraryEnv); lib != "" {
			ort.SetSharedLibraryPath(lib)
		}
		if !ort.IsInitialized() {
			env.err = ort.InitializeEnvironment()
		}
	})
	return env.err
}

type port struct {
	name string
	dims []int64
}

// Model is an ONNX graph being prepared. It implements graph.Model.
type Model struct {
	path      string
	declared  []port
	produced  []port
	inputs    []string
	outputs   []string
	facts     map[string]graph.Fact
	constants map[string]*tensor.Tensor

	outFacts []graph.Fact
}

// Load reads input and output declarations of an artifact.
func Load(path string) (*Model, error) {
	if err := initialize(); err != nil {
		return nil, fmt.Errorf("onnxruntime: %w", err)
	}
	ins, outs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	m := &Model{
		path:      path,
		facts:     make(map[string]graph.Fact),
		constants: make(map[string]*tensor.Tensor),
	}
	for _, in := range ins {
		m.declared = append(m.declared, port{name: in.Name, dims: in.Dimensions})
		m.inputs = append(m.inputs, in.Name)
	}
	for _, out := range outs {
		m.produced = append(m.produced, port{name: out.Name, dims: out.Dimensions})
		m.outputs = append(m.outputs, out.Name)
	}
	return m, nil
}

var _ graph.Model = (*Model)(nil)

func find(ports []port, name string) (port, bool) {
	for _, p := range ports {
		if p.name == name {
			return p, true
		}
	}
	return port{}, false
}

// Inputs returns the regular input ports in feed order.
func (m *Model) Inputs() []string { return append([]string(nil), m.inputs...) }

// Outputs returns the selected output ports in order.
func (m *Model) Outputs() []string { return append([]string(nil), m.outputs...) }

// WithInputFact binds a declared input to fact. The rank must match the
// artifact declaration.
func (m *Model) WithInputFact(name string, fact graph.Fact) error {
	p, ok := find(m.declared, name)
	if !ok {
		return fmt.Errorf("%w: input %s", graph.ErrPortNotFound, name)
	}
	if len(p.dims) != len(fact.Shape) {
		return fmt.Errorf("%w: input %s: rank %d, declared %d", graph.ErrShapeInference, name, len(fact.Shape), len(p.dims))
	}
	m.facts[name] = fact
	m.outFacts = nil
	return nil
}

// Constantize removes name from the inputs and feeds value instead. When
// the graph produces name+StateSuffix, value is the initial recurrent
// state.
func (m *Model) Constantize(name string, value *tensor.Tensor) error {
	if _, ok := find(m.declared, name); !ok {
		return fmt.Errorf("%w: input %s", graph.ErrPortNotFound, name)
	}
	m.constants[name] = value.Clone()
	inputs := m.inputs[:0]
	for _, in := range m.inputs {
		if in != name {
			inputs = append(inputs, in)
		}
	}
	m.inputs = inputs
	return nil
}

// WithInputNames selects and orders the regular inputs.
func (m *Model) WithInputNames(names ...string) error {
	for _, name := range names {
		if _, ok := find(m.declared, name); !ok {
			return fmt.Errorf("%w: input %s", graph.ErrPortNotFound, name)
		}
	}
	m.inputs = append([]string(nil), names...)
	return nil
}

// WithOutputNames selects and orders the outputs.
func (m *Model) WithOutputNames(names ...string) error {
	for _, name := range names {
		if _, ok := find(m.produced, name); !ok {
			return fmt.Errorf("%w: output %s", graph.ErrPortNotFound, name)
		}
	}
	m.outputs = append([]string(nil), names...)
	return nil
}

// Analyse checks that every declared input is fed and derives output facts
// from declared output dimensions. The first dynamic output dimension is
// the streaming axis.
func (m *Model) Analyse() error {
	for _, p := range m.declared {
		_, fed := m.facts[p.name]
		if _, ok := m.constants[p.name]; ok {
			continue
		}
		if !fed {
			return fmt.Errorf("%w: input %s is not bound", graph.ErrShapeInference, p.name)
		}
	}
	facts := make([]graph.Fact, len(m.outputs))
	for i, name := range m.outputs {
		p, _ := find(m.produced, name)
		f := graph.Fact{Shape: make([]int, len(p.dims)), StreamAxis: graph.NoStream}
		for d, v := range p.dims {
			if v > 0 {
				f.Shape[d] = int(v)
				continue
			}
			if f.StreamAxis != graph.NoStream {
				return fmt.Errorf("%w: output %s has more than one dynamic dimension", graph.ErrShapeInference, name)
			}
			f.StreamAxis = d
		}
		facts[i] = f
	}
	m.outFacts = facts
	return nil
}

// OutputFacts returns the facts derived by Analyse.
func (m *Model) OutputFacts() []graph.Fact {
	return append([]graph.Fact(nil), m.outFacts...)
}

// states returns constantized inputs in declaration order along with the
// outputs producing their next values.
func (m *Model) states() (in, out []string, err error) {
	for _, p := range m.declared {
		if _, ok := m.constants[p.name]; !ok {
			continue
		}
		next := p.name + StateSuffix
		if _, ok := find(m.produced, next); !ok {
			return nil, nil, fmt.Errorf("%w: state %s: no output %s", graph.ErrStreamConversion, p.name, next)
		}
		in = append(in, p.name)
		out = append(out, next)
	}
	return in, out, nil
}

// Pulse threads constantized inputs through the session as recurrent
// state. The exported graph consumes one frame per run, so the delay is
// zero. A graph without state has no streaming form.
func (m *Model) Pulse() (graph.Runnable, int, error) {
	if m.outFacts == nil {
		return nil, 0, fmt.Errorf("%w: model is not analysed", graph.ErrShapeInference)
	}
	in, out, err := m.states()
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", filepath.Base(m.path), err)
	}
	if len(in) == 0 {
		return nil, 0, fmt.Errorf("%w: %s has no recurrent state", graph.ErrNotPulsable, filepath.Base(m.path))
	}
	r := &runnable{
		path:    m.path,
		inputs:  append(append([]string(nil), m.inputs...), in...),
		outputs: append(append([]string(nil), m.outputs...), out...),
	}
	for _, name := range in {
		r.states = append(r.states, m.constants[name])
	}
	return r, 0, nil
}

// Optimize returns the stateless form. Constantized inputs are fed
// unchanged on every run.
func (m *Model) Optimize() (graph.Runnable, error) {
	if m.outFacts == nil {
		return nil, fmt.Errorf("%w: model is not analysed", graph.ErrShapeInference)
	}
	r := &runnable{path: m.path, outputs: append([]string(nil), m.outputs...)}
	r.inputs = append(r.inputs, m.inputs...)
	for _, p := range m.declared {
		if c, ok := m.constants[p.name]; ok {
			r.inputs = append(r.inputs, p.name)
			r.fixed = append(r.fixed, c)
		}
	}
	return r, nil
}

type runnable struct {
	path    string
	inputs  []string
	outputs []string
	// fixed are fed after regular inputs on every run.
	fixed []*tensor.Tensor
	// states are initial recurrent values fed after regular inputs. Their
	// next values are the trailing len(states) outputs.
	states []*tensor.Tensor
}

func (r *runnable) NewSession() (graph.Session, error) {
	s, err := ort.NewDynamicAdvancedSession(r.path, r.inputs, r.outputs, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(r.path), err)
	}
	state := make([]*tensor.Tensor, len(r.states))
	for i, t := range r.states {
		state[i] = t.Clone()
	}
	return &session{runnable: r, s: s, state: state}, nil
}

type session struct {
	*runnable
	s     *ort.DynamicAdvancedSession
	state []*tensor.Tensor
}

func ortTensor(t *tensor.Tensor) (*ort.Tensor[float32], error) {
	dims := make([]int64, len(t.Shape()))
	for i, d := range t.Shape() {
		dims[i] = int64(d)
	}
	return ort.NewTensor(ort.NewShape(dims...), append([]float32(nil), t.Data()...))
}

// feed appends the fixed or recurrent inputs to one frame.
func (s *session) feed(inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	all := append(append(append([]*tensor.Tensor(nil), inputs...), s.fixed...), s.state...)
	if len(all) != len(s.inputs) {
		return nil, fmt.Errorf("%w: expected %d inputs, got %d",
			graph.ErrShapeInference, len(s.inputs)-len(s.fixed)-len(s.state), len(inputs))
	}
	return all, nil
}

// keep stores the trailing state outputs as the next state and returns the
// remaining outputs.
func (s *session) keep(result []*tensor.Tensor) []*tensor.Tensor {
	n := len(result) - len(s.state)
	copy(s.state, result[n:])
	return result[:n]
}

// Run feeds one frame. Output tensors are allocated by the runtime.
func (s *session) Run(inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	all, err := s.feed(inputs)
	if err != nil {
		return nil, err
	}
	in := make([]ort.Value, len(all))
	defer func() {
		for _, v := range in {
			if v != nil {
				v.Destroy()
			}
		}
	}()
	for i, t := range all {
		v, err := ortTensor(t)
		if err != nil {
			return nil, err
		}
		in[i] = v
	}
	out := make([]ort.Value, len(s.outputs))
	defer func() {
		for _, v := range out {
			if v != nil {
				v.Destroy()
			}
		}
	}()
	if err := s.s.Run(in, out); err != nil {
		return nil, err
	}
	result := make([]*tensor.Tensor, len(out))
	for i, v := range out {
		t, ok := v.(*ort.Tensor[float32])
		if !ok {
			return nil, fmt.Errorf("output %s is not float32", s.outputs[i])
		}
		shape := make([]int, len(t.GetShape()))
		for d, n := range t.GetShape() {
			shape[d] = int(n)
		}
		r, err := tensor.New(shape, append([]float32(nil), t.GetData()...))
		if err != nil {
			return nil, err
		}
		result[i] = r
	}
	return s.keep(result), nil
}

// Close releases runtime session.
func (s *session) Close() error {
	return s.s.Destroy()
}
