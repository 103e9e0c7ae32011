// Package stage builds executable model stages out of offline graphs.
//
// Build binds a graph to the port templates of a Spec, freezes recurrent
// state inputs, converts the graph into a streaming form and records the
// discovered output delay. The result is a Compiled stage shared by all
// channels. Every channel creates its own Runtime holding private state.
package stage

import (
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/gleb-shnshn/DeepFilterNet/graph"
	"github.com/gleb-shnshn/DeepFilterNet/tensor"
)

// Variant is the execution form of a compiled stage.
type Variant int

const (
	// Streaming stages thread state internally and may lag their input.
	Streaming Variant = iota
	// Stateless stages run every frame on its own with zero delay.
	Stateless
)

func (v Variant) String() string {
	if v == Stateless {
		return "stateless"
	}
	return "streaming"
}

type (
	// Port is a named tensor port with shape template.
	Port struct {
		Name  string
		Shape []Dim
	}

	// Spec describes a stage: ordered input and output ports and the
	// recurrent state inputs frozen to zero before conversion.
	Spec struct {
		Name      string
		Inputs    []Port
		Outputs   []Port
		Constants []Port
	}

	// FrameShapeMismatchError is returned by Step when a port is missing or
	// a tensor does not match its frame shape.
	FrameShapeMismatchError struct {
		Stage string
		Port  string
		Want  []int
		Got   []int
	}
)

func (e *FrameShapeMismatchError) Error() string {
	switch {
	case e.Got == nil:
		return fmt.Sprintf("stage %s: port %s: missing", e.Stage, e.Port)
	case e.Want == nil:
		return fmt.Sprintf("stage %s: port %s: not declared", e.Stage, e.Port)
	}
	return fmt.Sprintf("stage %s: port %s: frame shape %v, want %v", e.Stage, e.Port, e.Got, e.Want)
}

type binding struct {
	name  string
	frame []int
}

// Compiled is an executable stage. It is immutable and safe to share.
type Compiled struct {
	name    string
	run     graph.Runnable
	delay   int
	variant Variant
	inputs  []binding
	outputs []binding
}

func resolve(port Port, p Params) (graph.Fact, error) {
	f := graph.Fact{Shape: make([]int, len(port.Shape)), StreamAxis: graph.NoStream}
	for i, d := range port.Shape {
		if d.IsStream() {
			if f.StreamAxis != graph.NoStream {
				return f, fmt.Errorf("%w: port %s: more than one streaming axis", graph.ErrShapeInference, port.Name)
			}
			f.StreamAxis = i
			continue
		}
		v, err := d.Resolve(p)
		if err != nil {
			return f, fmt.Errorf("port %s: %w", port.Name, err)
		}
		f.Shape[i] = v
	}
	return f, nil
}

func names(ports []Port) []string {
	out := make([]string, len(ports))
	for i, p := range ports {
		out[i] = p.Name
	}
	return out
}

// Build converts model into an executable stage. Any failure is fatal to
// the stage. A constant port missing from the model is logged and skipped.
// A model holding recurrent state must have a streaming form: running it
// stateless would reset the state every frame.
func Build(m graph.Model, spec Spec, p Params, logger logrus.FieldLogger) (*Compiled, error) {
	l := logger.WithField("stage", spec.Name)
	c := &Compiled{name: spec.Name}
	var stateful []string

	for _, port := range spec.Inputs {
		f, err := resolve(port, p)
		if err != nil {
			return nil, fmt.Errorf("stage %s: %w", spec.Name, err)
		}
		if err := m.WithInputFact(port.Name, f); err != nil {
			return nil, fmt.Errorf("stage %s: %w", spec.Name, err)
		}
		c.inputs = append(c.inputs, binding{name: port.Name, frame: f.Frame()})
	}

	for _, port := range spec.Constants {
		f, err := resolve(port, p)
		if err != nil {
			return nil, fmt.Errorf("stage %s: %w", spec.Name, err)
		}
		if f.Streaming() {
			return nil, fmt.Errorf("stage %s: %w: constant %s has streaming axis", spec.Name, graph.ErrShapeInference, port.Name)
		}
		err = m.Constantize(port.Name, tensor.Zeros(f.Shape...))
		switch {
		case errors.Is(err, graph.ErrPortNotFound):
			l.WithField("port", port.Name).Warn("no recurrent state port, skipping constantization")
		case err != nil:
			return nil, fmt.Errorf("stage %s: %w", spec.Name, err)
		default:
			stateful = append(stateful, port.Name)
		}
	}

	if err := m.WithInputNames(names(spec.Inputs)...); err != nil {
		return nil, fmt.Errorf("stage %s: %w", spec.Name, err)
	}
	if err := m.WithOutputNames(names(spec.Outputs)...); err != nil {
		return nil, fmt.Errorf("stage %s: %w", spec.Name, err)
	}
	if err := m.Analyse(); err != nil {
		return nil, fmt.Errorf("stage %s: %w", spec.Name, err)
	}

	facts := m.OutputFacts()
	for i, port := range spec.Outputs {
		f, err := resolve(port, p)
		if err != nil {
			return nil, fmt.Errorf("stage %s: %w", spec.Name, err)
		}
		if !tensor.SameShape(facts[i].Frame(), f.Frame()) {
			return nil, fmt.Errorf("stage %s: %w: output %s is %v, want %v",
				spec.Name, graph.ErrShapeInference, port.Name, facts[i], f)
		}
		c.outputs = append(c.outputs, binding{name: port.Name, frame: f.Frame()})
	}

	run, delay, err := m.Pulse()
	switch {
	case errors.Is(err, graph.ErrNotPulsable) && len(stateful) > 0:
		return nil, fmt.Errorf("stage %s: %w: recurrent state %v needs a streaming form: %v",
			spec.Name, graph.ErrStreamConversion, stateful, err)
	case errors.Is(err, graph.ErrNotPulsable):
		l.WithError(err).Warn("no streaming form, running stateless")
		if run, err = m.Optimize(); err != nil {
			return nil, fmt.Errorf("stage %s: %w", spec.Name, err)
		}
		c.variant, delay = Stateless, 0
	case err != nil:
		return nil, fmt.Errorf("stage %s: %w", spec.Name, err)
	}
	c.run, c.delay = run, delay
	l.WithFields(logrus.Fields{"delay": delay, "variant": c.variant}).Info("stage ready")
	return c, nil
}

// Name returns stage name.
func (c *Compiled) Name() string { return c.name }

// Delay returns output delay in frames.
func (c *Compiled) Delay() int { return c.delay }

// Variant returns execution form.
func (c *Compiled) Variant() Variant { return c.variant }

// NewRuntime creates a runtime with fresh state.
func (c *Compiled) NewRuntime() (*Runtime, error) {
	s, err := c.run.NewSession()
	if err != nil {
		return nil, fmt.Errorf("stage %s: %w", c.name, err)
	}
	return &Runtime{Compiled: c, session: s}, nil
}

// Runtime executes a stage one frame at a time. It must be owned by one
// goroutine.
type Runtime struct {
	*Compiled
	session graph.Session
	steps   int
}

// Valid reports whether the last output was past the warm-up.
func (r *Runtime) Valid() bool {
	return r.steps > r.delay
}

// Step executes a single frame. Inputs must hold exactly the declared ports
// with frame shapes. A nil tensor counts as a missing port. Outputs of the
// first Delay steps are warm-up zeros.
func (r *Runtime) Step(inputs map[string]*tensor.Tensor) (map[string]*tensor.Tensor, error) {
	if len(inputs) != len(r.inputs) {
		for name, x := range inputs {
			if !r.declared(name) {
				return nil, &FrameShapeMismatchError{Stage: r.name, Port: name, Got: shape(x)}
			}
		}
	}
	args := make([]*tensor.Tensor, len(r.inputs))
	for i, b := range r.inputs {
		x := inputs[b.name]
		if x == nil {
			return nil, &FrameShapeMismatchError{Stage: r.name, Port: b.name, Want: b.frame}
		}
		if !tensor.SameShape(x.Shape(), b.frame) {
			return nil, &FrameShapeMismatchError{Stage: r.name, Port: b.name, Want: b.frame, Got: x.Shape()}
		}
		args[i] = x
	}
	res, err := r.session.Run(args)
	if err != nil {
		return nil, fmt.Errorf("stage %s: %w", r.name, err)
	}
	r.steps++
	if len(res) != len(r.outputs) {
		return nil, fmt.Errorf("stage %s: %d outputs, want %d", r.name, len(res), len(r.outputs))
	}
	out := make(map[string]*tensor.Tensor, len(res))
	for i, b := range r.outputs {
		if res[i] == nil || !tensor.SameShape(res[i].Shape(), b.frame) {
			return nil, &FrameShapeMismatchError{Stage: r.name, Port: b.name, Want: b.frame, Got: shape(res[i])}
		}
		out[b.name] = res[i]
	}
	return out, nil
}

// shape returns the shape of t. A nil tensor has an empty, non-nil shape
// so errors do not report it as missing.
func shape(t *tensor.Tensor) []int {
	if t == nil {
		return []int{}
	}
	return t.Shape()
}

func (r *Runtime) declared(name string) bool {
	for _, b := range r.inputs {
		if b.name == name {
			return true
		}
	}
	return false
}

// Close releases backend resources.
func (r *Runtime) Close() error {
	if c, ok := r.session.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
