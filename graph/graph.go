/*
Package graph defines the computation-graph facility used to build model
stages.

A Model is an offline, whole-sequence network graph loaded from an
artifact. Before it can be executed it is bound and prepared:

    WithInputFact   - bind input ports to shapes, one axis may stream;
    Constantize     - freeze an input port to a constant tensor;
    WithInputNames  - select and order input ports;
    WithOutputNames - select and order output ports;
    Analyse         - run shape inference.

A prepared model is turned into a Runnable either by Pulse, which converts
it into an incremental single-frame form with internally threaded state and
reports the output delay in frames, or by Optimize, which produces a
fixed-shape form executed on exactly one frame per call.

Backends register themselves for an artifact extension with Register, the
same way database/sql drivers do.
*/
package graph

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/gleb-shnshn/DeepFilterNet/tensor"
)

// NoStream marks a fact without streaming axis.
const NoStream = -1

var (
	// ErrPortNotFound is returned when a named port does not exist.
	ErrPortNotFound = errors.New("port not found")
	// ErrShapeInference is returned for contradictory or underspecified shapes.
	ErrShapeInference = errors.New("shape inference failed")
	// ErrStreamConversion is returned when a graph cannot be streamed even
	// though it contains only convertible operators.
	ErrStreamConversion = errors.New("stream conversion failed")
	// ErrNotPulsable is returned by Pulse when the graph contains operators
	// without an incremental form.
	ErrNotPulsable = errors.New("graph has no streaming form")
	// ErrUnknownFormat is returned by Open for unregistered extensions.
	ErrUnknownFormat = errors.New("unknown graph format")
)

type (
	// Fact is the bound shape of a port. The streaming axis, if any, is
	// stored with size 0.
	Fact struct {
		Shape      []int
		StreamAxis int
	}

	// Model is an offline graph being prepared for execution.
	Model interface {
		// Inputs returns current input port names in order.
		Inputs() []string
		// Outputs returns current output port names in order.
		Outputs() []string
		WithInputFact(name string, fact Fact) error
		Constantize(name string, value *tensor.Tensor) error
		WithInputNames(names ...string) error
		WithOutputNames(names ...string) error
		Analyse() error
		// OutputFacts is valid after a successful Analyse.
		OutputFacts() []Fact
		// Pulse returns the streaming form and its output delay in frames.
		Pulse() (Runnable, int, error)
		// Optimize returns the single-frame stateless form.
		Optimize() (Runnable, error)
	}

	// Runnable is an executable graph. Every session owns private state.
	Runnable interface {
		NewSession() (Session, error)
	}

	// Session executes one frame per Run call. Inputs and outputs follow
	// the port order of the model.
	Session interface {
		Run(inputs []*tensor.Tensor) ([]*tensor.Tensor, error)
	}

	// OpenFunc loads a model artifact.
	OpenFunc func(path string) (Model, error)
)

// Frame returns the shape of a single frame: the streaming axis has size 1.
func (f Fact) Frame() []int {
	shape := append([]int(nil), f.Shape...)
	if f.StreamAxis != NoStream {
		shape[f.StreamAxis] = 1
	}
	return shape
}

// Streaming reports whether fact has streaming axis.
func (f Fact) Streaming() bool {
	return f.StreamAxis != NoStream
}

func (f Fact) String() string {
	dims := make([]string, len(f.Shape))
	for i, d := range f.Shape {
		if i == f.StreamAxis {
			dims[i] = "S"
			continue
		}
		dims[i] = fmt.Sprint(d)
	}
	return "[" + strings.Join(dims, ",") + "]"
}

var backends = struct {
	sync.Mutex
	m map[string]OpenFunc
}{
	m: map[string]OpenFunc{},
}

// Register makes a backend available for artifacts with provided extension.
// Extension includes the leading dot.
func Register(ext string, fn OpenFunc) {
	backends.Lock()
	defer backends.Unlock()
	backends.m[strings.ToLower(ext)] = fn
}

// Extensions returns registered artifact extensions in sorted order.
func Extensions() []string {
	backends.Lock()
	defer backends.Unlock()
	exts := make([]string, 0, len(backends.m))
	for ext := range backends.m {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Open loads a model with the backend registered for file extension.
func Open(path string) (Model, error) {
	ext := strings.ToLower(filepath.Ext(path))
	backends.Lock()
	fn, ok := backends.m[ext]
	backends.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, path)
	}
	return fn(path)
}
