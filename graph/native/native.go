// Package native is a graph backend with a small set of frame-wise neural
// operators. Artifacts are YAML documents; see Graph for the layout.
//
// Every node produces one feature vector per frame. Streaming conversion
// threads convolution history and recurrent state inside the session and
// discovers the output delay from convolution look-ahead.
package native

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/gleb-shnshn/DeepFilterNet/graph"
)

// Operators.
const (
	OpInput  = "input"
	OpConst  = "const"
	OpDense  = "dense"
	OpAct    = "act"
	OpConv   = "conv"
	OpGRU    = "gru"
	OpDeconv = "deconv"
	OpConcat = "concat"
	OpSlice  = "slice"
	OpAdd    = "add"
	OpMul    = "mul"
)

type (
	// Graph is the artifact document.
	Graph struct {
		Inputs  []string `yaml:"inputs"`
		Outputs []string `yaml:"outputs"`
		Nodes   []Node   `yaml:"nodes"`
	}

	// Node is a single operator.
	//
	// Shape is the full port shape where 0 marks the streaming axis. It is
	// used for input defaults and output reshaping. Dense, conv and gru
	// weights are row-major [units x in] per kernel tap or gate; gru gates
	// are ordered r, z, n per layer.
	Node struct {
		Name          string    `yaml:"name"`
		Op            string    `yaml:"op"`
		Inputs        []string  `yaml:"inputs,omitempty"`
		Shape         []int     `yaml:"shape,omitempty"`
		Units         int       `yaml:"units,omitempty"`
		Layers        int       `yaml:"layers,omitempty"`
		Kernel        int       `yaml:"kernel,omitempty"`
		Lookahead     int       `yaml:"lookahead,omitempty"`
		Stride        int       `yaml:"stride,omitempty"`
		Start         int       `yaml:"start,omitempty"`
		End           int       `yaml:"end,omitempty"`
		Activation    string    `yaml:"activation,omitempty"`
		Weights       []float32 `yaml:"weights,omitempty,flow"`
		Bias          []float32 `yaml:"bias,omitempty,flow"`
		Recurrent     []float32 `yaml:"recurrent,omitempty,flow"`
		RecurrentBias []float32 `yaml:"recurrent_bias,omitempty,flow"`
		Value         []float32 `yaml:"value,omitempty,flow"`
	}
)

func init() {
	graph.Register(".yaml", open)
	graph.Register(".yml", open)
}

func open(path string) (graph.Model, error) {
	return Load(path)
}

// Load reads a YAML artifact.
func Load(path string) (*Model, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Parse decodes a YAML artifact.
func Parse(b []byte) (*Model, error) {
	var g Graph
	if err := yaml.Unmarshal(b, &g); err != nil {
		return nil, err
	}
	return New(g)
}

// Marshal encodes a graph as YAML artifact.
func Marshal(g Graph) ([]byte, error) {
	return yaml.Marshal(g)
}

// New creates a model from graph document. The graph is copied.
func New(g Graph) (*Model, error) {
	m := &Model{
		index:   make(map[string]int, len(g.Nodes)),
		inputs:  append([]string(nil), g.Inputs...),
		outputs: append([]string(nil), g.Outputs...),
		facts:   make(map[string]graph.Fact),
	}
	for i := range g.Nodes {
		n := g.Nodes[i]
		if n.Name == "" {
			return nil, fmt.Errorf("node %d: empty name", i)
		}
		if _, ok := m.index[n.Name]; ok {
			return nil, fmt.Errorf("node %s: duplicate name", n.Name)
		}
		m.index[n.Name] = len(m.nodes)
		m.nodes = append(m.nodes, &n)
		if n.Op == OpInput && n.Shape != nil {
			m.facts[n.Name] = factOf(n.Shape)
		}
	}
	for _, name := range m.inputs {
		if n, ok := m.node(name); !ok || n.Op != OpInput {
			return nil, fmt.Errorf("%w: input %s", graph.ErrPortNotFound, name)
		}
	}
	for _, name := range m.outputs {
		if _, ok := m.node(name); !ok {
			return nil, fmt.Errorf("%w: output %s", graph.ErrPortNotFound, name)
		}
	}
	return m, nil
}

// factOf converts a shape with 0 as streaming placeholder into a fact.
func factOf(shape []int) graph.Fact {
	f := graph.Fact{Shape: append([]int(nil), shape...), StreamAxis: graph.NoStream}
	for i, d := range shape {
		if d == 0 {
			f.StreamAxis = i
			break
		}
	}
	return f
}
