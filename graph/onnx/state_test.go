package onnx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gleb-shnshn/DeepFilterNet/graph"
	"github.com/gleb-shnshn/DeepFilterNet/tensor"
)

// encoder mirrors the declarations of an exported encoder with one
// recurrent input.
func encoder(produced ...string) *Model {
	m := &Model{
		path: "enc.onnx",
		declared: []port{
			{name: "feat_erb", dims: []int64{1, 1, -1, 8}},
			{name: "h0emb", dims: []int64{1, 1, 16}},
		},
		facts:     make(map[string]graph.Fact),
		constants: make(map[string]*tensor.Tensor),
	}
	for _, name := range produced {
		m.produced = append(m.produced, port{name: name, dims: []int64{1, 1, 16}})
	}
	m.inputs = []string{"feat_erb", "h0emb"}
	m.outputs = []string{produced[0]}
	return m
}

func prepare(t *testing.T, m *Model, constantize bool) {
	t.Helper()
	require.NoError(t, m.WithInputFact("feat_erb", graph.Fact{Shape: []int{1, 1, 0, 8}, StreamAxis: 2}))
	if constantize {
		require.NoError(t, m.Constantize("h0emb", tensor.Zeros(1, 1, 16)))
	} else {
		require.NoError(t, m.WithInputFact("h0emb", graph.Fact{Shape: []int{1, 1, 16}, StreamAxis: graph.NoStream}))
	}
	require.NoError(t, m.Analyse())
}

func TestPulseThreadsState(t *testing.T) {
	m := encoder("emb", "h0emb"+StateSuffix)
	prepare(t, m, true)
	assert.Equal(t, []string{"feat_erb"}, m.Inputs())

	run, delay, err := m.Pulse()
	require.NoError(t, err)
	assert.Zero(t, delay)
	r := run.(*runnable)
	assert.Equal(t, []string{"feat_erb", "h0emb"}, r.inputs)
	assert.Equal(t, []string{"emb", "h0emb_out"}, r.outputs)
	assert.Empty(t, r.fixed)
	require.Len(t, r.states, 1)

	s := &session{runnable: r, state: []*tensor.Tensor{r.states[0].Clone()}}
	frame := tensor.Zeros(1, 1, 1, 8)
	all, err := s.feed([]*tensor.Tensor{frame})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, make([]float32, 16), all[1].Data())

	next := tensor.Zeros(1, 1, 16)
	next.Data()[0] = 0.5
	emb := tensor.Zeros(1, 1, 16)
	out := s.keep([]*tensor.Tensor{emb, next})
	assert.Equal(t, []*tensor.Tensor{emb}, out)

	all, err = s.feed([]*tensor.Tensor{frame})
	require.NoError(t, err)
	assert.Equal(t, float32(0.5), all[1].Data()[0])
	// initial state of new sessions is untouched
	assert.Zero(t, r.states[0].Data()[0])

	_, err = s.feed(nil)
	assert.ErrorIs(t, err, graph.ErrShapeInference)
}

func TestPulseMissingStateOutput(t *testing.T) {
	m := encoder("emb")
	prepare(t, m, true)
	_, _, err := m.Pulse()
	assert.ErrorIs(t, err, graph.ErrStreamConversion)
}

func TestPulseWithoutState(t *testing.T) {
	m := encoder("emb", "h0emb"+StateSuffix)
	_, _, err := m.Pulse()
	assert.ErrorIs(t, err, graph.ErrShapeInference)

	prepare(t, m, false)
	_, _, err = m.Pulse()
	assert.ErrorIs(t, err, graph.ErrNotPulsable)

	run, err := m.Optimize()
	require.NoError(t, err)
	r := run.(*runnable)
	assert.Empty(t, r.states)
	assert.Equal(t, []string{"feat_erb", "h0emb"}, r.inputs)
}
