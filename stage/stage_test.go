package stage_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gleb-shnshn/DeepFilterNet/config"
	"github.com/gleb-shnshn/DeepFilterNet/graph"
	"github.com/gleb-shnshn/DeepFilterNet/graph/native"
	"github.com/gleb-shnshn/DeepFilterNet/log"
	"github.com/gleb-shnshn/DeepFilterNet/mock"
	"github.com/gleb-shnshn/DeepFilterNet/stage"
	"github.com/gleb-shnshn/DeepFilterNet/tensor"
)

type params map[string]int

func (p params) Int(key string) (int, error) {
	v, ok := p[key]
	if !ok {
		return 0, &config.Error{Key: key, Err: config.ErrMissing}
	}
	return v, nil
}

func TestDimResolve(t *testing.T) {
	p := params{"fft_size": 64, "conv_ch": 4, "conv_width_factor": 2, "gru_groups": 2, "emb": 16}
	tests := []struct {
		dim     stage.Dim
		want    int
		wantErr error
	}{
		{dim: stage.Fixed(3), want: 3},
		{dim: stage.Key("fft_size").Div(2).Plus(1), want: 33},
		{dim: stage.Key("conv_ch", "conv_width_factor").Div(4), want: 2},
		{dim: stage.Key("emb").DivKey("gru_groups"), want: 8},
		{dim: stage.Key("nope"), wantErr: config.ErrMissing},
		{dim: stage.Fixed(1).Div(2), wantErr: config.ErrInvalid},
	}
	for _, test := range tests {
		t.Run(test.dim.String(), func(t *testing.T) {
			v, err := test.dim.Resolve(p)
			if test.wantErr != nil {
				assert.ErrorIs(t, err, test.wantErr)
				var cerr *config.Error
				assert.ErrorAs(t, err, &cerr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.want, v)
		})
	}
	v, err := stage.Stream().Resolve(p)
	assert.NoError(t, err)
	assert.Zero(t, v)
	assert.True(t, stage.Stream().IsStream())
}

func build(t *testing.T, g native.Graph, spec stage.Spec) (*stage.Compiled, error) {
	t.Helper()
	m, err := native.New(g)
	require.NoError(t, err)
	return stage.Build(m, spec, mock.Params(), log.Discard())
}

func encoderInputs(p *config.Params) map[string]*tensor.Tensor {
	return map[string]*tensor.Tensor{
		stage.PortFeatErb:  tensor.Zeros(1, 1, 1, p.NbErb),
		stage.PortFeatSpec: tensor.Zeros(1, 2, 1, p.NbDF),
	}
}

func TestBuildStreaming(t *testing.T) {
	p := mock.Params()
	c, err := build(t, mock.Encoder(p, 2, 1), stage.Encoder())
	require.NoError(t, err)
	assert.Equal(t, stage.NameEncoder, c.Name())
	assert.Equal(t, 2, c.Delay())
	assert.Equal(t, stage.Streaming, c.Variant())

	r, err := c.NewRuntime()
	require.NoError(t, err)
	defer r.Close()
	for i := 0; i < 3; i++ {
		assert.False(t, r.Valid())
		out, err := r.Step(encoderInputs(p))
		require.NoError(t, err)
		assert.Len(t, out, 7)
		assert.Equal(t, []int{1, 1, p.EmbHiddenDim}, out[stage.PortEmb].Shape())
		assert.Equal(t, []int{1, p.ConvCh, 1, p.NbDF}, out[stage.PortC0].Shape())
	}
	assert.True(t, r.Valid())
}

func TestBuildStateless(t *testing.T) {
	p := mock.Params()
	c, err := build(t, mock.Decoder(p, 0), stage.Decoder())
	require.NoError(t, err)
	assert.Equal(t, stage.Stateless, c.Variant())
	assert.Zero(t, c.Delay())

	r, err := c.NewRuntime()
	require.NoError(t, err)
	defer r.Close()
	wf := p.ConvCh * p.ConvWidthFactor
	out, err := r.Step(map[string]*tensor.Tensor{
		stage.PortEmb: tensor.Zeros(1, 1, p.EmbHiddenDim),
		stage.PortE3:  tensor.Zeros(1, wf*p.ConvWidthFactor, 1, p.NbErb/4),
		stage.PortE2:  tensor.Zeros(1, wf*p.ConvWidthFactor, 1, p.NbErb/4),
		stage.PortE1:  tensor.Zeros(1, wf, 1, p.NbErb/2),
		stage.PortE0:  tensor.Zeros(1, p.ConvCh, 1, p.NbErb),
	})
	require.NoError(t, err)
	for _, v := range out[stage.PortMask].Data() {
		assert.Equal(t, float32(1), v)
	}
	assert.True(t, r.Valid())
}

func TestMissingConstantIsTolerated(t *testing.T) {
	p := mock.Params()
	spec := stage.Decoder()
	spec.Constants = []stage.Port{{Name: "hdec", Shape: []stage.Dim{stage.Fixed(1), stage.Key("emb_hidden_dim")}}}
	_, err := build(t, mock.Decoder(p, 1), spec)
	assert.NoError(t, err)
}

func TestBuildErrors(t *testing.T) {
	p := mock.Params()

	spec := stage.DFNet()
	spec.Outputs[1].Name = "gain"
	_, err := build(t, mock.DFNet(p, 0, 1), spec)
	assert.ErrorIs(t, err, graph.ErrPortNotFound)

	spec = stage.Encoder()
	spec.Inputs[0].Shape[3] = stage.Key("nb_df")
	_, err = build(t, mock.Encoder(p, 0, 1), spec)
	assert.Error(t, err)

	spec = stage.Encoder()
	spec.Inputs[0].Shape[0] = stage.Stream()
	_, err = build(t, mock.Encoder(p, 0, 1), spec)
	assert.ErrorIs(t, err, graph.ErrShapeInference)

	spec = stage.Encoder()
	spec.Inputs[1].Shape[3] = stage.Key("missing_key")
	_, err = build(t, mock.Encoder(p, 0, 1), spec)
	var cerr *config.Error
	assert.ErrorAs(t, err, &cerr)
}

func TestStepErrors(t *testing.T) {
	p := mock.Params()
	c, err := build(t, mock.Encoder(p, 0, 1), stage.Encoder())
	require.NoError(t, err)
	r, err := c.NewRuntime()
	require.NoError(t, err)
	defer r.Close()

	in := encoderInputs(p)
	delete(in, stage.PortFeatSpec)
	_, err = r.Step(in)
	var ferr *stage.FrameShapeMismatchError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, stage.PortFeatSpec, ferr.Port)

	in = encoderInputs(p)
	in["extra"] = tensor.Zeros(1)
	_, err = r.Step(in)
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, "extra", ferr.Port)

	in = encoderInputs(p)
	in[stage.PortFeatErb] = tensor.Zeros(1, 1, 2, p.NbErb)
	_, err = r.Step(in)
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, []int{1, 1, 2, p.NbErb}, ferr.Got)

	in = encoderInputs(p)
	in[stage.PortFeatErb] = nil
	_, err = r.Step(in)
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, stage.PortFeatErb, ferr.Port)
	assert.Nil(t, ferr.Got)

	in = encoderInputs(p)
	in["extra"] = nil
	_, err = r.Step(in)
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, "extra", ferr.Port)
	assert.False(t, r.Valid())
}

// unpulsable is a backend without streaming conversion.
type unpulsable struct {
	*native.Model
}

func (unpulsable) Pulse() (graph.Runnable, int, error) {
	return nil, 0, graph.ErrNotPulsable
}

func TestUnpulsableRecurrentState(t *testing.T) {
	p := mock.Params()
	m, err := native.New(mock.Encoder(p, 0, 1))
	require.NoError(t, err)
	_, err = stage.Build(unpulsable{m}, stage.Encoder(), p, log.Discard())
	assert.ErrorIs(t, err, graph.ErrStreamConversion)

	// without recurrent state the stateless form is kept
	m, err = native.New(mock.Decoder(p, 1))
	require.NoError(t, err)
	c, err := stage.Build(unpulsable{m}, stage.Decoder(), p, log.Discard())
	require.NoError(t, err)
	assert.Equal(t, stage.Stateless, c.Variant())
	assert.Zero(t, c.Delay())
}
