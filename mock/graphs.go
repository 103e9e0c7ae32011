package mock

import (
	"math/rand"
	"os"
	"path/filepath"

	"github.com/gleb-shnshn/DeepFilterNet/config"
	"github.com/gleb-shnshn/DeepFilterNet/graph/native"
)

// Lookahead sets look-ahead frames of mock stages.
type Lookahead struct {
	Encoder int
	// Decoder > 0 builds a streamable decoder. Otherwise the decoder uses a
	// transposed convolution and runs stateless.
	Decoder int
	DFNet   int
}

func random(r *rand.Rand, n int) []float32 {
	w := make([]float32, n)
	for i := range w {
		w[i] = (r.Float32() - 0.5) / 4
	}
	return w
}

func filled(n int, v float32) []float32 {
	w := make([]float32, n)
	for i := range w {
		w[i] = v
	}
	return w
}

// Encoder returns an encoder with random weights: a look-ahead convolution
// over both features feeding a recurrent embedding with h0emb state and
// dense skip outputs.
func Encoder(p *config.Params, lookahead int, seed int64) native.Graph {
	r := rand.New(rand.NewSource(seed))
	in := p.NbErb + 2*p.NbDF
	hidden := p.EmbHiddenDim
	wf := p.ConvWidthFactor
	c := p.ConvCh
	dense := func(name string, units int, shape ...int) native.Node {
		return native.Node{Name: name, Op: native.OpDense, Inputs: []string{"conv"}, Units: units,
			Weights: random(r, units*hidden), Shape: shape}
	}
	return native.Graph{
		Inputs:  []string{"feat_erb", "feat_spec", "h0emb"},
		Outputs: []string{"e0", "e1", "e2", "e3", "emb", "c0", "lsnr"},
		Nodes: []native.Node{
			{Name: "feat_erb", Op: native.OpInput},
			{Name: "feat_spec", Op: native.OpInput},
			{Name: "h0emb", Op: native.OpInput},
			{Name: "feat", Op: native.OpConcat, Inputs: []string{"feat_erb", "feat_spec"}},
			{Name: "conv", Op: native.OpConv, Inputs: []string{"feat"}, Units: hidden,
				Kernel: lookahead + 2, Lookahead: lookahead, Weights: random(r, (lookahead+2)*hidden*in),
				Bias: random(r, hidden), Activation: "tanh"},
			{Name: "emb", Op: native.OpGRU, Inputs: []string{"conv", "h0emb"}, Units: hidden,
				Weights: random(r, 3*hidden*hidden), Recurrent: random(r, 3*hidden*hidden),
				Bias: random(r, 3*hidden), RecurrentBias: random(r, 3*hidden), Shape: []int{1, 0, hidden}},
			dense("e0", c*p.NbErb, 1, c, 0, p.NbErb),
			dense("e1", c*wf*p.NbErb/2, 1, c*wf, 0, p.NbErb/2),
			dense("e2", c*wf*wf*p.NbErb/4, 1, c*wf*wf, 0, p.NbErb/4),
			dense("e3", c*wf*wf*p.NbErb/4, 1, c*wf*wf, 0, p.NbErb/4),
			dense("c0", c*p.NbDF, 1, c, 0, p.NbDF),
			dense("lsnr", 1, 1, 0, 1),
		},
	}
}

// Decoder returns a decoder producing an all-ones mask.
func Decoder(p *config.Params, lookahead int) native.Graph {
	g := native.Graph{
		Inputs:  []string{"emb", "e3", "e2", "e1", "e0"},
		Outputs: []string{"m"},
		Nodes: []native.Node{
			{Name: "emb", Op: native.OpInput},
			{Name: "e3", Op: native.OpInput},
			{Name: "e2", Op: native.OpInput},
			{Name: "e1", Op: native.OpInput},
			{Name: "e0", Op: native.OpInput},
		},
	}
	shape := []int{1, 1, 0, p.NbErb}
	if lookahead > 0 {
		g.Nodes = append(g.Nodes, native.Node{
			Name: "m", Op: native.OpConv, Inputs: []string{"emb"}, Units: p.NbErb,
			Kernel: lookahead + 1, Lookahead: lookahead,
			Weights: make([]float32, (lookahead+1)*p.NbErb*p.EmbHiddenDim),
			Bias:    filled(p.NbErb, 1), Shape: shape,
		})
		return g
	}
	half := p.NbErb / 2
	g.Nodes = append(g.Nodes,
		native.Node{Name: "half", Op: native.OpDense, Inputs: []string{"emb"}, Units: half,
			Weights: make([]float32, half*p.EmbHiddenDim), Bias: filled(half, 1)},
		native.Node{Name: "m", Op: native.OpDeconv, Inputs: []string{"half"}, Stride: 2, Kernel: 2,
			Weights: []float32{1, 1}, Shape: shape},
	)
	return g
}

// IdentityCoefs returns coefficients passing the newest frame through.
func IdentityCoefs(order, nbDF int) []float32 {
	c := make([]float32, order*nbDF*2)
	for f := 0; f < nbDF; f++ {
		c[f*2] = 1
	}
	return c
}

// DFNet returns a coefficient net predicting identity coefficients and
// alpha of 1 behind a recurrent layer with hdf state.
func DFNet(p *config.Params, lookahead int, seed int64) native.Graph {
	r := rand.New(rand.NewSource(seed))
	h, layers := p.DFHiddenDim, p.DFNumLayers
	n := p.DFOrder * p.NbDF * 2
	emb := p.EmbHiddenDim
	return native.Graph{
		Inputs:  []string{"emb", "c0", "hdf"},
		Outputs: []string{"coefs", "alpha"},
		Nodes: []native.Node{
			{Name: "emb", Op: native.OpInput},
			{Name: "c0", Op: native.OpInput},
			{Name: "hdf", Op: native.OpInput},
			{Name: "gru", Op: native.OpGRU, Inputs: []string{"emb", "hdf"}, Units: h, Layers: layers,
				Weights:   random(r, 3*h*emb+(layers-1)*3*h*h),
				Recurrent: random(r, layers*3*h*h)},
			{Name: "coefs", Op: native.OpConv, Inputs: []string{"gru"}, Units: n,
				Kernel: lookahead + 1, Lookahead: lookahead, Weights: make([]float32, (lookahead+1)*n*h),
				Bias: IdentityCoefs(p.DFOrder, p.NbDF), Shape: []int{1, 0, p.DFOrder, p.NbDF, 2}},
			{Name: "alpha", Op: native.OpDense, Inputs: []string{"gru"}, Units: 1,
				Weights: make([]float32, h), Bias: []float32{1}, Shape: []int{1, 0, 1}},
		},
	}
}

// DelaySpec returns a spectrum operator delaying its input by frames.
func DelaySpec(p *config.Params, frames int) native.Graph {
	size := p.FreqSize() * 2
	w := make([]float32, (frames+1)*size*size)
	for i := 0; i < size; i++ {
		w[i*size+i] = 1
	}
	return native.Graph{
		Inputs:  []string{"spec"},
		Outputs: []string{"spec_d"},
		Nodes: []native.Node{
			{Name: "spec", Op: native.OpInput},
			{Name: "spec_d", Op: native.OpConv, Inputs: []string{"spec"}, Units: size,
				Kernel: frames + 1, Lookahead: frames, Weights: w, Shape: []int{0, p.FreqSize(), 2}},
		},
	}
}

// Export is the set of mock graphs of a model export.
type Export struct {
	Encoder, Decoder, DFNet native.Graph
	// DelaySpec is written when set.
	DelaySpec *native.Graph
}

// NewExport returns identity-like graphs.
func NewExport(p *config.Params, la Lookahead) Export {
	return Export{
		Encoder: Encoder(p, la.Encoder, 1),
		Decoder: Decoder(p, la.Decoder),
		DFNet:   DFNet(p, la.DFNet, 2),
	}
}

// Write stores config.ini and export/*.yaml under dir.
func (e Export) Write(dir, cfg string) error {
	export := filepath.Join(dir, "export")
	if err := os.MkdirAll(export, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "config.ini"), []byte(cfg), 0o644); err != nil {
		return err
	}
	files := map[string]native.Graph{
		"enc.yaml":   e.Encoder,
		"dec.yaml":   e.Decoder,
		"dfnet.yaml": e.DFNet,
	}
	if e.DelaySpec != nil {
		files["dfop_delayspec.yaml"] = *e.DelaySpec
	}
	for name, g := range files {
		b, err := native.Marshal(g)
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(export, name), b, 0o644); err != nil {
			return err
		}
	}
	return nil
}
