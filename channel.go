package deepfilternet

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/gleb-shnshn/DeepFilterNet/dfop"
	"github.com/gleb-shnshn/DeepFilterNet/dfstate"
	"github.com/gleb-shnshn/DeepFilterNet/internal/delay"
	"github.com/gleb-shnshn/DeepFilterNet/metric"
	"github.com/gleb-shnshn/DeepFilterNet/signal"
	"github.com/gleb-shnshn/DeepFilterNet/stage"
	"github.com/gleb-shnshn/DeepFilterNet/tensor"
)

// dfOutput is a deep filter prediction for one frame.
type dfOutput struct {
	coefs []float32
	alpha float32
}

// channel owns all mutable state of one audio channel. It is never shared
// between goroutines.
type channel struct {
	p      *Pipeline
	index  int
	logger logrus.FieldLogger

	state *dfstate.State
	buf   *dfop.SpectralBuffer

	enc, dec, df, delaySpec *stage.Runtime

	masks *delay.Line[[]float32]
	coefs *delay.Line[dfOutput]
	specs *delay.Line[[]complex64]

	meters map[string]metric.ResetFunc
	// frames is the number of frames processed.
	frames int

	// lsnr statistics over frames past the encoder warm-up.
	lsnr, lsnrSum float32
	lsnrFrames    int
}

func (p *Pipeline) newChannel(index int) (*channel, error) {
	st, err := dfstate.New(p.params)
	if err != nil {
		return nil, err
	}
	c := &channel{
		p:      p,
		index:  index,
		logger: p.logger.WithField("channel", index),
		state:  st,
		buf:    dfop.NewSpectralBuffer(p.params.DFOrder, p.params.NbDF),
		masks:  delay.Floats(p.maskLag, p.params.NbErb),
		coefs: delay.New(p.coefLag, func() dfOutput {
			return dfOutput{coefs: make([]float32, p.params.DFOrder*p.params.NbDF*2)}
		}),
		specs: delay.New(p.specLag, func() []complex64 {
			return make([]complex64, p.params.FreqSize())
		}),
	}
	if err := c.open(); err != nil {
		_ = c.close()
		return nil, err
	}
	if p.metrics {
		c.meters = make(map[string]metric.ResetFunc)
		for _, r := range c.runtimes() {
			if r.compiled != nil {
				c.meters[r.compiled.Name()] = metric.Meter(r.compiled.Name(), p.params.SampleRate)
			}
		}
		c.meters[nameDFOp] = metric.Meter(nameDFOp, p.params.SampleRate)
	}
	return c, nil
}

type runtimeSlot struct {
	compiled *stage.Compiled
	runtime  **stage.Runtime
}

func (c *channel) runtimes() []runtimeSlot {
	return []runtimeSlot{
		{c.p.enc, &c.enc},
		{c.p.dec, &c.dec},
		{c.p.df, &c.df},
		{c.p.delaySpec, &c.delaySpec},
	}
}

// open creates a runtime with fresh state for every compiled stage.
func (c *channel) open() error {
	for _, r := range c.runtimes() {
		if r.compiled == nil {
			continue
		}
		var err error
		if *r.runtime, err = r.compiled.NewRuntime(); err != nil {
			return err
		}
	}
	return nil
}

// reset returns the channel to the state it had after creation.
func (c *channel) reset() error {
	if err := c.close(); err != nil {
		return err
	}
	c.enc, c.dec, c.df, c.delaySpec = nil, nil, nil, nil
	if err := c.open(); err != nil {
		return err
	}
	c.state.Reset()
	c.buf.Reset()
	c.masks.Reset()
	c.coefs.Reset()
	c.specs.Reset()
	c.frames, c.lsnrFrames = 0, 0
	c.lsnr, c.lsnrSum = 0, 0
	return nil
}

// run processes samples frame by frame. A trailing frame shorter than hop
// ends the channel.
func (c *channel) run(ctx context.Context, samples []float32) ([]float32, error) {
	hop := c.state.HopSize()
	measures := make(map[string]metric.MeasureFunc, len(c.meters))
	for name, reset := range c.meters {
		measures[name] = reset()
	}
	out := make([]float32, 0, len(samples)-len(samples)%hop)
	for i := 0; i+hop <= len(samples); i += hop {
		if err := ctx.Err(); err != nil {
			return out, &ChannelError{Channel: c.index, Frame: c.frames, Err: err}
		}
		frame, err := c.process(samples[i:i+hop], measures)
		if err != nil {
			return out, &ChannelError{Channel: c.index, Frame: c.frames, Err: err}
		}
		out = append(out, frame...)
	}
	fields := logrus.Fields{"frames": c.frames, "dropped": len(samples) % hop}
	if c.lsnrFrames > 0 {
		fields["lsnr_last"] = c.lsnr
		fields["lsnr_mean"] = c.lsnrSum / float32(c.lsnrFrames)
	}
	c.logger.WithFields(fields).Debug("channel done")
	return out, nil
}

// process enhances a single frame of hop samples.
func (c *channel) process(samples []float32, measures map[string]metric.MeasureFunc) ([]float32, error) {
	spec, err := c.state.Analysis(samples)
	if err != nil {
		return nil, err
	}
	p := c.p.params
	erb := c.state.ErbFeat(spec)
	cplx := c.state.CplxFeat(spec)
	featSpec := make([]float32, 2*p.NbDF)
	for i, v := range cplx {
		featSpec[i] = real(v)
		featSpec[p.NbDF+i] = imag(v)
	}
	featErbT, err := tensor.New([]int{1, 1, 1, p.NbErb}, erb)
	if err != nil {
		return nil, err
	}
	featSpecT, err := tensor.New([]int{1, 2, 1, p.NbDF}, featSpec)
	if err != nil {
		return nil, err
	}

	enc, err := c.step(c.enc, measures, map[string]*tensor.Tensor{
		stage.PortFeatErb:  featErbT,
		stage.PortFeatSpec: featSpecT,
	})
	if err != nil {
		return nil, err
	}
	dec, err := c.step(c.dec, measures, map[string]*tensor.Tensor{
		stage.PortEmb: enc[stage.PortEmb],
		stage.PortE3:  enc[stage.PortE3],
		stage.PortE2:  enc[stage.PortE2],
		stage.PortE1:  enc[stage.PortE1],
		stage.PortE0:  enc[stage.PortE0],
	})
	if err != nil {
		return nil, err
	}
	df, err := c.step(c.df, measures, map[string]*tensor.Tensor{
		stage.PortEmb: enc[stage.PortEmb],
		stage.PortC0:  enc[stage.PortC0],
	})
	if err != nil {
		return nil, err
	}
	if c.enc.Valid() {
		c.lsnr = enc[stage.PortLsnr].Data()[0]
		c.lsnrSum += c.lsnr
		c.lsnrFrames++
	}

	mask := c.masks.Push(copyData(dec[stage.PortMask]))
	pred := c.coefs.Push(dfOutput{
		coefs: copyData(df[stage.PortCoefs]),
		alpha: df[stage.PortAlpha].Data()[0],
	})
	delayed, err := c.delaySpectrum(spec, measures)
	if err != nil {
		return nil, err
	}

	c.frames++
	enhanced := make([]complex64, len(spec))
	if c.frames <= c.p.delay {
		// warm-up: stage outputs do not describe any input frame yet
		c.buf.Push(delayed)
	} else if enhanced, err = c.p.op.Apply(c.buf, delayed, mask, pred.coefs, pred.alpha); err != nil {
		return nil, err
	}
	if m, ok := measures[nameDFOp]; ok {
		m(int64(p.HopSize))
	}
	return c.state.Synthesis(enhanced)
}

// nameDFOp is the metric name of deep filtering.
const nameDFOp = "dfop"

func (c *channel) step(r *stage.Runtime, measures map[string]metric.MeasureFunc, in map[string]*tensor.Tensor) (map[string]*tensor.Tensor, error) {
	out, err := r.Step(in)
	if err != nil {
		return nil, err
	}
	if m, ok := measures[r.Name()]; ok {
		m(int64(c.p.params.HopSize))
	}
	return out, nil
}

// delaySpectrum delays spec by the pipeline delay, first with the delay
// operator if present.
func (c *channel) delaySpectrum(spec []complex64, measures map[string]metric.MeasureFunc) ([]complex64, error) {
	if c.delaySpec != nil {
		t, err := tensor.New([]int{1, len(spec), 2}, signal.AsReal(spec))
		if err != nil {
			return nil, err
		}
		out, err := c.step(c.delaySpec, measures, map[string]*tensor.Tensor{stage.PortSpec: t})
		if err != nil {
			return nil, err
		}
		if spec, err = signal.AsComplex(out[stage.PortSpecD].Data()); err != nil {
			return nil, fmt.Errorf("stage %s: %w", stage.NameDelaySpec, err)
		}
	}
	return c.specs.Push(spec), nil
}

func copyData(t *tensor.Tensor) []float32 {
	return append([]float32(nil), t.Data()...)
}

func (c *channel) close() error {
	var errs []error
	for _, r := range []*stage.Runtime{c.enc, c.dec, c.df, c.delaySpec} {
		if r != nil {
			errs = append(errs, r.Close())
		}
	}
	return errors.Join(errs...)
}
