package deepfilternet

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/gleb-shnshn/DeepFilterNet/config"
	"github.com/gleb-shnshn/DeepFilterNet/dfop"
	"github.com/gleb-shnshn/DeepFilterNet/dfstate"
	"github.com/gleb-shnshn/DeepFilterNet/graph"
	"github.com/gleb-shnshn/DeepFilterNet/log"
	"github.com/gleb-shnshn/DeepFilterNet/signal"
	"github.com/gleb-shnshn/DeepFilterNet/stage"
)

// Pipeline enhances a fixed number of channels. Process can be called
// once per Reset.
type Pipeline struct {
	mu    sync.Mutex
	state State
	id    xid.ID

	params   *config.Params
	logger   logrus.FieldLogger
	op       dfop.Operator
	channels []*channel

	compensate bool
	workers    int
	metrics    bool

	enc, dec, df, delaySpec *stage.Compiled
	// delay is the aggregate delay in frames.
	delay int
	// lengths of mask, coefficient and spectrum delay lines.
	maskLag, coefLag, specLag int
}

// New builds stages from models and creates state for every channel.
func New(params *config.Params, models Models, channels int, options ...Option) (*Pipeline, error) {
	if channels < 1 {
		return nil, fmt.Errorf("%w: %d channels", ErrInvalidState, channels)
	}
	erb, err := dfstate.ErbWidths(params.SampleRate, params.FFTSize, params.NbErb, params.MinNbErbFreqs)
	if err != nil {
		return nil, &config.Error{Section: config.SectionDF, Key: "nb_erb", Err: err}
	}
	p := &Pipeline{
		id:     xid.New(),
		params: params,
		logger: log.Discard(),
		op: dfop.Operator{
			Order: params.DFOrder,
			NbDF:  params.NbDF,
			Erb:   erb,
		},
	}
	for _, option := range options {
		option(p)
	}
	p.logger = p.logger.WithField("stream", p.id.String())

	if err := p.build(models); err != nil {
		return nil, err
	}
	for i := 0; i < channels; i++ {
		c, err := p.newChannel(i)
		if err != nil {
			_ = p.close()
			return nil, err
		}
		p.channels = append(p.channels, c)
	}
	p.state = Ready
	p.logger.WithFields(logrus.Fields{
		"channels":     channels,
		"delay":        p.delay,
		"sample_delay": p.SampleDelay(),
		"blend":        p.op.Blend,
		"post_filter":  p.op.PostFilter,
	}).Info("pipeline ready")
	return p, nil
}

// build compiles stages and reconciles their delays.
func (p *Pipeline) build(models Models) error {
	var err error
	required := []struct {
		name  string
		model graph.Model
	}{
		{stage.NameEncoder, models.Encoder},
		{stage.NameDecoder, models.Decoder},
		{stage.NameDFNet, models.DFNet},
	}
	for _, r := range required {
		if r.model == nil {
			return &ArtifactNotFoundError{Path: r.name}
		}
	}
	if p.enc, err = stage.Build(models.Encoder, stage.Encoder(), p.params, p.logger); err != nil {
		return err
	}
	if p.dec, err = stage.Build(models.Decoder, stage.Decoder(), p.params, p.logger); err != nil {
		return err
	}
	if p.df, err = stage.Build(models.DFNet, stage.DFNet(), p.params, p.logger); err != nil {
		return err
	}
	slowest := max(p.dec.Delay(), p.df.Delay())
	p.delay = p.enc.Delay() + slowest
	p.maskLag = slowest - p.dec.Delay()
	p.coefLag = slowest - p.df.Delay()
	p.specLag = p.delay

	if models.DelaySpec != nil {
		if p.delaySpec, err = stage.Build(models.DelaySpec, stage.DelaySpec(), p.params, p.logger); err != nil {
			return err
		}
		if p.delaySpec.Delay() > p.delay {
			return fmt.Errorf("stage %s: %w: delay %d exceeds pipeline delay %d",
				stage.NameDelaySpec, graph.ErrStreamConversion, p.delaySpec.Delay(), p.delay)
		}
		p.specLag -= p.delaySpec.Delay()
	}
	return nil
}

// Delay returns the number of frames output lags input.
func (p *Pipeline) Delay() int {
	return p.delay
}

// SampleDelay returns the number of samples output lags input.
func (p *Pipeline) SampleDelay() int {
	return p.delay*p.params.HopSize + p.params.FFTSize - p.params.HopSize
}

// Params returns the configuration of the pipeline.
func (p *Pipeline) Params() *config.Params {
	return p.params
}

// Process enhances all channels of in. Channels are processed in parallel.
// A trailing partial frame is dropped. When some channels fail, output
// produced so far is returned along with StreamError.
func (p *Pipeline) Process(ctx context.Context, in signal.Float64) (signal.Float64, error) {
	if in.NumChannels() != len(p.channels) {
		return nil, fmt.Errorf("%w: %d channels, pipeline has %d", ErrInvalidState, in.NumChannels(), len(p.channels))
	}
	if err := p.transition(Ready, Streaming); err != nil {
		return nil, err
	}
	n := in.Size()
	if p.compensate {
		// the last partial frame is completed so no input sample is dropped
		hop := p.params.HopSize
		sd := p.SampleDelay()
		in = in.Pad(sd + (hop-(n+sd)%hop)%hop)
	}

	var (
		g    errgroup.Group
		out  = make([][]float32, len(p.channels))
		errs = make([]*ChannelError, len(p.channels))
	)
	if p.workers > 0 {
		g.SetLimit(p.workers)
	}
	for i, c := range p.channels {
		i, c := i, c
		samples := in.Channel(i)
		g.Go(func() error {
			var err error
			out[i], err = c.run(ctx, samples)
			if err != nil {
				var ce *ChannelError
				if !errors.As(err, &ce) {
					ce = &ChannelError{Channel: c.index, Frame: c.frames, Err: err}
				}
				errs[i] = ce
			}
			return nil
		})
	}
	_ = g.Wait()

	if p.compensate {
		sd := p.SampleDelay()
		for i, o := range out {
			out[i] = o[min(sd, len(o)):min(sd+n, len(o))]
		}
	}

	var failed StreamError
	for _, ce := range errs {
		if ce != nil {
			failed = append(failed, ce)
		}
	}
	if err := failed.ret(); err != nil {
		_ = p.transition(Streaming, Failed)
		p.logger.WithError(err).Error("stream failed")
		return signal.Float64FromChannels(out...), err
	}
	_ = p.transition(Streaming, Finished)
	return signal.Float64FromChannels(out...), nil
}

// Reset discards the state of all channels and makes the pipeline Ready
// for another Process. It fails while streaming.
func (p *Pipeline) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == Streaming || p.state == Uninitialized {
		return fmt.Errorf("%w: cannot reset %v pipeline", ErrInvalidState, p.state)
	}
	for _, c := range p.channels {
		if err := c.reset(); err != nil {
			p.state = Failed
			return &ChannelError{Channel: c.index, Frame: c.frames, Err: err}
		}
	}
	p.state = Ready
	p.logger.Debug("pipeline reset")
	return nil
}

// Close releases stage runtimes of all channels.
func (p *Pipeline) Close() error {
	return p.close()
}

func (p *Pipeline) close() error {
	var errs []error
	for _, c := range p.channels {
		errs = append(errs, c.close())
	}
	return errors.Join(errs...)
}
