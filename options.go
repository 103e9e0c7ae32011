package deepfilternet

import (
	"github.com/sirupsen/logrus"

	"github.com/gleb-shnshn/DeepFilterNet/dfop"
)

// Option configures the pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger. Default logger discards everything.
func WithLogger(l logrus.FieldLogger) Option {
	return func(p *Pipeline) {
		p.logger = l
	}
}

// WithBlend sets how alpha blends deep filtered and masked bins.
func WithBlend(b dfop.Blend) Option {
	return func(p *Pipeline) {
		p.op.Blend = b
	}
}

// WithPostFilter enables mask post-filter.
func WithPostFilter(enabled bool) Option {
	return func(p *Pipeline) {
		p.op.PostFilter = enabled
	}
}

// WithDelayCompensation makes Process return output aligned with input.
func WithDelayCompensation(enabled bool) Option {
	return func(p *Pipeline) {
		p.compensate = enabled
	}
}

// WithWorkers limits the number of channels processed in parallel. Zero
// or negative means no limit.
func WithWorkers(n int) Option {
	return func(p *Pipeline) {
		p.workers = n
	}
}

// WithMetrics enables per-stage metrics.
func WithMetrics(enabled bool) Option {
	return func(p *Pipeline) {
		p.metrics = enabled
	}
}
