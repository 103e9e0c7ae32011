// Package metric captures per-stage counters of processed frames. Counters
// are published with expvar and exported to Prometheus with Collector.
package metric

import (
	"expvar"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gleb-shnshn/DeepFilterNet/signal"
)

const stagesLabel = "dfstream.stages"

const (
	// FrameCounter measures number of frames.
	FrameCounter = "Frames"
	// SampleCounter measures number of samples.
	SampleCounter = "Samples"
	// LatencyCounter measures latency between processing calls.
	LatencyCounter = "Latency"
	// DurationCounter counts what's the duration of signal.
	DurationCounter = "Duration"
	// RuntimeCounter counts number of runtimes.
	RuntimeCounter = "Runtimes"
)

var (
	stages = metrics{
		m: make(map[string]metric),
	}

	counters = []string{
		FrameCounter,
		SampleCounter,
		LatencyCounter,
		DurationCounter,
		RuntimeCounter,
	}
)

// Get metrics values for provided stage.
func Get(stage string) map[string]string {
	m := make(map[string]string)
	for _, counter := range counters {
		v := expvar.Get(key(stage, counter))
		if v != nil {
			m[counter] = v.String()
		}
	}
	return m
}

// GetAll returns counters for all measured stages.
func GetAll() map[string]map[string]string {
	m := make(map[string]map[string]string)
	for _, stage := range stages.names() {
		m[stage] = Get(stage)
	}
	return m
}

// ResetFunc returns new Measure closure. This closure is needed to postpone metrics
// capture until runtime is actually running.
type ResetFunc func() MeasureFunc

// MeasureFunc captures metrics when frame is processed.
type MeasureFunc func(frameSize int64)

// Meter creates new meter closure to capture stage counters. Every call
// counts one more runtime of the stage.
func Meter(stage string, sampleRate int) ResetFunc {
	metric := stages.get(stage)
	metric.runtimes.Add(1)
	return func() MeasureFunc {
		calledAt := time.Now()
		var (
			frameSize     int64
			frameDuration time.Duration
		)
		return func(s int64) {
			metric.latency.set(time.Since(calledAt))
			metric.frames.Add(1)
			metric.samples.Add(s)
			// recalculate frame duration only when frame size has changed
			if frameSize != s {
				frameSize = s
				frameDuration = signal.DurationOf(sampleRate, s)
			}
			metric.duration.add(frameDuration)
			calledAt = time.Now()
		}
	}
}

type metrics struct {
	sync.Mutex
	m map[string]metric
}

func (m *metrics) get(stage string) metric {
	m.Lock()
	defer m.Unlock()
	if metric, ok := m.m[stage]; ok {
		// return existing metric if available
		return metric
	}
	// create new metric
	metric := newMetric(stage)
	m.m[stage] = metric
	return metric
}

func (m *metrics) names() []string {
	m.Lock()
	defer m.Unlock()
	names := make([]string, 0, len(m.m))
	for name := range m.m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *metrics) snapshot() []metric {
	m.Lock()
	defer m.Unlock()
	out := make([]metric, 0, len(m.m))
	for _, v := range m.m {
		out = append(out, v)
	}
	return out
}

type metric struct {
	stage    string
	runtimes *expvar.Int
	frames   *expvar.Int
	samples  *expvar.Int
	latency  *duration
	duration *duration
}

func newMetric(stage string) metric {
	m := metric{
		stage:    stage,
		runtimes: expvar.NewInt(key(stage, RuntimeCounter)),
		frames:   expvar.NewInt(key(stage, FrameCounter)),
		samples:  expvar.NewInt(key(stage, SampleCounter)),
		latency:  &duration{},
		duration: &duration{},
	}
	expvar.Publish(key(stage, LatencyCounter), m.latency)
	expvar.Publish(key(stage, DurationCounter), m.duration)
	return m
}

func key(stage, counter string) string {
	return fmt.Sprintf("%s.%s.%s", stagesLabel, stage, counter)
}

// duration allows to format time.Duration metric values.
type duration struct {
	d int64
}

func (v *duration) String() string {
	return fmt.Sprintf("%v", time.Duration(atomic.LoadInt64(&v.d)))
}

func (v *duration) add(delta time.Duration) {
	atomic.AddInt64(&v.d, int64(delta))
}

func (v *duration) set(value time.Duration) {
	atomic.StoreInt64(&v.d, int64(value))
}

func (v *duration) seconds() float64 {
	return time.Duration(atomic.LoadInt64(&v.d)).Seconds()
}

var (
	framesDesc = prometheus.NewDesc("dfstream_stage_frames_total",
		"Frames processed by stage.", []string{"stage"}, nil)
	samplesDesc = prometheus.NewDesc("dfstream_stage_samples_total",
		"Samples processed by stage.", []string{"stage"}, nil)
	runtimesDesc = prometheus.NewDesc("dfstream_stage_runtimes",
		"Runtimes created for stage.", []string{"stage"}, nil)
	latencyDesc = prometheus.NewDesc("dfstream_stage_latency_seconds",
		"Last interval between stage calls.", []string{"stage"}, nil)
	durationDesc = prometheus.NewDesc("dfstream_stage_signal_seconds_total",
		"Duration of signal processed by stage.", []string{"stage"}, nil)
)

// Collector exports stage counters to Prometheus.
type Collector struct{}

var _ prometheus.Collector = Collector{}

// Describe implements prometheus.Collector.
func (Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{framesDesc, samplesDesc, runtimesDesc, latencyDesc, durationDesc} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (Collector) Collect(ch chan<- prometheus.Metric) {
	for _, m := range stages.snapshot() {
		ch <- prometheus.MustNewConstMetric(framesDesc, prometheus.CounterValue, intValue(m.frames), m.stage)
		ch <- prometheus.MustNewConstMetric(samplesDesc, prometheus.CounterValue, intValue(m.samples), m.stage)
		ch <- prometheus.MustNewConstMetric(runtimesDesc, prometheus.GaugeValue, intValue(m.runtimes), m.stage)
		ch <- prometheus.MustNewConstMetric(latencyDesc, prometheus.GaugeValue, m.latency.seconds(), m.stage)
		ch <- prometheus.MustNewConstMetric(durationDesc, prometheus.CounterValue, m.duration.seconds(), m.stage)
	}
}

func intValue(v *expvar.Int) float64 {
	return float64(v.Value())
}

// WriteTextfile writes all stage metrics to path in Prometheus text format.
func WriteTextfile(path string) error {
	reg := prometheus.NewRegistry()
	if err := reg.Register(Collector{}); err != nil {
		return err
	}
	return prometheus.WriteToTextfile(path, reg)
}
