package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	deepfilternet "github.com/gleb-shnshn/DeepFilterNet"
	"github.com/gleb-shnshn/DeepFilterNet/dfop"
	"github.com/gleb-shnshn/DeepFilterNet/log"
	"github.com/gleb-shnshn/DeepFilterNet/metric"
	"github.com/gleb-shnshn/DeepFilterNet/mp3"
	"github.com/gleb-shnshn/DeepFilterNet/signal"
	"github.com/gleb-shnshn/DeepFilterNet/wav"
)

const defaultInput = "noisy.wav"

type options struct {
	baseDir    string
	input      string
	output     string
	postFilter bool
	compensate bool
	blend      string
	workers    int
	metricsOut string
	logLevel   string
}

func read(path string) (signal.Float64, int, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		return mp3.ReadAll(path)
	case ".wav":
		return wav.ReadAll(path)
	}
	return nil, 0, fmt.Errorf("unsupported input format: %s", path)
}

func (o *options) run(ctx context.Context, stdout, stderr io.Writer) error {
	logger, err := log.WithLevel(o.logLevel)
	if err != nil {
		return err
	}
	logger.SetOutput(stderr)
	blend, err := dfop.ParseBlend(o.blend)
	if err != nil {
		return err
	}
	if o.input == "" {
		o.input = filepath.Join(o.baseDir, defaultInput)
	}
	in, sampleRate, err := read(o.input)
	if err != nil {
		return fmt.Errorf("read %s: %w", o.input, err)
	}

	p, err := deepfilternet.Open(o.baseDir, in.NumChannels(),
		deepfilternet.WithLogger(logger),
		deepfilternet.WithBlend(blend),
		deepfilternet.WithPostFilter(o.postFilter),
		deepfilternet.WithDelayCompensation(o.compensate),
		deepfilternet.WithWorkers(o.workers),
		deepfilternet.WithMetrics(o.metricsOut != ""),
	)
	if err != nil {
		return err
	}
	defer p.Close()
	audio := signal.DurationOf(sampleRate, int64(in.Size()))
	if sr := p.Params().SampleRate; sr != sampleRate {
		logger.WithFields(logrus.Fields{
			"input": sampleRate,
			"model": sr,
		}).Warn("input sample rate does not match model, resampling")
		if in, err = in.Resample(sampleRate, sr); err != nil {
			return err
		}
		sampleRate = sr
	}

	start := time.Now()
	out, err := p.Process(ctx, in)
	elapsed := time.Since(start)
	if out.Size() > 0 {
		if werr := write(o.output, sampleRate, out); werr != nil && err == nil {
			err = werr
		}
	}
	if err != nil {
		return err
	}

	var rtf float64
	if audio > 0 {
		rtf = elapsed.Seconds() / audio.Seconds()
	}
	fmt.Fprintf(stdout, "Enhanced %s in %v (audio %v, RT factor %.3f)\n",
		o.input, elapsed.Round(time.Millisecond), audio.Round(time.Millisecond), rtf)

	if o.metricsOut != "" {
		return metric.WriteTextfile(o.metricsOut)
	}
	return nil
}

func write(path string, sampleRate int, b signal.Float64) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return wav.WriteAll(path, sampleRate, signal.BitDepth16, b)
}
