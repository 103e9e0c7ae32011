package metric_test

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gleb-shnshn/DeepFilterNet/metric"
)

func TestMeter(t *testing.T) {
	sampleRate := 16000
	// test cases
	var tests = []struct {
		stage            string
		routines         int
		frames           int
		frameSize        int64
		expectedSamples  string
		expectedRuntimes string
	}{
		{
			stage:            "enc",
			routines:         2,
			frames:           10,
			frameSize:        100,
			expectedSamples:  "2000",
			expectedRuntimes: "2",
		},
		{
			stage:            "enc",
			routines:         2,
			frames:           10,
			frameSize:        100,
			expectedSamples:  "4000",
			expectedRuntimes: "4",
		},
	}
	// function to test meter.
	testFn := func(fn func(int64), wg *sync.WaitGroup, frames int, frameSize int64) {
		for i := 0; i < frames; i++ {
			fn(frameSize)
		}
		wg.Done()
	}

	for _, c := range tests {
		wg := &sync.WaitGroup{}
		wg.Add(c.routines)
		for i := 0; i < c.routines; i++ {
			go testFn(metric.Meter(c.stage, sampleRate)(), wg, c.frames, c.frameSize)
		}
		// check if no data race.
		wg.Wait()
		values := metric.Get(c.stage)
		assert.Equal(t, c.expectedSamples, values[metric.SampleCounter])
		assert.Equal(t, c.expectedRuntimes, values[metric.RuntimeCounter])
	}
	assert.Contains(t, metric.GetAll(), "enc")
}

func TestCollector(t *testing.T) {
	measure := metric.Meter("dec", 16000)()
	measure(32)

	// five series per stage
	assert.GreaterOrEqual(t, testutil.CollectAndCount(metric.Collector{}), 5)
	assert.GreaterOrEqual(t, testutil.CollectAndCount(metric.Collector{}, "dfstream_stage_frames_total"), 1)

	path := filepath.Join(t.TempDir(), "metrics.prom")
	require.NoError(t, metric.WriteTextfile(path))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(b), `dfstream_stage_frames_total{stage="dec"} 1`))
}
