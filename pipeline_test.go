package deepfilternet_test

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	deepfilternet "github.com/gleb-shnshn/DeepFilterNet"
	"github.com/gleb-shnshn/DeepFilterNet/config"
	"github.com/gleb-shnshn/DeepFilterNet/dfop"
	"github.com/gleb-shnshn/DeepFilterNet/graph"
	_ "github.com/gleb-shnshn/DeepFilterNet/graph/native"
	"github.com/gleb-shnshn/DeepFilterNet/metric"
	"github.com/gleb-shnshn/DeepFilterNet/mock"
	"github.com/gleb-shnshn/DeepFilterNet/signal"
)

const frames = 120

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// export writes a mock model directory. Negative delaySpec skips the
// spectrum delay operator.
func export(t *testing.T, la mock.Lookahead, delaySpec int) string {
	t.Helper()
	dir := t.TempDir()
	p := mock.Params()
	e := mock.NewExport(p, la)
	if delaySpec >= 0 {
		g := mock.DelaySpec(p, delaySpec)
		e.DelaySpec = &g
	}
	require.NoError(t, e.Write(dir, mock.Config))
	return dir
}

func open(t *testing.T, dir string, channels int, options ...deepfilternet.Option) *deepfilternet.Pipeline {
	t.Helper()
	p, err := deepfilternet.Open(dir, channels, options...)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, p.Close()) })
	return p
}

func TestEnhance(t *testing.T) {
	params := mock.Params()
	n := frames * params.HopSize
	tone := mock.Tone(params.SampleRate, 100, 0.5, n)
	tests := []struct {
		name      string
		lookahead mock.Lookahead
		delaySpec int
		blend     dfop.Blend
		delay     int
	}{
		{
			name:      "stateless decoder",
			lookahead: mock.Lookahead{Encoder: 1, DFNet: 2},
			delaySpec: -1,
			delay:     3,
		},
		{
			name:      "streaming decoder",
			lookahead: mock.Lookahead{Decoder: 1},
			delaySpec: -1,
			blend:     dfop.BlendLinear,
			delay:     1,
		},
		{
			name:      "spectrum delay operator",
			lookahead: mock.Lookahead{Encoder: 1, Decoder: 2, DFNet: 1},
			delaySpec: 2,
			delay:     3,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			p := open(t, export(t, test.lookahead, test.delaySpec), 2, deepfilternet.WithBlend(test.blend))
			assert.Equal(t, deepfilternet.Ready, p.State())
			assert.Equal(t, test.delay, p.Delay())
			sd := p.SampleDelay()
			assert.Equal(t, test.delay*params.HopSize+params.FFTSize-params.HopSize, sd)

			out, err := p.Process(context.Background(), signal.Float64FromChannels(mock.Silence(n), tone))
			require.NoError(t, err)
			assert.Equal(t, deepfilternet.Finished, p.State())
			require.Equal(t, 2, out.NumChannels())
			require.Equal(t, n, out.Size())

			for _, v := range out[0] {
				assert.Zero(t, v)
			}
			enhanced := out.Channel(1)
			assert.Equal(t, sd, mock.Lag(tone, enhanced, sd+60))
			for i := 0; i+sd < n; i++ {
				assert.InDelta(t, tone[i], enhanced[i+sd], 1e-4, "sample %d", i)
			}
		})
	}
}

func TestWarmUpIsSilent(t *testing.T) {
	params := mock.Params()
	p := open(t, export(t, mock.Lookahead{Encoder: 2, DFNet: 1}, -1), 1)
	out, err := p.Process(context.Background(), signal.Float64FromChannels(mock.Noise(1, 0.5, frames*params.HopSize)))
	require.NoError(t, err)
	for i := 0; i < p.Delay()*params.HopSize; i++ {
		assert.Zero(t, out[0][i], "sample %d", i)
	}
}

func TestChannelIndependence(t *testing.T) {
	params := mock.Params()
	n := frames*params.HopSize + 7
	a := mock.Noise(1, 0.3, n)
	b := mock.Noise(2, 0.3, n)
	dir := export(t, mock.Lookahead{Encoder: 1, DFNet: 1}, -1)

	both, err := open(t, dir, 2, deepfilternet.WithWorkers(1)).Process(context.Background(), signal.Float64FromChannels(a, b))
	require.NoError(t, err)
	single, err := open(t, dir, 1).Process(context.Background(), signal.Float64FromChannels(b))
	require.NoError(t, err)
	assert.Equal(t, single[0], both[1])
	// trailing partial frame is dropped
	assert.Equal(t, frames*params.HopSize, single.Size())
}

func TestDelayCompensation(t *testing.T) {
	params := mock.Params()
	for _, n := range []int{frames * params.HopSize, frames*params.HopSize + 7, params.HopSize - 1} {
		t.Run(strconv.Itoa(n), func(t *testing.T) {
			in := mock.Noise(3, 0.5, n)
			p := open(t, export(t, mock.Lookahead{Encoder: 1, DFNet: 1}, -1), 1,
				deepfilternet.WithDelayCompensation(true),
				deepfilternet.WithPostFilter(true),
			)
			out, err := p.Process(context.Background(), signal.Float64FromChannels(in))
			require.NoError(t, err)
			require.Equal(t, n, out.Size())
			enhanced := out.Channel(0)
			for i := range in {
				assert.InDelta(t, in[i], enhanced[i], 1e-4, "sample %d", i)
			}
		})
	}
}

func TestReset(t *testing.T) {
	params := mock.Params()
	in := signal.Float64FromChannels(mock.Noise(5, 0.5, 20*params.HopSize), mock.Noise(6, 0.5, 20*params.HopSize))
	p := open(t, export(t, mock.Lookahead{Encoder: 1, Decoder: 1, DFNet: 2}, 1), 2)

	first, err := p.Process(context.Background(), in)
	require.NoError(t, err)
	require.NoError(t, p.Reset())
	assert.Equal(t, deepfilternet.Ready, p.State())
	second, err := p.Process(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// a failed pipeline can be reset too
	require.NoError(t, p.Reset())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Process(ctx, in)
	require.Error(t, err)
	assert.Equal(t, deepfilternet.Failed, p.State())
	require.NoError(t, p.Reset())
	third, err := p.Process(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, first, third)
}

func TestLsnrStatistics(t *testing.T) {
	params := mock.Params()
	dir := export(t, mock.Lookahead{Encoder: 2, DFNet: 1}, -1)
	tests := []struct {
		name   string
		frames int
		want   bool
	}{
		{name: "encoder warm-up only", frames: 2},
		{name: "past encoder warm-up", frames: 3, want: true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			logger, hook := logtest.NewNullLogger()
			logger.SetLevel(logrus.DebugLevel)
			p := open(t, dir, 1, deepfilternet.WithLogger(logger))
			_, err := p.Process(context.Background(), signal.Float64FromChannels(mock.Noise(7, 0.5, test.frames*params.HopSize)))
			require.NoError(t, err)

			var done *logrus.Entry
			for _, e := range hook.AllEntries() {
				if e.Message == "channel done" {
					done = e
				}
			}
			require.NotNil(t, done)
			assert.Equal(t, test.frames, done.Data["frames"])
			_, ok := done.Data["lsnr_mean"]
			assert.Equal(t, test.want, ok)
		})
	}
}

func TestInvalidState(t *testing.T) {
	params := mock.Params()
	p := open(t, export(t, mock.Lookahead{}, -1), 1)
	in := signal.Float64FromChannels(mock.Noise(4, 0.1, 10*params.HopSize))

	_, err := p.Process(context.Background(), signal.Float64FromChannels(mock.Silence(10), mock.Silence(10)))
	assert.ErrorIs(t, err, deepfilternet.ErrInvalidState)
	assert.Equal(t, deepfilternet.Ready, p.State())

	_, err = p.Process(context.Background(), in)
	require.NoError(t, err)
	_, err = p.Process(context.Background(), in)
	assert.ErrorIs(t, err, deepfilternet.ErrInvalidState)
	assert.Equal(t, deepfilternet.Finished, p.State())
}

func TestCanceled(t *testing.T) {
	params := mock.Params()
	p := open(t, export(t, mock.Lookahead{}, -1), 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := p.Process(ctx, signal.Float64FromChannels(mock.Silence(params.HopSize), mock.Silence(params.HopSize)))
	assert.ErrorIs(t, err, context.Canceled)
	var serr deepfilternet.StreamError
	require.ErrorAs(t, err, &serr)
	assert.Len(t, serr, 2)
	var cerr *deepfilternet.ChannelError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, 0, cerr.Frame)
	assert.Equal(t, deepfilternet.Failed, p.State())
	assert.Equal(t, 2, out.NumChannels())
	assert.Equal(t, 0, out.Size())
}

func TestMetrics(t *testing.T) {
	params := mock.Params()
	p := open(t, export(t, mock.Lookahead{}, -1), 1, deepfilternet.WithMetrics(true))
	_, err := p.Process(context.Background(), signal.Float64FromChannels(mock.Silence(5*params.HopSize)))
	require.NoError(t, err)
	for _, name := range []string{"enc", "dec", "dfnet", "dfop"} {
		m := metric.Get(name)
		assert.NotEmpty(t, m[metric.FrameCounter], name)
		assert.NotEqual(t, "0", m[metric.FrameCounter], name)
	}
}

func TestOpenErrors(t *testing.T) {
	t.Run("missing base dir", func(t *testing.T) {
		_, err := deepfilternet.Open(filepath.Join(t.TempDir(), "none"), 1)
		var aerr *deepfilternet.ArtifactNotFoundError
		assert.ErrorAs(t, err, &aerr)
	})
	t.Run("missing config", func(t *testing.T) {
		dir := export(t, mock.Lookahead{}, -1)
		require.NoError(t, os.Remove(filepath.Join(dir, deepfilternet.ConfigFile)))
		_, err := deepfilternet.Open(dir, 1)
		var aerr *deepfilternet.ArtifactNotFoundError
		require.ErrorAs(t, err, &aerr)
		assert.Equal(t, filepath.Join(dir, deepfilternet.ConfigFile), aerr.Path)
	})
	t.Run("missing decoder", func(t *testing.T) {
		dir := export(t, mock.Lookahead{}, -1)
		require.NoError(t, os.Remove(filepath.Join(dir, deepfilternet.ExportDir, "dec.yaml")))
		_, err := deepfilternet.Open(dir, 1)
		var aerr *deepfilternet.ArtifactNotFoundError
		assert.ErrorAs(t, err, &aerr)
	})
	t.Run("missing fft_size", func(t *testing.T) {
		dir := export(t, mock.Lookahead{}, -1)
		cfg := strings.Replace(mock.Config, "fft_size = 64\n", "", 1)
		require.NoError(t, os.WriteFile(filepath.Join(dir, deepfilternet.ConfigFile), []byte(cfg), 0o644))
		p, err := deepfilternet.Open(dir, 1)
		assert.Nil(t, p)
		var cerr *config.Error
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, "fft_size", cerr.Key)
		assert.ErrorIs(t, err, config.ErrMissing)
	})
	t.Run("delay operator too slow", func(t *testing.T) {
		_, err := deepfilternet.Open(export(t, mock.Lookahead{Encoder: 1}, 3), 1)
		assert.ErrorIs(t, err, graph.ErrStreamConversion)
	})
	t.Run("no channels", func(t *testing.T) {
		_, err := deepfilternet.Open(export(t, mock.Lookahead{}, -1), 0)
		assert.ErrorIs(t, err, deepfilternet.ErrInvalidState)
	})
}
