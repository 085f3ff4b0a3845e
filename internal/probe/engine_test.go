package probe

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/NodePath81/fbspeed/internal/metrics"
	"github.com/NodePath81/fbspeed/internal/result"
	"github.com/NodePath81/fbspeed/internal/sampler"
	"github.com/NodePath81/fbspeed/internal/util"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type exchangeCall struct {
	direction sampler.Direction
	bytes     int64
}

// scriptedExchanger answers each call through fn, indexed per stage kind.
type scriptedExchanger struct {
	calls []exchangeCall
	fn    func(n int, call exchangeCall) (sampler.PhaseSet, error)
}

func (s *scriptedExchanger) MeasureExchange(ctx context.Context, addr string, direction sampler.Direction, bytes int64) (sampler.PhaseSet, error) {
	call := exchangeCall{direction: direction, bytes: bytes}
	n := len(s.calls)
	s.calls = append(s.calls, call)
	if err := ctx.Err(); err != nil {
		return sampler.PhaseSet{}, err
	}
	return s.fn(n, call)
}

var base = time.Unix(1_700_000_000, 0)

func latencyPhases(ttfbMs, serverMs float64) sampler.PhaseSet {
	p := sampler.PhaseSet{
		Start:     base,
		FirstByte: base.Add(time.Duration(ttfbMs * float64(time.Millisecond))),
	}
	p.End = p.FirstByte.Add(time.Millisecond)
	if serverMs > 0 {
		p.ServerTiming = time.Duration(serverMs * float64(time.Millisecond))
		p.HasServerTiming = true
	}
	return p
}

func transferPhases(transferMs float64) sampler.PhaseSet {
	first := base.Add(10 * time.Millisecond)
	return sampler.PhaseSet{
		Start:     base,
		FirstByte: first,
		End:       first.Add(time.Duration(transferMs * float64(time.Millisecond))),
	}
}

func uploadPhases(serverMs float64) sampler.PhaseSet {
	p := transferPhases(serverMs * 2)
	p.ServerTiming = time.Duration(serverMs * float64(time.Millisecond))
	p.HasServerTiming = true
	return p
}

func newTestEngine(cfg Config, ex Exchanger, m *metrics.Metrics) *Engine {
	return NewEngine(cfg, ex, m, util.DiscardLogger())
}

var target = result.Target{Interface: "eth0", Address: "192.0.2.10"}

func TestLatencyStageIgnoresFailures(t *testing.T) {
	latencies := make([]float64, 0, 15)
	ex := &scriptedExchanger{fn: func(n int, call exchangeCall) (sampler.PhaseSet, error) {
		if n < DefaultLatencySamples {
			if n%4 == 0 {
				return sampler.PhaseSet{}, fmt.Errorf("%w: dial tcp: connection refused", sampler.ErrExchange)
			}
			ms := float64(10 + n)
			latencies = append(latencies, ms-1)
			return latencyPhases(ms, 1), nil
		}
		if call.direction == sampler.DirectionUpload {
			return uploadPhases(100), nil
		}
		return transferPhases(100), nil
	}}
	m := metrics.NewMetrics()
	eng := newTestEngine(Config{
		DownloadPlan: []Stage{{Bytes: 1_000_000, Count: 2}},
		UploadPlan:   []Stage{{Bytes: 1_000_000, Count: 2}},
	}, ex, m)

	res := eng.Run(context.Background(), target)
	require.False(t, res.Failed(), res.Error)
	require.Len(t, latencies, 15)

	sort.Float64s(latencies)
	want := int(math.Round(latencies[7]))
	assert.Equal(t, want, res.Ping)
	assert.Equal(t, "80.00", res.Download)
	assert.Equal(t, "80.00", res.Upload)
	require.NotNil(t, res.Jitter)
	assert.Zero(t, res.Elapsed)

	expected := `
# HELP fbspeed_sample_failures_total Dropped probe samples by stage.
# TYPE fbspeed_sample_failures_total counter
fbspeed_sample_failures_total{stage="latency"} 5
`
	require.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "fbspeed_sample_failures_total"))
}

func TestDownloadPercentileAcrossPooledSamples(t *testing.T) {
	durations := []float64{100, 100, 100, 100, 1000}
	downloads := 0
	ex := &scriptedExchanger{fn: func(n int, call exchangeCall) (sampler.PhaseSet, error) {
		switch {
		case n < 3:
			return latencyPhases(20, 0), nil
		case call.direction == sampler.DirectionDownload:
			d := durations[downloads]
			downloads++
			return transferPhases(d), nil
		default:
			return uploadPhases(1000), nil
		}
	}}
	eng := newTestEngine(Config{
		LatencySamples: 3,
		DownloadPlan:   []Stage{{Bytes: 1_000_000, Count: 5}},
		UploadPlan:     []Stage{{Bytes: 1_000_000, Count: 1}},
	}, ex, nil)

	res := eng.Run(context.Background(), target)
	require.False(t, res.Failed(), res.Error)
	// Throughputs sort to [8, 80, 80, 80, 80]; p=0.9 interpolates at index 3.6.
	assert.Equal(t, "80.00", res.Download)
	assert.Equal(t, "8.00", res.Upload)
	assert.Equal(t, 20, res.Ping)
}

func TestStagesRunSequentiallyInPlanOrder(t *testing.T) {
	ex := &scriptedExchanger{fn: func(n int, call exchangeCall) (sampler.PhaseSet, error) {
		if call.direction == sampler.DirectionUpload {
			return uploadPhases(50), nil
		}
		if call.bytes == DefaultLatencyBytes {
			return latencyPhases(15, 2), nil
		}
		return transferPhases(50), nil
	}}
	eng := newTestEngine(Config{}, ex, nil)
	res := eng.Run(context.Background(), target)
	require.False(t, res.Failed(), res.Error)

	var want []exchangeCall
	for i := 0; i < DefaultLatencySamples; i++ {
		want = append(want, exchangeCall{sampler.DirectionDownload, DefaultLatencyBytes})
	}
	for _, st := range DefaultDownloadPlan() {
		for i := 0; i < st.Count; i++ {
			want = append(want, exchangeCall{sampler.DirectionDownload, st.Bytes})
		}
	}
	for _, st := range DefaultUploadPlan() {
		for i := 0; i < st.Count; i++ {
			want = append(want, exchangeCall{sampler.DirectionUpload, st.Bytes})
		}
	}
	assert.Equal(t, want, ex.calls)
	assert.Equal(t, 13, res.Ping)
}

func TestAllLatencySamplesFail(t *testing.T) {
	ex := &scriptedExchanger{fn: func(n int, call exchangeCall) (sampler.PhaseSet, error) {
		return sampler.PhaseSet{}, fmt.Errorf("%w: i/o timeout", sampler.ErrExchange)
	}}
	eng := newTestEngine(Config{}, ex, nil)
	res := eng.Run(context.Background(), target)
	assert.Equal(t, result.TestResult{Error: "no successful latency samples"}, res)
	assert.Len(t, ex.calls, DefaultLatencySamples)
}

func TestFailedLaterStageDiscardsEarlierResults(t *testing.T) {
	ex := &scriptedExchanger{fn: func(n int, call exchangeCall) (sampler.PhaseSet, error) {
		if call.direction == sampler.DirectionUpload {
			return sampler.PhaseSet{}, errors.New("tls: handshake failure")
		}
		if call.bytes == DefaultLatencyBytes {
			return latencyPhases(15, 0), nil
		}
		return transferPhases(50), nil
	}}
	eng := newTestEngine(Config{
		DownloadPlan: []Stage{{Bytes: 1_000_000, Count: 1}},
		UploadPlan:   []Stage{{Bytes: 11_000, Count: 2}},
	}, ex, nil)
	res := eng.Run(context.Background(), target)
	assert.Equal(t, result.TestResult{Error: "no successful upload samples"}, res)
}

func TestInvalidAddressIsConfigurationError(t *testing.T) {
	ex := &scriptedExchanger{fn: func(int, exchangeCall) (sampler.PhaseSet, error) {
		t.Fatal("no exchange expected")
		return sampler.PhaseSet{}, nil
	}}
	eng := newTestEngine(Config{}, ex, nil)
	res := eng.Run(context.Background(), result.Target{Interface: "wlan9"})
	assert.True(t, res.Failed())
	assert.Contains(t, res.Error, "invalid interface")
	assert.Empty(t, ex.calls)
}

func TestNegativeLatencyClampedToZero(t *testing.T) {
	ex := &scriptedExchanger{fn: func(n int, call exchangeCall) (sampler.PhaseSet, error) {
		if call.bytes == DefaultLatencyBytes {
			return latencyPhases(5, 9), nil
		}
		if call.direction == sampler.DirectionUpload {
			return uploadPhases(10), nil
		}
		return transferPhases(10), nil
	}}
	eng := newTestEngine(Config{
		DownloadPlan: []Stage{{Bytes: 1000, Count: 1}},
		UploadPlan:   []Stage{{Bytes: 1000, Count: 1}},
	}, ex, nil)
	res := eng.Run(context.Background(), target)
	require.False(t, res.Failed(), res.Error)
	assert.Equal(t, 0, res.Ping)
	require.NotNil(t, res.Jitter)
	assert.Equal(t, 0.0, *res.Jitter)
}

func TestCancelledContextAborts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ex := &scriptedExchanger{fn: func(n int, call exchangeCall) (sampler.PhaseSet, error) {
		if n == 2 {
			cancel()
			return sampler.PhaseSet{}, context.Canceled
		}
		return latencyPhases(10, 0), nil
	}}
	eng := newTestEngine(Config{}, ex, nil)
	res := eng.Run(ctx, target)
	assert.True(t, res.Failed())
	assert.Contains(t, res.Error, "latency stage aborted")
	assert.Len(t, ex.calls, 3)
}
