package probe

import (
	"fmt"
	"math"
	"time"
)

const (
	DefaultLatencySamples = 20
	DefaultLatencyBytes   = 1000
	DefaultTestTimeout    = 20 * time.Minute

	// reportPercentile discards slow-start samples while tracking sustained
	// near-peak throughput.
	reportPercentile = 0.9
)

// Stage is one leg of a multi-size transfer plan.
type Stage struct {
	Bytes int64
	Count int
}

func (s Stage) String() string {
	return fmt.Sprintf("%dx%dB", s.Count, s.Bytes)
}

// DefaultDownloadPlan mixes payload sizes so connection setup cost is
// amortized across the pooled distribution.
func DefaultDownloadPlan() []Stage {
	return []Stage{
		{Bytes: 101_000, Count: 1},
		{Bytes: 1_001_000, Count: 8},
		{Bytes: 10_001_000, Count: 6},
		{Bytes: 25_001_000, Count: 4},
		{Bytes: 100_001_000, Count: 1},
	}
}

func DefaultUploadPlan() []Stage {
	return []Stage{
		{Bytes: 11_000, Count: 10},
		{Bytes: 101_000, Count: 10},
		{Bytes: 1_001_000, Count: 8},
	}
}

// Config controls the probe engine.
type Config struct {
	LatencySamples int
	LatencyBytes   int64
	DownloadPlan   []Stage
	UploadPlan     []Stage
	// TestTimeout bounds the whole run across all stages.
	TestTimeout time.Duration
}

func (c *Config) setDefaults() {
	if c.LatencySamples <= 0 {
		c.LatencySamples = DefaultLatencySamples
	}
	if c.LatencyBytes <= 0 {
		c.LatencyBytes = DefaultLatencyBytes
	}
	if len(c.DownloadPlan) == 0 {
		c.DownloadPlan = DefaultDownloadPlan()
	}
	if len(c.UploadPlan) == 0 {
		c.UploadPlan = DefaultUploadPlan()
	}
	if c.TestTimeout <= 0 {
		c.TestTimeout = DefaultTestTimeout
	}
}

// PlanBytes is the total payload a plan transfers.
func PlanBytes(plan []Stage) int64 {
	var total int64
	for _, st := range plan {
		total += st.Bytes * int64(st.Count)
	}
	return total
}

// WorstCaseDuration estimates how long a run takes over a link of
// bitsPerSecond when every exchange is cut off at exchangeTimeout. Connection
// setup and server processing are ignored.
func (c Config) WorstCaseDuration(bitsPerSecond float64, exchangeTimeout time.Duration) time.Duration {
	c.setDefaults()
	legs := []Stage{{Bytes: c.LatencyBytes, Count: c.LatencySamples}}
	legs = append(legs, c.DownloadPlan...)
	legs = append(legs, c.UploadPlan...)
	var total time.Duration
	for _, leg := range legs {
		one := time.Duration(float64(leg.Bytes*8) * float64(time.Second) / bitsPerSecond)
		if exchangeTimeout > 0 && one > exchangeTimeout {
			one = exchangeTimeout
		}
		total += one * time.Duration(leg.Count)
	}
	return total
}

// MinimumRate returns the slowest link, in bits per second, on which a run
// still fits in TestTimeout. It is +Inf when the timeout cannot cover the
// plan even with every exchange cut off.
func (c Config) MinimumRate(exchangeTimeout time.Duration) float64 {
	c.setDefaults()
	fits := func(bps float64) bool {
		return c.WorstCaseDuration(bps, exchangeTimeout) <= c.TestTimeout
	}
	lo, hi := 1.0, 1e12
	if fits(lo) {
		return lo
	}
	if !fits(hi) {
		return math.Inf(1)
	}
	for i := 0; i < 64; i++ {
		mid := math.Sqrt(lo * hi)
		if fits(mid) {
			hi = mid
		} else {
			lo = mid
		}
	}
	return hi
}
