// Package stats reduces ordered sample sequences to aggregate estimates.
package stats

import (
	"errors"
	"math"
	"sort"
	"strconv"
)

var (
	// ErrEmpty is returned when a reducer receives no samples.
	ErrEmpty = errors.New("stats: no samples")
	// ErrTooFew is returned by Jitter when fewer than two samples exist.
	ErrTooFew = errors.New("stats: at least two samples required")
	// ErrPercentile is returned by Quartile for a NaN percentile.
	ErrPercentile = errors.New("stats: percentile is NaN")
)

// Aggregate is the reduced form of a sample sequence.
type Aggregate struct {
	Count  int      `json:"count"`
	Min    float64  `json:"min"`
	Max    float64  `json:"max"`
	Avg    float64  `json:"avg"`
	Median *float64 `json:"median,omitempty"`
	Jitter *float64 `json:"jitter,omitempty"`
}

func Average(values []float64) (float64, error) {
	if len(values) == 0 {
		return 0, ErrEmpty
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values)), nil
}

// Median returns the middle value, or the mean of the two middle values for
// even-length input. values is not reordered.
func Median(values []float64) (float64, error) {
	if len(values) == 0 {
		return 0, ErrEmpty
	}
	sorted := sortedCopy(values)
	half := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[half], nil
	}
	return (sorted[half-1] + sorted[half]) / 2, nil
}

// Quartile returns the linearly interpolated value at position (n-1)*p of the
// ascending order. p is clamped to [0,1].
func Quartile(values []float64, p float64) (float64, error) {
	if len(values) == 0 {
		return 0, ErrEmpty
	}
	if math.IsNaN(p) {
		return 0, ErrPercentile
	}
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	sorted := sortedCopy(values)
	pos := float64(len(sorted)-1) * p
	base := int(math.Floor(pos))
	rest := pos - float64(base)
	if base+1 < len(sorted) {
		return sorted[base] + rest*(sorted[base+1]-sorted[base]), nil
	}
	return sorted[base], nil
}

// Jitter is the mean absolute difference between consecutive samples in
// their original order.
func Jitter(values []float64) (float64, error) {
	if len(values) < 2 {
		return 0, ErrTooFew
	}
	var sum float64
	for i := 1; i < len(values); i++ {
		sum += math.Abs(values[i] - values[i-1])
	}
	return sum / float64(len(values)-1), nil
}

func Min(values []float64) (float64, error) {
	if len(values) == 0 {
		return 0, ErrEmpty
	}
	out := values[0]
	for _, v := range values[1:] {
		if v < out {
			out = v
		}
	}
	return out, nil
}

func Max(values []float64) (float64, error) {
	if len(values) == 0 {
		return 0, ErrEmpty
	}
	out := values[0]
	for _, v := range values[1:] {
		if v > out {
			out = v
		}
	}
	return out, nil
}

// Summarize computes min, max and average, plus median and jitter when the
// sample count allows it.
func Summarize(values []float64) (Aggregate, error) {
	if len(values) == 0 {
		return Aggregate{}, ErrEmpty
	}
	lo, _ := Min(values)
	hi, _ := Max(values)
	avg, _ := Average(values)
	med, _ := Median(values)
	agg := Aggregate{
		Count:  len(values),
		Min:    lo,
		Max:    hi,
		Avg:    avg,
		Median: &med,
	}
	if j, err := Jitter(values); err == nil {
		agg.Jitter = &j
	}
	return agg, nil
}

// Mbps converts a payload size transferred over durationMs into megabits per
// second. A zero duration yields +Inf and a negative one a negative rate, so
// callers drop such samples first.
func Mbps(bytes int64, durationMs float64) float64 {
	return float64(bytes) * 8 / (durationMs / 1000) / 1e6
}

// FormatFixed renders v with the given number of decimals.
func FormatFixed(v float64, decimals int) string {
	return strconv.FormatFloat(v, 'f', decimals, 64)
}

// RoundTo rounds v to the given number of decimals.
func RoundTo(v float64, decimals int) float64 {
	scale := math.Pow(10, float64(decimals))
	return math.Round(v*scale) / scale
}

func sortedCopy(values []float64) []float64 {
	out := make([]float64, len(values))
	copy(out, values)
	sort.Float64s(out)
	return out
}
