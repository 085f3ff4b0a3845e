package store

import (
	"context"
	"math"

	"github.com/NodePath81/fbspeed/internal/stats"
)

// Counts tallies the runs inside a statistics window.
type Counts struct {
	Total  int `json:"total"`
	Failed int `json:"failed"`
	Custom int `json:"custom"`
}

// Statistics summarizes successful runs of the last Days days. Ping and time
// averages are rounded to whole units, bandwidth averages to two decimals.
type Statistics struct {
	Days     int             `json:"days"`
	Tests    Counts          `json:"tests"`
	Ping     stats.Aggregate `json:"ping"`
	Download stats.Aggregate `json:"download"`
	Upload   stats.Aggregate `json:"upload"`
	Time     stats.Aggregate `json:"time"`
}

// Statistics aggregates the last days days, capped at 30.
func (s *Store) Statistics(ctx context.Context, days int) (Statistics, error) {
	if days <= 0 || days > maxStatsDays {
		days = maxStatsDays
	}
	records, err := s.since(ctx, days)
	if err != nil {
		return Statistics{}, err
	}

	out := Statistics{Days: days}
	var ping, download, upload, elapsed []float64
	for _, rec := range records {
		out.Tests.Total++
		if rec.Type == KindCustom {
			out.Tests.Custom++
		}
		if rec.Failed() {
			out.Tests.Failed++
			continue
		}
		ping = append(ping, float64(rec.Ping))
		download = append(download, rec.Download)
		upload = append(upload, rec.Upload)
		elapsed = append(elapsed, math.Round(float64(rec.ElapsedMs)/1000))
	}

	out.Ping = summarize(ping, 0)
	out.Download = summarize(download, 2)
	out.Upload = summarize(upload, 2)
	out.Time = summarize(elapsed, 0)
	return out, nil
}

func summarize(values []float64, decimals int) stats.Aggregate {
	agg, err := stats.Summarize(values)
	if err != nil {
		return stats.Aggregate{}
	}
	agg.Avg = stats.RoundTo(agg.Avg, decimals)
	agg.Median = nil
	agg.Jitter = nil
	return agg
}
