// Package probe runs the staged latency, download and upload test against an
// HTTPS speed endpoint and reduces the samples to a single result.
package probe

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/netip"

	"github.com/NodePath81/fbspeed/internal/metrics"
	"github.com/NodePath81/fbspeed/internal/result"
	"github.com/NodePath81/fbspeed/internal/sampler"
	"github.com/NodePath81/fbspeed/internal/stats"
	"github.com/NodePath81/fbspeed/internal/util"
)

const (
	stageLatency  = "latency"
	stageDownload = "download"
	stageUpload   = "upload"
)

// Exchanger performs one timed exchange. *sampler.Sampler implements it.
type Exchanger interface {
	MeasureExchange(ctx context.Context, localAddress string, direction sampler.Direction, payloadBytes int64) (sampler.PhaseSet, error)
}

// Engine orchestrates the three sequential stages. Samples run one at a time
// so concurrent transfers never compete for the link being measured.
type Engine struct {
	cfg       Config
	exchanger Exchanger
	metrics   *metrics.Metrics
	logger    util.Logger
}

func NewEngine(cfg Config, exchanger Exchanger, metrics *metrics.Metrics, logger util.Logger) *Engine {
	cfg.setDefaults()
	return &Engine{
		cfg:       cfg,
		exchanger: exchanger,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run executes the full test from target.Address. Any failure yields a result
// carrying only the error; results of stages already finished are dropped.
func (e *Engine) Run(ctx context.Context, target result.Target) result.TestResult {
	res, err := e.run(ctx, target)
	if err != nil {
		e.logger.Error("cloudflare speedtest failed", "interface", target.Interface, "error", err)
		return result.Failed(err)
	}
	return res
}

func (e *Engine) run(ctx context.Context, target result.Target) (result.TestResult, error) {
	if _, err := netip.ParseAddr(target.Address); err != nil {
		return result.TestResult{}, fmt.Errorf("%w: invalid interface %q", result.ErrConfig, target.Interface)
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.TestTimeout)
	defer cancel()

	latencies, err := e.measureLatency(ctx, target.Address)
	if err != nil {
		return result.TestResult{}, err
	}
	median, _ := stats.Median(latencies)
	res := result.TestResult{Ping: int(math.Round(median))}
	if j, err := stats.Jitter(latencies); err == nil {
		j = stats.RoundTo(j, 2)
		res.Jitter = &j
	}

	down, err := e.measureThroughput(ctx, target.Address, sampler.DirectionDownload, e.cfg.DownloadPlan)
	if err != nil {
		return result.TestResult{}, err
	}
	downMbps, _ := stats.Quartile(down, reportPercentile)
	res.Download = stats.FormatFixed(downMbps, 2)

	up, err := e.measureThroughput(ctx, target.Address, sampler.DirectionUpload, e.cfg.UploadPlan)
	if err != nil {
		return result.TestResult{}, err
	}
	upMbps, _ := stats.Quartile(up, reportPercentile)
	res.Upload = stats.FormatFixed(upMbps, 2)

	e.logger.Info("cloudflare speedtest finished",
		"interface", target.Interface,
		"ping_ms", res.Ping,
		"download", util.FormatBitsPerSecond(downMbps*1e6),
		"upload", util.FormatBitsPerSecond(upMbps*1e6))
	return res, nil
}

// measureLatency collects TTFB minus server processing time for small
// downloads. Failed samples are dropped and never retried.
func (e *Engine) measureLatency(ctx context.Context, addr string) ([]float64, error) {
	samples := make([]float64, 0, e.cfg.LatencySamples)
	for i := 0; i < e.cfg.LatencySamples; i++ {
		phases, err := e.exchanger.MeasureExchange(ctx, addr, sampler.DirectionDownload, e.cfg.LatencyBytes)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("latency stage aborted: %w", ctxErr)
			}
			e.dropSample(stageLatency, err)
			continue
		}
		ms := phases.LatencyMs()
		if ms < 0 {
			ms = 0
		}
		samples = append(samples, ms)
	}
	if len(samples) == 0 {
		return nil, errors.New("no successful latency samples")
	}
	e.logger.Debug("latency stage complete", "samples", len(samples), "planned", e.cfg.LatencySamples)
	return samples, nil
}

// measureThroughput runs every stage of plan in order and pools the per-sample
// Mbps values.
func (e *Engine) measureThroughput(ctx context.Context, addr string, direction sampler.Direction, plan []Stage) ([]float64, error) {
	stage := stageDownload
	if direction == sampler.DirectionUpload {
		stage = stageUpload
	}
	var pooled []float64
	planned := 0
	for _, leg := range plan {
		planned += leg.Count
		for i := 0; i < leg.Count; i++ {
			phases, err := e.exchanger.MeasureExchange(ctx, addr, direction, leg.Bytes)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return nil, fmt.Errorf("%s stage aborted: %w", stage, ctxErr)
				}
				e.dropSample(stage, err)
				continue
			}
			durationMs := phases.DownloadMs()
			if direction == sampler.DirectionUpload {
				durationMs = phases.UploadMs()
			}
			if durationMs <= 0 {
				e.dropSample(stage, fmt.Errorf("non-positive transfer time for %s", leg))
				continue
			}
			pooled = append(pooled, stats.Mbps(leg.Bytes, durationMs))
		}
	}
	if len(pooled) == 0 {
		return nil, fmt.Errorf("no successful %s samples", stage)
	}
	e.logger.Debug(stage+" stage complete", "samples", len(pooled), "planned", planned)
	return pooled, nil
}

func (e *Engine) dropSample(stage string, err error) {
	e.logger.Warn("sample dropped", "stage", stage, "error", err)
	if e.metrics != nil {
		e.metrics.IncSampleFailure(stage)
	}
}
