package app

import (
	"fmt"

	"github.com/NodePath81/fbspeed/internal/binaries"
	"github.com/NodePath81/fbspeed/internal/config"
	"github.com/NodePath81/fbspeed/internal/external"
	"github.com/NodePath81/fbspeed/internal/metrics"
	"github.com/NodePath81/fbspeed/internal/monitor"
	"github.com/NodePath81/fbspeed/internal/probe"
	"github.com/NodePath81/fbspeed/internal/result"
	"github.com/NodePath81/fbspeed/internal/sampler"
	"github.com/NodePath81/fbspeed/internal/util"
)

// BuildEngine constructs the engine for cfg.Mode.
func BuildEngine(cfg config.Config, m *metrics.Metrics, logger util.Logger) (monitor.Engine, error) {
	switch cfg.Mode {
	case result.ModeCloudflare:
		smp, err := sampler.New(sampler.Config{
			Host:    cfg.Probe.Host,
			Timeout: cfg.Probe.ExchangeTimeout.Duration(),
			Device:  cfg.Probe.BindDevice,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", result.ErrConfig, err)
		}
		return probe.NewEngine(probeConfig(cfg.Probe), smp, m, logger), nil
	case result.ModeOokla, result.ModeLibre:
		backend, err := external.BackendFor(cfg.Mode, cfg.External.LibreDuration)
		if err != nil {
			return nil, err
		}
		catalog := BuildCatalog(cfg.External)
		return external.NewEngine(backend, catalog, external.ExecLauncher{}, cfg.External.TestTimeout.Duration(), logger), nil
	default:
		return nil, fmt.Errorf("%w: unknown mode %q", result.ErrConfig, cfg.Mode)
	}
}

// BuildCatalog locates external binaries for this host.
func BuildCatalog(cfg config.ExternalConfig) binaries.Catalog {
	catalog := binaries.NewCatalog(cfg.BinaryDir)
	catalog.Download = cfg.IsAutoDownload()
	catalog.BaseURL = cfg.DownloadURL
	return catalog
}

// BuildRunner wires the engine for cfg.Mode into a monitor.Runner. st and m
// may be nil.
func BuildRunner(cfg config.Config, st monitor.Store, m *metrics.Metrics, logger util.Logger) (*monitor.Runner, error) {
	engine, err := BuildEngine(cfg, m, logger)
	if err != nil {
		return nil, err
	}
	runnerCfg := monitor.Config{
		Mode:            cfg.Mode,
		Interface:       cfg.Interface,
		ServerID:        cfg.ServerID,
		StartupDelay:    cfg.Schedule.StartupDelay.Duration(),
		Retention:       cfg.Schedule.Retention.Duration(),
		CleanupInterval: cfg.Schedule.CleanupInterval.Duration(),
	}
	scheduler := monitor.NewScheduler(cfg.Schedule.Interval.Min.Duration(), cfg.Schedule.Interval.Max.Duration(), nil)
	engines := map[result.Mode]monitor.Engine{cfg.Mode: engine}
	return monitor.NewRunner(runnerCfg, engines, monitor.ResolveTarget, st, m, scheduler, logger), nil
}

func probeConfig(cfg config.ProbeConfig) probe.Config {
	return probe.Config{
		LatencySamples: cfg.LatencySamples,
		LatencyBytes:   cfg.LatencyBytes.Bytes(),
		DownloadPlan:   stages(cfg.Download),
		UploadPlan:     stages(cfg.Upload),
		TestTimeout:    cfg.TestTimeout.Duration(),
	}
}

func stages(in []config.StageConfig) []probe.Stage {
	if len(in) == 0 {
		return nil
	}
	out := make([]probe.Stage, 0, len(in))
	for _, st := range in {
		out = append(out, probe.Stage{Bytes: st.Bytes.Bytes(), Count: st.Count})
	}
	return out
}

// PlanTotals returns the bytes one probe test downloads and uploads.
func PlanTotals(cfg config.ProbeConfig) (download, upload int64) {
	pc := probeConfig(cfg)
	if len(pc.DownloadPlan) == 0 {
		pc.DownloadPlan = probe.DefaultDownloadPlan()
	}
	if len(pc.UploadPlan) == 0 {
		pc.UploadPlan = probe.DefaultUploadPlan()
	}
	return probe.PlanBytes(pc.DownloadPlan), probe.PlanBytes(pc.UploadPlan)
}

// MinimumLinkRate is the slowest link, in bits per second, on which a probe
// test fits in its test timeout.
func MinimumLinkRate(cfg config.ProbeConfig) float64 {
	return probeConfig(cfg).MinimumRate(cfg.ExchangeTimeout.Duration())
}
