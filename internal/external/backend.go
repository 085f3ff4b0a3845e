// Package external runs third-party speed test CLIs and normalizes their JSON
// output into a result.TestResult.
package external

import (
	"fmt"
	"math"

	"github.com/NodePath81/fbspeed/internal/result"
	"github.com/NodePath81/fbspeed/internal/stats"
)

// Backend describes how to drive one CLI.
type Backend interface {
	Mode() result.Mode
	Args(target result.Target, goos string) ([]string, error)
	IsFinal(rec Record) bool
	Normalize(rec Record) (result.TestResult, error)
}

// Ookla drives the Speedtest CLI. Only records of type "result" are final.
type Ookla struct{}

func (Ookla) Mode() result.Mode { return result.ModeOokla }

func (Ookla) Args(target result.Target, goos string) ([]string, error) {
	args := []string{"--accept-license", "--accept-gdpr", "--format=json"}
	if goos == "windows" {
		if target.Address == "" {
			return nil, fmt.Errorf("%w: interface %q has no address", result.ErrConfig, target.Interface)
		}
		args = append(args, "--ip="+target.Address)
	} else {
		if target.Interface == "" {
			return nil, fmt.Errorf("%w: no interface selected", result.ErrConfig)
		}
		args = append(args, "--interface="+target.Interface)
	}
	if target.ServerID != "" {
		args = append(args, "--server-id="+target.ServerID)
	}
	return args, nil
}

func (Ookla) IsFinal(rec Record) bool { return rec.Type == "result" }

func (Ookla) Normalize(rec Record) (result.TestResult, error) {
	return normalize(rec)
}

// Libre drives librespeed-cli. It prints a single record, so any parsed
// record is final.
type Libre struct {
	// Duration is the per-direction test length in seconds.
	Duration int
}

const defaultLibreDuration = 5

func (Libre) Mode() result.Mode { return result.ModeLibre }

func (l Libre) Args(target result.Target, goos string) ([]string, error) {
	if target.Address == "" {
		return nil, fmt.Errorf("%w: interface %q has no address", result.ErrConfig, target.Interface)
	}
	duration := l.Duration
	if duration <= 0 {
		duration = defaultLibreDuration
	}
	args := []string{"--json", fmt.Sprintf("--duration=%d", duration), "--source=" + target.Address}
	if target.ServerID != "" {
		args = append(args, "--server="+target.ServerID)
	}
	return args, nil
}

func (Libre) IsFinal(Record) bool { return true }

func (Libre) Normalize(rec Record) (result.TestResult, error) {
	return normalize(rec)
}

// normalize maps a final record onto a result. Absent metrics read as zero.
func normalize(rec Record) (result.TestResult, error) {
	res := result.TestResult{
		Download: stats.FormatFixed(valueOf(rec.Download), 2),
		Upload:   stats.FormatFixed(valueOf(rec.Upload), 2),
		ServerID: rec.ServerID,
		ResultID: rec.ResultID,
	}
	if rec.Latency != nil {
		res.Ping = int(math.Round(*rec.Latency))
	}
	if rec.Jitter != nil {
		j := stats.RoundTo(*rec.Jitter, 2)
		res.Jitter = &j
	}
	return res, nil
}

func valueOf(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

// BackendFor returns the backend for an external mode.
func BackendFor(mode result.Mode, libreDuration int) (Backend, error) {
	switch mode {
	case result.ModeOokla:
		return Ookla{}, nil
	case result.ModeLibre:
		return Libre{Duration: libreDuration}, nil
	default:
		return nil, fmt.Errorf("%w: mode %q is not an external backend", result.ErrConfig, mode)
	}
}
