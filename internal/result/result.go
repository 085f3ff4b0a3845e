// Package result defines the record every measurement engine produces.
package result

import (
	"errors"
	"fmt"
)

// ErrConfig marks failures caused by configuration (unknown interface,
// unsupported platform, missing binary). They are never retried.
var ErrConfig = errors.New("configuration error")

// Mode selects the measurement backend.
type Mode string

const (
	ModeCloudflare Mode = "cloudflare"
	ModeOokla      Mode = "ookla"
	ModeLibre      Mode = "libre"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeCloudflare, ModeOokla, ModeLibre:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("%w: unknown mode %q", ErrConfig, s)
	}
}

// Target is the resolved input of a single test run.
type Target struct {
	// Interface is the local interface name (for example "eth0").
	Interface string
	// Address is the literal IPv4 or IPv6 address bound to Interface.
	Address string
	// ServerID optionally selects a remote server for the external backends.
	ServerID string
}

// TestResult is the outcome of one test invocation. A failed run carries only
// Error; all metric fields are zero.
type TestResult struct {
	Ping     int      `json:"ping"`
	Jitter   *float64 `json:"jitter,omitempty"`
	Download string   `json:"download"`
	Upload   string   `json:"upload"`
	Error    string   `json:"error,omitempty"`
	Elapsed  int64    `json:"elapsed,omitempty"`
	ServerID string   `json:"server_id,omitempty"`
	ResultID string   `json:"result_id,omitempty"`
}

// Failed builds an error-only result.
func Failed(err error) TestResult {
	if err == nil {
		return TestResult{Error: "unknown error"}
	}
	return TestResult{Error: err.Error()}
}

// Failed reports whether r describes a failed run.
func (r TestResult) Failed() bool {
	return r.Error != ""
}
