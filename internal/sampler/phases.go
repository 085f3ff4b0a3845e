package sampler

import (
	"strconv"
	"strings"
	"time"
)

// PhaseSet holds the timestamps of one HTTPS exchange. A zero time means the
// exchange failed or skipped that phase; present phases are non-decreasing
// in declaration order.
type PhaseSet struct {
	Start       time.Time
	DNSDone     time.Time
	ConnectDone time.Time
	TLSDone     time.Time
	FirstByte   time.Time
	End         time.Time

	// ServerTiming is the server-reported processing time, valid only when
	// HasServerTiming is set.
	ServerTiming    time.Duration
	HasServerTiming bool
}

// TTFB is the time from request start to the first response byte.
func (p PhaseSet) TTFB() time.Duration {
	return since(p.Start, p.FirstByte)
}

// Total is the time from request start to the end of the response body.
func (p PhaseSet) Total() time.Duration {
	return since(p.Start, p.End)
}

// Transfer is the time spent receiving the response after the first byte.
// Server processing happens before the first byte, so it is outside this
// window.
func (p PhaseSet) Transfer() time.Duration {
	return since(p.FirstByte, p.End)
}

// DNS, TCP and TLS return the individual setup phase durations. A phase that
// was skipped (for example DNS when dialing an IP literal) reports zero.
func (p PhaseSet) DNS() time.Duration {
	return since(p.Start, p.DNSDone)
}

func (p PhaseSet) TCP() time.Duration {
	if p.DNSDone.IsZero() {
		return since(p.Start, p.ConnectDone)
	}
	return since(p.DNSDone, p.ConnectDone)
}

func (p PhaseSet) TLS() time.Duration {
	return since(p.ConnectDone, p.TLSDone)
}

// LatencyMs is TTFB minus server processing time, in milliseconds. The value
// may be negative when the server reports more processing time than TTFB.
func (p PhaseSet) LatencyMs() float64 {
	ms := durationMs(p.TTFB())
	if p.HasServerTiming {
		ms -= durationMs(p.ServerTiming)
	}
	return ms
}

// DownloadMs is the transfer window used for download throughput.
func (p PhaseSet) DownloadMs() float64 {
	return durationMs(p.Transfer())
}

// UploadMs is the server processing time when reported, else the whole
// exchange.
func (p PhaseSet) UploadMs() float64 {
	if p.HasServerTiming {
		return durationMs(p.ServerTiming)
	}
	return durationMs(p.Total())
}

func since(from, to time.Time) time.Duration {
	if from.IsZero() || to.IsZero() {
		return 0
	}
	return to.Sub(from)
}

func durationMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// parseServerTiming extracts the dur= value (milliseconds) from a
// Server-Timing header such as "cfRequestDuration;dur=12.5".
func parseServerTiming(header string) (time.Duration, bool) {
	idx := strings.Index(header, "dur=")
	if idx < 0 {
		return 0, false
	}
	raw := header[idx+len("dur="):]
	if end := strings.IndexAny(raw, ";, "); end >= 0 {
		raw = raw[:end]
	}
	ms, err := strconv.ParseFloat(raw, 64)
	if err != nil || ms < 0 {
		return 0, false
	}
	return time.Duration(ms * float64(time.Millisecond)), true
}
