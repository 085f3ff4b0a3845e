package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/NodePath81/fbspeed/internal/result"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fbspeed"

// Metrics exposes test outcomes in Prometheus format. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	ping           *prometheus.GaugeVec
	jitter         *prometheus.GaugeVec
	download       *prometheus.GaugeVec
	upload         *prometheus.GaugeVec
	lastRun        *prometheus.GaugeVec
	tests          *prometheus.CounterVec
	sampleFailures *prometheus.CounterVec
	testDuration   *prometheus.HistogramVec
	running        prometheus.Gauge

	mu      sync.Mutex
	lastRes map[string]result.TestResult
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ping: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ping_ms",
			Help:      "Latency reported by the last successful test.",
		}, []string{"mode"}),
		jitter: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jitter_ms",
			Help:      "Latency jitter reported by the last successful test.",
		}, []string{"mode"}),
		download: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "download_mbps",
			Help:      "Download throughput reported by the last successful test.",
		}, []string{"mode"}),
		upload: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "upload_mbps",
			Help:      "Upload throughput reported by the last successful test.",
		}, []string{"mode"}),
		lastRun: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time of the last finished test.",
		}, []string{"mode", "outcome"}),
		tests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tests_total",
			Help:      "Finished tests by mode and outcome.",
		}, []string{"mode", "outcome"}),
		sampleFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sample_failures_total",
			Help:      "Dropped probe samples by stage.",
		}, []string{"stage"}),
		testDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "test_duration_seconds",
			Help:      "Wall-clock duration of finished tests.",
			Buckets:   []float64{5, 10, 20, 30, 45, 60, 90, 120, 180, 300, 600},
		}, []string{"mode"}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "test_running",
			Help:      "1 while a test is in progress.",
		}),
		lastRes: make(map[string]result.TestResult),
	}
	m.registry.MustRegister(
		m.ping, m.jitter, m.download, m.upload, m.lastRun,
		m.tests, m.sampleFailures, m.testDuration, m.running,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveResult records a finished test.
func (m *Metrics) ObserveResult(mode result.Mode, res result.TestResult, duration time.Duration) {
	if m == nil {
		return
	}
	label := string(mode)
	outcome := "success"
	if res.Failed() {
		outcome = "failure"
	}
	m.tests.WithLabelValues(label, outcome).Inc()
	m.lastRun.WithLabelValues(label, outcome).Set(float64(time.Now().Unix()))
	m.testDuration.WithLabelValues(label).Observe(duration.Seconds())
	if res.Failed() {
		return
	}
	m.ping.WithLabelValues(label).Set(float64(res.Ping))
	if res.Jitter != nil {
		m.jitter.WithLabelValues(label).Set(*res.Jitter)
	}
	if v, err := strconv.ParseFloat(res.Download, 64); err == nil {
		m.download.WithLabelValues(label).Set(v)
	}
	if v, err := strconv.ParseFloat(res.Upload, 64); err == nil {
		m.upload.WithLabelValues(label).Set(v)
	}
	m.mu.Lock()
	m.lastRes[label] = res
	m.mu.Unlock()
}

// IncSampleFailure counts a dropped sample in the named stage.
func (m *Metrics) IncSampleFailure(stage string) {
	if m == nil {
		return
	}
	m.sampleFailures.WithLabelValues(stage).Inc()
}

// SetRunning flags whether a test is in progress.
func (m *Metrics) SetRunning(running bool) {
	if m == nil {
		return
	}
	if running {
		m.running.Set(1)
		return
	}
	m.running.Set(0)
}

// LastResult returns the last successful result recorded for mode.
func (m *Metrics) LastResult(mode result.Mode) (result.TestResult, bool) {
	if m == nil {
		return result.TestResult{}, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	res, ok := m.lastRes[string(mode)]
	return res, ok
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
