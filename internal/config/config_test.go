package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NodePath81/fbspeed/internal/result"
)

func TestDefaults(t *testing.T) {
	cfg, err := Parse([]byte("{}"))
	require.NoError(t, err)

	assert.Equal(t, result.ModeCloudflare, cfg.Mode)
	assert.Equal(t, defaultScheduleStartupDelay, cfg.Schedule.StartupDelay.Duration())
	assert.Equal(t, 30*24*time.Hour, cfg.Schedule.Retention.Duration())
	assert.True(t, cfg.Schedule.IsEnabled())
	assert.Equal(t, "speed.cloudflare.com", cfg.Probe.Host)
	assert.Equal(t, 20, cfg.Probe.LatencySamples)
	assert.Equal(t, int64(1000), cfg.Probe.LatencyBytes.Bytes())
	assert.Equal(t, 60*time.Second, cfg.Probe.ExchangeTimeout.Duration())
	assert.Equal(t, 20*time.Minute, cfg.Probe.TestTimeout.Duration())
	assert.Equal(t, 5, cfg.External.LibreDuration)
	assert.Equal(t, 5*time.Minute, cfg.External.TestTimeout.Duration())
	assert.True(t, cfg.External.IsAutoDownload())
	assert.Empty(t, cfg.External.DownloadURL)
	assert.True(t, cfg.Metrics.IsEnabled())
	assert.Equal(t, "127.0.0.1:9469", cfg.Metrics.Addr())
	assert.Equal(t, Default(), cfg)
}

func TestLoadConfig(t *testing.T) {
	doc := `
interface: eth0
mode: Libre
server_id: " 4242 "
schedule:
  enabled: false
  startup_delay: 0s
  interval:
    min: 10m
    max: 20m
  retention: 168h
probe:
  latency_samples: 10
  latency_bytes: 2kb
  download:
    - bytes: 1mb
      count: 4
    - bytes: 25000000
      count: 2
  upload:
    - bytes: 100kb
      count: 3
  exchange_timeout: 30
  test_timeout: 5m
  bind_device: eth0
external:
  binary_dir: /opt/fbspeed/bin
  libre_duration: 8
  test_timeout: 2m
  auto_download: false
  download_url: "https://mirror.example.net/speedtest/ "
storage:
  path: ":memory:"
metrics:
  enabled: false
  bind_addr: "::1"
  bind_port: 9100
logging:
  level: debug
  format: json
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "eth0", cfg.Interface)
	assert.Equal(t, result.ModeLibre, cfg.Mode)
	assert.Equal(t, "4242", cfg.ServerID)
	assert.False(t, cfg.Schedule.IsEnabled())
	assert.Equal(t, 10*time.Minute, cfg.Schedule.Interval.Min.Duration())
	assert.Equal(t, 168*time.Hour, cfg.Schedule.Retention.Duration())
	assert.Equal(t, int64(2000), cfg.Probe.LatencyBytes.Bytes())
	assert.Equal(t, []StageConfig{{Bytes: 1_000_000, Count: 4}, {Bytes: 25_000_000, Count: 2}}, cfg.Probe.Download)
	assert.Equal(t, []StageConfig{{Bytes: 100_000, Count: 3}}, cfg.Probe.Upload)
	assert.Equal(t, 30*time.Second, cfg.Probe.ExchangeTimeout.Duration())
	assert.Equal(t, "/opt/fbspeed/bin", cfg.External.BinaryDir)
	assert.Equal(t, 2*time.Minute, cfg.External.TestTimeout.Duration())
	assert.False(t, cfg.External.IsAutoDownload())
	assert.Equal(t, "https://mirror.example.net/speedtest", cfg.External.DownloadURL)
	assert.Equal(t, ":memory:", cfg.Storage.Path)
	assert.False(t, cfg.Metrics.IsEnabled())
	assert.Equal(t, "[::1]:9100", cfg.Metrics.Addr())
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"mode", "mode: fast", "unknown mode"},
		{"interval", "schedule: {interval: {min: 20m, max: 10m}}", "schedule.interval.max"},
		{"stage bytes", "probe: {download: [{bytes: 0, count: 1}]}", "probe.download[0].bytes"},
		{"stage count", "probe: {upload: [{bytes: 1mb, count: -1}]}", "probe.upload[0].count"},
		{"timeouts", "probe: {exchange_timeout: 20m, test_timeout: 1m}", "exchange_timeout must not exceed"},
		{"port", "metrics: {bind_port: 70000}", "metrics.bind_port"},
		{"log level", "logging: {level: loud}", "logging.level"},
		{"log format", "logging: {format: xml}", "logging.format"},
		{"size", "probe: {latency_bytes: lots}", "invalid size"},
		{"duration", "schedule: {startup_delay: soon}", "invalid duration"},
		{"external timeout", "external: {test_timeout: -1s}", "external.test_timeout must be > 0"},
		{"external timeout vs duration", "external: {test_timeout: 10s, libre_duration: 15}", "must exceed external.libre_duration"},
		{"download url", "external: {download_url: \"ftp://mirror\"}", "external.download_url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"", 0},
		{"1200", 1200},
		{"500kb", 500_000},
		{"25MB", 25_000_000},
		{"1.5mb", 1_500_000},
		{"1gb", 1_000_000_000},
		{"64b", 64},
	}
	for _, tt := range tests {
		got, err := ParseSize(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	for _, bad := range []string{"kb", "-1mb", "ten", "12abc", "1.5xmb", "nanmb", "infb"} {
		_, err := ParseSize(bad)
		assert.Error(t, err, bad)
	}
}
