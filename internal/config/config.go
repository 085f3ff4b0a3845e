package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"gopkg.in/yaml.v3"

	"github.com/NodePath81/fbspeed/internal/result"
	"github.com/NodePath81/fbspeed/internal/util"
)

const (
	defaultMode = result.ModeCloudflare

	defaultScheduleStartupDelay    = 10 * time.Second
	defaultScheduleMinInterval     = 55 * time.Minute
	defaultScheduleMaxInterval     = 65 * time.Minute
	defaultScheduleRetention       = 30 * 24 * time.Hour
	defaultScheduleCleanupInterval = 1 * time.Hour

	defaultProbeHost            = "speed.cloudflare.com"
	defaultProbeLatencySamples  = 20
	defaultProbeLatencyBytes    = 1000
	defaultProbeExchangeTimeout = 60 * time.Second
	defaultProbeTestTimeout     = 20 * time.Minute

	defaultExternalBinaryDir     = "bin"
	defaultExternalLibreDuration = 5
	defaultExternalTestTimeout   = 5 * time.Minute
	defaultExternalAutoDownload  = true

	defaultStoragePath = "fbspeed.db"

	defaultMetricsAddr    = "127.0.0.1"
	defaultMetricsPort    = 9469
	defaultMetricsEnabled = true

	defaultLogLevel  = "info"
	defaultLogFormat = "text"
)

type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be a scalar")
	}
	switch value.Tag {
	case "!!int", "!!float":
		var secs float64
		if err := value.Decode(&secs); err != nil {
			return err
		}
		*d = Duration(time.Duration(secs * float64(time.Second)))
		return nil
	default:
		var raw string
		if err := value.Decode(&raw); err != nil {
			return err
		}
		if raw == "" {
			*d = 0
			return nil
		}
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
		return nil
	}
}

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

type Config struct {
	// Interface is the local interface tests bind to. Empty selects the
	// first non-loopback interface that is up.
	Interface string         `yaml:"interface"`
	Mode      result.Mode    `yaml:"mode"`
	ServerID  string         `yaml:"server_id"`
	Schedule  ScheduleConfig `yaml:"schedule"`
	Probe     ProbeConfig    `yaml:"probe"`
	External  ExternalConfig `yaml:"external"`
	Storage   StorageConfig  `yaml:"storage"`
	Metrics   MetricsConfig  `yaml:"metrics"`
	Logging   LoggingConfig  `yaml:"logging"`
}

type ScheduleConfig struct {
	Enabled         *bool          `yaml:"enabled"`
	StartupDelay    Duration       `yaml:"startup_delay"`
	Interval        IntervalConfig `yaml:"interval"`
	Retention       Duration       `yaml:"retention"`
	CleanupInterval Duration       `yaml:"cleanup_interval"`
}

type IntervalConfig struct {
	Min Duration `yaml:"min"`
	Max Duration `yaml:"max"`
}

func (s ScheduleConfig) IsEnabled() bool {
	return util.BoolValue(s.Enabled, true)
}

type ProbeConfig struct {
	Host            string        `yaml:"host"`
	LatencySamples  int           `yaml:"latency_samples"`
	LatencyBytes    Size          `yaml:"latency_bytes"`
	Download        []StageConfig `yaml:"download"`
	Upload          []StageConfig `yaml:"upload"`
	ExchangeTimeout Duration      `yaml:"exchange_timeout"`
	TestTimeout     Duration      `yaml:"test_timeout"`
	BindDevice      string        `yaml:"bind_device"`
}

// StageConfig is one leg of a download or upload plan.
type StageConfig struct {
	Bytes Size `yaml:"bytes"`
	Count int  `yaml:"count"`
}

type ExternalConfig struct {
	BinaryDir     string   `yaml:"binary_dir"`
	LibreDuration int      `yaml:"libre_duration"`
	TestTimeout   Duration `yaml:"test_timeout"`
	// AutoDownload fetches a missing CLI into BinaryDir before the first run.
	AutoDownload *bool `yaml:"auto_download"`
	// DownloadURL replaces the vendor download host, e.g. with a mirror.
	DownloadURL string `yaml:"download_url"`
}

func (e ExternalConfig) IsAutoDownload() bool {
	return util.BoolValue(e.AutoDownload, defaultExternalAutoDownload)
}

type StorageConfig struct {
	// Path of the sqlite database. ":memory:" keeps history in RAM.
	Path string `yaml:"path"`
}

type MetricsConfig struct {
	Enabled  *bool  `yaml:"enabled"`
	BindAddr string `yaml:"bind_addr"`
	BindPort int    `yaml:"bind_port"`
	// AuthToken, when set, is required as a bearer token on /metrics.
	AuthToken string `yaml:"auth_token"`
}

func (m MetricsConfig) IsEnabled() bool {
	return util.BoolValue(m.Enabled, defaultMetricsEnabled)
}

func (m MetricsConfig) Addr() string {
	return util.NetJoin(m.BindAddr, m.BindPort)
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func LoadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(raw)
}

// Parse decodes, defaults and validates a YAML document.
func Parse(raw []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, err
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() Config {
	var cfg Config
	cfg.setDefaults()
	return cfg
}

func (c *Config) setDefaults() {
	c.Interface = strings.TrimSpace(c.Interface)
	c.ServerID = strings.TrimSpace(c.ServerID)
	if c.Mode == "" {
		c.Mode = defaultMode
	}
	c.Mode = result.Mode(strings.ToLower(strings.TrimSpace(string(c.Mode))))

	if c.Schedule.StartupDelay == 0 {
		c.Schedule.StartupDelay = Duration(defaultScheduleStartupDelay)
	}
	if c.Schedule.Interval.Min == 0 {
		c.Schedule.Interval.Min = Duration(defaultScheduleMinInterval)
	}
	if c.Schedule.Interval.Max == 0 {
		c.Schedule.Interval.Max = Duration(defaultScheduleMaxInterval)
	}
	if c.Schedule.Retention == 0 {
		c.Schedule.Retention = Duration(defaultScheduleRetention)
	}
	if c.Schedule.CleanupInterval == 0 {
		c.Schedule.CleanupInterval = Duration(defaultScheduleCleanupInterval)
	}

	if c.Probe.Host == "" {
		c.Probe.Host = defaultProbeHost
	}
	if c.Probe.LatencySamples == 0 {
		c.Probe.LatencySamples = defaultProbeLatencySamples
	}
	if c.Probe.LatencyBytes == 0 {
		c.Probe.LatencyBytes = defaultProbeLatencyBytes
	}
	if c.Probe.ExchangeTimeout == 0 {
		c.Probe.ExchangeTimeout = Duration(defaultProbeExchangeTimeout)
	}
	if c.Probe.TestTimeout == 0 {
		c.Probe.TestTimeout = Duration(defaultProbeTestTimeout)
	}

	if c.External.BinaryDir == "" {
		c.External.BinaryDir = defaultExternalBinaryDir
	}
	if c.External.LibreDuration == 0 {
		c.External.LibreDuration = defaultExternalLibreDuration
	}
	if c.External.TestTimeout == 0 {
		c.External.TestTimeout = Duration(defaultExternalTestTimeout)
	}
	c.External.DownloadURL = strings.TrimRight(strings.TrimSpace(c.External.DownloadURL), "/")

	if c.Storage.Path == "" {
		c.Storage.Path = defaultStoragePath
	}

	if c.Metrics.BindAddr == "" {
		c.Metrics.BindAddr = defaultMetricsAddr
	}
	if c.Metrics.BindPort == 0 {
		c.Metrics.BindPort = defaultMetricsPort
	}

	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
}

func (c *Config) validate() error {
	if _, err := result.ParseMode(string(c.Mode)); err != nil {
		return fmt.Errorf("mode: %w", err)
	}

	if c.Schedule.StartupDelay.Duration() < 0 {
		return errors.New("schedule.startup_delay must be >= 0")
	}
	if c.Schedule.Interval.Min.Duration() <= 0 {
		return errors.New("schedule.interval.min must be > 0")
	}
	if c.Schedule.Interval.Max.Duration() < c.Schedule.Interval.Min.Duration() {
		return errors.New("schedule.interval.max must be >= schedule.interval.min")
	}
	if c.Schedule.Retention.Duration() < 0 {
		return errors.New("schedule.retention must be >= 0")
	}
	if c.Schedule.CleanupInterval.Duration() <= 0 {
		return errors.New("schedule.cleanup_interval must be > 0")
	}

	if c.Probe.LatencySamples < 0 {
		return errors.New("probe.latency_samples must be > 0")
	}
	if c.Probe.LatencyBytes < 0 {
		return errors.New("probe.latency_bytes must be >= 0")
	}
	if err := validateStages("probe.download", c.Probe.Download); err != nil {
		return err
	}
	if err := validateStages("probe.upload", c.Probe.Upload); err != nil {
		return err
	}
	if c.Probe.ExchangeTimeout.Duration() <= 0 || c.Probe.TestTimeout.Duration() <= 0 {
		return errors.New("probe.exchange_timeout and test_timeout must be > 0")
	}
	if c.Probe.ExchangeTimeout.Duration() > c.Probe.TestTimeout.Duration() {
		return errors.New("probe.exchange_timeout must not exceed probe.test_timeout")
	}

	if c.External.LibreDuration < 0 {
		return errors.New("external.libre_duration must be > 0")
	}
	if c.External.TestTimeout.Duration() <= 0 {
		return errors.New("external.test_timeout must be > 0")
	}
	if c.External.TestTimeout.Duration() <= time.Duration(c.External.LibreDuration)*time.Second {
		return errors.New("external.test_timeout must exceed external.libre_duration")
	}
	if c.External.DownloadURL != "" {
		u, err := url.Parse(c.External.DownloadURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("external.download_url must be an http(s) URL: %q", c.External.DownloadURL)
		}
	}

	if c.Metrics.BindPort <= 0 || c.Metrics.BindPort > 65535 {
		return errors.New("metrics.bind_port must be in 1..65535")
	}

	if _, err := log.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json", "logfmt":
	default:
		return fmt.Errorf("logging.format must be text, json or logfmt: %q", c.Logging.Format)
	}
	return nil
}

func validateStages(path string, stages []StageConfig) error {
	for i, st := range stages {
		if st.Bytes <= 0 {
			return fmt.Errorf("%s[%d].bytes must be > 0", path, i)
		}
		if st.Count <= 0 {
			return fmt.Errorf("%s[%d].count must be > 0", path, i)
		}
	}
	return nil
}
