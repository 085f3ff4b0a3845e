package app

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NodePath81/fbspeed/internal/config"
	"github.com/NodePath81/fbspeed/internal/external"
	"github.com/NodePath81/fbspeed/internal/probe"
	"github.com/NodePath81/fbspeed/internal/result"
	"github.com/NodePath81/fbspeed/internal/util"
)

func TestBuildEngine(t *testing.T) {
	cfg := config.Default()

	engine, err := BuildEngine(cfg, nil, util.DiscardLogger())
	require.NoError(t, err)
	assert.IsType(t, &probe.Engine{}, engine)

	cfg.Mode = result.ModeLibre
	engine, err = BuildEngine(cfg, nil, util.DiscardLogger())
	require.NoError(t, err)
	assert.IsType(t, &external.Engine{}, engine)

	cfg.Mode = "speedy"
	_, err = BuildEngine(cfg, nil, util.DiscardLogger())
	assert.ErrorIs(t, err, result.ErrConfig)
}

func TestProbeConfigFromYAML(t *testing.T) {
	cfg, err := config.Parse([]byte("probe: {download: [{bytes: 1mb, count: 2}], latency_bytes: 2kb}"))
	require.NoError(t, err)

	pc := probeConfig(cfg.Probe)
	assert.Equal(t, []probe.Stage{{Bytes: 1_000_000, Count: 2}}, pc.DownloadPlan)
	assert.Nil(t, pc.UploadPlan)
	assert.Equal(t, int64(2000), pc.LatencyBytes)
	assert.Equal(t, cfg.Probe.TestTimeout.Duration(), pc.TestTimeout)
}

func TestSupervisorLifecycle(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	doc := "schedule: {enabled: false}\nmetrics: {enabled: false}\nstorage: {path: " + filepath.Join(dir, "history.db") + "}\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	s := NewSupervisor(path, io.Discard, util.DiscardLogger())
	require.NoError(t, s.Start())
	require.NoError(t, s.Restart())
	s.Stop()

	_, err := os.Stat(filepath.Join(dir, "history.db"))
	assert.NoError(t, err)
}

func TestSupervisorRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mode: nope\n"), 0o644))

	s := NewSupervisor(path, io.Discard, util.DiscardLogger())
	assert.Error(t, s.Start())
	s.Stop()
}

func TestPlanTotals(t *testing.T) {
	down, up := PlanTotals(config.ProbeConfig{})
	assert.Equal(t, int64(268_120_000), down)
	assert.Equal(t, int64(9_128_000), up)

	down, _ = PlanTotals(config.ProbeConfig{Download: []config.StageConfig{{Bytes: 500, Count: 3}}})
	assert.Equal(t, int64(1500), down)
}

func TestBuildCatalog(t *testing.T) {
	cfg, err := config.Parse([]byte("external: {binary_dir: /srv/bin, download_url: \"https://mirror.example.net/cli/\"}"))
	require.NoError(t, err)

	catalog := BuildCatalog(cfg.External)
	assert.Equal(t, "/srv/bin", catalog.Dir)
	assert.True(t, catalog.Download)
	assert.Equal(t, "https://mirror.example.net/cli", catalog.BaseURL)
}

func TestRuntimePublishesMonitorEvents(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Path = ":memory:"
	rt, err := NewRuntime(cfg, util.DiscardLogger())
	require.NoError(t, err)
	defer rt.Stop()

	require.NotNil(t, rt.control)
	assert.NotNil(t, rt.runner.OnEvent)

	cfg.Metrics.Enabled = new(bool)
	rt2, err := NewRuntime(cfg, util.DiscardLogger())
	require.NoError(t, err)
	defer rt2.Stop()
	assert.Nil(t, rt2.control)
	assert.Nil(t, rt2.runner.OnEvent)
}

func TestMinimumLinkRate(t *testing.T) {
	cfg := config.Default()
	assert.Less(t, MinimumLinkRate(cfg.Probe), 1_000_000.0)
}
