package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NodePath81/fbspeed/internal/binaries"
	"github.com/NodePath81/fbspeed/internal/result"
	"github.com/NodePath81/fbspeed/internal/store"
)

func TestPrintRecord(t *testing.T) {
	var buf bytes.Buffer
	jitter := 0.8
	printRecord(&buf, store.Record{
		Mode:      result.ModeCloudflare,
		Interface: "eth0",
		Ping:      11,
		Jitter:    &jitter,
		Download:  250,
		Upload:    42.5,
		ElapsedMs: 23500,
	})
	out := buf.String()
	assert.Contains(t, out, "Ping:      11 ms (jitter 0.80 ms)")
	assert.Contains(t, out, "Download:  250 Mbps")
	assert.Contains(t, out, "Upload:    42.5 Mbps")
	assert.Contains(t, out, "Duration:  23.5s")

	buf.Reset()
	printRecord(&buf, store.Record{Mode: result.ModeOokla, Error: "no result received"})
	assert.Equal(t, "ookla test failed: no result received\n", buf.String())
}

func TestCheckConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("interface: eth0\n"), 0o644))

	var buf bytes.Buffer
	assert.Equal(t, 0, checkConfig(path, &buf))
	assert.Contains(t, buf.String(), `config valid: mode cloudflare, interface "eth0"`)
	assert.Contains(t, buf.String(), "probe plan: download 268 MB, upload 9.13 MB per test")
	assert.Contains(t, buf.String(), "probe.test_timeout 20m0s covers links down to")

	assert.Equal(t, 1, checkConfig(filepath.Join(t.TempDir(), "missing.yaml"), &buf))
}

func TestCheckConfigExternalBinary(t *testing.T) {
	if !binaries.Supported(result.ModeLibre, binaries.Current()) {
		t.Skip("librespeed-cli not available for this platform")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	doc := "mode: libre\nexternal: {binary_dir: " + filepath.Join(dir, "bin") + "}\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	var buf bytes.Buffer
	assert.Equal(t, 0, checkConfig(path, &buf))
	assert.Contains(t, buf.String(), "libre binary missing; it will be downloaded into")

	doc = "mode: libre\nexternal: {binary_dir: " + filepath.Join(dir, "bin") + ", auto_download: false}\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	buf.Reset()
	assert.Equal(t, 0, checkConfig(path, &buf))
	assert.Contains(t, buf.String(), "binary not found")
}

func TestHistoryAndStatsOnEmptyStore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	doc := "storage: {path: " + filepath.Join(dir, "h.db") + "}\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	var buf bytes.Buffer
	assert.Equal(t, 0, showHistory([]string{"--config", path}, &buf))
	assert.Contains(t, buf.String(), "ID")

	buf.Reset()
	assert.Equal(t, 0, showStatistics([]string{"--config", path, "--days", "3"}, &buf))
	assert.Contains(t, buf.String(), `"days": 3`)

	assert.Equal(t, 1, showHistory([]string{"--config", path, "--delete", "5"}, &buf))
}
