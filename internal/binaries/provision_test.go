package binaries

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NodePath81/fbspeed/internal/result"
)

func tarGz(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, body := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(body)), Typeflag: tar.TypeReg}))
		_, err := tw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func zipped(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// archiveServer serves body at /name and counts requests.
func archiveServer(t *testing.T, name string, body []byte) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != "/"+name {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestProvisionDownloadsTarGz(t *testing.T) {
	archive := tarGz(t, map[string]string{
		"speedtest.md": "docs",
		"speedtest.5":  "man page",
		"speedtest":    "#!/bin/sh\necho ok\n",
	})
	srv, hits := archiveServer(t, "ookla-speedtest-1.2.0-linux-x86_64.tgz", archive)

	dir := filepath.Join(t.TempDir(), "bin")
	c := Catalog{Dir: dir, Platform: Platform{"linux", "amd64"}, Download: true, BaseURL: srv.URL + "/", Client: srv.Client()}
	path, err := c.Provision(context.Background(), result.ModeOokla)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "speedtest"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "#!/bin/sh\necho ok\n", string(data))
	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())
	}
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	_, err = c.Provision(context.Background(), result.ModeOokla)
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())
}

func TestProvisionDownloadsZip(t *testing.T) {
	archive := zipped(t, map[string]string{
		"librespeed-cli_1.0.12_windows_amd64/LICENSE":            "MIT",
		"librespeed-cli_1.0.12_windows_amd64/librespeed-cli.exe": "MZ",
	})
	srv, _ := archiveServer(t, "librespeed-cli_1.0.12_windows_amd64.zip", archive)

	dir := t.TempDir()
	c := Catalog{Dir: dir, Platform: Platform{"windows", "amd64"}, Download: true, BaseURL: srv.URL, Client: srv.Client()}
	path, err := c.Provision(context.Background(), result.ModeLibre)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "librespeed-cli.exe"), path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "MZ", string(data))
}

func TestProvisionDisabled(t *testing.T) {
	srv, hits := archiveServer(t, "ookla-speedtest-1.2.0-linux-x86_64.tgz", nil)
	c := Catalog{Dir: t.TempDir(), Platform: Platform{"linux", "amd64"}, BaseURL: srv.URL}
	_, err := c.Provision(context.Background(), result.ModeOokla)
	assert.True(t, errors.Is(err, ErrMissing))
	assert.Zero(t, hits.Load())
}

func TestProvisionFailures(t *testing.T) {
	tests := []struct {
		name    string
		archive []byte
		path    string
		want    string
	}{
		{"not found", nil, "other.tgz", "status 404"},
		{"binary absent", tarGz(t, map[string]string{"README": "x"}), "ookla-speedtest-1.2.0-linux-x86_64.tgz", "speedtest not found in archive"},
		{"not gzip", []byte("plain text"), "ookla-speedtest-1.2.0-linux-x86_64.tgz", "gzip"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := archiveServer(t, tt.path, tt.archive)
			dir := t.TempDir()
			c := Catalog{Dir: dir, Platform: Platform{"linux", "amd64"}, Download: true, BaseURL: srv.URL, Client: srv.Client()}
			_, err := c.Provision(context.Background(), result.ModeOokla)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "download Speedtest CLI")
			assert.Contains(t, err.Error(), tt.want)
			entries, err := os.ReadDir(dir)
			require.NoError(t, err)
			assert.Empty(t, entries)
		})
	}
}

func TestProvisionWithoutArchive(t *testing.T) {
	c := Catalog{Dir: t.TempDir(), Platform: Platform{"freebsd", "amd64"}, Download: true, BaseURL: "http://127.0.0.1:1"}
	_, err := c.Provision(context.Background(), result.ModeOokla)
	assert.True(t, errors.Is(err, ErrMissing))
	assert.Contains(t, err.Error(), "no download available for freebsd-amd64")
}

func TestProvisionUnsupportedPlatform(t *testing.T) {
	c := Catalog{Dir: t.TempDir(), Platform: Platform{"plan9", "386"}, Download: true}
	_, err := c.Provision(context.Background(), result.ModeOokla)
	assert.True(t, errors.Is(err, ErrUnsupportedPlatform))
}
