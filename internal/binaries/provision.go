package binaries

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"

	"github.com/NodePath81/fbspeed/internal/result"
)

// Release archives are a few MB; anything past this is not what we asked for.
const maxArchiveBytes = 64 << 20

// Provision returns the executable for mode like Resolve. When the binary is
// missing and Download is set, the release archive for Platform is fetched and
// only the executable is unpacked into Dir.
func (c Catalog) Provision(ctx context.Context, mode result.Mode) (string, error) {
	exe, err := c.Resolve(mode)
	if err == nil || !c.Download || !errors.Is(err, ErrMissing) {
		return exe, err
	}
	b := catalog[mode]
	archive := b.archives[c.Platform]
	if archive == "" {
		return "", fmt.Errorf("%w (no download available for %s)", err, c.Platform)
	}
	base := b.baseURL
	if c.BaseURL != "" {
		base = strings.TrimRight(c.BaseURL, "/") + "/"
	}
	name, err := FileName(mode, c.Platform.OS)
	if err != nil {
		return "", err
	}
	exe = filepath.Join(c.Dir, name)
	if err := c.install(ctx, base+archive, name, exe); err != nil {
		return "", fmt.Errorf("download %s: %w", b.product, err)
	}
	return exe, nil
}

func (c Catalog) install(ctx context.Context, url, name, dest string) error {
	data, err := c.fetch(ctx, url)
	if err != nil {
		return err
	}
	var body []byte
	if strings.HasSuffix(url, ".zip") {
		body, err = extractZip(data, name)
	} else {
		body, err = extractTarGz(data, name)
	}
	if err != nil {
		return err
	}

	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(c.Dir, name+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o755); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dest)
}

func (c Catalog) fetch(ctx context.Context, url string) ([]byte, error) {
	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxArchiveBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxArchiveBytes {
		return nil, fmt.Errorf("GET %s: archive larger than %d bytes", url, maxArchiveBytes)
	}
	return data, nil
}

func extractTarGz(data []byte, name string) ([]byte, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer gz.Close()
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%s not found in archive", name)
		}
		if err != nil {
			return nil, err
		}
		if hdr.Typeflag != tar.TypeReg || path.Base(hdr.Name) != name {
			continue
		}
		return io.ReadAll(io.LimitReader(tr, maxArchiveBytes))
	}
}

func extractZip(data []byte, name string) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || path.Base(f.Name) != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(io.LimitReader(rc, maxArchiveBytes))
	}
	return nil, fmt.Errorf("%s not found in archive", name)
}
