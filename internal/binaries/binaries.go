// Package binaries locates the third-party speed test executables and knows
// which platforms each one ships for.
package binaries

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"runtime"

	"github.com/NodePath81/fbspeed/internal/result"
)

var (
	ErrUnsupportedPlatform = errors.New("unsupported platform")
	ErrMissing             = errors.New("binary not found")
)

// Platform is a GOOS/GOARCH pair.
type Platform struct {
	OS   string
	Arch string
}

func (p Platform) String() string {
	return p.OS + "-" + p.Arch
}

// Current returns the platform this process runs on.
func Current() Platform {
	return Platform{OS: runtime.GOOS, Arch: runtime.GOARCH}
}

type binary struct {
	name    string
	product string
	// baseURL is where vendor release archives live.
	baseURL string
	// archives maps every supported platform to its release archive. An
	// empty name means the platform is supported but cannot be downloaded.
	archives map[Platform]string
}

const (
	ooklaVersion = "1.2.0"
	libreVersion = "1.0.12"
)

func ooklaArchive(suffix string) string {
	return "ookla-speedtest-" + ooklaVersion + "-" + suffix
}

func libreArchive(osArch, ext string) string {
	return "librespeed-cli_" + libreVersion + "_" + osArch + ext
}

var catalog = map[result.Mode]binary{
	result.ModeOokla: {
		name:    "speedtest",
		product: "Speedtest CLI",
		baseURL: "https://install.speedtest.net/app/cli/",
		archives: map[Platform]string{
			{"linux", "amd64"}:   ooklaArchive("linux-x86_64.tgz"),
			{"linux", "386"}:     ooklaArchive("linux-i386.tgz"),
			{"linux", "arm"}:     ooklaArchive("linux-armhf.tgz"),
			{"linux", "arm64"}:   ooklaArchive("linux-aarch64.tgz"),
			{"darwin", "amd64"}:  ooklaArchive("macosx-universal.tgz"),
			{"darwin", "arm64"}:  ooklaArchive("macosx-universal.tgz"),
			{"windows", "amd64"}: ooklaArchive("win64.zip"),
			// Only shipped as a FreeBSD package.
			{"freebsd", "amd64"}: "",
		},
	},
	result.ModeLibre: {
		name:    "librespeed-cli",
		product: "LibreSpeed CLI",
		baseURL: "https://github.com/librespeed/speedtest-cli/releases/download/v" + libreVersion + "/",
		archives: map[Platform]string{
			{"linux", "amd64"}:    libreArchive("linux_amd64", ".tar.gz"),
			{"linux", "386"}:      libreArchive("linux_386", ".tar.gz"),
			{"linux", "arm"}:      libreArchive("linux_armv7", ".tar.gz"),
			{"linux", "arm64"}:    libreArchive("linux_arm64", ".tar.gz"),
			{"linux", "mips"}:     libreArchive("linux_mips", ".tar.gz"),
			{"linux", "mipsle"}:   libreArchive("linux_mipsle", ".tar.gz"),
			{"linux", "mips64"}:   libreArchive("linux_mips64", ".tar.gz"),
			{"linux", "mips64le"}: libreArchive("linux_mips64le", ".tar.gz"),
			{"darwin", "amd64"}:   libreArchive("darwin_amd64", ".tar.gz"),
			{"darwin", "arm64"}:   libreArchive("darwin_arm64", ".tar.gz"),
			{"windows", "amd64"}:  libreArchive("windows_amd64", ".zip"),
			{"windows", "386"}:    libreArchive("windows_386", ".zip"),
			{"windows", "arm64"}:  libreArchive("windows_arm64", ".zip"),
			{"freebsd", "amd64"}:  libreArchive("freebsd_amd64", ".tar.gz"),
			{"freebsd", "386"}:    libreArchive("freebsd_386", ".tar.gz"),
			{"freebsd", "arm64"}:  libreArchive("freebsd_arm64", ".tar.gz"),
		},
	},
}

// Supported reports whether mode has a binary for platform.
func Supported(mode result.Mode, platform Platform) bool {
	b, ok := catalog[mode]
	if !ok {
		return false
	}
	_, ok = b.archives[platform]
	return ok
}

// FileName returns the executable file name for mode on goos.
func FileName(mode result.Mode, goos string) (string, error) {
	b, ok := catalog[mode]
	if !ok {
		return "", fmt.Errorf("%w: mode %q has no external binary", result.ErrConfig, mode)
	}
	if goos == "windows" {
		return b.name + ".exe", nil
	}
	return b.name, nil
}

// Catalog resolves binaries inside Dir for a fixed platform.
type Catalog struct {
	Dir      string
	Platform Platform
	// Download lets Provision fetch missing binaries.
	Download bool
	// BaseURL, when set, replaces the vendor download location.
	BaseURL string
	// Client fetches archives; nil uses a default client.
	Client *http.Client
}

func NewCatalog(dir string) Catalog {
	return Catalog{Dir: dir, Platform: Current()}
}

// Resolve returns the path of the executable for mode. Unsupported platforms
// and missing files are configuration errors.
func (c Catalog) Resolve(mode result.Mode) (string, error) {
	b, ok := catalog[mode]
	if !ok {
		return "", fmt.Errorf("%w: mode %q has no external binary", result.ErrConfig, mode)
	}
	if !Supported(mode, c.Platform) {
		return "", fmt.Errorf("%w: %w: your platform (%s) is not supported by the %s", result.ErrConfig, ErrUnsupportedPlatform, c.Platform, b.product)
	}
	name, err := FileName(mode, c.Platform.OS)
	if err != nil {
		return "", err
	}
	path := filepath.Join(c.Dir, name)
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("%w: %w: %s", result.ErrConfig, ErrMissing, path)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %w: %s is a directory", result.ErrConfig, ErrMissing, path)
	}
	return path, nil
}
