// Package sampler performs single timed HTTPS exchanges against a speed test
// endpoint over a connection pinned to a local address.
package sampler

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptrace"
	"net/netip"
	"net/url"
	"strconv"
	"time"

	"github.com/NodePath81/fbspeed/internal/util"
)

const (
	// DefaultHost is the public endpoint serving /__down and /__up.
	DefaultHost = "speed.cloudflare.com"
	// DefaultTimeout bounds a single exchange.
	DefaultTimeout = 60 * time.Second

	downPath = "/__down"
	upPath   = "/__up"
)

// ErrExchange wraps every transport-level failure of a single exchange.
var ErrExchange = errors.New("exchange failed")

// Direction selects download (GET) or upload (POST).
type Direction int

const (
	DirectionDownload Direction = iota
	DirectionUpload
)

func (d Direction) String() string {
	switch d {
	case DirectionUpload:
		return "upload"
	default:
		return "download"
	}
}

// Config configures a Sampler.
type Config struct {
	// Host is the endpoint host, optionally with port.
	Host string
	// Timeout bounds one exchange, including the body transfer.
	Timeout time.Duration
	// Device optionally pins sockets to a named interface (Linux only).
	Device string
	// TLSConfig overrides the client TLS settings; nil uses system roots.
	TLSConfig *tls.Config
}

// Sampler issues instrumented exchanges. It holds no per-exchange state.
type Sampler struct {
	cfg Config
}

func New(cfg Config) (*Sampler, error) {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Device != "" && !deviceBindingSupported() {
		return nil, fmt.Errorf("binding to device %q is not supported on this platform", cfg.Device)
	}
	return &Sampler{cfg: cfg}, nil
}

// MeasureExchange runs one download or upload of payloadBytes from
// localAddress and returns the observed phase timestamps. Every call opens a
// fresh connection so DNS, TCP and TLS setup is part of each sample.
func (s *Sampler) MeasureExchange(ctx context.Context, localAddress string, direction Direction, payloadBytes int64) (PhaseSet, error) {
	var phases PhaseSet

	local, err := netip.ParseAddr(localAddress)
	if err != nil {
		return phases, fmt.Errorf("%w: invalid local address %q", ErrExchange, localAddress)
	}
	network := "tcp4"
	if util.IsIPv6Literal(localAddress) {
		network = "tcp6"
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	transport := s.newTransport(network, local)
	defer transport.CloseIdleConnections()
	client := &http.Client{Transport: transport}

	req, err := s.newRequest(ctx, direction, payloadBytes)
	if err != nil {
		return phases, fmt.Errorf("%w: %v", ErrExchange, err)
	}

	trace := &httptrace.ClientTrace{
		DNSDone: func(httptrace.DNSDoneInfo) {
			phases.DNSDone = time.Now()
		},
		ConnectDone: func(_, _ string, err error) {
			if err == nil {
				phases.ConnectDone = time.Now()
			}
		},
		TLSHandshakeDone: func(_ tls.ConnectionState, err error) {
			if err == nil {
				phases.TLSDone = time.Now()
			}
		},
		GotFirstResponseByte: func() {
			phases.FirstByte = time.Now()
		},
	}
	req = req.WithContext(httptrace.WithClientTrace(req.Context(), trace))

	phases.Start = time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return phases, fmt.Errorf("%w: %v", ErrExchange, err)
	}
	defer resp.Body.Close()

	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return phases, fmt.Errorf("%w: reading %s body: %v", ErrExchange, direction, err)
	}
	phases.End = time.Now()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return phases, fmt.Errorf("%w: %s returned status %d", ErrExchange, direction, resp.StatusCode)
	}
	phases.ServerTiming, phases.HasServerTiming = parseServerTiming(resp.Header.Get("Server-Timing"))
	return phases, nil
}

func (s *Sampler) newTransport(network string, local netip.Addr) *http.Transport {
	dialer := &net.Dialer{
		LocalAddr: &net.TCPAddr{IP: local.AsSlice(), Zone: local.Zone()},
		Timeout:   s.cfg.Timeout,
	}
	if s.cfg.Device != "" {
		dialer.Control = bindToDevice(s.cfg.Device)
	}
	tlsConfig := &tls.Config{}
	if s.cfg.TLSConfig != nil {
		tlsConfig = s.cfg.TLSConfig.Clone()
	}
	return &http.Transport{
		Proxy: nil,
		DialContext: func(ctx context.Context, _, addr string) (net.Conn, error) {
			return dialer.DialContext(ctx, network, addr)
		},
		TLSClientConfig:     tlsConfig,
		TLSHandshakeTimeout: s.cfg.Timeout,
		DisableKeepAlives:   true,
		DisableCompression:  true,
	}
}

func (s *Sampler) newRequest(ctx context.Context, direction Direction, payloadBytes int64) (*http.Request, error) {
	if payloadBytes < 0 {
		return nil, fmt.Errorf("payload must be >= 0, got %d", payloadBytes)
	}
	u := url.URL{Scheme: "https", Host: s.cfg.Host}
	switch direction {
	case DirectionUpload:
		u.Path = upPath
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), io.LimitReader(fillReader{}, payloadBytes))
		if err != nil {
			return nil, err
		}
		req.ContentLength = payloadBytes
		req.Header.Set("Content-Type", "text/plain")
		return req, nil
	default:
		u.Path = downPath
		u.RawQuery = "bytes=" + strconv.FormatInt(payloadBytes, 10)
		return http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	}
}

// fillReader yields an endless stream of '0' bytes.
type fillReader struct{}

func (fillReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = '0'
	}
	return len(p), nil
}
