// Package control serves the operational HTTP endpoints: Prometheus metrics,
// a health document and a websocket stream of monitor status.
package control

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/NodePath81/fbspeed/internal/config"
	"github.com/NodePath81/fbspeed/internal/metrics"
	"github.com/NodePath81/fbspeed/internal/monitor"
	"github.com/NodePath81/fbspeed/internal/result"
	"github.com/NodePath81/fbspeed/internal/util"
	"github.com/NodePath81/fbspeed/internal/version"
)

const shutdownTimeout = 3 * time.Second

// StatusSource reports the monitor state. *monitor.Runner implements it.
type StatusSource interface {
	Status() monitor.Status
}

type ControlServer struct {
	cfg     config.MetricsConfig
	metrics *metrics.Metrics
	status  StatusSource
	hub     *StatusHub
	logger  util.Logger
	server  *http.Server
}

type healthResponse struct {
	Ok          bool               `json:"ok"`
	Version     string             `json:"version"`
	Monitor     monitor.Status     `json:"monitor"`
	LastSuccess *result.TestResult `json:"last_success,omitempty"`
}

// NewControlServer builds the server. hub may be nil, which disables /status.
func NewControlServer(cfg config.MetricsConfig, metrics *metrics.Metrics, status StatusSource, hub *StatusHub, logger util.Logger) *ControlServer {
	return &ControlServer{
		cfg:     cfg,
		metrics: metrics,
		status:  status,
		hub:     hub,
		logger:  logger,
	}
}

func (c *ControlServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", c.handleMetrics)
	mux.HandleFunc("/healthz", c.handleHealth)
	mux.HandleFunc("/status", c.handleStatus)
	return mux
}

// Start listens on the configured address and serves until ctx is done.
func (c *ControlServer) Start(ctx context.Context) error {
	addr := c.cfg.Addr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	c.server = &http.Server{
		Handler:           c.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = c.server.Shutdown(shutdownCtx)
	}()

	go func() {
		if err := c.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Error("control server error", "error", err)
		}
	}()
	c.logger.Info("control server started", "addr", ln.Addr().String())
	return nil
}

func (c *ControlServer) Shutdown(ctx context.Context) error {
	if c.server == nil {
		return nil
	}
	return c.server.Shutdown(ctx)
}

func (c *ControlServer) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if !c.checkAuth(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if c.metrics == nil {
		http.Error(w, "metrics disabled", http.StatusNotFound)
		return
	}
	c.metrics.Handler().ServeHTTP(w, r)
}

func (c *ControlServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	resp := healthResponse{Ok: true, Version: version.Version}
	if c.status != nil {
		resp.Monitor = c.status.Status()
		if res, ok := c.metrics.LastResult(resp.Monitor.Mode); ok {
			resp.LastSuccess = &res
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// checkAuth passes every request when no token is configured.
func (c *ControlServer) checkAuth(r *http.Request) bool {
	if c.cfg.AuthToken == "" {
		return true
	}
	token, ok := bearerToken(r)
	if !ok {
		return false
	}
	return secureTokenEqual(token, c.cfg.AuthToken)
}

func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", false
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(auth, prefix))
	if token == "" {
		return "", false
	}
	return token, true
}

func secureTokenEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
