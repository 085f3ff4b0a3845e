package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/NodePath81/fbspeed/internal/config"
	"github.com/NodePath81/fbspeed/internal/control"
	"github.com/NodePath81/fbspeed/internal/metrics"
	"github.com/NodePath81/fbspeed/internal/monitor"
	"github.com/NodePath81/fbspeed/internal/store"
	"github.com/NodePath81/fbspeed/internal/util"
)

type Runtime struct {
	cfg     config.Config
	ctx     context.Context
	cancel  context.CancelFunc
	logger  util.Logger
	store   *store.Store
	metrics *metrics.Metrics
	runner  *monitor.Runner
	control *control.ControlServer
	wg      sync.WaitGroup
}

func NewRuntime(cfg config.Config, logger util.Logger) (*Runtime, error) {
	ctx, cancel := context.WithCancel(context.Background())

	st, err := store.Open(cfg.Storage.Path)
	if err != nil {
		cancel()
		return nil, err
	}

	var m *metrics.Metrics
	if cfg.Metrics.IsEnabled() {
		m = metrics.NewMetrics()
	}

	runner, err := BuildRunner(cfg, st, m, logger)
	if err != nil {
		cancel()
		st.Close()
		return nil, err
	}

	rt := &Runtime{
		cfg:     cfg,
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger,
		store:   st,
		metrics: m,
		runner:  runner,
	}
	if m != nil {
		hub := control.NewStatusHub(ctx.Done())
		runner.OnEvent = hub.Publish
		rt.control = control.NewControlServer(cfg.Metrics, m, runner, hub, logger)
	}
	return rt, nil
}

func (r *Runtime) Start() error {
	if last, err := r.store.Latest(r.ctx); err == nil {
		r.runner.Restore(last)
	} else if !errors.Is(err, store.ErrNotFound) {
		r.logger.Warn("read latest result failed", "error", err)
	}
	if r.control != nil {
		if err := r.control.Start(r.ctx); err != nil {
			return err
		}
	}
	if r.cfg.Schedule.IsEnabled() {
		r.startMonitor()
	} else {
		r.logger.Info("scheduled tests disabled")
	}
	return nil
}

func (r *Runtime) Stop() {
	r.cancel()
	if r.control != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = r.control.Shutdown(ctx)
		cancel()
	}
	r.wait()
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Error("store close failed", "error", err)
		}
	}
}

func (r *Runtime) startMonitor() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.logger.Info("monitor started",
			"mode", r.cfg.Mode,
			"interface", r.cfg.Interface,
			"interval_min", r.cfg.Schedule.Interval.Min.Duration(),
			"interval_max", r.cfg.Schedule.Interval.Max.Duration(),
		)
		r.runner.RunLoop(r.ctx)
	}()
}

func (r *Runtime) wait() {
	r.wg.Wait()
}
