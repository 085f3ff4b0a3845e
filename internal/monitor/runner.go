// Package monitor runs speed tests on demand and on a jittered schedule,
// recording each outcome to metrics and the result store.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/NodePath81/fbspeed/internal/iface"
	"github.com/NodePath81/fbspeed/internal/metrics"
	"github.com/NodePath81/fbspeed/internal/result"
	"github.com/NodePath81/fbspeed/internal/store"
	"github.com/NodePath81/fbspeed/internal/util"
)

// ErrTestRunning is returned when a run is requested while another is active.
var ErrTestRunning = errors.New("a speed test is already running")

// Events passed to Runner.OnEvent.
const (
	EventTestStarted  = "test_started"
	EventTestFinished = "test_finished"
)

// Engine is one measurement backend.
type Engine interface {
	Run(ctx context.Context, target result.Target) result.TestResult
}

// Store is the subset of *store.Store the runner writes to.
type Store interface {
	Insert(ctx context.Context, rec store.Record) (int64, error)
	DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error)
}

// ResolveFunc maps the configured interface name to a target. An empty name
// selects the default interface.
type ResolveFunc func(name string) (result.Target, error)

type Config struct {
	Mode            result.Mode
	Interface       string
	ServerID        string
	StartupDelay    time.Duration
	Retention       time.Duration
	CleanupInterval time.Duration
}

type Runner struct {
	cfg       Config
	engines   map[result.Mode]Engine
	resolve   ResolveFunc
	store     Store
	metrics   *metrics.Metrics
	scheduler *Scheduler
	logger    util.Logger

	// OnEvent, when set, receives a status snapshot when a run starts and
	// after it finishes, whatever the outcome.
	OnEvent func(event string, status Status)

	running atomic.Bool

	mu                  sync.Mutex
	runningSince        time.Time
	nextRun             time.Time
	last                *store.Record
	consecutiveFailures int
}

// Status is a snapshot of the runner.
type Status struct {
	Mode                result.Mode   `json:"mode"`
	Interface           string        `json:"interface"`
	Running             bool          `json:"running"`
	RunningSince        *time.Time    `json:"running_since,omitempty"`
	NextRun             *time.Time    `json:"next_run,omitempty"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	Last                *store.Record `json:"last,omitempty"`
}

func NewRunner(cfg Config, engines map[result.Mode]Engine, resolve ResolveFunc, st Store, metrics *metrics.Metrics, scheduler *Scheduler, logger util.Logger) *Runner {
	if resolve == nil {
		resolve = ResolveTarget
	}
	return &Runner{
		cfg:       cfg,
		engines:   engines,
		resolve:   resolve,
		store:     st,
		metrics:   metrics,
		scheduler: scheduler,
		logger:    logger,
	}
}

// ResolveTarget resolves name (or the default interface) through the iface
// package.
func ResolveTarget(name string) (result.Target, error) {
	if name == "" {
		ifc, err := iface.Default()
		if err != nil {
			return result.Target{}, err
		}
		return result.Target{Interface: ifc.Name, Address: ifc.Address}, nil
	}
	addr, err := iface.Resolve(name)
	if err != nil {
		return result.Target{}, err
	}
	return result.Target{Interface: name, Address: addr}, nil
}

// RunOnce performs one test. Test failures are part of the returned record;
// the error is reserved for ErrTestRunning, cancellation and storage failures.
func (r *Runner) RunOnce(ctx context.Context, kind store.Kind) (store.Record, error) {
	if !r.running.CompareAndSwap(false, true) {
		return store.Record{}, ErrTestRunning
	}
	start := time.Now()
	r.setRunning(start)
	r.notify(EventTestStarted)

	rec, err := r.runOnce(ctx, kind, start)

	r.setRunning(time.Time{})
	r.running.Store(false)
	r.notify(EventTestFinished)
	return rec, err
}

func (r *Runner) runOnce(ctx context.Context, kind store.Kind, start time.Time) (store.Record, error) {
	runID := uuid.NewString()
	mode := r.cfg.Mode
	r.logger.Info("speed test started", "run_id", runID, "mode", mode, "type", kind)

	res, target := r.execute(ctx, mode)
	duration := time.Since(start)
	if res.Failed() && ctx.Err() != nil {
		r.logger.Warn("speed test cancelled", "run_id", runID, "mode", mode)
		return store.Record{}, ctx.Err()
	}
	r.metrics.ObserveResult(mode, res, duration)

	rec := store.FromResult(runID, mode, kind, target.Interface, res)
	rec.Created = start
	if rec.ElapsedMs == 0 {
		rec.ElapsedMs = duration.Milliseconds()
	}
	if r.store != nil {
		id, err := r.store.Insert(ctx, rec)
		if err != nil {
			return rec, fmt.Errorf("store result: %w", err)
		}
		rec.ID = id
	}

	r.record(rec)
	if res.Failed() {
		r.logger.Warn("speed test failed",
			"run_id", runID,
			"mode", mode,
			"interface", target.Interface,
			"error", res.Error,
			"failures", r.failures(),
		)
	} else {
		r.logger.Info("speed test completed",
			"run_id", runID,
			"mode", mode,
			"interface", target.Interface,
			"ping_ms", res.Ping,
			"download_mbps", res.Download,
			"upload_mbps", res.Upload,
			"duration_ms", duration.Milliseconds(),
		)
	}
	return rec, nil
}

func (r *Runner) execute(ctx context.Context, mode result.Mode) (result.TestResult, result.Target) {
	engine, ok := r.engines[mode]
	if !ok {
		return result.Failed(fmt.Errorf("%w: no engine for mode %q", result.ErrConfig, mode)), result.Target{Interface: r.cfg.Interface}
	}
	target, err := r.resolve(r.cfg.Interface)
	if err != nil {
		return result.Failed(err), result.Target{Interface: r.cfg.Interface}
	}
	target.ServerID = r.cfg.ServerID
	return engine.Run(ctx, target), target
}

// RunLoop waits for the startup delay, then runs tests at jittered intervals
// and prunes old results until ctx is cancelled.
func (r *Runner) RunLoop(ctx context.Context) {
	delay := r.cfg.StartupDelay
	if delay > 0 {
		r.setNextRun(time.Now().Add(delay))
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}

	r.cleanup(ctx)
	cleanupEvery := r.cfg.CleanupInterval
	if cleanupEvery <= 0 {
		cleanupEvery = time.Hour
	}
	cleanup := time.NewTicker(cleanupEvery)
	defer cleanup.Stop()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-cleanup.C:
			r.cleanup(ctx)
		case <-timer.C:
			if _, err := r.RunOnce(ctx, store.KindAuto); err != nil {
				if ctx.Err() != nil {
					return
				}
				r.logger.Warn("scheduled speed test did not complete", "error", err)
			}
			next := r.scheduler.nextInterval()
			r.setNextRun(time.Now().Add(next))
			timer.Reset(next)
		}
	}
}

func (r *Runner) cleanup(ctx context.Context) {
	if r.store == nil || r.cfg.Retention <= 0 {
		return
	}
	removed, err := r.store.DeleteOlderThan(ctx, r.cfg.Retention)
	if err != nil {
		r.logger.Warn("result cleanup failed", "error", err)
		return
	}
	if removed > 0 {
		r.logger.Info("removed old results", "count", removed, "retention", r.cfg.Retention)
	}
}

// Restore seeds the last-run snapshot, typically from the store after a
// restart. It does not touch the failure counter.
func (r *Runner) Restore(rec store.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		r.last = &rec
	}
}

func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	status := Status{
		Mode:                r.cfg.Mode,
		Interface:           r.cfg.Interface,
		Running:             r.running.Load(),
		ConsecutiveFailures: r.consecutiveFailures,
	}
	if !r.runningSince.IsZero() {
		since := r.runningSince
		status.RunningSince = &since
	}
	if !r.nextRun.IsZero() {
		next := r.nextRun
		status.NextRun = &next
	}
	if r.last != nil {
		last := *r.last
		status.Last = &last
	}
	return status
}

func (r *Runner) setRunning(since time.Time) {
	r.mu.Lock()
	r.runningSince = since
	r.mu.Unlock()
	r.metrics.SetRunning(!since.IsZero())
}

func (r *Runner) notify(event string) {
	if r.OnEvent != nil {
		r.OnEvent(event, r.Status())
	}
}

func (r *Runner) setNextRun(at time.Time) {
	r.mu.Lock()
	r.nextRun = at
	r.mu.Unlock()
}

func (r *Runner) record(rec store.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last = &rec
	if rec.Failed() {
		r.consecutiveFailures++
	} else {
		r.consecutiveFailures = 0
	}
}

func (r *Runner) failures() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.consecutiveFailures
}
