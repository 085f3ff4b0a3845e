package external

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/NodePath81/fbspeed/internal/binaries"
	"github.com/NodePath81/fbspeed/internal/result"
	"github.com/NodePath81/fbspeed/internal/util"
)

const (
	tooManyRequests    = "too many requests"
	tooManyRequestsMsg = "Too many requests. Please try again later"
	maxLineBytes       = 1 << 20

	// DefaultTimeout bounds one CLI run, including provisioning.
	DefaultTimeout = 5 * time.Minute
)

var errNoResult = errors.New("no result received")

// Engine runs one backend CLI per call to Run.
type Engine struct {
	backend  Backend
	catalog  binaries.Catalog
	launcher Launcher
	timeout  time.Duration
	logger   util.Logger
}

// NewEngine builds an engine. A nil launcher runs real processes and a
// non-positive timeout selects DefaultTimeout.
func NewEngine(backend Backend, catalog binaries.Catalog, launcher Launcher, timeout time.Duration, logger util.Logger) *Engine {
	if launcher == nil {
		launcher = ExecLauncher{}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Engine{
		backend:  backend,
		catalog:  catalog,
		launcher: launcher,
		timeout:  timeout,
		logger:   logger,
	}
}

func (e *Engine) Run(ctx context.Context, target result.Target) result.TestResult {
	res, err := e.run(ctx, target)
	if err != nil {
		e.logger.Error("speedtest failed", "mode", e.backend.Mode(), "interface", target.Interface, "error", err)
		return result.Failed(err)
	}
	return res
}

func (e *Engine) run(ctx context.Context, target result.Target) (result.TestResult, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	path, err := e.catalog.Provision(ctx, e.backend.Mode())
	if err != nil {
		return result.TestResult{}, err
	}
	args, err := e.backend.Args(target, e.catalog.Platform.OS)
	if err != nil {
		return result.TestResult{}, err
	}
	name := filepath.Base(path)

	e.logger.Debug("starting speedtest", "mode", e.backend.Mode(), "binary", path, "args", strings.Join(args, " "))
	start := time.Now()
	proc, err := e.launcher.Launch(ctx, path, args)
	if err != nil {
		return result.TestResult{}, fmt.Errorf("start %s: %w", name, err)
	}

	out := &output{backend: e.backend, logger: e.logger}
	var g errgroup.Group
	g.Go(func() error { return out.readStdout(proc.Stdout()) })
	g.Go(func() error { return out.readStderr(proc.Stderr()) })
	drainErr := g.Wait()
	waitErr := proc.Wait()
	elapsed := time.Since(start)

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return result.TestResult{}, fmt.Errorf("%s did not finish within %s: %w", name, e.timeout, ctx.Err())
	}
	if ctx.Err() != nil {
		return result.TestResult{}, ctx.Err()
	}
	if msg := out.errorMessage(); msg != "" {
		return result.TestResult{}, errors.New(msg)
	}
	if waitErr != nil {
		return result.TestResult{}, fmt.Errorf("%s exited: %w", name, waitErr)
	}
	if drainErr != nil {
		return result.TestResult{}, fmt.Errorf("read %s output: %w", name, drainErr)
	}
	final, ok := out.finalRecord()
	if !ok {
		return result.TestResult{}, errNoResult
	}
	res, err := e.backend.Normalize(final)
	if err != nil {
		return result.TestResult{}, err
	}
	res.Elapsed = elapsed.Milliseconds()
	e.logger.Info("speedtest finished", "mode", e.backend.Mode(), "interface", target.Interface,
		"ping", res.Ping, "download", res.Download, "upload", res.Upload, "elapsed_ms", res.Elapsed)
	return res, nil
}

// output accumulates what the two drain goroutines observe.
type output struct {
	backend Backend
	logger  util.Logger

	mu        sync.Mutex
	final     *Record
	recordErr string
	parseErr  string
	stderrErr string
}

func (o *output) readStdout(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		rec, ok, err := parseLine(scanner.Text())
		if err != nil {
			o.logger.Warn("unparsable speedtest output", "error", err)
			o.mu.Lock()
			o.parseErr = fmt.Sprintf("failed to parse output: %v", err)
			o.mu.Unlock()
			continue
		}
		if !ok {
			continue
		}
		o.mu.Lock()
		// A final record replaces everything seen before it, errors included.
		if o.backend.IsFinal(rec) {
			r := rec
			o.final = &r
			o.recordErr = rec.Error
			o.parseErr = ""
		} else if rec.Error != "" {
			o.recordErr = rec.Error
		}
		o.mu.Unlock()
	}
	err := scanner.Err()
	if err != nil {
		// Keep the child from blocking on a full pipe.
		_, _ = io.Copy(io.Discard, r)
	}
	return err
}

func (o *output) readStderr(r io.Reader) error {
	data, err := io.ReadAll(r)
	text := strings.TrimSpace(string(data))
	if text != "" {
		if strings.Contains(strings.ToLower(text), tooManyRequests) {
			text = tooManyRequestsMsg
		}
		o.mu.Lock()
		o.stderrErr = text
		o.mu.Unlock()
	}
	return err
}

// errorMessage returns the captured error. stderr wins over errors embedded in
// stdout records, which win over a trailing unparsable line.
func (o *output) errorMessage() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	switch {
	case o.stderrErr != "":
		return o.stderrErr
	case o.recordErr != "":
		return o.recordErr
	default:
		return o.parseErr
	}
}

func (o *output) finalRecord() (Record, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.final == nil {
		return Record{}, false
	}
	return *o.final, true
}
