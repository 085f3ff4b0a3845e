package external

import (
	"context"
	"io"
	"os/exec"
	"time"
)

// Process is a started child whose output streams must be fully read before
// Wait is called.
type Process interface {
	Stdout() io.Reader
	Stderr() io.Reader
	Wait() error
}

// Launcher starts a child process. The child inherits the environment and
// receives no stdin.
type Launcher interface {
	Launch(ctx context.Context, path string, args []string) (Process, error)
}

// waitDelay bounds how long output pipes may outlive the child once it has
// exited or been killed, for example when a grandchild inherited them.
const waitDelay = 5 * time.Second

// ExecLauncher launches real processes through os/exec. The child is killed
// when ctx is done.
type ExecLauncher struct{}

func (ExecLauncher) Launch(ctx context.Context, path string, args []string) (Process, error) {
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.WaitDelay = waitDelay
	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	p := &execProcess{stdout: stdoutR, stderr: stderrR, done: make(chan struct{})}
	// cmd.Wait copies the child's output into the pipes, so it runs
	// alongside the readers and closes the pipes once it returns.
	go func() {
		p.err = cmd.Wait()
		_ = stdoutW.Close()
		_ = stderrW.Close()
		close(p.done)
	}()
	return p, nil
}

type execProcess struct {
	stdout io.Reader
	stderr io.Reader
	done   chan struct{}
	err    error
}

func (p *execProcess) Stdout() io.Reader { return p.stdout }
func (p *execProcess) Stderr() io.Reader { return p.stderr }

func (p *execProcess) Wait() error {
	<-p.done
	return p.err
}
