package execx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"
)

// ErrLaunch is returned when a process could not be started at all.
var ErrLaunch = errors.New("launch failed")

const (
	DefaultPollInterval = 500 * time.Millisecond
	// DefaultGrace is how long a terminated process may take to exit before it is killed.
	DefaultGrace = 3 * time.Second
)

// Process describes one bounded invocation of an external program.
type Process struct {
	Name string
	Args []string
	// Timeout bounds the whole run. Zero means only ctx bounds it.
	Timeout time.Duration
	// Checkpoint is called every PollInterval while the process runs.
	// Returning true stops the process early.
	Checkpoint   func() bool
	PollInterval time.Duration
	Stdout       io.Writer
	Stderr       io.Writer
}

// ExitInfo describes how a bounded process ended.
type ExitInfo struct {
	Code     int
	TimedOut bool
	// Stopped is set when Checkpoint asked for an early stop.
	Stopped  bool
	Duration time.Duration
}

// Runner abstracts command execution so trials can be unit-tested without
// launching real tunnel clients.
type Runner interface {
	RunBounded(ctx context.Context, p Process) (ExitInfo, error)
	Output(ctx context.Context, name string, args ...string) (string, error)
}

// OSRunner executes commands on the host via os/exec.
type OSRunner struct {
	Grace time.Duration
}

func NewOSRunner() *OSRunner {
	return &OSRunner{Grace: DefaultGrace}
}

// RunBounded starts p and waits until it exits, its timeout elapses, ctx is
// cancelled, or its checkpoint asks for a stop. The process runs in its own
// process group; the group is sent SIGTERM and killed after the grace period.
// A non-zero exit is not an error.
func (r *OSRunner) RunBounded(ctx context.Context, p Process) (ExitInfo, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if p.Timeout > 0 {
		var cancelTimeout context.CancelFunc
		runCtx, cancelTimeout = context.WithTimeout(runCtx, p.Timeout)
		defer cancelTimeout()
	}

	grace := r.grace()
	cmd := exec.CommandContext(runCtx, p.Name, p.Args...)
	setProcessGroup(cmd)
	cmd.Cancel = func() error { return terminateGroup(cmd) }
	cmd.WaitDelay = 2 * grace
	cmd.Stdout = orDiscard(p.Stdout)
	cmd.Stderr = orDiscard(p.Stderr)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return ExitInfo{Code: -1}, fmt.Errorf("%w: %s: %v", ErrLaunch, p.Name, err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	interval := p.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var (
		info    ExitInfo
		waitErr error
		ended   = runCtx.Done()
		kill    <-chan time.Time
	)
wait:
	for {
		select {
		case waitErr = <-done:
			break wait
		case <-ended:
			ended = nil
			kill = time.After(grace)
		case <-kill:
			kill = nil
			_ = killGroup(cmd)
		case <-ticker.C:
			if p.Checkpoint != nil && !info.Stopped && ended != nil && p.Checkpoint() {
				info.Stopped = true
				cancel()
			}
		}
	}
	info.Duration = time.Since(start)
	info.Code = exitCode(cmd, waitErr)

	if info.Stopped {
		return info, nil
	}
	if err := ctx.Err(); err != nil {
		return info, err
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		info.TimedOut = true
		return info, nil
	}
	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		return info, waitErr
	}
	return info, nil
}

func (r *OSRunner) Output(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(buf.String())
		if msg != "" {
			return "", fmt.Errorf("%s: %s", err.Error(), msg)
		}
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

func (r *OSRunner) grace() time.Duration {
	if r == nil || r.Grace <= 0 {
		return DefaultGrace
	}
	return r.Grace
}

func exitCode(cmd *exec.Cmd, err error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	if err != nil {
		return -1
	}
	return 0
}

func orDiscard(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}
