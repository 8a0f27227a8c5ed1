package execx

import (
	"context"
	"errors"
	"runtime"
	"sync/atomic"
	"testing"
	"time"
)

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
}

func TestRunBoundedExitCode(t *testing.T) {
	t.Parallel()
	requireShell(t)

	r := NewOSRunner()
	info, err := r.RunBounded(context.Background(), Process{Name: "sh", Args: []string{"-c", "exit 3"}, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("RunBounded: %v", err)
	}
	if info.Code != 3 || info.TimedOut || info.Stopped {
		t.Fatalf("info=%+v", info)
	}
}

func TestRunBoundedTimeout(t *testing.T) {
	t.Parallel()
	requireShell(t)

	r := &OSRunner{Grace: 200 * time.Millisecond}
	start := time.Now()
	info, err := r.RunBounded(context.Background(), Process{Name: "sleep", Args: []string{"10"}, Timeout: 200 * time.Millisecond})
	if err != nil {
		t.Fatalf("RunBounded: %v", err)
	}
	if !info.TimedOut {
		t.Fatalf("info=%+v", info)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("took %v", elapsed)
	}
}

func TestRunBoundedCheckpointStops(t *testing.T) {
	t.Parallel()
	requireShell(t)

	var calls atomic.Int32
	r := &OSRunner{Grace: 200 * time.Millisecond}
	info, err := r.RunBounded(context.Background(), Process{
		Name:         "sleep",
		Args:         []string{"10"},
		Timeout:      5 * time.Second,
		PollInterval: 20 * time.Millisecond,
		Checkpoint:   func() bool { return calls.Add(1) >= 2 },
	})
	if err != nil {
		t.Fatalf("RunBounded: %v", err)
	}
	if !info.Stopped || info.TimedOut {
		t.Fatalf("info=%+v", info)
	}
	if calls.Load() != 2 {
		t.Fatalf("checkpoint calls=%d", calls.Load())
	}
}

func TestRunBoundedLaunchError(t *testing.T) {
	t.Parallel()

	r := NewOSRunner()
	_, err := r.RunBounded(context.Background(), Process{Name: "relaycheck-no-such-binary"})
	if !errors.Is(err, ErrLaunch) {
		t.Fatalf("err=%v", err)
	}
}

func TestRunBoundedParentCancel(t *testing.T) {
	t.Parallel()
	requireShell(t)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	r := &OSRunner{Grace: 200 * time.Millisecond}
	_, err := r.RunBounded(ctx, Process{Name: "sleep", Args: []string{"10"}, Timeout: 5 * time.Second})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v", err)
	}
}

func TestOutput(t *testing.T) {
	t.Parallel()
	requireShell(t)

	out, err := NewOSRunner().Output(context.Background(), "sh", "-c", "echo hello")
	if err != nil {
		t.Fatalf("Output: %v", err)
	}
	if out != "hello" {
		t.Fatalf("out=%q", out)
	}
}
