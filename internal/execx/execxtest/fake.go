// Package execxtest provides a scripted execx.Runner for tests that would
// otherwise launch openvpn.
package execxtest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"relaycheck/internal/execx"
)

// Script describes what one fake process does.
type Script struct {
	Log       string
	NoLog     bool
	TimedOut  bool
	Code      int
	LaunchErr bool
	Delay     time.Duration
	// PID is written to the --writepid path when non-zero.
	PID int
}

// Runner replays scripts keyed by the base name of the --config argument.
// It records every launch and the peak number of concurrent launches.
type Runner struct {
	Scripts map[string]Script
	Default Script
	// OnLaunch, if set, sees each process before its script runs.
	OnLaunch func(p execx.Process)

	mu        sync.Mutex
	calls     []execx.Process
	outputs   [][]string
	active    int
	maxActive int
}

func (r *Runner) RunBounded(ctx context.Context, p execx.Process) (execx.ExitInfo, error) {
	r.mu.Lock()
	r.calls = append(r.calls, p)
	r.active++
	if r.active > r.maxActive {
		r.maxActive = r.active
	}
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.active--
		r.mu.Unlock()
	}()

	if r.OnLaunch != nil {
		r.OnLaunch(p)
	}
	s := r.script(filepath.Base(Arg(p.Args, "--config")))
	if s.LaunchErr {
		return execx.ExitInfo{Code: -1}, fmt.Errorf("%w: %s: scripted", execx.ErrLaunch, p.Name)
	}
	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			return execx.ExitInfo{Code: -1}, ctx.Err()
		}
	}
	if !s.NoLog {
		if logPath := Arg(p.Args, "--log"); logPath != "" {
			if err := os.WriteFile(logPath, []byte(s.Log), 0o600); err != nil {
				return execx.ExitInfo{Code: -1}, err
			}
		}
	}
	if s.PID != 0 {
		if pidPath := Arg(p.Args, "--writepid"); pidPath != "" {
			if err := os.WriteFile(pidPath, []byte(fmt.Sprintf("%d\n", s.PID)), 0o600); err != nil {
				return execx.ExitInfo{Code: -1}, err
			}
		}
	}
	stopped := false
	if p.Checkpoint != nil {
		stopped = p.Checkpoint()
	}
	return execx.ExitInfo{
		Code:     s.Code,
		TimedOut: s.TimedOut && !stopped,
		Stopped:  stopped,
		Duration: s.Delay,
	}, nil
}

func (r *Runner) Output(ctx context.Context, name string, args ...string) (string, error) {
	r.mu.Lock()
	r.outputs = append(r.outputs, append([]string{name}, args...))
	r.mu.Unlock()
	return "OpenVPN 2.6.0 (scripted)", nil
}

// Calls returns the recorded launches.
func (r *Runner) Calls() []execx.Process {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]execx.Process(nil), r.calls...)
}

// Outputs returns every Output invocation as name followed by args.
func (r *Runner) Outputs() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]string(nil), r.outputs...)
}

// MaxActive returns the peak number of simultaneous launches.
func (r *Runner) MaxActive() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxActive
}

func (r *Runner) script(name string) Script {
	if s, ok := r.Scripts[name]; ok {
		return s
	}
	return r.Default
}

// Arg returns the value following flag in args.
func Arg(args []string, flag string) string {
	for i := 0; i+1 < len(args); i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}
