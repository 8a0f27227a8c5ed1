//go:build unix

package execx

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"
)

// gone reports whether pid has exited. A zombie counts as exited.
func gone(t *testing.T, pid int) bool {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "stat"))
	if os.IsNotExist(err) {
		return true
	}
	if err != nil {
		t.Fatalf("read stat: %v", err)
	}
	fields := strings.Fields(string(data[strings.LastIndexByte(string(data), ')')+1:]))
	return len(fields) > 0 && fields[0] == "Z"
}

func TestRunBoundedKillsProcessGroup(t *testing.T) {
	t.Parallel()
	if _, err := os.Stat("/proc/self/stat"); err != nil {
		t.Skip("needs /proc")
	}

	// The shell and its child both ignore SIGTERM, so only the group kill
	// after the grace period ends them.
	const script = `trap '' TERM; sleep 30 & echo $! > "$1"; wait`

	cases := []struct {
		name    string
		timeout time.Duration
		stop    bool
	}{
		{"timeout", 300 * time.Millisecond, false},
		{"stopped", 5 * time.Second, true},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			pidFile := filepath.Join(t.TempDir(), "child.pid")
			r := &OSRunner{Grace: 200 * time.Millisecond}
			info, err := r.RunBounded(context.Background(), Process{
				Name:    "sh",
				Args:    []string{"-c", script, "sh", pidFile},
				Timeout: tc.timeout,
				Checkpoint: func() bool {
					_, err := os.Stat(pidFile)
					return tc.stop && err == nil
				},
				PollInterval: 100 * time.Millisecond,
			})
			if err != nil {
				t.Fatalf("RunBounded: %v", err)
			}
			if !info.TimedOut && !info.Stopped {
				t.Fatalf("info=%+v", info)
			}

			data, err := os.ReadFile(pidFile)
			if err != nil {
				t.Fatalf("pid file: %v", err)
			}
			pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
			if err != nil {
				t.Fatalf("pid=%q", data)
			}
			deadline := time.Now().Add(3 * time.Second)
			for !gone(t, pid) {
				if time.Now().After(deadline) {
					t.Fatalf("child %d still running", pid)
				}
				time.Sleep(20 * time.Millisecond)
			}
		})
	}
}
