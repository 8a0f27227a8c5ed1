//go:build unix

package trial

import (
	"context"
	"os"
	"syscall"
	"testing"

	"relaycheck/internal/execx"
	"relaycheck/internal/execx/execxtest"
)

func TestRun_LogAndPidFilesOwnedByCallerBeforeLaunch(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := stage(t, dir, "a.ovpn")
	if err := os.WriteFile(dir+"/a.log", []byte("stale"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	seen := map[string]os.FileInfo{}
	fake := &execxtest.Runner{
		Default: execxtest.Script{NoLog: true},
		OnLaunch: func(p execx.Process) {
			for _, flag := range []string{"--log", "--writepid"} {
				info, err := os.Stat(execxtest.Arg(p.Args, flag))
				if err != nil {
					t.Errorf("%s: %v", flag, err)
					continue
				}
				seen[flag] = info
			}
		},
	}
	New(fake, &fakeOracle{}, nil, Options{Sudo: true}).Run(context.Background(), cfg, "")

	for _, flag := range []string{"--log", "--writepid"} {
		info, ok := seen[flag]
		if !ok {
			t.Fatalf("%s missing at launch", flag)
		}
		if info.Size() != 0 {
			t.Fatalf("%s size=%d", flag, info.Size())
		}
		st, ok := info.Sys().(*syscall.Stat_t)
		if !ok {
			t.Fatalf("%s sys=%T", flag, info.Sys())
		}
		if int(st.Uid) != os.Getuid() {
			t.Fatalf("%s uid=%d want=%d", flag, st.Uid, os.Getuid())
		}
	}
	if mode := seen["--writepid"].Mode().Perm(); mode != 0o600 {
		t.Fatalf("pid mode=%v", mode)
	}
}
