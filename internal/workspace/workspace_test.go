package workspace

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewDoesNotCreateOutput(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	out := filepath.Join(t.TempDir(), "out")
	ws, err := New(base, out, "run1")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if ws.WorkDir != filepath.Join(base, "relaycheck-run1") {
		t.Fatalf("workdir=%s", ws.WorkDir)
	}
	if _, err := os.Stat(ws.WorkDir); err != nil {
		t.Fatalf("workdir missing: %v", err)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Fatalf("output dir created early: %v", err)
	}
}

func TestPersistCopiesAndOverwrites(t *testing.T) {
	t.Parallel()

	out := filepath.Join(t.TempDir(), "out")
	ws, err := New(t.TempDir(), out, "run2")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	src := ws.Path("a.ovpn")
	if err := os.WriteFile(src, []byte("first"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := ws.Persist(src); err != nil {
		t.Fatalf("Persist #1: %v", err)
	}
	if err := os.WriteFile(src, []byte("second"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	dsts, err := ws.Persist(src)
	if err != nil {
		t.Fatalf("Persist #2: %v", err)
	}
	if len(dsts) != 1 || dsts[0] != filepath.Join(out, "a.ovpn") {
		t.Fatalf("dsts=%v", dsts)
	}

	data, err := os.ReadFile(dsts[0])
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "second" {
		t.Fatalf("data=%q", data)
	}
	if _, err := os.Stat(src); err != nil {
		t.Fatalf("source moved: %v", err)
	}
}

func TestCleanupRemovesWorkDir(t *testing.T) {
	t.Parallel()

	ws, err := New(t.TempDir(), filepath.Join(t.TempDir(), "out"), "run3")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := os.WriteFile(ws.Path("x.log"), []byte("log"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := ws.Cleanup(); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if _, err := os.Stat(ws.WorkDir); !os.IsNotExist(err) {
		t.Fatalf("workdir still present: %v", err)
	}
}
