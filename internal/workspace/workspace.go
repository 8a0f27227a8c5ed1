// Package workspace manages the per-run working area and the persistent
// output directory.
package workspace

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// DirPrefix names working areas under the temp directory.
const DirPrefix = "relaycheck-"

// Workspace holds one run's scratch directory and the output directory
// accepted configurations are copied into. The output directory is created
// on first use so a failed run leaves nothing behind.
type Workspace struct {
	WorkDir   string
	OutputDir string

	mu          sync.Mutex
	outputReady bool
}

// New creates <base>/relaycheck-<runID>. An empty base means os.TempDir().
func New(base, outputDir, runID string) (*Workspace, error) {
	if runID == "" {
		return nil, fmt.Errorf("run id is required")
	}
	if outputDir == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	if base == "" {
		base = os.TempDir()
	}
	work := filepath.Join(base, DirPrefix+runID)
	if err := os.MkdirAll(work, 0o700); err != nil {
		return nil, fmt.Errorf("create working area: %w", err)
	}
	return &Workspace{WorkDir: work, OutputDir: outputDir}, nil
}

// Path returns a path inside the working area.
func (w *Workspace) Path(name string) string {
	return filepath.Join(w.WorkDir, name)
}

// EnsureOutput creates the output directory if needed.
func (w *Workspace) EnsureOutput() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.outputReady {
		return nil
	}
	if err := os.MkdirAll(w.OutputDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	w.outputReady = true
	return nil
}

// Persist copies files into the output directory, overwriting same-named
// files. Sources are left in place. It returns the destination paths.
func (w *Workspace) Persist(paths ...string) ([]string, error) {
	if err := w.EnsureOutput(); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(paths))
	for _, src := range paths {
		dst := filepath.Join(w.OutputDir, filepath.Base(src))
		if err := copyFile(src, dst); err != nil {
			return out, fmt.Errorf("persist %s: %w", filepath.Base(src), err)
		}
		out = append(out, dst)
	}
	return out, nil
}

// Cleanup removes the working area.
func (w *Workspace) Cleanup() error {
	return os.RemoveAll(w.WorkDir)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := io.Copy(tmp, in); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, dst)
}
