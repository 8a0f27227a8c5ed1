package ovpn

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"relaycheck/internal/model"
)

// Stager writes synthesized configurations into a working directory. It is
// safe for concurrent use; the shared credentials file is created at most once.
type Stager struct {
	dir   string
	creds Credentials

	mu       sync.Mutex
	credPath string
}

func NewStager(dir string, creds Credentials) *Stager {
	return &Stager{dir: dir, creds: creds}
}

// Dir returns the working directory.
func (s *Stager) Dir() string {
	return s.dir
}

// Stage writes cfg and the credentials file, returning cfg with Path set.
func (s *Stager) Stage(cfg model.TunnelConfig) (model.TunnelConfig, error) {
	if cfg.Name == "" {
		return cfg, fmt.Errorf("config name is required")
	}
	if _, err := s.ensureCredentials(); err != nil {
		return cfg, err
	}
	path := filepath.Join(s.dir, cfg.Name)
	if err := atomicWriteFile(path, []byte(cfg.Text), 0o600); err != nil {
		return cfg, err
	}
	cfg.Path = path
	return cfg, nil
}

// CredentialsPath returns the path of the shared credentials file, creating it if needed.
func (s *Stager) CredentialsPath() (string, error) {
	return s.ensureCredentials()
}

func (s *Stager) ensureCredentials() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.credPath != "" {
		return s.credPath, nil
	}
	path, err := WriteCredentials(s.dir, s.creds)
	if err != nil {
		return "", err
	}
	s.credPath = path
	return path, nil
}

// WriteCredentials creates dir/auth.txt holding login and password on two
// lines. An existing file is left untouched.
func WriteCredentials(dir string, creds Credentials) (string, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	path := filepath.Join(dir, CredentialsFileName)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if errors.Is(err, os.ErrExist) {
		return path, nil
	}
	if err != nil {
		return "", err
	}
	if _, err := fmt.Fprintf(f, "%s\n%s\n", creds.Login, creds.Password); err != nil {
		_ = f.Close()
		return "", err
	}
	return path, f.Close()
}

func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
