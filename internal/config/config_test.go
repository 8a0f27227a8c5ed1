package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/zalando/go-keyring"
)

func TestApplyDefaults(t *testing.T) {
	t.Parallel()

	cfg := Default()
	if diff := cmp.Diff(DefaultFeedURLs, cfg.FeedURLs); diff != "" {
		t.Fatalf("feed urls (-want +got):\n%s", diff)
	}
	if cfg.Login != "vpn" || cfg.OutputDir != DefaultOutputDir {
		t.Fatalf("login=%s output=%s", cfg.Login, cfg.OutputDir)
	}
	if cfg.MaxConfigs != 20 || cfg.MaxServers != 10 || cfg.MaxWorking != 3 {
		t.Fatalf("limits=%d/%d/%d", cfg.MaxConfigs, cfg.MaxServers, cfg.MaxWorking)
	}
	if cfg.TestTimeoutSec != 30 || cfg.ConnectTimeoutSec != 20 {
		t.Fatalf("timeouts=%d/%d", cfg.TestTimeoutSec, cfg.ConnectTimeoutSec)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}

func TestLoad_KeepsFileValues(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "relaycheck.yaml")
	data := "login: alice\nmax_working: 1\negress_sources:\n  - stun:stun.l.google.com:19302\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Login != "alice" || cfg.MaxWorking != 1 || cfg.MaxServers != DefaultMaxServers {
		t.Fatalf("cfg=%+v", cfg)
	}
	if len(cfg.EgressSources) != 1 || cfg.EgressSources[0] != "stun:stun.l.google.com:19302" {
		t.Fatalf("egress=%v", cfg.EgressSources)
	}
}

func TestApplyEnv_OverridesFileAndReadsDotenv(t *testing.T) {
	dir := t.TempDir()
	dotenv := filepath.Join(dir, ".env")
	if err := os.WriteFile(dotenv, []byte("RELAYCHECK_OUTPUT_DIR=/srv/vpn\nRELAYCHECK_MAX_SERVERS=4\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	t.Setenv("RELAYCHECK_MAX_SERVERS", "6")
	t.Setenv("RELAYCHECK_FEED_URLS", "https://a.example/api,https://b.example/api")
	t.Setenv("RELAYCHECK_SUDO", "true")
	// restored on cleanup after godotenv sets it
	t.Setenv("RELAYCHECK_OUTPUT_DIR", "")
	os.Unsetenv("RELAYCHECK_OUTPUT_DIR")

	cfg := Default()
	cfg.Login = "from-file"
	if err := ApplyEnv(&cfg, dotenv); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.OutputDir != "/srv/vpn" {
		t.Fatalf("output=%s", cfg.OutputDir)
	}
	if cfg.MaxServers != 6 {
		t.Fatalf("max_servers=%d", cfg.MaxServers)
	}
	if !cfg.Sudo || cfg.Login != "from-file" {
		t.Fatalf("sudo=%v login=%s", cfg.Sudo, cfg.Login)
	}
	if diff := cmp.Diff([]string{"https://a.example/api", "https://b.example/api"}, cfg.FeedURLs); diff != "" {
		t.Fatalf("feed urls (-want +got):\n%s", diff)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad feed scheme", func(c *Config) { c.FeedURLs = []string{"ftp://x"} }},
		{"no egress", func(c *Config) { c.EgressSources = []string{} }},
		{"three egress", func(c *Config) { c.EgressSources = []string{"a", "b", "c"} }},
		{"connect above test", func(c *Config) { c.ConnectTimeoutSec = 40 }},
		{"zero working", func(c *Config) { c.MaxWorking = -1 }},
	}
	for _, tc := range cases {
		cfg := Default()
		tc.mutate(&cfg)
		if err := Validate(cfg); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestResolveCredentials_Keyring(t *testing.T) {
	keyring.MockInit()

	cfg := Default()
	creds, err := ResolveCredentials(cfg)
	if err != nil {
		t.Fatalf("ResolveCredentials: %v", err)
	}
	if creds.Login != "vpn" || creds.Password != "vpn" {
		t.Fatalf("creds=%+v", creds)
	}

	cfg.KeyringService = "relaycheck-test"
	cfg.Login = "bob"
	creds, err = ResolveCredentials(cfg)
	if err != nil {
		t.Fatalf("ResolveCredentials missing entry: %v", err)
	}
	if creds.Password != DefaultPassword {
		t.Fatalf("password=%q", creds.Password)
	}

	if err := StoreCredential("relaycheck-test", "bob", "s3cret"); err != nil {
		t.Fatalf("StoreCredential: %v", err)
	}
	creds, err = ResolveCredentials(cfg)
	if err != nil {
		t.Fatalf("ResolveCredentials: %v", err)
	}
	if creds.Login != "bob" || creds.Password != "s3cret" {
		t.Fatalf("creds=%+v", creds)
	}
}

func TestSave_Writes0600(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "relaycheck.yaml")
	if err := Save(path, Config{Login: "alice"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("mode=%o", info.Mode().Perm())
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Login != "alice" || cfg.MaxConfigs != DefaultMaxConfigs {
		t.Fatalf("cfg=%+v", cfg)
	}
}
