package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/zalando/go-keyring"
	"gopkg.in/yaml.v3"

	"relaycheck/internal/ovpn"
)

const (
	EnvPrefix = "RELAYCHECK"

	DefaultLogin             = "vpn"
	DefaultPassword          = "vpn"
	DefaultOutputDir         = "vpngate_working"
	DefaultOpenVPN           = "openvpn"
	DefaultFeedTimeoutSec    = 30
	DefaultTestTimeoutSec    = 30
	DefaultConnectTimeoutSec = 20
	DefaultEgressTimeoutSec  = 5
	DefaultProbeTimeoutSec   = 3
	DefaultProbeConcurrency  = 8
	DefaultProbeRate         = 20
	DefaultMaxConfigs        = 20
	DefaultMaxServers        = 10
	DefaultMaxWorking        = 3
)

var (
	DefaultFeedURLs = []string{
		"https://download.vpngate.jp/api/iphone/",
		"https://www.vpngate.net/api/iphone/",
		"http://www.vpngate.net/api/iphone/",
	}
	DefaultEgressSources = []string{
		"https://api.ipify.org",
		"https://icanhazip.com",
	}
)

// Config holds every setting of a run. Values are layered: defaults, YAML
// file, .env file, RELAYCHECK_* environment variables, then flags.
type Config struct {
	FeedURLs       []string `yaml:"feed_urls" envconfig:"FEED_URLS"`
	FeedFile       string   `yaml:"feed_file,omitempty" envconfig:"FEED_FILE"`
	FeedTimeoutSec int      `yaml:"feed_timeout_sec" envconfig:"FEED_TIMEOUT_SEC"`

	Login    string `yaml:"login" envconfig:"LOGIN"`
	Password string `yaml:"password,omitempty" envconfig:"PASSWORD"`
	// KeyringService, when set, names the OS keyring entry holding the
	// password for Login.
	KeyringService string `yaml:"keyring_service,omitempty" envconfig:"KEYRING_SERVICE"`

	OutputDir string `yaml:"output_dir" envconfig:"OUTPUT_DIR"`
	WorkBase  string `yaml:"work_base,omitempty" envconfig:"WORK_BASE"`
	KeepWork  bool   `yaml:"keep_work,omitempty" envconfig:"KEEP_WORK"`

	MaxConfigs int `yaml:"max_configs" envconfig:"MAX_CONFIGS"`
	MaxServers int `yaml:"max_servers" envconfig:"MAX_SERVERS"`
	MaxWorking int `yaml:"max_working" envconfig:"MAX_WORKING"`

	OpenVPNBinary     string `yaml:"openvpn_binary" envconfig:"OPENVPN_BINARY"`
	Sudo              bool   `yaml:"sudo,omitempty" envconfig:"SUDO"`
	TestTimeoutSec    int    `yaml:"test_timeout_sec" envconfig:"TEST_TIMEOUT_SEC"`
	ConnectTimeoutSec int    `yaml:"connect_timeout_sec" envconfig:"CONNECT_TIMEOUT_SEC"`

	EgressSources    []string `yaml:"egress_sources" envconfig:"EGRESS_SOURCES"`
	EgressTimeoutSec int      `yaml:"egress_timeout_sec" envconfig:"EGRESS_TIMEOUT_SEC"`

	ProbeTimeoutSec  int     `yaml:"probe_timeout_sec" envconfig:"PROBE_TIMEOUT_SEC"`
	ProbeConcurrency int     `yaml:"probe_concurrency" envconfig:"PROBE_CONCURRENCY"`
	ProbeRate        float64 `yaml:"probe_rate" envconfig:"PROBE_RATE"`

	GeoIPPath       string `yaml:"geoip_path,omitempty" envconfig:"GEOIP_PATH"`
	MetricsTextfile string `yaml:"metrics_textfile,omitempty" envconfig:"METRICS_TEXTFILE"`
}

// Default returns a config with every default applied.
func Default() Config {
	var cfg Config
	ApplyDefaults(&cfg)
	return cfg
}

// Load reads and parses a YAML config file on top of the defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}

	ApplyDefaults(&cfg)
	return cfg, nil
}

// ApplyEnv loads dotenv (if the file exists) into the process environment
// without overriding variables already set, then applies RELAYCHECK_*
// variables to cfg. Unset variables leave cfg untouched.
func ApplyEnv(cfg *Config, dotenv string) error {
	if dotenv != "" {
		if _, err := os.Stat(dotenv); err == nil {
			if err := godotenv.Load(dotenv); err != nil {
				return fmt.Errorf("load %s: %w", dotenv, err)
			}
		}
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return err
	}
	return nil
}

// Save writes a YAML config file to disk.
func Save(path string, cfg Config) error {
	ApplyDefaults(&cfg)
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// Validate performs minimal validation of the merged config.
func Validate(cfg Config) error {
	if len(cfg.FeedURLs) == 0 && cfg.FeedFile == "" {
		return fmt.Errorf("feed_urls or feed_file is required")
	}
	for _, u := range cfg.FeedURLs {
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			return fmt.Errorf("feed url %q must be http or https", u)
		}
	}
	if cfg.Login == "" {
		return fmt.Errorf("login is required")
	}
	if cfg.OutputDir == "" {
		return fmt.Errorf("output_dir is required")
	}
	if len(cfg.EgressSources) == 0 || len(cfg.EgressSources) > 2 {
		return fmt.Errorf("egress_sources needs a primary and at most one secondary, got %d", len(cfg.EgressSources))
	}
	if cfg.MaxConfigs < 1 || cfg.MaxServers < 1 || cfg.MaxWorking < 1 {
		return fmt.Errorf("max_configs, max_servers and max_working must be positive")
	}
	if cfg.ConnectTimeoutSec >= cfg.TestTimeoutSec {
		return fmt.Errorf("connect_timeout_sec (%d) must be below test_timeout_sec (%d)", cfg.ConnectTimeoutSec, cfg.TestTimeoutSec)
	}
	return nil
}

// ApplyDefaults fills in default values when empty.
func ApplyDefaults(cfg *Config) {
	if len(cfg.FeedURLs) == 0 {
		cfg.FeedURLs = append([]string(nil), DefaultFeedURLs...)
	}
	if cfg.FeedTimeoutSec == 0 {
		cfg.FeedTimeoutSec = DefaultFeedTimeoutSec
	}
	if cfg.Login == "" {
		cfg.Login = DefaultLogin
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = DefaultOutputDir
	}
	if cfg.MaxConfigs == 0 {
		cfg.MaxConfigs = DefaultMaxConfigs
	}
	if cfg.MaxServers == 0 {
		cfg.MaxServers = DefaultMaxServers
	}
	if cfg.MaxWorking == 0 {
		cfg.MaxWorking = DefaultMaxWorking
	}
	if cfg.OpenVPNBinary == "" {
		cfg.OpenVPNBinary = DefaultOpenVPN
	}
	if cfg.TestTimeoutSec == 0 {
		cfg.TestTimeoutSec = DefaultTestTimeoutSec
	}
	if cfg.ConnectTimeoutSec == 0 {
		cfg.ConnectTimeoutSec = DefaultConnectTimeoutSec
	}
	if len(cfg.EgressSources) == 0 {
		cfg.EgressSources = append([]string(nil), DefaultEgressSources...)
	}
	if cfg.EgressTimeoutSec == 0 {
		cfg.EgressTimeoutSec = DefaultEgressTimeoutSec
	}
	if cfg.ProbeTimeoutSec == 0 {
		cfg.ProbeTimeoutSec = DefaultProbeTimeoutSec
	}
	if cfg.ProbeConcurrency == 0 {
		cfg.ProbeConcurrency = DefaultProbeConcurrency
	}
	if cfg.ProbeRate == 0 {
		cfg.ProbeRate = DefaultProbeRate
	}
}

// ResolveCredentials returns the tunnel credentials. With a keyring service
// configured the password comes from the OS keyring; a missing entry falls
// back to the configured or default password.
func ResolveCredentials(cfg Config) (ovpn.Credentials, error) {
	creds := ovpn.Credentials{Login: cfg.Login, Password: cfg.Password}
	if creds.Login == "" {
		creds.Login = DefaultLogin
	}
	if cfg.KeyringService != "" {
		secret, err := keyring.Get(cfg.KeyringService, creds.Login)
		switch {
		case err == nil:
			creds.Password = secret
		case errors.Is(err, keyring.ErrNotFound):
		default:
			return creds, fmt.Errorf("keyring %s: %w", cfg.KeyringService, err)
		}
	}
	if creds.Password == "" {
		creds.Password = DefaultPassword
	}
	return creds, nil
}

// StoreCredential saves password for login in the OS keyring.
func StoreCredential(service, login, password string) error {
	return keyring.Set(service, login, password)
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func (c Config) FeedTimeout() time.Duration   { return seconds(c.FeedTimeoutSec) }
func (c Config) TestTimeout() time.Duration   { return seconds(c.TestTimeoutSec) }
func (c Config) EgressTimeout() time.Duration { return seconds(c.EgressTimeoutSec) }
func (c Config) ProbeTimeout() time.Duration  { return seconds(c.ProbeTimeoutSec) }
