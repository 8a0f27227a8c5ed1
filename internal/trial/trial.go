// Package trial launches one tunnel attempt at a time and classifies it.
package trial

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/apex/log"

	"relaycheck/internal/egress"
	"relaycheck/internal/execx"
	"relaycheck/internal/model"
	"relaycheck/internal/ovpn"
)

// ErrLogUnreadable is reported when a trial left no readable log.
var ErrLogUnreadable = errors.New("trial log unreadable")

const (
	DefaultBinary         = "openvpn"
	DefaultTimeout        = 30 * time.Second
	DefaultConnectTimeout = 20
	DefaultVerbosity      = 3

	reapTimeout = 5 * time.Second
)

// Oracle reports the current public address.
type Oracle interface {
	CurrentPublicAddress(ctx context.Context, timeout time.Duration) string
}

// Persister copies accepted files out of the working area.
type Persister interface {
	Persist(paths ...string) ([]string, error)
}

// GeoLookup maps an IP address to a country code.
type GeoLookup interface {
	Country(ip string) string
}

type Options struct {
	Binary string
	// Sudo prefixes the command with "sudo -n".
	Sudo           bool
	Timeout        time.Duration
	ConnectTimeout int
	OracleTimeout  time.Duration
	PollInterval   time.Duration
	// LogDir holds the per-trial log and pid files.
	LogDir string
}

func (o *Options) applyDefaults() {
	if o.Binary == "" {
		o.Binary = DefaultBinary
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.OracleTimeout <= 0 {
		o.OracleTimeout = egress.DefaultTimeout
	}
}

// Runner drives trials. At most one trial per Runner is launched at a time.
type Runner struct {
	exec    execx.Runner
	oracle  Oracle
	persist Persister
	geo     GeoLookup
	opts    Options

	mu sync.Mutex
}

// New returns a Runner. persist may be nil, in which case working
// configurations are not copied anywhere.
func New(runner execx.Runner, oracle Oracle, persist Persister, opts Options) *Runner {
	opts.applyDefaults()
	return &Runner{exec: runner, oracle: oracle, persist: persist, opts: opts}
}

// WithGeo enables egress country lookups.
func (r *Runner) WithGeo(geo GeoLookup) *Runner {
	r.geo = geo
	return r
}

// Run performs one trial of a staged configuration. Failures are reported in
// the outcome, never returned.
func (r *Runner) Run(ctx context.Context, cfg model.TunnelConfig, baseline string) model.TrialOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry := log.WithFields(log.Fields{
		"candidate": cfg.Name,
		"remote":    endpoint(cfg),
	})
	out := model.TrialOutcome{
		Candidate:      cfg.Name,
		Address:        cfg.Record.Address,
		CountryCode:    cfg.Record.CountryCode,
		Classification: model.Unknown,
	}
	if cfg.Path == "" {
		out.Detail = "configuration not staged"
		entry.Warn(out.Detail)
		return out
	}

	configPath, err := filepath.Abs(cfg.Path)
	if err != nil {
		out.Detail = err.Error()
		return out
	}
	logDir := r.opts.LogDir
	if logDir == "" {
		logDir = filepath.Dir(configPath)
	}
	base := strings.TrimSuffix(cfg.Name, filepath.Ext(cfg.Name))
	logPath := filepath.Join(logDir, base+".log")
	pidPath := filepath.Join(logDir, base+".pid")
	out.LogPath = logPath
	if err := prepareFiles(logPath, pidPath); err != nil {
		out.Detail = err.Error()
		entry.WithError(err).Warn("cannot prepare trial files")
		return out
	}

	var (
		egressAddr string
		queried    bool
	)
	checkpoint := func() bool {
		data, err := os.ReadFile(logPath)
		if err != nil || !Initialized(string(data)) {
			return false
		}
		egressAddr = r.oracle.CurrentPublicAddress(ctx, r.opts.OracleTimeout)
		queried = true
		return true
	}

	name, args := r.command(configPath, logPath, pidPath)
	entry.WithField("timeout", r.opts.Timeout).Debug("launching")
	info, err := r.exec.RunBounded(ctx, execx.Process{
		Name:         name,
		Args:         args,
		Timeout:      r.opts.Timeout,
		Checkpoint:   checkpoint,
		PollInterval: r.opts.PollInterval,
	})
	out.Duration = info.Duration
	if r.opts.Sudo && (info.TimedOut || info.Stopped || ctx.Err() != nil) {
		r.reap(pidPath, entry)
	}
	switch {
	case errors.Is(err, execx.ErrLaunch):
		out.Detail = err.Error()
		entry.WithError(err).Warn("launch failed")
		return out
	case ctx.Err() != nil:
		out.Detail = "interrupted"
		return out
	case err != nil:
		out.Detail = err.Error()
		entry.WithError(err).Debug("process ended with error")
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrLogUnreadable, err)
		out.Detail = err.Error()
		entry.WithError(err).Warn("no log")
		return out
	}
	text := string(data)

	if Initialized(text) && !queried {
		egressAddr = r.oracle.CurrentPublicAddress(ctx, r.opts.OracleTimeout)
	}
	if egressAddr != "" {
		out.EgressAddress = egressAddr
		if r.geo != nil && egressAddr != egress.Unknown {
			out.EgressCountry = r.geo.Country(egressAddr)
		}
	}

	out.Classification = Classify(Evidence{
		Log:      text,
		TimedOut: info.TimedOut,
		Egress:   egressAddr,
		Baseline: baseline,
	})
	if out.Detail == "" {
		out.Detail = detail(out.Classification, text, info)
	}

	if out.Classification == model.Working && r.persist != nil {
		saved, err := r.persist.Persist(configPath, filepath.Join(filepath.Dir(configPath), ovpn.CredentialsFileName))
		if err != nil {
			out.Detail = "persist failed: " + err.Error()
			entry.WithError(err).Error("persist failed")
		} else if len(saved) > 0 {
			out.SavedPath = saved[0]
		}
	}

	entry.WithFields(log.Fields{
		"classification": out.Classification.String(),
		"egress":         out.EgressAddress,
		"duration":       out.Duration.Round(time.Millisecond),
	}).Info("trial finished")
	return out
}

func (r *Runner) command(configPath, logPath, pidPath string) (string, []string) {
	args := []string{
		"--cd", filepath.Dir(configPath),
		"--config", configPath,
		"--verb", strconv.Itoa(DefaultVerbosity),
		"--connect-timeout", strconv.Itoa(r.opts.ConnectTimeout),
		"--log", logPath,
		"--writepid", pidPath,
	}
	if r.opts.Sudo {
		return "sudo", append([]string{"-n", r.opts.Binary}, args...)
	}
	return r.opts.Binary, args
}

// reap kills a privileged openvpn that may have outlived sudo. sudo relays
// SIGTERM to its command, but the SIGKILL after the grace period only reaches
// sudo itself.
func (r *Runner) reap(pidPath string, entry *log.Entry) {
	data, err := os.ReadFile(pidPath)
	if err != nil {
		return
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), reapTimeout)
	defer cancel()
	if _, err := r.exec.Output(ctx, "sudo", "-n", "kill", "-KILL", strconv.Itoa(pid)); err != nil {
		entry.WithError(err).WithField("pid", pid).Debug("reap")
	}
}

// prepareFiles leaves an empty caller-owned file at each path. openvpn
// truncates an existing log or pid file and keeps its owner, so the caller
// can still read them when openvpn runs under sudo.
func prepareFiles(paths ...string) error {
	for _, p := range paths {
		f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
		if err != nil {
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
	}
	return nil
}

func detail(c model.Classification, text string, info execx.ExitInfo) string {
	switch c {
	case model.Working:
		return "egress address changed"
	case model.ConnectedNoIdentityChange:
		return "tunnel up, egress address unchanged"
	case model.Timeout:
		return "no result before deadline"
	case model.Unknown:
		if info.Code != 0 {
			return fmt.Sprintf("exit code %d", info.Code)
		}
		return "no known marker in log"
	default:
		return MarkerLine(text, c)
	}
}

func endpoint(cfg model.TunnelConfig) string {
	if cfg.RemoteHost == "" {
		return cfg.Record.Address
	}
	return fmt.Sprintf("%s:%d/%s", cfg.RemoteHost, cfg.Port, cfg.Proto)
}
