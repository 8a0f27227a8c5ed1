package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"relaycheck/internal/config"
	"relaycheck/internal/execx"
)

// deps are the outside-world capabilities of the commands.
type deps struct {
	exec   execx.Runner
	client *http.Client
	runID  func() string
}

func defaultDeps() deps {
	return deps{
		exec:   execx.NewOSRunner(),
		client: &http.Client{},
		runID:  uuid.NewString,
	}
}

// flagValues receive command-line overrides; only flags the user set are
// applied on top of the file and environment.
type flagValues struct {
	feedURLs       []string
	feedFile       string
	login          string
	password       string
	keyringService string
	outputDir      string
	workBase       string
	keepWork       bool
	maxConfigs     int
	maxServers     int
	maxWorking     int
	openvpn        string
	sudo           bool
	testTimeout    int
	connectTimeout int
	egress         []string
	geoip          string
	metrics        string
}

type app struct {
	stdout io.Writer
	stderr io.Writer
	deps   deps

	configPath string
	envFile    string
	verbose    bool
	progress   bool
	flags      flagValues

	cfg config.Config
}

func main() {
	ctx, cancel := signalContext()
	defer cancel()

	a := &app{stdout: os.Stdout, stderr: os.Stderr, deps: defaultDeps()}
	if err := newRootCmd(a).ExecuteContext(ctx); err != nil {
		fatal(err)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "relaycheck",
		Short:         "Find public VPN relays that actually change your egress address",
		Long:          "Find public VPN relays that actually change your egress address.\nWithout a subcommand it behaves like run.",
		Args:          cobra.NoArgs,
		RunE:          a.runE,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			log.SetHandler(cli.New(a.stderr))
			if a.verbose {
				log.SetLevel(log.DebugLevel)
			} else {
				log.SetLevel(log.InfoLevel)
			}
			return a.loadConfig(cmd)
		},
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)
	progressFlag(root, a)

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "YAML config file")
	pf.StringVar(&a.envFile, "env-file", ".env", "dotenv file with RELAYCHECK_* variables")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")

	f := &a.flags
	pf.StringSliceVar(&f.feedURLs, "feed-url", nil, "feed URL, repeatable, tried in order")
	pf.StringVar(&f.feedFile, "feed-file", "", "read the feed from a local file instead")
	pf.StringVar(&f.login, "login", "", "tunnel login")
	pf.StringVar(&f.password, "password", "", "tunnel password")
	pf.StringVar(&f.keyringService, "keyring-service", "", "read the password from this OS keyring service")
	pf.StringVarP(&f.outputDir, "output", "o", "", "directory for working configurations")
	pf.StringVar(&f.workBase, "work-base", "", "parent of the per-run working area (default: temp dir)")
	pf.BoolVar(&f.keepWork, "keep-work", false, "keep the working area with logs after the run")
	pf.IntVar(&f.maxConfigs, "max-configs", 0, "configurations to synthesize at most")
	pf.IntVar(&f.maxServers, "max-servers", 0, "trials to attempt at most")
	pf.IntVar(&f.maxWorking, "max-working", 0, "stop after this many working servers")
	pf.StringVar(&f.openvpn, "openvpn", "", "openvpn binary")
	pf.BoolVar(&f.sudo, "sudo", false, "run openvpn through sudo -n")
	pf.IntVar(&f.testTimeout, "timeout", 0, "seconds per trial")
	pf.IntVar(&f.connectTimeout, "connect-timeout", 0, "openvpn connect timeout in seconds")
	pf.StringSliceVar(&f.egress, "egress", nil, "egress address sources (http(s) URL or stun:host:port), primary first")
	pf.StringVar(&f.geoip, "geoip", "", "MaxMind country database for egress lookups")
	pf.StringVar(&f.metrics, "metrics-textfile", "", "write run metrics to this Prometheus textfile")

	root.AddCommand(
		newRunCmd(a),
		newListCmd(a),
		newDiagnoseCmd(a),
		newMyIPCmd(a),
		newStorePasswordCmd(a),
	)
	return root
}

func (a *app) loadConfig(cmd *cobra.Command) error {
	cfg := config.Default()
	if a.configPath != "" {
		loaded, err := config.Load(a.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if err := config.ApplyEnv(&cfg, a.envFile); err != nil {
		return err
	}

	flags := cmd.Flags()
	f := a.flags
	set := func(name string, apply func()) {
		if flags.Changed(name) {
			apply()
		}
	}
	set("feed-url", func() { cfg.FeedURLs = f.feedURLs })
	set("feed-file", func() { cfg.FeedFile = f.feedFile })
	set("login", func() { cfg.Login = f.login })
	set("password", func() { cfg.Password = f.password })
	set("keyring-service", func() { cfg.KeyringService = f.keyringService })
	set("output", func() { cfg.OutputDir = f.outputDir })
	set("work-base", func() { cfg.WorkBase = f.workBase })
	set("keep-work", func() { cfg.KeepWork = f.keepWork })
	set("max-configs", func() { cfg.MaxConfigs = f.maxConfigs })
	set("max-servers", func() { cfg.MaxServers = f.maxServers })
	set("max-working", func() { cfg.MaxWorking = f.maxWorking })
	set("openvpn", func() { cfg.OpenVPNBinary = f.openvpn })
	set("sudo", func() { cfg.Sudo = f.sudo })
	set("timeout", func() { cfg.TestTimeoutSec = f.testTimeout })
	set("connect-timeout", func() { cfg.ConnectTimeoutSec = f.connectTimeout })
	set("egress", func() { cfg.EgressSources = f.egress })
	set("geoip", func() { cfg.GeoIPPath = f.geoip })
	set("metrics-textfile", func() { cfg.MetricsTextfile = f.metrics })

	config.ApplyDefaults(&cfg)
	if err := config.Validate(cfg); err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signals
		cancel()
	}()
	return ctx, cancel
}

func fatal(err error) {
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
