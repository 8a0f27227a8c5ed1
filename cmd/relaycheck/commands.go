package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/apex/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"relaycheck/internal/config"
	"relaycheck/internal/model"
	"relaycheck/internal/ovpn"
	"relaycheck/internal/pipeline"
	"relaycheck/internal/probe"
	"relaycheck/internal/report"
	"relaycheck/internal/trial"
	"relaycheck/internal/workspace"
)

// diagnoseTailLines is how much of a failed trial's log is shown.
const diagnoseTailLines = 5

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Fetch and parse the feed and show the candidates without trying them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			creds, err := config.ResolveCredentials(a.cfg)
			if err != nil {
				return err
			}
			raw, err := a.fetchFeed(cmd.Context())
			if err != nil {
				return err
			}
			configs, state, err := pipeline.Candidates(raw, pipeline.Options{
				MaxConfigs:  a.cfg.MaxConfigs,
				Credentials: creds,
			})
			if err != nil {
				return err
			}
			if err := report.RenderCandidates(a.stdout, configs); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "\n%d lines examined, %d malformed, %d without configuration, %d usable, %d synthesized\n",
				state.Examined, state.Skipped, state.NoPayload, state.Usable, state.Synthesized)
			return nil
		},
	}
}

func newDiagnoseCmd(a *app) *cobra.Command {
	var noTrial bool
	cmd := &cobra.Command{
		Use:   "diagnose <file.ovpn>",
		Short: "Check one configuration file and try it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.diagnose(cmd.Context(), args[0], !noTrial)
		},
	}
	cmd.Flags().BoolVar(&noTrial, "no-trial", false, "only check directives and reachability")
	return cmd
}

func (a *app) diagnose(ctx context.Context, path string, runTrial bool) error {
	cfg, err := ovpn.LoadFile(path)
	if err != nil {
		return err
	}
	out := a.stdout
	fmt.Fprintf(out, "Configuration: %s\n", cfg.Path)

	missing := ovpn.MissingDirectives(cfg.Text)
	if len(missing) == 0 {
		fmt.Fprintln(out, "Required directives: ok")
	} else {
		fmt.Fprintf(out, "Missing directives: %s\n", strings.Join(missing, ", "))
	}
	if cfg.RemoteHost == "" {
		return fmt.Errorf("%s: %w: no remote directive", path, ovpn.ErrInvalidPayload)
	}

	reachable := probe.Reachable(ctx, cfg.RemoteHost, cfg.Port, a.cfg.ProbeTimeout())
	fmt.Fprintf(out, "Remote %s:%d/%s tcp reachable: %s\n", cfg.RemoteHost, cfg.Port, cfg.Proto, yesNo(reachable))

	if version, err := a.deps.exec.Output(ctx, a.cfg.OpenVPNBinary, "--version"); err != nil {
		fmt.Fprintf(out, "openvpn: not usable (%v)\n", err)
	} else {
		fmt.Fprintf(out, "openvpn: %s\n", firstLine(version))
	}
	if !runTrial {
		return nil
	}

	creds, err := config.ResolveCredentials(a.cfg)
	if err != nil {
		return err
	}
	ws, err := workspace.New(a.cfg.WorkBase, a.cfg.OutputDir, a.deps.runID())
	if err != nil {
		return err
	}
	staged, err := ovpn.NewStager(ws.WorkDir, creds).Stage(cfg)
	if err != nil {
		return err
	}

	oracle, err := a.oracle()
	if err != nil {
		return err
	}
	baseline := oracle.CurrentPublicAddress(ctx, a.cfg.EgressTimeout())
	fmt.Fprintf(out, "Baseline egress address: %s\n", baseline)

	runner := trial.New(a.deps.exec, oracle, nil, trial.Options{
		Binary:         a.cfg.OpenVPNBinary,
		Sudo:           a.cfg.Sudo,
		Timeout:        a.cfg.TestTimeout(),
		ConnectTimeout: a.cfg.ConnectTimeoutSec,
		OracleTimeout:  a.cfg.EgressTimeout(),
	})
	if geo := a.openGeo(); geo != nil {
		defer geo.Close()
		runner.WithGeo(geo)
	}
	res := runner.Run(ctx, staged, baseline)
	res.Reachable = reachable

	fmt.Fprintf(out, "Result: %s (%s)\n", report.Colorize(res.Classification), res.Detail)
	if res.EgressAddress != "" {
		fmt.Fprintf(out, "Egress address: %s\n", res.EgressAddress)
	}
	if res.Classification != model.Working {
		if data, err := os.ReadFile(res.LogPath); err == nil {
			fmt.Fprintf(out, "Last log lines (%s):\n", res.LogPath)
			for _, line := range trial.Tail(string(data), diagnoseTailLines) {
				fmt.Fprintf(out, "  %s\n", line)
			}
		}
		return nil
	}
	if err := ws.Cleanup(); err != nil {
		log.WithError(err).Warn("removing working area failed")
	}
	return nil
}

func newMyIPCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "myip",
		Short: "Print the current egress address",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			oracle, err := a.oracle()
			if err != nil {
				return err
			}
			addr := oracle.CurrentPublicAddress(cmd.Context(), a.cfg.EgressTimeout())
			if geo := a.openGeo(); geo != nil {
				defer geo.Close()
				if cc := geo.Country(addr); cc != "" {
					addr += " " + cc
				}
			}
			fmt.Fprintln(a.stdout, addr)
			return nil
		},
	}
}

func newStorePasswordCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "store-password",
		Short: "Save the tunnel password in the OS keyring",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.KeyringService == "" {
				return fmt.Errorf("--keyring-service is required")
			}
			password, err := readPassword(a)
			if err != nil {
				return err
			}
			if err := config.StoreCredential(a.cfg.KeyringService, a.cfg.Login, password); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "Stored password for %s in %s\n", a.cfg.Login, a.cfg.KeyringService)
			return nil
		},
	}
}

func readPassword(a *app) (string, error) {
	if term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprint(a.stderr, "Password: ")
		data, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(a.stderr)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
