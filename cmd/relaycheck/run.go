package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/apex/log"
	"github.com/spf13/cobra"

	"relaycheck/internal/config"
	"relaycheck/internal/egress"
	"relaycheck/internal/feed"
	"relaycheck/internal/geoip"
	"relaycheck/internal/model"
	"relaycheck/internal/ovpn"
	"relaycheck/internal/pipeline"
	"relaycheck/internal/probe"
	"relaycheck/internal/report"
	"relaycheck/internal/trial"
	"relaycheck/internal/workspace"
)

func newRunCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Fetch the feed, try candidates and keep the working ones",
		Args:  cobra.NoArgs,
		RunE:  a.runE,
	}
	progressFlag(cmd, a)
	return cmd
}

// progressFlag is local to run and the root command, which runs by default.
func progressFlag(cmd *cobra.Command, a *app) {
	cmd.Flags().BoolVar(&a.progress, "progress", true, "show a progress bar on terminals")
}

func (a *app) runE(cmd *cobra.Command, _ []string) error {
	_, err := a.run(cmd.Context(), a.progress)
	return err
}

// run evaluates the feed and writes every artifact of the run.
func (a *app) run(ctx context.Context, progress bool) (model.Report, error) {
	cfg := a.cfg
	creds, err := config.ResolveCredentials(cfg)
	if err != nil {
		return model.Report{}, err
	}

	raw, err := a.fetchFeed(ctx)
	if err != nil {
		return model.Report{}, err
	}

	runID := a.deps.runID()
	ws, err := workspace.New(cfg.WorkBase, cfg.OutputDir, runID)
	if err != nil {
		return model.Report{}, err
	}
	log.WithFields(log.Fields{"run": runID, "work": ws.WorkDir}).Debug("working area ready")

	oracle, err := a.oracle()
	if err != nil {
		_ = ws.Cleanup()
		return model.Report{}, err
	}

	trials := trial.New(a.deps.exec, oracle, ws, trial.Options{
		Binary:         cfg.OpenVPNBinary,
		Sudo:           cfg.Sudo,
		Timeout:        cfg.TestTimeout(),
		ConnectTimeout: cfg.ConnectTimeoutSec,
		OracleTimeout:  cfg.EgressTimeout(),
	})
	if geo := a.openGeo(); geo != nil {
		defer geo.Close()
		trials.WithGeo(geo)
	}

	bar := newProgress(a.stderr, progress)
	rep, err := pipeline.Evaluate(ctx, raw, pipeline.Options{
		MaxConfigs:        cfg.MaxConfigs,
		MaxServersToTest:  cfg.MaxServers,
		MaxWorkingServers: cfg.MaxWorking,
		Credentials:       creds,
		OracleTimeout:     cfg.EgressTimeout(),
		Stager:            ovpn.NewStager(ws.WorkDir, creds),
		Trials:            trials,
		Oracle:            oracle,
		Prober:            probe.NewProber(cfg.ProbeTimeout(), cfg.ProbeConcurrency, cfg.ProbeRate),
		RunID:             runID,
		OutputDir:         cfg.OutputDir,
		WorkDir:           ws.WorkDir,
		OnCandidates:      bar.start,
		OnOutcome:         bar.step,
	})
	bar.finish()
	if errors.Is(err, pipeline.ErrNoCandidates) {
		_ = ws.Cleanup()
		return rep, err
	}
	if err != nil {
		return rep, err
	}

	if err := report.Render(a.stdout, rep); err != nil {
		return rep, err
	}
	if err := a.writeArtifacts(rep, ws); err != nil {
		log.WithError(err).Error("writing results failed")
	}

	switch {
	case ctx.Err() != nil:
		return rep, ctx.Err()
	case cfg.KeepWork:
		fmt.Fprintf(a.stdout, "Working area kept at %s\n", ws.WorkDir)
	case rep.State.Accepted == 0:
		log.WithField("dir", ws.WorkDir).Info("working area kept for inspection")
	default:
		if err := ws.Cleanup(); err != nil {
			log.WithError(err).Warn("removing working area failed")
		}
	}
	return rep, nil
}

func (a *app) writeArtifacts(rep model.Report, ws *workspace.Workspace) error {
	if rep.State.Attempted > 0 {
		if err := ws.EnsureOutput(); err != nil {
			return err
		}
		if err := report.SaveCSV(filepath.Join(ws.OutputDir, report.ResultsFileName), rep.Outcomes); err != nil {
			return err
		}
	}
	if a.cfg.MetricsTextfile != "" {
		if err := report.WriteTextfile(a.cfg.MetricsTextfile, rep); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) fetchFeed(ctx context.Context) (string, error) {
	if a.cfg.FeedFile != "" {
		return feed.LoadFile(a.cfg.FeedFile)
	}
	f := feed.NewFetcher(a.cfg.FeedURLs, a.cfg.FeedTimeout())
	if a.deps.client != nil && a.deps.client.Transport != nil {
		f.Client.Transport = a.deps.client.Transport
	}
	raw, from, err := f.Fetch(ctx)
	if err != nil {
		return "", err
	}
	log.WithField("url", from).Info("feed downloaded")
	return raw, nil
}

func (a *app) oracle() (*egress.Oracle, error) {
	sources := a.cfg.EgressSources
	secondary := ""
	if len(sources) > 1 {
		secondary = sources[1]
	}
	return egress.New(sources[0], secondary, a.deps.client)
}

func (a *app) openGeo() *geoip.DB {
	if a.cfg.GeoIPPath == "" {
		return nil
	}
	db, err := geoip.Open(a.cfg.GeoIPPath)
	if err != nil {
		log.WithError(err).Warn("geoip database unavailable")
		return nil
	}
	return db
}
