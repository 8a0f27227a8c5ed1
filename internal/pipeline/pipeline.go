// Package pipeline evaluates a relay feed end to end: parse, synthesize,
// probe and trial candidates in feed order, then report.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/apex/log"

	"relaycheck/internal/egress"
	"relaycheck/internal/model"
	"relaycheck/internal/ovpn"
	"relaycheck/internal/probe"
	"relaycheck/internal/record"
)

// ErrNoCandidates is returned when the feed holds no usable record.
var ErrNoCandidates = errors.New("no usable candidates in feed")

const (
	DefaultMaxConfigs        = 20
	DefaultMaxServersToTest  = 10
	DefaultMaxWorkingServers = 3
)

// Stager places a synthesized configuration into the working area.
type Stager interface {
	Stage(cfg model.TunnelConfig) (model.TunnelConfig, error)
}

// Trials runs one trial at a time.
type Trials interface {
	Run(ctx context.Context, cfg model.TunnelConfig, baseline string) model.TrialOutcome
}

// Oracle reports the current public address.
type Oracle interface {
	CurrentPublicAddress(ctx context.Context, timeout time.Duration) string
}

// Prober checks reachability of many endpoints.
type Prober interface {
	ProbeAll(ctx context.Context, targets []probe.Target) map[string]bool
}

type Options struct {
	MaxConfigs        int
	MaxServersToTest  int
	MaxWorkingServers int
	Credentials       ovpn.Credentials
	OracleTimeout     time.Duration

	Stager Stager
	Trials Trials
	Oracle Oracle
	// Prober is optional; probing is advisory.
	Prober Prober

	RunID     string
	OutputDir string
	WorkDir   string

	// OnCandidates is called once with the number of trials that may run.
	OnCandidates func(n int)
	// OnOutcome is called after every trial.
	OnOutcome func(out model.TrialOutcome)
}

func (o *Options) applyDefaults() {
	if o.MaxConfigs <= 0 {
		o.MaxConfigs = DefaultMaxConfigs
	}
	if o.MaxServersToTest <= 0 {
		o.MaxServersToTest = DefaultMaxServersToTest
	}
	if o.MaxWorkingServers <= 0 {
		o.MaxWorkingServers = DefaultMaxWorkingServers
	}
	if o.OracleTimeout <= 0 {
		o.OracleTimeout = egress.DefaultTimeout
	}
}

// Candidates parses the feed and synthesizes up to MaxConfigs configurations
// in feed order. Nothing is staged.
func Candidates(rawFeed string, opts Options) ([]model.TunnelConfig, model.EvaluationState, error) {
	opts.applyDefaults()
	var state model.EvaluationState

	parsed := record.ParseFeed(rawFeed)
	state.Skipped = parsed.Skipped
	state.NoPayload = parsed.NoPayload
	state.Usable = len(parsed.Records)
	state.Examined = parsed.Skipped + parsed.NoPayload + len(parsed.Records)
	if state.Usable == 0 {
		return nil, state, fmt.Errorf("%w: %d lines examined, %d malformed, %d without configuration",
			ErrNoCandidates, state.Examined, state.Skipped, state.NoPayload)
	}

	var configs []model.TunnelConfig
	for _, rec := range parsed.Records {
		if len(configs) >= opts.MaxConfigs {
			break
		}
		cfg, err := ovpn.Synthesize(rec, opts.Credentials)
		if err != nil {
			log.WithError(err).WithFields(log.Fields{
				"line":    rec.LineNumber,
				"address": rec.Address,
			}).Warn("synthesis failed")
			continue
		}
		configs = append(configs, cfg)
	}
	state.Synthesized = len(configs)
	return configs, state, nil
}

// Evaluate runs the whole pipeline over rawFeed. Only an empty feed is an
// error; every per-candidate failure ends up in the report.
func Evaluate(ctx context.Context, rawFeed string, opts Options) (model.Report, error) {
	opts.applyDefaults()
	rep := model.Report{RunID: opts.RunID, OutputDir: opts.OutputDir, WorkDir: opts.WorkDir}

	if opts.Stager == nil || opts.Trials == nil || opts.Oracle == nil {
		return rep, fmt.Errorf("pipeline: stager, trials and oracle are required")
	}

	configs, state, err := Candidates(rawFeed, opts)
	rep.State = state
	if err != nil {
		return rep, err
	}

	staged := make([]model.TunnelConfig, 0, len(configs))
	for _, cfg := range configs {
		cfg, err := opts.Stager.Stage(cfg)
		if err != nil {
			log.WithError(err).WithField("candidate", cfg.Name).Warn("staging failed")
			continue
		}
		staged = append(staged, cfg)
	}
	rep.State.Synthesized = len(staged)
	log.WithFields(log.Fields{
		"examined":    rep.State.Examined,
		"skipped":     rep.State.Skipped,
		"usable":      rep.State.Usable,
		"synthesized": rep.State.Synthesized,
	}).Info("candidates ready")

	rep.Baseline = opts.Oracle.CurrentPublicAddress(ctx, opts.OracleTimeout)
	log.WithField("address", rep.Baseline).Info("baseline egress")

	reachable := map[string]bool{}
	if opts.Prober != nil {
		targets := make([]probe.Target, 0, len(staged))
		for _, cfg := range staged {
			targets = append(targets, probe.Target{Key: cfg.Name, Host: cfg.RemoteHost, Port: cfg.Port})
		}
		reachable = opts.Prober.ProbeAll(ctx, targets)
	}

	if opts.OnCandidates != nil {
		opts.OnCandidates(min(len(staged), opts.MaxServersToTest))
	}

	for _, cfg := range staged {
		if rep.State.Attempted >= opts.MaxServersToTest || rep.State.Working >= opts.MaxWorkingServers {
			break
		}
		if ctx.Err() != nil {
			log.Warn("evaluation interrupted")
			break
		}

		ok := reachable[cfg.Name]
		entry := log.WithFields(log.Fields{"candidate": cfg.Name, "reachable": ok})
		if !ok && opts.Prober != nil {
			entry.Debug("tcp probe failed, trying anyway")
		}

		rep.State.Attempted++
		out := opts.Trials.Run(ctx, cfg, rep.Baseline)
		out.Reachable = ok
		if out.Classification == model.Working {
			rep.State.Working++
		}
		if out.Classification == model.Working && out.SavedPath != "" {
			rep.State.Accepted++
			accepted := cfg
			accepted.Path = out.SavedPath
			rep.State.AcceptedConfigs = append(rep.State.AcceptedConfigs, accepted)
		}
		rep.Outcomes = append(rep.Outcomes, out)
		if opts.OnOutcome != nil {
			opts.OnOutcome(out)
		}
	}

	return rep, nil
}
