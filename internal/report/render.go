// Package report turns an evaluation run into a terminal summary, a CSV
// file and Prometheus textfile metrics.
package report

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"relaycheck/internal/model"
)

var (
	good = color.New(color.FgGreen, color.Bold).SprintFunc()
	warn = color.New(color.FgYellow).SprintFunc()
	bad  = color.New(color.FgRed).SprintFunc()
)

// Colorize renders a classification label for the terminal.
func Colorize(c model.Classification) string {
	switch c {
	case model.Working:
		return good(c.String())
	case model.ConnectedNoIdentityChange, model.Timeout, model.Unknown:
		return warn(c.String())
	default:
		return bad(c.String())
	}
}

// Render writes the human-readable run summary.
func Render(w io.Writer, rep model.Report) error {
	st := rep.State
	p := &printer{w: w}

	p.printf("Run %s\n", rep.RunID)
	p.printf("Baseline egress address: %s\n\n", rep.Baseline)
	p.printf("Records examined:    %d (malformed %d, without configuration %d, usable %d)\n",
		st.Examined, st.Skipped, st.NoPayload, st.Usable)
	p.printf("Configs synthesized: %d\n", st.Synthesized)
	p.printf("Trials attempted:    %d\n", st.Attempted)
	p.printf("Working servers:     %d\n", st.Accepted)

	if len(rep.Outcomes) > 0 {
		p.printf("\n")
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "CANDIDATE\tCOUNTRY\tTCP\tEGRESS\tTIME\tRESULT")
		for _, o := range rep.Outcomes {
			egress := o.EgressAddress
			if egress == "" {
				egress = "-"
			} else if o.EgressCountry != "" {
				egress += " (" + o.EgressCountry + ")"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
				o.Candidate,
				o.CountryCode,
				yesNo(o.Reachable),
				egress,
				o.Duration.Round(100*time.Millisecond),
				Colorize(o.Classification),
			)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		sum := Summarize(rep.Outcomes)
		p.printf("\nAverage trial %s, p95 %s\n",
			sum.AvgDuration.Round(100*time.Millisecond),
			sum.P95Duration.Round(100*time.Millisecond))
	}

	p.printf("\n")
	if len(st.AcceptedConfigs) == 0 {
		p.printf("No working servers found.\n")
		if rep.WorkDir != "" {
			p.printf("Logs are in %s\n", rep.WorkDir)
		}
		return p.err
	}
	p.printf("Working configurations saved to %s:\n", rep.OutputDir)
	for _, cfg := range st.AcceptedConfigs {
		p.printf("  %s\n", cfg.Path)
	}
	p.printf("\nConnect with: sudo openvpn --config %s\n", st.AcceptedConfigs[0].Path)
	return p.err
}

// RenderCandidates lists synthesized configurations without running trials.
func RenderCandidates(w io.Writer, configs []model.TunnelConfig) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tHOST\tCOUNTRY\tSCORE\tPING\tMBPS\tSESSIONS\tREMOTE")
	for _, cfg := range configs {
		r := cfg.Record
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s:%d/%s\n",
			cfg.Name, r.Hostname, r.CountryCode, r.Score, r.LatencyMs,
			r.ThroughputMbps(), r.SessionCount, cfg.RemoteHost, cfg.Port, cfg.Proto)
	}
	return tw.Flush()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

type printer struct {
	w   io.Writer
	err error
}

func (p *printer) printf(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format, args...)
}
