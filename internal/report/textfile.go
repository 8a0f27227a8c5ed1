package report

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"relaycheck/internal/model"
)

var allClasses = []model.Classification{
	model.Working,
	model.ConnectedNoIdentityChange,
	model.AuthFailed,
	model.TLSError,
	model.CertificateError,
	model.ConnectionRefused,
	model.Timeout,
	model.Unknown,
}

// Registry builds a registry holding the run counters.
func Registry(rep model.Report) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	gauge := func(name, help string, v int) {
		g := prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
		g.Set(float64(v))
		reg.MustRegister(g)
	}
	gauge("relaycheck_records_total", "Feed data lines examined.", rep.State.Examined)
	gauge("relaycheck_configs_synthesized", "Configurations synthesized and staged.", rep.State.Synthesized)
	gauge("relaycheck_trials_attempted", "Tunnel trials attempted.", rep.State.Attempted)
	gauge("relaycheck_trials_accepted", "Trials accepted as working.", rep.State.Accepted)

	outcomes := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "relaycheck_trial_outcomes",
		Help: "Trials per classification in the last run.",
	}, []string{"classification"})
	sum := Summarize(rep.Outcomes)
	for _, c := range allClasses {
		outcomes.WithLabelValues(c.String()).Set(float64(sum.ByClass[c]))
	}
	reg.MustRegister(outcomes)
	return reg
}

// WriteTextfile writes the run counters for the node_exporter textfile collector.
func WriteTextfile(path string, rep model.Report) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := prometheus.WriteToTextfile(path, Registry(rep)); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
