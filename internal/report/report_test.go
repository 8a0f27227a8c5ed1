package report

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"relaycheck/internal/model"
)

func sampleReport() model.Report {
	accepted := model.TunnelConfig{Name: "vpngate_192.0.2.1_JP.ovpn", Path: "/out/vpngate_192.0.2.1_JP.ovpn"}
	return model.Report{
		RunID:     "run-1",
		Baseline:  "203.0.113.1",
		OutputDir: "/out",
		WorkDir:   "/tmp/relaycheck-run-1",
		State: model.EvaluationState{
			Examined:        30,
			Skipped:         2,
			NoPayload:       3,
			Usable:          25,
			Synthesized:     20,
			Attempted:       2,
			Accepted:        1,
			AcceptedConfigs: []model.TunnelConfig{accepted},
		},
		Outcomes: []model.TrialOutcome{
			{Candidate: accepted.Name, Address: "192.0.2.1", CountryCode: "JP", Classification: model.Working, EgressAddress: "198.51.100.9", EgressCountry: "JP", Reachable: true, Duration: 4 * time.Second, Detail: "egress address changed"},
			{Candidate: "vpngate_192.0.2.2_KR.ovpn", Address: "192.0.2.2", CountryCode: "KR", Classification: model.AuthFailed, Duration: 1500 * time.Millisecond, Detail: "a, b"},
		},
	}
}

func TestWriteCSV(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := WriteCSV(&buf, sampleReport().Outcomes); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	want := [][]string{
		csvHeader,
		{"vpngate_192.0.2.1_JP.ovpn", "192.0.2.1", "JP", "working", "198.51.100.9", "JP", "true", "4000", "egress address changed"},
		{"vpngate_192.0.2.2_KR.ovpn", "192.0.2.2", "KR", "auth_failed", "", "", "false", "1500", "a, b"},
	}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Fatalf("rows mismatch (-want +got):\n%s", diff)
	}
}

func TestSaveCSVReplaces(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out", ResultsFileName)
	rep := sampleReport()
	if err := SaveCSV(path, rep.Outcomes); err != nil {
		t.Fatalf("SaveCSV #1: %v", err)
	}
	if err := SaveCSV(path, rep.Outcomes[:1]); err != nil {
		t.Fatalf("SaveCSV #2: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if lines := strings.Split(strings.TrimSpace(string(data)), "\n"); len(lines) != 2 {
		t.Fatalf("lines=%d\n%s", len(lines), data)
	}
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	s := Summarize(sampleReport().Outcomes)
	if s.Count != 2 || s.ByClass[model.Working] != 1 || s.ByClass[model.AuthFailed] != 1 {
		t.Fatalf("summary=%+v", s)
	}
	if s.AvgDuration != 2750*time.Millisecond || s.MaxDuration != 4*time.Second || s.P95Duration != 4*time.Second {
		t.Fatalf("durations avg=%v max=%v p95=%v", s.AvgDuration, s.MaxDuration, s.P95Duration)
	}
	if s.Reachable != 1 || s.EgressKnown != 1 {
		t.Fatalf("reachable=%d egress=%d", s.Reachable, s.EgressKnown)
	}
	if empty := Summarize(nil); empty.Count != 0 {
		t.Fatalf("empty=%+v", empty)
	}
}

func TestRender(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := Render(&buf, sampleReport()); err != nil {
		t.Fatalf("Render: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"Baseline egress address: 203.0.113.1",
		"usable 25",
		"Trials attempted:    2",
		"198.51.100.9 (JP)",
		"auth_failed",
		"/out/vpngate_192.0.2.1_JP.ovpn",
		"sudo openvpn --config",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
}

func TestRenderNoneAccepted(t *testing.T) {
	t.Parallel()

	rep := sampleReport()
	rep.State.AcceptedConfigs = nil
	var buf bytes.Buffer
	if err := Render(&buf, rep); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(buf.String(), "Logs are in /tmp/relaycheck-run-1") {
		t.Fatalf("missing log hint:\n%s", buf.String())
	}
}

func TestWriteTextfile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "relaycheck.prom")
	if err := WriteTextfile(path, sampleReport()); err != nil {
		t.Fatalf("WriteTextfile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	for _, want := range []string{
		"relaycheck_records_total 30",
		"relaycheck_configs_synthesized 20",
		"relaycheck_trials_attempted 2",
		"relaycheck_trials_accepted 1",
		`relaycheck_trial_outcomes{classification="working"} 1`,
		`relaycheck_trial_outcomes{classification="timeout"} 0`,
	} {
		if !strings.Contains(string(data), want) {
			t.Fatalf("missing %q in:\n%s", want, data)
		}
	}
}
