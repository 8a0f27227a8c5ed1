package trial

import (
	"strings"

	"relaycheck/internal/egress"
	"relaycheck/internal/model"
)

// Log markers written by openvpn at --verb 3.
const (
	MarkerInitialized = "Initialization Sequence Completed"
	MarkerAuthFailed  = "AUTH_FAILED"
	MarkerTLSError    = "TLS Error"
	MarkerCannotLoad  = "Cannot load"
	MarkerNoStartLine = "no start line"
	MarkerRefused     = "Connection refused"
	MarkerNoRoute     = "No route to host"
)

// Evidence is everything a trial leaves behind for classification.
type Evidence struct {
	Log      string
	TimedOut bool
	// Egress is the address observed while the tunnel was up.
	Egress   string
	Baseline string
}

// Classify applies a fixed precedence over the log markers. When several
// markers are present the earliest rule wins.
func Classify(ev Evidence) model.Classification {
	switch {
	case strings.Contains(ev.Log, MarkerInitialized):
		if IdentityChanged(ev.Baseline, ev.Egress) {
			return model.Working
		}
		return model.ConnectedNoIdentityChange
	case strings.Contains(ev.Log, MarkerAuthFailed):
		return model.AuthFailed
	case strings.Contains(ev.Log, MarkerTLSError):
		return model.TLSError
	case strings.Contains(ev.Log, MarkerCannotLoad), strings.Contains(ev.Log, MarkerNoStartLine):
		return model.CertificateError
	case strings.Contains(ev.Log, MarkerRefused), strings.Contains(ev.Log, MarkerNoRoute):
		return model.ConnectionRefused
	case ev.TimedOut:
		return model.Timeout
	default:
		return model.Unknown
	}
}

var markersByClass = map[model.Classification][]string{
	model.AuthFailed:        {MarkerAuthFailed},
	model.TLSError:          {MarkerTLSError},
	model.CertificateError:  {MarkerCannotLoad, MarkerNoStartLine},
	model.ConnectionRefused: {MarkerRefused, MarkerNoRoute},
}

// MarkerLine returns the first log line carrying a marker of class c,
// without the openvpn timestamp prefix.
func MarkerLine(log string, c model.Classification) string {
	for _, line := range strings.Split(log, "\n") {
		for _, m := range markersByClass[c] {
			if i := strings.Index(line, m); i >= 0 {
				return strings.TrimSpace(line[i:])
			}
		}
	}
	return ""
}

// IdentityChanged reports whether egress is a known address different from baseline.
func IdentityChanged(baseline, egressAddr string) bool {
	if egressAddr == "" || egressAddr == egress.Unknown {
		return false
	}
	return egressAddr != baseline
}

// Initialized reports whether the log shows a completed tunnel setup.
func Initialized(log string) bool {
	return strings.Contains(log, MarkerInitialized)
}

// Tail returns the last n non-empty lines of log.
func Tail(log string, n int) []string {
	lines := strings.Split(strings.ReplaceAll(log, "\r\n", "\n"), "\n")
	out := make([]string, 0, n)
	for i := len(lines) - 1; i >= 0 && len(out) < n; i-- {
		if strings.TrimSpace(lines[i]) == "" {
			continue
		}
		out = append(out, lines[i])
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
