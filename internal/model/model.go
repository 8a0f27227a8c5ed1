package model

import "time"

// EndpointRecord is one relay as listed by the source feed.
type EndpointRecord struct {
	LineNumber    int
	Hostname      string
	Address       string
	Score         int
	LatencyMs     int
	ThroughputBps int
	CountryCode   string
	CountryName   string
	SessionCount  int
	Uptime        string
	ConfigPayload string
}

// NoConfigSentinel marks a record whose feed entry carries no configuration.
const NoConfigSentinel = "0"

// Usable reports whether the record carries a configuration payload.
func (r EndpointRecord) Usable() bool {
	return r.ConfigPayload != "" && r.ConfigPayload != NoConfigSentinel
}

// ThroughputMbps converts the feed's bits-per-second figure.
func (r EndpointRecord) ThroughputMbps() int {
	return r.ThroughputBps / 1000000
}

// TunnelConfig is a synthesized, runnable client configuration for one candidate.
type TunnelConfig struct {
	Name       string
	Text       string
	Proto      string
	RemoteHost string
	Port       int
	Record     EndpointRecord
	// Path is set once the document has been staged into the working area.
	Path string
}

// Classification is the result class of one trial.
type Classification int

const (
	Unknown Classification = iota
	Working
	ConnectedNoIdentityChange
	AuthFailed
	TLSError
	CertificateError
	ConnectionRefused
	Timeout
)

func (c Classification) String() string {
	switch c {
	case Working:
		return "working"
	case ConnectedNoIdentityChange:
		return "connected_no_identity_change"
	case AuthFailed:
		return "auth_failed"
	case TLSError:
		return "tls_error"
	case CertificateError:
		return "certificate_error"
	case ConnectionRefused:
		return "connection_refused"
	case Timeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// TrialOutcome is produced once per trial.
type TrialOutcome struct {
	Candidate      string
	Address        string
	CountryCode    string
	Classification Classification
	EgressAddress  string
	EgressCountry  string
	Reachable      bool
	Duration       time.Duration
	LogPath        string
	SavedPath      string // copy of an accepted configuration
	Detail         string
}

// EvaluationState holds the counters of one evaluation run. It is created
// per run and never shared between runs.
type EvaluationState struct {
	// Examined counts data lines, parsed or not.
	Examined    int
	Skipped     int
	NoPayload   int
	Usable      int
	Synthesized int
	Attempted   int
	// Working counts trials classified working, persisted or not. It bounds
	// the run.
	Working int
	// Accepted counts working trials whose configuration was persisted.
	Accepted        int
	AcceptedConfigs []TunnelConfig
}

// Report summarizes one evaluation run.
type Report struct {
	RunID     string
	Baseline  string
	State     EvaluationState
	Outcomes  []TrialOutcome
	OutputDir string
	WorkDir   string
}
