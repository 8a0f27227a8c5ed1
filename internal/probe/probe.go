package probe

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// DefaultTimeout bounds a single connect attempt.
const DefaultTimeout = 3 * time.Second

// AdvisoryOnly is the policy for probe results: an unreachable port never
// prevents a trial. OpenVPN over UDP does not answer a TCP connect, so a
// negative result is expected for many healthy endpoints.
const AdvisoryOnly = true

// Reachable attempts a TCP connect to host:port. Resolution failure, refusal
// and timeout all yield false.
func Reachable(ctx context.Context, host string, port int, timeout time.Duration) bool {
	if host == "" || port <= 0 {
		return false
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// Target is one endpoint to probe.
type Target struct {
	Key  string
	Host string
	Port int
}

// Prober probes many targets concurrently with a bounded number of
// in-flight dials and a dial rate limit.
type Prober struct {
	Timeout     time.Duration
	Concurrency int
	PerSecond   float64

	// dial is replaced in tests.
	dial func(ctx context.Context, host string, port int, timeout time.Duration) bool
}

func NewProber(timeout time.Duration, concurrency int, perSecond float64) *Prober {
	if concurrency <= 0 {
		concurrency = 8
	}
	if perSecond <= 0 {
		perSecond = 20
	}
	return &Prober{Timeout: timeout, Concurrency: concurrency, PerSecond: perSecond, dial: Reachable}
}

// ProbeAll returns the reachability of every target keyed by Target.Key.
// Targets not probed before ctx ends are reported unreachable.
func (p *Prober) ProbeAll(ctx context.Context, targets []Target) map[string]bool {
	out := make(map[string]bool, len(targets))
	var mu sync.Mutex

	dial := p.dial
	if dial == nil {
		dial = Reachable
	}
	limiter := rate.NewLimiter(rate.Limit(p.PerSecond), 1)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.Concurrency)
	for _, t := range targets {
		t := t
		g.Go(func() error {
			ok := false
			if err := limiter.Wait(gctx); err == nil {
				ok = dial(gctx, t.Host, t.Port, p.Timeout)
			}
			mu.Lock()
			out[t.Key] = ok
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}
