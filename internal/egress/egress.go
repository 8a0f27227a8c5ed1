// Package egress finds out which public address third parties see for us.
package egress

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/apex/log"
)

// Unknown is returned when no source could tell the address.
const Unknown = "unknown"

// DefaultTimeout bounds a single lookup against one source.
const DefaultTimeout = 5 * time.Second

// Default sources, queried in this order.
const (
	DefaultPrimary   = "https://api.ipify.org"
	DefaultSecondary = "https://icanhazip.com"
)

var ErrNotAnAddress = errors.New("response is not an IP address")

// Source reports the caller's public address.
type Source interface {
	Lookup(ctx context.Context) (string, error)
	String() string
}

// NewSource builds a Source from a URL. http and https URLs are plain-text
// echo services; "stun:host:port" performs a STUN binding request.
func NewSource(raw string, client *http.Client) (Source, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case strings.HasPrefix(raw, "http://"), strings.HasPrefix(raw, "https://"):
		if client == nil {
			client = &http.Client{}
		}
		return &HTTPSource{URL: raw, Client: client}, nil
	case strings.HasPrefix(raw, "stun:"):
		return &STUNSource{Server: raw}, nil
	case raw == "":
		return nil, fmt.Errorf("empty address source")
	default:
		return nil, fmt.Errorf("unsupported address source %q", raw)
	}
}

// Oracle asks a primary source and, on any failure, exactly one secondary.
type Oracle struct {
	Primary   Source
	Secondary Source
}

// New builds an Oracle from two source URLs.
func New(primary, secondary string, client *http.Client) (*Oracle, error) {
	p, err := NewSource(primary, client)
	if err != nil {
		return nil, err
	}
	o := &Oracle{Primary: p}
	if secondary != "" {
		s, err := NewSource(secondary, client)
		if err != nil {
			return nil, err
		}
		o.Secondary = s
	}
	return o, nil
}

// CurrentPublicAddress returns the caller's public address or Unknown.
// Each source gets its own timeout.
func (o *Oracle) CurrentPublicAddress(ctx context.Context, timeout time.Duration) string {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	for _, src := range []Source{o.Primary, o.Secondary} {
		if src == nil {
			continue
		}
		addr, err := lookup(ctx, src, timeout)
		if err == nil {
			return addr
		}
		log.WithError(err).WithField("source", src.String()).Debug("egress lookup failed")
	}
	return Unknown
}

func lookup(ctx context.Context, src Source, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	addr, err := src.Lookup(ctx)
	if err != nil {
		return "", err
	}
	addr = strings.Trim(addr, "\r\n \t")
	if net.ParseIP(addr) == nil {
		return "", fmt.Errorf("%w: %q", ErrNotAnAddress, truncate(addr, 64))
	}
	return addr, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
