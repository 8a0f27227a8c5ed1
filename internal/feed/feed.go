// Package feed downloads the relay list.
package feed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/apex/log"
	"github.com/avast/retry-go/v4"
)

// ErrFetch is returned when no feed source produced a usable list.
var ErrFetch = errors.New("feed unavailable")

const (
	DefaultTimeout = 30 * time.Second
	// UserAgent mimics a desktop browser; some mirrors refuse unknown clients.
	UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	maxFeedBytes = 32 << 20
	sniffBytes   = 4096
)

// DefaultURLs are tried in order.
var DefaultURLs = []string{
	"https://download.vpngate.jp/api/iphone/",
	"https://www.vpngate.net/api/iphone/",
	"http://www.vpngate.net/api/iphone/",
}

var errNotCSV = errors.New("response does not look like CSV")

// Fetcher downloads the feed from the first URL that answers with a CSV body.
type Fetcher struct {
	URLs   []string
	Client *http.Client
	// Delay is the pause between URLs.
	Delay time.Duration
}

func NewFetcher(urls []string, timeout time.Duration) *Fetcher {
	if len(urls) == 0 {
		urls = DefaultURLs
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Fetcher{
		URLs:   urls,
		Client: &http.Client{Timeout: timeout},
		Delay:  500 * time.Millisecond,
	}
}

// Fetch returns the raw feed text and the URL it came from.
func (f *Fetcher) Fetch(ctx context.Context) (string, string, error) {
	if len(f.URLs) == 0 {
		return "", "", fmt.Errorf("%w: no feed URLs configured", ErrFetch)
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}

	var (
		next int
		body string
		from string
	)
	err := retry.Do(
		func() error {
			url := f.URLs[next]
			next++
			text, err := get(ctx, client, url)
			if err != nil {
				return fmt.Errorf("%s: %w", url, err)
			}
			body, from = text, url
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(len(f.URLs))),
		retry.Delay(f.Delay),
		retry.DelayType(retry.FixedDelay),
		retry.OnRetry(func(n uint, err error) {
			log.WithError(err).WithField("attempt", n+1).Warn("feed source failed")
		}),
		retry.LastErrorOnly(false),
	)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrFetch, err)
	}
	log.WithFields(log.Fields{"url": from, "bytes": len(body)}).Debug("feed fetched")
	return body, from, nil
}

func get(ctx context.Context, client *http.Client, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "text/plain,text/csv,*/*")

	res, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return "", fmt.Errorf("request failed: %s", res.Status)
	}
	data, err := io.ReadAll(io.LimitReader(res.Body, maxFeedBytes))
	if err != nil {
		return "", err
	}
	if !LooksLikeCSV(data) {
		return "", errNotCSV
	}
	return string(data), nil
}

// LooksLikeCSV reports whether the start of data contains a comma.
func LooksLikeCSV(data []byte) bool {
	if len(data) > sniffBytes {
		data = data[:sniffBytes]
	}
	return bytes.IndexByte(data, ',') >= 0
}

// LoadFile reads a previously saved feed.
func LoadFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFetch, err)
	}
	if !LooksLikeCSV(data) {
		return "", fmt.Errorf("%w: %s: %v", ErrFetch, path, errNotCSV)
	}
	return string(data), nil
}
