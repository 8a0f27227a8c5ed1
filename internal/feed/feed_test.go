package feed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
)

const sample = "*vpn_servers\n#HostName,IP,Score\npublic-vpn-1,192.0.2.1,100\n"

func TestFetch_FallsThroughToWorkingURL(t *testing.T) {
	t.Parallel()

	var htmlHits atomic.Int32
	html := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		htmlHits.Add(1)
		_, _ = w.Write([]byte("<html>maintenance</html>"))
	}))
	defer html.Close()
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer down.Close()

	var ua atomic.Value
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua.Store(r.UserAgent())
		_, _ = w.Write([]byte(sample))
	}))
	defer good.Close()

	f := &Fetcher{URLs: []string{html.URL, down.URL, good.URL}, Client: good.Client()}
	body, from, err := f.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if body != sample || from != good.URL {
		t.Fatalf("from=%s body=%q", from, body)
	}
	if htmlHits.Load() != 1 {
		t.Fatalf("html hits=%d", htmlHits.Load())
	}
	if got, _ := ua.Load().(string); got != UserAgent {
		t.Fatalf("user agent=%q", got)
	}
}

func TestFetch_AllFail(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f := &Fetcher{URLs: []string{srv.URL, srv.URL + "/b"}, Client: srv.Client()}
	_, _, err := f.Fetch(context.Background())
	if !errors.Is(err, ErrFetch) {
		t.Fatalf("err=%v", err)
	}
	if hits.Load() != 2 {
		t.Fatalf("hits=%d", hits.Load())
	}
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	good := filepath.Join(dir, "feed.csv")
	if err := os.WriteFile(good, []byte(sample), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	text, err := LoadFile(good)
	if err != nil || text != sample {
		t.Fatalf("text=%q err=%v", text, err)
	}

	if _, err := LoadFile(filepath.Join(dir, "missing.csv")); !errors.Is(err, ErrFetch) {
		t.Fatalf("err=%v", err)
	}
}

func TestLooksLikeCSV(t *testing.T) {
	t.Parallel()

	if LooksLikeCSV([]byte("<html></html>")) {
		t.Fatalf("html detected as csv")
	}
	if !LooksLikeCSV([]byte("a,b")) {
		t.Fatalf("csv not detected")
	}
}
