package egress

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxBody caps what we read from an echo service.
const maxBody = 512

// HTTPSource queries a service answering with the caller's IP as plain text.
type HTTPSource struct {
	URL    string
	Client *http.Client
}

func (s *HTTPSource) String() string { return s.URL }

func (s *HTTPSource) Lookup(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "text/plain")

	res, err := s.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(res.Body, maxBody))
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		msg := strings.TrimSpace(string(body))
		if msg != "" {
			return "", fmt.Errorf("request failed: %s: %s", res.Status, truncate(msg, 64))
		}
		return "", fmt.Errorf("request failed: %s", res.Status)
	}
	return string(body), nil
}
