package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/JakeFAU/menu-harvester/internal/crawler"
)

var robotsRetryBackoff = []time.Duration{
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
}

// RobotsTransport retries robots.txt requests that hit transient TLS or
// timeout failures or 5xx answers. When every attempt fails at the network
// level it answers with an allow-all robots file so a flaky host does not
// block the whole crawl. Other requests pass straight through.
type RobotsTransport struct {
	base    http.RoundTripper
	backoff []time.Duration
}

// NewRobotsTransport wraps base. A nil base uses a pooled default transport.
func NewRobotsTransport(base http.RoundTripper) *RobotsTransport {
	if base == nil {
		base = newHTTPTransport()
	}
	return &RobotsTransport{base: base, backoff: robotsRetryBackoff}
}

// RoundTrip implements http.RoundTripper.
func (t *RobotsTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("robots transport received nil request")
	}
	if !isRobotsTxtRequest(req) {
		resp, err := t.base.RoundTrip(req)
		if err != nil {
			return nil, fmt.Errorf("robots transport base roundtrip: %w", err)
		}
		return resp, nil
	}
	return t.roundTripWithRetry(req)
}

func (t *RobotsTransport) roundTripWithRetry(req *http.Request) (*http.Response, error) {
	maxAttempts := len(t.backoff) + 1
	for attempt := range maxAttempts {
		last := attempt == maxAttempts-1
		resp, err := t.base.RoundTrip(req.Clone(req.Context()))
		switch {
		case err == nil && (resp.StatusCode < http.StatusInternalServerError || last):
			// A persistent 5xx is handed to the robots parser, which treats it as disallow-all.
			return resp, nil
		case err == nil:
			discard(resp.Body)
		case !isTransientTLSError(err):
			return nil, fmt.Errorf("robots roundtrip non-transient: %w", err)
		case last:
			crawler.RobotsFallbacks.Inc()
			return syntheticRobotsAllowAllResponse(req), nil
		}
		if err := sleepWithContext(req.Context(), t.backoff[attempt]); err != nil {
			return nil, fmt.Errorf("robots roundtrip backoff sleep: %w", err)
		}
	}
	return nil, fmt.Errorf("robots roundtrip exhausted retries")
}

func discard(body io.ReadCloser) {
	if body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 64<<10))
	_ = body.Close()
}

func isRobotsTxtRequest(req *http.Request) bool {
	if req == nil || req.URL == nil {
		return false
	}
	return strings.EqualFold(req.URL.Path, "/robots.txt")
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("robots backoff sleep context: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func syntheticRobotsAllowAllResponse(req *http.Request) *http.Response {
	const body = "User-agent: *\nAllow: /"
	return &http.Response{
		StatusCode:    http.StatusOK,
		Status:        "200 OK",
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
		Header:        make(http.Header),
		Request:       req,
	}
}

func isTransientTLSError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "tls: handshake timeout")
}
