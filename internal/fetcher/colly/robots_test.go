package collyfetcher

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRobotsRetryReturnsAllowAllOnTimeout(t *testing.T) {
	t.Parallel()

	base := &stubRoundTripper{
		results: []roundTripResult{
			{err: context.DeadlineExceeded},
			{err: context.DeadlineExceeded},
			{err: context.DeadlineExceeded},
			{err: context.DeadlineExceeded},
		},
	}
	transport := NewRobotsTransport(base)
	transport.backoff = []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}

	req := httptest.NewRequest(http.MethodGet, "https://example.com/robots.txt", nil)
	resp, err := transport.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip returned error: %v", err)
	}
	t.Cleanup(func() {
		if cerr := resp.Body.Close(); cerr != nil {
			t.Fatalf("resp close: %v", cerr)
		}
	})

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(body) != "User-agent: *\nAllow: /" {
		t.Fatalf("unexpected fallback body: %q", string(body))
	}
	if base.calls != 4 {
		t.Fatalf("expected 4 attempts, got %d", base.calls)
	}
}

func TestRobotsRetryStopsAfterSuccess(t *testing.T) {
	t.Parallel()

	base := &stubRoundTripper{
		results: []roundTripResult{
			{err: context.DeadlineExceeded},
			{resp: httptest.NewRecorder().Result()},
		},
	}
	transport := NewRobotsTransport(base)
	transport.backoff = []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}

	req := httptest.NewRequest(http.MethodGet, "https://example.com/robots.txt", nil)
	resp, err := transport.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip returned error: %v", err)
	}
	if cerr := resp.Body.Close(); cerr != nil {
		t.Fatalf("resp close: %v", cerr)
	}
	if base.calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", base.calls)
	}
}

func TestRobotsTransportPassesOtherRequestsThrough(t *testing.T) {
	t.Parallel()

	base := &stubRoundTripper{results: []roundTripResult{{err: context.DeadlineExceeded}}}
	transport := NewRobotsTransport(base)

	req := httptest.NewRequest(http.MethodGet, "https://example.com/menu", nil)
	if _, err := transport.RoundTrip(req); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected pass-through error, got %v", err)
	}
	if base.calls != 1 {
		t.Fatalf("expected a single attempt, got %d", base.calls)
	}
}

func TestRobotsTransportNonTransientFailsFast(t *testing.T) {
	t.Parallel()

	base := &stubRoundTripper{results: []roundTripResult{{err: errors.New("connection refused")}}}
	transport := NewRobotsTransport(base)

	req := httptest.NewRequest(http.MethodGet, "https://example.com/robots.txt", nil)
	if _, err := transport.RoundTrip(req); err == nil {
		t.Fatal("expected error for non-transient failure")
	}
	if base.calls != 1 {
		t.Fatalf("expected a single attempt, got %d", base.calls)
	}
}

func TestRobotsRetriesServerErrors(t *testing.T) {
	t.Parallel()

	unavailable := func() *http.Response {
		return &http.Response{StatusCode: http.StatusServiceUnavailable, Body: io.NopCloser(strings.NewReader("busy"))}
	}
	base := &stubRoundTripper{results: []roundTripResult{
		{resp: unavailable()},
		{resp: httptest.NewRecorder().Result()},
	}}
	transport := NewRobotsTransport(base)
	transport.backoff = []time.Duration{time.Millisecond, time.Millisecond}

	req := httptest.NewRequest(http.MethodGet, "https://example.com/robots.txt", nil)
	resp, err := transport.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip returned error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 after retry, got %d", resp.StatusCode)
	}
	if base.calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", base.calls)
	}

	persistent := &stubRoundTripper{results: []roundTripResult{{resp: unavailable()}, {resp: unavailable()}, {resp: unavailable()}}}
	transport = NewRobotsTransport(persistent)
	transport.backoff = []time.Duration{time.Millisecond, time.Millisecond}
	resp, err = transport.RoundTrip(httptest.NewRequest(http.MethodGet, "https://example.com/robots.txt", nil))
	if err != nil {
		t.Fatalf("RoundTrip returned error: %v", err)
	}
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected the final 503 to be returned, got %d", resp.StatusCode)
	}
	if persistent.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", persistent.calls)
	}
}

func TestIsTransientTLSError(t *testing.T) {
	t.Parallel()

	if isTransientTLSError(nil) {
		t.Fatal("nil is not transient")
	}
	if !isTransientTLSError(errors.New("remote error: tls: handshake timeout")) {
		t.Fatal("handshake timeout should be transient")
	}
	if isTransientTLSError(errors.New("no such host")) {
		t.Fatal("dns failure should not be transient")
	}
}

type roundTripResult struct {
	resp *http.Response
	err  error
}

type stubRoundTripper struct {
	results []roundTripResult
	calls   int
}

func (s *stubRoundTripper) RoundTrip(_ *http.Request) (*http.Response, error) {
	defer func() { s.calls++ }()
	if len(s.results) == 0 {
		return nil, context.DeadlineExceeded
	}
	idx := s.calls
	if idx >= len(s.results) {
		idx = len(s.results) - 1
	}
	res := s.results[idx]
	return res.resp, res.err
}
