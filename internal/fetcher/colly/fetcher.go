// Package collyfetcher implements a static PageRenderer using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
)

const defaultTimeout = 15 * time.Second

// ErrNotHTML is returned when the response is not an HTML document.
var ErrNotHTML = errors.New("response is not html")

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	Headers   http.Header
	// MaxBodySize caps the downloaded body in bytes. Zero keeps colly's default.
	MaxBodySize int
}

// Renderer implements crawler.PageRenderer with a plain HTTP GET through
// Colly. It does not execute JavaScript.
type Renderer struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Renderer.
func New(cfg Config) *Renderer {
	// Robots rules are enforced by the crawl engine before scheduling.
	c := colly.NewCollector(colly.Async(false), colly.IgnoreRobotsTxt(), colly.AllowURLRevisit())
	if cfg.MaxBodySize > 0 {
		c.MaxBodySize = cfg.MaxBodySize
	}

	transport := newHTTPTransport()
	c.WithTransport(transport)

	return &Renderer{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
	}
}

// Render fetches rawURL and returns the response body.
func (r *Renderer) Render(ctx context.Context, rawURL string) (string, error) {
	var (
		body     string
		fetchErr error
	)
	collector := r.buildCollector(&body, &fetchErr)
	if err := r.runCollector(ctx, collector, rawURL, &fetchErr); err != nil {
		return "", err
	}
	return body, nil
}

func (r *Renderer) buildCollector(body *string, fetchErr *error) *colly.Collector {
	collector := r.baseCollector.Clone()
	if r.cfg.UserAgent != "" {
		collector.UserAgent = r.cfg.UserAgent
	}
	timeout := r.cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	collector.SetRequestTimeout(timeout)
	collector.WithTransport(r.transport)

	r.configureCollectorHooks(collector, body, fetchErr)
	return collector
}

func (r *Renderer) configureCollectorHooks(hooks collectorHooks, body *string, fetchErr *error) {
	hooks.OnRequest(func(req *colly.Request) {
		r.copyHeaders(req)
	})

	hooks.OnResponse(func(resp *colly.Response) {
		if !isHTML(resp.Headers) {
			*fetchErr = fmt.Errorf("%w: %s", ErrNotHTML, resp.Headers.Get("Content-Type"))
			return
		}
		*body = string(resp.Body)
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (r *Renderer) runCollector(ctx context.Context, collector *colly.Collector, rawURL string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func (r *Renderer) copyHeaders(req *colly.Request) {
	for key, values := range r.cfg.Headers {
		for _, v := range values {
			req.Headers.Add(key, v)
		}
	}
}

// isHTML treats a missing content type as HTML.
func isHTML(headers *http.Header) bool {
	if headers == nil {
		return true
	}
	ct := strings.ToLower(headers.Get("Content-Type"))
	if ct == "" {
		return true
	}
	return strings.Contains(ct, "html") || strings.Contains(ct, "xml")
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
