// Package headless renders pages in headless Chrome via chromedp.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

const (
	defaultNavTimeout  = 45 * time.Second
	defaultScrollPause = 500 * time.Millisecond
	defaultMaxScrolls  = 10
)

// ErrHTTPStatus is returned when the main document answered with an error status.
var ErrHTTPStatus = errors.New("document returned error status")

// Config controls the behavior of the headless renderer.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// MaxScrolls bounds the scroll-to-bottom passes used to trigger lazy content.
	MaxScrolls  int
	ScrollPause time.Duration
	// RevealHidden un-hides display:none elements before the snapshot.
	RevealHidden bool
	// MergeFrames appends the body of same-origin iframes to the snapshot.
	MergeFrames bool
	Headers     http.Header
	// ExecPath overrides the Chrome binary discovered by chromedp.
	ExecPath string
}

// Renderer implements crawler.PageRenderer using chromedp and headless Chrome.
// Each Render call opens its own tab and closes it on return.
type Renderer struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger
}

// NewChromedp creates a headless renderer backed by chromedp. The browser is
// started lazily on the first Render.
func NewChromedp(cfg Config, logger *zap.Logger) (*Renderer, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavTimeout
	}
	if cfg.MaxScrolls < 0 {
		cfg.MaxScrolls = 0
	}
	if cfg.ScrollPause <= 0 {
		cfg.ScrollPause = defaultScrollPause
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Renderer{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      logger.Named("headless"),
	}, nil
}

// Close shuts the browser down.
func (r *Renderer) Close() {
	r.allocCancel()
}

// Render navigates to rawURL, lets dynamic content settle and returns the DOM.
func (r *Renderer) Render(ctx context.Context, rawURL string) (string, error) {
	if err := r.acquire(ctx); err != nil {
		return "", err
	}
	defer r.release()

	tabCtx, tabCancel := chromedp.NewContext(r.allocator)
	defer tabCancel()
	// Propagate caller cancellation into the tab.
	stop := context.AfterFunc(ctx, tabCancel)
	defer stop()

	tabCtx, cancel := context.WithTimeout(tabCtx, r.navTimeout())
	defer cancel()

	meta := &responseMeta{}
	chromedp.ListenTarget(tabCtx, meta.captureEvent)

	start := time.Now()
	html, err := r.run(tabCtx, rawURL)
	if err != nil {
		return "", err
	}
	if status := meta.status(); status >= http.StatusBadRequest {
		return "", fmt.Errorf("render %s: %w: %d", rawURL, ErrHTTPStatus, status)
	}
	r.logger.Debug("page rendered",
		zap.String("url", rawURL),
		zap.Int("bytes", len(html)),
		zap.Duration("duration", time.Since(start)),
	)
	return html, nil
}

func (r *Renderer) run(ctx context.Context, rawURL string) (string, error) {
	var html string
	actions := []chromedp.Action{
		r.networkSetupAction(),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		r.scrollAction(),
	}
	if r.cfg.RevealHidden {
		actions = append(actions, chromedp.Evaluate(revealHiddenJS, nil))
	}
	actions = append(actions, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	if err := chromedp.Run(ctx, actions...); err != nil {
		return "", fmt.Errorf("chromedp run: %w", err)
	}
	if r.cfg.MergeFrames {
		var frames []string
		if err := chromedp.Run(ctx, chromedp.Evaluate(sameOriginFramesJS, &frames)); err != nil {
			r.logger.Debug("iframe merge skipped", zap.String("url", rawURL), zap.Error(err))
			return html, nil
		}
		html = mergeFrames(html, frames)
	}
	return html, nil
}

// scrollAction scrolls to the bottom until the document height stops growing.
func (r *Renderer) scrollAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		var last float64
		for i := 0; i < r.cfg.MaxScrolls; i++ {
			var height float64
			if err := chromedp.Evaluate(scrollBottomJS, &height).Do(ctx); err != nil {
				return fmt.Errorf("scroll page: %w", err)
			}
			if i > 0 && height <= last {
				return nil
			}
			last = height
			if err := chromedp.Sleep(r.cfg.ScrollPause).Do(ctx); err != nil {
				return fmt.Errorf("scroll pause: %w", err)
			}
		}
		return nil
	})
}

func (r *Renderer) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if r.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(r.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(r.cfg.Headers) > 0 {
			if err := network.SetExtraHTTPHeaders(toNetworkHeaders(r.cfg.Headers)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

func (r *Renderer) acquire(ctx context.Context) error {
	if r.limiter == nil {
		return nil
	}
	select {
	case r.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (r *Renderer) release() {
	if r.limiter == nil {
		return
	}
	select {
	case <-r.limiter:
	default:
	}
}

func (r *Renderer) navTimeout() time.Duration {
	if r.cfg.NavigationTimeout > 0 {
		return r.cfg.NavigationTimeout
	}
	return defaultNavTimeout
}

// responseMeta records the status of the main document response.
type responseMeta struct {
	mu   sync.Mutex
	code int
}

func (m *responseMeta) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	// Only the first document response belongs to the top-level navigation.
	if m.code == 0 {
		m.code = int(resp.Response.Status)
	}
}

func (m *responseMeta) status() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.code
}

func toNetworkHeaders(h http.Header) network.Headers {
	headers := network.Headers{}
	for key, values := range h {
		if len(values) == 0 {
			continue
		}
		if len(values) == 1 {
			headers[key] = values[0]
		} else {
			headers[key] = append([]string(nil), values...)
		}
	}
	return headers
}
