// Package fetcher composes PageRenderer implementations.
package fetcher

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/JakeFAU/menu-harvester/internal/crawler"
	collyfetcher "github.com/JakeFAU/menu-harvester/internal/fetcher/colly"
)

// Promotions counts pages re-rendered in the headless browser, labeled by reason.
var Promotions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "harvest_render_promotions_total",
	Help: "The total number of static renders promoted to headless, labeled by reason.",
}, []string{"reason"})

// Detector decides whether static HTML needs a headless render.
type Detector interface {
	ShouldPromote(html string) bool
}

// Waiter blocks until a request to rawURL may proceed.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Promoting renders statically first and falls back to the headless renderer
// when the static fetch fails or the detector flags a JavaScript shell.
type Promoting struct {
	static   crawler.PageRenderer
	headless crawler.PageRenderer
	detector Detector
	logger   *zap.Logger
}

// NewPromoting builds a Promoting renderer. headless may be nil, in which case
// static results are returned as-is.
func NewPromoting(static, headless crawler.PageRenderer, detector Detector, logger *zap.Logger) (*Promoting, error) {
	if static == nil {
		return nil, errors.New("static renderer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Promoting{
		static:   static,
		headless: headless,
		detector: detector,
		logger:   logger.Named("renderer"),
	}, nil
}

// Render implements crawler.PageRenderer.
func (p *Promoting) Render(ctx context.Context, rawURL string) (string, error) {
	html, err := p.static.Render(ctx, rawURL)
	if p.headless == nil {
		return html, err
	}
	switch {
	case err != nil:
		if errors.Is(err, collyfetcher.ErrNotHTML) || ctx.Err() != nil {
			return "", err
		}
		p.logger.Debug("static render failed; trying headless", zap.String("url", rawURL), zap.Error(err))
		Promotions.WithLabelValues("static_error").Inc()
	case p.detector != nil && p.detector.ShouldPromote(html):
		Promotions.WithLabelValues("detector").Inc()
	default:
		return html, nil
	}

	rendered, herr := p.headless.Render(ctx, rawURL)
	if herr != nil {
		if err == nil {
			// The static snapshot is still usable.
			p.logger.Debug("headless render failed; keeping static html", zap.String("url", rawURL), zap.Error(herr))
			return html, nil
		}
		return "", fmt.Errorf("headless render after static failure: %w", herr)
	}
	return rendered, nil
}

// RateLimited waits on a per-host limiter before delegating each render.
type RateLimited struct {
	next    crawler.PageRenderer
	limiter Waiter
}

// NewRateLimited wraps next. A nil limiter returns next unchanged.
func NewRateLimited(next crawler.PageRenderer, limiter Waiter) crawler.PageRenderer {
	if limiter == nil {
		return next
	}
	return &RateLimited{next: next, limiter: limiter}
}

// Render implements crawler.PageRenderer.
func (r *RateLimited) Render(ctx context.Context, rawURL string) (string, error) {
	if err := r.limiter.Wait(ctx, rawURL); err != nil {
		return "", err
	}
	html, err := r.next.Render(ctx, rawURL)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", rawURL, err)
	}
	return html, nil
}
