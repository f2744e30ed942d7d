// Package ratelimit paces requests per site with token buckets.
package ratelimit

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"
)

const defaultIdleTTL = 10 * time.Minute

// Delay records how long renders waited for a token.
var Delay = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "harvest_ratelimit_delay_seconds",
	Help:    "Histogram of time spent waiting on the per-site rate limiter.",
	Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
})

// Config holds rate limiter configuration. DefaultRPS <= 0 disables limiting.
type Config struct {
	DefaultRPS   float64
	DefaultBurst int
	// IdleTTL drops buckets of sites not requested for this long. Zero
	// selects ten minutes.
	IdleTTL time.Duration
}

type bucket struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// Limiter keeps one bucket per registrable domain, so www.trattoria.example
// and order.trattoria.example share a budget.
type Limiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	limit     rate.Limit
	burst     int
	idleTTL   time.Duration
	lastSweep time.Time
	now       func() time.Time
}

// New creates a Limiter.
func New(cfg Config) *Limiter {
	limit := rate.Limit(cfg.DefaultRPS)
	if cfg.DefaultRPS <= 0 {
		limit = rate.Inf
	}
	ttl := cfg.IdleTTL
	if ttl <= 0 {
		ttl = defaultIdleTTL
	}
	return &Limiter{
		buckets: make(map[string]*bucket),
		limit:   limit,
		burst:   max(cfg.DefaultBurst, 1),
		idleTTL: ttl,
		now:     time.Now,
	}
}

// Wait blocks until the site of rawURL has a token or ctx ends.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	if l.limit == rate.Inf {
		return nil
	}
	lim := l.acquire(siteKey(rawURL))

	start := time.Now()
	if err := lim.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		Delay.Observe(waited.Seconds())
	}
	return nil
}

func (l *Limiter) acquire(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) >= l.idleTTL {
		for k, b := range l.buckets {
			if now.Sub(b.lastUsed) >= l.idleTTL {
				delete(l.buckets, k)
			}
		}
		l.lastSweep = now
	}

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.lastUsed = now
	return b.limiter
}

// Hosts returns the number of live buckets.
func (l *Limiter) Hosts() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func siteKey(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	host := strings.ToLower(u.Hostname())
	if net.ParseIP(host) != nil {
		return host
	}
	if site, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return site
	}
	return host
}
