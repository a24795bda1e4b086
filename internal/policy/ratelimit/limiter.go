// Package ratelimit enforces a minimum interval between requests to the same host.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/diecast-crawler/internal/catalog"
	"github.com/JakeFAU/diecast-crawler/internal/metrics"
)

type laneKey struct{}

// WithLane tags ctx with a worker lane. Each lane keeps its own per-host pacing,
// so N lanes issue at most N requests per interval to one host.
func WithLane(ctx context.Context, lane int) context.Context {
	return context.WithValue(ctx, laneKey{}, lane)
}

func laneFrom(ctx context.Context) int {
	lane, _ := ctx.Value(laneKey{}).(int)
	return lane
}

// Limiter manages per-lane, per-host limiters.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
}

// Config holds rate limiter configuration.
type Config struct {
	// Interval is the minimum gap between two requests to one host in one lane.
	Interval time.Duration
}

// New creates a new Limiter. A zero interval disables pacing.
func New(cfg Config) *Limiter {
	limit := rate.Inf
	if cfg.Interval > 0 {
		limit = rate.Every(cfg.Interval)
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    limit,
	}
}

// Wait blocks until the lane in ctx may contact the host of rawURL.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host := "unknown"
	if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}
	key := strconv.Itoa(laneFrom(ctx)) + "|" + host

	l.mu.Lock()
	limiter, exists := l.limiters[key]
	if !exists {
		limiter = rate.NewLimiter(l.limit, 1)
		l.limiters[key] = limiter
	}
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, waited)
	}
	return nil
}

// Fetcher paces every call of the wrapped fetcher.
type Fetcher struct {
	next    catalog.Fetcher
	limiter *Limiter
}

// NewFetcher wraps next so each page or image request first waits on limiter.
func NewFetcher(next catalog.Fetcher, limiter *Limiter) *Fetcher {
	return &Fetcher{next: next, limiter: limiter}
}

// Fetch waits for the host slot, then fetches the page.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (catalog.Page, error) {
	if err := f.limiter.Wait(ctx, rawURL); err != nil {
		return catalog.Page{}, &catalog.FetchError{URL: rawURL, Err: err}
	}
	page, err := f.next.Fetch(ctx, rawURL)
	if err != nil {
		return catalog.Page{}, fmt.Errorf("paced fetch: %w", err)
	}
	return page, nil
}

// FetchImage waits for the host slot, then fetches the image.
func (f *Fetcher) FetchImage(ctx context.Context, rawURL string, maxBytes int64) (catalog.Blob, error) {
	if err := f.limiter.Wait(ctx, rawURL); err != nil {
		return catalog.Blob{}, fmt.Errorf("%w: %w", catalog.ErrImageFetch, err)
	}
	blob, err := f.next.FetchImage(ctx, rawURL, maxBytes)
	if err != nil {
		return catalog.Blob{}, fmt.Errorf("paced image fetch: %w", err)
	}
	return blob, nil
}
