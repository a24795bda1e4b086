// Package collyfetcher implements catalog.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/diecast-crawler/internal/catalog"
)

const defaultImageContentType = "application/octet-stream"

// Config controls collector behavior.
type Config struct {
	// UserAgent is the identity header sent with every request.
	UserAgent string
	// Headers are extra identity headers (e.g. From, Referer) added to every request.
	Headers http.Header
	Timeout time.Duration
}

// Fetcher implements catalog.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. Robots.txt is not consulted: the crawl only visits
// vendor pages named by the operator or listed on a vendor catalog page.
func New(cfg Config) *Fetcher {
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
	)
	c.WithTransport(newHTTPTransport())

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
	}
}

// Fetch retrieves a page. Transport failures and non-2xx statuses come back as
// *catalog.FetchError.
func (f *Fetcher) Fetch(ctx context.Context, url string) (catalog.Page, error) {
	var (
		result   catalog.Page
		fetchErr error
		status   int
	)
	start := time.Now()
	collector := f.buildCollector(0)
	f.configureCollectorHooks(collector, start, &result, &status, &fetchErr)

	if err := f.runCollector(ctx, collector, url, &fetchErr); err != nil {
		return catalog.Page{}, &catalog.FetchError{URL: url, StatusCode: status, Err: err}
	}
	return result, nil
}

// FetchImage retrieves a binary. A declared Content-Length above maxBytes aborts
// the transfer before the body is read.
func (f *Fetcher) FetchImage(ctx context.Context, url string, maxBytes int64) (catalog.Blob, error) {
	var (
		page     catalog.Page
		fetchErr error
		status   int
		declared int64 = -1
		tooLarge bool
	)
	start := time.Now()
	collector := f.buildCollector(maxBytes)
	collector.OnResponseHeaders(func(r *colly.Response) {
		declared = declaredLength(r.Headers)
		if maxBytes > 0 && declared > maxBytes {
			tooLarge = true
			r.Request.Abort()
		}
	})
	f.configureCollectorHooks(collector, start, &page, &status, &fetchErr)

	err := f.runCollector(ctx, collector, url, &fetchErr)
	if tooLarge || (err == nil && maxBytes > 0 && int64(len(page.Body)) > maxBytes) {
		return catalog.Blob{}, fmt.Errorf("%w: %s exceeds %d bytes", catalog.ErrImageTooLarge, url, maxBytes)
	}
	if err != nil {
		return catalog.Blob{}, fmt.Errorf("%w: %w", catalog.ErrImageFetch,
			&catalog.FetchError{URL: url, StatusCode: status, Err: err})
	}

	contentType := page.Headers.Get("Content-Type")
	if contentType == "" {
		contentType = defaultImageContentType
	}
	length := declared
	if length < 0 {
		length = int64(len(page.Body))
	}
	return catalog.Blob{
		URL:           page.URL,
		ContentType:   contentType,
		ContentLength: length,
		Body:          page.Body,
	}, nil
}

func (f *Fetcher) buildCollector(maxBodySize int64) *colly.Collector {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = true
	timeout := f.cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)
	if maxBodySize > 0 {
		// One byte of slack so an undeclared oversized body is detectable.
		collector.MaxBodySize = int(maxBodySize) + 1
	}
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	start time.Time,
	result *catalog.Page,
	status *int,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		f.copyHeaders(r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		*status = r.StatusCode
		*result = catalog.Page{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			*status = r.StatusCode
		}
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

func (f *Fetcher) copyHeaders(r *colly.Request) {
	if f.cfg.Headers == nil {
		return
	}
	for key, values := range f.cfg.Headers {
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func declaredLength(h *http.Header) int64 {
	if h == nil {
		return -1
	}
	raw := h.Get("Content-Length")
	if raw == "" {
		return -1
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return -1
	}
	return n
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
