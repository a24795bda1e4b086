// Package metrics exposes Prometheus collectors for the crawler service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	crawlerPagesTotal             *prometheus.CounterVec
	crawlerImagesTotal            *prometheus.CounterVec
	crawlerRunsTotal              *prometheus.CounterVec
	crawlerItemsUpsertedTotal     *prometheus.CounterVec
	crawlerReconcileSeconds       prometheus.Histogram
	enrichItemsTotal              prometheus.Counter
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec
	crawlerRateLimitDelaysSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_pages_total",
				Help: "Product pages processed, labeled by brand and outcome.",
			},
			[]string{"brand", "outcome"},
		)

		crawlerImagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_images_total",
				Help: "Image archival attempts, labeled by outcome (archived, skipped, failed).",
			},
			[]string{"outcome"},
		)

		crawlerRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_runs_total",
				Help: "Crawl runs, labeled by brand and status.",
			},
			[]string{"brand", "status"},
		)

		crawlerItemsUpsertedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_items_upserted_total",
				Help: "Items written by the reconciler, labeled by brand.",
			},
			[]string{"brand"},
		)

		crawlerReconcileSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "crawler_reconcile_seconds",
				Help:    "Duration of the batch upsert transaction.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5},
			},
		)

		enrichItemsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "enrich_items_total",
				Help: "Items updated by the enrichment pass.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		crawlerRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_rate_limit_delays_seconds",
				Help:    "Histogram of politeness wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// Middleware is a chi middleware that records HTTP request metrics.
func Middleware(next http.Handler) http.Handler {
	Init()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(ww, r)

		route := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		ObserveHTTPRequest(r.Method, route, ww.statusCode, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

// ObservePage counts a product page outcome (ok, fetch_error, parse_error).
func ObservePage(brand, outcome string) {
	Init()
	crawlerPagesTotal.WithLabelValues(brand, outcome).Inc()
}

// ObserveImage counts an image archival outcome.
func ObserveImage(outcome string) {
	Init()
	crawlerImagesTotal.WithLabelValues(outcome).Inc()
}

// ObserveRun counts a finished crawl run.
func ObserveRun(brand, status string) {
	Init()
	crawlerRunsTotal.WithLabelValues(brand, status).Inc()
}

// ObserveReconcile records a committed batch.
func ObserveReconcile(brand string, items int, duration time.Duration) {
	Init()
	crawlerItemsUpsertedTotal.WithLabelValues(brand).Add(float64(items))
	crawlerReconcileSeconds.Observe(duration.Seconds())
}

// ObserveEnriched counts items updated by the enrichment pass.
func ObserveEnriched(items int) {
	Init()
	enrichItemsTotal.Add(float64(items))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a politeness wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	crawlerRateLimitDelaysSeconds.WithLabelValues(SanitizeSite(domain)).Observe(duration.Seconds())
}
