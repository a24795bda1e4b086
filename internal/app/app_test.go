package app_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/diecast-crawler/internal/app"
	"github.com/JakeFAU/diecast-crawler/internal/catalog"
	"github.com/JakeFAU/diecast-crawler/internal/config"
	"github.com/JakeFAU/diecast-crawler/internal/joblog"
)

func defaultConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Crawler.RequestDelayMs = 0
	return cfg
}

func newApp(t *testing.T, cfg config.Config) *app.App {
	t.Helper()
	a, err := app.New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestNewWithDefaults(t *testing.T) {
	t.Parallel()

	a := newApp(t, defaultConfig(t))
	require.NotNil(t, a.Pipeline())
	require.NotNil(t, a.Dispatcher())
	require.Nil(t, a.Enricher())
	require.IsType(t, &joblog.MemoryStore{}, a.JobLog())

	h := a.Handler()
	require.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz", "").Code)
	require.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/readyz", "").Code)
	require.Equal(t, http.StatusNotImplemented,
		do(t, h, http.MethodPost, "/v1/enrich", `{"job_id":"e1","enrichment_version":1}`).Code)
}

func TestEnrichDisabled(t *testing.T) {
	t.Parallel()

	a := newApp(t, defaultConfig(t))
	_, err := a.Enrich(context.Background(), catalog.EnrichRequest{JobID: "e1", Version: 1})
	require.ErrorIs(t, err, app.ErrEnrichDisabled)
}

func TestNewWithEnricher(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig(t)
	cfg.Enrich.Endpoint = "http://annotator.invalid/v1/chat/completions"
	a := newApp(t, cfg)
	require.NotNil(t, a.Enricher())
}

func TestNewRedisJobLogReadiness(t *testing.T) {
	t.Parallel()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	cfg := defaultConfig(t)
	cfg.JobLog.Provider = "redis"
	cfg.JobLog.RedisAddr = mr.Addr()

	a := newApp(t, cfg)
	h := a.Handler()
	require.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/readyz", "").Code)

	mr.Close()
	rec := do(t, h, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "joblog")
}

func TestNewFailsOnUnreachableRedis(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig(t)
	cfg.JobLog.Provider = "redis"
	cfg.JobLog.RedisAddr = "127.0.0.1:1"

	_, err := app.New(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
}

func TestNewFailsOnBadDSN(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig(t)
	cfg.DB.DSN = "postgres://crawler@localhost:notaport/items"

	_, err := app.New(context.Background(), cfg, zap.NewNop())
	require.ErrorContains(t, err, "item store init failed")
}

func TestAsyncCrawlRunsInBackground(t *testing.T) {
	t.Parallel()

	vendor := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(vendor.Close)

	a := newApp(t, defaultConfig(t))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.RunBackground(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	h := a.Handler()
	rec := do(t, h, http.MethodPost, "/v1/crawl?async=true", `{"brand":"minigt","version":0}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	body := `{"job_id":"bg-1","brand":"minigt","version":1,"product_urls":["` + vendor.URL + `/products/MGT00001"]}`
	rec = do(t, h, http.MethodPost, "/v1/crawl?async=true", body)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var accepted map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))
	require.Equal(t, "bg-1", accepted["job_id"])

	require.Eventually(t, func() bool {
		page, err := a.Logs(context.Background(), "bg-1", 0, 0)
		if err != nil || len(page.Logs) == 0 {
			return false
		}
		return page.Logs[len(page.Logs)-1].Message == "State Done"
	}, 10*time.Second, 20*time.Millisecond)
}
