package cmd

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/diecast-crawler/internal/catalog"
	"github.com/JakeFAU/diecast-crawler/internal/config"
	"github.com/JakeFAU/diecast-crawler/internal/joblog"
)

type mockApp struct {
	mock.Mock
}

func (m *mockApp) Close() { m.Called() }

func (m *mockApp) Logger() *zap.Logger { return zap.NewNop() }

func (m *mockApp) Config() config.Config {
	return m.Called().Get(0).(config.Config)
}

func (m *mockApp) Crawl(ctx context.Context, req catalog.RunRequest) (catalog.RunResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(catalog.RunResult), args.Error(1)
}

func (m *mockApp) Enrich(ctx context.Context, req catalog.EnrichRequest) ([]string, error) {
	args := m.Called(ctx, req)
	ids, _ := args.Get(0).([]string)
	return ids, args.Error(1)
}

func (m *mockApp) Logs(ctx context.Context, jobID string, afterTS int64, limit int) (joblog.Page, error) {
	args := m.Called(ctx, jobID, afterTS, limit)
	return args.Get(0).(joblog.Page), args.Error(1)
}

func (m *mockApp) RunBackground(ctx context.Context) {
	m.Called(ctx)
	<-ctx.Done()
}

func (m *mockApp) Handler() http.Handler {
	return m.Called().Get(0).(http.Handler)
}

// useApp swaps the factory for the duration of the test. Tests using it
// must not run in parallel.
func useApp(t *testing.T, a App, factoryErr error) {
	t.Helper()
	prev := newApp
	newApp = func(context.Context, config.Config) (App, error) {
		if factoryErr != nil {
			return nil, factoryErr
		}
		return a, nil
	}
	t.Cleanup(func() { newApp = prev })
}

func execute(args ...string) (string, error) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCrawlCommand(t *testing.T) {
	m := &mockApp{}
	want := catalog.RunRequest{
		Brand:       "minigt",
		Version:     3,
		MaxPages:    5,
		ProductURLs: []string{"https://a.example/p/1", "https://a.example/p/2"},
		CatalogURL:  "https://a.example/catalog",
		Recrawl:     true,
		JobID:       "cli-1",
	}
	m.On("Crawl", mock.Anything, want).Return(catalog.RunResult{
		JobID: "cli-1", Brand: "minigt", Version: 3, Count: 1, IDs: []string{"MGT_1"},
	}, nil)
	m.On("Close").Return()
	useApp(t, m, nil)

	out, err := execute("crawl",
		"--brand", "minigt", "--version", "3", "--max-pages", "5",
		"--product-url", "https://a.example/p/1", "--product-url", "https://a.example/p/2",
		"--catalog", "https://a.example/catalog", "--recrawl", "--job-id", "cli-1",
	)
	require.NoError(t, err)
	require.Contains(t, out, `"MGT_1"`)
	m.AssertExpectations(t)
}

func TestCrawlCommandError(t *testing.T) {
	m := &mockApp{}
	m.On("Crawl", mock.Anything, mock.Anything).
		Return(catalog.RunResult{}, catalog.Validationf("no version is specified"))
	m.On("Close").Return()
	useApp(t, m, nil)

	_, err := execute("crawl", "--brand", "minigt", "--version", "0")
	require.ErrorIs(t, err, catalog.ErrValidation)
	m.AssertCalled(t, "Close")
}

func TestCrawlCommandRequiresBrand(t *testing.T) {
	m := &mockApp{}
	m.On("Close").Return()
	useApp(t, m, nil)

	_, err := execute("crawl", "--version", "1")
	require.ErrorContains(t, err, "brand")
	m.AssertNotCalled(t, "Crawl", mock.Anything, mock.Anything)
}

func TestAppFactoryError(t *testing.T) {
	useApp(t, nil, errors.New("redis unreachable"))

	_, err := execute("logs", "--job-id", "j1")
	require.ErrorContains(t, err, "redis unreachable")
}

func TestEnrichCommand(t *testing.T) {
	m := &mockApp{}
	m.On("Enrich", mock.Anything, catalog.EnrichRequest{JobID: "e1", Version: 2, Limit: 10}).
		Return([]string{"MGT_A", "HW_B"}, nil)
	m.On("Close").Return()
	useApp(t, m, nil)

	out, err := execute("enrich", "--job-id", "e1", "--version", "2", "--limit", "10")
	require.NoError(t, err)
	require.JSONEq(t, `{"job_id":"e1","count":2,"ids":["MGT_A","HW_B"]}`, out)
}

func TestEnrichCommandEmpty(t *testing.T) {
	m := &mockApp{}
	m.On("Enrich", mock.Anything, mock.Anything).Return(nil, nil)
	m.On("Close").Return()
	useApp(t, m, nil)

	out, err := execute("enrich", "--job-id", "e1", "--version", "2")
	require.NoError(t, err)
	require.JSONEq(t, `{"job_id":"e1","count":0,"ids":[]}`, out)
}

func TestLogsCommandPages(t *testing.T) {
	m := &mockApp{}
	m.On("Logs", mock.Anything, "j1", int64(0), 2).Return(joblog.Page{
		Logs: []joblog.Entry{
			{JobID: "j1", TS: 1000, Message: "State CollectingUrls"},
			{JobID: "j1", TS: 1001, Message: "State Filtering"},
		},
		HasMore: true,
	}, nil)
	m.On("Logs", mock.Anything, "j1", int64(1001), 2).Return(joblog.Page{
		Logs: []joblog.Entry{{JobID: "j1", TS: 1002, Message: "State Done"}},
	}, nil)
	m.On("Close").Return()
	useApp(t, m, nil)

	out, err := execute("logs", "--job-id", "j1", "--limit", "2")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	require.True(t, strings.HasSuffix(lines[0], " State CollectingUrls"))
	require.True(t, strings.HasSuffix(lines[2], " State Done"))
}

func TestPrintLogsFollowStopsAtTerminalLine(t *testing.T) {
	m := &mockApp{}
	m.On("Logs", mock.Anything, "j1", int64(0), 0).Return(joblog.Page{
		Logs: []joblog.Entry{{JobID: "j1", TS: 5, Message: "State Fetching"}},
	}, nil).Once()
	m.On("Logs", mock.Anything, "j1", int64(5), 0).Return(joblog.Page{
		Logs: []joblog.Entry{{JobID: "j1", TS: 6, Message: "State Failed"}},
	}, nil).Once()

	var out bytes.Buffer
	require.NoError(t, printLogs(context.Background(), m, &out, "j1", 0, 0, true))
	require.Contains(t, out.String(), "State Failed")
	m.AssertNumberOfCalls(t, "Logs", 2)
}

func TestPrintLogsStopsOnEmptyPage(t *testing.T) {
	m := &mockApp{}
	m.On("Logs", mock.Anything, "j1", int64(0), 2).Return(joblog.Page{HasMore: true}, nil).Once()

	var out bytes.Buffer
	require.NoError(t, printLogs(context.Background(), m, &out, "j1", 0, 2, false))
	require.Empty(t, out.String())
	m.AssertNumberOfCalls(t, "Logs", 1)
}

func TestServeShutsDownOnCancel(t *testing.T) {
	m := &mockApp{}
	m.On("RunBackground", mock.Anything).Return()
	m.On("Handler").Return(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, m, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusTeapot
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
	m.AssertCalled(t, "RunBackground", mock.Anything)
}
