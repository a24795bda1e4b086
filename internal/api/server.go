package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/diecast-crawler/internal/catalog"
	"github.com/JakeFAU/diecast-crawler/internal/config"
	"github.com/JakeFAU/diecast-crawler/internal/joblog"
	"github.com/JakeFAU/diecast-crawler/internal/metrics"
	"github.com/JakeFAU/diecast-crawler/internal/middleware"
)

// Crawler runs a crawl to completion.
type Crawler interface {
	Run(ctx context.Context, req catalog.RunRequest) (catalog.RunResult, error)
}

// Enqueuer accepts a crawl for background execution and returns its job id.
type Enqueuer interface {
	Enqueue(ctx context.Context, req catalog.RunRequest) (string, error)
}

// Enricher runs an enrichment pass.
type Enricher interface {
	Run(ctx context.Context, req catalog.EnrichRequest) ([]string, error)
}

// Check reports whether a dependency is usable.
type Check func(ctx context.Context) error

// Deps are the collaborators behind the routes. Async, Enricher, Logs and
// Checks are optional; routes without a backing collaborator answer 501.
type Deps struct {
	Crawler  Crawler
	Async    Enqueuer
	Enricher Enricher
	Logs     joblog.Poller
	Checks   map[string]Check
}

// Server wires HTTP handlers to the crawl, enrichment and log services.
type Server struct {
	router chi.Router
	deps   Deps
	cfg    config.Config
	logger *zap.Logger
}

const shortRouteTimeout = 30 * time.Second

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{deps: deps, cfg: cfg, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(logger))
	r.Use(middleware.Recover(logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.With(middleware.Timeout(shortRouteTimeout)).Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(middleware.APIKey(cfg.Auth.APIKey))
		}
		r.Post("/crawl", s.crawl)
		r.Post("/enrich", s.enrich)
		r.With(middleware.Timeout(shortRouteTimeout)).Get("/logs", s.logs)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(s.deps.Checks))
	for name := range s.deps.Checks {
		names = append(names, name)
	}
	sort.Strings(names)

	failed := map[string]string{}
	for _, name := range names {
		if err := s.deps.Checks[name](r.Context()); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		s.logger.Warn("readiness check failed", zap.Any("failed", failed))
		middleware.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failed": failed})
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) crawl(w http.ResponseWriter, r *http.Request) {
	var req catalog.RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		if s.deps.Async == nil {
			middleware.WriteError(w, http.StatusNotImplemented, "background runs are not enabled")
			return
		}
		jobID, err := s.deps.Async.Enqueue(r.Context(), req)
		if err != nil {
			s.writeRunError(w, r, err)
			return
		}
		middleware.WriteJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
		return
	}

	res, err := s.deps.Crawler.Run(r.Context(), req)
	if err != nil {
		s.writeRunError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, res)
}

type enrichResponse struct {
	JobID string   `json:"job_id"`
	Count int      `json:"count"`
	IDs   []string `json:"ids"`
}

func (s *Server) enrich(w http.ResponseWriter, r *http.Request) {
	if s.deps.Enricher == nil {
		middleware.WriteError(w, http.StatusNotImplemented, "enrichment is not configured")
		return
	}
	var req catalog.EnrichRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	ids, err := s.deps.Enricher.Run(r.Context(), req)
	if err != nil {
		s.writeRunError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, enrichResponse{JobID: req.JobID, Count: len(ids), IDs: ids})
}

func (s *Server) logs(w http.ResponseWriter, r *http.Request) {
	if s.deps.Logs == nil {
		middleware.WriteError(w, http.StatusNotImplemented, "job log is not configured")
		return
	}
	q := r.URL.Query()
	jobID := strings.TrimSpace(q.Get("jobId"))
	if jobID == "" {
		middleware.WriteError(w, http.StatusBadRequest, "jobId is required")
		return
	}
	lastTS, err := intParam(q.Get("lastTs"))
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "lastTs must be an integer")
		return
	}
	limit, err := intParam(q.Get("limit"))
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "limit must be an integer")
		return
	}

	page, err := s.deps.Logs.Poll(r.Context(), jobID, lastTS, int(limit))
	if err != nil {
		s.logger.Error("poll job log failed", zap.String("job_id", jobID), zap.Error(err))
		middleware.WriteError(w, http.StatusInternalServerError, "failed to read job log")
		return
	}
	if page.Logs == nil {
		page.Logs = []joblog.Entry{}
	}
	middleware.WriteJSON(w, http.StatusOK, page)
}

func intParam(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}

// writeRunError maps the error taxonomy onto status codes.
func (s *Server) writeRunError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, catalog.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, catalog.ErrFetch):
		status = http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("run failed",
			zap.String("request_id", middleware.RequestIDFrom(r.Context())),
			zap.Error(err),
		)
	}
	middleware.WriteError(w, status, err.Error())
}
