// Package enrich runs the secondary metadata pass: items whose enrichment
// version is missing or old are sent to an annotation service and the returned
// fields are written back without touching crawl-owned columns.
package enrich

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/diecast-crawler/internal/catalog"
	"github.com/JakeFAU/diecast-crawler/internal/joblog"
	"github.com/JakeFAU/diecast-crawler/internal/metrics"
)

// Service executes enrichment runs.
type Service struct {
	store     catalog.EnrichmentStore
	annotator Annotator
	sink      joblog.Sink
	logger    *zap.Logger
}

// NewService builds a Service.
func NewService(store catalog.EnrichmentStore, annotator Annotator, sink joblog.Sink, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, annotator: annotator, sink: sink, logger: logger}
}

// Run enriches stale rows and returns the ids written.
func (s *Service) Run(ctx context.Context, req catalog.EnrichRequest) (ids []string, err error) {
	if req.JobID == "" {
		return nil, catalog.Validationf("job_id is required")
	}
	if req.Version <= 0 {
		return nil, catalog.Validationf("enrichment_version must be > 0")
	}
	log := joblog.NewLogger(s.sink, req.JobID, s.logger.With(zap.Int("enrichment_version", req.Version)))
	defer func() {
		if err != nil {
			log.Errorf(ctx, []zap.Field{zap.Error(err)}, "Failed to enrich: %v", err)
			log.Infof(ctx, "END")
		}
	}()

	log.Infof(ctx, "Start populating additional item data...")

	cands, err := s.store.StaleEnrichment(ctx, req.Version, req.Limit)
	if err != nil {
		return nil, fmt.Errorf("select enrichment candidates: %w", err)
	}
	if len(cands) == 0 {
		log.Infof(ctx, "No items below enrichment version %d", req.Version)
		log.Infof(ctx, "DONE")
		return []string{}, nil
	}

	known := make(map[string]struct{}, len(cands))
	sent := make([]catalog.EnrichCandidate, len(cands))
	for i, c := range cands {
		known[c.ID] = struct{}{}
		sent[i] = catalog.EnrichCandidate{ID: c.ID, Title: c.Brand + ", " + c.Title, Brand: c.Brand}
	}
	log.Infof(ctx, "Selected %s", strings.Join(candidateIDs(cands), ", "))

	annotations, err := s.annotator.Annotate(ctx, sent)
	if err != nil {
		return nil, fmt.Errorf("annotate: %w", err)
	}

	rows := make([]catalog.Enrichment, 0, len(annotations))
	for _, a := range annotations {
		if _, ok := known[a.ID]; !ok {
			log.Warnf(ctx, []zap.Field{zap.String("item_id", a.ID)}, "Ignoring annotation for unknown id %s", a.ID)
			continue
		}
		rows = append(rows, toEnrichment(a))
	}
	log.Infof(ctx, "Received %d annotations", len(rows))

	if err := s.store.ApplyEnrichment(ctx, rows, req.Version); err != nil {
		return nil, fmt.Errorf("apply enrichment: %w", err)
	}
	metrics.ObserveEnriched(len(rows))

	ids = make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	log.Infof(ctx, "DONE")
	return ids, nil
}

func toEnrichment(a Annotation) catalog.Enrichment {
	e := catalog.Enrichment{ID: a.ID, Description: a.Description, Make: a.Make, Model: a.Model}
	e.ReleaseDate = ReleaseDate(a.ReleaseYear, a.ReleaseMonth)
	return e
}

// ReleaseDate returns the first day of the release month. A missing or out of
// range month means January; a missing year means no date.
func ReleaseDate(year, month *int) *time.Time {
	if year == nil || *year <= 0 {
		return nil
	}
	m := 1
	if month != nil && *month >= 1 && *month <= 12 {
		m = *month
	}
	d := time.Date(*year, time.Month(m), 1, 0, 0, 0, 0, time.UTC)
	return &d
}

func candidateIDs(cands []catalog.EnrichCandidate) []string {
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.ID
	}
	return out
}
