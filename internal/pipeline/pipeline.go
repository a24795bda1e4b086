// Package pipeline runs one crawl: collect candidate URLs, drop the ones
// already stored, fetch and parse each product page, archive its images, and
// reconcile the whole batch in a single store transaction.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/diecast-crawler/internal/archive"
	"github.com/JakeFAU/diecast-crawler/internal/brand"
	"github.com/JakeFAU/diecast-crawler/internal/catalog"
	"github.com/JakeFAU/diecast-crawler/internal/clock/system"
	"github.com/JakeFAU/diecast-crawler/internal/joblog"
	"github.com/JakeFAU/diecast-crawler/internal/logging"
	"github.com/JakeFAU/diecast-crawler/internal/metrics"
	"github.com/JakeFAU/diecast-crawler/internal/policy/ratelimit"
)

// State is a step of a crawl run.
type State string

// Run states in order. A run ends in StateDone or StateFailed.
const (
	StateCollectingURLs State = "CollectingUrls"
	StateFiltering      State = "Filtering"
	StateFetching       State = "Fetching"
	StateArchiving      State = "Archiving"
	StateReconciling    State = "Reconciling"
	StateDone           State = "Done"
	StateFailed         State = "Failed"
)

// MaxWorkers bounds the number of concurrent fetch lanes.
const MaxWorkers = 4

// Config controls the pipeline.
type Config struct {
	// Workers is the number of fetch lanes, 1 to MaxWorkers.
	Workers int
	// MaxPagesDefault applies when a request leaves MaxPages at zero. Zero means no cap.
	MaxPagesDefault int
	// CatalogURLs maps a brand to its catalog page, used when a request names
	// neither product URLs nor a catalog URL.
	CatalogURLs map[string]string
	// Topic receives a run summary after each successful run. Empty disables it.
	Topic string
	Images archive.Config
}

// Deps are the collaborators of a Pipeline. Sink, Publisher, IDs and Clock
// are optional.
type Deps struct {
	Brands    *brand.Registry
	Fetcher   catalog.Fetcher
	Items     catalog.ItemStore
	Blobs     catalog.BlobStore
	Sink      joblog.Sink
	Publisher catalog.Publisher
	IDs       catalog.IDGenerator
	Clock     catalog.Clock
}

// Pipeline executes crawl runs. It holds no per-run state and is safe for
// concurrent use.
type Pipeline struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New constructs a Pipeline.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Pipeline, error) {
	if deps.Brands == nil || deps.Fetcher == nil || deps.Items == nil || deps.Blobs == nil {
		return nil, errors.New("pipeline requires brands, fetcher, item store and blob store")
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Workers > MaxWorkers {
		cfg.Workers = MaxWorkers
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{deps: deps, cfg: cfg, logger: logger}, nil
}

// Validate checks run parameters without touching the network or the store.
func (p *Pipeline) Validate(req catalog.RunRequest) (brand.Brand, error) {
	if req.Version <= 0 {
		return nil, catalog.Validationf("no version is specified, version should not be 0")
	}
	b, err := p.deps.Brands.Lookup(req.Brand)
	if err != nil {
		return nil, err
	}
	if req.MaxPages < 0 {
		return nil, catalog.Validationf("max_pages must be >= 0")
	}
	if len(cleanURLs(req.ProductURLs)) == 0 && p.catalogURL(req) == "" && !req.Recrawl {
		return nil, catalog.Validationf("no product urls or catalog url for brand %q", req.Brand)
	}
	return b, nil
}

// NewJobID returns req.JobID or a fresh id.
func (p *Pipeline) NewJobID(req catalog.RunRequest) (string, error) {
	if req.JobID != "" {
		return req.JobID, nil
	}
	if p.deps.IDs == nil {
		return fmt.Sprintf("job-%d", p.deps.Clock.Now().UnixNano()), nil
	}
	id, err := p.deps.IDs.NewID()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	return id, nil
}

// parsed is an item read from its product page with the image URLs still to archive.
type parsed struct {
	item   catalog.Item
	images []string
}

type run struct {
	req     catalog.RunRequest
	brand   brand.Brand
	log     *joblog.Logger
	history archive.History

	mu     sync.Mutex
	items  []parsed
	failed []string
	images archive.Stats
}

func (r *run) transition(ctx context.Context, s State) {
	r.log.Infof(ctx, "State %s", s)
}

// Run executes one crawl. Per-URL failures are logged and reported in
// RunResult.FailedURLs; only validation, a catalog failure with no explicit
// URLs to fall back on, and store failures fail the run.
func (p *Pipeline) Run(ctx context.Context, req catalog.RunRequest) (catalog.RunResult, error) {
	b, err := p.Validate(req)
	if err != nil {
		metrics.ObserveRun(req.Brand, "invalid")
		return catalog.RunResult{}, err
	}
	jobID, err := p.NewJobID(req)
	if err != nil {
		return catalog.RunResult{}, err
	}
	req.JobID = jobID

	r := &run{
		req:   req,
		brand: b,
		log:   joblog.NewLogger(p.deps.Sink, jobID, logging.ForRun(p.logger, jobID, b.Name(), req.Version)),
	}

	res, err := p.execute(ctx, r)
	if err != nil {
		r.log.Errorf(ctx, []zap.Field{zap.Error(err)}, "Run failed: %v", err)
		r.transition(ctx, StateFailed)
		metrics.ObserveRun(b.Name(), "failed")
		return catalog.RunResult{}, err
	}
	r.transition(ctx, StateDone)
	metrics.ObserveRun(b.Name(), "succeeded")
	p.publish(ctx, r, res)
	return res, nil
}

func (p *Pipeline) execute(ctx context.Context, r *run) (catalog.RunResult, error) {
	r.log.Infof(ctx, "Start crawling %s at version %d", r.brand.Name(), r.req.Version)

	r.transition(ctx, StateCollectingURLs)
	explicit, discovered, stale, err := p.collect(ctx, r)
	if err != nil {
		return catalog.RunResult{}, err
	}

	r.transition(ctx, StateFiltering)
	targets, err := p.filter(ctx, r, explicit, discovered, stale)
	if err != nil {
		return catalog.RunResult{}, err
	}

	r.transition(ctx, StateFetching)
	p.fetchAll(ctx, r, targets)
	pending := dedupe(ctx, r)

	r.transition(ctx, StateArchiving)
	batch := p.archiveAll(ctx, r, pending)

	r.transition(ctx, StateReconciling)
	ids := []string{}
	if len(batch) == 0 {
		r.log.Infof(ctx, "No items to store")
	} else {
		start := time.Now()
		written, err := p.deps.Items.Reconcile(ctx, batch)
		if err != nil {
			return catalog.RunResult{}, fmt.Errorf("reconcile %d items: %w", len(batch), err)
		}
		metrics.ObserveReconcile(r.brand.Name(), len(written), time.Since(start))
		ids = append(ids, written...)
		r.log.Infof(ctx, "Stored %d items", len(ids))
		if kept := skipped(batch, written); len(kept) > 0 {
			r.log.Infof(ctx, "Kept newer version of %d items: %s", len(kept), strings.Join(kept, ", "))
		}
	}

	return catalog.RunResult{
		JobID:          r.req.JobID,
		Brand:          r.brand.Name(),
		Version:        r.req.Version,
		Count:          len(ids),
		IDs:            ids,
		FailedURLs:     r.failed,
		ImagesArchived: r.images.Archived,
		ImagesSkipped:  r.images.Skipped,
	}, nil
}

// skipped returns the batch ids the store did not write.
func skipped(batch []catalog.Item, written []string) []string {
	done := make(map[string]struct{}, len(written))
	for _, id := range written {
		done[id] = struct{}{}
	}
	var out []string
	for _, it := range batch {
		if _, ok := done[it.ID]; !ok {
			out = append(out, it.ID)
		}
	}
	return out
}

func (p *Pipeline) catalogURL(req catalog.RunRequest) string {
	if req.CatalogURL != "" {
		return req.CatalogURL
	}
	if len(cleanURLs(req.ProductURLs)) > 0 {
		return ""
	}
	return p.cfg.CatalogURLs[req.Brand]
}

func (p *Pipeline) maxPages(req catalog.RunRequest) int {
	if req.MaxPages > 0 {
		return req.MaxPages
	}
	return p.cfg.MaxPagesDefault
}

// collect gathers explicit URLs, catalog links while the page budget allows,
// and stale source URLs when a recrawl is requested.
func (p *Pipeline) collect(ctx context.Context, r *run) (explicit, discovered, stale []string, err error) {
	explicit = cleanURLs(r.req.ProductURLs)
	budget := p.maxPages(r.req)
	if budget == 0 {
		r.log.Infof(ctx, "No page limit given")
	}

	catalogURL := p.catalogURL(r.req)
	if catalogURL != "" && (budget == 0 || len(explicit) < budget) {
		discovered, err = p.discover(ctx, r, catalogURL, explicit, budget)
		if err != nil {
			if len(explicit) == 0 {
				return nil, nil, nil, err
			}
			r.log.Warnf(ctx, []zap.Field{zap.String("url", catalogURL), zap.Error(err)},
				"Failed to extract from catalog, continuing with %d given urls: %v", len(explicit), err)
		}
	}

	if r.req.Recrawl {
		rows, err := p.deps.Items.StaleByVersion(ctx, r.brand.Name(), r.req.Version, budget)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("select stale rows: %w", err)
		}
		for _, row := range rows {
			if row.SourceURL != "" {
				stale = append(stale, row.SourceURL)
			}
		}
		r.log.Infof(ctx, "%d rows below version %d selected for recrawl", len(stale), r.req.Version)
	}

	r.log.Infof(ctx, "%d given urls, %d catalog urls", len(explicit), len(discovered))
	return explicit, discovered, stale, nil
}

func (p *Pipeline) discover(ctx context.Context, r *run, catalogURL string, explicit []string, budget int) ([]string, error) {
	page, err := p.deps.Fetcher.Fetch(ratelimit.WithLane(ctx, 0), catalogURL)
	if err != nil {
		metrics.ObservePage(r.brand.Name(), "catalog_error")
		return nil, fmt.Errorf("fetch catalog: %w", err)
	}
	limit := 0
	if budget > 0 {
		limit = budget - len(explicit)
	}
	links, err := r.brand.ExtractLinks(page.Body, catalogURL, toSet(explicit), limit)
	if err != nil {
		metrics.ObservePage(r.brand.Name(), "catalog_error")
		return nil, fmt.Errorf("extract catalog links: %w", err)
	}
	return links, nil
}

// filter drops catalog links whose source URL is already stored for the brand
// and collects the archived image URLs of every stored candidate row.
func (p *Pipeline) filter(ctx context.Context, r *run, explicit, discovered, stale []string) ([]string, error) {
	candidates := union(explicit, stale, discovered)
	if len(candidates) == 0 {
		r.history = archive.History{}
		return nil, nil
	}
	rows, err := p.deps.Items.ExistingBySourceURL(ctx, candidates)
	if err != nil {
		return nil, fmt.Errorf("lookup existing rows: %w", err)
	}

	known := make(map[string]struct{}, len(rows))
	var own []catalog.Item
	for _, row := range rows {
		if row.Brand != r.brand.Name() {
			continue
		}
		own = append(own, row)
		known[row.SourceURL] = struct{}{}
	}
	r.history = archive.NewHistory(own)

	targets := union(explicit, stale)
	kept := toSet(targets)
	skipped := 0
	for _, u := range discovered {
		if _, ok := known[u]; ok {
			skipped++
			continue
		}
		if _, dup := kept[u]; dup {
			continue
		}
		kept[u] = struct{}{}
		targets = append(targets, u)
	}
	r.log.Infof(ctx, "%d already stored, %d urls to crawl, %d archived images known", skipped, len(targets), len(r.history))
	return targets, nil
}

// lanes runs fn for every index in [0, n) over the configured lanes. Each lane
// paces its own requests.
func (p *Pipeline) lanes(ctx context.Context, n int, fn func(ctx context.Context, i int)) {
	work := make(chan int)
	var g errgroup.Group
	for lane := range p.cfg.Workers {
		laneCtx := ratelimit.WithLane(ctx, lane)
		g.Go(func() error {
			for i := range work {
				fn(laneCtx, i)
			}
			return nil
		})
	}
	for i := range n {
		work <- i
	}
	close(work)
	_ = g.Wait()
}

// fetchAll fetches and parses every target. A failing URL never stops the others.
func (p *Pipeline) fetchAll(ctx context.Context, r *run, targets []string) {
	p.lanes(ctx, len(targets), func(ctx context.Context, i int) {
		p.fetchOne(ctx, r, targets[i])
	})
}

func (p *Pipeline) fetchOne(ctx context.Context, r *run, u string) {
	fail := func(outcome string, err error) {
		metrics.ObservePage(r.brand.Name(), outcome)
		r.log.Warnf(ctx, []zap.Field{zap.String("url", u), zap.Error(err)}, "Failed crawling %s: %v", u, err)
		r.mu.Lock()
		r.failed = append(r.failed, u)
		r.mu.Unlock()
	}

	if err := ctx.Err(); err != nil {
		fail("canceled", err)
		return
	}
	page, err := p.deps.Fetcher.Fetch(ctx, u)
	if err != nil {
		fail("fetch_error", err)
		return
	}
	item, images, err := r.brand.Parse(page.Body, u)
	if err != nil {
		fail("parse_error", err)
		return
	}
	item.SourceURL = u
	item.Brand = r.brand.Name()
	item.CrawlVersion = r.req.Version
	item.CrawledAt = p.deps.Clock.Now()

	metrics.ObservePage(r.brand.Name(), "ok")
	r.log.Infof(ctx, "Crawled %s as %s with %d images", u, item.ID, len(images))

	r.mu.Lock()
	r.items = append(r.items, parsed{item: item, images: images})
	r.mu.Unlock()
}

// archiveAll stores the images of every item and attaches the resulting refs.
// Failed images are dropped from their item; the item itself is kept.
func (p *Pipeline) archiveAll(ctx context.Context, r *run, pending []parsed) []catalog.Item {
	archiver := archive.New(p.deps.Fetcher, p.deps.Blobs, p.cfg.Images, r.log.Zap())
	out := make([]catalog.Item, len(pending))
	p.lanes(ctx, len(pending), func(ctx context.Context, i int) {
		it := pending[i].item
		refs, stats := archiver.ArchiveAll(ctx, it.ID, pending[i].images, r.history)
		it.Images = refs
		out[i] = it
		r.mu.Lock()
		r.images.Add(stats)
		r.mu.Unlock()
	})
	r.log.Infof(ctx, "Archived %d images, %d already stored, %d failed", r.images.Archived, r.images.Skipped, r.images.Failed)
	return out
}

// dedupe keeps one item per id; a later item replaces an earlier one in place.
func dedupe(ctx context.Context, r *run) []parsed {
	index := make(map[string]int, len(r.items))
	out := make([]parsed, 0, len(r.items))
	for _, pi := range r.items {
		it := pi.item
		if i, ok := index[it.ID]; ok {
			r.log.Warnf(ctx, []zap.Field{zap.String("item_id", it.ID), zap.String("url", it.SourceURL)},
				"Duplicate id %s from %s replaces %s", it.ID, it.SourceURL, out[i].item.SourceURL)
			out[i] = pi
			continue
		}
		index[it.ID] = len(out)
		out = append(out, pi)
	}
	return out
}

func (p *Pipeline) publish(ctx context.Context, r *run, res catalog.RunResult) {
	if p.cfg.Topic == "" || p.deps.Publisher == nil {
		return
	}
	payload := map[string]any{
		"job_id":          res.JobID,
		"brand":           res.Brand,
		"version":         res.Version,
		"count":           res.Count,
		"ids":             res.IDs,
		"failed_urls":     res.FailedURLs,
		"images_archived": res.ImagesArchived,
		"images_skipped":  res.ImagesSkipped,
		"timestamp":       p.deps.Clock.Now().Format(time.RFC3339),
	}
	id, err := p.deps.Publisher.Publish(ctx, p.cfg.Topic, payload)
	if err != nil {
		r.log.Zap().Warn("publish run summary failed", zap.Error(err))
		return
	}
	r.log.Zap().Info("run summary published", zap.String("message_id", id))
}

func cleanURLs(urls []string) []string {
	out := make([]string, 0, len(urls))
	seen := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

func union(lists ...[]string) []string {
	var all []string
	for _, l := range lists {
		all = append(all, l...)
	}
	return cleanURLs(all)
}

func toSet(urls []string) map[string]struct{} {
	set := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		set[u] = struct{}{}
	}
	return set
}
