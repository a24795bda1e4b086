// Package archive copies vendor images into object storage under keys derived
// from the image URL.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/diecast-crawler/internal/catalog"
	"github.com/JakeFAU/diecast-crawler/internal/hash/sha256"
	"github.com/JakeFAU/diecast-crawler/internal/metrics"
)

// DefaultMaxBytes is the image size ceiling.
const DefaultMaxBytes int64 = 10 << 20

// Config controls archival.
type Config struct {
	Prefix   string
	MaxBytes int64
}

// Stats counts image outcomes for one item or run.
type Stats struct {
	Archived int
	Skipped  int
	Failed   int
}

// Add accumulates other into s.
func (s *Stats) Add(other Stats) {
	s.Archived += other.Archived
	s.Skipped += other.Skipped
	s.Failed += other.Failed
}

// History maps an already-archived image URL to its stored reference.
type History map[string]catalog.ImageRef

// NewHistory collects image references from previously stored items.
func NewHistory(items []catalog.Item) History {
	h := make(History)
	for _, it := range items {
		for _, ref := range it.Images {
			if ref.OriginalURL == "" {
				continue
			}
			h[ref.OriginalURL] = ref
		}
	}
	return h
}

// URLs returns the set of archived image URLs.
func (h History) URLs() map[string]struct{} {
	set := make(map[string]struct{}, len(h))
	for u := range h {
		set[u] = struct{}{}
	}
	return set
}

type result struct {
	ref catalog.ImageRef
	err error
}

// Archiver archives images for one crawl run. Each new URL is fetched at most
// once per Archiver, however many items or goroutines ask for it.
type Archiver struct {
	fetcher catalog.Fetcher
	store   catalog.BlobStore
	keys    *sha256.Hasher
	cfg     Config
	logger  *zap.Logger

	group singleflight.Group
	mu    sync.Mutex
	memo  map[string]result
}

// New builds an Archiver.
func New(fetcher catalog.Fetcher, store catalog.BlobStore, cfg Config, logger *zap.Logger) *Archiver {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archiver{
		fetcher: fetcher,
		store:   store,
		keys:    sha256.New(),
		cfg:     cfg,
		logger:  logger,
		memo:    make(map[string]result),
	}
}

// Key returns the object key for imageURL.
func (a *Archiver) Key(imageURL string) string {
	return a.keys.ObjectKey(a.cfg.Prefix, imageURL)
}

// Archive stores imageURL and returns its reference. It returns
// catalog.ErrSkipArchived without any network call when imageURL is in
// historical.
func (a *Archiver) Archive(ctx context.Context, imageURL, itemID string, historical map[string]struct{}) (catalog.ImageRef, error) {
	if _, ok := historical[imageURL]; ok {
		return catalog.ImageRef{}, catalog.ErrSkipArchived
	}

	a.mu.Lock()
	if r, ok := a.memo[imageURL]; ok {
		a.mu.Unlock()
		return r.ref, r.err
	}
	a.mu.Unlock()

	v, _, _ := a.group.Do(imageURL, func() (any, error) {
		return a.archiveOnce(ctx, imageURL, itemID), nil
	})
	r := v.(result)
	return r.ref, r.err
}

// archiveOnce runs inside the flight for imageURL. A flight that finished
// between the caller's memo check and its Do call has already recorded its
// result, so the memo is consulted again before fetching.
func (a *Archiver) archiveOnce(ctx context.Context, imageURL, itemID string) result {
	a.mu.Lock()
	if r, ok := a.memo[imageURL]; ok {
		a.mu.Unlock()
		return r
	}
	a.mu.Unlock()

	ref, err := a.fetchAndStore(ctx, imageURL, itemID)
	r := result{ref: ref, err: err}
	a.mu.Lock()
	a.memo[imageURL] = r
	a.mu.Unlock()
	return r
}

func (a *Archiver) fetchAndStore(ctx context.Context, imageURL, itemID string) (catalog.ImageRef, error) {
	blob, err := a.fetcher.FetchImage(ctx, imageURL, a.cfg.MaxBytes)
	if err != nil {
		if errors.Is(err, catalog.ErrImageTooLarge) || errors.Is(err, catalog.ErrImageFetch) {
			return catalog.ImageRef{}, err
		}
		return catalog.ImageRef{}, fmt.Errorf("%w: %w", catalog.ErrImageFetch, err)
	}
	if int64(len(blob.Body)) > a.cfg.MaxBytes {
		return catalog.ImageRef{}, fmt.Errorf("%w: %s is %d bytes", catalog.ErrImageTooLarge, imageURL, len(blob.Body))
	}

	key := a.Key(imageURL)
	stored, err := a.store.PutObject(ctx, key, blob.ContentType, bytes.NewReader(blob.Body))
	if err != nil {
		return catalog.ImageRef{}, fmt.Errorf("%w: store %s: %w", catalog.ErrImageFetch, key, err)
	}
	a.logger.Debug("image archived",
		zap.String("item_id", itemID),
		zap.String("image_url", imageURL),
		zap.String("stored_ref", stored),
	)
	return catalog.ImageRef{OriginalURL: imageURL, StoredRef: stored}, nil
}

// ArchiveAll archives an item's images in order. Images already in history are
// re-linked to their existing reference. A failing image is logged and dropped.
func (a *Archiver) ArchiveAll(ctx context.Context, itemID string, imageURLs []string, history History) ([]catalog.ImageRef, Stats) {
	var stats Stats
	historical := history.URLs()
	refs := make([]catalog.ImageRef, 0, len(imageURLs))
	for _, u := range imageURLs {
		ref, err := a.Archive(ctx, u, itemID, historical)
		switch {
		case errors.Is(err, catalog.ErrSkipArchived):
			stats.Skipped++
			metrics.ObserveImage("skipped")
			a.logger.Info("skipping image, already archived",
				zap.String("item_id", itemID), zap.String("image_url", u))
			if prior := history[u]; prior.StoredRef != "" {
				refs = append(refs, prior)
			}
		case err != nil:
			stats.Failed++
			metrics.ObserveImage("failed")
			a.logger.Warn("failed to archive image",
				zap.String("item_id", itemID), zap.String("image_url", u), zap.Error(err))
		default:
			stats.Archived++
			metrics.ObserveImage("archived")
			refs = append(refs, ref)
		}
	}
	return refs, stats
}
