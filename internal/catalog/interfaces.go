package catalog

import (
	"context"
	"io"
	"time"
)

// Fetcher retrieves pages and images.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (Page, error)
	// FetchImage rejects with ErrImageTooLarge when the declared size exceeds maxBytes.
	FetchImage(ctx context.Context, url string, maxBytes int64) (Blob, error)
}

// BlobStore writes archived binaries and returns a stable locator.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// ItemStore is the relational view the crawl pipeline needs.
type ItemStore interface {
	// ExistingBySourceURL returns stored items whose source URL is in urls.
	ExistingBySourceURL(ctx context.Context, urls []string) ([]Item, error)
	// StaleByVersion returns items of brand whose crawl version is below version,
	// lowest version first. limit <= 0 means no limit.
	StaleByVersion(ctx context.Context, brand string, version, limit int) ([]Item, error)
	// Reconcile upserts the batch atomically: all rows or none. It returns the
	// ids it wrote; rows kept at a higher stored crawl version are left out.
	Reconcile(ctx context.Context, items []Item) ([]string, error)
}

// EnrichmentStore is the relational view the enrichment pass needs. It never
// touches crawl-owned columns.
type EnrichmentStore interface {
	StaleEnrichment(ctx context.Context, version, limit int) ([]EnrichCandidate, error)
	ApplyEnrichment(ctx context.Context, rows []Enrichment, version int) error
}

// Publisher pushes run notifications to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs.
type IDGenerator interface {
	NewID() (string, error)
}
