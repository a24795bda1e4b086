// Package queue carries crawl run requests from the API to background
// workers. Implementations: an in-process channel (queue/memory) and a
// Google Cloud Pub/Sub topic plus subscription (PubSubQueue).
package queue

import (
	"context"
	"errors"

	"github.com/JakeFAU/diecast-crawler/internal/catalog"
)

// ErrClosed is returned once a queue has been shut down.
var ErrClosed = errors.New("queue closed")

// Queue is a FIFO of run requests.
type Queue interface {
	// Enqueue hands a request to the queue, blocking while it is full.
	Enqueue(ctx context.Context, req catalog.RunRequest) error
	// Dequeue blocks until a request is available, ctx ends, or the queue closes.
	Dequeue(ctx context.Context) (catalog.RunRequest, error)
}
