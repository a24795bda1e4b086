// Package memory provides an in-process run request queue.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/diecast-crawler/internal/catalog"
	"github.com/JakeFAU/diecast-crawler/internal/queue"
)

// Queue is a bounded in-memory queue with context-aware operations.
type Queue struct {
	ch        chan catalog.RunRequest
	done      chan struct{}
	closeOnce sync.Once
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{
		ch:   make(chan catalog.RunRequest, capacity),
		done: make(chan struct{}),
	}
}

// Enqueue pushes a request or returns when ctx ends or the queue closes.
func (q *Queue) Enqueue(ctx context.Context, req catalog.RunRequest) error {
	select {
	case <-q.done:
		return queue.ErrClosed
	default:
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case <-q.done:
		return queue.ErrClosed
	case q.ch <- req:
		return nil
	}
}

// Dequeue pops the next request. Requests still buffered at Close are dropped.
func (q *Queue) Dequeue(ctx context.Context) (catalog.RunRequest, error) {
	select {
	case <-q.done:
		return catalog.RunRequest{}, queue.ErrClosed
	default:
	}
	select {
	case <-ctx.Done():
		return catalog.RunRequest{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case <-q.done:
		return catalog.RunRequest{}, queue.ErrClosed
	case req := <-q.ch:
		return req, nil
	}
}

// Len reports buffered requests.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops the queue. It is safe to call more than once.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}
