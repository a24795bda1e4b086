// Package dispatcher accepts crawl runs for background execution and fans
// queued work out to a pool of workers.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/diecast-crawler/internal/brand"
	"github.com/JakeFAU/diecast-crawler/internal/catalog"
	"github.com/JakeFAU/diecast-crawler/internal/queue"
	"github.com/JakeFAU/diecast-crawler/internal/worker"
)

// Admitter validates a request and assigns its job id before it is queued.
type Admitter interface {
	Validate(req catalog.RunRequest) (brand.Brand, error)
	NewJobID(req catalog.RunRequest) (string, error)
}

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	queue    queue.Queue
	admitter Admitter
	workers  []*worker.Worker
}

// New creates a Dispatcher. workers may be empty for an enqueue-only process.
func New(q queue.Queue, admitter Admitter, workers []*worker.Worker) *Dispatcher {
	return &Dispatcher{queue: q, admitter: admitter, workers: workers}
}

// Run starts all workers and blocks until the context finishes.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}

// Enqueue validates req, fixes its job id and queues it. Invalid requests
// never reach the queue.
func (d *Dispatcher) Enqueue(ctx context.Context, req catalog.RunRequest) (string, error) {
	if _, err := d.admitter.Validate(req); err != nil {
		return "", err
	}
	jobID, err := d.admitter.NewJobID(req)
	if err != nil {
		return "", err
	}
	req.JobID = jobID
	if err := d.queue.Enqueue(ctx, req); err != nil {
		return "", fmt.Errorf("queue enqueue: %w", err)
	}
	return jobID, nil
}
