// Package worker executes queued crawl runs in the background.
package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/diecast-crawler/internal/catalog"
	"github.com/JakeFAU/diecast-crawler/internal/queue"
)

// Runner executes one crawl run.
type Runner interface {
	Run(ctx context.Context, req catalog.RunRequest) (catalog.RunResult, error)
}

// Config controls Worker behavior.
type Config struct {
	// ErrorBackoff is the pause after a failed dequeue.
	ErrorBackoff time.Duration
}

// Worker consumes run requests and hands them to the runner one at a time.
type Worker struct {
	queue  queue.Queue
	runner Runner
	cfg    Config
	logger *zap.Logger
}

// New constructs a Worker.
func New(q queue.Queue, runner Runner, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = time.Second
	}
	return &Worker{queue: q, runner: runner, cfg: cfg, logger: logger}
}

// Run blocks, consuming requests until ctx finishes or the queue closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		req, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.cfg.ErrorBackoff):
			}
			continue
		}
		w.logger.Debug("dequeued run", zap.String("job_id", req.JobID))
		w.process(ctx, req)
	}
}

// process runs one request. The outcome is visible in the job log; the
// worker only records it in the process log.
func (w *Worker) process(ctx context.Context, req catalog.RunRequest) {
	logger := w.logger.With(
		zap.String("job_id", req.JobID),
		zap.String("brand", req.Brand),
		zap.Int("version", req.Version),
	)
	res, err := w.runner.Run(ctx, req)
	if err != nil {
		logger.Error("background run failed", zap.Error(err))
		return
	}
	logger.Info("background run finished",
		zap.Int("count", res.Count),
		zap.Int("failed_urls", len(res.FailedURLs)),
	)
}
