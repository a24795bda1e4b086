package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/JakeFAU/diecast-crawler/internal/catalog"
	gcppub "github.com/JakeFAU/diecast-crawler/internal/publisher/pubsub"
)

// PubSubQueue publishes run requests to a topic and receives them from a
// subscription, so API replicas and workers can run in separate processes.
type PubSubQueue struct {
	topic  *pubsub.Topic
	sub    *pubsub.Subscription
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	start  sync.Once
	ch     chan catalog.RunRequest
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// NewPubSubQueue builds a queue over topic and sub. Either may be nil for a
// publish-only or consume-only process.
func NewPubSubQueue(topic *pubsub.Topic, sub *pubsub.Subscription, logger *zap.Logger) *PubSubQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &PubSubQueue{
		topic:  topic,
		sub:    sub,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		ch:     make(chan catalog.RunRequest),
		done:   make(chan struct{}),
	}
}

// Enqueue publishes req as JSON and waits for the server ack.
func (q *PubSubQueue) Enqueue(ctx context.Context, req catalog.RunRequest) error {
	if q.topic == nil {
		return errors.New("pubsub queue has no topic")
	}
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal run request: %w", err)
	}
	msg := &pubsub.Message{Data: data, Attributes: map[string]string{"job_id": req.JobID}}
	otel.GetTextMapPropagator().Inject(ctx, gcppub.Carrier(msg.Attributes))
	if _, err := q.topic.Publish(ctx, msg).Get(ctx); err != nil {
		return fmt.Errorf("publish run request: %w", err)
	}
	return nil
}

// Dequeue starts the subscription receiver on first use and returns the next
// request. A message is acked once a caller takes it; undecodable messages are
// acked and dropped.
func (q *PubSubQueue) Dequeue(ctx context.Context) (catalog.RunRequest, error) {
	if q.sub == nil {
		return catalog.RunRequest{}, errors.New("pubsub queue has no subscription")
	}
	q.start.Do(func() { go q.receive() })
	select {
	case <-ctx.Done():
		return catalog.RunRequest{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case <-q.done:
		return catalog.RunRequest{}, q.closedErr()
	case req := <-q.ch:
		return req, nil
	}
}

func (q *PubSubQueue) receive() {
	defer close(q.done)
	err := q.sub.Receive(q.ctx, func(ctx context.Context, msg *pubsub.Message) {
		var req catalog.RunRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			q.logger.Warn("dropping malformed run request", zap.String("message_id", msg.ID), zap.Error(err))
			msg.Ack()
			return
		}
		select {
		case q.ch <- req:
			msg.Ack()
		case <-ctx.Done():
			msg.Nack()
		}
	})
	if err != nil {
		q.logger.Error("pubsub receive stopped", zap.Error(err))
		q.mu.Lock()
		q.err = err
		q.mu.Unlock()
	}
}

func (q *PubSubQueue) closedErr() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return fmt.Errorf("%w: %w", ErrClosed, q.err)
	}
	return ErrClosed
}

// Close stops receiving and flushes pending publishes.
func (q *PubSubQueue) Close() {
	q.cancel()
	if q.topic != nil {
		q.topic.Stop()
	}
}
