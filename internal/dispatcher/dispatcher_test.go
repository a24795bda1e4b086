package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/diecast-crawler/internal/brand"
	"github.com/JakeFAU/diecast-crawler/internal/brand/minigt"
	"github.com/JakeFAU/diecast-crawler/internal/catalog"
	"github.com/JakeFAU/diecast-crawler/internal/queue"
	"github.com/JakeFAU/diecast-crawler/internal/queue/memory"
	"github.com/JakeFAU/diecast-crawler/internal/worker"
)

type stubAdmitter struct {
	registry *brand.Registry
	nextID   string
}

func (a stubAdmitter) Validate(req catalog.RunRequest) (brand.Brand, error) {
	if req.Version <= 0 {
		return nil, catalog.Validationf("version must be > 0")
	}
	return a.registry.Lookup(req.Brand)
}

func (a stubAdmitter) NewJobID(req catalog.RunRequest) (string, error) {
	if req.JobID != "" {
		return req.JobID, nil
	}
	return a.nextID, nil
}

func newAdmitter() stubAdmitter {
	return stubAdmitter{registry: brand.NewRegistry(minigt.New()), nextID: "generated-1"}
}

type noopRunner struct{}

func (noopRunner) Run(context.Context, catalog.RunRequest) (catalog.RunResult, error) {
	return catalog.RunResult{}, nil
}

// TestDispatcherRunStartsWorkers ensures workers begin processing and stop on cancel.
func TestDispatcherRunStartsWorkers(t *testing.T) {
	t.Parallel()

	q := &blockingQueue{started: make(chan struct{}, 1)}
	w := worker.New(q, noopRunner{}, worker.Config{}, zap.NewNop())
	dispatch := New(q, newAdmitter(), []*worker.Worker{w})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		dispatch.Run(ctx)
		close(done)
	}()

	select {
	case <-q.started:
	case <-time.After(time.Second):
		t.Fatal("worker did not begin dequeuing")
	}

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
}

func TestDispatcherEnqueueAssignsJobID(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue(2)
	dispatch := New(q, newAdmitter(), nil)

	id, err := dispatch.Enqueue(context.Background(), catalog.RunRequest{Brand: "minigt", Version: 2})
	require.NoError(t, err)
	require.Equal(t, "generated-1", id)

	id, err = dispatch.Enqueue(context.Background(), catalog.RunRequest{JobID: "mine", Brand: "minigt", Version: 2})
	require.NoError(t, err)
	require.Equal(t, "mine", id)

	got, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "generated-1", got.JobID)
}

func TestDispatcherEnqueueRejectsInvalid(t *testing.T) {
	t.Parallel()

	q := &queue.MockQueue{}
	dispatch := New(q, newAdmitter(), nil)

	_, err := dispatch.Enqueue(context.Background(), catalog.RunRequest{Brand: "tomica", Version: 1})
	require.ErrorIs(t, err, catalog.ErrValidation)
	q.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything)
}

// TestDispatcherEnqueueForwardsErrors verifies queue errors are wrapped for callers.
func TestDispatcherEnqueueForwardsErrors(t *testing.T) {
	t.Parallel()

	q := &queue.MockQueue{}
	q.On("Enqueue", mock.Anything, mock.Anything).Return(errors.New("boom"))
	dispatch := New(q, newAdmitter(), nil)

	_, err := dispatch.Enqueue(context.Background(), catalog.RunRequest{JobID: "job", Brand: "minigt", Version: 1})
	require.EqualError(t, err, "queue enqueue: boom")
	q.AssertExpectations(t)
}

type blockingQueue struct {
	started chan struct{}
}

func (q *blockingQueue) Enqueue(context.Context, catalog.RunRequest) error {
	return nil
}

func (q *blockingQueue) Dequeue(ctx context.Context) (catalog.RunRequest, error) {
	select {
	case q.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return catalog.RunRequest{}, fmt.Errorf("blocking dequeue canceled: %w", ctx.Err())
}
