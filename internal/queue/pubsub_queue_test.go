package queue_test

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/diecast-crawler/internal/catalog"
	"github.com/JakeFAU/diecast-crawler/internal/queue"
)

func newPubSub(t *testing.T) (*pstest.Server, *pubsub.Topic, *pubsub.Subscription) {
	t.Helper()
	ctx := context.Background()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(ctx, "diecast", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	topic, err := client.CreateTopic(ctx, "crawl-requests")
	require.NoError(t, err)
	sub, err := client.CreateSubscription(ctx, "crawl-workers", pubsub.SubscriptionConfig{Topic: topic})
	require.NoError(t, err)
	return srv, topic, sub
}

func TestPubSubQueueRoundTrip(t *testing.T) {
	t.Parallel()

	srv, topic, sub := newPubSub(t)
	q := queue.NewPubSubQueue(topic, sub, nil)
	defer q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req := catalog.RunRequest{JobID: "job-7", Brand: "hotwheels", Version: 5, ProductURLs: []string{"https://hw/p/1"}}
	require.NoError(t, q.Enqueue(ctx, req))

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "job-7", msgs[0].Attributes["job_id"])

	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, req, got)
}

func TestPubSubQueueSkipsMalformedMessages(t *testing.T) {
	t.Parallel()

	_, topic, sub := newPubSub(t)
	q := queue.NewPubSubQueue(topic, sub, nil)
	defer q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := topic.Publish(ctx, &pubsub.Message{Data: []byte("not json")}).Get(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(ctx, catalog.RunRequest{JobID: "job-8", Brand: "minigt", Version: 1}))

	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "job-8", got.JobID)
}

func TestPubSubQueueMissingHandles(t *testing.T) {
	t.Parallel()

	q := queue.NewPubSubQueue(nil, nil, nil)
	defer q.Close()
	require.Error(t, q.Enqueue(context.Background(), catalog.RunRequest{}))
	_, err := q.Dequeue(context.Background())
	require.Error(t, err)
}

func TestPubSubQueueDequeueCanceled(t *testing.T) {
	t.Parallel()

	_, topic, sub := newPubSub(t)
	q := queue.NewPubSubQueue(topic, sub, nil)
	defer q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := q.Dequeue(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
