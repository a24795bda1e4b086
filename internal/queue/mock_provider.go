package queue

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/JakeFAU/diecast-crawler/internal/catalog"
)

// MockQueue is a testify mock of Queue.
type MockQueue struct {
	mock.Mock
}

// Enqueue records the call.
func (m *MockQueue) Enqueue(ctx context.Context, req catalog.RunRequest) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

// Dequeue records the call.
func (m *MockQueue) Dequeue(ctx context.Context) (catalog.RunRequest, error) {
	args := m.Called(ctx)
	req, _ := args.Get(0).(catalog.RunRequest)
	return req, args.Error(1)
}
