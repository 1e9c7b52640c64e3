package queue

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// MockQueue records enqueued tasks and worker subscriptions.
type MockQueue struct {
	mock.Mock
}

func (m *MockQueue) Enqueue(ctx context.Context, task Task) error {
	return m.Called(ctx, task).Error(0)
}

func (m *MockQueue) Worker(ctx context.Context, taskType TaskType, handler Handler) error {
	return m.Called(ctx, taskType, handler).Error(0)
}

// OnIngest expects an ingest task for docID, whatever its id and attempt count.
func (m *MockQueue) OnIngest(docID uuid.UUID) *mock.Call {
	return m.On("Enqueue", mock.Anything, mock.MatchedBy(func(task Task) bool {
		if task.Type != TaskTypeIngest {
			return false
		}
		p, err := DecodeIngest(task)
		return err == nil && p.DocumentID == docID
	}))
}

// OnWorker expects a subscription for taskType with any handler.
func (m *MockQueue) OnWorker(taskType TaskType) *mock.Call {
	return m.On("Worker", mock.Anything, taskType, mock.Anything)
}
