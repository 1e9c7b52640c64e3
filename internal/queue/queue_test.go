package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"doc-rag/internal/logger"
	"doc-rag/internal/retry"
)

func TestIngestTaskRoundTrip(t *testing.T) {
	doc := uuid.New()
	task, err := NewIngestTask(doc)
	require.NoError(t, err)
	assert.Equal(t, TaskTypeIngest, task.Type)
	assert.Equal(t, DefaultMaxAttempts, task.MaxAttempts)

	p, err := DecodeIngest(task)
	require.NoError(t, err)
	assert.Equal(t, doc, p.DocumentID)
}

func TestDecodeIngestRejectsBadPayloads(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"not json", "{"},
		{"missing id", `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeIngest(Task{Type: TaskTypeIngest, Payload: []byte(tt.payload)})
			require.Error(t, err)
			assert.True(t, retry.IsPermanent(err))
		})
	}
}

func TestNextAttempt(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	next, ok := nextAttempt(Task{MaxAttempts: 3}, errors.New("boom"), now)
	assert.True(t, ok)
	assert.Equal(t, 1, next.Attempts)
	assert.Equal(t, now.Add(2*time.Second), next.NotBefore)

	_, ok = nextAttempt(Task{Attempts: 2, MaxAttempts: 3}, errors.New("boom"), now)
	assert.False(t, ok)

	next, ok = nextAttempt(Task{}, errors.New("boom"), now)
	assert.True(t, ok)
	assert.Equal(t, DefaultMaxAttempts, next.MaxAttempts)

	_, ok = nextAttempt(Task{MaxAttempts: 3}, retry.Permanent(errors.New("bad input")), now)
	assert.False(t, ok)
}

func TestEnqueueWithRetry(t *testing.T) {
	q := new(MockQueue)
	task := Task{Type: TaskTypeIngest}
	q.On("Enqueue", mock.Anything, task).Return(errors.New("nats down")).Once()
	q.On("Enqueue", mock.Anything, task).Return(nil).Once()

	require.NoError(t, EnqueueWithRetry(context.Background(), q, task, 3, time.Millisecond))
	q.AssertNumberOfCalls(t, "Enqueue", 2)
}

func TestMemoryDrain(t *testing.T) {
	q := NewMemory(logger.Discard())
	ctx := context.Background()

	var seen []uuid.UUID
	for i := 0; i < 3; i++ {
		task, err := NewIngestTask(uuid.New())
		require.NoError(t, err)
		require.NoError(t, q.Enqueue(ctx, task))
	}
	assert.Equal(t, 3, q.Pending(TaskTypeIngest))

	err := q.Drain(ctx, TaskTypeIngest, func(_ context.Context, task Task) error {
		p, err := DecodeIngest(task)
		if err != nil {
			return err
		}
		seen = append(seen, p.DocumentID)
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, seen, 3)
	assert.Zero(t, q.Pending(TaskTypeIngest))
}

func TestMemoryDrainDropsPermanentFailures(t *testing.T) {
	q := NewMemory(logger.Discard())
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, Task{Type: TaskTypeIngest, MaxAttempts: 5}))

	calls := 0
	err := q.Drain(ctx, TaskTypeIngest, func(context.Context, Task) error {
		calls++
		return retry.Permanent(errors.New("invalid"))
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestMemoryDrainStopsAtMaxAttempts(t *testing.T) {
	q := NewMemory(logger.Discard())
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, Task{Type: TaskTypeIngest, MaxAttempts: 1}))

	calls := 0
	err := q.Drain(ctx, TaskTypeIngest, func(context.Context, Task) error {
		calls++
		return errors.New("transient")
	})
	assert.EqualError(t, err, "transient")
	assert.Equal(t, 1, calls)
}

func TestMemoryWorkerStopsOnCancel(t *testing.T) {
	q := NewMemory(logger.Discard())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	handled := make(chan struct{}, 1)
	go func() {
		defer close(done)
		_ = q.Worker(ctx, TaskTypeIngest, func(context.Context, Task) error {
			handled <- struct{}{}
			return nil
		})
	}()

	require.NoError(t, q.Enqueue(ctx, Task{Type: TaskTypeIngest}))
	select {
	case <-handled:
	case <-time.After(time.Second):
		t.Fatal("task not handled")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestEnqueueRequiresType(t *testing.T) {
	assert.Error(t, NewMemory(logger.Discard()).Enqueue(context.Background(), Task{}))
}
