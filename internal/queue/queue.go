package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"doc-rag/internal/retry"
)

// TaskType enumerates supported task categories.
type TaskType string

const (
	TaskTypeIngest TaskType = "ingest"
)

// DefaultMaxAttempts applies to tasks enqueued without a limit.
const DefaultMaxAttempts = 5

// Task represents a unit of work for a worker service.
type Task struct {
	ID          uuid.UUID
	Type        TaskType
	Payload     []byte
	Attempts    int
	MaxAttempts int
	NotBefore   time.Time
}

// Handler processes one task. Returning an error marked with
// retry.Permanent drops the task instead of retrying it.
type Handler func(context.Context, Task) error

// Queue exposes a minimal contract to enqueue and consume tasks.
type Queue interface {
	Enqueue(ctx context.Context, task Task) error
	Worker(ctx context.Context, taskType TaskType, handler Handler) error
}

// IngestPayload asks a worker to run the ingestion pipeline for a document.
type IngestPayload struct {
	DocumentID uuid.UUID `json:"document_id"`
}

func NewIngestTask(docID uuid.UUID) (Task, error) {
	body, err := json.Marshal(IngestPayload{DocumentID: docID})
	if err != nil {
		return Task{}, err
	}
	return Task{ID: uuid.New(), Type: TaskTypeIngest, Payload: body, MaxAttempts: DefaultMaxAttempts}, nil
}

// DecodeIngest reads an ingest payload. A malformed payload is permanent.
func DecodeIngest(task Task) (IngestPayload, error) {
	var p IngestPayload
	if err := json.Unmarshal(task.Payload, &p); err != nil {
		return IngestPayload{}, retry.Permanent(fmt.Errorf("decode ingest payload: %w", err))
	}
	if p.DocumentID == uuid.Nil {
		return IngestPayload{}, retry.Permanent(fmt.Errorf("ingest payload has no document id"))
	}
	return p, nil
}

// EnqueueWithRetry attempts to enqueue with retries and exponential backoff.
func EnqueueWithRetry(ctx context.Context, q Queue, task Task, attempts int, base time.Duration) error {
	return retry.Do(ctx, attempts, base, func(ctx context.Context) error {
		return q.Enqueue(ctx, task)
	})
}

// nextAttempt decides whether a failed task runs again and when.
func nextAttempt(task Task, handlerErr error, now time.Time) (Task, bool) {
	if retry.IsPermanent(handlerErr) {
		return task, false
	}
	task.Attempts++
	if task.MaxAttempts == 0 {
		task.MaxAttempts = DefaultMaxAttempts
	}
	if task.Attempts >= task.MaxAttempts {
		return task, false
	}
	task.NotBefore = now.Add(retry.ExponentialBackoff(task.Attempts, time.Second))
	return task, true
}

// waitUntil blocks until t or until ctx is done.
func waitUntil(ctx context.Context, t time.Time) error {
	d := time.Until(t)
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
