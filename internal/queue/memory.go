package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process queue with the same retry rules as the NATS queue.
// It backs the CLI and tests.
type Memory struct {
	log   *slog.Logger
	mu    sync.Mutex
	tasks map[TaskType]chan Task
}

func NewMemory(log *slog.Logger) *Memory {
	return &Memory{log: log, tasks: make(map[TaskType]chan Task)}
}

func (q *Memory) channel(t TaskType) chan Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	ch, ok := q.tasks[t]
	if !ok {
		ch = make(chan Task, 1024)
		q.tasks[t] = ch
	}
	return ch
}

func (q *Memory) Enqueue(ctx context.Context, task Task) error {
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	if task.Type == "" {
		return errors.New("task type required")
	}
	select {
	case q.channel(task.Type) <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending reports how many tasks of a type wait to be processed.
func (q *Memory) Pending(t TaskType) int { return len(q.channel(t)) }

func (q *Memory) Worker(ctx context.Context, taskType TaskType, handler Handler) error {
	ch := q.channel(taskType)
	for {
		select {
		case <-ctx.Done():
			return nil
		case task := <-ch:
			q.process(ctx, task, handler)
		}
	}
}

// Drain runs every pending task of a type, including retries, until none
// remain. It returns the last failure of a task that was dropped.
func (q *Memory) Drain(ctx context.Context, taskType TaskType, handler Handler) error {
	ch := q.channel(taskType)
	var last error
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case task := <-ch:
			if err := q.process(ctx, task, handler); err != nil {
				last = err
			}
		default:
			return last
		}
	}
}

// process runs one task and reports the error only when it will not be retried.
func (q *Memory) process(ctx context.Context, task Task, handler Handler) error {
	if err := waitUntil(ctx, task.NotBefore); err != nil {
		return err
	}
	err := handler(ctx, task)
	if err == nil {
		return nil
	}
	next, ok := nextAttempt(task, err, time.Now())
	if !ok {
		q.log.Error("task permanently failed", "id", task.ID, "type", task.Type, "attempts", next.Attempts, "original_err", err)
		return err
	}
	if enqErr := q.Enqueue(ctx, next); enqErr != nil {
		q.log.Error("failed to re-enqueue task after failure", "id", task.ID, "type", task.Type, "original_err", err, "enqueue_err", enqErr)
		return err
	}
	return nil
}
