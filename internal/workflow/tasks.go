package workflow

import (
	"context"
	"errors"
	"sync"
	"time"

	"speecheval/internal/queue"
)

// Task asks a stage worker to run the stage a job is waiting at.
type Task struct {
	JobID   string      `json:"job_id"`
	Stage   queue.Stage `json:"stage"`
	Attempt int         `json:"attempt"`
}

// TaskFor builds the task that dispatches job at its current stage.
func TaskFor(job *queue.Job) Task {
	return Task{JobID: job.ID, Stage: job.Stage, Attempt: job.RetryCount}
}

// Key identifies the job and stage a task targets.
func (t Task) Key() string {
	return t.JobID + "/" + string(t.Stage)
}

// Delivery is one received task. Workers Ack once the task is handled,
// whatever its outcome, and Nak to have it redelivered.
type Delivery interface {
	Task() Task
	Ack(ctx context.Context) error
	Nak(ctx context.Context, delay time.Duration) error
}

// TaskQueue carries stage tasks from producers to workers.
type TaskQueue interface {
	Enqueue(ctx context.Context, task Task) error
	// Next waits up to wait for a task and returns nil, nil when none arrived.
	Next(ctx context.Context, wait time.Duration) (Delivery, error)
	Close() error
}

// ErrQueueFull is returned when the local queue cannot take more tasks.
var ErrQueueFull = errors.New("workflow: task queue full")

// LocalQueue is an in-process TaskQueue. It holds no state the job rows do
// not already record: tasks lost on restart are re-enqueued by the
// manager's reconciler from the pending rows.
type LocalQueue struct {
	ch chan Task

	mu     sync.Mutex
	queued map[string]struct{}
}

// NewLocalQueue creates a local queue holding up to capacity tasks.
func NewLocalQueue(capacity int) *LocalQueue {
	if capacity <= 0 {
		capacity = 64
	}
	return &LocalQueue{
		ch:     make(chan Task, capacity),
		queued: make(map[string]struct{}),
	}
}

// Enqueue adds task unless the same job and stage is already waiting.
func (q *LocalQueue) Enqueue(ctx context.Context, task Task) error {
	key := task.Key()
	q.mu.Lock()
	if _, ok := q.queued[key]; ok {
		q.mu.Unlock()
		return nil
	}
	q.queued[key] = struct{}{}
	q.mu.Unlock()

	select {
	case q.ch <- task:
		return nil
	case <-ctx.Done():
		q.forget(key)
		return ctx.Err()
	default:
		q.forget(key)
		return ErrQueueFull
	}
}

// Next returns the oldest waiting task.
func (q *LocalQueue) Next(ctx context.Context, wait time.Duration) (Delivery, error) {
	if wait <= 0 {
		wait = time.Second
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case task := <-q.ch:
		q.forget(task.Key())
		return localDelivery{task: task}, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Len reports how many tasks are waiting.
func (q *LocalQueue) Len() int {
	return len(q.ch)
}

// Close is a no-op; waiting tasks are recovered from the job rows.
func (q *LocalQueue) Close() error {
	return nil
}

func (q *LocalQueue) forget(key string) {
	q.mu.Lock()
	delete(q.queued, key)
	q.mu.Unlock()
}

type localDelivery struct {
	task Task
}

func (d localDelivery) Task() Task { return d.task }

func (localDelivery) Ack(context.Context) error { return nil }

// Nak leaves redelivery to the reconciler, which re-enqueues the still
// pending row on its next pass.
func (localDelivery) Nak(context.Context, time.Duration) error { return nil }
