package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"speecheval/internal/queue"
)

func TestLocalQueueDedupesWaitingTasks(t *testing.T) {
	q := NewLocalQueue(2)
	ctx := context.Background()
	task := Task{JobID: "job-1", Stage: queue.StagePendingTranscription}
	for i := 0; i < 3; i++ {
		if err := q.Enqueue(ctx, task); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	if q.Len() != 1 {
		t.Fatalf("expected one waiting task, got %d", q.Len())
	}
	d, err := q.Next(ctx, time.Second)
	if err != nil || d == nil || d.Task() != task {
		t.Fatalf("Next = %v, %v", d, err)
	}
	// Once delivered the same task may be queued again.
	if err := q.Enqueue(ctx, task); err != nil || q.Len() != 1 {
		t.Fatalf("re-enqueue after delivery: %v len=%d", err, q.Len())
	}
}

func TestLocalQueueFullAndEmpty(t *testing.T) {
	q := NewLocalQueue(1)
	ctx := context.Background()
	if err := q.Enqueue(ctx, Task{JobID: "a", Stage: queue.StagePendingEval}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := q.Enqueue(ctx, Task{JobID: "b", Stage: queue.StagePendingEval}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if _, err := q.Next(ctx, time.Millisecond); err != nil {
		t.Fatalf("Next: %v", err)
	}
	d, err := q.Next(ctx, 10*time.Millisecond)
	if err != nil || d != nil {
		t.Fatalf("expected empty poll, got %v %v", d, err)
	}
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := q.Next(cancelled, time.Second); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}
}

func TestTaskFor(t *testing.T) {
	task := TaskFor(&queue.Job{ID: "j", Stage: queue.StagePendingEval, RetryCount: 2})
	if task.Key() != "j/pending_eval" || task.Attempt != 2 {
		t.Fatalf("unexpected task %+v", task)
	}
}
