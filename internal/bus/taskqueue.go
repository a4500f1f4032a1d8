package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"

	"speecheval/internal/logging"
	"speecheval/internal/workflow"
)

const (
	workerDurable   = "stage-workers"
	duplicateWindow = 2 * time.Minute
)

// TaskQueue is a workflow.TaskQueue backed by a JetStream work-queue
// stream. Each task is stored until a worker acknowledges it, so tasks
// survive worker and broker restarts.
type TaskQueue struct {
	client  *Client
	sub     *nats.Subscription
	ackWait time.Duration
}

// NewTaskQueue ensures the task stream exists and binds a durable pull
// consumer to it. ackWait bounds how long a delivered task stays invisible
// before JetStream redelivers it.
func NewTaskQueue(client *Client, ackWait time.Duration) (*TaskQueue, error) {
	if client == nil {
		return nil, errors.New("bus client is required")
	}
	q := &TaskQueue{client: client, ackWait: ackWait}
	if err := q.ensureStream(); err != nil {
		return nil, err
	}
	opts := []nats.SubOpt{
		nats.BindStream(client.cfg.Stream),
		nats.ManualAck(),
		nats.MaxDeliver(-1),
	}
	if ackWait > 0 {
		opts = append(opts, nats.AckWait(ackWait))
	}
	sub, err := client.js.PullSubscribe(client.subject("tasks", ">"), workerDurable, opts...)
	if err != nil {
		return nil, fmt.Errorf("subscribe to task stream: %w", err)
	}
	q.sub = sub
	return q, nil
}

func (q *TaskQueue) ensureStream() error {
	cfg := &nats.StreamConfig{
		Name:       q.client.cfg.Stream,
		Subjects:   []string{q.client.subject("tasks", ">")},
		Retention:  nats.WorkQueuePolicy,
		Storage:    nats.FileStorage,
		Duplicates: duplicateWindow,
	}
	_, err := q.client.js.StreamInfo(cfg.Name)
	switch {
	case err == nil:
		if _, err := q.client.js.UpdateStream(cfg); err != nil {
			return fmt.Errorf("update task stream: %w", err)
		}
	case errors.Is(err, nats.ErrStreamNotFound):
		if _, err := q.client.js.AddStream(cfg); err != nil {
			return fmt.Errorf("create task stream: %w", err)
		}
		q.client.logger.Info("created task stream",
			logging.String("stream", cfg.Name),
			logging.String(logging.FieldEventType, "bus_stream_created"),
		)
	default:
		return fmt.Errorf("inspect task stream: %w", err)
	}
	return nil
}

// Enqueue publishes a task. The message id is derived from the job, stage,
// and attempt, so repeated dispatches inside the duplicate window collapse
// to one stored task.
func (q *TaskQueue) Enqueue(ctx context.Context, task workflow.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	msgID := task.Key() + "#" + strconv.Itoa(task.Attempt)
	if _, err := q.client.js.Publish(q.client.subject("tasks", string(task.Stage)), data,
		nats.MsgId(msgID), nats.Context(ctx)); err != nil {
		return fmt.Errorf("publish task %s: %w", task.Key(), err)
	}
	return nil
}

// Next fetches one task, waiting up to wait. It returns nil, nil when none
// arrived in time.
func (q *TaskQueue) Next(ctx context.Context, wait time.Duration) (workflow.Delivery, error) {
	if wait <= 0 {
		wait = time.Second
	}
	fetchCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	msgs, err := q.sub.Fetch(1, nats.Context(fetchCtx))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, nats.ErrTimeout) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch task: %w", err)
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	msg := msgs[0]
	var task workflow.Task
	if err := json.Unmarshal(msg.Data, &task); err != nil || task.JobID == "" {
		q.client.logger.Warn("discarding malformed task",
			logging.String("subject", msg.Subject),
			logging.String(logging.FieldEventType, "bus_task_malformed"),
			logging.String(logging.FieldErrorHint, "a producer published a task this version cannot decode"),
		)
		_ = msg.Term()
		return nil, nil
	}
	return &delivery{msg: msg, task: task}, nil
}

// Close unbinds the consumer. Unacknowledged tasks stay in the stream.
func (q *TaskQueue) Close() error {
	if q.sub == nil {
		return nil
	}
	if err := q.sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		return fmt.Errorf("unsubscribe task consumer: %w", err)
	}
	return nil
}

// Pending reports how many tasks wait in the stream.
func (q *TaskQueue) Pending() (uint64, error) {
	info, err := q.client.js.StreamInfo(q.client.cfg.Stream)
	if err != nil {
		return 0, fmt.Errorf("stream info: %w", err)
	}
	return info.State.Msgs, nil
}

type delivery struct {
	msg  *nats.Msg
	task workflow.Task
}

func (d *delivery) Task() workflow.Task { return d.task }

// Ack and Nak are fire-and-forget so they still go out while the worker's
// context is being cancelled on shutdown.
func (d *delivery) Ack(context.Context) error {
	return d.msg.Ack()
}

func (d *delivery) Nak(_ context.Context, delay time.Duration) error {
	if delay > 0 {
		return d.msg.NakWithDelay(delay)
	}
	return d.msg.Nak()
}
