package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"speecheval/internal/logging"
	"speecheval/internal/queue"
	"speecheval/internal/textutil"
)

// StatusEvent is published whenever a job changes stage or status.
type StatusEvent struct {
	JobID      string    `json:"jobId"`
	Stage      string    `json:"stage"`
	Status     string    `json:"status"`
	Provider   string    `json:"provider,omitempty"`
	RetryCount int       `json:"retryCount"`
	ResultID   string    `json:"resultId,omitempty"`
	LastError  string    `json:"lastError,omitempty"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// NewStatusEvent captures the fields subscribers care about.
func NewStatusEvent(job *queue.Job) StatusEvent {
	return StatusEvent{
		JobID:      job.ID,
		Stage:      string(job.Stage),
		Status:     string(job.Status),
		Provider:   job.Provider,
		RetryCount: job.RetryCount,
		ResultID:   job.ResultID,
		LastError:  job.LastError,
		UpdatedAt:  job.UpdatedAt,
	}
}

// StatusPublisher publishes job changes on <prefix>.jobs.<id>.status. It
// satisfies workflow.Observer.
type StatusPublisher struct {
	client *Client
}

// NewStatusPublisher creates a publisher on client.
func NewStatusPublisher(client *Client) *StatusPublisher {
	return &StatusPublisher{client: client}
}

// StatusSubject returns the subject carrying jobID's status events.
func (c *Client) StatusSubject(jobID string) string {
	return c.subject("jobs", textutil.SubjectToken(jobID), "status")
}

// JobChanged publishes a status event. Failures are logged; status events
// are advisory and the job row stays authoritative.
func (p *StatusPublisher) JobChanged(_ context.Context, job *queue.Job) {
	if p == nil || p.client == nil || job == nil {
		return
	}
	data, err := json.Marshal(NewStatusEvent(job))
	if err != nil {
		return
	}
	if err := p.client.conn.Publish(p.client.StatusSubject(job.ID), data); err != nil {
		p.client.logger.Warn("publish status event failed",
			logging.String(logging.FieldJobID, job.ID),
			logging.Error(err),
			logging.String(logging.FieldEventType, "bus_publish_failed"),
		)
	}
}

// WatchStatus calls fn for every status event of jobID, or of all jobs when
// jobID is empty, until ctx is done.
func (c *Client) WatchStatus(ctx context.Context, jobID string, fn func(StatusEvent)) error {
	subject := c.subject("jobs", "*", "status")
	if jobID != "" {
		subject = c.StatusSubject(jobID)
	}
	ch := make(chan *nats.Msg, 64)
	sub, err := c.conn.ChanSubscribe(subject, ch)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-ch:
			var event StatusEvent
			if err := json.Unmarshal(msg.Data, &event); err != nil {
				c.logger.Debug("skipping malformed status event", logging.String("subject", msg.Subject))
				continue
			}
			fn(event)
		}
	}
}
