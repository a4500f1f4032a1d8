package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"speecheval/internal/config"
)

const userAgent = "speecheval/0.1.0"

// Event names a notification-worthy pipeline event.
type Event string

const (
	EventJobCompleted   Event = "job_completed"
	EventJobFailed      Event = "job_failed"
	EventJobCancelled   Event = "job_cancelled"
	EventQuotaExhausted Event = "quota_exhausted"
	EventTest           Event = "test"
)

// Payload carries event fields. Keys used per event:
//
//	job_completed:   jobId, testId, overallBand
//	job_failed:      jobId, testId, error, stage
//	job_cancelled:   jobId, testId
//	quota_exhausted: credentialId, model
type Payload map[string]any

// Service publishes pipeline events.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		enabled: map[Event]bool{
			EventJobCompleted:   cfg.Notifications.JobCompleted,
			EventJobFailed:      cfg.Notifications.JobFailed,
			EventJobCancelled:   cfg.Notifications.JobFailed,
			EventQuotaExhausted: cfg.Notifications.QuotaExhausted,
			EventTest:           true,
		},
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	enabled  map[Event]bool
}

func (n *ntfyService) Publish(ctx context.Context, event Event, fields Payload) error {
	if n == nil || !n.enabled[event] {
		return nil
	}
	data, ok := format(event, fields)
	if !ok {
		return nil
	}
	return n.send(ctx, data)
}

func format(event Event, fields Payload) (payload, bool) {
	label := jobLabel(fields)
	switch event {
	case EventJobCompleted:
		message := fmt.Sprintf("Evaluation complete: %s", label)
		if band, ok := fields["overallBand"].(float64); ok {
			message = fmt.Sprintf("%s\nOverall band: %.1f", message, band)
		}
		return payload{
			title:   "speecheval - Evaluation Complete",
			message: message,
			tags:    []string{"speecheval", "job", "completed"},
		}, true
	case EventJobFailed:
		var builder strings.Builder
		builder.WriteString("Evaluation failed: ")
		builder.WriteString(label)
		if stage := stringField(fields, "stage"); stage != "" {
			builder.WriteString(" during ")
			builder.WriteString(stage)
		}
		builder.WriteString("\n")
		if msg := errorField(fields); msg != "" {
			builder.WriteString(msg)
		} else {
			builder.WriteString("unknown error")
		}
		return payload{
			title:    "speecheval - Evaluation Failed",
			message:  builder.String(),
			tags:     []string{"speecheval", "error", "alert"},
			priority: "high",
		}, true
	case EventJobCancelled:
		return payload{
			title:   "speecheval - Evaluation Cancelled",
			message: fmt.Sprintf("Evaluation cancelled: %s", label),
			tags:    []string{"speecheval", "job", "cancelled"},
		}, true
	case EventQuotaExhausted:
		return payload{
			title: "speecheval - Quota Exhausted",
			message: fmt.Sprintf("Credential %s exhausted its daily quota for %s",
				stringField(fields, "credentialId"), stringField(fields, "model")),
			tags:     []string{"speecheval", "quota", "exhausted"},
			priority: "high",
		}, true
	case EventTest:
		return payload{
			title:    "speecheval - Test",
			message:  "Notification system test",
			tags:     []string{"speecheval", "test"},
			priority: "low",
		}, true
	default:
		return payload{}, false
	}
}

func jobLabel(fields Payload) string {
	id := stringField(fields, "jobId")
	test := stringField(fields, "testId")
	switch {
	case id != "" && test != "":
		return fmt.Sprintf("%s (test %s)", id, test)
	case id != "":
		return id
	default:
		return "unknown job"
	}
}

func stringField(fields Payload, key string) string {
	value, ok := fields[key]
	if !ok || value == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(value))
}

func errorField(fields Payload) string {
	switch v := fields["error"].(type) {
	case error:
		return strings.TrimSpace(v.Error())
	case string:
		return strings.TrimSpace(v)
	default:
		return ""
	}
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
