package workflow

import (
	"context"
	"errors"

	"speecheval/internal/logging"
	"speecheval/internal/notifications"
	"speecheval/internal/queue"
)

func (m *Manager) notifyChanged(ctx context.Context, job *queue.Job) {
	if job == nil {
		return
	}
	snapshot := *job
	for _, obs := range m.observers {
		obs.JobChanged(ctx, &snapshot)
	}
}

func (m *Manager) notifyCompleted(ctx context.Context, job *queue.Job) {
	payload := notifications.Payload{"jobId": job.ID, "testId": job.TestID}
	if result, err := m.store.ResultForJob(ctx, job.ID); err == nil && result != nil {
		payload["overallBand"] = result.OverallBand
	}
	m.publish(ctx, notifications.EventJobCompleted, payload)
}

func (m *Manager) notifyFailed(ctx context.Context, job *queue.Job, stageName string) {
	m.publish(ctx, notifications.EventJobFailed, notifications.Payload{
		"jobId":  job.ID,
		"testId": job.TestID,
		"stage":  stageName,
		"error":  job.LastError,
	})
}

func (m *Manager) notifyCancelled(ctx context.Context, job *queue.Job) {
	m.publish(ctx, notifications.EventJobCancelled, notifications.Payload{
		"jobId":  job.ID,
		"testId": job.TestID,
	})
}

func (m *Manager) publish(ctx context.Context, event notifications.Event, payload notifications.Payload) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.Publish(ctx, event, payload); err != nil {
		logger := logging.WithContext(ctx, m.logger.With(logging.String(logging.FieldComponent, "workflow-manager")))
		if errors.Is(err, context.Canceled) {
			logger.Debug("daemon shutting down, could not send notification")
		} else {
			logger.Debug("notification failed", logging.String("event", string(event)), logging.Error(err))
		}
	}
}

// onRecovered runs after the watchdog applies a plan: observers hear about
// the change, failed jobs are notified, and requeued jobs are redispatched.
func (m *Manager) onRecovered(ctx context.Context, jobID string, plan queue.Recovery) {
	job, err := m.store.GetJob(ctx, jobID)
	if err != nil || job == nil {
		return
	}
	m.notifyChanged(ctx, job)
	if plan.Action == queue.RecoveryFail {
		m.notifyFailed(ctx, job, "watchdog")
		return
	}
	if _, err := m.Dispatch(ctx, jobID); err != nil {
		m.logger.Debug("redispatch after recovery failed; reconciler will retry",
			logging.String(logging.FieldJobID, jobID),
			logging.Error(err),
		)
	}
}
