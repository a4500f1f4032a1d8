package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"speecheval/internal/logging"
	"speecheval/internal/queue"
	"speecheval/internal/services"
)

func (m *Manager) handleStageFailure(ctx context.Context, stg pipelineStage, job *queue.Job, stageErr error) {
	logger := m.stageLogger(ctx)

	if errors.Is(stageErr, queue.ErrLockLost) || errors.Is(stageErr, services.ErrCancelled) {
		// CancelJob sets the status and clears the lock, so a cancelled job
		// usually surfaces here as a lost lease.
		fresh, err := m.store.GetJob(ctx, job.ID)
		if err == nil && fresh != nil && fresh.Status == queue.StatusCancelled {
			logger.Info("job cancelled during stage", logging.String(logging.FieldEventType, "job_cancelled"))
			m.setLastJob(fresh)
			m.notifyChanged(ctx, fresh)
			m.notifyCancelled(ctx, fresh)
			return
		}
		if errors.Is(stageErr, queue.ErrLockLost) {
			logger.Warn("job lock lost; abandoning stage result",
				logging.Error(stageErr),
				logging.String(logging.FieldEventType, "lock_lost"),
				logging.String(logging.FieldErrorHint, "the watchdog or another worker took over this job"),
			)
			return
		}
		logger.Info("job cancelled during stage", logging.String(logging.FieldEventType, "job_cancelled"))
		return
	}

	message := m.classifyStageFailure(stg.name, stageErr)
	details := services.Details(stageErr)
	attrs := []logging.Attr{
		logging.String("error_message", message),
		logging.Alert("stage_failure"),
		logging.String(logging.FieldErrorKind, string(details.Kind)),
		logging.String(logging.FieldErrorOperation, details.Operation),
		logging.Bool("retryable", services.Retryable(stageErr)),
		logging.Int("attempt", job.RetryCount+1),
	}
	if details.Cause != nil {
		attrs = append(attrs, logging.Error(details.Cause))
	} else {
		attrs = append(attrs, logging.Error(stageErr))
	}
	attrs = append(attrs, logging.String(logging.FieldEventType, "stage_failure"))
	logger.Error("stage failed", logging.Args(attrs...)...)
	m.setLastError(stageErr)

	var (
		terminal bool
		err      error
	)
	if services.Retryable(stageErr) {
		plan := queue.PlanRecovery(job, message, NextProviderFunc(m.cfg))
		var applied bool
		applied, err = m.store.ApplyRecovery(ctx, job, plan)
		if err == nil && !applied {
			logger.Debug("recovery already applied elsewhere")
			return
		}
		terminal = plan.Action == queue.RecoveryFail
		if err == nil {
			logger.Info("job scheduled for recovery",
				logging.String("action", plan.Action.String()),
				logging.String("next_stage", string(plan.Stage)),
				logging.String(logging.FieldEventType, "stage_recovery"),
			)
		}
	} else {
		err = m.store.FailJob(ctx, job.ID, job.LockToken, message)
		terminal = true
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Debug("daemon shutting down, could not persist stage failure")
		} else {
			logger.Error("failed to persist stage failure; watchdog will recover the job", logging.Error(err))
		}
		return
	}

	fresh, err := m.store.GetJob(ctx, job.ID)
	if err != nil || fresh == nil {
		return
	}
	m.setLastJob(fresh)
	m.notifyChanged(ctx, fresh)
	if terminal {
		m.notifyFailed(ctx, fresh, stg.name)
	}
}

func (m *Manager) classifyStageFailure(stageName string, stageErr error) string {
	if stageErr == nil {
		return fmt.Sprintf("%s failed without error detail", stageName)
	}
	details := services.Details(stageErr)
	message := strings.TrimSpace(details.Message)
	if details.Cause != nil && message != "" && !strings.Contains(message, details.Cause.Error()) {
		message = fmt.Sprintf("%s: %s", message, details.Cause.Error())
	}
	if message == "" {
		message = strings.TrimSpace(stageErr.Error())
	}
	if message == "" {
		message = fmt.Sprintf("%s failed", stageName)
	}
	return message
}
