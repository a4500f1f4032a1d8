package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"speecheval/internal/logging"
	"speecheval/internal/queue"
	"speecheval/internal/stage"
)

// Dispatch enqueues the job's current stage. Jobs that are terminal, in
// flight, or at a stage with no registered handler are left alone, and
// false is returned.
func (m *Manager) Dispatch(ctx context.Context, jobID string) (bool, error) {
	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return false, err
	}
	if job == nil || job.IsTerminal() || job.Status != queue.StatusPending {
		return false, nil
	}
	if _, ok := m.stageFor(job.Stage); !ok {
		return false, nil
	}
	if err := m.tasks.Enqueue(ctx, TaskFor(job)); err != nil {
		return false, fmt.Errorf("enqueue %s: %w", job.ID, err)
	}
	return true, nil
}

// Process runs one task. The job is claimed by check-and-set on its lock;
// a job that is not pending, or that another worker already holds, is
// skipped without side effects.
func (m *Manager) Process(ctx context.Context, task Task) error {
	logger := m.logger.With(logging.String(logging.FieldComponent, "workflow-manager"))
	if _, ok := m.stageFor(task.Stage); !ok {
		logger.Warn("no stage configured for task",
			logging.String(logging.FieldJobID, task.JobID),
			logging.String(logging.FieldStage, string(task.Stage)),
		)
		return nil
	}

	token := uuid.NewString()
	job, acquired, err := m.store.AcquireLock(ctx, task.JobID, token, m.lockTTL)
	if err != nil {
		m.setLastError(err)
		return fmt.Errorf("acquire job lock: %w", err)
	}
	if !acquired {
		attrs := []logging.Attr{
			logging.String(logging.FieldJobID, task.JobID),
			logging.String("task_stage", string(task.Stage)),
			logging.String(logging.FieldEventType, "dispatch_skipped"),
		}
		if job != nil {
			attrs = append(attrs,
				logging.String("job_stage", string(job.Stage)),
				logging.String("job_status", string(job.Status)),
			)
		}
		logger.Debug("job not claimable; skipping task", logging.Args(attrs...)...)
		return nil
	}

	stg, ok := m.stageFor(job.Stage)
	if !ok {
		// Unreachable unless stages were reconfigured between checks.
		_ = m.store.ReleaseLock(ctx, job.ID, token)
		return nil
	}
	stageCtx := withStageContext(ctx, stg.name, job, uuid.NewString())
	stageLogger := m.stageLogger(stageCtx)
	m.setLastJob(job)
	m.notifyChanged(stageCtx, job)
	return m.executeStage(stageCtx, stageLogger, stg, job)
}

func (m *Manager) executeStage(ctx context.Context, logger *slog.Logger, stg pipelineStage, job *queue.Job) error {
	stageStart := time.Now()
	logger.Info(
		"stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.String("processing_stage", string(job.Stage)),
		logging.Int("attempt", job.RetryCount+1),
		logging.Int("max_retries", job.MaxRetries),
		logging.String("provider", providerOrDefault(job.Provider, m.cfg.ASR.Provider)),
	)

	if err := stg.handler.Prepare(ctx, job); err != nil {
		m.handleStageFailure(ctx, stg, job, err)
		return err
	}

	execErr := m.executeWithHeartbeat(ctx, stg.handler, job)
	if execErr != nil {
		if ctx.Err() != nil {
			m.releaseInterrupted(logger, job)
			return execErr
		}
		m.handleStageFailure(ctx, stg, job, execErr)
		return execErr
	}

	logger.Info(
		"stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.Duration("stage_duration", time.Since(stageStart)),
	)
	m.afterStage(ctx, logger, job)
	return nil
}

// executeWithHeartbeat runs the handler while a heartbeat loop renews the
// lease. Losing the lease cancels the handler.
func (m *Manager) executeWithHeartbeat(ctx context.Context, handler stage.Handler, job *queue.Job) error {
	execCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go m.heartbeat.StartLoop(execCtx, &hbWG, job.ID, job.LockToken, cancel)

	execErr := handler.Execute(execCtx, job)
	lost := errors.Is(context.Cause(execCtx), queue.ErrLockLost)
	cancel(nil)
	hbWG.Wait()
	if execErr != nil && lost {
		return fmt.Errorf("%w: %w", queue.ErrLockLost, execErr)
	}
	return execErr
}

// afterStage reloads the job, reports the change, and dispatches the next
// stage when one is pending.
func (m *Manager) afterStage(ctx context.Context, logger *slog.Logger, job *queue.Job) {
	fresh, err := m.store.GetJob(ctx, job.ID)
	if err != nil || fresh == nil {
		logger.Warn("reload job after stage failed; reconciler will dispatch it",
			logging.Error(err),
			logging.String(logging.FieldEventType, "job_reload_failed"),
		)
		return
	}
	m.setLastJob(fresh)
	m.notifyChanged(ctx, fresh)

	switch fresh.Status {
	case queue.StatusCompleted:
		m.notifyCompleted(ctx, fresh)
	case queue.StatusPending:
		if _, err := m.Dispatch(ctx, fresh.ID); err != nil {
			logger.Warn("dispatch of next stage failed; reconciler will retry",
				logging.Error(err),
				logging.String(logging.FieldEventType, "dispatch_failed"),
				logging.String(logging.FieldErrorHint, "check the task queue connection"),
			)
		}
	}
}

// releaseInterrupted returns a job whose stage stopped on shutdown to its
// retry-safe stage without spending a retry.
func (m *Manager) releaseInterrupted(logger *slog.Logger, job *queue.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.store.ReleaseLock(ctx, job.ID, job.LockToken); err != nil {
		if errors.Is(err, queue.ErrLockLost) {
			logger.Debug("interrupted job no longer held; nothing to release")
			return
		}
		logger.Warn("release interrupted job failed; watchdog will recover it",
			logging.Error(err),
			logging.String(logging.FieldEventType, "release_failed"),
		)
		return
	}
	logger.Info("stage interrupted by shutdown; job released",
		logging.String(logging.FieldEventType, "stage_interrupted"),
	)
}

func providerOrDefault(provider, fallback string) string {
	if provider == "" {
		return fallback
	}
	return provider
}
