package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"speecheval/internal/logging"
)

// Start begins background processing.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	if len(m.stages) == 0 {
		m.mu.Unlock()
		return errors.New("workflow stages not configured")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.wg.Add(m.workers + 2)
	m.mu.Unlock()

	for i := 0; i < m.workers; i++ {
		go m.runWorker(runCtx, m.workerLogger(i))
	}
	go m.runReconciler(runCtx)
	go m.runWatchdog(runCtx)
	return nil
}

// Stop terminates background processing and waits for completion. Jobs
// whose stage was interrupted are released back to their retry-safe stage.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

func (m *Manager) runWorker(ctx context.Context, logger *slog.Logger) {
	defer m.wg.Done()
	for {
		if ctx.Err() != nil {
			return
		}
		delivery, err := m.tasks.Next(ctx, m.pollInterval)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.handleNextTaskError(ctx, logger, err)
			continue
		}
		if delivery == nil {
			continue
		}

		procErr := m.Process(ctx, delivery.Task())
		if procErr != nil && ctx.Err() != nil {
			// Shutdown interrupted the stage; the row was released, so
			// redelivery is safe.
			_ = delivery.Nak(context.Background(), 0)
			return
		}
		if err := delivery.Ack(ctx); err != nil && ctx.Err() == nil {
			logger.Warn("task ack failed; task may be redelivered",
				logging.Error(err),
				logging.String(logging.FieldJobID, delivery.Task().JobID),
				logging.String(logging.FieldEventType, "task_ack_failed"),
				logging.String(logging.FieldErrorHint, "redelivery is harmless; check the message bus if this repeats"),
			)
		}
	}
}

func (m *Manager) handleNextTaskError(ctx context.Context, logger *slog.Logger, err error) {
	m.setLastError(err)
	logger.Error("failed to fetch next task",
		logging.Error(err),
		logging.String(logging.FieldEventType, "task_fetch_failed"),
		logging.String(logging.FieldErrorHint, "check the task queue connection"),
	)
	m.sleep(ctx, m.errorRetry)
}

// runReconciler re-enqueues pending jobs from the database so work survives
// lost tasks, restarts, and watchdog requeues.
func (m *Manager) runReconciler(ctx context.Context) {
	defer m.wg.Done()
	logger := m.logger.With(logging.String(logging.FieldComponent, "workflow-reconciler"))
	for {
		if _, err := m.Reconcile(ctx); err != nil && ctx.Err() == nil {
			m.setLastError(err)
			logger.Warn("reconcile pass failed; pending jobs wait for the next pass",
				logging.Error(err),
				logging.String(logging.FieldEventType, "reconcile_failed"),
				logging.String(logging.FieldErrorHint, "check job database access"),
			)
		}
		if !m.sleep(ctx, m.pollInterval) {
			return
		}
	}
}

// Reconcile enqueues every dispatchable job and returns how many were sent.
func (m *Manager) Reconcile(ctx context.Context) (int, error) {
	jobs, err := m.store.DispatchableJobs(ctx, m.workers*8)
	if err != nil {
		return 0, fmt.Errorf("list dispatchable jobs: %w", err)
	}
	sent := 0
	for _, job := range jobs {
		if _, ok := m.stageFor(job.Stage); !ok {
			continue
		}
		if err := m.tasks.Enqueue(ctx, TaskFor(job)); err != nil {
			if errors.Is(err, ErrQueueFull) {
				break
			}
			return sent, err
		}
		sent++
	}
	return sent, nil
}

func (m *Manager) runWatchdog(ctx context.Context) {
	defer m.wg.Done()
	interval := time.Duration(m.cfg.Workflow.WatchdogInterval) * time.Second
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.watchdog.Sweep(ctx); err != nil && ctx.Err() == nil {
				m.setLastError(err)
			}
		}
	}
}

func (m *Manager) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
