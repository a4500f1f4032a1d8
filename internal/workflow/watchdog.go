package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"speecheval/internal/config"
	"speecheval/internal/logging"
	"speecheval/internal/queue"
)

// RecoveryHook is called after the watchdog applies a recovery plan.
type RecoveryHook func(ctx context.Context, jobID string, plan queue.Recovery)

// Watchdog returns stalled jobs to their retry-safe stage.
type Watchdog struct {
	store   *queue.Store
	logger  *slog.Logger
	timeout time.Duration
	next    queue.NextProviderFunc
	hook    RecoveryHook
}

// WatchdogOption customizes a Watchdog.
type WatchdogOption func(*Watchdog)

// WithRecoveryHook registers a callback for applied recoveries.
func WithRecoveryHook(hook RecoveryHook) WatchdogOption {
	return func(w *Watchdog) {
		w.hook = hook
	}
}

// SweepReport counts what one watchdog pass did.
type SweepReport struct {
	Stale    int
	Requeued int
	Switched int
	Failed   int
	Skipped  int
}

// NewWatchdog builds a watchdog using the configured staleness threshold.
func NewWatchdog(cfg *config.Config, store *queue.Store, logger *slog.Logger, opts ...WatchdogOption) *Watchdog {
	if logger == nil {
		logger = logging.NewNop()
	}
	w := &Watchdog{
		store:   store,
		logger:  logger.With(logging.String(logging.FieldComponent, "workflow-watchdog")),
		timeout: secondsOr(cfg.Workflow.HeartbeatTimeout, 2*time.Minute),
		next:    NextProviderFunc(cfg),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// NextProviderFunc returns the provider fallback chain when provider
// fallback is enabled, and nil otherwise. Jobs with no provider recorded
// are on the primary provider.
func NextProviderFunc(cfg *config.Config) queue.NextProviderFunc {
	if !cfg.Workflow.ProviderFallback {
		return nil
	}
	return func(current string) (string, bool) {
		if strings.TrimSpace(current) == "" {
			current = cfg.ASR.Provider
		}
		return cfg.NextProvider(current)
	}
}

// Sweep recovers every processing job whose heartbeat is older than the
// staleness threshold or whose lock has expired. A plan only lands if the
// job is unchanged since it was read, so concurrent sweeps are safe.
func (w *Watchdog) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	stale, err := w.store.StaleJobs(ctx, w.timeout)
	if err != nil {
		return report, fmt.Errorf("list stale jobs: %w", err)
	}
	report.Stale = len(stale)

	var errs []error
	for _, job := range stale {
		plan := queue.PlanRecovery(job, w.reason(job), w.next)
		applied, err := w.store.ApplyRecovery(ctx, job, plan)
		if err != nil {
			errs = append(errs, fmt.Errorf("recover %s: %w", job.ID, err))
			continue
		}
		if !applied {
			report.Skipped++
			continue
		}
		switch plan.Action {
		case queue.RecoveryFail:
			report.Failed++
		case queue.RecoverySwitchProvider:
			report.Switched++
		default:
			report.Requeued++
		}
		logging.WarnWithContext(w.logger, "stale job recovered", "watchdog_recovery",
			logging.String(logging.FieldJobID, job.ID),
			logging.String(logging.FieldStage, string(job.Stage)),
			logging.String("action", plan.Action.String()),
			logging.String("next_stage", string(plan.Stage)),
			logging.Int("retry_count", job.RetryCount),
			logging.String("message", plan.Message),
			logging.String(logging.FieldErrorHint, "check worker logs for the stalled stage"),
		)
		if w.hook != nil {
			w.hook(ctx, job.ID, plan)
		}
	}
	if report.Stale > 0 {
		w.logger.Info("watchdog sweep finished",
			logging.Int("stale", report.Stale),
			logging.Int("requeued", report.Requeued),
			logging.Int("switched", report.Switched),
			logging.Int("failed", report.Failed),
			logging.Int("skipped", report.Skipped),
			logging.String(logging.FieldEventType, "watchdog_sweep"),
		)
	}
	return report, errors.Join(errs...)
}

func (w *Watchdog) reason(job *queue.Job) string {
	if job.HeartbeatAt == nil {
		return fmt.Sprintf("no heartbeat recorded during %s", job.Stage)
	}
	return fmt.Sprintf("heartbeat stale during %s (last %s)", job.Stage, job.HeartbeatAt.UTC().Format(time.RFC3339))
}
