package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"speecheval/internal/logging"
	"speecheval/internal/queue"
)

// HeartbeatMonitor renews a worker's lease on the job it is running.
type HeartbeatMonitor struct {
	store    *queue.Store
	logger   *slog.Logger
	interval time.Duration
	lockTTL  time.Duration
}

// NewHeartbeatMonitor creates a new monitor. Each beat extends the lock by lockTTL.
func NewHeartbeatMonitor(store *queue.Store, logger *slog.Logger, interval, lockTTL time.Duration) *HeartbeatMonitor {
	return &HeartbeatMonitor{
		store:    store,
		logger:   logger,
		interval: interval,
		lockTTL:  lockTTL,
	}
}

// StartLoop runs a heartbeat updater for one job until ctx is cancelled. If
// the lock token no longer owns the job, lost is called with
// queue.ErrLockLost and the loop exits.
func (h *HeartbeatMonitor) StartLoop(ctx context.Context, wg *sync.WaitGroup, jobID, token string, lost context.CancelCauseFunc) {
	defer wg.Done()
	if h.interval <= 0 {
		return
	}
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	logger := logging.WithContext(ctx, h.logger.With(logging.String(logging.FieldComponent, "workflow-heartbeat")))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := h.store.Heartbeat(ctx, jobID, token, h.lockTTL)
			switch {
			case err == nil:
			case errors.Is(err, queue.ErrLockLost):
				logger.Warn("job lock lost; stopping stage",
					logging.String(logging.FieldEventType, "lock_lost"),
					logging.String(logging.FieldErrorHint, "the job was cancelled or recovered by the watchdog"),
				)
				if lost != nil {
					lost(queue.ErrLockLost)
				}
				return
			case errors.Is(err, context.Canceled):
				logger.Debug("heartbeat update cancelled")
			default:
				logger.Warn("heartbeat update failed", logging.Error(err))
			}
		}
	}
}
