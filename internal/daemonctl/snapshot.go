package daemonctl

import (
	"context"
	"errors"
	"os"
	"time"

	"speecheval/internal/api"
	"speecheval/internal/config"
	"speecheval/internal/preflight"
	"speecheval/internal/queue"
)

// Snapshot is what "evalctl status" renders: the daemon's own health when
// it answers, queue counts from whichever source is available, and the
// dependency checks.
type Snapshot struct {
	Running    bool
	PID        int
	Health     *api.HealthResponse
	QueueStats map[string]int
	Checks     []preflight.Result
}

// BuildStatusSnapshot prefers the daemon's health report and reads the
// job database directly for anything the daemon did not supply.
func BuildStatusSnapshot(ctx context.Context, cfg *config.Config) (*Snapshot, error) {
	if cfg == nil {
		return nil, errors.New("configuration not available")
	}
	proc, err := Inspect(cfg)
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{Running: proc.Running, PID: proc.PID}
	if proc.Running {
		snap.Health = daemonHealth(ctx, cfg)
		if snap.Health != nil && snap.Health.Workflow != nil {
			snap.QueueStats = snap.Health.Workflow.QueueStats
		}
	}

	var lister preflight.CredentialLister
	if store := openExisting(cfg); store != nil {
		defer store.Close()
		lister = store
		if snap.QueueStats == nil {
			statsCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			if stats, err := store.Stats(statsCtx); err == nil {
				snap.QueueStats = api.MergeQueueStats(stats)
			}
			cancel()
		}
	}
	snap.Checks = preflight.RunAll(ctx, cfg, lister)
	return snap, nil
}

func daemonHealth(ctx context.Context, cfg *config.Config) *api.HealthResponse {
	client, err := api.Dial(ctx, cfg)
	if err != nil {
		return nil
	}
	health, err := client.Health(ctx)
	if err != nil {
		return nil
	}
	return health
}

// openExisting opens the job database only if the file is already there,
// so status never creates one.
func openExisting(cfg *config.Config) *queue.Store {
	if _, err := os.Stat(cfg.DatabasePath()); err != nil {
		return nil
	}
	store, err := queue.OpenPath(cfg.DatabasePath())
	if err != nil {
		return nil
	}
	return store
}
