package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"speecheval/internal/api"
	"speecheval/internal/config"
	"speecheval/internal/logging"
	"speecheval/internal/preflight"
	"speecheval/internal/queue"
	"speecheval/internal/quota"
	"speecheval/internal/workflow"
)

const (
	defaultRolloverCheck = time.Minute
	shutdownTimeout      = 5 * time.Second
)

// Daemon owns the long-running pieces of evald: the workflow workers, the
// job API, and the quota day rollover. Only one daemon per data directory
// may run; a file lock enforces that.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *queue.Store
	workflow *workflow.Manager
	pool     *quota.Pool
	api      *api.Server

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option customizes optional daemon collaborators.
type Option func(*Daemon)

// WithPool enables the quota day-rollover ticker for pool.
func WithPool(pool *quota.Pool) Option {
	return func(d *Daemon) { d.pool = pool }
}

// WithAPIServer starts and stops srv alongside the workflow.
func WithAPIServer(srv *api.Server) Option {
	return func(d *Daemon) { d.api = srv }
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	Workflow     workflow.StatusSummary
	QueueDBPath  string
	LockFilePath string
	APIAddr      string
}

func New(cfg *config.Config, store *queue.Store, logger *slog.Logger, wf *workflow.Manager, opts ...Option) (*Daemon, error) {
	if cfg == nil || store == nil || logger == nil || wf == nil {
		return nil, errors.New("daemon requires config, store, logger, and workflow manager")
	}

	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:      cfg,
		logger:   logger.With(logging.String(logging.FieldComponent, "daemon")),
		store:    store,
		workflow: wf,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// ErrAlreadyRunning is returned by Start when another process holds the
// daemon lock.
var ErrAlreadyRunning = errors.New("another speecheval daemon instance is already running")

// Start takes the single-instance lock, then brings up the workflow, the
// API server, and the quota rollover loop. A failure part way through
// unwinds whatever already started.
func (d *Daemon) Start(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return errors.New("daemon already running")
	}
	var undo []func()
	fail := func(err error) error {
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
		d.running.Store(false)
		return err
	}

	locked, err := d.lock.TryLock()
	switch {
	case err != nil:
		return fail(fmt.Errorf("acquire lock: %w", err))
	case !locked:
		return fail(ErrAlreadyRunning)
	}
	undo = append(undo, func() { _ = d.lock.Unlock() })

	d.warnPreflight()

	runCtx, cancel := context.WithCancel(ctx)
	undo = append(undo, cancel)
	if err := d.workflow.Start(runCtx); err != nil {
		return fail(fmt.Errorf("start workflow: %w", err))
	}
	undo = append(undo, d.workflow.Stop)
	if d.api != nil {
		if err := d.api.Start(); err != nil {
			return fail(fmt.Errorf("start api: %w", err))
		}
	}
	if d.pool != nil {
		d.wg.Add(1)
		go d.runRollover(runCtx)
	}

	d.cancel = cancel
	d.logger.Info("speecheval daemon started",
		logging.String("lock", d.lockPath),
		logging.String(logging.FieldEventType, "daemon_started"),
	)
	return nil
}

func (d *Daemon) warnPreflight() {
	for _, r := range preflight.Failed(preflight.CheckPaths(d.cfg)) {
		d.logger.Warn("preflight check failed",
			logging.String("check", r.Name),
			logging.String("detail", r.Detail),
			logging.String(logging.FieldEventType, "preflight_failed"),
			logging.String(logging.FieldErrorHint, "fix directory permissions in the paths section"),
		)
	}
}

// Stop drains the API first so no new jobs arrive, then stops workers and
// releases the lock. It is a no-op when the daemon is not running.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.api != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := d.api.Shutdown(ctx); err != nil {
			d.logger.Warn("api shutdown", logging.Error(err))
		}
		cancel()
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.workflow.Stop()
	d.wg.Wait()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("speecheval daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// runRollover clears exhaustion flags once per quota day.
func (d *Daemon) runRollover(ctx context.Context) {
	defer d.wg.Done()
	interval := defaultRolloverCheck
	if d.cfg.Quota.RolloverCheck > 0 {
		interval = time.Duration(d.cfg.Quota.RolloverCheck) * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := d.pool.ResetIfDayChanged(ctx); err != nil && ctx.Err() == nil {
			d.logger.Warn("quota rollover failed",
				logging.Error(err),
				logging.String(logging.FieldEventType, "quota_rollover_failed"),
			)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RetryFailed resets failed jobs (optionally a subset) for another attempt.
func (d *Daemon) RetryFailed(ctx context.Context, ids ...string) (int64, error) {
	return d.store.RetryFailed(ctx, ids...)
}

// QueueHealth returns aggregate job diagnostics.
func (d *Daemon) QueueHealth(ctx context.Context) (queue.HealthSummary, error) {
	return d.store.Health(ctx)
}

// DatabaseHealth returns detailed database diagnostics.
func (d *Daemon) DatabaseHealth(ctx context.Context) (queue.DatabaseHealth, error) {
	return d.store.CheckHealth(ctx)
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:      d.running.Load(),
		Workflow:     d.workflow.Status(ctx),
		QueueDBPath:  d.store.Path(),
		LockFilePath: d.lockPath,
	}
	if d.api != nil {
		status.APIAddr = d.api.Addr()
	}
	return status
}
