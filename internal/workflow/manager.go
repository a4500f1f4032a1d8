package workflow

import (
	"log/slog"
	"sync"
	"time"

	"speecheval/internal/config"
	"speecheval/internal/logging"
	"speecheval/internal/notifications"
	"speecheval/internal/queue"
)

// Manager coordinates stage workers, the reconciler, and the watchdog.
type Manager struct {
	cfg          *config.Config
	store        *queue.Store
	logger       *slog.Logger
	tasks        TaskQueue
	notifier     notifications.Service
	observers    []Observer
	pollInterval time.Duration
	errorRetry   time.Duration
	lockTTL      time.Duration
	workers      int

	heartbeat *HeartbeatMonitor
	watchdog  *Watchdog

	stages map[queue.Stage]pipelineStage

	mu      sync.RWMutex
	running bool
	cancel  func()
	wg      sync.WaitGroup
	lastErr error
	lastJob *queue.Job
}

// ManagerOption configures optional Manager behavior.
type ManagerOption func(*Manager)

// WithTaskQueue replaces the in-process queue, for example with the NATS bus.
func WithTaskQueue(tasks TaskQueue) ManagerOption {
	return func(m *Manager) {
		if tasks != nil {
			m.tasks = tasks
		}
	}
}

// WithNotifier replaces the configured notification service.
func WithNotifier(notifier notifications.Service) ManagerOption {
	return func(m *Manager) {
		if notifier != nil {
			m.notifier = notifier
		}
	}
}

// WithObservers registers job change observers.
func WithObservers(observers ...Observer) ManagerOption {
	return func(m *Manager) {
		for _, obs := range observers {
			if obs != nil {
				m.observers = append(m.observers, obs)
			}
		}
	}
}

// NewManager constructs a new workflow manager.
func NewManager(cfg *config.Config, store *queue.Store, logger *slog.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	workers := cfg.Workflow.Workers
	if workers <= 0 {
		workers = 1
	}
	m := &Manager{
		cfg:          cfg,
		store:        store,
		logger:       logger,
		pollInterval: secondsOr(cfg.Workflow.QueuePollInterval, time.Second),
		errorRetry:   secondsOr(cfg.Workflow.ErrorRetryInterval, time.Second),
		lockTTL:      secondsOr(cfg.Workflow.LockTTL, time.Minute),
		workers:      workers,
		heartbeat: NewHeartbeatMonitor(
			store,
			logger,
			time.Duration(cfg.Workflow.HeartbeatInterval)*time.Second,
			secondsOr(cfg.Workflow.LockTTL, time.Minute),
		),
		stages: make(map[queue.Stage]pipelineStage),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.tasks == nil {
		m.tasks = NewLocalQueue(workers * 16)
	}
	if m.notifier == nil {
		m.notifier = notifications.NewService(cfg)
	}
	m.watchdog = NewWatchdog(cfg, store, logger, WithRecoveryHook(m.onRecovered))
	return m
}

// Watchdog returns the manager's watchdog, which is wired to redispatch
// and notify on recovery.
func (m *Manager) Watchdog() *Watchdog {
	return m.watchdog
}

func secondsOr(seconds int, fallback time.Duration) time.Duration {
	if seconds <= 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}
