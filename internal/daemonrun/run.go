package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"speecheval/internal/api"
	"speecheval/internal/bus"
	"speecheval/internal/catalog"
	"speecheval/internal/config"
	"speecheval/internal/daemon"
	"speecheval/internal/evaluation"
	"speecheval/internal/logging"
	"speecheval/internal/metrics"
	"speecheval/internal/notifications"
	"speecheval/internal/preflight"
	"speecheval/internal/queue"
	"speecheval/internal/quota"
	"speecheval/internal/scoring"
	"speecheval/internal/services/llm"
	"speecheval/internal/transcription"
	"speecheval/internal/workflow"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
	// Ready, when set, is called once the daemon has started.
	Ready func(*daemon.Daemon)
}

// Run starts the evaluation daemon and blocks until cmdCtx is cancelled or
// the process receives SIGINT or SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("speecheval-%s.log", runID))
	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:            level,
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{"stdout", logPath},
		ErrorOutputPaths: []string{"stderr", logPath},
		Development:      opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update %s link: %v\n", logging.LogFileName, err)
	}

	pidPath := filepath.Join(cfg.Paths.DataDir, "evald.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	store, err := queue.Open(cfg)
	if err != nil {
		logger.Error("open job store", logging.Error(err))
		return err
	}
	defer store.Close()

	logDependencySnapshot(signalCtx, logger, cfg, store)

	var telemetry *metrics.Telemetry
	if cfg.Metrics.Enabled {
		telemetry, err = metrics.New()
		if err != nil {
			return fmt.Errorf("init metrics: %w", err)
		}
		defer func() { _ = telemetry.Shutdown(context.Background()) }()
	}

	notifier := notifications.NewService(cfg)
	observers := []workflow.Observer{}
	if telemetry != nil {
		observers = append(observers, telemetry)
	}
	managerOpts := []workflow.ManagerOption{workflow.WithNotifier(notifier)}

	var busClient *bus.Client
	if cfg.Bus.Enabled {
		embedded, err := bus.StartEmbedded(cfg, logger)
		if err != nil {
			return err
		}
		defer embedded.Shutdown()

		busCfg := cfg.Bus
		if embedded != nil {
			busCfg.Servers = []string{embedded.ClientURL()}
		}
		busClient, err = bus.Connect(signalCtx, busCfg, logger)
		if err != nil {
			return err
		}
		defer busClient.Close()

		tasks, err := bus.NewTaskQueue(busClient, time.Duration(cfg.Workflow.LockTTL)*time.Second)
		if err != nil {
			return err
		}
		defer tasks.Close()
		managerOpts = append(managerOpts, workflow.WithTaskQueue(tasks))
		observers = append(observers, bus.NewStatusPublisher(busClient))
	}
	managerOpts = append(managerOpts, workflow.WithObservers(observers...))

	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		return fmt.Errorf("load question catalogue: %w", err)
	}

	pool, err := newPool(cfg, store, logger, telemetry, notifier)
	if err != nil {
		return err
	}

	workflowManager := workflow.NewManager(cfg, store, logger, managerOpts...)
	registerStages(workflowManager, cfg, store, cat, pool, logger, telemetry)

	serverOpts := []api.ServerOption{
		api.WithLogger(logger),
		api.WithHealthChecker(store),
		api.WithWorkflowStatus(workflowManager.Status),
		api.WithMetricsHandler(telemetry.Handler()),
	}
	if busClient != nil {
		serverOpts = append(serverOpts, api.WithBusHealth(busClient.Healthy))
	}
	apiServer := api.NewServer(cfg, api.NewJobService(store, cfg, workflowManager.Dispatch), serverOpts...)

	d, err := daemon.New(cfg, store, logger, workflowManager,
		daemon.WithPool(pool),
		daemon.WithAPIServer(apiServer),
	)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Stop()

	if err := d.Start(signalCtx); err != nil {
		logger.Error("daemon start failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "daemon_start_failed"),
			logging.String(logging.FieldErrorHint, "check configuration, the lock file, and job database access"),
		)
		return err
	}
	if opts.Ready != nil {
		opts.Ready(d)
	}

	<-signalCtx.Done()
	logger.Info("speecheval daemon shutting down")
	return nil
}

func newPool(cfg *config.Config, store *queue.Store, logger *slog.Logger, telemetry *metrics.Telemetry, notifier notifications.Service) (*quota.Pool, error) {
	loc := time.UTC
	if cfg.Quota.Timezone != "" {
		var err error
		if loc, err = time.LoadLocation(cfg.Quota.Timezone); err != nil {
			return nil, fmt.Errorf("quota timezone: %w", err)
		}
	}
	return quota.NewPool(store, cfg.Quota.Provider,
		quota.WithLogger(logger),
		quota.WithLocation(loc),
		quota.WithExhaustionHook(func(ctx context.Context, credentialID, model string) {
			telemetry.QuotaExhausted(ctx, credentialID, model)
			if !cfg.Notifications.QuotaExhausted {
				return
			}
			if err := notifier.Publish(ctx, notifications.EventQuotaExhausted, notifications.Payload{
				"credentialId": credentialID,
				"model":        model,
			}); err != nil {
				logger.Debug("quota notification failed", logging.Error(err))
			}
		}),
	), nil
}

func registerStages(mgr *workflow.Manager, cfg *config.Config, store *queue.Store, cat *catalog.Catalog, pool *quota.Pool, logger *slog.Logger, telemetry *metrics.Telemetry) {
	if mgr == nil || cfg == nil {
		return
	}

	engine := evaluation.NewEngine(llm.NewClientFrom(cfg.LLM), pool,
		evaluation.WithModels(cfg.LLM.Models...),
		evaluation.WithClassifier(quota.HeuristicClassifier{
			PermanentPhrases: cfg.Quota.PermanentPhrases,
			TransientPhrases: cfg.Quota.TransientPhrases,
		}),
		evaluation.WithMaxRetryAfter(time.Duration(cfg.LLM.MaxRetryAfter)*time.Second),
		evaluation.WithLogger(logger),
		evaluation.WithRecorder(telemetry),
		evaluation.WithCancelCheck(scoring.CancelCheck(store)),
	)

	mgr.ConfigureStages(workflow.StageSet{
		Transcriber: transcription.NewTranscriber(cfg, store, cat, logger, telemetry),
		Scorer:      scoring.NewScorer(cfg, store, cat, engine, logger),
	})
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, logging.LogFileName)
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

// logDependencySnapshot records which external services are configured and
// warns about failed preflight checks without blocking startup.
func logDependencySnapshot(ctx context.Context, logger *slog.Logger, cfg *config.Config, store *queue.Store) {
	if logger == nil || cfg == nil {
		return
	}
	logger.Info("dependency snapshot",
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.String("asr_providers", strings.Join(cfg.ProviderNames(), ",")),
		logging.String("llm_models", strings.Join(cfg.LLM.Models, ",")),
		logging.String("quota_provider", cfg.Quota.Provider),
		logging.Bool("bus_enabled", cfg.Bus.Enabled),
		logging.Bool("bus_embedded", cfg.Bus.Embedded),
		logging.Bool("metrics_enabled", cfg.Metrics.Enabled),
		logging.Bool("ntfy_configured", strings.TrimSpace(cfg.Notifications.NtfyTopic) != ""),
	)
	for _, result := range preflight.Failed(preflight.RunAll(ctx, cfg, store)) {
		logger.Warn("preflight check failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.String(logging.FieldEventType, "preflight_failed"),
			logging.String(logging.FieldImpact, "jobs depending on this service will fail and retry"),
		)
	}
}
