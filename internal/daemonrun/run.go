package daemonrun

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dreamstate/internal/audit"
	"dreamstate/internal/config"
	"dreamstate/internal/daemon"
	"dreamstate/internal/history"
	"dreamstate/internal/ipc"
	"dreamstate/internal/logging"
	"dreamstate/internal/watcher"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
	// Stdout mirrors the daemon log to standard output.
	Stdout      bool
	// ConfigError is a config problem that was replaced by defaults. It is
	// logged once the daemon log exists.
	ConfigError error
}

// Run starts the dreamstate daemon for workspace and blocks until ctx is
// cancelled or the process receives SIGINT or SIGTERM.
func Run(cmdCtx context.Context, workspace string, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if workspace == "" {
		return fmt.Errorf("workspace is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	stateDir := config.StateDir(workspace)
	layout := ipc.NewStore(stateDir, logging.NewNop())
	if err := layout.EnsureLayout(); err != nil {
		return fmt.Errorf("prepare state directory: %w", err)
	}

	started := time.Now()
	logPath := logging.RunLogPath(layout.LogDir(), started)
	outputs := []string{logPath}
	if opts.Stdout {
		outputs = append([]string{"stdout"}, outputs...)
	}
	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: outputs,
		Development: opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	if err := logging.PointCurrentLog(layout.LogDir(), logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update %s link: %v\n", logging.CurrentLogName, err)
	}
	pruned := logging.PruneRunLogs(logger, layout.LogDir(), cfg.Logging.RetentionDays, logPath, started)
	if opts.ConfigError != nil {
		logging.WarnWithContext(logger, "config rejected; running with defaults", "config_invalid",
			logging.Error(opts.ConfigError),
			logging.String(logging.FieldImpact, "invalid settings are replaced by their defaults"),
			logging.String(logging.FieldErrorHint, "run 'dreamstate config validate' and fix .dreamstate/config.json"),
		)
	}

	store := ipc.NewStore(stateDir, logger)

	var recorder daemon.Recorder
	ledger, err := history.Open(store.HistoryPath())
	if err != nil {
		logging.WarnWithContext(logger, "history ledger unavailable", "history_open_failed",
			logging.Error(err),
			logging.String(logging.FieldPath, store.HistoryPath()),
			logging.String(logging.FieldImpact, "processed tasks are not recorded"),
			logging.String(logging.FieldErrorHint, "remove or repair .dreamstate/history.db"),
		)
	} else {
		defer ledger.Close()
		recorder = ledger
	}

	fileWatcher := watcher.New(watcher.Options{
		Root:      workspace,
		Patterns:  cfg.Watch.Patterns,
		Ignore:    cfg.Watch.Ignore,
		Stability: cfg.StabilityWindow(),
		Logger:    logger,
	})
	detector := audit.New(store, audit.Options{
		Timeout:       cfg.IdleTimeout(),
		CheckInterval: cfg.IdleCheckInterval(),
		Logger:        logger,
	})

	d, err := daemon.New(daemon.Options{
		Queue:          store,
		Watcher:        fileWatcher,
		Detector:       detector,
		History:        recorder,
		LockPath:       store.LockPath(),
		PollInterval:   cfg.PollInterval(),
		StatusInterval: cfg.StatusInterval(),
		Logger:         logger,
	})
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}

	logger.Info("dreamstate daemon starting",
		logging.String(logging.FieldEventType, "daemon_starting"),
		logging.String(logging.FieldWorkspace, workspace),
		logging.String("ipc_dir", stateDir),
		logging.String("log_path", logPath),
		logging.Int("logs_pruned", pruned),
		logging.Int("idle_timeout_minutes", cfg.Daemon.IdleTimeoutMinutes),
		logging.String("model", cfg.Daemon.Model),
		logging.Int("token_budget_per_hour", cfg.Daemon.TokenBudgetPerHour),
	)

	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "run 'dreamstate status' to check for a running daemon"),
			logging.String(logging.FieldImpact, "no tasks are processed for this workspace"),
		)
		return fmt.Errorf("start daemon: %w", err)
	}
	defer d.Stop()

	<-signalCtx.Done()
	logger.Info("dreamstate daemon shutting down",
		logging.String(logging.FieldEventType, "daemon_shutdown"),
		logging.Int64("tasks_processed", d.TasksProcessed()),
	)
	return nil
}
