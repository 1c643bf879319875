package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/basket/taskbuddy/internal/backup"
	"github.com/basket/taskbuddy/internal/bus"
	"github.com/basket/taskbuddy/internal/config"
	"github.com/basket/taskbuddy/internal/hook"
	"github.com/basket/taskbuddy/internal/oplog"
	"github.com/basket/taskbuddy/internal/task"
	"github.com/basket/taskbuddy/internal/telemetry"
	"github.com/basket/taskbuddy/internal/web"
	"github.com/mattn/go-isatty"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "dev"

func main() {
	addr := flag.String("addr", "", "override bind address from config")
	quiet := flag.Bool("quiet", false, "log to file only, not stdout")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("taskbuddy", Version)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fatalStartup("E_CONFIG_LOAD", err)
	}
	if *addr != "" {
		cfg.BindAddr = *addr
	}

	// Non-interactive stdout (daemon mode) gets file-only logging.
	interactive := isatty.IsTerminal(os.Stdout.Fd())
	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, *quiet || !interactive)
	if err != nil {
		fatalStartup("E_LOGGER_INIT", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)
	logger.Info("startup phase", "phase", "config_loaded", "config_hash", cfg.Fingerprint(), "version", Version)

	recorder, err := oplog.Open(cfg.HomeDir, cfg.OpLog.SQLitePath)
	if err != nil {
		fatalStartup("E_OPLOG_INIT", err)
	}
	defer func() { _ = recorder.Close() }()

	hooks := hook.NewRegistry(logger)
	hooks.Register(hook.BeforeTaskAdd, hook.ValidateTitle)
	hooks.Register(hook.BeforeTaskUpdate, hook.ValidateTitle)
	hooks.Register(hook.AfterTaskAdd, recorder.Handler(oplog.OpAdded))
	hooks.Register(hook.AfterTaskToggle, recorder.Handler(oplog.OpToggled))
	hooks.Register(hook.AfterTaskUpdate, recorder.Handler(oplog.OpUpdated))
	hooks.Register(hook.AfterTaskDelete, recorder.Handler(oplog.OpDeleted))

	eventBus := bus.New()
	lifecycleSub := eventBus.Subscribe("task.")
	go logTaskEvents(lifecycleSub, logger)

	storeCfg := task.StoreConfig{
		Path:   cfg.TasksFile,
		Hooks:  hooks,
		Bus:    eventBus,
		Logger: logger,
	}

	var backups *backup.Manager
	if cfg.Backups.CronExpr != "" {
		backups, err = backup.NewManager(backup.Config{
			SourcePath: cfg.TasksFile,
			Dir:        cfg.Backups.Dir,
			CronExpr:   cfg.Backups.CronExpr,
			Keep:       cfg.Backups.Keep,
			Logger:     logger,
		})
		if err != nil {
			fatalStartup("E_BACKUP_INIT", err)
		}
		backups.Start(ctx)
		defer backups.Stop()
		storeCfg.Snapshots = backups
	}

	store := task.NewStore(storeCfg)

	fileWatcher := task.NewWatcher(store, eventBus, logger)
	if err := fileWatcher.Start(ctx); err != nil {
		logger.Warn("tasks file watcher unavailable", "error", err)
	}

	cfgWatcher := config.NewWatcher(cfg.HomeDir, logger)
	if err := cfgWatcher.Start(ctx); err != nil {
		logger.Warn("config watcher unavailable", "error", err)
	} else {
		go drainConfigEvents(cfgWatcher, logger)
	}

	server := web.New(web.Config{
		Store:             store,
		Logger:            logger,
		ConfigFingerprint: cfg.Fingerprint(),
		OpCount:           recorder.Count,
	})

	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.BindAddr)
		errCh <- httpServer.ListenAndServe()
	}()

	if interactive {
		fmt.Printf("TaskBuddy listening on http://%s\n", cfg.BindAddr)
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatalStartup("E_HTTP_SERVE", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
	logger.Info("shutdown complete")
}

// logTaskEvents consumes the lifecycle topics so committed changes and
// external file edits show up in the structured log with their bus payloads.
func logTaskEvents(sub *bus.Subscription, logger *slog.Logger) {
	for ev := range sub.Ch() {
		switch p := ev.Payload.(type) {
		case bus.TaskChangedEvent:
			logger.Debug("task lifecycle event",
				"topic", ev.Topic,
				"task_id", p.TaskID,
				"done", p.Done,
				"index", p.Index,
			)
		case bus.FileChangedEvent:
			logger.Warn("tasks file modified outside the store", "path", p.Path, "op", p.Op)
		default:
			logger.Debug("task event", "topic", ev.Topic)
		}
	}
}

func drainConfigEvents(w *config.Watcher, logger *slog.Logger) {
	for range w.Events() {
		// Changes take effect on restart; the watcher already logged the write.
		logger.Info("config change detected, restart to apply")
	}
}

func fatalStartup(code string, err error) {
	fmt.Fprintf(os.Stderr, "taskbuddy: %s: %v\n", code, err)
	os.Exit(1)
}
