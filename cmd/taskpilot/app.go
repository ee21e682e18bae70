package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aristath/taskpilot/internal/config"
	"github.com/aristath/taskpilot/internal/driver"
	"github.com/aristath/taskpilot/internal/events"
	"github.com/aristath/taskpilot/internal/factory"
	"github.com/aristath/taskpilot/internal/metrics"
	"github.com/aristath/taskpilot/internal/scheduler"
	"github.com/aristath/taskpilot/internal/secrets"
	"github.com/aristath/taskpilot/internal/task"
)

// app holds the collaborators shared by the run and schedule commands.
type app struct {
	cfg         *config.Config
	globalPath  string
	projectPath string
	logger      *slog.Logger
	logFile     *os.File
	pm          *driver.ProcessManager
	factory     *factory.Factory
	registry    *prometheus.Registry
	rec         *metrics.Recorder
	breakers    *scheduler.BreakerRegistry
}

// loadConfig resolves config paths and loads the merged configuration.
func loadConfig(flags *rootFlags) (*config.Config, string, string, error) {
	globalPath, err := config.GlobalPath()
	if err != nil {
		return nil, "", "", err
	}
	projectPath := config.ProjectPath()
	if flags.configPath != "" {
		projectPath = flags.configPath
	}
	cfg, err := config.Load(globalPath, projectPath)
	if err != nil {
		return nil, "", "", err
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}
	return cfg, globalPath, projectPath, nil
}

// newApp loads configuration and builds the factory. With quiet set, logs go
// to a file next to the history database so they do not draw over the TUI.
func newApp(flags *rootFlags, stderr io.Writer, quiet bool) (*app, error) {
	cfg, globalPath, projectPath, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:         cfg,
		globalPath:  globalPath,
		projectPath: projectPath,
		pm:          driver.NewProcessManager(),
		registry:    prometheus.NewRegistry(),
	}

	logOut := stderr
	if quiet {
		path := filepath.Join(filepath.Dir(cfg.History.Path), "taskpilot.log")
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		a.logFile = f
		logOut = f
	}
	a.logger = config.NewLogger(logOut, cfg.Log)
	a.rec = metrics.New(a.registry)
	if cfg.Scheduler.Breaker.Enabled {
		a.breakers = scheduler.NewBreakerRegistry(cfg.Scheduler.Breaker, a.logger, a.rec)
	}

	opts := factory.Options{
		Handles: a.newHandle,
		Config:  cfg,
		Logger:  a.logger,
	}
	store, err := secrets.FromEnv()
	switch {
	case err == nil:
		opts.Secrets = store
	case errors.Is(err, secrets.ErrNoKey):
		a.logger.Debug("no secret key configured; encrypted profile passwords are unavailable")
	default:
		return nil, err
	}
	a.factory = factory.New(opts)
	return a, nil
}

// newHandle starts the driver selected in config.
func (a *app) newHandle(ctx context.Context) (any, error) {
	dc := a.cfg.Driver
	return driver.New(ctx, driver.Config{
		Type:      dc.Type,
		Command:   dc.Command,
		Args:      dc.Args,
		Timeout:   dc.Timeout,
		UserAgent: dc.UserAgent,
	}, a.pm, a.logger.With("component", "driver"))
}

// newScheduler builds a single-use scheduler for one run of tasks.
func (a *app) newScheduler(handle any, bus *events.EventBus) *scheduler.Scheduler {
	opts := []scheduler.Option{
		scheduler.WithConfig(a.cfg.Scheduler),
		scheduler.WithHandle(handle),
		scheduler.WithLogger(a.logger),
		scheduler.WithEventBus(bus),
		scheduler.WithMetrics(a.rec),
	}
	if a.breakers != nil {
		opts = append(opts, scheduler.WithBreakers(a.breakers))
	}
	return scheduler.New(opts...)
}

// close kills tracked helper processes and closes the log file.
func (a *app) close() {
	if err := a.pm.KillAll(); err != nil {
		a.logger.Error("failed to kill helper processes", "error", err)
	}
	if a.logFile != nil {
		_ = a.logFile.Close()
	}
}

func snapshots(tasks []*task.Task) []task.Snapshot {
	out := make([]task.Snapshot, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.Snapshot())
	}
	return out
}
