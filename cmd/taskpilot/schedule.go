package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/aristath/taskpilot/internal/control"
	"github.com/aristath/taskpilot/internal/history"
	"github.com/aristath/taskpilot/internal/plan"
)

type scheduleFlags struct {
	cron        string
	metricsAddr string
	noHistory   bool
}

func newScheduleCmd(root *rootFlags) *cobra.Command {
	flags := &scheduleFlags{}
	cmd := &cobra.Command{
		Use:   "schedule PLAN",
		Short: "Run a plan on a cron schedule",
		Long: `Run a plan every time the cron expression fires, until interrupted.

The plan file is re-read on each trigger. A trigger that fires while the
previous run is still going is skipped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := cron.ParseStandard(flags.cron); err != nil {
				return fmt.Errorf("invalid --cron expression %q: %w", flags.cron, err)
			}
			// Fail fast on a broken plan.
			if _, err := plan.Load(args[0]); err != nil {
				return err
			}

			a, err := newApp(root, cmd.ErrOrStderr(), false)
			if err != nil {
				return err
			}
			defer a.close()

			var store *history.Store
			if !flags.noHistory {
				store, err = history.Open(cmd.Context(), a.cfg.History.Path)
				if err != nil {
					return err
				}
				defer store.Close()
			}
			addr := flags.metricsAddr
			if addr == "" {
				addr = a.cfg.Metrics.Addr
			}
			var srv *control.Server
			if addr != "" {
				srv = control.NewServer(addr, a.registry, a.logger)
			}
			return a.schedule(cmd.Context(), args[0], flags.cron, runTargets{server: srv, serve: true, store: store})
		},
	}
	cmd.Flags().StringVar(&flags.cron, "cron", "", "standard five-field cron expression, e.g. \"0 9 * * *\"")
	cmd.Flags().StringVar(&flags.metricsAddr, "metrics-addr", "", "serve metrics and run control on this address (overrides metrics.addr)")
	cmd.Flags().BoolVar(&flags.noHistory, "no-history", false, "do not record runs in the history database")
	_ = cmd.MarkFlagRequired("cron")
	return cmd
}

// schedule triggers a fresh run of the plan at path on every cron tick until
// ctx is done. The control server outlives individual runs and is pointed at
// the current one.
func (a *app) schedule(ctx context.Context, path, spec string, t runTargets) error {
	g, gctx := errgroup.WithContext(ctx)
	if t.server != nil {
		g.Go(func() error { return t.server.Run(gctx) })
	}
	// Runs only retarget the long-lived server.
	t.serve = false

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{a.logger})))
	_, err := c.AddFunc(spec, func() { a.trigger(gctx, path, t) })
	if err != nil {
		return fmt.Errorf("add cron job: %w", err)
	}

	c.Start()
	a.logger.Info("plan scheduled", "plan", path, "cron", spec)
	g.Go(func() error {
		<-gctx.Done()
		// Stop waits for a run in progress.
		<-c.Stop().Done()
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	a.logger.Info("schedule stopped")
	return nil
}

// trigger performs one scheduled run. Failures are logged; the schedule keeps
// going.
func (a *app) trigger(ctx context.Context, path string, t runTargets) {
	if ctx.Err() != nil {
		return
	}
	p, err := plan.Load(path)
	if err != nil {
		a.logger.Error("scheduled run skipped: cannot load plan", "plan", path, "error", err)
		return
	}
	a.logger.Info("scheduled run starting", "plan", p.Name)

	sum, err := a.runPlan(ctx, p, t)
	if err != nil {
		a.logger.Error("scheduled run failed", "plan", p.Name, "error", err)
		return
	}
	a.logger.Info("scheduled run finished", "plan", p.Name,
		"succeeded", sum.SuccessCount, "failed", sum.FailedCount, "duration", sum.Duration)
}

// cronLogger adapts slog to the cron.Logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}
