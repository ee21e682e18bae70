package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/aristath/taskpilot/internal/control"
	"github.com/aristath/taskpilot/internal/events"
	"github.com/aristath/taskpilot/internal/history"
	"github.com/aristath/taskpilot/internal/plan"
	"github.com/aristath/taskpilot/internal/scheduler"
	"github.com/aristath/taskpilot/internal/tui"
)

type runFlags struct {
	tui         bool
	metricsAddr string
	noHistory   bool
}

func newRunCmd(root *rootFlags) *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run PLAN",
		Short: "Run a plan once",
		Long: `Run every task of a YAML or JSON plan in dependency order.

The run ends when the queue drains, when it is stopped, or when the
remaining tasks can never become executable. With --metrics-addr the
run also serves /metrics, /progress, /pause, /resume and /stop.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(root, cmd.ErrOrStderr(), flags.tui)
			if err != nil {
				return err
			}
			defer a.close()

			p, err := plan.Load(args[0])
			if err != nil {
				return err
			}
			addr := flags.metricsAddr
			if addr == "" {
				addr = a.cfg.Metrics.Addr
			}

			var srv *control.Server
			if addr != "" {
				srv = control.NewServer(addr, a.registry, a.logger)
			}
			var store *history.Store
			if !flags.noHistory {
				store, err = history.Open(cmd.Context(), a.cfg.History.Path)
				if err != nil {
					return err
				}
				defer store.Close()
			}

			sum, err := a.runPlan(cmd.Context(), p, runTargets{tui: flags.tui, server: srv, serve: true, store: store})
			printSummary(cmd.OutOrStdout(), p.Name, sum)
			return err
		},
	}
	cmd.Flags().BoolVar(&flags.tui, "tui", false, "show the interactive progress view")
	cmd.Flags().StringVar(&flags.metricsAddr, "metrics-addr", "", "serve metrics and run control on this address (overrides metrics.addr)")
	cmd.Flags().BoolVar(&flags.noHistory, "no-history", false, "do not record the run in the history database")
	return cmd
}

// runTargets are the optional surfaces attached to a run.
type runTargets struct {
	tui    bool
	server *control.Server // pointed at the run's scheduler
	serve  bool            // run the server for the duration of the run
	store  *history.Store
}

// runPlan builds the plan's tasks into a fresh scheduler and executes it.
// The control server, when given, serves for the duration of the run; the
// TUI, when enabled, stays up until the user quits.
func (a *app) runPlan(ctx context.Context, p *plan.Plan, t runTargets) (scheduler.Summary, error) {
	tasks, err := plan.Build(a.factory, p)
	if err != nil {
		return scheduler.Summary{}, err
	}
	handle, err := a.factory.Handle(ctx)
	if err != nil {
		return scheduler.Summary{}, fmt.Errorf("create driver: %w", err)
	}
	if c, ok := handle.(io.Closer); ok {
		defer func() {
			if err := c.Close(); err != nil {
				a.logger.Warn("failed to close driver", "error", err)
			}
		}()
	}

	bus := events.NewEventBus()
	defer bus.Close()

	s := a.newScheduler(handle, bus)
	if _, err := s.AddTasks(tasks...); err != nil {
		return scheduler.Summary{}, err
	}

	var model tea.Model
	if t.tui {
		// Subscribe before the run starts so no queued event is missed.
		model = tui.New(bus, s, a.cfg, a.globalPath, a.projectPath)
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	g, gctx := errgroup.WithContext(runCtx)

	if t.server != nil {
		t.server.SetTarget(s)
		if t.serve {
			g.Go(func() error { return t.server.Run(gctx) })
		}
	}

	var (
		sum    scheduler.Summary
		runErr error
		done   = make(chan struct{})
	)
	g.Go(func() error {
		defer close(done)
		sum, runErr = s.Execute(gctx)
		if !t.tui {
			cancelRun()
		}
		return nil
	})

	if t.tui {
		g.Go(func() error {
			prog := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(gctx))
			_, err := prog.Run()
			// Quitting the view ends the run.
			_ = s.Stop()
			<-done
			cancelRun()
			if errors.Is(err, tea.ErrProgramKilled) {
				return nil
			}
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return sum, err
	}

	if t.store != nil {
		// Record even when the caller's context ended the run.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		runID := history.NewRunID()
		if err := t.store.RecordRun(rctx, runID, p.Name, sum, snapshots(tasks)); err != nil {
			a.logger.Error("failed to record run", "run_id", runID, "error", err)
		} else {
			a.logger.Info("run recorded", "run_id", runID)
		}
	}
	return sum, runErr
}

func printSummary(w io.Writer, name string, sum scheduler.Summary) {
	if sum.StartedAt.IsZero() {
		return
	}
	fmt.Fprintf(w, "Plan %s finished in %v\n", name, sum.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "  %-12s %d\n", "Succeeded:", sum.SuccessCount)
	fmt.Fprintf(w, "  %-12s %d\n", "Failed:", sum.FailedCount)
	if sum.Remaining > 0 {
		fmt.Fprintf(w, "  %-12s %d\n", "Not run:", sum.Remaining)
	}
	fmt.Fprintf(w, "  %-12s %.1f%%\n", "Success:", sum.SuccessRate)
	if sum.Stopped {
		fmt.Fprintln(w, "  Run was stopped before the queue drained.")
	}
	if len(sum.FailureReasons) > 0 {
		fmt.Fprintln(w, "\n  Failure reasons:")
		reasons := make([]string, 0, len(sum.FailureReasons))
		for r := range sum.FailureReasons {
			reasons = append(reasons, r)
		}
		sort.Strings(reasons)
		for _, r := range reasons {
			fmt.Fprintf(w, "    %3d  %s\n", sum.FailureReasons[r], r)
		}
	}
}
