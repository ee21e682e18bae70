package main

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/aristath/taskpilot/internal/factory"
	"github.com/aristath/taskpilot/internal/history"
	"github.com/aristath/taskpilot/internal/plan"
	"github.com/aristath/taskpilot/internal/secrets"
)

func newValidateCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate PLAN",
		Short: "Check a plan without running it",
		Long: `Parse a plan, check its dependency graph and build every task so unknown
kinds and invalid parameters are reported before a run.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, _, err := loadConfig(root)
			if err != nil {
				return err
			}
			p, err := plan.Load(args[0])
			if err != nil {
				return err
			}
			f := factory.New(factory.Options{Config: cfg})
			tasks, err := plan.Build(f, p)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			var problems int
			for _, t := range tasks {
				if missing := t.MissingRequired(); len(missing) > 0 {
					problems++
					fmt.Fprintf(out, "  %-24s missing %s\n", t.Name(), strings.Join(missing, ", "))
				}
			}
			if problems > 0 {
				return fmt.Errorf("plan %s: %d tasks are missing required parameters", p.Name, problems)
			}
			fmt.Fprintf(out, "Plan %s is valid: %d tasks\n", p.Name, len(tasks))
			return nil
		},
	}
}

func newKindsCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "kinds",
		Short: "List task kinds and their parameters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, _, err := loadConfig(root)
			if err != nil {
				return err
			}
			printKinds(cmd.OutOrStdout(), factory.New(factory.Options{Config: cfg}).Kinds())
			return nil
		},
	}
}

func printKinds(w io.Writer, kinds []factory.KindInfo) {
	for _, k := range kinds {
		label := k.Name
		if k.Custom {
			label += " (custom)"
		}
		fmt.Fprintf(w, "%s\n  %s\n", label, k.Description)
		for _, name := range k.Schema.Names() {
			spec := k.Schema[name]
			line := fmt.Sprintf("    %-18s %-9s", name, spec.Type)
			if spec.Required {
				line += " required"
			}
			if spec.Default != nil && !spec.Sensitive {
				line += fmt.Sprintf(" default=%v", spec.Default)
			}
			if len(spec.Choices) > 0 {
				line += " [" + strings.Join(spec.Choices, "|") + "]"
			}
			fmt.Fprintln(w, line)
		}
		fmt.Fprintln(w)
	}
}

type historyFlags struct {
	limit int
	days  int
}

func newHistoryCmd(root *rootFlags) *cobra.Command {
	flags := &historyFlags{}
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded runs and daily activity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, _, err := loadConfig(root)
			if err != nil {
				return err
			}
			store, err := history.Open(cmd.Context(), cfg.History.Path)
			if err != nil {
				return err
			}
			defer store.Close()
			return printHistory(cmd, store, flags, time.Now())
		},
	}
	cmd.Flags().IntVar(&flags.limit, "limit", 10, "number of recent runs to list")
	cmd.Flags().IntVar(&flags.days, "days", 7, "days of activity to summarise")
	return cmd
}

func printHistory(cmd *cobra.Command, store *history.Store, flags *historyFlags, now time.Time) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	runs, err := store.ListRuns(ctx, flags.limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs recorded.")
		return nil
	}
	fmt.Fprintln(out, "== RUNS ==")
	fmt.Fprintf(out, "  %-26s %-20s %-16s %5s %5s %5s  %s\n", "ID", "PLAN", "STARTED", "OK", "FAIL", "LEFT", "NOTE")
	for _, r := range runs {
		note := ""
		switch {
		case r.Incomplete:
			note = "incomplete"
		case r.Stopped:
			note = "stopped"
		}
		fmt.Fprintf(out, "  %-26s %-20s %-16s %5d %5d %5d  %s\n",
			r.ID, r.Plan, r.StartedAt.Local().Format("2006-01-02 15:04"), r.Succeeded, r.Failed, r.Remaining, note)
	}

	days, err := store.DailyActivity(ctx, flags.days, now)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "\n== LAST %d DAYS ==\n", len(days))
	fmt.Fprintf(out, "  %-10s %7s %9s %6s %10s\n", "DAY", "VISITS", "COMMENTS", "LIKES", "COMPLETED")
	for _, d := range days {
		fmt.Fprintf(out, "  %-10s %7d %9d %6d %10d\n", d.Day, d.Visits, d.Comments, d.Likes, d.Completed)
	}

	reasons, err := store.FailureReasons(ctx, now.AddDate(0, 0, -flags.days))
	if err != nil {
		return err
	}
	if len(reasons) > 0 {
		fmt.Fprintln(out, "\n== FAILURE REASONS ==")
		for _, r := range sortedReasons(reasons) {
			fmt.Fprintf(out, "  %4d  %s\n", reasons[r], r)
		}
	}
	return nil
}

// sortedReasons orders reasons by count, most frequent first.
func sortedReasons(m map[string]int) []string {
	out := make([]string, 0, len(m))
	for r := range m {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if m[out[i]] != m[out[j]] {
			return m[out[i]] > m[out[j]]
		}
		return out[i] < out[j]
	})
	return out
}

func newSecretCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage encrypted profile passwords",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "encrypt",
		Short: "Encrypt a password read from stdin",
		Long: `Read a password from stdin and print a token to store as a profile
password. The key comes from ` + secrets.EnvKey + `.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := secrets.FromEnv()
			if err != nil {
				return fmt.Errorf("%w: set %s", err, secrets.EnvKey)
			}
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && err != io.EOF {
				return fmt.Errorf("read password: %w", err)
			}
			password := strings.TrimRight(line, "\r\n")
			if password == "" {
				return fmt.Errorf("empty password")
			}
			token, err := store.Encrypt(password)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	})
	return cmd
}
