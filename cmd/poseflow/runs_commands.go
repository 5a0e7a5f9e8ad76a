package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"poseflow/internal/ledger"
)

func newRunsCommand(ctx *commandContext) *cobra.Command {
	var (
		limit      int
		jsonOutput bool
	)

	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded stage runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withLedger(func(store *ledger.Store) error {
				runs, err := store.Runs(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd.OutOrStdout(), runs)
				}
				out := cmd.OutOrStdout()
				if len(runs) == 0 {
					fmt.Fprintln(out, "No stage runs recorded")
					return nil
				}
				rows := make([][]string, 0, len(runs))
				for _, run := range runs {
					rows = append(rows, []string{
						run.ID,
						run.Stage,
						run.Backend,
						string(run.State),
						fmt.Sprintf("%d", run.Units),
						fmt.Sprintf("%d", run.Failed),
						run.StartedAt.Local().Format("2006-01-02 15:04:05"),
						run.Duration().Round(time.Second).String(),
					})
				}
				newReport(out).table([]column{
					{title: "Run"}, {title: "Stage"}, {title: "Backend"}, {title: "State"},
					{title: "Units", numeric: true}, {title: "Failed", numeric: true},
					{title: "Started"}, {title: "Duration", numeric: true},
				}, rows)
				return nil
			})
		},
	}
	runsCmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs to list")
	runsCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output runs as JSON")

	runsCmd.AddCommand(newRunsShowCommand(ctx))
	runsCmd.AddCommand(newRunsPruneCommand(ctx))
	return runsCmd
}

func newRunsShowCommand(ctx *commandContext) *cobra.Command {
	var (
		failedOnly bool
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run and its unit outcomes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withLedger(func(store *ledger.Store) error {
				run, err := store.Run(cmd.Context(), args[0])
				if err != nil {
					if errors.Is(err, ledger.ErrRunNotFound) {
						return fmt.Errorf("run %s not found", args[0])
					}
					return err
				}
				results, err := store.UnitResults(cmd.Context(), run.ID, failedOnly)
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd.OutOrStdout(), struct {
						Run     ledger.Run          `json:"run"`
						Results []ledger.UnitResult `json:"results"`
					}{run, results})
				}

				r := newReport(cmd.OutOrStdout())
				r.section("Run " + run.ID)
				r.fieldf("Stage", toneInfo, "%s (prefix %s)", run.Stage, run.Prefix)
				r.field("State", runTone(run), string(run.State))
				if run.Detail != "" {
					r.field("Detail", toneInfo, run.Detail)
				}
				r.fieldf("Units", toneInfo, "%d (%d failed)", run.Units, run.Failed)
				r.field("Duration", toneInfo, run.Duration().Round(time.Millisecond).String())

				if len(results) == 0 {
					return nil
				}
				fmt.Fprintln(r.out)
				rows := make([][]string, 0, len(results))
				for _, res := range results {
					rows = append(rows, []string{res.Identity, res.Batch, res.Status, fmt.Sprintf("%d", res.ExitCode), lastLine(res.Diagnostic)})
				}
				r.table([]column{
					{title: "Identity"}, {title: "Batch"}, {title: "Status"},
					{title: "Exit", numeric: true}, {title: "Diagnostic"},
				}, rows)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&failedOnly, "failed", false, "Only list failed units")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newRunsPruneCommand(ctx *commandContext) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete runs started before a cutoff",
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return errors.New("--older-than must be positive")
			}
			return ctx.withLedger(func(store *ledger.Store) error {
				removed, err := store.Prune(cmd.Context(), time.Now().Add(-olderThan))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d runs\n", removed)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "Remove runs started longer ago than this")
	return cmd
}

func runTone(run ledger.Run) tone {
	switch {
	case run.State.Terminal() && !run.State.Succeeded():
		return toneError
	case run.Failed > 0:
		return toneWarn
	case run.State.Succeeded():
		return toneOK
	default:
		return toneInfo
	}
}

func (c *commandContext) withLedger(fn func(*ledger.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, err := ledger.Open(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}
