package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"poseflow/internal/jobs"
	"poseflow/internal/poses"
	"poseflow/internal/stage"
	"poseflow/internal/textutil"
	"poseflow/internal/workflow"
)

type runSummary struct {
	RunID      string          `json:"run_id"`
	Stage      string          `json:"stage"`
	Backend    string          `json:"backend"`
	State      string          `json:"state"`
	Batches    int             `json:"batches"`
	Merged     int             `json:"merged"`
	Failed     []stage.Failure `json:"failed,omitempty"`
	Pending    []string        `json:"pending,omitempty"`
	Dropped    int             `json:"dropped,omitempty"`
	Checkpoint string          `json:"checkpoint,omitempty"`
	Reused     bool            `json:"reused"`
	Output     string          `json:"output"`
	DurationMS int64           `json:"duration_ms"`
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	var (
		format          string
		outPath         string
		outFormat       string
		name            string
		prefix          string
		command         string
		outputs         []string
		scoreFile       string
		logs            bool
		bundle          int
		batchSize       int
		batchCount      int
		timeout         time.Duration
		cancelOnTimeout bool
		mergePolicy     string
		updatePaths     bool
		reuse           bool
		dropFailed      bool
		strict          bool
		jsonOutput      bool
	)

	cmd := &cobra.Command{
		Use:   "run <table>",
		Short: "Run one stage over every pose in a table",
		Long: "Run builds one job unit per pose from --command, dispatches the units on the\n" +
			"configured backend, merges <prefix>_* scores into the table and writes it back.\n\n" +
			"Placeholders: {identity} {path} {origin} {dir} {output}. Values are shell quoted\n" +
			"in --command and used verbatim in --output and --score-file.\n\n" +
			"With --bundle N one command processes N poses. It receives a JSON manifest of\n" +
			"those poses through {manifest} and may also use {dir} and {bundle}; --output and\n" +
			"--score-file are still expanded per pose.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.logger(cmd)
			if err != nil {
				return err
			}
			if batchSize > 0 && batchCount > 0 {
				return errors.New("--batch-size and --batch-count are mutually exclusive")
			}
			if bundle < 0 {
				return errors.New("--bundle must not be negative")
			}
			policy, err := poses.ParseConflictPolicy(mergePolicy)
			if err != nil {
				return err
			}

			input := args[0]
			target := strings.TrimSpace(outPath)
			if target == "" {
				target = input
				if outFormat == "" {
					outFormat = format
				}
			}

			store, err := loadTable(input, format)
			if err != nil {
				return err
			}

			pipe, err := workflow.Open(cfg, store, workflow.WithLogger(logger))
			if err != nil {
				return err
			}
			defer pipe.Close()

			tmpl := stage.Template{
				Command:   command,
				Outputs:   outputs,
				ScoreFile: scoreFile,
				Logs:      logs,
			}
			def := stage.Definition{
				Name:        name,
				Prefix:      prefix,
				Chunking:    jobs.ChunkPolicy{Size: batchSize, Count: batchCount},
				Merge:       policy,
				Wait:        jobs.WaitOptions{Timeout: timeout, CancelOnTimeout: cancelOnTimeout},
				UpdatePaths: updatePaths,
				Reuse:       reuse,
			}
			if bundle > 0 {
				def.BuildBundle = tmpl.BuildBundle
				def.BundleSize = bundle
			} else {
				def.Build = tmpl.Build
			}

			report, runErr := pipe.RunStage(cmd.Context(), def)
			if report == nil {
				return runErr
			}

			summary := summarizeReport(report, target)
			if runErr == nil {
				if dropFailed {
					summary.Dropped = pipe.DropFailed(report)
				}
				if err := saveTable(pipe.Store(), target, outFormat); err != nil {
					return err
				}
			}

			if jsonOutput {
				if err := writeJSON(cmd.OutOrStdout(), summary); err != nil {
					return err
				}
			} else {
				printRunSummary(newReport(cmd.OutOrStdout()), summary, runErr == nil)
			}

			if runErr != nil {
				return runErr
			}
			if strict && !report.Clean() {
				return fmt.Errorf("stage %s: %d failed, %d pending", report.Stage, len(report.Failed), len(report.Pending))
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&format, "format", "", "Input table format (default: from the file extension)")
	flags.StringVarP(&outPath, "out", "o", "", "Table to write (default: overwrite the input)")
	flags.StringVar(&outFormat, "out-format", "", "Output table format (default: from the output extension)")
	flags.StringVar(&name, "name", "", "Stage name for logs and the ledger (default: the prefix)")
	flags.StringVarP(&prefix, "prefix", "p", "", "Stage prefix for the work directory and score columns")
	flags.StringVar(&command, "command", "", "Shell command template run once per pose")
	flags.StringSliceVar(&outputs, "output", nil, "Expected output path template (repeatable; first is the primary output)")
	flags.StringVar(&scoreFile, "score-file", "", "JSON score file path template")
	flags.BoolVar(&logs, "logs", true, "Write unit output to <work_dir>/<prefix>/logs")
	flags.IntVar(&bundle, "bundle", 0, "Poses processed by one command invocation (default: one per pose)")
	flags.IntVar(&batchSize, "batch-size", 0, "Units per batch (default: jobs.batch_size)")
	flags.IntVar(&batchCount, "batch-count", 0, "Number of batches (default: jobs.batch_count)")
	flags.DurationVar(&timeout, "timeout", 0, "Stage wait timeout (default: jobs.wait_timeout_seconds)")
	flags.BoolVar(&cancelOnTimeout, "cancel-on-timeout", false, "Cancel batches still running when the timeout elapses")
	flags.StringVar(&mergePolicy, "merge", "error", "Existing score columns: error, replace, or skip")
	flags.BoolVar(&updatePaths, "update-paths", false, "Point current_path at each pose's primary output")
	flags.BoolVar(&reuse, "reuse", false, "Merge saved results of a previous run instead of dispatching")
	flags.BoolVar(&dropFailed, "drop-failed", false, "Remove failed poses from the written table")
	flags.BoolVar(&strict, "strict", false, "Exit non-zero when any pose failed or is pending")
	flags.BoolVar(&jsonOutput, "json", false, "Output the stage report as JSON")
	_ = cmd.MarkFlagRequired("prefix")
	_ = cmd.MarkFlagRequired("command")
	return cmd
}

func summarizeReport(report *stage.Report, output string) runSummary {
	return runSummary{
		RunID:      report.RunID,
		Stage:      report.Stage,
		Backend:    report.Backend,
		State:      string(report.State),
		Batches:    report.Batches,
		Merged:     report.Merged,
		Failed:     report.Failed,
		Pending:    report.Pending,
		Checkpoint: report.Checkpoint,
		Reused:     report.Reused,
		Output:     output,
		DurationMS: report.Duration.Milliseconds(),
	}
}

func printRunSummary(r *report, s runSummary, saved bool) {
	r.section("Stage " + textutil.Label(s.Stage))

	state := toneOK
	switch {
	case s.State == string(stage.StateFailed):
		state = toneError
	case len(s.Failed) > 0 || len(s.Pending) > 0:
		state = toneWarn
	}
	r.field("State", state, s.State)
	r.field("Run", toneInfo, s.RunID)
	r.field("Backend", toneInfo, s.Backend)
	r.fieldf("Batches", toneInfo, "%d (reused: %s)", s.Batches, yesNo(s.Reused))
	r.fieldf("Merged", toneOK, "%d", s.Merged)
	if len(s.Failed) > 0 {
		r.fieldf("Failed", toneWarn, "%d", len(s.Failed))
	}
	if len(s.Pending) > 0 {
		r.field("Pending", toneWarn, strings.Join(s.Pending, ", "))
	}
	if s.Dropped > 0 {
		r.fieldf("Dropped", toneInfo, "%d", s.Dropped)
	}
	if s.Checkpoint != "" {
		r.field("Checkpoint", toneInfo, s.Checkpoint)
	}
	if saved {
		r.field("Table", toneInfo, s.Output)
	}
	elapsed := time.Duration(s.DurationMS) * time.Millisecond
	r.field("Duration", toneInfo, elapsed.String())

	if len(s.Failed) == 0 {
		return
	}
	rows := make([][]string, 0, len(s.Failed))
	for _, f := range s.Failed {
		rows = append(rows, []string{f.Identity, f.Batch, fmt.Sprintf("%d", f.ExitCode), lastLine(f.Diagnostic)})
	}
	fmt.Fprintln(r.out)
	r.table([]column{{title: "Identity"}, {title: "Batch"}, {title: "Exit", numeric: true}, {title: "Diagnostic"}}, rows)
}

// lastLine returns the final non-empty line of a diagnostic tail.
func lastLine(text string) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
