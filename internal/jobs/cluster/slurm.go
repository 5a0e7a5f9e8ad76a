package cluster

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"poseflow/internal/jobs"
	"poseflow/internal/textutil"
)

// Executor abstracts scheduler command execution for testability.
type Executor interface {
	Output(ctx context.Context, binary string, args []string) ([]byte, error)
}

type commandExecutor struct{}

func (commandExecutor) Output(ctx context.Context, binary string, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return out, fmt.Errorf("%s: %w: %s", binary, err, msg)
		}
		return out, fmt.Errorf("%s: %w", binary, err)
	}
	return out, nil
}

// SlurmOptions configures the Slurm scheduler.
type SlurmOptions struct {
	SbatchBinary  string
	SacctBinary   string
	ScancelBinary string
	Partition     string
	ExtraArgs     []string
	Executor      Executor
}

// Slurm drives sbatch, sacct, and scancel.
type Slurm struct {
	sbatch    string
	sacct     string
	scancel   string
	partition string
	extra     []string
	exec      Executor
}

// NewSlurm constructs a Slurm scheduler with default binary names where unset.
func NewSlurm(opts SlurmOptions) *Slurm {
	s := &Slurm{
		sbatch:    firstNonEmpty(opts.SbatchBinary, "sbatch"),
		sacct:     firstNonEmpty(opts.SacctBinary, "sacct"),
		scancel:   firstNonEmpty(opts.ScancelBinary, "scancel"),
		partition: strings.TrimSpace(opts.Partition),
		extra:     append([]string(nil), opts.ExtraArgs...),
		exec:      opts.Executor,
	}
	if s.exec == nil {
		s.exec = commandExecutor{}
	}
	return s
}

func (s *Slurm) Name() string { return "slurm" }

// SubmitArray writes the array script and submits it with sbatch --parsable.
func (s *Slurm) SubmitArray(ctx context.Context, job ArrayJob) (string, error) {
	if len(job.Units) == 0 {
		return "", errors.New("array job has no units")
	}
	if err := os.MkdirAll(job.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create batch directory: %w", err)
	}
	name := textutil.SanitizeToken(job.Name)
	scriptPath := filepath.Join(job.Dir, name+".sh")
	if err := os.WriteFile(scriptPath, []byte(renderScript(job.Units)), 0o755); err != nil {
		return "", fmt.Errorf("write array script: %w", err)
	}

	array := fmt.Sprintf("--array=0-%d", len(job.Units)-1)
	if job.MaxParallel > 0 {
		array += "%" + strconv.Itoa(job.MaxParallel)
	}
	args := []string{
		"--parsable",
		array,
		"--job-name=" + name,
		"--output=" + filepath.Join(job.Dir, name+"_%a.log"),
	}
	if s.partition != "" {
		args = append(args, "--partition="+s.partition)
	}
	args = append(args, s.extra...)
	args = append(args, scriptPath)

	out, err := s.exec.Output(ctx, s.sbatch, args)
	if err != nil {
		return "", fmt.Errorf("sbatch: %w", err)
	}
	jobID, _, _ := strings.Cut(strings.TrimSpace(string(out)), ";")
	if jobID == "" {
		return "", fmt.Errorf("sbatch returned no job id")
	}
	return jobID, nil
}

// renderScript builds a POSIX sh script dispatching on SLURM_ARRAY_TASK_ID.
func renderScript(units []jobs.Unit) string {
	var b strings.Builder
	b.WriteString("#!/bin/sh\n")
	b.WriteString("case \"$SLURM_ARRAY_TASK_ID\" in\n")
	for i, unit := range units {
		fmt.Fprintf(&b, "%d)\n", i)
		if unit.Dir != "" {
			fmt.Fprintf(&b, "  cd %s || exit 1\n", textutil.ShellQuote(unit.Dir))
		}
		for _, kv := range unit.Env {
			name, value, ok := strings.Cut(kv, "=")
			if !ok || name == "" {
				continue
			}
			fmt.Fprintf(&b, "  export %s=%s\n", name, textutil.ShellQuote(value))
		}
		line := textutil.ShellJoin(unit.Argv())
		if unit.LogPath != "" {
			line += " > " + textutil.ShellQuote(unit.LogPath) + " 2>&1"
		}
		fmt.Fprintf(&b, "  %s\n  ;;\n", line)
	}
	b.WriteString("*)\n  echo \"unknown array index $SLURM_ARRAY_TASK_ID\" >&2\n  exit 2\n  ;;\nesac\n")
	return b.String()
}

// Query runs sacct and parses per-task states. Job steps are ignored and
// bracketed pending ranges are expanded.
func (s *Slurm) Query(ctx context.Context, jobID string) (map[int]TaskState, error) {
	args := []string{"-j", jobID, "--noheader", "--parsable2", "--format=JobID,State,ExitCode"}
	out, err := s.exec.Output(ctx, s.sacct, args)
	if err != nil {
		return nil, fmt.Errorf("sacct: %w", err)
	}
	return parseSacct(jobID, string(out))
}

func parseSacct(jobID, output string) (map[int]TaskState, error) {
	states := make(map[int]TaskState)
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Split(line, "|")
		if len(fields) < 3 {
			return nil, fmt.Errorf("sacct: malformed line %q", line)
		}
		id := fields[0]
		if strings.Contains(id, ".") {
			continue
		}
		rest, ok := strings.CutPrefix(id, jobID+"_")
		if !ok {
			continue
		}
		indices, err := parseIndices(rest)
		if err != nil {
			return nil, fmt.Errorf("sacct: %w", err)
		}
		state := TaskState{State: fields[1], ExitCode: parseExitCode(fields[2])}
		for _, idx := range indices {
			states[idx] = state
		}
	}
	return states, nil
}

// parseIndices handles "3", "[0-4]", "[1,3-5%2]".
func parseIndices(list string) ([]int, error) {
	list = strings.TrimSuffix(strings.TrimPrefix(list, "["), "]")
	list, _, _ = strings.Cut(list, "%")
	var out []int
	for _, part := range strings.Split(list, ",") {
		if part == "" {
			continue
		}
		lo, hi, isRange := strings.Cut(part, "-")
		start, err := strconv.Atoi(lo)
		if err != nil {
			return nil, fmt.Errorf("bad array index %q", part)
		}
		end := start
		if isRange {
			if end, err = strconv.Atoi(hi); err != nil {
				return nil, fmt.Errorf("bad array index %q", part)
			}
		}
		for i := start; i <= end; i++ {
			out = append(out, i)
		}
	}
	return out, nil
}

// parseExitCode reads "code:signal". A signal without a code reports 128+signal.
func parseExitCode(value string) int {
	code, signal, _ := strings.Cut(strings.TrimSpace(value), ":")
	c, _ := strconv.Atoi(code)
	if c == 0 {
		if sig, _ := strconv.Atoi(signal); sig > 0 {
			return 128 + sig
		}
	}
	return c
}

// Cancel runs scancel.
func (s *Slurm) Cancel(ctx context.Context, jobID string) error {
	if _, err := s.exec.Output(ctx, s.scancel, []string{jobID}); err != nil {
		return fmt.Errorf("scancel: %w", err)
	}
	return nil
}

func taskLogPath(dir, name string, index int) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%d.log", textutil.SanitizeToken(name), index))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
