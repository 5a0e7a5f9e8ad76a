package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"poseflow/internal/jobs"
)

// tailLimit bounds the output kept for failure diagnostics.
const tailLimit = 4096

// Execution is the observable outcome of running one unit.
type Execution struct {
	ExitCode int
	// Tail is the last few KB of combined output.
	Tail string
}

// Executor runs a single unit. A returned error means the process could not
// be started or was cancelled; non-zero exits are reported in Execution.
type Executor interface {
	Run(ctx context.Context, unit jobs.Unit) (Execution, error)
}

// ProcessExecutor runs units as child processes in their own process group
// so cancellation reaches every descendant.
type ProcessExecutor struct {
	// WaitDelay bounds how long output pipes may outlive a killed process.
	WaitDelay time.Duration
}

func (e ProcessExecutor) Run(ctx context.Context, unit jobs.Unit) (Execution, error) {
	argv := unit.Argv()
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...) //nolint:gosec
	cmd.Dir = unit.Dir
	if len(unit.Env) > 0 {
		cmd.Env = append(os.Environ(), unit.Env...)
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	}
	cmd.WaitDelay = e.WaitDelay
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = 5 * time.Second
	}

	tail := &tailBuffer{limit: tailLimit}
	var out io.Writer = tail
	if unit.LogPath != "" {
		if err := os.MkdirAll(filepath.Dir(unit.LogPath), 0o755); err != nil {
			return Execution{ExitCode: -1}, fmt.Errorf("create log directory: %w", err)
		}
		logFile, err := os.OpenFile(unit.LogPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return Execution{ExitCode: -1}, fmt.Errorf("open unit log: %w", err)
		}
		defer logFile.Close()
		out = io.MultiWriter(logFile, tail)
	}
	cmd.Stdout = out
	cmd.Stderr = out

	err := cmd.Run()
	execution := Execution{Tail: tail.String()}
	if err == nil {
		return execution, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		execution.ExitCode = -1
		return execution, fmt.Errorf("execution cancelled: %w", ctxErr)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		execution.ExitCode = exitErr.ExitCode()
		return execution, nil
	}
	execution.ExitCode = -1
	return execution, fmt.Errorf("start %s: %w", argv[0], err)
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
