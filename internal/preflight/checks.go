package preflight

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"poseflow/internal/config"
	"poseflow/internal/deps"
)

const schedulerCheckTimeout = 10 * time.Second

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckSchedulerBinaries reports whether the configured SLURM client tools
// are on PATH.
func CheckSchedulerBinaries(cfg *config.Config) []Result {
	requirements := []deps.Requirement{
		{Name: "sbatch", Command: cfg.Cluster.SbatchBinary, Description: "Submits array jobs"},
		{Name: "sacct", Command: cfg.Cluster.SacctBinary, Description: "Polls task states"},
		{Name: "scancel", Command: cfg.Cluster.ScancelBinary, Description: "Cancels array jobs"},
	}
	statuses := deps.CheckBinaries(requirements)
	results := make([]Result, 0, len(statuses))
	for _, status := range statuses {
		result := Result{Name: status.Name, Passed: status.Available, Detail: status.Detail}
		if status.Available {
			result.Detail = status.Path
		}
		results = append(results, result)
	}
	return results
}

// CheckSchedulerResponds runs "<binary> --version" to confirm the scheduler
// client starts and exits cleanly.
func CheckSchedulerResponds(ctx context.Context, binary string) Result {
	const name = "Scheduler client"
	if strings.TrimSpace(binary) == "" {
		return Result{Name: name, Detail: "command not configured"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, schedulerCheckTimeout)
	defer cancel()

	out, err := exec.CommandContext(checkCtx, binary, "--version").CombinedOutput()
	detail := strings.TrimSpace(string(out))
	if err != nil {
		if detail == "" {
			detail = err.Error()
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s --version failed: %s", binary, detail)}
	}
	if detail == "" {
		detail = "responding"
	}
	return Result{Name: name, Passed: true, Detail: detail}
}
