package preflight

import (
	"context"

	"poseflow/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
// Scheduler checks run only when the backend needs scheduler tools.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Work directory", cfg.Paths.WorkDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
	}
	if len(cfg.SchedulerBinaries()) > 0 {
		results = append(results, CheckSchedulerBinaries(cfg)...)
		results = append(results, CheckSchedulerResponds(ctx, cfg.Cluster.SacctBinary))
	}
	return results
}

// Passed reports whether every result passed.
func Passed(results []Result) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}
