package stage

import (
	"time"

	"poseflow/internal/poses"
)

// Failure is one identity whose unit did not produce usable output.
type Failure struct {
	Identity   string `json:"identity"`
	Batch      string `json:"batch"`
	Diagnostic string `json:"diagnostic"`
	ExitCode   int    `json:"exit_code"`
}

// Report describes a finished stage invocation.
type Report struct {
	RunID   string
	Stage   string
	Backend string
	State   State
	Store   *poses.Store
	// Failed and Pending follow store order.
	Failed     []Failure
	Pending    []string
	Merged     int
	Batches    int
	Checkpoint string
	Reused     bool
	Duration   time.Duration
}

// FailedIdentities lists the identities in Failed.
func (r *Report) FailedIdentities() []string {
	ids := make([]string, len(r.Failed))
	for i, f := range r.Failed {
		ids[i] = f.Identity
	}
	return ids
}

// Clean reports whether every identity was merged successfully.
func (r *Report) Clean() bool {
	return r.State.Succeeded() && len(r.Failed) == 0 && len(r.Pending) == 0
}
