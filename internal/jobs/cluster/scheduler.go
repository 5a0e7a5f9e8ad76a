package cluster

import (
	"context"
	"strings"

	"poseflow/internal/jobs"
)

// ArrayJob is one scheduler submission covering a batch.
type ArrayJob struct {
	Name string
	// Dir holds the generated script and per-task logs.
	Dir         string
	Units       []jobs.Unit
	MaxParallel int
}

// TaskLog is the scheduler log of one array task.
func (a ArrayJob) TaskLog(index int) string {
	return taskLogPath(a.Dir, a.Name, index)
}

// TaskState is the scheduler's view of one array task.
type TaskState struct {
	State    string
	ExitCode int
}

// Phase classifies a scheduler state string.
type Phase int

const (
	PhasePending Phase = iota
	PhaseRunning
	PhaseSucceeded
	PhaseFailed
)

// Terminal reports whether the task will not change again.
func (p Phase) Terminal() bool { return p == PhaseSucceeded || p == PhaseFailed }

// Phase maps the scheduler state onto the task lifecycle. States that are
// neither queued, running, nor completed are terminal failures.
func (t TaskState) Phase() Phase {
	state := strings.ToUpper(strings.TrimSpace(t.State))
	if fields := strings.Fields(state); len(fields) > 0 {
		state = strings.TrimSuffix(fields[0], "+")
	}
	switch state {
	case "", "PENDING", "REQUEUED", "SUSPENDED", "RESIZING", "REQUEUE_HOLD", "REQUEUE_FED":
		return PhasePending
	case "RUNNING", "CONFIGURING", "COMPLETING", "STAGE_OUT", "SIGNALING":
		return PhaseRunning
	case "COMPLETED":
		return PhaseSucceeded
	}
	return PhaseFailed
}

// Scheduler submits, queries, and cancels array jobs.
type Scheduler interface {
	Name() string
	SubmitArray(ctx context.Context, job ArrayJob) (string, error)
	// Query returns known task states keyed by array index. Tasks the
	// scheduler does not list yet are absent.
	Query(ctx context.Context, jobID string) (map[int]TaskState, error)
	Cancel(ctx context.Context, jobID string) error
}
