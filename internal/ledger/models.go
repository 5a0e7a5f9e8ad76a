package ledger

import (
	"time"

	"poseflow/internal/stage"
)

// Run is one recorded stage invocation.
type Run struct {
	ID         string      `json:"id"`
	Stage      string      `json:"stage"`
	Prefix     string      `json:"prefix"`
	Backend    string      `json:"backend"`
	Units      int         `json:"units"`
	State      stage.State `json:"state"`
	Detail     string      `json:"detail,omitempty"`
	StartedAt  time.Time   `json:"started_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
	// Failed counts unit results with failure status.
	Failed int `json:"failed"`
}

// Duration is the time from start to finish, or to the last update for runs
// that never finished.
func (r Run) Duration() time.Duration {
	end := r.UpdatedAt
	if r.FinishedAt != nil {
		end = *r.FinishedAt
	}
	if end.Before(r.StartedAt) {
		return 0
	}
	return end.Sub(r.StartedAt)
}

// UnitResult is the recorded outcome of one unit.
type UnitResult struct {
	RunID         string    `json:"run_id"`
	Batch         string    `json:"batch"`
	Identity      string    `json:"identity"`
	Status        string    `json:"status"`
	ExitCode      int       `json:"exit_code"`
	Diagnostic    string    `json:"diagnostic,omitempty"`
	PrimaryOutput string    `json:"primary_output,omitempty"`
	RecordedAt    time.Time `json:"recorded_at"`
}

// Succeeded reports whether the unit produced usable output.
func (u UnitResult) Succeeded() bool { return u.Status == "success" }
