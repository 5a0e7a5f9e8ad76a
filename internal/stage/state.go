package stage

import (
	"fmt"
	"slices"

	"poseflow/internal/pipeline"
)

// State is the lifecycle position of one stage invocation.
type State string

const (
	StatePending      State = "pending"
	StateDispatched   State = "dispatched"
	StateCollecting   State = "collecting"
	StateMerged       State = "merged"
	StateCheckpointed State = "checkpointed"
	StateFailed       State = "failed"
)

// transitions lists the allowed successors of each state. Pending may skip
// to Collecting when saved results are reused, and Merged is final when
// checkpointing is disabled.
var transitions = map[State][]State{
	StatePending:    {StateDispatched, StateCollecting, StateFailed},
	StateDispatched: {StateCollecting, StateFailed},
	StateCollecting: {StateMerged, StateFailed},
	StateMerged:     {StateCheckpointed, StateFailed},
}

// CanTransition reports whether next may follow s.
func (s State) CanTransition(next State) bool {
	return slices.Contains(transitions[s], next)
}

// Terminal reports whether the state ends an invocation.
func (s State) Terminal() bool {
	return s == StateCheckpointed || s == StateFailed
}

// Succeeded reports whether the invocation merged its results.
func (s State) Succeeded() bool {
	return s == StateMerged || s == StateCheckpointed
}

func (s State) advance(next State) (State, error) {
	if !s.CanTransition(next) {
		return s, pipeline.Wrap(pipeline.ErrBookkeeping, "", "stage state", fmt.Sprintf("illegal transition %s -> %s", s, next), nil)
	}
	return next, nil
}
