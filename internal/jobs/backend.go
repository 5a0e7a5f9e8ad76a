package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"poseflow/internal/pipeline"
)

// Status describes the lifecycle of a submitted batch.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the batch will not change state again.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Handle identifies a submitted batch within the backend that accepted it.
type Handle string

// WaitOptions bounds a Wait call.
type WaitOptions struct {
	// Timeout of zero waits until the batch is terminal or ctx is done.
	Timeout time.Duration
	// CancelOnTimeout cancels the batch when the timeout elapses.
	CancelOnTimeout bool
}

// Outcome is returned by Wait.
type Outcome struct {
	Status   Status
	TimedOut bool
}

var (
	// ErrNotTerminal is returned by Collect before the batch finished.
	ErrNotTerminal = errors.New("batch is not terminal")
	// ErrUnknownHandle is returned for handles the backend never issued.
	ErrUnknownHandle = fmt.Errorf("%w: unknown batch handle", pipeline.ErrBookkeeping)
	// ErrMalformedUnit is returned for units that cannot be dispatched.
	ErrMalformedUnit = fmt.Errorf("%w: malformed job unit", pipeline.ErrConfiguration)
)

// Backend executes batches of job units. Implementations are safe for
// concurrent use; Poll and Wait may be repeated on the same handle.
type Backend interface {
	Name() string
	// Capacity is the number of batches worth keeping outstanding at once.
	Capacity() int
	Submit(ctx context.Context, batch Batch) (Handle, error)
	Poll(ctx context.Context, handle Handle) (Status, error)
	Wait(ctx context.Context, handle Handle, opts WaitOptions) (Outcome, error)
	// Collect returns one Result per unit in submission order.
	Collect(ctx context.Context, handle Handle) ([]Result, error)
	Cancel(ctx context.Context, handle Handle) error
}

// AwaitDone blocks until done is closed, the timeout elapses, or ctx is
// cancelled. It reports whether the timeout fired.
func AwaitDone(ctx context.Context, done <-chan struct{}, timeout time.Duration) (bool, error) {
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}
	select {
	case <-done:
		return false, nil
	case <-timer:
		return true, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}
