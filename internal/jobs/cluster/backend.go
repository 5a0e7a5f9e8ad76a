package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"poseflow/internal/jobs"
	"poseflow/internal/logging"
	"poseflow/internal/pipeline"
	"poseflow/internal/textutil"
)

// Name is the backend name used in config and logs.
const Name = "slurm"

const (
	defaultPollInterval = 10 * time.Second
	maxRetryBackoff     = time.Minute
	diagnosticTail      = 4096
)

// Options configures a Backend.
type Options struct {
	Scheduler    Scheduler
	PollInterval time.Duration
	// Retries bounds consecutive failed scheduler calls before giving up.
	Retries      int
	RetryBackoff time.Duration
	// MaxParallel caps running tasks of one array job (zero is unlimited).
	MaxParallel int
	// Capacity is the number of array jobs worth keeping outstanding.
	Capacity int
	// BatchDir receives one directory of scripts and task logs per batch.
	BatchDir string
	Logger   *slog.Logger
}

// Backend submits batches as scheduler array jobs.
type Backend struct {
	sched        Scheduler
	pollInterval time.Duration
	retries      int
	backoff      time.Duration
	maxParallel  int
	capacity     int
	batchDir     string
	logger       *slog.Logger
	runs         *jobs.Registry[*arrayRun]
}

type arrayRun struct {
	job    ArrayJob
	jobID  string
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	status  jobs.Status
	tasks   map[int]TaskState
	failure string
	results []jobs.Result
}

// New constructs a cluster backend.
func New(opts Options) (*Backend, error) {
	if opts.Scheduler == nil {
		return nil, pipeline.Wrap(pipeline.ErrConfiguration, "", "cluster backend", "scheduler required", nil)
	}
	if opts.BatchDir == "" {
		return nil, pipeline.Wrap(pipeline.ErrConfiguration, "", "cluster backend", "batch directory required", nil)
	}
	b := &Backend{
		sched:        opts.Scheduler,
		pollInterval: opts.PollInterval,
		retries:      max(opts.Retries, 0),
		backoff:      opts.RetryBackoff,
		maxParallel:  opts.MaxParallel,
		capacity:     max(opts.Capacity, 1),
		batchDir:     opts.BatchDir,
		logger:       logging.NewComponentLogger(opts.Logger, "cluster"),
		runs:         jobs.NewRegistry[*arrayRun](),
	}
	if b.pollInterval <= 0 {
		b.pollInterval = defaultPollInterval
	}
	return b, nil
}

func (b *Backend) Name() string { return b.sched.Name() }

func (b *Backend) Capacity() int { return b.capacity }

// Submit writes and submits the array job, then starts polling it.
func (b *Backend) Submit(ctx context.Context, batch jobs.Batch) (jobs.Handle, error) {
	for _, unit := range batch.Units {
		if err := unit.Validate(); err != nil {
			return "", err
		}
	}
	if len(batch.Units) == 0 {
		return "", fmt.Errorf("%w: batch %s has no units", jobs.ErrMalformedUnit, batch.Name)
	}
	name := textutil.SanitizeToken(batch.Name)
	job := ArrayJob{
		Name:        name,
		Dir:         filepath.Join(b.batchDir, name+"-"+uuid.NewString()[:8]),
		Units:       append([]jobs.Unit(nil), batch.Units...),
		MaxParallel: b.maxParallel,
	}

	var jobID string
	err := b.retry(ctx, func() error {
		var submitErr error
		jobID, submitErr = b.sched.SubmitArray(ctx, job)
		return submitErr
	})
	if err != nil {
		return "", pipeline.Wrap(pipeline.ErrTransient, batch.Name, "submit", "array job submission failed", err)
	}

	pollCtx, cancel := context.WithCancel(context.WithoutCancel(pipeline.WithBatch(ctx, batch.Name)))
	run := &arrayRun{
		job:    job,
		jobID:  jobID,
		cancel: cancel,
		done:   make(chan struct{}),
		status: jobs.StatusPending,
		tasks:  make(map[int]TaskState),
	}
	handle := b.runs.Add(run)
	logging.WithContext(pollCtx, b.logger).Info("array job submitted",
		logging.String(logging.FieldEventType, "batch_submitted"),
		logging.String("job_id", jobID),
		logging.Int("units", len(job.Units)),
		logging.String("dir", job.Dir),
	)
	go b.monitor(pollCtx, run)
	return handle, nil
}

// monitor polls until every task is terminal, retries are exhausted, or the
// run is cancelled.
func (b *Backend) monitor(ctx context.Context, run *arrayRun) {
	defer close(run.done)
	defer run.cancel()
	logger := logging.WithContext(ctx, b.logger).With(logging.String("job_id", run.jobID))
	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	for {
		var states map[int]TaskState
		err := b.retry(ctx, func() error {
			var queryErr error
			states, queryErr = b.sched.Query(ctx, run.jobID)
			if queryErr != nil {
				logger.Debug("scheduler query failed", logging.Error(queryErr))
			}
			return queryErr
		})
		if ctx.Err() != nil {
			run.finish(jobs.StatusFailed, "cancelled")
			return
		}
		if err != nil {
			logging.ErrorWithContext(logger, "scheduler query retries exhausted", "batch_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check scheduler availability; the batch is marked failed"),
			)
			run.finish(jobs.StatusFailed, fmt.Sprintf("scheduler query failed after %d retries: %v", b.retries, err))
			return
		}
		if run.update(states) {
			logger.Debug("array job finished", logging.String(logging.FieldEventType, "batch_finished"))
			return
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			run.finish(jobs.StatusFailed, "cancelled")
			return
		}
	}
}

// update records states and reports whether every task is terminal.
func (r *arrayRun) update(states map[int]TaskState) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for idx, state := range states {
		r.tasks[idx] = state
	}
	allTerminal := true
	anyStarted := false
	for i := range r.job.Units {
		phase := r.tasks[i].Phase()
		if phase != PhasePending {
			anyStarted = true
		}
		if !phase.Terminal() {
			allTerminal = false
		}
	}
	switch {
	case allTerminal:
		r.status = jobs.StatusCompleted
	case anyStarted:
		r.status = jobs.StatusRunning
	}
	return allTerminal
}

func (r *arrayRun) finish(status jobs.Status, failure string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.Terminal() {
		return
	}
	r.status = status
	r.failure = failure
}

// retry runs op up to retries+1 times with exponential backoff.
func (b *Backend) retry(ctx context.Context, op func() error) error {
	delay := b.backoff
	var lastErr error
	for attempt := 0; attempt <= b.retries; attempt++ {
		if lastErr = op(); lastErr == nil {
			return nil
		}
		if attempt == b.retries {
			break
		}
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay = min(delay*2, maxRetryBackoff)
		}
	}
	return lastErr
}

func (b *Backend) Poll(_ context.Context, handle jobs.Handle) (jobs.Status, error) {
	run, err := b.runs.Get(handle)
	if err != nil {
		return "", err
	}
	run.mu.Lock()
	defer run.mu.Unlock()
	return run.status, nil
}

func (b *Backend) Wait(ctx context.Context, handle jobs.Handle, opts jobs.WaitOptions) (jobs.Outcome, error) {
	run, err := b.runs.Get(handle)
	if err != nil {
		return jobs.Outcome{}, err
	}
	timedOut, err := jobs.AwaitDone(ctx, run.done, opts.Timeout)
	if err != nil {
		return jobs.Outcome{}, err
	}
	if timedOut && opts.CancelOnTimeout {
		if err := b.Cancel(ctx, handle); err != nil {
			return jobs.Outcome{}, err
		}
	}
	status, err := b.Poll(ctx, handle)
	return jobs.Outcome{Status: status, TimedOut: timedOut}, err
}

// Collect maps array indices back to units and returns one result per pose
// in submission order.
func (b *Backend) Collect(_ context.Context, handle jobs.Handle) ([]jobs.Result, error) {
	run, err := b.runs.Get(handle)
	if err != nil {
		return nil, err
	}
	run.mu.Lock()
	defer run.mu.Unlock()
	if !run.status.Terminal() {
		return nil, jobs.ErrNotTerminal
	}
	if run.results == nil {
		run.results = make([]jobs.Result, 0, len(run.job.Units))
		for i, unit := range run.job.Units {
			run.results = append(run.results, run.resolve(i, unit)...)
		}
	}
	return append([]jobs.Result(nil), run.results...), nil
}

func (r *arrayRun) resolve(idx int, unit jobs.Unit) []jobs.Result {
	state, known := r.tasks[idx]
	tail := readTail(firstNonEmpty(unit.LogPath, r.job.TaskLog(idx)))
	switch {
	case known && state.Phase() == PhaseSucceeded:
		return jobs.ResolveUnit(unit, state.ExitCode, nil, tail)
	case known && state.Phase() == PhaseFailed:
		code := state.ExitCode
		if code == 0 {
			code = -1
		}
		return jobs.ResolveUnit(unit, code, fmt.Errorf("scheduler state %s", state.State), tail)
	case r.failure != "":
		return jobs.Failed(unit, r.failure)
	}
	return jobs.Failed(unit, "task never reached a terminal state")
}

// Cancel asks the scheduler to cancel the array job and stops polling.
// Tasks without a terminal state are reported as failed.
func (b *Backend) Cancel(ctx context.Context, handle jobs.Handle) error {
	run, err := b.runs.Get(handle)
	if err != nil {
		return err
	}
	run.mu.Lock()
	terminal := run.status.Terminal()
	run.mu.Unlock()
	if terminal {
		return nil
	}
	cancelErr := b.retry(ctx, func() error { return b.sched.Cancel(ctx, run.jobID) })
	run.finish(jobs.StatusFailed, "cancelled")
	run.cancel()
	<-run.done
	if cancelErr != nil {
		return pipeline.Wrap(pipeline.ErrTransient, "", "cancel", "job "+run.jobID, cancelErr)
	}
	return nil
}

func readTail(path string) string {
	file, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return ""
	}
	offset := max(info.Size()-diagnosticTail, 0)
	buf := make([]byte, info.Size()-offset)
	if _, err := file.ReadAt(buf, offset); err != nil {
		return ""
	}
	return string(buf)
}
