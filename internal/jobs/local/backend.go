package local

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"poseflow/internal/jobs"
	"poseflow/internal/logging"
	"poseflow/internal/pipeline"
)

// Name is the backend name used in config and logs.
const Name = "local"

// Options configures a Backend.
type Options struct {
	MaxConcurrent int
	Logger        *slog.Logger
	Executor      Executor
}

// Backend executes batches as local subprocesses.
type Backend struct {
	sem      chan struct{}
	capacity int
	logger   *slog.Logger
	exec     Executor
	runs     *jobs.Registry[*batchRun]
}

type batchRun struct {
	batch  jobs.Batch
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	status    jobs.Status
	results   [][]jobs.Result
	filled    []bool
	cancelled bool
}

// New constructs a local backend.
func New(opts Options) *Backend {
	capacity := opts.MaxConcurrent
	if capacity <= 0 {
		capacity = 1
	}
	exec := opts.Executor
	if exec == nil {
		exec = ProcessExecutor{}
	}
	return &Backend{
		sem:      make(chan struct{}, capacity),
		capacity: capacity,
		logger:   logging.NewComponentLogger(opts.Logger, "local"),
		exec:     exec,
		runs:     jobs.NewRegistry[*batchRun](),
	}
}

func (b *Backend) Name() string { return Name }

func (b *Backend) Capacity() int { return b.capacity }

// Submit starts the batch in the background and returns immediately.
func (b *Backend) Submit(ctx context.Context, batch jobs.Batch) (jobs.Handle, error) {
	for _, unit := range batch.Units {
		if err := unit.Validate(); err != nil {
			return "", err
		}
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	run := &batchRun{
		batch:   batch,
		cancel:  cancel,
		done:    make(chan struct{}),
		status:  jobs.StatusPending,
		results: make([][]jobs.Result, len(batch.Units)),
		filled:  make([]bool, len(batch.Units)),
	}
	handle := b.runs.Add(run)
	runCtx = pipeline.WithBatch(runCtx, batch.Name)
	logging.WithContext(runCtx, b.logger).Debug("batch submitted",
		logging.String(logging.FieldEventType, "batch_submitted"),
		logging.Int("units", len(batch.Units)),
		logging.Int("poses", len(batch.Identities())),
	)
	go b.execute(runCtx, run)
	return handle, nil
}

func (b *Backend) execute(ctx context.Context, run *batchRun) {
	defer run.cancel()
	var wg sync.WaitGroup
	for i, unit := range run.batch.Units {
		wg.Add(1)
		go func() {
			defer wg.Done()
			run.record(i, b.runUnit(ctx, run, unit))
		}()
	}
	wg.Wait()

	run.mu.Lock()
	for i, ok := range run.filled {
		if !ok {
			run.results[i] = jobs.Failed(run.batch.Units[i], "unit produced no result")
		}
	}
	if run.cancelled {
		run.status = jobs.StatusFailed
	} else {
		run.status = jobs.StatusCompleted
	}
	status := run.status
	run.mu.Unlock()
	close(run.done)

	logging.WithContext(ctx, b.logger).Debug("batch finished",
		logging.String(logging.FieldEventType, "batch_finished"),
		logging.String("status", string(status)),
	)
}

func (b *Backend) runUnit(ctx context.Context, run *batchRun, unit jobs.Unit) []jobs.Result {
	select {
	case b.sem <- struct{}{}:
	case <-ctx.Done():
		return jobs.Failed(unit, "cancelled before start")
	}
	defer func() { <-b.sem }()

	run.mu.Lock()
	if run.status == jobs.StatusPending {
		run.status = jobs.StatusRunning
	}
	run.mu.Unlock()

	unitCtx := pipeline.WithIdentity(ctx, unit.Identity)
	logger := logging.WithContext(unitCtx, b.logger)
	start := time.Now()
	execution, err := b.exec.Run(unitCtx, unit)
	results := jobs.ResolveUnit(unit, execution.ExitCode, err, execution.Tail)
	for _, result := range results {
		if result.Succeeded() {
			logger.Debug("unit succeeded",
				logging.String(logging.FieldIdentity, result.Identity),
				logging.Duration("elapsed", time.Since(start)),
			)
			continue
		}
		logging.WarnWithContext(logger, "unit failed", "unit_failed",
			logging.String(logging.FieldIdentity, result.Identity),
			logging.String("diagnostic", result.Diagnostic),
			logging.Int("exit_code", result.ExitCode),
			logging.String(logging.FieldErrorHint, "inspect the unit log for the failing command"),
		)
	}
	return results
}

func (r *batchRun) record(idx int, results []jobs.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[idx] = results
	r.filled[idx] = true
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
	var results []jobs.Result
	for _, unitResults := range run.results {
		results = append(results, unitResults...)
	}
	return results, nil
}

// Cancel stops unfinished units. Units that have not produced a result are
// reported as failed.
func (b *Backend) Cancel(_ context.Context, handle jobs.Handle) error {
	run, err := b.runs.Get(handle)
	if err != nil {
		return err
	}
	run.mu.Lock()
	if !run.status.Terminal() {
		run.cancelled = true
	}
	run.mu.Unlock()
	run.cancel()
	return nil
}
