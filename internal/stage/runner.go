package stage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/google/uuid"

	"poseflow/internal/jobs"
	"poseflow/internal/logging"
	"poseflow/internal/pipeline"
	"poseflow/internal/poses"
	"poseflow/internal/textutil"
)

// Checkpointer persists the store after a stage merged its results and
// returns where the snapshot was written.
type Checkpointer interface {
	Checkpoint(ctx context.Context, store *poses.Store, prefix string) (string, error)
}

// CheckpointFunc adapts a function to Checkpointer.
type CheckpointFunc func(ctx context.Context, store *poses.Store, prefix string) (string, error)

func (f CheckpointFunc) Checkpoint(ctx context.Context, store *poses.Store, prefix string) (string, error) {
	return f(ctx, store, prefix)
}

// RunInfo describes a stage invocation when it starts.
type RunInfo struct {
	ID        string
	Stage     string
	Prefix    string
	Backend   string
	Units     int
	StartedAt time.Time
}

// Recorder receives stage progress, typically for the run ledger. Recorder
// errors are logged and never fail a stage.
type Recorder interface {
	StartRun(ctx context.Context, run RunInfo) error
	RecordState(ctx context.Context, runID string, state State, detail string) error
	RecordResults(ctx context.Context, runID, batch string, results []jobs.Result) error
}

// Options configures a Runner.
type Options struct {
	WorkDir string
	// Backend is used by definitions that do not name their own.
	Backend      jobs.Backend
	Checkpointer Checkpointer
	Recorder     Recorder
	Logger       *slog.Logger
}

// Runner executes stage definitions against a store.
type Runner struct {
	workDir      string
	backend      jobs.Backend
	checkpointer Checkpointer
	recorder     Recorder
	logger       *slog.Logger
}

// NewRunner validates opts and returns a Runner.
func NewRunner(opts Options) (*Runner, error) {
	if opts.WorkDir == "" {
		return nil, pipeline.Wrap(pipeline.ErrConfiguration, "", "stage runner", "work directory required", nil)
	}
	return &Runner{
		workDir:      opts.WorkDir,
		backend:      opts.Backend,
		checkpointer: opts.Checkpointer,
		recorder:     opts.Recorder,
		logger:       logging.NewComponentLogger(opts.Logger, "stage"),
	}, nil
}

// invocation carries the mutable state of one Run call.
type invocation struct {
	runner  *Runner
	def     Definition
	store   *poses.Store
	backend jobs.Backend
	report  *Report
	logger  *slog.Logger
	started time.Time
}

// Run executes def against store. Partial failures are listed in the
// report; an error is returned only when the stage could not complete, in
// which case the store holds no results from this invocation. Results are
// merged into a copy that replaces the store's contents only after the
// checkpoint was written.
func (r *Runner) Run(ctx context.Context, store *poses.Store, def Definition) (*Report, error) {
	if store == nil {
		return nil, pipeline.Wrap(pipeline.ErrConfiguration, def.label(), "run", "store required", nil)
	}
	if err := def.validate(); err != nil {
		return nil, err
	}
	backend := def.Backend
	if backend == nil {
		backend = r.backend
	}
	if backend == nil {
		return nil, pipeline.Wrap(pipeline.ErrConfiguration, def.label(), "run", "no job backend configured", nil)
	}

	inv := &invocation{
		runner:  r,
		def:     def,
		store:   store,
		backend: backend,
		started: time.Now(),
		report: &Report{
			RunID:   uuid.NewString(),
			Stage:   def.label(),
			Backend: backend.Name(),
			State:   StatePending,
			Store:   store,
		},
	}
	ctx = pipeline.WithRunID(ctx, inv.report.RunID)
	ctx = pipeline.WithStage(ctx, inv.report.Stage)
	ctx = pipeline.WithBackend(ctx, backend.Name())
	inv.logger = logging.WithContext(ctx, r.logger)
	return inv.run(ctx)
}

func (inv *invocation) run(ctx context.Context) (*Report, error) {
	def := inv.def
	dir := filepath.Join(inv.runner.workDir, def.Prefix)
	scorePath := ScorefilePath(inv.runner.workDir, def.Prefix)

	inv.recordStart(ctx)
	inv.logger.Info(
		"stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.String("stage_label", textutil.Label(inv.report.Stage)),
		logging.Int("poses", inv.store.Len()),
		logging.String("chunking", def.Chunking.String()),
		logging.String("merge_policy", def.Merge.String()),
		logging.Bool("reuse", def.Reuse),
	)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return inv.fail(ctx, pipeline.Wrap(pipeline.ErrConfiguration, def.Prefix, "prepare", "create stage directory", err))
	}

	results, reused := inv.loadSaved(scorePath)
	if reused {
		inv.report.Reused = true
		if err := inv.advance(ctx, StateCollecting, "reusing "+scorePath); err != nil {
			return inv.fail(ctx, err)
		}
	} else {
		var err error
		results, err = inv.execute(ctx, dir)
		if err != nil {
			return inv.fail(ctx, err)
		}
		if len(inv.report.Pending) == 0 {
			sf := scorefile{Stage: inv.report.Stage, RunID: inv.report.RunID, Written: time.Now().UTC(), Results: results}
			if err := writeScorefile(scorePath, sf); err != nil {
				logging.WarnWithContext(inv.logger, "results file not written", "scorefile_write_failed",
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "a rerun with reuse enabled will dispatch again"),
				)
			}
		}
	}

	working := inv.store.Clone()
	if err := inv.merge(working, results); err != nil {
		return inv.fail(ctx, err)
	}
	if err := inv.advance(ctx, StateMerged, fmt.Sprintf("%d merged, %d failed", inv.report.Merged, len(inv.report.Failed))); err != nil {
		return inv.fail(ctx, err)
	}

	if inv.runner.checkpointer != nil {
		path, err := inv.runner.checkpointer.Checkpoint(ctx, working, def.Prefix)
		if err != nil {
			return inv.fail(ctx, fmt.Errorf("checkpoint: %w", err))
		}
		inv.store.Assign(working)
		inv.report.Checkpoint = path
		if err := inv.advance(ctx, StateCheckpointed, path); err != nil {
			return inv.fail(ctx, err)
		}
	} else {
		inv.store.Assign(working)
	}

	inv.report.Duration = time.Since(inv.started)
	if len(inv.report.Failed) > 0 {
		logging.WarnWithContext(inv.logger, "stage finished with failed poses", "stage_partial",
			logging.Int("failed", len(inv.report.Failed)),
			logging.Any("failed_identities", inv.report.FailedIdentities()),
			logging.String(logging.FieldErrorHint, "inspect unit logs; drop failed poses before the next stage if needed"),
		)
	}
	inv.logger.Info(
		"stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.String("state", string(inv.report.State)),
		logging.Int("merged", inv.report.Merged),
		logging.Int("failed", len(inv.report.Failed)),
		logging.Int("pending", len(inv.report.Pending)),
		logging.Int("batches", inv.report.Batches),
		logging.Bool("reused", inv.report.Reused),
		logging.String("checkpoint", inv.report.Checkpoint),
		logging.Duration("duration", inv.report.Duration),
	)
	return inv.report, nil
}

// execute builds, partitions, dispatches, and collects. It returns the
// results of every batch that reached a terminal state.
func (inv *invocation) execute(ctx context.Context, dir string) ([]jobs.Result, error) {
	units, err := inv.buildUnits(dir)
	if err != nil {
		return nil, err
	}
	batches, err := jobs.Partition(units, inv.def.Chunking)
	if err != nil {
		return nil, err
	}
	inv.report.Batches = len(batches)

	if err := inv.advance(ctx, StateDispatched, fmt.Sprintf("%d units in %d batches", len(units), len(batches))); err != nil {
		return nil, err
	}
	collected, err := inv.dispatch(ctx, batches)
	if err != nil {
		return nil, err
	}
	if err := inv.advance(ctx, StateCollecting, ""); err != nil {
		return nil, err
	}

	var results []jobs.Result
	for i, batch := range batches {
		if collected[i] == nil {
			inv.report.Pending = append(inv.report.Pending, batch.Identities()...)
			continue
		}
		results = append(results, collected[i]...)
	}
	inv.report.Pending = inv.inStoreOrder(inv.report.Pending)
	return results, nil
}

// buildUnits builds one unit per pose, or one per BundleSize consecutive
// poses when the definition bundles. Every unit must cover exactly the poses
// it was built from, in store order.
func (inv *invocation) buildUnits(dir string) ([]jobs.Unit, error) {
	recs := inv.store.Records()
	size := 1
	if inv.def.BuildBundle != nil {
		size = inv.def.BundleSize
	}
	units := make([]jobs.Unit, 0, (len(recs)+size-1)/size)
	for start := 0; start < len(recs); start += size {
		group := recs[start:min(start+size, len(recs))]
		var unit jobs.Unit
		var err error
		if inv.def.BuildBundle != nil {
			unit, err = inv.def.BuildBundle(len(units), group, dir)
		} else {
			unit, err = inv.def.Build(group[0], dir)
		}
		if err != nil {
			if errors.Is(err, pipeline.ErrConfiguration) {
				return nil, err
			}
			return nil, pipeline.Wrap(pipeline.ErrConfiguration, inv.def.Prefix, "build unit", group[0].Identity, err)
		}
		want := make([]string, len(group))
		for i, rec := range group {
			want[i] = rec.Identity
		}
		if got := unit.Identities(); !slices.Equal(got, want) {
			return nil, pipeline.Wrap(pipeline.ErrConfiguration, inv.def.Prefix, "build unit",
				fmt.Sprintf("unit covers %q, built from poses %q", got, want), nil)
		}
		units = append(units, unit)
	}
	return units, nil
}

type flight struct {
	batch  jobs.Batch
	handle jobs.Handle
}

// dispatch keeps at most Capacity batches outstanding. No batch is submitted
// once the stage deadline has passed. collected[i] stays nil for batches
// still running at the deadline and for batches never submitted.
func (inv *invocation) dispatch(ctx context.Context, batches []jobs.Batch) ([][]jobs.Result, error) {
	capacity := max(inv.backend.Capacity(), 1)
	var deadline time.Time
	if inv.def.Wait.Timeout > 0 {
		deadline = time.Now().Add(inv.def.Wait.Timeout)
	}

	collected := make([][]jobs.Result, len(batches))
	var outstanding []flight
	drain := func() error {
		f := outstanding[0]
		results, err := inv.await(ctx, f, deadline)
		if err != nil {
			return err
		}
		outstanding = outstanding[1:]
		collected[f.batch.Index] = results
		return nil
	}

	for i, batch := range batches {
		for len(outstanding) >= capacity {
			if err := drain(); err != nil {
				inv.cancelAll(ctx, outstanding)
				return nil, err
			}
		}
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			logging.WarnWithContext(inv.logger, "stage deadline passed before every batch was submitted", "batch_skipped",
				logging.Int("unsubmitted_batches", len(batches)-i),
				logging.String(logging.FieldErrorHint, "poses stay pending; raise wait_timeout_seconds or rerun the stage"),
			)
			break
		}
		handle, err := inv.backend.Submit(pipeline.WithBatch(ctx, batch.Name), batch)
		if err != nil {
			inv.cancelAll(ctx, outstanding)
			return nil, fmt.Errorf("submit %s: %w", batch.Name, err)
		}
		inv.logger.Debug("batch submitted",
			logging.String(logging.FieldBatch, batch.Name),
			logging.String("handle", string(handle)),
			logging.Int("units", len(batch.Units)),
		)
		outstanding = append(outstanding, flight{batch: batch, handle: handle})
	}
	for len(outstanding) > 0 {
		if err := drain(); err != nil {
			inv.cancelAll(ctx, outstanding)
			return nil, err
		}
	}
	return collected, nil
}

// await waits for one batch and collects it. It returns nil results when
// the batch is still running at the deadline.
func (inv *invocation) await(ctx context.Context, f flight, deadline time.Time) ([]jobs.Result, error) {
	opts := inv.def.Wait
	if !deadline.IsZero() {
		opts.Timeout = max(time.Until(deadline), time.Millisecond)
	}
	outcome, err := inv.backend.Wait(ctx, f.handle, opts)
	if err != nil {
		return nil, fmt.Errorf("wait %s: %w", f.batch.Name, err)
	}
	logger := inv.logger.With(logging.String(logging.FieldBatch, f.batch.Name))
	if outcome.TimedOut && !outcome.Status.Terminal() {
		logging.WarnWithContext(logger, "batch still running at stage deadline", "batch_timeout",
			logging.String("status", string(outcome.Status)),
			logging.Int("units", len(f.batch.Units)),
			logging.String(logging.FieldErrorHint, "poses stay pending; raise wait_timeout_seconds or rerun the stage"),
		)
		return nil, nil
	}

	results, err := inv.backend.Collect(ctx, f.handle)
	if err != nil {
		return nil, pipeline.Wrap(pipeline.ErrBookkeeping, inv.def.Prefix, "collect", f.batch.Name, err)
	}
	if err := checkPairing(f.batch, results); err != nil {
		return nil, pipeline.Wrap(pipeline.ErrBookkeeping, inv.def.Prefix, "collect", f.batch.Name, err)
	}
	mergeOpts := inv.def.mergeOptions()
	for i, result := range results {
		if err := mergeOpts.CheckScores(result); err != nil {
			results[i].Status = jobs.ResultFailure
			results[i].Diagnostic = err.Error()
		}
	}
	failed := 0
	for _, result := range results {
		if !result.Succeeded() {
			failed++
		}
	}
	logger.Debug("batch collected",
		logging.String("status", string(outcome.Status)),
		logging.Int("poses", len(results)),
		logging.Int("failed", failed),
	)
	if rec := inv.runner.recorder; rec != nil {
		if err := rec.RecordResults(ctx, inv.report.RunID, f.batch.Name, results); err != nil {
			logging.WarnWithContext(logger, "ledger update failed", "ledger_write_failed", logging.Error(err))
		}
	}
	for _, result := range results {
		if !result.Succeeded() {
			inv.report.Failed = append(inv.report.Failed, Failure{
				Identity:   result.Identity,
				Batch:      f.batch.Name,
				Diagnostic: result.Diagnostic,
				ExitCode:   result.ExitCode,
			})
		}
	}
	return results, nil
}

// checkPairing requires exactly one result per pose, in submission order.
func checkPairing(batch jobs.Batch, results []jobs.Result) error {
	ids := batch.Identities()
	if len(results) != len(ids) {
		return fmt.Errorf("%d poses produced %d results", len(ids), len(results))
	}
	for i, id := range ids {
		if results[i].Identity != id {
			return fmt.Errorf("result %d is for %q, dispatched %q", i, results[i].Identity, id)
		}
	}
	return nil
}

func (inv *invocation) cancelAll(ctx context.Context, outstanding []flight) {
	ctx = context.WithoutCancel(ctx)
	for _, f := range outstanding {
		if err := inv.backend.Cancel(ctx, f.handle); err != nil {
			logging.WarnWithContext(inv.logger, "batch cancel failed", "batch_cancel_failed",
				logging.String(logging.FieldBatch, f.batch.Name),
				logging.Error(err),
			)
		}
	}
}

// loadSaved returns a previous run's results when reuse is enabled and the
// saved file covers every pose in the store.
func (inv *invocation) loadSaved(path string) ([]jobs.Result, bool) {
	if !inv.def.Reuse {
		return nil, false
	}
	sf, err := readScorefile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false
	}
	if err != nil {
		logging.WarnWithContext(inv.logger, "ignoring unreadable results file", "scorefile_invalid",
			logging.String("path", path),
			logging.Error(err),
		)
		return nil, false
	}
	byID := make(map[string]jobs.Result, len(sf.Results))
	for _, result := range sf.Results {
		byID[result.Identity] = result
	}
	results := make([]jobs.Result, 0, inv.store.Len())
	for _, id := range inv.store.Identities() {
		result, ok := byID[id]
		if !ok {
			logging.WarnWithContext(inv.logger, "results file does not cover the store; dispatching", "scorefile_stale",
				logging.String("path", path),
				logging.String(logging.FieldIdentity, id),
			)
			return nil, false
		}
		results = append(results, result)
		if !result.Succeeded() {
			inv.report.Failed = append(inv.report.Failed, Failure{Identity: id, Diagnostic: result.Diagnostic, ExitCode: result.ExitCode})
		}
	}
	inv.logger.Info("reusing saved results",
		logging.String(logging.FieldEventType, "scorefile_reused"),
		logging.String("path", path),
		logging.String("saved_run_id", sf.RunID),
	)
	return results, true
}

// merge joins results into store, a working copy of the invocation's store.
func (inv *invocation) merge(store *poses.Store, results []jobs.Result) error {
	if err := store.MergeScores(results, inv.def.mergeOptions()); err != nil {
		return err
	}
	merged := 0
	paths := make(map[string]string)
	for _, result := range results {
		if !result.Succeeded() {
			continue
		}
		merged++
		if primary := result.PrimaryOutput(); inv.def.UpdatePaths && primary != "" {
			paths[result.Identity] = primary
		}
	}
	if len(paths) > 0 {
		if err := store.UpdatePaths(paths); err != nil {
			return err
		}
	}
	inv.report.Merged = merged
	inv.report.Failed = inv.failuresInStoreOrder(inv.report.Failed)
	return nil
}

func (inv *invocation) inStoreOrder(ids []string) []string {
	pos := inv.positions()
	slices.SortStableFunc(ids, func(a, b string) int { return pos[a] - pos[b] })
	return ids
}

func (inv *invocation) failuresInStoreOrder(failures []Failure) []Failure {
	pos := inv.positions()
	slices.SortStableFunc(failures, func(a, b Failure) int { return pos[a.Identity] - pos[b.Identity] })
	return failures
}

func (inv *invocation) positions() map[string]int {
	ids := inv.store.Identities()
	pos := make(map[string]int, len(ids))
	for i, id := range ids {
		pos[id] = i
	}
	return pos
}

func (inv *invocation) advance(ctx context.Context, next State, detail string) error {
	state, err := inv.report.State.advance(next)
	if err != nil {
		return err
	}
	inv.report.State = state
	inv.recordState(ctx, state, detail)
	return nil
}

func (inv *invocation) fail(ctx context.Context, err error) (*Report, error) {
	inv.report.State = StateFailed
	inv.report.Duration = time.Since(inv.started)
	inv.recordState(ctx, StateFailed, err.Error())
	logging.ErrorWithContext(inv.logger, "stage failed", "stage_failure",
		logging.Error(err),
		logging.String(logging.FieldErrorKind, pipeline.Kind(err)),
		logging.String(logging.FieldErrorHint, failureHint(err)),
	)
	return inv.report, err
}

func failureHint(err error) string {
	switch {
	case errors.Is(err, pipeline.ErrBookkeeping):
		return "backend results did not pair with dispatched units; the store was not modified"
	case errors.Is(err, pipeline.ErrConfiguration):
		return "check the stage definition, command template, and existing score columns"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "stage interrupted; outstanding batches were cancelled"
	default:
		return "check backend availability and rerun the stage"
	}
}

func (inv *invocation) recordStart(ctx context.Context) {
	rec := inv.runner.recorder
	if rec == nil {
		return
	}
	err := rec.StartRun(ctx, RunInfo{
		ID:        inv.report.RunID,
		Stage:     inv.report.Stage,
		Prefix:    inv.def.Prefix,
		Backend:   inv.report.Backend,
		Units:     inv.store.Len(),
		StartedAt: inv.started.UTC(),
	})
	if err != nil {
		logging.WarnWithContext(inv.logger, "ledger update failed", "ledger_write_failed", logging.Error(err))
	}
}

func (inv *invocation) recordState(ctx context.Context, state State, detail string) {
	rec := inv.runner.recorder
	if rec == nil {
		return
	}
	if err := rec.RecordState(context.WithoutCancel(ctx), inv.report.RunID, state, detail); err != nil {
		logging.WarnWithContext(inv.logger, "ledger update failed", "ledger_write_failed", logging.Error(err))
	}
}
