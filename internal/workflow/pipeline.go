package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofrs/flock"

	"poseflow/internal/config"
	"poseflow/internal/jobs"
	"poseflow/internal/ledger"
	"poseflow/internal/logging"
	"poseflow/internal/poses"
	"poseflow/internal/stage"
)

// ErrWorkDirLocked is returned when another pipeline owns the work directory.
var ErrWorkDirLocked = errors.New("work directory is in use by another pipeline")

// Pipeline is the context object shared by consecutive stages.
type Pipeline struct {
	cfg     *config.Config
	store   *poses.Store
	backend jobs.Backend
	ledger  *ledger.Store
	lock    *flock.Flock
	runner  *stage.Runner
	logger  *slog.Logger
}

// Option configures Open.
type Option func(*options)

type options struct {
	backend  jobs.Backend
	logger   *slog.Logger
	noLedger bool
}

// WithBackend replaces the backend built from configuration.
func WithBackend(backend jobs.Backend) Option {
	return func(o *options) { o.backend = backend }
}

// WithLogger sets the logger shared by the pipeline and its backends.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithoutLedger skips the run ledger.
func WithoutLedger() Option {
	return func(o *options) { o.noLedger = true }
}

// Open locks the work directory and assembles a pipeline around store.
func Open(cfg *config.Config, store *poses.Store, opts ...Option) (*Pipeline, error) {
	if cfg == nil || store == nil {
		return nil, errors.New("workflow requires config and store")
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	logger := logging.NewComponentLogger(o.logger, "workflow")

	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	lock := flock.New(cfg.LockPath())
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire work directory lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWorkDirLocked, cfg.Paths.WorkDir)
	}

	p := &Pipeline{cfg: cfg, store: store, lock: lock, logger: logger}
	if err := p.assemble(o); err != nil {
		_ = p.Close()
		return nil, err
	}
	logger.Debug("pipeline opened",
		logging.String("work_dir", cfg.Paths.WorkDir),
		logging.String(logging.FieldBackend, p.backend.Name()),
		logging.Int("poses", store.Len()),
	)
	return p, nil
}

func (p *Pipeline) assemble(o options) error {
	p.backend = o.backend
	if p.backend == nil {
		backend, err := NewBackend(p.cfg, o.logger)
		if err != nil {
			return err
		}
		p.backend = backend
	}

	if !o.noLedger {
		store, err := ledger.Open(p.cfg)
		if err != nil {
			return fmt.Errorf("open run ledger: %w", err)
		}
		p.ledger = store
	}

	runnerOpts := stage.Options{
		WorkDir: p.cfg.Paths.WorkDir,
		Backend: p.backend,
		Logger:  o.logger,
	}
	if p.ledger != nil {
		runnerOpts.Recorder = p.ledger
	}
	if p.cfg.Storage.Checkpoints {
		cp, err := newCheckpointer(p.cfg)
		if err != nil {
			return err
		}
		runnerOpts.Checkpointer = cp
	}
	runner, err := stage.NewRunner(runnerOpts)
	if err != nil {
		return err
	}
	p.runner = runner
	return nil
}

// Store returns the pose store the pipeline currently tracks.
func (p *Pipeline) Store() *poses.Store { return p.store }

// Backend returns the default job backend.
func (p *Pipeline) Backend() jobs.Backend { return p.backend }

// Ledger returns the run ledger, or nil when disabled.
func (p *Pipeline) Ledger() *ledger.Store { return p.ledger }

// RunStage runs def against the pipeline's store. Chunking and wait timeout
// default to configuration when def leaves them unset.
func (p *Pipeline) RunStage(ctx context.Context, def stage.Definition) (*stage.Report, error) {
	if def.Chunking == (jobs.ChunkPolicy{}) {
		def.Chunking = ChunkPolicy(p.cfg)
	}
	if def.Wait.Timeout == 0 && p.cfg.Jobs.WaitTimeoutSeconds > 0 {
		def.Wait.Timeout = time.Duration(p.cfg.Jobs.WaitTimeoutSeconds) * time.Second
	}
	return p.runner.Run(ctx, p.store, def)
}

// DropFailed removes the report's failed identities from the store and
// returns how many records were dropped. Pending identities are kept.
func (p *Pipeline) DropFailed(report *stage.Report) int {
	if report == nil || len(report.Failed) == 0 {
		return 0
	}
	before := p.store.Len()
	p.store = p.store.Without(report.FailedIdentities())
	dropped := before - p.store.Len()
	p.logger.Info("dropped failed poses",
		logging.String(logging.FieldEventType, "poses_dropped"),
		logging.String(logging.FieldStage, report.Stage),
		logging.Int("dropped", dropped),
		logging.Int("remaining", p.store.Len()),
	)
	return dropped
}

// Close releases the ledger and the work directory lock.
func (p *Pipeline) Close() error {
	var errs []error
	if p.ledger != nil {
		if err := p.ledger.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close ledger: %w", err))
		}
		p.ledger = nil
	}
	if p.lock != nil {
		if err := p.lock.Unlock(); err != nil {
			errs = append(errs, fmt.Errorf("release lock: %w", err))
		}
		p.lock = nil
	}
	return errors.Join(errs...)
}
