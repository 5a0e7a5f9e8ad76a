package workflow

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"poseflow/internal/config"
	"poseflow/internal/jobs"
	"poseflow/internal/jobs/cluster"
	"poseflow/internal/jobs/local"
	"poseflow/internal/pipeline"
)

// NewBackend builds the job backend named by cfg.Jobs.Backend.
func NewBackend(cfg *config.Config, logger *slog.Logger) (jobs.Backend, error) {
	switch cfg.Jobs.Backend {
	case config.BackendLocal, "":
		return local.New(local.Options{
			MaxConcurrent: cfg.Jobs.MaxConcurrentJobs,
			Logger:        logger,
		}), nil
	case config.BackendSlurm:
		sched := cluster.NewSlurm(cluster.SlurmOptions{
			SbatchBinary:  cfg.Cluster.SbatchBinary,
			SacctBinary:   cfg.Cluster.SacctBinary,
			ScancelBinary: cfg.Cluster.ScancelBinary,
			Partition:     cfg.Cluster.Partition,
			ExtraArgs:     cfg.Cluster.ExtraArgs,
		})
		return cluster.New(cluster.Options{
			Scheduler:    sched,
			PollInterval: time.Duration(cfg.Cluster.PollIntervalSeconds) * time.Second,
			Retries:      cfg.Cluster.Retries,
			RetryBackoff: time.Duration(cfg.Cluster.RetryBackoffSeconds) * time.Second,
			MaxParallel:  cfg.Cluster.MaxArrayParallel,
			Capacity:     cfg.Jobs.MaxConcurrentJobs,
			BatchDir:     filepath.Join(cfg.Paths.WorkDir, "cluster"),
			Logger:       logger,
		})
	}
	return nil, pipeline.Wrap(pipeline.ErrConfiguration, "", "backend", fmt.Sprintf("unknown job backend %q", cfg.Jobs.Backend), nil)
}

// ChunkPolicy derives the default batching policy from cfg.
func ChunkPolicy(cfg *config.Config) jobs.ChunkPolicy {
	switch {
	case cfg.Jobs.BatchSize > 0:
		return jobs.BatchSize(cfg.Jobs.BatchSize)
	case cfg.Jobs.BatchCount > 0:
		return jobs.BatchCount(cfg.Jobs.BatchCount)
	}
	return jobs.ChunkPolicy{}
}
