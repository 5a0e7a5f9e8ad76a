package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"poseflow/internal/config"
)

func TestLoadDefaultsWhenMissing(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("POSEFLOW_WORK_DIR", "")
	t.Chdir(t.TempDir())

	cfg, path, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if exists {
		t.Fatalf("expected no config file, got %s", path)
	}
	if want := filepath.Join(home, ".local", "share", "poseflow", "work"); cfg.Paths.WorkDir != want {
		t.Fatalf("work dir = %q, want %q", cfg.Paths.WorkDir, want)
	}
	if cfg.Storage.Format != "json" || cfg.Jobs.Backend != config.BackendLocal {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadReadsTOML(t *testing.T) {
	t.Setenv("POSEFLOW_WORK_DIR", "")
	t.Setenv("SLURM_PARTITION", "")
	dir := t.TempDir()
	path := filepath.Join(dir, "poseflow.toml")
	content := `
[paths]
work_dir = "` + filepath.Join(dir, "work") + `"

[storage]
format = " CSV "

[jobs]
backend = "slurm"
max_concurrent_jobs = 16
batch_count = 8

[cluster]
partition = "gpu"
extra_args = ["--gres=gpu:1", "  "]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("expected config at %s, got %s (exists=%v)", path, resolved, exists)
	}
	if cfg.Storage.Format != "csv" {
		t.Fatalf("format = %q", cfg.Storage.Format)
	}
	if cfg.Jobs.Backend != config.BackendSlurm || cfg.Jobs.MaxConcurrentJobs != 16 || cfg.Jobs.BatchCount != 8 {
		t.Fatalf("unexpected jobs section: %+v", cfg.Jobs)
	}
	if cfg.Cluster.Partition != "gpu" || len(cfg.Cluster.ExtraArgs) != 1 {
		t.Fatalf("unexpected cluster section: %+v", cfg.Cluster)
	}
	if got := cfg.SchedulerBinaries(); len(got) != 3 || got[0] != "sbatch" {
		t.Fatalf("scheduler binaries = %v", got)
	}
}

func TestEnvironmentFallbacks(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("POSEFLOW_WORK_DIR", filepath.Join(dir, "env-work"))
	t.Setenv("SLURM_PARTITION", "short")

	cfg, _, _, err := config.Load(filepath.Join(dir, "absent.toml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Paths.WorkDir != filepath.Join(dir, "env-work") {
		t.Fatalf("work dir = %q", cfg.Paths.WorkDir)
	}
	if cfg.Cluster.Partition != "short" {
		t.Fatalf("partition = %q", cfg.Cluster.Partition)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"format", func(c *config.Config) { c.Storage.Format = "parquet" }, "storage.format"},
		{"backend", func(c *config.Config) { c.Jobs.Backend = "pbs" }, "jobs.backend"},
		{"concurrency", func(c *config.Config) { c.Jobs.MaxConcurrentJobs = 0 }, "max_concurrent_jobs"},
		{"chunking", func(c *config.Config) { c.Jobs.BatchSize = 2; c.Jobs.BatchCount = 2 }, "mutually exclusive"},
		{"poll", func(c *config.Config) { c.Cluster.PollIntervalSeconds = 0 }, "poll_interval_seconds"},
		{"retries", func(c *config.Config) { c.Cluster.Retries = -1 }, "cluster.retries"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Paths.WorkDir = t.TempDir()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.want)
			}
		})
	}
}

func TestCreateSampleLoads(t *testing.T) {
	t.Setenv("POSEFLOW_WORK_DIR", "")
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load sample: %v", err)
	}
	if !exists || cfg.Cluster.SacctBinary != "sacct" {
		t.Fatalf("unexpected sample config: %+v", cfg.Cluster)
	}
}

func TestEnsureDirectoriesAndDerivedPaths(t *testing.T) {
	cfg := config.Default()
	base := t.TempDir()
	cfg.Paths.WorkDir = filepath.Join(base, "work")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	for _, dir := range []string{cfg.Paths.WorkDir, cfg.Paths.LogDir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s: %v", dir, err)
		}
	}
	if cfg.CheckpointDir() != filepath.Join(cfg.Paths.WorkDir, "checkpoints") {
		t.Fatalf("checkpoint dir = %s", cfg.CheckpointDir())
	}
	if filepath.Base(cfg.LockPath()) != ".poseflow.lock" {
		t.Fatalf("lock path = %s", cfg.LockPath())
	}
}
