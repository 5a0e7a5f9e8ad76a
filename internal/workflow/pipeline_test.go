package workflow_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"poseflow/internal/config"
	"poseflow/internal/pipeline"
	"poseflow/internal/poses"
	"poseflow/internal/stage"
	"poseflow/internal/testsupport"
	"poseflow/internal/workflow"
)

// scoreTemplate copies each pose, fails pose b, and writes a score file.
var scoreTemplate = stage.Template{
	Command:   `test {identity} != b && cp {path} {output} && printf '{"score": 2.5, "mode": "fast"}' > {dir}/{identity}.json`,
	Outputs:   []string{"{identity}_scored.pdb"},
	ScoreFile: "{identity}.json",
}

func ingest(t *testing.T, cfg *config.Config, names ...string) *poses.Store {
	t.Helper()
	paths := testsupport.WritePoses(t, filepath.Join(testsupport.BaseDir(cfg), "inputs"), names...)
	store, err := poses.Ingest(paths, poses.IngestOptions{})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	return store
}

func openPipeline(t *testing.T, cfg *config.Config, store *poses.Store, opts ...workflow.Option) *workflow.Pipeline {
	t.Helper()
	p, err := workflow.Open(cfg, store, opts...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestPipelineRunsStageWithLocalBackend(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithFormat("json"))
	cfg.Jobs.BatchCount = 2
	store := ingest(t, cfg, "a", "b", "c")
	p := openPipeline(t, cfg, store)
	ctx := context.Background()

	report, err := p.RunStage(ctx, stage.Definition{Prefix: "stage1", Build: scoreTemplate.Build, UpdatePaths: true})
	if err != nil {
		t.Fatalf("RunStage: %v", err)
	}
	if got := report.FailedIdentities(); !slices.Equal(got, []string{"b"}) {
		t.Fatalf("failed = %v", got)
	}
	if report.Batches != 2 || report.Merged != 2 || report.State != stage.StateCheckpointed {
		t.Fatalf("report = %+v", report)
	}
	if score, ok := store.Value("a", "stage1_score").Float(); !ok || score != 2.5 {
		t.Fatalf("a score = %v", store.Value("a", "stage1_score"))
	}
	if mode, _ := store.Value("c", "stage1_mode").Str(); mode != "fast" {
		t.Fatalf("c mode = %q", mode)
	}
	if !store.Value("b", "stage1_score").IsMissing() {
		t.Fatal("b must stay missing")
	}
	rec, _ := store.Record("a")
	if rec.CurrentPath != filepath.Join(cfg.Paths.WorkDir, "stage1", "a_scored.pdb") {
		t.Fatalf("current path = %s", rec.CurrentPath)
	}

	wantCheckpoint := filepath.Join(cfg.CheckpointDir(), "stage1.json")
	if report.Checkpoint != wantCheckpoint {
		t.Fatalf("checkpoint = %s", report.Checkpoint)
	}
	restored, err := workflow.LoadCheckpoint(cfg, "stage1")
	if err != nil {
		t.Fatalf("LoadCheckpoint: %v", err)
	}
	if !restored.Equal(store) {
		t.Fatal("checkpoint does not match the store")
	}

	runs, err := p.Ledger().Runs(ctx, 0)
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != report.RunID || runs[0].State != stage.StateCheckpointed || runs[0].Failed != 1 {
		t.Fatalf("ledger runs = %+v", runs)
	}

	if dropped := p.DropFailed(report); dropped != 1 {
		t.Fatalf("dropped = %d", dropped)
	}
	if got := p.Store().Identities(); !slices.Equal(got, []string{"a", "c"}) {
		t.Fatalf("remaining = %v", got)
	}
}

func TestPipelineChainsStages(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Storage.Checkpoints = false
	store := ingest(t, cfg, "a", "b", "c")
	p := openPipeline(t, cfg, store, workflow.WithoutLedger())
	ctx := context.Background()

	first, err := p.RunStage(ctx, stage.Definition{Prefix: "stage1", Build: scoreTemplate.Build, UpdatePaths: true})
	if err != nil {
		t.Fatalf("stage1: %v", err)
	}
	if first.State != stage.StateMerged || first.Checkpoint != "" {
		t.Fatalf("checkpoints disabled, got %+v", first)
	}
	p.DropFailed(first)

	relax := stage.Template{Command: "cp {path} {output}", Outputs: []string{"{identity}_relaxed.pdb"}}
	second, err := p.RunStage(ctx, stage.Definition{Prefix: "relax", Build: relax.Build, UpdatePaths: true})
	if err != nil {
		t.Fatalf("relax: %v", err)
	}
	if !second.Clean() || second.Merged != 2 {
		t.Fatalf("relax report = %+v", second)
	}
	rec, _ := p.Store().Record("c")
	if filepath.Base(rec.CurrentPath) != "c_relaxed.pdb" || filepath.Base(rec.OriginPath) != "c.pdb" {
		t.Fatalf("paths = %s / %s", rec.OriginPath, rec.CurrentPath)
	}
	if _, err := os.Stat(rec.CurrentPath); err != nil {
		t.Fatalf("relaxed output missing: %v", err)
	}
	if p.Store().Value("c", "stage1_score").IsMissing() {
		t.Fatal("earlier stage scores must survive later merges")
	}
}

func TestOpenLocksWorkDir(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := poses.New()
	p, err := workflow.Open(cfg, store, workflow.WithoutLedger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := workflow.Open(cfg, store, workflow.WithoutLedger()); !errors.Is(err, workflow.ErrWorkDirLocked) {
		t.Fatalf("expected ErrWorkDirLocked, got %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	again, err := workflow.Open(cfg, store, workflow.WithoutLedger())
	if err != nil {
		t.Fatalf("Open after Close: %v", err)
	}
	_ = again.Close()
}

func TestNewBackendSelection(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	backend, err := workflow.NewBackend(cfg, nil)
	if err != nil || backend.Name() != "local" || backend.Capacity() != cfg.Jobs.MaxConcurrentJobs {
		t.Fatalf("local backend = %v, %v", backend, err)
	}

	cfg.Jobs.Backend = config.BackendSlurm
	backend, err = workflow.NewBackend(cfg, nil)
	if err != nil || backend.Name() != "slurm" {
		t.Fatalf("slurm backend = %v, %v", backend, err)
	}

	cfg.Jobs.Backend = "kubernetes"
	if _, err := workflow.NewBackend(cfg, nil); !errors.Is(err, pipeline.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestChunkPolicyFromConfig(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if got := workflow.ChunkPolicy(cfg).String(); got != "single" {
		t.Fatalf("default policy = %s", got)
	}
	cfg.Jobs.BatchSize = 5
	if got := workflow.ChunkPolicy(cfg).String(); got != "size=5" {
		t.Fatalf("size policy = %s", got)
	}
	cfg.Jobs.BatchSize = 0
	cfg.Jobs.BatchCount = 3
	if got := workflow.ChunkPolicy(cfg).String(); got != "count=3" {
		t.Fatalf("count policy = %s", got)
	}
}
