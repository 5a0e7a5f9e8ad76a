package preflight

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"poseflow/internal/config"
	"poseflow/internal/testsupport"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestRunAllLocalBackendChecksDirectoriesOnly(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}
	results := RunAll(context.Background(), cfg)
	if len(results) != 2 || !Passed(results) {
		t.Fatalf("unexpected results: %+v", results)
	}
}

func TestRunAllSlurmBackend(t *testing.T) {
	cfg := testsupport.NewConfig(t,
		testsupport.WithBackend(config.BackendSlurm),
		testsupport.WithStubbedBinaries("sbatch", "scancel"),
		testsupport.WithStubScript("sacct", `echo "slurm 23.02.7"`),
	)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}
	results := RunAll(context.Background(), cfg)
	if len(results) != 6 || !Passed(results) {
		t.Fatalf("unexpected results: %+v", results)
	}
	if got := results[5].Detail; got != "slurm 23.02.7" {
		t.Fatalf("scheduler detail = %q", got)
	}
}

func TestCheckSchedulerBinariesMissing(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithBackend(config.BackendSlurm))
	cfg.Cluster.SbatchBinary = "poseflow-missing-sbatch"
	results := CheckSchedulerBinaries(cfg)
	if results[0].Passed || !strings.Contains(results[0].Detail, "not found") {
		t.Fatalf("sbatch result = %+v", results[0])
	}
}

func TestCheckSchedulerRespondsFailure(t *testing.T) {
	testsupport.NewConfig(t, testsupport.WithStubScript("sacct", `echo "sacct: error: slurmdbd unreachable" >&2; exit 1`))
	result := CheckSchedulerResponds(context.Background(), "sacct")
	if result.Passed || !strings.Contains(result.Detail, "slurmdbd unreachable") {
		t.Fatalf("unexpected result: %+v", result)
	}
	if r := CheckSchedulerResponds(context.Background(), ""); r.Passed {
		t.Fatal("blank binary must fail")
	}
}
