package deps

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCheckBinaries(t *testing.T) {
	dir := t.TempDir()
	stub := filepath.Join(dir, "sbatch")
	if err := os.WriteFile(stub, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PATH", dir)

	statuses := CheckBinaries([]Requirement{
		{Name: "sbatch", Command: "sbatch"},
		{Name: "sacct", Command: "sacct"},
		{Name: "sinfo", Command: "sinfo", Optional: true},
		{Name: "blank", Command: "  "},
	})
	if len(statuses) != 4 {
		t.Fatalf("got %d statuses", len(statuses))
	}
	if !statuses[0].Available || statuses[0].Path != stub {
		t.Fatalf("sbatch = %+v", statuses[0])
	}
	if statuses[1].Available || statuses[1].Detail == "" {
		t.Fatalf("sacct = %+v", statuses[1])
	}
	if statuses[3].Detail != "command not configured" {
		t.Fatalf("blank = %+v", statuses[3])
	}

	missing := Missing(statuses)
	if len(missing) != 2 || missing[0].Name != "sacct" || missing[1].Name != "blank" {
		t.Fatalf("missing = %+v", missing)
	}
}
