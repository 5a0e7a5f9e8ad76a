package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"poseflow/internal/persist"
	"poseflow/internal/testsupport"
)

const scoreCommand = `test {identity} != b && cp {path} {output} && printf '{"score": 1.5}' > {dir}/{identity}.json`

func ingestABC(t *testing.T, env *cliTestEnv) string {
	t.Helper()
	testsupport.WritePoses(t, filepath.Join(env.baseDir, "inputs"), "a", "b", "c")
	table := filepath.Join(env.baseDir, "poses.json")
	if _, _, err := runCLI(t, []string{"ingest", "--dir", filepath.Join(env.baseDir, "inputs"), "--out", table}, ""); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	return table
}

func stageArgs(table string, extra ...string) []string {
	args := []string{
		"run", table,
		"--prefix", "stage1",
		"--command", scoreCommand,
		"--output", "{identity}_scored.pdb",
		"--score-file", "{identity}.json",
		"--batch-count", "2",
	}
	return append(args, extra...)
}

func TestRunFilterAndRunsScenario(t *testing.T) {
	env := setupCLITestEnv(t, testsupport.WithFormat("json"))
	table := ingestABC(t, env)

	out, _, err := runCLI(t, stageArgs(table, "--json", "--update-paths"), env.configPath)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	var summary runSummary
	if err := json.Unmarshal([]byte(out), &summary); err != nil {
		t.Fatalf("decode summary: %v\n%s", err, out)
	}
	if summary.State != "checkpointed" || summary.Merged != 2 || summary.Batches != 2 {
		t.Fatalf("summary = %+v", summary)
	}
	if len(summary.Failed) != 1 || summary.Failed[0].Identity != "b" {
		t.Fatalf("failed = %+v", summary.Failed)
	}

	store, err := persist.Load(table)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got, _ := store.Value("a", "stage1_score").Float(); got != 1.5 {
		t.Fatalf("a stage1_score = %v", got)
	}
	if !store.Value("b", "stage1_score").IsMissing() {
		t.Fatal("b must not have a score")
	}
	rec, _ := store.Record("c")
	if !strings.HasSuffix(rec.CurrentPath, "c_scored.pdb") {
		t.Fatalf("c current path = %s", rec.CurrentPath)
	}

	kept := filepath.Join(env.baseDir, "kept.csv")
	out, _, err = runCLI(t, []string{"filter", table, "--has", "stage1_score", "--out", kept}, "")
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	requireContains(t, out, "Kept 2 of 3 poses")
	filtered, err := persist.Load(kept)
	if err != nil {
		t.Fatalf("load filtered: %v", err)
	}
	if got := filtered.Identities(); !slices.Equal(got, []string{"a", "c"}) {
		t.Fatalf("filtered = %v", got)
	}

	out, _, err = runCLI(t, []string{"runs"}, env.configPath)
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	requireContains(t, out, summary.RunID)
	requireContains(t, out, "checkpointed")

	out, _, err = runCLI(t, []string{"runs", "show", summary.RunID, "--failed", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("runs show: %v", err)
	}
	var detail struct {
		Run struct {
			Stage  string `json:"stage"`
			Failed int    `json:"failed"`
		} `json:"run"`
		Results []struct {
			Identity string `json:"identity"`
			Status   string `json:"status"`
		} `json:"results"`
	}
	if err := json.Unmarshal([]byte(out), &detail); err != nil {
		t.Fatalf("decode detail: %v\n%s", err, out)
	}
	if detail.Run.Stage != "stage1" || detail.Run.Failed != 1 || len(detail.Results) != 1 || detail.Results[0].Identity != "b" {
		t.Fatalf("detail = %+v", detail)
	}

	if _, _, err := runCLI(t, []string{"runs", "show", "missing-run"}, env.configPath); err == nil {
		t.Fatal("expected unknown run error")
	}
}

func TestRunTextSummaryAndDropFailed(t *testing.T) {
	env := setupCLITestEnv(t)
	table := ingestABC(t, env)
	outTable := filepath.Join(env.baseDir, "stage1.yaml")

	out, _, err := runCLI(t, stageArgs(table, "--drop-failed", "--out", outTable), env.configPath)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	requireContains(t, out, "== Stage Stage1 ==")
	requireContains(t, out, "Dropped")
	requireContains(t, out, "exit status")

	store, err := persist.Load(outTable)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := store.Identities(); !slices.Equal(got, []string{"a", "c"}) {
		t.Fatalf("identities = %v", got)
	}
	original, err := persist.Load(table)
	if err != nil {
		t.Fatalf("load input: %v", err)
	}
	if original.HasColumn("stage1_score") {
		t.Fatal("input table must be left untouched when --out is set")
	}
}

func TestRunStrictAndConflicts(t *testing.T) {
	env := setupCLITestEnv(t)
	table := ingestABC(t, env)

	if _, _, err := runCLI(t, stageArgs(table, "--strict"), env.configPath); err == nil {
		t.Fatal("expected --strict to fail when b fails")
	}

	// The first run wrote stage1 columns; a second run must opt into a policy.
	if _, _, err := runCLI(t, stageArgs(table), env.configPath); err == nil {
		t.Fatal("expected column conflict")
	}
	if _, _, err := runCLI(t, stageArgs(table, "--merge", "replace"), env.configPath); err != nil {
		t.Fatalf("run --merge replace: %v", err)
	}
	if _, _, err := runCLI(t, stageArgs(table, "--merge", "sometimes"), env.configPath); err == nil {
		t.Fatal("expected unknown merge policy error")
	}
	if _, _, err := runCLI(t, stageArgs(table, "--batch-size", "1"), env.configPath); err == nil {
		t.Fatal("expected mutually exclusive chunking error")
	}
}

func TestRunBundlesPoses(t *testing.T) {
	env := setupCLITestEnv(t, testsupport.WithFormat("json"))
	table := ingestABC(t, env)
	bundleCommand := `grep -o '"identity": "[^"]*"' {manifest} | cut -d'"' -f4 | while read -r id; do printf '{"score": 2}' > {dir}/"$id".json; done`

	out, _, err := runCLI(t, []string{
		"run", table,
		"--prefix", "edit",
		"--command", bundleCommand,
		"--score-file", "{identity}.json",
		"--bundle", "2",
		"--json",
	}, env.configPath)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	var summary runSummary
	if err := json.Unmarshal([]byte(out), &summary); err != nil {
		t.Fatalf("decode summary: %v\n%s", err, out)
	}
	if summary.Merged != 3 || len(summary.Failed) != 0 {
		t.Fatalf("summary = %+v", summary)
	}
	for _, name := range []string{"bundle_0001.json", "bundle_0002.json"} {
		if _, err := os.Stat(filepath.Join(env.cfg.Paths.WorkDir, "edit", "inputs", name)); err != nil {
			t.Fatalf("manifest %s: %v", name, err)
		}
	}

	_, _, err = runCLI(t, []string{"run", table, "--prefix", "bad", "--command", "relax {path}", "--bundle", "2"}, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "{manifest}") {
		t.Fatalf("expected per-pose placeholder rejection, got %v", err)
	}
}
