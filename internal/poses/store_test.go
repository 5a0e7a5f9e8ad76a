package poses_test

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"poseflow/internal/jobs"
	"poseflow/internal/pipeline"
	"poseflow/internal/poses"
)

func writeInputs(t *testing.T, dir string, names ...string) []string {
	t.Helper()
	paths := make([]string, len(names))
	for i, name := range names {
		paths[i] = filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(paths[i]), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(paths[i], []byte(name), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return paths
}

func ingest(t *testing.T, names ...string) *poses.Store {
	t.Helper()
	store, err := poses.Ingest(writeInputs(t, t.TempDir(), names...), poses.IngestOptions{})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	return store
}

func success(id string, scores map[string]any, outputs ...string) jobs.Result {
	return jobs.Result{Identity: id, Status: jobs.ResultSuccess, Scores: scores, OutputPaths: outputs}
}

func TestIngestDerivesIdentities(t *testing.T) {
	store := ingest(t, "a.pdb", "b.pdb", "c.pdb")
	if store.Len() != 3 {
		t.Fatalf("Len = %d", store.Len())
	}
	if got := store.Identities(); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Fatalf("identities = %v", got)
	}
	if len(store.Columns()) != 0 {
		t.Fatalf("expected no score columns, got %v", store.Columns())
	}
	rec, ok := store.Record("b")
	if !ok || rec.OriginPath != rec.CurrentPath || !filepath.IsAbs(rec.OriginPath) {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestIngestRejectsDuplicates(t *testing.T) {
	dir := t.TempDir()
	paths := writeInputs(t, dir, "one/a.pdb", "two/a.pdb")
	_, err := poses.Ingest(paths, poses.IngestOptions{})
	var dup *poses.DuplicateIdentityError
	if !errors.As(err, &dup) || dup.Identity != "a" || len(dup.Sources) != 2 {
		t.Fatalf("expected DuplicateIdentityError for a, got %v", err)
	}
	if !errors.Is(err, pipeline.ErrConfiguration) {
		t.Fatalf("duplicate identity should be a configuration error")
	}
}

func TestIngestDisambiguates(t *testing.T) {
	dir := t.TempDir()
	paths := writeInputs(t, dir, "one/a.pdb", "two/a.pdb", "a_0002.pdb", "three/a.pdb")
	store, err := poses.Ingest(paths, poses.IngestOptions{Disambiguate: true})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	want := []string{"a", "a_0003", "a_0002", "a_0004"}
	if got := store.Identities(); !reflect.DeepEqual(got, want) {
		t.Fatalf("identities = %v, want %v", got, want)
	}
}

func TestIngestDirFiltersAndSorts(t *testing.T) {
	dir := t.TempDir()
	writeInputs(t, dir, "c.pdb", "a.pdb", "notes.txt", "b.pdb")
	store, err := poses.IngestDir(dir, ".pdb", poses.IngestOptions{})
	if err != nil {
		t.Fatalf("IngestDir: %v", err)
	}
	if got := store.Identities(); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Fatalf("identities = %v", got)
	}
	if _, err := poses.IngestDir(dir, ".cif", poses.IngestOptions{}); !errors.Is(err, pipeline.ErrConfiguration) {
		t.Fatalf("expected configuration error for empty match, got %v", err)
	}
}

func TestMergeScoresPrefixAndLocation(t *testing.T) {
	store := ingest(t, "a.pdb", "b.pdb")
	results := []jobs.Result{
		success("a", map[string]any{"score": 1.5, "chain": "A"}, "/out/a_0001.pdb"),
		{Identity: "b", Status: jobs.ResultFailure, Diagnostic: "exit status 1"},
	}
	if err := store.MergeScores(results, poses.MergeOptions{Prefix: "relax"}); err != nil {
		t.Fatalf("MergeScores: %v", err)
	}
	if f, ok := store.Value("a", "relax_score").Float(); !ok || f != 1.5 {
		t.Fatalf("relax_score = %v", store.Value("a", "relax_score"))
	}
	if s, _ := store.Value("a", "relax_location").Str(); s != "/out/a_0001.pdb" {
		t.Fatalf("relax_location = %q", s)
	}
	if !store.Value("b", "relax_score").IsMissing() {
		t.Fatalf("failed identity must stay missing")
	}
	col, _ := store.Column("relax_chain")
	if col.Kind != poses.KindText {
		t.Fatalf("relax_chain kind = %s", col.Kind)
	}
}

func TestMergeIsNonDestructive(t *testing.T) {
	store := ingest(t, "a.pdb", "b.pdb", "c.pdb")
	first := []jobs.Result{
		success("a", map[string]any{"x": 1.0}),
		success("b", map[string]any{"x": 2.0}),
		success("c", map[string]any{"x": 3.0}),
	}
	if err := store.MergeScores(first, poses.MergeOptions{Prefix: "s1"}); err != nil {
		t.Fatalf("merge s1: %v", err)
	}
	before := store.Clone()

	second := []jobs.Result{success("b", map[string]any{"y": "ok"})}
	if err := store.MergeScores(second, poses.MergeOptions{Prefix: "s2"}); err != nil {
		t.Fatalf("merge s2: %v", err)
	}
	for _, id := range []string{"a", "b", "c"} {
		if !store.Value(id, "s1_x").Equal(before.Value(id, "s1_x")) {
			t.Fatalf("s1_x changed for %s", id)
		}
	}
	if !store.Value("a", "s2_y").IsMissing() || !store.Value("c", "s2_y").IsMissing() {
		t.Fatalf("unmerged identities gained values")
	}
}

func TestMergeConflictPolicies(t *testing.T) {
	newStore := func(t *testing.T) *poses.Store {
		store := ingest(t, "a.pdb", "b.pdb")
		seed := []jobs.Result{success("a", map[string]any{"score": 1.0})}
		if err := store.MergeScores(seed, poses.MergeOptions{Prefix: "dock"}); err != nil {
			t.Fatalf("seed merge: %v", err)
		}
		return store
	}
	rerun := []jobs.Result{
		success("a", map[string]any{"score": 9.0}),
		success("b", map[string]any{"score": 5.0}),
	}

	t.Run("error", func(t *testing.T) {
		store := newStore(t)
		before := store.Clone()
		err := store.MergeScores(rerun, poses.MergeOptions{Prefix: "dock"})
		var conflict *poses.ColumnConflictError
		if !errors.As(err, &conflict) || conflict.Column != "dock_score" {
			t.Fatalf("expected ColumnConflictError, got %v", err)
		}
		if !store.Equal(before) {
			t.Fatalf("store changed on conflict")
		}
	})
	t.Run("replace", func(t *testing.T) {
		store := newStore(t)
		if err := store.MergeScores(rerun, poses.MergeOptions{Prefix: "dock", Policy: poses.ConflictReplace}); err != nil {
			t.Fatal(err)
		}
		if f, _ := store.Value("a", "dock_score").Float(); f != 9 {
			t.Fatalf("a = %v", f)
		}
	})
	t.Run("skip", func(t *testing.T) {
		store := newStore(t)
		if err := store.MergeScores(rerun, poses.MergeOptions{Prefix: "dock", Policy: poses.ConflictSkip}); err != nil {
			t.Fatal(err)
		}
		if f, _ := store.Value("a", "dock_score").Float(); f != 1 {
			t.Fatalf("a = %v, want kept 1", f)
		}
		if f, _ := store.Value("b", "dock_score").Float(); f != 5 {
			t.Fatalf("b = %v, want filled 5", f)
		}
	})
}

func TestMergeRejectsBadResults(t *testing.T) {
	store := ingest(t, "a.pdb")
	before := store.Clone()

	err := store.MergeScores([]jobs.Result{success("a", map[string]any{"s": 1.0}), success("zzz", nil)}, poses.MergeOptions{Prefix: "p"})
	var unknown *poses.UnknownIdentityError
	if !errors.As(err, &unknown) || !errors.Is(err, pipeline.ErrBookkeeping) {
		t.Fatalf("expected UnknownIdentityError, got %v", err)
	}
	if !store.Equal(before) || store.HasColumn("p_s") {
		t.Fatalf("store mutated on bookkeeping error")
	}

	if err := store.MergeScores([]jobs.Result{success("a", map[string]any{"s": 1.0})}, poses.MergeOptions{Prefix: "p"}); err != nil {
		t.Fatal(err)
	}
	err = store.MergeScores([]jobs.Result{success("a", map[string]any{"s": "high"})}, poses.MergeOptions{Prefix: "p", Policy: poses.ConflictReplace})
	var kind *poses.ColumnKindError
	if !errors.As(err, &kind) || kind.Want != poses.KindNumber || kind.Got != poses.KindText {
		t.Fatalf("expected ColumnKindError, got %v", err)
	}

	err = store.MergeScores([]jobs.Result{success("a", map[string]any{"current_path": "x"})}, poses.MergeOptions{})
	var collision *poses.ScoreCollisionError
	if !errors.As(err, &collision) || collision.Column != "current_path" || !errors.Is(err, pipeline.ErrConfiguration) {
		t.Fatalf("expected reserved column rejection, got %v", err)
	}
}

func TestCheckScores(t *testing.T) {
	withOutput := func(scores map[string]any) jobs.Result {
		return success("a", scores, "/out/a.pdb")
	}
	tests := []struct {
		name   string
		opts   poses.MergeOptions
		result jobs.Result
		column string
	}{
		{"plain score", poses.MergeOptions{Prefix: "p"}, withOutput(map[string]any{"energy": 1.0}), ""},
		{"location with output", poses.MergeOptions{Prefix: "p"}, withOutput(map[string]any{"location": "x"}), "p_location"},
		{"location without output", poses.MergeOptions{Prefix: "p"}, success("a", map[string]any{"location": "x"}), ""},
		{"description unprefixed", poses.MergeOptions{}, success("a", map[string]any{"description": "x"}), "description"},
		{"description prefixed", poses.MergeOptions{Prefix: "p"}, success("a", map[string]any{"description": "x"}), ""},
		{"failed result", poses.MergeOptions{}, jobs.Result{Identity: "a", Status: jobs.ResultFailure, Scores: map[string]any{"origin_path": "x"}}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.CheckScores(tt.result)
			if tt.column == "" {
				if err != nil {
					t.Fatalf("unexpected collision: %v", err)
				}
				return
			}
			var collision *poses.ScoreCollisionError
			if !errors.As(err, &collision) || collision.Column != tt.column {
				t.Fatalf("expected collision on %s, got %v", tt.column, err)
			}
		})
	}
}

func TestFilterAndScenario(t *testing.T) {
	store := ingest(t, "a.pdb", "b.pdb", "c.pdb")
	results := []jobs.Result{
		success("a", map[string]any{"score": 0.4}),
		{Identity: "b", Status: jobs.ResultFailure},
		success("c", map[string]any{"score": 0.9}),
	}
	if err := store.MergeScores(results, poses.MergeOptions{Prefix: "stage1"}); err != nil {
		t.Fatal(err)
	}
	kept := store.Filter(poses.HasValue("stage1_score"))
	if got := kept.Identities(); !reflect.DeepEqual(got, []string{"a", "c"}) {
		t.Fatalf("filtered = %v", got)
	}
	if store.Len() != 3 {
		t.Fatalf("filter mutated source")
	}
	if got := store.Filter(poses.NumberAbove("stage1_score", 0.5)).Identities(); !reflect.DeepEqual(got, []string{"c"}) {
		t.Fatalf("above = %v", got)
	}
	if got := store.Filter(poses.All(poses.HasValue("stage1_score"), poses.NumberBelow("stage1_score", 0.5))).Identities(); !reflect.DeepEqual(got, []string{"a"}) {
		t.Fatalf("below = %v", got)
	}
	if got := store.Without([]string{"b"}).Identities(); !reflect.DeepEqual(got, []string{"a", "c"}) {
		t.Fatalf("without = %v", got)
	}
}

func TestTopNAndSortBy(t *testing.T) {
	store := ingest(t, "a.pdb", "b.pdb", "c.pdb", "d.pdb")
	results := []jobs.Result{
		success("a", map[string]any{"e": 3.0}),
		success("b", map[string]any{"e": 1.0}),
		success("c", map[string]any{"e": nil}),
		success("d", map[string]any{"e": 2.0}),
	}
	if err := store.MergeScores(results, poses.MergeOptions{}); err != nil {
		t.Fatal(err)
	}
	top, err := store.TopN("e", 2, true)
	if err != nil {
		t.Fatalf("TopN: %v", err)
	}
	if got := top.Identities(); !reflect.DeepEqual(got, []string{"b", "d"}) {
		t.Fatalf("top = %v", got)
	}
	if _, err := store.TopN("nope", 1, true); err == nil {
		t.Fatal("expected error for unknown column")
	}

	if err := store.SortBy("e", true); err != nil {
		t.Fatalf("SortBy: %v", err)
	}
	if got := store.Identities(); !reflect.DeepEqual(got, []string{"a", "d", "b", "c"}) {
		t.Fatalf("sorted desc = %v", got)
	}
	if err := store.SortBy("e", false); err != nil {
		t.Fatal(err)
	}
	if got := store.Identities(); !reflect.DeepEqual(got, []string{"b", "d", "a", "c"}) {
		t.Fatalf("sorted asc = %v", got)
	}
}

func TestUpdatePathsAndRelocate(t *testing.T) {
	store := ingest(t, "a.pdb", "b.pdb")
	if err := store.UpdatePaths(map[string]string{"a": "/x/a.pdb", "ghost": "/x/g.pdb"}); err == nil {
		t.Fatal("expected unknown identity error")
	}
	if rec, _ := store.Record("a"); rec.CurrentPath == "/x/a.pdb" {
		t.Fatal("partial update applied")
	}

	target := filepath.Join(t.TempDir(), "moved")
	moved, err := store.Relocate(target, true)
	if err != nil {
		t.Fatalf("Relocate: %v", err)
	}
	for id, path := range moved {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("copied file for %s missing: %v", id, err)
		}
		rec, _ := store.Record(id)
		if rec.CurrentPath != path || rec.OriginPath == path {
			t.Fatalf("record %s not relocated: %+v", id, rec)
		}
	}
}

func TestFromRowsValidates(t *testing.T) {
	cols := []poses.Column{{Name: "score", Kind: poses.KindNumber}}
	records := []poses.Record{
		{Identity: "a", OriginPath: "/a", CurrentPath: "/a", Scores: map[string]poses.Value{"score": poses.Number(1)}},
		{Identity: "b", OriginPath: "/b", CurrentPath: "/b"},
	}
	store, err := poses.FromRows(cols, records)
	if err != nil {
		t.Fatalf("FromRows: %v", err)
	}
	if !store.Value("b", "score").IsMissing() {
		t.Fatal("absent cell should be missing")
	}

	dup := append(records, poses.Record{Identity: "a", OriginPath: "/a2", CurrentPath: "/a2"})
	var dupErr *poses.DuplicateIdentityError
	if _, err := poses.FromRows(cols, dup); !errors.As(err, &dupErr) {
		t.Fatalf("expected duplicate identity error, got %v", err)
	}

	wrongKind := []poses.Record{{Identity: "a", Scores: map[string]poses.Value{"score": poses.Text("x")}}}
	if _, err := poses.FromRows(cols, wrongKind); err == nil {
		t.Fatal("expected kind error")
	}
	undeclared := []poses.Record{{Identity: "a", Scores: map[string]poses.Value{"other": poses.Number(1)}}}
	if _, err := poses.FromRows(cols, undeclared); err == nil {
		t.Fatal("expected undeclared column error")
	}
}

func TestValueSemantics(t *testing.T) {
	if !poses.Text("").IsMissing() {
		t.Fatal("empty text should be missing")
	}
	var zero poses.Value
	if !zero.IsMissing() || zero.String() != "" {
		t.Fatal("zero value should be missing")
	}
	if v, err := poses.ValueOf(3); err != nil || v.String() != "3" {
		t.Fatalf("ValueOf(3) = %v, %v", v, err)
	}
	if _, err := poses.ValueOf([]int{1}); err == nil {
		t.Fatal("expected unsupported type error")
	}
	for _, name := range []string{"number", "text", "missing"} {
		kind, err := poses.ParseKind(name)
		if err != nil || kind.String() != name {
			t.Fatalf("ParseKind(%s) = %v, %v", name, kind, err)
		}
	}
}
