package main

import (
	"bytes"
	"strings"
	"testing"

	"poseflow/internal/stage"
)

func TestReportWritesPlainFieldsToBuffers(t *testing.T) {
	var buf bytes.Buffer
	r := newReport(&buf)
	if r.color {
		t.Fatal("buffers are not terminals")
	}
	r.section("Stage relax")
	r.field("State", toneOK, "checkpointed")
	r.fieldf("Merged", toneOK, "%d", 3)
	r.field("Empty", toneWarn, "")

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	want := []string{
		"== Stage relax ==",
		"-----------------",
		"  State:               [OK] checkpointed",
		"  Merged:              [OK] 3",
		"  Empty:               [WARN]",
	}
	if len(lines) != len(want) {
		t.Fatalf("lines = %q", lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Fatalf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestReportColorsWholeField(t *testing.T) {
	var buf bytes.Buffer
	r := &report{out: &buf, color: true}
	r.field("State", toneError, "failed")
	got := buf.String()
	if !strings.HasPrefix(got, tones[toneError].color) || !strings.HasSuffix(got, colorReset+"\n") {
		t.Fatalf("colored field = %q", got)
	}
}

func TestRenderTablePadsShortRows(t *testing.T) {
	out := renderTable([]column{{title: "Identity"}, {title: "Exit", numeric: true}}, [][]string{{"a", "2"}, {"b"}})
	for _, want := range []string{"Identity", "Exit", "a", "2", "b"} {
		if !strings.Contains(out, want) {
			t.Fatalf("table missing %q:\n%s", want, out)
		}
	}
	if renderTable(nil, nil) != "" {
		t.Fatal("table without columns should render nothing")
	}
}

func TestPrintRunSummaryListsFailures(t *testing.T) {
	var buf bytes.Buffer
	printRunSummary(newReport(&buf), runSummary{
		RunID:      "run-1",
		Stage:      "relax",
		Backend:    "local",
		State:      string(stage.StateCheckpointed),
		Batches:    2,
		Merged:     1,
		Failed:     []stage.Failure{{Identity: "b", Batch: "relax_0002", ExitCode: 3, Diagnostic: "loading\nsegfault\n"}},
		Output:     "/tmp/poses.csv",
		DurationMS: 1500,
	}, true)

	out := buf.String()
	for _, want := range []string{
		"[WARN] checkpointed",
		"[INFO] 2 (reused: no)",
		"Failed:",
		"Duration:            [INFO] 1.5s",
		"relax_0002",
		"segfault",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("summary missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "loading") {
		t.Fatalf("only the last diagnostic line belongs in the table:\n%s", out)
	}
}
