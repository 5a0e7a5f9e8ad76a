package jobs_test

import (
	"errors"
	"fmt"
	"reflect"
	"testing"

	"poseflow/internal/jobs"
	"poseflow/internal/pipeline"
)

func makeUnits(n int) []jobs.Unit {
	units := make([]jobs.Unit, n)
	for i := range units {
		units[i] = jobs.Unit{Identity: fmt.Sprintf("p%d", i), Command: "true"}
	}
	return units
}

func batchIDs(batches []jobs.Batch) [][]string {
	out := make([][]string, len(batches))
	for i, b := range batches {
		out[i] = b.Identities()
	}
	return out
}

func TestPartitionPolicies(t *testing.T) {
	tests := []struct {
		name   string
		n      int
		policy jobs.ChunkPolicy
		want   [][]string
	}{
		{"single", 3, jobs.ChunkPolicy{}, [][]string{{"p0", "p1", "p2"}}},
		{"size", 5, jobs.BatchSize(2), [][]string{{"p0", "p1"}, {"p2", "p3"}, {"p4"}}},
		{"count", 5, jobs.BatchCount(2), [][]string{{"p0", "p2", "p4"}, {"p1", "p3"}}},
		{"count exceeds units", 2, jobs.BatchCount(4), [][]string{{"p0"}, {"p1"}}},
		{"empty", 0, jobs.BatchSize(3), [][]string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			batches, err := jobs.Partition(makeUnits(tt.n), tt.policy)
			if err != nil {
				t.Fatalf("Partition: %v", err)
			}
			if got := batchIDs(batches); !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("batches = %v, want %v", got, tt.want)
			}
			for i, b := range batches {
				if b.Index != i || b.Name != fmt.Sprintf("batch_%04d", i+1) {
					t.Fatalf("batch %d labelled %q/%d", i, b.Name, b.Index)
				}
			}
		})
	}
}

func TestPartitionIsDeterministic(t *testing.T) {
	units := makeUnits(17)
	first, err := jobs.Partition(units, jobs.BatchCount(4))
	if err != nil {
		t.Fatalf("Partition: %v", err)
	}
	for range 5 {
		again, err := jobs.Partition(units, jobs.BatchCount(4))
		if err != nil {
			t.Fatalf("Partition: %v", err)
		}
		if !reflect.DeepEqual(batchIDs(first), batchIDs(again)) {
			t.Fatalf("partition changed between invocations")
		}
	}
}

func TestPartitionRejectsBadInput(t *testing.T) {
	dup := []jobs.Unit{{Identity: "a", Command: "true"}, {Identity: "a", Command: "true"}}
	if _, err := jobs.Partition(dup, jobs.ChunkPolicy{}); !errors.Is(err, jobs.ErrMalformedUnit) {
		t.Fatalf("expected ErrMalformedUnit for duplicate identity, got %v", err)
	}
	across := []jobs.Unit{
		{Identity: "a", Command: "true", Bundle: []jobs.Member{{Identity: "b"}}},
		{Identity: "c", Command: "true", Bundle: []jobs.Member{{Identity: "b"}}},
	}
	if _, err := jobs.Partition(across, jobs.BatchSize(1)); !errors.Is(err, jobs.ErrMalformedUnit) {
		t.Fatalf("expected ErrMalformedUnit for an identity in two bundles, got %v", err)
	}
	if _, err := jobs.Partition(makeUnits(2), jobs.ChunkPolicy{Size: 1, Count: 1}); !errors.Is(err, pipeline.ErrConfiguration) {
		t.Fatalf("expected configuration error for conflicting policy, got %v", err)
	}
	if _, err := jobs.Partition(makeUnits(2), jobs.BatchSize(-1)); err == nil {
		t.Fatal("expected error for negative size")
	}
}

func TestUnitValidate(t *testing.T) {
	tests := []struct {
		name string
		unit jobs.Unit
		ok   bool
	}{
		{"command", jobs.Unit{Identity: "a", Command: "echo hi"}, true},
		{"args", jobs.Unit{Identity: "a", Args: []string{"echo", "hi"}}, true},
		{"no identity", jobs.Unit{Command: "echo"}, false},
		{"no command", jobs.Unit{Identity: "a"}, false},
		{"both", jobs.Unit{Identity: "a", Command: "echo", Args: []string{"echo"}}, false},
		{"blank output", jobs.Unit{Identity: "a", Command: "echo", OutputPaths: []string{" "}}, false},
		{"bundle", jobs.Unit{Identity: "a", Command: "echo", Bundle: []jobs.Member{{Identity: "b"}, {Identity: "c"}}}, true},
		{"bundle blank identity", jobs.Unit{Identity: "a", Command: "echo", Bundle: []jobs.Member{{Identity: " "}}}, false},
		{"bundle repeats lead", jobs.Unit{Identity: "a", Command: "echo", Bundle: []jobs.Member{{Identity: "a"}}}, false},
		{"bundle blank output", jobs.Unit{Identity: "a", Command: "echo", Bundle: []jobs.Member{{Identity: "b", OutputPaths: []string{""}}}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.unit.Validate()
			if tt.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.ok {
				if !errors.Is(err, jobs.ErrMalformedUnit) || !errors.Is(err, pipeline.ErrConfiguration) {
					t.Fatalf("expected malformed unit configuration error, got %v", err)
				}
			}
		})
	}
}

func TestBatchIdentitiesExpandBundles(t *testing.T) {
	batch := jobs.Batch{Units: []jobs.Unit{
		{Identity: "a", Command: "x", Bundle: []jobs.Member{{Identity: "b"}}},
		{Identity: "c", Command: "x"},
	}}
	if got := batch.Identities(); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Fatalf("identities = %v", got)
	}
}

func TestUnitArgv(t *testing.T) {
	if got := (jobs.Unit{Command: "echo hi"}).Argv(); !reflect.DeepEqual(got, []string{"sh", "-c", "echo hi"}) {
		t.Fatalf("argv = %v", got)
	}
	if got := (jobs.Unit{Args: []string{"tool", "--flag"}}).Argv(); !reflect.DeepEqual(got, []string{"tool", "--flag"}) {
		t.Fatalf("argv = %v", got)
	}
}
