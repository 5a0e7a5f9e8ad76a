package poses

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"

	"poseflow/internal/fileutil"
	"poseflow/internal/pipeline"
)

// Predicate selects records.
type Predicate func(Record) bool

// Filter returns a new store with the records pred accepts, in the same
// order and with the same columns. The receiver is not modified.
func (s *Store) Filter(pred Predicate) *Store {
	out := New()
	out.columns = slices.Clone(s.columns)
	maps.Copy(out.index, s.index)
	for _, id := range s.order {
		r := s.rows[id]
		if !pred(r.record(id)) {
			continue
		}
		out.order = append(out.order, id)
		out.rows[id] = &row{origin: r.origin, current: r.current, cells: maps.Clone(r.cells)}
	}
	return out
}

// Without drops the listed identities.
func (s *Store) Without(identities []string) *Store {
	drop := make(map[string]struct{}, len(identities))
	for _, id := range identities {
		drop[id] = struct{}{}
	}
	return s.Filter(func(r Record) bool {
		_, gone := drop[r.Identity]
		return !gone
	})
}

// HasValue accepts records whose column is present.
func HasValue(column string) Predicate {
	return func(r Record) bool { return !r.Value(column).IsMissing() }
}

// NumberAbove accepts records whose numeric column exceeds threshold.
func NumberAbove(column string, threshold float64) Predicate {
	return func(r Record) bool {
		f, ok := r.Value(column).Float()
		return ok && f > threshold
	}
}

// NumberBelow accepts records whose numeric column is below threshold.
func NumberBelow(column string, threshold float64) Predicate {
	return func(r Record) bool {
		f, ok := r.Value(column).Float()
		return ok && f < threshold
	}
}

// All accepts records every predicate accepts.
func All(preds ...Predicate) Predicate {
	return func(r Record) bool {
		for _, pred := range preds {
			if !pred(r) {
				return false
			}
		}
		return true
	}
}

// TopN keeps the n best-ranked records of a numeric column, lowest first
// when ascending. Records missing the column are never kept. Survivors keep
// their original order.
func (s *Store) TopN(column string, n int, ascending bool) (*Store, error) {
	col, ok := s.Column(column)
	if !ok {
		return nil, pipeline.Wrap(pipeline.ErrConfiguration, "", "rank", fmt.Sprintf("unknown column %q", column), nil)
	}
	if col.Kind != KindNumber {
		return nil, pipeline.Wrap(pipeline.ErrConfiguration, "", "rank", fmt.Sprintf("column %q is %s, not number", column, col.Kind), nil)
	}
	if n < 0 {
		return nil, pipeline.Wrap(pipeline.ErrConfiguration, "", "rank", "n must not be negative", nil)
	}

	ranked := make([]string, 0, len(s.order))
	for _, id := range s.order {
		if !s.rows[id].cells[column].IsMissing() {
			ranked = append(ranked, id)
		}
	}
	slices.SortStableFunc(ranked, func(a, b string) int {
		c := compare(s.rows[a].cells[column], s.rows[b].cells[column])
		if ascending {
			return c
		}
		return -c
	})
	keep := make(map[string]struct{}, n)
	for _, id := range ranked[:min(n, len(ranked))] {
		keep[id] = struct{}{}
	}
	return s.Filter(func(r Record) bool {
		_, ok := keep[r.Identity]
		return ok
	}), nil
}

// Relocate points every current path into dir, keeping file names. With
// copyFiles set the artifacts are copied there first. It returns the new
// paths by identity.
func (s *Store) Relocate(dir string, copyFiles bool) (map[string]string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, pipeline.Wrap(pipeline.ErrConfiguration, "", "relocate", "resolve "+dir, err)
	}
	if copyFiles {
		if err := os.MkdirAll(abs, 0o755); err != nil {
			return nil, fmt.Errorf("create relocation directory: %w", err)
		}
	}
	moved := make(map[string]string, len(s.order))
	for _, id := range s.order {
		current := s.rows[id].current
		target := filepath.Join(abs, filepath.Base(current))
		if copyFiles && target != current {
			if err := fileutil.CopyFileVerified(current, target); err != nil {
				return nil, fmt.Errorf("relocate %s: %w", id, err)
			}
		}
		moved[id] = target
	}
	if err := s.UpdatePaths(moved); err != nil {
		return nil, err
	}
	return moved, nil
}
