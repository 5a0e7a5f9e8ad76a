package poses

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"poseflow/internal/pipeline"
)

// Reserved column names of the persisted table.
const (
	ColumnIdentity    = "description"
	ColumnOriginPath  = "origin_path"
	ColumnCurrentPath = "current_path"
)

func reserved(name string) bool {
	return name == ColumnIdentity || name == ColumnOriginPath || name == ColumnCurrentPath
}

// Record is a copy of one row. Scores hold only present cells.
type Record struct {
	Identity    string
	OriginPath  string
	CurrentPath string
	Scores      map[string]Value
}

// Value returns the named score, or Missing.
func (r Record) Value(column string) Value {
	return r.Scores[column]
}

// Column is a typed score column.
type Column struct {
	Name string
	Kind Kind
}

type row struct {
	origin  string
	current string
	cells   map[string]Value
}

// Store is an ordered table of pose records keyed by identity.
type Store struct {
	order   []string
	rows    map[string]*row
	columns []Column
	index   map[string]int
}

// New returns an empty store.
func New() *Store {
	return &Store{rows: make(map[string]*row), index: make(map[string]int)}
}

// FromRows builds a store from decoded table data, enforcing the same
// invariants as ingestion. Record scores must name declared columns and
// match their kinds.
func FromRows(columns []Column, records []Record) (*Store, error) {
	s := New()
	for _, col := range columns {
		if err := s.addColumn(col); err != nil {
			return nil, err
		}
	}
	for _, rec := range records {
		if err := s.insert(rec.Identity, rec.OriginPath, rec.CurrentPath); err != nil {
			return nil, err
		}
		r := s.rows[rec.Identity]
		for name, value := range rec.Scores {
			if value.IsMissing() {
				continue
			}
			pos, ok := s.index[name]
			if !ok {
				return nil, pipeline.Wrap(pipeline.ErrConfiguration, "", "load", fmt.Sprintf("record %q has undeclared column %q", rec.Identity, name), nil)
			}
			if err := s.acceptKind(pos, value); err != nil {
				return nil, err
			}
			r.cells[name] = value
		}
	}
	return s, nil
}

func (s *Store) insert(identity, origin, current string) error {
	if strings.TrimSpace(identity) == "" {
		return pipeline.Wrap(pipeline.ErrConfiguration, "", "ingest", "empty identity", nil)
	}
	if _, exists := s.rows[identity]; exists {
		return &DuplicateIdentityError{Identity: identity}
	}
	s.order = append(s.order, identity)
	s.rows[identity] = &row{origin: origin, current: current, cells: make(map[string]Value)}
	return nil
}

func (s *Store) addColumn(col Column) error {
	switch {
	case col.Name == "":
		return pipeline.Wrap(pipeline.ErrConfiguration, "", "column", "empty column name", nil)
	case reserved(col.Name):
		return pipeline.Wrap(pipeline.ErrConfiguration, "", "column", fmt.Sprintf("%q is a reserved column", col.Name), nil)
	}
	if _, exists := s.index[col.Name]; exists {
		return &ColumnConflictError{Column: col.Name}
	}
	s.index[col.Name] = len(s.columns)
	s.columns = append(s.columns, col)
	return nil
}

// acceptKind types an untyped column on its first present value and rejects
// mismatches afterwards.
func (s *Store) acceptKind(pos int, value Value) error {
	if value.IsMissing() {
		return nil
	}
	col := &s.columns[pos]
	switch col.Kind {
	case KindMissing:
		col.Kind = value.Kind()
	case value.Kind():
	default:
		return &ColumnKindError{Column: col.Name, Want: col.Kind, Got: value.Kind()}
	}
	return nil
}

// Len reports the number of records.
func (s *Store) Len() int { return len(s.order) }

// Identities lists identities in row order.
func (s *Store) Identities() []string { return slices.Clone(s.order) }

// Columns lists score columns in first-seen order.
func (s *Store) Columns() []Column { return slices.Clone(s.columns) }

// HasColumn reports whether a score column exists.
func (s *Store) HasColumn(name string) bool {
	_, ok := s.index[name]
	return ok
}

// Column returns the named column.
func (s *Store) Column(name string) (Column, bool) {
	pos, ok := s.index[name]
	if !ok {
		return Column{}, false
	}
	return s.columns[pos], true
}

// Has reports whether identity is present.
func (s *Store) Has(identity string) bool {
	_, ok := s.rows[identity]
	return ok
}

// Record returns a copy of one row.
func (s *Store) Record(identity string) (Record, bool) {
	r, ok := s.rows[identity]
	if !ok {
		return Record{}, false
	}
	return r.record(identity), true
}

// Value returns one cell, or Missing for unknown rows or columns.
func (s *Store) Value(identity, column string) Value {
	r, ok := s.rows[identity]
	if !ok {
		return Missing()
	}
	return r.cells[column]
}

// Records returns copies of every row in order.
func (s *Store) Records() []Record {
	out := make([]Record, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.rows[id].record(id))
	}
	return out
}

func (r *row) record(identity string) Record {
	return Record{
		Identity:    identity,
		OriginPath:  r.origin,
		CurrentPath: r.current,
		Scores:      maps.Clone(r.cells),
	}
}

// Clone returns an independent copy.
func (s *Store) Clone() *Store {
	out := New()
	out.columns = slices.Clone(s.columns)
	maps.Copy(out.index, s.index)
	out.order = slices.Clone(s.order)
	for id, r := range s.rows {
		out.rows[id] = &row{origin: r.origin, current: r.current, cells: maps.Clone(r.cells)}
	}
	return out
}

// Assign replaces the contents of s with those of other. other shares its
// storage with s afterwards and should be discarded.
func (s *Store) Assign(other *Store) {
	*s = *other
}

// Equal compares row sets and column sets, ignoring their order.
func (s *Store) Equal(other *Store) bool {
	if other == nil || s.Len() != other.Len() || len(s.columns) != len(other.columns) {
		return false
	}
	for _, col := range s.columns {
		theirs, ok := other.Column(col.Name)
		if !ok || theirs.Kind != col.Kind {
			return false
		}
	}
	for id, mine := range s.rows {
		theirs, ok := other.rows[id]
		if !ok || mine.origin != theirs.origin || mine.current != theirs.current {
			return false
		}
		if !maps.EqualFunc(mine.cells, theirs.cells, Value.Equal) {
			return false
		}
	}
	return true
}

// UpdatePaths sets current_path for each identity in paths. Nothing changes
// when any identity is unknown.
func (s *Store) UpdatePaths(paths map[string]string) error {
	for id := range paths {
		if !s.Has(id) {
			return &UnknownIdentityError{Identity: id, Operation: "update paths"}
		}
	}
	for id, path := range paths {
		s.rows[id].current = path
	}
	return nil
}

// SortBy reorders rows by a score column. The sort is stable and Missing
// cells sort last in either direction.
func (s *Store) SortBy(column string, descending bool) error {
	if !s.HasColumn(column) {
		return pipeline.Wrap(pipeline.ErrConfiguration, "", "sort", fmt.Sprintf("unknown column %q", column), nil)
	}
	slices.SortStableFunc(s.order, func(a, b string) int {
		va, vb := s.rows[a].cells[column], s.rows[b].cells[column]
		if descending && !va.IsMissing() && !vb.IsMissing() {
			return compare(vb, va)
		}
		return compare(va, vb)
	})
	return nil
}
