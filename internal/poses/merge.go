package poses

import (
	"fmt"
	"maps"
	"slices"

	"poseflow/internal/jobs"
	"poseflow/internal/pipeline"
)

// ConflictPolicy decides what a merge does with columns that already exist.
type ConflictPolicy int

const (
	// ConflictError refuses to merge into an existing column.
	ConflictError ConflictPolicy = iota
	// ConflictReplace overwrites cells of the identities being merged.
	ConflictReplace
	// ConflictSkip fills only cells that are currently Missing.
	ConflictSkip
)

func (p ConflictPolicy) String() string {
	switch p {
	case ConflictReplace:
		return "replace"
	case ConflictSkip:
		return "skip"
	default:
		return "error"
	}
}

// ParseConflictPolicy accepts "error", "replace", or "skip".
func ParseConflictPolicy(value string) (ConflictPolicy, error) {
	switch value {
	case "", "error":
		return ConflictError, nil
	case "replace":
		return ConflictReplace, nil
	case "skip":
		return ConflictSkip, nil
	}
	return ConflictError, pipeline.Wrap(pipeline.ErrConfiguration, "", "merge", fmt.Sprintf("unknown conflict policy %q", value), nil)
}

// MergeOptions controls MergeScores.
type MergeOptions struct {
	// Prefix is prepended as "<prefix>_" to score names and names the
	// location column "<prefix>_location".
	Prefix string
	Policy ConflictPolicy
}

// ColumnName applies the prefix to a score name.
func (o MergeOptions) ColumnName(score string) string {
	if o.Prefix == "" {
		return score
	}
	return o.Prefix + "_" + score
}

// LocationColumn names the column receiving each result's primary output.
func (o MergeOptions) LocationColumn() string {
	return o.ColumnName("location")
}

// CheckScores reports the first score of a successful result that would
// overwrite a reserved column or the location column filled from the
// result's primary output. Failed results never collide.
func (o MergeOptions) CheckScores(result jobs.Result) error {
	if !result.Succeeded() {
		return nil
	}
	location := ""
	if result.PrimaryOutput() != "" {
		location = o.LocationColumn()
	}
	for _, name := range slices.Sorted(maps.Keys(result.Scores)) {
		column := o.ColumnName(name)
		if reserved(column) || column == location {
			return &ScoreCollisionError{Identity: result.Identity, Score: name, Column: column}
		}
	}
	return nil
}

type cell struct {
	identity string
	column   string
	value    Value
}

// MergeScores joins successful results into the store by identity. Failed
// results contribute nothing. Results failing CheckScores are rejected. The
// store is unchanged when an error is returned.
func (s *Store) MergeScores(results []jobs.Result, opts MergeOptions) error {
	seen := make(map[string]struct{}, len(results))
	for _, result := range results {
		if !s.Has(result.Identity) {
			return &UnknownIdentityError{Identity: result.Identity, Operation: "merge"}
		}
		if _, dup := seen[result.Identity]; dup {
			return pipeline.Wrap(pipeline.ErrBookkeeping, opts.Prefix, "merge", fmt.Sprintf("identity %q appears in more than one result", result.Identity), nil)
		}
		seen[result.Identity] = struct{}{}
	}

	var cells []cell
	var newColumns []string
	kinds := make(map[string]Kind)
	for _, result := range results {
		if !result.Succeeded() {
			continue
		}
		if err := opts.CheckScores(result); err != nil {
			return err
		}
		incoming := make(map[string]Value, len(result.Scores)+1)
		for name, raw := range result.Scores {
			value, err := ValueOf(raw)
			if err != nil {
				return pipeline.Wrap(pipeline.ErrConfiguration, opts.Prefix, "merge", fmt.Sprintf("identity %q", result.Identity), err)
			}
			incoming[opts.ColumnName(name)] = value
		}
		if primary := result.PrimaryOutput(); primary != "" {
			incoming[opts.LocationColumn()] = Text(primary)
		}
		for _, column := range slices.Sorted(maps.Keys(incoming)) {
			value := incoming[column]
			known, seenColumn := kinds[column]
			if !seenColumn {
				known = KindMissing
				if existing, ok := s.Column(column); ok {
					known = existing.Kind
				} else {
					newColumns = append(newColumns, column)
				}
			}
			if !value.IsMissing() {
				if known != KindMissing && known != value.Kind() {
					return &ColumnKindError{Column: column, Want: known, Got: value.Kind()}
				}
				known = value.Kind()
			}
			kinds[column] = known
			cells = append(cells, cell{identity: result.Identity, column: column, value: value})
		}
	}

	if opts.Policy == ConflictError {
		for column := range kinds {
			if s.HasColumn(column) {
				return &ColumnConflictError{Column: column}
			}
		}
	}

	for _, column := range newColumns {
		if err := s.addColumn(Column{Name: column}); err != nil {
			return err
		}
	}
	for column, kind := range kinds {
		s.columns[s.index[column]].Kind = kind
	}

	for _, c := range cells {
		r := s.rows[c.identity]
		current := r.cells[c.column]
		if opts.Policy == ConflictSkip && !current.IsMissing() {
			continue
		}
		if c.value.IsMissing() {
			delete(r.cells, c.column)
			continue
		}
		r.cells[c.column] = c.value
	}
	return nil
}
