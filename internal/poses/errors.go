package poses

import (
	"fmt"
	"strings"

	"poseflow/internal/pipeline"
)

// DuplicateIdentityError reports two inputs that derive the same identity.
type DuplicateIdentityError struct {
	Identity string
	Sources  []string
}

func (e *DuplicateIdentityError) Error() string {
	if len(e.Sources) == 0 {
		return fmt.Sprintf("duplicate identity %q", e.Identity)
	}
	return fmt.Sprintf("duplicate identity %q (from %s)", e.Identity, strings.Join(e.Sources, ", "))
}

func (e *DuplicateIdentityError) Unwrap() error { return pipeline.ErrConfiguration }

// UnknownIdentityError reports a result or path update naming a pose that is
// not in the store. It signals a dispatch/merge pairing bug.
type UnknownIdentityError struct {
	Identity  string
	Operation string
}

func (e *UnknownIdentityError) Error() string {
	return fmt.Sprintf("%s: unknown identity %q", e.Operation, e.Identity)
}

func (e *UnknownIdentityError) Unwrap() error { return pipeline.ErrBookkeeping }

// ColumnConflictError reports a merge into an existing column without an
// explicit replace or skip policy.
type ColumnConflictError struct {
	Column string
}

func (e *ColumnConflictError) Error() string {
	return fmt.Sprintf("column %q already exists; choose replace or skip", e.Column)
}

func (e *ColumnConflictError) Unwrap() error { return pipeline.ErrConfiguration }

// ColumnKindError reports a value whose kind differs from its column.
type ColumnKindError struct {
	Column string
	Want   Kind
	Got    Kind
}

func (e *ColumnKindError) Error() string {
	return fmt.Sprintf("column %q holds %s values, got %s", e.Column, e.Want, e.Got)
}

func (e *ColumnKindError) Unwrap() error { return pipeline.ErrConfiguration }

// ScoreCollisionError reports a result score that would land in a reserved
// column or in the column holding the result's primary output.
type ScoreCollisionError struct {
	Identity string
	Score    string
	Column   string
}

func (e *ScoreCollisionError) Error() string {
	return fmt.Sprintf("identity %q: score %q collides with column %q", e.Identity, e.Score, e.Column)
}

func (e *ScoreCollisionError) Unwrap() error { return pipeline.ErrConfiguration }
