package persist

import (
	"fmt"
	"strings"

	"poseflow/internal/pipeline"
)

// SchemaError reports a table lacking required columns.
type SchemaError struct {
	Path    string
	Missing []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%s: missing required columns: %s", e.Path, strings.Join(e.Missing, ", "))
}

func (e *SchemaError) Unwrap() error { return pipeline.ErrConfiguration }
