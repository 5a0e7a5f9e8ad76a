package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

// ResultStatus is the per-unit outcome.
type ResultStatus string

const (
	ResultSuccess ResultStatus = "success"
	ResultFailure ResultStatus = "failure"
)

// Result is the outcome of one unit. Scores hold float64, string, or nil
// values as decoded from the unit's score file.
type Result struct {
	Identity    string         `json:"identity"`
	Status      ResultStatus   `json:"status"`
	OutputPaths []string       `json:"output_paths,omitempty"`
	Scores      map[string]any `json:"scores,omitempty"`
	Diagnostic  string         `json:"diagnostic,omitempty"`
	ExitCode    int            `json:"exit_code"`
}

// Succeeded reports whether the unit produced usable output.
func (r Result) Succeeded() bool { return r.Status == ResultSuccess }

// PrimaryOutput is the first expected output, or "" when none was declared.
func (r Result) PrimaryOutput() string {
	if len(r.OutputPaths) == 0 {
		return ""
	}
	return r.OutputPaths[0]
}

// Failed builds failure results for every pose of a unit that never
// produced an outcome.
func Failed(unit Unit, diagnostic string) []Result {
	members := unit.Members()
	results := make([]Result, len(members))
	for i, m := range members {
		results[i] = Result{Identity: m.Identity, Status: ResultFailure, Diagnostic: diagnostic, ExitCode: -1}
	}
	return results
}

// ResolveUnit judges an execution outcome and returns one Result per pose
// of the unit. A run error or a non-zero exit fails every pose. A missing
// expected output or an unreadable score file fails only the pose it
// belongs to.
func ResolveUnit(unit Unit, exitCode int, runErr error, diagnostic string) []Result {
	tail := strings.TrimSpace(diagnostic)
	switch {
	case runErr != nil:
		return failAll(unit, exitCode, joinDiagnostic(runErr.Error(), tail))
	case exitCode != 0:
		return failAll(unit, exitCode, joinDiagnostic(fmt.Sprintf("exit status %d", exitCode), tail))
	}
	members := unit.Members()
	results := make([]Result, len(members))
	for i, m := range members {
		results[i] = resolveMember(m, exitCode, tail)
	}
	return results
}

func failAll(unit Unit, exitCode int, diagnostic string) []Result {
	results := Failed(unit, diagnostic)
	for i := range results {
		results[i].ExitCode = exitCode
	}
	return results
}

func resolveMember(m Member, exitCode int, tail string) Result {
	result := Result{Identity: m.Identity, ExitCode: exitCode, Status: ResultFailure}
	for _, path := range m.OutputPaths {
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				result.Diagnostic = joinDiagnostic("missing expected output "+path, tail)
			} else {
				result.Diagnostic = joinDiagnostic(fmt.Sprintf("stat output %s: %v", path, err), tail)
			}
			return result
		}
	}

	if m.ScoreFile != "" {
		scores, err := ReadScoreFile(m.ScoreFile)
		if err != nil {
			result.Diagnostic = joinDiagnostic(err.Error(), tail)
			return result
		}
		result.Scores = scores
	}

	result.Status = ResultSuccess
	result.OutputPaths = append([]string(nil), m.OutputPaths...)
	return result
}

// ReadScoreFile decodes a flat JSON object of scores. Booleans become 0 or 1
// and nested values are kept as their JSON text.
func ReadScoreFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read score file: %w", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode score file %s: %w", path, err)
	}
	scores := make(map[string]any, len(raw))
	for key, value := range raw {
		switch v := value.(type) {
		case nil, float64, string:
			scores[key] = v
		case bool:
			if v {
				scores[key] = float64(1)
			} else {
				scores[key] = float64(0)
			}
		default:
			encoded, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("encode score %q: %w", key, err)
			}
			scores[key] = string(encoded)
		}
	}
	return scores, nil
}

func joinDiagnostic(head, tail string) string {
	if tail == "" {
		return head
	}
	return head + ": " + tail
}
