package stage

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"poseflow/internal/fileutil"
	"poseflow/internal/jobs"
)

// scorefile is the saved outcome of one stage, kept next to the unit
// outputs so a later run can merge it without dispatching again.
type scorefile struct {
	Stage   string        `json:"stage"`
	RunID   string        `json:"run_id"`
	Written time.Time     `json:"written"`
	Results []jobs.Result `json:"results"`
}

// ScorefilePath is where a stage with prefix saves its results.
func ScorefilePath(workDir, prefix string) string {
	return filepath.Join(workDir, prefix, prefix+"_results.json")
}

func writeScorefile(path string, sf scorefile) error {
	return fileutil.WriteAtomic(path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(sf)
	})
}

func readScorefile(path string) (scorefile, error) {
	var sf scorefile
	data, err := os.ReadFile(path)
	if err != nil {
		return sf, err
	}
	if err := json.Unmarshal(data, &sf); err != nil {
		return sf, fmt.Errorf("decode %s: %w", path, err)
	}
	return sf, nil
}
