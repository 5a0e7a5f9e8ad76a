package stage

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"poseflow/internal/fileutil"
	"poseflow/internal/jobs"
	"poseflow/internal/pipeline"
	"poseflow/internal/poses"
	"poseflow/internal/textutil"
)

// UnitBuilder turns a record into the job unit that processes it. dir is the
// stage directory and already exists.
type UnitBuilder func(rec poses.Record, dir string) (jobs.Unit, error)

// BundleBuilder turns consecutive records into one unit that processes all
// of them. index numbers bundles from zero in store order.
type BundleBuilder func(index int, recs []poses.Record, dir string) (jobs.Unit, error)

// Definition describes one stage invocation.
type Definition struct {
	// Name labels logs and the ledger. Defaults to Prefix.
	Name string
	// Prefix names the stage directory and prefixes merged score columns.
	Prefix   string
	Build    UnitBuilder
	// BuildBundle replaces Build when several poses share one invocation.
	// Each unit covers BundleSize consecutive poses; the last may be short.
	BuildBundle BundleBuilder
	BundleSize  int
	Chunking    jobs.ChunkPolicy
	// Merge decides what happens to score columns that already exist.
	Merge poses.ConflictPolicy
	// Wait.Timeout bounds the whole stage, not each batch.
	Wait jobs.WaitOptions
	// UpdatePaths moves current_path to each successful unit's primary output.
	UpdatePaths bool
	// Reuse merges a previous run's saved results instead of dispatching.
	Reuse bool
	// Backend overrides the runner's default backend.
	Backend jobs.Backend
}

func (d Definition) label() string {
	if strings.TrimSpace(d.Name) != "" {
		return d.Name
	}
	return d.Prefix
}

func (d Definition) validate() error {
	prefix := strings.TrimSpace(d.Prefix)
	switch {
	case prefix == "":
		return pipeline.Wrap(pipeline.ErrConfiguration, d.Name, "validate", "stage prefix required", nil)
	case textutil.SanitizeToken(prefix) != prefix:
		return pipeline.Wrap(pipeline.ErrConfiguration, d.Name, "validate", fmt.Sprintf("stage prefix %q may only contain lowercase letters, digits, '-' and '_'", d.Prefix), nil)
	case d.Build == nil && d.BuildBundle == nil:
		return pipeline.Wrap(pipeline.ErrConfiguration, d.Name, "validate", "unit builder required", nil)
	case d.Build != nil && d.BuildBundle != nil:
		return pipeline.Wrap(pipeline.ErrConfiguration, d.Name, "validate", "unit builder and bundle builder are mutually exclusive", nil)
	case d.BuildBundle != nil && d.BundleSize <= 0:
		return pipeline.Wrap(pipeline.ErrConfiguration, d.Name, "validate", "bundle size must be positive", nil)
	case d.BuildBundle == nil && d.BundleSize != 0:
		return pipeline.Wrap(pipeline.ErrConfiguration, d.Name, "validate", "bundle size requires a bundle builder", nil)
	}
	return d.Chunking.Validate()
}

func (d Definition) mergeOptions() poses.MergeOptions {
	return poses.MergeOptions{Prefix: d.Prefix, Policy: d.Merge}
}

// Template builds units from a shell command template. The placeholders
// {identity}, {path}, {origin}, {dir} and {output} are replaced with shell
// quoted values. {output} is the first expanded output path. Outputs and
// ScoreFile accept the same placeholders, unquoted.
type Template struct {
	Command   string
	Outputs   []string
	ScoreFile string
	// Logs writes each unit's output to <dir>/logs/<identity>.log.
	Logs bool
}

// Build implements UnitBuilder.
func (t Template) Build(rec poses.Record, dir string) (jobs.Unit, error) {
	if strings.TrimSpace(t.Command) == "" {
		return jobs.Unit{}, fmt.Errorf("%w: %s: empty command template", jobs.ErrMalformedUnit, rec.Identity)
	}
	m := t.member(rec, dir)
	unit := jobs.Unit{Identity: rec.Identity, Dir: dir, OutputPaths: m.OutputPaths, ScoreFile: m.ScoreFile}
	if t.Logs {
		unit.LogPath = filepath.Join(dir, "logs", textutil.SanitizeFileName(rec.Identity)+".log")
	}

	output := ""
	if len(unit.OutputPaths) > 0 {
		output = unit.OutputPaths[0]
	}
	quoted := strings.NewReplacer(
		"{identity}", textutil.ShellQuote(rec.Identity),
		"{path}", textutil.ShellQuote(rec.CurrentPath),
		"{origin}", textutil.ShellQuote(rec.OriginPath),
		"{dir}", textutil.ShellQuote(dir),
		"{output}", textutil.ShellQuote(output),
	)
	unit.Command = quoted.Replace(t.Command)
	return unit, unit.Validate()
}

// manifestEntry describes one bundled pose in the manifest handed to the
// command through {manifest}.
type manifestEntry struct {
	Identity    string   `json:"identity"`
	Path        string   `json:"path"`
	Origin      string   `json:"origin"`
	OutputPaths []string `json:"output_paths,omitempty"`
	ScoreFile   string   `json:"score_file,omitempty"`
}

// BuildBundle implements BundleBuilder. It writes a JSON manifest of the
// bundled poses to <dir>/inputs/bundle_NNNN.json. The command accepts only
// {dir}, {manifest} and {bundle}; Outputs and ScoreFile are expanded per
// pose as in Build.
func (t Template) BuildBundle(index int, recs []poses.Record, dir string) (jobs.Unit, error) {
	name := fmt.Sprintf("bundle_%04d", index+1)
	if strings.TrimSpace(t.Command) == "" {
		return jobs.Unit{}, fmt.Errorf("%w: %s: empty command template", jobs.ErrMalformedUnit, name)
	}
	if len(recs) == 0 {
		return jobs.Unit{}, fmt.Errorf("%w: %s: no poses", jobs.ErrMalformedUnit, name)
	}
	for _, placeholder := range []string{"{identity}", "{path}", "{origin}", "{output}"} {
		if strings.Contains(t.Command, placeholder) {
			return jobs.Unit{}, fmt.Errorf("%w: %s: %s is per pose; bundled commands read {manifest}", jobs.ErrMalformedUnit, name, placeholder)
		}
	}

	entries := make([]manifestEntry, len(recs))
	members := make([]jobs.Member, len(recs))
	for i, rec := range recs {
		members[i] = t.member(rec, dir)
		entries[i] = manifestEntry{
			Identity:    rec.Identity,
			Path:        rec.CurrentPath,
			Origin:      rec.OriginPath,
			OutputPaths: members[i].OutputPaths,
			ScoreFile:   members[i].ScoreFile,
		}
	}
	manifest := filepath.Join(dir, "inputs", name+".json")
	err := fileutil.WriteAtomic(manifest, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	})
	if err != nil {
		return jobs.Unit{}, fmt.Errorf("write bundle manifest: %w", err)
	}

	lead := members[0]
	unit := jobs.Unit{
		Identity:    lead.Identity,
		OutputPaths: lead.OutputPaths,
		ScoreFile:   lead.ScoreFile,
		Bundle:      members[1:],
		Dir:         dir,
	}
	if t.Logs {
		unit.LogPath = filepath.Join(dir, "logs", name+".log")
	}
	unit.Command = strings.NewReplacer(
		"{dir}", textutil.ShellQuote(dir),
		"{manifest}", textutil.ShellQuote(manifest),
		"{bundle}", textutil.ShellQuote(name),
	).Replace(t.Command)
	return unit, unit.Validate()
}

func (t Template) member(rec poses.Record, dir string) jobs.Member {
	plain := strings.NewReplacer(
		"{identity}", rec.Identity,
		"{path}", rec.CurrentPath,
		"{origin}", rec.OriginPath,
		"{dir}", dir,
	)
	m := jobs.Member{Identity: rec.Identity}
	for _, out := range t.Outputs {
		m.OutputPaths = append(m.OutputPaths, absolute(dir, plain.Replace(out)))
	}
	if t.ScoreFile != "" {
		m.ScoreFile = absolute(dir, plain.Replace(t.ScoreFile))
	}
	return m
}

func absolute(dir, path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(dir, path)
}
