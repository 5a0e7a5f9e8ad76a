package poses

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"poseflow/internal/pipeline"
)

// IngestOptions controls identity derivation.
type IngestOptions struct {
	// Identity derives an identity from an artifact path. Defaults to Stem.
	Identity func(path string) string
	// Disambiguate suffixes colliding identities with _0002, _0003, ...
	// instead of failing.
	Disambiguate bool
}

// Stem returns the file name without its final extension.
func Stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Ingest builds a store from an ordered list of artifact paths. Origin and
// current paths start out equal and absolute.
func Ingest(paths []string, opts IngestOptions) (*Store, error) {
	derive := opts.Identity
	if derive == nil {
		derive = Stem
	}

	abs := make([]string, len(paths))
	ids := make([]string, len(paths))
	sources := make(map[string][]string, len(paths))
	for i, path := range paths {
		if strings.TrimSpace(path) == "" {
			return nil, pipeline.Wrap(pipeline.ErrConfiguration, "", "ingest", fmt.Sprintf("input %d has an empty path", i), nil)
		}
		resolved, err := filepath.Abs(path)
		if err != nil {
			return nil, pipeline.Wrap(pipeline.ErrConfiguration, "", "ingest", "resolve "+path, err)
		}
		abs[i] = resolved
		ids[i] = strings.TrimSpace(derive(resolved))
		sources[ids[i]] = append(sources[ids[i]], resolved)
	}

	if opts.Disambiguate {
		ids = disambiguate(ids)
	} else {
		for _, id := range ids {
			if len(sources[id]) > 1 {
				return nil, &DuplicateIdentityError{Identity: id, Sources: sources[id]}
			}
		}
	}

	store := New()
	for i, id := range ids {
		if err := store.insert(id, abs[i], abs[i]); err != nil {
			return nil, err
		}
	}
	return store, nil
}

// disambiguate keeps the first occurrence of each identity and numbers later
// ones, skipping suffixes that collide with other inputs.
func disambiguate(ids []string) []string {
	taken := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		taken[id] = struct{}{}
	}
	seen := make(map[string]int, len(ids))
	out := make([]string, len(ids))
	for i, id := range ids {
		seen[id]++
		if seen[id] == 1 {
			out[i] = id
			continue
		}
		n := seen[id]
		candidate := fmt.Sprintf("%s_%04d", id, n)
		for {
			if _, clash := taken[candidate]; !clash {
				break
			}
			n++
			candidate = fmt.Sprintf("%s_%04d", id, n)
		}
		seen[id] = n
		taken[candidate] = struct{}{}
		out[i] = candidate
	}
	return out
}

// IngestDir ingests every regular file in dir whose name ends with suffix,
// in lexical order.
func IngestDir(dir, suffix string, opts IngestOptions) (*Store, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, pipeline.Wrap(pipeline.ErrConfiguration, "", "ingest", "read directory "+dir, err)
	}
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), suffix) {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}
	if len(paths) == 0 {
		return nil, pipeline.Wrap(pipeline.ErrConfiguration, "", "ingest", fmt.Sprintf("no files ending in %q in %s", suffix, dir), nil)
	}
	slices.Sort(paths)
	return Ingest(paths, opts)
}
