package jobs

import (
	"fmt"

	"poseflow/internal/pipeline"
)

// ChunkPolicy decides batch boundaries. The zero value puts every unit in a
// single batch.
type ChunkPolicy struct {
	Size  int
	Count int
}

// BatchSize splits units into consecutive batches of at most n units.
func BatchSize(n int) ChunkPolicy { return ChunkPolicy{Size: n} }

// BatchCount distributes units round-robin across n batches.
func BatchCount(n int) ChunkPolicy { return ChunkPolicy{Count: n} }

// Validate rejects negative or conflicting settings.
func (p ChunkPolicy) Validate() error {
	switch {
	case p.Size < 0 || p.Count < 0:
		return pipeline.Wrap(pipeline.ErrConfiguration, "", "partition", "chunk policy must not be negative", nil)
	case p.Size > 0 && p.Count > 0:
		return pipeline.Wrap(pipeline.ErrConfiguration, "", "partition", "batch size and batch count are mutually exclusive", nil)
	}
	return nil
}

func (p ChunkPolicy) String() string {
	switch {
	case p.Size > 0:
		return fmt.Sprintf("size=%d", p.Size)
	case p.Count > 0:
		return fmt.Sprintf("count=%d", p.Count)
	default:
		return "single"
	}
}

// Partition groups units into batches. The result depends only on the unit
// order and the policy. Units are validated and identities must be unique.
func Partition(units []Unit, policy ChunkPolicy) ([]Batch, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(units))
	for _, unit := range units {
		if err := unit.Validate(); err != nil {
			return nil, err
		}
		for _, id := range unit.Identities() {
			if _, dup := seen[id]; dup {
				return nil, fmt.Errorf("%w: duplicate identity %q", ErrMalformedUnit, id)
			}
			seen[id] = struct{}{}
		}
	}
	if len(units) == 0 {
		return nil, nil
	}

	var groups [][]Unit
	switch {
	case policy.Size > 0:
		for start := 0; start < len(units); start += policy.Size {
			end := min(start+policy.Size, len(units))
			groups = append(groups, append([]Unit(nil), units[start:end]...))
		}
	case policy.Count > 0:
		groups = make([][]Unit, policy.Count)
		for i, unit := range units {
			groups[i%policy.Count] = append(groups[i%policy.Count], unit)
		}
	default:
		groups = [][]Unit{append([]Unit(nil), units...)}
	}

	batches := make([]Batch, 0, len(groups))
	for _, group := range groups {
		if len(group) == 0 {
			continue
		}
		idx := len(batches)
		batches = append(batches, Batch{
			Name:  fmt.Sprintf("batch_%04d", idx+1),
			Index: idx,
			Units: group,
		})
	}
	return batches, nil
}
