package jobs

import (
	"fmt"
	"strings"
)

// Member is one pose processed by a unit together with the artifacts the
// unit writes for it.
type Member struct {
	Identity string `json:"identity"`
	// OutputPaths must all exist after a successful run. The first is the
	// primary artifact recorded as the pose's new location.
	OutputPaths []string `json:"output_paths,omitempty"`
	// ScoreFile optionally names a JSON object of scores written by the job.
	ScoreFile string `json:"score_file,omitempty"`
}

// Unit is one external invocation. It processes the lead pose Identity and,
// when Bundle is set, every further pose listed there. Each pose yields its
// own Result.
type Unit struct {
	Identity string
	// Command runs through "sh -c". Mutually exclusive with Args.
	Command string
	// Args is executed directly when Command is empty.
	Args []string
	Dir  string
	Env  []string
	// OutputPaths and ScoreFile belong to the lead pose.
	OutputPaths []string
	ScoreFile   string
	// Bundle lists the poses after the lead pose in processing order.
	Bundle []Member
	// LogPath receives combined stdout and stderr when set.
	LogPath string
}

// Members lists every pose the unit processes, lead pose first.
func (u Unit) Members() []Member {
	members := make([]Member, 0, 1+len(u.Bundle))
	members = append(members, Member{Identity: u.Identity, OutputPaths: u.OutputPaths, ScoreFile: u.ScoreFile})
	return append(members, u.Bundle...)
}

// Identities lists the identities of Members.
func (u Unit) Identities() []string {
	ids := make([]string, 0, 1+len(u.Bundle))
	ids = append(ids, u.Identity)
	for _, m := range u.Bundle {
		ids = append(ids, m.Identity)
	}
	return ids
}

// Validate rejects units that no backend could run.
func (u Unit) Validate() error {
	seen := make(map[string]struct{}, 1+len(u.Bundle))
	for _, m := range u.Members() {
		if strings.TrimSpace(m.Identity) == "" {
			return fmt.Errorf("%w: empty identity", ErrMalformedUnit)
		}
		if _, dup := seen[m.Identity]; dup {
			return fmt.Errorf("%w: %s: identity bundled twice", ErrMalformedUnit, m.Identity)
		}
		seen[m.Identity] = struct{}{}
		for _, out := range m.OutputPaths {
			if strings.TrimSpace(out) == "" {
				return fmt.Errorf("%w: %s: blank output path", ErrMalformedUnit, m.Identity)
			}
		}
	}
	hasCommand := strings.TrimSpace(u.Command) != ""
	hasArgs := len(u.Args) > 0 && strings.TrimSpace(u.Args[0]) != ""
	switch {
	case !hasCommand && !hasArgs:
		return fmt.Errorf("%w: %s: empty command", ErrMalformedUnit, u.Identity)
	case hasCommand && len(u.Args) > 0:
		return fmt.Errorf("%w: %s: both command and args set", ErrMalformedUnit, u.Identity)
	}
	return nil
}

// Argv returns the invocation as an argument vector.
func (u Unit) Argv() []string {
	if strings.TrimSpace(u.Command) != "" {
		return []string{"sh", "-c", u.Command}
	}
	return append([]string(nil), u.Args...)
}

// Batch is an ordered group of units submitted together.
type Batch struct {
	Name  string
	Index int
	Units []Unit
}

// Identities lists every pose identity in the batch in submission order,
// which is also the order of the batch's collected results.
func (b Batch) Identities() []string {
	ids := make([]string, 0, len(b.Units))
	for _, unit := range b.Units {
		ids = append(ids, unit.Identities()...)
	}
	return ids
}
