// Package preflight provides readiness checks for the filesystem paths and
// scheduler tools a pipeline depends on.
//
// The CLI "poseflow doctor" command runs RunAll; individual checks are
// exported for callers that want to gate a single stage.
package preflight
