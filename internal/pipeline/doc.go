// Package pipeline defines the shared error taxonomy and context helpers used
// by every poseflow component.
//
// Key responsibilities:
//   - Context helpers that stamp run IDs, stage names, batch labels, and pose
//     identities so log lines and ledger entries can be correlated.
//   - Structured error markers plus the Wrap helper that classify failures as
//     configuration, transient, external tool, timeout, or bookkeeping
//     problems.
//
// The Step Runner relies on the classification to decide what becomes a
// per-identity failure in a stage report and what aborts the stage.
package pipeline
