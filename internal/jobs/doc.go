// Package jobs defines the job dispatch contract shared by every execution
// backend.
//
// A stage turns pose records into Units, one pose per unit or several poses
// bundled into a single invocation. Partition groups units into Batches
// under a ChunkPolicy, and a Backend runs batches asynchronously: Submit
// hands back a Handle immediately, Poll and Wait observe progress, and
// Collect returns exactly one Result per pose in submission order once the
// batch is terminal. ResolveUnit is the single place an execution outcome
// (exit code, expected outputs, captured score files) is turned into
// Results, so the local and cluster backends judge success identically.
package jobs
