// Package stage runs one pipeline step over a pose store.
//
// A Runner builds one job unit per record, partitions the units into
// batches, dispatches them through a jobs.Backend, and merges the collected
// results back into the store under stable identity before checkpointing.
// Per-identity failures are reported rather than raised; only configuration
// and bookkeeping errors abort a stage.
package stage
