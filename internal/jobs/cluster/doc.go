// Package cluster runs job units through a queueing scheduler.
//
// Each batch becomes one array job whose task index is the unit's position in
// the batch. A background poller queries the scheduler at a fixed interval,
// retrying transient query failures with exponential backoff; exhausting the
// retries fails the whole batch. Collect maps array indices back to units and
// judges each through jobs.ResolveUnit, exactly like the local backend.
//
// Slurm is the bundled Scheduler implementation.
package cluster
