// Package workflow threads the state a multi-stage pipeline shares.
//
// A Pipeline owns one pose store and one work directory for its lifetime.
// It holds an exclusive lock on the work directory, the default job backend
// built from configuration, the run ledger, and the checkpoint writer, and
// passes them explicitly to the stage runner. Nothing here is process-global:
// two pipelines over different work directories are independent.
package workflow
