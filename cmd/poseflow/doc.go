// Command poseflow is the operator CLI for pose pipelines.
//
// It ingests pose files into a table, inspects and filters tables, runs one
// stage of a pipeline from a shell command template on the configured
// backend, and reports the run ledger kept in the work directory.
package main
