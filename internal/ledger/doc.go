// Package ledger records stage runs and per-unit outcomes in SQLite.
//
// The Store implements stage.Recorder so a pipeline can keep an auditable
// history of which stages ran, which backend executed them, how far each
// invocation got, and which poses failed with what diagnostic. The ledger
// is bookkeeping only: the pose store and its checkpoints remain the source
// of truth for scores.
//
// Schema changes bump schemaVersion in schema.go; users delete the ledger
// file to adopt a new schema.
package ledger
