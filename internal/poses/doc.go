// Package poses is the in-memory table of pose records a pipeline operates on.
//
// Each record has a stable identity, the path of its latest artifact, the
// immutable path it was ingested from, and a row of typed score cells. Score
// columns are typed on first use and absent cells are Missing, never zero.
// Rows are added only by ingestion and removed only by filtering; merges join
// job results by identity and never touch rows or columns the results do not
// name.
//
// A Store is not safe for concurrent mutation. One stage owns a store at a
// time.
package poses
