// Package logging assembles structured slog loggers and formatting helpers used
// across poseflow.
//
// It owns the console and JSON handlers, copies console output into a JSON log
// file under the configured log directory, and exposes context-aware helpers
// so stage code automatically tags log lines with run IDs, stage names, batch
// labels, and pose identities. The package also provides a no-op logger for
// tests and wiring code that cannot fail.
package logging
