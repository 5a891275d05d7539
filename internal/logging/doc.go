// Package logging assembles the structured slog loggers used by the dreamstate
// daemon and CLI.
//
// It owns the console and JSON handlers, level parsing, output plumbing, and
// the standard field keys (component, event_type, task_id, ...). Components
// obtain a tagged logger through NewComponentLogger so every line names the
// subsystem that produced it. NewNop returns a discarding logger for tests.
//
// Prefer these constructors over hand-rolled slog setup so daemon log files and
// console output keep one shape.
package logging
