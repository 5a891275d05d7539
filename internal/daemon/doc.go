// Package daemon coordinates the long-running dreamstate process for one
// workspace.
//
// It wires the file protocol, the file watcher, the audit detector, and the
// history ledger into a single lifecycle with flock-based locking to prevent
// multiple instances. One event loop goroutine owns every periodic activity:
// it polls the tasks directory, refreshes the status snapshot, consumes
// watcher tasks, and reacts to audit transitions, so no two of these ever run
// at the same time.
//
// Task handling is table driven: handlers are registered per task type and
// any type without a handler produces a failed result instead of an error.
package daemon
