// Command dreamstate runs and controls the per-workspace dreamstate daemon.
//
// The hidden "daemon" subcommand runs the daemon in the foreground; "start",
// "stop", "restart", and "hook" manage a detached instance. "status", "ping",
// "audit", "task", and "history" inspect or talk to a running daemon through
// the files under <workspace>/.dreamstate.
package main
