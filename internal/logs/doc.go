// Package logs reads daemon log files for `dreamstate logs`.
//
// It returns the last N lines with bounded memory and follows a file as it
// grows. Following tracks file identity, so when the daemon.log pointer is
// swapped to a new run's file the reader starts over at the top of the new
// file instead of stalling at a stale offset.
package logs
