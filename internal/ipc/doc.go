// Package ipc implements the file protocol the daemon shares with external
// actors inside <workspace>/.dreamstate.
//
// It is the only package that knows the State Directory layout: PID and status
// files, one JSON file per pending task under tasks/, one result per task under
// results/, the manual audit flag, and the persisted activity timestamp.
// Snapshots and results are written through a temp file and rename so readers
// never see half-written JSON. Task ids double as file names, which is what
// lets many producers drop tasks concurrently without any locking.
//
// Reading is forgiving. A task file that vanishes before it is read never
// existed, a file that fails to parse is skipped (and reported once), and
// other I/O failures surface as errors the daemon logs and retries next tick.
package ipc
