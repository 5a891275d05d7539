// Package history keeps a SQLite ledger of the tasks the daemon processed.
//
// Each processed task is recorded once, keyed by task id, with its type,
// outcome, and timing. The CLI reads the ledger for `dreamstate history` and
// the status summary. The ledger is advisory: the daemon keeps running when a
// write fails, and result files remain the protocol of record.
package history
