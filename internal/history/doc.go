// Package history keeps an append-only log of task runs.
//
// It currently supports:
//   - a JSON Lines file backend (no dependencies beyond the filesystem)
//   - a SQLite backend (modernc.org/sqlite, pure Go)
//
// The log is an audit trail only. Nothing in tickwork replays it to restore
// schedule state.
package history
