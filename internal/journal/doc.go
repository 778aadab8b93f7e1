// Package journal keeps a SQLite ledger of every model call attempt.
//
// The Journal implements provider.Recorder. Each attempt row carries the run
// id, stage, item, endpoint, attempt number, and outcome, which lets the
// batch summary report how many calls a run issued and lets operators audit
// failures after the fact. The database lives at paths.journal_path and uses
// WAL mode with a busy timeout so concurrent workers can append safely.
package journal
