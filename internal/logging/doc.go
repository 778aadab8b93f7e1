// Package logging assembles structured slog loggers and formatting helpers used
// across archivist components.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so stage code can automatically
// tag log lines with run, group, and item IDs plus the active stage. When a log
// directory is configured every record is also written as JSON to
// archivist.log, debug included, with ts in UTC and errors as
// {message, kind} objects. The package also provides a no-op logger
// for tests and wiring code that cannot fail.
package logging
