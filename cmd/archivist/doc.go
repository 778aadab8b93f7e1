// Package main hosts the archivist CLI entrypoint and command graph.
//
// The Cobra command tree resolves configuration once, applies command-line
// overrides, and hands the resolved settings to the workflow, grouping, and
// export packages. Output meant for people is rendered as tables; logs go
// through the shared slog logger.
//
// Keep this package lean: new behavior belongs in the internal packages and is
// surfaced here through flags or subcommands.
package main
