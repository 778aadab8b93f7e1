// Package services defines shared utilities consumed by the pipeline stages
// and external model integrations.
//
// Key responsibilities:
//   - Context helpers that stamp item IDs, group IDs, stage names, and run
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper so failures can be
//     classified (transient, malformed output, persistence, ...) without
//     string matching.
//
// Use these helpers when wiring new stage logic so operational behaviour (error
// handling, observability, retries) stays uniform across the pipeline.
package services
