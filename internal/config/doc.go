// Package config loads, normalizes, and validates archivist configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours per-provider environment fallbacks
// such as OPENROUTER_API_KEY. The Config type is the single resolved settings
// object threaded into every component; StageRoute is the only place per-stage
// model routing is derived from the defaults.
//
// Always obtain settings through this package so downstream code never carries
// its own copy of a default.
package config
