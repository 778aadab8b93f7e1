// Package workflow runs one batch over the input tree.
//
// A Manager discovers groups, drives every item through the pipeline on a
// bounded worker pool, resolves and applies consensus for directory groups,
// and produces a Summary of the run. Item and group failures are contained
// and reported; only startup problems (configuration, a second concurrent run
// against the same output directory) make Run return an error before work
// begins.
//
// The Manager is the only place the full component graph is assembled, so
// every component receives the same resolved configuration.
package workflow
