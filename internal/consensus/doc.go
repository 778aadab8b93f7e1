// Package consensus resolves series-level fields for directory groups.
//
// A Manager samples up to consensus.sample_size members of a group, makes sure
// each has fact, style and function output, and decides every series-level
// field independently: agreement wins outright, disagreement goes to the vote
// stage, and a failed or invalid vote falls back to the most frequent value.
// Type A groups take their series name from the series-sample items instead.
//
// The result is written as a sidecar next to the group's images and reused on
// later runs unless consensus.force_recompute is set. When the sidecar cannot
// be written the record lives in memory for the rest of the run.
package consensus
