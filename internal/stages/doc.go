// Package stages implements the analysis steps that run against one item:
// fact extraction, style and function classification, and vocabulary-bound
// correction, plus the vote stage used by consensus.
//
// Each stage owns its prompt and its output schema. Stages call the model
// through an Invoker and translate the parsed output into an Outcome that
// the pipeline applies to the item record. A stage never fails the item:
// failures become Outcome metadata with a null value.
//
// The Registry maps stage identifiers to implementations and is the only
// dispatch point used by the pipeline.
package stages
