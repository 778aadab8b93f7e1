package stages

import (
	"log/slog"

	"archivist/internal/catalog"
	"archivist/internal/config"
	"archivist/internal/vocabulary"
)

// Registry maps stage identifiers to implementations.
type Registry struct {
	stages map[catalog.Stage]Stage
	vote   *VoteStage
}

// NewRegistry builds the standard stage set.
func NewRegistry(cfg *config.Config, invoker Invoker, vocabs *vocabulary.Set, logger *slog.Logger) *Registry {
	style, _ := vocabs.Field(vocabulary.FieldArtStyle)
	function, _ := vocabs.Field(vocabulary.FieldFunction)
	r := &Registry{stages: map[catalog.Stage]Stage{}}
	r.Register(NewFactStage(cfg, invoker, logger))
	r.Register(NewStyleStage(cfg, invoker, style, logger))
	r.Register(NewFunctionStage(cfg, invoker, function, logger))
	r.Register(NewCorrectionStage(cfg, invoker, vocabs, logger))
	r.vote = NewVoteStage(cfg, invoker, logger)
	return r
}

// Register adds or replaces an item stage.
func (r *Registry) Register(stage Stage) {
	r.stages[stage.Name()] = stage
}

// Get returns the implementation for name.
func (r *Registry) Get(name catalog.Stage) (Stage, bool) {
	stage, ok := r.stages[name]
	return stage, ok
}

// Vote returns the vote stage.
func (r *Registry) Vote() *VoteStage { return r.vote }
