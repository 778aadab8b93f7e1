package stages

import (
	"context"
	"log/slog"

	"archivist/internal/catalog"
	"archivist/internal/config"
	"archivist/internal/vocabulary"
)

// ClassifyStage assigns controlled-vocabulary values for one field. The style
// and function stages are both ClassifyStage instances.
type ClassifyStage struct {
	base
	field string
	label string
	vocab *vocabulary.Vocabulary
}

// NewStyleStage constructs the art style classifier.
func NewStyleStage(cfg *config.Config, invoker Invoker, vocab *vocabulary.Vocabulary, logger *slog.Logger) *ClassifyStage {
	return &ClassifyStage{
		base:  newBase(catalog.StageStyle, cfg, invoker, logger),
		field: vocabulary.FieldArtStyle,
		label: "art style",
		vocab: vocab,
	}
}

// NewFunctionStage constructs the function classifier.
func NewFunctionStage(cfg *config.Config, invoker Invoker, vocab *vocabulary.Vocabulary, logger *slog.Logger) *ClassifyStage {
	return &ClassifyStage{
		base:  newBase(catalog.StageFunction, cfg, invoker, logger),
		field: vocabulary.FieldFunction,
		label: "function (original purpose)",
		vocab: vocab,
	}
}

// Execute implements Stage.
func (s *ClassifyStage) Execute(ctx context.Context, in Input) Outcome {
	res := s.invoke(ctx, in, systemPrompt, classifyPrompt(s.field, s.label, s.vocab, in.Record))
	return s.outcome(ctx, res, func() (any, func(*catalog.Record), error) {
		parsed, err := decodeClassification(res.Raw, s.field)
		if err != nil {
			return nil, nil, err
		}
		values, other := s.vocab.Constrain(parsed.Values, parsed.Other)
		result := Classification{Values: values, Other: other}
		return result, func(rec *catalog.Record) { s.apply(rec, result) }, nil
	})
}

func (s *ClassifyStage) apply(rec *catalog.Record, c Classification) {
	values := append([]string{}, c.Values...)
	switch s.name {
	case catalog.StageStyle:
		rec.ArtStyle = values
		rec.ArtStyleOther = c.Other
		rec.Observations().ArtStyle = append([]string{}, values...)
	case catalog.StageFunction:
		rec.Function = values
		rec.FunctionOther = c.Other
	}
}
