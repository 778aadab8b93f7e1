package stages

import (
	"context"
	"log/slog"
	"strings"

	"archivist/internal/catalog"
	"archivist/internal/config"
	"archivist/internal/services"
)

// FactStage extracts factual attributes from item images.
type FactStage struct {
	base
}

// NewFactStage constructs the fact stage.
func NewFactStage(cfg *config.Config, invoker Invoker, logger *slog.Logger) *FactStage {
	return &FactStage{base: newBase(catalog.StageFact, cfg, invoker, logger)}
}

// Execute implements Stage.
func (s *FactStage) Execute(ctx context.Context, in Input) Outcome {
	res := s.invoke(ctx, in, systemPrompt, factPrompt(in))
	var facts Facts
	out := s.outcome(ctx, res, func() (any, func(*catalog.Record), error) {
		if err := facts.UnmarshalJSON(res.Raw); err != nil {
			return nil, nil, err
		}
		return facts, func(rec *catalog.Record) { applyFacts(rec, facts) }, nil
	})
	if out.OK() {
		if missing := facts.Missing(); len(missing) > 0 {
			out.Meta.Detail = "no evidence for " + strings.Join(missing, ", ")
			out.Err = services.Wrap(services.ErrMissingEvidence, string(s.name), "extract", out.Meta.Detail, nil)
		}
	}
	return out
}

func applyFacts(rec *catalog.Record, facts Facts) {
	rec.Title = facts.Title
	rec.Manufacturer = facts.Manufacturer
	rec.Country = facts.Country
	rec.Year = facts.Year
	rec.Inscriptions = append([]string{}, facts.Inscriptions...)
	rec.Evidence = append([]string{}, facts.Evidence...)
	rec.Series = catalog.Series{Name: facts.SeriesName}

	raw := rec.Observations()
	raw.SeriesName = facts.SeriesName
	raw.Manufacturer = facts.Manufacturer
	raw.Country = facts.Country
}
