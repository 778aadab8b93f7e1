package stages

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"archivist/internal/catalog"
	"archivist/internal/config"
	"archivist/internal/logging"
	"archivist/internal/vocabulary"
)

// CorrectionStage validates prior outputs and may replace vocabulary-governed
// fields with a vocabulary value or null.
type CorrectionStage struct {
	base
	vocabs *vocabulary.Set
}

// CorrectionResult lists the corrections that passed validation and those
// that were rejected.
type CorrectionResult struct {
	Applied  []Correction `json:"applied"`
	Rejected []Correction `json:"rejected"`
}

// NewCorrectionStage constructs the correction stage.
func NewCorrectionStage(cfg *config.Config, invoker Invoker, vocabs *vocabulary.Set, logger *slog.Logger) *CorrectionStage {
	return &CorrectionStage{base: newBase(catalog.StageCorrection, cfg, invoker, logger), vocabs: vocabs}
}

// Execute implements Stage.
func (s *CorrectionStage) Execute(ctx context.Context, in Input) Outcome {
	res := s.invoke(ctx, in, systemPrompt, correctionPrompt(s.vocabs, in.Record))
	var result CorrectionResult
	out := s.outcome(ctx, res, func() (any, func(*catalog.Record), error) {
		proposed, err := decodeCorrections(res.Raw)
		if err != nil {
			return nil, nil, err
		}
		result = s.validate(ctx, proposed)
		return result, func(rec *catalog.Record) { applyCorrections(rec, result.Applied) }, nil
	})
	if out.OK() {
		out.Meta.Detail = describeCorrections(result)
	}
	return out
}

func (s *CorrectionStage) validate(ctx context.Context, proposed []Correction) CorrectionResult {
	logger := logging.WithContext(ctx, s.logger)
	result := CorrectionResult{Applied: []Correction{}, Rejected: []Correction{}}
	seen := map[string]struct{}{}
	for _, c := range proposed {
		c.Field = strings.ToLower(strings.TrimSpace(c.Field))
		reason := ""
		vocab, governed := s.vocabs.Field(c.Field)
		switch {
		case !governed:
			reason = "field is not correctable"
		case c.Value.Valid():
			term, ok := vocab.Canonical(c.Value.String())
			if !ok {
				reason = "value is not in the vocabulary"
			} else {
				c.Value = catalog.Some(term)
			}
		}
		if reason == "" {
			if _, dup := seen[c.Field]; dup {
				reason = "duplicate correction for field"
			}
		}
		if reason != "" {
			result.Rejected = append(result.Rejected, c)
			logger.Info("correction rejected",
				logging.String(logging.FieldEventType, "correction_rejected"),
				logging.String("field", c.Field),
				logging.String("value", c.Value.String()),
				logging.String("reason", reason),
			)
			continue
		}
		seen[c.Field] = struct{}{}
		result.Applied = append(result.Applied, c)
	}
	return result
}

func applyCorrections(rec *catalog.Record, corrections []Correction) {
	for _, c := range corrections {
		var values []string
		if v, ok := c.Value.Get(); ok {
			values = []string{v}
		} else {
			values = []string{}
		}
		switch c.Field {
		case vocabulary.FieldArtStyle:
			rec.ArtStyle = values
		case vocabulary.FieldFunction:
			rec.Function = values
		}
	}
}

func describeCorrections(result CorrectionResult) string {
	if len(result.Applied) == 0 && len(result.Rejected) == 0 {
		return "no corrections"
	}
	parts := make([]string, 0, len(result.Applied)+1)
	for _, c := range result.Applied {
		value := "null"
		if v, ok := c.Value.Get(); ok {
			value = v
		}
		parts = append(parts, fmt.Sprintf("%s=%s", c.Field, value))
	}
	detail := "applied: none"
	if len(parts) > 0 {
		detail = "applied: " + strings.Join(parts, "; ")
	}
	if n := len(result.Rejected); n > 0 {
		detail += fmt.Sprintf(" (rejected %d)", n)
	}
	return detail
}
