package stages

import (
	"encoding/json"
	"fmt"
	"strings"

	"archivist/internal/catalog"
	"archivist/internal/vocabulary"
)

const systemPrompt = `You are an archivist cataloguing printed ephemera and objects from photographs.
Respond with a single JSON object and nothing else. Use null for anything the
images do not show; never guess.`

const factPromptTemplate = `Extract the factual attributes of the item shown in the attached image(s).

Return JSON with exactly these keys:
{
  "title": string or null,
  "manufacturer": string or null,
  "country": string or null,
  "year": string or null,
  "inscriptions": [string],
  "series": {"name": string or null},
  "evidence": [string]
}

"inscriptions" lists visible text verbatim. "evidence" cites what in the image
supports each non-null value.%s`

func factPrompt(in Input) string {
	hint := ""
	if in.Record.Role == catalog.RoleSeriesSample {
		hint = "\n\nThis image is a series reference sample: focus on the series name printed on it."
	}
	return fmt.Sprintf(factPromptTemplate, hint)
}

const classifyPromptTemplate = `Classify the %s of the item shown in the attached image(s).

Choose one or two values from this controlled vocabulary:
%s

Return JSON:
{"%s": [string], "%s_other": string or null}

Use "%s_other" only when no vocabulary value describes what you observe.

Known facts about the item:
%s`

func classifyPrompt(field, label string, vocab *vocabulary.Vocabulary, rec catalog.Record) string {
	return fmt.Sprintf(classifyPromptTemplate,
		label,
		bulletList(vocab.Terms()),
		field, field, field,
		factSummary(rec),
	)
}

const correctionPromptTemplate = `Review the catalogue entry below against the attached image(s).

You may only correct these fields: %s.
A replacement must be one of the allowed values listed for the field, or null
to clear a value that the image contradicts. Do not correct anything else.

Allowed values:
%s

Current entry:
%s

Return JSON:
{"corrections": [{"field": string, "value": string or null, "reason": string}]}
Return {"corrections": []} when the entry is consistent with the image.`

func correctionPrompt(vocabs *vocabulary.Set, rec catalog.Record) string {
	fields := vocabs.Fields()
	var allowed strings.Builder
	for _, field := range fields {
		vocab, _ := vocabs.Field(field)
		allowed.WriteString(field)
		allowed.WriteString(":\n")
		allowed.WriteString(bulletList(vocab.Terms()))
		allowed.WriteString("\n")
	}
	return fmt.Sprintf(correctionPromptTemplate,
		strings.Join(fields, ", "),
		strings.TrimSpace(allowed.String()),
		entrySummary(rec),
	)
}

const votePromptTemplate = `Several photographs from one series were catalogued independently and disagree
on the field %q. The value must be identical for every item in the series.

Candidates (with the items that produced them):
%s

Pick exactly one candidate, copied verbatim. Return JSON:
{"chosen": string, "reasoning": string}`

func votePrompt(req VoteRequest) string {
	var lines strings.Builder
	for i, candidate := range req.Candidates {
		fmt.Fprintf(&lines, "%d. %q (from %s)\n", i+1, candidate.Value, strings.Join(candidate.Sources, ", "))
	}
	return fmt.Sprintf(votePromptTemplate, req.Field, strings.TrimRight(lines.String(), "\n"))
}

func bulletList(items []string) string {
	var b strings.Builder
	for _, item := range items {
		b.WriteString("- ")
		b.WriteString(item)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func factSummary(rec catalog.Record) string {
	summary := map[string]any{
		"title":        rec.Title,
		"manufacturer": rec.Manufacturer,
		"country":      rec.Country,
		"year":         rec.Year,
		"series":       rec.Series,
	}
	data, _ := json.MarshalIndent(summary, "", "  ")
	return string(data)
}

func entrySummary(rec catalog.Record) string {
	summary := map[string]any{
		"title":           rec.Title,
		"manufacturer":    rec.Manufacturer,
		"country":         rec.Country,
		"year":            rec.Year,
		"inscriptions":    rec.Inscriptions,
		"evidence":        rec.Evidence,
		"series":          rec.Series,
		"art_style":       rec.ArtStyle,
		"art_style_other": rec.ArtStyleOther,
		"function":        rec.Function,
		"function_other":  rec.FunctionOther,
	}
	data, _ := json.MarshalIndent(summary, "", "  ")
	return string(data)
}
