package testsupport

import (
	"errors"
	"path"
	"strings"
	"sync"

	"archivist/internal/services/llm"
)

// Prompt kinds recognized by CatalogModel.
const (
	PromptFact       = "fact"
	PromptStyle      = "style"
	PromptFunction   = "function"
	PromptCorrection = "correction"
	PromptVote       = "vote"
)

// ErrScriptedFailure is returned for items listed in CatalogModel.Fail.
var ErrScriptedFailure = errors.New("scripted model failure")

// CatalogModel answers catalog prompts by kind, optionally per item. Items are
// keyed by the stem of their first attached image.
type CatalogModel struct {
	// Facts maps an item key to a fact response; DefaultFact covers the rest.
	Facts       map[string]string
	DefaultFact string
	Style       string
	Function    string
	Correction  string
	// Vote builds the vote response from the prompt.
	Vote func(prompt string) string
	// Fail maps an item key to the prompt kinds that should fail permanently.
	Fail map[string][]string

	mu     sync.Mutex
	counts map[string]int
}

// Responder adapts the model to FakeBackend.
func (m *CatalogModel) Responder() Responder {
	return func(req llm.Request) (string, error) {
		kind := PromptKind(req.Prompt)
		key := ItemKey(req)
		m.mu.Lock()
		if m.counts == nil {
			m.counts = map[string]int{}
		}
		m.counts[kind]++
		m.mu.Unlock()

		for _, failing := range m.Fail[key] {
			if failing == kind {
				return "", &llm.StatusError{StatusCode: 400, Body: ErrScriptedFailure.Error()}
			}
		}
		switch kind {
		case PromptFact:
			if reply, ok := m.Facts[key]; ok {
				return reply, nil
			}
			return orDefault(m.DefaultFact, `{"title":null,"manufacturer":null,"country":null,"year":null,"inscriptions":[],"series":{"name":null}}`), nil
		case PromptStyle:
			return orDefault(m.Style, `{"art_style":["Art Deco"],"art_style_other":null}`), nil
		case PromptFunction:
			return orDefault(m.Function, `{"function":["Advertising"],"function_other":null}`), nil
		case PromptCorrection:
			return orDefault(m.Correction, `{"corrections":[]}`), nil
		case PromptVote:
			if m.Vote != nil {
				return m.Vote(req.Prompt), nil
			}
			return FirstCandidateVote(req.Prompt), nil
		}
		return "{}", nil
	}
}

// Count returns how many prompts of kind were answered.
func (m *CatalogModel) Count(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[kind]
}

// PromptKind classifies a stage prompt by its opening text.
func PromptKind(prompt string) string {
	switch {
	case strings.HasPrefix(prompt, "Extract the factual"):
		return PromptFact
	case strings.HasPrefix(prompt, "Classify") && strings.Contains(prompt, `"art_style_other"`):
		return PromptStyle
	case strings.HasPrefix(prompt, "Classify"):
		return PromptFunction
	case strings.HasPrefix(prompt, "Review the catalogue"):
		return PromptCorrection
	case strings.HasPrefix(prompt, "Several photographs"):
		return PromptVote
	}
	return ""
}

// ItemKey returns the stem of the first image attached to req.
func ItemKey(req llm.Request) string {
	if len(req.Images) == 0 {
		return ""
	}
	name := req.Images[0].Name
	return strings.TrimSuffix(name, path.Ext(name))
}

// FirstCandidateVote picks the first quoted candidate listed in a vote prompt.
func FirstCandidateVote(prompt string) string {
	for _, line := range strings.Split(prompt, "\n") {
		if !strings.HasPrefix(line, "1. ") {
			continue
		}
		start := strings.Index(line, `"`)
		end := strings.Index(line, `" (from`)
		if start >= 0 && end > start {
			return `{"chosen":"` + line[start+1:end] + `","reasoning":"first listed"}`
		}
	}
	return `{"chosen":null,"reasoning":"no candidates"}`
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
