// Package vocabulary loads the controlled vocabularies that constrain the
// style and function classification stages.
package vocabulary

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"gopkg.in/yaml.v3"

	"archivist/internal/catalog"
)

//go:embed default.yaml
var defaultYAML []byte

// Field names with a controlled vocabulary.
const (
	FieldArtStyle = "art_style"
	FieldFunction = "function"
)

// MaxValues is the most vocabulary values a classification may carry.
const MaxValues = 2

// Vocabulary is one controlled term list.
type Vocabulary struct {
	field string
	terms []string
	index map[string]string
}

// Set holds the vocabularies for every governed field.
type Set struct {
	fields map[string]*Vocabulary
}

type document map[string][]string

// Default returns the embedded vocabulary set.
func Default() (*Set, error) {
	return parse(defaultYAML, "embedded vocabulary")
}

// Load reads a vocabulary file. An empty path returns the default set.
func Load(path string) (*Set, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read vocabulary: %w", err)
	}
	return parse(data, path)
}

func parse(data []byte, source string) (*Set, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", source, err)
	}
	set := &Set{fields: make(map[string]*Vocabulary, len(doc))}
	for field, terms := range doc {
		vocab := newVocabulary(field, terms)
		if len(vocab.terms) == 0 {
			return nil, fmt.Errorf("parse %s: %s has no terms", source, field)
		}
		set.fields[field] = vocab
	}
	for _, required := range []string{FieldArtStyle, FieldFunction} {
		if _, ok := set.fields[required]; !ok {
			return nil, fmt.Errorf("parse %s: missing %s vocabulary", source, required)
		}
	}
	return set, nil
}

func newVocabulary(field string, terms []string) *Vocabulary {
	v := &Vocabulary{field: field, index: make(map[string]string, len(terms))}
	for _, term := range terms {
		term = strings.Join(strings.Fields(term), " ")
		if term == "" {
			continue
		}
		key := foldKey(term)
		if _, dup := v.index[key]; dup {
			continue
		}
		v.index[key] = term
		v.terms = append(v.terms, term)
	}
	return v
}

// foldKey returns the matching key for a term: case-folded with internal
// whitespace collapsed.
func foldKey(value string) string {
	return cases.Fold().String(strings.Join(strings.Fields(value), " "))
}

// Field returns the vocabulary for field.
func (s *Set) Field(field string) (*Vocabulary, bool) {
	if s == nil {
		return nil, false
	}
	v, ok := s.fields[field]
	return v, ok
}

// Fields lists governed field names in sorted order.
func (s *Set) Fields() []string {
	names := make([]string, 0, len(s.fields))
	for name := range s.fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Name returns the governed field name.
func (v *Vocabulary) Name() string { return v.field }

// Terms returns the vocabulary in its declared order.
func (v *Vocabulary) Terms() []string {
	return append([]string(nil), v.terms...)
}

// Canonical maps value to the vocabulary spelling.
func (v *Vocabulary) Canonical(value string) (string, bool) {
	term, ok := v.index[foldKey(value)]
	return term, ok
}

// Constrain keeps at most MaxValues distinct vocabulary terms from values in
// their given order. Values outside the vocabulary are appended to the
// overflow text, which is returned unchanged when nothing overflows.
func (v *Vocabulary) Constrain(values []string, overflow catalog.Text) ([]string, catalog.Text) {
	kept := make([]string, 0, MaxValues)
	seen := make(map[string]struct{}, len(values))
	var extra []string
	for _, raw := range values {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		term, ok := v.Canonical(raw)
		if !ok {
			extra = append(extra, raw)
			continue
		}
		if _, dup := seen[term]; dup {
			continue
		}
		seen[term] = struct{}{}
		if len(kept) < MaxValues {
			kept = append(kept, term)
		}
	}
	if len(extra) == 0 {
		return kept, overflow
	}
	parts := make([]string, 0, len(extra)+1)
	if text, ok := overflow.Get(); ok {
		parts = append(parts, text)
	}
	parts = append(parts, extra...)
	return kept, catalog.Some(strings.Join(parts, "; "))
}
