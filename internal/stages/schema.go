package stages

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"archivist/internal/catalog"
)

// Facts is the fact stage output. Fields the model could not establish stay
// null.
type Facts struct {
	Title        catalog.Text `json:"title"`
	Manufacturer catalog.Text `json:"manufacturer"`
	Country      catalog.Text `json:"country"`
	Year         catalog.Text `json:"year"`
	Inscriptions []string     `json:"inscriptions"`
	SeriesName   catalog.Text `json:"series_name"`
	Evidence     []string     `json:"evidence"`
}

// Missing lists the fact fields left null.
func (f Facts) Missing() []string {
	var missing []string
	for _, field := range []struct {
		name  string
		value catalog.Text
	}{
		{"title", f.Title},
		{"manufacturer", f.Manufacturer},
		{"country", f.Country},
		{"year", f.Year},
		{"series_name", f.SeriesName},
	} {
		if !field.value.Valid() {
			missing = append(missing, field.name)
		}
	}
	return missing
}

// UnmarshalJSON accepts "series" as an object with a name, a bare string, or
// a top-level "series_name".
func (f *Facts) UnmarshalJSON(data []byte) error {
	var raw struct {
		Title        catalog.Text    `json:"title"`
		Manufacturer catalog.Text    `json:"manufacturer"`
		Country      catalog.Text    `json:"country"`
		Year         catalog.Text    `json:"year"`
		Inscriptions flexList        `json:"inscriptions"`
		Series       json.RawMessage `json:"series"`
		SeriesName   catalog.Text    `json:"series_name"`
		Evidence     flexList        `json:"evidence"`
	}
	if err := decodeObject(data, &raw); err != nil {
		return err
	}
	*f = Facts{
		Title:        raw.Title,
		Manufacturer: raw.Manufacturer,
		Country:      raw.Country,
		Year:         raw.Year,
		Inscriptions: []string(raw.Inscriptions),
		SeriesName:   raw.SeriesName,
		Evidence:     []string(raw.Evidence),
	}
	if f.Inscriptions == nil {
		f.Inscriptions = []string{}
	}
	if series := bytes.TrimSpace(raw.Series); len(series) > 0 && !f.SeriesName.Valid() {
		if series[0] == '{' {
			var obj catalog.Series
			if err := json.Unmarshal(series, &obj); err != nil {
				return fmt.Errorf("series: %w", err)
			}
			f.SeriesName = obj.Name
		} else if err := json.Unmarshal(series, &f.SeriesName); err != nil {
			return fmt.Errorf("series: %w", err)
		}
	}
	return nil
}

// Classification is the style or function stage output.
type Classification struct {
	Values []string     `json:"values"`
	Other  catalog.Text `json:"other"`
}

func decodeClassification(data []byte, field string) (Classification, error) {
	var fields map[string]json.RawMessage
	if err := decodeObject(data, &fields); err != nil {
		return Classification{}, err
	}
	var out Classification
	for _, key := range []string{field, "values"} {
		if raw, ok := fields[key]; ok {
			var values flexList
			if err := json.Unmarshal(raw, &values); err != nil {
				return Classification{}, fmt.Errorf("%s: %w", key, err)
			}
			out.Values = values
			break
		}
	}
	for _, key := range []string{field + "_other", "other"} {
		if raw, ok := fields[key]; ok {
			if err := json.Unmarshal(raw, &out.Other); err != nil {
				return Classification{}, fmt.Errorf("%s: %w", key, err)
			}
			break
		}
	}
	if out.Values == nil {
		out.Values = []string{}
	}
	return out, nil
}

// Correction is one proposed field replacement.
type Correction struct {
	Field  string       `json:"field"`
	Value  catalog.Text `json:"value"`
	Reason string       `json:"reason"`
}

func decodeCorrections(data []byte) ([]Correction, error) {
	data = bytes.TrimSpace(data)
	var list []Correction
	if len(data) > 0 && data[0] == '[' {
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, err
		}
		return list, nil
	}
	var wrapper struct {
		Corrections []Correction `json:"corrections"`
	}
	if err := decodeObject(data, &wrapper); err != nil {
		return nil, err
	}
	return wrapper.Corrections, nil
}

// VoteDecision is the raw vote stage output.
type VoteDecision struct {
	Chosen    catalog.Text `json:"chosen"`
	Reasoning string       `json:"reasoning"`
}

func decodeObject(data []byte, target any) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return fmt.Errorf("expected a json object, got %s", snippet(data))
	}
	return json.Unmarshal(data, target)
}

// flexList decodes null, a single string, or an array of scalars.
type flexList []string

func (l *flexList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*l = nil
		return nil
	}
	if data[0] != '[' {
		var single catalog.Text
		if err := json.Unmarshal(data, &single); err != nil {
			return err
		}
		if v, ok := single.Get(); ok {
			*l = flexList{v}
		} else {
			*l = nil
		}
		return nil
	}
	var items []catalog.Text
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	out := make(flexList, 0, len(items))
	for _, item := range items {
		if v, ok := item.Get(); ok {
			out = append(out, v)
		}
	}
	*l = out
	return nil
}

func snippet(data []byte) string {
	s := strings.TrimSpace(string(data))
	if len(s) > 60 {
		s = s[:60] + "..."
	}
	if s == "" {
		return "<empty>"
	}
	return s
}
