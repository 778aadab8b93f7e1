package consensus

import (
	"sort"
	"strings"

	"archivist/internal/catalog"
)

// value is a series-level field value; nil means null. Scalar fields hold at
// most one element.
type value []string

func scalar(t catalog.Text) value {
	if s, ok := t.Get(); ok && strings.TrimSpace(s) != "" {
		return value{s}
	}
	return nil
}

func list(values []string) value {
	out := make(value, 0, len(values))
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func (v value) null() bool { return len(v) == 0 }

// key identifies equal values: case and spacing are ignored, and list order
// does not matter.
func (v value) key() string {
	parts := make([]string, len(v))
	for i, s := range v {
		parts[i] = strings.ToLower(strings.Join(strings.Fields(s), " "))
	}
	sort.Strings(parts)
	return strings.Join(parts, "\x1f")
}

func (v value) display() string { return strings.Join(v, ", ") }

func (v value) text() catalog.Text {
	if v.null() {
		return catalog.Null()
	}
	return catalog.Some(v[0])
}

func (v value) strings() []string {
	return append([]string{}, v...)
}

// observation is one sampled item's value for a field.
type observation struct {
	itemID string
	value  value
}

// observedValue reads field from the values rec's own stages reported, so a
// finalized member still contributes its pre-merge observation. Records
// without observations fall back to their current fields.
func observedValue(rec catalog.Record, field string) value {
	raw := rec.Raw
	if raw == nil {
		return fieldValue(rec, field)
	}
	switch field {
	case catalog.FieldSeriesName:
		return scalar(raw.SeriesName)
	case catalog.FieldManufacturer:
		return scalar(raw.Manufacturer)
	case catalog.FieldCountry:
		return scalar(raw.Country)
	case catalog.FieldArtStyle:
		return list(raw.ArtStyle)
	}
	return nil
}

func fieldValue(rec catalog.Record, field string) value {
	switch field {
	case catalog.FieldSeriesName:
		return scalar(rec.Series.Name)
	case catalog.FieldManufacturer:
		return scalar(rec.Manufacturer)
	case catalog.FieldCountry:
		return scalar(rec.Country)
	case catalog.FieldArtStyle:
		return list(rec.ArtStyle)
	}
	return nil
}

func setField(fields *catalog.ConsensusFields, field string, v value) {
	switch field {
	case catalog.FieldSeriesName:
		fields.SeriesName = v.text()
	case catalog.FieldManufacturer:
		fields.Manufacturer = v.text()
	case catalog.FieldCountry:
		fields.Country = v.text()
	case catalog.FieldArtStyle:
		fields.ArtStyle = v.strings()
	}
}

// tally groups non-null observations into distinct values in first-seen order.
type tally struct {
	value   value
	sources []string
}

func distinct(observations []observation) []tally {
	var out []tally
	index := map[string]int{}
	for _, obs := range observations {
		if obs.value.null() {
			continue
		}
		k := obs.value.key()
		if i, ok := index[k]; ok {
			out[i].sources = append(out[i].sources, obs.itemID)
			continue
		}
		index[k] = len(out)
		out = append(out, tally{value: obs.value, sources: []string{obs.itemID}})
	}
	return out
}

// majority returns the most frequent tally; ties go to the earliest.
func majority(tallies []tally) tally {
	best := tallies[0]
	for _, t := range tallies[1:] {
		if len(t.sources) > len(best.sources) {
			best = t
		}
	}
	return best
}

func nonNull(observations []observation) int {
	n := 0
	for _, obs := range observations {
		if !obs.value.null() {
			n++
		}
	}
	return n
}
