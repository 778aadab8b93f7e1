package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Text is a nullable string. The zero value is null.
type Text struct {
	value string
	valid bool
}

// Some returns a non-null Text. Blank input yields null.
func Some(value string) Text {
	value = strings.TrimSpace(value)
	if value == "" {
		return Text{}
	}
	return Text{value: value, valid: true}
}

// Null returns the null Text.
func Null() Text { return Text{} }

// Valid reports whether the value is non-null.
func (t Text) Valid() bool { return t.valid }

// String returns the value or "" when null.
func (t Text) String() string { return t.value }

// Get returns the value and whether it is non-null.
func (t Text) Get() (string, bool) { return t.value, t.valid }

// Or returns t when it is non-null and fallback otherwise.
func (t Text) Or(fallback Text) Text {
	if t.valid {
		return t
	}
	return fallback
}

// MarshalJSON implements json.Marshaler.
func (t Text) MarshalJSON() ([]byte, error) {
	if !t.valid {
		return []byte("null"), nil
	}
	return json.Marshal(t.value)
}

// UnmarshalJSON accepts strings, numbers, booleans, and null. Models
// routinely answer "year" questions with bare numbers.
func (t *Text) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*t = Text{}
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = Some(s)
		return nil
	case '{', '[':
		return fmt.Errorf("catalog: cannot decode %s into text", data)
	default:
		*t = Some(string(data))
		return nil
	}
}
