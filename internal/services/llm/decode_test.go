package llm

import (
	"errors"
	"testing"
)

func TestParseJSONRepairs(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"code fence", "```json\n{\"a\": 1}\n```", `{"a":1}`},
		{"surrounding prose", `Here you go: {"a": "b"} hope that helps`, `{"a":"b"}`},
		{"trailing comma", `{"a": [1, 2,], "b": 3,}`, `{"a":[1,2],"b":3}`},
		{"smart quotes", "{“a”: “b”}", `{"a":"b"}`},
		{"truncated string", `{"title": "Poster of the`, `{"title":"Poster of the"}`},
		{"truncated object", `{"a": {"b": [1, 2`, `{"a":{"b":[1,2]}}`},
		{"dangling key", `{"a": 1, "b":`, `{"a":1}`},
		{"array", "```\n[1, 2]\n```", `[1,2]`},
		{"comma inside string kept", `{"a": "x,}"}`, `{"a":"x,}"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseJSON(tc.input)
			if err != nil {
				t.Fatalf("ParseJSON(%q) returned error: %v", tc.input, err)
			}
			if string(got) != tc.want {
				t.Fatalf("ParseJSON(%q) = %s, want %s", tc.input, got, tc.want)
			}
		})
	}
}

func TestParseJSONUnrepairable(t *testing.T) {
	for _, input := range []string{"", "   ", "no json here at all"} {
		if _, err := ParseJSON(input); !errors.Is(err, ErrUnrepairable) {
			t.Fatalf("ParseJSON(%q) error = %v, want ErrUnrepairable", input, err)
		}
	}
}
