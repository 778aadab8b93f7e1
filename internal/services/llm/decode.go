package llm

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnrepairable is returned when a payload cannot be coerced into JSON.
var ErrUnrepairable = errors.New("unrepairable json payload")

// ParseJSON returns the compact JSON document contained in content. It tries a
// direct parse first, then strips code fences and surrounding prose, then
// attempts structural repair (smart quotes, trailing commas, unclosed strings
// and brackets).
func ParseJSON(content string) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty payload", ErrUnrepairable)
	}
	if compacted, ok := compactJSON(trimmed); ok {
		return compacted, nil
	}

	sanitized := sanitizeJSONPayload(trimmed)
	if compacted, ok := compactJSON(sanitized); ok {
		return compacted, nil
	}

	repaired := RepairJSON(sanitized)
	if compacted, ok := compactJSON(repaired); ok {
		return compacted, nil
	}
	return nil, fmt.Errorf("%w (payload snippet: %s)", ErrUnrepairable, summarizePayloadSnippet(trimmed))
}

func compactJSON(content string) (json.RawMessage, bool) {
	if content == "" || !json.Valid([]byte(content)) {
		return nil, false
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(content)); err != nil {
		return nil, false
	}
	return json.RawMessage(buf.Bytes()), true
}

// RepairJSON applies best-effort structural fixes to a near-JSON payload.
func RepairJSON(content string) string {
	replacer := strings.NewReplacer("“", `"`, "”", `"`, "‘", "'", "’", "'")
	content = strings.TrimSpace(replacer.Replace(content))

	var out strings.Builder
	out.Grow(len(content) + 8)
	stack := make([]byte, 0, 8)
	inString := false
	escaped := false

	for i := 0; i < len(content); i++ {
		ch := content[i]
		if inString {
			out.WriteByte(ch)
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			trimTrailingComma(&out)
			if len(stack) > 0 && stack[len(stack)-1] == ch {
				stack = stack[:len(stack)-1]
			} else {
				// Stray closer.
				continue
			}
		}
		out.WriteByte(ch)
	}

	if inString {
		if escaped {
			out.WriteByte('\\')
		}
		out.WriteByte('"')
	}
	trimDanglingSeparator(&out)
	for i := len(stack) - 1; i >= 0; i-- {
		trimTrailingComma(&out)
		out.WriteByte(stack[i])
	}
	return out.String()
}

func trimTrailingComma(b *strings.Builder) {
	s := strings.TrimRight(b.String(), " \t\r\n")
	if strings.HasSuffix(s, ",") {
		s = strings.TrimSuffix(s, ",")
		b.Reset()
		b.WriteString(s)
	}
}

// trimDanglingSeparator removes a trailing "key": with no value, which is the
// usual shape of output truncated by a token limit.
func trimDanglingSeparator(b *strings.Builder) {
	s := strings.TrimRight(b.String(), " \t\r\n")
	changed := false
	if strings.HasSuffix(s, ":") {
		s = strings.TrimRight(strings.TrimSuffix(s, ":"), " \t\r\n")
		if end := strings.LastIndex(s, `"`); end > 0 {
			if start := strings.LastIndex(s[:end], `"`); start >= 0 {
				s = s[:start]
			}
		}
		changed = true
	}
	if strings.HasSuffix(strings.TrimRight(s, " \t\r\n"), ",") {
		s = strings.TrimSuffix(strings.TrimRight(s, " \t\r\n"), ",")
		changed = true
	}
	if changed {
		b.Reset()
		b.WriteString(s)
	}
}

func sanitizeJSONPayload(content string) string {
	trimmed := strings.TrimSpace(stripCodeFenceBlock(content))
	if trimmed == "" {
		return ""
	}
	if trimmed[0] == '{' || trimmed[0] == '[' {
		return trimmed
	}
	objStart := strings.Index(trimmed, "{")
	arrStart := strings.Index(trimmed, "[")
	start := objStart
	closer := "}"
	if start < 0 || (arrStart >= 0 && arrStart < start) {
		start = arrStart
		closer = "]"
	}
	if start < 0 {
		return trimmed
	}
	if end := strings.LastIndex(trimmed, closer); end > start {
		return strings.TrimSpace(trimmed[start : end+1])
	}
	return strings.TrimSpace(trimmed[start:])
}

func stripCodeFenceBlock(content string) string {
	trimmed := strings.TrimSpace(content)
	idx := strings.Index(trimmed, "```")
	if idx < 0 {
		return trimmed
	}
	body := trimmed[idx+3:]
	body = strings.TrimLeft(body, " \t\r\n")
	if len(body) >= 4 && strings.EqualFold(body[:4], "json") {
		body = body[4:]
		body = strings.TrimLeft(body, " \t\r\n")
	}
	if end := strings.Index(body, "```"); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body)
}

func summarizePayloadSnippet(content string) string {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "<empty>"
	}
	replacer := strings.NewReplacer("\r", " ", "\n", " ", "\t", " ")
	clean := replacer.Replace(trimmed)
	clean = strings.Join(strings.Fields(clean), " ")
	const limit = 160
	runes := []rune(clean)
	if len(runes) > limit {
		clean = string(runes[:limit]) + "..."
	}
	return clean
}
