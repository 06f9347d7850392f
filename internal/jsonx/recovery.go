// Package jsonx decodes JSON emitted by language models, which is frequently
// almost-valid: wrapped in prose or markdown fences, containing raw control
// characters inside string literals, or trailed by explanation text. The
// recovery chain is: direct parse, re-parse with control characters escaped,
// then extraction of the first balanced object and a retry of both parses on
// the extracted text.
package jsonx

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNotObject is returned when the payload decodes to something other than
// a JSON object.
var ErrNotObject = errors.New("payload does not decode to a JSON object")

// DecodeObject parses raw into a JSON object, applying the recovery chain
// when a direct parse fails.
func DecodeObject(raw string) (map[string]any, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, errors.New("empty payload")
	}

	if obj, err := decodeStrict(trimmed); err == nil {
		return obj, nil
	}

	escaped := EscapeControlChars(trimmed)
	if obj, err := decodeStrict(escaped); err == nil {
		return obj, nil
	}

	extracted, ok := ExtractBalancedObject(trimmed)
	if !ok {
		return nil, fmt.Errorf("no balanced JSON object in payload of %d bytes", len(trimmed))
	}
	if obj, err := decodeStrict(extracted); err == nil {
		return obj, nil
	}
	obj, err := decodeStrict(EscapeControlChars(extracted))
	if err != nil {
		return nil, err
	}
	return obj, nil
}

func decodeStrict(s string) (map[string]any, error) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, err
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, ErrNotObject
	}
	return obj, nil
}

// EscapeControlChars rewrites unescaped control characters that appear
// inside JSON string literals. Models regularly emit raw newlines in string
// values, which encoding/json rejects.
func EscapeControlChars(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			b.WriteByte(c)
			escaped = false
			continue
		}
		switch {
		case c == '\\' && inString:
			b.WriteByte(c)
			escaped = true
		case c == '"':
			inString = !inString
			b.WriteByte(c)
		case inString && c < 0x20:
			switch c {
			case '\n':
				b.WriteString(`\n`)
			case '\r':
				b.WriteString(`\r`)
			case '\t':
				b.WriteString(`\t`)
			default:
				fmt.Fprintf(&b, `\u%04x`, c)
			}
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// ExtractBalancedObject returns the first balanced {...} region of s,
// tracking quoted strings and escapes so braces inside string literals do
// not affect depth.
func ExtractBalancedObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return s[start : i+1], true
				}
			}
		}
	}
	return "", false
}

// StripMarkdownFences removes a surrounding ```...``` block, including an
// optional language tag on the opening fence.
func StripMarkdownFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if nl := strings.IndexByte(trimmed, '\n'); nl >= 0 {
		firstLine := strings.TrimSpace(trimmed[:nl])
		// A bare language tag like "json" on the fence line.
		if firstLine != "" && !strings.ContainsAny(firstLine, "{}") {
			trimmed = trimmed[nl+1:]
		}
	}
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.TrimSpace(trimmed)
}
