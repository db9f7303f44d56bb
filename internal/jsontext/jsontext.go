// Package jsontext detects and extracts a JSON object or array embedded in a
// text blob (the whole text, or a payload after a prose prefix), as produced
// by upstream MCP tools that return
// human-readable prose with a JSON payload attached.
package jsontext

import "encoding/json"

// Detect tries, in order, to parse text as JSON:
//  1. Pure parse of the trimmed text.
//  2. A balanced-bracket scan starting at the first '{' or '[', respecting
//     string literals and escape sequences.
//
// It never errors; ok is false when neither strategy yields an object or
// array. Detect is a pure function of its input.
func Detect(text string) (value any, ok bool) {
	trimmed := trimSpace(text)
	if trimmed == "" {
		return nil, false
	}

	if v, ok := tryParse(trimmed); ok {
		return v, true
	}

	for i := 0; i < len(trimmed); i++ {
		c := trimmed[i]
		if c != '{' && c != '[' {
			continue
		}
		if extracted, ok := extractBalanced(trimmed[i:]); ok {
			if v, ok := tryParse(extracted); ok {
				return v, true
			}
		}
		break
	}

	return nil, false
}

func tryParse(s string) (any, bool) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	switch v.(type) {
	case map[string]any, []any:
		return v, true
	default:
		// A bare scalar top-level value is not "JSON embedded in text" for
		// our purposes; §4.2 only recognizes object/array results.
		return nil, false
	}
}

// extractBalanced returns the substring of text from its start up to and
// including the character that balances text[0] ('{' or '['), treating
// string literals (with escapes) as opaque.
func extractBalanced(text string) (string, bool) {
	if len(text) == 0 {
		return "", false
	}
	open := text[0]
	var close byte
	switch open {
	case '{':
		close = '}'
	case '[':
		close = ']'
	default:
		return "", false
	}

	depth := 0
	inString := false
	escapeNext := false

	for i := 0; i < len(text); i++ {
		c := text[i]

		if escapeNext {
			escapeNext = false
			continue
		}
		if c == '\\' {
			escapeNext = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		switch c {
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return text[:i+1], true
			}
		}
	}
	return "", false
}

func trimSpace(s string) string {
	start, end := 0, len(s)
	for start < end && isSpace(s[start]) {
		start++
	}
	for end > start && isSpace(s[end-1]) {
		end--
	}
	return s[start:end]
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
