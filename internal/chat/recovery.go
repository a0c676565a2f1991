package chat

import (
	"encoding/json"
	"strings"
	"unicode"
	"unicode/utf8"
)

// maxEnvelopedOutput caps how much raw text the fallback envelope carries
// back to the model.
const maxEnvelopedOutput = 4000

// recoverToolOutput coerces raw tool output into valid JSON text. Stages:
// accept as-is, strip control characters, extract the largest embedded JSON
// object, and finally wrap the raw text in a truncation-safe envelope. It
// always returns valid JSON.
func recoverToolOutput(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return `{"success":true,"output":""}`
	}
	if json.Valid([]byte(trimmed)) {
		return trimmed
	}

	cleaned := stripControlChars(trimmed)
	if json.Valid([]byte(cleaned)) {
		return cleaned
	}

	if obj := largestJSONObject(cleaned); obj != "" {
		return obj
	}

	return envelopeOutput(trimmed)
}

// stripControlChars removes control characters that commonly corrupt
// tool output, keeping tabs and newlines.
func stripControlChars(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\t' || r == '\n' || r == '\r' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}

// largestJSONObject scans s for balanced {...} regions and returns the
// longest one that parses as JSON, or "".
func largestJSONObject(s string) string {
	var best string
	depth := 0
	start := -1
	inString := false
	escaped := false
	for i, r := range s {
		if inString {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inString = false
			}
			continue
		}
		switch r {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					candidate := s[start : i+1]
					if len(candidate) > len(best) && json.Valid([]byte(candidate)) {
						best = candidate
					}
					start = -1
				}
			}
		}
	}
	return best
}

// envelopeOutput wraps unrecoverable text so the model still sees something
// useful instead of a hard failure.
func envelopeOutput(raw string) string {
	truncated := false
	if len(raw) > maxEnvelopedOutput {
		// Cut on a rune boundary; a split rune would marshal as U+FFFD.
		cut := maxEnvelopedOutput
		for cut > 0 && !utf8.RuneStart(raw[cut]) {
			cut--
		}
		raw = raw[:cut]
		truncated = true
	}
	out, err := json.Marshal(map[string]any{
		"success":   true,
		"output":    raw,
		"truncated": truncated,
		"note":      "tool returned non-JSON output",
	})
	if err != nil {
		return `{"success":false,"error":"tool output could not be encoded"}`
	}
	return string(out)
}
