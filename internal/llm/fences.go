package llm

import "strings"

// StripFences removes leading and trailing triple-backtick code fences from
// a model response, including a language tag on the opening fence ("```json",
// "```sql"). Text without fences passes through unchanged apart from
// surrounding whitespace. All the fragile fence-munging lives here so the
// callers parse clean text.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}

	s = strings.TrimPrefix(s, "```")
	// Drop the language tag up to the first newline, if any.
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		firstLine := strings.TrimSpace(s[:idx])
		if !strings.ContainsAny(firstLine, " \t") {
			s = s[idx+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
