package llm

import (
	"regexp"
	"strings"
)

var (
	// arrayFencePattern matches a JSON array inside a markdown code fence.
	arrayFencePattern = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(\\[.*\\])\\s*```")
	// trailingCommaPattern matches trailing commas before ] or }.
	trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)
)

// ExtractJSONArray salvages a JSON array from a chatty model response. It
// prefers an array inside a markdown code fence, then falls back to the
// span between the first '[' and the last ']'. Comments and trailing
// commas, which models commonly emit, are stripped. Returns "" when the
// response contains no array at all.
func ExtractJSONArray(content string) string {
	if m := arrayFencePattern.FindStringSubmatch(content); len(m) > 1 {
		return cleanJSON(m[1])
	}
	start := strings.Index(content, "[")
	end := strings.LastIndex(content, "]")
	if start == -1 || end <= start {
		return ""
	}
	return cleanJSON(content[start : end+1])
}

// cleanJSON removes JavaScript-style line comments and trailing commas.
func cleanJSON(raw string) string {
	lines := strings.Split(raw, "\n")
	for i, line := range lines {
		lines[i] = stripLineComment(line)
	}
	return trailingCommaPattern.ReplaceAllString(strings.Join(lines, "\n"), "$1")
}

// stripLineComment drops a // comment from a line unless the slashes sit
// inside a JSON string value.
func stripLineComment(line string) string {
	if !strings.Contains(line, "//") {
		return line
	}

	inString := false
	escaped := false
	for i := 0; i < len(line); i++ {
		ch := line[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case ch == '\\' && inString:
			escaped = true
		case ch == '"':
			inString = !inString
		case !inString && ch == '/' && i+1 < len(line) && line[i+1] == '/':
			return strings.TrimRight(line[:i], " \t")
		}
	}
	return line
}
