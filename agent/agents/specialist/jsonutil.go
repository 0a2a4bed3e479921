package specialist

import (
	"regexp"
	"strings"
)

var (
	jsonBlockPattern      = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(\\{.*\\})\\s*```")
	jsonObjectPattern     = regexp.MustCompile(`(?s)\{[\s\S]*\}`)
	jsonArrayBlockPattern = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(\\[.*\\])\\s*```")
	jsonArrayPattern      = regexp.MustCompile(`(?s)\[[\s\S]*\]`)
	trailingCommaPattern  = regexp.MustCompile(`,\s*([}\]])`)
)

// extractJSON pulls a JSON object out of a model reply, tolerating code
// fences, line comments and trailing commas.
func extractJSON(content string) string {
	if m := jsonBlockPattern.FindStringSubmatch(content); len(m) > 1 {
		return cleanJSON(m[1])
	}
	if m := jsonObjectPattern.FindString(content); m != "" {
		return cleanJSON(m)
	}
	return ""
}

func extractJSONArray(content string) string {
	if m := jsonArrayBlockPattern.FindStringSubmatch(content); len(m) > 1 {
		return cleanJSON(m[1])
	}
	if m := jsonArrayPattern.FindString(content); m != "" {
		return cleanJSON(m)
	}
	return ""
}

func cleanJSON(raw string) string {
	lines := strings.Split(raw, "\n")
	for i, line := range lines {
		lines[i] = stripLineComment(line)
	}
	return trailingCommaPattern.ReplaceAllString(strings.Join(lines, "\n"), "$1")
}

// stripLineComment drops a // comment that starts outside a string literal.
func stripLineComment(line string) string {
	if !strings.Contains(line, "//") {
		return line
	}
	inString, escaped := false, false
	for i := 0; i < len(line); i++ {
		ch := line[i]
		switch {
		case escaped:
			escaped = false
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
