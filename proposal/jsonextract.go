package proposal

import (
	"regexp"
	"strings"
)

// Pre-compiled patterns for locating the structured block in a reply.
var (
	// fencedBlockPattern matches JSON inside markdown code fences.
	fencedBlockPattern = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(\\{.*\\})\\s*```")
	// fenceStripPattern removes fenced blocks when extracting narrative text.
	fenceStripPattern = regexp.MustCompile("(?s)```.*?```")
	// trailingCommaPattern matches trailing commas before ] or }.
	trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)
	// questionLinePattern matches question-marker lines in narrative text.
	questionLinePattern = regexp.MustCompile(`(?m)^\s*(?:Q|Question)\s*:\s*(.+?)\s*$`)
)

// extractJSONBlock locates the structured block in a reply. Models wrap the
// object in prose or code fences; a fenced block wins, otherwise the
// outermost balanced brace region starting at the first '{' is used.
// JavaScript-style comments and trailing commas, which models commonly emit,
// are stripped. Returns "" when no candidate block exists.
func extractJSONBlock(raw string) string {
	if m := fencedBlockPattern.FindStringSubmatch(raw); len(m) > 1 {
		return cleanJSON(m[1])
	}
	if region := balancedBraceRegion(raw); region != "" {
		return cleanJSON(region)
	}
	return ""
}

// balancedBraceRegion returns the outermost balanced {...} region starting
// at the first top-level '{', tracking string literals and escapes so braces
// inside values are not miscounted.
func balancedBraceRegion(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case ch == '\\' && inString:
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == '{':
			depth++
		case ch == '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// cleanJSON strips // comments outside string values and trailing commas.
func cleanJSON(raw string) string {
	lines := strings.Split(raw, "\n")
	cleaned := make([]string, 0, len(lines))
	for _, line := range lines {
		cleaned = append(cleaned, stripLineComment(line))
	}
	result := strings.Join(cleaned, "\n")
	return trailingCommaPattern.ReplaceAllString(result, "$1")
}

// stripLineComment removes a // comment from a line, respecting string
// values so URLs like "http://example.com" survive intact.
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
		if ch == '\\' && inString {
			escaped = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if !inString && ch == '/' && i+1 < len(line) && line[i+1] == '/' {
			return strings.TrimRight(line[:i], " \t")
		}
	}
	return line
}

// narrativeText extracts the prose outside any structured block, capped to
// keep a runaway reply displayable.
func narrativeText(raw string) string {
	text := fenceStripPattern.ReplaceAllString(raw, "")
	if region := balancedBraceRegion(text); region != "" {
		text = strings.Replace(text, region, "", 1)
	}
	text = strings.TrimSpace(text)
	const maxNarrative = 2000
	if len(text) > maxNarrative {
		text = text[:maxNarrative]
	}
	return text
}

// questionLines extracts question-marker lines ("Q: ..." or "Question: ...")
// from narrative text.
func questionLines(text string) []string {
	matches := questionLinePattern.FindAllStringSubmatch(text, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m[1])
	}
	return out
}
