package ai

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

var (
	// Matches: ```json\n{...}\n```, ```{...}```, ``` json{...}```, etc.
	codeFenceStartRegex = regexp.MustCompile(`(?s)^` + "`" + `{3}(?:json|javascript|js)?\s*\n?([\s\S]*?)\n?` + "`" + `{3}\s*$`)
	codeFenceAnyRegex   = regexp.MustCompile(`(?s)` + "`" + `{3}(?:json|javascript|js)?\s*\n?([\s\S]*?)\n?` + "`" + `{3}`)

	trailingCommaRegex     = regexp.MustCompile(`,(\s*[}\]])`)
	singleLineCommentRegex = regexp.MustCompile(`(?m)^\s*//.*$`)
	multiLineCommentRegex  = regexp.MustCompile(`(?s)/\*.*?\*/`)
)

// ParseResult is the outcome of a tolerant JSON parse.
type ParseResult[T any] struct {
	Success      bool
	Data         T
	Error        string
	OriginalText string
}

// maxParseInput bounds what Parse will look at.
const maxParseInput = 10 * 1024 * 1024

// Parse decodes model output into T, tolerating the usual wrapping:
//  1. Direct JSON parse
//  2. Remove code fences and retry
//  3. Strip comments and trailing commas and retry
//  4. Extract the outermost object or array from surrounding prose
func Parse[T any](text, context string) ParseResult[T] {
	if len(text) > maxParseInput {
		return createError[T](fmt.Sprintf("input exceeds size limit (%d > %d bytes)", len(text), maxParseInput),
			truncate(text, 1000), context)
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return createError[T]("empty input", text, context)
	}

	candidates := []string{trimmed}
	withoutFences := removeCodeFences(trimmed)
	if withoutFences != trimmed {
		candidates = append(candidates, withoutFences)
	}
	cleaned := cleanupJSON(withoutFences)
	candidates = append(candidates, cleaned)
	if extracted := extractJSON(cleaned); extracted != "" {
		candidates = append(candidates, extracted)
	}

	var firstErr error
	for _, c := range candidates {
		var out T
		err := json.Unmarshal([]byte(c), &out)
		if err == nil {
			return ParseResult[T]{Success: true, Data: out, OriginalText: text}
		}
		if firstErr == nil {
			firstErr = err
			slog.Debug("direct JSON parse failed, trying cleanup strategies",
				"error", err, "textPreview", truncate(text, 100), "context", context)
		}
	}
	return createError[T]("all JSON parsing strategies failed", text, context)
}

func createError[T any](msg, text, context string) ParseResult[T] {
	if context != "" {
		msg = fmt.Sprintf("%s: %s", context, msg)
	}
	return ParseResult[T]{Error: msg, OriginalText: text}
}

func removeCodeFences(text string) string {
	if m := codeFenceStartRegex.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := codeFenceAnyRegex.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return text
}

func cleanupJSON(text string) string {
	text = multiLineCommentRegex.ReplaceAllString(text, "")
	text = singleLineCommentRegex.ReplaceAllString(text, "")
	text = trailingCommaRegex.ReplaceAllString(text, "$1")
	return strings.TrimSpace(text)
}

// extractJSON returns the outermost balanced object or array in text,
// ignoring brackets inside strings.
func extractJSON(text string) string {
	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return ""
	}
	open := text[start]
	closer := byte('}')
	if open == '[' {
		closer = ']'
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		switch {
		case escaped:
			escaped = false
		case ch == '\\' && inString:
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == open:
			depth++
		case ch == closer:
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

// truncate shortens s to at most n bytes for log previews.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
