package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var (
	leadingThinkBlock = regexp.MustCompile(`(?s)^\s*<think>.*?</think>\s*`)
	thinkBlockContent = regexp.MustCompile(`(?s)<think>(.*?)</think>`)
)

// ExtractThinking returns the content of a <think> block in a model
// response, or "" when there is none.
func ExtractThinking(response string) string {
	if m := thinkBlockContent.FindStringSubmatch(response); len(m) == 2 {
		return strings.TrimSpace(m[1])
	}
	return ""
}

// ExtractJSON pulls the first JSON object or array out of a model
// response, tolerating think blocks, markdown fences and surrounding
// prose.
func ExtractJSON(response string) (string, error) {
	cleaned := leadingThinkBlock.ReplaceAllString(response, "")

	// Whichever bracket appears first decides whether to scan for an
	// object or an array.
	for _, open := range firstBrackets(cleaned) {
		if candidate, ok := scanBalanced(cleaned, open); ok && json.Valid([]byte(candidate)) {
			return candidate, nil
		}
	}

	if trimmed := strings.TrimSpace(cleaned); json.Valid([]byte(trimmed)) {
		return trimmed, nil
	}
	return "", fmt.Errorf("no valid JSON found in response")
}

// firstBrackets orders '{' and '[' by their first occurrence, dropping
// ones that do not appear at all.
func firstBrackets(s string) []byte {
	obj := strings.IndexByte(s, '{')
	arr := strings.IndexByte(s, '[')
	switch {
	case obj < 0 && arr < 0:
		return nil
	case obj < 0:
		return []byte{'['}
	case arr < 0:
		return []byte{'{'}
	case obj < arr:
		return []byte{'{', '['}
	default:
		return []byte{'[', '{'}
	}
}

// scanBalanced returns the first bracket-balanced slice starting at the
// first occurrence of open. String literals and escapes are respected so
// brackets inside values do not affect the depth count.
func scanBalanced(s string, open byte) (string, bool) {
	closer := byte('}')
	if open == '[' {
		closer = ']'
	}
	start := strings.IndexByte(s, open)
	if start < 0 {
		return "", false
	}

	depth, inString, escaped := 0, false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == open:
			depth++
		case c == closer:
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// ParseJSONResponse extracts JSON from a response and unmarshals it into
// the target type.
func ParseJSONResponse[T any](response string) (T, error) {
	var result T
	jsonStr, err := ExtractJSON(response)
	if err != nil {
		return result, err
	}
	if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
		return result, fmt.Errorf("unmarshal JSON: %w", err)
	}
	return result, nil
}
