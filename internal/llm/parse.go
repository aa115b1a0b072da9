package llm

import (
	"fmt"
	"strings"
)

// ExtractJSONBlock pulls the JSON payload out of a model response.
// It prefers the first ```json fenced block, then any fenced block, then
// the first balanced {...} object in the text.
func ExtractJSONBlock(response string) (string, error) {
	response = strings.TrimSpace(response)
	if response == "" {
		return "", fmt.Errorf("empty response")
	}

	if block, ok := fencedBlock(response, "```json"); ok {
		return block, nil
	}
	if block, ok := fencedBlock(response, "```"); ok {
		if strings.HasPrefix(strings.TrimSpace(block), "{") || strings.HasPrefix(strings.TrimSpace(block), "[") {
			return block, nil
		}
	}
	if block, ok := balancedObject(response); ok {
		return block, nil
	}
	// A bare JSON array (asset filter responses) has no braces to balance
	if strings.HasPrefix(response, "[") && strings.HasSuffix(response, "]") {
		return response, nil
	}

	return "", fmt.Errorf("no JSON block found in response")
}

func fencedBlock(s, fence string) (string, bool) {
	start := strings.Index(s, fence)
	if start < 0 {
		return "", false
	}
	rest := s[start+len(fence):]
	end := strings.Index(rest, "```")
	if end < 0 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}

// balancedObject returns the first brace-balanced object, tracking string
// literals so braces inside values do not break the count.
func balancedObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
