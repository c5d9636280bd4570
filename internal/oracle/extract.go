package oracle

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var fencedJSON = regexp.MustCompile("(?s)```json\\s*(.*?)\\s*```")

// ExtractDecision pulls one Decision out of a raw model reply. Models wrap
// their payload in prose or markdown fences more often than not, so the
// fenced block is tried first and the outermost balanced JSON object second.
func ExtractDecision(raw string) (*Decision, error) {
	if m := fencedJSON.FindStringSubmatch(raw); m != nil {
		var d Decision
		if err := json.Unmarshal([]byte(m[1]), &d); err == nil {
			return &d, nil
		}
		// fall through: fence contents were not valid JSON
	}

	obj := outermostObject(raw)
	if obj == "" {
		return nil, fmt.Errorf("no JSON object in response")
	}
	var d Decision
	if err := json.Unmarshal([]byte(obj), &d); err != nil {
		return nil, fmt.Errorf("parse JSON object: %w", err)
	}
	return &d, nil
}

// outermostObject returns the first balanced top-level {...} literal in s,
// honoring string escapes so braces inside values do not end the scan.
func outermostObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
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
				return s[start : i+1]
			}
		}
	}
	return ""
}
