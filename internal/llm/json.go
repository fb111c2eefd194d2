package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var errNoJSON = errors.New("no balanced JSON object/array found")

// DecodeJSON extracts the first JSON value from a model reply (tolerating
// markdown fences and chatter around it) and unmarshals it into out.
func DecodeJSON(raw string, out any) error {
	body, err := ExtractJSON(raw)
	if err != nil {
		return fmt.Errorf("malformed model output: %w", err)
	}
	if err := json.Unmarshal([]byte(body), out); err != nil {
		return fmt.Errorf("malformed model output: %w", err)
	}
	return nil
}

// ExtractJSON returns the first balanced JSON object or array in s.
func ExtractJSON(s string) (string, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "\uFEFF")
	if inner, ok := unfence(s); ok {
		s = strings.TrimSpace(inner)
	}
	if s == "" {
		return "", ErrEmptyResponse
	}
	for i := 0; i < len(s); i++ {
		if s[i] == '{' || s[i] == '[' {
			if out, ok := balancedFrom(s, i); ok {
				return out, nil
			}
		}
	}
	return "", errNoJSON
}

// unfence strips a leading ``` or ~~~ block, with an optional language tag.
func unfence(s string) (string, bool) {
	for _, fence := range []string{"```", "~~~"} {
		if !strings.HasPrefix(s, fence) {
			continue
		}
		rest := s[len(fence):]
		nl := strings.IndexByte(rest, '\n')
		if nl == -1 {
			return "", false
		}
		rest = rest[nl+1:]
		if end := strings.Index(rest, fence); end != -1 {
			return rest[:end], true
		}
		return rest, true
	}
	return "", false
}

// balancedFrom scans from start for the matching close bracket, skipping
// brackets inside string literals.
func balancedFrom(s string, start int) (string, bool) {
	var (
		stack    = []byte{s[start]}
		inString bool
		escape   bool
	)
	for i := start + 1; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escape:
				escape = false
			case c == '\\':
				escape = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, c)
		case '}', ']':
			top := stack[len(stack)-1]
			if (top == '{' && c != '}') || (top == '[' && c != ']') {
				return "", false
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
