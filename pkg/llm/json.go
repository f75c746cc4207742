package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrNoJSON means a completion held no parseable JSON object or array.
var ErrNoJSON = errors.New("no JSON object or array in completion")

var (
	// Reasoning models served through Groq prefix answers with <think> blocks
	thinkBlock = regexp.MustCompile(`(?s)^\s*<think>.*?</think>\s*`)
	codeFence  = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*\n?(.*?)```")
)

// ResponseFormatError reports a completion that could not be decoded into
// the structure a caller asked for, such as a classification or generated SQL.
type ResponseFormatError struct {
	Schema  string // Go type the completion was decoded into
	Excerpt string // start of the completion, for logs
	Err     error
}

func (e *ResponseFormatError) Error() string {
	return fmt.Sprintf("completion does not match %s: %v (got %q)", e.Schema, e.Err, e.Excerpt)
}

func (e *ResponseFormatError) Unwrap() error {
	return e.Err
}

const excerptLen = 120

// ExtractJSON returns the first valid JSON object or array in a completion.
// A fenced code block is preferred when present; otherwise every opening
// bracket is tried in order, so stray brackets in prose are skipped.
func ExtractJSON(response string) (string, error) {
	cleaned := thinkBlock.ReplaceAllString(response, "")

	if m := codeFence.FindStringSubmatch(cleaned); m != nil {
		if fenced := strings.TrimSpace(m[1]); json.Valid([]byte(fenced)) {
			return fenced, nil
		}
	}

	for start := 0; start < len(cleaned); start++ {
		if cleaned[start] != '{' && cleaned[start] != '[' {
			continue
		}
		if end := matchingBracket(cleaned, start); end > 0 {
			if candidate := cleaned[start : end+1]; json.Valid([]byte(candidate)) {
				return candidate, nil
			}
		}
	}

	return "", ErrNoJSON
}

// matchingBracket returns the index closing the bracket opened at s[start],
// ignoring brackets inside JSON strings, or -1 when it never closes.
func matchingBracket(s string, start int) int {
	var stack []byte
	inString, escaped := false, false

	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case inString:
			if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
		case c == '"':
			inString = true
		case c == '{':
			stack = append(stack, '}')
		case c == '[':
			stack = append(stack, ']')
		case c == '}' || c == ']':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return -1
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i
			}
		}
	}
	return -1
}

// ParseJSONResponse decodes the JSON in a completion into T. Failures are
// *ResponseFormatError naming T, wrapping ErrNoJSON or the decode error.
func ParseJSONResponse[T any](response string) (T, error) {
	var result T

	formatErr := func(err error) error {
		return &ResponseFormatError{
			Schema:  fmt.Sprintf("%T", result),
			Excerpt: excerpt(response),
			Err:     err,
		}
	}

	jsonStr, err := ExtractJSON(response)
	if err != nil {
		return result, formatErr(err)
	}
	if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
		return result, formatErr(err)
	}
	return result, nil
}

func excerpt(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > excerptLen {
		return string(r[:excerptLen]) + "..."
	}
	return s
}
