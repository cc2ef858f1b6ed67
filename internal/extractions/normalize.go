package extractions

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// ParseError means a provider responded but no JSON object could be recovered
// from its text. It carries a truncated sample for diagnostics and is always
// converted into a failed attempt, never propagated to the caller.
type ParseError struct {
	Sample string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("no JSON object found in provider response: %q", e.Sample)
}

var fencedBlock = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*(.*?)```")

// Normalize recovers a JSON object from free-form provider text and maps it
// onto the canonical schema. Parsing strategies, first success wins: direct
// parse, fenced code block, bracket scan.
func Normalize(rawText string) (CanonicalFinancialData, error) {
	obj, err := extractObject(rawText)
	if err != nil {
		return CanonicalFinancialData{}, err
	}
	data := applySchema(obj)
	if err := validateCanonical(data); err != nil {
		return CanonicalFinancialData{}, err
	}
	return data, nil
}

func extractObject(rawText string) (map[string]any, error) {
	trimmed := strings.TrimSpace(rawText)

	if obj, ok := tryParseObject(trimmed); ok {
		return obj, nil
	}

	if m := fencedBlock.FindStringSubmatch(trimmed); m != nil {
		if obj, ok := tryParseObject(strings.TrimSpace(m[1])); ok {
			return obj, nil
		}
	}

	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start >= 0 && end > start {
		if obj, ok := tryParseObject(trimmed[start : end+1]); ok {
			return obj, nil
		}
	}

	return nil, &ParseError{Sample: sample(rawText, 200)}
}

func tryParseObject(s string) (map[string]any, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return nil, false
	}
	return obj, obj != nil
}

func sample(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) > max {
		return s[:max]
	}
	return s
}
