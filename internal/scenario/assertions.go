package scenario

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/wondertwin-ai/apiconform/internal/jsonutil"
)

// EvaluateBodyAssertions checks JSONPath assertions against a decoded body.
// Paths are evaluated in sorted order so the first reported failure is
// stable.
func EvaluateBodyAssertions(doc any, assertions map[string]any) error {
	for _, path := range sortedKeys(assertions) {
		if err := evaluateOne(doc, path, assertions[path]); err != nil {
			return err
		}
	}
	return nil
}

// evaluateOne evaluates a single JSONPath assertion. A plain value means
// eq; an object holds operators. Every match must satisfy every operator.
func evaluateOne(doc any, path string, expected any) error {
	results, err := jsonPathGet(doc, path)
	if err != nil {
		return fmt.Errorf("invalid JSONPath %q: %w", path, err)
	}
	ops, isOps := expected.(map[string]any)
	if !isOps {
		ops = map[string]any{"eq": expected}
	}

	if want, ok := ops["exists"]; ok {
		wantExists, isBool := want.(bool)
		if !isBool {
			return fmt.Errorf("JSONPath %q: 'exists' operator requires a boolean value", path)
		}
		if wantExists && len(results) == 0 {
			return fmt.Errorf("JSONPath %q: expected to exist but no match found", path)
		}
		if !wantExists && len(results) > 0 {
			return fmt.Errorf("JSONPath %q: expected not to exist but found %v", path, results[0])
		}
	}

	for _, op := range sortedKeys(ops) {
		if op == "exists" {
			continue
		}
		if len(results) == 0 {
			return fmt.Errorf("JSONPath %q: no match found for '%s' check", path, op)
		}
		for _, actual := range results {
			if err := evaluateOperator(op, actual, ops[op]); err != nil {
				return fmt.Errorf("JSONPath %q: %w", path, err)
			}
		}
	}
	return nil
}

func evaluateOperator(op string, actual, expected any) error {
	switch op {
	case "eq":
		if !jsonutil.Equal(actual, expected) {
			return fmt.Errorf("expected %v (%s), got %v (%s)", expected, jsonutil.TypeName(expected), actual, jsonutil.TypeName(actual))
		}

	case "ne":
		if jsonutil.Equal(actual, expected) {
			return fmt.Errorf("expected a value other than %v", expected)
		}

	case "gte", "lte":
		a, err := jsonutil.Float64(actual)
		if err != nil {
			return fmt.Errorf("'%s' requires numeric actual value: %w", op, err)
		}
		e, err := jsonutil.Float64(expected)
		if err != nil {
			return fmt.Errorf("'%s' requires numeric expected value: %w", op, err)
		}
		if op == "gte" && a < e {
			return fmt.Errorf("expected >= %v, got %v", e, a)
		}
		if op == "lte" && a > e {
			return fmt.Errorf("expected <= %v, got %v", e, a)
		}

	case "contains":
		switch container := actual.(type) {
		case []any:
			if !slices.ContainsFunc(container, func(v any) bool { return jsonutil.Equal(v, expected) }) {
				return fmt.Errorf("expected array to contain %v", expected)
			}
		default:
			actualStr, expectedStr := fmt.Sprint(actual), fmt.Sprint(expected)
			if !strings.Contains(actualStr, expectedStr) {
				return fmt.Errorf("expected to contain %q, got %q", expectedStr, actualStr)
			}
		}

	case "regex":
		pattern, ok := expected.(string)
		if !ok {
			return fmt.Errorf("'regex' operator requires a string pattern")
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("invalid regex pattern %q: %w", pattern, err)
		}
		if s := fmt.Sprint(actual); !re.MatchString(s) {
			return fmt.Errorf("value %q does not match regex %q", s, pattern)
		}

	case "in":
		allowed, ok := expected.([]any)
		if !ok {
			return fmt.Errorf("'in' operator requires a list")
		}
		if !slices.ContainsFunc(allowed, func(v any) bool { return jsonutil.Equal(v, actual) }) {
			return fmt.Errorf("value %v is not one of %v", actual, allowed)
		}

	case "length":
		want, ok := jsonutil.Int64(expected)
		if !ok {
			return fmt.Errorf("'length' operator requires an integer")
		}
		var n int
		switch v := actual.(type) {
		case []any:
			n = len(v)
		case map[string]any:
			n = len(v)
		case string:
			n = len(v)
		default:
			return fmt.Errorf("'length' is undefined for %s", jsonutil.TypeName(actual))
		}
		if int64(n) != want {
			return fmt.Errorf("expected length %d, got %d", want, n)
		}

	default:
		return fmt.Errorf("unknown operator %q", op)
	}
	return nil
}

// ExtractJSONPath returns the first match of path in doc.
func ExtractJSONPath(doc any, path string) (any, error) {
	results, err := jsonPathGet(doc, path)
	if err != nil {
		return nil, fmt.Errorf("invalid JSONPath %q: %w", path, err)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("JSONPath %q: no match found", path)
	}
	return results[0], nil
}
