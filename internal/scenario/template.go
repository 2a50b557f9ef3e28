package scenario

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
)

// ExpandTemplates replaces template placeholders in a string:
//   - {{env.VARIABLE}} from environment variables
//   - {{uuid}} with a fresh random UUID
//   - {{variable_name}} from scenario variables and captures
//
// Substituted values are inserted verbatim and never expanded again.
func ExpandTemplates(s string, vars map[string]any) (string, error) {
	var b strings.Builder
	pos := 0
	for {
		start := strings.Index(s[pos:], "{{")
		if start == -1 {
			break
		}
		start += pos
		end := strings.Index(s[start:], "}}")
		if end == -1 {
			return "", fmt.Errorf("unterminated template expression at position %d", start)
		}
		end += start + 2

		value, err := resolveExpr(strings.TrimSpace(s[start+2:end-2]), vars)
		if err != nil {
			return "", err
		}
		b.WriteString(s[pos:start])
		b.WriteString(fmt.Sprint(value))
		pos = end
	}
	if pos == 0 {
		return s, nil
	}
	b.WriteString(s[pos:])
	return b.String(), nil
}

// expandValue expands templates throughout a decoded JSON/YAML value.
// A string that is exactly one placeholder takes the variable's own type,
// so a captured numeric id stays a number.
func expandValue(v any, vars map[string]any) (any, error) {
	switch val := v.(type) {
	case string:
		if expr, ok := wholeTemplate(val); ok {
			return resolveExpr(expr, vars)
		}
		return ExpandTemplates(val, vars)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			expanded, err := expandValue(item, vars)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = expanded
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			expanded, err := expandValue(item, vars)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = expanded
		}
		return out, nil
	default:
		return v, nil
	}
}

func wholeTemplate(s string) (string, bool) {
	if !strings.HasPrefix(s, "{{") || !strings.HasSuffix(s, "}}") {
		return "", false
	}
	inner := s[2 : len(s)-2]
	if strings.Contains(inner, "{{") || strings.Contains(inner, "}}") {
		return "", false
	}
	return strings.TrimSpace(inner), true
}

func resolveExpr(expr string, vars map[string]any) (any, error) {
	if envKey, ok := strings.CutPrefix(expr, "env."); ok {
		return os.Getenv(envKey), nil
	}
	if expr == "uuid" {
		return uuid.NewString(), nil
	}
	if val, ok := vars[expr]; ok {
		return val, nil
	}
	return nil, fmt.Errorf("unresolved template expression: %q", expr)
}

func expandMap(m map[string]string, vars map[string]any) (map[string]string, error) {
	if len(m) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		expanded, err := ExpandTemplates(v, vars)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		out[k] = expanded
	}
	return out, nil
}
