package scenario

import (
	"fmt"
	"strconv"
	"strings"
)

// pathStep is one hop of a compiled path: a field name, an array index or
// the [*] wildcard.
type pathStep struct {
	key   string
	index int
	kind  byte // 'k' key, 'i' index, '*' wildcard
}

// compilePath parses the JSONPath subset assertions use: $.a.b, $.a[0],
// $.a[-1] (from the end), $.a[*].b and $['odd key'].
func compilePath(path string) ([]pathStep, error) {
	rest, ok := strings.CutPrefix(path, "$")
	if !ok {
		return nil, fmt.Errorf("JSONPath must start with $: %q", path)
	}
	var steps []pathStep
	for rest != "" {
		switch rest[0] {
		case '.':
			end := strings.IndexAny(rest[1:], ".[")
			if end < 0 {
				end = len(rest) - 1
			}
			key := rest[1 : end+1]
			if key == "" {
				return nil, fmt.Errorf("empty field name in %q", path)
			}
			steps = append(steps, pathStep{kind: 'k', key: key})
			rest = rest[end+1:]
		case '[':
			inner, after, ok := strings.Cut(rest[1:], "]")
			if !ok {
				return nil, fmt.Errorf("unclosed [ in %q", path)
			}
			step, err := bracketStep(inner)
			if err != nil {
				return nil, fmt.Errorf("%s in %q", err, path)
			}
			steps = append(steps, step)
			rest = after
		default:
			return nil, fmt.Errorf("unexpected %q in %q", rest[0], path)
		}
	}
	return steps, nil
}

func bracketStep(inner string) (pathStep, error) {
	if inner == "*" {
		return pathStep{kind: '*'}, nil
	}
	if len(inner) >= 2 && (inner[0] == '\'' || inner[0] == '"') && inner[len(inner)-1] == inner[0] {
		return pathStep{kind: 'k', key: inner[1 : len(inner)-1]}, nil
	}
	i, err := strconv.Atoi(inner)
	if err != nil {
		return pathStep{}, fmt.Errorf("invalid array index %q", inner)
	}
	return pathStep{kind: 'i', index: i}, nil
}

// jsonPathGet evaluates path against decoded JSON and returns every match.
// A path that leads nowhere yields no matches rather than an error.
func jsonPathGet(doc any, path string) ([]any, error) {
	steps, err := compilePath(path)
	if err != nil {
		return nil, err
	}
	nodes := []any{doc}
	for _, st := range steps {
		var next []any
		for _, n := range nodes {
			next = st.apply(n, next)
		}
		if len(next) == 0 {
			return nil, nil
		}
		nodes = next
	}
	return nodes, nil
}

// apply appends what st selects from n to out.
func (st pathStep) apply(n any, out []any) []any {
	switch st.kind {
	case 'k':
		if m, ok := n.(map[string]any); ok {
			if v, ok := m[st.key]; ok {
				out = append(out, v)
			}
		}
	case 'i':
		if arr, ok := n.([]any); ok {
			i := st.index
			if i < 0 {
				i += len(arr)
			}
			if i >= 0 && i < len(arr) {
				out = append(out, arr[i])
			}
		}
	case '*':
		switch v := n.(type) {
		case []any:
			out = append(out, v...)
		case map[string]any:
			for _, k := range sortedKeys(v) {
				out = append(out, v[k])
			}
		}
	}
	return out
}
