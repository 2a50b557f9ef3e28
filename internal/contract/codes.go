package contract

import (
	"bytes"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/wondertwin-ai/apiconform/internal/jsonutil"
	"gopkg.in/yaml.v3"
)

// Codes is a set of acceptable HTTP status codes. In YAML and JSON it may
// be written as a single integer or as a list.
type Codes []int

// Allows reports whether code is one of c.
func (c Codes) Allows(code int) bool {
	return slices.Contains(c, code)
}

func (c Codes) String() string {
	parts := make([]string, len(c))
	for i, code := range c {
		parts[i] = strconv.Itoa(code)
	}
	return strings.Join(parts, "|")
}

// UnmarshalYAML accepts a scalar or a sequence.
func (c *Codes) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var code int
		if err := node.Decode(&code); err != nil {
			return fmt.Errorf("status code: %w", err)
		}
		*c = Codes{code}
		return nil
	case yaml.SequenceNode:
		var codes []int
		if err := node.Decode(&codes); err != nil {
			return fmt.Errorf("status codes: %w", err)
		}
		*c = codes
		return nil
	default:
		return fmt.Errorf("status codes: line %d: expected integer or list", node.Line)
	}
}

// UnmarshalJSON accepts a number or an array of numbers.
func (c *Codes) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var codes []int
		if err := jsonutil.Unmarshal(data, &codes); err != nil {
			return fmt.Errorf("status codes: %w", err)
		}
		*c = codes
		return nil
	}
	var code int
	if err := jsonutil.Unmarshal(data, &code); err != nil {
		return fmt.Errorf("status code: %w", err)
	}
	*c = Codes{code}
	return nil
}
