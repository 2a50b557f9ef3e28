package scenario

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/wondertwin-ai/apiconform/internal/contract"
	"gopkg.in/yaml.v3"
)

// Scenario is a complete test scenario loaded from a JSON or YAML file.
type Scenario struct {
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description,omitempty" yaml:"description"`
	Variables   map[string]any `json:"variables,omitempty" yaml:"variables"`
	Setup       *Setup         `json:"setup,omitempty" yaml:"setup"`
	Steps       []Step         `json:"steps" yaml:"steps"`
	// Teardown steps run after Steps whatever their outcome.
	Teardown []Step `json:"teardown,omitempty" yaml:"teardown"`

	// Path is the file the scenario was loaded from; schema files are
	// resolved relative to it.
	Path string `json:"-" yaml:"-"`
}

// Setup defines pre-test actions.
type Setup struct {
	// Reset calls the backend's /admin/reset first.
	Reset bool   `json:"reset,omitempty" yaml:"reset"`
	Login *Login `json:"login,omitempty" yaml:"login"`
}

// Login signs in before the first step. Empty fields fall back to the
// runner's credentials, so `login: true` uses them unchanged.
type Login struct {
	Email    string `json:"email,omitempty" yaml:"email"`
	Password string `json:"password,omitempty" yaml:"password"`
	Disabled bool   `json:"-" yaml:"-"`
}

// UnmarshalJSON accepts a boolean or an object.
func (l *Login) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*l = Login{Disabled: !b}
		return nil
	}
	type plain Login
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("login: want boolean or object: %w", err)
	}
	*l = Login(p)
	return nil
}

// UnmarshalYAML accepts a boolean or a mapping.
func (l *Login) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		var b bool
		if err := node.Decode(&b); err != nil {
			return fmt.Errorf("login: want boolean or mapping: %w", err)
		}
		*l = Login{Disabled: !b}
		return nil
	}
	type plain Login
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*l = Login(p)
	return nil
}

// Step is a single request/assert pair within a scenario.
type Step struct {
	Name    string            `json:"name" yaml:"name"`
	Request Request           `json:"request" yaml:"request"`
	Capture map[string]string `json:"capture,omitempty" yaml:"capture"`
	Assert  *Assert           `json:"assert,omitempty" yaml:"assert"`
}

// Request defines the HTTP request to make during a step. Path is relative
// to the base URL unless absolute.
type Request struct {
	Method  string            `json:"method" yaml:"method"`
	Path    string            `json:"path" yaml:"path"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers"`
	Query   map[string]string `json:"query,omitempty" yaml:"query"`
	Body    any               `json:"body,omitempty" yaml:"body"`
	Form    map[string]string `json:"form,omitempty" yaml:"form"`
	// Auth set to false suppresses the session's Authorization header.
	Auth *bool `json:"auth,omitempty" yaml:"auth"`
}

// Assert defines the expected results of a step.
type Assert struct {
	Status       contract.Codes    `json:"status,omitempty" yaml:"status"`
	BodyContains string            `json:"body_contains,omitempty" yaml:"body_contains"`
	Headers      map[string]string `json:"headers,omitempty" yaml:"headers"`
	// Body maps JSONPath expressions to a value or an operator object.
	Body   map[string]any `json:"body,omitempty" yaml:"body"`
	Schema string         `json:"schema,omitempty" yaml:"schema"`
	Expr   Exprs          `json:"expr,omitempty" yaml:"expr"`
}

// Exprs is a list of CEL expressions; a single string is a list of one.
type Exprs []string

// UnmarshalJSON accepts a string or an array of strings.
func (e *Exprs) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*e = Exprs{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("expr: want string or array of strings: %w", err)
	}
	*e = many
	return nil
}

// UnmarshalYAML accepts a scalar or a sequence.
func (e *Exprs) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*e = Exprs{node.Value}
		return nil
	}
	var many []string
	if err := node.Decode(&many); err != nil {
		return fmt.Errorf("expr: want string or sequence: %w", err)
	}
	*e = many
	return nil
}
