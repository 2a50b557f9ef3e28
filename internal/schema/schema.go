// Package schema checks decoded JSON responses against declared shapes.
//
// A Schema lists field types, optional enum constraints, required keys and
// keys that must never appear (password hashes and the like). Declared
// schemas are compiled to JSON Schema (draft 2020-12) and evaluated by
// santhosh-tekuri/jsonschema; forbidden keys are checked directly so their
// violation messages stay stable.
package schema

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/wondertwin-ai/apiconform/internal/jsonutil"
)

// Type is a JSON value type.
type Type string

const (
	String  Type = "string"
	Integer Type = "integer"
	Number  Type = "number"
	Boolean Type = "boolean"
	Object  Type = "object"
	Array   Type = "array"
)

// Field declares the shape of one top-level key.
type Field struct {
	Type     Type
	Enum     []string
	Nullable bool
}

// Schema is a declared response shape. Use it through a pointer; the
// compiled form is built once on first use.
type Schema struct {
	Name      string
	Fields    map[string]Field
	Required  []string
	Forbidden []string

	raw      bool
	once     sync.Once
	compiled *jsonschema.Schema
	err      error
}

// Result is the outcome of a validation.
type Result struct {
	Valid      bool
	Violations []string
}

// Validate checks body against s. It never mutates body and always returns
// the same violations, sorted, for the same input.
func Validate(body any, s *Schema) Result {
	var violations []string

	obj, isObject := body.(map[string]any)
	if !s.raw && !isObject {
		return Result{Violations: []string{fmt.Sprintf("body: expected object, got %s", jsonutil.TypeName(body))}}
	}

	compiled, err := s.compile()
	if err != nil {
		return Result{Violations: []string{fmt.Sprintf("schema %s: %v", s.Name, err)}}
	}

	if err := compiled.Validate(body); err != nil {
		if ve, ok := err.(*jsonschema.ValidationError); ok {
			collectLeaves(ve, &violations)
		} else {
			violations = append(violations, err.Error())
		}
	}

	if isObject {
		for _, key := range s.Forbidden {
			if _, present := obj[key]; present {
				violations = append(violations, fmt.Sprintf("forbidden key %q present", key))
			}
		}
	}

	sort.Strings(violations)
	return Result{Valid: len(violations) == 0, Violations: violations}
}

// ValidateJSON decodes data and validates it against s.
func ValidateJSON(data []byte, s *Schema) Result {
	doc, err := jsonutil.Decode(data)
	if err != nil {
		return Result{Violations: []string{"body: " + err.Error()}}
	}
	return Validate(doc, s)
}

// FromJSONSchema compiles a raw JSON Schema document. Validation against the
// returned Schema does not require the body to be an object.
func FromJSONSchema(name string, data []byte) (*Schema, error) {
	compiled, err := compileDocument(name, data)
	if err != nil {
		return nil, err
	}
	s := &Schema{Name: name, raw: true, compiled: compiled}
	s.once.Do(func() {})
	return s, nil
}

// LoadFile reads and compiles a JSON Schema file.
func LoadFile(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading schema %s: %w", path, err)
	}
	return FromJSONSchema(filepath.Base(path), data)
}

// Error joins the violations of r, or returns nil when r is valid.
func (r Result) Error() error {
	if r.Valid {
		return nil
	}
	return fmt.Errorf("schema violations: %v", r.Violations)
}

func (s *Schema) compile() (*jsonschema.Schema, error) {
	s.once.Do(func() {
		if s.compiled != nil {
			return
		}
		doc, err := jsonutil.Marshal(s.document())
		if err != nil {
			s.err = fmt.Errorf("marshal: %w", err)
			return
		}
		s.compiled, s.err = compileDocument(s.Name, doc)
	})
	return s.compiled, s.err
}

// document renders the declared shape as a JSON Schema object.
func (s *Schema) document() map[string]any {
	props := make(map[string]any, len(s.Fields))
	for key, f := range s.Fields {
		prop := map[string]any{}
		if f.Type != "" {
			if f.Nullable {
				prop["type"] = []string{string(f.Type), "null"}
			} else {
				prop["type"] = string(f.Type)
			}
		}
		if len(f.Enum) > 0 {
			enum := make([]any, 0, len(f.Enum)+1)
			for _, v := range f.Enum {
				enum = append(enum, v)
			}
			if f.Nullable {
				enum = append(enum, nil)
			}
			prop["enum"] = enum
		}
		props[key] = prop
	}

	doc := map[string]any{
		"$schema":    "https://json-schema.org/draft/2020-12/schema",
		"type":       "object",
		"properties": props,
	}
	if len(s.Required) > 0 {
		doc["required"] = s.Required
	}
	return doc
}

func compileDocument(name string, data []byte) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	schemaURL := "https://apiconform.local/schemas/" + url.PathEscape(name) + ".json"
	if err := c.AddResource(schemaURL, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("schema load failed: %w", err)
	}
	compiled, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("schema compile failed: %w", err)
	}
	return compiled, nil
}

// collectLeaves flattens a validation error tree into "location: message"
// lines, one per leaf cause.
func collectLeaves(ve *jsonschema.ValidationError, out *[]string) {
	if len(ve.Causes) == 0 {
		loc := ve.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		*out = append(*out, fmt.Sprintf("%s: %s", loc, ve.Message))
		return
	}
	for _, c := range ve.Causes {
		collectLeaves(c, out)
	}
}
