// ABOUTME: Input validators for operations, compiled from JSON Schema documents.
// ABOUTME: Operations may also supply a plain predicate via ValidatorFunc.

package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Validator checks an operation's input before it reaches middleware.
type Validator interface {
	Validate(params json.RawMessage) error
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(params json.RawMessage) error

// Validate calls f.
func (f ValidatorFunc) Validate(params json.RawMessage) error { return f(params) }

type schemaValidator struct {
	schema *jsonschema.Schema
}

// CompileSchema compiles a JSON Schema document into a Validator.
func CompileSchema(name string, schema json.RawMessage) (Validator, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schema))
	if err != nil {
		return nil, fmt.Errorf("parsing input schema for %s: %w", name, err)
	}

	loc := "https://toolgate.local/schemas/" + url.PathEscape(name) + ".json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(loc, doc); err != nil {
		return nil, fmt.Errorf("adding input schema for %s: %w", name, err)
	}
	compiled, err := c.Compile(loc)
	if err != nil {
		return nil, fmt.Errorf("compiling input schema for %s: %w", name, err)
	}
	return &schemaValidator{schema: compiled}, nil
}

// Validate checks params against the schema. Absent params validate as {}.
func (v *schemaValidator) Validate(params json.RawMessage) error {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(normalizeParams(params)))
	if err != nil {
		return fmt.Errorf("params are not valid JSON: %w", err)
	}
	return v.schema.Validate(inst)
}

// normalizeParams turns missing or null params into an empty object.
func normalizeParams(params json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(params)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return json.RawMessage("{}")
	}
	return params
}
