// Package tooling defines the canonical shape of an MCP tool and validates
// call parameters against its declared JSON schema.
package tooling

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Descriptor is a tool's canonical binding: the registry stores these,
// the dispatcher validates params against them before invoking a handler.
type Descriptor struct {
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	Category       string   `json:"category"`
	RequiredScopes []string `json:"required_scopes"`
	InputSchema    json.RawMessage `json:"input_schema"`
	OutputSchema   json.RawMessage `json:"output_schema,omitempty"`

	compiledInput  *jsonschema.Schema
	compiledOutput *jsonschema.Schema
}

// Validate checks the descriptor is well-formed and compiles its schemas.
// Must be called once before the descriptor is registered; a descriptor
// with an uncompiled schema can never validate params.
func (d *Descriptor) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("tooling: name is required")
	}
	if len(d.InputSchema) == 0 {
		return fmt.Errorf("tooling: %s: input_schema is required", d.Name)
	}

	compiled, err := compileSchema(d.Name+"#input", d.InputSchema)
	if err != nil {
		return fmt.Errorf("tooling: %s: compile input schema: %w", d.Name, err)
	}
	d.compiledInput = compiled

	if len(d.OutputSchema) > 0 {
		compiled, err := compileSchema(d.Name+"#output", d.OutputSchema)
		if err != nil {
			return fmt.Errorf("tooling: %s: compile output schema: %w", d.Name, err)
		}
		d.compiledOutput = compiled
	}
	return nil
}

func compileSchema(url string, raw json.RawMessage) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	if err := c.AddResource(url, doc); err != nil {
		return nil, err
	}
	return c.Compile(url)
}

// FieldError names a single param validation failure by JSON-pointer path.
// Values are never included: secret-bearing params must not be echoed
// back in an error response.
type FieldError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// ValidationError collects the field errors from a failed ValidateParams call.
type ValidationError struct {
	Tool   string       `json:"tool"`
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = fmt.Sprintf("%s: %s", f.Path, f.Message)
	}
	return fmt.Sprintf("tooling: %s: invalid params: %s", e.Tool, strings.Join(parts, "; "))
}

// ValidateParams validates raw JSON params against the descriptor's input
// schema, returning a *ValidationError with one FieldError per violated
// schema constraint on failure.
func (d *Descriptor) ValidateParams(params json.RawMessage) error {
	if d.compiledInput == nil {
		if err := d.Validate(); err != nil {
			return err
		}
	}

	var doc interface{}
	if len(params) == 0 {
		doc = map[string]interface{}{}
	} else if err := json.Unmarshal(params, &doc); err != nil {
		return &ValidationError{Tool: d.Name, Fields: []FieldError{{Path: "", Message: "params must be valid JSON"}}}
	}

	if err := d.compiledInput.Validate(doc); err != nil {
		ve, ok := err.(*jsonschema.ValidationError)
		if !ok {
			return &ValidationError{Tool: d.Name, Fields: []FieldError{{Path: "", Message: err.Error()}}}
		}
		return &ValidationError{Tool: d.Name, Fields: flattenSchemaErrors(ve)}
	}
	return nil
}

// flattenSchemaErrors walks a jsonschema.ValidationError's cause tree and
// collects one FieldError per leaf, keyed by the instance location.
func flattenSchemaErrors(ve *jsonschema.ValidationError) []FieldError {
	var out []FieldError
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			path := "/" + strings.Join(e.InstanceLocation, "/")
			out = append(out, FieldError{Path: path, Message: e.Message})
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}
