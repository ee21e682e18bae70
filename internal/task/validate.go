package task

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// JSONSchema renders the parameter schema as a JSON Schema document.
func (s Schema) JSONSchema() map[string]any {
	props := make(map[string]any, len(s))
	required := []string{}
	for _, name := range s.Names() {
		spec := s[name]
		prop := map[string]any{}
		if spec.Description != "" {
			prop["description"] = spec.Description
		}
		switch spec.Type {
		case ParamInteger:
			prop["type"] = "integer"
		case ParamFloat:
			prop["type"] = "number"
		case ParamBoolean:
			prop["type"] = "boolean"
		case ParamList:
			prop["type"] = "array"
			prop["items"] = map[string]any{"type": "string"}
		case ParamChoice:
			prop["type"] = "string"
			if len(spec.Choices) > 0 {
				prop["enum"] = spec.Choices
			}
		default:
			prop["type"] = "string"
			if spec.Required {
				prop["minLength"] = 1
			}
		}
		if spec.Min != nil {
			prop["minimum"] = *spec.Min
		}
		if spec.Max != nil {
			prop["maximum"] = *spec.Max
		}
		if spec.Required && spec.Type == ParamList {
			prop["minItems"] = 1
		}
		props[name] = prop
		if spec.Required {
			required = append(required, name)
		}
	}
	return map[string]any{
		"$schema":    "http://json-schema.org/draft-07/schema#",
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

// Compile builds a validator for the schema.
func (s Schema) Compile(name string) (*jsonschema.Schema, error) {
	doc, err := json.Marshal(s.JSONSchema())
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	url := name + ".json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, bytes.NewReader(doc)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	return compiler.Compile(url)
}

// validate checks params against the compiled schema. Nil values of optional
// parameters are ignored.
func (s Schema) validate(compiled *jsonschema.Schema, params Params) error {
	doc := make(map[string]any, len(params))
	for k, v := range params {
		if v == nil && !s[k].Required {
			continue
		}
		doc[k] = v
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal parameters: %w", err)
	}
	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("unmarshal parameters: %w", err)
	}
	if err := compiled.Validate(data); err != nil {
		return fmt.Errorf("invalid parameters: %w", err)
	}
	return nil
}
