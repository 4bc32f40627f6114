package jsonops

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/wehubfusion/Sawmill/pkg/document"
	"github.com/wehubfusion/Sawmill/pkg/pipeline"
	"github.com/wehubfusion/Sawmill/pkg/registry"
)

// Schema validates the document, or a subtree of it, against a JSON Schema.
// Violations are a controlled failure listing every error.
type Schema struct {
	field  document.Path // zero means the whole document
	schema *jsonschema.Schema
}

// CreateSchema builds a jsonSchema processor from {field, schema, draft}.
// schema is either an object or a JSON string.
func CreateSchema(cfg registry.Config) (pipeline.Processor, error) {
	var field document.Path
	if cfg.Has("field") {
		var err error
		if field, err = cfg.RequirePath(TypeSchema, "field"); err != nil {
			return nil, err
		}
	}

	var schemaJSON []byte
	switch raw := cfg["schema"].(type) {
	case string:
		schemaJSON = []byte(raw)
	case map[string]interface{}:
		b, err := json.Marshal(raw)
		if err != nil {
			return nil, registry.NewConfigError(TypeSchema, "schema", "cannot encode schema", err)
		}
		schemaJSON = b
	default:
		return nil, registry.NewConfigError(TypeSchema, "schema", "must be an object or a JSON string", nil)
	}

	compiled, err := compileSchema(schemaJSON, cfg.String("draft", ""))
	if err != nil {
		return nil, registry.NewConfigError(TypeSchema, "schema", "invalid schema", err)
	}
	return &Schema{field: field, schema: compiled}, nil
}

func compileSchema(schemaJSON []byte, draft string) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = getDraftVersion(draft)
	if err := compiler.AddResource("schema.json", bytes.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("failed to add schema: %w", err)
	}
	return compiler.Compile("schema.json")
}

// getDraftVersion returns the jsonschema draft version, defaulting to 2020-12.
func getDraftVersion(draft string) *jsonschema.Draft {
	switch draft {
	case "draft-04", "4":
		return jsonschema.Draft4
	case "draft-06", "6":
		return jsonschema.Draft6
	case "draft-07", "7":
		return jsonschema.Draft7
	case "2019-09":
		return jsonschema.Draft2019
	default:
		return jsonschema.Draft2020
	}
}

func (s *Schema) Type() string { return TypeSchema }

func (s *Schema) Process(_ context.Context, doc *document.Doc) (pipeline.ProcessResult, error) {
	var subject interface{} = doc.Source()
	if !s.field.IsZero() {
		v, ok := doc.GetPath(s.field)
		if !ok {
			return pipeline.Failure(fmt.Sprintf("field %s is missing", s.field)), nil
		}
		subject = v
	}

	// round trip through JSON so numbers reach the validator as json.Number
	encoded, err := json.Marshal(subject)
	if err != nil {
		return pipeline.Failure(fmt.Sprintf("document cannot be encoded as JSON: %v", err)), nil
	}
	dec := json.NewDecoder(bytes.NewReader(encoded))
	dec.UseNumber()
	var instance interface{}
	if err := dec.Decode(&instance); err != nil {
		return pipeline.ProcessResult{}, fmt.Errorf("failed to decode encoded document: %w", err)
	}

	if err := s.schema.Validate(instance); err != nil {
		return pipeline.Failure("schema validation failed: " + strings.Join(extractValidationErrors(err), "; ")), nil
	}
	return pipeline.Success(), nil
}

// extractValidationErrors flattens a jsonschema error tree into messages.
func extractValidationErrors(err error) []string {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []string{err.Error()}
	}
	var out []string
	var walk func(*jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			out = append(out, fmt.Sprintf("at '%s': %s", loc, e.Message))
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	return out
}
