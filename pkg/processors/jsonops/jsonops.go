// Package jsonops provides processors that parse, edit and validate JSON.
package jsonops

import (
	"context"
	"fmt"
	"sort"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/wehubfusion/Sawmill/pkg/document"
	"github.com/wehubfusion/Sawmill/pkg/pipeline"
	"github.com/wehubfusion/Sawmill/pkg/registry"
)

// Processor type names.
const (
	TypeJSON   = "json"
	TypeEdit   = "jsonEdit"
	TypeSchema = "jsonSchema"
)

// Register registers the JSON processors.
func Register(r *registry.Registry) {
	r.RegisterProcessor(TypeJSON, CreateParse)
	r.RegisterProcessor(TypeEdit, CreateEdit)
	r.RegisterProcessor(TypeSchema, CreateSchema)
}

// Parse decodes a JSON string field into a nested value.
type Parse struct {
	field       document.Path
	target      document.Path
	removeField bool
}

// CreateParse builds a json processor from {field, target, removeField}.
// target defaults to field, replacing the string with the parsed value.
func CreateParse(cfg registry.Config) (pipeline.Processor, error) {
	field, err := cfg.RequirePath(TypeJSON, "field")
	if err != nil {
		return nil, err
	}
	target := field
	if cfg.Has("target") {
		if target, err = cfg.RequirePath(TypeJSON, "target"); err != nil {
			return nil, err
		}
	}
	return &Parse{field: field, target: target, removeField: cfg.Bool("removeField", false)}, nil
}

func (p *Parse) Type() string { return TypeJSON }

func (p *Parse) Process(_ context.Context, doc *document.Doc) (pipeline.ProcessResult, error) {
	v, ok := doc.GetPath(p.field)
	if !ok {
		return pipeline.Failure(fmt.Sprintf("field %s is missing", p.field)), nil
	}
	s, ok := v.(string)
	if !ok {
		return pipeline.Failure(fmt.Sprintf("field %s is not a string", p.field)), nil
	}
	if !gjson.Valid(s) {
		return pipeline.Failure(fmt.Sprintf("field %s does not hold valid JSON", p.field)), nil
	}

	if err := doc.SetPath(p.target, gjson.Parse(s).Value()); err != nil {
		return pipeline.Failure(err.Error()), nil
	}
	if p.removeField && p.target.String() != p.field.String() {
		if _, err := doc.RemovePath(p.field); err != nil {
			return pipeline.Failure(err.Error()), nil
		}
	}
	return pipeline.Success(), nil
}

// Edit modifies a JSON string field in place without decoding it into the
// document. Paths use gjson/sjson syntax.
type Edit struct {
	field   document.Path
	setKeys []string
	set     map[string]interface{}
	delete  []string
}

// CreateEdit builds a jsonEdit processor from {field, set: {path: value}, delete: [path]}.
func CreateEdit(cfg registry.Config) (pipeline.Processor, error) {
	field, err := cfg.RequirePath(TypeEdit, "field")
	if err != nil {
		return nil, err
	}
	set, _ := cfg.Map("set")
	del := cfg.StringSlice("delete")
	if len(set) == 0 && len(del) == 0 {
		return nil, registry.NewConfigError(TypeEdit, "set", "either set or delete must be configured", nil)
	}

	keys := make([]string, 0, len(set))
	for k := range set {
		if k == "" {
			return nil, registry.NewConfigError(TypeEdit, "set", "paths cannot be empty", nil)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return &Edit{field: field, setKeys: keys, set: set, delete: del}, nil
}

func (e *Edit) Type() string { return TypeEdit }

func (e *Edit) Process(_ context.Context, doc *document.Doc) (pipeline.ProcessResult, error) {
	v, ok := doc.GetPath(e.field)
	if !ok {
		return pipeline.Failure(fmt.Sprintf("field %s is missing", e.field)), nil
	}
	raw, ok := v.(string)
	if !ok || !gjson.Valid(raw) {
		return pipeline.Failure(fmt.Sprintf("field %s does not hold a JSON string", e.field)), nil
	}

	var err error
	for _, path := range e.setKeys {
		raw, err = sjson.Set(raw, path, e.set[path])
		if err != nil {
			return pipeline.Failure(fmt.Sprintf("failed to set %s: %v", path, err)), nil
		}
	}
	for _, path := range e.delete {
		raw, err = sjson.Delete(raw, path)
		if err != nil {
			return pipeline.Failure(fmt.Sprintf("failed to delete %s: %v", path, err)), nil
		}
	}

	if err := doc.SetPath(e.field, raw); err != nil {
		return pipeline.Failure(err.Error()), nil
	}
	return pipeline.Success(), nil
}
