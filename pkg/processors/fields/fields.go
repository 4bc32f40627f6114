// Package fields provides processors that add, remove and rename document fields.
package fields

import (
	"context"
	"fmt"
	"strings"

	"github.com/wehubfusion/Sawmill/pkg/document"
	"github.com/wehubfusion/Sawmill/pkg/pipeline"
	"github.com/wehubfusion/Sawmill/pkg/registry"
)

// Processor type names.
const (
	TypeAdd    = "addField"
	TypeRemove = "removeField"
	TypeRename = "renameField"
)

// Register registers the field processors.
func Register(r *registry.Registry) {
	r.RegisterProcessor(TypeAdd, CreateAdd)
	r.RegisterProcessor(TypeRemove, CreateRemove)
	r.RegisterProcessor(TypeRename, CreateRename)
}

// Add sets a constant value at a path. Each document receives its own copy
// of nested values.
type Add struct {
	path  document.Path
	value interface{}
}

// NewAdd creates an addField processor.
func NewAdd(path string, value interface{}) (*Add, error) {
	p, err := document.ParsePath(path)
	if err != nil {
		return nil, registry.NewConfigError(TypeAdd, "path", "malformed field path", err)
	}
	return &Add{path: p, value: value}, nil
}

// CreateAdd builds an addField processor from {path, value}.
func CreateAdd(cfg registry.Config) (pipeline.Processor, error) {
	path, err := cfg.RequireString(TypeAdd, "path")
	if err != nil {
		return nil, err
	}
	if !cfg.Has("value") {
		return nil, registry.NewConfigError(TypeAdd, "value", "is required", nil)
	}
	return NewAdd(path, cfg["value"])
}

func (a *Add) Type() string { return TypeAdd }

func (a *Add) Process(_ context.Context, doc *document.Doc) (pipeline.ProcessResult, error) {
	if err := doc.SetPath(a.path, document.CloneValue(a.value)); err != nil {
		return pipeline.Failure(fmt.Sprintf("failed to add field %s: %v", a.path, err)), nil
	}
	return pipeline.Success(), nil
}

// Remove deletes one or more fields. Missing fields are ignored.
type Remove struct {
	paths []document.Path
}

// NewRemove creates a removeField processor.
func NewRemove(paths ...string) (*Remove, error) {
	if len(paths) == 0 {
		return nil, registry.NewConfigError(TypeRemove, "path", "at least one path is required", nil)
	}
	parsed := make([]document.Path, 0, len(paths))
	for _, raw := range paths {
		p, err := document.ParsePath(raw)
		if err != nil {
			return nil, registry.NewConfigError(TypeRemove, "path", "malformed field path", err)
		}
		parsed = append(parsed, p)
	}
	return &Remove{paths: parsed}, nil
}

// CreateRemove builds a removeField processor from {path} or {paths}.
func CreateRemove(cfg registry.Config) (pipeline.Processor, error) {
	paths := cfg.StringSlice("paths")
	paths = append(paths, cfg.StringSlice("path")...)
	return NewRemove(paths...)
}

func (r *Remove) Type() string { return TypeRemove }

func (r *Remove) Process(_ context.Context, doc *document.Doc) (pipeline.ProcessResult, error) {
	for _, p := range r.paths {
		if _, err := doc.RemovePath(p); err != nil {
			return pipeline.Failure(fmt.Sprintf("failed to remove field %s: %v", p, err)), nil
		}
	}
	return pipeline.Success(), nil
}

// Rename moves a value from one path to another.
type Rename struct {
	from document.Path
	to   document.Path
}

// NewRename creates a renameField processor.
func NewRename(from, to string) (*Rename, error) {
	f, err := document.ParsePath(from)
	if err != nil {
		return nil, registry.NewConfigError(TypeRename, "from", "malformed field path", err)
	}
	t, err := document.ParsePath(to)
	if err != nil {
		return nil, registry.NewConfigError(TypeRename, "to", "malformed field path", err)
	}
	if f.String() == t.String() {
		return nil, registry.NewConfigError(TypeRename, "to", "must differ from 'from'", nil)
	}
	return &Rename{from: f, to: t}, nil
}

// CreateRename builds a renameField processor from {from, to}.
func CreateRename(cfg registry.Config) (pipeline.Processor, error) {
	from, err := cfg.RequireString(TypeRename, "from")
	if err != nil {
		return nil, err
	}
	to, err := cfg.RequireString(TypeRename, "to")
	if err != nil {
		return nil, err
	}
	return NewRename(from, to)
}

func (r *Rename) Type() string { return TypeRename }

func (r *Rename) Process(_ context.Context, doc *document.Doc) (pipeline.ProcessResult, error) {
	v, ok := doc.GetPath(r.from)
	if !ok {
		return pipeline.Failure(fmt.Sprintf("field %s is missing", r.from)), nil
	}
	if err := doc.SetPath(r.to, v); err != nil {
		return pipeline.Failure(fmt.Sprintf("failed to rename %s to %s: %v", r.from, r.to, err)), nil
	}
	// moving a value onto one of its ancestors already dropped the source
	if strings.HasPrefix(r.from.String(), r.to.String()+document.PathSeparator) {
		return pipeline.Success(), nil
	}
	if _, err := doc.RemovePath(r.from); err != nil {
		return pipeline.Failure(fmt.Sprintf("failed to remove %s after rename: %v", r.from, err)), nil
	}
	return pipeline.Success(), nil
}
