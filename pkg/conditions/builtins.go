package conditions

import (
	"github.com/wehubfusion/Sawmill/pkg/pipeline"
	"github.com/wehubfusion/Sawmill/pkg/registry"
)

// Condition type names used in pipeline definitions.
const (
	TypeMatchRegex = "matchRegex"
	TypeExists     = "exists"
	TypeEquals     = "equals"
	TypeFieldType  = "fieldType"
	TypeAnd        = "and"
	TypeOr         = "or"
	TypeNot        = "not"
)

// RegisterBuiltins registers every built-in condition.
func RegisterBuiltins(r *registry.Registry) {
	r.RegisterCondition(TypeMatchRegex, createMatchRegex)
	r.RegisterCondition(TypeExists, createExists)
	r.RegisterCondition(TypeEquals, createEquals)
	r.RegisterCondition(TypeFieldType, createFieldType)
	r.RegisterCondition(TypeAnd, createAnd)
	r.RegisterCondition(TypeOr, createOr)
	r.RegisterCondition(TypeNot, createNot)
}

func createMatchRegex(cfg registry.Config, _ *registry.Registry) (pipeline.Condition, error) {
	field, err := cfg.RequireString(TypeMatchRegex, "field")
	if err != nil {
		return nil, err
	}
	pattern, err := cfg.RequireString(TypeMatchRegex, "pattern")
	if err != nil {
		return nil, err
	}
	c, err := NewMatchRegex(field, pattern, cfg.Bool("caseInsensitive", false), cfg.Bool("matchPartial", false))
	if err != nil {
		return nil, registry.NewConfigError(TypeMatchRegex, "pattern", "cannot build condition", err)
	}
	return c, nil
}

func createExists(cfg registry.Config, _ *registry.Registry) (pipeline.Condition, error) {
	field, err := cfg.RequireString(TypeExists, "field")
	if err != nil {
		return nil, err
	}
	c, err := NewExists(field)
	if err != nil {
		return nil, registry.NewConfigError(TypeExists, "field", "malformed field path", err)
	}
	return c, nil
}

func createEquals(cfg registry.Config, _ *registry.Registry) (pipeline.Condition, error) {
	field, err := cfg.RequireString(TypeEquals, "field")
	if err != nil {
		return nil, err
	}
	if !cfg.Has("value") {
		return nil, registry.NewConfigError(TypeEquals, "value", "is required", nil)
	}
	c, err := NewEquals(field, cfg["value"], cfg.Bool("caseInsensitive", false))
	if err != nil {
		return nil, registry.NewConfigError(TypeEquals, "field", "malformed field path", err)
	}
	return c, nil
}

func createFieldType(cfg registry.Config, _ *registry.Registry) (pipeline.Condition, error) {
	field, err := cfg.RequireString(TypeFieldType, "field")
	if err != nil {
		return nil, err
	}
	kind, err := cfg.RequireString(TypeFieldType, "type")
	if err != nil {
		return nil, err
	}
	c, err := NewFieldType(field, kind)
	if err != nil {
		return nil, registry.NewConfigError(TypeFieldType, "type", "cannot build condition", err)
	}
	return c, nil
}

func children(typ string, cfg registry.Config, r *registry.Registry) ([]pipeline.Condition, error) {
	raw, ok := cfg.List("conditions")
	if !ok || len(raw) == 0 {
		return nil, registry.NewConfigError(typ, "conditions", "must be a non-empty list", nil)
	}
	out := make([]pipeline.Condition, 0, len(raw))
	for _, item := range raw {
		c, err := r.CreateConditionFrom(item)
		if err != nil {
			return nil, registry.NewConfigError(typ, "conditions", "invalid child condition", err)
		}
		out = append(out, c)
	}
	return out, nil
}

func createAnd(cfg registry.Config, r *registry.Registry) (pipeline.Condition, error) {
	cs, err := children(TypeAnd, cfg, r)
	if err != nil {
		return nil, err
	}
	return And(cs), nil
}

func createOr(cfg registry.Config, r *registry.Registry) (pipeline.Condition, error) {
	cs, err := children(TypeOr, cfg, r)
	if err != nil {
		return nil, err
	}
	return Or(cs), nil
}

func createNot(cfg registry.Config, r *registry.Registry) (pipeline.Condition, error) {
	raw, ok := cfg["condition"]
	if !ok {
		return nil, registry.NewConfigError(TypeNot, "condition", "is required", nil)
	}
	c, err := r.CreateConditionFrom(raw)
	if err != nil {
		return nil, registry.NewConfigError(TypeNot, "condition", "invalid child condition", err)
	}
	return Not{Condition: c}, nil
}
