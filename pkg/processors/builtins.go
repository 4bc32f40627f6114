// Package processors wires the built-in processor and condition kinds into a
// registry.
package processors

import (
	"github.com/wehubfusion/Sawmill/pkg/conditions"
	"github.com/wehubfusion/Sawmill/pkg/processors/date"
	"github.com/wehubfusion/Sawmill/pkg/processors/fields"
	"github.com/wehubfusion/Sawmill/pkg/processors/jsonops"
	"github.com/wehubfusion/Sawmill/pkg/processors/script"
	"github.com/wehubfusion/Sawmill/pkg/processors/strings"
	"github.com/wehubfusion/Sawmill/pkg/processors/urldecode"
	"github.com/wehubfusion/Sawmill/pkg/registry"
)

// RegisterBuiltins registers every built-in processor kind with r.
func RegisterBuiltins(r *registry.Registry) {
	fields.Register(r)
	urldecode.Register(r)
	strings.Register(r)
	jsonops.Register(r)
	date.Register(r)
	script.Register(r)
	r.RegisterProcessor(TypeSleep, CreateSleep)
}

// NewRegistry returns a registry holding all built-in processors and conditions.
func NewRegistry() *registry.Registry {
	r := registry.New()
	RegisterBuiltins(r)
	conditions.RegisterBuiltins(r)
	return r
}
