package script

import (
	"fmt"

	"github.com/dop251/goja"
)

// hostGlobals are names scripts commonly probe for host access.
var hostGlobals = []string{
	"require",
	"module",
	"exports",
	"process",
	"global",
	"Buffer",
	"setImmediate",
	"clearImmediate",
}

var frozenBuiltins = []string{
	"Object",
	"Array",
	"Function",
	"String",
	"Number",
	"Boolean",
	"Date",
	"RegExp",
	"Math",
	"JSON",
}

const freezeSource = `(function(obj) {
	if (obj) {
		Object.freeze(obj);
		if (obj.prototype) {
			Object.freeze(obj.prototype);
		}
	}
})`

// newSandboxedRuntime creates a runtime with host globals cleared, eval
// disabled and the built-in constructors frozen.
func newSandboxedRuntime() (*goja.Runtime, error) {
	vm := goja.New()

	for _, name := range hostGlobals {
		if err := vm.Set(name, goja.Undefined()); err != nil {
			return nil, fmt.Errorf("failed to clear %s: %w", name, err)
		}
	}
	err := vm.Set("eval", func(goja.FunctionCall) goja.Value {
		panic(vm.NewTypeError("eval is not allowed"))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to disable eval: %w", err)
	}

	fn, err := vm.RunString(freezeSource)
	if err != nil {
		return nil, fmt.Errorf("failed to create freeze function: %w", err)
	}
	freeze, ok := goja.AssertFunction(fn)
	if !ok {
		return nil, fmt.Errorf("freeze function is not callable")
	}
	for _, name := range frozenBuiltins {
		obj := vm.Get(name)
		if obj == nil || goja.IsUndefined(obj) {
			continue
		}
		if _, err := freeze(goja.Undefined(), obj); err != nil {
			return nil, fmt.Errorf("failed to freeze %s: %w", name, err)
		}
	}
	return vm, nil
}
