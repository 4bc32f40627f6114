// Package pipeline implements the document pipeline engine: guarded execution
// steps with remediation, immutable pipelines, the executor that runs them and
// the watchdog that flags documents whose processing runs past a threshold.
package pipeline

import (
	"context"

	"github.com/wehubfusion/Sawmill/pkg/document"
)

// Condition is a side-effect free predicate over a document.
// Implementations must return false, never panic, when the addressed field
// is absent or has an unexpected type.
type Condition interface {
	Evaluate(doc *document.Doc) bool
}

// Processor transforms a document.
//
// A controlled failure is reported through ProcessResult and may be
// remediated by the step's OnFailure processors. A non-nil error (or a panic)
// is an unexpected failure: it is never remediated and always aborts the
// execution.
type Processor interface {
	// Type returns the processor kind, e.g. "addField". Used for diagnostics
	// and default step names.
	Type() string
	Process(ctx context.Context, doc *document.Doc) (ProcessResult, error)
}

// ProcessResult is the declared outcome of a processor invocation.
type ProcessResult struct {
	Succeeded bool
	Reason    string
}

// Success returns a successful result.
func Success() ProcessResult {
	return ProcessResult{Succeeded: true}
}

// Failure returns a controlled failure with the given reason.
func Failure(reason string) ProcessResult {
	return ProcessResult{Succeeded: false, Reason: reason}
}

// ConditionFunc adapts a function to the Condition interface.
type ConditionFunc func(doc *document.Doc) bool

// Evaluate calls f(doc).
func (f ConditionFunc) Evaluate(doc *document.Doc) bool {
	return f(doc)
}

// ProcessorFunc adapts a function to the Processor interface under the given type name.
func ProcessorFunc(typeName string, fn func(ctx context.Context, doc *document.Doc) (ProcessResult, error)) Processor {
	return &funcProcessor{typeName: typeName, fn: fn}
}

type funcProcessor struct {
	typeName string
	fn       func(ctx context.Context, doc *document.Doc) (ProcessResult, error)
}

func (p *funcProcessor) Type() string { return p.typeName }

func (p *funcProcessor) Process(ctx context.Context, doc *document.Doc) (ProcessResult, error) {
	return p.fn(ctx, doc)
}
