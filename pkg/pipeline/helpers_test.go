package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/wehubfusion/Sawmill/pkg/document"
)

// addField sets path to value and always succeeds.
func addField(path string, value interface{}) Processor {
	return ProcessorFunc("addField", func(_ context.Context, doc *document.Doc) (ProcessResult, error) {
		if err := doc.Set(path, value); err != nil {
			return Failure(err.Error()), nil
		}
		return Success(), nil
	})
}

func failAlways(reason string) Processor {
	return ProcessorFunc("failAlways", func(context.Context, *document.Doc) (ProcessResult, error) {
		return Failure(reason), nil
	})
}

var errBoom = errors.New("boom")

func errorAlways() Processor {
	return ProcessorFunc("errorAlways", func(context.Context, *document.Doc) (ProcessResult, error) {
		return ProcessResult{}, errBoom
	})
}

func panicAlways() Processor {
	return ProcessorFunc("panicAlways", func(context.Context, *document.Doc) (ProcessResult, error) {
		panic("unexpected state")
	})
}

func sleepFor(d time.Duration) Processor {
	return ProcessorFunc("sleep", func(context.Context, *document.Doc) (ProcessResult, error) {
		time.Sleep(d)
		return Success(), nil
	})
}

// countingProcessor wraps a processor and counts invocations.
type countingProcessor struct {
	Processor
	calls atomic.Int64
}

func counting(p Processor) *countingProcessor {
	return &countingProcessor{Processor: p}
}

func (c *countingProcessor) Process(ctx context.Context, doc *document.Doc) (ProcessResult, error) {
	c.calls.Add(1)
	return c.Processor.Process(ctx, doc)
}

func fieldEquals(path string, want interface{}) Condition {
	return ConditionFunc(func(doc *document.Doc) bool {
		v, ok := doc.Get(path)
		return ok && v == want
	})
}
