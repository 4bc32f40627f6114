// Package script provides a processor that runs a JavaScript function body
// against each document inside a sandboxed goja runtime.
//
// The body sees the live document as `doc` and may mutate it in place. It
// signals the outcome by what it returns:
//
//	undefined, true or any other value   success
//	false                                failure
//	{succeeded: false, reason: "..."}    failure with a reason
//
// A thrown exception or an exceeded timeout is a failure of the document,
// not of the pipeline.
package script

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/wehubfusion/Sawmill/pkg/document"
	"github.com/wehubfusion/Sawmill/pkg/pipeline"
	"github.com/wehubfusion/Sawmill/pkg/registry"
)

// Type is the registered processor type.
const Type = "script"

// DefaultTimeout bounds a single script invocation.
const DefaultTimeout = time.Second

// Register registers the script processor.
func Register(r *registry.Registry) {
	r.RegisterProcessor(Type, Create)
}

// Script runs a compiled function body. It is safe for concurrent use.
type Script struct {
	source  string
	program *goja.Program
	timeout time.Duration
	pool    *runtimePool
}

// Compile compiles source as the body of function(doc).
func Compile(source string, timeout time.Duration, poolSize int) (*Script, error) {
	if source == "" {
		return nil, registry.NewConfigError(Type, "source", "is required", nil)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	program, err := goja.Compile(Type, "(function(doc) {\n"+source+"\n})", true)
	if err != nil {
		return nil, registry.NewConfigError(Type, "source", "failed to compile script", err)
	}
	return &Script{
		source:  source,
		program: program,
		timeout: timeout,
		pool:    newRuntimePool(poolSize),
	}, nil
}

// Create builds a script processor from {source, timeout, poolSize}.
func Create(cfg registry.Config) (pipeline.Processor, error) {
	source, err := cfg.RequireString(Type, "source")
	if err != nil {
		return nil, err
	}
	timeout, err := cfg.Duration("timeout", DefaultTimeout)
	if err != nil {
		return nil, registry.NewConfigError(Type, "timeout", "invalid duration", err)
	}
	return Compile(source, timeout, cfg.Int("poolSize", DefaultPoolSize))
}

func (s *Script) Type() string { return Type }

// Timeout returns the per-invocation limit.
func (s *Script) Timeout() time.Duration { return s.timeout }

// Close releases pooled runtimes.
func (s *Script) Close() error {
	s.pool.Close()
	return nil
}

func (s *Script) Process(ctx context.Context, doc *document.Doc) (pipeline.ProcessResult, error) {
	vm, err := s.pool.Acquire(ctx)
	if err != nil {
		return pipeline.ProcessResult{}, err
	}
	healthy := true
	defer func() {
		if healthy {
			s.pool.Release(vm)
		} else {
			s.pool.Discard(vm)
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-runCtx.Done():
			vm.Interrupt(runCtx.Err())
		case <-done:
		}
	}()

	value, runErr := s.run(vm, doc)
	close(done)
	wg.Wait()

	if runErr == nil {
		return resultOf(value), nil
	}

	var interrupted *goja.InterruptedError
	var exception *goja.Exception
	switch {
	case errors.As(runErr, &interrupted):
		if ctx.Err() != nil {
			return pipeline.ProcessResult{}, ctx.Err()
		}
		return pipeline.Failure(fmt.Sprintf("script timed out after %s", s.timeout)), nil
	case errors.As(runErr, &exception):
		return pipeline.Failure("script error: " + exceptionMessage(exception)), nil
	default:
		healthy = false
		return pipeline.ProcessResult{}, fmt.Errorf("script execution failed: %w", runErr)
	}
}

func (s *Script) run(vm *goja.Runtime, doc *document.Doc) (goja.Value, error) {
	fnValue, err := vm.RunProgram(s.program)
	if err != nil {
		return nil, err
	}
	fn, ok := goja.AssertFunction(fnValue)
	if !ok {
		return nil, errors.New("compiled script is not a function")
	}
	return fn(goja.Undefined(), vm.ToValue(doc.Source()))
}

func resultOf(v goja.Value) pipeline.ProcessResult {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return pipeline.Success()
	}
	switch r := v.Export().(type) {
	case bool:
		if !r {
			return pipeline.Failure("script returned false")
		}
	case map[string]interface{}:
		if ok, has := r["succeeded"].(bool); has && !ok {
			reason, _ := r["reason"].(string)
			if reason == "" {
				reason = "script reported failure"
			}
			return pipeline.Failure(reason)
		}
	}
	return pipeline.Success()
}

func exceptionMessage(exc *goja.Exception) string {
	if v := exc.Value(); v != nil && !goja.IsUndefined(v) {
		return v.String()
	}
	return exc.Error()
}
