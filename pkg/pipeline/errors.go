package pipeline

import (
	"errors"
	"fmt"
)

// Configuration errors returned at construction time.
var (
	// ErrInvalidPipeline is returned when a pipeline is wired incorrectly.
	ErrInvalidPipeline = errors.New("invalid pipeline")

	// ErrInvalidStep is returned when an execution step is wired incorrectly.
	ErrInvalidStep = errors.New("invalid execution step")

	// ErrInvalidWatchdogConfig is returned for a watchdog threshold or ring size that cannot work.
	ErrInvalidWatchdogConfig = errors.New("invalid watchdog configuration")
)

// ErrProcessorPanic marks an unexpected failure caused by a panic inside a
// processor or condition.
var ErrProcessorPanic = errors.New("processor panicked")

// PanicError carries the recovered value of a processor or condition panic.
type PanicError struct {
	Value interface{}
	Stack []byte
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("%s: %v", ErrProcessorPanic.Error(), e.Value)
}

// Unwrap lets errors.Is match ErrProcessorPanic, or the panic value when it is an error.
func (e *PanicError) Unwrap() []error {
	if err, ok := e.Value.(error); ok {
		return []error{ErrProcessorPanic, err}
	}
	return []error{ErrProcessorPanic}
}

// PipelineExecutionError wraps an unexpected failure with the pipeline and
// step that raised it.
type PipelineExecutionError struct {
	PipelineID   string
	PipelineName string
	Step         string
	// ProcessorType is the type of the processor that failed, empty when the
	// step condition failed.
	ProcessorType string
	Cause         error
}

// Error implements the error interface.
func (e *PipelineExecutionError) Error() string {
	where := "step " + e.Step
	if e.ProcessorType != "" {
		where += " [" + e.ProcessorType + "]"
	}
	return "pipeline " + e.PipelineName + " (" + e.PipelineID + ") failed unexpectedly in " +
		where + ": " + e.Cause.Error()
}

// Unwrap returns the underlying error.
func (e *PipelineExecutionError) Unwrap() error {
	return e.Cause
}
