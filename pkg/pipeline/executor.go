package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wehubfusion/Sawmill/pkg/document"
)

// TracerName is the instrumentation name used for executor spans.
const TracerName = "sawmill/pipeline"

// StepFailure describes an unrecovered controlled failure.
type StepFailure struct {
	Step          string
	ProcessorType string
	Reason        string
}

// ExecutionResult is the outcome of one Execute call.
type ExecutionResult struct {
	// TrackingID identifies the execution in logs, spans and overtime reports.
	TrackingID string
	Succeeded  bool
	// Err is set only for unexpected failures and is a *PipelineExecutionError
	// unless the pipeline itself was nil.
	Err error
	// Failure is set for a controlled failure that stopped the execution.
	Failure *StepFailure
	// IgnoredFailures lists unrecovered steps skipped because the pipeline ignores failures.
	IgnoredFailures []StepFailure
	Duration        time.Duration
}

// Unexpected reports whether the execution ended in an unexpected failure.
func (r ExecutionResult) Unexpected() bool {
	return r.Err != nil
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithLogger sets the executor logger.
func WithLogger(logger *zap.Logger) ExecutorOption {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithTracer sets the tracer used for execution spans.
func WithTracer(tracer trace.Tracer) ExecutorOption {
	return func(e *Executor) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

// WithTrackingIDs replaces the tracking id generator. The default produces random UUIDs.
func WithTrackingIDs(next func() string) ExecutorOption {
	return func(e *Executor) {
		if next != nil {
			e.newID = next
		}
	}
}

// Executor runs pipelines over documents. It is safe for concurrent use; each
// Execute call runs on the calling goroutine.
type Executor struct {
	watchdog *Watchdog
	metrics  MetricsTracker
	logger   *zap.Logger
	tracer   trace.Tracer
	newID    func() string
}

// NewExecutor creates an executor. watchdog may be nil to disable overtime
// detection; a nil metrics tracker discards counters.
func NewExecutor(watchdog *Watchdog, metrics MetricsTracker, opts ...ExecutorOption) *Executor {
	if metrics == nil {
		metrics = NoOpTracker{}
	}
	e := &Executor{
		watchdog: watchdog,
		metrics:  metrics,
		logger:   zap.NewNop(),
		tracer:   otel.Tracer(TracerName),
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs every step of p over doc. It never panics and never returns
// an error directly: controlled failures are reported through
// ExecutionResult.Failure and unexpected failures through ExecutionResult.Err.
// Exactly one outcome counter is recorded per call.
func (e *Executor) Execute(ctx context.Context, p *Pipeline, doc *document.Doc) ExecutionResult {
	start := time.Now()
	id := e.newID()

	if p == nil {
		e.metrics.RecordUnexpectedFailure()
		return ExecutionResult{
			TrackingID: id,
			Err:        fmt.Errorf("%w: nil pipeline", ErrInvalidPipeline),
			Duration:   time.Since(start),
		}
	}

	ctx, span := e.tracer.Start(ctx, "pipeline.execute",
		trace.WithAttributes(
			attribute.String("sawmill.tracking_id", id),
			attribute.String("sawmill.pipeline.id", p.id),
			attribute.String("sawmill.pipeline.name", p.name),
			attribute.Int("sawmill.pipeline.steps", len(p.steps)),
		))
	defer span.End()

	var reg Registration
	if e.watchdog != nil {
		reg = e.watchdog.Register(id, doc)
	}
	// Deregistration is idempotent; the deferred call covers a panic in our own code.
	defer reg.Deregister()

	result := e.runSteps(ctx, span, p, doc)
	result.TrackingID = id
	reg.Deregister()
	result.Duration = time.Since(start)

	switch {
	case result.Err != nil:
		e.metrics.RecordUnexpectedFailure()
	case result.Succeeded:
		e.metrics.RecordSucceeded()
		span.SetStatus(codes.Ok, "")
	default:
		e.metrics.RecordFailed()
	}
	return result
}

func (e *Executor) runSteps(ctx context.Context, span trace.Span, p *Pipeline, doc *document.Doc) ExecutionResult {
	result := ExecutionResult{Succeeded: true}

	for i := range p.steps {
		step := &p.steps[i]
		out := step.run(ctx, doc)

		span.AddEvent("step", trace.WithAttributes(
			attribute.String("sawmill.step.name", step.Name),
			attribute.String("sawmill.step.state", out.state.String()),
			attribute.Int("sawmill.step.remediation_attempts", out.attempts),
		))
		e.logger.Debug("Step finished",
			zap.String("pipeline_id", p.id),
			zap.String("step", step.Name),
			zap.String("state", out.state.String()))

		switch out.state {
		case StepGuardedOut, StepSucceeded, StepRecovered:
			continue

		case StepUnrecovered:
			failure := StepFailure{Step: step.Name, ProcessorType: out.processorType, Reason: out.reason}
			if p.ignoreFailure {
				e.logger.Warn("Ignoring unrecovered step failure",
					zap.String("pipeline_id", p.id),
					zap.String("step", step.Name),
					zap.String("reason", out.reason))
				result.IgnoredFailures = append(result.IgnoredFailures, failure)
				continue
			}
			span.SetStatus(codes.Error, "step "+step.Name+" failed: "+out.reason)
			return ExecutionResult{Failure: &failure, IgnoredFailures: result.IgnoredFailures}

		case StepUnexpectedFailure:
			err := &PipelineExecutionError{
				PipelineID:    p.id,
				PipelineName:  p.name,
				Step:          step.Name,
				ProcessorType: out.processorType,
				Cause:         out.err,
			}
			e.logger.Error("Unexpected failure while executing pipeline",
				zap.String("pipeline_id", p.id),
				zap.String("step", step.Name),
				zap.String("processor", out.processorType),
				zap.Error(out.err))
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return ExecutionResult{Err: err, IgnoredFailures: result.IgnoredFailures}
		}
	}
	return result
}
