// Package runner feeds documents from a Source through a pipeline on a pool
// of workers and routes each outcome: processed documents are published,
// controlled failures go to the failure subject or the dead-letter store,
// and unexpected failures are reported, archived and terminated.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wehubfusion/Sawmill/pkg/concurrency"
	"github.com/wehubfusion/Sawmill/pkg/document"
	"github.com/wehubfusion/Sawmill/pkg/pipeline"
	"github.com/wehubfusion/Sawmill/pkg/reporting"
	"github.com/wehubfusion/Sawmill/pkg/storage"
)

// TracerName is the instrumentation name used for runner spans.
const TracerName = "sawmill/runner"

const (
	minBackoff = 100 * time.Millisecond
	maxBackoff = 5 * time.Second
)

// Config controls intake and routing.
type Config struct {
	// OutputSubject receives successfully processed documents.
	OutputSubject string
	// FailureSubject receives documents that failed in a controlled way.
	// When empty they are dead-lettered instead.
	FailureSubject string
	Workers        int
	BatchSize      int
	// ProcessTimeout bounds one pipeline execution. Zero disables the bound.
	ProcessTimeout time.Duration
	// IdleWait is the pause after an empty fetch.
	IdleWait time.Duration
}

// Validate reports configuration problems.
func (c Config) Validate() error {
	var errs []error
	if c.OutputSubject == "" {
		errs = append(errs, errors.New("output subject cannot be empty"))
	}
	if c.Workers <= 0 {
		errs = append(errs, errors.New("workers must be greater than 0"))
	}
	if c.BatchSize <= 0 {
		errs = append(errs, errors.New("batch size must be greater than 0"))
	}
	if c.ProcessTimeout < 0 {
		errs = append(errs, errors.New("process timeout cannot be negative"))
	}
	return errors.Join(errs...)
}

// Stats counts messages by how they were settled.
type Stats struct {
	Received     int64
	Succeeded    int64
	Failed       int64
	Unexpected   int64
	Malformed    int64
	DeadLettered int64
	Redelivered  int64
}

type counters struct {
	received, succeeded, failed, unexpected, malformed, deadLettered, redelivered atomic.Int64
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the runner logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithReporter sets where unexpected failures are reported.
func WithReporter(reporter reporting.Reporter) Option {
	return func(r *Runner) {
		if reporter != nil {
			r.reporter = reporter
		}
	}
}

// WithDeadLetters archives malformed documents, unexpected failures and,
// without a failure subject, controlled failures.
func WithDeadLetters(store storage.DeadLetterStore) Option {
	return func(r *Runner) { r.deadLetters = store }
}

// WithLimiter bounds concurrent executions. A limiter with a circuit breaker
// pauses intake after repeated unexpected failures.
func WithLimiter(limiter *concurrency.Limiter) Option {
	return func(r *Runner) {
		if limiter != nil {
			r.limiter = limiter
		}
	}
}

// WithTracer sets the tracer used for message spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(r *Runner) {
		if tracer != nil {
			r.tracer = tracer
		}
	}
}

// Runner drives a pipeline from a Source.
type Runner struct {
	source      Source
	publisher   Publisher
	executor    *pipeline.Executor
	pipeline    *pipeline.Pipeline
	cfg         Config
	logger      *zap.Logger
	reporter    reporting.Reporter
	deadLetters storage.DeadLetterStore
	limiter     *concurrency.Limiter
	tracer      trace.Tracer
	stats       counters
}

// New creates a runner.
func New(source Source, publisher Publisher, executor *pipeline.Executor, p *pipeline.Pipeline, cfg Config, opts ...Option) (*Runner, error) {
	if source == nil {
		return nil, errors.New("source cannot be nil")
	}
	if publisher == nil {
		return nil, errors.New("publisher cannot be nil")
	}
	if executor == nil {
		return nil, errors.New("executor cannot be nil")
	}
	if p == nil {
		return nil, fmt.Errorf("%w: nil pipeline", pipeline.ErrInvalidPipeline)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.IdleWait <= 0 {
		cfg.IdleWait = 500 * time.Millisecond
	}

	r := &Runner{
		source:    source,
		publisher: publisher,
		executor:  executor,
		pipeline:  p,
		cfg:       cfg,
		logger:    zap.NewNop(),
		reporter:  reporting.NopReporter{},
		tracer:    otel.Tracer(TracerName),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.limiter == nil {
		r.limiter = concurrency.NewLimiter(cfg.Workers, nil)
	}
	return r, nil
}

// Stats returns a snapshot of the runner counters.
func (r *Runner) Stats() Stats {
	return Stats{
		Received:     r.stats.received.Load(),
		Succeeded:    r.stats.succeeded.Load(),
		Failed:       r.stats.failed.Load(),
		Unexpected:   r.stats.unexpected.Load(),
		Malformed:    r.stats.malformed.Load(),
		DeadLettered: r.stats.deadLettered.Load(),
		Redelivered:  r.stats.redelivered.Load(),
	}
}

// Run processes messages until ctx is cancelled or the source reports
// io.EOF. Messages already handed to workers are finished before it returns.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("Runner starting",
		zap.String("pipeline_id", r.pipeline.ID()),
		zap.Int("workers", r.cfg.Workers),
		zap.Int("batch_size", r.cfg.BatchSize))

	messages := make(chan Message, r.cfg.BatchSize)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(messages)
		return r.pull(gctx, messages)
	})
	for i := 0; i < r.cfg.Workers; i++ {
		workerID := i
		g.Go(func() error {
			r.worker(ctx, workerID, messages)
			return nil
		})
	}

	err := g.Wait()
	stats := r.Stats()
	r.logger.Info("Runner stopped",
		zap.Int64("received", stats.Received),
		zap.Int64("succeeded", stats.Succeeded),
		zap.Int64("failed", stats.Failed),
		zap.Int64("unexpected", stats.Unexpected),
		zap.Int64("malformed", stats.Malformed))
	return err
}

// pull fetches batches into out. It returns nil on cancellation or source
// exhaustion.
func (r *Runner) pull(ctx context.Context, out chan<- Message) error {
	backoff := minBackoff
	for {
		if ctx.Err() != nil {
			return nil
		}
		if wait := r.intakePause(); wait > 0 {
			r.logger.Warn("Circuit breaker open, pausing intake", zap.Duration("wait", wait))
			if !sleep(ctx, wait) {
				return nil
			}
			continue
		}

		batch, err := r.source.Fetch(ctx, r.cfg.BatchSize)
		for _, msg := range batch {
			select {
			case out <- msg:
			case <-ctx.Done():
				return nil
			}
		}
		switch {
		case errors.Is(err, io.EOF):
			r.logger.Info("Source exhausted")
			return nil
		case err != nil:
			if ctx.Err() != nil {
				return nil
			}
			r.logger.Error("Error fetching messages", zap.Error(err), zap.Duration("backoff", backoff))
			if !sleep(ctx, backoff) {
				return nil
			}
			if backoff < maxBackoff {
				backoff *= 2
			}
			continue
		}

		backoff = minBackoff
		if len(batch) == 0 && !sleep(ctx, r.cfg.IdleWait) {
			return nil
		}
	}
}

func (r *Runner) intakePause() time.Duration {
	breaker := r.limiter.Breaker()
	if breaker == nil || breaker.State() != concurrency.StateOpen {
		return 0
	}
	return breaker.RemainingOpen()
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (r *Runner) worker(ctx context.Context, workerID int, messages <-chan Message) {
	r.logger.Debug("Worker started", zap.Int("worker_id", workerID))
	defer r.logger.Debug("Worker stopped", zap.Int("worker_id", workerID))

	for msg := range messages {
		if ctx.Err() != nil {
			r.settle(msg, msg.Nak, "nak")
			r.stats.redelivered.Add(1)
			continue
		}
		r.processMessage(ctx, workerID, msg)
	}
}

func (r *Runner) processMessage(ctx context.Context, workerID int, msg Message) {
	ctx, span := r.tracer.Start(ctx, "runner.processMessage",
		trace.WithAttributes(
			attribute.Int("worker.id", workerID),
			attribute.String("messaging.subject", msg.Subject()),
			attribute.String("sawmill.pipeline.id", r.pipeline.ID()),
		))
	defer span.End()
	r.stats.received.Add(1)

	doc, err := document.FromJSON(msg.Data())
	if err != nil {
		r.stats.malformed.Add(1)
		r.logger.Warn("Discarding malformed document",
			zap.String("subject", msg.Subject()),
			zap.Error(err))
		r.deadLetter(ctx, storage.DeadLetter{
			Kind:    storage.KindMalformed,
			Reason:  err.Error(),
			Subject: msg.Subject(),
			Payload: msg.Data(),
		})
		span.RecordError(err)
		span.SetStatus(codes.Error, "malformed document")
		r.settle(msg, msg.Term, "term")
		return
	}

	var (
		result pipeline.ExecutionResult
		ran    bool
	)
	err = r.limiter.Do(ctx, func(ctx context.Context) error {
		ran = true
		execCtx, cancel := r.executionContext(ctx)
		defer cancel()
		result = r.executor.Execute(execCtx, r.pipeline, doc)
		if result.Unexpected() {
			return result.Err
		}
		return nil
	})
	if !ran {
		r.logger.Debug("Execution slot unavailable, requesting redelivery",
			zap.String("subject", msg.Subject()),
			zap.Error(err))
		span.SetStatus(codes.Error, "not executed")
		r.stats.redelivered.Add(1)
		r.settle(msg, msg.Nak, "nak")
		return
	}

	span.SetAttributes(attribute.String("sawmill.tracking_id", result.TrackingID))
	switch {
	case result.Unexpected():
		r.handleUnexpected(ctx, span, msg, result)
	case result.Succeeded:
		r.handleSuccess(ctx, span, msg, doc, result)
	default:
		r.handleFailure(ctx, span, msg, doc, result)
	}
}

func (r *Runner) executionContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.cfg.ProcessTimeout > 0 {
		return context.WithTimeout(ctx, r.cfg.ProcessTimeout)
	}
	return context.WithCancel(ctx)
}

func (r *Runner) handleSuccess(ctx context.Context, span trace.Span, msg Message, doc *document.Doc, result pipeline.ExecutionResult) {
	headers := r.headers(result)
	if n := len(result.IgnoredFailures); n > 0 {
		headers[HeaderIgnored] = strconv.Itoa(n)
	}
	if !r.publish(ctx, span, msg, r.cfg.OutputSubject, doc, headers) {
		return
	}
	r.stats.succeeded.Add(1)
	span.SetStatus(codes.Ok, "")
	r.settle(msg, msg.Ack, "ack")
}

func (r *Runner) handleFailure(ctx context.Context, span trace.Span, msg Message, doc *document.Doc, result pipeline.ExecutionResult) {
	var step, reason string
	if result.Failure != nil {
		step, reason = result.Failure.Step, result.Failure.Reason
	}
	r.logger.Info("Document failed",
		zap.String("tracking_id", result.TrackingID),
		zap.String("step", step),
		zap.String("reason", reason))
	span.SetStatus(codes.Error, reason)

	if r.cfg.FailureSubject != "" {
		headers := r.headers(result)
		headers[HeaderFailedStep] = step
		headers[HeaderFailureReason] = reason
		if !r.publish(ctx, span, msg, r.cfg.FailureSubject, doc, headers) {
			return
		}
	} else {
		r.deadLetter(ctx, storage.DeadLetter{
			TrackingID: result.TrackingID,
			Kind:       storage.KindFailed,
			Step:       step,
			Reason:     reason,
			Subject:    msg.Subject(),
			Payload:    msg.Data(),
		})
	}
	r.stats.failed.Add(1)
	r.settle(msg, msg.Ack, "ack")
}

func (r *Runner) handleUnexpected(ctx context.Context, span trace.Span, msg Message, result pipeline.ExecutionResult) {
	span.RecordError(result.Err)
	span.SetStatus(codes.Error, "unexpected failure")

	// Cancellation during shutdown is not the document's fault.
	if ctx.Err() != nil {
		r.stats.redelivered.Add(1)
		r.settle(msg, msg.Nak, "nak")
		return
	}

	r.stats.unexpected.Add(1)
	r.logger.Error("Unexpected pipeline failure",
		zap.String("tracking_id", result.TrackingID),
		zap.String("subject", msg.Subject()),
		zap.Error(result.Err))
	r.reporter.ReportUnexpected(r.pipeline, result)

	dl := storage.DeadLetter{
		TrackingID: result.TrackingID,
		Kind:       storage.KindUnexpected,
		Reason:     result.Err.Error(),
		Subject:    msg.Subject(),
		Payload:    msg.Data(),
	}
	var execErr *pipeline.PipelineExecutionError
	if errors.As(result.Err, &execErr) {
		dl.Step = execErr.Step
	}
	r.deadLetter(ctx, dl)
	r.settle(msg, msg.Term, "term")
}

func (r *Runner) headers(result pipeline.ExecutionResult) map[string]string {
	return map[string]string{
		HeaderTrackingID: result.TrackingID,
		HeaderPipelineID: r.pipeline.ID(),
	}
}

// publish sends doc to subject, requesting redelivery of msg on failure.
func (r *Runner) publish(ctx context.Context, span trace.Span, msg Message, subject string, doc *document.Doc, headers map[string]string) bool {
	data, err := doc.JSON()
	if err == nil {
		err = r.publisher.Publish(ctx, subject, data, headers)
	}
	if err != nil {
		r.logger.Error("Failed to publish document",
			zap.String("subject", subject),
			zap.String("tracking_id", headers[HeaderTrackingID]),
			zap.Error(err))
		span.RecordError(err)
		r.stats.redelivered.Add(1)
		r.settle(msg, msg.Nak, "nak")
		return false
	}
	return true
}

func (r *Runner) deadLetter(ctx context.Context, dl storage.DeadLetter) {
	if r.deadLetters == nil {
		return
	}
	dl.PipelineID = r.pipeline.ID()
	ref, err := r.deadLetters.Put(ctx, dl)
	if err != nil {
		r.logger.Error("Failed to store dead letter",
			zap.String("tracking_id", dl.TrackingID),
			zap.String("kind", string(dl.Kind)),
			zap.Error(err))
		return
	}
	r.stats.deadLettered.Add(1)
	r.logger.Info("Stored dead letter",
		zap.String("tracking_id", dl.TrackingID),
		zap.String("kind", string(dl.Kind)),
		zap.String("ref", ref))
}

func (r *Runner) settle(msg Message, fn func() error, how string) {
	if err := fn(); err != nil {
		r.logger.Warn("Failed to settle message",
			zap.String("subject", msg.Subject()),
			zap.String("action", how),
			zap.Error(err))
	}
}

// OvertimeReporter forwards overtime notices for pipelineID to reporter.
// The watchdog itself logs and counts them.
func OvertimeReporter(pipelineID string, reporter reporting.Reporter) pipeline.OvertimeCallback {
	return func(oc pipeline.OvertimeContext) {
		reporter.ReportOvertime(pipelineID, oc)
	}
}

// ComposeOvertime calls every non-nil callback in order.
func ComposeOvertime(callbacks ...pipeline.OvertimeCallback) pipeline.OvertimeCallback {
	return func(oc pipeline.OvertimeContext) {
		for _, cb := range callbacks {
			if cb != nil {
				cb(oc)
			}
		}
	}
}
