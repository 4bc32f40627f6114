// Package reporting forwards unexpected pipeline failures and overtime
// documents to Sentry.
package reporting

import (
	"errors"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"

	"github.com/wehubfusion/Sawmill/pkg/pipeline"
)

// Reporter receives events worth a human's attention.
type Reporter interface {
	ReportUnexpected(p *pipeline.Pipeline, res pipeline.ExecutionResult)
	ReportOvertime(pipelineID string, oc pipeline.OvertimeContext)
}

// NopReporter discards every report.
type NopReporter struct{}

func (NopReporter) ReportUnexpected(*pipeline.Pipeline, pipeline.ExecutionResult) {}
func (NopReporter) ReportOvertime(string, pipeline.OvertimeContext)               {}

// SentryReporter captures reports on a dedicated hub.
type SentryReporter struct {
	hub    *sentry.Hub
	logger *zap.Logger
}

var _ Reporter = (*SentryReporter)(nil)

// NewSentryReporter creates a client from opts. An empty DSN yields a
// client that drops events.
func NewSentryReporter(opts sentry.ClientOptions, logger *zap.Logger) (*SentryReporter, error) {
	client, err := sentry.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create sentry client: %w", err)
	}
	return NewSentryReporterWithHub(sentry.NewHub(client, sentry.NewScope()), logger), nil
}

// NewSentryReporterWithHub wraps an existing hub.
func NewSentryReporterWithHub(hub *sentry.Hub, logger *zap.Logger) *SentryReporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SentryReporter{hub: hub, logger: logger}
}

// ReportUnexpected captures res.Err when res is an unexpected failure.
func (r *SentryReporter) ReportUnexpected(p *pipeline.Pipeline, res pipeline.ExecutionResult) {
	if !res.Unexpected() {
		return
	}
	r.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentry.LevelError)
		scope.SetTag("tracking_id", res.TrackingID)
		if p != nil {
			scope.SetTag("pipeline.id", p.ID())
			scope.SetTag("pipeline.name", p.Name())
		}

		var execErr *pipeline.PipelineExecutionError
		if errors.As(res.Err, &execErr) {
			scope.SetTag("step", execErr.Step)
			scope.SetTag("processor", execErr.ProcessorType)
		}
		var panicErr *pipeline.PanicError
		if errors.As(res.Err, &panicErr) {
			scope.SetContext("panic", sentry.Context{
				"value": fmt.Sprint(panicErr.Value),
				"stack": string(panicErr.Stack),
			})
		}

		if id := r.hub.CaptureException(res.Err); id != nil {
			r.logger.Debug("Reported unexpected failure",
				zap.String("tracking_id", res.TrackingID),
				zap.String("event_id", string(*id)))
		}
	})
}

// ReportOvertime captures a warning for a document exceeding the threshold.
func (r *SentryReporter) ReportOvertime(pipelineID string, oc pipeline.OvertimeContext) {
	r.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentry.LevelWarning)
		scope.SetTag("tracking_id", oc.TrackingID)
		if pipelineID != "" {
			scope.SetTag("pipeline.id", pipelineID)
		}
		scope.SetContext("overtime", sentry.Context{
			"threshold": oc.Threshold.String(),
			"elapsed":   oc.Elapsed().String(),
			"started":   oc.StartedAt.Format(time.RFC3339Nano),
		})
		r.hub.CaptureMessage("Document processing exceeded threshold")
	})
}

// Flush waits up to timeout for buffered events to be delivered.
func (r *SentryReporter) Flush(timeout time.Duration) bool {
	return r.hub.Flush(timeout)
}
