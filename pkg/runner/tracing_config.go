package runner

import (
	"context"

	"go.uber.org/zap"

	internaltracing "github.com/wehubfusion/Sawmill/internal/tracing"
)

// TracingConfig configures OTLP span export for runner processes.
type TracingConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string
	Insecure       bool
	SampleRatio    float64
}

// DefaultTracingConfig returns a configuration exporting every span to a
// local collector.
func DefaultTracingConfig(serviceName string) TracingConfig {
	cfg := internaltracing.DefaultConfig(serviceName)
	return TracingConfig{
		ServiceName:    cfg.ServiceName,
		ServiceVersion: cfg.ServiceVersion,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Insecure:       cfg.Insecure,
		SampleRatio:    cfg.SampleRatio,
	}
}

func (c TracingConfig) internal() internaltracing.Config {
	return internaltracing.Config{
		ServiceName:    c.ServiceName,
		ServiceVersion: c.ServiceVersion,
		Environment:    c.Environment,
		OTLPEndpoint:   c.OTLPEndpoint,
		Insecure:       c.Insecure,
		SampleRatio:    c.SampleRatio,
	}
}

// Validate reports configuration problems.
func (c TracingConfig) Validate() error {
	return c.internal().Validate()
}

// SetupTracing installs the global tracer provider used by runner and
// executor spans. The returned function flushes it.
func SetupTracing(ctx context.Context, cfg TracingConfig, logger *zap.Logger) (func(context.Context) error, error) {
	return internaltracing.Setup(ctx, cfg.internal(), logger)
}
