// Package metrics provides MetricsTracker implementations backed by
// OpenTelemetry and Prometheus.
package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	promclient "github.com/prometheus/client_golang/prometheus"

	"github.com/wehubfusion/Sawmill/pkg/pipeline"
)

// MeterName is the instrumentation scope used for Sawmill instruments.
const MeterName = "sawmill/pipeline"

// Metric names recorded by OTelTracker.
const (
	MetricSucceeded  = "sawmill.docs.succeeded"
	MetricFailed     = "sawmill.docs.failed"
	MetricUnexpected = "sawmill.docs.unexpected"
	MetricOvertime   = "sawmill.docs.overtime"
)

// OTelTracker records pipeline outcomes as OpenTelemetry counters.
type OTelTracker struct {
	succeeded  metric.Int64Counter
	failed     metric.Int64Counter
	unexpected metric.Int64Counter
	overtime   metric.Int64Counter
	opts       []metric.AddOption
}

var _ pipeline.MetricsTracker = (*OTelTracker)(nil)

// NewOTelTracker creates the four outcome counters on meter. attrs are
// attached to every data point, typically the pipeline id.
func NewOTelTracker(meter metric.Meter, attrs ...attribute.KeyValue) (*OTelTracker, error) {
	t := &OTelTracker{}
	if len(attrs) > 0 {
		t.opts = []metric.AddOption{metric.WithAttributes(attrs...)}
	}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&t.succeeded, MetricSucceeded, "Documents that passed every step"},
		{&t.failed, MetricFailed, "Documents stopped by a controlled failure"},
		{&t.unexpected, MetricUnexpected, "Documents stopped by an unexpected failure"},
		{&t.overtime, MetricOvertime, "Documents reported by the execution time watchdog"},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit("{document}"))
		if err != nil {
			return nil, fmt.Errorf("failed to create counter %s: %w", c.name, err)
		}
		*c.dst = counter
	}
	return t, nil
}

func (t *OTelTracker) RecordSucceeded() { t.succeeded.Add(context.Background(), 1, t.opts...) }

func (t *OTelTracker) RecordFailed() { t.failed.Add(context.Background(), 1, t.opts...) }

func (t *OTelTracker) RecordUnexpectedFailure() {
	t.unexpected.Add(context.Background(), 1, t.opts...)
}

func (t *OTelTracker) RecordOvertime() { t.overtime.Add(context.Background(), 1, t.opts...) }

// NewPrometheusMeterProvider returns a meter provider whose instruments are
// exposed through reg.
func NewPrometheusMeterProvider(reg promclient.Registerer) (*sdkmetric.MeterProvider, error) {
	exporter, err := prometheus.New(prometheus.WithRegisterer(reg))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	return sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter)), nil
}
