package metrics

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collectSums(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.DataPoint[int64] {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := map[string]metricdata.DataPoint[int64]{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, m.Name)
			require.Len(t, sum.DataPoints, 1, m.Name)
			out[m.Name] = sum.DataPoints[0]
		}
	}
	return out
}

func TestOTelTracker(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer mp.Shutdown(context.Background())

	tracker, err := NewOTelTracker(mp.Meter(MeterName), attribute.String("pipeline.id", "p1"))
	require.NoError(t, err)

	tracker.RecordSucceeded()
	tracker.RecordSucceeded()
	tracker.RecordFailed()
	tracker.RecordUnexpectedFailure()
	tracker.RecordOvertime()
	tracker.RecordOvertime()
	tracker.RecordOvertime()

	sums := collectSums(t, reader)
	assert.Equal(t, int64(2), sums[MetricSucceeded].Value)
	assert.Equal(t, int64(1), sums[MetricFailed].Value)
	assert.Equal(t, int64(1), sums[MetricUnexpected].Value)
	assert.Equal(t, int64(3), sums[MetricOvertime].Value)

	attrs := sums[MetricSucceeded].Attributes
	id, ok := attrs.Value("pipeline.id")
	require.True(t, ok)
	assert.Equal(t, "p1", id.AsString())
}

func TestPrometheusTracker(t *testing.T) {
	tracker := NewPrometheusTracker("", prometheus.Labels{"pipeline": "p1"})

	tracker.RecordSucceeded()
	tracker.RecordFailed()
	tracker.RecordFailed()
	tracker.RecordOvertime()

	c := tracker.Counter()
	assert.Equal(t, 1.0, testutil.ToFloat64(c.WithLabelValues(OutcomeSucceeded)))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.WithLabelValues(OutcomeFailed)))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.WithLabelValues(OutcomeUnexpected)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.WithLabelValues(OutcomeOvertime)))

	rec := httptest.NewRecorder()
	tracker.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	assert.Contains(t, body, `sawmill_documents_total{outcome="failed",pipeline="p1"} 2`)
	assert.Contains(t, body, `sawmill_documents_total{outcome="unexpected",pipeline="p1"} 0`)
}

func TestPrometheusMeterProvider(t *testing.T) {
	tracker := NewPrometheusTracker("sawmill", nil)
	mp, err := NewPrometheusMeterProvider(tracker.Registry())
	require.NoError(t, err)
	defer mp.Shutdown(context.Background())

	otelTracker, err := NewOTelTracker(mp.Meter(MeterName))
	require.NoError(t, err)
	otelTracker.RecordSucceeded()

	families, err := tracker.Registry().Gather()
	require.NoError(t, err)

	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	joined := strings.Join(names, " ")
	assert.Contains(t, joined, "sawmill_documents_total")
	assert.Contains(t, joined, "sawmill_docs_succeeded")
}
