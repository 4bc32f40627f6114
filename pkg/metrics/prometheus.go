package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wehubfusion/Sawmill/pkg/pipeline"
)

// Outcome label values.
const (
	OutcomeSucceeded  = "succeeded"
	OutcomeFailed     = "failed"
	OutcomeUnexpected = "unexpected"
	OutcomeOvertime   = "overtime"
)

// PrometheusTracker counts outcomes in a labelled counter on its own registry.
type PrometheusTracker struct {
	registry  *prometheus.Registry
	documents *prometheus.CounterVec

	succeeded  prometheus.Counter
	failed     prometheus.Counter
	unexpected prometheus.Counter
	overtime   prometheus.Counter
}

var _ pipeline.MetricsTracker = (*PrometheusTracker)(nil)

// NewPrometheusTracker creates a tracker exposing <namespace>_documents_total.
// An empty namespace defaults to "sawmill".
func NewPrometheusTracker(namespace string, constLabels prometheus.Labels) *PrometheusTracker {
	if namespace == "" {
		namespace = "sawmill"
	}
	reg := prometheus.NewRegistry()
	documents := promauto.With(reg).NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "documents_total",
			Help:        "Documents processed, by outcome",
			ConstLabels: constLabels,
		},
		[]string{"outcome"},
	)
	return &PrometheusTracker{
		registry:   reg,
		documents:  documents,
		succeeded:  documents.WithLabelValues(OutcomeSucceeded),
		failed:     documents.WithLabelValues(OutcomeFailed),
		unexpected: documents.WithLabelValues(OutcomeUnexpected),
		overtime:   documents.WithLabelValues(OutcomeOvertime),
	}
}

func (t *PrometheusTracker) RecordSucceeded()         { t.succeeded.Inc() }
func (t *PrometheusTracker) RecordFailed()            { t.failed.Inc() }
func (t *PrometheusTracker) RecordUnexpectedFailure() { t.unexpected.Inc() }
func (t *PrometheusTracker) RecordOvertime()          { t.overtime.Inc() }

// Registry returns the tracker's registry so other collectors can share it.
func (t *PrometheusTracker) Registry() *prometheus.Registry { return t.registry }

// Counter returns the labelled counter.
func (t *PrometheusTracker) Counter() *prometheus.CounterVec { return t.documents }

// Handler serves the registry in the Prometheus exposition format.
func (t *PrometheusTracker) Handler() http.Handler {
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{Registry: t.registry})
}
