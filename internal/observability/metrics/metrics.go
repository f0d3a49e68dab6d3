// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "json_validator"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Routing metrics
	DocumentsRouted     *prometheus.CounterVec
	DocumentsUnreadable prometheus.Counter
	Verdicts            *prometheus.CounterVec
	ValidationLatency   prometheus.Histogram

	// Schema metrics
	SchemaLoads *prometheus.CounterVec
	StageState  *prometheus.GaugeVec

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics(prometheus.DefaultRegisterer)

// NewMetrics creates all metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		DocumentsRouted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_routed_total",
			Help:      "Total number of documents routed, by successor path",
		}, []string{"path"}),
		DocumentsUnreadable: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_unreadable_total",
			Help:      "Total number of documents whose body could not be read",
		}),
		Verdicts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verdicts_total",
			Help:      "Total number of validation verdicts, by kind",
		}, []string{"kind"}),
		ValidationLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "validation_latency_seconds",
			Help:      "Time spent validating a single document",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}),

		SchemaLoads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "schema_loads_total",
			Help:      "Total number of schema load attempts, by result",
		}, []string{"result"}),
		StageState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stage_state",
			Help:      "Current stage lifecycle state (1 for the active state)",
		}, []string{"state"}),

		KafkaPublishTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),
	}
}

// RecordVerdict records a validation verdict and how long it took.
func (m *Metrics) RecordVerdict(kind string, latencySeconds float64) {
	m.Verdicts.WithLabelValues(kind).Inc()
	m.ValidationLatency.Observe(latencySeconds)
}

// RecordRouted records a document transferred to a successor path.
func (m *Metrics) RecordRouted(path string) {
	m.DocumentsRouted.WithLabelValues(path).Inc()
}

// RecordUnreadable records a document whose body could not be read.
func (m *Metrics) RecordUnreadable() {
	m.DocumentsUnreadable.Inc()
}

// RecordSchemaLoad records a schema load attempt.
func (m *Metrics) RecordSchemaLoad(result string) {
	m.SchemaLoads.WithLabelValues(result).Inc()
}

// SetStageState marks current as the active stage state among all.
func (m *Metrics) SetStageState(current string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1
		}
		m.StageState.WithLabelValues(s).Set(v)
	}
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}
