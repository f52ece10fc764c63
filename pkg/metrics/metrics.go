package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/IEatCodeDaily/cdc-fanout/pkg/pipeline"
)

var (
	// metricsRegistry keeps track of registered metrics to prevent duplicates
	metricsRegistry = make(map[string]bool)
	registryMu      sync.Mutex
)

// Metrics holds all Prometheus metrics for the fan-out pipeline
type Metrics struct {
	EventsClassified       *prometheus.CounterVec
	ClassificationFailures *prometheus.CounterVec
	BatchesDelivered       *prometheus.CounterVec
	BatchesFailed          *prometheus.CounterVec
	PayloadsDropped        *prometheus.CounterVec
	BatchSize              *prometheus.HistogramVec
	ProcessingDuration     *prometheus.HistogramVec
	PipelineStatus         prometheus.Gauge
	SourceConnected        prometheus.Gauge
	SinkConnected          prometheus.Gauge
}

// NewMetrics creates and registers all pipeline metrics. It returns nil when
// metrics for pipelineName were already registered.
func NewMetrics(pipelineName string) *Metrics {
	registryMu.Lock()
	defer registryMu.Unlock()

	if metricsRegistry[pipelineName] {
		return nil
	}

	m := &Metrics{
		EventsClassified: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cdcfanout_events_classified_total",
				Help: "Total number of change events classified by payload type",
			},
			[]string{"pipeline", "payload_type"},
		),
		ClassificationFailures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cdcfanout_classification_failures_total",
				Help: "Total number of change events skipped by reason",
			},
			[]string{"pipeline", "reason"},
		),
		BatchesDelivered: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cdcfanout_batches_delivered_total",
				Help: "Total number of batches accepted by a sink",
			},
			[]string{"pipeline", "target"},
		),
		BatchesFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cdcfanout_batches_failed_total",
				Help: "Total number of batches a sink rejected",
			},
			[]string{"pipeline", "target"},
		),
		PayloadsDropped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cdcfanout_payloads_dropped_total",
				Help: "Total number of payloads discarded after a failed batch",
			},
			[]string{"pipeline", "target"},
		),
		BatchSize: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cdcfanout_batch_size",
				Help:    "Number of payloads per sink call",
				Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
			},
			[]string{"pipeline", "target"},
		),
		ProcessingDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cdcfanout_processing_duration_seconds",
				Help:    "Time taken by each pipeline stage",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"pipeline", "component"},
		),
		PipelineStatus: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "cdcfanout_pipeline_status",
				Help: "Pipeline status: 1 for running, 0 for stopped",
				ConstLabels: prometheus.Labels{
					"pipeline": pipelineName,
				},
			},
		),
		SourceConnected: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "cdcfanout_source_connected",
				Help: "Source connection status: 1 for connected, 0 for disconnected",
				ConstLabels: prometheus.Labels{
					"pipeline": pipelineName,
				},
			},
		),
		SinkConnected: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "cdcfanout_sink_connected",
				Help: "Sink connection status: 1 for connected, 0 for disconnected",
				ConstLabels: prometheus.Labels{
					"pipeline": pipelineName,
				},
			},
		),
	}

	metricsRegistry[pipelineName] = true
	return m
}

// RecordEventClassified records an event that produced a payload
func (m *Metrics) RecordEventClassified(pipelineName string, payloadType pipeline.PayloadType) {
	m.EventsClassified.WithLabelValues(pipelineName, string(payloadType)).Inc()
}

// RecordClassificationFailure records a skipped event
func (m *Metrics) RecordClassificationFailure(pipelineName string, reason pipeline.FailureReason) {
	m.ClassificationFailures.WithLabelValues(pipelineName, string(reason)).Inc()
}

// RecordBatchDelivered records a chunk accepted by the sink
func (m *Metrics) RecordBatchDelivered(pipelineName, target string, size int) {
	m.BatchesDelivered.WithLabelValues(pipelineName, target).Inc()
	m.BatchSize.WithLabelValues(pipelineName, target).Observe(float64(size))
}

// RecordBatchFailed records a rejected chunk and the payloads dropped after it
func (m *Metrics) RecordBatchFailed(pipelineName, target string, size, dropped int) {
	m.BatchesFailed.WithLabelValues(pipelineName, target).Inc()
	m.PayloadsDropped.WithLabelValues(pipelineName, target).Add(float64(size + dropped))
}

// RecordProcessingDuration records the duration of a pipeline stage
func (m *Metrics) RecordProcessingDuration(pipelineName, component string, duration float64) {
	m.ProcessingDuration.WithLabelValues(pipelineName, component).Observe(duration)
}

// SetPipelineRunning sets the pipeline status to running (1) or stopped (0)
func (m *Metrics) SetPipelineRunning(running bool) {
	m.PipelineStatus.Set(boolToFloat(running))
}

// SetSourceConnected sets the source connection status
func (m *Metrics) SetSourceConnected(connected bool) {
	m.SourceConnected.Set(boolToFloat(connected))
}

// SetSinkConnected sets the sink connection status
func (m *Metrics) SetSinkConnected(connected bool) {
	m.SinkConnected.Set(boolToFloat(connected))
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
