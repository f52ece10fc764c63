package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IEatCodeDaily/cdc-fanout/pkg/pipeline"
)

// newTestMetrics registers metrics on a fresh registry so tests do not
// collide on the default one
func newTestMetrics(t *testing.T, pipelineName string) *Metrics {
	t.Helper()

	oldRegistry := prometheus.DefaultRegisterer
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	t.Cleanup(func() {
		prometheus.DefaultRegisterer = oldRegistry
		registryMu.Lock()
		delete(metricsRegistry, pipelineName)
		registryMu.Unlock()
	})

	m := NewMetrics(pipelineName)
	require.NotNil(t, m, "Expected metrics to be created")
	return m
}

func TestNewMetrics(t *testing.T) {
	m := newTestMetrics(t, "test-pipeline-new")

	assert.NotNil(t, m.EventsClassified)
	assert.NotNil(t, m.ClassificationFailures)
	assert.NotNil(t, m.BatchesDelivered)
	assert.NotNil(t, m.BatchesFailed)
	assert.NotNil(t, m.PayloadsDropped)
	assert.NotNil(t, m.BatchSize)
	assert.NotNil(t, m.ProcessingDuration)
	assert.NotNil(t, m.PipelineStatus)
	assert.NotNil(t, m.SourceConnected)
	assert.NotNil(t, m.SinkConnected)
}

func TestNewMetricsOncePerPipeline(t *testing.T) {
	newTestMetrics(t, "test-pipeline-dup")
	assert.Nil(t, NewMetrics("test-pipeline-dup"), "second registration must be refused")
}

func TestRecordEventClassified(t *testing.T) {
	m := newTestMetrics(t, "test-pipeline-classified")

	m.RecordEventClassified("test-pipeline-classified", pipeline.TypeEngagement)
	m.RecordEventClassified("test-pipeline-classified", pipeline.TypeEngagement)
	m.RecordEventClassified("test-pipeline-classified", pipeline.TypeContent)

	assert.Equal(t, 2, testutil.CollectAndCount(m.EventsClassified))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.EventsClassified.WithLabelValues("test-pipeline-classified", "engagement")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.EventsClassified.WithLabelValues("test-pipeline-classified", "content")))
}

func TestRecordClassificationFailure(t *testing.T) {
	m := newTestMetrics(t, "test-pipeline-failures")

	m.RecordClassificationFailure("test-pipeline-failures", pipeline.ReasonUnrecognizedOperation)

	assert.Equal(t, float64(1), testutil.ToFloat64(
		m.ClassificationFailures.WithLabelValues("test-pipeline-failures", "UNRECOGNIZED_OPERATION")))
}

func TestRecordBatches(t *testing.T) {
	m := newTestMetrics(t, "test-pipeline-batches")

	m.RecordBatchDelivered("test-pipeline-batches", "firehose-likes", 500)
	m.RecordBatchDelivered("test-pipeline-batches", "firehose-likes", 200)
	m.RecordBatchFailed("test-pipeline-batches", "firehose-analytical", 500, 120)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.BatchesDelivered.WithLabelValues("test-pipeline-batches", "firehose-likes")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.BatchesFailed.WithLabelValues("test-pipeline-batches", "firehose-analytical")))
	assert.Equal(t, float64(620), testutil.ToFloat64(m.PayloadsDropped.WithLabelValues("test-pipeline-batches", "firehose-analytical")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.BatchSize))
}

func TestSetConnectionGauges(t *testing.T) {
	m := newTestMetrics(t, "test-pipeline-gauges")

	m.SetPipelineRunning(true)
	m.SetSourceConnected(true)
	m.SetSinkConnected(true)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.PipelineStatus))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SourceConnected))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SinkConnected))

	m.SetPipelineRunning(false)
	m.SetSourceConnected(false)
	m.SetSinkConnected(false)
	assert.Equal(t, float64(0), testutil.ToFloat64(m.PipelineStatus))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.SourceConnected))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.SinkConnected))
}

func TestRecordProcessingDuration(t *testing.T) {
	m := newTestMetrics(t, "test-pipeline-duration")

	m.RecordProcessingDuration("test-pipeline-duration", "classify", 0.001)
	m.RecordProcessingDuration("test-pipeline-duration", "drain", 0.25)

	assert.Equal(t, 2, testutil.CollectAndCount(m.ProcessingDuration))
}

// Ensure Metrics satisfies the recorder the pipeline expects
var _ pipeline.MetricsRecorder = (*Metrics)(nil)
