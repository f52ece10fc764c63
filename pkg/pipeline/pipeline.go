package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Stages a run moves through, in order. A run never moves backwards.
const (
	StageReceived    = "received"
	StageClassifying = "classifying"
	StageDraining    = "draining"
	StageAggregating = "aggregating"
	StageDone        = "done"
)

// MetricsRecorder interface for recording pipeline metrics
type MetricsRecorder interface {
	RecordEventClassified(pipelineName string, payloadType PayloadType)
	RecordClassificationFailure(pipelineName string, reason FailureReason)
	RecordBatchDelivered(pipelineName, target string, size int)
	RecordBatchFailed(pipelineName, target string, size, dropped int)
	RecordProcessingDuration(pipelineName, component string, duration float64)
	SetPipelineRunning(running bool)
	SetSourceConnected(connected bool)
	SetSinkConnected(connected bool)
}

// Pipeline classifies change events and fans them out to per-type streams
type Pipeline struct {
	name             string
	source           Source
	sink             Sink
	classifier       Classifier
	registry         *Registry
	logger           *zap.Logger
	metrics          MetricsRecorder
	drainConcurrency int
	startTime        time.Time
	mu               sync.RWMutex // protects the fields below
	lastEventTime    time.Time
	lastRun          *RunResult
	sourceConnected  bool
	sinkConnected    bool
}

// New creates a new pipeline. It fails when the registry does not cover every
// payload type the classifier produces or a target quota exceeds what the
// sink accepts.
func New(name string, classifier Classifier, registry *Registry, sink Sink, logger *zap.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if classifier == nil {
		return nil, errors.New("classifier is required")
	}
	if registry == nil {
		return nil, errors.New("registry is required")
	}
	if sink == nil {
		return nil, errors.New("sink is required")
	}
	if err := registry.Validate(classifier.Types(), sink.MaxBatchSize()); err != nil {
		return nil, fmt.Errorf("invalid pipeline configuration: %w", err)
	}
	return &Pipeline{
		name:       name,
		sink:       sink,
		classifier: classifier,
		registry:   registry,
		logger:     logger.With(zap.String("pipeline", name)),
		startTime:  time.Now(),
	}, nil
}

// SetSource sets the change log source consumed by Run
func (p *Pipeline) SetSource(source Source) {
	p.source = source
}

// SetMetrics sets the metrics recorder for the pipeline
func (p *Pipeline) SetMetrics(metrics MetricsRecorder) {
	p.metrics = metrics
}

// SetDrainConcurrency bounds how many buffers drain at once. Zero or less
// drains every buffer in parallel.
func (p *Pipeline) SetDrainConcurrency(n int) {
	p.drainConcurrency = n
}

// IsHealthy returns true if the pipeline is healthy
func (p *Pipeline) IsHealthy() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sourceConnected && p.sinkConnected
}

// GetStatus returns the current health status of the pipeline
func (p *Pipeline) GetStatus() HealthStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()

	status := HealthStatus{
		Healthy:         p.sourceConnected && p.sinkConnected,
		PipelineRunning: p.sourceConnected && p.sinkConnected,
		SourceConnected: p.sourceConnected,
		SinkConnected:   p.sinkConnected,
		UptimeSeconds:   int64(time.Since(p.startTime).Seconds()),
	}
	if !p.lastEventTime.IsZero() {
		status.LastEventTime = p.lastEventTime.Format(time.RFC3339)
	}
	if p.lastRun != nil {
		status.LastRunProcessed = p.lastRun.Processed
		for _, results := range p.lastRun.Results {
			for _, r := range results {
				if !r.Succeeded() {
					status.LastRunFailedBatches++
				}
			}
		}
	}
	return status
}

// LastRun returns the report of the most recent Process call, or nil
func (p *Pipeline) LastRun() *RunResult {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastRun
}

// HealthStatus represents the health status of the pipeline
type HealthStatus struct {
	Healthy              bool   `json:"healthy"`
	PipelineRunning      bool   `json:"pipeline_running"`
	SourceConnected      bool   `json:"source_connected"`
	SinkConnected        bool   `json:"sink_connected"`
	LastEventTime        string `json:"last_event_time,omitempty"`
	LastRunProcessed     int    `json:"last_run_processed"`
	LastRunFailedBatches int    `json:"last_run_failed_batches"`
	UptimeSeconds        int64  `json:"uptime_seconds"`
}

// Process runs one batch of change events through classification, per-type
// buffering and delivery. Per-record and per-target failures are reported in
// the result; Error is set only when the run itself could not complete.
func (p *Pipeline) Process(ctx context.Context, events []RawChangeEvent) *RunResult {
	runStart := time.Now()
	types := p.registry.Types()
	result := &RunResult{
		Results: make(map[string][]BatchDeliveryResult, len(types)),
		Skipped: make(map[FailureReason]int),
	}
	p.logger.Debug("Run stage", zap.String("stage", StageReceived), zap.Int("records", len(events)))

	buffers := make(map[PayloadType]*Buffer, len(types))
	for _, pt := range types {
		buffers[pt] = NewBuffer()
	}

	p.logger.Debug("Run stage", zap.String("stage", StageClassifying))
	classifyStart := time.Now()
	for _, event := range events {
		payload, err := p.classifier.Classify(event)
		if err != nil {
			p.recordFailure(result, event, err)
			continue
		}

		buf, ok := buffers[payload.Type()]
		if !ok {
			// Unreachable once New has validated the registry.
			result.Error = fmt.Errorf("%w: %s", ErrUnregisteredType, payload.Type()).Error()
			p.logger.Error("Aborting run", zap.String("payload_type", string(payload.Type())))
			return result
		}
		buf.Append(payload)
		result.Processed++
		if p.metrics != nil {
			p.metrics.RecordEventClassified(p.name, payload.Type())
		}
	}
	if p.metrics != nil {
		p.metrics.RecordProcessingDuration(p.name, "classify", time.Since(classifyStart).Seconds())
	}

	p.logger.Debug("Run stage", zap.String("stage", StageDraining))
	drainStart := time.Now()
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	if p.drainConcurrency > 0 {
		g.SetLimit(p.drainConcurrency)
	}
	for _, pt := range types {
		pt := pt
		target, _ := p.registry.TargetFor(pt)
		buf := buffers[pt]
		g.Go(func() error {
			results := Drain(gctx, p.sink, target, buf, p.logger)
			mu.Lock()
			result.Results[string(pt)] = results
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	if p.metrics != nil {
		p.metrics.RecordProcessingDuration(p.name, "drain", time.Since(drainStart).Seconds())
	}

	p.logger.Debug("Run stage", zap.String("stage", StageAggregating))
	failedBatches := 0
	for _, pt := range types {
		target, _ := p.registry.TargetFor(pt)
		for _, r := range result.Results[string(pt)] {
			if r.Succeeded() {
				if p.metrics != nil {
					p.metrics.RecordBatchDelivered(p.name, target.Stream, r.Size)
				}
				continue
			}
			failedBatches++
			if p.metrics != nil {
				p.metrics.RecordBatchFailed(p.name, target.Stream, r.Size, r.Dropped)
			}
		}
	}
	if len(result.Skipped) == 0 {
		result.Skipped = nil
	}

	p.mu.Lock()
	p.lastRun = result
	p.mu.Unlock()
	if p.metrics != nil {
		p.metrics.RecordProcessingDuration(p.name, "run", time.Since(runStart).Seconds())
	}

	p.logger.Info("Run completed",
		zap.String("stage", StageDone),
		zap.Int("records", len(events)),
		zap.Int("processed", result.Processed),
		zap.Int("skipped", len(events)-result.Processed),
		zap.Int("failed_batches", failedBatches),
		zap.Duration("duration", time.Since(runStart)),
	)
	return result
}

func (p *Pipeline) recordFailure(result *RunResult, event RawChangeEvent, err error) {
	var failure *ClassificationFailure
	if !errors.As(err, &failure) {
		failure = &ClassificationFailure{Reason: ReasonClassifierError, Event: event, Detail: err.Error()}
	}
	result.Skipped[failure.Reason]++
	p.logger.Warn("Skipping change record",
		zap.String("reason", string(failure.Reason)),
		zap.String("source", event.Source),
		zap.String("operation", event.Operation),
		zap.String("key", event.Key),
		zap.String("event_id", event.ID),
		zap.Error(failure),
	)
	if p.metrics != nil {
		p.metrics.RecordClassificationFailure(p.name, failure.Reason)
	}
}

// Run connects the source and sink and processes every batch the source
// emits until the source closes or ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	if p.source == nil {
		return errors.New("pipeline has no source")
	}
	p.logger.Info("Starting pipeline")

	// Set pipeline status to running
	if p.metrics != nil {
		p.metrics.SetPipelineRunning(true)
		defer p.metrics.SetPipelineRunning(false)
	}

	// Connect source
	startTime := time.Now()
	if err := p.source.Connect(ctx); err != nil {
		if p.metrics != nil {
			p.metrics.SetSourceConnected(false)
		}
		return fmt.Errorf("failed to connect source: %w", err)
	}
	p.setSourceConnected(true)
	if p.metrics != nil {
		p.metrics.RecordProcessingDuration(p.name, "source_connect", time.Since(startTime).Seconds())
	}
	defer func() {
		if err := p.source.Close(); err != nil {
			p.logger.Warn("Failed to close source", zap.Error(err))
		}
		p.setSourceConnected(false)
	}()

	// Connect sink
	startTime = time.Now()
	if err := p.sink.Connect(ctx); err != nil {
		if p.metrics != nil {
			p.metrics.SetSinkConnected(false)
		}
		return fmt.Errorf("failed to connect sink: %w", err)
	}
	p.setSinkConnected(true)
	if p.metrics != nil {
		p.metrics.RecordProcessingDuration(p.name, "sink_connect", time.Since(startTime).Seconds())
	}
	defer func() {
		if err := p.sink.Close(); err != nil {
			p.logger.Warn("Failed to close sink", zap.Error(err))
		}
		p.setSinkConnected(false)
	}()

	batches, sourceErrors := p.source.Read(ctx)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for err := range sourceErrors {
			p.logger.Error("Source error", zap.Error(err))
		}
	}()

	for batch := range batches {
		p.mu.Lock()
		p.lastEventTime = time.Now()
		p.mu.Unlock()
		p.Process(ctx, batch)
	}

	wg.Wait()
	p.logger.Info("Pipeline stopped")
	return nil
}

func (p *Pipeline) setSourceConnected(connected bool) {
	p.mu.Lock()
	p.sourceConnected = connected
	p.mu.Unlock()
	if p.metrics != nil {
		p.metrics.SetSourceConnected(connected)
	}
}

func (p *Pipeline) setSinkConnected(connected bool) {
	p.mu.Lock()
	p.sinkConnected = connected
	p.mu.Unlock()
	if p.metrics != nil {
		p.metrics.SetSinkConnected(connected)
	}
}
