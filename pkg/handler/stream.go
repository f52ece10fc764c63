package handler

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/IEatCodeDaily/cdc-fanout/pkg/pipeline"
	"github.com/IEatCodeDaily/cdc-fanout/pkg/source"
)

// GenericPublicError is reported when a run fails unexpectedly.
const GenericPublicError = "Sorry, there was an error"

// Processor runs one batch of change events.
type Processor interface {
	Process(ctx context.Context, events []pipeline.RawChangeEvent) *pipeline.RunResult
}

// StreamHandler serves DynamoDB stream invocations.
type StreamHandler struct {
	processor Processor
	logger    *zap.Logger
}

// NewStreamHandler creates a handler running every invocation through p
func NewStreamHandler(p Processor, logger *zap.Logger) *StreamHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamHandler{processor: p, logger: logger}
}

// Handle decodes one invocation payload and processes it. The run report is
// always returned; a payload that is not a record batch, or a panic during
// the run, is reported in RunResult.Error instead of failing the invocation.
func (h *StreamHandler) Handle(ctx context.Context, payload json.RawMessage) (result *pipeline.RunResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("Run panicked", zap.Any("panic", r), zap.Stack("stack"))
			result = &pipeline.RunResult{
				Results: map[string][]pipeline.BatchDeliveryResult{},
				Error:   GenericPublicError,
			}
			err = nil
		}
		h.logger.Info("Response", zap.Any("response", result))
	}()

	h.logger.Debug("Request event", zap.ByteString("event", payload))

	events, decodeErr := source.DecodeStreamEvent(payload)
	if decodeErr != nil {
		h.logger.Error("Rejecting invocation", zap.Error(decodeErr))
		return &pipeline.RunResult{
			Results: map[string][]pipeline.BatchDeliveryResult{},
			Error:   decodeErr.Error(),
		}, nil
	}

	return h.processor.Process(ctx, events), nil
}
