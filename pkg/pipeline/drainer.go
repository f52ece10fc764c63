package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Drain empties buf into sink in chunks of at most target.Quota payloads and
// returns one result per Sink call. A failed chunk stops the drain: the
// remaining payloads are discarded and counted on the failed result.
func Drain(ctx context.Context, sink Sink, target Target, buf *Buffer, logger *zap.Logger) []BatchDeliveryResult {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("type", string(target.Type)), zap.String("stream", target.Stream))

	quota := target.Quota
	if quota <= 0 {
		quota = DefaultQuota
	}

	results := make([]BatchDeliveryResult, 0, (buf.Len()+quota-1)/quota)
	for {
		if err := ctx.Err(); err != nil {
			if dropped := buf.Discard(); dropped > 0 {
				logger.Warn("Drain cancelled, discarding buffered payloads", zap.Int("dropped", dropped), zap.Error(err))
				results = append(results, BatchDeliveryResult{
					Target:  target.Stream,
					Error:   fmt.Sprintf("drain cancelled: %v", err),
					Dropped: dropped,
				})
			}
			return results
		}

		chunk := buf.DrainUpTo(quota)
		if len(chunk) == 0 {
			return results
		}

		ack, err := sink.Send(ctx, target.Stream, chunk)
		if err != nil {
			dropped := buf.Discard()
			logger.Error("Failed to deliver batch",
				zap.Int("size", len(chunk)),
				zap.Int("dropped", dropped),
				zap.Error(err),
			)
			return append(results, BatchDeliveryResult{
				Target:  target.Stream,
				Size:    len(chunk),
				Error:   err.Error(),
				Dropped: dropped,
			})
		}

		logger.Debug("Delivered batch", zap.Int("size", len(chunk)))
		results = append(results, BatchDeliveryResult{
			Target: target.Stream,
			Size:   len(chunk),
			Ack:    ack,
		})
	}
}
