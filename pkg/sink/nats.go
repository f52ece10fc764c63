package sink

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/IEatCodeDaily/cdc-fanout/pkg/pipeline"
)

// DefaultNATSBatchSize bounds the messages published per Send.
const DefaultNATSBatchSize = 500

type jetStreamPublisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// NATSSink publishes payloads to JetStream. The stream name of a target is
// used as the subject; a JetStream stream must capture it.
type NATSSink struct {
	url       string
	batchSize int
	conn      *nats.Conn
	js        jetStreamPublisher
	logger    *zap.Logger
}

// NewNATSSink creates a new NATS JetStream sink
func NewNATSSink(url string, batchSize int, logger *zap.Logger) *NATSSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	if batchSize <= 0 {
		batchSize = DefaultNATSBatchSize
	}
	return &NATSSink{url: url, batchSize: batchSize, logger: logger}
}

// Connect dials NATS and opens a JetStream context
func (s *NATSSink) Connect(ctx context.Context) error {
	if s.js != nil {
		return nil
	}
	s.logger.Info("Connecting to NATS", zap.String("url", s.url))

	conn, err := nats.Connect(s.url, nats.Name("cdc-fanout"))
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	s.conn = conn
	s.js = js
	return nil
}

// MaxBatchSize returns the configured messages per Send
func (s *NATSSink) MaxBatchSize() int {
	return s.batchSize
}

// Send publishes the chunk in order, waiting for each acknowledgment. The
// first failed publish fails the whole chunk.
func (s *NATSSink) Send(ctx context.Context, subject string, payloads []pipeline.Payload) (*pipeline.Ack, error) {
	if s.js == nil {
		return nil, errors.New("nats sink is not connected")
	}
	if len(payloads) > s.batchSize {
		return nil, fmt.Errorf("batch of %d exceeds batch size %d", len(payloads), s.batchSize)
	}

	ack := &pipeline.Ack{RecordIDs: make([]string, 0, len(payloads))}
	for _, payload := range payloads {
		data, err := encodeRecord(payload)
		if err != nil {
			return nil, err
		}
		pubAck, err := s.js.Publish(ctx, subject, data)
		if err != nil {
			return nil, fmt.Errorf("publish to %s after %d of %d: %w", subject, ack.Accepted, len(payloads), err)
		}
		ack.Accepted++
		ack.RecordIDs = append(ack.RecordIDs, pubAck.Stream+":"+strconv.FormatUint(pubAck.Sequence, 10))
	}
	return ack, nil
}

// Close drains the NATS connection
func (s *NATSSink) Close() error {
	if s.conn != nil {
		s.logger.Info("Closing NATS connection")
		return s.conn.Drain()
	}
	return nil
}
