package pipeline

import (
	"context"
	"fmt"
	"time"
)

// Operation kinds recognized by the classifier. Any other value is carried
// verbatim from the source and rejected during classification.
const (
	OperationCreate = "CREATE"
	OperationUpdate = "UPDATE"
)

// RawChangeEvent represents a change data capture record as decoded from the
// upstream change log. It is never mutated after decoding.
type RawChangeEvent struct {
	ID             string    `json:"id,omitempty"`
	Source         string    `json:"source"`
	Operation      string    `json:"operation"` // CREATE, UPDATE, anything else is rejected
	Key            string    `json:"key"`
	SequenceNumber string    `json:"sequence_number,omitempty"`
	Timestamp      time.Time `json:"timestamp,omitempty"`
	Before         Image     `json:"before,omitempty"` // only for updates
	After          Image     `json:"after,omitempty"`
}

// PayloadType names a logical payload variant and the buffer that holds it.
type PayloadType string

const (
	TypeContent    PayloadType = "content"
	TypeEngagement PayloadType = "engagement"
	TypeAccessLog  PayloadType = "access_log"
)

// Payload is a classified event ready for delivery.
type Payload interface {
	Type() PayloadType
}

// ContentItem is a newly published article.
type ContentItem struct {
	ID               string `json:"id"`
	PublishTimestamp int64  `json:"publish_timestamp"`
	PublisherEmail   string `json:"publisher_email"`
	PublisherName    string `json:"publisher_name"`
	ItemType         string `json:"item_type"`
	Title            string `json:"title"`
	Body             string `json:"body"`
}

func (ContentItem) Type() PayloadType { return TypeContent }

// EngagementIncrement records growth of an entity's engagement counter.
type EngagementIncrement struct {
	ID    string `json:"id"`
	Delta int64  `json:"like"`
}

func (EngagementIncrement) Type() PayloadType { return TypeEngagement }

// AccessLogEntry is one API request captured by the record producer.
type AccessLogEntry struct {
	ID          string `json:"id"`
	ItemType    string `json:"item_type"`
	HTTPMethod  string `json:"http_method"`
	Timestamp   int64  `json:"timestamp"`
	Datetime    string `json:"datetime"`
	IPAddress   string `json:"ip_address"`
	UserAgent   string `json:"user_agent"`
	Origin      string `json:"origin"`
	CountryCode string `json:"country_code"`
	DeviceType  string `json:"device_type"`
	Action      string `json:"action"`
	ArticleID   string `json:"article_id"`
}

func (AccessLogEntry) Type() PayloadType { return TypeAccessLog }

// FailureReason classifies why a record produced no payload.
type FailureReason string

const (
	ReasonNotSupportedSource      FailureReason = "NOT_SUPPORTED_SOURCE"
	ReasonIncompleteCreate        FailureReason = "INCOMPLETE_CREATE"
	ReasonUnrecognizedCreateShape FailureReason = "UNRECOGNIZED_CREATE_SHAPE"
	ReasonUnrecognizedUpdateShape FailureReason = "UNRECOGNIZED_UPDATE_SHAPE"
	ReasonUnrecognizedOperation   FailureReason = "UNRECOGNIZED_OPERATION"
	// ReasonClassifierError marks errors that a Classifier returned without
	// wrapping them in a ClassificationFailure.
	ReasonClassifierError FailureReason = "CLASSIFIER_ERROR"
)

// ClassificationFailure is returned by a Classifier for records it skips.
type ClassificationFailure struct {
	Reason FailureReason  `json:"reason"`
	Event  RawChangeEvent `json:"event"`
	Detail string         `json:"detail,omitempty"`
}

func (f *ClassificationFailure) Error() string {
	if f.Detail != "" {
		return fmt.Sprintf("%s: %s (key %q)", f.Reason, f.Detail, f.Event.Key)
	}
	return fmt.Sprintf("%s (key %q)", f.Reason, f.Event.Key)
}

// Ack is a sink's acknowledgment of one delivered chunk.
type Ack struct {
	Accepted  int      `json:"accepted"`
	Failed    int      `json:"failed,omitempty"`
	RecordIDs []string `json:"record_ids,omitempty"`
	Encrypted bool     `json:"encrypted,omitempty"`
}

// BatchDeliveryResult is the outcome of one Sink call.
type BatchDeliveryResult struct {
	Target  string `json:"target"`
	Size    int    `json:"size"`
	Ack     *Ack   `json:"ack,omitempty"`
	Error   string `json:"error,omitempty"`
	Dropped int    `json:"dropped,omitempty"` // items discarded after this chunk failed
}

// Succeeded reports whether the sink accepted the chunk.
func (r BatchDeliveryResult) Succeeded() bool {
	return r.Error == ""
}

// RunResult is the report of one Process invocation.
type RunResult struct {
	Results   map[string][]BatchDeliveryResult `json:"results"`
	Processed int                              `json:"processed"`
	Skipped   map[FailureReason]int            `json:"skipped,omitempty"`
	Error     string                           `json:"error,omitempty"`
}

// Classifier turns raw records into payloads.
type Classifier interface {
	// Classify returns a payload or a *ClassificationFailure
	Classify(event RawChangeEvent) (Payload, error)
	// Types lists every payload type Classify can produce
	Types() []PayloadType
}

// Source defines the interface for change log sources
type Source interface {
	// Connect establishes connection to the source
	Connect(ctx context.Context) error
	// Read returns a channel that emits batches of change events
	Read(ctx context.Context) (<-chan []RawChangeEvent, <-chan error)
	// Close closes the source connection
	Close() error
}

// Sink defines the interface for batch delivery targets
type Sink interface {
	// Connect establishes connection to the sink
	Connect(ctx context.Context) error
	// Send delivers one ordered chunk of payloads to the named stream
	Send(ctx context.Context, stream string, payloads []Payload) (*Ack, error)
	// MaxBatchSize is the largest chunk Send accepts
	MaxBatchSize() int
	// Close closes the sink connection
	Close() error
}
