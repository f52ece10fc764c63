package source

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/IEatCodeDaily/cdc-fanout/pkg/pipeline"
)

// ErrInputShape is returned when an invocation payload is not a batch of
// stream records.
var ErrInputShape = errors.New("input is not a batch of stream records")

// DynamoDBKeyAttribute is the partition key of the blog table.
const DynamoDBKeyAttribute = "id"

// DecodeStreamEvent parses a DynamoDB Streams invocation payload
// ({"Records": [...]}) into change events. Record-level oddities (missing
// images, unknown event names, missing source) are kept so the classifier can
// report them; only a payload that is not a record batch fails.
func DecodeStreamEvent(data []byte) ([]pipeline.RawChangeEvent, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInputShape, err)
	}
	raw, ok := probe["Records"]
	if !ok {
		return nil, fmt.Errorf("%w: missing Records", ErrInputShape)
	}

	var records []events.DynamoDBEventRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInputShape, err)
	}
	return ConvertStreamRecords(records), nil
}

// ConvertStreamRecords converts already decoded DynamoDB stream records.
func ConvertStreamRecords(records []events.DynamoDBEventRecord) []pipeline.RawChangeEvent {
	converted := make([]pipeline.RawChangeEvent, 0, len(records))
	for _, record := range records {
		converted = append(converted, convertStreamRecord(record))
	}
	return converted
}

func convertStreamRecord(record events.DynamoDBEventRecord) pipeline.RawChangeEvent {
	event := pipeline.RawChangeEvent{
		ID:             record.EventID,
		Source:         record.EventSource,
		Operation:      streamOperation(record.EventName),
		SequenceNumber: record.Change.SequenceNumber,
		Timestamp:      record.Change.ApproximateCreationDateTime.Time,
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	if key, ok := record.Change.Keys[DynamoDBKeyAttribute]; ok {
		event.Key = streamKeyString(key)
	}
	if record.Change.NewImage != nil {
		event.After = convertAttributes(record.Change.NewImage)
	}
	if record.Change.OldImage != nil {
		event.Before = convertAttributes(record.Change.OldImage)
	}
	return event
}

// streamKeyString renders a string or number partition key. Binary keys yield "".
func streamKeyString(key events.DynamoDBAttributeValue) string {
	switch key.DataType() {
	case events.DataTypeString:
		return key.String()
	case events.DataTypeNumber:
		return key.Number()
	default:
		return ""
	}
}

func streamOperation(eventName string) string {
	switch events.DynamoDBOperationType(eventName) {
	case events.DynamoDBOperationTypeInsert:
		return pipeline.OperationCreate
	case events.DynamoDBOperationTypeModify:
		return pipeline.OperationUpdate
	default:
		return eventName
	}
}

func convertAttributes(attrs map[string]events.DynamoDBAttributeValue) pipeline.Image {
	image := make(pipeline.Image, len(attrs))
	for name, value := range attrs {
		image[name] = convertAttribute(value)
	}
	return image
}

// convertAttribute flattens a typed attribute value. Numbers stay as their
// decimal string so no precision is lost; pipeline.Image parses them on read.
func convertAttribute(value events.DynamoDBAttributeValue) interface{} {
	switch value.DataType() {
	case events.DataTypeString:
		return value.String()
	case events.DataTypeNumber:
		return value.Number()
	case events.DataTypeBoolean:
		return value.Boolean()
	case events.DataTypeBinary:
		return value.Binary()
	case events.DataTypeStringSet:
		return value.StringSet()
	case events.DataTypeNumberSet:
		return value.NumberSet()
	case events.DataTypeBinarySet:
		return value.BinarySet()
	case events.DataTypeList:
		list := value.List()
		out := make([]interface{}, 0, len(list))
		for _, item := range list {
			out = append(out, convertAttribute(item))
		}
		return out
	case events.DataTypeMap:
		return map[string]interface{}(convertAttributes(value.Map()))
	default:
		return nil
	}
}
