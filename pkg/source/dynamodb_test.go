package source

import (
	"os"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IEatCodeDaily/cdc-fanout/pkg/pipeline"
)

func TestDecodeStreamEvent(t *testing.T) {
	data, err := os.ReadFile("testdata/stream_event.json")
	require.NoError(t, err)

	evs, err := DecodeStreamEvent(data)
	require.NoError(t, err)
	require.Len(t, evs, 4)

	insert := evs[0]
	assert.Equal(t, "22913059a4e7bb091988bafeccd304c6", insert.ID)
	assert.Equal(t, "aws:dynamodb", insert.Source)
	assert.Equal(t, pipeline.OperationCreate, insert.Operation)
	assert.Equal(t, "da4c60a5db7672b2ce71a2d11a0048eb", insert.Key)
	assert.Equal(t, "4827400000000015091308973", insert.SequenceNumber)
	assert.True(t, insert.Timestamp.Equal(time.Unix(1594596504, 0)))
	assert.Nil(t, insert.Before)
	assert.Equal(t, "blog-article", insert.After["item-type"])
	assert.Equal(t, "1594596504", insert.After["publish-timestamp"], "numbers keep their decimal form")

	modify := evs[1]
	assert.Equal(t, pipeline.OperationUpdate, modify.Operation)
	before, ok := modify.Before.Int("likes")
	require.True(t, ok)
	after, ok := modify.After.Int("likes")
	require.True(t, ok)
	assert.Equal(t, int64(0), before)
	assert.Equal(t, int64(1), after)

	assert.Equal(t, "5b1f3a2c", evs[2].Key)
	assert.Equal(t, "api-request", evs[2].After["item-type"])

	remove := evs[3]
	assert.Equal(t, "REMOVE", remove.Operation, "unknown event names pass through")
	assert.Nil(t, remove.After)
}

func TestDecodeStreamEventInputShape(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `hello`},
		{"array", `[{"eventName": "INSERT"}]`},
		{"no records", `{"detail-type": "Scheduled Event"}`},
		{"records not a list", `{"Records": {"eventName": "INSERT"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeStreamEvent([]byte(tt.data))
			assert.ErrorIs(t, err, ErrInputShape)
		})
	}
}

func TestDecodeStreamEventEmpty(t *testing.T) {
	evs, err := DecodeStreamEvent([]byte(`{"Records": []}`))
	require.NoError(t, err)
	assert.Empty(t, evs)
}

func TestConvertStreamRecordsNestedAttributes(t *testing.T) {
	record := events.DynamoDBEventRecord{
		EventName:   "INSERT",
		EventSource: "aws:dynamodb",
		Change: events.DynamoDBStreamRecord{
			Keys: map[string]events.DynamoDBAttributeValue{
				"id": events.NewStringAttribute("k1"),
			},
			NewImage: map[string]events.DynamoDBAttributeValue{
				"tags":      events.NewStringSetAttribute([]string{"go", "cdc"}),
				"published": events.NewBooleanAttribute(true),
				"meta": events.NewMapAttribute(map[string]events.DynamoDBAttributeValue{
					"views": events.NewNumberAttribute("7"),
				}),
				"history": events.NewListAttribute([]events.DynamoDBAttributeValue{
					events.NewNumberAttribute("1"),
					events.NewNullAttribute(),
				}),
			},
		},
	}

	evs := ConvertStreamRecords([]events.DynamoDBEventRecord{record})
	require.Len(t, evs, 1)

	img := evs[0].After
	assert.Equal(t, "k1", evs[0].Key)
	assert.False(t, evs[0].Timestamp.IsZero())
	assert.Equal(t, []string{"go", "cdc"}, img["tags"])
	assert.Equal(t, true, img["published"])
	assert.Equal(t, map[string]interface{}{"views": "7"}, img["meta"])
	assert.Equal(t, []interface{}{"1", nil}, img["history"])
}

func TestConvertStreamRecordKeyTypes(t *testing.T) {
	tests := []struct {
		name string
		key  events.DynamoDBAttributeValue
		want string
	}{
		{"string", events.NewStringAttribute("a1"), "a1"},
		{"number", events.NewNumberAttribute("5"), "5"},
		{"binary", events.NewBinaryAttribute([]byte{1, 2}), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			evs := ConvertStreamRecords([]events.DynamoDBEventRecord{{
				EventName: "MODIFY",
				Change: events.DynamoDBStreamRecord{
					Keys: map[string]events.DynamoDBAttributeValue{"id": tt.key},
				},
			}})
			require.Len(t, evs, 1)
			assert.Equal(t, tt.want, evs[0].Key)
			assert.Empty(t, evs[0].Source)
		})
	}
}
