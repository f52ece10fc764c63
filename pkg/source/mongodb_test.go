package source

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/IEatCodeDaily/cdc-fanout/pkg/pipeline"
)

func TestConvertChangeEventInsert(t *testing.T) {
	oid := primitive.NewObjectID()
	published := primitive.NewDateTimeFromTime(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))

	event := ConvertChangeEvent(bson.M{
		"_id":           bson.M{"_data": "8264A1"},
		"operationType": "insert",
		"clusterTime":   primitive.Timestamp{T: 1700000000, I: 3},
		"documentKey":   bson.M{"_id": oid},
		"fullDocument": bson.M{
			"_id":          oid,
			"item-type":    "blog-article",
			"published_at": published,
			"tags":         bson.A{"go", oid},
			"meta":         bson.M{"likes": int32(0)},
		},
	})

	assert.Equal(t, MongoDBOrigin, event.Source)
	assert.Equal(t, pipeline.OperationCreate, event.Operation)
	assert.Equal(t, "8264A1", event.ID)
	assert.Equal(t, "1700000000.3", event.SequenceNumber)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), event.Timestamp)
	assert.Equal(t, oid.Hex(), event.Key)
	assert.Nil(t, event.Before)

	require.NotNil(t, event.After)
	assert.Equal(t, oid.Hex(), event.After["_id"])
	assert.Equal(t, "2024-01-02T03:04:05Z", event.After["published_at"])
	assert.Equal(t, []interface{}{"go", oid.Hex()}, event.After["tags"])
	assert.Equal(t, map[string]interface{}{"likes": int32(0)}, event.After["meta"])
}

func TestConvertChangeEventUpdate(t *testing.T) {
	for _, op := range []string{"update", "replace"} {
		event := ConvertChangeEvent(bson.M{
			"operationType":            op,
			"documentKey":              bson.M{"_id": "article-1"},
			"fullDocument":             bson.M{"likes": int64(4)},
			"fullDocumentBeforeChange": bson.M{"likes": int64(3)},
		})

		assert.Equal(t, pipeline.OperationUpdate, event.Operation, op)
		assert.Equal(t, "article-1", event.Key)
		after, ok := event.After.Int("likes")
		require.True(t, ok)
		before, ok := event.Before.Int("likes")
		require.True(t, ok)
		assert.Equal(t, int64(1), after-before)
	}
}

func TestConvertChangeEventOtherOperations(t *testing.T) {
	event := ConvertChangeEvent(bson.M{
		"operationType": "delete",
		"documentKey":   bson.M{"_id": int32(7)},
	})
	assert.Equal(t, "delete", event.Operation)
	assert.Equal(t, "7", event.Key)
	assert.False(t, event.Timestamp.IsZero())
}

func collectBatches(batches <-chan []pipeline.RawChangeEvent) [][]pipeline.RawChangeEvent {
	var out [][]pipeline.RawChangeEvent
	for b := range batches {
		out = append(out, b)
	}
	return out
}

func TestBatchChangesBySize(t *testing.T) {
	changes := make(chan pipeline.RawChangeEvent, 10)
	batches := make(chan []pipeline.RawChangeEvent, 10)

	for _, k := range []string{"a", "b", "c", "d", "e"} {
		changes <- pipeline.RawChangeEvent{Key: k}
	}
	close(changes)

	batchChanges(context.Background(), changes, batches, 2, time.Hour)
	close(batches)

	got := collectBatches(batches)
	require.Len(t, got, 3)
	assert.Len(t, got[0], 2)
	assert.Len(t, got[1], 2)
	assert.Len(t, got[2], 1)
	assert.Equal(t, "e", got[2][0].Key)
}

func TestBatchChangesByWindow(t *testing.T) {
	changes := make(chan pipeline.RawChangeEvent)
	batches := make(chan []pipeline.RawChangeEvent, 10)

	done := make(chan struct{})
	go func() {
		defer close(done)
		batchChanges(context.Background(), changes, batches, 100, 20*time.Millisecond)
	}()

	changes <- pipeline.RawChangeEvent{Key: "a"}
	changes <- pipeline.RawChangeEvent{Key: "b"}

	select {
	case batch := <-batches:
		assert.Len(t, batch, 2)
	case <-time.After(2 * time.Second):
		t.Fatal("window did not flush the partial batch")
	}

	close(changes)
	<-done
}

func TestBatchChangesStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	changes := make(chan pipeline.RawChangeEvent)
	batches := make(chan []pipeline.RawChangeEvent)

	done := make(chan struct{})
	go func() {
		defer close(done)
		batchChanges(ctx, changes, batches, 100, time.Hour)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("batchChanges did not return after cancel")
	}
}

func TestNewMongoDBSourceDefaults(t *testing.T) {
	src := NewMongoDBSource(MongoDBConfig{URI: "mongodb://localhost:27017"}, nil)
	assert.Equal(t, DefaultMaxBatchSize, src.maxBatchSize)
	assert.Equal(t, DefaultMaxBatchingWindow, src.maxBatchingWindow)
	assert.NoError(t, src.Close())
}

func TestReadAfterCancelClosesChannels(t *testing.T) {
	client, err := mongo.Connect(context.Background(), options.Client().
		ApplyURI("mongodb://127.0.0.1:1").
		SetServerSelectionTimeout(50*time.Millisecond))
	require.NoError(t, err)
	defer func() { _ = client.Disconnect(context.Background()) }()

	src := NewMongoDBSource(MongoDBConfig{Database: "blog", Collection: "items"}, nil)
	src.client = client

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for i := 0; i < 500; i++ {
		batches, errs := src.Read(ctx)

		done := make(chan struct{})
		go func() {
			defer close(done)
			for range errs {
			}
		}()
		for range batches {
		}

		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("error channel was not closed after cancel")
		}
	}
}
