package source

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/IEatCodeDaily/cdc-fanout/pkg/pipeline"
)

// MongoDBOrigin is the Source stamped on events read from a change stream.
const MongoDBOrigin = "mongodb"

// Batching defaults mirror the stream trigger of the blog table.
const (
	DefaultMaxBatchSize      = 500
	DefaultMaxBatchingWindow = 60 * time.Second
)

// MongoDBSource implements the Source interface for MongoDB change streams.
// Pre-images must be enabled on the collection (changeStreamPreAndPostImages)
// for updates to carry a before image.
type MongoDBSource struct {
	uri               string
	database          string
	collection        string
	maxBatchSize      int
	maxBatchingWindow time.Duration
	client            *mongo.Client
	logger            *zap.Logger
}

// MongoDBConfig configures a MongoDBSource
type MongoDBConfig struct {
	URI               string
	Database          string
	Collection        string
	MaxBatchSize      int
	MaxBatchingWindow time.Duration
}

// NewMongoDBSource creates a new MongoDB source
func NewMongoDBSource(cfg MongoDBConfig, logger *zap.Logger) *MongoDBSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = DefaultMaxBatchSize
	}
	if cfg.MaxBatchingWindow <= 0 {
		cfg.MaxBatchingWindow = DefaultMaxBatchingWindow
	}
	return &MongoDBSource{
		uri:               cfg.URI,
		database:          cfg.Database,
		collection:        cfg.Collection,
		maxBatchSize:      cfg.MaxBatchSize,
		maxBatchingWindow: cfg.MaxBatchingWindow,
		logger:            logger,
	}
}

// Connect establishes connection to MongoDB
func (m *MongoDBSource) Connect(ctx context.Context) error {
	m.logger.Info("Connecting to MongoDB", zap.String("database", m.database), zap.String("collection", m.collection))

	clientOptions := options.Client().ApplyURI(m.uri)
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	// Ping to verify connection
	if err := client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	m.client = client
	m.logger.Info("Successfully connected to MongoDB")
	return nil
}

// Read watches the collection and emits batches of change events. A batch is
// emitted when it reaches the maximum size or the batching window elapses.
func (m *MongoDBSource) Read(ctx context.Context) (<-chan []pipeline.RawChangeEvent, <-chan error) {
	changes := make(chan pipeline.RawChangeEvent)
	batches := make(chan []pipeline.RawChangeEvent)
	errors := make(chan error)

	go func() {
		defer close(errors)
		defer close(changes)

		collection := m.client.Database(m.database).Collection(m.collection)

		opts := options.ChangeStream().
			SetFullDocument(options.UpdateLookup).
			SetFullDocumentBeforeChange(options.WhenAvailable)

		m.logger.Info("Starting change stream", zap.String("database", m.database), zap.String("collection", m.collection))
		stream, err := collection.Watch(ctx, mongo.Pipeline{}, opts)
		if err != nil {
			m.sendError(ctx, errors, fmt.Errorf("failed to create change stream: %w", err))
			return
		}
		defer stream.Close(context.Background())

		for stream.Next(ctx) {
			var changeDoc bson.M
			if err := stream.Decode(&changeDoc); err != nil {
				m.sendError(ctx, errors, fmt.Errorf("failed to decode change event: %w", err))
				continue
			}

			select {
			case changes <- ConvertChangeEvent(changeDoc):
			case <-ctx.Done():
				return
			}
		}

		if err := stream.Err(); err != nil && ctx.Err() == nil {
			m.sendError(ctx, errors, fmt.Errorf("change stream error: %w", err))
		}
	}()

	go func() {
		defer close(batches)
		batchChanges(ctx, changes, batches, m.maxBatchSize, m.maxBatchingWindow)
	}()

	return batches, errors
}

func (m *MongoDBSource) sendError(ctx context.Context, errors chan<- error, err error) {
	select {
	case errors <- err:
	case <-ctx.Done():
	}
}

// batchChanges groups changes into batches of at most maxSize, flushing a
// partial batch once window has passed since its first change.
func batchChanges(ctx context.Context, changes <-chan pipeline.RawChangeEvent, batches chan<- []pipeline.RawChangeEvent, maxSize int, window time.Duration) {
	var batch []pipeline.RawChangeEvent
	timer := time.NewTimer(window)
	timer.Stop()

	flush := func() bool {
		if len(batch) == 0 {
			return true
		}
		select {
		case batches <- batch:
			batch = nil
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		select {
		case change, ok := <-changes:
			if !ok {
				timer.Stop()
				flush()
				return
			}
			if len(batch) == 0 {
				timer.Reset(window)
			}
			batch = append(batch, change)
			if len(batch) >= maxSize {
				timer.Stop()
				if !flush() {
					return
				}
			}
		case <-timer.C:
			if !flush() {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// ConvertChangeEvent converts a MongoDB change stream document to a change
// event.
func ConvertChangeEvent(changeDoc bson.M) pipeline.RawChangeEvent {
	event := pipeline.RawChangeEvent{
		Source:    MongoDBOrigin,
		Timestamp: time.Now().UTC(),
	}

	if opType, ok := changeDoc["operationType"].(string); ok {
		switch opType {
		case "insert":
			event.Operation = pipeline.OperationCreate
		case "update", "replace":
			event.Operation = pipeline.OperationUpdate
		default:
			event.Operation = opType
		}
	}

	if token, ok := changeDoc["_id"].(bson.M); ok {
		if data, ok := token["_data"].(string); ok {
			event.ID = data
		}
	}

	if ts, ok := changeDoc["clusterTime"].(primitive.Timestamp); ok {
		event.SequenceNumber = fmt.Sprintf("%d.%d", ts.T, ts.I)
		event.Timestamp = time.Unix(int64(ts.T), 0).UTC()
	}

	if docKey, ok := changeDoc["documentKey"].(bson.M); ok {
		event.Key = keyString(docKey["_id"])
	}

	if fullDoc, ok := changeDoc["fullDocument"].(bson.M); ok {
		event.After = convertBSONToImage(fullDoc)
	}
	if before, ok := changeDoc["fullDocumentBeforeChange"].(bson.M); ok {
		event.Before = convertBSONToImage(before)
	}

	return event
}

func keyString(id interface{}) string {
	switch v := id.(type) {
	case nil:
		return ""
	case string:
		return v
	case primitive.ObjectID:
		return v.Hex()
	default:
		return fmt.Sprintf("%v", v)
	}
}

// convertBSONToImage converts a BSON document to an image, normalising
// ObjectIDs and dates.
func convertBSONToImage(doc bson.M) pipeline.Image {
	image := make(pipeline.Image, len(doc))
	for k, v := range doc {
		image[k] = convertBSONValue(v)
	}
	return image
}

func convertBSONValue(v interface{}) interface{} {
	switch val := v.(type) {
	case primitive.ObjectID:
		return val.Hex()
	case primitive.DateTime:
		return val.Time().UTC().Format(time.RFC3339)
	case bson.M:
		return map[string]interface{}(convertBSONToImage(val))
	case bson.A:
		out := make([]interface{}, 0, len(val))
		for _, item := range val {
			out = append(out, convertBSONValue(item))
		}
		return out
	default:
		return v
	}
}

// Close closes the MongoDB connection
func (m *MongoDBSource) Close() error {
	if m.client != nil {
		m.logger.Info("Closing MongoDB connection")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return m.client.Disconnect(ctx)
	}
	return nil
}
