package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"github.com/IEatCodeDaily/cdc-fanout/pkg/config"
	"github.com/IEatCodeDaily/cdc-fanout/pkg/handler"
	"github.com/IEatCodeDaily/cdc-fanout/pkg/logging"
	"github.com/IEatCodeDaily/cdc-fanout/pkg/metrics"
	"github.com/IEatCodeDaily/cdc-fanout/pkg/pipeline"
	"github.com/IEatCodeDaily/cdc-fanout/pkg/sink"
	"github.com/IEatCodeDaily/cdc-fanout/pkg/source"
	"github.com/IEatCodeDaily/cdc-fanout/pkg/transform"
)

func main() {
	configPath := flag.String("config", os.Getenv("DATAPIPE_CONFIG"), "Path to configuration file")
	replayPath := flag.String("replay", "", "Process a saved DynamoDB stream event file once and print the result")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadFromFile(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Logging.Level)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Loaded configuration",
		zap.String("pipeline", cfg.Pipeline.Name),
		zap.String("source", cfg.Source.Type),
		zap.String("sink", cfg.Sink.Type),
	)

	// Create classifier
	classifier, err := transform.NewClassifier(transform.ClassifierConfig{
		Origin:             originFor(cfg),
		DiscriminatorField: cfg.Classifier.DiscriminatorField,
		CounterField:       cfg.Classifier.CounterField,
		DeltaPolicy:        transform.DeltaPolicy(cfg.Classifier.DeltaPolicy),
	})
	if err != nil {
		logger.Fatal("Failed to create classifier", zap.Error(err))
	}

	// Create sink
	var snk pipeline.Sink
	switch cfg.Sink.Type {
	case "firehose":
		snk = sink.NewFirehoseSink(sink.FirehoseConfig{
			Region:          cfg.Sink.GetString("region"),
			Endpoint:        cfg.Sink.GetString("endpoint"),
			AccessKeyID:     cfg.Sink.GetString("access_key_id"),
			SecretAccessKey: cfg.Sink.GetString("secret_access_key"),
			SessionToken:    cfg.Sink.GetString("session_token"),
		}, logger)
	case "postgresql":
		snk = sink.NewPostgreSQLSink(
			cfg.Sink.GetString("connection_string"),
			cfg.Sink.GetInt("batch_size"),
			cfg.Sink.GetBool("create_tables"),
			logger,
		)
	case "nats":
		snk = sink.NewNATSSink(cfg.Sink.GetString("url"), cfg.Sink.GetInt("batch_size"), logger)
	default:
		logger.Fatal("Unsupported sink type", zap.String("type", cfg.Sink.Type))
	}

	registry := pipeline.NewRegistry()
	for name, t := range cfg.Targets {
		registry.Register(pipeline.Target{Type: pipeline.PayloadType(name), Stream: t.Stream, Quota: t.Quota})
	}

	// Create pipeline
	pipe, err := pipeline.New(cfg.Pipeline.Name, classifier, registry, snk, logger)
	if err != nil {
		logger.Fatal("Failed to create pipeline", zap.Error(err))
	}
	pipe.SetDrainConcurrency(cfg.Pipeline.DrainConcurrency)
	if m := metrics.NewMetrics(cfg.Pipeline.Name); m != nil {
		pipe.SetMetrics(m)
	}

	// Setup context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Received shutdown signal, stopping pipeline")
		cancel()
	}()

	switch cfg.Source.Type {
	case "dynamodb":
		if err := runStreamHandler(ctx, pipe, snk, *replayPath, logger); err != nil {
			logger.Fatal("Stream handler failed", zap.Error(err))
		}
	case "mongodb":
		src := source.NewMongoDBSource(source.MongoDBConfig{
			URI:               cfg.Source.GetString("uri"),
			Database:          cfg.Source.GetString("database"),
			Collection:        cfg.Source.GetString("collection"),
			MaxBatchSize:      cfg.Source.GetInt("max_batch_size"),
			MaxBatchingWindow: cfg.Source.GetDuration("max_batching_window"),
		}, logger)
		pipe.SetSource(src)

		if cfg.Metrics.Enabled {
			server := metrics.NewServer(cfg.Metrics.Addr, pipe, logger)
			if err := server.Start(); err != nil {
				logger.Fatal("Failed to start metrics server", zap.Error(err))
			}
			defer func() {
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer shutdownCancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					logger.Warn("Metrics server shutdown failed", zap.Error(err))
				}
			}()
		}

		logger.Info("Starting change stream pipeline")
		if err := pipe.Run(ctx); err != nil {
			logger.Error("Pipeline error", zap.Error(err))
			return
		}
	default:
		logger.Fatal("Unsupported source type", zap.String("type", cfg.Source.Type))
	}

	logger.Info("Pipeline stopped")
}

// originFor returns the configured origin or the one the source stamps on
// its events.
func originFor(cfg *config.Config) string {
	if cfg.Classifier.Origin != "" {
		return cfg.Classifier.Origin
	}
	if cfg.Source.Type == "mongodb" {
		return source.MongoDBOrigin
	}
	return transform.DefaultOrigin
}

// runStreamHandler serves DynamoDB stream invocations through the Lambda
// runtime, or replays a single saved invocation when replayPath is set. The
// sink connection is shared by every invocation of the process.
func runStreamHandler(ctx context.Context, pipe *pipeline.Pipeline, snk pipeline.Sink, replayPath string, logger *zap.Logger) error {
	if err := snk.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect sink: %w", err)
	}
	defer snk.Close()

	h := handler.NewStreamHandler(pipe, logger)

	if replayPath == "" {
		lambda.Start(h.Handle)
		return nil
	}

	data, err := os.ReadFile(replayPath)
	if err != nil {
		return fmt.Errorf("failed to read replay file: %w", err)
	}
	result, err := h.Handle(ctx, data)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
