package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

// TestLoadFromFile tests loading configuration from file
func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, "config.json", `{
		"pipeline": {
			"name": "test-pipeline",
			"drain_concurrency": 2
		},
		"source": {
			"type": "mongodb",
			"settings": {
				"uri": "mongodb://localhost:27017",
				"database": "blog",
				"collection": "items",
				"max_batch_size": 100,
				"max_batching_window": "5s"
			}
		},
		"sink": {
			"type": "postgresql",
			"settings": {
				"connection_string": "host=localhost",
				"batch_size": 250,
				"create_tables": true
			}
		},
		"classifier": {
			"delta_policy": "fixed"
		},
		"targets": {
			"content": {"stream": "analytical"},
			"engagement": {"stream": "likes", "quota": 250},
			"access_log": {"stream": "apirequests"}
		},
		"logging": {"level": "debug"}
	}`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "test-pipeline", cfg.Pipeline.Name)
	assert.Equal(t, 2, cfg.Pipeline.DrainConcurrency)

	assert.Equal(t, "mongodb", cfg.Source.Type)
	assert.Equal(t, "mongodb://localhost:27017", cfg.Source.GetString("uri"))
	assert.Equal(t, 100, cfg.Source.GetInt("max_batch_size"))
	assert.Equal(t, 5*time.Second, cfg.Source.GetDuration("max_batching_window"))

	assert.Equal(t, "postgresql", cfg.Sink.Type)
	assert.Equal(t, "host=localhost", cfg.Sink.GetString("connection_string"))
	assert.Equal(t, 250, cfg.Sink.GetInt("batch_size"))
	assert.True(t, cfg.Sink.GetBool("create_tables"))

	assert.Equal(t, "fixed", cfg.Classifier.DeltaPolicy)
	assert.Equal(t, "item-type", cfg.Classifier.DiscriminatorField)
	assert.Equal(t, "likes", cfg.Classifier.CounterField)

	require.Len(t, cfg.Targets, 3)
	assert.Equal(t, TargetConfig{Stream: "likes", Quota: 250}, cfg.Targets["engagement"])
	assert.Equal(t, TargetConfig{Stream: "analytical", Quota: 500}, cfg.Targets["content"])

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, ":9090", cfg.Metrics.Addr)
}

func TestLoadFromLegacyEnvironment(t *testing.T) {
	t.Setenv("FIREHOSE_ANALYTICAL_STREAM_NAME", "firehose-analytical")
	t.Setenv("FIREHOSE_LIKES_STREAM_NAME", "firehose-likes")
	t.Setenv("FIREHOSE_APIREQUESTS_STREAM_NAME", "firehose-apirequests")

	cfg, err := LoadFromFile("")
	require.NoError(t, err)

	assert.Equal(t, "cdc-fanout", cfg.Pipeline.Name)
	assert.Equal(t, "dynamodb", cfg.Source.Type)
	assert.Equal(t, "firehose", cfg.Sink.Type)
	assert.Equal(t, "observed", cfg.Classifier.DeltaPolicy)
	assert.Equal(t, TargetConfig{Stream: "firehose-analytical", Quota: 500}, cfg.Targets["content"])
	assert.Equal(t, TargetConfig{Stream: "firehose-likes", Quota: 500}, cfg.Targets["engagement"])
	assert.Equal(t, TargetConfig{Stream: "firehose-apirequests", Quota: 500}, cfg.Targets["access_log"])
}

func TestPrefixedEnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, "config.json", `{
		"targets": {
			"content": {"stream": "analytical"},
			"engagement": {"stream": "likes"},
			"access_log": {"stream": "apirequests"}
		}
	}`)
	t.Setenv("DATAPIPE_TARGETS_ENGAGEMENT_STREAM", "likes-v2")
	t.Setenv("DATAPIPE_LOGGING_LEVEL", "warn")

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "likes-v2", cfg.Targets["engagement"].Stream)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadFromFileMissingStream(t *testing.T) {
	path := writeConfig(t, "config.json", `{
		"targets": {
			"content": {"stream": "analytical"},
			"engagement": {"stream": "likes"}
		}
	}`)

	_, err := LoadFromFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "targets.access_log.stream")
}

func TestLoadFromFileUnreadable(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	_, err = LoadFromFile(writeConfig(t, "broken.json", `{"pipeline": `))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Pipeline: PipelineConfig{Name: "p"},
			Targets:  map[string]TargetConfig{"content": {Stream: "a"}},
		}
	}

	cfg := valid()
	assert.NoError(t, cfg.Validate())

	cfg = valid()
	cfg.Pipeline.Name = ""
	assert.Error(t, cfg.Validate())

	cfg = valid()
	cfg.Targets = nil
	assert.Error(t, cfg.Validate())

	cfg = valid()
	cfg.Targets["content"] = TargetConfig{Stream: "a", Quota: -1}
	assert.Error(t, cfg.Validate())
}

// TestGetString tests the settings accessors
func TestGetString(t *testing.T) {
	sink := SinkConfig{
		Settings: map[string]interface{}{
			"url":        "nats://localhost:4222",
			"batch_size": float64(100),
			"retries":    "3",
			"enabled":    "true",
			"number":     123,
		},
	}

	assert.Equal(t, "nats://localhost:4222", sink.GetString("url"))
	assert.Empty(t, sink.GetString("number"))
	assert.Empty(t, sink.GetString("missing"))
	assert.Equal(t, 100, sink.GetInt("batch_size"))
	assert.Equal(t, 3, sink.GetInt("retries"))
	assert.Equal(t, 123, sink.GetInt("number"))
	assert.True(t, sink.GetBool("enabled"))
	assert.False(t, sink.GetBool("missing"))

	source := SourceConfig{Settings: map[string]interface{}{"window": 30, "bad": "soon"}}
	assert.Equal(t, 30*time.Second, source.GetDuration("window"))
	assert.Zero(t, source.GetDuration("bad"))
}
