package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the pipeline configuration
type Config struct {
	Pipeline   PipelineConfig          `mapstructure:"pipeline"`
	Source     SourceConfig            `mapstructure:"source"`
	Sink       SinkConfig              `mapstructure:"sink"`
	Classifier ClassifierConfig        `mapstructure:"classifier"`
	Targets    map[string]TargetConfig `mapstructure:"targets"`
	Metrics    MetricsConfig           `mapstructure:"metrics"`
	Logging    LoggingConfig           `mapstructure:"logging"`
}

// PipelineConfig contains pipeline-level settings
type PipelineConfig struct {
	Name             string `mapstructure:"name"`
	DrainConcurrency int    `mapstructure:"drain_concurrency"` // 0 drains every type in parallel
}

// SourceConfig contains source configuration
type SourceConfig struct {
	Type     string                 `mapstructure:"type"` // dynamodb, mongodb
	Settings map[string]interface{} `mapstructure:"settings"`
}

// SinkConfig contains sink configuration
type SinkConfig struct {
	Type     string                 `mapstructure:"type"` // firehose, postgresql, nats
	Settings map[string]interface{} `mapstructure:"settings"`
}

// ClassifierConfig contains event classification settings
type ClassifierConfig struct {
	Origin             string `mapstructure:"origin"`              // accepted event source, defaults per source type
	DiscriminatorField string `mapstructure:"discriminator_field"` // attribute naming the item type
	CounterField       string `mapstructure:"counter_field"`       // engagement counter attribute
	DeltaPolicy        string `mapstructure:"delta_policy"`        // observed or fixed
}

// TargetConfig binds a payload type to a delivery stream
type TargetConfig struct {
	Stream string `mapstructure:"stream"`
	Quota  int    `mapstructure:"quota"`
}

// MetricsConfig contains the metrics server settings
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// LoggingConfig contains logger settings
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// Environment variables the stream names were historically read from.
var legacyStreamEnv = map[string]string{
	"targets.content.stream":    "FIREHOSE_ANALYTICAL_STREAM_NAME",
	"targets.engagement.stream": "FIREHOSE_LIKES_STREAM_NAME",
	"targets.access_log.stream": "FIREHOSE_APIREQUESTS_STREAM_NAME",
}

// LoadFromFile loads configuration from a JSON (or YAML) file. An empty path
// loads defaults and environment overrides only. Environment variables use
// the DATAPIPE_ prefix, e.g. DATAPIPE_LOGGING_LEVEL.
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("pipeline.name", "cdc-fanout")
	v.SetDefault("pipeline.drain_concurrency", 0)
	v.SetDefault("source.type", "dynamodb")
	v.SetDefault("sink.type", "firehose")
	v.SetDefault("classifier.discriminator_field", "item-type")
	v.SetDefault("classifier.counter_field", "likes")
	v.SetDefault("classifier.delta_policy", "observed")
	v.SetDefault("targets.content.quota", 500)
	v.SetDefault("targets.engagement.quota", 500)
	v.SetDefault("targets.access_log.quota", 500)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.addr", ":9090")
	v.SetDefault("logging.level", "info")

	v.SetEnvPrefix("DATAPIPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyStreamEnv {
		if err := v.BindEnv(key, "DATAPIPE_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks the settings that do not depend on other components
func (c *Config) Validate() error {
	if c.Pipeline.Name == "" {
		return errors.New("pipeline.name is required")
	}
	if len(c.Targets) == 0 {
		return errors.New("at least one target is required")
	}
	for name, t := range c.Targets {
		if t.Stream == "" {
			return fmt.Errorf("targets.%s.stream is required", name)
		}
		if t.Quota < 0 {
			return fmt.Errorf("targets.%s.quota must not be negative", name)
		}
	}
	return nil
}

// GetString safely retrieves a string from settings
func (s SourceConfig) GetString(key string) string {
	return getString(s.Settings, key)
}

// GetString safely retrieves a string from settings
func (s SinkConfig) GetString(key string) string {
	return getString(s.Settings, key)
}

// GetBool safely retrieves a bool from settings
func (s SourceConfig) GetBool(key string) bool {
	return getBool(s.Settings, key)
}

// GetBool safely retrieves a bool from settings
func (s SinkConfig) GetBool(key string) bool {
	return getBool(s.Settings, key)
}

// GetInt safely retrieves an int from settings
func (s SourceConfig) GetInt(key string) int {
	return getInt(s.Settings, key)
}

// GetInt safely retrieves an int from settings
func (s SinkConfig) GetInt(key string) int {
	return getInt(s.Settings, key)
}

// GetDuration retrieves a duration given as a string ("60s") or seconds
func (s SourceConfig) GetDuration(key string) time.Duration {
	switch val := s.Settings[key].(type) {
	case string:
		d, err := time.ParseDuration(val)
		if err != nil {
			return 0
		}
		return d
	default:
		return time.Duration(getInt(s.Settings, key)) * time.Second
	}
}

func getString(settings map[string]interface{}, key string) string {
	if val, ok := settings[key].(string); ok {
		return val
	}
	return ""
}

func getBool(settings map[string]interface{}, key string) bool {
	switch val := settings[key].(type) {
	case bool:
		return val
	case string:
		b, _ := strconv.ParseBool(val)
		return b
	default:
		return false
	}
}

func getInt(settings map[string]interface{}, key string) int {
	switch val := settings[key].(type) {
	case int:
		return val
	case int64:
		return int(val)
	case float64:
		return int(val)
	case string:
		n, _ := strconv.Atoi(val)
		return n
	default:
		return 0
	}
}
