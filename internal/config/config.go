// Package config loads service configuration from an optional YAML file and
// environment variables. Environment variables take precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"

	"json-validator-service/internal/stage"
)

// Configuration is the complete service configuration.
type Configuration struct {
	Service       ServiceConfig       `yaml:"service"`
	Stage         StageConfig         `yaml:"stage"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServiceConfig holds process-level settings.
type ServiceConfig struct {
	Principal string `yaml:"principal"`
	GRPCPort  string `yaml:"grpcPort"`
	HTTPAddr  string `yaml:"httpAddr"`
}

// StageConfig holds validation stage settings.
type StageConfig struct {
	Name             string `yaml:"name"`
	SchemaReference  string `yaml:"schemaReference"`
	SchemaDir        string `yaml:"schemaDir"`
	Workers          int    `yaml:"workers"`
	UnreadablePolicy string `yaml:"unreadablePolicy"`
	WatchSchema      bool   `yaml:"watchSchema"`

	// Environment only.
	PollInterval   time.Duration `yaml:"-"`
	ReloadDebounce time.Duration `yaml:"-"`
}

// KafkaConfig holds Kafka settings.
type KafkaConfig struct {
	Enabled         bool     `yaml:"enabled"`
	Brokers         []string `yaml:"brokers"`
	InputTopic      string   `yaml:"inputTopic"`
	GroupID         string   `yaml:"groupId"`
	TopicValid      string   `yaml:"topicValid"`
	TopicInvalid    string   `yaml:"topicInvalid"`
	TopicProvenance string   `yaml:"topicProvenance"`
	Principal       string   `yaml:"principal"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel  string `yaml:"logLevel"`
	LogFormat string `yaml:"logFormat"`
}

// Default returns the built-in defaults.
func Default() *Configuration {
	return &Configuration{
		Service: ServiceConfig{
			Principal: "svc-json-validator",
			GRPCPort:  "50051",
			HTTPAddr:  ":8080",
		},
		Stage: StageConfig{
			Name:             "JsonValidator",
			Workers:          4,
			UnreadablePolicy: string(stage.UnreadableFail),
			WatchSchema:      true,
			PollInterval:     100 * time.Millisecond,
			ReloadDebounce:   250 * time.Millisecond,
		},
		Kafka: KafkaConfig{
			Enabled:         false,
			Brokers:         []string{"localhost:9092"},
			InputTopic:      "documents",
			GroupID:         "json-validator",
			TopicValid:      "documents.valid",
			TopicInvalid:    "documents.invalid",
			TopicProvenance: "documents.provenance",
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
		},
	}
}

// Load builds the configuration: defaults, then the YAML file named by
// CONFIG_FILE if set, then environment variables.
func Load() (*Configuration, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := cfg.decode(data); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// decode overlays YAML data on cfg. Unknown keys are rejected.
func (cfg *Configuration) decode(data []byte) error {
	return yaml.UnmarshalWithOptions(data, cfg, yaml.Strict())
}

func (cfg *Configuration) applyEnv() {
	cfg.Service.Principal = envOrDefault("SERVICE_PRINCIPAL", cfg.Service.Principal)
	cfg.Service.GRPCPort = envOrDefault("GRPC_PORT", cfg.Service.GRPCPort)
	cfg.Service.HTTPAddr = envOrDefault("HTTP_ADDR", cfg.Service.HTTPAddr)

	cfg.Stage.Name = envOrDefault("STAGE_NAME", cfg.Stage.Name)
	cfg.Stage.SchemaReference = envOrDefault("STAGE_SCHEMA_REFERENCE", cfg.Stage.SchemaReference)
	cfg.Stage.SchemaDir = envOrDefault("STAGE_SCHEMA_DIR", cfg.Stage.SchemaDir)
	cfg.Stage.Workers = envOrDefaultInt("STAGE_WORKERS", cfg.Stage.Workers)
	cfg.Stage.UnreadablePolicy = envOrDefault("STAGE_UNREADABLE_POLICY", cfg.Stage.UnreadablePolicy)
	cfg.Stage.WatchSchema = envOrDefaultBool("STAGE_WATCH_SCHEMA", cfg.Stage.WatchSchema)
	cfg.Stage.PollInterval = envOrDefaultDuration("STAGE_POLL_INTERVAL", cfg.Stage.PollInterval)
	cfg.Stage.ReloadDebounce = envOrDefaultDuration("STAGE_RELOAD_DEBOUNCE", cfg.Stage.ReloadDebounce)

	cfg.Kafka.Enabled = envOrDefaultBool("KAFKA_ENABLED", cfg.Kafka.Enabled)
	cfg.Kafka.Brokers = envOrDefaultList("KAFKA_BROKERS", cfg.Kafka.Brokers)
	cfg.Kafka.InputTopic = envOrDefault("KAFKA_TOPIC_INPUT", cfg.Kafka.InputTopic)
	cfg.Kafka.GroupID = envOrDefault("KAFKA_GROUP_ID", cfg.Kafka.GroupID)
	cfg.Kafka.TopicValid = envOrDefault("KAFKA_TOPIC_VALID", cfg.Kafka.TopicValid)
	cfg.Kafka.TopicInvalid = envOrDefault("KAFKA_TOPIC_INVALID", cfg.Kafka.TopicInvalid)
	cfg.Kafka.TopicProvenance = envOrDefault("KAFKA_TOPIC_PROVENANCE", cfg.Kafka.TopicProvenance)
	cfg.Kafka.Principal = envOrDefault("KAFKA_PRINCIPAL", cfg.Kafka.Principal)
	if cfg.Kafka.Principal == "" {
		cfg.Kafka.Principal = cfg.Service.Principal
	}

	cfg.Observability.LogLevel = envOrDefault("LOG_LEVEL", cfg.Observability.LogLevel)
	cfg.Observability.LogFormat = envOrDefault("LOG_FORMAT", cfg.Observability.LogFormat)
}

// Validate reports every invalid setting.
func (cfg *Configuration) Validate() error {
	var errs []error

	if strings.TrimSpace(cfg.Stage.SchemaReference) == "" {
		errs = append(errs, errors.New("stage.schemaReference is required"))
	}
	if cfg.Stage.Workers < 1 {
		errs = append(errs, fmt.Errorf("stage.workers must be positive, got %d", cfg.Stage.Workers))
	}
	if _, err := stage.ParseUnreadablePolicy(cfg.Stage.UnreadablePolicy); err != nil {
		errs = append(errs, fmt.Errorf("stage.unreadablePolicy: %w", err))
	}
	if cfg.Kafka.Enabled {
		if len(cfg.Kafka.Brokers) == 0 {
			errs = append(errs, errors.New("kafka.brokers is required when kafka is enabled"))
		}
		if cfg.Kafka.InputTopic == "" {
			errs = append(errs, errors.New("kafka.inputTopic is required when kafka is enabled"))
		}
	}

	return errors.Join(errs...)
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// envOrDefaultList splits a comma-separated value, dropping empty entries.
func envOrDefaultList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
