// Package config loads process configuration from CONTENTSYNC_* environment
// variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"contentsync/internal/trigger"
)

const envPrefix = "CONTENTSYNC_"

// Backends a trigger can subscribe through.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendKafka    = "kafka"
)

// Config is the full process configuration.
type Config struct {
	Backend  string         `env:"BACKEND" envDefault:"memory"`
	Server   Server         `envPrefix:"ADMIN_"`
	Trigger  TriggerConfig  `envPrefix:"TRIGGER_"`
	Log      LogConfig      `envPrefix:"LOG_"`
	OTel     OTelConfig     `envPrefix:"OTEL_"`
	Redis    RedisConfig    `envPrefix:"REDIS_"`
	Postgres PostgresConfig `envPrefix:"POSTGRES_"`
	Kafka    KafkaConfig    `envPrefix:"KAFKA_"`
}

// Server captures admin HTTP server configuration.
type Server struct {
	Addr            string        `env:"ADDR" envDefault:":8080"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	// Token required in X-Admin-Token for POST /events. Empty disables the
	// endpoint.
	Token string `env:"TOKEN"`
}

// TriggerConfig scopes the replication trigger.
type TriggerConfig struct {
	Path            string            `env:"PATH" envDefault:"/content"`
	ServiceID       string            `env:"SERVICE_ID" envDefault:"replication-service"`
	HandlerID       string            `env:"HANDLER_ID" envDefault:"replication-agent"`
	EventTypes      trigger.EventType `env:"EVENT_TYPES"`
	Shallow         bool              `env:"SHALLOW"`
	ReplaceExisting bool              `env:"REPLACE_EXISTING"`
	ExcludedPaths   []string          `env:"EXCLUDED_PATHS" envSeparator:","`
	IgnoredPaths    []string          `env:"IGNORED_PATHS" envSeparator:","`
}

type LogConfig struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Format string `env:"FORMAT" envDefault:"json"`
}

// OTelConfig enables trace export when Endpoint is set.
type OTelConfig struct {
	Endpoint    string `env:"ENDPOINT"`
	ServiceName string `env:"SERVICE_NAME" envDefault:"contentsync"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	URL          string        `env:"URL"`
	Channel      string        `env:"CHANNEL" envDefault:"contentsync:changes"`
	PoolSize     int           `env:"POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"MIN_IDLE_CONNS" envDefault:"2"`
	DialTimeout  time.Duration `env:"DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT" envDefault:"3s"`
}

type PostgresConfig struct {
	DSN                  string        `env:"DSN"`
	Channel              string        `env:"CHANNEL" envDefault:"content_changes"`
	MinReconnectInterval time.Duration `env:"MIN_RECONNECT_INTERVAL" envDefault:"10s"`
	MaxReconnectInterval time.Duration `env:"MAX_RECONNECT_INTERVAL" envDefault:"1m"`
}

// KafkaConfig configures the change topic consumer and the optional request
// topic. Requests are only logged when RequestsTopic is empty.
type KafkaConfig struct {
	Brokers           []string `env:"BROKERS" envSeparator:","`
	ChangesTopic      string   `env:"CHANGES_TOPIC" envDefault:"content.changes"`
	RequestsTopic     string   `env:"REQUESTS_TOPIC"`
	EnsureTopics      bool     `env:"ENSURE_TOPICS" envDefault:"true"`
	Partitions        int32    `env:"PARTITIONS" envDefault:"1"`
	ReplicationFactor int16    `env:"REPLICATION_FACTOR" envDefault:"1"`

	// Consecutive produce failures that open the request handler circuit,
	// and how long it stays open.
	BreakerThreshold int           `env:"BREAKER_THRESHOLD" envDefault:"5"`
	BreakerCooldown  time.Duration `env:"BREAKER_COOLDOWN" envDefault:"30s"`
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: envPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the selected backend has what it needs.
func (c Config) Validate() error {
	var errs []error
	if !strings.HasPrefix(c.Trigger.Path, "/") {
		errs = append(errs, fmt.Errorf("trigger path must be absolute, got %q", c.Trigger.Path))
	}
	if strings.TrimSpace(c.Trigger.ServiceID) == "" {
		errs = append(errs, errors.New("trigger service id is required"))
	}
	if strings.TrimSpace(c.Trigger.HandlerID) == "" {
		errs = append(errs, errors.New("trigger handler id is required"))
	}

	switch c.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("redis backend requires CONTENTSYNC_REDIS_URL"))
		}
	case BackendPostgres:
		if c.Postgres.DSN == "" {
			errs = append(errs, errors.New("postgres backend requires CONTENTSYNC_POSTGRES_DSN"))
		}
	case BackendKafka:
		if len(c.Kafka.Brokers) == 0 {
			errs = append(errs, errors.New("kafka backend requires CONTENTSYNC_KAFKA_BROKERS"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q", c.Backend))
	}

	if c.Kafka.RequestsTopic != "" && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("requests topic requires CONTENTSYNC_KAFKA_BROKERS"))
	}
	return errors.Join(errs...)
}
