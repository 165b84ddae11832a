package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Path names the ingestion path a configuration is validated for.
type Path string

const (
	PathFile   Path = "file"
	PathStream Path = "stream"
)

// LoadMode selects how a flushed batch lands in the fact table.
type LoadMode string

const (
	LoadAppend   LoadMode = "append"
	LoadTruncate LoadMode = "truncate"
)

// PolicySentinel is the only supported unknown_dimension_policy.
const PolicySentinel = "map_to_sentinel"

// Config top-level struct
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Batch     BatchConfig     `yaml:"batch"`
	Retry     RetryConfig     `yaml:"retry"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// RedisConfig configures the shared dimension-key cache. An empty Addr
// disables the tier.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type KafkaConfig struct {
	Brokers         []string `yaml:"brokers"`
	Topic           string   `yaml:"topic"`
	GroupID         string   `yaml:"group_id"`
	DeadLetterTopic string   `yaml:"dead_letter_topic"`
}

// BatchConfig holds the dual-trigger batching options.
type BatchConfig struct {
	MaxBatchSize           int      `yaml:"max_batch_size"`
	MaxWaitSeconds         float64  `yaml:"max_wait_seconds"`
	LoadMode               LoadMode `yaml:"load_mode"`
	UnknownDimensionPolicy string   `yaml:"unknown_dimension_policy"`
}

// MaxWait converts MaxWaitSeconds to a duration.
func (b BatchConfig) MaxWait() time.Duration {
	return time.Duration(b.MaxWaitSeconds * float64(time.Second))
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Backoff     time.Duration `yaml:"backoff"`
	MaxBackoff  time.Duration `yaml:"max_backoff"`
}

type RateLimitConfig struct {
	RPS   int `yaml:"rps"`
	Burst int `yaml:"burst"`
}

// Default returns the configuration used when a field is left unset.
func Default() Config {
	return Config{
		Redis: RedisConfig{TTL: 24 * time.Hour},
		Kafka: KafkaConfig{GroupID: "gaming-ingest"},
		Batch: BatchConfig{
			MaxBatchSize:           100,
			MaxWaitSeconds:         30,
			LoadMode:               LoadAppend,
			UnknownDimensionPolicy: PolicySentinel,
		},
		Retry:     RetryConfig{MaxAttempts: 3, Backoff: 500 * time.Millisecond, MaxBackoff: 10 * time.Second},
		RateLimit: RateLimitConfig{RPS: 10, Burst: 20},
	}
}

// Load reads yaml file on top of Default.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &ConfigError{Field: path, Msg: err.Error()}
	}
	// override DSN password from env if present
	if pw := os.Getenv("POSTGRES_PASSWORD"); pw != "" {
		cfg.Postgres.DSN = cfg.Postgres.DSN + " password=" + pw
	}
	return &cfg, nil
}

// ConfigError is fatal at startup; no record is processed after one.
type ConfigError struct {
	Field string
	Msg   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Msg)
}

// Validate checks the batching options for the given ingestion path.
func (b BatchConfig) Validate(p Path) error {
	if b.MaxBatchSize <= 0 {
		return &ConfigError{Field: "batch.max_batch_size", Msg: "must be positive"}
	}
	if b.MaxWaitSeconds <= 0 {
		return &ConfigError{Field: "batch.max_wait_seconds", Msg: "must be positive"}
	}
	switch b.LoadMode {
	case LoadAppend:
	case LoadTruncate:
		if p == PathStream {
			return &ConfigError{Field: "batch.load_mode", Msg: "truncate would destroy in-flight stream data"}
		}
	default:
		return &ConfigError{Field: "batch.load_mode", Msg: fmt.Sprintf("unknown mode %q", b.LoadMode)}
	}
	if b.UnknownDimensionPolicy != PolicySentinel {
		return &ConfigError{
			Field: "batch.unknown_dimension_policy",
			Msg:   fmt.Sprintf("unsupported policy %q (only %s)", b.UnknownDimensionPolicy, PolicySentinel),
		}
	}
	return nil
}

// Validate checks the retry options.
func (r RetryConfig) Validate() error {
	if r.MaxAttempts <= 0 {
		return &ConfigError{Field: "retry.max_attempts", Msg: "must be positive"}
	}
	if r.Backoff < 0 || r.MaxBackoff < 0 {
		return &ConfigError{Field: "retry.backoff", Msg: "must not be negative"}
	}
	return nil
}
