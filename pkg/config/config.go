// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Join, Search, Postgres, Kafka, Redis, Sink, etc.).
package config

import (
	"fmt"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	apperrors "github.com/Adithya-Monish-Kumar-K/set-similarity-search/pkg/errors"
)

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Join     JoinConfig     `yaml:"join"`
	Search   SearchConfig   `yaml:"search"`
	Postgres PostgresConfig `yaml:"postgres"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Sink     SinkConfig     `yaml:"sink"`
	Logging  LoggingConfig  `yaml:"logging"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	RequestTimeout  time.Duration `yaml:"requestTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// JoinConfig holds the similarity parameters and input handling shared by
// the batch join and the search service.
type JoinConfig struct {
	Measure        string  `yaml:"measure"`
	Threshold      float64 `yaml:"threshold"`
	Workers        int     `yaml:"workers"`
	ReversedTuples bool    `yaml:"reversedTuples"`
	SampleK        int     `yaml:"sampleK"`
	SampleSeed     int64   `yaml:"sampleSeed"`
	InputFormat    string  `yaml:"inputFormat"`
	ShingleSize    int     `yaml:"shingleSize"`
}

// SearchConfig controls the search service corpus and query limits.
type SearchConfig struct {
	CorpusPath   string `yaml:"corpusPath"`
	DefaultLimit int    `yaml:"defaultLimit"`
	MaxResults   int    `yaml:"maxResults"`
	QueryWorkers int    `yaml:"queryWorkers"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Brokers []string    `yaml:"brokers"`
	Topics  KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	Pairs string `yaml:"pairs"`
}

// RedisConfig holds Redis connection and caching parameters. LRUSize bounds
// the in-process cache used when Redis is unreachable.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
	LRUSize  int           `yaml:"lruSize"`
}

// SinkConfig selects where join results go.
type SinkConfig struct {
	Type      string `yaml:"type"`
	Path      string `yaml:"path"`
	BatchSize int    `yaml:"batchSize"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig controls span logging.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with sensible defaults for any
// missing values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// MeasureNames lists the accepted values of join.measure.
var MeasureNames = []string{"jaccard", "cosine", "containment", "containment_min"}

// Validate checks the values that would otherwise fail deep inside a join.
func (c *Config) Validate() error {
	if !slices.Contains(MeasureNames, strings.ToLower(strings.TrimSpace(c.Join.Measure))) {
		return fmt.Errorf("join.measure: %w: %q (supported: %s)",
			apperrors.ErrUnsupportedMeasure, c.Join.Measure, strings.Join(MeasureNames, ", "))
	}
	if t := c.Join.Threshold; math.IsNaN(t) || t < 0 || t > 1 {
		return fmt.Errorf("join.threshold: %w: %v is not in [0, 1]", apperrors.ErrThresholdOutOfRange, t)
	}
	switch c.Join.InputFormat {
	case "tuples", "text":
	default:
		return fmt.Errorf("%w: join.inputFormat must be tuples or text, got %q",
			apperrors.ErrInvalidInput, c.Join.InputFormat)
	}
	if c.Join.SampleK < 0 {
		return fmt.Errorf("%w: join.sampleK must not be negative", apperrors.ErrInvalidInput)
	}
	switch c.Sink.Type {
	case "csv", "kafka", "postgres":
	default:
		return fmt.Errorf("%w: sink.type must be csv, kafka or postgres, got %q",
			apperrors.ErrInvalidInput, c.Sink.Type)
	}
	if c.Search.DefaultLimit > c.Search.MaxResults {
		return fmt.Errorf("%w: search.defaultLimit %d exceeds search.maxResults %d",
			apperrors.ErrInvalidInput, c.Search.DefaultLimit, c.Search.MaxResults)
	}
	return nil
}

// defaultConfig returns a Config with defaults for local development.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			RequestTimeout:  10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Join: JoinConfig{
			Measure:     "jaccard",
			Threshold:   0.5,
			Workers:     4,
			SampleSeed:  42,
			InputFormat: "tuples",
			ShingleSize: 1,
		},
		Search: SearchConfig{
			DefaultLimit: 10,
			MaxResults:   100,
			QueryWorkers: 4,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "setsim",
			User:            "setsim",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers: []string{"localhost:9092"},
			Topics: KafkaTopics{
				Pairs: "similar-pairs",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 60 * time.Second,
			LRUSize:  4096,
		},
		Sink: SinkConfig{
			Type:      "csv",
			BatchSize: 500,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads SS_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SS_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("SS_JOIN_MEASURE"); v != "" {
		cfg.Join.Measure = v
	}
	if v := os.Getenv("SS_JOIN_THRESHOLD"); v != "" {
		if t, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Join.Threshold = t
		}
	}
	if v := os.Getenv("SS_JOIN_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Join.Workers = n
		}
	}
	if v := os.Getenv("SS_SEARCH_CORPUS_PATH"); v != "" {
		cfg.Search.CorpusPath = v
	}
	if v := os.Getenv("SS_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("SS_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("SS_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("SS_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("SS_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("SS_POSTGRES_SSLMODE"); v != "" {
		cfg.Postgres.SSLMode = v
	}
	if v := os.Getenv("SS_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("SS_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("SS_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("SS_SINK_TYPE"); v != "" {
		cfg.Sink.Type = v
	}
	if v := os.Getenv("SS_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SS_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
