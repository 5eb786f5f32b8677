package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/vtreesearch/vtreesearch/internal/logger"
)

// Config holds all configuration for the vtreesearch service.
type Config struct {
	// APIPort is the port the submission/query HTTP surface listens on.
	APIPort string

	Postgres PostgresConfig
	Queue    QueueConfig
	Search   SearchConfig
	Filter   FilterConfig

	// Logging configuration
	Logging *logger.Config
}

// PostgresConfig holds connection and table settings for the node stores.
type PostgresConfig struct {
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SummaryTable     string
	PageTable        string
	EmbeddingDim     int
	PoolMin          int
	PoolMax          int
	ConnectTimeout   time.Duration
	StatementTimeout time.Duration
}

// DSN renders the connection string consumed by lib/pq.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s connect_timeout=%d sslmode=disable",
		p.Host, p.Port, p.User, p.Password, p.Database, int(p.ConnectTimeout.Seconds()),
	)
}

// QueueConfig holds Redis Streams queue control settings.
type QueueConfig struct {
	RedisURL        string
	StreamSearch    string
	StreamSearchDLQ string
	ConsumerGroup   string
	QueueMaxLen     int64
	QueueRejectAt   int64
	ResultTTL       time.Duration
	WorkerBlock     time.Duration
	// ModuleName tags every job record and stream message with the search
	// module's identity, distinguishing it from a sibling ingestion module
	// sharing the same Redis instance.
	ModuleName string
}

// SearchConfig holds engine/pipeline tuning settings.
type SearchConfig struct {
	WorkerConcurrency int
	MaxRetries        int
	RetryBaseMS       time.Duration
	RetryMaxMS        time.Duration
	EntryLimit        int
	PageLimit         int
}

// FilterConfig holds the relevance-filter HTTP client settings.
type FilterConfig struct {
	Enabled bool
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// LoadConfig loads configuration from environment variables with sensible defaults
func LoadConfig() (*Config, error) {
	cfg := &Config{
		APIPort: getEnv("API_PORT", "8080"),
		Postgres: PostgresConfig{
			Host:             getEnv("PG_HOST", "localhost"),
			Port:             getEnvAsInt("PG_PORT", 5432),
			User:             getEnv("PG_USER", "vtreesearch"),
			Password:         getEnv("PG_PASSWORD", ""),
			Database:         getEnv("PG_DATABASE", "vtreesearch"),
			SummaryTable:     getEnv("PG_SUMMARY_TABLE", "summary_nodes"),
			PageTable:        getEnv("PG_PAGE_TABLE", "page_nodes"),
			EmbeddingDim:     getEnvAsInt("PG_EMBEDDING_DIM", 1536),
			PoolMin:          getEnvAsInt("PG_POOL_MIN", 1),
			PoolMax:          getEnvAsInt("PG_POOL_MAX", 8),
			ConnectTimeout:   getEnvAsDuration("PG_CONNECT_TIMEOUT", 2*time.Second),
			StatementTimeout: getEnvAsDuration("PG_STATEMENT_TIMEOUT", 3*time.Second),
		},
		Queue: QueueConfig{
			RedisURL:        getEnv("REDIS_URL", "redis://localhost:6379"),
			StreamSearch:    getEnv("QUEUE_STREAM_SEARCH", "search:jobs"),
			StreamSearchDLQ: getEnv("QUEUE_STREAM_SEARCH_DLQ", "search:jobs:dlq"),
			ConsumerGroup:   getEnv("QUEUE_CONSUMER_GROUP", "vtree-search-group"),
			QueueMaxLen:     int64(getEnvAsInt("QUEUE_MAX_LEN", 200)),
			QueueRejectAt:   int64(getEnvAsInt("QUEUE_REJECT_AT", 180)),
			ResultTTL:       getEnvAsDuration("QUEUE_RESULT_TTL", 900*time.Second),
			WorkerBlock:     getEnvAsDuration("QUEUE_WORKER_BLOCK_MS", 1*time.Second),
			ModuleName:      getEnv("QUEUE_MODULE_NAME_SEARCH", "VtreeSearch"),
		},
		Search: SearchConfig{
			WorkerConcurrency: getEnvAsInt("SEARCH_WORKER_CONCURRENCY", 4),
			MaxRetries:        getEnvAsInt("SEARCH_MAX_RETRIES", 3),
			RetryBaseMS:       getEnvAsDuration("SEARCH_RETRY_BASE_MS", 200*time.Millisecond),
			RetryMaxMS:        getEnvAsDuration("SEARCH_RETRY_MAX_MS", 2*time.Second),
			EntryLimit:        getEnvAsInt("SEARCH_ENTRY_LIMIT", 3),
			PageLimit:         getEnvAsInt("SEARCH_PAGE_LIMIT", 50),
		},
		Filter: FilterConfig{
			Enabled: getEnvAsBool("FILTER_HTTP_ENABLED", true),
			BaseURL: getEnv("FILTER_HTTP_BASE_URL", "https://api.openai.com/v1"),
			APIKey:  getEnv("FILTER_HTTP_API_KEY", ""),
			Model:   getEnv("FILTER_HTTP_MODEL", "gpt-4o-mini"),
			Timeout: getEnvAsDuration("FILTER_HTTP_TIMEOUT", 15*time.Second),
		},
		Logging: loadLoggingConfig(),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.APIPort == "" {
		return fmt.Errorf("API_PORT cannot be empty")
	}
	if c.Postgres.Host == "" || c.Postgres.User == "" || c.Postgres.Database == "" {
		return fmt.Errorf("PG_HOST, PG_USER, and PG_DATABASE must be set")
	}
	if c.Postgres.EmbeddingDim < 1 {
		return fmt.Errorf("PG_EMBEDDING_DIM must be at least 1")
	}
	if c.Postgres.PoolMax < c.Postgres.PoolMin {
		return fmt.Errorf("PG_POOL_MAX must be at least PG_POOL_MIN")
	}
	if c.Queue.RedisURL == "" {
		return fmt.Errorf("REDIS_URL cannot be empty")
	}
	if c.Queue.ModuleName == "" {
		return fmt.Errorf("QUEUE_MODULE_NAME_SEARCH cannot be empty")
	}
	if c.Queue.QueueRejectAt > c.Queue.QueueMaxLen {
		return fmt.Errorf("QUEUE_REJECT_AT must be at most QUEUE_MAX_LEN")
	}
	if c.Search.WorkerConcurrency < 1 {
		return fmt.Errorf("SEARCH_WORKER_CONCURRENCY must be at least 1")
	}
	if c.Search.MaxRetries < 0 {
		return fmt.Errorf("SEARCH_MAX_RETRIES cannot be negative")
	}
	if c.Search.RetryMaxMS < c.Search.RetryBaseMS {
		return fmt.Errorf("SEARCH_RETRY_MAX_MS must be at least SEARCH_RETRY_BASE_MS")
	}
	if c.Search.EntryLimit < 1 || c.Search.PageLimit < 1 {
		return fmt.Errorf("SEARCH_ENTRY_LIMIT and SEARCH_PAGE_LIMIT must be at least 1")
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}
	return nil
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration retrieves an environment variable as a duration or returns a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsStringSlice retrieves an environment variable as a comma-separated list
func getEnvAsStringSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	parts := strings.Split(valueStr, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}

// loadLoggingConfig loads logging configuration from environment variables
func loadLoggingConfig() *logger.Config {
	cfg := logger.DefaultConfig()

	// Global settings
	if level := getEnv("LOG_LEVEL", ""); level != "" {
		cfg.Level = logger.LogLevel(level)
	}
	if format := getEnv("LOG_FORMAT", ""); format != "" {
		cfg.Format = logger.LogFormat(format)
	}

	// Tier 1: Console
	cfg.Console.Enabled = getEnvAsBool("LOG_CONSOLE_ENABLED", true)
	cfg.Console.Color = getEnvAsBool("LOG_COLOR", true)
	cfg.Console.BufferSize = getEnvAsInt("LOG_CONSOLE_BUFFER_SIZE", 65536)
	cfg.Console.FlushInterval = getEnvAsDuration("LOG_CONSOLE_FLUSH_INTERVAL", 100*time.Millisecond)

	// Tier 2: File
	cfg.File.Enabled = getEnvAsBool("LOG_FILE_ENABLED", false)
	cfg.File.Path = getEnv("LOG_FILE_PATH", "/var/log/vtreesearch/vtreesearch.log")
	cfg.File.MaxSizeMB = getEnvAsInt("LOG_FILE_MAX_SIZE_MB", 100)
	cfg.File.MaxBackups = getEnvAsInt("LOG_FILE_MAX_BACKUPS", 5)
	cfg.File.MaxAgeDays = getEnvAsInt("LOG_FILE_MAX_AGE_DAYS", 30)
	cfg.File.Compress = getEnvAsBool("LOG_FILE_COMPRESS", true)
	cfg.File.BufferSize = getEnvAsInt("LOG_FILE_BUFFER_SIZE", 10000)
	cfg.File.BatchSize = getEnvAsInt("LOG_FILE_BATCH_SIZE", 100)
	cfg.File.BatchInterval = getEnvAsDuration("LOG_FILE_BATCH_INTERVAL", 100*time.Millisecond)

	// Tier 3: Elasticsearch
	cfg.Elasticsearch.Enabled = getEnvAsBool("LOG_ES_ENABLED", false)
	cfg.Elasticsearch.Mode = getEnv("LOG_ES_MODE", "self-managed")

	// Self-managed mode
	cfg.Elasticsearch.Addresses = getEnvAsStringSlice("LOG_ES_ADDRESSES", []string{"http://localhost:9200"})
	cfg.Elasticsearch.Username = getEnv("LOG_ES_USERNAME", "")
	cfg.Elasticsearch.Password = getEnv("LOG_ES_PASSWORD", "")

	// Cloud mode
	cfg.Elasticsearch.CloudID = getEnv("LOG_ES_CLOUD_ID", "")
	cfg.Elasticsearch.APIKey = getEnv("LOG_ES_API_KEY", "")

	// Common ES settings
	cfg.Elasticsearch.IndexPrefix = getEnv("LOG_ES_INDEX_PREFIX", "vtreesearch-logs")
	cfg.Elasticsearch.BulkSize = getEnvAsInt("LOG_ES_BULK_SIZE", 100)
	cfg.Elasticsearch.FlushInterval = getEnvAsDuration("LOG_ES_FLUSH_INTERVAL", 5*time.Second)
	cfg.Elasticsearch.Workers = getEnvAsInt("LOG_ES_WORKERS", 2)
	cfg.Elasticsearch.MaxRetries = getEnvAsInt("LOG_ES_MAX_RETRIES", 3)
	cfg.Elasticsearch.RetryBackoff = getEnvAsDuration("LOG_ES_RETRY_BACKOFF", 1*time.Second)
	cfg.Elasticsearch.CircuitBreaker = getEnvAsBool("LOG_ES_CIRCUIT_BREAKER", true)
	cfg.Elasticsearch.FailureThreshold = getEnvAsInt("LOG_ES_FAILURE_THRESHOLD", 5)
	cfg.Elasticsearch.ResetTimeout = getEnvAsDuration("LOG_ES_RESET_TIMEOUT", 30*time.Second)

	return cfg
}
