package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/poglesbyg/tracseq2.0-sub001/internal/saga"
	pkgconfig "github.com/poglesbyg/tracseq2.0-sub001/pkg/config"
	"github.com/poglesbyg/tracseq2.0-sub001/pkg/database"
	"github.com/poglesbyg/tracseq2.0-sub001/pkg/httpclient"
	"github.com/poglesbyg/tracseq2.0-sub001/pkg/tracing"
)

// Persistence backends.
const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
	BackendNone     = "none"
)

// Event buses.
const (
	BusKafka = "kafka"
	BusSNS   = "sns"
	BusNone  = "none"
)

// Config holds all configuration for the saga coordinator.
type Config struct {
	ServiceName string `env:"SERVICE_NAME" envDefault:"saga-coordinator"`
	Version     string `env:"SERVICE_VERSION" envDefault:"0.1.0"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort            int `env:"COORDINATOR_HTTP_PORT" envDefault:"8090"`
	ShutdownTimeoutSecs int `env:"SHUTDOWN_TIMEOUT_SECONDS" envDefault:"30"`

	// Coordinator
	MaxConcurrentSagas    int `env:"SAGA_MAX_CONCURRENT" envDefault:"100"`
	DefaultTimeoutSecs    int `env:"SAGA_DEFAULT_TIMEOUT_SECONDS" envDefault:"300"`
	RetryMaxAttempts      int `env:"SAGA_RETRY_MAX_ATTEMPTS" envDefault:"3"`
	RetryInitialBackoffMs int `env:"SAGA_RETRY_INITIAL_BACKOFF_MS" envDefault:"100"`
	RetryMaxBackoffMs     int `env:"SAGA_RETRY_MAX_BACKOFF_MS" envDefault:"2000"`
	StepTimeoutSecs       int `env:"SAGA_STEP_TIMEOUT_SECONDS" envDefault:"30"`

	// Background cleanup. An interval of 0 disables it.
	CleanupIntervalMins int `env:"SAGA_CLEANUP_INTERVAL_MINUTES" envDefault:"60"`
	CleanupAgeHours     int `env:"SAGA_CLEANUP_AGE_HOURS" envDefault:"168"`

	// Persistence
	PersistenceBackend string `env:"PERSISTENCE_BACKEND" envDefault:"postgres"`

	// PostgreSQL
	PostgresHost string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser string `env:"POSTGRES_USER" envDefault:"tracseq"`
	PostgresPass string `env:"POSTGRES_PASSWORD" envDefault:"tracseq_secret"`
	PostgresDB   string `env:"SAGA_DB_NAME" envDefault:"tracseq_transactions"`
	PostgresSSL  string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`

	// Database pool
	DBMaxConns            int32 `env:"DB_MAX_CONNS" envDefault:"25"`
	DBMinConns            int32 `env:"DB_MIN_CONNS" envDefault:"5"`
	DBMaxConnLifetimeMins int   `env:"DB_MAX_CONN_LIFETIME_MINUTES" envDefault:"60"`
	DBMaxConnIdleTimeMins int   `env:"DB_MAX_CONN_IDLE_TIME_MINUTES" envDefault:"30"`

	// Slow query logging
	SlowQueryThresholdMs int `env:"LOG_SLOW_QUERY_MS" envDefault:"500"`

	// Redis status cache
	RedisEnabled      bool   `env:"REDIS_ENABLED" envDefault:"false"`
	RedisHost         string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort         int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword     string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB           int    `env:"REDIS_DB" envDefault:"0"`
	StatusCacheTTLSec int    `env:"STATUS_CACHE_TTL_SECONDS" envDefault:"30"`

	// Events
	EventBus     string   `env:"EVENT_BUS" envDefault:"kafka"`
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
	SNSTopicARN  string   `env:"SNS_TOPIC_ARN"`
	AWSRegion    string   `env:"AWS_REGION" envDefault:"us-east-1"`

	// Collaborator services called by workflow steps
	SampleServiceURL       string `env:"SAMPLE_SERVICE_URL" envDefault:"http://localhost:8081"`
	StorageServiceURL      string `env:"STORAGE_SERVICE_URL" envDefault:"http://localhost:8082"`
	NotificationServiceURL string `env:"NOTIFICATION_SERVICE_URL" envDefault:"http://localhost:8083"`
	SequencingServiceURL   string `env:"SEQUENCING_SERVICE_URL" envDefault:"http://localhost:8084"`

	// Circuit breaker settings for collaborator calls
	CBMaxRequests  uint32  `env:"CB_MAX_REQUESTS" envDefault:"1"`
	CBInterval     int     `env:"CB_INTERVAL_SECONDS" envDefault:"60"`
	CBTimeout      int     `env:"CB_TIMEOUT_SECONDS" envDefault:"30"`
	CBFailureRatio float64 `env:"CB_FAILURE_RATIO" envDefault:"0.5"`
	CBMinRequests  uint32  `env:"CB_MIN_REQUESTS" envDefault:"5"`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load coordinator config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.MaxConcurrentSagas < 1 {
		return fmt.Errorf("SAGA_MAX_CONCURRENT must be at least 1, got %d", c.MaxConcurrentSagas)
	}
	if c.DefaultTimeoutSecs < 1 {
		return fmt.Errorf("SAGA_DEFAULT_TIMEOUT_SECONDS must be at least 1, got %d", c.DefaultTimeoutSecs)
	}
	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("SAGA_RETRY_MAX_ATTEMPTS must be at least 1, got %d", c.RetryMaxAttempts)
	}
	if c.RetryInitialBackoffMs < 0 || c.RetryMaxBackoffMs < c.RetryInitialBackoffMs {
		return fmt.Errorf("invalid retry backoff: initial %dms, max %dms", c.RetryInitialBackoffMs, c.RetryMaxBackoffMs)
	}
	if c.CleanupIntervalMins < 0 {
		return fmt.Errorf("SAGA_CLEANUP_INTERVAL_MINUTES must not be negative")
	}
	if c.CleanupIntervalMins > 0 && c.CleanupAgeHours < 1 {
		return fmt.Errorf("SAGA_CLEANUP_AGE_HOURS must be at least 1 when cleanup is enabled")
	}

	switch c.PersistenceBackend {
	case BackendPostgres:
		if c.PostgresHost == "" {
			return fmt.Errorf("POSTGRES_HOST is required")
		}
		if c.PostgresUser == "" {
			return fmt.Errorf("POSTGRES_USER is required")
		}
	case BackendMemory, BackendNone:
	default:
		return fmt.Errorf("unknown PERSISTENCE_BACKEND %q (want postgres, memory or none)", c.PersistenceBackend)
	}

	switch c.EventBus {
	case BusKafka:
		if len(c.KafkaBrokers) == 0 {
			return fmt.Errorf("KAFKA_BROKERS is required")
		}
	case BusSNS:
		if c.SNSTopicARN == "" {
			return fmt.Errorf("SNS_TOPIC_ARN is required when EVENT_BUS=sns")
		}
	case BusNone:
	default:
		return fmt.Errorf("unknown EVENT_BUS %q (want kafka, sns or none)", c.EventBus)
	}

	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1.0 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0.0 and 1.0, got %f", c.OTELSampleRate)
	}

	for name, rawURL := range map[string]string{
		"SAMPLE_SERVICE_URL":       c.SampleServiceURL,
		"STORAGE_SERVICE_URL":      c.StorageServiceURL,
		"NOTIFICATION_SERVICE_URL": c.NotificationServiceURL,
		"SEQUENCING_SERVICE_URL":   c.SequencingServiceURL,
	} {
		if rawURL == "" {
			return fmt.Errorf("%s is required", name)
		}
		if _, err := url.ParseRequestURI(rawURL); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, rawURL, err)
		}
	}
	return nil
}

// Postgres returns the pool configuration.
func (c *Config) Postgres() database.PostgresConfig {
	return database.PostgresConfig{
		Host:            c.PostgresHost,
		Port:            c.PostgresPort,
		User:            c.PostgresUser,
		Password:        c.PostgresPass,
		DBName:          c.PostgresDB,
		SSLMode:         c.PostgresSSL,
		MaxConns:        c.DBMaxConns,
		MinConns:        c.DBMinConns,
		MaxConnLifetime: time.Duration(c.DBMaxConnLifetimeMins) * time.Minute,
		MaxConnIdleTime: time.Duration(c.DBMaxConnIdleTimeMins) * time.Minute,
	}
}

// Redis returns the status cache connection configuration.
func (c *Config) Redis() database.RedisConfig {
	return database.RedisConfig{
		Host:        c.RedisHost,
		Port:        c.RedisPort,
		Password:    c.RedisPassword,
		DB:          c.RedisDB,
		PoolSize:    10,
		DialTimeout: 5 * time.Second,
	}
}

// Tracing returns the tracer configuration.
func (c *Config) Tracing() tracing.Config {
	return tracing.Config{
		ServiceName:    c.ServiceName,
		ServiceVersion: c.Version,
		Environment:    c.Environment,
		OTLPEndpoint:   c.OTELEndpoint,
		SampleRate:     c.OTELSampleRate,
		Enabled:        c.OTELEnabled,
	}
}

// RetryPolicy returns the default step retry policy.
func (c *Config) RetryPolicy() saga.RetryPolicy {
	p := saga.DefaultRetryPolicy()
	p.MaxAttempts = c.RetryMaxAttempts
	p.InitialBackoff = time.Duration(c.RetryInitialBackoffMs) * time.Millisecond
	p.MaxBackoff = time.Duration(c.RetryMaxBackoffMs) * time.Millisecond
	return p
}

// CircuitBreaker returns the breaker configuration for collaborator calls.
func (c *Config) CircuitBreaker(name string) httpclient.CircuitBreakerConfig {
	return httpclient.CircuitBreakerConfig{
		Name:         name,
		MaxRequests:  c.CBMaxRequests,
		Interval:     time.Duration(c.CBInterval) * time.Second,
		Timeout:      time.Duration(c.CBTimeout) * time.Second,
		FailureRatio: c.CBFailureRatio,
		MinRequests:  c.CBMinRequests,
	}
}

// DefaultTimeout is the saga execution bound used when a request sets none.
func (c *Config) DefaultTimeout() time.Duration {
	return time.Duration(c.DefaultTimeoutSecs) * time.Second
}

// StepTimeout bounds each attempt of a workflow step.
func (c *Config) StepTimeout() time.Duration {
	return time.Duration(c.StepTimeoutSecs) * time.Second
}

// CleanupInterval is how often old sagas are removed; 0 disables cleanup.
func (c *Config) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupIntervalMins) * time.Minute
}

// StatusCacheTTL is how long a status projection stays in Redis.
func (c *Config) StatusCacheTTL() time.Duration {
	return time.Duration(c.StatusCacheTTLSec) * time.Second
}

// ShutdownTimeout bounds graceful shutdown.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSecs) * time.Second
}
