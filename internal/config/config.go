// Package config provides configuration management for the submission dedup service.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// SSL mode constants for database connections.
const (
	// SSLModeDisable disables SSL (use only for local development).
	SSLModeDisable = "disable"
	// SSLModeRequire requires SSL but does not verify certificates.
	SSLModeRequire = "require"
	// SSLModeVerifyCA verifies the server certificate against a CA.
	SSLModeVerifyCA = "verify-ca"
	// SSLModeVerifyFull verifies the server certificate and hostname.
	SSLModeVerifyFull = "verify-full"
)

// Signature scope constants.
const (
	// ScopeCommunity restricts a signature to candidates in the submission's community.
	ScopeCommunity = "community"
	// ScopeGlobal compares a signature against every compatible archived record.
	ScopeGlobal = "global"
)

// Tracing exporter constants.
const (
	ExporterOTLP   = "otlp"
	ExporterStdout = "stdout"
)

// Config holds all configuration for the submission dedup service.
type Config struct {
	// Server contains HTTP server settings.
	Server ServerConfig `mapstructure:"server"`
	// Database contains PostgreSQL connection settings.
	Database DatabaseConfig `mapstructure:"database"`
	// Logging contains structured logging settings.
	Logging LoggingConfig `mapstructure:"logging"`
	// Metrics contains Prometheus metrics exposure settings.
	Metrics MetricsConfig `mapstructure:"metrics"`
	// Tracing contains OpenTelemetry distributed tracing settings.
	Tracing TracingConfig `mapstructure:"tracing"`
	// Kafka contains settings for the decision event publisher.
	Kafka KafkaConfig `mapstructure:"kafka"`
	// Dedup contains duplicate detection policy and similarity settings.
	Dedup DedupConfig `mapstructure:"dedup"`
	// Auth contains login and API token settings.
	Auth AuthConfig `mapstructure:"auth"`
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	// Host is the address to bind the server to (default: 0.0.0.0).
	Host string `mapstructure:"host"`
	// HTTPPort is the HTTP server port (default: 8080).
	HTTPPort int `mapstructure:"http_port"`
	// MetricsPort is the metrics server port (default: 9091).
	MetricsPort int `mapstructure:"metrics_port"`
	// ReadTimeout is the maximum duration for reading request body.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the maximum duration for writing response.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	// Host is the PostgreSQL server hostname.
	Host string `mapstructure:"host"`
	// Port is the PostgreSQL server port (default: 5432).
	Port int `mapstructure:"port"`
	// User is the database username.
	User string `mapstructure:"user"`
	// Password is the database password (loaded from SUBDEDUP_DATABASE_PASSWORD only).
	Password string `mapstructure:"-"`
	// Name is the database name.
	Name string `mapstructure:"name"`
	// SSLMode controls SSL connection security (require, verify-ca, verify-full, disable).
	// Default is "require". Use "disable" only for local development.
	SSLMode string `mapstructure:"ssl_mode"`
	// MaxConns is the maximum number of connections in the pool (default: 20).
	MaxConns int32 `mapstructure:"max_conns"`
	// MinConns is the minimum number of connections to keep open (default: 2).
	MinConns int32 `mapstructure:"min_conns"`
	// MaxConnLifetime is the maximum lifetime of a connection before it's closed.
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	// MaxConnIdleTime is the maximum time a connection can be idle before it's closed.
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	// HealthCheckPeriod is the interval between health checks of idle connections.
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	// ConnectTimeout is the maximum time to wait for a connection.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// MigrationPath is the path to migration files (relative or absolute).
	// Empty selects the migrations embedded in the binary.
	MigrationPath string `mapstructure:"migration_path"`
	// MigrationAutoRun enables automatic migration on startup (default: false).
	MigrationAutoRun bool `mapstructure:"migration_auto_run"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level (trace, debug, info, warn, error, fatal, panic).
	Level string `mapstructure:"level"`
	// Format is the log format (json, console).
	Format string `mapstructure:"format"`
	// Output is the log output destination (stdout, stderr, file path).
	Output string `mapstructure:"output"`
	// AddSource adds source file and line to log output.
	AddSource bool `mapstructure:"add_source"`
	// TimeFormat is the timestamp format.
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	// Enabled enables metrics collection and exposure.
	Enabled bool `mapstructure:"enabled"`
	// Path is the HTTP path for metrics endpoint.
	Path string `mapstructure:"path"`
	// Namespace prefixes every metric name.
	Namespace string `mapstructure:"namespace"`
}

// TracingConfig holds tracing configuration.
type TracingConfig struct {
	// Enabled enables distributed tracing.
	Enabled bool `mapstructure:"enabled"`
	// Exporter selects the span exporter (otlp, stdout).
	Exporter string `mapstructure:"exporter"`
	// Endpoint is the OTLP collector endpoint.
	Endpoint string `mapstructure:"endpoint"`
	// ServiceName is the service name for traces.
	ServiceName string `mapstructure:"service_name"`
	// SampleRate is the sampling rate (0.0 to 1.0).
	SampleRate float64 `mapstructure:"sample_rate"`
}

// KafkaConfig holds Kafka publisher settings for decision events.
type KafkaConfig struct {
	// Enabled controls whether Kafka publishing is active.
	Enabled bool `mapstructure:"enabled"`
	// Brokers is the list of Kafka broker addresses.
	Brokers []string `mapstructure:"brokers"`
	// Topic is the Kafka topic decision events are written to.
	Topic string `mapstructure:"topic"`
	// BatchSize is the maximum number of messages to batch before sending.
	BatchSize int `mapstructure:"batch_size"`
	// BatchTimeout is the maximum time to wait for a batch to fill before sending.
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	// WriteTimeout bounds a single write to the broker.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// QueueSize is the number of events buffered ahead of the broker.
	QueueSize int `mapstructure:"queue_size"`
}

// DedupConfig holds the detect-duplicate step policy.
type DedupConfig struct {
	// DetectableTypes lists entity types for which duplicate detection runs.
	DetectableTypes []string `mapstructure:"detectable_types"`
	// ExcludedTypes lists entity types that never run detection, even if detectable.
	ExcludedTypes []string `mapstructure:"excluded_types"`
	// CompatibleGroups lists groups of entity types that may match each other.
	// A type always matches itself.
	CompatibleGroups [][]string `mapstructure:"compatible_groups"`
	// Signatures lists the metadata signatures compared between records.
	Signatures []SignatureConfig `mapstructure:"signatures"`
	// SimilarityTimeout bounds a single similarity query.
	SimilarityTimeout time.Duration `mapstructure:"similarity_timeout"`
	// SimilarityRateLimit is the sustained similarity queries per second (0 disables limiting).
	SimilarityRateLimit float64 `mapstructure:"similarity_rate_limit"`
	// SimilarityBurst is the limiter burst size.
	SimilarityBurst int `mapstructure:"similarity_burst"`
}

// SignatureConfig describes one metadata signature.
type SignatureConfig struct {
	// Name identifies the signature in logs and metrics.
	Name string `mapstructure:"name"`
	// Fields are the metadata fields compared value by value. Any equal value matches.
	Fields []string `mapstructure:"fields"`
	// Scope is either "community" or "global".
	Scope string `mapstructure:"scope"`
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	// TokenTTL is the lifetime of tokens issued by the login endpoint.
	TokenTTL time.Duration `mapstructure:"token_ttl"`
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	params := url.Values{}
	params.Set("sslmode", c.SSLMode)
	if c.ConnectTimeout > 0 {
		params.Set("connect_timeout", fmt.Sprintf("%d", int(c.ConnectTimeout.Seconds())))
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?%s",
		url.QueryEscape(c.User),
		url.QueryEscape(c.Password),
		c.Host,
		c.Port,
		c.Name,
		params.Encode(),
	)
}

// HTTPAddress returns the HTTP server address.
func (c *ServerConfig) HTTPAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

// MetricsAddress returns the metrics server address.
func (c *ServerConfig) MetricsAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.MetricsPort)
}

// Load loads configuration from environment variables and config files.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("SUBDEDUP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/submission-dedup-service")

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we'll use env vars and defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	loadSecrets(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadSecrets populates secret fields exclusively from environment variables.
// These fields are tagged with mapstructure:"-" to prevent loading from config files.
func loadSecrets(cfg *Config) {
	cfg.Database.Password = os.Getenv("SUBDEDUP_DATABASE_PASSWORD")
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.metrics_port", 9091)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "subdedup")
	v.SetDefault("database.name", "submission_dedup")
	// Use SUBDEDUP_DATABASE_SSL_MODE=disable for local development.
	v.SetDefault("database.ssl_mode", SSLModeRequire)
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")
	v.SetDefault("database.health_check_period", "30s")
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.migration_path", "")
	v.SetDefault("database.migration_auto_run", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.namespace", "submission_dedup")

	// Tracing defaults
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.exporter", ExporterOTLP)
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.service_name", "submission-dedup-service")
	v.SetDefault("tracing.sample_rate", 0.1)

	// Kafka defaults
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "events.submission_dedup.decisions")
	v.SetDefault("kafka.batch_size", 1)
	v.SetDefault("kafka.batch_timeout", "10ms")
	v.SetDefault("kafka.write_timeout", "5s")
	v.SetDefault("kafka.queue_size", 256)

	// Dedup defaults
	v.SetDefault("dedup.detectable_types", []string{"Publication"})
	v.SetDefault("dedup.excluded_types", []string{"InstitutionPublication"})
	v.SetDefault("dedup.compatible_groups", [][]string{})
	v.SetDefault("dedup.signatures", []map[string]interface{}{
		{"name": "title", "fields": []string{"dc.title"}, "scope": ScopeCommunity},
		{"name": "doi", "fields": []string{"dc.identifier.doi"}, "scope": ScopeGlobal},
	})
	v.SetDefault("dedup.similarity_timeout", "5s")
	v.SetDefault("dedup.similarity_rate_limit", 50.0)
	v.SetDefault("dedup.similarity_burst", 100)

	// Auth defaults
	v.SetDefault("auth.token_ttl", "8h")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	// Validate server ports
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.Server.HTTPPort)
	}
	if c.Server.MetricsPort <= 0 || c.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", c.Server.MetricsPort)
	}

	// Validate database config
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return fmt.Errorf("invalid database port: %d", c.Database.Port)
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database name is required")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns (%d) must be >= min_conns (%d)", c.Database.MaxConns, c.Database.MinConns)
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	// Validate tracing config
	if c.Tracing.Enabled {
		switch c.Tracing.Exporter {
		case ExporterOTLP:
			if c.Tracing.Endpoint == "" {
				return fmt.Errorf("tracing endpoint is required when the otlp exporter is enabled")
			}
		case ExporterStdout:
		default:
			return fmt.Errorf("invalid tracing exporter: %s", c.Tracing.Exporter)
		}
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("tracing sample rate must be between 0 and 1")
	}

	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka brokers are required when kafka is enabled")
		}
		if c.Kafka.Topic == "" {
			return fmt.Errorf("kafka topic is required when kafka is enabled")
		}
	}

	return c.Dedup.Validate()
}

// Validate checks the detect-duplicate policy.
func (c *DedupConfig) Validate() error {
	if len(c.DetectableTypes) == 0 {
		return fmt.Errorf("dedup.detectable_types must not be empty")
	}
	if len(c.Signatures) == 0 {
		return fmt.Errorf("dedup.signatures must not be empty")
	}
	for i, sig := range c.Signatures {
		if sig.Name == "" {
			return fmt.Errorf("dedup.signatures[%d]: name is required", i)
		}
		if len(sig.Fields) == 0 {
			return fmt.Errorf("dedup.signatures[%d] (%s): at least one field is required", i, sig.Name)
		}
		if sig.Scope != ScopeCommunity && sig.Scope != ScopeGlobal {
			return fmt.Errorf("dedup.signatures[%d] (%s): invalid scope %q", i, sig.Name, sig.Scope)
		}
	}
	if c.SimilarityTimeout <= 0 {
		return fmt.Errorf("dedup.similarity_timeout must be positive")
	}
	if c.SimilarityRateLimit < 0 {
		return fmt.Errorf("dedup.similarity_rate_limit must not be negative")
	}
	if c.SimilarityRateLimit > 0 && c.SimilarityBurst <= 0 {
		return fmt.Errorf("dedup.similarity_burst must be positive when rate limiting is enabled")
	}
	return nil
}
