// Package config provides configuration management for the recommendation service.
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

// EnvPrefix prefixes every environment variable the service reads.
const EnvPrefix = "SPOTON"

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

// Config holds all configuration for the recommendation service.
type Config struct {
	// Server contains HTTP/gRPC server settings.
	Server ServerConfig `mapstructure:"server"`
	// Database contains PostgreSQL connection settings.
	Database DatabaseConfig `mapstructure:"database"`
	// Logging contains structured logging settings.
	Logging LoggingConfig `mapstructure:"logging"`
	// Metrics contains Prometheus metrics exposure settings.
	Metrics MetricsConfig `mapstructure:"metrics"`
	// LLM contains language-model client settings.
	LLM LLMConfig `mapstructure:"llm"`
	// Search contains search and extraction provider settings.
	Search SearchConfig `mapstructure:"search"`
	// Kafka contains event fan-out and remote control settings.
	Kafka KafkaConfig `mapstructure:"kafka"`
	// Workflow contains executor and recommendation graph settings.
	Workflow WorkflowConfig `mapstructure:"workflow"`
	// Stream contains server-sent event stream settings.
	Stream StreamConfig `mapstructure:"stream"`
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	// Host is the address to bind the server to (default: 0.0.0.0).
	Host string `mapstructure:"host"`
	// HTTPPort is the HTTP server port (default: 8080).
	HTTPPort int `mapstructure:"http_port"`
	// GRPCPort is the gRPC health server port (default: 9090).
	GRPCPort int `mapstructure:"grpc_port"`
	// MetricsPort is the metrics server port (default: 9091).
	MetricsPort int `mapstructure:"metrics_port"`
	// ReadTimeout is the maximum duration for reading request body.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the maximum duration for writing a non-streaming response.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// CORSOrigins lists origins allowed to call the API. Empty disables CORS.
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	// Host is the PostgreSQL server hostname.
	Host string `mapstructure:"host"`
	// Port is the PostgreSQL server port (default: 5432).
	Port int `mapstructure:"port"`
	// User is the database username.
	User string `mapstructure:"user"`
	// Password is the database password (use environment variable in production).
	Password string `mapstructure:"password"`
	// Name is the database name.
	Name string `mapstructure:"name"`
	// SSLMode controls SSL connection security (require, verify-ca, verify-full, disable).
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
	MigrationPath string `mapstructure:"migration_path"`
	// MigrationAutoRun applies pending migrations on startup (default: false).
	MigrationAutoRun bool `mapstructure:"migration_auto_run"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level (trace, debug, info, warn, error, fatal, panic).
	Level string `mapstructure:"level"`
	// Format is the log format (json, console).
	Format string `mapstructure:"format"`
	// Output is the log output destination (stdout, stderr).
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

// LLMConfig holds LLM client configuration.
type LLMConfig struct {
	// Provider is the LLM provider (openai, anthropic).
	Provider string `mapstructure:"provider"`
	// Timeout is the timeout for one LLM API call.
	Timeout time.Duration `mapstructure:"timeout"`
	// MaxRetries is the maximum number of retries for failed calls.
	MaxRetries int `mapstructure:"max_retries"`
	// Temperature is the LLM temperature setting.
	Temperature float64 `mapstructure:"temperature"`
	// OpenAI contains OpenAI-specific settings.
	OpenAI ProviderConfig `mapstructure:"openai"`
	// Anthropic contains Anthropic-specific settings.
	Anthropic ProviderConfig `mapstructure:"anthropic"`
}

// ProviderConfig holds the settings of one LLM provider.
type ProviderConfig struct {
	// APIKey is loaded from SPOTON_LLM_<PROVIDER>_API_KEY only.
	APIKey string `mapstructure:"-"`
	// Model is the model identifier.
	Model string `mapstructure:"model"`
	// BaseURL is the API base URL (for custom endpoints).
	BaseURL string `mapstructure:"base_url"`
}

// SearchConfig holds search provider settings.
type SearchConfig struct {
	// APIKey is loaded from SPOTON_SEARCH_API_KEY only.
	APIKey string `mapstructure:"-"`
	// BaseURL is the search API base URL.
	BaseURL string `mapstructure:"base_url"`
	// SearchTimeout bounds one search call.
	SearchTimeout time.Duration `mapstructure:"search_timeout"`
	// ExtractTimeout bounds one extraction call.
	ExtractTimeout time.Duration `mapstructure:"extract_timeout"`
	// RateLimit is the maximum requests per second.
	RateLimit float64 `mapstructure:"rate_limit"`
	// BurstSize is the rate limiter burst.
	BurstSize int `mapstructure:"burst_size"`
	// MaxRetries is the number of HTTP level retries.
	MaxRetries int `mapstructure:"max_retries"`
	// RetryDelay is the base delay between retries.
	RetryDelay time.Duration `mapstructure:"retry_delay"`
	// Concurrency caps concurrent queries per search node.
	Concurrency int `mapstructure:"concurrency"`
}

// KafkaConfig holds Kafka settings.
type KafkaConfig struct {
	// Enabled controls whether events are published and control commands consumed.
	Enabled bool `mapstructure:"enabled"`
	// Brokers is the list of Kafka broker addresses.
	Brokers []string `mapstructure:"brokers"`
	// EventTopic receives run and node events.
	EventTopic string `mapstructure:"event_topic"`
	// ControlTopic carries run control commands such as cancel.
	ControlTopic string `mapstructure:"control_topic"`
	// GroupID is the consumer group of the control listener.
	GroupID string `mapstructure:"group_id"`
	// BatchSize is the maximum number of messages to batch before sending.
	BatchSize int `mapstructure:"batch_size"`
	// BatchTimeout is the maximum time to wait for a batch to fill before sending.
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

// WorkflowConfig holds executor and graph settings.
type WorkflowConfig struct {
	// PoolSize is the number of workers shared by all node invocations.
	PoolSize int `mapstructure:"pool_size"`
	// MaxSteps bounds node launches per run.
	MaxSteps int `mapstructure:"max_steps"`
	// RunTimeout bounds a whole run.
	RunTimeout time.Duration `mapstructure:"run_timeout"`
	// GapThreshold ends the enrichment loop once the gap ratio is at or below it.
	GapThreshold float64 `mapstructure:"gap_threshold"`
	// MaxPasses caps enrichment passes.
	MaxPasses int `mapstructure:"max_passes"`
	// EnrichBatchSize is the number of URLs extracted per pass.
	EnrichBatchSize int `mapstructure:"enrich_batch_size"`
	// EnrichContentLimit truncates extracted pages before parsing.
	EnrichContentLimit int `mapstructure:"enrich_content_limit"`
	// SearchRetries is the number of node level retries of search nodes.
	SearchRetries int `mapstructure:"search_retries"`
	// Timeouts bounds one attempt of each node.
	Timeouts NodeTimeouts `mapstructure:"timeouts"`
}

// NodeTimeouts holds per-node attempt timeouts.
type NodeTimeouts struct {
	Parse       time.Duration `mapstructure:"parse"`
	Restaurants time.Duration `mapstructure:"restaurants"`
	Attractions time.Duration `mapstructure:"attractions"`
	Hotels      time.Duration `mapstructure:"hotels"`
	Transport   time.Duration `mapstructure:"transport"`
	Normalize   time.Duration `mapstructure:"normalize"`
	Enrich      time.Duration `mapstructure:"enrich"`
	Report      time.Duration `mapstructure:"report"`
}

// StreamConfig holds SSE stream settings.
type StreamConfig struct {
	// PollInterval is how often the stream polls for new events.
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// IdleTimeout ends a stream for a terminal run after no new events.
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
	// MaxDuration bounds a single stream connection.
	MaxDuration time.Duration `mapstructure:"max_duration"`
	// Heartbeat is the interval between keep-alive comments.
	Heartbeat time.Duration `mapstructure:"heartbeat"`
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

// GRPCAddress returns the gRPC server address.
func (c *ServerConfig) GRPCAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.GRPCPort)
}

// MetricsAddress returns the metrics server address.
func (c *ServerConfig) MetricsAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.MetricsPort)
}

// Load loads configuration from environment variables and config files.
func Load() (*Config, error) {
	cfg, err := read()
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadDatabase loads configuration and validates only the database section.
// Tools that never call providers use it so they run without API keys.
func LoadDatabase() (*DatabaseConfig, error) {
	cfg, err := read()
	if err != nil {
		return nil, err
	}

	if err := cfg.Database.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg.Database, nil
}

func read() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/spoton")

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
	return &cfg, nil
}

// loadSecrets populates secret fields exclusively from environment variables.
// These fields are tagged with mapstructure:"-" to prevent loading from config files.
func loadSecrets(cfg *Config) {
	cfg.LLM.OpenAI.APIKey = os.Getenv(EnvPrefix + "_LLM_OPENAI_API_KEY")
	cfg.LLM.Anthropic.APIKey = os.Getenv(EnvPrefix + "_LLM_ANTHROPIC_API_KEY")
	cfg.Search.APIKey = os.Getenv(EnvPrefix + "_SEARCH_API_KEY")
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.grpc_port", 9090)
	v.SetDefault("server.metrics_port", 9091)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.cors_origins", []string{})

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "spoton")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "spoton")
	// Use SPOTON_DATABASE_SSL_MODE=disable for local development.
	v.SetDefault("database.ssl_mode", SSLModeRequire)
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")
	v.SetDefault("database.health_check_period", "30s")
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.migration_path", "migrations")
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
	v.SetDefault("metrics.namespace", "spoton")

	// LLM defaults. API keys come from the environment (see loadSecrets).
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.timeout", "60s")
	v.SetDefault("llm.max_retries", 2)
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.openai.model", "gpt-5-nano")
	v.SetDefault("llm.openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.anthropic.model", "claude-haiku-4-5")
	v.SetDefault("llm.anthropic.base_url", "https://api.anthropic.com")

	// Search defaults
	v.SetDefault("search.base_url", "https://api.tavily.com")
	v.SetDefault("search.search_timeout", "10s")
	v.SetDefault("search.extract_timeout", "30s")
	v.SetDefault("search.rate_limit", 5.0)
	v.SetDefault("search.burst_size", 10)
	v.SetDefault("search.max_retries", 2)
	v.SetDefault("search.retry_delay", "500ms")
	v.SetDefault("search.concurrency", 4)

	// Kafka defaults
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.event_topic", "spoton.run-events")
	v.SetDefault("kafka.control_topic", "spoton.run-control")
	v.SetDefault("kafka.group_id", "spoton-recommendation-service")
	v.SetDefault("kafka.batch_size", 100)
	v.SetDefault("kafka.batch_timeout", "10ms")

	// Workflow defaults
	v.SetDefault("workflow.pool_size", 64)
	v.SetDefault("workflow.max_steps", 50)
	v.SetDefault("workflow.run_timeout", "180s")
	v.SetDefault("workflow.gap_threshold", 0.5)
	v.SetDefault("workflow.max_passes", 2)
	v.SetDefault("workflow.enrich_batch_size", 5)
	v.SetDefault("workflow.enrich_content_limit", 5000)
	v.SetDefault("workflow.search_retries", 1)
	v.SetDefault("workflow.timeouts.parse", "30s")
	v.SetDefault("workflow.timeouts.restaurants", "30s")
	v.SetDefault("workflow.timeouts.attractions", "30s")
	v.SetDefault("workflow.timeouts.hotels", "30s")
	v.SetDefault("workflow.timeouts.transport", "40s")
	v.SetDefault("workflow.timeouts.normalize", "60s")
	v.SetDefault("workflow.timeouts.enrich", "45s")
	v.SetDefault("workflow.timeouts.report", "60s")

	// Stream defaults
	v.SetDefault("stream.poll_interval", "1s")
	v.SetDefault("stream.idle_timeout", "3s")
	v.SetDefault("stream.max_duration", "10m")
	v.SetDefault("stream.heartbeat", "15s")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	// Validate server ports
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.Server.HTTPPort)
	}
	if c.Server.GRPCPort <= 0 || c.Server.GRPCPort > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.Server.GRPCPort)
	}
	if c.Server.MetricsPort <= 0 || c.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", c.Server.MetricsPort)
	}

	if err := c.Database.Validate(); err != nil {
		return err
	}

	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	// Validate that the configured LLM provider has its API key set.
	switch strings.ToLower(c.LLM.Provider) {
	case "openai":
		if c.LLM.OpenAI.APIKey == "" {
			return fmt.Errorf("LLM provider %q requires %s_LLM_OPENAI_API_KEY to be set", c.LLM.Provider, EnvPrefix)
		}
	case "anthropic":
		if c.LLM.Anthropic.APIKey == "" {
			return fmt.Errorf("LLM provider %q requires %s_LLM_ANTHROPIC_API_KEY to be set", c.LLM.Provider, EnvPrefix)
		}
	default:
		return fmt.Errorf("unsupported LLM provider: %q", c.LLM.Provider)
	}
	if c.Search.APIKey == "" {
		return fmt.Errorf("search requires %s_SEARCH_API_KEY to be set", EnvPrefix)
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka brokers are required when kafka is enabled")
	}

	w := c.Workflow
	if w.GapThreshold < 0 || w.GapThreshold > 1 {
		return fmt.Errorf("workflow gap_threshold must be between 0 and 1, got %v", w.GapThreshold)
	}
	if w.MaxPasses < 1 {
		return fmt.Errorf("workflow max_passes must be at least 1")
	}
	if w.PoolSize < 1 {
		return fmt.Errorf("workflow pool_size must be at least 1")
	}
	if w.MaxSteps < 1 {
		return fmt.Errorf("workflow max_steps must be at least 1")
	}
	if w.RunTimeout <= 0 {
		return fmt.Errorf("workflow run_timeout must be positive")
	}

	return nil
}

// Validate validates the database section.
func (c *DatabaseConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid database port: %d", c.Port)
	}
	if c.Name == "" {
		return fmt.Errorf("database name is required")
	}
	if c.MaxConns < c.MinConns {
		return fmt.Errorf("max_conns (%d) must be >= min_conns (%d)", c.MaxConns, c.MinConns)
	}
	return nil
}
