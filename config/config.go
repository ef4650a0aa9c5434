// Package config provides configuration management for IdeaForge.
package config

import (
	"fmt"
	"time"
)

// Config is the global configuration for IdeaForge.
type Config struct {
	// App is the application configuration.
	App AppConfig `mapstructure:"app" validate:"required"`

	// Server is the HTTP API configuration.
	Server ServerConfig `mapstructure:"server" validate:"required"`

	// Log is the logging configuration.
	Log LogConfig `mapstructure:"log" validate:"required"`

	// Provider is the text generation provider configuration.
	Provider ProviderConfig `mapstructure:"provider"`

	// Execution is the workflow execution configuration.
	Execution ExecutionConfig `mapstructure:"execution"`

	// Storage is the persistence configuration.
	Storage StorageConfig `mapstructure:"storage"`

	// Metrics is the Prometheus configuration.
	Metrics MetricsConfig `mapstructure:"metrics"`

	// Tracing is the OpenTelemetry configuration.
	Tracing TracingConfig `mapstructure:"tracing"`
}

// AppConfig holds application metadata and settings.
type AppConfig struct {
	// Name is the application name.
	Name string `mapstructure:"name" validate:"required"`

	// Version is the application version.
	Version string `mapstructure:"version"`

	// Environment is the runtime environment (development, staging, production).
	Environment string `mapstructure:"environment" validate:"env"`

	// Debug enables debug mode with verbose logging.
	Debug bool `mapstructure:"debug"`
}

// ServerConfig holds the HTTP server configuration.
type ServerConfig struct {
	// Host is the bind address.
	Host string `mapstructure:"host" validate:"host"`

	// Port is the HTTP API port.
	Port int `mapstructure:"port" validate:"required,min=1,max=65535"`

	// HTTP holds timeouts and limits.
	HTTP HTTPConfig `mapstructure:"http"`

	// CORS is the CORS configuration.
	CORS CORSConfig `mapstructure:"cors"`
}

// HTTPConfig holds HTTP-specific settings.
type HTTPConfig struct {
	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`

	// WriteTimeout bounds a whole response. Runs execute synchronously, so it
	// must cover the slowest workflow.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	// IdleTimeout is the maximum amount of time to wait for the next request.
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// MaxHeaderBytes limits the size of request headers.
	MaxHeaderBytes int `mapstructure:"max_header_bytes" validate:"min=0"`

	// MaxBodyBytes limits the size of request bodies.
	MaxBodyBytes int64 `mapstructure:"max_body_bytes" validate:"min=0"`
}

// CORSConfig holds CORS settings.
type CORSConfig struct {
	Enabled          bool     `mapstructure:"enabled"`
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	ExposedHeaders   []string `mapstructure:"exposed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`

	// Format is the output format (json, text).
	Format string `mapstructure:"format" validate:"oneof=json text"`

	// Output is the output destination (stdout, stderr, or file path).
	Output string `mapstructure:"output"`
}

// ProviderConfig holds the OpenAI-compatible text generation endpoint.
type ProviderConfig struct {
	// BaseURL is the API root; requests go to {BaseURL}/chat/completions.
	BaseURL string `mapstructure:"base_url" validate:"required,url"`

	// APIKey is the bearer credential. It may be empty at load time; runs
	// fail with a configuration error until it is set.
	APIKey string `mapstructure:"api_key"`

	// Model is used when an agent does not name one.
	Model string `mapstructure:"model" validate:"required"`

	// MaxAttempts is the total number of attempts per generation.
	MaxAttempts int `mapstructure:"max_attempts" validate:"min=1,max=10"`

	// BackoffBase is the wait before the second attempt; it doubles after.
	BackoffBase time.Duration `mapstructure:"backoff_base" validate:"min=0"`

	// Timeout bounds a single HTTP attempt.
	Timeout time.Duration `mapstructure:"timeout" validate:"min=0"`

	// RequestsPerSecond paces outgoing calls. Zero disables pacing.
	RequestsPerSecond float64 `mapstructure:"requests_per_second" validate:"min=0"`

	// Burst is the limiter bucket size.
	Burst int `mapstructure:"burst" validate:"min=0"`
}

// ExecutionConfig holds workflow engine settings.
type ExecutionConfig struct {
	// SerialDelay is the pause between consecutive serial steps of a stage.
	SerialDelay time.Duration `mapstructure:"serial_delay" validate:"min=0"`

	// RunTimeout bounds a whole run. Zero means no bound beyond the request.
	RunTimeout time.Duration `mapstructure:"run_timeout" validate:"min=0"`

	// DefaultLanguage is used when a run request names none.
	DefaultLanguage string `mapstructure:"default_language"`
}

// StorageConfig holds persistence settings.
type StorageConfig struct {
	// Type is the storage backend (memory, badger, redis).
	Type string `mapstructure:"type" validate:"oneof=memory badger redis"`

	// Badger is the BadgerDB configuration.
	Badger BadgerConfig `mapstructure:"badger"`

	// Redis is the Redis configuration.
	Redis RedisConfig `mapstructure:"redis"`
}

// BadgerConfig holds BadgerDB-specific settings.
type BadgerConfig struct {
	// Path is the database directory path.
	Path string `mapstructure:"path"`

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool `mapstructure:"sync_writes"`

	// ValueLogFileSize is the maximum size of value log files in bytes.
	ValueLogFileSize int64 `mapstructure:"value_log_file_size" validate:"min=0"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	// Address is the Redis server address.
	Address string `mapstructure:"address" validate:"host"`

	// Password is the Redis password.
	Password string `mapstructure:"password"`

	// DB is the Redis database number.
	DB int `mapstructure:"db" validate:"min=0"`

	// KeyPrefix namespaces all keys.
	KeyPrefix string `mapstructure:"key_prefix"`

	// TTL expires run records. Zero keeps them forever.
	TTL time.Duration `mapstructure:"ttl" validate:"min=0"`
}

// MetricsConfig holds observability settings.
type MetricsConfig struct {
	// Enabled enables metrics collection.
	Enabled bool `mapstructure:"enabled"`

	// Path is the metrics endpoint path.
	Path string `mapstructure:"path"`

	// Port is the metrics server port.
	Port int `mapstructure:"port" validate:"min=1,max=65535"`
}

// TracingConfig holds OpenTelemetry tracing settings.
type TracingConfig struct {
	// Enabled enables span export.
	Enabled bool `mapstructure:"enabled"`

	// Exporter is the span exporter (otlpgrpc).
	Exporter string `mapstructure:"exporter" validate:"omitempty,oneof=otlpgrpc"`

	// Endpoint is the collector address.
	Endpoint string `mapstructure:"endpoint" validate:"required_if=Enabled true"`

	// Headers are sent with every export request.
	Headers map[string]string `mapstructure:"headers"`

	// Timeout bounds one export call.
	Timeout time.Duration `mapstructure:"timeout"`

	// Sampler is one of always_on, always_off, parentbased_traceidratio.
	Sampler string `mapstructure:"sampler" validate:"omitempty,oneof=always_on always_off parentbased_traceidratio"`

	// SampleRate is the fraction of traces to sample (0.0-1.0).
	SampleRate float64 `mapstructure:"sample_rate" validate:"min=0,max=1"`
}

// Validate performs validation on the configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// String returns a summary of the configuration without secrets.
func (c *Config) String() string {
	return fmt.Sprintf("Config{App: %s, Server: :%d, Env: %s, Storage: %s, Model: %s}",
		c.App.Name, c.Server.Port, c.App.Environment, c.Storage.Type, c.Provider.Model)
}
