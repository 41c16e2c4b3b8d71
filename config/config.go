// Package config provides configuration management for SagaLog.
package config

import (
	"fmt"
	"time"
)

// Config is the global configuration for SagaLog.
type Config struct {
	// App is the application configuration.
	App AppConfig `mapstructure:"app" validate:"required"`

	// Server is the HTTP inspection server configuration.
	Server ServerConfig `mapstructure:"server" validate:"required"`

	// Storage is the saga log persistence configuration.
	Storage StorageConfig `mapstructure:"storage"`

	// Cleanup is the retention cleanup configuration.
	Cleanup CleanupConfig `mapstructure:"cleanup"`

	// Relay is the Redis event relay configuration.
	Relay RelayConfig `mapstructure:"relay"`

	// Logging is the logging configuration.
	Logging LoggingConfig `mapstructure:"logging" validate:"required"`

	// Metrics is the observability configuration.
	Metrics MetricsConfig `mapstructure:"metrics"`

	// Tracing is the distributed tracing configuration.
	Tracing TracingConfig `mapstructure:"tracing"`
}

// AppConfig holds application metadata and settings.
type AppConfig struct {
	// Name is the application name.
	Name string `mapstructure:"name" validate:"required"`

	// Version is the application version.
	Version string `mapstructure:"version"`

	// Environment is the runtime environment (development, staging, production).
	Environment string `mapstructure:"environment" validate:"oneof=development staging production"`

	// Debug enables debug mode with verbose logging.
	Debug bool `mapstructure:"debug"`
}

// ServerConfig holds the HTTP server configuration.
type ServerConfig struct {
	// Host is the bind address.
	Host string `mapstructure:"host"`

	// Port is the HTTP API port.
	Port int `mapstructure:"port" validate:"required,min=1,max=65535"`

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	// IdleTimeout is the maximum amount of time to wait for the next request.
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// RequestTimeout bounds in-handler time per request.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	// MaxHeaderBytes limits the size of request headers.
	MaxHeaderBytes int `mapstructure:"max_header_bytes"`

	// CORS is the CORS configuration.
	CORS CORSConfig `mapstructure:"cors"`

	// RateLimit is the per-client rate limit configuration.
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// CORSConfig holds CORS settings.
type CORSConfig struct {
	// Enabled enables CORS support.
	Enabled bool `mapstructure:"enabled"`

	// AllowedOrigins is the list of allowed origins.
	AllowedOrigins []string `mapstructure:"allowed_origins"`

	// AllowedMethods is the list of allowed HTTP methods.
	AllowedMethods []string `mapstructure:"allowed_methods"`

	// AllowedHeaders is the list of allowed headers.
	AllowedHeaders []string `mapstructure:"allowed_headers"`

	// AllowCredentials indicates whether credentials are allowed.
	AllowCredentials bool `mapstructure:"allow_credentials"`

	// MaxAge is the maximum age of CORS preflight cache in seconds.
	MaxAge int `mapstructure:"max_age"`
}

// RateLimitConfig holds per-client-IP rate limit settings.
type RateLimitConfig struct {
	// Enabled enables request rate limiting.
	Enabled bool `mapstructure:"enabled"`

	// RPS is the sustained requests-per-second budget per client.
	RPS float64 `mapstructure:"rps" validate:"min=0"`

	// Burst is the burst allowance per client.
	Burst int `mapstructure:"burst" validate:"min=0"`
}

// StorageConfig holds saga log persistence settings.
type StorageConfig struct {
	// Type is the log backend (memory, badger).
	Type string `mapstructure:"type" validate:"oneof=memory badger"`

	// Path is the Badger database directory path.
	Path string `mapstructure:"path"`

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool `mapstructure:"sync_writes"`
}

// CleanupConfig holds retention cleanup settings.
type CleanupConfig struct {
	// Enabled enables the periodic retention scan.
	Enabled bool `mapstructure:"enabled"`

	// CompletedRetention is how long completed sagas are kept.
	CompletedRetention time.Duration `mapstructure:"completed_retention"`

	// AbortedRetention is how long fully compensated sagas are kept.
	AbortedRetention time.Duration `mapstructure:"aborted_retention"`

	// ScanInterval is the time between retention scans.
	ScanInterval time.Duration `mapstructure:"scan_interval"`

	// StrictArchive makes an archive failure veto deletion.
	StrictArchive bool `mapstructure:"strict_archive"`
}

// RelayConfig holds Redis event relay settings.
type RelayConfig struct {
	// Enabled enables publishing saga events to Redis.
	Enabled bool `mapstructure:"enabled"`

	// Addr is the Redis server address.
	Addr string `mapstructure:"addr"`

	// Password is the Redis password.
	Password string `mapstructure:"password"`

	// DB is the Redis database number.
	DB int `mapstructure:"db" validate:"min=0"`

	// ChannelPrefix is prepended to every published channel name.
	ChannelPrefix string `mapstructure:"channel_prefix"`

	// Buffer is the per-subscription channel buffer size.
	Buffer int `mapstructure:"buffer" validate:"min=0"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`

	// Format is the output format (json, text).
	Format string `mapstructure:"format" validate:"oneof=json text"`

	// Output is the output destination (stdout, stderr, or file path).
	Output string `mapstructure:"output"`
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

// TracingConfig holds distributed tracing settings.
type TracingConfig struct {
	// Enabled enables distributed tracing.
	Enabled bool `mapstructure:"enabled"`

	// Endpoint is the OTLP gRPC collector endpoint.
	Endpoint string `mapstructure:"endpoint"`

	// SampleRate is the fraction of traces to sample (0.0-1.0).
	SampleRate float64 `mapstructure:"sample_rate" validate:"min=0,max=1"`

	// Insecure disables transport security towards the collector.
	Insecure bool `mapstructure:"insecure"`
}

// Validate performs validation on the configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// String returns a string representation of the configuration (without sensitive data).
func (c *Config) String() string {
	return fmt.Sprintf("Config{App: %s, Server: :%d, Env: %s, Storage: %s}",
		c.App.Name, c.Server.Port, c.App.Environment, c.Storage.Type)
}
