// Package config defines the process configuration for Fairweather binaries.
// Configuration is loaded once at startup and is immutable thereafter.
//
// Values are resolved from the OS environment, falling back to a .env file in
// the working directory. Any missing required value or invalid format is
// returned as a ConfigError so the binary can fail fast.
package config

import (
	"time"

	"fairweather/internal/types"
)

// SecretString is an alias for types.SecretString so config consumers do not
// need to import types for it.
type SecretString = types.SecretString

// Config is the top-level configuration struct. Sub-components receive only
// the subsets they require.
type Config struct {
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"fairweather"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error DEBUG INFO WARN ERROR"`

	Server        ServerConfig
	Store         StoreConfig
	Weather       WeatherConfig
	Finder        FinderConfig
	Observability ObservabilityConfig
	Rescore       RescoreConfig

	// Injected via ldflags, not env.
	Build BuildInfo
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string        `envconfig:"PORT" default:"8080" validate:"required,numeric"`
	CorsAllowedOrigins []string      `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
	RequestTimeout     time.Duration `envconfig:"REQUEST_TIMEOUT" default:"25s" validate:"gt=0"`
	ShutdownTimeout    time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// StoreConfig selects and tunes the event store.
type StoreConfig struct {
	Driver     string       `envconfig:"STORE_DRIVER" default:"memory" validate:"required,oneof=memory sqlite postgres"`
	URL        SecretString `envconfig:"DATABASE_URL" validate:"required_if=Driver postgres"`
	SQLitePath string       `envconfig:"SQLITE_PATH" default:"fairweather.db" validate:"required_if=Driver sqlite"`

	MaxConns          int32         `envconfig:"DB_MAX_CONNS" default:"10" validate:"gte=1"`
	MinConns          int32         `envconfig:"DB_MIN_CONNS" default:"1" validate:"gte=0"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
	MigrateOnStart    bool          `envconfig:"MIGRATE_ON_START" default:"true"`
}

// WeatherConfig configures the forecast provider and its cache.
type WeatherConfig struct {
	APIKey       SecretString  `envconfig:"OPENWEATHER_API_KEY" validate:"required"`
	BaseURL      string        `envconfig:"OPENWEATHER_BASE_URL" default:"https://api.openweathermap.org" validate:"required,url"`
	HorizonDays  int           `envconfig:"WEATHER_HORIZON_DAYS" default:"5" validate:"gte=1,lte=16"`
	Timeout      time.Duration `envconfig:"WEATHER_TIMEOUT" default:"10s" validate:"gt=0"`
	MaxRetries   int           `envconfig:"WEATHER_MAX_RETRIES" default:"3" validate:"gte=0,lte=10"`
	FetchTimeout time.Duration `envconfig:"WEATHER_FETCH_TIMEOUT" default:"60s" validate:"gt=0"`
	CacheTTL     time.Duration `envconfig:"WEATHER_CACHE_TTL" default:"30m" validate:"gt=0"`
	CacheSize    int           `envconfig:"WEATHER_CACHE_SIZE" default:"10000" validate:"gte=1"`
}

// Horizon returns the forecast horizon as a duration.
func (w WeatherConfig) Horizon() time.Duration {
	return time.Duration(w.HorizonDays) * 24 * time.Hour
}

// FinderConfig holds defaults for alternative-date searches.
type FinderConfig struct {
	WindowDays     int     `envconfig:"FINDER_WINDOW_DAYS" default:"3" validate:"gte=1,lte=14"`
	MinImprovement float64 `envconfig:"FINDER_MIN_IMPROVEMENT" default:"1.0" validate:"gte=0"`
	Concurrency    int     `envconfig:"FINDER_CONCURRENCY" default:"5" validate:"gte=1,lte=32"`
	Limit          int     `envconfig:"FINDER_LIMIT" default:"5" validate:"gte=0"`
}

// ObservabilityConfig holds metrics settings. Metrics are published to
// CloudWatch only when enabled.
type ObservabilityConfig struct {
	MetricsEnabled  bool   `envconfig:"METRICS_ENABLED" default:"false"`
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"Fairweather"`
	AWSRegion       string `envconfig:"AWS_REGION" default:"us-east-1"`
	// LocalStack support; empty in prod.
	AWSEndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// RescoreConfig controls the scheduled rescoring job.
type RescoreConfig struct {
	LookaheadDays int `envconfig:"RESCORE_LOOKAHEAD_DAYS" default:"5" validate:"gte=1,lte=16"`
}

// Lookahead returns the rescoring window as a duration.
func (r RescoreConfig) Lookahead() time.Duration {
	return time.Duration(r.LookaheadDays) * 24 * time.Hour
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates an environment value could not be parsed into
	// its target type.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
