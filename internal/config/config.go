// Package config provides centralized configuration management for dropload.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"strconv"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Watcher  WatcherConfig
	Loader   LoaderConfig
	Jobs     JobsConfig
	Catalog  CatalogConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP control surface settings.
type ServerConfig struct {
	// Enabled turns the HTTP API on for the serve command (default: true)
	Enabled bool `env:"SERVER_ENABLED" default:"true"`

	// Host is the interface to bind to (default: 127.0.0.1)
	Host string `env:"SERVER_HOST" default:"127.0.0.1"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing response (default: 0 for SSE)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// MaxDetectBytes caps the body of POST /api/detect (default: 1MB)
	MaxDetectBytes int64 `env:"SERVER_MAX_DETECT_BYTES" default:"1048576"`

	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"SERVER_TRUSTED_PROXIES"`

	// APIKeys is a comma-separated list of keys accepted in X-API-Key;
	// empty leaves the API open
	APIKeys []string `env:"SERVER_API_KEYS"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string (required)
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" required:"true"`

	// MaxConns is the maximum number of connections in the pool (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" default:"20"`

	// MinConns is the minimum number of connections to keep open (default: 2)
	MinConns int `env:"DB_MIN_CONNS" default:"2"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// WatcherConfig holds drop directory polling settings.
type WatcherConfig struct {
	// Enabled starts the polling loop in serve (default: true)
	Enabled bool `env:"WATCH_ENABLED" default:"true"`

	// DropDir is scanned for *.csv files (default: ./drop)
	DropDir string `env:"WATCH_DROP_DIR" default:"./drop"`

	// ArchiveDir receives loaded files and their sidecars (default: ./archive)
	ArchiveDir string `env:"WATCH_ARCHIVE_DIR" default:"./archive"`

	// FailedDir receives files whose load failed, so they are not picked up again (default: ./failed)
	FailedDir string `env:"WATCH_FAILED_DIR" default:"./failed"`

	// PollInterval is the time between scans (default: 15s)
	PollInterval time.Duration `env:"WATCH_POLL_INTERVAL" default:"15s"`

	// StabilityThreshold is the number of unchanged scans before a load (default: 6)
	StabilityThreshold int `env:"WATCH_STABILITY_THRESHOLD" default:"6"`

	// IdleHorizon drops files unchanged this long that never settle (default: 1h)
	IdleHorizon time.Duration `env:"WATCH_IDLE_HORIZON" default:"1h"`
}

// LoaderConfig holds load pipeline settings.
type LoaderConfig struct {
	// DefaultSchema is the target schema when no rule names one (default: public)
	DefaultSchema string `env:"LOAD_DEFAULT_SCHEMA" default:"public"`

	// DefaultMode is append or full (default: append)
	DefaultMode string `env:"LOAD_DEFAULT_MODE" default:"append"`

	// BatchSize caps rows per staging insert (default: 990)
	BatchSize int `env:"LOAD_BATCH_SIZE" default:"990"`

	// ProgressEvery reports staging progress every N batches (default: 10)
	ProgressEvery int `env:"LOAD_PROGRESS_EVERY" default:"10"`

	// SampleBytes is read for format detection (default: 64KB)
	SampleBytes int `env:"LOAD_SAMPLE_BYTES" default:"65536"`

	// SampleRows is used for type inference (default: 1000)
	SampleRows int `env:"LOAD_SAMPLE_ROWS" default:"1000"`

	// DateThreshold is the share of values that must parse as dates (default: 0.8)
	DateThreshold float64 `env:"LOAD_DATE_THRESHOLD" default:"0.8"`

	// ValidationProcedure is called against the stage table when set
	ValidationProcedure string `env:"LOAD_VALIDATION_PROCEDURE"`

	// FailOnConflict aborts loads whose schema cannot be widened (default: false)
	FailOnConflict bool `env:"LOAD_FAIL_ON_SCHEMA_CONFLICT" default:"false"`

	// RulesFile is an optional YAML file of per-file ingest rules
	RulesFile string `env:"LOAD_RULES_FILE"`
}

// JobsConfig holds background job settings.
type JobsConfig struct {
	// MaxConcurrent is the maximum number of parallel loads (default: 4)
	MaxConcurrent int `env:"JOBS_MAX_CONCURRENT" default:"4"`

	// MaxWaitTime is how long to wait for a job slot (default: 30s)
	MaxWaitTime time.Duration `env:"JOBS_MAX_WAIT_TIME" default:"30s"`

	// Timeout is the maximum duration of a single load (default: 2h)
	Timeout time.Duration `env:"JOBS_TIMEOUT" default:"2h"`

	// Retention is how long finished jobs stay queryable (default: 1h)
	Retention time.Duration `env:"JOBS_RETENTION" default:"1h"`
}

// CatalogConfig holds the table catalog settings.
type CatalogConfig struct {
	// Path is the SQLite catalog file; empty disables the catalog
	Path string `env:"CATALOG_PATH"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
