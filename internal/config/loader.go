package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Load reads configuration from environment variables.
// It applies defaults for unset values and validates the result.
// Returns an error if required values are missing or validation fails.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := loadStruct(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// loadStruct recursively populates struct fields from environment variables.
func loadStruct(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldVal := v.Field(i)

		// Skip unexported fields
		if !fieldVal.CanSet() {
			continue
		}

		// Recurse into nested structs
		if field.Type.Kind() == reflect.Struct && field.Type != reflect.TypeOf(time.Time{}) {
			if err := loadStruct(fieldVal); err != nil {
				return err
			}
			continue
		}

		// Get tags
		envName := field.Tag.Get("env")
		envAlt := field.Tag.Get("envAlt")
		defaultVal := field.Tag.Get("default")
		required := field.Tag.Get("required") == "true"

		if envName == "" {
			continue
		}

		// Try primary env var, then alternate
		value := os.Getenv(envName)
		if value == "" && envAlt != "" {
			value = os.Getenv(envAlt)
		}

		// Apply default if not set
		if value == "" {
			if required {
				return fmt.Errorf("required environment variable %s is not set", envName)
			}
			value = defaultVal
		}

		if value == "" {
			continue
		}

		// Set the field value
		if err := setField(fieldVal, value); err != nil {
			return fmt.Errorf("invalid value for %s=%q: %w", envName, value, err)
		}
	}

	return nil
}

// setField sets a reflect.Value from a string based on its type.
func setField(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int64:
		// Handle time.Duration specially
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration: %w", err)
			}
			field.Set(reflect.ValueOf(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer: %w", err)
			}
			field.SetInt(i)
		}

	case reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid number: %w", err)
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			// Split comma-separated values, trim whitespace
			parts := strings.Split(value, ",")
			result := make([]string, 0, len(parts))
			for _, p := range parts {
				p = strings.TrimSpace(p)
				if p != "" {
					result = append(result, p)
				}
			}
			field.Set(reflect.ValueOf(result))
		} else {
			return fmt.Errorf("unsupported slice type: %s", field.Type().Elem().Kind())
		}

	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}

	return nil
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string

	// Database validation
	if c.Database.URL == "" {
		errs = append(errs, "DATABASE_URL is required")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		errs = append(errs, fmt.Sprintf("DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)",
			c.Database.MaxConns, c.Database.MinConns))
	}
	if c.Database.MaxConns <= 0 {
		errs = append(errs, "DB_MAX_CONNS must be positive")
	}
	if c.Database.MinConns < 0 {
		errs = append(errs, "DB_MIN_CONNS must be non-negative")
	}

	// Server validation
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("SERVER_PORT (%d) must be 1-65535", c.Server.Port))
		}
		if c.Server.ReadTimeout < 0 {
			errs = append(errs, "SERVER_READ_TIMEOUT must be non-negative")
		}
		if c.Server.ShutdownTimeout <= 0 {
			errs = append(errs, "SERVER_SHUTDOWN_TIMEOUT must be positive")
		}
		if c.Server.MaxDetectBytes <= 0 {
			errs = append(errs, "SERVER_MAX_DETECT_BYTES must be positive")
		}
	}

	// Watcher validation
	if c.Watcher.Enabled && c.Watcher.DropDir == "" {
		errs = append(errs, "WATCH_DROP_DIR is required when the watcher is enabled")
	}
	if c.Watcher.PollInterval <= 0 {
		errs = append(errs, "WATCH_POLL_INTERVAL must be positive")
	}
	if c.Watcher.StabilityThreshold <= 0 {
		errs = append(errs, "WATCH_STABILITY_THRESHOLD must be positive")
	}
	if c.Watcher.IdleHorizon <= 0 {
		errs = append(errs, "WATCH_IDLE_HORIZON must be positive")
	}

	// Loader validation
	if c.Loader.DefaultSchema == "" {
		errs = append(errs, "LOAD_DEFAULT_SCHEMA must not be empty")
	}
	switch strings.ToLower(c.Loader.DefaultMode) {
	case "append", "full":
	default:
		errs = append(errs, fmt.Sprintf("LOAD_DEFAULT_MODE (%q) must be one of: append, full", c.Loader.DefaultMode))
	}
	if c.Loader.BatchSize <= 0 {
		errs = append(errs, "LOAD_BATCH_SIZE must be positive")
	}
	if c.Loader.ProgressEvery <= 0 {
		errs = append(errs, "LOAD_PROGRESS_EVERY must be positive")
	}
	if c.Loader.SampleBytes <= 0 {
		errs = append(errs, "LOAD_SAMPLE_BYTES must be positive")
	}
	if c.Loader.SampleRows <= 0 {
		errs = append(errs, "LOAD_SAMPLE_ROWS must be positive")
	}
	if c.Loader.DateThreshold <= 0 || c.Loader.DateThreshold > 1 {
		errs = append(errs, fmt.Sprintf("LOAD_DATE_THRESHOLD (%g) must be in (0, 1]", c.Loader.DateThreshold))
	}

	// Jobs validation
	if c.Jobs.MaxConcurrent <= 0 {
		errs = append(errs, "JOBS_MAX_CONCURRENT must be positive")
	}
	if c.Jobs.MaxWaitTime <= 0 {
		errs = append(errs, "JOBS_MAX_WAIT_TIME must be positive")
	}
	if c.Jobs.Timeout <= 0 {
		errs = append(errs, "JOBS_TIMEOUT must be positive")
	}
	if c.Jobs.Retention <= 0 {
		errs = append(errs, "JOBS_RETENTION must be positive")
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// String returns a safe string representation of the config for logging.
// Sensitive values like database URLs are masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	b.WriteString(fmt.Sprintf("Server: {Enabled: %v, Addr: %q}, ", c.Server.Enabled, c.Server.Addr()))
	b.WriteString(fmt.Sprintf("Database: {URL: [MASKED], MaxConns: %d, MinConns: %d}, ",
		c.Database.MaxConns, c.Database.MinConns))
	b.WriteString(fmt.Sprintf("Watcher: {Enabled: %v, DropDir: %q, ArchiveDir: %q, PollInterval: %s, Threshold: %d}, ",
		c.Watcher.Enabled, c.Watcher.DropDir, c.Watcher.ArchiveDir, c.Watcher.PollInterval, c.Watcher.StabilityThreshold))
	b.WriteString(fmt.Sprintf("Loader: {Schema: %q, Mode: %q, BatchSize: %d}, ",
		c.Loader.DefaultSchema, c.Loader.DefaultMode, c.Loader.BatchSize))
	b.WriteString(fmt.Sprintf("Jobs: {MaxConcurrent: %d, Timeout: %s}, ",
		c.Jobs.MaxConcurrent, c.Jobs.Timeout))
	b.WriteString(fmt.Sprintf("Logging: {Level: %q, Format: %q}",
		c.Logging.Level, c.Logging.Format))
	b.WriteString("}")
	return b.String()
}
