// Package config provides configuration loading and validation for the API server.
// It uses koanf to merge environment variables with optional file overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all configuration values for the API server.
type Config struct {
	// Server settings
	Port int    `koanf:"port"`
	Env  string `koanf:"env"`

	// BaseURL is the public prefix signing links are built under.
	BaseURL string `koanf:"base_url"`

	// Database
	DatabaseURL string `koanf:"database_url"`

	// JWT Authentication
	JWTSecret string `koanf:"jwt_secret"`
	// JWTSecretPrevious allows zero-downtime secret rotation; tokens
	// signed with the previous secret keep verifying until it is unset.
	JWTSecretPrevious string `koanf:"jwt_secret_previous"`

	// Redis (optional, backs the distributed rate limiter)
	RedisURL string `koanf:"redis_url"`

	// AllowedOrigins is a comma-separated browser origin allowlist for
	// CORS. Empty disables CORS entirely.
	AllowedOrigins string `koanf:"allowed_origins"`

	// S3-compatible object storage (optional; documents fall back to
	// the in-memory store when unset)
	S3BucketName      string `koanf:"s3_bucket_name"`
	S3AccessKeyID     string `koanf:"s3_access_key_id"`
	S3SecretAccessKey string `koanf:"s3_secret_access_key"`
	S3Endpoint        string `koanf:"s3_endpoint"`

	// Workflow settings
	RequestTTLDays           int `koanf:"request_ttl_days"`
	CreationLimitPerMinute   int `koanf:"creation_limit_per_minute"`
	SubmissionLimitPerMinute int `koanf:"submission_limit_per_minute"`
	TaskWorkers              int `koanf:"task_workers"`
	TaskQueueSize            int `koanf:"task_queue_size"`
	SweepIntervalMinutes     int `koanf:"sweep_interval_minutes"`
}

// Configuration validation errors.
var (
	ErrMissingDatabaseURL       = errors.New("DATABASE_URL is required")
	ErrMissingJWTSecret         = errors.New("JWT_SECRET is required")
	ErrMissingBaseURL           = errors.New("BASE_URL is required")
	ErrMissingS3BucketName      = errors.New("S3_BUCKET_NAME is required")
	ErrMissingS3AccessKeyID     = errors.New("S3_ACCESS_KEY_ID is required")
	ErrMissingS3SecretAccessKey = errors.New("S3_SECRET_ACCESS_KEY is required")
	ErrMissingS3Endpoint        = errors.New("S3_ENDPOINT is required")
	ErrInvalidPort              = errors.New("PORT must be a valid integer")
)

// Default values for non-secret configuration.
const (
	DefaultPort                     = 8080
	DefaultEnv                      = "development"
	DefaultRequestTTLDays           = 30
	DefaultCreationLimitPerMinute   = 20
	DefaultSubmissionLimitPerMinute = 20
	DefaultTaskWorkers              = 4
	DefaultTaskQueueSize            = 256
	DefaultSweepIntervalMinutes     = 60
)

// Load reads configuration from environment variables and an optional config file.
// Environment variables take precedence over file values.
// Returns the loaded config and a slice of validation errors (empty if valid).
// If a config file path is provided and the file cannot be loaded, an error is returned.
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	var loadErrs []error

	// Load from YAML file first if provided (lower precedence)
	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	// Parse port from env, collecting error if invalid
	// Try INKFLOW_PORT first, then PORT for backward compatibility
	port, portErr := getEnvIntOrDefaultMulti([]string{"INKFLOW_PORT", "PORT"}, k.Int("port"), DefaultPort)
	if portErr != nil {
		loadErrs = append(loadErrs, portErr)
	}

	intSetting := func(envKey, koanfKey string, defaultVal int) int {
		v, err := getEnvIntOrDefault(envKey, k.Int(koanfKey), defaultVal)
		if err != nil {
			loadErrs = append(loadErrs, err)
			return defaultVal
		}
		return v
	}

	// Build config struct, with env vars taking precedence over file values
	cfg := &Config{
		Port:              port,
		Env:               getEnvOrDefaultMulti([]string{"INKFLOW_ENV", "ENV", "GO_ENV"}, k.String("env"), DefaultEnv),
		BaseURL:           getEnvOrKoanf("BASE_URL", k, "base_url"),
		DatabaseURL:       getEnvOrKoanf("DATABASE_URL", k, "database_url"),
		JWTSecret:         getEnvOrKoanf("JWT_SECRET", k, "jwt_secret"),
		JWTSecretPrevious: getEnvOrKoanf("JWT_SECRET_PREVIOUS", k, "jwt_secret_previous"),
		RedisURL:          getEnvOrKoanf("REDIS_URL", k, "redis_url"),
		AllowedOrigins:    getEnvOrKoanf("ALLOWED_ORIGINS", k, "allowed_origins"),

		S3BucketName:      getEnvOrKoanf("S3_BUCKET_NAME", k, "s3_bucket_name"),
		S3AccessKeyID:     getEnvOrKoanf("S3_ACCESS_KEY_ID", k, "s3_access_key_id"),
		S3SecretAccessKey: getEnvOrKoanf("S3_SECRET_ACCESS_KEY", k, "s3_secret_access_key"),
		S3Endpoint:        getEnvOrKoanf("S3_ENDPOINT", k, "s3_endpoint"),

		RequestTTLDays:           intSetting("REQUEST_TTL_DAYS", "request_ttl_days", DefaultRequestTTLDays),
		CreationLimitPerMinute:   intSetting("CREATION_LIMIT_PER_MINUTE", "creation_limit_per_minute", DefaultCreationLimitPerMinute),
		SubmissionLimitPerMinute: intSetting("SUBMISSION_LIMIT_PER_MINUTE", "submission_limit_per_minute", DefaultSubmissionLimitPerMinute),
		TaskWorkers:              intSetting("TASK_WORKERS", "task_workers", DefaultTaskWorkers),
		TaskQueueSize:            intSetting("TASK_QUEUE_SIZE", "task_queue_size", DefaultTaskQueueSize),
		SweepIntervalMinutes:     intSetting("SWEEP_INTERVAL_MINUTES", "sweep_interval_minutes", DefaultSweepIntervalMinutes),
	}

	// Validate and collect errors
	errs := cfg.Validate()
	errs = append(loadErrs, errs...)

	return cfg, errs
}

// getEnvOrKoanf returns the environment variable value if set, otherwise the koanf value.
func getEnvOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	return k.String(koanfKey)
}

// getEnvOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first non-empty value found, otherwise the koanf value, or default.
func getEnvOrDefaultMulti(envKeys []string, koanfVal string, defaultVal string) string {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			return val
		}
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvIntOrDefault returns the environment variable as int if set, otherwise the koanf value, or default.
// Returns an error if the environment variable is set but cannot be parsed as an integer.
func getEnvIntOrDefault(envKey string, koanfVal int, defaultVal int) (int, error) {
	if val := os.Getenv(envKey); val != "" {
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", envKey, err)
		}
		return i, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvIntOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first valid integer value found, otherwise the koanf value, or default.
// Returns an error if any environment variable is set but cannot be parsed as an integer.
func getEnvIntOrDefaultMulti(envKeys []string, koanfVal int, defaultVal int) (int, error) {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			i, err := strconv.Atoi(val)
			if err != nil {
				return 0, fmt.Errorf("%s must be a valid integer: %w", key, ErrInvalidPort)
			}
			return i, nil
		}
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// Validate checks that all required configuration values are present.
// Returns a slice of validation errors (empty if valid).
func (c *Config) Validate() []error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, ErrMissingDatabaseURL)
	}
	if c.JWTSecret == "" {
		errs = append(errs, ErrMissingJWTSecret)
	}
	if c.BaseURL == "" {
		errs = append(errs, ErrMissingBaseURL)
	}

	// S3 configuration is optional. Only validate fields if any S3 value is set.
	if c.S3BucketName != "" || c.S3AccessKeyID != "" || c.S3SecretAccessKey != "" || c.S3Endpoint != "" {
		if c.S3BucketName == "" {
			errs = append(errs, ErrMissingS3BucketName)
		}
		if c.S3AccessKeyID == "" {
			errs = append(errs, ErrMissingS3AccessKeyID)
		}
		if c.S3SecretAccessKey == "" {
			errs = append(errs, ErrMissingS3SecretAccessKey)
		}
		if c.S3Endpoint == "" {
			errs = append(errs, ErrMissingS3Endpoint)
		}
	}

	return errs
}

// LogSummary returns a summary of the configuration suitable for logging.
// All secrets are masked to prevent accidental exposure.
func (c *Config) LogSummary() map[string]string {
	return map[string]string{
		"port":                        fmt.Sprintf("%d", c.Port),
		"env":                         c.Env,
		"base_url":                    c.BaseURL,
		"database_url":                maskDatabaseURL(c.DatabaseURL),
		"jwt_secret":                  maskSecret(c.JWTSecret),
		"jwt_secret_previous":         maskSecret(c.JWTSecretPrevious),
		"redis_url":                   maskDatabaseURL(c.RedisURL),
		"s3_bucket_name":              c.S3BucketName,
		"s3_access_key_id":            maskSecret(c.S3AccessKeyID),
		"s3_secret_access_key":        maskSecret(c.S3SecretAccessKey),
		"s3_endpoint":                 c.S3Endpoint,
		"request_ttl_days":            fmt.Sprintf("%d", c.RequestTTLDays),
		"creation_limit_per_minute":   fmt.Sprintf("%d", c.CreationLimitPerMinute),
		"submission_limit_per_minute": fmt.Sprintf("%d", c.SubmissionLimitPerMinute),
		"task_workers":                fmt.Sprintf("%d", c.TaskWorkers),
		"task_queue_size":             fmt.Sprintf("%d", c.TaskQueueSize),
		"sweep_interval_minutes":      fmt.Sprintf("%d", c.SweepIntervalMinutes),
	}
}

// maskSecret masks a secret value, showing only the first 4 characters followed by ****
// If the secret is shorter than 8 characters, it's fully masked.
func maskSecret(s string) string {
	if s == "" {
		return "<not set>"
	}
	if len(s) < 8 {
		return "****"
	}
	return s[:4] + "****"
}

// maskDatabaseURL masks the password in a connection URL.
// Supports postgres://, postgresql://, and redis:// schemes.
func maskDatabaseURL(s string) string {
	if s == "" {
		return "<not set>"
	}

	// Look for password pattern: user:password@host
	// Simple approach: find :// and then mask between : and @
	schemeEnd := strings.Index(s, "://")
	if schemeEnd == -1 {
		return maskSecret(s)
	}

	rest := s[schemeEnd+3:]
	atIndex := strings.Index(rest, "@")
	if atIndex == -1 {
		return s // No credentials in URL
	}

	colonIndex := strings.Index(rest[:atIndex], ":")
	if colonIndex == -1 {
		return s // No password (only username)
	}

	// Reconstruct URL with masked password
	scheme := s[:schemeEnd+3]
	user := rest[:colonIndex]
	hostAndPath := rest[atIndex:]

	return scheme + user + ":****" + hostAndPath
}
