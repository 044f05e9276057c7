// Package config provides configuration loading from environment variables
// and an optional .env file.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"

	"github.com/maauso/soragen/internal/generator"
	"github.com/maauso/soragen/internal/sora"
)

// DefaultDotEnvFile is read by Load when it exists in the working directory.
const DefaultDotEnvFile = ".env"

// Static errors for configuration validation.
var (
	// ErrSoraAPIKeyRequired is returned when SORA_API_KEY is not set.
	ErrSoraAPIKeyRequired = errors.New("config: SORA_API_KEY is required")
	// ErrInvalidPollPolicy is returned for a non-positive poll interval or attempt count.
	ErrInvalidPollPolicy = errors.New("config: POLL_INTERVAL and POLL_MAX_ATTEMPTS must be positive")
	// ErrInvalidHistoryLimit is returned for a negative HISTORY_LIMIT.
	ErrInvalidHistoryLimit = errors.New("config: HISTORY_LIMIT must not be negative")
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port int `env:"PORT, default=8080" json:"port"`

	// Sora API settings
	SoraAPIKey     string `env:"SORA_API_KEY" json:"-"` // Masked in JSON
	SoraEndpoint   string `env:"SORA_ENDPOINT, default=global" json:"sora_endpoint"`
	SoraBaseURL    string `env:"SORA_BASE_URL" json:"sora_base_url,omitempty"` // Overrides SoraEndpoint
	SoraModel      string `env:"SORA_MODEL, default=sora-2" json:"sora_model"`
	HTTPMaxRetries int    `env:"HTTP_MAX_RETRIES, default=3" json:"http_max_retries"`

	// Polling settings
	PollInterval    time.Duration `env:"POLL_INTERVAL, default=3s" json:"poll_interval"`
	PollMaxAttempts int           `env:"POLL_MAX_ATTEMPTS, default=600" json:"poll_max_attempts"`
	PollTimeout     time.Duration `env:"POLL_TIMEOUT, default=0s" json:"poll_timeout"` // 0 disables

	// History settings
	HistoryLimit int `env:"HISTORY_LIMIT, default=0" json:"history_limit"` // 0 keeps everything

	// Storage settings
	TempDir string `env:"TEMP_DIR" json:"temp_dir"` // empty selects os.TempDir()/soragen

	// Optional S3 settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	S3PublicBaseURL    string `env:"S3_PUBLIC_BASE_URL" json:"s3_public_base_url,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL" json:"log_level"`                 // "debug", "info", "warn", "error"; empty selects info
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// Load reads .env (if present) and the environment, then validates the
// result. It is the entry point for the server, which cannot run without
// SORA_API_KEY.
func Load() (*Config, error) {
	cfg, err := LoadFile(DefaultDotEnvFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads configuration from the environment, falling back to values
// in the dotenv file at path. Process environment always wins over the file.
// A missing file is not an error. The credential is not checked, so callers
// that can prompt for it (the CLI) validate on their own.
func LoadFile(path string) (*Config, error) {
	lookuper := envconfig.OsLookuper()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			values, err := godotenv.Read(path)
			if err != nil {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
			lookuper = envconfig.MultiLookuper(envconfig.OsLookuper(), envconfig.MapLookuper(values))
		}
	}

	cfg := &Config{}
	if err := envconfig.ProcessWith(context.Background(), &envconfig.Config{
		Target:   cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	cfg.SoraAPIKey = strings.TrimSpace(cfg.SoraAPIKey)
	return cfg, nil
}

// Validate checks that all required configuration is present.
func (c *Config) Validate() error {
	if c.SoraAPIKey == "" {
		return ErrSoraAPIKeyRequired
	}
	if _, err := c.BaseURL(); err != nil {
		return err
	}
	if c.PollInterval <= 0 || c.PollMaxAttempts <= 0 {
		return ErrInvalidPollPolicy
	}
	if c.HistoryLimit < 0 {
		return ErrInvalidHistoryLimit
	}
	return nil
}

// BaseURL returns SORA_BASE_URL when set, otherwise the URL of the named
// SORA_ENDPOINT.
func (c *Config) BaseURL() (string, error) {
	if c.SoraBaseURL != "" {
		return strings.TrimRight(c.SoraBaseURL, "/"), nil
	}
	u, err := sora.ResolveEndpoint(c.SoraEndpoint)
	if err != nil {
		return "", fmt.Errorf("config: SORA_ENDPOINT: %w", err)
	}
	return u, nil
}

// PollPolicy converts the polling settings.
func (c *Config) PollPolicy() generator.PollPolicy {
	return generator.PollPolicy{
		Interval:    c.PollInterval,
		MaxAttempts: c.PollMaxAttempts,
		Timeout:     c.PollTimeout,
	}
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	return c.NewLoggerTo(os.Stdout)
}

// NewLoggerTo is NewLogger writing to w.
func (c *Config) NewLoggerTo(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(c.LogLevel)}

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, SoraAPIKey: %s, SoraEndpoint: %s, SoraBaseURL: %s, SoraModel: %s, PollInterval: %s, PollMaxAttempts: %d, PollTimeout: %s, HistoryLimit: %d, TempDir: %s, S3Bucket: %s, S3Region: %s, AWSAccessKeyID: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		mask(c.SoraAPIKey),
		c.SoraEndpoint,
		c.SoraBaseURL,
		c.SoraModel,
		c.PollInterval,
		c.PollMaxAttempts,
		c.PollTimeout,
		c.HistoryLimit,
		c.TempDir,
		c.S3Bucket,
		c.S3Region,
		mask(c.AWSAccessKeyID),
		c.LogFormat,
		c.LogLevel,
	)
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "****"
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
