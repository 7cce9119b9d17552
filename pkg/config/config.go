// Package config loads everything a safeguards run needs from disk or the
// network: CLI settings, the service declaration, compiled artifacts and
// safeguard entries.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the CLI settings.
type Config struct {
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Policies  PoliciesConfig  `yaml:"policies"`
	History   HistoryConfig   `yaml:"history"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// LoggingConfig holds configuration for logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TelemetryConfig holds configuration for OpenTelemetry.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
	ServiceName  string `yaml:"service_name"`
}

// PoliciesConfig controls where policies come from and how long they may run.
type PoliciesConfig struct {
	// Source is an extra safeguards file or URL merged after custom.safeguards.
	Source string `yaml:"source"`
	// Dir is a directory of Rego safeguards listed alongside the built-ins.
	Dir     string        `yaml:"dir"`
	Timeout time.Duration `yaml:"timeout"`
}

// HistoryConfig points at the SQLite run history; empty disables it.
type HistoryConfig struct {
	Path string `yaml:"path"`
}

// MetricsConfig points at a Prometheus textfile; empty disables it.
type MetricsConfig struct {
	File string `yaml:"file"`
}

// Load reads configuration from a file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Logging: LoggingConfig{
			Level:  "warn",
			Format: "text",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "safeguards",
		},
	}

	if path != "" {
		//nolint:gosec // Config file path is controlled by the operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	if val := os.Getenv("SAFEGUARDS_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv("SAFEGUARDS_LOG_FORMAT"); val != "" {
		cfg.Logging.Format = val
	}

	if val := os.Getenv("SAFEGUARDS_OTLP_ENDPOINT"); val != "" {
		cfg.Telemetry.OTLPEndpoint = val
	}
	if val := os.Getenv("SAFEGUARDS_OTLP_INSECURE"); val != "" {
		insecure, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("SAFEGUARDS_OTLP_INSECURE: %w", err)
		}
		cfg.Telemetry.Insecure = insecure
	}

	if val := os.Getenv("SAFEGUARDS_SOURCE"); val != "" {
		cfg.Policies.Source = val
	}
	if val := os.Getenv("SAFEGUARDS_POLICY_DIR"); val != "" {
		cfg.Policies.Dir = val
	}
	if val := os.Getenv("SAFEGUARDS_POLICY_TIMEOUT"); val != "" {
		timeout, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("SAFEGUARDS_POLICY_TIMEOUT: %w", err)
		}
		cfg.Policies.Timeout = timeout
	}

	if val := os.Getenv("SAFEGUARDS_HISTORY"); val != "" {
		cfg.History.Path = val
	}
	if val := os.Getenv("SAFEGUARDS_METRICS_FILE"); val != "" {
		cfg.Metrics.File = val
	}
	return nil
}

// Validate checks every section and normalises defaults.
func (c *Config) Validate() error {
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging configuration: %w", err)
	}
	if err := c.Policies.Validate(); err != nil {
		return fmt.Errorf("policies configuration: %w", err)
	}
	return nil
}

// Validate performs validation of logging configuration
func (c *LoggingConfig) Validate() error {
	if strings.TrimSpace(c.Level) == "" {
		c.Level = "warn"
	}
	level := strings.TrimSpace(strings.ToLower(c.Level))
	switch level {
	case "debug", "info", "warn", "error":
		c.Level = level
	default:
		return fmt.Errorf("invalid log level %q, supported levels: debug, info, warn, error", c.Level)
	}

	if strings.TrimSpace(c.Format) == "" {
		c.Format = "text"
	}
	format := strings.TrimSpace(strings.ToLower(c.Format))
	switch format {
	case "text", "json":
		c.Format = format
		return nil
	default:
		return fmt.Errorf("invalid log format %q, supported formats: text, json", c.Format)
	}
}

// Validate performs validation of policies configuration
func (c *PoliciesConfig) Validate() error {
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative, got %s", c.Timeout)
	}
	return nil
}
