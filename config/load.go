package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variable names recognized by FromEnv.
const (
	EnvHost        = "HOSTBRIDGE_HOST"
	EnvPort        = "HOSTBRIDGE_PORT"
	EnvTimeout     = "HOSTBRIDGE_TIMEOUT"
	EnvAttempts    = "HOSTBRIDGE_CONNECT_ATTEMPTS"
	EnvBackoffBase = "HOSTBRIDGE_BACKOFF_BASE"
)

// Load reads a YAML config file, expands environment variables, applies
// environment overrides, and fills defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("cannot read config file %q: %w", path, err)
	}

	expanded := ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("invalid YAML in %s: %w", path, err)
	}

	if err := cfg.FromEnv(); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// FromDefaults builds a config from environment overrides over defaults,
// for callers with no config file.
func FromDefaults() (*Config, error) {
	var cfg Config
	if err := cfg.FromEnv(); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// FromEnv applies connection-policy environment overrides in place.
// Environment wins over file values; CLI flags win over both.
func (c *Config) FromEnv() error {
	if v := os.Getenv(EnvHost); v != "" {
		c.Host = v
	}
	if v := os.Getenv(EnvPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return fmt.Errorf("invalid %s: %q", EnvPort, v)
		}
		c.Port = port
	}
	if v := os.Getenv(EnvTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %q", EnvTimeout, v)
		}
		c.Timeout.Duration = d
	}
	if v := os.Getenv(EnvAttempts); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return fmt.Errorf("invalid %s: %q", EnvAttempts, v)
		}
		c.Attempts = n
	}
	if v := os.Getenv(EnvBackoffBase); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %q", EnvBackoffBase, v)
		}
		c.Backoff.Duration = d
	}
	return nil
}
