package config

import (
	"fmt"
	"net"
	"sort"
	"strconv"
	"time"
)

// Connection policy defaults, overridable via config file or environment.
const (
	DefaultHost            = "localhost"
	DefaultPort            = 9876
	DefaultTimeout         = 10 * time.Second
	DefaultConnectAttempts = 3
	DefaultBackoffBase     = 500 * time.Millisecond
)

// Cache defaults.
const (
	DefaultCacheTTL = 7 * 24 * time.Hour
)

// Breaker defaults used when a service has no explicit override.
const (
	DefaultFailureThreshold = 5
	DefaultRecoveryTimeout  = 60 * time.Second
)

// Sandbox defaults.
const (
	DefaultExecTimeout   = 5 * time.Second
	DefaultMaxCalls      = 10
	DefaultWindowSeconds = 60
)

// Config represents a hostbridge.yaml configuration file.
// All values are optional; zero values fall back to documented defaults.
// CLI flags always override config values.
type Config struct {
	Host     string                   `yaml:"host"`
	Port     int                      `yaml:"port"`
	Timeout  Duration                 `yaml:"timeout"`
	Attempts int                      `yaml:"connect_attempts"`
	Backoff  Duration                 `yaml:"backoff_base"`
	Cache    CacheConfig              `yaml:"cache"`
	Sandbox  SandboxConfig            `yaml:"sandbox"`
	Services map[string]ServiceConfig `yaml:"services"`
	Adapters []AdapterConfig          `yaml:"adapters"`
	Source   SourceConfig             `yaml:"source"`
}

// CacheConfig holds asset cache settings.
type CacheConfig struct {
	Dir string   `yaml:"dir"`
	TTL Duration `yaml:"ttl"`
}

// SandboxConfig holds sandboxed execution settings.
type SandboxConfig struct {
	Timeout       Duration `yaml:"timeout"`
	MaxCalls      int      `yaml:"max_calls"`
	WindowSeconds int      `yaml:"window_seconds"`
}

// ServiceConfig is a per-upstream circuit breaker override.
// Name is derived from the map key, not stored in the struct.
type ServiceConfig struct {
	FailureThreshold int      `yaml:"failure_threshold"`
	RecoveryTimeout  Duration `yaml:"recovery_timeout"`
}

// AdapterConfig configures one progress-event publisher.
type AdapterConfig struct {
	Type    string            `yaml:"type"` // webhook, redis, or nats
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"` // redis channel / nats subject
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// SourceConfig selects the upstream asset source.
type SourceConfig struct {
	Backend     string `yaml:"backend"` // http (default) or s3
	Bucket      string `yaml:"bucket"`
	Prefix      string `yaml:"prefix"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// Addr returns the host:port endpoint string.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ServiceNames returns configured service names in deterministic order.
func (c *Config) ServiceNames() []string {
	names := make([]string, 0, len(c.Services))
	for name := range c.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ApplyDefaults fills zero values with documented defaults.
func (c *Config) ApplyDefaults() {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Timeout.Duration == 0 {
		c.Timeout.Duration = DefaultTimeout
	}
	if c.Attempts == 0 {
		c.Attempts = DefaultConnectAttempts
	}
	if c.Backoff.Duration == 0 {
		c.Backoff.Duration = DefaultBackoffBase
	}
	if c.Cache.TTL.Duration == 0 {
		c.Cache.TTL.Duration = DefaultCacheTTL
	}
	if c.Sandbox.Timeout.Duration == 0 {
		c.Sandbox.Timeout.Duration = DefaultExecTimeout
	}
	if c.Sandbox.MaxCalls == 0 {
		c.Sandbox.MaxCalls = DefaultMaxCalls
	}
	if c.Sandbox.WindowSeconds == 0 {
		c.Sandbox.WindowSeconds = DefaultWindowSeconds
	}
}
