// ABOUTME: Configuration loading and parsing for toolgate
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete toolgate configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Transport TransportConfig `yaml:"transport"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Auth      AuthConfig      `yaml:"auth"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	MCP       MCPConfig       `yaml:"mcp"`
}

// ServerConfig holds listener configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
	WSPath   string `yaml:"ws_path"`
	ServerID string `yaml:"server_id"`
}

// TransportConfig holds connection handling configuration
type TransportConfig struct {
	PingInterval time.Duration `yaml:"-"`
	WriteTimeout time.Duration `yaml:"-"`

	MaxMessageSize       int64 `yaml:"max_message_size"`
	BroadcastConcurrency int   `yaml:"broadcast_concurrency"`

	// Raw string values for YAML unmarshaling
	PingIntervalRaw string `yaml:"ping_interval"`
	WriteTimeoutRaw string `yaml:"write_timeout"`
}

// GatewayConfig holds invocation pipeline defaults
type GatewayConfig struct {
	DefaultTimeout    time.Duration `yaml:"-"`
	DefaultTimeoutRaw string        `yaml:"default_timeout"`

	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig holds the default breaker policy
type CircuitBreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold"`
	RecoveryTime     time.Duration `yaml:"-"`
	RecoveryTimeRaw  string        `yaml:"recovery_time"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret   string `yaml:"jwt_secret"`
	RequireAuth bool   `yaml:"require_auth"`
}

// LedgerConfig holds the invocation ledger configuration.
// An empty path disables the ledger.
type LedgerConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// MCPConfig holds the MCP HTTP endpoint configuration
type MCPConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPAddr: "127.0.0.1:8080",
			WSPath:   "/ws",
			ServerID: "toolgate",
		},
		Transport: TransportConfig{
			PingInterval:         30 * time.Second,
			WriteTimeout:         10 * time.Second,
			MaxMessageSize:       1 << 20,
			BroadcastConcurrency: 16,
		},
		Gateway: GatewayConfig{
			DefaultTimeout: 30 * time.Second,
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:          true,
				FailureThreshold: 5,
				RecoveryTime:     60 * time.Second,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		MCP: MCPConfig{
			Enabled: true,
		},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Fields absent from the file keep their Default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration content. See Load.
func Parse(data []byte) (*Config, error) {
	expandedData := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if !strings.HasPrefix(c.Server.WSPath, "/") {
		return fmt.Errorf("server.ws_path must start with /")
	}
	if c.Transport.PingInterval <= 0 {
		return fmt.Errorf("transport.ping_interval must be positive")
	}
	if c.Transport.WriteTimeout <= 0 {
		return fmt.Errorf("transport.write_timeout must be positive")
	}
	if c.Transport.MaxMessageSize <= 0 {
		return fmt.Errorf("transport.max_message_size must be positive")
	}
	if c.Transport.BroadcastConcurrency <= 0 {
		return fmt.Errorf("transport.broadcast_concurrency must be positive")
	}
	if c.Gateway.DefaultTimeout <= 0 {
		return fmt.Errorf("gateway.default_timeout must be positive")
	}

	cb := c.Gateway.CircuitBreaker
	if cb.Enabled {
		if cb.FailureThreshold < 1 {
			return fmt.Errorf("gateway.circuit_breaker.failure_threshold must be at least 1")
		}
		if cb.RecoveryTime <= 0 {
			return fmt.Errorf("gateway.circuit_breaker.recovery_time must be positive")
		}
	}

	if c.Auth.RequireAuth && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required when auth.require_auth is true")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format)
	}

	if c.Metrics.Enabled {
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			return fmt.Errorf("metrics.path must start with /")
		}
		if c.Metrics.Path == c.Server.WSPath {
			return fmt.Errorf("metrics.path and server.ws_path must differ")
		}
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"ping_interval", cfg.Transport.PingIntervalRaw, &cfg.Transport.PingInterval},
		{"write_timeout", cfg.Transport.WriteTimeoutRaw, &cfg.Transport.WriteTimeout},
		{"default_timeout", cfg.Gateway.DefaultTimeoutRaw, &cfg.Gateway.DefaultTimeout},
		{"recovery_time", cfg.Gateway.CircuitBreaker.RecoveryTimeRaw, &cfg.Gateway.CircuitBreaker.RecoveryTime},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
