// ABOUTME: Configuration loading and parsing for fleet
// ABOUTME: Supports YAML files with environment variable expansion, defaults and duration parsing

package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete fleet configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds the admin API listen address
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds admin API authentication. An empty secret disables auth.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// UpstreamConfig describes the service accounts connect to
type UpstreamConfig struct {
	APIBaseURL string `yaml:"api_base_url"`
	GatewayURL string `yaml:"gateway_url"`
	UserAgent  string `yaml:"user_agent"`

	ProbeTimeout    time.Duration `yaml:"-"`
	ProbeTimeoutRaw string        `yaml:"probe_timeout"`
}

// GatewayConfig tunes each account's gateway connection
type GatewayConfig struct {
	OS      string `yaml:"os"`
	Browser string `yaml:"browser"`
	Device  string `yaml:"device"`

	Reconnect       bool `yaml:"reconnect"`
	ZombieDetection bool `yaml:"zombie_detection"`

	HandshakeTimeout    time.Duration `yaml:"-"`
	WriteTimeout        time.Duration `yaml:"-"`
	MaxReconnectElapsed time.Duration `yaml:"-"`
	PresenceDedupeTTL   time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	HandshakeTimeoutRaw    string `yaml:"handshake_timeout"`
	WriteTimeoutRaw        string `yaml:"write_timeout"`
	MaxReconnectElapsedRaw string `yaml:"max_reconnect_elapsed"`
	PresenceDedupeTTLRaw   string `yaml:"presence_dedupe_ttl"`
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

// Defaults returns a Config with every optional field filled in.
func Defaults() Config {
	return Config{
		Server: ServerConfig{HTTPAddr: "127.0.0.1:8090"},
		Upstream: UpstreamConfig{
			ProbeTimeout: 10 * time.Second,
		},
		Gateway: GatewayConfig{
			OS:                "linux",
			Browser:           "fleet",
			Device:            "fleet",
			Reconnect:         true,
			ZombieDetection:   true,
			HandshakeTimeout:  30 * time.Second,
			WriteTimeout:      10 * time.Second,
			PresenceDedupeTTL: time.Minute,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Metrics: MetricsConfig{Path: "/metrics"},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded, unset fields
// take their Defaults value and FLEET_DB_PATH overrides database.path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML config content. See Load.
func Parse(data []byte) (*Config, error) {
	expandedData := expandEnvVars(string(data))

	cfg := Defaults()
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if p := os.Getenv("FLEET_DB_PATH"); p != "" {
		cfg.Database.Path = p
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Upstream.APIBaseURL == "" {
		return fmt.Errorf("upstream.api_base_url is required")
	}
	if u, err := url.Parse(c.Upstream.APIBaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("upstream.api_base_url must be an http(s) URL")
	}

	if c.Upstream.GatewayURL == "" {
		return fmt.Errorf("upstream.gateway_url is required")
	}
	if u, err := url.Parse(c.Upstream.GatewayURL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		return fmt.Errorf("upstream.gateway_url must be a ws(s) URL")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error")
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format must be json or text")
	}

	if c.Metrics.Enabled && c.Metrics.Path == "" {
		return fmt.Errorf("metrics.path is required when metrics are enabled")
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
		{"upstream.probe_timeout", cfg.Upstream.ProbeTimeoutRaw, &cfg.Upstream.ProbeTimeout},
		{"gateway.handshake_timeout", cfg.Gateway.HandshakeTimeoutRaw, &cfg.Gateway.HandshakeTimeout},
		{"gateway.write_timeout", cfg.Gateway.WriteTimeoutRaw, &cfg.Gateway.WriteTimeout},
		{"gateway.max_reconnect_elapsed", cfg.Gateway.MaxReconnectElapsedRaw, &cfg.Gateway.MaxReconnectElapsed},
		{"gateway.presence_dedupe_ttl", cfg.Gateway.PresenceDedupeTTLRaw, &cfg.Gateway.PresenceDedupeTTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must not be negative", f.name)
		}
		*f.dst = d
	}

	return nil
}
