// ABOUTME: Configuration loading and parsing for folio-gateway
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Lockout backends
const (
	LockoutBackendMemory = "memory"
	LockoutBackendSQLite = "sqlite"
	LockoutBackendRedis  = "redis"
)

// MinSecretLength mirrors auth.MinSecretLength so config validation can
// reject short secrets before anything else starts.
const MinSecretLength = 32

// Config represents the complete folio-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	Lockout   LockoutConfig   `yaml:"lockout" toml:"lockout"`
	RateLimit RateLimitConfig `yaml:"ratelimit" toml:"ratelimit"`
	Upstream  UpstreamConfig  `yaml:"upstream" toml:"upstream"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`

	// TrustedProxies lists CIDR ranges whose X-Forwarded-For headers are honored
	TrustedProxies []string `yaml:"trusted_proxies" toml:"trusted_proxies"`

	ReadHeaderTimeout    time.Duration `yaml:"-" toml:"-"`
	ReadHeaderTimeoutRaw string        `yaml:"read_header_timeout" toml:"read_header_timeout"`

	// Parsed from TrustedProxies by Load
	TrustedPrefixes []netip.Prefix `yaml:"-" toml:"-"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	HTTPS     bool   `yaml:"https" toml:"https"` // serve :443 with tailnet certs
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// AuthConfig holds session and cookie configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`

	// SecureCookies controls the Secure cookie attribute. Defaults to true;
	// only turn it off for plain-http local development.
	SecureCookies *bool `yaml:"secure_cookies" toml:"secure_cookies"`

	LoginPath   string `yaml:"login_path" toml:"login_path"`
	LandingPath string `yaml:"landing_path" toml:"landing_path"`

	SessionDuration time.Duration `yaml:"-" toml:"-"`
	RefreshMargin   time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	SessionDurationRaw string `yaml:"session_duration" toml:"session_duration"`
	RefreshMarginRaw   string `yaml:"refresh_margin" toml:"refresh_margin"`
}

// Secure reports whether session cookies carry the Secure attribute.
func (a AuthConfig) Secure() bool {
	return a.SecureCookies == nil || *a.SecureCookies
}

// LockoutConfig holds brute-force lockout policy and backend selection
type LockoutConfig struct {
	Backend     string `yaml:"backend" toml:"backend"`
	MaxAttempts int    `yaml:"max_attempts" toml:"max_attempts"`

	Window    time.Duration `yaml:"-" toml:"-"`
	WindowRaw string        `yaml:"window" toml:"window"`

	RedisAddr     string `yaml:"redis_addr" toml:"redis_addr"`
	RedisPassword string `yaml:"redis_password" toml:"redis_password"`
	RedisDB       int    `yaml:"redis_db" toml:"redis_db"`
	RedisPrefix   string `yaml:"redis_prefix" toml:"redis_prefix"`
}

// RateLimitConfig throttles the auth endpoint per client IP
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" toml:"requests_per_second"`
	Burst             int     `yaml:"burst" toml:"burst"`
}

// UpstreamConfig points at the application that serves the admin pages and
// content APIs behind the gate. Empty URL serves a placeholder.
type UpstreamConfig struct {
	URL string `yaml:"url" toml:"url"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `yaml:"level" toml:"level"`
	Format     string `yaml:"format" toml:"format"`
	File       string `yaml:"file" toml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" toml:"max_backups"`
	Compress   bool   `yaml:"compress" toml:"compress"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := Parse(data, formatFromPath(path))
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Format identifies a config file encoding
type Format string

// Supported config formats
const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

func formatFromPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FormatTOML
	}
	return FormatYAML
}

// Parse decodes raw config bytes in the given format, then applies
// defaults, duration parsing and validation.
func Parse(data []byte, format Format) (*Config, error) {
	// Expand environment variables in the raw content
	expanded := expandEnvVars(string(data))

	var cfg Config
	switch format {
	case FormatTOML:
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	default:
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
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

// applyDefaults fills zero values with the documented defaults
func (c *Config) applyDefaults() {
	if c.Server.ReadHeaderTimeout == 0 {
		c.Server.ReadHeaderTimeout = 10 * time.Second
	}
	if c.Auth.SessionDuration == 0 {
		c.Auth.SessionDuration = 24 * time.Hour
	}
	if c.Auth.RefreshMargin == 0 {
		c.Auth.RefreshMargin = 5 * time.Minute
	}
	if c.Auth.LoginPath == "" {
		c.Auth.LoginPath = "/admin/login"
	}
	if c.Auth.LandingPath == "" {
		c.Auth.LandingPath = "/admin/dashboard"
	}
	if c.Lockout.Backend == "" {
		c.Lockout.Backend = LockoutBackendMemory
	}
	if c.Lockout.MaxAttempts == 0 {
		c.Lockout.MaxAttempts = 5
	}
	if c.Lockout.Window == 0 {
		c.Lockout.Window = 15 * time.Minute
	}
	if c.Lockout.RedisPrefix == "" {
		c.Lockout.RedisPrefix = "folio:lockout:"
	}
	if c.RateLimit.RequestsPerSecond == 0 {
		c.RateLimit.RequestsPerSecond = 5
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 10
	}
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = 10
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = 3
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// Server address is required unless Tailscale is enabled
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	// Tailscale requires a hostname
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if len(c.Auth.JWTSecret) < MinSecretLength {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes", MinSecretLength)
	}

	if c.Auth.RefreshMargin >= c.Auth.SessionDuration {
		return fmt.Errorf("auth.refresh_margin (%s) must be shorter than auth.session_duration (%s)",
			c.Auth.RefreshMargin, c.Auth.SessionDuration)
	}

	if !strings.HasPrefix(c.Auth.LoginPath, "/") || !strings.HasPrefix(c.Auth.LandingPath, "/") {
		return fmt.Errorf("auth.login_path and auth.landing_path must be absolute paths")
	}

	switch c.Lockout.Backend {
	case LockoutBackendMemory, LockoutBackendSQLite:
	case LockoutBackendRedis:
		if c.Lockout.RedisAddr == "" {
			return fmt.Errorf("lockout.redis_addr is required when lockout.backend is redis")
		}
	default:
		return fmt.Errorf("lockout.backend %q is not one of memory, sqlite, redis", c.Lockout.Backend)
	}

	if c.Lockout.MaxAttempts < 1 {
		return fmt.Errorf("lockout.max_attempts must be positive")
	}

	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("ratelimit values must not be negative")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
// and the trusted proxy strings into prefixes.
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"server.read_header_timeout", cfg.Server.ReadHeaderTimeoutRaw, &cfg.Server.ReadHeaderTimeout},
		{"auth.session_duration", cfg.Auth.SessionDurationRaw, &cfg.Auth.SessionDuration},
		{"auth.refresh_margin", cfg.Auth.RefreshMarginRaw, &cfg.Auth.RefreshMargin},
		{"lockout.window", cfg.Lockout.WindowRaw, &cfg.Lockout.Window},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %q", f.name, f.raw)
		}
		*f.dst = d
	}

	cfg.Server.TrustedPrefixes = cfg.Server.TrustedPrefixes[:0]
	for _, raw := range cfg.Server.TrustedProxies {
		prefix, err := parsePrefix(raw)
		if err != nil {
			return fmt.Errorf("parsing server.trusted_proxies %q: %w", raw, err)
		}
		cfg.Server.TrustedPrefixes = append(cfg.Server.TrustedPrefixes, prefix)
	}

	return nil
}

// parsePrefix accepts either a CIDR range or a bare address
func parsePrefix(raw string) (netip.Prefix, error) {
	raw = strings.TrimSpace(raw)
	if strings.Contains(raw, "/") {
		return netip.ParsePrefix(raw)
	}
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return netip.Prefix{}, err
	}
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}
