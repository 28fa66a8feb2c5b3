// Package config handles application configuration.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds all configuration for the application. It is read once
// at startup and never reloaded.
type Config struct {
	App      AppConfig
	Server   ServerConfig
	Upstream UpstreamConfig
	Rate     RateLimitConfig
	Filter   FilterConfig
	Geo      GeoConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Env      string
	LogLevel string
}

// IsDevelopment returns true if the app is running in development mode.
func (a AppConfig) IsDevelopment() bool {
	return a.Env == "development" || a.Env == "dev"
}

// IsProduction returns true if the app is running in production mode.
func (a AppConfig) IsProduction() bool {
	return a.Env == "production" || a.Env == "prod"
}

// ServerConfig holds server-specific configuration.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Address returns the server address in host:port format.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// UpstreamConfig points at the origin requests are forwarded to.
type UpstreamConfig struct {
	URL string // empty serves the built-in origin
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	Enabled         bool
	Points          int
	Duration        time.Duration
	CleanupInterval time.Duration
}

// FilterConfig holds the static request classification lists.
type FilterConfig struct {
	ExemptPaths       []string `toml:"exempt_paths"`
	BlockedIPs        []string `toml:"blocked_ips"`
	BlockedUserAgents []string `toml:"blocked_user_agents"`
	AllowedCountries  []string `toml:"allowed_countries"`
	JSHeader          string   `toml:"js_header"`
	PolicyFile        string   `toml:"-"`
}

// GeoConfig configures country resolution.
type GeoConfig struct {
	CountryHeaders []string          `toml:"country_headers"`
	Prefixes       map[string]string `toml:"prefixes"` // CIDR -> country
}

// policyFile is the TOML layout of FILTER_POLICY_FILE. Only keys present
// in the file override the environment.
type policyFile struct {
	Filter FilterConfig `toml:"filter"`
	Geo    GeoConfig    `toml:"geo"`
}

// Load reads configuration from a .env file (if any), the environment,
// and the optional policy file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	// App config
	cfg.App.Env = getEnvOrDefault("APP_ENV", "development")
	cfg.App.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	// Server config
	cfg.Server.Host = getEnvOrDefault("SERVER_HOST", "0.0.0.0")

	port, err := getEnvAsInt("SERVER_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_PORT: %w", err)
	}
	cfg.Server.Port = port

	readTimeout, err := getEnvAsDuration("SERVER_READ_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_READ_TIMEOUT: %w", err)
	}
	cfg.Server.ReadTimeout = readTimeout

	writeTimeout, err := getEnvAsDuration("SERVER_WRITE_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_WRITE_TIMEOUT: %w", err)
	}
	cfg.Server.WriteTimeout = writeTimeout

	shutdownTimeout, err := getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_SHUTDOWN_TIMEOUT: %w", err)
	}
	cfg.Server.ShutdownTimeout = shutdownTimeout

	cfg.Upstream.URL = getEnvOrDefault("UPSTREAM_URL", "")

	// Rate limit config
	enabled, err := getEnvAsBool("RATE_LIMIT_ENABLED", true)
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_ENABLED: %w", err)
	}
	cfg.Rate.Enabled = enabled

	points, err := getEnvAsInt("RATE_LIMIT_POINTS", 20)
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_POINTS: %w", err)
	}
	cfg.Rate.Points = points

	duration, err := getEnvAsDuration("RATE_LIMIT_DURATION", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_DURATION: %w", err)
	}
	cfg.Rate.Duration = duration

	cleanup, err := getEnvAsDuration("RATE_LIMIT_CLEANUP_INTERVAL", 0)
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_CLEANUP_INTERVAL: %w", err)
	}
	cfg.Rate.CleanupInterval = cleanup

	// Filter config
	cfg.Filter.ExemptPaths = getEnvAsList("FILTER_EXEMPT_PATHS", []string{"/api/js-check", "/health", "/ready", "/metrics"})
	cfg.Filter.BlockedIPs = getEnvAsList("FILTER_BLOCKED_IPS", []string{"123.456.789.000"})
	cfg.Filter.BlockedUserAgents = getEnvAsList("FILTER_BLOCKED_USER_AGENTS", []string{"curl", "wget", "bot", "spider", "crawl"})
	cfg.Filter.AllowedCountries = getEnvAsList("FILTER_ALLOWED_COUNTRIES", []string{"AU", "NG"})
	cfg.Filter.JSHeader = getEnvOrDefault("FILTER_JS_HEADER", "x-js-enabled")
	cfg.Filter.PolicyFile = getEnvOrDefault("FILTER_POLICY_FILE", "")

	// Geo config
	cfg.Geo.CountryHeaders = getEnvAsList("GEO_COUNTRY_HEADERS", []string{"X-Vercel-IP-Country", "CF-IPCountry"})
	prefixes, err := getEnvAsMap("GEO_PREFIXES")
	if err != nil {
		return nil, fmt.Errorf("invalid GEO_PREFIXES: %w", err)
	}
	cfg.Geo.Prefixes = prefixes

	if cfg.Filter.PolicyFile != "" {
		if err := cfg.applyPolicyFile(cfg.Filter.PolicyFile); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyPolicyFile overrides filter and geo settings with the keys
// defined in a TOML file.
func (c *Config) applyPolicyFile(path string) error {
	var pf policyFile
	md, err := toml.DecodeFile(path, &pf)
	if err != nil {
		return fmt.Errorf("read policy file %s: %w", path, err)
	}

	if md.IsDefined("filter", "exempt_paths") {
		c.Filter.ExemptPaths = pf.Filter.ExemptPaths
	}
	if md.IsDefined("filter", "blocked_ips") {
		c.Filter.BlockedIPs = pf.Filter.BlockedIPs
	}
	if md.IsDefined("filter", "blocked_user_agents") {
		c.Filter.BlockedUserAgents = pf.Filter.BlockedUserAgents
	}
	if md.IsDefined("filter", "allowed_countries") {
		c.Filter.AllowedCountries = pf.Filter.AllowedCountries
	}
	if md.IsDefined("filter", "js_header") {
		c.Filter.JSHeader = pf.Filter.JSHeader
	}
	if md.IsDefined("geo", "country_headers") {
		c.Geo.CountryHeaders = pf.Geo.CountryHeaders
	}
	if md.IsDefined("geo", "prefixes") {
		c.Geo.Prefixes = pf.Geo.Prefixes
	}

	return nil
}

// Validate checks that the configuration can be served.
func (c *Config) Validate() error {
	if c.Rate.Enabled {
		if c.Rate.Points <= 0 {
			return fmt.Errorf("%w: rate limit points must be positive, got %d", ErrInvalidConfig, c.Rate.Points)
		}
		if c.Rate.Duration <= 0 {
			return fmt.Errorf("%w: rate limit duration must be positive, got %s", ErrInvalidConfig, c.Rate.Duration)
		}
	}
	if c.Rate.CleanupInterval < 0 {
		return fmt.Errorf("%w: cleanup interval must not be negative", ErrInvalidConfig)
	}
	if strings.TrimSpace(c.Filter.JSHeader) == "" {
		return fmt.Errorf("%w: js header name must not be empty", ErrInvalidConfig)
	}
	if c.Upstream.URL != "" {
		u, err := url.Parse(c.Upstream.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: upstream url %q must be an absolute http(s) URL", ErrInvalidConfig, c.Upstream.URL)
		}
	}
	return nil
}

// UpstreamEnabled returns true if requests are proxied to an origin.
func (c *Config) UpstreamEnabled() bool {
	return c.Upstream.URL != ""
}

// getEnvOrDefault returns the environment variable value or a default.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt returns the environment variable as an integer.
func getEnvAsInt(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	return strconv.Atoi(valueStr)
}

// getEnvAsBool returns the environment variable as a boolean.
func getEnvAsBool(key string, defaultValue bool) (bool, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	return strconv.ParseBool(valueStr)
}

// getEnvAsDuration returns the environment variable as a duration.
func getEnvAsDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	return time.ParseDuration(valueStr)
}

// getEnvAsList splits a comma-separated variable, dropping blank items.
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(valueStr, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// getEnvAsMap parses "k1=v1,k2=v2".
func getEnvAsMap(key string) (map[string]string, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return nil, nil
	}
	out := make(map[string]string)
	for _, item := range strings.Split(valueStr, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		k, v, ok := strings.Cut(item, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("entry %q is not key=value", item)
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out, nil
}
