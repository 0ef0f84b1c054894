// Package config loads the server configuration from YAML with environment
// variable expansion.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Sentinel errors for configuration validation.
var (
	ErrMissingUpstreamURL = errors.New("config: upstream.url is required")
	ErrMissingJWTSecret   = errors.New("config: auth.jwt_secret is required unless auth is disabled")
)

// Config holds all server configuration.
type Config struct {
	Listen   string         `yaml:"listen"`
	DBPath   string         `yaml:"db_path"`
	Log      LogConfig      `yaml:"log"`
	Cache    CacheConfig    `yaml:"cache"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Auth     AuthConfig     `yaml:"auth"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level string `yaml:"level"` // debug|info|warn|error
}

// CacheConfig controls the query cache.
type CacheConfig struct {
	MaxEntries      int           `yaml:"max_entries"`
	TTL             time.Duration `yaml:"ttl"`
	DefaultTopK     int           `yaml:"default_top_k"`
	UpstreamTimeout time.Duration `yaml:"upstream_timeout"`
}

// UpstreamConfig points at the RAG pipeline service.
type UpstreamConfig struct {
	URL            string        `yaml:"url"`
	APIKey         string        `yaml:"api_key"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
}

// AuthConfig controls bearer-token verification on the HTTP surface.
// Token issuance happens elsewhere; this service only verifies.
type AuthConfig struct {
	Disabled  bool   `yaml:"disabled"`
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
	Audience  string `yaml:"audience"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen: ":8080",
		DBPath: "remedy.db",
		Log: LogConfig{
			Level: "info",
		},
		Cache: CacheConfig{
			MaxEntries:      1000,
			TTL:             24 * time.Hour,
			DefaultTopK:     5,
			UpstreamTimeout: 60 * time.Second,
		},
		Upstream: UpstreamConfig{
			Timeout:        30 * time.Second,
			MaxAttempts:    3,
			InitialBackoff: 200 * time.Millisecond,
		},
	}
}

// Load reads a YAML config file, expanding `${VAR}` references from the
// environment. A referenced but unset variable is an error, so secrets
// cannot silently resolve to empty strings.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}

	expanded, err := expandEnvStrict(string(data))
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required fields.
func (c *Config) Validate() error {
	if c.Upstream.URL == "" {
		return ErrMissingUpstreamURL
	}
	if !c.Auth.Disabled && c.Auth.JWTSecret == "" {
		return ErrMissingJWTSecret
	}
	return nil
}

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvStrict expands ${VAR} references and errors on unset variables.
// `$$` emits a literal `$`.
func expandEnvStrict(s string) (string, error) {
	const dollarSentinel = "\x00DOLLAR\x00"
	s = strings.ReplaceAll(s, "$$", dollarSentinel)

	missing := make(map[string]struct{})
	for _, match := range envVarPattern.FindAllStringSubmatch(s, -1) {
		if _, ok := os.LookupEnv(match[1]); !ok {
			missing[match[1]] = struct{}{}
		}
	}
	if len(missing) > 0 {
		keys := make([]string, 0, len(missing))
		for k := range missing {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return "", fmt.Errorf("missing environment variables: %s", strings.Join(keys, ", "))
	}

	s = envVarPattern.ReplaceAllStringFunc(s, func(ref string) string {
		return os.Getenv(ref[2 : len(ref)-1])
	})
	return strings.ReplaceAll(s, dollarSentinel, "$"), nil
}
