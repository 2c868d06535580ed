// Package config loads application configuration from environment
// variables with an AUTHCORE_ prefix.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Auth          AuthConfig
	Flags         FlagsConfig
	Storage       StorageConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// AuthConfig holds identity-provider and verification settings.
type AuthConfig struct {
	// IssuerURL is the exact `iss` value accepted on tokens.
	IssuerURL string
	// Audience must appear in the token's `aud` claim.
	Audience string
	// JWKSEndpoint is the provider's key set URL. Defaults to
	// <IssuerURL>/.well-known/jwks.json.
	JWKSEndpoint string
	// TokenEndpoint is the provider's OAuth2 token URL. Defaults to
	// <IssuerURL>/oauth/token.
	TokenEndpoint string
	ClientID      string
	ClientSecret  string

	JWKSRefreshInterval  time.Duration
	JWKSStalenessCeiling time.Duration

	// StrictRoleCheck re-validates the token's role claim against the
	// directory on every authenticated request, at the cost of a
	// database read.
	StrictRoleCheck bool
}

// FlagsConfig holds feature-flag evaluation settings.
type FlagsConfig struct {
	// CacheFreshFor is the window an evaluation result is served
	// without recomputation.
	CacheFreshFor time.Duration
	// CacheStaleCeiling bounds how old a cached result may be and still
	// serve as a fallback when the definition store is unreachable.
	CacheStaleCeiling time.Duration
	CacheMaxEntries   int
	// RedisTTL bounds the shared definition cache entries.
	RedisTTL time.Duration
	// DefaultFallback is returned for flags with no configured fallback
	// when neither the store nor the cache can answer.
	DefaultFallback bool
}

// StorageConfig holds database and cache connection settings.
type StorageConfig struct {
	PostgresURL   string
	RedisURL      string
	RedisPassword string
	RedisDB       int
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       string
	MetricsEnabled bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("AUTHCORE_HOST", "0.0.0.0"),
			Port:            getEnv("AUTHCORE_PORT", "8080"),
			ReadTimeout:     getEnvDuration("AUTHCORE_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("AUTHCORE_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("AUTHCORE_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("AUTHCORE_SHUTDOWN_TIMEOUT", 30*time.Second),
			HealthPort:      getEnv("AUTHCORE_HEALTH_PORT", "9090"),
		},
		Auth: AuthConfig{
			IssuerURL:            getEnv("AUTHCORE_ISSUER_URL", ""),
			Audience:             getEnv("AUTHCORE_AUDIENCE", ""),
			JWKSEndpoint:         getEnv("AUTHCORE_JWKS_ENDPOINT", ""),
			TokenEndpoint:        getEnv("AUTHCORE_TOKEN_ENDPOINT", ""),
			ClientID:             getEnv("AUTHCORE_CLIENT_ID", ""),
			ClientSecret:         getEnv("AUTHCORE_CLIENT_SECRET", ""),
			JWKSRefreshInterval:  getEnvDuration("AUTHCORE_JWKS_REFRESH_INTERVAL", time.Hour),
			JWKSStalenessCeiling: getEnvDuration("AUTHCORE_JWKS_STALENESS_CEILING", 24*time.Hour),
			StrictRoleCheck:      getEnvBool("AUTHCORE_STRICT_ROLE_CHECK", false),
		},
		Flags: FlagsConfig{
			CacheFreshFor:     getEnvDuration("AUTHCORE_FLAG_CACHE_FRESH_FOR", 2*time.Minute),
			CacheStaleCeiling: getEnvDuration("AUTHCORE_FLAG_CACHE_STALE_CEILING", 10*time.Minute),
			CacheMaxEntries:   getEnvInt("AUTHCORE_FLAG_CACHE_MAX_ENTRIES", 10000),
			RedisTTL:          getEnvDuration("AUTHCORE_FLAG_REDIS_TTL", time.Minute),
			DefaultFallback:   getEnvBool("AUTHCORE_FLAG_DEFAULT_FALLBACK", false),
		},
		Storage: StorageConfig{
			PostgresURL:   getEnv("AUTHCORE_POSTGRES_URL", ""),
			RedisURL:      getEnv("AUTHCORE_REDIS_URL", ""),
			RedisPassword: getEnv("AUTHCORE_REDIS_PASSWORD", ""),
			RedisDB:       getEnvInt("AUTHCORE_REDIS_DB", 0),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("AUTHCORE_LOG_LEVEL", "info"),
			MetricsEnabled: getEnvBool("AUTHCORE_METRICS_ENABLED", true),
		},
	}

	cfg.applyDerived()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// applyDerived fills endpoint defaults derived from the issuer URL.
func (c *Config) applyDerived() {
	base := strings.TrimSuffix(c.Auth.IssuerURL, "/")
	if c.Auth.JWKSEndpoint == "" && base != "" {
		c.Auth.JWKSEndpoint = base + "/.well-known/jwks.json"
	}
	if c.Auth.TokenEndpoint == "" && base != "" {
		c.Auth.TokenEndpoint = base + "/oauth/token"
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Auth.IssuerURL == "" {
		return fmt.Errorf("issuer URL is required")
	}
	if c.Auth.Audience == "" {
		return fmt.Errorf("audience is required")
	}
	if c.Auth.JWKSEndpoint == "" {
		return fmt.Errorf("JWKS endpoint is required")
	}

	if c.Flags.CacheFreshFor <= 0 {
		return fmt.Errorf("flag cache freshness window must be positive")
	}
	if c.Flags.CacheStaleCeiling < c.Flags.CacheFreshFor {
		return fmt.Errorf("flag cache staleness ceiling must not be below the freshness window")
	}

	if c.Auth.StrictRoleCheck && c.Storage.PostgresURL == "" {
		return fmt.Errorf("strict role check requires a postgres URL for the directory")
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
