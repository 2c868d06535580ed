package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("AUTHCORE_ISSUER_URL", "https://id.example.com/")
	t.Setenv("AUTHCORE_AUDIENCE", "https://api.example.com")
}

func TestLoadConfigDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "9090", cfg.Server.HealthPort)
	assert.Equal(t, time.Hour, cfg.Auth.JWKSRefreshInterval)
	assert.Equal(t, 24*time.Hour, cfg.Auth.JWKSStalenessCeiling)
	assert.Equal(t, 2*time.Minute, cfg.Flags.CacheFreshFor)
	assert.Equal(t, 10*time.Minute, cfg.Flags.CacheStaleCeiling)
	assert.False(t, cfg.Auth.StrictRoleCheck)
}

func TestLoadConfigDerivesEndpoints(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "https://id.example.com/.well-known/jwks.json", cfg.Auth.JWKSEndpoint)
	assert.Equal(t, "https://id.example.com/oauth/token", cfg.Auth.TokenEndpoint)
}

func TestLoadConfigExplicitEndpointsWin(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("AUTHCORE_JWKS_ENDPOINT", "https://keys.example.com/jwks")
	t.Setenv("AUTHCORE_TOKEN_ENDPOINT", "https://id.example.com/custom/token")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "https://keys.example.com/jwks", cfg.Auth.JWKSEndpoint)
	assert.Equal(t, "https://id.example.com/custom/token", cfg.Auth.TokenEndpoint)
}

func TestLoadConfigOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("AUTHCORE_PORT", "8888")
	t.Setenv("AUTHCORE_JWKS_REFRESH_INTERVAL", "30m")
	t.Setenv("AUTHCORE_FLAG_CACHE_FRESH_FOR", "45s")
	t.Setenv("AUTHCORE_LOG_LEVEL", "debug")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "8888", cfg.Server.Port)
	assert.Equal(t, 30*time.Minute, cfg.Auth.JWKSRefreshInterval)
	assert.Equal(t, 45*time.Second, cfg.Flags.CacheFreshFor)
	assert.Equal(t, "debug", cfg.Observability.LogLevel)
}

func TestLoadConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{
			name: "missing issuer",
			env:  map[string]string{"AUTHCORE_AUDIENCE": "https://api.example.com"},
		},
		{
			name: "missing audience",
			env:  map[string]string{"AUTHCORE_ISSUER_URL": "https://id.example.com/"},
		},
		{
			name: "ports collide",
			env: map[string]string{
				"AUTHCORE_ISSUER_URL":  "https://id.example.com/",
				"AUTHCORE_AUDIENCE":    "https://api.example.com",
				"AUTHCORE_PORT":        "8080",
				"AUTHCORE_HEALTH_PORT": "8080",
			},
		},
		{
			name: "stale ceiling below freshness window",
			env: map[string]string{
				"AUTHCORE_ISSUER_URL":               "https://id.example.com/",
				"AUTHCORE_AUDIENCE":                 "https://api.example.com",
				"AUTHCORE_FLAG_CACHE_FRESH_FOR":     "10m",
				"AUTHCORE_FLAG_CACHE_STALE_CEILING": "2m",
			},
		},
		{
			name: "strict mode requires a database",
			env: map[string]string{
				"AUTHCORE_ISSUER_URL":        "https://id.example.com/",
				"AUTHCORE_AUDIENCE":          "https://api.example.com",
				"AUTHCORE_STRICT_ROLE_CHECK": "true",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig()
			assert.Error(t, err)
		})
	}
}
