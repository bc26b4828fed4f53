package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENVIRONMENT", "")
	t.Setenv("EDON_ENV", "")

	cfg := Load()

	assert.True(t, cfg.AuthEnabled)
	assert.True(t, cfg.TokenHardening)
	assert.True(t, cfg.ValidateStrict)
	assert.True(t, cfg.MetricsEnabled)
	assert.True(t, cfg.RateLimitEnabled)
	assert.True(t, cfg.PersistDecisions)
	assert.False(t, cfg.CredentialsStrict)
	assert.False(t, cfg.MagEnabled)
	assert.False(t, cfg.DemoMode)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "edon_gateway.db", cfg.DatabasePath)
	assert.Equal(t, "8000", cfg.Port)
	assert.Equal(t, 60, cfg.RateLimitPerMinute)
	assert.Equal(t, 1000, cfg.RateLimitPerHour)
	assert.Equal(t, 10000, cfg.RateLimitPerDay)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Equal(t, []string{"/execute", "/clawdbot/invoke", "/edon/invoke"}, cfg.MagEnforcePaths)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("ENVIRONMENT", "Production")
	t.Setenv("EDON_AUTH_ENABLED", "false")
	t.Setenv("EDON_RATE_LIMIT_PER_MINUTE", "5")
	t.Setenv("EDON_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("EDON_LOG_LEVEL", "debug")
	t.Setenv("CLAWDBOT_GATEWAY_URL", "http://127.0.0.1:9100/")

	cfg := Load()

	assert.Equal(t, "production", cfg.Environment)
	assert.False(t, cfg.AuthEnabled)
	assert.Equal(t, 5, cfg.RateLimitPerMinute)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, "http://127.0.0.1:9100", cfg.ClawdbotGatewayURL)
}

func TestIsProduction(t *testing.T) {
	cfg := &Config{Environment: "development"}
	assert.False(t, cfg.IsProduction())

	cfg.Environment = "production"
	assert.True(t, cfg.IsProduction())

	// Strict credentials with auth enabled hardens a dev environment.
	cfg = &Config{Environment: "development", CredentialsStrict: true, AuthEnabled: true}
	assert.True(t, cfg.IsProduction())

	cfg.AuthEnabled = false
	assert.False(t, cfg.IsProduction())
}

func TestValidateWarnings(t *testing.T) {
	cfg := &Config{
		TokenHardening: true,
		CORSOrigins:    []string{"*"},
	}
	warnings := cfg.Validate()

	require.NotEmpty(t, warnings)
	assert.Contains(t, warnings[0], "EDON_TOKEN_HARDENING")

	var corsWarned bool
	for _, w := range warnings {
		if w == "CORS allows all origins (*); set EDON_CORS_ORIGINS to explicit origins" {
			corsWarned = true
		}
	}
	assert.True(t, corsWarned)
}

func TestCheckStartupRejectsMissingToken(t *testing.T) {
	cfg := &Config{AuthEnabled: true}
	err := cfg.CheckStartup()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "EDON_API_TOKEN")

	// Strict credentials allow DB-only auth with no env token.
	cfg.CredentialsStrict = true
	cfg.CORSOrigins = []string{"https://edoncore.com"}
	assert.NoError(t, cfg.CheckStartup())
}

func TestCheckStartupRejectsPlaceholderTokenInProduction(t *testing.T) {
	cfg := &Config{
		Environment: "production",
		AuthEnabled: true,
		APIToken:    "your-secret-token",
		CORSOrigins: []string{"https://edoncore.com"},
	}
	err := cfg.CheckStartup()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shipped default")
}

func TestCheckStartupRejectsWildcardCORSInProduction(t *testing.T) {
	cfg := &Config{
		Environment: "production",
		APIToken:    "t0ken",
		CORSOrigins: []string{"*"},
	}
	err := cfg.CheckStartup()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "EDON_CORS_ORIGINS")
}

func TestServeOrigins(t *testing.T) {
	cfg := &Config{Environment: "development", CORSOrigins: []string{"*"}}
	origins := cfg.ServeOrigins()
	assert.Contains(t, origins, "https://edoncore.com")
	assert.Contains(t, origins, "http://localhost:3000")

	cfg.Environment = "production"
	origins = cfg.ServeOrigins()
	assert.Contains(t, origins, "https://edoncore.com")
	assert.NotContains(t, origins, "http://localhost:3000")

	cfg.CORSOrigins = []string{"https://only.example"}
	assert.Equal(t, []string{"https://only.example"}, cfg.ServeOrigins())
}
