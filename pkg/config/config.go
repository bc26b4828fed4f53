// Package config reads the gateway configuration from the environment
// once at boot. Values are plain fields; nothing re-reads the
// environment after Load.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// placeholderTokens are shipped defaults that must never authenticate
// production traffic.
var placeholderTokens = []string{
	"your-secret-token",
	"your-secret-token-change-me",
	"production-token-change-me",
}

// Config holds server configuration.
type Config struct {
	// Authentication
	AuthEnabled         bool
	APIToken            string
	TokenBindingEnabled bool
	AllowEnvTokenInProd bool

	// Security posture
	CredentialsStrict bool
	TokenHardening    bool
	NetworkGating     bool
	ValidateStrict    bool
	Environment       string

	// Database
	DatabasePath   string
	DatabaseURL    string
	RedisURL       string
	CredentialsKey string

	// Logging
	LogLevel    string
	JSONLogging bool

	// Monitoring
	MetricsEnabled bool
	OTLPEndpoint   string

	// Rate limiting
	RateLimitEnabled   bool
	RateLimitPerMinute int
	RateLimitPerHour   int
	RateLimitPerDay    int

	// CORS
	CORSOrigins []string

	// Server
	Host string
	Port string

	// Clawdbot gateway
	DefaultClawdbotCredentialID string
	ClawdbotGatewayURL          string
	ClawdbotGatewayToken        string

	// Session auth (Clerk-style JWKS)
	ClerkSecretKey    string
	ClerkJWKSURL      string
	ClerkJWKSCacheTTL time.Duration

	// Connect flows
	TelegramBotSecret  string
	TelegramConnectTTL time.Duration
	ConnectBaseURL     string
	GoogleClientID     string
	GoogleClientSecret string

	// MAG enforcement
	MagEnabled      bool
	MagURL          string
	MagEnforcePaths []string

	// Demo mode
	DemoMode     bool
	DemoTenantID string
	DemoAPIKey   string

	// Misc
	PersistDecisions  bool
	PolicyPacksFile   string
	SandboxDir        string
	EmailCredentialID string
	GitSHA            string
}

// Load loads configuration from environment variables.
func Load() *Config {
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = os.Getenv("EDON_ENV")
	}
	if env == "" {
		env = "development"
	}

	gitSHA := os.Getenv("GIT_SHA")
	if gitSHA == "" {
		gitSHA = envStr("EDON_GIT_SHA", "unknown")
	}

	return &Config{
		AuthEnabled:         envBool("EDON_AUTH_ENABLED", true),
		APIToken:            os.Getenv("EDON_API_TOKEN"),
		TokenBindingEnabled: envBool("EDON_TOKEN_BINDING_ENABLED", false),
		AllowEnvTokenInProd: envBool("EDON_ALLOW_ENV_TOKEN_IN_PROD", false),

		CredentialsStrict: envBool("EDON_CREDENTIALS_STRICT", false),
		TokenHardening:    envBool("EDON_TOKEN_HARDENING", true),
		NetworkGating:     envBool("EDON_NETWORK_GATING", false),
		ValidateStrict:    envBool("EDON_VALIDATE_STRICT", true),
		Environment:       strings.ToLower(env),

		DatabasePath:   envStr("EDON_DATABASE_PATH", "edon_gateway.db"),
		DatabaseURL:    os.Getenv("EDON_DATABASE_URL"),
		RedisURL:       os.Getenv("EDON_REDIS_URL"),
		CredentialsKey: os.Getenv("EDON_CREDENTIALS_KEY"),

		LogLevel:    strings.ToUpper(envStr("EDON_LOG_LEVEL", "INFO")),
		JSONLogging: envBool("EDON_JSON_LOGGING", false),

		MetricsEnabled: envBool("EDON_METRICS_ENABLED", true),
		OTLPEndpoint:   os.Getenv("EDON_OTLP_ENDPOINT"),

		RateLimitEnabled:   envBool("EDON_RATE_LIMIT_ENABLED", true),
		RateLimitPerMinute: envInt("EDON_RATE_LIMIT_PER_MINUTE", 60),
		RateLimitPerHour:   envInt("EDON_RATE_LIMIT_PER_HOUR", 1000),
		RateLimitPerDay:    envInt("EDON_RATE_LIMIT_PER_DAY", 10000),

		CORSOrigins: envList("EDON_CORS_ORIGINS", "*"),

		Host: envStr("EDON_HOST", "0.0.0.0"),
		Port: envStr("EDON_PORT", "8000"),

		DefaultClawdbotCredentialID: envStr("DEFAULT_CLAWDBOT_CREDENTIAL_ID", "clawdbot_gateway_tenant_dev"),
		ClawdbotGatewayURL:          strings.TrimRight(os.Getenv("CLAWDBOT_GATEWAY_URL"), "/"),
		ClawdbotGatewayToken:        os.Getenv("CLAWDBOT_GATEWAY_TOKEN"),

		ClerkSecretKey:    os.Getenv("CLERK_SECRET_KEY"),
		ClerkJWKSURL:      os.Getenv("CLERK_JWKS_URL"),
		ClerkJWKSCacheTTL: time.Duration(envInt("CLERK_JWKS_CACHE_TTL", 3600)) * time.Second,

		TelegramBotSecret:  firstEnv("EDON_TELEGRAM_BOT_SECRET", "TELEGRAM_BOT_SECRET"),
		TelegramConnectTTL: time.Duration(envInt("EDON_TELEGRAM_CONNECT_TTL_MIN", 10)) * time.Minute,
		ConnectBaseURL:     strings.TrimRight(firstEnv("EDON_CONNECT_BASE_URL", "CONNECT_BASE_URL"), "/"),
		GoogleClientID:     firstEnv("GOOGLE_CLIENT_ID", "GMAIL_CLIENT_ID"),
		GoogleClientSecret: firstEnv("GOOGLE_CLIENT_SECRET", "GMAIL_CLIENT_SECRET"),

		MagEnabled:      envBool("EDON_MAG_ENABLED", false),
		MagURL:          strings.TrimRight(envStr("EDON_MAG_URL", "http://127.0.0.1:8002"), "/"),
		MagEnforcePaths: envList("EDON_MAG_ENFORCE_PATHS", "/execute,/clawdbot/invoke,/edon/invoke"),

		DemoMode:     envBool("EDON_DEMO_MODE", false),
		DemoTenantID: envStr("EDON_DEMO_TENANT_ID", "demo_tenant_001"),
		DemoAPIKey:   envStr("EDON_DEMO_API_KEY", "edon_demo_key_12345"),

		PersistDecisions:  envBool("EDON_PERSIST_DECISIONS", true),
		PolicyPacksFile:   os.Getenv("EDON_POLICY_PACKS_FILE"),
		SandboxDir:        envStr("EDON_SANDBOX_DIR", "sandbox"),
		EmailCredentialID: envStr("EDON_EMAIL_CREDENTIAL_ID", "email_gateway"),
		GitSHA:            gitSHA,
	}
}

// IsProduction reports whether the gateway should apply production
// hardening. Strict credentials plus enabled auth counts as production
// even when ENVIRONMENT says otherwise.
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || (c.CredentialsStrict && c.AuthEnabled)
}

// Validate returns human-readable configuration warnings. Fatal
// misconfigurations are reported by CheckStartup instead.
func (c *Config) Validate() []string {
	var warnings []string

	if c.CredentialsStrict {
		if !c.AuthEnabled {
			warnings = append(warnings, "EDON_CREDENTIALS_STRICT=true but EDON_AUTH_ENABLED=false")
		}
		if c.IsPlaceholderToken() {
			warnings = append(warnings, "using a default API token; change EDON_API_TOKEN in production")
		}
	}

	if c.TokenHardening && !c.CredentialsStrict {
		warnings = append(warnings,
			"EDON_TOKEN_HARDENING=true but EDON_CREDENTIALS_STRICT=false; set EDON_CREDENTIALS_STRICT=true for full protection")
	}

	if c.corsWildcard() {
		warnings = append(warnings,
			"CORS allows all origins (*); set EDON_CORS_ORIGINS to explicit origins")
	}

	if c.IsProduction() && c.AuthEnabled && !c.AllowEnvTokenInProd {
		warnings = append(warnings,
			"production mode: env token auth is disabled (tenant-scoped keys required); set EDON_ALLOW_ENV_TOKEN_IN_PROD=true only for bootstrap access")
	}

	if c.MagEnabled && c.MagURL == "" {
		warnings = append(warnings, "EDON_MAG_ENABLED=true but EDON_MAG_URL is empty")
	}

	return warnings
}

// CheckStartup returns an error for configurations the gateway refuses
// to start with.
func (c *Config) CheckStartup() error {
	if c.AuthEnabled && c.APIToken == "" && !c.CredentialsStrict {
		return fmt.Errorf("config: EDON_API_TOKEN missing; set it or enable EDON_CREDENTIALS_STRICT for DB-only auth")
	}
	if c.IsProduction() && c.IsPlaceholderToken() {
		return fmt.Errorf("config: EDON_API_TOKEN is a shipped default; change it before running in production")
	}
	if c.IsProduction() && c.corsWildcard() {
		return fmt.Errorf("config: EDON_CORS_ORIGINS cannot include '*' in production; set explicit origins")
	}
	return nil
}

// ServeOrigins resolves the CORS origin list for the HTTP server. A
// wildcard outside production collapses to the known dashboard origins
// plus localhost dev servers.
func (c *Config) ServeOrigins() []string {
	if !c.corsWildcard() {
		return c.CORSOrigins
	}
	origins := []string{
		"https://edoncore.com",
		"https://www.edoncore.com",
	}
	if c.Environment != "production" {
		origins = append(origins,
			"http://localhost:3000",
			"http://localhost:5173",
			"http://localhost:5174",
			"http://localhost:8080",
			"http://127.0.0.1:8080",
		)
	}
	return origins
}

func (c *Config) corsWildcard() bool {
	for _, o := range c.CORSOrigins {
		if o == "*" {
			return true
		}
	}
	return false
}

func (c *Config) IsPlaceholderToken() bool {
	for _, t := range placeholderTokens {
		if c.APIToken == t {
			return true
		}
	}
	return false
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

func envBool(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return def
	}
	return v == "true" || v == "1"
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

func envList(key, def string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		raw = def
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
