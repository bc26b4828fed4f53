package security

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/config"
	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	s, err := store.New(db, store.DriverSQLite)
	require.NoError(t, err)
	return s
}

func stubLookup(t *testing.T, fn func(ctx context.Context, host string) ([]string, error)) {
	t.Helper()
	old := lookupHost
	lookupHost = fn
	t.Cleanup(func() { lookupHost = old })
}

func TestClassifyAddress(t *testing.T) {
	stubLookup(t, func(ctx context.Context, host string) ([]string, error) {
		return nil, errors.New("no resolver in tests")
	})

	tests := []struct {
		host  string
		reach string
		risk  string
	}{
		{"localhost", ReachLoopback, RiskLow},
		{"LOCALHOST", ReachLoopback, RiskLow},
		{"127.0.0.1", ReachLoopback, RiskLow},
		{"127.0.0.53", ReachLoopback, RiskLow},
		{"::1", ReachLoopback, RiskLow},
		{"0.0.0.0", ReachLoopback, RiskLow},
		{"clawdbot-gateway", ReachPrivate, RiskLow},
		{"clawdbot-gateway-2", ReachPrivate, RiskLow},
		{"gateway.internal", ReachPrivate, RiskLow},
		{"edon.local", ReachPrivate, RiskLow},
		{"10.0.0.5", ReachPrivate, RiskLow},
		{"172.16.8.1", ReachPrivate, RiskLow},
		{"192.168.1.20", ReachPrivate, RiskLow},
		{"169.254.10.10", ReachPrivate, RiskLow},
		{"fd12:3456::1", ReachPrivate, RiskLow},
		{"8.8.8.8", ReachPublic, RiskHigh},
		{"203.0.113.7", ReachPublic, RiskHigh},
		{"2001:4860:4860::8888", ReachPublic, RiskHigh},
		{"unresolvable.example.test", ReachUnknown, RiskHigh},
	}
	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			reach, risk := ClassifyAddress(context.Background(), tt.host)
			assert.Equal(t, tt.reach, reach)
			assert.Equal(t, tt.risk, risk)
		})
	}
}

func TestClassifyAddressResolved(t *testing.T) {
	stubLookup(t, func(ctx context.Context, host string) ([]string, error) {
		switch host {
		case "db.corp":
			return []string{"10.4.2.1"}, nil
		case "edge.example.com":
			return []string{"198.51.100.9"}, nil
		case "home.example.com":
			return []string{"127.0.0.1"}, nil
		}
		return nil, errors.New("NXDOMAIN")
	})

	reach, risk := ClassifyAddress(context.Background(), "db.corp")
	assert.Equal(t, ReachPrivate, reach)
	assert.Equal(t, RiskLow, risk)

	reach, risk = ClassifyAddress(context.Background(), "edge.example.com")
	assert.Equal(t, ReachPublic, reach)
	assert.Equal(t, RiskHigh, risk)

	reach, risk = ClassifyAddress(context.Background(), "home.example.com")
	assert.Equal(t, ReachLoopback, reach)
	assert.Equal(t, RiskLow, risk)

	reach, risk = ClassifyAddress(context.Background(), "gone.example.com")
	assert.Equal(t, ReachUnknown, reach)
	assert.Equal(t, RiskHigh, risk)
}

func TestHostFromURL(t *testing.T) {
	assert.Equal(t, "127.0.0.1", HostFromURL("http://127.0.0.1:18789"))
	assert.Equal(t, "clawdbot-gateway", HostFromURL("https://clawdbot-gateway:18789"))
	assert.Equal(t, "example.com", HostFromURL("http://example.com/path"))
	assert.Equal(t, "", HostFromURL(""))
	assert.Equal(t, "", HostFromURL("://missing-scheme"))
}

func TestValidateNetworkGatingDisabled(t *testing.T) {
	got := ValidateNetworkGating(context.Background(), "http://8.8.8.8:18789", false)
	assert.True(t, got.Valid)
	assert.Equal(t, ReachPublic, got.Reachability)
	assert.Equal(t, RiskHigh, got.Risk)
	assert.Empty(t, got.Recommendation)

	got = ValidateNetworkGating(context.Background(), "", false)
	assert.True(t, got.Valid)
	assert.Equal(t, ReachUnknown, got.Reachability)
	assert.Equal(t, RiskLow, got.Risk)
}

func TestValidateNetworkGatingEnabled(t *testing.T) {
	ctx := context.Background()

	t.Run("missing url", func(t *testing.T) {
		got := ValidateNetworkGating(ctx, "", true)
		assert.False(t, got.Valid)
		assert.Equal(t, ReachUnknown, got.Reachability)
		assert.Equal(t, RiskHigh, got.Risk)
		assert.Equal(t, "Network gating enabled but Clawdbot Gateway URL not configured. "+
			"Configure Clawdbot Gateway URL via /integrations/clawdbot/connect or set CLAWDBOT_GATEWAY_URL.",
			got.Recommendation)
	})

	t.Run("invalid url", func(t *testing.T) {
		got := ValidateNetworkGating(ctx, "://nope", true)
		assert.False(t, got.Valid)
		assert.Contains(t, got.Recommendation, "Invalid Clawdbot Gateway URL: ://nope.")
		assert.Contains(t, got.Recommendation, "http://clawdbot-gateway:18789")
	})

	t.Run("public address", func(t *testing.T) {
		got := ValidateNetworkGating(ctx, "http://203.0.113.7:18789", true)
		assert.False(t, got.Valid)
		assert.Equal(t, ReachPublic, got.Reachability)
		assert.Equal(t, RiskHigh, got.Risk)
		assert.Contains(t, got.Recommendation, "publicly reachable")
		assert.Contains(t, got.Recommendation, "1. Docker: Use internal Docker network")
		assert.Contains(t, got.Recommendation, "NETWORK_ISOLATION_GUIDE.md")
	})

	t.Run("unresolvable host", func(t *testing.T) {
		stubLookup(t, func(ctx context.Context, host string) ([]string, error) {
			return nil, errors.New("NXDOMAIN")
		})
		got := ValidateNetworkGating(ctx, "http://where.example.test:18789", true)
		assert.False(t, got.Valid)
		assert.Equal(t, ReachUnknown, got.Reachability)
		assert.Equal(t, "Could not determine reachability of 'where.example.test'. "+
			"Ensure Clawdbot Gateway is on a private network or use an IP address.", got.Recommendation)
	})

	t.Run("loopback passes", func(t *testing.T) {
		got := ValidateNetworkGating(ctx, "http://127.0.0.1:18789", true)
		assert.True(t, got.Valid)
		assert.Equal(t, ReachLoopback, got.Reachability)
		assert.Equal(t, RiskLow, got.Risk)
		assert.Empty(t, got.Recommendation)
	})

	t.Run("docker network passes", func(t *testing.T) {
		got := ValidateNetworkGating(ctx, "http://clawdbot-gateway:18789", true)
		assert.True(t, got.Valid)
		assert.Equal(t, ReachPrivate, got.Reachability)
	})
}

func TestClawdbotBaseURL(t *testing.T) {
	ctx := context.Background()
	cfg := &config.Config{
		DefaultClawdbotCredentialID: "clawdbot_gateway_tenant_dev",
		ClawdbotGatewayURL:          "http://127.0.0.1:18789",
	}

	t.Run("env fallback when no credential", func(t *testing.T) {
		st := newTestStore(t)
		assert.Equal(t, "http://127.0.0.1:18789", ClawdbotBaseURL(ctx, cfg, st))
	})

	t.Run("strict mode blocks env fallback", func(t *testing.T) {
		st := newTestStore(t)
		strict := *cfg
		strict.CredentialsStrict = true
		assert.Equal(t, "", ClawdbotBaseURL(ctx, &strict, st))
	})

	t.Run("stored base_url wins", func(t *testing.T) {
		st := newTestStore(t)
		require.NoError(t, st.SaveCredential(ctx, &store.Credential{
			CredentialID: "clawdbot_gateway_tenant_dev",
			ToolName:     "clawdbot",
			Type:         "gateway",
			Data:         map[string]any{"base_url": "http://clawdbot-gateway:18789", "token": "secret"},
		}))
		assert.Equal(t, "http://clawdbot-gateway:18789", ClawdbotBaseURL(ctx, cfg, st))
	})

	t.Run("gateway_url honored", func(t *testing.T) {
		st := newTestStore(t)
		require.NoError(t, st.SaveCredential(ctx, &store.Credential{
			CredentialID: "clawdbot_gateway_tenant_dev",
			ToolName:     "clawdbot",
			Type:         "gateway",
			Data:         map[string]any{"gateway_url": "http://10.0.0.9:18789"},
		}))
		assert.Equal(t, "http://10.0.0.9:18789", ClawdbotBaseURL(ctx, cfg, st))
	})
}

func seedClawdbotCredential(t *testing.T, st *store.Store) {
	t.Helper()
	require.NoError(t, st.SaveCredential(context.Background(), &store.Credential{
		CredentialID: "clawdbot_gateway_tenant_dev",
		ToolName:     "clawdbot",
		Type:         "gateway",
		Data:         map[string]any{"base_url": "http://127.0.0.1:18789", "token": "secret"},
	}))
}

func TestValidateSetup(t *testing.T) {
	ctx := context.Background()

	t.Run("hardening without credentials warns", func(t *testing.T) {
		st := newTestStore(t)
		cfg := &config.Config{TokenHardening: true}
		status := ValidateSetup(ctx, cfg, st)
		assert.True(t, status.BypassResistant)
		require.Len(t, status.Warnings, 1)
		assert.Contains(t, status.Warnings[0], "no Clawdbot credentials found in database")
		require.NotNil(t, status.Validation)
		assert.False(t, status.Validation.CredentialsConfigured)
		assert.False(t, status.Validation.Secure)
	})

	t.Run("hardening with credentials is secure", func(t *testing.T) {
		st := newTestStore(t)
		seedClawdbotCredential(t, st)
		cfg := &config.Config{TokenHardening: true, CredentialsStrict: true}
		status := ValidateSetup(ctx, cfg, st)
		assert.Empty(t, status.Warnings)
		assert.True(t, status.Validation.CredentialsConfigured)
		assert.True(t, status.Validation.Secure)
	})

	t.Run("nothing enabled", func(t *testing.T) {
		st := newTestStore(t)
		cfg := &config.Config{}
		status := ValidateSetup(ctx, cfg, st)
		assert.False(t, status.BypassResistant)
		assert.True(t, status.Validation.CredentialsConfigured)
		assert.False(t, status.Validation.Secure)
		assert.Contains(t, status.Recommendations,
			"Enable anti-bypass: Set EDON_NETWORK_GATING=true or EDON_TOKEN_HARDENING=true")
	})

	t.Run("recommendations for partial posture", func(t *testing.T) {
		st := newTestStore(t)
		cfg := &config.Config{TokenHardening: true}
		status := ValidateSetup(ctx, cfg, st)
		assert.Contains(t, status.Recommendations,
			"Enable EDON_CREDENTIALS_STRICT=true for full token hardening protection")
		assert.Contains(t, status.Recommendations,
			"Consider network gating: Place Clawdbot Gateway on private network, only accessible from EDON Gateway")
	})
}

func TestResistanceScore(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name  string
		cfg   config.Config
		score int
		level string
	}{
		{"all measures", config.Config{NetworkGating: true, TokenHardening: true, CredentialsStrict: true},
			100, "Excellent - Highly resistant to bypass"},
		{"gating and hardening", config.Config{NetworkGating: true, TokenHardening: true},
			90, "Excellent - Highly resistant to bypass"},
		{"hardening and strict", config.Config{TokenHardening: true, CredentialsStrict: true},
			50, "Moderate - Some bypass protection"},
		{"gating only", config.Config{NetworkGating: true},
			50, "Moderate - Some bypass protection"},
		{"hardening only", config.Config{TokenHardening: true},
			40, "Weak - Minimal bypass protection"},
		{"strict only", config.Config{CredentialsStrict: true},
			10, "Critical - No bypass protection"},
		{"nothing", config.Config{},
			0, "Critical - No bypass protection"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := newTestStore(t)
			got := ResistanceScore(ctx, &tt.cfg, st)
			assert.Equal(t, tt.score, got.Score)
			assert.Equal(t, 100, got.MaxScore)
			assert.Equal(t, tt.level, got.Level)
		})
	}

	t.Run("factor strings", func(t *testing.T) {
		st := newTestStore(t)
		got := ResistanceScore(ctx, &config.Config{NetworkGating: true}, st)
		assert.Contains(t, got.Factors, "Network gating enabled (+50)")
		assert.Contains(t, got.Factors, "Token hardening disabled (0)")
		assert.Contains(t, got.Factors, "Credentials strict mode disabled (0)")
		assert.Contains(t, got.Factors, "WARNING: No Clawdbot credentials in database")

		seedClawdbotCredential(t, st)
		got = ResistanceScore(ctx, &config.Config{NetworkGating: true}, st)
		assert.Contains(t, got.Factors, "Clawdbot credentials configured in database")
	})
}

func TestBuildReport(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	seedClawdbotCredential(t, st)
	cfg := &config.Config{NetworkGating: true, TokenHardening: true, CredentialsStrict: true}

	report := BuildReport(ctx, cfg, st)
	assert.True(t, report.Secure)
	assert.Equal(t, 100, report.BypassResistance.Score)
	assert.True(t, report.Status.BypassResistant)
	assert.Empty(t, report.Status.Recommendations)
}
