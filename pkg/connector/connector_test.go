package connector

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/config"
	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/contracts"
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

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		DefaultClawdbotCredentialID: "clawdbot_gateway_tenant_dev",
		EmailCredentialID:           "email_gateway",
		SandboxDir:                  t.TempDir(),
	}
	return cfg
}

func newTestFactory(t *testing.T, cfg *config.Config, st *store.Store) *Factory {
	t.Helper()
	f, err := NewFactory(cfg, st)
	require.NoError(t, err)
	return f
}

func TestResultEnvelope(t *testing.T) {
	ok := succeed(map[string]any{"draft_id": "draft_1"})
	env := ok.Envelope()
	assert.Equal(t, true, env["success"])
	assert.Equal(t, "draft_1", env["draft_id"])
	assert.NotContains(t, env, "error")
	assert.NotContains(t, env, "downstream_unavailable")

	down := &Result{
		Fields:                map[string]any{"tool": "shell"},
		Error:                 "gateway unreachable",
		DownstreamUnavailable: true,
	}
	env = down.Envelope()
	assert.Equal(t, false, env["success"])
	assert.Equal(t, "gateway unreachable", env["error"])
	assert.Equal(t, true, env["downstream_unavailable"])
	assert.Equal(t, "shell", env["tool"])
}

func TestFactoryUnknownTool(t *testing.T) {
	f := newTestFactory(t, testConfig(t), newTestStore(t))

	_, err := f.New(context.Background(), "shell", "", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownTool))
}

func TestFactoryBuildsEachTool(t *testing.T) {
	f := newTestFactory(t, testConfig(t), newTestStore(t))
	ctx := context.Background()

	tools := []string{
		contracts.ToolClawdbot,
		contracts.ToolEmail,
		contracts.ToolFile,
		contracts.ToolBraveSearch,
		contracts.ToolGitHub,
		contracts.ToolElevenLabs,
		contracts.ToolGmail,
		contracts.ToolGoogleCalendar,
		contracts.ToolMemory,
	}
	for _, tool := range tools {
		c, err := f.New(ctx, tool, "", "tenant_a")
		require.NoError(t, err, tool)
		assert.Equal(t, tool, c.Tool())
	}
}

func TestFactoryStrictModeFailsClosed(t *testing.T) {
	cfg := testConfig(t)
	cfg.CredentialsStrict = true
	f := newTestFactory(t, cfg, newTestStore(t))
	ctx := context.Background()

	tests := []struct {
		tool string
		msg  string
	}{
		{contracts.ToolBraveSearch, "Brave Search API key missing"},
		{contracts.ToolGitHub, "GitHub token missing"},
		{contracts.ToolElevenLabs, "ElevenLabs API key missing"},
		{contracts.ToolGmail, "Gmail credentials missing"},
		{contracts.ToolGoogleCalendar, "Google Calendar credentials missing"},
		{contracts.ToolEmail, "Credential 'email_gateway' not found in database"},
	}
	for _, tc := range tests {
		_, err := f.New(ctx, tc.tool, "", "")
		require.Error(t, err, tc.tool)
		assert.Contains(t, err.Error(), tc.msg)
	}

	// Clawdbot construction never fails; the connector carries the
	// load error instead.
	c, err := f.New(ctx, contracts.ToolClawdbot, "", "")
	require.NoError(t, err)
	cb := c.(*Clawdbot)
	assert.False(t, cb.Configured())
	assert.Contains(t, cb.CredentialError(), "EDON_CREDENTIALS_STRICT=true disables env fallback")
}

func TestValidateParams(t *testing.T) {
	f := newTestFactory(t, testConfig(t), newTestStore(t))

	tests := []struct {
		name    string
		tool    string
		op      string
		params  map[string]any
		wantErr bool
	}{
		{"clawdbot ok", "clawdbot", "invoke",
			map[string]any{"tool": "sessions_list", "args": map[string]any{}}, false},
		{"clawdbot missing tool", "clawdbot", "invoke",
			map[string]any{"args": map[string]any{}}, true},
		{"email ok", "email", "send",
			map[string]any{"recipients": []any{"a@b.co"}, "subject": "hi", "body": "text"}, false},
		{"email recipients as string", "email", "draft",
			map[string]any{"recipients": "a@b.co,c@d.co", "subject": "hi", "body": "text"}, false},
		{"email missing body", "email", "send",
			map[string]any{"recipients": []any{"a@b.co"}, "subject": "hi"}, true},
		{"file write ok", "file", "write_file",
			map[string]any{"path": "notes.txt", "content": "x"}, false},
		{"file write missing content", "file", "write_file",
			map[string]any{"path": "notes.txt"}, true},
		{"brave count must be integer", "brave_search", "search",
			map[string]any{"q": "go", "count": "ten"}, true},
		{"brave ok", "brave_search", "search",
			map[string]any{"q": "go", "count": float64(5)}, false},
		{"github issue missing title", "github", "create_issue",
			map[string]any{"owner": "a", "repo": "b"}, true},
		{"memory preference ok", "memory", "write_preference",
			map[string]any{"key": "tone", "value": "formal"}, false},
		{"unknown op passes", "github", "merge_pull", nil, false},
		{"unknown tool passes", "shell", "run", map[string]any{"cmd": "ls"}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := f.ValidateParams(tc.tool, tc.op, tc.params)
			if tc.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "invalid params for")
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestFactoryDefaultCredentialIDs(t *testing.T) {
	f := newTestFactory(t, testConfig(t), newTestStore(t))

	assert.Equal(t, "clawdbot_gateway_tenant_dev", f.defaultCredentialID(contracts.ToolClawdbot))
	assert.Equal(t, "email_gateway", f.defaultCredentialID(contracts.ToolEmail))
	assert.Equal(t, "brave_search", f.defaultCredentialID(contracts.ToolBraveSearch))
	assert.Equal(t, "github", f.defaultCredentialID(contracts.ToolGitHub))
	assert.Equal(t, "elevenlabs", f.defaultCredentialID(contracts.ToolElevenLabs))
	assert.Equal(t, "gmail", f.defaultCredentialID(contracts.ToolGmail))
	assert.Equal(t, "google_calendar", f.defaultCredentialID(contracts.ToolGoogleCalendar))
	assert.Equal(t, "", f.defaultCredentialID(contracts.ToolFile))
}
