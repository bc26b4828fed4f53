package store

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(b byte) []byte {
	return bytes.Repeat([]byte{b}, 32)
}

func TestCredentialCipherRoundTrip(t *testing.T) {
	c, err := newCredentialCipher(testKey('a'))
	require.NoError(t, err)

	plaintext := []byte(`{"token":"super-secret-token-12345"}`)
	sealed, err := c.seal("tenant-1", plaintext)
	require.NoError(t, err)
	assert.NotContains(t, sealed, "super-secret-token-12345")

	opened, err := c.open("tenant-1", sealed)
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)
}

// A ciphertext sealed under one tenant's subkey must not open under
// another's.
func TestCredentialCipherTenantSubkeys(t *testing.T) {
	c, err := newCredentialCipher(testKey('a'))
	require.NoError(t, err)

	sealed, err := c.seal("tenant-1", []byte(`{"token":"secret"}`))
	require.NoError(t, err)

	_, err = c.open("tenant-2", sealed)
	require.Error(t, err)

	_, err = c.open("", sealed)
	require.Error(t, err)
}

func TestCredentialCipherKeyLength(t *testing.T) {
	_, err := newCredentialCipher([]byte("16-byte-key-xxx!"))
	require.Error(t, err)

	_, err = newCredentialCipher(testKey('a'))
	require.NoError(t, err)
}

func TestWithEncryptionKeyRejectsShortKey(t *testing.T) {
	db := newTestDB(t)
	_, err := New(db, DriverSQLite, WithEncryptionKey([]byte("too-short")))
	require.Error(t, err)
}

func TestSaveAndGetCredential(t *testing.T) {
	s := newTestStore(t, WithEncryptionKey(testKey('b')))
	ctx := context.Background()

	cred := &Credential{
		CredentialID: "clawdbot_gateway",
		ToolName:     "clawdbot",
		Type:         "gateway",
		Data: map[string]any{
			"gateway_url": "http://localhost:18789",
			"token":       "super-secret-token",
		},
	}
	require.NoError(t, s.SaveCredential(ctx, cred))

	got, err := s.GetCredential(ctx, "clawdbot_gateway", "clawdbot", "")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "clawdbot", got.ToolName)
	assert.Equal(t, "gateway", got.Type)
	assert.Equal(t, "http://localhost:18789", got.Data["gateway_url"])
	assert.Equal(t, "super-secret-token", got.Data["token"])
	assert.True(t, got.Encrypted)
	assert.Nil(t, got.LastUsedAt)
}

// The raw secret must never appear in the credential_data column when
// an encryption key is configured.
func TestCredentialEncryptedAtRest(t *testing.T) {
	db := newTestDB(t)
	s, err := New(db, DriverSQLite, WithEncryptionKey(testKey('c')))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.SaveCredential(ctx, &Credential{
		CredentialID: "github_gateway",
		ToolName:     "github",
		Type:         "api_key",
		Data:         map[string]any{"api_key": "ghp_rawsecretvalue"},
	}))

	var stored string
	require.NoError(t, db.QueryRow(
		`SELECT credential_data FROM credentials WHERE credential_id = 'github_gateway'`).Scan(&stored))
	assert.NotContains(t, stored, "ghp_rawsecretvalue")
	assert.NotContains(t, stored, "api_key")
}

func TestCredentialEncryptedNeedsKey(t *testing.T) {
	db := newTestDB(t)
	s, err := New(db, DriverSQLite, WithEncryptionKey(testKey('d')))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.SaveCredential(ctx, &Credential{
		CredentialID: "github_gateway",
		ToolName:     "github",
		Type:         "api_key",
		Data:         map[string]any{"api_key": "ghp_secret"},
	}))

	// Same database opened without a key cannot read it back.
	bare, err := New(db, DriverSQLite)
	require.NoError(t, err)
	_, err = bare.GetCredential(ctx, "github_gateway", "", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no key is configured")
}

func TestCredentialTenantIsolation(t *testing.T) {
	s := newTestStore(t, WithEncryptionKey(testKey('e')))
	ctx := context.Background()

	global := &Credential{
		CredentialID: "brave_search_gateway",
		ToolName:     "brave_search",
		Type:         "api_key",
		Data:         map[string]any{"api_key": "global-key"},
	}
	scoped := &Credential{
		CredentialID: "brave_search_gateway",
		ToolName:     "brave_search",
		TenantID:     "tenant-a",
		Type:         "api_key",
		Data:         map[string]any{"api_key": "tenant-a-key"},
	}
	require.NoError(t, s.SaveCredential(ctx, global))
	require.NoError(t, s.SaveCredential(ctx, scoped))

	got, err := s.GetCredential(ctx, "brave_search_gateway", "", "")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "global-key", got.Data["api_key"])

	got, err = s.GetCredential(ctx, "brave_search_gateway", "", "tenant-a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "tenant-a-key", got.Data["api_key"])

	// A different tenant sees neither the global nor tenant-a's row.
	got, err = s.GetCredential(ctx, "brave_search_gateway", "", "tenant-b")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCredentialReplaceMostRecentWins(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC)}
	s := newTestStore(t, WithClock(clock.Now), WithEncryptionKey(testKey('f')))
	ctx := context.Background()
	created := clock.t

	first := &Credential{
		CredentialID: "elevenlabs_gateway",
		ToolName:     "elevenlabs",
		Type:         "api_key",
		Data:         map[string]any{"api_key": "old-key"},
	}
	require.NoError(t, s.SaveCredential(ctx, first))

	clock.Advance(time.Hour)
	second := &Credential{
		CredentialID: "elevenlabs_gateway",
		ToolName:     "elevenlabs",
		Type:         "api_key",
		Data:         map[string]any{"api_key": "new-key"},
	}
	require.NoError(t, s.SaveCredential(ctx, second))

	got, err := s.GetCredential(ctx, "elevenlabs_gateway", "", "")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "new-key", got.Data["api_key"])
	assert.WithinDuration(t, created, got.CreatedAt, 0)
	assert.WithinDuration(t, clock.t, got.UpdatedAt, 0)
}

func TestRecordCredentialResult(t *testing.T) {
	s := newTestStore(t, WithEncryptionKey(testKey('g')))
	ctx := context.Background()

	require.NoError(t, s.SaveCredential(ctx, &Credential{
		CredentialID: "gmail_gateway_tenant-1",
		ToolName:     "gmail",
		TenantID:     "tenant-1",
		Type:         "oauth",
		Data:         map[string]any{"refresh_token": "rt"},
	}))

	require.NoError(t, s.RecordCredentialResult(ctx, "gmail_gateway_tenant-1", "tenant-1", false, "downstream service unavailable"))
	got, err := s.GetCredential(ctx, "gmail_gateway_tenant-1", "", "tenant-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "downstream service unavailable", got.LastError)
	assert.Nil(t, got.LastUsedAt)

	require.NoError(t, s.RecordCredentialResult(ctx, "gmail_gateway_tenant-1", "tenant-1", true, ""))
	got, err = s.GetCredential(ctx, "gmail_gateway_tenant-1", "", "tenant-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Empty(t, got.LastError)
	assert.NotNil(t, got.LastUsedAt)
}

func TestRecordCredentialResultTruncatesError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveCredential(ctx, &Credential{
		CredentialID: "github_gateway",
		ToolName:     "github",
		Type:         "api_key",
		Data:         map[string]any{"api_key": "k"},
	}))

	long := string(bytes.Repeat([]byte("x"), 2*credentialErrorLimit))
	require.NoError(t, s.RecordCredentialResult(ctx, "github_gateway", "", false, long))

	got, err := s.GetCredential(ctx, "github_gateway", "", "")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Len(t, got.LastError, credentialErrorLimit)
}

func TestDeleteCredential(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveCredential(ctx, &Credential{
		CredentialID: "github_gateway",
		ToolName:     "github",
		TenantID:     "tenant-1",
		Type:         "api_key",
		Data:         map[string]any{"api_key": "k"},
	}))

	// Another tenant cannot delete it.
	deleted, err := s.DeleteCredential(ctx, "github_gateway", "tenant-2")
	require.NoError(t, err)
	assert.False(t, deleted)

	deleted, err = s.DeleteCredential(ctx, "github_gateway", "tenant-1")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = s.DeleteCredential(ctx, "github_gateway", "tenant-1")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestGetIntegrationStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	status, err := s.GetIntegrationStatus(ctx, "", "clawdbot")
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.False(t, status.Connected)

	require.NoError(t, s.SaveCredential(ctx, &Credential{
		CredentialID: "clawdbot_gateway",
		ToolName:     "clawdbot",
		Type:         "gateway",
		Data:         map[string]any{"gateway_url": "http://localhost:18789", "token": "t"},
	}))

	// Saved but never used: present, not yet connected.
	status, err = s.GetIntegrationStatus(ctx, "", "clawdbot")
	require.NoError(t, err)
	assert.False(t, status.Connected)
	assert.Equal(t, "http://localhost:18789", status.BaseURL)
	assert.Equal(t, "token", status.AuthMode)

	require.NoError(t, s.UpdateCredentialLastUsed(ctx, "clawdbot_gateway", ""))
	status, err = s.GetIntegrationStatus(ctx, "", "clawdbot")
	require.NoError(t, err)
	assert.True(t, status.Connected)
	assert.NotNil(t, status.LastOKAt)
}

func TestConnectedServices(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, tool := range []string{"gmail", "github"} {
		require.NoError(t, s.SaveCredential(ctx, &Credential{
			CredentialID: tool + "_gateway_tenant-1",
			ToolName:     tool,
			TenantID:     "tenant-1",
			Type:         "api_key",
			Data:         map[string]any{"api_key": "k"},
		}))
	}
	// A non-service credential for the same tenant is not listed.
	require.NoError(t, s.SaveCredential(ctx, &Credential{
		CredentialID: "clawdbot_gateway_tenant-1",
		ToolName:     "clawdbot",
		TenantID:     "tenant-1",
		Type:         "gateway",
		Data:         map[string]any{"token": "t"},
	}))

	services, err := s.ConnectedServices(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"github", "gmail"}, services)

	services, err = s.ConnectedServices(ctx, "tenant-2")
	require.NoError(t, err)
	assert.Empty(t, services)
}

func TestCredentialsByTool(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveCredential(ctx, &Credential{
		CredentialID: "github_gateway",
		ToolName:     "github",
		Type:         "api_key",
		Data:         map[string]any{"api_key": "a"},
	}))
	require.NoError(t, s.SaveCredential(ctx, &Credential{
		CredentialID: "github_gateway_tenant-1",
		ToolName:     "github",
		TenantID:     "tenant-1",
		Type:         "api_key",
		Data:         map[string]any{"api_key": "b"},
	}))

	creds, err := s.CredentialsByTool(ctx, "github")
	require.NoError(t, err)
	assert.Len(t, creds, 2)
}
