package store

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedTenant(t *testing.T, s *Store, tenantID string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.CreateUser(ctx, "user-"+tenantID, tenantID+"@example.com", "clerk", "sub-"+tenantID, ""))
	require.NoError(t, s.CreateTenant(ctx, tenantID, "user-"+tenantID))
}

func TestAPIKeyLifecycle(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC)}
	s := newTestStore(t, WithClock(clock.Now))
	ctx := context.Background()
	seedTenant(t, s, "tenant-1")

	hash := HashToken("edon_live_k3y")
	id, err := s.CreateAPIKey(ctx, "tenant-1", hash, "ci key")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "key_"))
	assert.Len(t, id, len("key_")+16)

	k, err := s.APIKeyByHash(ctx, hash)
	require.NoError(t, err)
	require.NotNil(t, k)
	assert.Equal(t, id, k.ID)
	assert.Equal(t, "tenant-1", k.TenantID)
	assert.Equal(t, "ci key", k.Name)
	assert.Equal(t, "active", k.Status)
	assert.Nil(t, k.LastUsedAt)

	require.NoError(t, s.UpdateAPIKeyLastUsed(ctx, id))
	k, err = s.APIKeyByHash(ctx, hash)
	require.NoError(t, err)
	require.NotNil(t, k)
	assert.NotNil(t, k.LastUsedAt)

	revoked, err := s.RevokeAPIKey(ctx, id)
	require.NoError(t, err)
	assert.True(t, revoked)

	// Revoked keys no longer authenticate.
	k, err = s.APIKeyByHash(ctx, hash)
	require.NoError(t, err)
	assert.Nil(t, k)

	revoked, err = s.RevokeAPIKey(ctx, "key_doesnotexist")
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestAPIKeyByHashUnknown(t *testing.T) {
	s := newTestStore(t)

	k, err := s.APIKeyByHash(context.Background(), HashToken("nope"))
	require.NoError(t, err)
	assert.Nil(t, k)
}

func TestListAPIKeysPreviews(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC)}
	s := newTestStore(t, WithClock(clock.Now))
	ctx := context.Background()
	seedTenant(t, s, "tenant-1")

	firstHash := HashToken("edon_live_first")
	firstID, err := s.CreateAPIKey(ctx, "tenant-1", firstHash, "first")
	require.NoError(t, err)

	clock.Advance(time.Second)
	secondHash := HashToken("edon_live_second")
	_, err = s.CreateAPIKey(ctx, "tenant-1", secondHash, "second")
	require.NoError(t, err)

	_, err = s.RevokeAPIKey(ctx, firstID)
	require.NoError(t, err)

	keys, err := s.ListAPIKeys(ctx, "tenant-1")
	require.NoError(t, err)
	require.Len(t, keys, 2)

	// Newest first; previews are derived from the hash, never the key.
	assert.Equal(t, "second", keys[0].Name)
	assert.True(t, keys[0].IsActive)
	assert.Equal(t, "edon_"+secondHash[:8], keys[0].KeyPreview)
	assert.Equal(t, "first", keys[1].Name)
	assert.False(t, keys[1].IsActive)

	keys, err = s.ListAPIKeys(ctx, "tenant-2")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestChannelTokenLifecycle(t *testing.T) {
	db := newTestDB(t)
	s, err := New(db, DriverSQLite)
	require.NoError(t, err)
	ctx := context.Background()
	seedTenant(t, s, "tenant-1")

	id, raw, err := s.CreateChannelToken(ctx, "tenant-1", "telegram", "tg-42")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "cht_"))
	assert.Len(t, raw, 48)

	// Only the hash is persisted.
	var storedHash string
	require.NoError(t, db.QueryRow(
		`SELECT token_hash FROM channel_tokens WHERE id = ?`, id).Scan(&storedHash))
	assert.Equal(t, HashToken(raw), storedHash)
	assert.NotEqual(t, raw, storedHash)

	tok, err := s.ChannelTokenByHash(ctx, HashToken(raw))
	require.NoError(t, err)
	require.NotNil(t, tok)
	assert.Equal(t, id, tok.ID)
	assert.Equal(t, "tenant-1", tok.TenantID)
	assert.Equal(t, "telegram", tok.Channel)
	assert.Equal(t, "tg-42", tok.ExternalUserID)

	require.NoError(t, s.UpdateChannelTokenLastUsed(ctx, id))
	tok, err = s.ChannelTokenByHash(ctx, HashToken(raw))
	require.NoError(t, err)
	require.NotNil(t, tok)
	assert.NotNil(t, tok.LastUsedAt)

	tok, err = s.ChannelTokenByHash(ctx, HashToken("forged"))
	require.NoError(t, err)
	assert.Nil(t, tok)
}

func TestTokenAgentBinding(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC)}
	db := newTestDB(t)
	s, err := New(db, DriverSQLite, WithClock(clock.Now))
	require.NoError(t, err)
	ctx := context.Background()

	agentID, err := s.AgentIDForToken(ctx, "bearer-token-1")
	require.NoError(t, err)
	assert.Empty(t, agentID)

	require.NoError(t, s.BindTokenToAgent(ctx, "bearer-token-1", "agent-7"))
	agentID, err = s.AgentIDForToken(ctx, "bearer-token-1")
	require.NoError(t, err)
	assert.Equal(t, "agent-7", agentID)

	var createdAt string
	require.NoError(t, db.QueryRow(`SELECT created_at FROM token_agent_bindings WHERE token_hash = ?`,
		HashToken("bearer-token-1")).Scan(&createdAt))

	// Rebinding switches the agent but keeps the original binding time.
	clock.Advance(time.Hour)
	require.NoError(t, s.BindTokenToAgent(ctx, "bearer-token-1", "agent-8"))
	agentID, err = s.AgentIDForToken(ctx, "bearer-token-1")
	require.NoError(t, err)
	assert.Equal(t, "agent-8", agentID)

	var afterRebind string
	require.NoError(t, db.QueryRow(`SELECT created_at FROM token_agent_bindings WHERE token_hash = ?`,
		HashToken("bearer-token-1")).Scan(&afterRebind))
	assert.Equal(t, createdAt, afterRebind)

	require.NoError(t, s.UpdateTokenLastUsed(ctx, "bearer-token-1"))
}

func TestConnectCodeLifecycle(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC)}
	s := newTestStore(t, WithClock(clock.Now))
	ctx := context.Background()
	seedTenant(t, s, "tenant-1")

	expires := clock.t.Add(10 * time.Minute)
	code, err := s.CreateConnectCode(ctx, "tenant-1", "", expires)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(code, "EDON-"))
	assert.Len(t, code, len("EDON-")+6)
	assert.Equal(t, strings.ToUpper(code), code)

	c, err := s.GetConnectCode(ctx, code)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "tenant-1", c.TenantID)
	assert.Equal(t, "telegram", c.Channel)
	assert.WithinDuration(t, expires, c.ExpiresAt, 0)
	assert.Nil(t, c.UsedAt)

	require.NoError(t, s.MarkConnectCodeUsed(ctx, code, "tg-42"))
	c, err = s.GetConnectCode(ctx, code)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.NotNil(t, c.UsedAt)
	assert.Equal(t, "tg-42", c.UsedBy)

	c, err = s.GetConnectCode(ctx, "EDON-FFFFFF")
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestConnectServiceCodeLifecycle(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC)}
	s := newTestStore(t, WithClock(clock.Now))
	ctx := context.Background()
	seedTenant(t, s, "tenant-1")

	expires := clock.t.Add(15 * time.Minute)
	code, err := s.CreateConnectServiceCode(ctx, "tenant-1", "github", "chat-9", expires)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(code, "EDON-"))
	assert.Len(t, code, len("EDON-")+8)

	c, err := s.GetConnectServiceCode(ctx, code)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "github", c.Service)
	assert.Equal(t, "chat-9", c.ChatID)
	assert.Nil(t, c.UsedAt)

	require.NoError(t, s.MarkConnectServiceCodeUsed(ctx, code))
	c, err = s.GetConnectServiceCode(ctx, code)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.NotNil(t, c.UsedAt)
}

func TestChannelBindingUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedTenant(t, s, "tenant-1")
	seedTenant(t, s, "tenant-2")

	require.NoError(t, s.UpsertChannelBinding(ctx, &ChannelBinding{
		TenantID:       "tenant-1",
		Channel:        "telegram",
		ExternalUserID: "tg-42",
		ExternalChatID: "chat-1",
		Username:       "ada",
	}))

	b, err := s.ChannelBindingByUser(ctx, "telegram", "tg-42")
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, "tenant-1", b.TenantID)
	assert.Equal(t, "chat-1", b.ExternalChatID)
	assert.Equal(t, "ada", b.Username)
	assert.Equal(t, "active", b.Status)

	// Re-binding the same external identity moves it to the new tenant.
	require.NoError(t, s.UpsertChannelBinding(ctx, &ChannelBinding{
		TenantID:       "tenant-2",
		Channel:        "telegram",
		ExternalUserID: "tg-42",
		ExternalChatID: "chat-2",
	}))

	b, err = s.ChannelBindingByUser(ctx, "telegram", "tg-42")
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, "tenant-2", b.TenantID)
	assert.Equal(t, "chat-2", b.ExternalChatID)

	b, err = s.ChannelBindingByUser(ctx, "telegram", "tg-unknown")
	require.NoError(t, err)
	assert.Nil(t, b)
}
