package store

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// APIKey is the stored form of a tenant API key. Only the SHA-256 hash
// of the key material is kept.
type APIKey struct {
	ID         string     `json:"id"`
	TenantID   string     `json:"tenant_id"`
	KeyHash    string     `json:"-"`
	Name       string     `json:"name,omitempty"`
	Status     string     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used,omitempty"`
}

// APIKeySummary is the list view with a non-reversible preview.
type APIKeySummary struct {
	ID         string     `json:"id"`
	Name       string     `json:"name,omitempty"`
	Status     string     `json:"status"`
	KeyPreview string     `json:"key_preview"`
	IsActive   bool       `json:"is_active"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsed   *time.Time `json:"last_used,omitempty"`
}

// ChannelToken authenticates a messaging-channel client for a tenant.
type ChannelToken struct {
	ID             string     `json:"id"`
	TenantID       string     `json:"tenant_id"`
	Channel        string     `json:"channel"`
	ExternalUserID string     `json:"external_user_id,omitempty"`
	Status         string     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	LastUsedAt     *time.Time `json:"last_used_at,omitempty"`
}

// ConnectCode is a single-use short-TTL code binding an external
// identity to a tenant.
type ConnectCode struct {
	Code      string     `json:"code"`
	TenantID  string     `json:"tenant_id"`
	Channel   string     `json:"channel"`
	ExpiresAt time.Time  `json:"expires_at"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
	UsedBy    string     `json:"used_by,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// ConnectServiceCode is a single-use code authorizing a service
// credential upload for a tenant.
type ConnectServiceCode struct {
	Code      string     `json:"code"`
	TenantID  string     `json:"tenant_id"`
	Service   string     `json:"service"`
	ChatID    string     `json:"chat_id,omitempty"`
	ExpiresAt time.Time  `json:"expires_at"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// ChannelBinding maps an external channel identity to a tenant.
type ChannelBinding struct {
	TenantID       string    `json:"tenant_id"`
	Channel        string    `json:"channel"`
	ExternalUserID string    `json:"external_user_id"`
	ExternalChatID string    `json:"external_chat_id,omitempty"`
	Username       string    `json:"username,omitempty"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// HashToken is the canonical token digest used everywhere raw secrets
// would otherwise be stored or compared.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// CreateAPIKey stores the hash of a new key and returns its id.
func (s *Store) CreateAPIKey(ctx context.Context, tenantID, keyHash, name string) (string, error) {
	id := "key_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO api_keys
		(id, tenant_id, key_hash, name, status, created_at)
		VALUES (?, ?, ?, ?, 'active', ?)`),
		id, tenantID, keyHash, nullable(name), formatTime(s.now()))
	if err != nil {
		return "", fmt.Errorf("store: create api key: %w", err)
	}
	return id, nil
}

// APIKeyByHash resolves an active key by hash, nil when unknown or
// revoked.
func (s *Store) APIKeyByHash(ctx context.Context, keyHash string) (*APIKey, error) {
	var (
		k          APIKey
		name       sql.NullString
		createdAt  string
		lastUsedAt sql.NullString
	)
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT id, tenant_id, key_hash, name, status,
		created_at, last_used_at FROM api_keys WHERE key_hash = ? AND status = 'active'`), keyHash).
		Scan(&k.ID, &k.TenantID, &k.KeyHash, &name, &k.Status, &createdAt, &lastUsedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	k.Name = name.String
	k.CreatedAt = parseTime(createdAt)
	k.LastUsedAt = parseNullableTime(lastUsedAt)
	return &k, nil
}

// UpdateAPIKeyLastUsed stamps last_used_at.
func (s *Store) UpdateAPIKeyLastUsed(ctx context.Context, apiKeyID string) error {
	_, err := s.db.ExecContext(ctx,
		s.rebind(`UPDATE api_keys SET last_used_at = ? WHERE id = ?`),
		formatTime(s.now()), apiKeyID)
	return err
}

// RevokeAPIKey marks a key revoked; reports whether a row changed.
func (s *Store) RevokeAPIKey(ctx context.Context, apiKeyID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		s.rebind(`UPDATE api_keys SET status = 'revoked' WHERE id = ?`), apiKeyID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ListAPIKeys returns summaries for a tenant, newest first.
func (s *Store) ListAPIKeys(ctx context.Context, tenantID string) ([]*APIKeySummary, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT id, name, status, key_hash,
		created_at, last_used_at FROM api_keys WHERE tenant_id = ? ORDER BY created_at DESC`), tenantID)
	if err != nil {
		return nil, fmt.Errorf("store: list api keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*APIKeySummary
	for rows.Next() {
		var (
			k          APIKeySummary
			name       sql.NullString
			keyHash    string
			createdAt  string
			lastUsedAt sql.NullString
		)
		if err := rows.Scan(&k.ID, &name, &k.Status, &keyHash, &createdAt, &lastUsedAt); err != nil {
			return nil, err
		}
		k.Name = name.String
		k.KeyPreview = "edon_" + keyHash[:min(8, len(keyHash))]
		k.IsActive = k.Status == "active"
		k.CreatedAt = parseTime(createdAt)
		k.LastUsed = parseNullableTime(lastUsedAt)
		out = append(out, &k)
	}
	return out, rows.Err()
}

// CreateChannelToken mints a channel token. The raw token is returned
// exactly once; only its hash is stored.
func (s *Store) CreateChannelToken(ctx context.Context, tenantID, channel, externalUserID string) (id, rawToken string, err error) {
	rawToken, err = randomHex(24)
	if err != nil {
		return "", "", fmt.Errorf("store: generate channel token: %w", err)
	}
	id = "cht_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	_, err = s.db.ExecContext(ctx, s.rebind(`INSERT INTO channel_tokens
		(id, tenant_id, channel, external_user_id, token_hash, status, created_at)
		VALUES (?, ?, ?, ?, ?, 'active', ?)`),
		id, tenantID, channel, nullable(externalUserID), HashToken(rawToken), formatTime(s.now()))
	if err != nil {
		return "", "", fmt.Errorf("store: create channel token: %w", err)
	}
	return id, rawToken, nil
}

// ChannelTokenByHash resolves an active channel token, nil when
// unknown or revoked.
func (s *Store) ChannelTokenByHash(ctx context.Context, tokenHash string) (*ChannelToken, error) {
	var (
		t          ChannelToken
		externalID sql.NullString
		createdAt  string
		lastUsedAt sql.NullString
	)
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT id, tenant_id, channel, external_user_id,
		status, created_at, last_used_at FROM channel_tokens
		WHERE token_hash = ? AND status = 'active'`), tokenHash).
		Scan(&t.ID, &t.TenantID, &t.Channel, &externalID, &t.Status, &createdAt, &lastUsedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t.ExternalUserID = externalID.String
	t.CreatedAt = parseTime(createdAt)
	t.LastUsedAt = parseNullableTime(lastUsedAt)
	return &t, nil
}

// UpdateChannelTokenLastUsed stamps last_used_at.
func (s *Store) UpdateChannelTokenLastUsed(ctx context.Context, tokenID string) error {
	_, err := s.db.ExecContext(ctx,
		s.rebind(`UPDATE channel_tokens SET last_used_at = ? WHERE id = ?`),
		formatTime(s.now()), tokenID)
	return err
}

// BindTokenToAgent maps a bearer token to an agent id, preserving the
// original binding time across rebinds.
func (s *Store) BindTokenToAgent(ctx context.Context, token, agentID string) error {
	now := formatTime(s.now())
	query := s.rebind(`INSERT INTO token_agent_bindings (token_hash, agent_id, created_at, last_used_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(token_hash) DO UPDATE SET
			agent_id = excluded.agent_id,
			last_used_at = excluded.last_used_at`)
	_, err := s.db.ExecContext(ctx, query, HashToken(token), agentID, now, now)
	if err != nil {
		return fmt.Errorf("store: bind token to agent: %w", err)
	}
	return nil
}

// AgentIDForToken returns the agent bound to a token, empty when none.
func (s *Store) AgentIDForToken(ctx context.Context, token string) (string, error) {
	var agentID string
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT agent_id FROM token_agent_bindings WHERE token_hash = ?`),
		HashToken(token)).Scan(&agentID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return agentID, err
}

// UpdateTokenLastUsed stamps last_used_at on a token binding.
func (s *Store) UpdateTokenLastUsed(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx,
		s.rebind(`UPDATE token_agent_bindings SET last_used_at = ? WHERE token_hash = ?`),
		formatTime(s.now()), HashToken(token))
	return err
}

// CreateConnectCode mints a short uppercase code binding a channel
// identity to the tenant.
func (s *Store) CreateConnectCode(ctx context.Context, tenantID, channel string, expiresAt time.Time) (string, error) {
	if channel == "" {
		channel = "telegram"
	}
	suffix, err := randomHex(3)
	if err != nil {
		return "", fmt.Errorf("store: generate connect code: %w", err)
	}
	code := "EDON-" + strings.ToUpper(suffix)
	_, err = s.db.ExecContext(ctx, s.rebind(`INSERT INTO connect_codes
		(code, tenant_id, channel, expires_at, created_at) VALUES (?, ?, ?, ?, ?)`),
		code, tenantID, channel, formatTime(expiresAt), formatTime(s.now()))
	if err != nil {
		return "", fmt.Errorf("store: create connect code: %w", err)
	}
	return code, nil
}

// GetConnectCode returns a connect code entry, nil when unknown.
func (s *Store) GetConnectCode(ctx context.Context, code string) (*ConnectCode, error) {
	var (
		c         ConnectCode
		expiresAt string
		usedAt    sql.NullString
		usedBy    sql.NullString
		createdAt string
	)
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT code, tenant_id, channel, expires_at,
		used_at, used_by, created_at FROM connect_codes WHERE code = ?`), code).
		Scan(&c.Code, &c.TenantID, &c.Channel, &expiresAt, &usedAt, &usedBy, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.ExpiresAt = parseTime(expiresAt)
	c.UsedAt = parseNullableTime(usedAt)
	c.UsedBy = usedBy.String
	c.CreatedAt = parseTime(createdAt)
	return &c, nil
}

// MarkConnectCodeUsed consumes a connect code.
func (s *Store) MarkConnectCodeUsed(ctx context.Context, code, usedBy string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`UPDATE connect_codes
		SET used_at = ?, used_by = ? WHERE code = ?`),
		formatTime(s.now()), nullable(usedBy), code)
	return err
}

// CreateConnectServiceCode mints a one-time code for connecting an
// external service credential.
func (s *Store) CreateConnectServiceCode(ctx context.Context, tenantID, service, chatID string, expiresAt time.Time) (string, error) {
	suffix, err := randomHex(4)
	if err != nil {
		return "", fmt.Errorf("store: generate connect service code: %w", err)
	}
	code := "EDON-" + strings.ToUpper(suffix)
	_, err = s.db.ExecContext(ctx, s.rebind(`INSERT INTO connect_service_codes
		(code, tenant_id, service, chat_id, expires_at, created_at) VALUES (?, ?, ?, ?, ?, ?)`),
		code, tenantID, service, nullable(chatID), formatTime(expiresAt), formatTime(s.now()))
	if err != nil {
		return "", fmt.Errorf("store: create connect service code: %w", err)
	}
	return code, nil
}

// GetConnectServiceCode returns a service code entry, nil when unknown.
func (s *Store) GetConnectServiceCode(ctx context.Context, code string) (*ConnectServiceCode, error) {
	var (
		c         ConnectServiceCode
		chatID    sql.NullString
		expiresAt string
		usedAt    sql.NullString
		createdAt string
	)
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT code, tenant_id, service, chat_id,
		expires_at, used_at, created_at FROM connect_service_codes WHERE code = ?`), code).
		Scan(&c.Code, &c.TenantID, &c.Service, &chatID, &expiresAt, &usedAt, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.ChatID = chatID.String
	c.ExpiresAt = parseTime(expiresAt)
	c.UsedAt = parseNullableTime(usedAt)
	c.CreatedAt = parseTime(createdAt)
	return &c, nil
}

// MarkConnectServiceCodeUsed consumes a service code.
func (s *Store) MarkConnectServiceCodeUsed(ctx context.Context, code string) error {
	_, err := s.db.ExecContext(ctx,
		s.rebind(`UPDATE connect_service_codes SET used_at = ? WHERE code = ?`),
		formatTime(s.now()), code)
	return err
}

// UpsertChannelBinding binds an external channel identity to a tenant,
// reactivating and rebinding on conflict.
func (s *Store) UpsertChannelBinding(ctx context.Context, b *ChannelBinding) error {
	now := formatTime(s.now())
	query := s.rebind(`INSERT INTO channel_bindings
		(tenant_id, channel, external_user_id, external_chat_id, username, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 'active', ?, ?)
		ON CONFLICT(channel, external_user_id) DO UPDATE SET
			tenant_id = excluded.tenant_id,
			external_chat_id = excluded.external_chat_id,
			username = excluded.username,
			status = 'active',
			updated_at = excluded.updated_at`)
	_, err := s.db.ExecContext(ctx, query,
		b.TenantID, b.Channel, b.ExternalUserID, nullable(b.ExternalChatID),
		nullable(b.Username), now, now)
	if err != nil {
		return fmt.Errorf("store: upsert channel binding: %w", err)
	}
	return nil
}

// ChannelBindingByUser resolves the binding for an external identity,
// nil when none is active.
func (s *Store) ChannelBindingByUser(ctx context.Context, channel, externalUserID string) (*ChannelBinding, error) {
	var (
		b         ChannelBinding
		chatID    sql.NullString
		username  sql.NullString
		createdAt string
		updatedAt string
	)
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT tenant_id, channel, external_user_id,
		external_chat_id, username, status, created_at, updated_at
		FROM channel_bindings WHERE channel = ? AND external_user_id = ? AND status = 'active'`),
		channel, externalUserID).
		Scan(&b.TenantID, &b.Channel, &b.ExternalUserID, &chatID, &username, &b.Status, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	b.ExternalChatID = chatID.String
	b.Username = username.String
	b.CreatedAt = parseTime(createdAt)
	b.UpdatedAt = parseTime(updatedAt)
	return &b, nil
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func parseNullableTime(v sql.NullString) *time.Time {
	if !v.Valid || v.String == "" {
		return nil
	}
	t := parseTime(v.String)
	return &t
}
