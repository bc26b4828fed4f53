package store

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/hkdf"
)

const credentialErrorLimit = 500

// Credential is a stored tool credential. Data is write-only at the
// API surface; only connectors read it back.
type Credential struct {
	CredentialID string
	ToolName     string
	TenantID     string // empty means global
	Type         string
	Data         map[string]any
	Encrypted    bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastUsedAt   *time.Time
	LastError    string
}

// IntegrationStatus is the public view of a tool integration. It never
// carries credential data.
type IntegrationStatus struct {
	Connected bool       `json:"connected"`
	LastOKAt  *time.Time `json:"last_ok_at"`
	LastError string     `json:"last_error,omitempty"`
	BaseURL   string     `json:"base_url,omitempty"`
	AuthMode  string     `json:"auth_mode,omitempty"`
}

// credentialCipher seals credential data with AES-256-GCM under a
// per-tenant subkey derived from the master key.
type credentialCipher struct {
	master []byte
}

func newCredentialCipher(key []byte) (*credentialCipher, error) {
	if len(key) != 32 {
		return nil, errors.New("store: encryption key must be 32 bytes for AES-256")
	}
	return &credentialCipher{master: append([]byte(nil), key...)}, nil
}

func (c *credentialCipher) subkey(tenantID string) ([]byte, error) {
	info := tenantID
	if info == "" {
		info = "global"
	}
	r := hkdf.New(sha256.New, c.master, []byte("edon-credentials-kdf"), []byte(info))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("store: derive tenant subkey: %w", err)
	}
	return key, nil
}

func (c *credentialCipher) seal(tenantID string, plaintext []byte) (string, error) {
	key, err := c.subkey(tenantID)
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("store: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("store: create GCM: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("store: generate nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (c *credentialCipher) open(tenantID, encoded string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("store: decode credential: %w", err)
	}
	key, err := c.subkey(tenantID)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("store: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("store: create GCM: %w", err)
	}
	if len(data) < gcm.NonceSize() {
		return nil, errors.New("store: ciphertext too short")
	}
	nonce, sealed := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("store: decrypt credential: %w", err)
	}
	return plaintext, nil
}

// SaveCredential creates or replaces the credential for
// (credential_id, tenant). Data is encrypted when a key is configured.
// The created_at of a replaced row is preserved.
func (s *Store) SaveCredential(ctx context.Context, cred *Credential) error {
	if cred == nil || cred.CredentialID == "" {
		return errors.New("store: credential id is required")
	}
	if cred.ToolName == "" {
		return errors.New("store: credential tool name is required")
	}
	if cred.Data == nil {
		return errors.New("store: credential data is required")
	}

	dataJSON, err := json.Marshal(cred.Data)
	if err != nil {
		return fmt.Errorf("store: encode credential data: %w", err)
	}
	stored := string(dataJSON)
	encrypted := 0
	if s.cipher != nil {
		if stored, err = s.cipher.seal(cred.TenantID, dataJSON); err != nil {
			return err
		}
		encrypted = 1
	}

	now := s.now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin credential transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	createdAt := formatTime(now)
	var existing string
	err = tx.QueryRowContext(ctx,
		s.rebind(`SELECT created_at FROM credentials WHERE credential_id = ?`+tenantClause(cred.TenantID)+
			` ORDER BY id DESC LIMIT 1`),
		tenantArgs(cred.CredentialID, cred.TenantID)...).Scan(&existing)
	switch {
	case err == nil:
		createdAt = existing
	case errors.Is(err, sql.ErrNoRows):
	default:
		return fmt.Errorf("store: look up credential: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		s.rebind(`DELETE FROM credentials WHERE credential_id = ?`+tenantClause(cred.TenantID)),
		tenantArgs(cred.CredentialID, cred.TenantID)...); err != nil {
		return fmt.Errorf("store: replace credential: %w", err)
	}

	if _, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO credentials
		(credential_id, tool_name, tenant_id, credential_type, credential_data, encrypted, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		cred.CredentialID, cred.ToolName, nullable(cred.TenantID), cred.Type,
		stored, encrypted, createdAt, formatTime(now)); err != nil {
		return fmt.Errorf("store: save credential: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit credential: %w", err)
	}
	return nil
}

// GetCredential looks up a credential with strict tenant matching: a
// tenant sees only its own rows, and the nil tenant only global rows.
// The most recently written row wins. toolName optionally narrows the
// match. Returns nil when not found.
func (s *Store) GetCredential(ctx context.Context, credentialID, toolName, tenantID string) (*Credential, error) {
	query := `SELECT credential_id, tool_name, tenant_id, credential_type, credential_data,
		encrypted, created_at, updated_at, last_used_at, last_error
		FROM credentials WHERE credential_id = ?`
	args := []any{credentialID}
	if toolName != "" {
		query += " AND tool_name = ?"
		args = append(args, toolName)
	}
	if tenantID != "" {
		query += " AND tenant_id = ?"
		args = append(args, tenantID)
	} else {
		query += " AND tenant_id IS NULL"
	}
	query += " ORDER BY id DESC LIMIT 1"

	row := s.db.QueryRowContext(ctx, s.rebind(query), args...)
	cred, err := s.scanCredential(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return cred, err
}

// CredentialsByTool returns all credentials for a tool, newest first.
func (s *Store) CredentialsByTool(ctx context.Context, toolName string) ([]*Credential, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT credential_id, tool_name, tenant_id,
		credential_type, credential_data, encrypted, created_at, updated_at, last_used_at, last_error
		FROM credentials WHERE tool_name = ? ORDER BY updated_at DESC`), toolName)
	if err != nil {
		return nil, fmt.Errorf("store: list credentials: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Credential
	for rows.Next() {
		cred, err := s.scanCredential(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cred)
	}
	return out, rows.Err()
}

// UpdateCredentialLastUsed stamps last_used_at, strict tenant match.
func (s *Store) UpdateCredentialLastUsed(ctx context.Context, credentialID, tenantID string) error {
	query := `UPDATE credentials SET last_used_at = ? WHERE credential_id = ?` + tenantClause(tenantID)
	args := append([]any{formatTime(s.now())}, tenantArgs(credentialID, tenantID)...)
	_, err := s.db.ExecContext(ctx, s.rebind(query), args...)
	return err
}

// RecordCredentialResult stores the outcome of an invoke: success
// stamps last_used_at and clears last_error; failure records a short
// user-safe message.
func (s *Store) RecordCredentialResult(ctx context.Context, credentialID, tenantID string, success bool, errMsg string) error {
	var query string
	var args []any
	if success {
		query = `UPDATE credentials SET last_used_at = ?, last_error = NULL WHERE credential_id = ?`
		args = []any{formatTime(s.now())}
	} else {
		if len(errMsg) > credentialErrorLimit {
			errMsg = errMsg[:credentialErrorLimit]
		}
		query = `UPDATE credentials SET last_error = ? WHERE credential_id = ?`
		args = []any{errMsg}
	}
	query += tenantClause(tenantID)
	args = append(args, tenantArgs(credentialID, tenantID)...)
	_, err := s.db.ExecContext(ctx, s.rebind(query), args...)
	return err
}

// DeleteCredential removes a credential, strict tenant match. Reports
// whether a row was deleted.
func (s *Store) DeleteCredential(ctx context.Context, credentialID, tenantID string) (bool, error) {
	query := `DELETE FROM credentials WHERE credential_id = ?` + tenantClause(tenantID)
	res, err := s.db.ExecContext(ctx, s.rebind(query), tenantArgs(credentialID, tenantID)...)
	if err != nil {
		return false, fmt.Errorf("store: delete credential: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetIntegrationStatus reports whether a tool integration is connected
// for a tenant, without exposing credential data. Connected means a
// credential exists and has been used at least once.
func (s *Store) GetIntegrationStatus(ctx context.Context, tenantID, toolName string) (*IntegrationStatus, error) {
	credentialID := toolName + "_gateway"
	if tenantID != "" {
		credentialID = toolName + "_gateway_" + tenantID
	}
	cred, err := s.GetCredential(ctx, credentialID, toolName, tenantID)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return &IntegrationStatus{}, nil
	}
	status := &IntegrationStatus{
		Connected: cred.LastUsedAt != nil,
		LastOKAt:  cred.LastUsedAt,
		LastError: cred.LastError,
		AuthMode:  "token",
	}
	if v, ok := cred.Data["base_url"].(string); ok && v != "" {
		status.BaseURL = v
	} else if v, ok := cred.Data["gateway_url"].(string); ok {
		status.BaseURL = v
	}
	if v, ok := cred.Data["auth_mode"].(string); ok && v != "" {
		status.AuthMode = v
	}
	return status, nil
}

// ConnectedServices lists external tools with at least one credential
// for the tenant.
func (s *Store) ConnectedServices(ctx context.Context, tenantID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT DISTINCT tool_name FROM credentials
		WHERE tenant_id = ? AND tool_name IN ('gmail', 'google_calendar', 'brave_search', 'github', 'elevenlabs')
		ORDER BY tool_name`), tenantID)
	if err != nil {
		return nil, fmt.Errorf("store: list connected services: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func (s *Store) scanCredential(row rowScanner) (*Credential, error) {
	var (
		cred       Credential
		tenantID   sql.NullString
		dataRaw    string
		encrypted  int
		createdAt  string
		updatedAt  string
		lastUsedAt sql.NullString
		lastError  sql.NullString
	)
	if err := row.Scan(&cred.CredentialID, &cred.ToolName, &tenantID, &cred.Type,
		&dataRaw, &encrypted, &createdAt, &updatedAt, &lastUsedAt, &lastError); err != nil {
		return nil, err
	}
	cred.TenantID = tenantID.String
	cred.Encrypted = encrypted != 0
	cred.CreatedAt = parseTime(createdAt)
	cred.UpdatedAt = parseTime(updatedAt)
	cred.LastUsedAt = parseNullableTime(lastUsedAt)
	cred.LastError = lastError.String

	payload := []byte(dataRaw)
	if cred.Encrypted {
		if s.cipher == nil {
			return nil, errors.New("store: credential is encrypted and no key is configured")
		}
		plain, err := s.cipher.open(cred.TenantID, dataRaw)
		if err != nil {
			return nil, err
		}
		payload = plain
	}
	if err := json.Unmarshal(payload, &cred.Data); err != nil {
		return nil, fmt.Errorf("store: decode credential data: %w", err)
	}
	return &cred, nil
}

func tenantClause(tenantID string) string {
	if tenantID != "" {
		return " AND tenant_id = ?"
	}
	return " AND tenant_id IS NULL"
}

func tenantArgs(credentialID, tenantID string) []any {
	if tenantID != "" {
		return []any{credentialID, tenantID}
	}
	return []any{credentialID}
}
