package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// SchemaVersion is asserted on boot. Older databases are migrated
// forward; a newer database refuses to open.
const SchemaVersion = "1.0.0"

func (s *Store) migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS intents (
			intent_id TEXT PRIMARY KEY,
			objective TEXT NOT NULL,
			scope TEXT NOT NULL,
			constraints TEXT NOT NULL,
			risk_level TEXT NOT NULL,
			approved_by_user INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS audit_events (
			id %s,
			timestamp TEXT NOT NULL,
			action_id TEXT NOT NULL,
			action_tool TEXT NOT NULL,
			action_op TEXT NOT NULL,
			action_params TEXT NOT NULL,
			action_source TEXT NOT NULL,
			action_estimated_risk TEXT NOT NULL,
			action_computed_risk TEXT,
			decision_verdict TEXT NOT NULL,
			decision_reason_code TEXT NOT NULL,
			decision_explanation TEXT NOT NULL,
			decision_policy_version TEXT NOT NULL,
			intent_id TEXT,
			agent_id TEXT,
			tenant_id TEXT,
			context TEXT,
			created_at TEXT NOT NULL
		)`, s.autoincrementPK()),
		`CREATE TABLE IF NOT EXISTS decisions (
			decision_id TEXT PRIMARY KEY,
			action_id TEXT NOT NULL,
			tool TEXT NOT NULL,
			op TEXT NOT NULL,
			verdict TEXT NOT NULL,
			reason_code TEXT NOT NULL,
			explanation TEXT NOT NULL,
			intent_id TEXT,
			agent_id TEXT,
			tenant_id TEXT,
			params_fingerprint TEXT,
			policy_version TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS policy_versions (
			version TEXT PRIMARY KEY,
			description TEXT,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS active_policy_preset (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			preset_name TEXT NOT NULL,
			applied_at TEXT NOT NULL,
			applied_by TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			auth_provider TEXT NOT NULL DEFAULT 'clerk',
			auth_subject TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT 'user',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			UNIQUE(auth_provider, auth_subject)
		)`,
		`CREATE TABLE IF NOT EXISTS tenants (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'trial',
			plan TEXT NOT NULL DEFAULT 'free',
			mag_enabled INTEGER NOT NULL DEFAULT 0,
			default_intent_id TEXT,
			current_period_start TEXT,
			current_period_end TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS api_keys (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			key_hash TEXT NOT NULL UNIQUE,
			name TEXT,
			status TEXT NOT NULL DEFAULT 'active',
			created_at TEXT NOT NULL,
			last_used_at TEXT,
			FOREIGN KEY (tenant_id) REFERENCES tenants(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS channel_tokens (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			channel TEXT NOT NULL,
			external_user_id TEXT,
			token_hash TEXT NOT NULL UNIQUE,
			status TEXT NOT NULL DEFAULT 'active',
			created_at TEXT NOT NULL,
			last_used_at TEXT,
			FOREIGN KEY (tenant_id) REFERENCES tenants(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS connect_codes (
			code TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			channel TEXT NOT NULL DEFAULT 'telegram',
			expires_at TEXT NOT NULL,
			used_at TEXT,
			used_by TEXT,
			created_at TEXT NOT NULL,
			FOREIGN KEY (tenant_id) REFERENCES tenants(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS connect_service_codes (
			code TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			service TEXT NOT NULL,
			chat_id TEXT,
			expires_at TEXT NOT NULL,
			used_at TEXT,
			created_at TEXT NOT NULL
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS channel_bindings (
			id %s,
			tenant_id TEXT NOT NULL,
			channel TEXT NOT NULL,
			external_user_id TEXT NOT NULL,
			external_chat_id TEXT,
			username TEXT,
			status TEXT NOT NULL DEFAULT 'active',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			UNIQUE(channel, external_user_id),
			FOREIGN KEY (tenant_id) REFERENCES tenants(id) ON DELETE CASCADE
		)`, s.autoincrementPK()),
		`CREATE TABLE IF NOT EXISTS tenant_usage (
			tenant_id TEXT NOT NULL,
			period_start TEXT NOT NULL,
			requests_count INTEGER DEFAULT 0,
			PRIMARY KEY (tenant_id, period_start),
			FOREIGN KEY (tenant_id) REFERENCES tenants(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS counters (
			key TEXT PRIMARY KEY,
			value INTEGER NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS credentials (
			id %s,
			credential_id TEXT NOT NULL,
			tool_name TEXT NOT NULL,
			tenant_id TEXT,
			credential_type TEXT NOT NULL,
			credential_data TEXT NOT NULL,
			encrypted INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			last_used_at TEXT,
			last_error TEXT
		)`, s.autoincrementPK()),
		`CREATE TABLE IF NOT EXISTS token_agent_bindings (
			token_hash TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			created_at TEXT NOT NULL,
			last_used_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS preference_memory (
			tenant_id TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (tenant_id, key)
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS episodic_memory (
			id %s,
			tenant_id TEXT NOT NULL,
			episode_id TEXT NOT NULL,
			task_summary TEXT NOT NULL,
			outcome TEXT,
			tool TEXT,
			op TEXT,
			context TEXT,
			created_at TEXT NOT NULL
		)`, s.autoincrementPK()),

		`CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_events(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_agent_id ON audit_events(agent_id)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_intent_id ON audit_events(intent_id)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_action_id ON audit_events(action_id)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_verdict ON audit_events(decision_verdict)`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_action_id ON decisions(action_id)`,
		`CREATE INDEX IF NOT EXISTS idx_users_auth_provider ON users(auth_provider, auth_subject)`,
		`CREATE INDEX IF NOT EXISTS idx_tenants_user_id ON tenants(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_tenants_status ON tenants(status)`,
		`CREATE INDEX IF NOT EXISTS idx_api_keys_tenant ON api_keys(tenant_id)`,
		`CREATE INDEX IF NOT EXISTS idx_api_keys_hash ON api_keys(key_hash)`,
		`CREATE INDEX IF NOT EXISTS idx_api_keys_status ON api_keys(status)`,
		`CREATE INDEX IF NOT EXISTS idx_channel_tokens_tenant ON channel_tokens(tenant_id)`,
		`CREATE INDEX IF NOT EXISTS idx_channel_tokens_hash ON channel_tokens(token_hash)`,
		`CREATE INDEX IF NOT EXISTS idx_connect_codes_tenant ON connect_codes(tenant_id)`,
		`CREATE INDEX IF NOT EXISTS idx_connect_codes_expires ON connect_codes(expires_at)`,
		`CREATE INDEX IF NOT EXISTS idx_connect_service_codes_tenant ON connect_service_codes(tenant_id)`,
		`CREATE INDEX IF NOT EXISTS idx_channel_bindings_tenant ON channel_bindings(tenant_id)`,
		`CREATE INDEX IF NOT EXISTS idx_channel_bindings_user ON channel_bindings(channel, external_user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_credentials_tool ON credentials(tool_name)`,
		`CREATE INDEX IF NOT EXISTS idx_credentials_lookup ON credentials(credential_id, tenant_id)`,
		`CREATE INDEX IF NOT EXISTS idx_token_bindings_agent ON token_agent_bindings(agent_id)`,
		`CREATE INDEX IF NOT EXISTS idx_preference_memory_tenant ON preference_memory(tenant_id)`,
		`CREATE INDEX IF NOT EXISTS idx_episodic_memory_tenant_created ON episodic_memory(tenant_id, created_at)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	// Column migrations for databases created before these fields
	// existed. Duplicate-column errors mean the column is already there.
	migrations := []struct{ table, column, decl string }{
		{"tenants", "default_intent_id", "TEXT"},
		{"tenants", "mag_enabled", "INTEGER NOT NULL DEFAULT 0"},
		{"credentials", "tenant_id", "TEXT"},
		{"credentials", "last_error", "TEXT"},
		{"audit_events", "tenant_id", "TEXT"},
		{"decisions", "params_fingerprint", "TEXT"},
	}
	for _, m := range migrations {
		if err := s.addColumn(ctx, m.table, m.column, m.decl); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) autoincrementPK() string {
	if s.driver == DriverPostgres {
		return "BIGSERIAL PRIMARY KEY"
	}
	return "INTEGER PRIMARY KEY AUTOINCREMENT"
}

func (s *Store) addColumn(ctx context.Context, table, column, decl string) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, decl))
	if err != nil && isDuplicateColumn(err) {
		return nil
	}
	return err
}

func isDuplicateColumn(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate column") || strings.Contains(msg, "already exists")
}

func (s *Store) ensureSchemaVersion(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (
		version TEXT PRIMARY KEY,
		applied_at TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("store: create schema_version table: %w", err)
	}

	var stored string
	err := s.db.QueryRowContext(ctx,
		`SELECT version FROM schema_version ORDER BY applied_at DESC LIMIT 1`).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return s.setSchemaVersion(ctx, SchemaVersion)
	}
	if err != nil {
		return fmt.Errorf("store: read schema version: %w", err)
	}

	have, err := semver.NewVersion(stored)
	if err != nil {
		return fmt.Errorf("store: stored schema version %q is not semver: %w", stored, err)
	}
	want := semver.MustParse(SchemaVersion)
	switch {
	case have.GreaterThan(want):
		return fmt.Errorf("store: database schema %s is newer than supported %s", stored, SchemaVersion)
	case have.LessThan(want):
		// Forward migration: the CREATE IF NOT EXISTS / ADD COLUMN pass
		// above has already brought the schema up; record the new version.
		return s.setSchemaVersion(ctx, SchemaVersion)
	}
	return nil
}

func (s *Store) setSchemaVersion(ctx context.Context, version string) error {
	query := s.rebind(`INSERT INTO schema_version (version, applied_at) VALUES (?, ?)
		ON CONFLICT(version) DO UPDATE SET applied_at = excluded.applied_at`)
	if _, err := s.db.ExecContext(ctx, query, version, formatTime(s.now())); err != nil {
		return fmt.Errorf("store: set schema version: %w", err)
	}
	return nil
}

// CurrentSchemaVersion reports the most recently applied version.
func (s *Store) CurrentSchemaVersion(ctx context.Context) (string, error) {
	var version string
	err := s.db.QueryRowContext(ctx,
		`SELECT version FROM schema_version ORDER BY applied_at DESC LIMIT 1`).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return version, err
}
