package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// User is an internal identity decoupled from the auth provider.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	AuthProvider string    `json:"auth_provider"`
	AuthSubject  string    `json:"auth_subject"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Tenant carries the billing state the auth gate reads and the
// tenant-level gateway settings.
type Tenant struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	Email           string     `json:"email"`
	Status          string     `json:"status"`
	Plan            string     `json:"plan"`
	MagEnabled      bool       `json:"mag_enabled"`
	DefaultIntentID string     `json:"default_intent_id,omitempty"`
	PeriodStart     *time.Time `json:"current_period_start,omitempty"`
	PeriodEnd       *time.Time `json:"current_period_end,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// CreateUser inserts a new user row.
func (s *Store) CreateUser(ctx context.Context, userID, email, authProvider, authSubject, role string) error {
	if role == "" {
		role = "user"
	}
	now := formatTime(s.now())
	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO users
		(id, email, auth_provider, auth_subject, role, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		userID, email, authProvider, authSubject, role, now, now)
	if err != nil {
		return fmt.Errorf("store: create user: %w", err)
	}
	return nil
}

// UserByAuth resolves a user from provider credentials, nil when
// unknown.
func (s *Store) UserByAuth(ctx context.Context, authProvider, authSubject string) (*User, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT id, email, auth_provider, auth_subject,
		role, created_at, updated_at FROM users WHERE auth_provider = ? AND auth_subject = ?`),
		authProvider, authSubject)
	return scanUser(row)
}

// GetUser returns a user by internal id, nil when unknown.
func (s *Store) GetUser(ctx context.Context, userID string) (*User, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT id, email, auth_provider, auth_subject,
		role, created_at, updated_at FROM users WHERE id = ?`), userID)
	return scanUser(row)
}

// CreateTenant inserts a trial tenant owned by the user.
func (s *Store) CreateTenant(ctx context.Context, tenantID, userID string) error {
	now := formatTime(s.now())
	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO tenants
		(id, user_id, status, plan, mag_enabled, created_at, updated_at)
		VALUES (?, ?, 'trial', 'free', 0, ?, ?)`),
		tenantID, userID, now, now)
	if err != nil {
		return fmt.Errorf("store: create tenant: %w", err)
	}
	return nil
}

const tenantColumns = `t.id, t.user_id, u.email, t.status, t.plan, t.mag_enabled,
	t.default_intent_id, t.current_period_start, t.current_period_end, t.created_at, t.updated_at`

// UpdateTenantStatus sets the subscription status and, when non-empty,
// the plan.
func (s *Store) UpdateTenantStatus(ctx context.Context, tenantID, status, plan string) error {
	now := formatTime(s.now())
	var err error
	if plan != "" {
		_, err = s.db.ExecContext(ctx, s.rebind(`UPDATE tenants
			SET status = ?, plan = ?, updated_at = ? WHERE id = ?`),
			status, plan, now, tenantID)
	} else {
		_, err = s.db.ExecContext(ctx, s.rebind(`UPDATE tenants
			SET status = ?, updated_at = ? WHERE id = ?`),
			status, now, tenantID)
	}
	if err != nil {
		return fmt.Errorf("store: update tenant status: %w", err)
	}
	return nil
}

// GetTenant returns a tenant by id, nil when unknown.
func (s *Store) GetTenant(ctx context.Context, tenantID string) (*Tenant, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+tenantColumns+`
		FROM tenants t JOIN users u ON t.user_id = u.id WHERE t.id = ?`), tenantID)
	return scanTenant(row)
}

// TenantByUserID returns the tenant owned by a user, nil when none.
func (s *Store) TenantByUserID(ctx context.Context, userID string) (*Tenant, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+tenantColumns+`
		FROM tenants t JOIN users u ON t.user_id = u.id WHERE t.user_id = ?`), userID)
	return scanTenant(row)
}

// MagEnabled reports whether decision-bundle enforcement is on for the
// tenant. Unknown tenants are not enforced.
func (s *Store) MagEnabled(ctx context.Context, tenantID string) (bool, error) {
	if tenantID == "" {
		return false, nil
	}
	var enabled int
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT mag_enabled FROM tenants WHERE id = ?`), tenantID).Scan(&enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return enabled != 0, nil
}

// SetMagEnabled flips decision-bundle enforcement for the tenant.
func (s *Store) SetMagEnabled(ctx context.Context, tenantID string, enabled bool) error {
	flag := 0
	if enabled {
		flag = 1
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`UPDATE tenants
		SET mag_enabled = ?, updated_at = ? WHERE id = ?`),
		flag, formatTime(s.now()), tenantID)
	if err != nil {
		return fmt.Errorf("store: set mag enabled: %w", err)
	}
	return nil
}

// TenantDefaultIntent returns the tenant's default intent id, empty
// when unset or the tenant is unknown.
func (s *Store) TenantDefaultIntent(ctx context.Context, tenantID string) (string, error) {
	var intentID sql.NullString
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT default_intent_id FROM tenants WHERE id = ?`), tenantID).Scan(&intentID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return intentID.String, nil
}

// SetTenantDefaultIntent updates the tenant's default intent.
func (s *Store) SetTenantDefaultIntent(ctx context.Context, tenantID, intentID string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`UPDATE tenants
		SET default_intent_id = ?, updated_at = ? WHERE id = ?`),
		intentID, formatTime(s.now()), tenantID)
	return err
}

// IncrementTenantUsage adds to the tenant's request count for today's
// period.
func (s *Store) IncrementTenantUsage(ctx context.Context, tenantID string, count int) error {
	period := s.now().Format("2006-01-02")
	query := s.rebind(`INSERT INTO tenant_usage (tenant_id, period_start, requests_count)
		VALUES (?, ?, ?)
		ON CONFLICT(tenant_id, period_start) DO UPDATE SET
			requests_count = tenant_usage.requests_count + excluded.requests_count`)
	_, err := s.db.ExecContext(ctx, query, tenantID, period, count)
	if err != nil {
		return fmt.Errorf("store: increment tenant usage: %w", err)
	}
	return nil
}

// TenantUsage returns the tenant's request count for a period
// (YYYY-MM-DD), defaulting to today.
func (s *Store) TenantUsage(ctx context.Context, tenantID, period string) (int, error) {
	if period == "" {
		period = s.now().Format("2006-01-02")
	}
	var count int
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT requests_count FROM tenant_usage
		WHERE tenant_id = ? AND period_start = ?`), tenantID, period).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return count, err
}

// TenantUsageMonth returns the tenant's request count summed over a
// month (YYYY-MM), defaulting to the current month.
func (s *Store) TenantUsageMonth(ctx context.Context, tenantID, month string) (int, error) {
	if month == "" {
		month = s.now().Format("2006-01")
	}
	var count int
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COALESCE(SUM(requests_count), 0)
		FROM tenant_usage WHERE tenant_id = ? AND period_start LIKE ?`),
		tenantID, month+"-%").Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return count, err
}

func scanUser(row rowScanner) (*User, error) {
	var (
		u         User
		createdAt string
		updatedAt string
	)
	err := row.Scan(&u.ID, &u.Email, &u.AuthProvider, &u.AuthSubject, &u.Role, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u.CreatedAt = parseTime(createdAt)
	u.UpdatedAt = parseTime(updatedAt)
	return &u, nil
}

func scanTenant(row rowScanner) (*Tenant, error) {
	var (
		t             Tenant
		magEnabled    int
		defaultIntent sql.NullString
		periodStart   sql.NullString
		periodEnd     sql.NullString
		createdAt     string
		updatedAt     string
	)
	err := row.Scan(&t.ID, &t.UserID, &t.Email, &t.Status, &t.Plan, &magEnabled,
		&defaultIntent, &periodStart, &periodEnd, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t.MagEnabled = magEnabled != 0
	t.DefaultIntentID = defaultIntent.String
	t.PeriodStart = parseNullableTime(periodStart)
	t.PeriodEnd = parseNullableTime(periodEnd)
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	return &t, nil
}
