package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PolicyPreset records which policy pack is currently applied.
type PolicyPreset struct {
	PresetName string    `json:"preset_name"`
	AppliedAt  time.Time `json:"applied_at"`
	AppliedBy  string    `json:"applied_by,omitempty"`
}

// SetActivePolicyPreset replaces the singleton active-preset row.
func (s *Store) SetActivePolicyPreset(ctx context.Context, presetName, appliedBy string) error {
	query := s.rebind(`INSERT INTO active_policy_preset (id, preset_name, applied_at, applied_by)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			preset_name = excluded.preset_name,
			applied_at = excluded.applied_at,
			applied_by = excluded.applied_by`)
	_, err := s.db.ExecContext(ctx, query, presetName, formatTime(s.now()), nullable(appliedBy))
	if err != nil {
		return fmt.Errorf("store: set active policy preset: %w", err)
	}
	return nil
}

// ActivePolicyPreset returns the applied preset or nil when none has
// been applied.
func (s *Store) ActivePolicyPreset(ctx context.Context) (*PolicyPreset, error) {
	var (
		p         PolicyPreset
		appliedAt string
		appliedBy sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT preset_name, applied_at, applied_by FROM active_policy_preset WHERE id = 1`).
		Scan(&p.PresetName, &appliedAt, &appliedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: read active policy preset: %w", err)
	}
	p.AppliedAt = parseTime(appliedAt)
	p.AppliedBy = appliedBy.String
	return &p, nil
}
