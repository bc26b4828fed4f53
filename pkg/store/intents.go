package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/contracts"
)

// SaveIntent creates or updates an intent contract. The created_at of
// an existing row is preserved; updated_at always advances.
func (s *Store) SaveIntent(ctx context.Context, in *contracts.IntentContract) error {
	if in == nil || in.ID == "" {
		return errors.New("store: intent id is required")
	}
	if err := in.Validate(); err != nil {
		return err
	}

	scopeJSON, err := json.Marshal(in.Scope)
	if err != nil {
		return fmt.Errorf("store: encode intent scope: %w", err)
	}
	constraintsJSON, err := json.Marshal(in.Constraints)
	if err != nil {
		return fmt.Errorf("store: encode intent constraints: %w", err)
	}

	now := s.now()
	if in.CreatedAt.IsZero() {
		in.CreatedAt = now
	}
	in.UpdatedAt = now

	query := s.rebind(`INSERT INTO intents
		(intent_id, objective, scope, constraints, risk_level, approved_by_user, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(intent_id) DO UPDATE SET
			objective = excluded.objective,
			scope = excluded.scope,
			constraints = excluded.constraints,
			risk_level = excluded.risk_level,
			approved_by_user = excluded.approved_by_user,
			updated_at = excluded.updated_at`)
	_, err = s.db.ExecContext(ctx, query,
		in.ID, in.Objective, string(scopeJSON), string(constraintsJSON),
		string(in.RiskLevel), boolToInt(in.ApprovedByUser),
		formatTime(in.CreatedAt), formatTime(in.UpdatedAt))
	if err != nil {
		return fmt.Errorf("store: save intent: %w", err)
	}
	return nil
}

// GetIntent returns the contract or nil when unknown.
func (s *Store) GetIntent(ctx context.Context, intentID string) (*contracts.IntentContract, error) {
	query := s.rebind(`SELECT intent_id, objective, scope, constraints, risk_level,
		approved_by_user, created_at, updated_at
		FROM intents WHERE intent_id = ?`)
	row := s.db.QueryRowContext(ctx, query, intentID)
	in, err := scanIntent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return in, err
}

// ListIntents returns contracts ordered by last update, newest first.
func (s *Store) ListIntents(ctx context.Context, limit int) ([]*contracts.IntentContract, error) {
	if limit <= 0 {
		limit = 100
	}
	query := s.rebind(`SELECT intent_id, objective, scope, constraints, risk_level,
		approved_by_user, created_at, updated_at
		FROM intents ORDER BY updated_at DESC LIMIT ?`)
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list intents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*contracts.IntentContract
	for rows.Next() {
		in, err := scanIntent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

// LatestIntent returns the most recently updated contract, or nil when
// none exist.
func (s *Store) LatestIntent(ctx context.Context) (*contracts.IntentContract, error) {
	intents, err := s.ListIntents(ctx, 1)
	if err != nil || len(intents) == 0 {
		return nil, err
	}
	return intents[0], nil
}

// CountIntents reports the number of stored contracts, surfaced on the
// health endpoint as active_intents.
func (s *Store) CountIntents(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM intents`).Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIntent(row rowScanner) (*contracts.IntentContract, error) {
	var (
		in              contracts.IntentContract
		scopeJSON       string
		constraintsJSON string
		risk            string
		approved        int
		createdAt       string
		updatedAt       string
	)
	if err := row.Scan(&in.ID, &in.Objective, &scopeJSON, &constraintsJSON,
		&risk, &approved, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(scopeJSON), &in.Scope); err != nil {
		return nil, fmt.Errorf("store: decode intent scope: %w", err)
	}
	if err := json.Unmarshal([]byte(constraintsJSON), &in.Constraints); err != nil {
		return nil, fmt.Errorf("store: decode intent constraints: %w", err)
	}
	in.RiskLevel = contracts.RiskLevel(risk)
	in.ApprovedByUser = approved != 0
	in.CreatedAt = parseTime(createdAt)
	in.UpdatedAt = parseTime(updatedAt)
	return &in, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
