package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/canonical"
	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/contracts"
)

// SaveAuditEvent appends the event and upserts its decision row in one
// transaction, so a governed call is either fully recorded or not at
// all. Returns the deterministic decision id.
func (s *Store) SaveAuditEvent(ctx context.Context, ev *contracts.AuditEvent) (string, error) {
	if ev == nil || ev.Action == nil || ev.Decision == nil {
		return "", errors.New("store: audit event requires an action and a decision")
	}

	ts := ev.Timestamp
	if ts.IsZero() {
		ts = ev.Action.RequestedAt
	}
	if ts.IsZero() {
		ts = s.now()
	}
	now := s.now()
	decisionID := contracts.DecisionID(ev.Action.ID, ts)

	paramsJSON, err := json.Marshal(orEmptyParams(ev.Action.Params))
	if err != nil {
		return "", fmt.Errorf("store: encode action params: %w", err)
	}
	contextJSON, err := json.Marshal(orEmptyParams(ev.Context))
	if err != nil {
		return "", fmt.Errorf("store: encode audit context: %w", err)
	}
	fingerprint, err := canonical.Fingerprint(ev.Action.Params)
	if err != nil {
		fingerprint = ""
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("store: begin audit transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, s.rebind(`INSERT INTO audit_events (
			timestamp, action_id, action_tool, action_op, action_params,
			action_source, action_estimated_risk, action_computed_risk,
			decision_verdict, decision_reason_code, decision_explanation,
			decision_policy_version, intent_id, agent_id, tenant_id, context, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		formatTime(ts), ev.Action.ID, ev.Action.Tool, ev.Action.Op, string(paramsJSON),
		string(ev.Action.Source), string(ev.Action.EstimatedRisk), string(ev.Action.ComputedRisk),
		string(ev.Decision.Verdict), string(ev.Decision.ReasonCode), ev.Decision.Explanation,
		ev.Decision.PolicyVersion, nullable(ev.IntentID), nullable(ev.AgentID),
		nullable(ev.TenantID), string(contextJSON), formatTime(now))
	if err != nil {
		return "", fmt.Errorf("store: insert audit event: %w", err)
	}

	_, err = tx.ExecContext(ctx, s.rebind(`INSERT INTO decisions
		(decision_id, action_id, tool, op, verdict, reason_code, explanation,
		 intent_id, agent_id, tenant_id, params_fingerprint, policy_version, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(decision_id) DO UPDATE SET
			verdict = excluded.verdict,
			reason_code = excluded.reason_code,
			explanation = excluded.explanation,
			created_at = excluded.created_at`),
		decisionID, ev.Action.ID, ev.Action.Tool, ev.Action.Op,
		string(ev.Decision.Verdict), string(ev.Decision.ReasonCode), ev.Decision.Explanation,
		nullable(ev.IntentID), nullable(ev.AgentID), nullable(ev.TenantID),
		fingerprint, ev.Decision.PolicyVersion, formatTime(now))
	if err != nil {
		return "", fmt.Errorf("store: insert decision row: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("store: commit audit event: %w", err)
	}
	return decisionID, nil
}

// AuditQuery filters the audit log. Zero fields match everything.
type AuditQuery struct {
	AgentID  string
	Verdict  string
	IntentID string
	ActionID string
	Limit    int
}

// QueryAuditEvents returns events newest first.
func (s *Store) QueryAuditEvents(ctx context.Context, q AuditQuery) ([]*contracts.AuditEvent, error) {
	query := `SELECT timestamp, action_id, action_tool, action_op, action_params,
		action_source, action_estimated_risk, action_computed_risk,
		decision_verdict, decision_reason_code, decision_explanation,
		decision_policy_version, intent_id, agent_id, tenant_id, context
		FROM audit_events WHERE 1=1`
	var args []any
	if q.AgentID != "" {
		query += " AND agent_id = ?"
		args = append(args, q.AgentID)
	}
	if q.Verdict != "" {
		query += " AND decision_verdict = ?"
		args = append(args, q.Verdict)
	}
	if q.IntentID != "" {
		query += " AND intent_id = ?"
		args = append(args, q.IntentID)
	}
	if q.ActionID != "" {
		query += " AND action_id = ?"
		args = append(args, q.ActionID)
	}
	query += " ORDER BY timestamp DESC LIMIT ?"
	args = append(args, normalizeLimit(q.Limit))

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("store: query audit events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*contracts.AuditEvent
	for rows.Next() {
		ev, err := scanAuditEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// DecisionQuery filters decision rows. Zero fields match everything.
type DecisionQuery struct {
	ActionID string
	Verdict  string
	IntentID string
	AgentID  string
	Limit    int
}

const decisionColumns = `decision_id, action_id, tool, op, verdict, reason_code,
	explanation, intent_id, agent_id, tenant_id, params_fingerprint, policy_version, created_at`

// QueryDecisions returns decision rows newest first.
func (s *Store) QueryDecisions(ctx context.Context, q DecisionQuery) ([]*contracts.DecisionRow, error) {
	query := `SELECT ` + decisionColumns + ` FROM decisions WHERE 1=1`
	var args []any
	if q.ActionID != "" {
		query += " AND action_id = ?"
		args = append(args, q.ActionID)
	}
	if q.Verdict != "" {
		query += " AND verdict = ?"
		args = append(args, q.Verdict)
	}
	if q.IntentID != "" {
		query += " AND intent_id = ?"
		args = append(args, q.IntentID)
	}
	if q.AgentID != "" {
		query += " AND agent_id = ?"
		args = append(args, q.AgentID)
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, normalizeLimit(q.Limit))

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("store: query decisions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*contracts.DecisionRow
	for rows.Next() {
		d, err := scanDecisionRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// GetDecision returns the decision row or nil when unknown.
func (s *Store) GetDecision(ctx context.Context, decisionID string) (*contracts.DecisionRow, error) {
	row := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT `+decisionColumns+` FROM decisions WHERE decision_id = ?`), decisionID)
	d, err := scanDecisionRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return d, err
}

// DecisionByActionID returns the most recent decision for an action.
func (s *Store) DecisionByActionID(ctx context.Context, actionID string) (*contracts.DecisionRow, error) {
	rows, err := s.QueryDecisions(ctx, DecisionQuery{ActionID: actionID, Limit: 1})
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

func scanAuditEvent(row rowScanner) (*contracts.AuditEvent, error) {
	var (
		timestamp     string
		action        contracts.Action
		decision      contracts.Decision
		paramsJSON    string
		source        string
		estimatedRisk string
		computedRisk  sql.NullString
		verdict       string
		reasonCode    string
		intentID      sql.NullString
		agentID       sql.NullString
		tenantID      sql.NullString
		contextJSON   sql.NullString
	)
	if err := row.Scan(&timestamp, &action.ID, &action.Tool, &action.Op, &paramsJSON,
		&source, &estimatedRisk, &computedRisk,
		&verdict, &reasonCode, &decision.Explanation, &decision.PolicyVersion,
		&intentID, &agentID, &tenantID, &contextJSON); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(paramsJSON), &action.Params); err != nil {
		return nil, fmt.Errorf("store: decode action params: %w", err)
	}
	action.RequestedAt = parseTime(timestamp)
	action.Source = contracts.ActionSource(source)
	action.EstimatedRisk = contracts.RiskLevel(estimatedRisk)
	action.ComputedRisk = contracts.RiskLevel(computedRisk.String)
	decision.Verdict = contracts.Verdict(verdict)
	decision.ReasonCode = contracts.ReasonCode(reasonCode)

	ev := &contracts.AuditEvent{
		Timestamp: parseTime(timestamp),
		Action:    &action,
		Decision:  &decision,
		IntentID:  intentID.String,
		AgentID:   agentID.String,
		TenantID:  tenantID.String,
	}
	if contextJSON.Valid && contextJSON.String != "" {
		_ = json.Unmarshal([]byte(contextJSON.String), &ev.Context)
	}
	return ev, nil
}

func scanDecisionRow(row rowScanner) (*contracts.DecisionRow, error) {
	var (
		d           contracts.DecisionRow
		verdict     string
		reasonCode  string
		intentID    sql.NullString
		agentID     sql.NullString
		tenantID    sql.NullString
		fingerprint sql.NullString
		createdAt   string
	)
	if err := row.Scan(&d.DecisionID, &d.ActionID, &d.Tool, &d.Op, &verdict, &reasonCode,
		&d.Explanation, &intentID, &agentID, &tenantID, &fingerprint,
		&d.PolicyVersion, &createdAt); err != nil {
		return nil, err
	}
	d.Verdict = contracts.Verdict(verdict)
	d.ReasonCode = contracts.ReasonCode(reasonCode)
	d.IntentID = intentID.String
	d.AgentID = agentID.String
	d.TenantID = tenantID.String
	d.ParamsFingerprint = fingerprint.String
	d.DecidedAt = parseTime(createdAt)
	return &d, nil
}

func orEmptyParams(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	return limit
}
