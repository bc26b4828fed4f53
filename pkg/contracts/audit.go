package contracts

import "time"

// AuditEvent is the persisted record binding an action to the decision
// rendered on it. One event is appended per evaluation, including
// blocks, escalations, and errors; the log is never rewritten.
type AuditEvent struct {
	Timestamp time.Time      `json:"timestamp"`
	Action    *Action        `json:"action"`
	Decision  *Decision      `json:"decision"`
	IntentID  string         `json:"intent_id,omitempty"`
	AgentID   string         `json:"agent_id,omitempty"`
	TenantID  string         `json:"tenant_id,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
}

// DecisionRow is the queryable row materialized alongside every audit
// event, keyed by the deterministic decision id.
type DecisionRow struct {
	DecisionID        string     `json:"decision_id"`
	ActionID          string     `json:"action_id"`
	Tool              string     `json:"tool"`
	Op                string     `json:"op"`
	Verdict           Verdict    `json:"verdict"`
	ReasonCode        ReasonCode `json:"reason_code"`
	Explanation       string     `json:"explanation"`
	IntentID          string     `json:"intent_id,omitempty"`
	AgentID           string     `json:"agent_id,omitempty"`
	TenantID          string     `json:"tenant_id,omitempty"`
	ParamsFingerprint string     `json:"params_fingerprint,omitempty"`
	PolicyVersion     string     `json:"policy_version"`
	DecidedAt         time.Time  `json:"decided_at"`
}
