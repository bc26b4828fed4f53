package contracts

import (
	"fmt"
	"time"
)

// PolicyVersion is stamped on every decision so audit rows remain
// interpretable across engine upgrades.
const PolicyVersion = "1.0.0"

// Verdict is the governor's judgment on a proposed action.
type Verdict string

// Verdicts.
const (
	VerdictAllow    Verdict = "ALLOW"
	VerdictBlock    Verdict = "BLOCK"
	VerdictEscalate Verdict = "ESCALATE"
	VerdictDegrade  Verdict = "DEGRADE"
	VerdictPause    Verdict = "PAUSE"
	VerdictError    Verdict = "ERROR"
)

// Executable reports whether a connector may run the action under this
// verdict. Only ALLOW and DEGRADE move execution forward; DEGRADE runs
// the safe alternative, never the original action.
func (v Verdict) Executable() bool {
	return v == VerdictAllow || v == VerdictDegrade
}

// UI maps the verdict onto the three-state vocabulary the dashboard
// renders: allowed, blocked, or confirm.
func (v Verdict) UI() string {
	switch v {
	case VerdictAllow:
		return "allowed"
	case VerdictEscalate, VerdictDegrade, VerdictPause:
		return "confirm"
	default:
		return "blocked"
	}
}

// ReasonCode is the machine-readable ground for a verdict.
type ReasonCode string

// Reason codes.
const (
	ReasonApproved          ReasonCode = "APPROVED"
	ReasonScopeViolation    ReasonCode = "SCOPE_VIOLATION"
	ReasonRiskTooHigh       ReasonCode = "RISK_TOO_HIGH"
	ReasonDataExfil         ReasonCode = "DATA_EXFIL"
	ReasonOutOfHours        ReasonCode = "OUT_OF_HOURS"
	ReasonIntentMismatch    ReasonCode = "INTENT_MISMATCH"
	ReasonNeedConfirmation  ReasonCode = "NEED_CONFIRMATION"
	ReasonDegradedToSafeAlt ReasonCode = "DEGRADED_TO_SAFE_ALTERNATIVE"
	ReasonLoopDetected      ReasonCode = "LOOP_DETECTED"
	ReasonRateLimit         ReasonCode = "RATE_LIMIT"

	// ReasonEvaluationFailed accompanies the ERROR verdict when the
	// engine itself could not finish evaluating.
	ReasonEvaluationFailed ReasonCode = "EVALUATION_FAILED"
)

// EscalationOption is one button the user can press to resolve an
// escalated decision.
type EscalationOption struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// StandardEscalationOptions is the canonical option set for recipient
// cap escalations. Order is part of the contract.
func StandardEscalationOptions() []EscalationOption {
	return []EscalationOption{
		{ID: "allow_once", Label: "Allow once"},
		{ID: "draft_only", Label: "Save as draft only"},
		{ID: "keep_blocking", Label: "Keep blocking"},
	}
}

// ClarifyEscalationOptions is the option set for ambiguous-intent
// escalations.
func ClarifyEscalationOptions() []EscalationOption {
	return []EscalationOption{
		{ID: "clarify", Label: "I'll clarify"},
		{ID: "keep_blocking", Label: "Cancel"},
	}
}

// Decision is the governor's full answer for one action. A DEGRADE
// verdict always carries a SafeAlternative; ESCALATE always carries a
// question when surfaced to the user.
type Decision struct {
	Verdict              Verdict            `json:"verdict"`
	ReasonCode           ReasonCode         `json:"reason_code"`
	Explanation          string             `json:"explanation"`
	SafeAlternative      *Action            `json:"safe_alternative,omitempty"`
	RequiredConfirmation bool               `json:"required_confirmation,omitempty"`
	PolicyVersion        string             `json:"policy_version"`
	EscalationQuestion   string             `json:"escalation_question,omitempty"`
	EscalationOptions    []EscalationOption `json:"escalation_options,omitempty"`
}

// DecisionID derives the stable identifier for a recorded decision
// from the action it judged and the instant it was recorded. The
// timestamp is rendered in UTC at nanosecond precision so replays of
// the same action yield distinct ids.
func DecisionID(actionID string, decidedAt time.Time) string {
	return fmt.Sprintf("dec-%s-%s", actionID, decidedAt.UTC().Format(time.RFC3339Nano))
}
