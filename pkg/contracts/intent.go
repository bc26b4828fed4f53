package contracts

import (
	"fmt"
	"strings"
	"time"
)

// Constraints are the tunable guardrails attached to an intent contract.
// Zero values mean "not constrained"; work hours default to [8,18) when
// WorkHoursOnly is set without explicit bounds.
type Constraints struct {
	DraftsOnly                bool     `json:"drafts_only,omitempty"`
	ConfirmIrreversible       bool     `json:"confirm_irreversible,omitempty"`
	ConfirmOn                 []string `json:"confirm_on,omitempty"`
	MaxRecipients             int      `json:"max_recipients,omitempty"`
	WorkHoursOnly             bool     `json:"work_hours_only,omitempty"`
	WorkHoursStart            *int     `json:"work_hours_start,omitempty"`
	WorkHoursEnd              *int     `json:"work_hours_end,omitempty"`
	NoExternalSharing         bool     `json:"no_external_sharing,omitempty"`
	EscalateOnAmbiguousIntent bool     `json:"escalate_on_ambiguous_intent,omitempty"`
	AllowedClawdbotTools      []string `json:"allowed_clawdbot_tools,omitempty"`
	BlockedClawdbotTools      []string `json:"blocked_clawdbot_tools,omitempty"`
	AuditLevel                string   `json:"audit_level,omitempty"`

	// PolicyExpression is an optional CEL expression evaluated against
	// the action; a false result blocks it.
	PolicyExpression string `json:"policy_expression,omitempty"`
}

// WorkWindow returns the permitted local-hour range [start,end).
func (c *Constraints) WorkWindow() (start, end int) {
	start, end = 8, 18
	if c.WorkHoursStart != nil {
		start = *c.WorkHoursStart
	}
	if c.WorkHoursEnd != nil {
		end = *c.WorkHoursEnd
	}
	return start, end
}

// IntentContract captures what the user authorized the agent to do.
// Scope maps tool name to the operations permitted on it.
type IntentContract struct {
	ID             string              `json:"id"`
	Objective      string              `json:"objective"`
	Scope          map[string][]string `json:"scope"`
	Constraints    Constraints         `json:"constraints"`
	RiskLevel      RiskLevel           `json:"risk_level"`
	ApprovedByUser bool                `json:"approved_by_user"`
	CreatedAt      time.Time           `json:"created_at,omitempty"`
	UpdatedAt      time.Time           `json:"updated_at,omitempty"`
}

// Allows reports whether the contract's scope covers tool/op. Scope is
// the only source of authorization; an empty scope denies everything.
func (ic *IntentContract) Allows(tool, op string) bool {
	for _, o := range ic.Scope[tool] {
		if o == op {
			return true
		}
	}
	return false
}

// Validate rejects contracts that cannot be enforced.
func (ic *IntentContract) Validate() error {
	if strings.TrimSpace(ic.Objective) == "" {
		return fmt.Errorf("intent contract: objective is required")
	}
	if len(ic.Scope) == 0 {
		return fmt.Errorf("intent contract: scope must name at least one tool")
	}
	for tool, ops := range ic.Scope {
		if tool == "" {
			return fmt.Errorf("intent contract: scope contains an empty tool name")
		}
		if len(ops) == 0 {
			return fmt.Errorf("intent contract: scope for %q lists no operations", tool)
		}
	}
	if ic.RiskLevel != "" && !ic.RiskLevel.Valid() {
		return fmt.Errorf("intent contract: unknown risk level %q", ic.RiskLevel)
	}
	if ic.Constraints.MaxRecipients < 0 {
		return fmt.Errorf("intent contract: max_recipients must not be negative")
	}
	start, end := ic.Constraints.WorkWindow()
	if start < 0 || start > 23 || end < 1 || end > 24 || start >= end {
		return fmt.Errorf("intent contract: work hours window [%d,%d) is invalid", start, end)
	}
	return nil
}
