// Package contracts defines the wire-level types shared by the gateway:
// actions proposed by agents, decisions rendered by the governor, intent
// contracts scoping what an agent may do, and the audit events that bind
// them together.
package contracts

import (
	"strings"
	"time"
)

// RiskLevel grades an action or contract on a fixed four-step scale.
type RiskLevel string

// Risk levels, ordered low to critical.
const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

var riskRank = map[RiskLevel]int{
	RiskLow:      0,
	RiskMedium:   1,
	RiskHigh:     2,
	RiskCritical: 3,
}

// Rank returns the ordinal of the level (low=0 .. critical=3).
// Unknown levels rank below low.
func (r RiskLevel) Rank() int {
	if n, ok := riskRank[r]; ok {
		return n
	}
	return -1
}

// AtLeast reports whether r is as severe as threshold or more so.
func (r RiskLevel) AtLeast(threshold RiskLevel) bool {
	return r.Rank() >= threshold.Rank()
}

// Valid reports whether r is one of the four defined levels.
func (r RiskLevel) Valid() bool {
	_, ok := riskRank[r]
	return ok
}

// ActionSource identifies who proposed an action.
type ActionSource string

// Action sources.
const (
	SourceAgent    ActionSource = "agent"
	SourceUser     ActionSource = "user"
	SourceClawdbot ActionSource = "clawdbot"
)

// Known tool names. Scope and connectors key on these; unknown tools
// still flow through evaluation but never align with an objective.
const (
	ToolEmail          = "email"
	ToolShell          = "shell"
	ToolCalendar       = "calendar"
	ToolFile           = "file"
	ToolClawdbot       = "clawdbot"
	ToolBraveSearch    = "brave_search"
	ToolGmail          = "gmail"
	ToolGoogleCalendar = "google_calendar"
	ToolElevenLabs     = "elevenlabs"
	ToolGitHub         = "github"
	ToolMemory         = "memory"
)

// Action is a single tool invocation proposed for evaluation. Params are
// the raw arguments the connector would receive; the governor never
// mutates them.
type Action struct {
	ID                   string         `json:"id"`
	Tool                 string         `json:"tool"`
	Op                   string         `json:"op"`
	Params               map[string]any `json:"params,omitempty"`
	RequestedAt          time.Time      `json:"requested_at"`
	Source               ActionSource   `json:"source"`
	Tags                 []string       `json:"tags,omitempty"`
	EstimatedBlastRadius int            `json:"estimated_blast_radius,omitempty"`
	EstimatedRisk        RiskLevel      `json:"estimated_risk,omitempty"`
	ComputedRisk         RiskLevel      `json:"computed_risk,omitempty"`
}

// Clone returns a deep-enough copy for producing safe alternatives:
// params and tags are copied, values inside params are shared.
func (a *Action) Clone() *Action {
	dup := *a
	if a.Params != nil {
		dup.Params = make(map[string]any, len(a.Params))
		for k, v := range a.Params {
			dup.Params[k] = v
		}
	}
	dup.Tags = append([]string(nil), a.Tags...)
	return &dup
}

// HasTag reports whether the action carries the given tag.
func (a *Action) HasTag(tag string) bool {
	for _, t := range a.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// StringParam returns the named param when it is a string.
func (a *Action) StringParam(key string) (string, bool) {
	v, ok := a.Params[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Recipients extracts the "recipients" param as a list. A string value
// is split on commas with each entry trimmed.
func (a *Action) Recipients() []string {
	switch v := a.Params["recipients"].(type) {
	case string:
		parts := strings.Split(v, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// RecipientCount counts recipients for cap enforcement. Absent params
// count zero; a scalar of another type counts one.
func (a *Action) RecipientCount() int {
	v, ok := a.Params["recipients"]
	if !ok {
		return 0
	}
	switch v.(type) {
	case string, []string, []any:
		return len(a.Recipients())
	default:
		return 1
	}
}
