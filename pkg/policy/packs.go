// Package policy ships the built-in policy packs: pre-configured intent
// contracts users apply as presets instead of designing scopes and
// constraints by hand.
package policy

import (
	"fmt"
	"sort"
	"strings"

	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/contracts"
)

// DefaultPackName is advertised to clients that have not applied a
// preset yet.
const DefaultPackName = "personal_safe"

// Pack is a pre-configured policy mode. Applying a pack materializes it
// into an intent contract.
type Pack struct {
	Name           string                `json:"name" yaml:"name"`
	Description    string                `json:"description" yaml:"description"`
	Scope          map[string][]string   `json:"scope" yaml:"scope"`
	Constraints    contracts.Constraints `json:"constraints" yaml:"constraints"`
	RiskLevel      contracts.RiskLevel   `json:"risk_level" yaml:"risk_level"`
	ApprovedByUser bool                  `json:"approved_by_user" yaml:"approved_by_user"`
}

// Intent materializes the pack into a contract. An empty objective
// falls back to the pack description. Scope and constraint slices are
// copied so callers cannot mutate the registry.
func (p *Pack) Intent(objective string) contracts.IntentContract {
	if strings.TrimSpace(objective) == "" {
		objective = p.Description
	}
	scope := make(map[string][]string, len(p.Scope))
	for tool, ops := range p.Scope {
		scope[tool] = append([]string(nil), ops...)
	}
	c := p.Constraints
	c.AllowedClawdbotTools = append([]string(nil), p.Constraints.AllowedClawdbotTools...)
	c.BlockedClawdbotTools = append([]string(nil), p.Constraints.BlockedClawdbotTools...)
	c.ConfirmOn = append([]string(nil), p.Constraints.ConfirmOn...)
	return contracts.IntentContract{
		Objective:      objective,
		Scope:          scope,
		Constraints:    c,
		RiskLevel:      p.RiskLevel,
		ApprovedByUser: p.ApprovedByUser,
	}
}

// Summary is the listing shape returned by the policy-packs endpoint.
type Summary struct {
	Name               string              `json:"name"`
	Description        string              `json:"description"`
	RiskLevel          contracts.RiskLevel `json:"risk_level"`
	ScopeSummary       map[string]int      `json:"scope_summary"`
	ConstraintsSummary ConstraintsSummary  `json:"constraints_summary"`
}

// ConstraintsSummary condenses a pack's constraints for listings.
type ConstraintsSummary struct {
	AllowedTools    int  `json:"allowed_tools"`
	BlockedTools    int  `json:"blocked_tools"`
	ConfirmRequired bool `json:"confirm_required"`
}

// Registry resolves pack names to packs. Built-in packs can be
// extended or overridden from a YAML file, see LoadOverrides.
type Registry struct {
	packs    map[string]*Pack
	aliases  map[string]string
	order    []string
	builtins int
}

// NewRegistry returns a registry holding the six built-in packs plus
// the clawdbot_safe alias kept for older clients.
func NewRegistry() *Registry {
	r := &Registry{
		packs:   make(map[string]*Pack),
		aliases: map[string]string{"clawdbot_safe": "autonomy_mode"},
	}
	for _, p := range builtinPacks() {
		r.packs[p.Name] = p
		r.order = append(r.order, p.Name)
	}
	r.builtins = len(r.order)
	return r
}

// Get resolves a pack by name or alias.
func (r *Registry) Get(name string) (*Pack, error) {
	if target, ok := r.aliases[name]; ok {
		name = target
	}
	p, ok := r.packs[name]
	if !ok {
		return nil, fmt.Errorf("unknown policy pack: %s (available: %s)", name, strings.Join(r.Names(), ", "))
	}
	return p, nil
}

// Names returns the canonical pack names in registry order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// List summarizes every canonical pack, in registry order.
func (r *Registry) List() []Summary {
	out := make([]Summary, 0, len(r.order))
	for _, name := range r.order {
		p := r.packs[name]
		scopeSummary := make(map[string]int, len(p.Scope))
		for tool, ops := range p.Scope {
			scopeSummary[tool] = len(ops)
		}
		out = append(out, Summary{
			Name:         p.Name,
			Description:  p.Description,
			RiskLevel:    p.RiskLevel,
			ScopeSummary: scopeSummary,
			ConstraintsSummary: ConstraintsSummary{
				AllowedTools:    len(p.Constraints.AllowedClawdbotTools),
				BlockedTools:    len(p.Constraints.BlockedClawdbotTools),
				ConfirmRequired: len(p.Constraints.ConfirmOn) > 0,
			},
		})
	}
	return out
}

// Register adds or replaces a pack. New packs keep a stable listing
// position sorted after the built-ins.
func (r *Registry) Register(p *Pack) error {
	if p == nil || strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("policy pack requires a name")
	}
	if !p.RiskLevel.Valid() {
		return fmt.Errorf("policy pack %s: invalid risk level %q", p.Name, p.RiskLevel)
	}
	if _, exists := r.packs[p.Name]; !exists {
		r.order = append(r.order, p.Name)
		sort.Strings(r.order[r.builtins:])
	}
	r.packs[p.Name] = p
	return nil
}

func builtinPacks() []*Pack {
	return []*Pack{
		{
			Name:        "casual_user",
			Description: "Casual User - Ultra-safe everyday use",
			Scope:       map[string][]string{"clawdbot": {"invoke"}},
			Constraints: contracts.Constraints{
				AllowedClawdbotTools: []string{"message", "web_read", "web_summarize", "web_draft", "web_search"},
				BlockedClawdbotTools: []string{"web_send", "web_delete", "web_execute", "shell_execute", "file_write", "mass_outbound", "credential_operations"},
				ConfirmIrreversible:  true,
				MaxRecipients:        1,
				NoExternalSharing:    true,
			},
			RiskLevel:      contracts.RiskLow,
			ApprovedByUser: true,
		},
		{
			Name:        "market_analyst",
			Description: "Market Analyst - Financial research focus",
			Scope:       map[string][]string{"clawdbot": {"invoke"}},
			Constraints: contracts.Constraints{
				AllowedClawdbotTools: []string{"web_read", "web_search", "web_summarize", "web_draft"},
				BlockedClawdbotTools: []string{"message", "web_send", "web_execute", "shell_execute", "file_write", "mass_outbound", "credential_operations"},
				ConfirmIrreversible:  true,
				MaxRecipients:        1,
				NoExternalSharing:    true,
			},
			RiskLevel:      contracts.RiskLow,
			ApprovedByUser: true,
		},
		{
			Name:        "ops_commander",
			Description: "Ops Commander - Workflow automation with confirmations",
			Scope: map[string][]string{
				"clawdbot": {"invoke"},
				"email":    {"draft", "read"},
				"calendar": {"view", "propose"},
			},
			Constraints: contracts.Constraints{
				AllowedClawdbotTools: []string{"message", "web_read", "web_search", "web_summarize", "web_draft", "calendar_view", "calendar_create"},
				ConfirmOn:            []string{"web_send", "calendar_create", "file_write", "message"},
				BlockedClawdbotTools: []string{"web_execute", "shell_execute", "mass_outbound", "credential_operations"},
				MaxRecipients:        10,
				WorkHoursOnly:        true,
				NoExternalSharing:    true,
			},
			RiskLevel:      contracts.RiskMedium,
			ApprovedByUser: true,
		},
		{
			Name:        "founder_mode",
			Description: "Founder Mode - Power user with conservative limits",
			Scope: map[string][]string{
				"clawdbot": {"invoke"},
				"email":    {"draft", "read"},
				"file":     {"read"},
			},
			Constraints: contracts.Constraints{
				AllowedClawdbotTools: []string{"message", "web_read", "web_search", "web_summarize", "web_draft", "sessions_list"},
				ConfirmOn:            []string{"web_send", "file_write", "message"},
				BlockedClawdbotTools: []string{"web_execute", "shell_execute", "mass_outbound", "credential_operations"},
				MaxRecipients:        5,
				NoExternalSharing:    true,
			},
			RiskLevel:      contracts.RiskMedium,
			ApprovedByUser: true,
		},
		{
			Name:        "helpdesk",
			Description: "Helpdesk - Customer support focus",
			Scope: map[string][]string{
				"clawdbot": {"invoke"},
				"email":    {"draft", "read"},
			},
			Constraints: contracts.Constraints{
				AllowedClawdbotTools: []string{"message", "web_read", "web_search", "web_summarize", "web_draft", "sessions_list"},
				ConfirmOn:            []string{"web_send", "message"},
				BlockedClawdbotTools: []string{"web_execute", "shell_execute", "file_write", "mass_outbound", "credential_operations"},
				MaxRecipients:        3,
				NoExternalSharing:    true,
			},
			RiskLevel:      contracts.RiskLow,
			ApprovedByUser: true,
		},
		{
			Name:        "autonomy_mode",
			Description: "Autonomy Mode - High-risk full co-pilot",
			Scope: map[string][]string{
				"clawdbot": {"invoke"},
				"email":    {"draft", "send", "read"},
				"file":     {"read", "write"},
			},
			Constraints: contracts.Constraints{
				AllowedClawdbotTools: []string{"message", "web_read", "web_search", "web_summarize", "web_draft", "web_send", "sessions_list", "calendar_view", "calendar_create"},
				ConfirmOn:            []string{"web_send", "file_write", "message"},
				BlockedClawdbotTools: []string{"shell_execute", "mass_outbound", "credential_operations"},
				MaxRecipients:        50,
				AuditLevel:           "detailed",
				WorkHoursOnly:        false,
			},
			RiskLevel:      contracts.RiskHigh,
			ApprovedByUser: true,
		},
	}
}
