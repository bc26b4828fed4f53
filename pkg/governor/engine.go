// Package governor implements the decision engine that judges every
// proposed action against the active intent contract. Evaluation is
// pure with respect to persistence: the only state consulted is an
// in-memory sliding window of recent actions for loop and rate checks.
package governor

import (
	"fmt"
	"strings"
	"time"

	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/canonical"
	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/contracts"
)

// Engine evaluates actions. Safe for concurrent use; one Engine serves
// the whole gateway so loop and rate windows span all requests.
type Engine struct {
	cfg     Config
	history *actionHistory
	exprs   *exprEvaluator
	nowFn   func() time.Time
}

// New returns an engine with the given configuration. Zero fields fall
// back to Default values.
func New(cfg Config) *Engine {
	def := Default()
	if cfg.MaxActionsPerMinute <= 0 {
		cfg.MaxActionsPerMinute = def.MaxActionsPerMinute
	}
	if cfg.LoopWindowSeconds <= 0 {
		cfg.LoopWindowSeconds = def.LoopWindowSeconds
	}
	if cfg.LoopThreshold <= 0 {
		cfg.LoopThreshold = def.LoopThreshold
	}
	if cfg.WorkHoursEnd <= 0 {
		cfg.WorkHoursStart = def.WorkHoursStart
		cfg.WorkHoursEnd = def.WorkHoursEnd
	}
	if cfg.EscalateRiskLevels == nil {
		cfg.EscalateRiskLevels = def.EscalateRiskLevels
	}
	if cfg.DangerousShellCommands == nil {
		cfg.DangerousShellCommands = def.DangerousShellCommands
	}
	if cfg.ExternalSharingPatterns == nil {
		cfg.ExternalSharingPatterns = def.ExternalSharingPatterns
	}
	if cfg.IntentKeywords == nil {
		cfg.IntentKeywords = def.IntentKeywords
	}
	return &Engine{
		cfg:     cfg,
		history: newActionHistory(),
		exprs:   newExprEvaluator(),
		nowFn:   time.Now,
	}
}

// WithClock overrides the engine's time source.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.nowFn = now
	return e
}

// DefaultIntent is what evaluation falls back to when no contract is
// active: empty scope, so everything is denied except what later rules
// degrade or escalate.
func DefaultIntent() *contracts.IntentContract {
	return &contracts.IntentContract{
		Objective:      "Default intent",
		Scope:          map[string][]string{},
		RiskLevel:      contracts.RiskMedium,
		ApprovedByUser: false,
	}
}

// HistoryLen reports the size of the sliding action window.
func (e *Engine) HistoryLen() int {
	return e.history.Len()
}

// Evaluate judges one action against an intent contract. It never
// panics and never touches storage; internal failures surface as an
// ERROR verdict, which callers must treat as non-executable.
func (e *Engine) Evaluate(action *contracts.Action, intent *contracts.IntentContract) (decision contracts.Decision) {
	defer func() {
		if r := recover(); r != nil {
			decision = contracts.Decision{
				Verdict:       contracts.VerdictError,
				ReasonCode:    contracts.ReasonEvaluationFailed,
				Explanation:   "Evaluation failed; action was not executed",
				PolicyVersion: contracts.PolicyVersion,
			}
		}
	}()
	return e.evaluate(action, intent)
}

func (e *Engine) evaluate(action *contracts.Action, intent *contracts.IntentContract) contracts.Decision {
	if intent == nil {
		intent = DefaultIntent()
	}
	now := action.RequestedAt
	if now.IsZero() {
		now = e.nowFn()
		action.RequestedAt = now
	}
	c := &intent.Constraints

	// Server-side risk first. The agent's estimate is a floor, never a
	// ceiling: dangerous shell commands are critical no matter what the
	// agent claimed.
	risk := action.EstimatedRisk
	if !risk.Valid() {
		risk = contracts.RiskLow
	}
	if action.Tool == contracts.ToolShell && e.isDangerousCommand(commandParam(action)) {
		risk = contracts.RiskCritical
	}
	action.ComputedRisk = risk

	// drafts_only rescues email sends before scope can reject them.
	if c.DraftsOnly && action.Tool == contracts.ToolEmail && action.Op == "send" {
		alt := action.Clone()
		alt.Op = "draft"
		alt.Tags = append(alt.Tags, "degraded")
		alt.ComputedRisk = risk
		return contracts.Decision{
			Verdict:         contracts.VerdictDegrade,
			ReasonCode:      contracts.ReasonDegradedToSafeAlt,
			Explanation:     "Intent requires drafts_only, degrading send to draft",
			SafeAlternative: alt,
			PolicyVersion:   contracts.PolicyVersion,
		}
	}

	// Scope boundary. A critical action that is also out of scope is
	// reported as a risk block, not a scope block.
	if !intent.Allows(action.Tool, action.Op) {
		if risk == contracts.RiskCritical {
			return e.block(contracts.ReasonRiskTooHigh,
				fmt.Sprintf("Dangerous operation blocked: %s.%s (also out of scope)", action.Tool, action.Op))
		}
		return e.block(contracts.ReasonScopeViolation,
			fmt.Sprintf("Action %s.%s not in scope. Allowed: %v", action.Tool, action.Op, intent.Scope[action.Tool]))
	}

	// Delegated invokes carry the real tool in params; it must be on
	// the intent's sub-allowlist when one is set.
	if action.Tool == contracts.ToolClawdbot && action.Op == "invoke" && len(c.AllowedClawdbotTools) > 0 {
		underlying, _ := action.StringParam("tool")
		if !containsString(c.AllowedClawdbotTools, underlying) {
			return e.block(contracts.ReasonScopeViolation,
				fmt.Sprintf("Clawdbot tool '%s' not in allowed list. Allowed: %v", underlying, c.AllowedClawdbotTools))
		}
	}

	// Optional CEL policy expression, fail closed.
	if c.PolicyExpression != "" {
		allowed, err := e.exprs.Allow(c.PolicyExpression, action, risk)
		if err != nil {
			return e.block(contracts.ReasonScopeViolation, "Policy expression could not be evaluated; blocking")
		}
		if !allowed {
			return e.block(contracts.ReasonScopeViolation,
				fmt.Sprintf("Policy expression rejected action %s.%s", action.Tool, action.Op))
		}
	}

	if c.WorkHoursOnly {
		start, end := e.workWindow(c)
		hour := now.Hour()
		if hour < start || hour >= end {
			return e.block(contracts.ReasonOutOfHours,
				fmt.Sprintf("Action requested outside work hours (current: %d:00, work hours: %d-%d)", hour, start, end))
		}
	}

	// Record before the loop and rate checks so the action under
	// evaluation counts toward both windows.
	fingerprint := paramsFingerprint(action.Params)
	e.history.Record(now, action.Tool, action.Op, fingerprint)

	loopCutoff := now.Add(-time.Duration(e.cfg.LoopWindowSeconds) * time.Second)
	if e.history.CountMatchingSince(loopCutoff, action.Tool, action.Op, fingerprint) >= e.cfg.LoopThreshold {
		return contracts.Decision{
			Verdict:    contracts.VerdictPause,
			ReasonCode: contracts.ReasonLoopDetected,
			Explanation: fmt.Sprintf("Loop detected: %s.%s repeated %d+ times in %ds",
				action.Tool, action.Op, e.cfg.LoopThreshold, e.cfg.LoopWindowSeconds),
			PolicyVersion: contracts.PolicyVersion,
		}
	}

	if e.history.CountSince(now.Add(-time.Minute)) >= e.cfg.MaxActionsPerMinute {
		return contracts.Decision{
			Verdict:       contracts.VerdictPause,
			ReasonCode:    contracts.ReasonRateLimit,
			Explanation:   fmt.Sprintf("Rate limit exceeded: %d actions per minute", e.cfg.MaxActionsPerMinute),
			PolicyVersion: contracts.PolicyVersion,
		}
	}

	// In-scope shell commands still cannot be dangerous.
	if action.Tool == contracts.ToolShell {
		if cmd := commandParam(action); e.isDangerousCommand(cmd) {
			return e.block(contracts.ReasonRiskTooHigh,
				fmt.Sprintf("Dangerous shell command detected: %s", truncate(cmd, 50)))
		}
	}

	if c.NoExternalSharing && e.isExternalSharing(action.Op, action.Params) {
		return e.block(contracts.ReasonDataExfil,
			fmt.Sprintf("External sharing detected in %s operation", action.Op))
	}

	if c.MaxRecipients > 0 {
		if n := action.RecipientCount(); n > c.MaxRecipients && action.Op == "send" {
			alt := action.Clone()
			alt.Op = "draft"
			alt.Tags = append(alt.Tags, "degraded", "too_many_recipients")
			alt.ComputedRisk = risk
			return contracts.Decision{
				Verdict:    contracts.VerdictEscalate,
				ReasonCode: contracts.ReasonNeedConfirmation,
				Explanation: fmt.Sprintf("Recipient count (%d) exceeds max (%d). Requires confirmation.",
					n, c.MaxRecipients),
				SafeAlternative:      alt,
				RequiredConfirmation: true,
				PolicyVersion:        contracts.PolicyVersion,
				EscalationQuestion:   fmt.Sprintf("Send email to %d recipients? (max allowed: %d)", n, c.MaxRecipients),
				EscalationOptions:    contracts.StandardEscalationOptions(),
			}
		}
	}

	if e.cfg.EscalateRiskLevels[risk] {
		if !(intent.ApprovedByUser && risk == contracts.RiskHigh) {
			return contracts.Decision{
				Verdict:    contracts.VerdictEscalate,
				ReasonCode: contracts.ReasonNeedConfirmation,
				Explanation: fmt.Sprintf("High/critical risk action requires user confirmation (risk: %s)",
					risk),
				RequiredConfirmation: true,
				PolicyVersion:        contracts.PolicyVersion,
				EscalationQuestion:   fmt.Sprintf("Proceed with %s risk action %s.%s?", risk, action.Tool, action.Op),
				EscalationOptions: []contracts.EscalationOption{
					{ID: "allow_once", Label: "Allow once"},
					{ID: "keep_blocking", Label: "Keep blocking"},
				},
			}
		}
	}

	if !e.intentAligned(action.Tool, intent.Objective) {
		if len(strings.TrimSpace(intent.Objective)) < 15 && c.EscalateOnAmbiguousIntent {
			return contracts.Decision{
				Verdict:              contracts.VerdictEscalate,
				ReasonCode:           contracts.ReasonNeedConfirmation,
				Explanation:          "Intent is ambiguous; please clarify.",
				RequiredConfirmation: true,
				PolicyVersion:        contracts.PolicyVersion,
				EscalationQuestion:   "What would you like to do? (e.g. search, send email, create calendar event)",
				EscalationOptions:    contracts.ClarifyEscalationOptions(),
			}
		}
		return e.block(contracts.ReasonIntentMismatch,
			fmt.Sprintf("Action does not align with intent objective: %s", intent.Objective))
	}

	return contracts.Decision{
		Verdict:       contracts.VerdictAllow,
		ReasonCode:    contracts.ReasonApproved,
		Explanation:   "Action approved: within scope, constraints satisfied, risk acceptable",
		PolicyVersion: contracts.PolicyVersion,
	}
}

func (e *Engine) block(code contracts.ReasonCode, explanation string) contracts.Decision {
	return contracts.Decision{
		Verdict:       contracts.VerdictBlock,
		ReasonCode:    code,
		Explanation:   explanation,
		PolicyVersion: contracts.PolicyVersion,
	}
}

func (e *Engine) workWindow(c *contracts.Constraints) (int, int) {
	start, end := e.cfg.WorkHoursStart, e.cfg.WorkHoursEnd
	if c.WorkHoursStart != nil {
		start = *c.WorkHoursStart
	}
	if c.WorkHoursEnd != nil {
		end = *c.WorkHoursEnd
	}
	return start, end
}

func (e *Engine) isDangerousCommand(command string) bool {
	lower := strings.ToLower(command)
	for _, pattern := range e.cfg.DangerousShellCommands {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

func (e *Engine) isExternalSharing(op string, params map[string]any) bool {
	opLower := strings.ToLower(op)
	for _, pattern := range e.cfg.ExternalSharingPatterns {
		if strings.Contains(opLower, pattern) {
			return true
		}
	}
	serialized := strings.ToLower(serializeParams(params))
	for _, pattern := range e.cfg.ExternalSharingPatterns {
		if strings.Contains(serialized, pattern) {
			return true
		}
	}
	return false
}

func (e *Engine) intentAligned(tool, objective string) bool {
	keywords, ok := e.cfg.IntentKeywords[tool]
	if !ok || len(keywords) == 0 {
		return true
	}
	lower := strings.ToLower(objective)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func commandParam(action *contracts.Action) string {
	cmd, _ := action.StringParam("command")
	return cmd
}

// paramsFingerprint hashes params canonically so loop detection treats
// reordered but identical params as the same action.
func paramsFingerprint(params map[string]any) string {
	fp, err := canonical.Fingerprint(params)
	if err != nil {
		return "unhashable"
	}
	return fp
}

func serializeParams(params map[string]any) string {
	if len(params) == 0 {
		return ""
	}
	b, err := canonical.Canonical(params)
	if err != nil {
		return fmt.Sprintf("%v", params)
	}
	return string(b)
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
