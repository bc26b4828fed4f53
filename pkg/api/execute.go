package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/connector"
	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/contracts"
	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/governor"
	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/observability"
)

// executeRequest is the governed single-action payload.
type executeRequest struct {
	Action   *contracts.Action `json:"action"`
	IntentID string            `json:"intent_id,omitempty"`
	AgentID  string            `json:"agent_id"`
}

// executeResponse is the decision envelope for /execute. Execution is
// present only when a connector ran.
type executeResponse struct {
	Verdict              contracts.Verdict            `json:"verdict"`
	ReasonCode           contracts.ReasonCode         `json:"reason_code,omitempty"`
	Explanation          string                       `json:"explanation"`
	DecisionID           string                       `json:"decision_id"`
	RequiredConfirmation bool                         `json:"required_confirmation,omitempty"`
	SafeAlternative      *contracts.Action            `json:"safe_alternative,omitempty"`
	EscalationQuestion   string                       `json:"escalation_question,omitempty"`
	EscalationOptions    []contracts.EscalationOption `json:"escalation_options,omitempty"`
	Execution            map[string]any               `json:"execution,omitempty"`
	Timestamp            string                       `json:"timestamp"`
}

// handleExecute governs one proposed action: load the intent, evaluate,
// record the decision, and dispatch the connector only on an executable
// verdict. The decision is persisted whatever the verdict; a persist
// failure falls back to the derived decision id rather than dropping
// the response.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}

	var req executeRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid JSON body")
		return
	}
	if strings.TrimSpace(req.AgentID) == "" {
		WriteBadRequest(w, "agent_id is required")
		return
	}
	if req.Action == nil || req.Action.Tool == "" || req.Action.Op == "" {
		WriteBadRequest(w, "Invalid action payload")
		return
	}

	ctx, span := observability.StartSpan(r.Context(), "gateway.execute",
		observability.ActionAttrs(req.AgentID, req.Action.Tool, req.Action.Op)...)
	defer span.End()

	// Identity and the evaluation clock are stamped by the gateway.
	// Client-supplied id, requested_at, and source are discarded:
	// honoring them would let a caller shift the work-hours check or
	// scatter the loop and rate windows.
	action := req.Action
	action.ID = uuid.NewString()
	action.RequestedAt = s.now().UTC()
	action.Source = contracts.SourceAgent

	// Resolve the intent contract. A missing or unknown intent_id
	// degrades to the default-deny intent and is dropped from the
	// audit row so queries do not attribute it to a contract.
	intentID := req.IntentID
	var intent *contracts.IntentContract
	if intentID != "" {
		stored, err := s.store.GetIntent(ctx, intentID)
		if err != nil || stored == nil {
			intentID = ""
		} else {
			intent = stored
		}
	}
	if intent == nil {
		intent = governor.DefaultIntent()
		intentID = ""
	}

	start := s.now()
	decision := s.engine.Evaluate(action, intent)
	latencyMS := float64(s.now().Sub(start)) / float64(time.Millisecond)

	if s.metrics != nil {
		s.metrics.ObserveDecision(string(decision.Verdict), string(decision.ReasonCode), "/execute", latencyMS)
	}
	if s.bench != nil {
		s.bench.RecordDecision(string(decision.Verdict), latencyMS, "/execute")
	}

	tenantID := TenantID(r)
	decisionID, _ := s.persistDecision(ctx, action, &decision, intentID, req.AgentID, tenantID, map[string]any{
		"agent_id": req.AgentID,
	})
	observability.AddSpanEvent(ctx, "decision",
		observability.DecisionAttrs(intentID, decisionID, string(decision.Verdict), string(decision.ReasonCode))...)

	resp := executeResponse{
		Verdict:              decision.Verdict,
		ReasonCode:           decision.ReasonCode,
		Explanation:          decision.Explanation,
		DecisionID:           decisionID,
		RequiredConfirmation: decision.RequiredConfirmation,
		SafeAlternative:      decision.SafeAlternative,
		EscalationQuestion:   decision.EscalationQuestion,
		EscalationOptions:    decision.EscalationOptions,
		Timestamp:            s.now().UTC().Format(time.RFC3339Nano),
	}

	if !decision.Verdict.Executable() {
		WriteJSON(w, http.StatusOK, resp)
		return
	}

	// DEGRADE runs the safe alternative, never the original action.
	toRun := action
	if decision.Verdict == contracts.VerdictDegrade && decision.SafeAlternative != nil {
		toRun = decision.SafeAlternative
	}

	execution, status := s.dispatch(ctx, toRun, tenantID)
	switch status {
	case http.StatusServiceUnavailable:
		detail, _ := execution["error"].(string)
		if detail == "" {
			detail = "Service unavailable"
		}
		WriteServiceUnavailable(w, detail)
		return
	case http.StatusBadRequest:
		detail, _ := execution["error"].(string)
		WriteBadRequest(w, detail)
		return
	}

	resp.Execution = execution
	WriteJSON(w, http.StatusOK, resp)
}

// dispatch runs the action through its connector. Returns the execution
// envelope and an HTTP status: 200 for a completed dispatch (including
// in-envelope connector errors), 400 for a params-schema violation, 503
// when the downstream is unreachable or the connector cannot be built.
func (s *Server) dispatch(ctx context.Context, action *contracts.Action, tenantID string) (map[string]any, int) {
	if err := s.connectors.ValidateParams(action.Tool, action.Op, action.Params); err != nil {
		return map[string]any{"error": "Invalid action params: " + err.Error()}, http.StatusBadRequest
	}

	conn, err := s.connectors.New(ctx, action.Tool, "", tenantID)
	if errors.Is(err, connector.ErrUnknownTool) {
		// Governed but connectorless tools succeed vacuously; the
		// decision row is the deliverable.
		return map[string]any{"result": map[string]any{}}, http.StatusOK
	}
	if err != nil {
		return map[string]any{"error": sanitizeError(err, s.isProduction())}, http.StatusServiceUnavailable
	}

	result, err := conn.Invoke(ctx, action.Op, action.Params)
	if err != nil {
		observability.SetSpanStatus(ctx, err)
		return map[string]any{"error": sanitizeError(err, s.isProduction())}, http.StatusServiceUnavailable
	}
	if result.DownstreamUnavailable {
		return map[string]any{"error": result.Error}, http.StatusServiceUnavailable
	}
	if !result.Success {
		return map[string]any{"error": result.Error}, http.StatusOK
	}
	return map[string]any{"result": result.Fields}, http.StatusOK
}

// persistDecision writes the audit event + decision row. On failure the
// derived id keeps the response well-formed; the error is returned for
// callers that must fail the request instead.
func (s *Server) persistDecision(ctx context.Context, action *contracts.Action, decision *contracts.Decision, intentID, agentID, tenantID string, auditCtx map[string]any) (string, error) {
	ev := &contracts.AuditEvent{
		Timestamp: s.now().UTC(),
		Action:    action,
		Decision:  decision,
		IntentID:  intentID,
		AgentID:   agentID,
		TenantID:  tenantID,
		Context:   auditCtx,
	}
	decisionID, err := s.store.SaveAuditEvent(ctx, ev)
	if err != nil {
		slog.Error("audit persist failed", "action_id", action.ID, "error", err)
		return contracts.DecisionID(action.ID, s.now()), err
	}
	return decisionID, nil
}

// sanitizeError renders an error for a response body. In production the
// message is generic; elsewhere the wrapped chain is returned verbatim
// for debugging.
func sanitizeError(err error, production bool) string {
	if err == nil {
		return ""
	}
	if production {
		return "Tool execution failed"
	}
	return err.Error()
}
