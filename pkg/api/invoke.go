package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/contracts"
	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/governor"
	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/observability"
)

// invokeRequest mirrors the upstream delegated-tool schema so existing
// clients can switch their base URL without code changes. decision_id
// and decision_bundle are consumed by the MAG middleware and accepted
// here only so strict decoders do not reject them.
type invokeRequest struct {
	Tool           string         `json:"tool"`
	Action         string         `json:"action,omitempty"`
	Args           map[string]any `json:"args,omitempty"`
	SessionKey     string         `json:"sessionKey,omitempty"`
	DecisionID     string         `json:"decision_id,omitempty"`
	DecisionBundle map[string]any `json:"decision_bundle,omitempty"`
	CredentialID   string         `json:"credential_id,omitempty"`
}

// invokeResponse preserves the upstream envelope and attaches the
// governance verdict for transparency.
type invokeResponse struct {
	OK              bool           `json:"ok"`
	Result          map[string]any `json:"result,omitempty"`
	Error           string         `json:"error,omitempty"`
	EdonVerdict     string         `json:"edon_verdict,omitempty"`
	EdonExplanation string         `json:"edon_explanation,omitempty"`
	DecisionID      string         `json:"decision_id,omitempty"`
	Details         map[string]any `json:"details,omitempty"`
}

// handleInvoke is the governed drop-in for the upstream /tools/invoke:
// evaluate the wrapped call as a clawdbot action, record the decision,
// and forward to the upstream gateway only on an executable verdict.
// Serves both /clawdbot/invoke and the /edon/invoke alias.
func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}

	var req invokeRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Tool) == "" {
		WriteBadRequest(w, "tool is required")
		return
	}
	if req.Action == "" {
		req.Action = "json"
	}
	if req.Args == nil {
		req.Args = map[string]any{}
	}

	agentID := AgentID(r)
	if agentID == "" {
		agentID = "clawdbot-agent"
	}
	tenantID := TenantID(r)

	ctx, span := observability.StartSpan(r.Context(), "gateway.invoke",
		observability.ActionAttrs(agentID, contracts.ToolClawdbot, req.Tool)...)
	defer span.End()

	action := &contracts.Action{
		ID:          uuid.NewString(),
		Tool:        contracts.ToolClawdbot,
		Op:          "invoke",
		RequestedAt: s.now().UTC(),
		Source:      contracts.SourceClawdbot,
		Tags:        []string{"clawdbot-proxy"},
		Params: map[string]any{
			"tool":       req.Tool,
			"action":     req.Action,
			"args":       req.Args,
			"sessionKey": req.SessionKey,
		},
	}

	intentID := strings.TrimSpace(r.Header.Get("X-Intent-ID"))
	intent, intentID := s.resolveInvokeIntent(ctx, intentID, tenantID)

	start := s.now()
	decision := s.engine.Evaluate(action, intent)
	latencyMS := float64(s.now().Sub(start)) / float64(time.Millisecond)

	if s.metrics != nil {
		s.metrics.ObserveDecision(string(decision.Verdict), string(decision.ReasonCode), "/clawdbot/invoke", latencyMS)
	}
	if s.bench != nil {
		s.bench.RecordDecision(string(decision.Verdict), latencyMS, "/clawdbot/invoke")
	}

	var decisionID string
	if s.cfg != nil && !s.cfg.PersistDecisions {
		slog.Warn("decision persistence disabled; invoke decision not recorded", "agent_id", agentID)
	} else {
		var err error
		decisionID, err = s.persistDecision(ctx, action, &decision, intentID, agentID, tenantID, map[string]any{
			"agent_id": agentID,
			"source":   "clawdbot",
		})
		if err != nil {
			WriteJSON(w, http.StatusOK, invokeResponse{
				OK:              false,
				Error:           "Persistence failed: " + sanitizeError(err, s.isProduction()),
				EdonVerdict:     string(decision.Verdict),
				EdonExplanation: orDefault(decision.Explanation, "Decision recorded but DB write failed"),
			})
			return
		}
	}
	observability.AddSpanEvent(ctx, "decision",
		observability.DecisionAttrs(intentID, decisionID, string(decision.Verdict), string(decision.ReasonCode))...)

	if !decision.Verdict.Executable() {
		WriteJSON(w, http.StatusOK, invokeResponse{
			OK:              false,
			Error:           orDefault(decision.Explanation, "Blocked: "+string(decision.Verdict)),
			EdonVerdict:     string(decision.Verdict),
			EdonExplanation: decision.Explanation,
			DecisionID:      decisionID,
		})
		return
	}

	// Explicit credential selection: payload first, configured default
	// otherwise. The factory applies tenant suffixing for non-default
	// ids; strict tenant lookup happens inside the connector.
	credentialID := strings.TrimSpace(req.CredentialID)
	if credentialID == "" && s.cfg != nil {
		credentialID = s.cfg.DefaultClawdbotCredentialID
	}

	var details map[string]any
	if !s.isProduction() {
		details = map[string]any{"used_credential_id": credentialID}
	}

	conn, err := s.connectors.New(ctx, contracts.ToolClawdbot, credentialID, tenantID)
	if err != nil {
		WriteJSON(w, http.StatusOK, invokeResponse{
			OK:              false,
			Error:           "Execution failed: " + sanitizeError(err, s.isProduction()),
			EdonVerdict:     string(contracts.VerdictError),
			EdonExplanation: "Internal execution error",
			Details:         details,
		})
		return
	}

	result, err := conn.Invoke(ctx, "invoke", action.Params)
	if err != nil {
		observability.SetSpanStatus(ctx, err)
		body := invokeResponse{
			OK:              false,
			Error:           "Execution failed: " + sanitizeError(err, s.isProduction()),
			EdonVerdict:     string(contracts.VerdictError),
			EdonExplanation: "Internal execution error",
			Details:         details,
		}
		// Upstream auth rejections surface as 401 so callers rotate
		// their gateway token instead of retrying.
		if strings.Contains(err.Error(), "HTTP error 401") {
			WriteJSON(w, http.StatusUnauthorized, body)
			return
		}
		WriteJSON(w, http.StatusOK, body)
		return
	}

	if result.Success {
		WriteJSON(w, http.StatusOK, invokeResponse{
			OK:              true,
			Result:          result.Fields,
			EdonVerdict:     string(decision.Verdict),
			EdonExplanation: decision.Explanation,
			Details:         details,
		})
		return
	}

	body := invokeResponse{
		OK:              false,
		Error:           orDefault(result.Error, "Unknown Clawdbot execution error"),
		EdonVerdict:     string(contracts.VerdictError),
		EdonExplanation: "Clawdbot execution failed",
		Details:         details,
	}
	if result.DownstreamUnavailable {
		WriteJSON(w, http.StatusServiceUnavailable, body)
		return
	}
	WriteJSON(w, http.StatusOK, body)
}

// resolveInvokeIntent walks the intent fallback chain for delegated
// invokes: explicit header id, tenant default intent, active preset
// pack, then the default-deny intent. The returned id is what the
// audit row records; synthesized intents record no id.
func (s *Server) resolveInvokeIntent(ctx context.Context, intentID, tenantID string) (*contracts.IntentContract, string) {
	if intentID != "" {
		if stored, err := s.store.GetIntent(ctx, intentID); err == nil && stored != nil {
			return stored, intentID
		}
	}

	if tenantID != "" {
		if defaultID, err := s.store.TenantDefaultIntent(ctx, tenantID); err == nil && defaultID != "" {
			if stored, err := s.store.GetIntent(ctx, defaultID); err == nil && stored != nil {
				return stored, defaultID
			}
		}
	}

	if preset, err := s.store.ActivePolicyPreset(ctx); err == nil && preset != nil && preset.PresetName != "" {
		if pack, err := s.packs.Get(preset.PresetName); err == nil {
			intent := pack.Intent("")
			return &intent, ""
		}
	}

	return governor.DefaultIntent(), ""
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
