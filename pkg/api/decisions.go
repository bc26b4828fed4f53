package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/archive"
	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/contracts"
	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/store"
)

// queryLimit parses the limit parameter shared by the audit and
// decision query endpoints. Out-of-range values are a client error,
// not a silent clamp.
func queryLimit(r *http.Request) (int, bool) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return 0, false
		}
		limit = n
	}
	if limit < 1 || limit > 1000 {
		return 0, false
	}
	return limit, true
}

func (s *Server) handleAuditQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	limit, ok := queryLimit(r)
	if !ok {
		WriteBadRequest(w, "limit must be between 1 and 1000")
		return
	}

	q := r.URL.Query()
	events, err := s.store.QueryAuditEvents(r.Context(), store.AuditQuery{
		AgentID:  q.Get("agent_id"),
		Verdict:  q.Get("verdict"),
		IntentID: q.Get("intent_id"),
		ActionID: q.Get("action_id"),
		Limit:    limit,
	})
	if err != nil {
		WriteInternal(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"total":  len(events),
		"limit":  limit,
	})
}

// decisionView is the dashboard-facing projection of a decision row:
// verdicts collapse to allowed/blocked/confirm and the joined action
// tool/op ride along when recorded.
type decisionView struct {
	ID            string              `json:"id"`
	DecisionID    string              `json:"decision_id"`
	ActionID      string              `json:"action_id"`
	Verdict       string              `json:"verdict"`
	ReasonCode    contracts.ReasonCode `json:"reason_code"`
	Explanation   string              `json:"explanation"`
	PolicyVersion string              `json:"policy_version"`
	IntentID      string              `json:"intent_id"`
	AgentID       string              `json:"agent_id"`
	CreatedAt     string              `json:"created_at"`
	Timestamp     string              `json:"timestamp"`
	Tool          *decisionToolView   `json:"tool,omitempty"`
	LatencyMS     float64             `json:"latency_ms"`
}

type decisionToolView struct {
	Name string `json:"name"`
	Op   string `json:"op"`
}

func uiVerdict(v contracts.Verdict) string {
	switch v {
	case contracts.VerdictAllow, contracts.VerdictBlock,
		contracts.VerdictEscalate, contracts.VerdictDegrade, contracts.VerdictPause:
		return v.UI()
	default:
		return strings.ToLower(string(v))
	}
}

func newDecisionView(row *contracts.DecisionRow) decisionView {
	agent := row.AgentID
	if agent == "" {
		agent = "unknown"
	}
	at := row.DecidedAt.UTC().Format(time.RFC3339Nano)
	v := decisionView{
		ID:            row.DecisionID,
		DecisionID:    row.DecisionID,
		ActionID:      row.ActionID,
		Verdict:       uiVerdict(row.Verdict),
		ReasonCode:    row.ReasonCode,
		Explanation:   row.Explanation,
		PolicyVersion: row.PolicyVersion,
		IntentID:      row.IntentID,
		AgentID:       agent,
		CreatedAt:     at,
		Timestamp:     at,
	}
	if row.Tool != "" && row.Op != "" {
		v.Tool = &decisionToolView{Name: row.Tool, Op: row.Op}
	}
	return v
}

func (s *Server) handleDecisionsQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	limit, ok := queryLimit(r)
	if !ok {
		WriteBadRequest(w, "limit must be between 1 and 1000")
		return
	}

	q := r.URL.Query()
	rows, err := s.store.QueryDecisions(r.Context(), store.DecisionQuery{
		ActionID: q.Get("action_id"),
		Verdict:  q.Get("verdict"),
		IntentID: q.Get("intent_id"),
		AgentID:  q.Get("agent_id"),
		Limit:    limit,
	})
	if err != nil {
		WriteInternal(w, err)
		return
	}

	decisions := make([]decisionView, 0, len(rows))
	for _, row := range rows {
		decisions = append(decisions, newDecisionView(row))
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"decisions": decisions,
		"total":     len(decisions),
		"limit":     limit,
	})
}

func (s *Server) handleDecisionByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	decisionID := strings.TrimPrefix(r.URL.Path, "/decisions/")
	if decisionID == "" || strings.Contains(decisionID, "/") {
		WriteNotFound(w, "Decision not found")
		return
	}

	row, err := s.store.GetDecision(r.Context(), decisionID)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	if row == nil {
		WriteNotFound(w, "Decision not found")
		return
	}
	WriteJSON(w, http.StatusOK, row)
}

// handleAuditExport snapshots matching audit events into the archive
// sink and returns the content hash of the bundle.
func (s *Server) handleAuditExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	if s.archive == nil {
		WriteServiceUnavailable(w, "Audit archive is not configured")
		return
	}

	q := r.URL.Query()
	limit := 1000
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			WriteBadRequest(w, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	events, err := s.store.QueryAuditEvents(r.Context(), store.AuditQuery{
		AgentID:  q.Get("agent_id"),
		Verdict:  q.Get("verdict"),
		IntentID: q.Get("intent_id"),
		Limit:    limit,
	})
	if err != nil {
		WriteInternal(w, err)
		return
	}

	exportedAt := s.now().UTC()
	hash, err := archive.WriteJSON(r.Context(), s.archive, map[string]any{
		"exported_at": exportedAt.Format(time.RFC3339Nano),
		"total":       len(events),
		"events":      events,
	})
	if err != nil {
		WriteInternal(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"hash":        hash,
		"total":       len(events),
		"exported_at": exportedAt.Format(time.RFC3339Nano),
	})
}
