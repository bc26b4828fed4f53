package api

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/contracts"
)

type intentSetRequest struct {
	IntentID       string                `json:"intent_id,omitempty"`
	Objective      string                `json:"objective"`
	Scope          map[string][]string   `json:"scope"`
	Constraints    contracts.Constraints `json:"constraints"`
	RiskLevel      string                `json:"risk_level,omitempty"`
	ApprovedByUser bool                  `json:"approved_by_user"`
}

type intentSetResponse struct {
	IntentID  string `json:"intent_id"`
	CreatedAt string `json:"created_at"`
	Status    string `json:"status"`
}

type intentGetResponse struct {
	IntentID    string                `json:"intent_id"`
	Objective   string                `json:"objective"`
	Scope       map[string][]string   `json:"scope"`
	Constraints contracts.Constraints `json:"constraints"`
	CreatedAt   string                `json:"created_at"`
}

// handleIntentSet registers an intent contract. Re-posting an existing
// intent_id replaces the stored contract.
func (s *Server) handleIntentSet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}

	var req intentSetRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid JSON body")
		return
	}

	intentID := strings.TrimSpace(req.IntentID)
	if intentID == "" {
		intentID = "intent_" + randHex(16)
	}
	riskLevel := contracts.RiskLevel(req.RiskLevel)
	if riskLevel == "" {
		riskLevel = contracts.RiskMedium
	}

	now := s.now().UTC()
	intent := &contracts.IntentContract{
		ID:             intentID,
		Objective:      req.Objective,
		Scope:          req.Scope,
		Constraints:    req.Constraints,
		RiskLevel:      riskLevel,
		ApprovedByUser: req.ApprovedByUser,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := intent.Validate(); err != nil {
		WriteBadRequest(w, err.Error())
		return
	}
	if err := s.store.SaveIntent(r.Context(), intent); err != nil {
		WriteInternal(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, intentSetResponse{
		IntentID:  intentID,
		CreatedAt: now.Format(time.RFC3339Nano),
		Status:    "active",
	})
}

func (s *Server) handleIntentGet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}

	intentID := strings.TrimSpace(r.URL.Query().Get("intent_id"))
	if intentID == "" {
		WriteBadRequest(w, "intent_id query parameter is required")
		return
	}

	intent, err := s.store.GetIntent(r.Context(), intentID)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	if intent == nil {
		WriteNotFound(w, "Intent not found")
		return
	}

	WriteJSON(w, http.StatusOK, intentGetResponse{
		IntentID:    intent.ID,
		Objective:   intent.Objective,
		Scope:       intent.Scope,
		Constraints: intent.Constraints,
		CreatedAt:   intent.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
}

// randHex returns n hex characters of UUID-sourced randomness, the
// format used for generated intent ids.
func randHex(n int) string {
	u := uuid.New()
	s := hex.EncodeToString(u[:])
	for len(s) < n {
		v := uuid.New()
		s += hex.EncodeToString(v[:])
	}
	return s[:n]
}
