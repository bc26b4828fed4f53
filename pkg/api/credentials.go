package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/store"
)

type credentialSetRequest struct {
	CredentialID   string         `json:"credential_id"`
	ToolName       string         `json:"tool_name"`
	CredentialType string         `json:"credential_type"`
	CredentialData map[string]any `json:"credential_data"`
	Encrypted      bool           `json:"encrypted"`
}

// handleCredentialSet stores a tool credential scoped to the caller's
// tenant. Credentials are write-only: there is no readback endpoint,
// so a compromised API token cannot exfiltrate stored secrets.
func (s *Server) handleCredentialSet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}

	var req credentialSetRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid JSON body")
		return
	}

	err := s.store.SaveCredential(r.Context(), &store.Credential{
		CredentialID: req.CredentialID,
		ToolName:     req.ToolName,
		TenantID:     TenantID(r),
		Type:         req.CredentialType,
		Data:         req.CredentialData,
		Encrypted:    req.Encrypted,
	})
	if err != nil {
		WriteBadRequest(w, "Invalid credential: "+err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"credential_id": req.CredentialID,
		"tool_name":     req.ToolName,
		"status":        "saved",
	})
}

func (s *Server) handleCredentialDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		WriteMethodNotAllowed(w)
		return
	}

	credentialID := strings.TrimPrefix(r.URL.Path, "/credentials/")
	if credentialID == "" || strings.Contains(credentialID, "/") {
		WriteNotFound(w, "Credential not found")
		return
	}

	deleted, err := s.store.DeleteCredential(r.Context(), credentialID, TenantID(r))
	if err != nil {
		WriteInternal(w, err)
		return
	}
	if !deleted {
		WriteNotFound(w, "Credential not found")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"status":        "deleted",
		"credential_id": credentialID,
	})
}
