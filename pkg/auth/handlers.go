package auth

import (
	"encoding/json"
	"net/http"

	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/api"
)

type signupRequest struct {
	AuthProvider string `json:"auth_provider"`
	AuthSubject  string `json:"auth_subject"`
	Email        string `json:"email"`
}

type sessionUser struct {
	ID       *string `json:"id"`
	Email    *string `json:"email"`
	TenantID *string `json:"tenant_id"`
	Plan     *string `json:"plan"`
	Status   *string `json:"status"`
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// HandleSignup creates (or fetches) the user and tenant rows for a
// session subject. The session token itself is the proof of identity;
// the body only carries the provider fields the frontend saw.
func (a *Authenticator) HandleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		api.WriteMethodNotAllowed(w)
		return
	}

	token := TokenFromRequest(r)
	if token == "" {
		api.WriteUnauthorized(w, "Missing Clerk session token")
		return
	}
	if a.keys == nil {
		api.WriteUnauthorized(w, "Session authentication is not configured")
		return
	}
	claims, err := VerifySessionToken(a.keys, token)
	if err != nil {
		api.WriteUnauthorized(w, "Invalid Clerk session token")
		return
	}

	var body signupRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		api.WriteBadRequest(w, "Invalid request body")
		return
	}
	if body.AuthProvider == "" {
		body.AuthProvider = "clerk"
	}
	if body.AuthProvider != "clerk" {
		api.WriteBadRequest(w, "Unsupported auth provider")
		return
	}
	if claims.Subject != "" && body.AuthSubject != "" && claims.Subject != body.AuthSubject {
		api.WriteForbidden(w, "Clerk subject mismatch")
		return
	}

	id, err := a.ProvisionSession(r.Context(), claims, body.Email)
	if err != nil {
		api.WriteInternal(w, err)
		return
	}

	api.WriteJSON(w, http.StatusOK, map[string]any{
		"tenant_id":     id.TenantID,
		"session_token": token,
		"user": sessionUser{
			ID:       optional(id.UserID),
			Email:    optional(id.Email),
			TenantID: optional(id.TenantID),
			Plan:     optional(id.Plan),
			Status:   optional(id.Status),
		},
	})
}

// HandleSession validates a token and returns the caller's user and
// tenant context. Env-token callers get an all-null body; they have no
// tenant scope.
func (a *Authenticator) HandleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		api.WriteMethodNotAllowed(w)
		return
	}

	token := TokenFromRequest(r)
	if token == "" {
		api.WriteUnauthorized(w, "Missing authentication token")
		return
	}

	id, ok := a.resolve(r.Context(), token)
	if !ok {
		api.WriteUnauthorized(w, "Invalid authentication token")
		return
	}

	if id.TenantID == "" {
		api.WriteJSON(w, http.StatusOK, sessionUser{})
		return
	}

	tenant, err := a.store.GetTenant(r.Context(), id.TenantID)
	if err != nil {
		api.WriteInternal(w, err)
		return
	}
	if tenant == nil {
		api.WriteNotFound(w, "Tenant not found")
		return
	}

	api.WriteJSON(w, http.StatusOK, sessionUser{
		ID:       optional(tenant.UserID),
		Email:    optional(tenant.Email),
		TenantID: optional(tenant.ID),
		Plan:     optional(tenant.Plan),
		Status:   optional(tenant.Status),
	})
}
