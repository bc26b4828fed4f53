package api

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const (
	identityKey  contextKey = "edon.identity"
	requestIDKey contextKey = "edon.request_id"
)

// Identity is the resolved caller for one request. TenantID is empty
// for env-token (legacy) callers; everything tenant-scoped treats that
// as the global scope.
type Identity struct {
	TenantID string
	UserID   string
	Email    string
	Plan     string
	Status   string
	APIKeyID string

	// Token is the raw presented secret, kept in-context only so the
	// token-binding path can hash it again. It is never logged.
	Token string

	// AgentID is the bound agent identity when token binding resolved
	// one for this token.
	AgentID string
}

// WithIdentity returns a context carrying the resolved identity.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFrom extracts the identity, or nil when the request was not
// authenticated (public path or auth disabled).
func IdentityFrom(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey).(*Identity)
	return id
}

// TenantID resolves the tenant scope for a request. Order: identity
// set by the auth middleware, then the X-Tenant-ID header (dev/test
// override), then empty for global scope.
func TenantID(r *http.Request) string {
	if id := IdentityFrom(r.Context()); id != nil && id.TenantID != "" {
		return id.TenantID
	}
	if hdr := strings.TrimSpace(r.Header.Get("X-Tenant-ID")); hdr != "" {
		return hdr
	}
	return ""
}

// AgentID resolves the acting agent for a request: explicit headers
// first, then the query parameter, then any token-bound agent.
func AgentID(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get("X-EDON-Agent-ID")); v != "" {
		return v
	}
	if v := strings.TrimSpace(r.Header.Get("X-Agent-ID")); v != "" {
		return v
	}
	if v := strings.TrimSpace(r.URL.Query().Get("agent_id")); v != "" {
		return v
	}
	if id := IdentityFrom(r.Context()); id != nil {
		return id.AgentID
	}
	return ""
}
