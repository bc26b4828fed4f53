// Package auth authenticates gateway requests. Tokens resolve in
// order: tenant API key, channel token, provider session JWT, then the
// legacy env token. Resolution is fail-closed; a token that matches
// nothing is rejected even when later steps were skipped for policy
// reasons.
package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/api"
	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/config"
	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/store"
)

// publicPaths are reachable without a token. Matching normalizes a
// trailing slash.
var publicPaths = []string{
	"/health",
	"/healthz",
	"/version",
	"/auth/signup",
	"/auth/session",
	"/integrations/telegram/verify-code",
}

func isPublicPath(path string) bool {
	path = strings.TrimRight(path, "/")
	if path == "" {
		path = "/"
	}
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}

// Authenticator resolves tokens against the store and an optional
// session keyset.
type Authenticator struct {
	cfg   *config.Config
	store *store.Store
	keys  KeySet

	// devTenantID scopes env-token traffic in development so local
	// runs exercise tenant paths.
	devTenantID string
}

// NewAuthenticator wires the middleware. keys may be nil when no JWKS
// endpoint is configured; session tokens are then rejected.
func NewAuthenticator(cfg *config.Config, st *store.Store, keys KeySet) *Authenticator {
	return &Authenticator{cfg: cfg, store: st, keys: keys, devTenantID: "tenant_dev"}
}

// WithDevTenant overrides the tenant assigned to env-token requests in
// development.
func (a *Authenticator) WithDevTenant(tenantID string) *Authenticator {
	if tenantID != "" {
		a.devTenantID = tenantID
	}
	return a
}

// TokenFromRequest extracts the presented secret: X-EDON-TOKEN first,
// then Authorization: Bearer.
func TokenFromRequest(r *http.Request) string {
	if t := strings.TrimSpace(r.Header.Get("X-EDON-TOKEN")); t != "" {
		return t
	}
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(authz, "Bearer ") {
		return strings.TrimSpace(authz[len("Bearer "):])
	}
	return ""
}

// Middleware enforces authentication and subscription state, then
// injects the resolved Identity into the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		if a.cfg.DemoMode && strings.TrimRight(r.URL.Path, "/") == "/integrations/telegram/connect-code" {
			next.ServeHTTP(w, r)
			return
		}
		if !a.cfg.AuthEnabled {
			next.ServeHTTP(w, r)
			return
		}

		token := TokenFromRequest(r)
		if token == "" {
			w.Header().Set("WWW-Authenticate", "Bearer")
			api.WriteUnauthorized(w, "Missing authentication token. Provide X-EDON-TOKEN header or Authorization Bearer token.")
			return
		}

		id, ok := a.resolve(r.Context(), token)
		if !ok {
			w.Header().Set("WWW-Authenticate", "Bearer")
			api.WriteUnauthorized(w, "Invalid authentication token")
			return
		}

		if id.TenantID != "" {
			if a.cfg.DemoMode {
				id.Status = "active"
				if id.Plan == "" {
					id.Plan = "starter"
				}
			} else if id.Status != "active" && id.Status != "trial" {
				api.WritePaymentRequired(w, "Subscription inactive. Status: "+id.Status)
				return
			}

			if !a.checkUsage(r.Context(), w, id) {
				return
			}
		} else if a.cfg.Environment == "development" && token == strings.TrimSpace(a.cfg.APIToken) {
			id.TenantID = a.devTenantID
		}

		if a.cfg.TokenBindingEnabled {
			a.bindAgent(r, id, token)
		}

		next.ServeHTTP(w, r.WithContext(api.WithIdentity(r.Context(), id)))
	})
}

// resolve walks the token resolution chain. A nil identity with ok
// means the env token matched (legacy global scope).
func (a *Authenticator) resolve(ctx context.Context, token string) (*api.Identity, bool) {
	hash := store.HashToken(token)

	if key, err := a.store.APIKeyByHash(ctx, hash); err == nil && key != nil {
		if err := a.store.UpdateAPIKeyLastUsed(ctx, key.ID); err != nil {
			slog.Debug("api key last-used update failed", "error", err)
		}
		tenant, err := a.store.GetTenant(ctx, key.TenantID)
		if err != nil || tenant == nil {
			return nil, false
		}
		return &api.Identity{
			TenantID: tenant.ID,
			UserID:   tenant.UserID,
			Plan:     tenant.Plan,
			Status:   tenant.Status,
			APIKeyID: key.ID,
			Token:    token,
		}, true
	}

	if ct, err := a.store.ChannelTokenByHash(ctx, hash); err == nil && ct != nil {
		if err := a.store.UpdateChannelTokenLastUsed(ctx, ct.ID); err != nil {
			slog.Debug("channel token last-used update failed", "error", err)
		}
		tenant, err := a.store.GetTenant(ctx, ct.TenantID)
		if err != nil || tenant == nil {
			return nil, false
		}
		return &api.Identity{
			TenantID: tenant.ID,
			UserID:   tenant.UserID,
			Plan:     tenant.Plan,
			Status:   tenant.Status,
			Token:    token,
		}, true
	}

	if strings.Count(token, ".") == 2 && a.keys != nil {
		if claims, err := VerifySessionToken(a.keys, token); err == nil {
			if id, err := a.ProvisionSession(ctx, claims, ""); err == nil {
				id.Token = token
				return id, true
			} else {
				slog.Debug("session tenant resolution failed", "error", err)
			}
		}
	}

	// Env token fallback. Disabled in production unless explicitly
	// re-enabled for bootstrap access.
	if a.cfg.IsProduction() && !a.cfg.AllowEnvTokenInProd {
		return nil, false
	}
	apiToken := strings.TrimSpace(a.cfg.APIToken)
	if apiToken == "" || a.cfg.IsPlaceholderToken() {
		slog.Warn("env token auth requested but EDON_API_TOKEN is unset or a shipped default")
		return nil, false
	}
	if token == apiToken {
		return &api.Identity{Token: token}, true
	}
	return nil, false
}

// ProvisionSession creates the user and tenant rows for a session
// subject on first sight and returns the caller identity. Existing
// rows are reused.
func (a *Authenticator) ProvisionSession(ctx context.Context, claims *SessionClaims, fallbackEmail string) (*api.Identity, error) {
	email := claims.BestEmail(fallbackEmail)

	user, err := a.store.UserByAuth(ctx, "clerk", claims.Subject)
	if err != nil {
		return nil, err
	}
	if user == nil {
		userID := uuid.NewString()
		if err := a.store.CreateUser(ctx, userID, email, "clerk", claims.Subject, "user"); err != nil {
			return nil, err
		}
		user = &store.User{ID: userID, Email: email}
	}

	tenant, err := a.store.TenantByUserID(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if tenant == nil {
		tenantID := "tenant_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
		if err := a.store.CreateTenant(ctx, tenantID, user.ID); err != nil {
			return nil, err
		}
		tenant, err = a.store.GetTenant(ctx, tenantID)
		if err != nil || tenant == nil {
			return nil, err
		}
	}

	return &api.Identity{
		TenantID: tenant.ID,
		UserID:   user.ID,
		Email:    email,
		Plan:     tenant.Plan,
		Status:   tenant.Status,
	}, nil
}

// checkUsage enforces plan caps. Store errors fail open: a metering
// outage must not take governed traffic down with it.
func (a *Authenticator) checkUsage(ctx context.Context, w http.ResponseWriter, id *api.Identity) bool {
	limits := PlanFor(id.Plan)

	monthly, err := a.store.TenantUsageMonth(ctx, id.TenantID, "")
	if err != nil {
		slog.Error("tenant usage lookup failed", "tenant_id", id.TenantID, "error", err)
		return true
	}
	if !WithinLimit(monthly, limits.PerMonth) {
		api.WriteTooManyRequests(w, "Monthly usage limit exceeded for plan '"+id.Plan+"'", 0)
		return false
	}

	daily, err := a.store.TenantUsage(ctx, id.TenantID, "")
	if err != nil {
		slog.Error("tenant usage lookup failed", "tenant_id", id.TenantID, "error", err)
		return true
	}
	if !WithinLimit(daily, limits.PerDay) {
		api.WriteTooManyRequests(w, "Daily usage limit exceeded for plan '"+id.Plan+"'", 0)
		return false
	}
	return true
}

// bindAgent records or retrieves the token's agent binding. Errors are
// logged and ignored; binding is best-effort bookkeeping.
func (a *Authenticator) bindAgent(r *http.Request, id *api.Identity, token string) {
	ctx := r.Context()
	agentID := r.URL.Query().Get("agent_id")
	if agentID == "" {
		agentID = r.Header.Get("X-Agent-ID")
	}

	if agentID != "" {
		if err := a.store.BindTokenToAgent(ctx, token, agentID); err != nil {
			slog.Debug("token-agent bind failed", "error", err)
		}
		if err := a.store.UpdateTokenLastUsed(ctx, token); err != nil {
			slog.Debug("token last-used update failed", "error", err)
		}
		return
	}

	bound, err := a.store.AgentIDForToken(ctx, token)
	if err != nil {
		slog.Debug("token-agent lookup failed", "error", err)
		return
	}
	if bound != "" {
		id.AgentID = bound
		if err := a.store.UpdateTokenLastUsed(ctx, token); err != nil {
			slog.Debug("token last-used update failed", "error", err)
		}
	}
}
