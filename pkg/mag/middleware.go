package mag

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/api"
	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/config"
	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/store"
)

// Enforcer is the MAG enforcement middleware.
type Enforcer struct {
	cfg    *config.Config
	store  *store.Store
	client *Client

	enforcePaths map[string]bool
}

// NewEnforcer builds the middleware over the configured enforce paths.
func NewEnforcer(cfg *config.Config, st *store.Store, client *Client) *Enforcer {
	paths := make(map[string]bool, len(cfg.MagEnforcePaths))
	for _, p := range cfg.MagEnforcePaths {
		paths[normalizePath(p)] = true
	}
	return &Enforcer{cfg: cfg, store: st, client: client, enforcePaths: paths}
}

func normalizePath(p string) string {
	p = strings.TrimRight(p, "/")
	if p == "" {
		return "/"
	}
	return p
}

// Middleware requires an allow decision for POST/PUT requests on the
// enforce paths when enforcement applies to the caller's tenant.
func (e *Enforcer) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost && r.Method != http.MethodPut {
			next.ServeHTTP(w, r)
			return
		}
		if !e.enforcePaths[normalizePath(r.URL.Path)] {
			next.ServeHTTP(w, r)
			return
		}

		tenantID := api.TenantID(r)
		if !EnabledForTenant(r.Context(), e.cfg, e.store, tenantID) {
			next.ServeHTTP(w, r)
			return
		}

		decisionID := r.Header.Get("X-Decision-ID")
		var bundle map[string]any

		if r.Body != nil {
			raw, err := io.ReadAll(r.Body)
			if err != nil {
				api.WriteBadRequest(w, "unreadable request body")
				return
			}
			_ = r.Body.Close()
			r.Body = io.NopCloser(bytes.NewReader(raw))

			if len(raw) > 0 {
				var body map[string]any
				if err := json.Unmarshal(raw, &body); err == nil {
					if decisionID == "" {
						decisionID, _ = body["decision_id"].(string)
					}
					bundle, _ = body["decision_bundle"].(map[string]any)
				}
			}
		}

		if bundle == nil && decisionID != "" {
			bundle = e.client.FetchDecisionBundle(r.Context(), decisionID)
			if bundle == nil {
				api.WriteNotFound(w, "decision_id not found in MAG ledger")
				return
			}
		}
		if bundle == nil {
			api.WriteBadRequest(w, "decision_id or decision_bundle required when MAG enabled")
			return
		}

		verdict := ExtractVerdict(bundle)
		if verdict == "" {
			api.WriteBadRequest(w, "decision_bundle missing decision verdict")
			return
		}
		if verdict != "allow" {
			api.WriteForbidden(w, "MAG decision denied")
			return
		}

		next.ServeHTTP(w, r)
	})
}
