// Package mag gates configured endpoints on decisions recorded in an
// external MAG ledger. When enforcement is on, a request must carry a
// decision id or bundle whose verdict is allow.
package mag

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/config"
	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/store"
)

// Client fetches decision bundles from the MAG ledger API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient points at the ledger base URL. Lookups time out after five
// seconds.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

// FetchDecisionBundle looks up a decision by id. It returns nil for
// unknown ids and for ledger trouble; enforcement treats both as a
// missing decision.
func (c *Client) FetchDecisionBundle(ctx context.Context, decisionID string) map[string]any {
	if decisionID == "" {
		return nil
	}
	url := fmt.Sprintf("%s/mag/ledger/decisions/%s", c.baseURL, decisionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil
	}
	resp, err := c.http.Do(req)
	if err != nil {
		slog.Warn("MAG decision lookup failed", "error", err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Warn("MAG decision lookup error", "status", resp.StatusCode)
		return nil
	}

	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil
	}
	if ok, _ := payload["ok"].(bool); ok {
		if decision, ok := payload["decision"].(map[string]any); ok {
			return decision
		}
	}
	return payload
}

// ExtractVerdict pulls the verdict out of a decision bundle, lowered.
// Bundles nest the verdict under "decision" or carry it at top level
// as "decision" or "verdict".
func ExtractVerdict(bundle map[string]any) string {
	if bundle == nil {
		return ""
	}
	if nested, ok := bundle["decision"].(map[string]any); ok {
		if v, ok := nested["decision"].(string); ok {
			return strings.ToLower(v)
		}
		if v, ok := nested["verdict"].(string); ok {
			return strings.ToLower(v)
		}
		return ""
	}
	if v, ok := bundle["decision"].(string); ok {
		return strings.ToLower(v)
	}
	if v, ok := bundle["verdict"].(string); ok {
		return strings.ToLower(v)
	}
	return ""
}

// EnabledForTenant reports whether enforcement applies: globally via
// EDON_MAG_ENABLED, or per tenant via the tenants table. Store trouble
// reads as disabled.
func EnabledForTenant(ctx context.Context, cfg *config.Config, st *store.Store, tenantID string) bool {
	if cfg.MagEnabled {
		return true
	}
	if tenantID == "" || st == nil {
		return false
	}
	enabled, err := st.MagEnabled(ctx, tenantID)
	if err != nil {
		return false
	}
	return enabled
}
