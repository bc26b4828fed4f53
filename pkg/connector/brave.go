package connector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/config"
	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/contracts"
	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/store"
)

const (
	braveSearchBaseURL = "https://api.search.brave.com/res/v1/web/search"
	apiTimeout         = 15 * time.Second
)

// BraveSearch performs web searches through the Brave Search API. The
// gateway holds the subscription token; agents only ever see results.
type BraveSearch struct {
	credentialID string
	tenantID     string
	apiKey       string
	configured   bool

	base   string
	st     *store.Store
	client *http.Client
}

// NewBraveSearch loads the API key from the stored credential, with a
// dev-only BRAVE_SEARCH_API_KEY fallback outside strict mode.
func NewBraveSearch(ctx context.Context, cfg *config.Config, st *store.Store, credentialID, tenantID string) (*BraveSearch, error) {
	c := &BraveSearch{
		credentialID: credentialID,
		tenantID:     tenantID,
		base:         braveSearchBaseURL,
		st:           st,
		client:       httpClient,
	}
	if st != nil {
		cred, err := st.GetCredential(ctx, credentialID, contracts.ToolBraveSearch, tenantID)
		if err != nil {
			return nil, fmt.Errorf("brave search credential lookup: %w", err)
		}
		if cred != nil {
			c.apiKey = credString(cred.Data, "api_key", "subscription_token")
		}
	}
	if c.apiKey == "" {
		if cfg.CredentialsStrict {
			return nil, errors.New("Brave Search API key missing. Set via credentials API or BRAVE_SEARCH_API_KEY in dev.")
		}
		c.apiKey = os.Getenv("BRAVE_SEARCH_API_KEY")
	}
	c.configured = c.apiKey != ""
	return c, nil
}

// Tool implements Connector.
func (c *BraveSearch) Tool() string { return contracts.ToolBraveSearch }

// Invoke implements Connector.
func (c *BraveSearch) Invoke(ctx context.Context, op string, params map[string]any) (*Result, error) {
	if op != "search" {
		return nil, fmt.Errorf("brave search connector: unsupported op %q", op)
	}
	return c.search(ctx,
		strParam(params, "q", ""),
		intParam(params, "count", 10),
		strParam(params, "country", ""),
		strParam(params, "freshness", "")), nil
}

func (c *BraveSearch) search(ctx context.Context, q string, count int, country, freshness string) *Result {
	if !c.configured {
		return fail("Brave Search connector not configured (missing API key)")
	}
	if count < 1 {
		count = 1
	}
	if count > 20 {
		count = 20
	}

	query := url.Values{}
	query.Set("q", q)
	query.Set("count", strconv.Itoa(count))
	if country != "" {
		query.Set("country", country)
	}
	if freshness != "" {
		query.Set("freshness", freshness)
	}

	ctx, cancel := context.WithTimeout(ctx, apiTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"?"+query.Encode(), nil)
	if err != nil {
		return c.searchError(ctx, q, err.Error())
	}
	req.Header.Set("X-Subscription-Token", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, body, err := doJSON(c.client, req)
	if err != nil {
		return c.searchError(ctx, q, err.Error())
	}
	if resp.StatusCode >= 400 {
		return c.searchError(ctx, q, httpError(resp, body))
	}

	var data struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.Unmarshal(body, &data); err != nil {
		return c.searchError(ctx, q, err.Error())
	}

	results := make([]map[string]any, 0, count)
	for i, item := range data.Web.Results {
		if i >= count {
			break
		}
		results = append(results, map[string]any{
			"title":       item.Title,
			"url":         item.URL,
			"description": item.Description,
		})
	}
	recordResult(ctx, c.st, c.credentialID, c.tenantID, true, "")
	return succeed(map[string]any{
		"query":   q,
		"results": results,
		"count":   len(results),
	})
}

func (c *BraveSearch) searchError(ctx context.Context, q, msg string) *Result {
	recordResult(ctx, c.st, c.credentialID, c.tenantID, false, msg)
	r := fail("%s", msg)
	r.Fields = map[string]any{"query": q}
	return r
}
