package connector

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/config"
	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/contracts"
	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/store"
)

const githubBaseURL = "https://api.github.com"

// GitHub wraps the GitHub REST API with a stored personal access
// token.
type GitHub struct {
	credentialID string
	tenantID     string
	token        string
	configured   bool

	base   string
	st     *store.Store
	client *http.Client
}

// NewGitHub loads the token from the stored credential, with a
// dev-only GITHUB_TOKEN fallback outside strict mode.
func NewGitHub(ctx context.Context, cfg *config.Config, st *store.Store, credentialID, tenantID string) (*GitHub, error) {
	c := &GitHub{
		credentialID: credentialID,
		tenantID:     tenantID,
		base:         githubBaseURL,
		st:           st,
		client:       httpClient,
	}
	if st != nil {
		cred, err := st.GetCredential(ctx, credentialID, contracts.ToolGitHub, tenantID)
		if err != nil {
			return nil, fmt.Errorf("github credential lookup: %w", err)
		}
		if cred != nil {
			c.token = credString(cred.Data, "token", "access_token")
		}
	}
	if c.token == "" {
		if cfg.CredentialsStrict {
			return nil, errors.New("GitHub token missing. Set via credentials API or GITHUB_TOKEN in dev.")
		}
		c.token = os.Getenv("GITHUB_TOKEN")
	}
	c.configured = c.token != ""
	return c, nil
}

// Tool implements Connector.
func (c *GitHub) Tool() string { return contracts.ToolGitHub }

// Invoke implements Connector.
func (c *GitHub) Invoke(ctx context.Context, op string, params map[string]any) (*Result, error) {
	switch op {
	case "list_repos":
		return c.listRepos(ctx,
			strParam(params, "visibility", "all"),
			intParam(params, "per_page", 30)), nil
	case "get_file":
		return c.getFile(ctx,
			strParam(params, "owner", ""),
			strParam(params, "repo", ""),
			strParam(params, "path", "")), nil
	case "create_issue":
		return c.createIssue(ctx,
			strParam(params, "owner", ""),
			strParam(params, "repo", ""),
			strParam(params, "title", ""),
			strParam(params, "body", ""),
			listParam(params, "labels")), nil
	}
	return nil, fmt.Errorf("github connector: unsupported op %q", op)
}

func (c *GitHub) headers(req *http.Request) {
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func (c *GitHub) get(ctx context.Context, path string, query url.Values) (*http.Response, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, apiTimeout)
	defer cancel()
	target := c.base + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, nil, err
	}
	c.headers(req)
	return doJSON(c.client, req)
}

func (c *GitHub) listRepos(ctx context.Context, visibility string, perPage int) *Result {
	if !c.configured {
		return fail("GitHub connector not configured")
	}
	if perPage > 100 {
		perPage = 100
	}
	query := url.Values{}
	query.Set("visibility", visibility)
	query.Set("per_page", strconv.Itoa(perPage))

	resp, body, err := c.get(ctx, "/user/repos", query)
	if err != nil {
		return c.opError(ctx, err.Error())
	}
	if resp.StatusCode >= 400 {
		return c.opError(ctx, httpError(resp, body))
	}

	var raw []struct {
		Name     string `json:"name"`
		FullName string `json:"full_name"`
		Private  bool   `json:"private"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return c.opError(ctx, err.Error())
	}
	repos := make([]map[string]any, 0, len(raw))
	for _, r := range raw {
		repos = append(repos, map[string]any{
			"name":      r.Name,
			"full_name": r.FullName,
			"private":   r.Private,
		})
	}
	recordResult(ctx, c.st, c.credentialID, c.tenantID, true, "")
	return succeed(map[string]any{"repos": repos, "count": len(repos)})
}

func (c *GitHub) getFile(ctx context.Context, owner, repo, path string) *Result {
	if !c.configured {
		return fail("GitHub connector not configured")
	}
	resp, body, err := c.get(ctx, fmt.Sprintf("/repos/%s/%s/contents/%s", owner, repo, path), nil)
	if err != nil {
		return c.opError(ctx, err.Error())
	}
	if resp.StatusCode >= 400 {
		return c.opError(ctx, httpError(resp, body))
	}

	var data struct {
		Content string `json:"content"`
		SHA     string `json:"sha"`
	}
	if err := json.Unmarshal(body, &data); err != nil {
		return c.opError(ctx, err.Error())
	}
	content := ""
	if data.Content != "" {
		// The contents API wraps base64 at 60 columns.
		decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(data.Content, "\n", ""))
		if err != nil {
			return c.opError(ctx, err.Error())
		}
		content = string(decoded)
	}
	recordResult(ctx, c.st, c.credentialID, c.tenantID, true, "")
	return succeed(map[string]any{"content": content, "sha": data.SHA, "path": path})
}

func (c *GitHub) createIssue(ctx context.Context, owner, repo, title, body string, labels []string) *Result {
	if !c.configured {
		return fail("GitHub connector not configured")
	}
	payload := map[string]any{"title": title}
	if body != "" {
		payload["body"] = body
	}
	if len(labels) > 0 {
		payload["labels"] = labels
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return c.opError(ctx, err.Error())
	}

	ctx, cancel := context.WithTimeout(ctx, apiTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/repos/%s/%s/issues", c.base, owner, repo), bytes.NewReader(encoded))
	if err != nil {
		return c.opError(ctx, err.Error())
	}
	c.headers(req)
	req.Header.Set("Content-Type", "application/json")

	resp, respBody, err := doJSON(c.client, req)
	if err != nil {
		return c.opError(ctx, err.Error())
	}
	if resp.StatusCode >= 400 {
		return c.opError(ctx, httpError(resp, respBody))
	}

	var out struct {
		Number  int    `json:"number"`
		HTMLURL string `json:"html_url"`
		State   string `json:"state"`
	}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return c.opError(ctx, err.Error())
	}
	recordResult(ctx, c.st, c.credentialID, c.tenantID, true, "")
	return succeed(map[string]any{
		"number":   out.Number,
		"html_url": out.HTMLURL,
		"state":    out.State,
	})
}

func (c *GitHub) opError(ctx context.Context, msg string) *Result {
	recordResult(ctx, c.st, c.credentialID, c.tenantID, false, msg)
	return fail("%s", msg)
}
