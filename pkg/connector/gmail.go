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

const gmailBaseURL = "https://gmail.googleapis.com/gmail/v1/users/me"

// Gmail reads and sends mail through the Gmail REST API. The gateway
// holds the OAuth tokens; expired access tokens are refreshed lazily
// and written back to the credential row.
type Gmail struct {
	credentialID string
	tenantID     string
	tok          *googleToken
	credType     string
	configured   bool

	base   string
	st     *store.Store
	client *http.Client
}

// NewGmail loads OAuth credentials for (credentialID, tenantID), with
// dev-only GMAIL_* env fallbacks outside strict mode.
func NewGmail(ctx context.Context, cfg *config.Config, st *store.Store, credentialID, tenantID string) (*Gmail, error) {
	c := &Gmail{
		credentialID: credentialID,
		tenantID:     tenantID,
		tok:          newGoogleToken(),
		credType:     "oauth",
		base:         gmailBaseURL,
		st:           st,
		client:       httpClient,
	}
	if st != nil {
		cred, err := st.GetCredential(ctx, credentialID, contracts.ToolGmail, tenantID)
		if err != nil {
			return nil, fmt.Errorf("gmail credential lookup: %w", err)
		}
		if cred != nil && len(cred.Data) > 0 {
			c.tok.loadFrom(cred.Data)
			if cred.Type != "" {
				c.credType = cred.Type
			}
			if c.tok.ensure(ctx) {
				c.persistToken(ctx)
			}
			if c.tok.accessToken != "" {
				c.configured = true
				return c, nil
			}
		}
	}
	if cfg.CredentialsStrict {
		return nil, errors.New("Gmail credentials missing. Set via credentials API or GMAIL_ACCESS_TOKEN in dev.")
	}
	c.tok.loadFrom(map[string]any{
		"access_token":  os.Getenv("GMAIL_ACCESS_TOKEN"),
		"refresh_token": os.Getenv("GMAIL_REFRESH_TOKEN"),
		"client_id":     os.Getenv("GMAIL_CLIENT_ID"),
		"client_secret": os.Getenv("GMAIL_CLIENT_SECRET"),
		"token_uri":     os.Getenv("GMAIL_TOKEN_URI"),
		"expires_at":    os.Getenv("GMAIL_EXPIRES_AT"),
	})
	if c.tok.accessToken == "" && c.tok.canRefresh() {
		c.tok.ensure(ctx)
	}
	c.configured = c.tok.accessToken != ""
	return c, nil
}

// persistToken writes the refreshed token back so the next connector
// starts from it. Best-effort.
func (c *Gmail) persistToken(ctx context.Context) {
	if c.st == nil || c.credentialID == "" {
		return
	}
	_ = c.st.SaveCredential(ctx, &store.Credential{
		CredentialID: c.credentialID,
		ToolName:     contracts.ToolGmail,
		TenantID:     c.tenantID,
		Type:         c.credType,
		Data:         c.tok.asData(),
	})
}

// authorize refreshes the token when needed and stamps the request.
func (c *Gmail) authorize(ctx context.Context, req *http.Request) {
	if c.tok.ensure(ctx) {
		c.persistToken(ctx)
	}
	if c.tok.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.tok.accessToken)
	}
	req.Header.Set("Content-Type", "application/json")
}

// Tool implements Connector.
func (c *Gmail) Tool() string { return contracts.ToolGmail }

// Invoke implements Connector.
func (c *Gmail) Invoke(ctx context.Context, op string, params map[string]any) (*Result, error) {
	switch op {
	case "list_messages":
		return c.listMessages(ctx,
			intParam(params, "max_results", 10),
			strParam(params, "q", ""),
			listParam(params, "label_ids")), nil
	case "get_message":
		return c.getMessage(ctx,
			strParam(params, "message_id", ""),
			strParam(params, "format", "metadata")), nil
	case "send_message":
		recipients := listParam(params, "recipients")
		if len(recipients) == 0 {
			if to := strParam(params, "to", ""); to != "" {
				recipients = []string{to}
			}
		}
		return c.sendMessage(ctx, recipients,
			strParam(params, "subject", ""),
			strParam(params, "body", "")), nil
	}
	return nil, fmt.Errorf("gmail connector: unsupported op %q", op)
}

func (c *Gmail) listMessages(ctx context.Context, maxResults int, q string, labelIDs []string) *Result {
	if !c.configured {
		return fail("Gmail connector not configured")
	}
	if maxResults < 1 {
		maxResults = 1
	}
	if maxResults > 50 {
		maxResults = 50
	}
	query := url.Values{}
	query.Set("maxResults", strconv.Itoa(maxResults))
	if q != "" {
		query.Set("q", q)
	}
	for _, id := range labelIDs {
		query.Add("labelIds", id)
	}

	ctx, cancel := context.WithTimeout(ctx, apiTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/messages?"+query.Encode(), nil)
	if err != nil {
		return c.opError(ctx, err.Error())
	}
	c.authorize(ctx, req)

	resp, body, err := doJSON(c.client, req)
	if err != nil {
		return c.opError(ctx, err.Error())
	}
	if resp.StatusCode >= 400 {
		return c.opError(ctx, httpError(resp, body))
	}

	var data struct {
		Messages []struct {
			ID       string `json:"id"`
			ThreadID string `json:"threadId"`
		} `json:"messages"`
		ResultSizeEstimate int `json:"resultSizeEstimate"`
	}
	if err := json.Unmarshal(body, &data); err != nil {
		return c.opError(ctx, err.Error())
	}
	messages := make([]map[string]any, 0, len(data.Messages))
	for _, m := range data.Messages {
		messages = append(messages, map[string]any{"id": m.ID, "threadId": m.ThreadID})
	}
	recordResult(ctx, c.st, c.credentialID, c.tenantID, true, "")
	return succeed(map[string]any{
		"messages":           messages,
		"resultSizeEstimate": data.ResultSizeEstimate,
	})
}

func (c *Gmail) getMessage(ctx context.Context, messageID, format string) *Result {
	if !c.configured {
		return fail("Gmail connector not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, apiTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.base+"/messages/"+messageID+"?format="+url.QueryEscape(format), nil)
	if err != nil {
		return c.opError(ctx, err.Error())
	}
	c.authorize(ctx, req)

	resp, body, err := doJSON(c.client, req)
	if err != nil {
		return c.opError(ctx, err.Error())
	}
	if resp.StatusCode >= 400 {
		return c.opError(ctx, httpError(resp, body))
	}

	var msg struct {
		ID       string   `json:"id"`
		ThreadID string   `json:"threadId"`
		Snippet  string   `json:"snippet"`
		LabelIDs []string `json:"labelIds"`
		Payload  struct {
			Headers []struct {
				Name  string `json:"name"`
				Value string `json:"value"`
			} `json:"headers"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(body, &msg); err != nil {
		return c.opError(ctx, err.Error())
	}
	subject, from := "", ""
	for _, h := range msg.Payload.Headers {
		switch strings.ToLower(h.Name) {
		case "subject":
			subject = h.Value
		case "from":
			from = h.Value
		}
	}
	labelIDs := msg.LabelIDs
	if labelIDs == nil {
		labelIDs = []string{}
	}
	recordResult(ctx, c.st, c.credentialID, c.tenantID, true, "")
	return succeed(map[string]any{
		"id":       msg.ID,
		"threadId": msg.ThreadID,
		"snippet":  msg.Snippet,
		"subject":  subject,
		"from":     from,
		"labelIds": labelIDs,
	})
}

func (c *Gmail) sendMessage(ctx context.Context, recipients []string, subject, body string) *Result {
	if !c.configured {
		return fail("Gmail connector not configured")
	}
	if len(recipients) == 0 {
		return fail("No recipients")
	}
	raw := fmt.Sprintf("To: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s",
		strings.Join(recipients, ", "), subject, body)
	payload, err := json.Marshal(map[string]string{
		"raw": base64.URLEncoding.EncodeToString([]byte(raw)),
	})
	if err != nil {
		return c.opError(ctx, err.Error())
	}

	ctx, cancel := context.WithTimeout(ctx, apiTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/messages/send", bytes.NewReader(payload))
	if err != nil {
		return c.opError(ctx, err.Error())
	}
	c.authorize(ctx, req)

	resp, respBody, err := doJSON(c.client, req)
	if err != nil {
		return c.opError(ctx, err.Error())
	}
	if resp.StatusCode >= 400 {
		return c.opError(ctx, httpError(resp, respBody))
	}

	var out struct {
		ID       string   `json:"id"`
		ThreadID string   `json:"threadId"`
		LabelIDs []string `json:"labelIds"`
	}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return c.opError(ctx, err.Error())
	}
	labelIDs := out.LabelIDs
	if labelIDs == nil {
		labelIDs = []string{}
	}
	recordResult(ctx, c.st, c.credentialID, c.tenantID, true, "")
	return succeed(map[string]any{
		"id":       out.ID,
		"threadId": out.ThreadID,
		"labelIds": labelIDs,
	})
}

func (c *Gmail) opError(ctx context.Context, msg string) *Result {
	recordResult(ctx, c.st, c.credentialID, c.tenantID, false, msg)
	return fail("%s", msg)
}
