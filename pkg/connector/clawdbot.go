package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/config"
	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/contracts"
	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/store"
)

const clawdbotTimeout = 30 * time.Second

// Clawdbot proxies tool invokes to the Clawdbot Gateway /tools/invoke
// endpoint. Agents cannot call the gateway directly because only the
// EDON side holds the gateway secret.
type Clawdbot struct {
	credentialID string
	tenantID     string

	baseURL  string
	authMode string // "password" | "token", both sent as Bearer
	secret   string

	configured bool
	credErr    string

	st     *store.Store
	client *http.Client
}

// NewClawdbot loads credentials for (credentialID, tenantID) with a
// strict tenant match. Construction never fails: a connector without
// usable credentials reports the load error from CredentialError and
// refuses to invoke.
func NewClawdbot(ctx context.Context, cfg *config.Config, st *store.Store, credentialID, tenantID string) *Clawdbot {
	c := &Clawdbot{
		credentialID: credentialID,
		tenantID:     tenantID,
		authMode:     "password",
		st:           st,
		client:       httpClient,
	}
	if err := c.loadCredentials(ctx, cfg); err != nil {
		c.credErr = err.Error()
		return c
	}
	c.configured = true
	return c
}

// NewClawdbotInline builds a connector from inline credentials for
// connect probes. Inline connectors never write credential status.
func NewClawdbotInline(baseURL, authMode, secret string) *Clawdbot {
	return &Clawdbot{
		credentialID: inlineCredentialID,
		baseURL:      strings.TrimRight(baseURL, "/"),
		authMode:     authMode,
		secret:       secret,
		configured:   true,
		client:       httpClient,
	}
}

func (c *Clawdbot) loadCredentials(ctx context.Context, cfg *config.Config) error {
	if c.st != nil {
		cred, err := c.st.GetCredential(ctx, c.credentialID, "clawdbot", c.tenantID)
		if err != nil {
			return fmt.Errorf("clawdbot credential lookup failed: %w", err)
		}
		if cred != nil {
			baseURL := strings.TrimRight(credString(cred.Data, "base_url", "gateway_url", "url"), "/")
			authMode := strings.ToLower(strings.TrimSpace(credString(cred.Data, "auth_mode")))
			if authMode != "password" && authMode != "token" {
				authMode = "password"
			}
			secret := credString(cred.Data, "secret", "token", "password", "gateway_token")
			if baseURL != "" && secret != "" {
				c.baseURL = baseURL
				c.authMode = authMode
				c.secret = secret
				return nil
			}
		}
	}

	if cfg.CredentialsStrict {
		return errors.New("Clawdbot Gateway credentials missing. EDON_CREDENTIALS_STRICT=true disables env fallback. " +
			"Configure via POST /integrations/clawdbot/connect.")
	}
	if cfg.ClawdbotGatewayToken != "" {
		envURL := cfg.ClawdbotGatewayURL
		if envURL == "" {
			envURL = "http://127.0.0.1:18789"
		}
		c.baseURL = strings.TrimRight(envURL, "/")
		c.authMode = "token"
		c.secret = cfg.ClawdbotGatewayToken
		return nil
	}
	return errors.New("Clawdbot Gateway credentials missing. Configure via /integrations/clawdbot/connect.")
}

// Tool implements Connector.
func (c *Clawdbot) Tool() string { return contracts.ToolClawdbot }

// Configured reports whether credentials loaded.
func (c *Clawdbot) Configured() bool { return c.configured && c.baseURL != "" && c.secret != "" }

// CredentialError returns the credential load failure, if any.
func (c *Clawdbot) CredentialError() string { return c.credErr }

// BaseURL returns the gateway base URL the connector would call.
func (c *Clawdbot) BaseURL() string { return c.baseURL }

// Invoke implements Connector. The only operation is "invoke", whose
// params mirror the upstream payload: tool, action, args, sessionKey.
func (c *Clawdbot) Invoke(ctx context.Context, op string, params map[string]any) (*Result, error) {
	if op != "invoke" {
		return nil, fmt.Errorf("clawdbot connector: unsupported op %q", op)
	}
	return c.InvokeTool(ctx,
		strParam(params, "tool", ""),
		strParam(params, "action", ""),
		mapParam(params, "args"),
		strParam(params, "sessionKey", ""))
}

// clawdbotResponse is the upstream envelope from /tools/invoke.
type clawdbotResponse struct {
	OK     bool           `json:"ok"`
	Result map[string]any `json:"result"`
	Error  string         `json:"error"`
}

// InvokeTool calls the gateway /tools/invoke endpoint. Transport
// failures come back as an unsuccessful Result with
// DownstreamUnavailable set; HTTP-level rejections are protocol
// errors and are returned as a non-nil error so the caller can map
// upstream auth failures.
func (c *Clawdbot) InvokeTool(ctx context.Context, tool, action string, args map[string]any, sessionKey string) (*Result, error) {
	if c.baseURL == "" || c.secret == "" {
		return nil, errors.New("Clawdbot connector not configured. Credentials must be set before invoking tools.")
	}
	if action == "" {
		action = "json"
	}
	if args == nil {
		args = map[string]any{}
	}

	payload := map[string]any{
		"tool":   tool,
		"action": action,
		"args":   args,
	}
	if sessionKey != "" {
		payload["sessionKey"] = sessionKey
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("clawdbot connector: encode payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, clawdbotTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tools/invoke", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("clawdbot connector: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.secret)

	resp, raw, err := doJSON(c.client, req)
	if err != nil {
		msg := fmt.Sprintf("Clawdbot Gateway request failed: %s", err)
		c.recordFailure(ctx, msg)
		return &Result{
			Fields:                map[string]any{"tool": tool, "action": action},
			Error:                 msg,
			DownstreamUnavailable: true,
		}, nil
	}

	detail := safeJSON(raw)
	if resp.StatusCode >= 400 {
		c.recordFailure(ctx, fmt.Sprintf("%v", detail))
		return nil, fmt.Errorf("Clawdbot Gateway HTTP error %d: %v", resp.StatusCode, detail)
	}

	var parsed clawdbotResponse
	if err := json.Unmarshal(raw, &parsed); err == nil && parsed.OK {
		c.recordSuccess(ctx)
		result := parsed.Result
		if result == nil {
			result = map[string]any{}
		}
		return succeed(map[string]any{
			"tool":              tool,
			"action":            action,
			"result":            result,
			"clawdbot_response": detail,
		}), nil
	}

	errMsg := "Unknown Clawdbot error"
	var responseField any
	if m, ok := detail.(map[string]any); ok {
		if e, ok := m["error"].(string); ok && e != "" {
			errMsg = e
		}
		responseField = m
	} else {
		errMsg = fmt.Sprintf("%v", detail)
	}
	c.recordFailure(ctx, errMsg)
	return &Result{
		Fields: map[string]any{
			"tool":              tool,
			"action":            action,
			"clawdbot_response": responseField,
		},
		Error: errMsg,
	}, nil
}

func (c *Clawdbot) recordSuccess(ctx context.Context) {
	recordResult(ctx, c.st, c.credentialID, c.tenantID, true, "")
}

func (c *Clawdbot) recordFailure(ctx context.Context, msg string) {
	recordResult(ctx, c.st, c.credentialID, c.tenantID, false, msg)
}

// safeJSON parses a response body as JSON when possible, otherwise
// returns the raw text.
func safeJSON(raw []byte) any {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}
