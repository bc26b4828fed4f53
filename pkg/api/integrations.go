package api

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/connector"
	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/security"
	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/store"
)

// connectTTL bounds how long a one-time connect link stays redeemable.
const connectTTL = 10 * time.Minute

// Google OAuth endpoints, vars so tests can point them at a stub.
var (
	googleAuthURL  = "https://accounts.google.com/o/oauth2/v2/auth"
	googleTokenURL = "https://oauth2.googleapis.com/token"
)

const (
	gmailScopes    = "https://www.googleapis.com/auth/gmail.readonly https://www.googleapis.com/auth/gmail.send https://www.googleapis.com/auth/gmail.modify"
	calendarScopes = "https://www.googleapis.com/auth/calendar https://www.googleapis.com/auth/calendar.events"
)

type connectService struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Type  string `json:"type"`
}

// connectServices are the integrations the Telegram /connect command
// offers. Type selects the flow: oauth redirects to the provider,
// api_key serves a paste form.
var connectServices = []connectService{
	{ID: "gmail", Label: "Gmail", Type: "oauth"},
	{ID: "google_calendar", Label: "Google Calendar", Type: "oauth"},
	{ID: "brave_search", Label: "Brave Search", Type: "api_key"},
	{ID: "github", Label: "GitHub", Type: "api_key"},
	{ID: "elevenlabs", Label: "ElevenLabs", Type: "api_key"},
}

// telegramConnectKeyboard is the ready-to-send inline_keyboard payload,
// one row per service with callback_data connect_<id>.
var telegramConnectKeyboard = [][]map[string]string{
	{{"text": "📧 Gmail", "callback_data": "connect_gmail"}},
	{{"text": "📅 Google Calendar", "callback_data": "connect_google_calendar"}},
	{{"text": "🔍 Brave Search", "callback_data": "connect_brave_search"}},
	{{"text": "🐙 GitHub", "callback_data": "connect_github"}},
	{{"text": "🔊 ElevenLabs", "callback_data": "connect_elevenlabs"}},
}

// apiKeyConnect describes a paste-a-secret connect flow.
type apiKeyConnect struct {
	label       string
	field       string
	placeholder string
	credType    string
}

var apiKeyConnects = map[string]apiKeyConnect{
	"brave_search": {label: "Brave Search", field: "api_key", placeholder: "Brave API key", credType: "api_key"},
	"github":       {label: "GitHub", field: "token", placeholder: "Personal access token", credType: "token"},
	"elevenlabs":   {label: "ElevenLabs", field: "api_key", placeholder: "ElevenLabs API key", credType: "api_key"},
}

var googleConnects = map[string]struct {
	label  string
	scopes string
}{
	"gmail":           {label: "Gmail", scopes: gmailScopes},
	"google_calendar": {label: "Google Calendar", scopes: calendarScopes},
}

func isConnectService(name string) bool {
	for _, svc := range connectServices {
		if svc.ID == name {
			return true
		}
	}
	return false
}

func connectServiceIDs() []string {
	ids := make([]string, 0, len(connectServices))
	for _, svc := range connectServices {
		ids = append(ids, svc.ID)
	}
	sort.Strings(ids)
	return ids
}

// connectBaseURL resolves the externally visible base for connect
// links: the configured public URL when set, the request host
// otherwise.
func (s *Server) connectBaseURL(r *http.Request) string {
	if s.cfg != nil && s.cfg.ConnectBaseURL != "" {
		return s.cfg.ConnectBaseURL
	}
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

func (s *Server) handleConnectButtons(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"services":                 connectServices,
		"telegram_inline_keyboard": telegramConnectKeyboard,
	})
}

type connectLinkRequest struct {
	Service string `json:"service"`
	ChatID  string `json:"chat_id,omitempty"`
}

// handleConnectLink mints a one-time connect URL for a service. The
// bot calls this when the user taps a connect button.
func (s *Server) handleConnectLink(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	tenantID := TenantID(r)
	if tenantID == "" {
		WriteUnauthorized(w, "Tenant context required")
		return
	}

	var req connectLinkRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid JSON body")
		return
	}
	service := strings.ToLower(strings.TrimSpace(req.Service))
	if !isConnectService(service) {
		WriteBadRequest(w, "Invalid service. Use one of: "+strings.Join(connectServiceIDs(), ", "))
		return
	}

	expiresAt := s.now().UTC().Add(connectTTL)
	code, err := s.store.CreateConnectServiceCode(r.Context(), tenantID, service, req.ChatID, expiresAt)
	if err != nil {
		WriteInternal(w, err)
		return
	}

	path := "/integrations/connect/" + service
	if _, oauth := googleConnects[service]; oauth {
		path += "/start"
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"url":        s.connectBaseURL(r) + path + "?code=" + code,
		"code":       code,
		"expires_in": int(connectTTL.Seconds()),
	})
}

func (s *Server) handleConnectStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	services := make(map[string]bool, len(connectServices))
	for _, svc := range connectServices {
		services[svc.ID] = false
	}

	tenantID := TenantID(r)
	if tenantID != "" {
		connected, err := s.store.ConnectedServices(r.Context(), tenantID)
		if err != nil {
			WriteInternal(w, err)
			return
		}
		for _, name := range connected {
			if _, known := services[name]; known {
				services[name] = true
			}
		}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"services": services})
}

func (s *Server) handleConnectSuccess(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	service := r.URL.Query().Get("service")
	if service == "" {
		service = "Service"
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, `<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>Connected</title></head>
<body style="font-family:sans-serif;max-width:400px;margin:2rem auto;padding:1rem;text-align:center;">
<h1>✓ %s connected</h1>
<p>You can close this page and return to Telegram.</p>
</body></html>`, html.EscapeString(service))
}

// requireServiceCode resolves and validates a one-time service code.
// On failure it writes the error response and returns nil.
func (s *Server) requireServiceCode(w http.ResponseWriter, r *http.Request, code string) *store.ConnectServiceCode {
	code = strings.ToUpper(strings.TrimSpace(code))
	entry, err := s.store.GetConnectServiceCode(r.Context(), code)
	if err != nil {
		WriteInternal(w, err)
		return nil
	}
	if entry == nil {
		WriteNotFound(w, "Connect code not found")
		return nil
	}
	if entry.UsedAt != nil {
		WriteConflict(w, "Connect code already used")
		return nil
	}
	if entry.ExpiresAt.IsZero() || entry.ExpiresAt.Before(s.now()) {
		WriteGone(w, "Connect code expired")
		return nil
	}
	return entry
}

// handleConnectAPIKey serves the paste form (GET) and stores the
// submitted secret (POST) for the api_key connect services.
func (s *Server) handleConnectAPIKey(w http.ResponseWriter, r *http.Request) {
	service := strings.TrimPrefix(r.URL.Path, "/integrations/connect/")
	svc, ok := apiKeyConnects[service]
	if !ok {
		WriteNotFound(w, "Not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		entry := s.requireServiceCode(w, r, r.URL.Query().Get("code"))
		if entry == nil {
			return
		}
		postPath := s.connectBaseURL(r) + "/integrations/connect/" + service
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		io.WriteString(w, apiKeyFormHTML(svc, entry.Code, postPath))

	case http.MethodPost:
		if err := r.ParseForm(); err != nil {
			WriteBadRequest(w, "Invalid form body")
			return
		}
		entry := s.requireServiceCode(w, r, r.FormValue("code"))
		if entry == nil {
			return
		}
		value := strings.TrimSpace(r.FormValue(svc.field))
		if value == "" {
			WriteBadRequest(w, svc.field+" required")
			return
		}

		err := s.store.SaveCredential(r.Context(), &store.Credential{
			CredentialID: service + "_" + entry.TenantID,
			ToolName:     service,
			TenantID:     entry.TenantID,
			Type:         svc.credType,
			Data:         map[string]any{svc.field: value},
		})
		if err != nil {
			WriteInternal(w, err)
			return
		}
		if err := s.store.MarkConnectServiceCodeUsed(r.Context(), entry.Code); err != nil {
			WriteInternal(w, err)
			return
		}
		http.Redirect(w, r,
			s.connectBaseURL(r)+"/integrations/connect/success?service="+url.QueryEscape(svc.label),
			http.StatusFound)

	default:
		WriteMethodNotAllowed(w)
	}
}

func apiKeyFormHTML(svc apiKeyConnect, code, postPath string) string {
	fieldWords := strings.ReplaceAll(svc.field, "_", " ")
	fieldTitle := cases.Title(language.English).String(fieldWords)
	return fmt.Sprintf(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>Connect %[1]s</title></head>
<body style="font-family:sans-serif;max-width:400px;margin:2rem auto;padding:1rem;">
<h1>Connect %[1]s</h1>
<p>Paste your %[1]s %[2]s below. It will be stored securely and never shown again.</p>
<form method="post" action="%[3]s">
<input type="hidden" name="code" value="%[4]s" />
<label>%[5]s: <input type="password" name="%[6]s" placeholder="%[7]s" style="width:100%%;padding:0.5rem;" /></label>
<br><br><button type="submit">Connect</button>
</form>
<p style="color:#666;font-size:0.9rem;">After connecting, return to Telegram.</p>
</body></html>`,
		svc.label, fieldWords, html.EscapeString(postPath), html.EscapeString(code),
		fieldTitle, svc.field, svc.placeholder)
}

// handleGoogleStart redirects to Google's consent screen. The one-time
// connect code travels in the OAuth state parameter.
func (s *Server) handleGoogleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	service := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/integrations/connect/"), "/start")
	gc, ok := googleConnects[service]
	if !ok {
		WriteNotFound(w, "Not found")
		return
	}
	if s.requireServiceCode(w, r, r.URL.Query().Get("code")) == nil {
		return
	}
	clientID := ""
	if s.cfg != nil {
		clientID = s.cfg.GoogleClientID
	}
	if clientID == "" {
		WriteServiceUnavailable(w, gc.label+" OAuth not configured (GOOGLE_CLIENT_ID)")
		return
	}

	q := url.Values{
		"client_id":     {clientID},
		"redirect_uri":  {s.connectBaseURL(r) + "/integrations/connect/" + service + "/callback"},
		"response_type": {"code"},
		"scope":         {gc.scopes},
		"state":         {strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("code")))},
		"access_type":   {"offline"},
		"prompt":        {"consent"},
	}
	http.Redirect(w, r, googleAuthURL+"?"+q.Encode(), http.StatusFound)
}

// handleGoogleCallback exchanges the provider code for tokens and
// stores the oauth2 credential for the code's tenant.
func (s *Server) handleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	service := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/integrations/connect/"), "/callback")
	gc, ok := googleConnects[service]
	if !ok {
		WriteNotFound(w, "Not found")
		return
	}

	q := r.URL.Query()
	if oauthErr := q.Get("error"); oauthErr != "" {
		WriteBadRequest(w, "OAuth error: "+oauthErr)
		return
	}
	entry := s.requireServiceCode(w, r, q.Get("state"))
	if entry == nil {
		return
	}

	var clientID, clientSecret string
	if s.cfg != nil {
		clientID = s.cfg.GoogleClientID
		clientSecret = s.cfg.GoogleClientSecret
	}
	if clientID == "" || clientSecret == "" {
		WriteServiceUnavailable(w, gc.label+" OAuth not configured")
		return
	}

	resp, err := s.httpClient.PostForm(googleTokenURL, url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {q.Get("code")},
		"redirect_uri":  {s.connectBaseURL(r) + "/integrations/connect/" + service + "/callback"},
		"client_id":     {clientID},
		"client_secret": {clientSecret},
	})
	if err != nil {
		WriteInternal(w, err)
		return
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		snippet := string(body)
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		WriteBadRequest(w, "Token exchange failed: "+snippet)
		return
	}

	var tok struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &tok); err != nil {
		WriteBadRequest(w, "Token exchange failed: invalid response")
		return
	}
	if tok.ExpiresIn == 0 {
		tok.ExpiresIn = 3600
	}

	data := map[string]any{
		"access_token":  tok.AccessToken,
		"refresh_token": tok.RefreshToken,
		"client_id":     clientID,
		"client_secret": clientSecret,
		"token_uri":     googleTokenURL,
		"expires_at":    s.now().UTC().Unix() + tok.ExpiresIn,
	}
	if service == "google_calendar" {
		data["calendar_id"] = "primary"
	}
	err = s.store.SaveCredential(r.Context(), &store.Credential{
		CredentialID: service + "_" + entry.TenantID,
		ToolName:     service,
		TenantID:     entry.TenantID,
		Type:         "oauth2",
		Data:         data,
	})
	if err != nil {
		WriteInternal(w, err)
		return
	}
	if err := s.store.MarkConnectServiceCodeUsed(r.Context(), entry.Code); err != nil {
		WriteInternal(w, err)
		return
	}
	http.Redirect(w, r,
		s.connectBaseURL(r)+"/integrations/connect/success?service="+url.QueryEscape(gc.label),
		http.StatusFound)
}

type clawdbotConnectRequest struct {
	BaseURL      string `json:"base_url"`
	AuthMode     string `json:"auth_mode,omitempty"`
	Secret       string `json:"secret"`
	CredentialID string `json:"credential_id,omitempty"`
	Probe        *bool  `json:"probe,omitempty"`
}

// handleClawdbotConnect stores the Clawdbot Gateway credential,
// optionally probing sessions_list with the supplied secret first so
// a typo'd token is rejected before it lands in the store.
func (s *Server) handleClawdbotConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}

	var req clawdbotConnectRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid JSON body")
		return
	}
	if strings.TrimSpace(req.BaseURL) == "" {
		WriteBadRequest(w, "base_url is required")
		return
	}
	if req.Secret == "" {
		WriteBadRequest(w, "secret is required")
		return
	}
	authMode := req.AuthMode
	if authMode == "" {
		authMode = "password"
	}
	probe := req.Probe == nil || *req.Probe

	if probe {
		conn := connector.NewClawdbotInline(req.BaseURL, authMode, req.Secret)
		result, err := conn.InvokeTool(r.Context(), "sessions_list", "json", map[string]any{}, "")
		if err != nil {
			WriteBadRequest(w, "Clawdbot probe failed: "+err.Error())
			return
		}
		if !result.Success {
			msg := result.Error
			if msg == "" {
				msg = "Unknown error"
			}
			WriteBadRequest(w, "Clawdbot probe failed: "+msg)
			return
		}
	}

	defaultID := "clawdbot_gateway"
	if s.cfg != nil && s.cfg.DefaultClawdbotCredentialID != "" {
		defaultID = s.cfg.DefaultClawdbotCredentialID
	}
	credentialID := strings.TrimSpace(req.CredentialID)
	if credentialID == "" || credentialID == "clawdbot_gateway" {
		credentialID = defaultID
	}
	tenantID := TenantID(r)
	if tenantID != "" && credentialID != defaultID {
		credentialID = credentialID + "_" + tenantID
	}

	err := s.store.SaveCredential(r.Context(), &store.Credential{
		CredentialID: credentialID,
		ToolName:     "clawdbot",
		TenantID:     tenantID,
		Type:         "gateway",
		Data: map[string]any{
			"base_url":  req.BaseURL,
			"auth_mode": authMode,
			"secret":    req.Secret,
		},
		Encrypted: true,
	})
	if err != nil {
		WriteInternal(w, err)
		return
	}
	if probe {
		if err := s.store.RecordCredentialResult(r.Context(), credentialID, tenantID, true, ""); err != nil {
			slog.Error("credential probe result not recorded", "credential_id", credentialID, "error", err)
		}
	}
	slog.Info("clawdbot connected", "credential_id", credentialID, "tenant_id", tenantID)

	WriteJSON(w, http.StatusOK, map[string]any{
		"connected":     true,
		"credential_id": credentialID,
		"base_url":      req.BaseURL,
		"auth_mode":     authMode,
		"message":       "Clawdbot connected. Credential saved.",
	})
}

func strOrNil(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// handleAccountIntegrations reports the tenant's Clawdbot integration
// posture, including the network-gating classification of the
// configured gateway address.
func (s *Server) handleAccountIntegrations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}

	ctx := r.Context()
	tenantID := TenantID(r)

	integ, err := s.store.GetIntegrationStatus(ctx, tenantID, "clawdbot")
	if err != nil {
		WriteInternal(w, err)
		return
	}
	preset, err := s.store.ActivePolicyPreset(ctx)
	if err != nil {
		WriteInternal(w, err)
		return
	}

	var defaultIntentID any
	if tenantID != "" {
		if id, err := s.store.TenantDefaultIntent(ctx, tenantID); err == nil && id != "" {
			defaultIntentID = id
		}
	}

	baseURL := integ.BaseURL
	if baseURL == "" {
		baseURL = security.ClawdbotBaseURL(ctx, s.cfg, s.store)
	}
	gatingEnabled := s.cfg != nil && s.cfg.NetworkGating
	gating := security.ValidateNetworkGating(ctx, baseURL, gatingEnabled)

	var lastOKAt any
	if integ.LastOKAt != nil {
		lastOKAt = integ.LastOKAt.UTC().Format(time.RFC3339Nano)
	}
	var activePack any
	if preset != nil {
		activePack = preset.PresetName
	}
	var recommendation any
	if gating.Risk == security.RiskHigh {
		recommendation = gating.Recommendation
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"clawdbot": map[string]any{
			"connected":              integ.Connected,
			"base_url":               strOrNil(integ.BaseURL),
			"auth_mode":              strOrNil(integ.AuthMode),
			"last_ok_at":             lastOKAt,
			"last_error":             strOrNil(integ.LastError),
			"active_policy_pack":     activePack,
			"default_intent_id":      defaultIntentID,
			"network_gating_enabled": gatingEnabled,
			"clawdbot_reachability":  gating.Reachability,
			"bypass_risk":            gating.Risk,
			"recommendation":         recommendation,
		},
	})
}

type telegramConnectCodeRequest struct {
	Channel string `json:"channel,omitempty"`
}

// handleTelegramConnectCode mints a short-lived code the user pastes
// into the Telegram bot to bind their chat to this tenant. In demo
// mode an anonymous caller is provisioned under the demo tenant.
func (s *Server) handleTelegramConnectCode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}

	var req telegramConnectCodeRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		WriteBadRequest(w, "Invalid JSON body")
		return
	}
	channel := req.Channel
	if channel == "" {
		channel = "telegram"
	}

	ctx := r.Context()
	tenantID := TenantID(r)
	if tenantID == "" {
		if s.cfg == nil || !s.cfg.DemoMode {
			WriteUnauthorized(w, "No tenant context for connect code")
			return
		}
		tenantID = s.cfg.DemoTenantID
		if err := s.ensureDemoTenant(ctx, tenantID); err != nil {
			WriteInternal(w, err)
			return
		}
	}

	ttl := connectTTL
	if s.cfg != nil && s.cfg.TelegramConnectTTL > 0 {
		ttl = s.cfg.TelegramConnectTTL
	}
	expiresAt := s.now().UTC().Add(ttl)
	code, err := s.store.CreateConnectCode(ctx, tenantID, channel, expiresAt)
	if err != nil {
		WriteInternal(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"code":        code,
		"expires_at":  expiresAt.Format(time.RFC3339Nano),
		"ttl_minutes": int(ttl.Minutes()),
	})
}

// ensureDemoTenant provisions the demo user and tenant on first use.
func (s *Server) ensureDemoTenant(ctx context.Context, tenantID string) error {
	tenant, err := s.store.GetTenant(ctx, tenantID)
	if err != nil {
		return err
	}
	if tenant != nil {
		return nil
	}

	userID := uuid.NewString()
	user, err := s.store.UserByAuth(ctx, "demo", "demo")
	if err != nil {
		return err
	}
	if user != nil {
		userID = user.ID
	} else if err := s.store.CreateUser(ctx, userID, "demo@edoncore.com", "demo", "demo", "admin"); err != nil {
		return err
	}
	return s.store.CreateTenant(ctx, tenantID, userID)
}

type telegramVerifyCodeRequest struct {
	Code     string `json:"code"`
	UserID   string `json:"user_id"`
	ChatID   string `json:"chat_id,omitempty"`
	Username string `json:"username,omitempty"`
}

// handleTelegramVerifyCode is called by the bot backend (authenticated
// by the shared bot secret) to redeem a connect code: it binds the
// Telegram identity to the code's tenant and mints a channel token the
// bot uses for subsequent requests on the user's behalf.
func (s *Server) handleTelegramVerifyCode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	if s.cfg == nil || s.cfg.TelegramBotSecret == "" {
		WriteError(w, http.StatusInternalServerError, "Telegram bot secret not configured")
		return
	}
	secret := r.Header.Get("X-EDON-BOT-SECRET")
	if secret == "" {
		secret = r.Header.Get("X-TELEGRAM-BOT-SECRET")
	}
	if secret == "" || secret != s.cfg.TelegramBotSecret {
		WriteUnauthorized(w, "Invalid bot secret")
		return
	}

	var req telegramVerifyCodeRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid JSON body")
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		WriteBadRequest(w, "user_id is required")
		return
	}

	ctx := r.Context()
	code := strings.ToUpper(strings.TrimSpace(req.Code))
	entry, err := s.store.GetConnectCode(ctx, code)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	if entry == nil {
		WriteNotFound(w, "Connect code not found")
		return
	}
	if entry.UsedAt != nil {
		WriteConflict(w, "Connect code already used")
		return
	}
	if entry.ExpiresAt.IsZero() || entry.ExpiresAt.Before(s.now()) {
		WriteGone(w, "Connect code expired")
		return
	}

	if err := s.store.MarkConnectCodeUsed(ctx, code, req.UserID); err != nil {
		WriteInternal(w, err)
		return
	}
	err = s.store.UpsertChannelBinding(ctx, &store.ChannelBinding{
		TenantID:       entry.TenantID,
		Channel:        "telegram",
		ExternalUserID: req.UserID,
		ExternalChatID: req.ChatID,
		Username:       req.Username,
	})
	if err != nil {
		WriteInternal(w, err)
		return
	}
	_, rawToken, err := s.store.CreateChannelToken(ctx, entry.TenantID, "telegram", req.UserID)
	if err != nil {
		WriteInternal(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"tenant_id": entry.TenantID,
		"token":     rawToken,
		"channel":   "telegram",
	})
}
