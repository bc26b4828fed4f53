package connector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultTokenURI = "https://oauth2.googleapis.com/token"
	refreshTimeout  = 15 * time.Second

	// tokenSafetyMargin keeps a token from being used in the last
	// minute of its lifetime.
	tokenSafetyMargin = 60
)

// googleToken holds an OAuth2 access token plus the refresh grant and
// renews it lazily. Gmail and Google Calendar share this flow.
type googleToken struct {
	accessToken  string
	refreshToken string
	clientID     string
	clientSecret string
	tokenURI     string
	expiresAt    int64 // unix seconds, 0 means unknown

	now    func() time.Time
	client *http.Client
}

func newGoogleToken() *googleToken {
	return &googleToken{
		tokenURI: defaultTokenURI,
		now:      time.Now,
		client:   httpClient,
	}
}

// loadFrom fills the token from credential data, tolerating the
// historical field shapes.
func (t *googleToken) loadFrom(data map[string]any) {
	t.accessToken = credString(data, "access_token", "token")
	t.refreshToken = credString(data, "refresh_token")
	t.clientID = credString(data, "client_id")
	t.clientSecret = credString(data, "client_secret")
	if uri := credString(data, "token_uri"); uri != "" {
		t.tokenURI = uri
	}
	t.expiresAt = credInt64(data, "expires_at")
}

// asData renders the token back into credential data for persisting
// after a refresh.
func (t *googleToken) asData() map[string]any {
	return map[string]any{
		"access_token":  t.accessToken,
		"refresh_token": t.refreshToken,
		"client_id":     t.clientID,
		"client_secret": t.clientSecret,
		"token_uri":     t.tokenURI,
		"expires_at":    t.expiresAt,
	}
}

func (t *googleToken) expired() bool {
	if t.expiresAt == 0 {
		return false
	}
	return t.now().Unix() >= t.expiresAt-tokenSafetyMargin
}

func (t *googleToken) canRefresh() bool {
	return t.refreshToken != "" && t.clientID != "" && t.clientSecret != ""
}

// refresh exchanges the refresh token for a new access token. It
// reports whether a new token was obtained; failures leave the old
// token in place.
func (t *googleToken) refresh(ctx context.Context) bool {
	if !t.canRefresh() {
		return false
	}
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", t.refreshToken)
	form.Set("client_id", t.clientID)
	form.Set("client_secret", t.clientSecret)

	ctx, cancel := context.WithTimeout(ctx, refreshTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.tokenURI,
		strings.NewReader(form.Encode()))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, body, err := doJSON(t.client, req)
	if err != nil || resp.StatusCode >= 400 {
		return false
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.AccessToken == "" {
		return false
	}
	t.accessToken = payload.AccessToken
	expiresIn := payload.ExpiresIn
	if expiresIn == 0 {
		expiresIn = 3600
	}
	margin := expiresIn - tokenSafetyMargin
	if margin < tokenSafetyMargin {
		margin = tokenSafetyMargin
	}
	t.expiresAt = t.now().Unix() + margin
	return true
}

// ensure refreshes a missing or expiring token. It reports whether a
// refresh happened so the caller can persist the new token.
func (t *googleToken) ensure(ctx context.Context) bool {
	if t.accessToken == "" || t.expired() {
		return t.refresh(ctx)
	}
	return false
}
