package connector

import (
	"bytes"
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
	calendarBaseURL   = "https://www.googleapis.com/calendar/v3"
	defaultCalendarID = "primary"
)

// GoogleCalendar lists and creates events through the Calendar API,
// sharing the lazy OAuth refresh with the Gmail connector.
type GoogleCalendar struct {
	credentialID string
	tenantID     string
	tok          *googleToken
	credType     string
	calendarID   string
	configured   bool

	base   string
	st     *store.Store
	client *http.Client
	now    func() time.Time
}

// NewGoogleCalendar loads OAuth credentials for (credentialID,
// tenantID), with dev-only GOOGLE_CALENDAR_* env fallbacks outside
// strict mode. A calendar_id stored on the credential overrides the
// primary calendar.
func NewGoogleCalendar(ctx context.Context, cfg *config.Config, st *store.Store, credentialID, tenantID string) (*GoogleCalendar, error) {
	c := &GoogleCalendar{
		credentialID: credentialID,
		tenantID:     tenantID,
		tok:          newGoogleToken(),
		credType:     "oauth",
		calendarID:   defaultCalendarID,
		base:         calendarBaseURL,
		st:           st,
		client:       httpClient,
		now:          time.Now,
	}
	if st != nil {
		cred, err := st.GetCredential(ctx, credentialID, contracts.ToolGoogleCalendar, tenantID)
		if err != nil {
			return nil, fmt.Errorf("google calendar credential lookup: %w", err)
		}
		if cred != nil && len(cred.Data) > 0 {
			c.tok.loadFrom(cred.Data)
			if id := credString(cred.Data, "calendar_id"); id != "" {
				c.calendarID = id
			}
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
		return nil, errors.New("Google Calendar credentials missing. Set via credentials API or GOOGLE_CALENDAR_ACCESS_TOKEN in dev.")
	}
	c.tok.loadFrom(map[string]any{
		"access_token":  os.Getenv("GOOGLE_CALENDAR_ACCESS_TOKEN"),
		"refresh_token": os.Getenv("GOOGLE_CALENDAR_REFRESH_TOKEN"),
		"client_id":     os.Getenv("GOOGLE_CALENDAR_CLIENT_ID"),
		"client_secret": os.Getenv("GOOGLE_CALENDAR_CLIENT_SECRET"),
		"token_uri":     os.Getenv("GOOGLE_CALENDAR_TOKEN_URI"),
		"expires_at":    os.Getenv("GOOGLE_CALENDAR_EXPIRES_AT"),
	})
	if c.tok.accessToken == "" && c.tok.canRefresh() {
		c.tok.ensure(ctx)
	}
	c.configured = c.tok.accessToken != ""
	return c, nil
}

func (c *GoogleCalendar) persistToken(ctx context.Context) {
	if c.st == nil || c.credentialID == "" {
		return
	}
	data := c.tok.asData()
	data["calendar_id"] = c.calendarID
	_ = c.st.SaveCredential(ctx, &store.Credential{
		CredentialID: c.credentialID,
		ToolName:     contracts.ToolGoogleCalendar,
		TenantID:     c.tenantID,
		Type:         c.credType,
		Data:         data,
	})
}

func (c *GoogleCalendar) authorize(ctx context.Context, req *http.Request) {
	if c.tok.ensure(ctx) {
		c.persistToken(ctx)
	}
	if c.tok.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.tok.accessToken)
	}
	req.Header.Set("Content-Type", "application/json")
}

// Tool implements Connector.
func (c *GoogleCalendar) Tool() string { return contracts.ToolGoogleCalendar }

// Invoke implements Connector.
func (c *GoogleCalendar) Invoke(ctx context.Context, op string, params map[string]any) (*Result, error) {
	switch op {
	case "list_events":
		return c.listEvents(ctx,
			strParam(params, "calendar_id", ""),
			strParam(params, "time_min", ""),
			strParam(params, "time_max", ""),
			intParam(params, "max_results", 20),
			boolParam(params, "single_events", true)), nil
	case "create_event":
		return c.createEvent(ctx,
			strParam(params, "calendar_id", ""),
			strParam(params, "summary", ""),
			strParam(params, "description", ""),
			strParam(params, "start", ""),
			strParam(params, "end", ""),
			strParam(params, "location", "")), nil
	}
	return nil, fmt.Errorf("google calendar connector: unsupported op %q", op)
}

func (c *GoogleCalendar) listEvents(ctx context.Context, calendarID, timeMin, timeMax string, maxResults int, singleEvents bool) *Result {
	if !c.configured {
		return fail("Google Calendar connector not configured")
	}
	cal := calendarID
	if cal == "" {
		cal = c.calendarID
	}
	if maxResults < 1 {
		maxResults = 1
	}
	if maxResults > 100 {
		maxResults = 100
	}
	query := url.Values{}
	query.Set("maxResults", strconv.Itoa(maxResults))
	query.Set("singleEvents", strconv.FormatBool(singleEvents))
	query.Set("orderBy", "startTime")
	if timeMin != "" {
		query.Set("timeMin", timeMin)
	}
	if timeMax != "" {
		query.Set("timeMax", timeMax)
	}

	ctx, cancel := context.WithTimeout(ctx, apiTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.base+"/calendars/"+url.PathEscape(cal)+"/events?"+query.Encode(), nil)
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
		Items []struct {
			ID          string        `json:"id"`
			Summary     string        `json:"summary"`
			Description string        `json:"description"`
			Location    string        `json:"location"`
			Status      string        `json:"status"`
			Start       calendarStamp `json:"start"`
			End         calendarStamp `json:"end"`
		} `json:"items"`
	}
	if err := json.Unmarshal(body, &data); err != nil {
		return c.opError(ctx, err.Error())
	}
	events := make([]map[string]any, 0, len(data.Items))
	for _, item := range data.Items {
		events = append(events, map[string]any{
			"id":          item.ID,
			"summary":     item.Summary,
			"description": item.Description,
			"start":       item.Start.value(),
			"end":         item.End.value(),
			"location":    item.Location,
			"status":      item.Status,
		})
	}
	recordResult(ctx, c.st, c.credentialID, c.tenantID, true, "")
	return succeed(map[string]any{"events": events, "count": len(events)})
}

func (c *GoogleCalendar) createEvent(ctx context.Context, calendarID, summary, description, start, end, location string) *Result {
	if !c.configured {
		return fail("Google Calendar connector not configured")
	}
	cal := calendarID
	if cal == "" {
		cal = c.calendarID
	}
	now := c.now().UTC()
	if start == "" {
		start = now.Format(time.RFC3339)
	}
	if end == "" {
		end = now.Add(time.Hour).Format(time.RFC3339)
	}
	body := map[string]any{
		"summary": summary,
		"start":   map[string]string{"dateTime": start, "timeZone": "UTC"},
		"end":     map[string]string{"dateTime": end, "timeZone": "UTC"},
	}
	if description != "" {
		body["description"] = description
	}
	if location != "" {
		body["location"] = location
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return c.opError(ctx, err.Error())
	}

	ctx, cancel := context.WithTimeout(ctx, apiTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.base+"/calendars/"+url.PathEscape(cal)+"/events", bytes.NewReader(encoded))
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
		ID       string        `json:"id"`
		HTMLLink string        `json:"htmlLink"`
		Summary  string        `json:"summary"`
		Start    calendarStamp `json:"start"`
		End      calendarStamp `json:"end"`
	}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return c.opError(ctx, err.Error())
	}
	recordResult(ctx, c.st, c.credentialID, c.tenantID, true, "")
	return succeed(map[string]any{
		"id":       out.ID,
		"htmlLink": out.HTMLLink,
		"summary":  out.Summary,
		"start":    out.Start.DateTime,
		"end":      out.End.DateTime,
	})
}

func (c *GoogleCalendar) opError(ctx context.Context, msg string) *Result {
	recordResult(ctx, c.st, c.credentialID, c.tenantID, false, msg)
	return fail("%s", msg)
}

// calendarStamp is the API's start/end object: dateTime for timed
// events, date for all-day ones.
type calendarStamp struct {
	DateTime string `json:"dateTime"`
	Date     string `json:"date"`
}

func (s calendarStamp) value() string {
	if s.DateTime != "" {
		return s.DateTime
	}
	return s.Date
}
