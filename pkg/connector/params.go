package connector

import (
	"io"
	"net/http"
	"strconv"
	"strings"
)

// Param extraction over decoded JSON. Numbers arrive as float64,
// lists as []any; connectors tolerate the historical shapes the
// credential and action payloads have carried.

func strParam(params map[string]any, key, def string) string {
	if v, ok := params[key].(string); ok && v != "" {
		return v
	}
	return def
}

func intParam(params map[string]any, key string, def int) int {
	switch v := params[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

func boolParam(params map[string]any, key string, def bool) bool {
	if v, ok := params[key].(bool); ok {
		return v
	}
	return def
}

// listParam reads a string list. A plain string is split on commas
// with entries trimmed, matching how agents have sent recipients.
func listParam(params map[string]any, key string) []string {
	switch v := params[key].(type) {
	case string:
		if v == "" {
			return nil
		}
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func mapParam(params map[string]any, key string) map[string]any {
	if v, ok := params[key].(map[string]any); ok {
		return v
	}
	return nil
}

// credString reads the first non-empty string under any of the given
// keys, trimmed. Credential rows have accumulated several historical
// field names per secret.
func credString(data map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := data[k].(string); ok {
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
	}
	return ""
}

// credInt64 reads an integer credential field that may be stored as a
// JSON number or a numeric string.
func credInt64(data map[string]any, key string) int64 {
	switch v := data[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return n
		}
	}
	return 0
}

// httpError summarizes a non-2xx upstream response for the agent.
func httpError(resp *http.Response, body []byte) string {
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return "HTTP " + strconv.Itoa(resp.StatusCode)
	}
	const limit = 500
	if len(msg) > limit {
		msg = msg[:limit]
	}
	return "HTTP " + strconv.Itoa(resp.StatusCode) + ": " + msg
}

// doJSON sends the request and reads the full body. The caller owns
// status handling; transport errors come back unwrapped so they can
// be classified as downstream unavailability.
func doJSON(client *http.Client, req *http.Request) (*http.Response, []byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp, nil, err
	}
	return resp, body, nil
}
