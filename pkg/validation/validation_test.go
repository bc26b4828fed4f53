package validation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/config"
)

func TestCheckDangerousPatterns(t *testing.T) {
	tests := []struct {
		name  string
		value string
		safe  bool
		msg   string
	}{
		{"plain text", "hello world", true, ""},
		{"script tag", `<script>alert(1)</script>`, false, "Script tags not allowed"},
		{"script tag with attrs", `<SCRIPT src="x">payload</SCRIPT>`, false, "Script tags not allowed"},
		{"multiline script", "<script>\nalert(1)\n</script>", false, "Script tags not allowed"},
		{"javascript url", "JavaScript:void(0)", false, "JavaScript protocol not allowed"},
		{"event handler", `onclick = "steal()"`, false, "Event handlers not allowed"},
		{"event handler no space", "onerror=alert(1)", false, "Event handlers not allowed"},
		{"onion mention", "the onion router", true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			safe, msg := CheckDangerousPatterns(tt.value)
			assert.Equal(t, tt.safe, safe)
			assert.Equal(t, tt.msg, msg)
		})
	}
}

func TestValidateStructureLimits(t *testing.T) {
	t.Run("deep nesting rejected", func(t *testing.T) {
		var nested any = "leaf"
		for i := 0; i < 12; i++ {
			nested = map[string]any{"inner": nested}
		}
		ok, msg := ValidateStructure(nested, false)
		assert.False(t, ok)
		assert.Contains(t, msg, "JSON depth exceeds maximum of 10")
	})

	t.Run("shallow nesting accepted", func(t *testing.T) {
		var nested any = "leaf"
		for i := 0; i < 5; i++ {
			nested = map[string]any{"inner": nested}
		}
		ok, _ := ValidateStructure(nested, true)
		assert.True(t, ok)
	})

	t.Run("long string rejected", func(t *testing.T) {
		ok, msg := ValidateStructure(map[string]any{"note": strings.Repeat("a", MaxStringLength+1)}, false)
		assert.False(t, ok)
		assert.Contains(t, msg, "String length exceeds maximum")
		assert.Contains(t, msg, "at path: note")
	})

	t.Run("long array rejected", func(t *testing.T) {
		items := make([]any, MaxArrayLength+1)
		for i := range items {
			items[i] = 1
		}
		ok, msg := ValidateStructure(map[string]any{"items": items}, false)
		assert.False(t, ok)
		assert.Contains(t, msg, "Array length exceeds maximum")
	})

	t.Run("dangerous value only rejected in strict mode", func(t *testing.T) {
		body := map[string]any{"html": `<script>x</script>`}
		ok, _ := ValidateStructure(body, false)
		assert.True(t, ok)
		ok, msg := ValidateStructure(body, true)
		assert.False(t, ok)
		assert.Contains(t, msg, "Script tags not allowed")
	})

	t.Run("dangerous key rejected in strict mode", func(t *testing.T) {
		ok, msg := ValidateStructure(map[string]any{"onload=": "x"}, true)
		assert.False(t, ok)
		assert.Contains(t, msg, "in key at path")
	})

	t.Run("scalars pass", func(t *testing.T) {
		ok, _ := ValidateStructure(map[string]any{"n": 4.2, "b": true, "z": nil}, true)
		assert.True(t, ok)
	})
}

func newValidator(strict bool) *Validator {
	return NewValidator(&config.Config{ValidateStrict: strict})
}

func postJSON(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(rec, req)
	return rec
}

func TestMiddlewareContentLengthGate(t *testing.T) {
	v := newValidator(true)
	h := v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/execute", bytes.NewReader([]byte("{}")))
	req.ContentLength = MaxRequestSize + 1
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Contains(t, rec.Body.String(), fmt.Sprintf("%d", MaxRequestSize))
}

func TestMiddlewarePassesBodyThrough(t *testing.T) {
	v := newValidator(true)
	var seen []byte
	h := v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))

	body := map[string]any{"action": map[string]any{"tool": "email", "action": "draft"}}
	rec := postJSON(t, h, "/execute", body)

	require.Equal(t, http.StatusOK, rec.Code)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(seen, &decoded))
	assert.Equal(t, "email", decoded["action"].(map[string]any)["tool"])
}

func TestMiddlewareRejectsDangerousBody(t *testing.T) {
	v := newValidator(true)
	h := v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	rec := postJSON(t, h, "/execute", map[string]any{"text": "<script>alert(1)</script>"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid request body")
	assert.Contains(t, rec.Body.String(), "Script tags not allowed")
}

func TestMiddlewareActionParamsLimit(t *testing.T) {
	v := newValidator(false)
	h := v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// 6 MB of params fits the request limit but not the params limit.
	big := strings.Repeat("a", 99000)
	params := map[string]any{}
	for i := 0; i < 64; i++ {
		params[fmt.Sprintf("k%02d", i)] = big
	}
	body := map[string]any{"action": map[string]any{"params": params}}

	rec := postJSON(t, h, "/execute", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Action parameters exceed maximum size")

	// The same payload on another endpoint only faces the 10 MB gate.
	rec = postJSON(t, h, "/intent/set", body)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddlewareNonJSONPassesThrough(t *testing.T) {
	v := newValidator(true)
	ran := false
	h := v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ran = true
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/integrations/github/key",
		strings.NewReader("api_key=ghp_abc&code=123456"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, ran)
}

func TestMiddlewareSkipsGET(t *testing.T) {
	v := newValidator(true)
	h := v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/decisions/query?limit=10", nil)
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
