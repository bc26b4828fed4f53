package api

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntentSetGeneratesID(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/intent/set", map[string]any{
		"objective":        "Manage email drafts and scheduling",
		"scope":            map[string][]string{"email": {"draft"}},
		"approved_by_user": true,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	id := body["intent_id"].(string)
	assert.True(t, strings.HasPrefix(id, "intent_"), id)
	assert.Len(t, id, len("intent_")+16)
	assert.Equal(t, "active", body["status"])
	assert.NotEmpty(t, body["created_at"])
}

func TestIntentSetAndGetRoundTrip(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/intent/set", map[string]any{
		"intent_id": "intent_roundtrip",
		"objective": "Draft email replies",
		"scope":     map[string][]string{"email": {"draft", "send"}},
		"constraints": map[string]any{
			"drafts_only":    true,
			"max_recipients": 3,
		},
		"risk_level":       "low",
		"approved_by_user": true,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "intent_roundtrip", decodeBody(t, rec)["intent_id"])

	rec = env.do(t, http.MethodGet, "/intent/get?intent_id=intent_roundtrip", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "intent_roundtrip", body["intent_id"])
	assert.Equal(t, "Draft email replies", body["objective"])
	scope := body["scope"].(map[string]any)
	assert.ElementsMatch(t, []any{"draft", "send"}, scope["email"])
	constraints := body["constraints"].(map[string]any)
	assert.Equal(t, true, constraints["drafts_only"])
	assert.EqualValues(t, 3, constraints["max_recipients"])
}

func TestIntentSetRejectsInvalidContract(t *testing.T) {
	env := newTestEnv(t)

	// No scope at all.
	rec := env.do(t, http.MethodPost, "/intent/set", map[string]any{
		"objective": "Do things",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/intent/set", "}{", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid JSON body", errorDetail(t, rec))
}

func TestIntentSetReplacesExisting(t *testing.T) {
	env := newTestEnv(t)

	for _, objective := range []string{"First objective", "Second objective"} {
		rec := env.do(t, http.MethodPost, "/intent/set", map[string]any{
			"intent_id": "intent_same",
			"objective": objective,
			"scope":     map[string][]string{"email": {"draft"}},
		}, nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := env.do(t, http.MethodGet, "/intent/get?intent_id=intent_same", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Second objective", decodeBody(t, rec)["objective"])
}

func TestIntentGetValidation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/intent/get", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "intent_id query parameter is required", errorDetail(t, rec))

	rec = env.do(t, http.MethodGet, "/intent/get?intent_id=intent_missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Intent not found", errorDetail(t, rec))
}
