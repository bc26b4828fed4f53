package api

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/contracts"
)

// seedDecision writes one audit event directly and returns its
// decision id.
func (e *testEnv) seedDecision(t *testing.T, agentID string, verdict contracts.Verdict, tool, op string) string {
	t.Helper()
	decision := contracts.Decision{
		Verdict:       verdict,
		ReasonCode:    contracts.ReasonApproved,
		Explanation:   "seeded",
		PolicyVersion: contracts.PolicyVersion,
	}
	if verdict == contracts.VerdictBlock {
		decision.ReasonCode = contracts.ReasonScopeViolation
	}
	id, err := e.store.SaveAuditEvent(context.Background(), &contracts.AuditEvent{
		Timestamp: e.clock.t,
		Action: &contracts.Action{
			ID:          "act-" + agentID + "-" + string(verdict),
			Tool:        tool,
			Op:          op,
			RequestedAt: e.clock.t,
			Source:      contracts.SourceAgent,
		},
		Decision: &decision,
		AgentID:  agentID,
	})
	require.NoError(t, err)
	return id
}

func TestDecisionsQueryProjectsRows(t *testing.T) {
	env := newTestEnv(t)
	blocked := env.seedDecision(t, "agent-a", contracts.VerdictBlock, "email", "send")
	env.clock.Advance(time.Second)
	allowed := env.seedDecision(t, "agent-b", contracts.VerdictAllow, "clawdbot", "invoke")

	rec := env.do(t, http.MethodGet, "/decisions/query", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.EqualValues(t, 2, body["total"])
	assert.EqualValues(t, 100, body["limit"])

	rows := body["decisions"].([]any)
	require.Len(t, rows, 2)

	// Newest first; verdicts collapse to the dashboard vocabulary.
	first := rows[0].(map[string]any)
	assert.Equal(t, allowed, first["decision_id"])
	assert.Equal(t, "allowed", first["verdict"])
	tool := first["tool"].(map[string]any)
	assert.Equal(t, "clawdbot", tool["name"])
	assert.Equal(t, "invoke", tool["op"])

	second := rows[1].(map[string]any)
	assert.Equal(t, blocked, second["decision_id"])
	assert.Equal(t, "blocked", second["verdict"])
	assert.Equal(t, second["created_at"], second["timestamp"])
}

func TestDecisionsQueryFilters(t *testing.T) {
	env := newTestEnv(t)
	env.seedDecision(t, "agent-a", contracts.VerdictBlock, "email", "send")
	env.seedDecision(t, "agent-b", contracts.VerdictAllow, "email", "draft")

	rec := env.do(t, http.MethodGet, "/decisions/query?agent_id=agent-a", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decodeBody(t, rec)["total"])

	rec = env.do(t, http.MethodGet, "/decisions/query?verdict=ALLOW", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decodeBody(t, rec)["total"])
}

func TestDecisionsQueryLimitValidation(t *testing.T) {
	env := newTestEnv(t)

	for _, raw := range []string{"0", "1001", "-5", "abc"} {
		rec := env.do(t, http.MethodGet, "/decisions/query?limit="+raw, nil, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, raw)
		assert.Equal(t, "limit must be between 1 and 1000", errorDetail(t, rec))
	}
}

func TestDecisionByID(t *testing.T) {
	env := newTestEnv(t)
	id := env.seedDecision(t, "agent-a", contracts.VerdictBlock, "email", "send")

	rec := env.do(t, http.MethodGet, "/decisions/"+id, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, id, body["decision_id"])
	assert.Equal(t, "BLOCK", body["verdict"])

	rec = env.do(t, http.MethodGet, "/decisions/dec-missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/decisions/"+id+"/extra", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAuditQueryFilters(t *testing.T) {
	env := newTestEnv(t)
	env.seedDecision(t, "agent-a", contracts.VerdictBlock, "email", "send")
	env.seedDecision(t, "agent-a", contracts.VerdictAllow, "email", "draft")
	env.seedDecision(t, "agent-b", contracts.VerdictAllow, "clawdbot", "invoke")

	rec := env.do(t, http.MethodGet, "/audit/query?agent_id=agent-a", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.EqualValues(t, 2, body["total"])
	events := body["events"].([]any)
	require.Len(t, events, 2)

	rec = env.do(t, http.MethodGet, "/audit/query?agent_id=agent-a&verdict=BLOCK", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decodeBody(t, rec)["total"])
}

func TestAuditExportUnconfigured(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/audit/export", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "Audit archive is not configured", errorDetail(t, rec))
}

func TestAuditExportWritesBundle(t *testing.T) {
	env := newTestEnv(t)
	sink := env.withArchive(t)
	env.seedDecision(t, "agent-a", contracts.VerdictBlock, "email", "send")
	env.seedDecision(t, "agent-b", contracts.VerdictAllow, "email", "draft")

	rec := env.do(t, http.MethodPost, "/audit/export", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	hash := body["hash"].(string)
	assert.True(t, strings.HasPrefix(hash, "sha256:"), hash)
	assert.EqualValues(t, 2, body["total"])

	// The bundle is retrievable by its content hash.
	raw, err := sink.Get(context.Background(), hash)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "agent-a")

	exists, err := sink.Exists(context.Background(), hash)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestAuditExportLimitValidation(t *testing.T) {
	env := newTestEnv(t)
	env.withArchive(t)

	rec := env.do(t, http.MethodPost, "/audit/export?limit=5000", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
