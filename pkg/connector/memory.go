package connector

import (
	"context"
	"fmt"
	"time"

	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/contracts"
	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/store"
)

// Memory reads and writes the tenant's preference and episodic
// memory. Writes are intentional only: the governor approves each
// one, nothing records automatically.
type Memory struct {
	tenantID string
	st       *store.Store
}

// NewMemory scopes the connector to a tenant. Empty tenant ids fall
// back to the shared default scope.
func NewMemory(st *store.Store, tenantID string) *Memory {
	if tenantID == "" {
		tenantID = "default"
	}
	return &Memory{tenantID: tenantID, st: st}
}

// Tool implements Connector.
func (m *Memory) Tool() string { return contracts.ToolMemory }

// Invoke implements Connector.
func (m *Memory) Invoke(ctx context.Context, op string, params map[string]any) (*Result, error) {
	switch op {
	case "write_preference":
		return m.writePreference(ctx,
			strParam(params, "key", ""),
			strParam(params, "value", "")), nil
	case "read_preferences":
		return m.readPreferences(ctx, listParam(params, "keys")), nil
	case "append_episode":
		return m.appendEpisode(ctx, params), nil
	case "query_episodes":
		return m.queryEpisodes(ctx,
			intParam(params, "limit", 50),
			strParam(params, "since", ""),
			strParam(params, "tool", "")), nil
	}
	return nil, fmt.Errorf("memory connector: unsupported op %q", op)
}

func (m *Memory) writePreference(ctx context.Context, key, value string) *Result {
	if err := m.st.WritePreference(ctx, m.tenantID, key, value); err != nil {
		return fail("%s", err)
	}
	return succeed(map[string]any{"key": key})
}

func (m *Memory) readPreferences(ctx context.Context, keys []string) *Result {
	prefs, err := m.st.ReadPreferences(ctx, m.tenantID, keys)
	if err != nil {
		return fail("%s", err)
	}
	return succeed(map[string]any{"preferences": prefs})
}

func (m *Memory) appendEpisode(ctx context.Context, params map[string]any) *Result {
	ep := &store.Episode{
		EpisodeID:   strParam(params, "episode_id", ""),
		TenantID:    m.tenantID,
		TaskSummary: strParam(params, "task_summary", ""),
		Outcome:     strParam(params, "outcome", ""),
		Tool:        strParam(params, "tool", ""),
		Op:          strParam(params, "op", ""),
		Context:     mapParam(params, "context"),
	}
	if err := m.st.AppendEpisode(ctx, ep); err != nil {
		return fail("%s", err)
	}
	return succeed(map[string]any{"episode_id": ep.EpisodeID})
}

func (m *Memory) queryEpisodes(ctx context.Context, limit int, since, tool string) *Result {
	q := store.EpisodeQuery{Tool: tool, Limit: limit}
	if since != "" {
		ts, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return fail("invalid since timestamp: %s", since)
		}
		q.Since = ts
	}
	episodes, err := m.st.QueryEpisodes(ctx, m.tenantID, q)
	if err != nil {
		return fail("%s", err)
	}
	if episodes == nil {
		episodes = []*store.Episode{}
	}
	return succeed(map[string]any{
		"episodes": episodes,
		"count":    len(episodes),
	})
}
