package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Episode is one entry of the episodic task memory an agent writes
// through the governed memory connector.
type Episode struct {
	EpisodeID   string         `json:"episode_id"`
	TenantID    string         `json:"tenant_id,omitempty"`
	TaskSummary string         `json:"task_summary"`
	Outcome     string         `json:"outcome,omitempty"`
	Tool        string         `json:"tool,omitempty"`
	Op          string         `json:"op,omitempty"`
	Context     map[string]any `json:"context,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// WritePreference upserts a tenant-scoped preference key.
func (s *Store) WritePreference(ctx context.Context, tenantID, key, value string) error {
	if tenantID == "" || key == "" {
		return fmt.Errorf("store: preference requires tenant id and key")
	}
	query := s.rebind(`INSERT INTO preference_memory (tenant_id, key, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(tenant_id, key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at`)
	_, err := s.db.ExecContext(ctx, query, tenantID, key, value, formatTime(s.now()))
	if err != nil {
		return fmt.Errorf("store: write preference: %w", err)
	}
	return nil
}

// ReadPreferences returns the requested keys for a tenant. Keys with
// no stored value are absent from the result. An empty key list reads
// every preference the tenant has.
func (s *Store) ReadPreferences(ctx context.Context, tenantID string, keys []string) (map[string]string, error) {
	query := `SELECT key, value FROM preference_memory WHERE tenant_id = ?`
	args := []any{tenantID}
	if len(keys) > 0 {
		query += ` AND key IN (` + placeholders(len(keys)) + `)`
		for _, k := range keys {
			args = append(args, k)
		}
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("store: read preferences: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

// AppendEpisode records one episodic memory entry.
func (s *Store) AppendEpisode(ctx context.Context, ep *Episode) error {
	if ep == nil || ep.TenantID == "" || ep.EpisodeID == "" {
		return fmt.Errorf("store: episode requires tenant id and episode id")
	}
	var ctxJSON any
	if len(ep.Context) > 0 {
		raw, err := json.Marshal(ep.Context)
		if err != nil {
			return fmt.Errorf("store: marshal episode context: %w", err)
		}
		ctxJSON = string(raw)
	}
	ts := ep.CreatedAt
	if ts.IsZero() {
		ts = s.now()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO episodic_memory
		(tenant_id, episode_id, task_summary, outcome, tool, op, context, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		ep.TenantID, ep.EpisodeID, ep.TaskSummary, ep.Outcome, ep.Tool, ep.Op, ctxJSON, formatTime(ts))
	if err != nil {
		return fmt.Errorf("store: append episode: %w", err)
	}
	return nil
}

// EpisodeQuery filters QueryEpisodes. Zero values are ignored.
type EpisodeQuery struct {
	Tool  string
	Since time.Time
	Limit int
}

// QueryEpisodes returns a tenant's episodes, most recent first.
func (s *Store) QueryEpisodes(ctx context.Context, tenantID string, q EpisodeQuery) ([]*Episode, error) {
	query := `SELECT episode_id, task_summary, outcome, tool, op, context, created_at
		FROM episodic_memory WHERE tenant_id = ?`
	args := []any{tenantID}
	if !q.Since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, formatTime(q.Since.UTC()))
	}
	if q.Tool != "" {
		query += ` AND tool = ?`
		args = append(args, q.Tool)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("store: query episodes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Episode
	for rows.Next() {
		var (
			ep        Episode
			outcome   sql.NullString
			tool      sql.NullString
			op        sql.NullString
			ctxJSON   sql.NullString
			createdAt string
		)
		if err := rows.Scan(&ep.EpisodeID, &ep.TaskSummary, &outcome, &tool, &op, &ctxJSON, &createdAt); err != nil {
			return nil, err
		}
		ep.TenantID = tenantID
		ep.Outcome = outcome.String
		ep.Tool = tool.String
		ep.Op = op.String
		if ctxJSON.Valid && ctxJSON.String != "" {
			_ = json.Unmarshal([]byte(ctxJSON.String), &ep.Context)
		}
		ep.CreatedAt = parseTime(createdAt)
		out = append(out, &ep)
	}
	return out, rows.Err()
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	out := make([]byte, 0, n*3)
	for i := 0; i < n; i++ {
		if i > 0 {
			out = append(out, ',')
		}
		out = append(out, '?')
	}
	return string(out)
}
