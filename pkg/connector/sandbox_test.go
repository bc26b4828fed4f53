package connector

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/store"
)

func newTestEmail(t *testing.T) *Email {
	t.Helper()
	e, err := NewEmail(context.Background(), testConfig(t), newTestStore(t), filepath.Join(t.TempDir(), "emails"), "")
	require.NoError(t, err)
	return e
}

func TestEmailDraftWritesSandboxRecord(t *testing.T) {
	e := newTestEmail(t)

	res, err := e.Invoke(context.Background(), "draft", map[string]any{
		"recipients": []any{"ana@example.com", "bo@example.com"},
		"subject":    "Quarterly report",
		"body":       "Attached.",
		"priority":   "high",
	})
	require.NoError(t, err)
	require.True(t, res.Success)

	draftID, _ := res.Fields["draft_id"].(string)
	assert.True(t, strings.HasPrefix(draftID, "draft_"))
	path, _ := res.Fields["file_path"].(string)
	assert.Equal(t, "Email draft saved to "+path, res.Fields["message"])

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var record map[string]any
	require.NoError(t, json.Unmarshal(raw, &record))
	assert.Equal(t, draftID, record["draft_id"])
	assert.Equal(t, "Quarterly report", record["subject"])
	assert.Equal(t, "draft", record["status"])
	assert.Equal(t, "high", record["priority"], "extra params ride through to the record")
	assert.Len(t, record["recipients"], 2)
}

func TestEmailSendWritesSentRecord(t *testing.T) {
	e := newTestEmail(t)

	res, err := e.Invoke(context.Background(), "send", map[string]any{
		"recipients": "solo@example.com",
		"subject":    "Ping",
		"body":       "Pong",
	})
	require.NoError(t, err)
	require.True(t, res.Success)

	messageID, _ := res.Fields["message_id"].(string)
	assert.True(t, strings.HasPrefix(messageID, "msg_"))
	assert.Equal(t, "Email sent (sandboxed) to 1 recipient(s)", res.Fields["message"])

	path, _ := res.Fields["file_path"].(string)
	assert.Contains(t, path, string(filepath.Separator)+"sent"+string(filepath.Separator))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var record map[string]any
	require.NoError(t, json.Unmarshal(raw, &record))
	assert.Equal(t, "sent", record["status"])
	assert.Equal(t, "Sandboxed - would send via SMTP/API in production", record["note"])
}

func TestEmailStrictModeRequiresCredential(t *testing.T) {
	cfg := testConfig(t)
	cfg.CredentialsStrict = true

	_, err := NewEmail(context.Background(), cfg, newTestStore(t), t.TempDir(), "email_gateway")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Credential 'email_gateway' not found in database")

	// With the credential present, construction succeeds and stamps
	// last_used_at.
	st := newTestStore(t)
	require.NoError(t, st.SaveCredential(context.Background(), &store.Credential{
		CredentialID: "email_gateway",
		ToolName:     "email",
		Type:         "smtp",
		Data:         map[string]any{"smtp_host": "mail.internal"},
	}))
	_, err = NewEmail(context.Background(), cfg, st, t.TempDir(), "email_gateway")
	require.NoError(t, err)

	cred, err := st.GetCredential(context.Background(), "email_gateway", "", "")
	require.NoError(t, err)
	assert.NotNil(t, cred.LastUsedAt)
}

func newTestFilesystem(t *testing.T) *Filesystem {
	t.Helper()
	f, err := NewFilesystem(filepath.Join(t.TempDir(), "filesystem"))
	require.NoError(t, err)
	return f
}

func TestFilesystemWriteReadDelete(t *testing.T) {
	f := newTestFilesystem(t)
	ctx := context.Background()

	res, err := f.Invoke(ctx, "write_file", map[string]any{
		"path":    "/notes/todo.txt",
		"content": "ship it",
	})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, 7, res.Fields["size"])
	written, _ := res.Fields["path"].(string)
	assert.Equal(t, "File written to "+written, res.Fields["message"])

	res, err = f.Invoke(ctx, "read_file", map[string]any{"path": "notes/todo.txt"})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, "ship it", res.Fields["content"])

	res, err = f.Invoke(ctx, "delete_file", map[string]any{"path": "notes/todo.txt"})
	require.NoError(t, err)
	require.True(t, res.Success)

	res, err = f.Invoke(ctx, "read_file", map[string]any{"path": "notes/todo.txt"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "File not found: notes/todo.txt", res.Error)
}

func TestFilesystemRejectsTraversal(t *testing.T) {
	f := newTestFilesystem(t)
	ctx := context.Background()

	for _, op := range []string{"read_file", "write_file", "delete_file"} {
		_, err := f.Invoke(ctx, op, map[string]any{
			"path":    "../../etc/passwd",
			"content": "x",
		})
		require.Error(t, err, op)
		assert.Contains(t, err.Error(), "Path outside sandbox", op)
	}
}

func TestFilesystemErrorsOmitSandboxPaths(t *testing.T) {
	f := newTestFilesystem(t)
	ctx := context.Background()

	res, err := f.Invoke(ctx, "write_file", map[string]any{
		"path":    "logs/app.txt",
		"content": "started",
	})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, "logs/app.txt", res.Fields["path"])

	// Reading a directory, writing below a regular file, and removing
	// a non-empty directory all fail inside os. The raw errors embed
	// the resolved sandbox path and must never reach the caller.
	for _, tc := range []struct {
		op     string
		params map[string]any
		want   string
	}{
		{"read_file", map[string]any{"path": "logs"}, "Could not read file: logs"},
		{"write_file", map[string]any{"path": "logs/app.txt/nested.txt", "content": "x"}, "Could not write file: logs/app.txt/nested.txt"},
		{"delete_file", map[string]any{"path": "logs"}, "Could not delete file: logs"},
	} {
		res, err := f.Invoke(ctx, tc.op, tc.params)
		require.NoError(t, err, tc.op)
		assert.False(t, res.Success, tc.op)
		assert.Equal(t, tc.want, res.Error, tc.op)
		assert.NotContains(t, res.Error, f.root, tc.op)
	}
}

func TestFilesystemDeleteMissingFile(t *testing.T) {
	f := newTestFilesystem(t)

	res, err := f.Invoke(context.Background(), "delete_file", map[string]any{"path": "ghost.txt"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "File not found: ghost.txt", res.Error)
}

func TestFilesystemUnsupportedOp(t *testing.T) {
	f := newTestFilesystem(t)

	_, err := f.Invoke(context.Background(), "chmod", map[string]any{"path": "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported op")
}
