package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/config"
	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/contracts"
	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/store"
)

// Email is the sandboxed email connector. Drafts and sends are
// written as JSON records under the sandbox root instead of reaching
// an SMTP relay, proving the execution path without side effects.
type Email struct {
	root string
	now  func() time.Time
}

// NewEmail prepares the sandbox directory and, when a credential id
// is given, verifies the credential exists. In strict mode a missing
// credential fails construction; otherwise the connector runs
// sandboxed without one.
func NewEmail(ctx context.Context, cfg *config.Config, st *store.Store, root, credentialID string) (*Email, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("email connector: create sandbox: %w", err)
	}
	if credentialID != "" && st != nil {
		cred, err := st.GetCredential(ctx, credentialID, "", "")
		if err != nil {
			return nil, fmt.Errorf("email connector: credential lookup: %w", err)
		}
		if cred != nil {
			_ = st.UpdateCredentialLastUsed(ctx, credentialID, "")
		} else if cfg.CredentialsStrict {
			return nil, fmt.Errorf("Credential '%s' not found in database. "+
				"EDON_CREDENTIALS_STRICT=true requires all credentials to be in database. "+
				"Set EDON_CREDENTIALS_STRICT=false for development mode.", credentialID)
		}
	}
	return &Email{root: root, now: time.Now}, nil
}

// Tool implements Connector.
func (e *Email) Tool() string { return contracts.ToolEmail }

// Invoke implements Connector. "send" delivers to the sent subfolder;
// every other op drafts.
func (e *Email) Invoke(_ context.Context, op string, params map[string]any) (*Result, error) {
	recipients := listParam(params, "recipients")
	subject := strParam(params, "subject", "")
	body := strParam(params, "body", "")
	extras := make(map[string]any)
	for k, v := range params {
		switch k {
		case "recipients", "subject", "body":
		default:
			extras[k] = v
		}
	}
	if op == "send" {
		return e.send(recipients, subject, body, extras)
	}
	return e.draft(recipients, subject, body, extras)
}

func (e *Email) draft(recipients []string, subject, body string, extras map[string]any) (*Result, error) {
	now := e.now().UTC()
	draftID := "draft_" + stampID(now)
	path := filepath.Join(e.root, draftID+".json")

	record := map[string]any{
		"draft_id":   draftID,
		"recipients": recipients,
		"subject":    subject,
		"body":       body,
		"created_at": isoTime(now),
		"status":     "draft",
	}
	for k, v := range extras {
		record[k] = v
	}
	if err := writeRecord(path, record); err != nil {
		return nil, err
	}
	return succeed(map[string]any{
		"draft_id":  draftID,
		"file_path": path,
		"message":   fmt.Sprintf("Email draft saved to %s", path),
	}), nil
}

func (e *Email) send(recipients []string, subject, body string, extras map[string]any) (*Result, error) {
	now := e.now().UTC()
	messageID := "msg_" + stampID(now)
	path := filepath.Join(e.root, "sent", messageID+".json")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("email connector: create sent dir: %w", err)
	}

	record := map[string]any{
		"message_id": messageID,
		"recipients": recipients,
		"subject":    subject,
		"body":       body,
		"sent_at":    isoTime(now),
		"status":     "sent",
		"note":       "Sandboxed - would send via SMTP/API in production",
	}
	for k, v := range extras {
		record[k] = v
	}
	if err := writeRecord(path, record); err != nil {
		return nil, err
	}
	return succeed(map[string]any{
		"message_id": messageID,
		"file_path":  path,
		"message":    fmt.Sprintf("Email sent (sandboxed) to %d recipient(s)", len(recipients)),
	}), nil
}

// stampID yields the microsecond timestamp ids the sandbox records
// are named by, e.g. 20260102_150405_123456.
func stampID(t time.Time) string {
	return t.Format("20060102_150405") + fmt.Sprintf("_%06d", t.Nanosecond()/1000)
}

// isoTime renders the ISO 8601 form with microseconds and offset.
func isoTime(t time.Time) string {
	return t.Format("2006-01-02T15:04:05.000000-07:00")
}

func writeRecord(path string, record map[string]any) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("email connector: encode record: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("email connector: write record: %w", err)
	}
	return nil
}
