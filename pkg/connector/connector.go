// Package connector executes approved actions against external
// services. Connectors hold the credentials agents never see: the
// governor decides, the executor dispatches, and only then does a
// connector touch the wire or the sandbox.
//
// A connector is built fresh for every invoke from the credential
// stored for (credential_id, tenant_id). Nothing is cached between
// requests, so rotated or deleted credentials take effect on the
// next call.
package connector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"

	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/config"
	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/contracts"
	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/store"
)

// ErrUnknownTool marks tools with no connector. The executor answers
// these with an empty result instead of failing the request.
var ErrUnknownTool = errors.New("connector: unknown tool")

// inlineCredentialID names connectors built from inline credentials
// (connect probes). Inline connectors never write credential status.
const inlineCredentialID = "inline"

// httpClient is shared by all connectors so outbound calls reuse
// connections. Per-op deadlines come from the request context.
var httpClient = &http.Client{}

// Result is the outcome of one connector invoke. Fields carries the
// tool-specific payload merged into the execution envelope.
type Result struct {
	Success               bool
	Fields                map[string]any
	Error                 string
	DownstreamUnavailable bool
}

// Envelope flattens the result into the wire object embedded in
// execute and invoke responses.
func (r *Result) Envelope() map[string]any {
	out := make(map[string]any, len(r.Fields)+3)
	for k, v := range r.Fields {
		out[k] = v
	}
	out["success"] = r.Success
	if r.Error != "" {
		out["error"] = r.Error
	}
	if r.DownstreamUnavailable {
		out["downstream_unavailable"] = true
	}
	return out
}

// succeed builds a success result carrying the given payload fields.
func succeed(fields map[string]any) *Result {
	return &Result{Success: true, Fields: fields}
}

// fail builds a tool-level failure the agent is allowed to see.
func fail(format string, args ...any) *Result {
	return &Result{Error: fmt.Sprintf(format, args...)}
}

// Connector executes one tool's operations.
type Connector interface {
	// Tool returns the tool name the connector serves.
	Tool() string

	// Invoke runs one operation. A non-nil error means the connector
	// could not execute at all (missing credentials, sandbox escape,
	// upstream protocol error) and maps to an execution error at the
	// HTTP layer. An unsuccessful Result is a normal tool-level
	// failure returned to the caller inside the envelope.
	Invoke(ctx context.Context, op string, params map[string]any) (*Result, error)
}

// Factory builds connectors per request. It holds the store and the
// boot configuration; it never holds connectors.
type Factory struct {
	cfg     *config.Config
	st      *store.Store
	schemas *schemaSet
}

// NewFactory compiles the per-tool parameter schemas and returns a
// factory. Schema compilation failures are programming errors and
// surface at boot.
func NewFactory(cfg *config.Config, st *store.Store) (*Factory, error) {
	schemas, err := compileSchemas()
	if err != nil {
		return nil, err
	}
	return &Factory{cfg: cfg, st: st, schemas: schemas}, nil
}

// New returns a fresh connector for one invoke of tool. An empty
// credentialID selects the tool's default credential. Credentials are
// re-read from the store on every call.
func (f *Factory) New(ctx context.Context, tool, credentialID, tenantID string) (Connector, error) {
	if credentialID == "" {
		credentialID = f.defaultCredentialID(tool)
	}
	switch tool {
	case contracts.ToolClawdbot:
		return NewClawdbot(ctx, f.cfg, f.st, credentialID, tenantID), nil
	case contracts.ToolEmail:
		return NewEmail(ctx, f.cfg, f.st, filepath.Join(f.cfg.SandboxDir, "emails"), credentialID)
	case contracts.ToolFile:
		return NewFilesystem(filepath.Join(f.cfg.SandboxDir, "filesystem"))
	case contracts.ToolBraveSearch:
		return NewBraveSearch(ctx, f.cfg, f.st, credentialID, tenantID)
	case contracts.ToolGitHub:
		return NewGitHub(ctx, f.cfg, f.st, credentialID, tenantID)
	case contracts.ToolElevenLabs:
		return NewElevenLabs(ctx, f.cfg, f.st, credentialID, tenantID)
	case contracts.ToolGmail:
		return NewGmail(ctx, f.cfg, f.st, credentialID, tenantID)
	case contracts.ToolGoogleCalendar:
		return NewGoogleCalendar(ctx, f.cfg, f.st, credentialID, tenantID)
	case contracts.ToolMemory:
		return NewMemory(f.st, tenantID), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownTool, tool)
}

// ValidateParams checks params against the schema registered for
// (tool, op). Operations without a schema pass.
func (f *Factory) ValidateParams(tool, op string, params map[string]any) error {
	return f.schemas.validate(tool, op, params)
}

func (f *Factory) defaultCredentialID(tool string) string {
	switch tool {
	case contracts.ToolClawdbot:
		return f.cfg.DefaultClawdbotCredentialID
	case contracts.ToolEmail:
		return f.cfg.EmailCredentialID
	case contracts.ToolBraveSearch:
		return "brave_search"
	case contracts.ToolGitHub:
		return "github"
	case contracts.ToolElevenLabs:
		return "elevenlabs"
	case contracts.ToolGmail:
		return "gmail"
	case contracts.ToolGoogleCalendar:
		return "google_calendar"
	}
	return ""
}

// recordResult stores the invoke outcome on the credential row so
// integration status can report it. Best-effort: a failed status
// write never fails the invoke.
func recordResult(ctx context.Context, st *store.Store, credentialID, tenantID string, success bool, errMsg string) {
	if st == nil || credentialID == "" || credentialID == inlineCredentialID {
		return
	}
	if err := st.RecordCredentialResult(ctx, credentialID, tenantID, success, errMsg); err != nil {
		slog.Debug("credential status write failed",
			"credential_id", credentialID, "error", err)
	}
}
