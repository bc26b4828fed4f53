package api

import (
	"net/http"
	"time"

	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/archive"
	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/config"
	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/connector"
	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/governor"
	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/metrics"
	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/policy"
	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/store"
)

// maxBodyBytes caps how much of a request body a handler will decode.
// The validation middleware enforces the outer 10 MiB limit; this is
// the per-handler decode bound.
const maxBodyBytes = 1 << 20

// Server holds the wired subsystems behind the HTTP surface. Handlers
// are methods so tests can build a Server around fakes and drive it
// with httptest.
type Server struct {
	cfg        *config.Config
	store      *store.Store
	engine     *governor.Engine
	packs      *policy.Registry
	connectors *connector.Factory
	metrics    *metrics.Metrics
	bench      *metrics.BenchmarkCollector
	archive    archive.Store

	version    string
	started    time.Time
	now        func() time.Time
	httpClient *http.Client
}

// ServerOptions carries the dependencies for NewServer. Metrics, Bench,
// and Archive may be nil; the corresponding endpoints then answer 503.
type ServerOptions struct {
	Config     *config.Config
	Store      *store.Store
	Engine     *governor.Engine
	Packs      *policy.Registry
	Connectors *connector.Factory
	Metrics    *metrics.Metrics
	Bench      *metrics.BenchmarkCollector
	Archive    archive.Store
	Version    string
}

// NewServer wires the handler set.
func NewServer(opts ServerOptions) *Server {
	if opts.Version == "" {
		opts.Version = "dev"
	}
	return &Server{
		cfg:        opts.Config,
		store:      opts.Store,
		engine:     opts.Engine,
		packs:      opts.Packs,
		connectors: opts.Connectors,
		metrics:    opts.Metrics,
		bench:      opts.Bench,
		archive:    opts.Archive,
		version:    opts.Version,
		started:    time.Now(),
		now:        time.Now,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// WithClock fixes the server clock for tests.
func (s *Server) WithClock(now func() time.Time) *Server {
	s.now = now
	s.started = now()
	return s
}

// Routes registers every handler on a fresh mux. extra, when non-nil,
// registers additional routes (auth endpoints live in pkg/auth and are
// attached by cmd).
func (s *Server) Routes(extra func(*http.ServeMux)) *http.ServeMux {
	mux := http.NewServeMux()

	// Governed execution
	mux.HandleFunc("/execute", s.handleExecute)
	mux.HandleFunc("/clawdbot/invoke", s.handleInvoke)
	mux.HandleFunc("/edon/invoke", s.handleInvoke)

	// Intent contracts
	mux.HandleFunc("/intent/set", s.handleIntentSet)
	mux.HandleFunc("/intent/get", s.handleIntentGet)

	// Audit + decision log
	mux.HandleFunc("/audit/query", s.handleAuditQuery)
	mux.HandleFunc("/audit/export", s.handleAuditExport)
	mux.HandleFunc("/decisions/query", s.handleDecisionsQuery)
	mux.HandleFunc("/decisions/", s.handleDecisionByID)

	// Analytics
	mux.HandleFunc("/timeseries", s.handleTimeseries)
	mux.HandleFunc("/block-reasons", s.handleBlockReasons)

	// Policy packs
	mux.HandleFunc("/policy-packs", s.handlePolicyPacks)
	mux.HandleFunc("/policy-packs/", s.handlePolicyPackApply)

	// Credentials (write-only surface)
	mux.HandleFunc("/credentials/set", s.handleCredentialSet)
	mux.HandleFunc("/credentials/", s.handleCredentialDelete)

	// System
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/version", s.handleVersion)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/security/anti-bypass", s.handleAntiBypass)
	mux.HandleFunc("/benchmark/trust-spec", s.handleTrustSpec)

	// Connect flows
	mux.HandleFunc("/integrations/connect/buttons", s.handleConnectButtons)
	mux.HandleFunc("/integrations/connect/link", s.handleConnectLink)
	mux.HandleFunc("/integrations/connect/status", s.handleConnectStatus)
	mux.HandleFunc("/integrations/connect/success", s.handleConnectSuccess)
	mux.HandleFunc("/integrations/connect/brave_search", s.handleConnectAPIKey)
	mux.HandleFunc("/integrations/connect/github", s.handleConnectAPIKey)
	mux.HandleFunc("/integrations/connect/elevenlabs", s.handleConnectAPIKey)
	mux.HandleFunc("/integrations/connect/gmail/start", s.handleGoogleStart)
	mux.HandleFunc("/integrations/connect/gmail/callback", s.handleGoogleCallback)
	mux.HandleFunc("/integrations/connect/google_calendar/start", s.handleGoogleStart)
	mux.HandleFunc("/integrations/connect/google_calendar/callback", s.handleGoogleCallback)
	mux.HandleFunc("/integrations/clawdbot/connect", s.handleClawdbotConnect)
	mux.HandleFunc("/integrations/account/integrations", s.handleAccountIntegrations)
	mux.HandleFunc("/integrations/telegram/connect-code", s.handleTelegramConnectCode)
	mux.HandleFunc("/integrations/telegram/verify-code", s.handleTelegramVerifyCode)

	if extra != nil {
		extra(mux)
	}
	return mux
}

// isProduction hides dev-only response details.
func (s *Server) isProduction() bool {
	return s.cfg != nil && s.cfg.IsProduction()
}
