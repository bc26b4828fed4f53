package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/api"
	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/archive"
	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/auth"
	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/config"
	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/connector"
	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/governor"
	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/mag"
	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/metrics"
	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/observability"
	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/policy"
	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/ratelimit"
	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/security"
	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/store"
	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/validation"
)

//nolint:gocognit,gocyclo
func runServer() {
	fmt.Fprintf(os.Stdout, "%sEDON Gateway starting...%s\n", ColorBold+ColorBlue, ColorReset)
	ctx := context.Background()

	cfg := config.Load()
	setupLogging(cfg)

	for _, warning := range cfg.Validate() {
		log.Printf("[edon] config warning: %s", warning)
	}
	if err := cfg.CheckStartup(); err != nil {
		log.Fatalf("Refusing to start: %v", err)
	}

	// Database
	driver, dsn := store.ResolveDSN(cfg.DatabaseURL, cfg.DatabasePath)
	var storeOpts []store.Option
	if cfg.CredentialsKey != "" {
		storeOpts = append(storeOpts, store.WithEncryptionKey([]byte(cfg.CredentialsKey)))
	}
	st, err := store.Open(driver, dsn, storeOpts...)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()
	if err := st.Ping(ctx); err != nil {
		log.Fatalf("Store ping failed: %v", err)
	}
	log.Printf("[edon] store: %s ready", driver)

	if cfg.DemoMode {
		if err := seedDemo(ctx, cfg, st); err != nil {
			log.Printf("[edon] demo seed (non-fatal): %v", err)
		} else {
			log.Printf("[edon] demo mode: tenant %s seeded", cfg.DemoTenantID)
		}
	}

	// Observability (optional OTLP export)
	var obs *observability.Provider
	if cfg.OTLPEndpoint != "" {
		obs, err = observability.New(ctx, observability.FromEnv(version, cfg.Environment))
		if err != nil {
			log.Printf("[edon] observability init (non-fatal): %v", err)
		} else {
			log.Printf("[edon] observability: OTLP -> %s", cfg.OTLPEndpoint)
		}
	}

	// Governor
	engine := governor.New(governor.FromEnv())
	log.Println("[edon] governor: ready")

	// Policy packs
	packs := policy.NewRegistry()
	if cfg.PolicyPacksFile != "" {
		if err := packs.LoadOverrides(cfg.PolicyPacksFile); err != nil {
			log.Fatalf("Failed to load policy pack overrides: %v", err)
		}
		log.Printf("[edon] policy packs: overrides loaded from %s", cfg.PolicyPacksFile)
	}

	// Connectors
	factory, err := connector.NewFactory(cfg, st)
	if err != nil {
		log.Fatalf("Failed to build connector factory: %v", err)
	}
	log.Println("[edon] connectors: ready")

	// Network gating posture for the delegated backend
	if base := security.ClawdbotBaseURL(ctx, cfg, st); base != "" {
		gating := security.ValidateNetworkGating(ctx, base, cfg.NetworkGating)
		if !gating.Valid {
			log.Fatalf("Network gating: %s", gating.Recommendation)
		}
		log.Printf("[edon] network gating: clawdbot backend is %s (risk %s)", gating.Reachability, gating.Risk)
	}

	// Metrics
	started := time.Now()
	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New(started)
		log.Println("[edon] metrics: ready")
	}
	bench := metrics.NewBenchmarkCollector()

	// Audit archive sink
	arch, err := archive.NewStoreFromEnv(ctx)
	if err != nil {
		log.Printf("[edon] archive init (non-fatal, export disabled): %v", err)
	}

	// Authentication
	var keys auth.KeySet
	if cfg.ClerkJWKSURL != "" {
		keys = auth.NewRemoteKeySet(cfg.ClerkJWKSURL, cfg.ClerkSecretKey, cfg.ClerkJWKSCacheTTL)
		log.Println("[edon] auth: session JWKS configured")
	}
	authenticator := auth.NewAuthenticator(cfg, st, keys)

	// Rate limiting
	var counters ratelimit.CounterStore = st
	if cfg.RedisURL != "" {
		rc, err := ratelimit.NewRedisCounters(cfg.RedisURL)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		if err := rc.Ping(ctx); err != nil {
			log.Fatalf("Redis ping failed: %v", err)
		}
		defer rc.Close()
		counters = rc
		log.Println("[edon] rate limit: redis counters")
	}
	limiter := ratelimit.NewLimiter(cfg, counters, st, m)
	burst := ratelimit.NewBurstGuard(50, 100)

	// MAG enforcement
	enforcer := mag.NewEnforcer(cfg, st, mag.NewClient(cfg.MagURL))

	// Validation
	validator := validation.NewValidator(cfg)

	srv := api.NewServer(api.ServerOptions{
		Config:     cfg,
		Store:      st,
		Engine:     engine,
		Packs:      packs,
		Connectors: factory,
		Metrics:    m,
		Bench:      bench,
		Archive:    arch,
		Version:    version,
	})
	mux := srv.Routes(func(mux *http.ServeMux) {
		mux.HandleFunc("/auth/signup", authenticator.HandleSignup)
		mux.HandleFunc("/auth/session", authenticator.HandleSession)
	})

	// Middleware chain, inner to outer: validation, rate limit, MAG,
	// auth, burst guard, CORS, request id + security headers.
	var handler http.Handler = mux
	handler = validator.Middleware(handler)
	if cfg.RateLimitEnabled {
		handler = limiter.Middleware(handler)
	}
	handler = enforcer.Middleware(handler)
	handler = authenticator.Middleware(handler)
	handler = burst.Middleware(handler)
	handler = api.CORS(cfg.ServeOrigins())(handler)
	handler = api.RequestID(handler)

	addr := net.JoinHostPort(cfg.Host, cfg.Port)
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Printf("[edon] ready: http://%s", addr)
		log.Println("[edon] press ctrl+c to stop")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Println("[edon] shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[edon] shutdown: %v", err)
	}
	if obs != nil {
		if err := obs.Shutdown(shutdownCtx); err != nil {
			log.Printf("[edon] observability shutdown: %v", err)
		}
	}
}

// setupLogging installs the process-wide slog handler from config.
func setupLogging(cfg *config.Config) {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "DEBUG":
		level = slog.LevelDebug
	case "WARN", "WARNING":
		level = slog.LevelWarn
	case "ERROR":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if cfg.JSONLogging {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
}

// seedDemo provisions the demo tenant and its API key so demo traffic
// authenticates without manual setup. Idempotent.
func seedDemo(ctx context.Context, cfg *config.Config, st *store.Store) error {
	userID := "user_demo"
	if u, err := st.GetUser(ctx, userID); err == nil && u == nil {
		if err := st.CreateUser(ctx, userID, "demo@edoncore.com", "demo", "demo", "owner"); err != nil {
			return fmt.Errorf("create demo user: %w", err)
		}
	}
	if t, err := st.GetTenant(ctx, cfg.DemoTenantID); err == nil && t == nil {
		if err := st.CreateTenant(ctx, cfg.DemoTenantID, userID); err != nil {
			return fmt.Errorf("create demo tenant: %w", err)
		}
		if err := st.UpdateTenantStatus(ctx, cfg.DemoTenantID, "active", "starter"); err != nil {
			return fmt.Errorf("activate demo tenant: %w", err)
		}
	}
	hash := store.HashToken(cfg.DemoAPIKey)
	if key, err := st.APIKeyByHash(ctx, hash); err == nil && key == nil {
		if _, err := st.CreateAPIKey(ctx, cfg.DemoTenantID, hash, "demo"); err != nil {
			return fmt.Errorf("create demo api key: %w", err)
		}
	}
	return nil
}
