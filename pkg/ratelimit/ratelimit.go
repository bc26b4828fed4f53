// Package ratelimit enforces per-agent fixed-window quotas backed by
// shared counters. Limits are checked before the handler runs and
// counted only after a 2xx response, so rejected and failed requests
// never consume quota.
package ratelimit

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/api"
	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/config"
	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/metrics"
	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/store"
)

const (
	windowMinute = "minute"
	windowHour   = "hour"
	windowDay    = "day"
)

// checkOrder fixes the window evaluation order and the Retry-After
// value reported when that window is exhausted.
var checkOrder = []struct {
	name       string
	retryAfter int
}{
	{windowMinute, 60},
	{windowHour, 3600},
	{windowDay, 86400},
}

// Limits is one quota tier across the three windows. Zero or negative
// disables that window.
type Limits struct {
	PerMinute int
	PerHour   int
	PerDay    int
}

func (l Limits) forWindow(name string) int {
	switch name {
	case windowMinute:
		return l.PerMinute
	case windowHour:
		return l.PerHour
	case windowDay:
		return l.PerDay
	}
	return 0
}

// anonymousLimits is the tier for requests that carry no agent id.
func anonymousLimits(dev bool) Limits {
	if dev {
		return Limits{PerMinute: 60, PerHour: 1000, PerDay: 5000}
	}
	return Limits{PerMinute: 10, PerHour: 100, PerDay: 500}
}

// pollingLimits is the tier for dashboard endpoints that poll.
func pollingLimits(dev bool) Limits {
	if dev {
		return Limits{PerMinute: 120, PerHour: 20000, PerDay: 200000}
	}
	return Limits{PerMinute: 60, PerHour: 2000, PerDay: 20000}
}

// excludedEndpoints never count toward quotas.
var excludedEndpoints = map[string]bool{
	"/health":  true,
	"/healthz": true,
	"/metrics": true,
	"/version": true,
}

// pollingEndpoints get the polling tier.
var pollingEndpoints = map[string]bool{
	"/decisions/query": true,
	"/audit/query":     true,
	"/timeseries":      true,
	"/block-reasons":   true,
}

// Limiter is the rate limiting middleware.
type Limiter struct {
	cfg      *config.Config
	counters CounterStore
	store    *store.Store
	metrics  *metrics.Metrics
	defaults Limits
	now      func() time.Time
}

// NewLimiter builds a limiter. counters may be the SQL store or Redis;
// st is always the SQL store and receives tenant usage increments. m
// may be nil when metrics are disabled.
func NewLimiter(cfg *config.Config, counters CounterStore, st *store.Store, m *metrics.Metrics) *Limiter {
	return &Limiter{
		cfg:      cfg,
		counters: counters,
		store:    st,
		metrics:  m,
		defaults: Limits{
			PerMinute: cfg.RateLimitPerMinute,
			PerHour:   cfg.RateLimitPerHour,
			PerDay:    cfg.RateLimitPerDay,
		},
		now: time.Now,
	}
}

func (l *Limiter) isDev() bool {
	switch l.cfg.Environment {
	case "development", "dev", "local":
		return true
	}
	return false
}

// bucketKey names the counter for one agent and window. Buckets roll
// on UTC boundaries.
func bucketKey(agentID, window string, now time.Time) string {
	now = now.UTC()
	var bucket string
	switch window {
	case windowMinute:
		bucket = now.Format("200601021504")
	case windowHour:
		bucket = now.Format("2006010215")
	case windowDay:
		bucket = now.Format("20060102")
	}
	return "rate_limit:" + agentID + ":" + window + ":" + bucket
}

// agentKey extracts the quota subject without reading the body: query
// parameter first, then the agent headers.
func agentKey(r *http.Request) (key string, anonymous bool) {
	agentID := r.URL.Query().Get("agent_id")
	if agentID == "" {
		agentID = r.Header.Get("X-Agent-ID")
	}
	if agentID == "" {
		agentID = r.Header.Get("X-EDON-Agent-ID")
	}
	if agentID == "" {
		return "anonymous", true
	}
	return agentID, false
}

// statusRecorder captures the handler's status code so quota is only
// consumed by successful requests.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Middleware wires the limiter into the handler chain.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if excludedEndpoints[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		// Demo traffic from channel bots is exempt; the upstream bot
		// already throttles per chat.
		if l.cfg.DemoMode {
			agent := r.Header.Get("X-Agent-ID")
			if agent == "" {
				agent = r.Header.Get("X-EDON-Agent-ID")
			}
			if strings.HasPrefix(agent, "telegram:") {
				next.ServeHTTP(w, r)
				return
			}
		}

		if !l.cfg.RateLimitEnabled {
			next.ServeHTTP(w, r)
			return
		}

		key, anonymous := agentKey(r)
		limits := l.defaults
		switch {
		case pollingEndpoints[r.URL.Path]:
			limits = pollingLimits(l.isDev())
		case anonymous:
			limits = anonymousLimits(l.isDev())
		}

		ctx := r.Context()
		for _, win := range checkOrder {
			limit := limits.forWindow(win.name)
			if limit <= 0 {
				continue
			}
			count, err := l.counters.GetCounter(ctx, bucketKey(key, win.name, l.now()))
			if err != nil {
				// Counter backend trouble must not take traffic down.
				slog.Warn("rate limit counter read failed", "window", win.name, "error", err)
				continue
			}
			if count >= int64(limit) {
				if l.metrics != nil {
					l.metrics.RateLimitHits.Inc()
				}
				msg := fmt.Sprintf("Rate limit exceeded: %d requests per %s", limit, win.name)
				if anonymous {
					msg += ". Anonymous requests are heavily rate-limited. Provide agent_id in X-Agent-ID header or query parameter."
				}
				api.WriteTooManyRequests(w, msg, win.retryAfter)
				return
			}
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		if rec.status >= 200 && rec.status < 300 {
			for _, win := range checkOrder {
				if _, err := l.counters.IncrementCounter(ctx, bucketKey(key, win.name, l.now()), 1); err != nil {
					slog.Warn("rate limit counter increment failed", "window", win.name, "error", err)
				}
			}
			if tenantID := api.TenantID(r); tenantID != "" {
				if err := l.store.IncrementTenantUsage(ctx, tenantID, 1); err != nil {
					slog.Warn("tenant usage increment failed", "tenant_id", tenantID, "error", err)
				}
			}
		}
	})
}
