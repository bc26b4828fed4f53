package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/contracts"
	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/metrics"
	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/security"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}

	ctx := r.Context()
	activeIntents, err := s.store.CountIntents(ctx)
	if err != nil {
		WriteInternal(w, err)
		return
	}

	var presetInfo map[string]any
	preset, err := s.store.ActivePolicyPreset(ctx)
	if err != nil {
		slog.Error("active preset lookup failed", "error", err)
	} else if preset != nil {
		presetInfo = map[string]any{
			"preset_name": preset.PresetName,
			"applied_at":  preset.AppliedAt.UTC().Format(time.RFC3339Nano),
		}
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"ok":             true,
		"status":         "healthy",
		"version":        s.version,
		"uptime_seconds": int(s.now().Sub(s.started).Seconds()),
		"governor": map[string]any{
			"policy_version": contracts.PolicyVersion,
			"active_intents": activeIntents,
			"active_preset":  presetInfo,
		},
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	gitSHA := "unknown"
	if s.cfg != nil && s.cfg.GitSHA != "" {
		gitSHA = s.cfg.GitSHA
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"version": s.version,
		"git_sha": gitSHA,
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil || (s.cfg != nil && !s.cfg.MetricsEnabled) {
		WriteServiceUnavailable(w, "Metrics collection is disabled. Set EDON_METRICS_ENABLED=true to enable.")
		return
	}
	s.metrics.Handler().ServeHTTP(w, r)
}

func (s *Server) handleAntiBypass(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	WriteJSON(w, http.StatusOK, security.BuildReport(r.Context(), s.cfg, s.store))
}

// handleTrustSpec publishes the adoption spec sheet: measured latency
// overhead against the 25ms/50ms targets, verdict mix, and the bypass
// resistance score.
func (s *Server) handleTrustSpec(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}

	var report metrics.Report
	if s.bench != nil {
		report = s.bench.Report()
	}
	blockCount := report.BlockRate.BlockCount
	allowCount := report.BlockRate.AllowCount
	blockPct := 0.0
	if blockCount+allowCount > 0 {
		blockPct = float64(blockCount) / float64(blockCount+allowCount) * 100
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"latency_overhead": map[string]any{
			"median_ms":         report.Latency.MedianMS,
			"p95_ms":            report.Latency.P95MS,
			"target_local_ms":   metrics.TargetLocalMS,
			"target_network_ms": metrics.TargetNetworkMS,
			"meets_targets":     report.Latency.MeetsLocalTarget,
		},
		"block_rate": map[string]any{
			"block_count":      blockCount,
			"allow_count":      allowCount,
			"block_percentage": blockPct,
		},
		"bypass_resistance": security.ResistanceScore(r.Context(), s.cfg, s.store),
		"integration_time": map[string]any{
			"estimated_minutes": 5,
			"description":       "5-minute migration: Change URL and token header",
		},
		"timestamp": s.now().UTC().Format(time.RFC3339Nano),
	})
}

func (s *Server) handlePolicyPacks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	preset, err := s.store.ActivePolicyPreset(r.Context())
	if err != nil {
		WriteInternal(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"packs":         s.packs.List(),
		"default":       "personal_safe",
		"active_preset": preset,
	})
}

// handlePolicyPackApply materializes a pack into a stored intent and
// records it as the active preset. The synthesized scope always covers
// clawdbot.invoke so delegated invokes are never rejected as
// out-of-scope right after onboarding.
func (s *Server) handlePolicyPackApply(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/policy-packs/")
	packName, verb, ok := strings.Cut(rest, "/")
	if !ok || verb != "apply" || packName == "" {
		WriteNotFound(w, "Not found")
		return
	}

	pack, err := s.packs.Get(packName)
	if err != nil {
		WriteNotFound(w, err.Error())
		return
	}

	intent := pack.Intent(r.URL.Query().Get("objective"))
	if intent.Scope == nil {
		intent.Scope = map[string][]string{}
	}
	if !intent.Allows("clawdbot", "invoke") {
		intent.Scope["clawdbot"] = append(intent.Scope["clawdbot"], "invoke")
	}

	tenantID := TenantID(r)
	if tenantID != "" {
		intent.ID = "intent_" + tenantID + "_" + packName + "_" + randHex(8)
	} else {
		intent.ID = "intent_" + packName + "_" + randHex(12)
	}
	now := s.now().UTC()
	intent.CreatedAt = now
	intent.UpdatedAt = now

	ctx := r.Context()
	if err := s.store.SaveIntent(ctx, &intent); err != nil {
		WriteInternal(w, err)
		return
	}
	if err := s.store.SetActivePolicyPreset(ctx, packName, "api"); err != nil {
		WriteInternal(w, err)
		return
	}
	if tenantID != "" {
		if err := s.store.SetTenantDefaultIntent(ctx, tenantID, intent.ID); err != nil {
			slog.Error("tenant default intent update failed", "tenant_id", tenantID, "error", err)
		} else {
			slog.Info("tenant default intent set", "tenant_id", tenantID, "intent_id", intent.ID)
		}
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"intent_id":     intent.ID,
		"policy_pack":   packName,
		"intent":        intent,
		"active_preset": packName,
	})
}

// daysParam parses the trailing-window size shared by the analytics
// endpoints. The store clamps the value to [1,30].
func daysParam(r *http.Request) (int, bool) {
	days := 7
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return 0, false
		}
		days = n
	}
	return days, true
}

func (s *Server) handleTimeseries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	days, ok := daysParam(r)
	if !ok {
		WriteBadRequest(w, "days must be an integer")
		return
	}
	points, err := s.store.Timeseries(r.Context(), days)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, points)
}

func (s *Server) handleBlockReasons(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	days, ok := daysParam(r)
	if !ok {
		WriteBadRequest(w, "days must be an integer")
		return
	}
	reasons, err := s.store.BlockReasons(r.Context(), days)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, reasons)
}
