package security

import (
	"context"
	"log/slog"

	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/config"
	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/store"
)

// Feature reports one anti-bypass measure.
type Feature struct {
	Enabled     bool   `json:"enabled"`
	Description string `json:"description"`
}

// Validation carries the credential check that backs token hardening.
type Validation struct {
	CredentialsConfigured bool `json:"credentials_configured"`
	Secure                bool `json:"secure"`
}

// Status is the security posture returned under "status" by the
// anti-bypass endpoint.
type Status struct {
	NetworkGating     Feature     `json:"network_gating"`
	TokenHardening    Feature     `json:"token_hardening"`
	CredentialsStrict Feature     `json:"credentials_strict"`
	BypassResistant   bool        `json:"bypass_resistant"`
	Recommendations   []string    `json:"recommendations"`
	Warnings          []string    `json:"warnings,omitempty"`
	Validation        *Validation `json:"validation,omitempty"`
}

// Resistance is the 0-100 bypass resistance score with the factors
// that produced it.
type Resistance struct {
	Score    int      `json:"score"`
	MaxScore int      `json:"max_score"`
	Factors  []string `json:"factors"`
	Level    string   `json:"level"`
}

// Report is the full anti-bypass endpoint payload.
type Report struct {
	Status           Status     `json:"status"`
	BypassResistance Resistance `json:"bypass_resistance"`
	Secure           bool       `json:"secure"`
}

// BypassResistant reports whether at least one anti-bypass measure is
// active.
func BypassResistant(cfg *config.Config) bool {
	return cfg.NetworkGating || cfg.TokenHardening
}

func statusFor(cfg *config.Config) Status {
	recs := []string{}
	if !BypassResistant(cfg) {
		recs = append(recs, "Enable anti-bypass: Set EDON_NETWORK_GATING=true or EDON_TOKEN_HARDENING=true")
	}
	if cfg.TokenHardening && !cfg.CredentialsStrict {
		recs = append(recs, "Enable EDON_CREDENTIALS_STRICT=true for full token hardening protection")
	}
	if !cfg.NetworkGating {
		recs = append(recs, "Consider network gating: Place Clawdbot Gateway on private network, "+
			"only accessible from EDON Gateway")
	}

	return Status{
		NetworkGating: Feature{
			Enabled:     cfg.NetworkGating,
			Description: "Clawdbot Gateway on private network, only EDON can access",
		},
		TokenHardening: Feature{
			Enabled:     cfg.TokenHardening,
			Description: "Clawdbot tokens stored only in EDON, never exposed to agents",
		},
		CredentialsStrict: Feature{
			Enabled:     cfg.CredentialsStrict,
			Description: "All credentials must be in database (required for token hardening)",
		},
		BypassResistant: BypassResistant(cfg),
		Recommendations: recs,
	}
}

// ValidateSetup builds the posture status and, when token hardening is
// on, verifies that a Clawdbot credential actually exists in the
// store.
func ValidateSetup(ctx context.Context, cfg *config.Config, st *store.Store) Status {
	status := statusFor(cfg)

	credentialsOK := true
	if cfg.TokenHardening {
		if st == nil {
			credentialsOK = false
		} else if creds, err := st.CredentialsByTool(ctx, "clawdbot"); err != nil {
			slog.Error("anti-bypass credential check failed", "error", err)
			credentialsOK = false
		} else if len(creds) == 0 {
			credentialsOK = false
			status.Warnings = []string{
				"Token hardening enabled but no Clawdbot credentials found in database. " +
					"Set credentials via POST /credentials/set",
			}
		}
	}

	status.Validation = &Validation{
		CredentialsConfigured: credentialsOK,
		Secure:                status.BypassResistant && credentialsOK,
	}
	return status
}

// ResistanceScore scores bypass resistance: network gating is worth
// 50 points, token hardening 40, strict credential mode 10.
func ResistanceScore(ctx context.Context, cfg *config.Config, st *store.Store) Resistance {
	score := 0
	factors := []string{}

	if cfg.NetworkGating {
		score += 50
		factors = append(factors, "Network gating enabled (+50)")
	} else {
		factors = append(factors, "Network gating disabled (0)")
	}

	if cfg.TokenHardening {
		score += 40
		factors = append(factors, "Token hardening enabled (+40)")
	} else {
		factors = append(factors, "Token hardening disabled (0)")
	}

	if cfg.CredentialsStrict {
		score += 10
		factors = append(factors, "Credentials strict mode enabled (+10)")
	} else {
		factors = append(factors, "Credentials strict mode disabled (0)")
	}

	if st != nil {
		if creds, err := st.CredentialsByTool(ctx, "clawdbot"); err == nil {
			if len(creds) > 0 {
				factors = append(factors, "Clawdbot credentials configured in database")
			} else {
				factors = append(factors, "WARNING: No Clawdbot credentials in database")
			}
		}
	}

	return Resistance{
		Score:    score,
		MaxScore: 100,
		Factors:  factors,
		Level:    securityLevel(score),
	}
}

func securityLevel(score int) string {
	switch {
	case score >= 90:
		return "Excellent - Highly resistant to bypass"
	case score >= 70:
		return "Good - Resistant to bypass"
	case score >= 50:
		return "Moderate - Some bypass protection"
	case score >= 20:
		return "Weak - Minimal bypass protection"
	default:
		return "Critical - No bypass protection"
	}
}

// BuildReport assembles the anti-bypass endpoint payload.
func BuildReport(ctx context.Context, cfg *config.Config, st *store.Store) Report {
	status := ValidateSetup(ctx, cfg, st)
	return Report{
		Status:           status,
		BypassResistance: ResistanceScore(ctx, cfg, st),
		Secure:           status.Validation.Secure,
	}
}
