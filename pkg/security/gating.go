// Package security classifies how reachable the Clawdbot Gateway is
// and scores the deployment's resistance to agents bypassing the
// gateway and invoking tools directly.
package security

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"net/url"
	"strings"

	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/config"
	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/store"
)

// Reachability classes for a Clawdbot Gateway address.
const (
	ReachLoopback = "loopback"
	ReachPrivate  = "private"
	ReachPublic   = "public"
	ReachUnknown  = "unknown"
)

// Risk levels attached to a reachability class.
const (
	RiskLow  = "low"
	RiskHigh = "high"
)

// lookupHost resolves hostnames during classification. Tests stub it.
var lookupHost = func(ctx context.Context, host string) ([]string, error) {
	return net.DefaultResolver.LookupHost(ctx, host)
}

// ClassifyAddress buckets a host as loopback, private, public, or
// unknown and pairs it with a risk level. Hostnames that are not IP
// literals are resolved; unresolvable hosts read as unknown and high
// risk.
func ClassifyAddress(ctx context.Context, host string) (reachability, risk string) {
	switch strings.ToLower(host) {
	case "localhost", "127.0.0.1", "::1", "0.0.0.0":
		return ReachLoopback, RiskLow
	}

	// Docker-internal names never leave the compose network.
	if strings.HasSuffix(host, ".internal") || strings.HasSuffix(host, ".local") ||
		strings.HasPrefix(host, "clawdbot-gateway") {
		return ReachPrivate, RiskLow
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		return classifyIP(addr)
	}

	addrs, err := lookupHost(ctx, host)
	if err != nil || len(addrs) == 0 {
		slog.Warn("could not resolve hostname", "host", host, "error", err)
		return ReachUnknown, RiskHigh
	}
	addr, err := netip.ParseAddr(addrs[0])
	if err != nil {
		slog.Warn("could not parse resolved address", "host", host, "addr", addrs[0])
		return ReachUnknown, RiskHigh
	}
	return classifyIP(addr)
}

func classifyIP(addr netip.Addr) (string, string) {
	switch {
	case addr.IsLoopback():
		return ReachLoopback, RiskLow
	case addr.IsPrivate():
		return ReachPrivate, RiskLow
	case addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast():
		return ReachPrivate, RiskLow
	case addr.IsGlobalUnicast():
		return ReachPublic, RiskHigh
	default:
		return ReachPrivate, RiskLow
	}
}

// HostFromURL extracts the hostname from a Clawdbot Gateway URL.
// Returns "" when the URL cannot be parsed.
func HostFromURL(raw string) string {
	if raw == "" {
		return ""
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		slog.Warn("failed to parse URL", "url", raw, "error", err)
		return ""
	}
	return parsed.Hostname()
}

// GatingResult is the outcome of validating the Clawdbot Gateway
// address against the network gating policy.
type GatingResult struct {
	Valid          bool
	Reachability   string
	Risk           string
	Recommendation string
}

// ValidateNetworkGating checks that the Clawdbot Gateway is not
// publicly reachable when gating is enabled. With gating disabled it
// still classifies the address for reporting but always passes.
func ValidateNetworkGating(ctx context.Context, baseURL string, enabled bool) GatingResult {
	if !enabled {
		if baseURL != "" {
			if host := HostFromURL(baseURL); host != "" {
				reach, risk := ClassifyAddress(ctx, host)
				return GatingResult{Valid: true, Reachability: reach, Risk: risk}
			}
		}
		return GatingResult{Valid: true, Reachability: ReachUnknown, Risk: RiskLow}
	}

	if baseURL == "" {
		return GatingResult{
			Valid:        false,
			Reachability: ReachUnknown,
			Risk:         RiskHigh,
			Recommendation: "Network gating enabled but Clawdbot Gateway URL not configured. " +
				"Configure Clawdbot Gateway URL via /integrations/clawdbot/connect or set CLAWDBOT_GATEWAY_URL.",
		}
	}

	host := HostFromURL(baseURL)
	if host == "" {
		return GatingResult{
			Valid:        false,
			Reachability: ReachUnknown,
			Risk:         RiskHigh,
			Recommendation: fmt.Sprintf("Invalid Clawdbot Gateway URL: %s. "+
				"Must be a valid URL (e.g., http://127.0.0.1:18789 or http://clawdbot-gateway:18789).", baseURL),
		}
	}

	reach, risk := ClassifyAddress(ctx, host)

	if risk == RiskHigh || reach == ReachPublic {
		return GatingResult{
			Valid:        false,
			Reachability: reach,
			Risk:         risk,
			Recommendation: "Clawdbot Gateway is publicly reachable, which allows agents to bypass EDON Gateway. " +
				"To fix:\n" +
				"1. Docker: Use internal Docker network (see docker-compose.network-isolation.yml)\n" +
				"2. Firewall: Restrict port 18789 to EDON Gateway IP only (see scripts/setup-firewall-isolation.sh)\n" +
				"3. Reverse Proxy: Use nginx with IP whitelist (see nginx/clawdbot-isolation.conf)\n" +
				"See NETWORK_ISOLATION_GUIDE.md for detailed instructions.",
		}
	}

	if reach == ReachUnknown {
		return GatingResult{
			Valid:        false,
			Reachability: reach,
			Risk:         risk,
			Recommendation: fmt.Sprintf("Could not determine reachability of '%s'. "+
				"Ensure Clawdbot Gateway is on a private network or use an IP address.", host),
		}
	}

	return GatingResult{Valid: true, Reachability: reach, Risk: risk}
}

// ClawdbotBaseURL resolves the Clawdbot Gateway base URL. The stored
// default credential wins; the environment is a fallback only outside
// strict credential mode.
func ClawdbotBaseURL(ctx context.Context, cfg *config.Config, st *store.Store) string {
	if st != nil {
		cred, err := st.GetCredential(ctx, cfg.DefaultClawdbotCredentialID, "clawdbot", "")
		if err == nil && cred != nil {
			if u, ok := cred.Data["base_url"].(string); ok && u != "" {
				return u
			}
			if u, ok := cred.Data["gateway_url"].(string); ok && u != "" {
				return u
			}
		}
	}
	if !cfg.CredentialsStrict {
		return cfg.ClawdbotGatewayURL
	}
	return ""
}
