package ratelimit

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/api"
)

// Burst guard defaults. The guard sits in front of the quota windows
// and absorbs floods before they reach the counter backend.
const (
	DefaultBurstRPS = 50
	DefaultBurst    = 100
)

// BurstGuard applies a per-client-IP token bucket in process.
type BurstGuard struct {
	visitors map[string]*visitor
	mu       sync.Mutex
	rps      rate.Limit
	burst    int
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewBurstGuard creates the guard and starts its janitor.
func NewBurstGuard(rps, burst int) *BurstGuard {
	if rps <= 0 {
		rps = DefaultBurstRPS
	}
	if burst <= 0 {
		burst = DefaultBurst
	}
	g := &BurstGuard{
		visitors: make(map[string]*visitor),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
	go g.cleanupVisitors()
	return g
}

func (g *BurstGuard) getVisitor(ip string) *rate.Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()

	v, ok := g.visitors[ip]
	if !ok {
		limiter := rate.NewLimiter(g.rps, g.burst)
		g.visitors[ip] = &visitor{limiter: limiter, lastSeen: time.Now()}
		return limiter
	}
	v.lastSeen = time.Now()
	return v.limiter
}

// cleanupVisitors drops entries idle for more than three minutes.
func (g *BurstGuard) cleanupVisitors() {
	for {
		time.Sleep(time.Minute)
		g.mu.Lock()
		for ip, v := range g.visitors {
			if time.Since(v.lastSeen) > 3*time.Minute {
				delete(g.visitors, ip)
			}
		}
		g.mu.Unlock()
	}
}

// Middleware rejects clients that exceed the in-process bucket.
func (g *BurstGuard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = strings.Trim(r.RemoteAddr, "[]")
		}

		if !g.getVisitor(ip).Allow() {
			api.WriteTooManyRequests(w, "", 1)
			return
		}
		next.ServeHTTP(w, r)
	})
}
