package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBurstGuardAllowsWithinBucket(t *testing.T) {
	g := NewBurstGuard(1000, 5)
	h := g.Middleware(okHandler())

	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/execute", nil)
		req.RemoteAddr = "10.0.0.1:4444"
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestBurstGuardRejectsFlood(t *testing.T) {
	// One token per hour effectively, burst of 2.
	g := NewBurstGuard(1, 2)
	h := g.Middleware(okHandler())

	codes := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/execute", nil)
		req.RemoteAddr = "10.0.0.2:4444"
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}

	assert.Equal(t, http.StatusOK, codes[0])
	assert.Equal(t, http.StatusOK, codes[1])
	assert.Equal(t, http.StatusTooManyRequests, codes[3])
}

func TestBurstGuardSeparatesClients(t *testing.T) {
	g := NewBurstGuard(1, 1)
	h := g.Middleware(okHandler())

	first := httptest.NewRecorder()
	req1 := httptest.NewRequest(http.MethodGet, "/execute", nil)
	req1.RemoteAddr = "10.0.0.3:1111"
	h.ServeHTTP(first, req1)
	require.Equal(t, http.StatusOK, first.Code)

	// A different client keeps its own bucket.
	second := httptest.NewRecorder()
	req2 := httptest.NewRequest(http.MethodGet, "/execute", nil)
	req2.RemoteAddr = "10.0.0.4:1111"
	h.ServeHTTP(second, req2)
	assert.Equal(t, http.StatusOK, second.Code)
}
