package dispatch

import (
	"net/http"
	"strings"
	"sync"
)

// RateLimitSnapshot is a mutex-guarded cache of the last x-ratelimit-* headers
// observed per key, exposed read-only to the operator /ratelimits surface
type RateLimitSnapshot struct {
	mu    sync.Mutex
	byKey map[int]http.Header
}

// NewRateLimitSnapshot builds an empty snapshot
func NewRateLimitSnapshot() *RateLimitSnapshot {
	return &RateLimitSnapshot{byKey: make(map[int]http.Header)}
}

// Capture stores the x-ratelimit-* headers from a response for key i,
// discarding anything not in that namespace
func (s *RateLimitSnapshot) Capture(i int, h http.Header) {
	captured := make(http.Header)
	for k, v := range h {
		if strings.HasPrefix(strings.ToLower(k), "x-ratelimit-") {
			captured[k] = v
		}
	}
	if len(captured) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byKey[i] = captured
}

// Snapshot returns a defensive copy of the full cache
func (s *RateLimitSnapshot) Snapshot() map[int]http.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int]http.Header, len(s.byKey))
	for k, v := range s.byKey {
		cp := make(http.Header, len(v))
		for hk, hv := range v {
			cp[hk] = append([]string(nil), hv...)
		}
		out[k] = cp
	}
	return out
}
