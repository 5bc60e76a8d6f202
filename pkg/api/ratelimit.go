package api

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethpandaops/onboardoor/pkg/config"
	"golang.org/x/time/rate"
)

const (
	rateLimitCleanupInterval = 5 * time.Minute
	rateLimitEntryTTL        = 10 * time.Minute
)

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type rateLimiterMap struct {
	mu       sync.Mutex
	limiters map[string]*ipLimiter
	rps      rate.Limit
	burst    int
}

func newRateLimiterMap(requestsPerMinute int, done <-chan struct{}) *rateLimiterMap {
	rl := &rateLimiterMap{
		limiters: make(map[string]*ipLimiter, 16),
		rps:      rate.Limit(float64(requestsPerMinute) / 60.0),
		burst:    max(requestsPerMinute, 1),
	}

	go rl.cleanup(done)

	return rl
}

func (rl *rateLimiterMap) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, exists := rl.limiters[ip]
	if !exists {
		entry = &ipLimiter{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.limiters[ip] = entry
	}

	entry.lastSeen = time.Now()

	return entry.limiter.Allow()
}

func (rl *rateLimiterMap) cleanup(done <-chan struct{}) {
	ticker := time.NewTicker(rateLimitCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			rl.mu.Lock()

			for ip, entry := range rl.limiters {
				if time.Since(entry.lastSeen) > rateLimitEntryTTL {
					delete(rl.limiters, ip)
				}
			}

			rl.mu.Unlock()
		}
	}
}

// rateLimitMiddleware returns a per-IP rate limiting middleware for
// the given tier configuration.
func (s *server) rateLimitMiddleware(
	tier config.RateLimitTier,
) func(http.Handler) http.Handler {
	limiters := newRateLimiterMap(tier.RequestsPerMinute, s.done)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiters.allow(extractIP(r)) {
				writeJSON(w, http.StatusTooManyRequests,
					errorResponse{"rate limit exceeded"})

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// extractIP returns the client's IP address from the request.
func extractIP(r *http.Request) string {
	// First hop of X-Forwarded-For when behind a reverse proxy.
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")

		return strings.TrimSpace(first)
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return ip
}
