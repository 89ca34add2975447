package http

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sudokuhub/power-index/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RATE LIMITING
// Per-client token bucket in front of the completion endpoint.
// ══════════════════════════════════════════════════════════════════════════════

// RateLimitConfig configures per-client rate limiting.
type RateLimitConfig struct {
	// RequestsPerMinute is the sustained rate per client (0 disables limiting).
	RequestsPerMinute int

	// BurstSize is the bucket capacity.
	BurstSize int

	// IdleTTL drops buckets of clients not seen for this long.
	IdleTTL time.Duration

	// TrustForwardedFor keys clients by the first X-Forwarded-For address.
	TrustForwardedFor bool
}

// DefaultRateLimitConfig returns limits suitable for puzzle submissions.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 60,
		BurstSize:         10,
		IdleTTL:           10 * time.Minute,
	}
}

type tokenBucket struct {
	tokens   float64
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per client key.
type RateLimiter struct {
	config     RateLimitConfig
	refillRate float64 // tokens per second
	clock      func() time.Time

	mu        sync.Mutex
	buckets   map[string]*tokenBucket
	lastSweep time.Time
}

// NewRateLimiter creates a limiter. It returns nil when limiting is disabled.
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	if config.RequestsPerMinute <= 0 {
		return nil
	}
	if config.BurstSize <= 0 {
		config.BurstSize = 1
	}
	if config.IdleTTL <= 0 {
		config.IdleTTL = DefaultRateLimitConfig().IdleTTL
	}
	return &RateLimiter{
		config:     config,
		refillRate: float64(config.RequestsPerMinute) / 60.0,
		clock:      time.Now,
		buckets:    make(map[string]*tokenBucket),
	}
}

// WithClock replaces the time source.
func (rl *RateLimiter) WithClock(clock func() time.Time) *RateLimiter {
	rl.clock = clock
	rl.lastSweep = clock()
	return rl
}

// Allow consumes a token for key. When the bucket is empty it reports how
// long until the next token.
func (rl *RateLimiter) Allow(key string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock()
	rl.sweep(now)

	b, ok := rl.buckets[key]
	if !ok {
		b = &tokenBucket{tokens: float64(rl.config.BurstSize), lastSeen: now}
		rl.buckets[key] = b
	}

	elapsed := now.Sub(b.lastSeen).Seconds()
	if elapsed > 0 {
		b.tokens = math.Min(float64(rl.config.BurstSize), b.tokens+elapsed*rl.refillRate)
	}
	b.lastSeen = now

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	wait := time.Duration((1 - b.tokens) / rl.refillRate * float64(time.Second))
	return false, wait
}

// Len returns the number of tracked clients.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// sweep drops idle buckets at most once per IdleTTL. Caller holds mu.
func (rl *RateLimiter) sweep(now time.Time) {
	if now.Sub(rl.lastSweep) < rl.config.IdleTTL {
		return
	}
	for key, b := range rl.buckets {
		if now.Sub(b.lastSeen) >= rl.config.IdleTTL {
			delete(rl.buckets, key)
		}
	}
	rl.lastSweep = now
}

// clientKey identifies the caller for rate limiting.
func (rl *RateLimiter) clientKey(r *http.Request) string {
	if rl.config.TrustForwardedFor {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			return strings.TrimSpace(first)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// rateLimitMiddleware rejects clients over their budget with 429.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	rl := s.limiter
	if rl == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := rl.clientKey(r)
		ok, wait := rl.Allow(key)
		if !ok {
			seconds := int(math.Ceil(wait.Seconds()))
			if seconds < 1 {
				seconds = 1
			}
			s.logger.Debug("rate limited",
				logger.String("client", key),
				logger.String("path", r.URL.Path),
				logger.Duration("retry_after", wait),
			)
			w.Header().Set("Retry-After", strconv.Itoa(seconds))
			writeJSONError(w, r, http.StatusTooManyRequests, "rate_limited",
				"Too many requests, retry in "+strconv.Itoa(seconds)+"s")
			return
		}
		next.ServeHTTP(w, r)
	})
}
