package http

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestNewRateLimiter_DisabledByZeroRate(t *testing.T) {
	assert.Nil(t, NewRateLimiter(RateLimitConfig{}))
	assert.NotNil(t, NewRateLimiter(DefaultRateLimitConfig()))
}

func TestRateLimiter_BurstThenRefill(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	rl := NewRateLimiter(RateLimitConfig{RequestsPerMinute: 60, BurstSize: 2}).WithClock(clock.Now)

	ok, _ := rl.Allow("a")
	assert.True(t, ok)
	ok, _ = rl.Allow("a")
	assert.True(t, ok)

	ok, wait := rl.Allow("a")
	assert.False(t, ok)
	assert.Equal(t, time.Second, wait)

	// Other clients have their own bucket.
	ok, _ = rl.Allow("b")
	assert.True(t, ok)

	clock.Advance(time.Second)
	ok, _ = rl.Allow("a")
	assert.True(t, ok)
}

func TestRateLimiter_RefillCappedAtBurst(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	rl := NewRateLimiter(RateLimitConfig{RequestsPerMinute: 60, BurstSize: 2, IdleTTL: time.Hour}).WithClock(clock.Now)

	rl.Allow("a")
	clock.Advance(time.Minute)

	allowed := 0
	for i := 0; i < 5; i++ {
		if ok, _ := rl.Allow("a"); ok {
			allowed++
		}
	}
	assert.Equal(t, 2, allowed)
}

func TestRateLimiter_SweepsIdleClients(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	rl := NewRateLimiter(RateLimitConfig{RequestsPerMinute: 60, BurstSize: 1, IdleTTL: time.Minute}).WithClock(clock.Now)

	rl.Allow("a")
	rl.Allow("b")
	require.Equal(t, 2, rl.Len())

	clock.Advance(2 * time.Minute)
	rl.Allow("c")
	assert.Equal(t, 1, rl.Len())
}

func TestRateLimiter_ClientKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/completions", nil)
	req.RemoteAddr = "10.0.0.7:51234"
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")

	rl := NewRateLimiter(DefaultRateLimitConfig())
	assert.Equal(t, "10.0.0.7", rl.clientKey(req))

	cfg := DefaultRateLimitConfig()
	cfg.TrustForwardedFor = true
	rl = NewRateLimiter(cfg)
	assert.Equal(t, "203.0.113.9", rl.clientKey(req))
}

func TestRecordCompletion_RateLimited(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimit = RateLimitConfig{RequestsPerMinute: 1, BurstSize: 2}
	srv, _ := newTestServerWithConfig(t, cfg)

	for i := 0; i < 2; i++ {
		complete(t, srv, "alice", "p1", 100+i)
	}

	rec, env := do(t, srv, http.MethodPost, "/api/v1/completions",
		`{"user_id":"alice","puzzle_id":"p2","time_seconds":100}`, nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "rate_limited", env.Error.Code)

	retryAfter, err := strconv.Atoi(rec.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.Greater(t, retryAfter, 0)

	// Reads are not limited.
	rec, _ = do(t, srv, http.MethodGet, "/api/v1/leaderboard", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
