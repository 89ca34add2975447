package redis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sudokuhub/power-index/internal/domain/leaderboard"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "leaderboard:ranking", KeyRanking)
	assert.Equal(t, "leaderboard:entries", KeyEntries)
	assert.Equal(t, "leaderboard:meta", KeyMeta)
	assert.Equal(t, "lock:rebuild", LockKey("rebuild"))
	assert.Equal(t, "pubsub:events", PubSubChannel("events"))
}

func TestConfig_Addr(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "localhost:6379", cfg.Addr())

	cfg.Host = "::1"
	assert.Equal(t, "[::1]:6379", cfg.Addr())
}

func TestConfig_Options(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Password = "secret"
	cfg.DB = 3

	opts := cfg.options()
	assert.Equal(t, "localhost:6379", opts.Addr)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 3, opts.DB)
	assert.Equal(t, 10, opts.PoolSize)
	assert.Equal(t, 3*time.Second, opts.ReadTimeout)
}

func TestEntryEncoding(t *testing.T) {
	e := leaderboard.Entry{
		UserID:    "u1",
		Username:  "alice",
		Score:     52.63,
		Solved:    4,
		Rank:      2,
		UpdatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	data, err := encodeEntry(e)
	require.NoError(t, err)

	got, err := decodeEntry(data)
	require.NoError(t, err)
	assert.Equal(t, e, got)

	_, err = decodeEntry([]byte("{"))
	assert.ErrorIs(t, err, ErrCacheSerialization)
}

func TestMirrorMeta_Fresh(t *testing.T) {
	stored := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	meta := mirrorMeta{StoredAt: stored}

	assert.True(t, meta.fresh(stored.Add(10*time.Minute), 30*time.Minute))
	assert.True(t, meta.fresh(stored.Add(30*time.Minute), 30*time.Minute))
	assert.False(t, meta.fresh(stored.Add(31*time.Minute), 30*time.Minute))
}

func TestNewBoardMirror_DefaultMaxAge(t *testing.T) {
	m := NewBoardMirror(nil, 0)
	assert.Equal(t, DefaultMirrorMaxAge, m.maxAge)
}
