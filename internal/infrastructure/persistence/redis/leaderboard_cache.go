package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sudokuhub/power-index/internal/application/query"
	"github.com/sudokuhub/power-index/internal/domain/leaderboard"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD MIRROR
// ══════════════════════════════════════════════════════════════════════════════

// Keys used by the mirror.
var (
	// KeyRanking is a sorted set: member = user ID, score = board position.
	KeyRanking = LeaderboardKey("ranking")

	// KeyEntries is a hash: field = user ID, value = JSON entry.
	KeyEntries = LeaderboardKey("entries")

	// KeyMeta holds JSON metadata of the stored snapshot.
	KeyMeta = LeaderboardKey("meta")
)

// DefaultMirrorMaxAge is how long a stored snapshot stays readable.
const DefaultMirrorMaxAge = 30 * time.Minute

// BoardMirror keeps a read-only copy of the ranked board in Redis.
// It is rebuilt after every rank recompute and dropped after completions.
type BoardMirror struct {
	cache  *Cache
	maxAge time.Duration
	clock  func() time.Time
}

// NewBoardMirror creates a mirror over cache. Snapshots older than maxAge
// are reported as misses.
func NewBoardMirror(cache *Cache, maxAge time.Duration) *BoardMirror {
	if maxAge <= 0 {
		maxAge = DefaultMirrorMaxAge
	}
	return &BoardMirror{
		cache:  cache,
		maxAge: maxAge,
		clock:  time.Now,
	}
}

// WithClock overrides the time source.
func (m *BoardMirror) WithClock(clock func() time.Time) *BoardMirror {
	m.clock = clock
	return m
}

// mirrorMeta describes the stored snapshot.
type mirrorMeta struct {
	BuiltAt  time.Time `json:"built_at"`
	StoredAt time.Time `json:"stored_at"`
	MaxScore float64   `json:"max_score"`
	Count    int       `json:"count"`
}

func (m mirrorMeta) fresh(now time.Time, maxAge time.Duration) bool {
	return now.Sub(m.StoredAt) <= maxAge
}

// mirrorEntry is the JSON form of leaderboard.Entry.
type mirrorEntry struct {
	UserID    string    `json:"user_id"`
	Username  string    `json:"username,omitempty"`
	Score     float64   `json:"score"`
	Solved    int       `json:"solved"`
	Rank      int       `json:"rank"`
	UpdatedAt time.Time `json:"updated_at"`
}

func encodeEntry(e leaderboard.Entry) ([]byte, error) {
	return json.Marshal(mirrorEntry{
		UserID:    e.UserID,
		Username:  e.Username,
		Score:     e.Score,
		Solved:    e.Solved,
		Rank:      int(e.Rank),
		UpdatedAt: e.UpdatedAt,
	})
}

func decodeEntry(data []byte) (leaderboard.Entry, error) {
	var me mirrorEntry
	if err := json.Unmarshal(data, &me); err != nil {
		return leaderboard.Entry{}, fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}
	return leaderboard.Entry{
		UserID:    me.UserID,
		Username:  me.Username,
		Score:     me.Score,
		Solved:    me.Solved,
		Rank:      leaderboard.Rank(me.Rank),
		UpdatedAt: me.UpdatedAt,
	}, nil
}

// LoadBoard implements query.BoardMirror.
func (m *BoardMirror) LoadBoard(ctx context.Context) (*leaderboard.Board, error) {
	var meta mirrorMeta
	if err := m.cache.Get(ctx, KeyMeta, &meta); err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return nil, query.ErrMirrorMiss
		}
		return nil, err
	}
	if !meta.fresh(m.clock(), m.maxAge) {
		return nil, query.ErrMirrorMiss
	}

	client := m.cache.Client()
	ids, err := client.ZRange(ctx, KeyRanking, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("mirror: read ranking: %w", err)
	}
	if len(ids) != meta.Count {
		return nil, query.ErrMirrorMiss
	}

	board := &leaderboard.Board{BuiltAt: meta.BuiltAt}
	if len(ids) > 0 {
		values, err := client.HMGet(ctx, KeyEntries, ids...).Result()
		if err != nil {
			return nil, fmt.Errorf("mirror: read entries: %w", err)
		}
		board.Entries = make([]leaderboard.Entry, 0, len(values))
		for _, v := range values {
			s, ok := v.(string)
			if !ok {
				// Entry vanished while the snapshot was being rewritten.
				return nil, query.ErrMirrorMiss
			}
			e, err := decodeEntry([]byte(s))
			if err != nil {
				return nil, err
			}
			board.Entries = append(board.Entries, e)
		}
	}
	board.RebuildIndex()
	return board, nil
}

// StoreBoard implements query.BoardMirror. The previous snapshot is
// replaced atomically.
func (m *BoardMirror) StoreBoard(ctx context.Context, board *leaderboard.Board) error {
	if board == nil {
		return m.Invalidate(ctx)
	}

	meta, err := json.Marshal(mirrorMeta{
		BuiltAt:  board.BuiltAt,
		StoredAt: m.clock(),
		MaxScore: board.MaxScore,
		Count:    board.Count(),
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}

	members := make([]redis.Z, 0, board.Count())
	fields := make(map[string]interface{}, board.Count())
	for i, e := range board.Entries {
		data, err := encodeEntry(e)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCacheSerialization, err)
		}
		members = append(members, redis.Z{Score: float64(i), Member: e.UserID})
		fields[e.UserID] = data
	}

	pipe := m.cache.Client().TxPipeline()
	pipe.Del(ctx, KeyRanking, KeyEntries, KeyMeta)
	if len(members) > 0 {
		pipe.ZAdd(ctx, KeyRanking, members...)
		pipe.HSet(ctx, KeyEntries, fields)
		pipe.Expire(ctx, KeyRanking, m.maxAge)
		pipe.Expire(ctx, KeyEntries, m.maxAge)
	}
	pipe.Set(ctx, KeyMeta, meta, m.maxAge)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("mirror: store board: %w", err)
	}
	return nil
}

// Invalidate drops the stored snapshot.
func (m *BoardMirror) Invalidate(ctx context.Context) error {
	return m.cache.Delete(ctx, KeyMeta, KeyRanking, KeyEntries)
}
