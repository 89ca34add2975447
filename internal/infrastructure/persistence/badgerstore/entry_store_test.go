package badgerstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sudokuhub/power-index/internal/domain/leaderboard"
	"github.com/sudokuhub/power-index/internal/infrastructure/persistence/memory"
	"github.com/sudokuhub/power-index/pkg/logger"
)

var at = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

func openStore(t *testing.T, roster leaderboard.Roster) *EntryStore {
	t.Helper()
	s, err := Open(Options{InMemory: true, Logger: logger.Nop().Logrus(), Roster: roster})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_RequiresDir(t *testing.T) {
	_, err := Open(Options{})
	assert.Error(t, err)
}

func TestEntryStore_UpsertKeepsRank(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, nil)

	require.NoError(t, s.UpsertMany(ctx, []leaderboard.Standing{
		{UserID: "a", Score: 10, Solved: 2, UpdatedAt: at},
		{UserID: "b", Score: 20, Solved: 3, UpdatedAt: at},
	}))
	_, err := s.UpdateRanks(ctx, leaderboard.AssignRanks)
	require.NoError(t, err)

	require.NoError(t, s.Upsert(ctx, leaderboard.Standing{UserID: "a", Score: 30, Solved: 4, UpdatedAt: at.Add(time.Hour)}))

	e, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 30.0, e.Score)
	assert.Equal(t, 4, e.Solved)
	assert.Equal(t, leaderboard.Rank(2), e.Rank, "rank survives until the next recompute")
	assert.True(t, e.UpdatedAt.Equal(at.Add(time.Hour)))

	assert.ErrorIs(t, s.Upsert(ctx, leaderboard.Standing{}), leaderboard.ErrInvalidUserID)
}

func TestEntryStore_UpdateRanks(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, nil)

	require.NoError(t, s.UpsertMany(ctx, []leaderboard.Standing{
		{UserID: "carol", Score: 0, UpdatedAt: at},
		{UserID: "bob", Score: 5, Solved: 1, UpdatedAt: at},
		{UserID: "alice", Score: 5, Solved: 1, UpdatedAt: at},
	}))

	assignments, err := s.UpdateRanks(ctx, leaderboard.AssignRanks)
	require.NoError(t, err)
	require.Len(t, assignments, 3)
	assert.Equal(t, 3, leaderboard.CountChanged(assignments))

	entries, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "alice", entries[0].UserID)
	assert.Equal(t, leaderboard.Rank(1), entries[0].Rank)
	assert.Equal(t, "bob", entries[1].UserID)
	assert.Equal(t, leaderboard.Rank(2), entries[1].Rank)
	assert.Equal(t, "carol", entries[2].UserID)
	assert.Equal(t, leaderboard.Rank(3), entries[2].Rank)

	// Re-running without score changes changes nothing.
	again, err := s.UpdateRanks(ctx, leaderboard.AssignRanks)
	require.NoError(t, err)
	assert.Zero(t, leaderboard.CountChanged(again))
}

func TestEntryStore_ListUnrankedAfterRanked(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, nil)

	require.NoError(t, s.Upsert(ctx, leaderboard.Standing{UserID: "a", Score: 1, Solved: 1, UpdatedAt: at}))
	_, err := s.UpdateRanks(ctx, leaderboard.AssignRanks)
	require.NoError(t, err)
	require.NoError(t, s.Upsert(ctx, leaderboard.Standing{UserID: "z", Score: 9, Solved: 1, UpdatedAt: at}))

	entries, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a", entries[0].UserID)
	assert.Equal(t, "z", entries[1].UserID)
	assert.False(t, entries[1].IsRanked())
}

func TestEntryStore_ResolvesUsernames(t *testing.T) {
	ctx := context.Background()
	roster := memory.NewStore()
	roster.AddUser(leaderboard.User{ID: "u1", Username: "alice"})

	s := openStore(t, roster)
	require.NoError(t, s.UpsertMany(ctx, []leaderboard.Standing{
		{UserID: "u1", Score: 3, Solved: 1, UpdatedAt: at},
		{UserID: "ghost", Score: 1, Solved: 1, UpdatedAt: at},
	}))

	e, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "alice", e.Username)

	ghost, err := s.Get(ctx, "ghost")
	require.NoError(t, err)
	assert.Empty(t, ghost.Username)

	entries, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, "alice", entries[0].Username)
}

func TestEntryStore_GetMissing(t *testing.T) {
	s := openStore(t, nil)
	_, err := s.Get(context.Background(), "nobody")
	assert.ErrorIs(t, err, leaderboard.ErrEntryNotFound)
}

func TestEntryStore_CancelledContext(t *testing.T) {
	s := openStore(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.UpdateRanks(ctx, leaderboard.AssignRanks)
	assert.ErrorIs(t, err, context.Canceled)
}
