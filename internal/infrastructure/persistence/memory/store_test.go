package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sudokuhub/power-index/internal/domain/leaderboard"
	"github.com/sudokuhub/power-index/internal/domain/puzzle"
)

func intPtr(v int) *int { return &v }

func seeded(t *testing.T) *Store {
	t.Helper()
	s := NewStore()
	s.AddUser(leaderboard.User{ID: "alice", Username: "Alice"})
	s.AddUser(leaderboard.User{ID: "bob", Username: "Bob"})
	s.AddPuzzle("p1")
	s.AddPuzzle("p2")
	return s
}

func TestStore_RecordCompletion(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)
	at := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	out, err := s.RecordCompletion(ctx, puzzle.Completion{
		UserID: "alice", PuzzleID: "p1", Time: 100, Rating: intPtr(4), CompletedAt: at,
	})
	require.NoError(t, err)
	assert.True(t, out.FirstSolve)
	assert.Equal(t, 1, out.Stats.Solves)
	assert.Equal(t, int64(100), out.Stats.SumTime)

	out, err = s.RecordCompletion(ctx, puzzle.Completion{
		UserID: "alice", PuzzleID: "p1", Time: 80, CompletedAt: at.Add(time.Hour),
	})
	require.NoError(t, err)
	assert.False(t, out.FirstSolve)
	assert.Equal(t, 1, out.Stats.Solves)
	assert.Equal(t, int64(80), out.Stats.SumTime)
	assert.Equal(t, 0, out.Stats.RatingsCount)

	_, err = s.RecordCompletion(ctx, puzzle.Completion{UserID: "alice", PuzzleID: "nope", Time: 1, CompletedAt: at})
	assert.ErrorIs(t, err, puzzle.ErrPuzzleNotFound)

	_, err = s.RecordCompletion(ctx, puzzle.Completion{UserID: "ghost", PuzzleID: "p1", Time: 1, CompletedAt: at})
	assert.ErrorIs(t, err, leaderboard.ErrUserNotFound)
}

func TestStore_RecentSolves(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	s.SetStats(puzzle.Stats{PuzzleID: "p1", Solves: 2, SumTime: 200})
	s.PutRecord(puzzle.SolveRecord{UserID: "alice", PuzzleID: "p1", Time: 50, CompletedAt: base})
	s.PutRecord(puzzle.SolveRecord{UserID: "alice", PuzzleID: "p2", Time: 70, CompletedAt: base.Add(time.Hour)})
	s.PutRecord(puzzle.SolveRecord{UserID: "alice", PuzzleID: "p3", Time: 0, CompletedAt: base.Add(2 * time.Hour)})
	s.PutRecord(puzzle.SolveRecord{UserID: "bob", PuzzleID: "p1", Time: 90, CompletedAt: base})

	solves, err := s.RecentSolves(ctx, "alice", 10)
	require.NoError(t, err)
	require.Len(t, solves, 2)
	assert.Equal(t, "p2", solves[0].PuzzleID)
	assert.False(t, solves[0].Baseline.IsDefined())

	avg, ok := solves[1].Baseline.AverageTime()
	assert.True(t, ok)
	assert.Equal(t, 100.0, avg)

	solves, err = s.RecentSolves(ctx, "alice", 1)
	require.NoError(t, err)
	assert.Len(t, solves, 1)
}

func TestStore_UpdateRanks(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)
	now := time.Now()

	require.NoError(t, s.UpsertMany(ctx, []leaderboard.Standing{
		{UserID: "alice", Score: 10, Solved: 1, UpdatedAt: now},
		{UserID: "bob", Score: 20, Solved: 2, UpdatedAt: now},
	}))

	s.FailRankLock(leaderboard.ErrRankLockUnavailable, 1)
	_, err := s.UpdateRanks(ctx, leaderboard.AssignRanks)
	assert.ErrorIs(t, err, leaderboard.ErrRankLockUnavailable)

	e, err := s.Get(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, leaderboard.Unranked, e.Rank)

	assignments, err := s.UpdateRanks(ctx, leaderboard.AssignRanks)
	require.NoError(t, err)
	assert.Len(t, assignments, 2)

	entries, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "bob", entries[0].UserID)
	assert.Equal(t, "Bob", entries[0].Username)
	assert.Equal(t, leaderboard.Rank(1), entries[0].Rank)

	require.NoError(t, s.Upsert(ctx, leaderboard.Standing{UserID: "alice", Score: 30, Solved: 3, UpdatedAt: now}))
	e, err = s.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, leaderboard.Rank(2), e.Rank)
}
