package command

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sudokuhub/power-index/internal/domain/leaderboard"
	"github.com/sudokuhub/power-index/internal/domain/puzzle"
	"github.com/sudokuhub/power-index/internal/domain/scoring"
	"github.com/sudokuhub/power-index/internal/domain/shared"
	"github.com/sudokuhub/power-index/internal/infrastructure/persistence/memory"
	"github.com/sudokuhub/power-index/pkg/logger"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

// recordingPublisher collects published events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.Event
}

func (p *recordingPublisher) Publish(e shared.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []shared.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]shared.EventType, len(p.events))
	for i, e := range p.events {
		out[i] = e.EventType()
	}
	return out
}

// failingSource fails for selected users.
type failingSource struct {
	leaderboard.SolveSource
	fail map[string]bool
}

func (s failingSource) RecentSolves(ctx context.Context, userID string, limit int) ([]scoring.Solve, error) {
	if s.fail[userID] {
		return nil, errors.New("connection reset")
	}
	return s.SolveSource.RecentSolves(ctx, userID, limit)
}

// seedStore builds the reference dataset: alice solved three puzzles
// (50s, 100s, 200s against a 100s average), bob solved one at the
// average, carol solved nothing.
func seedStore(t *testing.T) *memory.Store {
	t.Helper()
	s := memory.NewStore()
	for _, u := range []leaderboard.User{
		{ID: "alice", Username: "Alice"},
		{ID: "bob", Username: "Bob"},
		{ID: "carol", Username: "Carol"},
	} {
		s.AddUser(u)
	}
	for _, id := range []string{"p1", "p2", "p3"} {
		s.SetStats(puzzle.Stats{PuzzleID: id, Solves: 3, SumTime: 300})
	}

	s.PutRecord(puzzle.SolveRecord{UserID: "alice", PuzzleID: "p1", Time: 50, CompletedAt: fixedNow.Add(-3 * time.Hour)})
	s.PutRecord(puzzle.SolveRecord{UserID: "alice", PuzzleID: "p2", Time: 100, CompletedAt: fixedNow.Add(-2 * time.Hour)})
	s.PutRecord(puzzle.SolveRecord{UserID: "alice", PuzzleID: "p3", Time: 200, CompletedAt: fixedNow.Add(-time.Hour)})
	s.PutRecord(puzzle.SolveRecord{UserID: "bob", PuzzleID: "p1", Time: 100, CompletedAt: fixedNow.Add(-time.Hour)})
	return s
}

func newRefresher(s *memory.Store, source leaderboard.SolveSource, pub shared.EventPublisher, workers int) *Refresher {
	if source == nil {
		source = s
	}
	return NewRefresher(s, source, s, scoring.DefaultPolicy(), pub, logger.Nop(), RefresherConfig{
		Workers:        workers,
		PerUserTimeout: time.Second,
	}).WithClock(fixedClock)
}

// ══════════════════════════════════════════════════════════════════════════════
// REFRESH
// ══════════════════════════════════════════════════════════════════════════════

func TestRefreshAll_ReferenceScenario(t *testing.T) {
	ctx := context.Background()
	s := seedStore(t)
	pub := &recordingPublisher{}

	report, err := newRefresher(s, nil, pub, 1).RefreshAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Users)
	assert.Equal(t, 3, report.Refreshed)
	assert.Zero(t, report.Failed())
	assert.NotEmpty(t, report.RunID)

	alice, err := s.Get(ctx, "alice")
	require.NoError(t, err)
	assert.InDelta(t, 52.6, alice.Score, 0.05)
	assert.Equal(t, 3, alice.Solved)
	assert.Equal(t, fixedNow, alice.UpdatedAt)

	carol, err := s.Get(ctx, "carol")
	require.NoError(t, err)
	assert.Equal(t, 0.0, carol.Score)
	assert.Equal(t, 0, carol.Solved)

	assert.Equal(t, []shared.EventType{shared.EventLeaderboardRefreshed}, pub.types())
}

func TestRefreshAll_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := seedStore(t)
	r := newRefresher(s, nil, nil, 1)

	_, err := r.RefreshAll(ctx)
	require.NoError(t, err)
	first, err := s.List(ctx)
	require.NoError(t, err)

	_, err = r.RefreshAll(ctx)
	require.NoError(t, err)
	second, err := s.List(ctx)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestRefreshAll_ParallelMatchesSequential(t *testing.T) {
	ctx := context.Background()

	seq := seedStore(t)
	_, err := newRefresher(seq, nil, nil, 1).RefreshAll(ctx)
	require.NoError(t, err)

	par := seedStore(t)
	_, err = newRefresher(par, nil, nil, 4).RefreshAll(ctx)
	require.NoError(t, err)

	a, _ := seq.List(ctx)
	b, _ := par.List(ctx)
	assert.Equal(t, a, b)
}

func TestRefreshAll_FailureIsolation(t *testing.T) {
	ctx := context.Background()
	s := seedStore(t)
	source := failingSource{SolveSource: s, fail: map[string]bool{"bob": true}}

	report, err := newRefresher(s, source, nil, 2).RefreshAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Refreshed)
	require.Len(t, report.Failures, 1)
	assert.ErrorIs(t, report.Failures["bob"], shared.ErrStorage)

	_, err = s.Get(ctx, "bob")
	assert.ErrorIs(t, err, leaderboard.ErrEntryNotFound)

	alice, err := s.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 3, alice.Solved)
}

func TestRefreshAll_CancelledContext(t *testing.T) {
	s := seedStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newRefresher(s, nil, nil, 1).RefreshAll(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPreview_BuildsBoardWithoutWriting(t *testing.T) {
	ctx := context.Background()
	s := seedStore(t)

	board, err := newRefresher(s, nil, nil, 1).Preview(ctx)
	require.NoError(t, err)
	require.Len(t, board, 3)

	assert.Equal(t, "alice", board[0].UserID)
	assert.Equal(t, leaderboard.Rank(1), board[0].Rank)
	assert.InDelta(t, leaderboard.MaxNormalizedScore, board[0].NormalizedScore, 1e-9)
	assert.InDelta(t, 52.6, board[0].AdjustedScore, 0.05)
	assert.Equal(t, "bob", board[1].UserID)
	assert.Equal(t, "carol", board[2].UserID)
	assert.Equal(t, leaderboard.Rank(3), board[2].Rank)
	assert.Zero(t, board[2].NormalizedScore)

	entries, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPreview_SkipsFailingUsers(t *testing.T) {
	s := seedStore(t)
	source := failingSource{SolveSource: s, fail: map[string]bool{"alice": true}}

	board, err := newRefresher(s, source, nil, 1).Preview(context.Background())
	require.NoError(t, err)
	require.Len(t, board, 2)
	assert.Equal(t, "bob", board[0].UserID)
	assert.InDelta(t, leaderboard.MaxNormalizedScore, board[0].NormalizedScore, 1e-9)
}

func TestRefreshOne_MatchesRefreshAll(t *testing.T) {
	ctx := context.Background()

	full := seedStore(t)
	_, err := newRefresher(full, nil, nil, 1).RefreshAll(ctx)
	require.NoError(t, err)

	single := seedStore(t)
	r := newRefresher(single, nil, nil, 1)
	for _, id := range []string{"alice", "bob", "carol"} {
		standing, err := r.RefreshOne(ctx, id)
		require.NoError(t, err)

		want, err := full.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want.Score, standing.Score, id)
		assert.Equal(t, want.Solved, standing.Solved, id)
	}
}

func TestRefreshOne_Errors(t *testing.T) {
	ctx := context.Background()
	r := newRefresher(seedStore(t), nil, nil, 1)

	_, err := r.RefreshOne(ctx, "")
	assert.ErrorIs(t, err, leaderboard.ErrInvalidUserID)

	_, err = r.RefreshOne(ctx, "ghost")
	assert.ErrorIs(t, err, leaderboard.ErrUserNotFound)
}

// ══════════════════════════════════════════════════════════════════════════════
// RANKS
// ══════════════════════════════════════════════════════════════════════════════

func TestRecompute_ZeroSolveUserRanksLast(t *testing.T) {
	ctx := context.Background()
	s := seedStore(t)
	pub := &recordingPublisher{}

	_, err := newRefresher(s, nil, nil, 1).RefreshAll(ctx)
	require.NoError(t, err)

	result, err := NewRankRecomputer(s, pub, logger.Nop()).WithClock(fixedClock).Recompute(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Ranked)
	assert.Equal(t, 3, result.Changed)

	entries, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, []string{"alice", "bob", "carol"}, []string{entries[0].UserID, entries[1].UserID, entries[2].UserID})
	for i, e := range entries {
		assert.Equal(t, leaderboard.Rank(i+1), e.Rank)
	}
	assert.Equal(t, []shared.EventType{shared.EventRanksRecomputed}, pub.types())

	// Second run changes nothing.
	result, err = NewRankRecomputer(s, nil, nil).Recompute(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.Changed)
}

func TestRecompute_TiesBrokenByUserID(t *testing.T) {
	ctx := context.Background()
	s := memory.NewStore()
	require.NoError(t, s.UpsertMany(ctx, []leaderboard.Standing{
		{UserID: "zed", Score: 10, Solved: 1},
		{UserID: "amy", Score: 10, Solved: 1},
		{UserID: "kim", Score: 20, Solved: 2},
	}))

	result, err := NewRankRecomputer(s, nil, nil).Recompute(ctx)
	require.NoError(t, err)

	got := make(map[string]leaderboard.Rank)
	for _, a := range result.Assignments {
		got[a.UserID] = a.Rank
	}
	assert.Equal(t, map[string]leaderboard.Rank{"kim": 1, "amy": 2, "zed": 3}, got)
}

func TestRecompute_LockUnavailable(t *testing.T) {
	ctx := context.Background()
	s := seedStore(t)
	_, err := newRefresher(s, nil, nil, 1).RefreshAll(ctx)
	require.NoError(t, err)

	s.FailRankLock(leaderboard.ErrRankLockUnavailable, 1)
	pub := &recordingPublisher{}

	_, err = NewRankRecomputer(s, pub, nil).Recompute(ctx)
	assert.ErrorIs(t, err, leaderboard.ErrRankLockUnavailable)
	assert.True(t, leaderboard.IsRetryableRankError(err))
	assert.Empty(t, pub.types())

	entries, err := s.List(ctx)
	require.NoError(t, err)
	for _, e := range entries {
		assert.Equal(t, leaderboard.Unranked, e.Rank)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// COMPLETION
// ══════════════════════════════════════════════════════════════════════════════

type failingRefresher struct{ err error }

func (f failingRefresher) RefreshOne(context.Context, string) (*leaderboard.Standing, error) {
	return nil, f.err
}

func TestRecordCompletion_FirstSolveRefreshesScore(t *testing.T) {
	ctx := context.Background()
	s := seedStore(t)
	pub := &recordingPublisher{}
	rating := 4

	h := NewRecordCompletionHandler(s, newRefresher(s, nil, nil, 1), pub, logger.Nop()).WithClock(fixedClock)
	result, err := h.Handle(ctx, RecordCompletionCommand{
		UserID:      "carol",
		PuzzleID:    "p1",
		TimeSeconds: 50,
		Rating:      &rating,
	})
	require.NoError(t, err)
	assert.True(t, result.FirstSolve)
	assert.Equal(t, fixedNow, result.Record.CompletedAt)
	assert.Equal(t, 4, result.Stats.Solves)
	assert.Equal(t, int64(350), result.Stats.SumTime)
	assert.Equal(t, 1, result.Stats.RatingsCount)
	assert.NoError(t, result.RefreshErr)

	// New average is 87.5s, so a 50s solve scores 87.5²/50.
	require.NotNil(t, result.Standing)
	assert.Equal(t, 1, result.Standing.Solved)
	assert.InDelta(t, (87.5*87.5/50)*scoring.VolumeWeight(1, scoring.DefaultLambda), result.Standing.Score, 1e-9)

	entry, err := s.Get(ctx, "carol")
	require.NoError(t, err)
	assert.Equal(t, result.Standing.Score, entry.Score)

	assert.Equal(t, []shared.EventType{shared.EventPuzzleCompleted}, pub.types())
}

func TestRecordCompletion_Recompletion(t *testing.T) {
	ctx := context.Background()
	s := seedStore(t)
	h := NewRecordCompletionHandler(s, newRefresher(s, nil, nil, 1), nil, nil)

	result, err := h.Handle(ctx, RecordCompletionCommand{
		UserID:      "bob",
		PuzzleID:    "p1",
		TimeSeconds: 40,
		CompletedAt: fixedNow,
	})
	require.NoError(t, err)
	assert.False(t, result.FirstSolve)
	assert.Equal(t, 3, result.Stats.Solves)
	assert.Equal(t, int64(240), result.Stats.SumTime)
	assert.Equal(t, 40, result.Record.Time)
}

func TestRecordCompletion_RefreshFailureKeepsCompletion(t *testing.T) {
	ctx := context.Background()
	s := seedStore(t)
	boom := errors.New("entry store down")

	h := NewRecordCompletionHandler(s, failingRefresher{err: boom}, nil, nil).WithClock(fixedClock)
	result, err := h.Handle(ctx, RecordCompletionCommand{UserID: "carol", PuzzleID: "p2", TimeSeconds: 90})
	require.NoError(t, err)
	assert.ErrorIs(t, result.RefreshErr, boom)
	assert.Nil(t, result.Standing)

	st, ok := s.Stats("p2")
	require.True(t, ok)
	assert.Equal(t, 4, st.Solves)
}

func TestRecordCompletion_Validation(t *testing.T) {
	ctx := context.Background()
	s := seedStore(t)
	h := NewRecordCompletionHandler(s, newRefresher(s, nil, nil, 1), nil, nil).WithClock(fixedClock)
	bad := 9

	tests := []struct {
		name string
		cmd  RecordCompletionCommand
		kind error
	}{
		{"missing user", RecordCompletionCommand{PuzzleID: "p1", TimeSeconds: 10}, shared.ErrValidation},
		{"negative time", RecordCompletionCommand{UserID: "bob", PuzzleID: "p1", TimeSeconds: -1}, shared.ErrValidation},
		{"rating out of range", RecordCompletionCommand{UserID: "bob", PuzzleID: "p1", TimeSeconds: 10, Rating: &bad}, shared.ErrValidation},
		{"unknown puzzle", RecordCompletionCommand{UserID: "bob", PuzzleID: "p9", TimeSeconds: 10}, shared.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.Handle(ctx, tt.cmd)
			assert.ErrorIs(t, err, tt.kind)
		})
	}
}
