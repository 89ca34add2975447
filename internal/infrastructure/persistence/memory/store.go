// Package memory implements an in-process store for solves, puzzle
// statistics and leaderboard entries. It backs tests and local runs
// of the CLI where no database is available.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sudokuhub/power-index/internal/domain/leaderboard"
	"github.com/sudokuhub/power-index/internal/domain/puzzle"
	"github.com/sudokuhub/power-index/internal/domain/scoring"
)

// Compile-time interface checks.
var (
	_ leaderboard.SolveSource     = (*Store)(nil)
	_ leaderboard.Roster          = (*Store)(nil)
	_ leaderboard.EntryStore      = (*Store)(nil)
	_ puzzle.CompletionRepository = (*Store)(nil)
)

type recordKey struct {
	userID   string
	puzzleID string
}

// Store is a mutex-guarded in-memory implementation of the
// leaderboard and puzzle ports.
type Store struct {
	mu      sync.RWMutex
	users   map[string]leaderboard.User
	order   []string
	stats   map[string]puzzle.Stats
	records map[recordKey]puzzle.SolveRecord
	entries map[string]leaderboard.Entry

	// rank lock failure injection
	lockErr   error
	lockFails int
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		users:   make(map[string]leaderboard.User),
		stats:   make(map[string]puzzle.Stats),
		records: make(map[recordKey]puzzle.SolveRecord),
		entries: make(map[string]leaderboard.Entry),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// SEEDING
// ══════════════════════════════════════════════════════════════════════════════

// AddUser registers a user in the roster.
func (s *Store) AddUser(u leaderboard.User) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[u.ID]; !ok {
		s.order = append(s.order, u.ID)
	}
	s.users[u.ID] = u
}

// AddPuzzle registers a puzzle with empty statistics.
func (s *Store) AddPuzzle(puzzleID string) {
	s.SetStats(puzzle.Stats{PuzzleID: puzzleID})
}

// SetStats overwrites a puzzle's statistics.
func (s *Store) SetStats(st puzzle.Stats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats[st.PuzzleID] = st
}

// PutRecord stores a solve record without touching statistics.
func (s *Store) PutRecord(r puzzle.SolveRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[recordKey{r.UserID, r.PuzzleID}] = r
}

// Stats returns a puzzle's statistics.
func (s *Store) Stats(puzzleID string) (puzzle.Stats, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.stats[puzzleID]
	return st, ok
}

// FailRankLock makes the next n UpdateRanks calls fail with err.
func (s *Store) FailRankLock(err error, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lockErr = err
	s.lockFails = n
}

// ══════════════════════════════════════════════════════════════════════════════
// ROSTER / SOLVE SOURCE
// ══════════════════════════════════════════════════════════════════════════════

// ListUsers returns users in registration order.
func (s *Store) ListUsers(ctx context.Context) ([]leaderboard.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]leaderboard.User, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.users[id])
	}
	return out, nil
}

// GetUser returns a user or leaderboard.ErrUserNotFound.
func (s *Store) GetUser(ctx context.Context, userID string) (*leaderboard.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[userID]
	if !ok {
		return nil, leaderboard.ErrUserNotFound
	}
	return &u, nil
}

// RecentSolves returns the user's positive-time solves, newest first,
// with each puzzle's current baseline.
func (s *Store) RecentSolves(ctx context.Context, userID string, limit int) ([]scoring.Solve, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []scoring.Solve
	for key, r := range s.records {
		if key.userID != userID || r.Time <= 0 {
			continue
		}
		out = append(out, scoring.Solve{
			PuzzleID:    r.PuzzleID,
			Time:        float64(r.Time),
			CompletedAt: r.CompletedAt,
			Baseline:    s.stats[r.PuzzleID].Baseline(),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CompletedAt.Equal(out[j].CompletedAt) {
			return out[i].CompletedAt.After(out[j].CompletedAt)
		}
		return out[i].PuzzleID < out[j].PuzzleID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// COMPLETIONS
// ══════════════════════════════════════════════════════════════════════════════

// RecordCompletion applies a completion to the record and puzzle stats atomically.
func (s *Store) RecordCompletion(ctx context.Context, c puzzle.Completion) (*puzzle.CompletionOutcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[c.UserID]; !ok {
		return nil, leaderboard.ErrUserNotFound
	}
	st, ok := s.stats[c.PuzzleID]
	if !ok {
		return nil, puzzle.ErrPuzzleNotFound
	}

	key := recordKey{c.UserID, c.PuzzleID}
	var previous *puzzle.SolveRecord
	if r, ok := s.records[key]; ok {
		previous = &r
	}

	next, record, err := puzzle.ApplyCompletion(st, previous, c)
	if err != nil {
		return nil, err
	}

	s.stats[c.PuzzleID] = next
	s.records[key] = record

	return &puzzle.CompletionOutcome{
		Record:     record,
		Stats:      next,
		FirstSolve: previous == nil,
	}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ENTRY STORE
// ══════════════════════════════════════════════════════════════════════════════

// Upsert writes a user's score, keeping the current rank.
func (s *Store) Upsert(ctx context.Context, standing leaderboard.Standing) error {
	return s.UpsertMany(ctx, []leaderboard.Standing{standing})
}

// UpsertMany writes all standings under one lock.
func (s *Store) UpsertMany(ctx context.Context, standings []leaderboard.Standing) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, st := range standings {
		if st.UserID == "" {
			return leaderboard.ErrInvalidUserID
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, st := range standings {
		e := s.entries[st.UserID]
		e.UserID = st.UserID
		e.Score = st.Score
		e.Solved = st.Solved
		e.UpdatedAt = st.UpdatedAt
		s.entries[st.UserID] = e
	}
	return nil
}

// UpdateRanks assigns ranks over a snapshot taken under the write lock.
func (s *Store) UpdateRanks(ctx context.Context, assign leaderboard.RankAssigner) ([]leaderboard.RankAssignment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lockFails > 0 {
		s.lockFails--
		return nil, s.lockErr
	}

	snapshot := make([]leaderboard.Entry, 0, len(s.entries))
	for _, e := range s.entries {
		snapshot = append(snapshot, s.withUsername(e))
	}

	assignments := assign(snapshot)
	for _, a := range assignments {
		e, ok := s.entries[a.UserID]
		if !ok {
			continue
		}
		e.Rank = a.Rank
		s.entries[a.UserID] = e
	}
	return assignments, nil
}

// List returns all entries ordered for display.
func (s *Store) List(ctx context.Context) ([]leaderboard.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]leaderboard.Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, s.withUsername(e))
	}
	return leaderboard.NewBoard(out, time.Time{}).Entries, nil
}

// Get returns a user's entry or leaderboard.ErrEntryNotFound.
func (s *Store) Get(ctx context.Context, userID string) (*leaderboard.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[userID]
	if !ok {
		return nil, leaderboard.ErrEntryNotFound
	}
	e = s.withUsername(e)
	return &e, nil
}

func (s *Store) withUsername(e leaderboard.Entry) leaderboard.Entry {
	if u, ok := s.users[e.UserID]; ok {
		e.Username = u.Username
	}
	return e
}
