package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/sudokuhub/power-index/internal/domain/leaderboard"
	"github.com/sudokuhub/power-index/internal/domain/puzzle"
	"github.com/sudokuhub/power-index/internal/domain/scoring"
)

// ══════════════════════════════════════════════════════════════════════════════
// SOLVE REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// SolveRepository reads users and solves and records completions.
type SolveRepository struct {
	conn *Connection
}

var (
	_ leaderboard.Roster          = (*SolveRepository)(nil)
	_ leaderboard.SolveSource     = (*SolveRepository)(nil)
	_ puzzle.CompletionRepository = (*SolveRepository)(nil)
)

// NewSolveRepository creates a new SolveRepository.
func NewSolveRepository(conn *Connection) *SolveRepository {
	return &SolveRepository{conn: conn}
}

// ─────────────────────────────────────────────────────────────────────────────
// ROSTER
// ─────────────────────────────────────────────────────────────────────────────

// ListUsers returns every registered user in registration order.
func (r *SolveRepository) ListUsers(ctx context.Context) ([]leaderboard.User, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT id, username
		FROM users
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []leaderboard.User
	for rows.Next() {
		var u leaderboard.User
		if err := rows.Scan(&u.ID, &u.Username); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// GetUser returns a user or leaderboard.ErrUserNotFound.
func (r *SolveRepository) GetUser(ctx context.Context, userID string) (*leaderboard.User, error) {
	var u leaderboard.User
	err := r.conn.QueryRow(ctx, `SELECT id, username FROM users WHERE id = $1`, userID).
		Scan(&u.ID, &u.Username)
	if IsNoRows(err) {
		return nil, leaderboard.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// SOLVE SOURCE
// ─────────────────────────────────────────────────────────────────────────────

// RecentSolves returns up to limit positive-time solves, newest first, each
// with the puzzle's current baseline. limit <= 0 means no limit.
func (r *SolveRepository) RecentSolves(ctx context.Context, userID string, limit int) ([]scoring.Solve, error) {
	var lim *int
	if limit > 0 {
		lim = &limit
	}

	rows, err := r.conn.Query(ctx, `
		SELECT s.puzzle_id, s.time_seconds, s.completed_at, p.solves, p.sum_time
		FROM solve_records s
		JOIN puzzles p ON p.id = s.puzzle_id
		WHERE s.user_id = $1 AND s.time_seconds > 0
		ORDER BY s.completed_at DESC, s.puzzle_id
		LIMIT $2
	`, userID, lim)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent solves: %w", err)
	}
	defer rows.Close()

	var solves []scoring.Solve
	for rows.Next() {
		var (
			s     scoring.Solve
			secs  int
			stats puzzle.Stats
		)
		if err := rows.Scan(&s.PuzzleID, &secs, &s.CompletedAt, &stats.Solves, &stats.SumTime); err != nil {
			return nil, fmt.Errorf("failed to scan solve: %w", err)
		}
		s.Time = float64(secs)
		s.Baseline = stats.Baseline()
		solves = append(solves, s)
	}
	return solves, rows.Err()
}

// ─────────────────────────────────────────────────────────────────────────────
// COMPLETIONS
// ─────────────────────────────────────────────────────────────────────────────

// RecordCompletion locks the puzzle row and the user's record, applies the
// completion and writes both in one transaction.
func (r *SolveRepository) RecordCompletion(ctx context.Context, c puzzle.Completion) (*puzzle.CompletionOutcome, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	var outcome puzzle.CompletionOutcome
	err := r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, c.UserID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check user: %w", err)
		}
		if !exists {
			return leaderboard.ErrUserNotFound
		}

		stats, err := lockPuzzle(ctx, tx, c.PuzzleID)
		if err != nil {
			return err
		}

		previous, err := lockRecord(ctx, tx, c.UserID, c.PuzzleID)
		if err != nil {
			return err
		}

		next, record, err := puzzle.ApplyCompletion(stats, previous, c)
		if err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO solve_records (user_id, puzzle_id, time_seconds, rating, completed_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (user_id, puzzle_id) DO UPDATE SET
				time_seconds = EXCLUDED.time_seconds,
				rating = EXCLUDED.rating,
				completed_at = EXCLUDED.completed_at
		`, record.UserID, record.PuzzleID, record.Time, record.Rating, record.CompletedAt); err != nil {
			return fmt.Errorf("failed to upsert solve record: %w", err)
		}

		if _, err := tx.Exec(ctx, `
			UPDATE puzzles SET
				solves = $2,
				sum_time = $3,
				sum_ratings = $4,
				ratings_count = $5,
				last_attempted = $6
			WHERE id = $1
		`, next.PuzzleID, next.Solves, next.SumTime, next.SumRatings, next.RatingsCount, next.LastAttempted); err != nil {
			return fmt.Errorf("failed to update puzzle stats: %w", err)
		}

		outcome = puzzle.CompletionOutcome{
			Record:     record,
			Stats:      next,
			FirstSolve: previous == nil,
		}
		return nil
	})
	if IsForeignKeyViolation(err) {
		// The user row was deleted between the existence check and the insert.
		return nil, leaderboard.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &outcome, nil
}

func lockPuzzle(ctx context.Context, tx pgx.Tx, puzzleID string) (puzzle.Stats, error) {
	var (
		stats         puzzle.Stats
		lastAttempted *time.Time
	)
	err := tx.QueryRow(ctx, `
		SELECT id, solves, sum_time, sum_ratings, ratings_count, last_attempted
		FROM puzzles
		WHERE id = $1
		FOR UPDATE
	`, puzzleID).Scan(
		&stats.PuzzleID,
		&stats.Solves,
		&stats.SumTime,
		&stats.SumRatings,
		&stats.RatingsCount,
		&lastAttempted,
	)
	if IsNoRows(err) {
		return puzzle.Stats{}, puzzle.ErrPuzzleNotFound
	}
	if err != nil {
		return puzzle.Stats{}, fmt.Errorf("failed to lock puzzle: %w", err)
	}
	if lastAttempted != nil {
		stats.LastAttempted = *lastAttempted
	}
	return stats, nil
}

func lockRecord(ctx context.Context, tx pgx.Tx, userID, puzzleID string) (*puzzle.SolveRecord, error) {
	rec := puzzle.SolveRecord{UserID: userID, PuzzleID: puzzleID}
	err := tx.QueryRow(ctx, `
		SELECT time_seconds, rating, completed_at
		FROM solve_records
		WHERE user_id = $1 AND puzzle_id = $2
		FOR UPDATE
	`, userID, puzzleID).Scan(&rec.Time, &rec.Rating, &rec.CompletedAt)
	if IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock solve record: %w", err)
	}
	return &rec, nil
}
