package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/sudokuhub/power-index/internal/domain/leaderboard"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// DefaultRankLockTimeout bounds how long UpdateRanks waits for row locks.
const DefaultRankLockTimeout = 5 * time.Second

// LeaderboardRepository implements leaderboard.EntryStore for PostgreSQL.
type LeaderboardRepository struct {
	conn        *Connection
	lockTimeout time.Duration
}

var _ leaderboard.EntryStore = (*LeaderboardRepository)(nil)

// NewLeaderboardRepository creates a new LeaderboardRepository.
func NewLeaderboardRepository(conn *Connection, lockTimeout time.Duration) *LeaderboardRepository {
	if lockTimeout <= 0 {
		lockTimeout = DefaultRankLockTimeout
	}
	return &LeaderboardRepository{conn: conn, lockTimeout: lockTimeout}
}

const upsertEntrySQL = `
	INSERT INTO leaderboard_entries (user_id, score, solved, rank, updated_at)
	VALUES ($1, $2, $3, 0, $4)
	ON CONFLICT (user_id) DO UPDATE SET
		score = EXCLUDED.score,
		solved = EXCLUDED.solved,
		updated_at = EXCLUDED.updated_at
`

const selectEntriesSQL = `
	SELECT e.user_id, u.username, e.score, e.solved, e.rank, e.updated_at
	FROM leaderboard_entries e
	JOIN users u ON u.id = e.user_id
`

// ─────────────────────────────────────────────────────────────────────────────
// SCORE WRITES
// ─────────────────────────────────────────────────────────────────────────────

// Upsert writes score, solved and updated_at; an existing rank is kept.
func (r *LeaderboardRepository) Upsert(ctx context.Context, s leaderboard.Standing) error {
	if _, err := r.conn.Exec(ctx, upsertEntrySQL, s.UserID, s.Score, s.Solved, s.UpdatedAt); err != nil {
		return fmt.Errorf("failed to upsert entry: %w", err)
	}
	return nil
}

// UpsertMany writes all standings in one transaction.
func (r *LeaderboardRepository) UpsertMany(ctx context.Context, standings []leaderboard.Standing) error {
	if len(standings) == 0 {
		return nil
	}

	return r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, s := range standings {
			batch.Queue(upsertEntrySQL, s.UserID, s.Score, s.Solved, s.UpdatedAt)
		}

		br := tx.SendBatch(ctx, batch)
		defer br.Close()

		for _, s := range standings {
			if _, err := br.Exec(); err != nil {
				return fmt.Errorf("failed to upsert entry %s: %w", s.UserID, err)
			}
		}
		return nil
	})
}

// ─────────────────────────────────────────────────────────────────────────────
// RANK RECOMPUTE
// ─────────────────────────────────────────────────────────────────────────────

// UpdateRanks locks every entry row, assigns ranks over the locked snapshot
// and writes them back with a single UPDATE.
func (r *LeaderboardRepository) UpdateRanks(ctx context.Context, assign leaderboard.RankAssigner) ([]leaderboard.RankAssignment, error) {
	var assignments []leaderboard.RankAssignment

	err := r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		// SET LOCAL does not accept bind parameters.
		lockSQL := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.lockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, lockSQL); err != nil {
			return fmt.Errorf("failed to set lock timeout: %w", err)
		}

		rows, err := tx.Query(ctx, selectEntriesSQL+` ORDER BY e.user_id FOR UPDATE OF e`)
		if err != nil {
			return err
		}
		snapshot, err := scanEntries(rows)
		if err != nil {
			return err
		}

		assignments = assign(snapshot)
		if len(assignments) == 0 {
			return nil
		}

		ids := make([]string, len(assignments))
		ranks := make([]int32, len(assignments))
		for i, a := range assignments {
			ids[i] = a.UserID
			ranks[i] = int32(a.Rank)
		}

		_, err = tx.Exec(ctx, `
			UPDATE leaderboard_entries AS e
			SET rank = v.rank
			FROM unnest($1::text[], $2::int[]) AS v(user_id, rank)
			WHERE e.user_id = v.user_id
		`, ids, ranks)
		return err
	})
	if err != nil {
		switch {
		case IsLockNotAvailable(err):
			return nil, fmt.Errorf("%w: %v", leaderboard.ErrRankLockUnavailable, err)
		case IsWriteConflict(err):
			return nil, fmt.Errorf("%w: %v", leaderboard.ErrRankWriteConflict, err)
		default:
			return nil, fmt.Errorf("failed to update ranks: %w", err)
		}
	}
	return assignments, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// READS
// ─────────────────────────────────────────────────────────────────────────────

// List returns all entries: ranked first by rank, then unranked by score.
func (r *LeaderboardRepository) List(ctx context.Context) ([]leaderboard.Entry, error) {
	rows, err := r.conn.Query(ctx, selectEntriesSQL+`
		ORDER BY (e.rank = 0), e.rank, e.score DESC, e.user_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	return scanEntries(rows)
}

// Get returns a user's entry or leaderboard.ErrEntryNotFound.
func (r *LeaderboardRepository) Get(ctx context.Context, userID string) (*leaderboard.Entry, error) {
	var (
		e    leaderboard.Entry
		rank int
	)
	err := r.conn.QueryRow(ctx, selectEntriesSQL+` WHERE e.user_id = $1`, userID).
		Scan(&e.UserID, &e.Username, &e.Score, &e.Solved, &rank, &e.UpdatedAt)
	if IsNoRows(err) {
		return nil, leaderboard.ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entry: %w", err)
	}
	e.Rank = leaderboard.Rank(rank)
	return &e, nil
}

func scanEntries(rows pgx.Rows) ([]leaderboard.Entry, error) {
	defer rows.Close()

	var entries []leaderboard.Entry
	for rows.Next() {
		var (
			e    leaderboard.Entry
			rank int
		)
		if err := rows.Scan(&e.UserID, &e.Username, &e.Score, &e.Solved, &rank, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		e.Rank = leaderboard.Rank(rank)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
