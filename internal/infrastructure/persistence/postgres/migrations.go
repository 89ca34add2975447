package postgres

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATOR
// ══════════════════════════════════════════════════════════════════════════════

// Migration is one schema step. AppliedAt and IsApplied are filled by Status.
type Migration struct {
	Version   int
	Name      string
	UpSQL     string
	DownSQL   string
	AppliedAt time.Time
	IsApplied bool
}

const (
	versionTable = "schema_migrations"

	// migrateLockKey serializes the API server and the worker when both
	// start with pending migrations.
	migrateLockKey int64 = 0x5350_4901
)

// Migrator applies the embedded migrations in version order.
type Migrator struct {
	conn  *Connection
	steps []Migration
}

func NewMigrator(conn *Connection) *Migrator {
	steps := GetMigrations()
	sort.Slice(steps, func(i, j int) bool { return steps[i].Version < steps[j].Version })
	return &Migrator{conn: conn, steps: steps}
}

func (m *Migrator) prepare(ctx context.Context) (map[int]time.Time, error) {
	_, err := m.conn.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+versionTable+` (
		version    INTEGER PRIMARY KEY,
		name       TEXT NOT NULL,
		applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	)`)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", versionTable, err)
	}

	rows, err := m.conn.Query(ctx, `SELECT version, applied_at FROM `+versionTable)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", versionTable, err)
	}
	defer rows.Close()

	done := make(map[int]time.Time)
	for rows.Next() {
		var (
			v  int
			at time.Time
		)
		if err := rows.Scan(&v, &at); err != nil {
			return nil, fmt.Errorf("scan %s: %w", versionTable, err)
		}
		done[v] = at
	}
	return done, rows.Err()
}

// step runs sql and the bookkeeping statement in one transaction, holding
// the migration advisory lock until commit.
func (m *Migrator) step(ctx context.Context, version int, sql, record string, args ...any) error {
	err := m.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, migrateLockKey); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, sql); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, record, args...)
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: version %d: %v", ErrMigrationFailed, version, err)
	}
	return nil
}

// Migrate applies every pending step and reports how many it applied.
// A failure stops at that step; the earlier ones stay committed.
func (m *Migrator) Migrate(ctx context.Context) (int, error) {
	done, err := m.prepare(ctx)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, s := range m.steps {
		if _, ok := done[s.Version]; ok {
			continue
		}
		if s.UpSQL == "" {
			return applied, fmt.Errorf("%w: version %d has no up SQL", ErrMigrationFailed, s.Version)
		}
		insert := `INSERT INTO ` + versionTable + ` (version, name) VALUES ($1, $2) ON CONFLICT (version) DO NOTHING`
		if err := m.step(ctx, s.Version, s.UpSQL, insert, s.Version, s.Name); err != nil {
			return applied, err
		}
		applied++
	}
	return applied, nil
}

// Rollback reverts the highest applied version. Nothing applied is a no-op.
func (m *Migrator) Rollback(ctx context.Context) error {
	done, err := m.prepare(ctx)
	if err != nil {
		return err
	}

	for i := len(m.steps) - 1; i >= 0; i-- {
		s := m.steps[i]
		if _, ok := done[s.Version]; !ok {
			continue
		}
		if s.DownSQL == "" {
			return fmt.Errorf("%w: version %d has no down SQL", ErrMigrationFailed, s.Version)
		}
		return m.step(ctx, s.Version, s.DownSQL, `DELETE FROM `+versionTable+` WHERE version = $1`, s.Version)
	}
	return nil
}

// Status lists every known step with its applied time, if any.
func (m *Migrator) Status(ctx context.Context) ([]Migration, error) {
	done, err := m.prepare(ctx)
	if err != nil {
		return nil, err
	}

	out := append([]Migration(nil), m.steps...)
	for i := range out {
		out[i].AppliedAt, out[i].IsApplied = done[out[i].Version]
	}
	return out, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// EMBEDDED MIGRATIONS
// ══════════════════════════════════════════════════════════════════════════════

// GetMigrations returns all embedded migrations.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "create_puzzles_and_solves",
			UpSQL:   migration001Up,
			DownSQL: migration001Down,
		},
		{
			Version: 2,
			Name:    "create_leaderboard_entries",
			UpSQL:   migration002Up,
			DownSQL: migration002Down,
		},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: USERS, PUZZLES, SOLVE RECORDS
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    username VARCHAR(100) NOT NULL UNIQUE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

-- Accumulated puzzle stats; avg time = sum_time / solves.
CREATE TABLE IF NOT EXISTS puzzles (
    id TEXT PRIMARY KEY,
    solves INTEGER NOT NULL DEFAULT 0 CHECK (solves >= 0),
    sum_time BIGINT NOT NULL DEFAULT 0,
    sum_ratings INTEGER NOT NULL DEFAULT 0,
    ratings_count INTEGER NOT NULL DEFAULT 0 CHECK (ratings_count >= 0),
    last_attempted TIMESTAMP WITH TIME ZONE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

-- One record per (user, puzzle); re-completion overwrites it.
CREATE TABLE IF NOT EXISTS solve_records (
    user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    puzzle_id TEXT NOT NULL REFERENCES puzzles(id) ON DELETE CASCADE,
    time_seconds INTEGER NOT NULL CHECK (time_seconds >= 0),
    rating SMALLINT CHECK (rating BETWEEN 1 AND 5),
    completed_at TIMESTAMP WITH TIME ZONE NOT NULL,
    PRIMARY KEY (user_id, puzzle_id)
);

CREATE INDEX IF NOT EXISTS idx_solve_records_recent
    ON solve_records(user_id, completed_at DESC)
    WHERE time_seconds > 0;
`

const migration001Down = `
DROP TABLE IF EXISTS solve_records;
DROP TABLE IF EXISTS puzzles;
DROP TABLE IF EXISTS users;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: LEADERBOARD ENTRIES
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
-- Cached score per user; rank 0 means not ranked yet.
CREATE TABLE IF NOT EXISTS leaderboard_entries (
    user_id TEXT PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
    score DOUBLE PRECISION NOT NULL DEFAULT 0 CHECK (score >= 0),
    solved INTEGER NOT NULL DEFAULT 0 CHECK (solved >= 0),
    rank INTEGER NOT NULL DEFAULT 0 CHECK (rank >= 0),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_leaderboard_entries_rank
    ON leaderboard_entries(rank);
`

const migration002Down = `
DROP TABLE IF EXISTS leaderboard_entries;
`
