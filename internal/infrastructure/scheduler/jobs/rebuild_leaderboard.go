// Package jobs contains the scheduled jobs of the worker process.
package jobs

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sudokuhub/power-index/internal/application/command"
	"github.com/sudokuhub/power-index/internal/domain/leaderboard"
	"github.com/sudokuhub/power-index/pkg/logger"
	"github.com/sudokuhub/power-index/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// REBUILD LEADERBOARD JOB
// ══════════════════════════════════════════════════════════════════════════════

// JobName is the registered name of the rebuild job.
const JobName = "rebuild_leaderboard"

// LockResource is the distributed lock guarding concurrent rebuilds.
const LockResource = "job:" + JobName

// Refresher recomputes every user's cached score.
type Refresher interface {
	RefreshAll(ctx context.Context) (*command.RefreshReport, error)
}

// Recomputer assigns ranks over the cached scores.
type Recomputer interface {
	Recompute(ctx context.Context) (*command.RecomputeResult, error)
}

// Locker is a distributed mutex (Redis SET NX).
type Locker interface {
	AcquireLock(ctx context.Context, resource string, ttl time.Duration) (string, bool, error)
	ReleaseLock(ctx context.Context, resource, token string) error
}

// RebuildLeaderboardConfig contains configuration for the rebuild job.
type RebuildLeaderboardConfig struct {
	// LockTTL is how long the rebuild lock is held at most.
	LockTTL time.Duration

	// RankRetryAttempts is how many times the rank recompute is tried
	// when the store reports a lock or write conflict.
	RankRetryAttempts int

	// RankRetryDelay is the initial backoff between rank attempts.
	RankRetryDelay time.Duration
}

// DefaultRebuildLeaderboardConfig returns sensible defaults.
func DefaultRebuildLeaderboardConfig() RebuildLeaderboardConfig {
	return RebuildLeaderboardConfig{
		LockTTL:           5 * time.Minute,
		RankRetryAttempts: 3,
		RankRetryDelay:    500 * time.Millisecond,
	}
}

// RebuildStats contains statistics from a rebuild run.
type RebuildStats struct {
	RunID        string
	StartedAt    time.Time
	CompletedAt  time.Time
	Duration     time.Duration
	Skipped      bool
	Users        int
	Refreshed    int
	Failed       int
	Ranked       int
	RankChanges  int
	RankAttempts int
	Err          error
}

// RebuildLeaderboardJob refreshes every score and then recomputes ranks.
type RebuildLeaderboardJob struct {
	refresher  Refresher
	recomputer Recomputer
	locker     Locker
	log        *logger.Logger
	config     RebuildLeaderboardConfig
	clock      func() time.Time

	lastStats atomic.Pointer[RebuildStats]
}

// NewRebuildLeaderboardJob creates the job. locker may be nil for single-node
// deployments.
func NewRebuildLeaderboardJob(
	refresher Refresher,
	recomputer Recomputer,
	locker Locker,
	log *logger.Logger,
	config RebuildLeaderboardConfig,
) *RebuildLeaderboardJob {
	if log == nil {
		log = logger.Nop()
	}
	if config.RankRetryAttempts < 1 {
		config.RankRetryAttempts = 1
	}
	if config.LockTTL <= 0 {
		config.LockTTL = DefaultRebuildLeaderboardConfig().LockTTL
	}

	return &RebuildLeaderboardJob{
		refresher:  refresher,
		recomputer: recomputer,
		locker:     locker,
		log:        log.With(logger.Component("job." + JobName)),
		config:     config,
		clock:      func() time.Time { return time.Now().UTC() },
	}
}

// Name returns the job name.
func (j *RebuildLeaderboardJob) Name() string {
	return JobName
}

// Description returns a human-readable description.
func (j *RebuildLeaderboardJob) Description() string {
	return "Refreshes every user's Power Index and recomputes leaderboard ranks"
}

// Run implements scheduler.Job.
func (j *RebuildLeaderboardJob) Run(ctx context.Context) error {
	_, err := j.Rebuild(ctx)
	return err
}

// Rebuild executes one rebuild and returns its own stats, never nil, even
// when it fails. Another holder of the rebuild lock makes the run a no-op
// with Skipped set.
func (j *RebuildLeaderboardJob) Rebuild(ctx context.Context) (*RebuildStats, error) {
	stats := &RebuildStats{StartedAt: j.clock()}
	defer func() {
		stats.CompletedAt = j.clock()
		stats.Duration = stats.CompletedAt.Sub(stats.StartedAt)
		j.lastStats.Store(stats)
	}()

	if j.locker != nil {
		token, ok, err := j.locker.AcquireLock(ctx, LockResource, j.config.LockTTL)
		if err != nil {
			stats.Err = fmt.Errorf("acquire rebuild lock: %w", err)
			return stats, stats.Err
		}
		if !ok {
			stats.Skipped = true
			j.log.Info("rebuild already running elsewhere, skipping")
			return stats, nil
		}
		defer func() {
			// The job context may be done by now.
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := j.locker.ReleaseLock(releaseCtx, LockResource, token); err != nil {
				j.log.Warn("failed to release rebuild lock", logger.Err(err))
			}
		}()
	}

	report, err := j.refresher.RefreshAll(ctx)
	if err != nil {
		stats.Err = fmt.Errorf("refresh scores: %w", err)
		return stats, stats.Err
	}
	stats.RunID = report.RunID
	stats.Users = report.Users
	stats.Refreshed = report.Refreshed
	stats.Failed = report.Failed()

	retrier := retry.LockRetrier(j.config.RankRetryAttempts, j.config.RankRetryDelay, leaderboard.IsRetryableRankError).
		OnRetry(func(attempt int, err error, wait time.Duration) {
			j.log.Warn("rank recompute deferred",
				logger.RunID(stats.RunID),
				logger.Int("attempt", attempt),
				logger.Duration("wait", wait),
				logger.Err(err),
			)
		})

	var result *command.RecomputeResult
	err = retrier.Do(ctx, func(ctx context.Context) error {
		stats.RankAttempts++
		var err error
		result, err = j.recomputer.Recompute(ctx)
		return err
	})
	if err != nil {
		stats.Err = fmt.Errorf("recompute ranks after %d attempt(s): %w", stats.RankAttempts, err)
		return stats, stats.Err
	}
	stats.Ranked = result.Ranked
	stats.RankChanges = result.Changed

	j.log.Info("leaderboard rebuilt",
		logger.RunID(stats.RunID),
		logger.Int("users", stats.Users),
		logger.Int("refreshed", stats.Refreshed),
		logger.Int("failed", stats.Failed),
		logger.Int("ranked", stats.Ranked),
		logger.Int("rank_changes", stats.RankChanges),
		logger.Int("rank_attempts", stats.RankAttempts),
	)
	return stats, nil
}

// LastRebuildStats returns statistics from the last run, or nil.
func (j *RebuildLeaderboardJob) LastRebuildStats() *RebuildStats {
	return j.lastStats.Load()
}
