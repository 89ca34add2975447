package command

import (
	"context"
	"fmt"
	"time"

	"github.com/sudokuhub/power-index/internal/domain/leaderboard"
	"github.com/sudokuhub/power-index/internal/domain/shared"
	"github.com/sudokuhub/power-index/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECOMPUTE RANKS COMMAND
// Assigns distinct consecutive ranks to every cached entry. The store locks
// all entries, the pure assigner runs on the locked snapshot, and every rank
// is written in one bulk operation.
// ══════════════════════════════════════════════════════════════════════════════

// RecomputeResult contains the outcome of a rank recompute.
type RecomputeResult struct {
	// Ranked is the number of entries that received a rank.
	Ranked int

	// Changed is the number of entries whose rank moved.
	Changed int

	// Assignments holds every new rank in rank order.
	Assignments []leaderboard.RankAssignment

	// RecomputedAt is when the ranks were written.
	RecomputedAt time.Time
}

// RankRecomputer runs the rank recompute against an EntryStore.
type RankRecomputer struct {
	store     leaderboard.EntryStore
	assign    leaderboard.RankAssigner
	publisher shared.EventPublisher
	log       *logger.Logger
	clock     func() time.Time
}

// NewRankRecomputer creates a RankRecomputer. publisher may be nil.
func NewRankRecomputer(store leaderboard.EntryStore, publisher shared.EventPublisher, log *logger.Logger) *RankRecomputer {
	if log == nil {
		log = logger.Nop()
	}
	return &RankRecomputer{
		store:     store,
		assign:    leaderboard.AssignRanks,
		publisher: publisher,
		log:       log.With(logger.Component("rank_recomputer")),
		clock:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source. Used by tests.
func (r *RankRecomputer) WithClock(clock func() time.Time) *RankRecomputer {
	r.clock = clock
	return r
}

// Recompute assigns ranks once. Lock and write conflicts are returned
// unchanged (leaderboard.ErrRankLockUnavailable, leaderboard.ErrRankWriteConflict)
// and nothing is written; retrying is up to the caller.
func (r *RankRecomputer) Recompute(ctx context.Context) (*RecomputeResult, error) {
	start := r.clock()

	assignments, err := r.store.UpdateRanks(ctx, r.assign)
	if err != nil {
		if leaderboard.IsRetryableRankError(err) {
			r.log.Warn("rank recompute aborted", logger.Err(err))
			return nil, err
		}
		return nil, fmt.Errorf("recompute_ranks: %w", err)
	}

	result := &RecomputeResult{
		Ranked:       len(assignments),
		Changed:      leaderboard.CountChanged(assignments),
		Assignments:  assignments,
		RecomputedAt: r.clock(),
	}

	r.log.Info("ranks recomputed",
		logger.Int("ranked", result.Ranked),
		logger.Int("changed", result.Changed),
		logger.Latency(result.RecomputedAt.Sub(start)),
	)

	if r.publisher != nil {
		event := shared.NewRanksRecomputedEvent(result.Ranked, result.Changed, result.RecomputedAt)
		if err := r.publisher.Publish(event); err != nil {
			r.log.Warn("failed to publish event", logger.String("event_type", string(event.EventType())), logger.Err(err))
		}
	}

	return result, nil
}
