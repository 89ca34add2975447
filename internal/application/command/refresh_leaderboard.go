// Package command contains write operations (CQRS - Commands).
// Commands are responsible for changing the state of the system:
// recording completions, refreshing cached scores and recomputing ranks.
package command

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/sudokuhub/power-index/internal/domain/leaderboard"
	"github.com/sudokuhub/power-index/internal/domain/scoring"
	"github.com/sudokuhub/power-index/internal/domain/shared"
	"github.com/sudokuhub/power-index/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// REFRESH LEADERBOARD COMMAND
// Recomputes cached scores from solve history. The full refresh touches every
// known user; the inline refresh touches one. Both go through the same Policy.
// ══════════════════════════════════════════════════════════════════════════════

// RefresherConfig bounds the full refresh.
type RefresherConfig struct {
	// Workers is the number of users computed concurrently (1 = sequential).
	Workers int

	// PerUserTimeout caps one user's computation. Zero disables the cap.
	PerUserTimeout time.Duration
}

// DefaultRefresherConfig returns sequential refresh with a 10s per-user cap.
func DefaultRefresherConfig() RefresherConfig {
	return RefresherConfig{
		Workers:        1,
		PerUserTimeout: 10 * time.Second,
	}
}

// RefreshReport summarizes one full refresh run.
type RefreshReport struct {
	// RunID identifies the run in logs and events.
	RunID string

	// Users is the number of users in the roster.
	Users int

	// Refreshed is the number of users whose standing was written.
	Refreshed int

	// Failures maps user ID to the error that skipped the user.
	Failures map[string]error

	StartedAt  time.Time
	FinishedAt time.Time
}

// Failed returns the number of skipped users.
func (r *RefreshReport) Failed() int {
	return len(r.Failures)
}

// Duration returns how long the run took.
func (r *RefreshReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Refresher recomputes leaderboard entry scores.
type Refresher struct {
	roster    leaderboard.Roster
	solves    leaderboard.SolveSource
	store     leaderboard.EntryStore
	policy    scoring.Policy
	publisher shared.EventPublisher
	log       *logger.Logger
	clock     func() time.Time

	workers        int64
	perUserTimeout time.Duration
}

// NewRefresher creates a Refresher. publisher may be nil.
func NewRefresher(
	roster leaderboard.Roster,
	solves leaderboard.SolveSource,
	store leaderboard.EntryStore,
	policy scoring.Policy,
	publisher shared.EventPublisher,
	log *logger.Logger,
	config RefresherConfig,
) *Refresher {
	if config.Workers < 1 {
		config.Workers = 1
	}
	if log == nil {
		log = logger.Nop()
	}

	return &Refresher{
		roster:         roster,
		solves:         solves,
		store:          store,
		policy:         policy,
		publisher:      publisher,
		log:            log.With(logger.Component("refresher")),
		clock:          func() time.Time { return time.Now().UTC() },
		workers:        int64(config.Workers),
		perUserTimeout: config.PerUserTimeout,
	}
}

// WithClock replaces the time source. Used by tests.
func (r *Refresher) WithClock(clock func() time.Time) *Refresher {
	r.clock = clock
	return r
}

// Policy returns the scoring policy in use.
func (r *Refresher) Policy() scoring.Policy {
	return r.policy
}

// RefreshAll recomputes every known user's score and writes all successful
// standings in one store call. A failing user is logged, recorded in the
// report and skipped. Running it twice on unchanged data writes the same values.
func (r *Refresher) RefreshAll(ctx context.Context) (*RefreshReport, error) {
	report := &RefreshReport{
		RunID:     uuid.NewString(),
		Failures:  make(map[string]error),
		StartedAt: r.clock(),
	}
	log := r.log.With(logger.RunID(report.RunID), logger.Operation("refresh_all"))

	users, err := r.roster.ListUsers(ctx)
	if err != nil {
		return nil, shared.WrapError("leaderboard", "RefreshAll", shared.ErrStorage, "list users", err)
	}
	report.Users = len(users)

	// Один момент времени на весь прогон.
	now := report.StartedAt

	var (
		mu        sync.Mutex
		wg        sync.WaitGroup
		standings = make([]leaderboard.Standing, 0, len(users))
		sem       = semaphore.NewWeighted(r.workers)
	)

	for _, u := range users {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}

		wg.Add(1)
		go func(userID string) {
			defer wg.Done()
			defer sem.Release(1)

			standing, err := r.compute(ctx, userID, now)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failures[userID] = err
				log.Warn("user refresh failed, skipping", logger.UserID(userID), logger.Err(err))
				return
			}
			standings = append(standings, standing)
		}(u.ID)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		report.FinishedAt = r.clock()
		return report, fmt.Errorf("refresh_all: %w", err)
	}

	sort.Slice(standings, func(i, j int) bool {
		return standings[i].UserID < standings[j].UserID
	})

	if len(standings) > 0 {
		if err := r.store.UpsertMany(ctx, standings); err != nil {
			report.FinishedAt = r.clock()
			return report, shared.WrapError("leaderboard", "RefreshAll", shared.ErrStorage, "write standings", err)
		}
	}
	report.Refreshed = len(standings)
	report.FinishedAt = r.clock()

	log.Info("leaderboard refreshed",
		logger.Int("users", report.Users),
		logger.Int("refreshed", report.Refreshed),
		logger.Int("failed", report.Failed()),
		logger.Latency(report.Duration()),
		logger.String("policy", r.policy.String()),
	)

	r.publish(shared.NewLeaderboardRefreshedEvent(report.RunID, report.Refreshed, report.Failed(), report.FinishedAt))

	return report, nil
}

// RefreshOne recomputes a single user's score with the same policy as
// RefreshAll and writes it with one upsert.
func (r *Refresher) RefreshOne(ctx context.Context, userID string) (*leaderboard.Standing, error) {
	if userID == "" {
		return nil, leaderboard.ErrInvalidUserID
	}
	if _, err := r.roster.GetUser(ctx, userID); err != nil {
		return nil, fmt.Errorf("refresh_one: %w", err)
	}

	standing, err := r.compute(ctx, userID, r.clock())
	if err != nil {
		return nil, fmt.Errorf("refresh_one: %w", err)
	}

	if err := r.store.Upsert(ctx, standing); err != nil {
		return nil, shared.WrapError("leaderboard", "RefreshOne", shared.ErrStorage, "write standing", err)
	}

	r.log.Debug("user refreshed",
		logger.UserID(userID),
		logger.Score(standing.Score),
		logger.Solved(standing.Solved),
	)

	return &standing, nil
}

// Preview builds the normalized leaderboard straight from solve history,
// without reading or writing the entry store. Users whose solves cannot be
// loaded are logged and left out.
func (r *Refresher) Preview(ctx context.Context) ([]leaderboard.Ranked, error) {
	users, err := r.roster.ListUsers(ctx)
	if err != nil {
		return nil, shared.WrapError("leaderboard", "Preview", shared.ErrStorage, "list users", err)
	}

	now := r.clock()
	ratings := make([]leaderboard.UserRating, 0, len(users))
	for _, u := range users {
		rating, err := r.rate(ctx, u.ID, now)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("preview: %w", ctxErr)
			}
			r.log.Warn("user preview failed, skipping", logger.UserID(u.ID), logger.Err(err))
			continue
		}
		ratings = append(ratings, leaderboard.UserRating{UserID: u.ID, Rating: rating})
	}
	return leaderboard.BuildLeaderboard(ratings), nil
}

// compute rates the user and wraps the result as a standing.
func (r *Refresher) compute(ctx context.Context, userID string, now time.Time) (leaderboard.Standing, error) {
	rating, err := r.rate(ctx, userID, now)
	if err != nil {
		return leaderboard.Standing{}, err
	}
	return leaderboard.NewStanding(userID, rating, now)
}

// rate loads the user's recent solves and applies the policy.
func (r *Refresher) rate(ctx context.Context, userID string, now time.Time) (scoring.Rating, error) {
	if r.perUserTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.perUserTimeout)
		defer cancel()
	}

	solves, err := r.solves.RecentSolves(ctx, userID, r.policy.Limit())
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return scoring.Rating{}, shared.WrapError("leaderboard", "rate", shared.ErrTimeout, "load solves", err)
		}
		return scoring.Rating{}, shared.WrapError("leaderboard", "rate", shared.ErrStorage, "load solves", err)
	}

	rating := r.policy.Rate(solves, now)
	if err := ctx.Err(); err != nil {
		return scoring.Rating{}, shared.WrapError("leaderboard", "rate", shared.ErrTimeout, "score user", err)
	}
	return rating, nil
}

func (r *Refresher) publish(event shared.Event) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.Publish(event); err != nil {
		r.log.Warn("failed to publish event",
			logger.String("event_type", string(event.EventType())),
			logger.Err(err),
		)
	}
}
