package command

import (
	"context"
	"errors"
	"time"

	"github.com/sudokuhub/power-index/internal/domain/leaderboard"
	"github.com/sudokuhub/power-index/internal/domain/puzzle"
	"github.com/sudokuhub/power-index/internal/domain/shared"
	"github.com/sudokuhub/power-index/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD COMPLETION COMMAND
// Stores a finished puzzle, updates the puzzle's baseline statistics and
// refreshes the solver's cached score inline.
// ══════════════════════════════════════════════════════════════════════════════

// RecordCompletionCommand contains a finished puzzle.
type RecordCompletionCommand struct {
	UserID   string
	PuzzleID string

	// TimeSeconds is the elapsed solve time.
	TimeSeconds int

	// Rating is the optional difficulty rating (1-5).
	Rating *int

	// CompletedAt defaults to now when zero.
	CompletedAt time.Time

	// CorrelationID for tracing across services.
	CorrelationID string
}

// RecordCompletionResult contains the outcome of a completion.
type RecordCompletionResult struct {
	Record     puzzle.SolveRecord
	Stats      puzzle.Stats
	FirstSolve bool

	// Standing is the refreshed score, nil when the refresh failed.
	Standing *leaderboard.Standing

	// RefreshErr is set when the completion was stored but the inline
	// refresh did not go through. The next full refresh repairs it.
	RefreshErr error
}

// ScoreRefresher recomputes one user's cached score.
type ScoreRefresher interface {
	RefreshOne(ctx context.Context, userID string) (*leaderboard.Standing, error)
}

// RecordCompletionHandler handles the RecordCompletionCommand.
type RecordCompletionHandler struct {
	repo      puzzle.CompletionRepository
	refresher ScoreRefresher
	publisher shared.EventPublisher
	log       *logger.Logger
	clock     func() time.Time
}

// NewRecordCompletionHandler creates a new RecordCompletionHandler.
func NewRecordCompletionHandler(
	repo puzzle.CompletionRepository,
	refresher ScoreRefresher,
	publisher shared.EventPublisher,
	log *logger.Logger,
) *RecordCompletionHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &RecordCompletionHandler{
		repo:      repo,
		refresher: refresher,
		publisher: publisher,
		log:       log.With(logger.Component("record_completion")),
		clock:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source. Used by tests.
func (h *RecordCompletionHandler) WithClock(clock func() time.Time) *RecordCompletionHandler {
	h.clock = clock
	return h
}

// Handle executes the record completion command.
func (h *RecordCompletionHandler) Handle(ctx context.Context, cmd RecordCompletionCommand) (*RecordCompletionResult, error) {
	completion := puzzle.Completion{
		UserID:      cmd.UserID,
		PuzzleID:    cmd.PuzzleID,
		Time:        cmd.TimeSeconds,
		Rating:      cmd.Rating,
		CompletedAt: cmd.CompletedAt,
	}
	if completion.CompletedAt.IsZero() {
		completion.CompletedAt = h.clock()
	}

	if err := completion.Validate(); err != nil {
		return nil, shared.WrapError("puzzle", "RecordCompletion", shared.ErrValidation, "invalid completion", err)
	}

	outcome, err := h.repo.RecordCompletion(ctx, completion)
	if err != nil {
		if errors.Is(err, puzzle.ErrPuzzleNotFound) || errors.Is(err, leaderboard.ErrUserNotFound) {
			return nil, shared.WrapError("puzzle", "RecordCompletion", shared.ErrNotFound, "unknown user or puzzle", err)
		}
		return nil, shared.WrapError("puzzle", "RecordCompletion", shared.ErrStorage, "store completion", err)
	}

	result := &RecordCompletionResult{
		Record:     outcome.Record,
		Stats:      outcome.Stats,
		FirstSolve: outcome.FirstSolve,
	}

	log := h.log.With(logger.UserID(cmd.UserID), logger.PuzzleID(cmd.PuzzleID))

	// Завершение уже сохранено; ошибка пересчёта его не отменяет.
	standing, err := h.refresher.RefreshOne(ctx, cmd.UserID)
	if err != nil {
		result.RefreshErr = err
		log.Warn("inline refresh failed", logger.Err(err))
	} else {
		result.Standing = standing
	}

	var newScore float64
	if standing != nil {
		newScore = standing.Score
	}
	event := shared.NewPuzzleCompletedEvent(
		cmd.UserID,
		cmd.PuzzleID,
		cmd.TimeSeconds,
		outcome.FirstSolve,
		newScore,
		completion.CompletedAt,
	)
	if cmd.CorrelationID != "" {
		event.Meta = event.Meta.Correlated(cmd.CorrelationID)
	}
	if h.publisher != nil {
		if err := h.publisher.Publish(event); err != nil {
			log.Warn("failed to publish event", logger.Err(err))
		}
	}

	log.Info("completion recorded",
		logger.Int("time_seconds", cmd.TimeSeconds),
		logger.Bool("first_solve", outcome.FirstSolve),
	)

	return result, nil
}
