package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/sudokuhub/power-index/internal/application/query"
	"github.com/sudokuhub/power-index/internal/domain/leaderboard"
	"github.com/sudokuhub/power-index/pkg/circuitbreaker"
	"github.com/sudokuhub/power-index/pkg/logger"
)

// Mirror is the Redis board mirror as seen by readers and event handlers.
type Mirror interface {
	LoadBoard(ctx context.Context) (*leaderboard.Board, error)
	StoreBoard(ctx context.Context, board *leaderboard.Board) error
	Invalidate(ctx context.Context) error
}

// GuardedMirror puts a circuit breaker in front of a Mirror. While the
// breaker is open reads report a miss and writes are dropped, so readers go
// straight to the entry store.
type GuardedMirror struct {
	mirror  Mirror
	breaker *circuitbreaker.CircuitBreaker
}

// NewGuardedMirror wraps mirror. A miss does not count as a failure.
func NewGuardedMirror(mirror Mirror, log *logger.Logger) *GuardedMirror {
	if log == nil {
		log = logger.Nop()
	}
	log = log.With(logger.Component("mirror_breaker"))

	breaker := circuitbreaker.CacheBreaker(
		"redis-mirror",
		func(err error) bool { return !errors.Is(err, query.ErrMirrorMiss) },
		func(name string, from, to circuitbreaker.State) {
			log.Warn("circuit breaker state changed",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
		},
	)
	return &GuardedMirror{mirror: mirror, breaker: breaker}
}

// LoadBoard reads the mirrored board.
func (g *GuardedMirror) LoadBoard(ctx context.Context) (*leaderboard.Board, error) {
	var board *leaderboard.Board
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		board, err = g.mirror.LoadBoard(ctx)
		return err
	})
	if circuitbreaker.IsRejected(err) {
		return nil, fmt.Errorf("%w: %v", query.ErrMirrorMiss, err)
	}
	return board, err
}

// StoreBoard writes the board unless the breaker is open.
func (g *GuardedMirror) StoreBoard(ctx context.Context, board *leaderboard.Board) error {
	return g.guard(ctx, func(ctx context.Context) error {
		return g.mirror.StoreBoard(ctx, board)
	})
}

// Invalidate drops the mirrored board unless the breaker is open.
func (g *GuardedMirror) Invalidate(ctx context.Context) error {
	return g.guard(ctx, g.mirror.Invalidate)
}

// Breaker exposes the breaker state for health reporting.
func (g *GuardedMirror) Breaker() *circuitbreaker.CircuitBreaker {
	return g.breaker
}

func (g *GuardedMirror) guard(ctx context.Context, fn func(context.Context) error) error {
	err := g.breaker.Execute(ctx, fn)
	if circuitbreaker.IsRejected(err) {
		return nil
	}
	return err
}
