// Package eventhandler содержит обработчики доменных событий.
// Обработчики - "реактивная" часть системы: они реагируют на изменения
// и запускают побочные эффекты, такие как обновление зеркала лидерборда.
package eventhandler

import (
	"context"
	"fmt"
	"time"

	"github.com/sudokuhub/power-index/internal/domain/leaderboard"
	"github.com/sudokuhub/power-index/internal/domain/shared"
	"github.com/sudokuhub/power-index/pkg/logger"
)

// MirrorWriter - запись в зеркало лидерборда.
type MirrorWriter interface {
	StoreBoard(ctx context.Context, board *leaderboard.Board) error
	Invalidate(ctx context.Context) error
}

// ═══════════════════════════════════════════════════════════════════════════
// ON RANKS RECOMPUTED HANDLER
// После пересчёта рангов перестраивает зеркало целиком из хранилища.
// ═══════════════════════════════════════════════════════════════════════════

// OnRanksRecomputedHandler обновляет зеркало после пересчёта рангов.
type OnRanksRecomputedHandler struct {
	store   leaderboard.EntryStore
	mirror  MirrorWriter
	log     *logger.Logger
	timeout time.Duration
}

// NewOnRanksRecomputedHandler создаёт обработчик.
func NewOnRanksRecomputedHandler(store leaderboard.EntryStore, mirror MirrorWriter, log *logger.Logger) *OnRanksRecomputedHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &OnRanksRecomputedHandler{
		store:   store,
		mirror:  mirror,
		log:     log.With(logger.Component("on_ranks_recomputed")),
		timeout: 30 * time.Second,
	}
}

// Handle реализует shared.EventHandler.
func (h *OnRanksRecomputedHandler) Handle(event shared.Event) error {
	e, ok := event.(shared.RanksRecomputedEvent)
	if !ok {
		h.log.Warn("unexpected event", logger.String("event_type", string(event.EventType())))
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	entries, err := h.store.List(ctx)
	if err != nil {
		return fmt.Errorf("on_ranks_recomputed: list entries: %w", err)
	}

	board := leaderboard.NewBoard(entries, e.OccurredAt())
	if err := h.mirror.StoreBoard(ctx, board); err != nil {
		return fmt.Errorf("on_ranks_recomputed: store mirror: %w", err)
	}

	h.log.Info("mirror rebuilt",
		logger.Int("entries", board.Count()),
		logger.Int("changed", e.Changed),
	)
	return nil
}
