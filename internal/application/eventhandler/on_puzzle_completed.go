package eventhandler

import (
	"context"
	"fmt"
	"time"

	"github.com/sudokuhub/power-index/internal/domain/shared"
	"github.com/sudokuhub/power-index/pkg/logger"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON PUZZLE COMPLETED HANDLER
// Счёт игрока изменился - снимок в зеркале больше не актуален.
// ═══════════════════════════════════════════════════════════════════════════

// OnPuzzleCompletedHandler сбрасывает зеркало после завершения головоломки.
type OnPuzzleCompletedHandler struct {
	mirror  MirrorWriter
	log     *logger.Logger
	timeout time.Duration
}

// NewOnPuzzleCompletedHandler создаёт обработчик.
func NewOnPuzzleCompletedHandler(mirror MirrorWriter, log *logger.Logger) *OnPuzzleCompletedHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &OnPuzzleCompletedHandler{
		mirror:  mirror,
		log:     log.With(logger.Component("on_puzzle_completed")),
		timeout: 5 * time.Second,
	}
}

// Handle реализует shared.EventHandler.
func (h *OnPuzzleCompletedHandler) Handle(event shared.Event) error {
	e, ok := event.(shared.PuzzleCompletedEvent)
	if !ok {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	if err := h.mirror.Invalidate(ctx); err != nil {
		return fmt.Errorf("on_puzzle_completed: invalidate mirror: %w", err)
	}

	h.log.Debug("mirror invalidated", logger.UserID(e.UserID), logger.PuzzleID(e.PuzzleID))
	return nil
}
