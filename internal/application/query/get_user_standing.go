package query

import (
	"context"
	"time"

	"github.com/sudokuhub/power-index/internal/domain/leaderboard"
	"github.com/sudokuhub/power-index/internal/domain/shared"
	"github.com/sudokuhub/power-index/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET USER STANDING QUERY
// Позиция пользователя на доске и его соседи по рангу.
// ══════════════════════════════════════════════════════════════════════════════

// DefaultNeighborRange - сколько соседей выше и ниже показывать.
const DefaultNeighborRange = 2

// GetUserStandingQuery содержит параметры запроса.
type GetUserStandingQuery struct {
	UserID string

	// NeighborRange - соседей выше и ниже (0 = по умолчанию).
	NeighborRange int
}

// GetUserStandingResult содержит позицию пользователя.
type GetUserStandingResult struct {
	Entry     EntryDTO   `json:"entry"`
	Neighbors []EntryDTO `json:"neighbors"`

	// Total - всего записей на доске.
	Total int `json:"total"`

	// Percentile - доля игроков ниже по рангу, 0..100.
	Percentile float64 `json:"percentile"`

	Source Source `json:"source"`
}

// GetUserStandingHandler обрабатывает запрос позиции пользователя.
type GetUserStandingHandler struct {
	loader boardLoader
}

// NewGetUserStandingHandler создаёт обработчик. mirror может быть nil.
func NewGetUserStandingHandler(store leaderboard.EntryStore, mirror BoardMirror, log *logger.Logger) *GetUserStandingHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &GetUserStandingHandler{
		loader: boardLoader{
			store:  store,
			mirror: mirror,
			log:    log.With(logger.Component("get_user_standing")),
			clock:  func() time.Time { return time.Now().UTC() },
		},
	}
}

// Handle выполняет запрос.
func (h *GetUserStandingHandler) Handle(ctx context.Context, q GetUserStandingQuery) (*GetUserStandingResult, error) {
	if q.UserID == "" {
		return nil, shared.WrapError("query", "GetUserStanding", shared.ErrValidation, "user id is required", leaderboard.ErrInvalidUserID)
	}
	if q.NeighborRange <= 0 {
		q.NeighborRange = DefaultNeighborRange
	}

	board, source, err := h.loader.load(ctx)
	if err != nil {
		return nil, err
	}

	entry := board.Get(q.UserID)
	if entry == nil {
		return nil, shared.WrapError("query", "GetUserStanding", shared.ErrNotFound, "no leaderboard entry", leaderboard.ErrEntryNotFound)
	}

	result := &GetUserStandingResult{
		Entry:     toDTO(board, []leaderboard.Entry{*entry})[0],
		Neighbors: toDTO(board, board.Neighbors(q.UserID, q.NeighborRange)),
		Total:     board.Count(),
		Source:    source,
	}
	if entry.IsRanked() && result.Total > 0 {
		below := result.Total - int(entry.Rank)
		result.Percentile = leaderboard.RoundScore(100 * float64(below) / float64(result.Total))
	}
	return result, nil
}
