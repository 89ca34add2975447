// Package query contains read operations following CQRS pattern.
// Queries never modify state - they only read and return data.
// Each query is a self-contained use case with its own request/response types.
package query

import (
	"context"
	"errors"
	"time"

	"github.com/sudokuhub/power-index/internal/domain/leaderboard"
	"github.com/sudokuhub/power-index/internal/domain/shared"
	"github.com/sudokuhub/power-index/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// BOARD SOURCE
// ══════════════════════════════════════════════════════════════════════════════

// ErrMirrorMiss - в зеркале нет свежего снимка.
var ErrMirrorMiss = errors.New("leaderboard mirror miss")

// BoardMirror - быстрый read-only снимок доски (Redis).
type BoardMirror interface {
	// LoadBoard возвращает снимок или ErrMirrorMiss, если его нет или он устарел.
	LoadBoard(ctx context.Context) (*leaderboard.Board, error)

	// StoreBoard заменяет снимок целиком.
	StoreBoard(ctx context.Context, board *leaderboard.Board) error
}

// Source - откуда был прочитан снимок.
type Source string

const (
	SourceMirror Source = "mirror"
	SourceStore  Source = "store"
)

// boardLoader читает доску из зеркала, при промахе - из хранилища.
type boardLoader struct {
	store  leaderboard.EntryStore
	mirror BoardMirror
	log    *logger.Logger
	clock  func() time.Time
}

func (l *boardLoader) load(ctx context.Context) (*leaderboard.Board, Source, error) {
	if l.mirror != nil {
		board, err := l.mirror.LoadBoard(ctx)
		if err == nil {
			return board, SourceMirror, nil
		}
		if !errors.Is(err, ErrMirrorMiss) {
			l.log.Warn("mirror read failed, falling back to store", logger.Err(err))
		}
	}

	entries, err := l.store.List(ctx)
	if err != nil {
		return nil, "", shared.WrapError("query", "LoadBoard", shared.ErrStorage, "failed to list entries", err)
	}
	board := leaderboard.NewBoard(entries, l.clock())

	if l.mirror != nil {
		if err := l.mirror.StoreBoard(ctx, board); err != nil {
			l.log.Warn("mirror write failed", logger.Err(err))
		}
	}
	return board, SourceStore, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// GET LEADERBOARD QUERY
// Получает страницу лидерборда с поиском, сортировкой и подиумом.
// ══════════════════════════════════════════════════════════════════════════════

// GetLeaderboardQuery содержит параметры запроса лидерборда.
type GetLeaderboardQuery struct {
	// Search - подстрока имени пользователя (без учёта регистра).
	Search string

	// SortBy - rank, username, score или solved (по умолчанию rank).
	SortBy string

	// Order - asc или desc (по умолчанию asc).
	Order string

	// Page - номер страницы, начиная с 1.
	Page int

	// PageSize - размер страницы (по умолчанию 25, максимум 100).
	PageSize int
}

// Options проверяет параметры и преобразует их в ListOptions.
func (q GetLeaderboardQuery) Options() (leaderboard.ListOptions, error) {
	field, err := leaderboard.ParseSortField(q.SortBy)
	if err != nil {
		return leaderboard.ListOptions{}, err
	}

	opts := leaderboard.DefaultListOptions().WithPage(q.Page)
	if q.PageSize != 0 {
		opts = opts.WithPageSize(q.PageSize)
	}
	opts.Search = q.Search
	opts.SortBy = field
	opts.Order = leaderboard.ParseSortOrder(q.Order)
	return opts, nil
}

// EntryDTO - запись лидерборда для ответа.
type EntryDTO struct {
	// Rank - позиция (0 - ещё не ранжирован).
	Rank int `json:"rank"`

	UserID   string `json:"user_id"`
	Username string `json:"username"`

	// SPI - нормализованный счёт 0..100, округлён до двух знаков.
	SPI float64 `json:"spi"`

	// Score - скорректированный рейтинг до нормализации.
	Score float64 `json:"score"`

	// Solved - количество учтённых решений.
	Solved int `json:"solved"`

	UpdatedAt time.Time `json:"updated_at"`
}

func toDTO(board *leaderboard.Board, entries []leaderboard.Entry) []EntryDTO {
	out := make([]EntryDTO, len(entries))
	for i, e := range entries {
		out[i] = EntryDTO{
			Rank:      int(e.Rank),
			UserID:    e.UserID,
			Username:  e.Username,
			SPI:       board.SPI(e),
			Score:     e.Score,
			Solved:    e.Solved,
			UpdatedAt: e.UpdatedAt,
		}
	}
	return out
}

// GetLeaderboardResult содержит результат запроса лидерборда.
type GetLeaderboardResult struct {
	// Entries - записи текущей страницы.
	Entries []EntryDTO `json:"entries"`

	// Top - подиум: лучшие три по рангу независимо от фильтров.
	Top []EntryDTO `json:"top"`

	Total      int  `json:"total"`
	Page       int  `json:"page"`
	PageSize   int  `json:"page_size"`
	TotalPages int  `json:"total_pages"`
	HasNext    bool `json:"has_next"`

	// MaxScore - база нормализации.
	MaxScore float64 `json:"max_score"`

	// Source - mirror или store.
	Source Source `json:"source"`

	// GeneratedAt - время построения снимка.
	GeneratedAt time.Time `json:"generated_at"`
}

// GetLeaderboardHandler обрабатывает запросы на получение лидерборда.
type GetLeaderboardHandler struct {
	loader boardLoader
}

// NewGetLeaderboardHandler создаёт обработчик. mirror может быть nil.
func NewGetLeaderboardHandler(store leaderboard.EntryStore, mirror BoardMirror, log *logger.Logger) *GetLeaderboardHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &GetLeaderboardHandler{
		loader: boardLoader{
			store:  store,
			mirror: mirror,
			log:    log.With(logger.Component("get_leaderboard")),
			clock:  func() time.Time { return time.Now().UTC() },
		},
	}
}

// Handle выполняет запрос на получение лидерборда.
func (h *GetLeaderboardHandler) Handle(ctx context.Context, q GetLeaderboardQuery) (*GetLeaderboardResult, error) {
	opts, err := q.Options()
	if err != nil {
		return nil, shared.WrapError("query", "GetLeaderboard", shared.ErrValidation, err.Error(), err)
	}

	board, source, err := h.loader.load(ctx)
	if err != nil {
		return nil, err
	}

	page := board.Query(opts)

	return &GetLeaderboardResult{
		Entries:     toDTO(board, page.Items),
		Top:         toDTO(board, board.Top(leaderboard.PodiumSize)),
		Total:       page.Total,
		Page:        page.Page,
		PageSize:    page.PageSize,
		TotalPages:  page.TotalPages,
		HasNext:     page.HasNext(),
		MaxScore:    board.MaxScore,
		Source:      source,
		GeneratedAt: board.BuiltAt,
	}, nil
}
