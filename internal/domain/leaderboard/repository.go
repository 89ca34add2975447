package leaderboard

import (
	"context"
	"math"
	"strings"

	"github.com/sudokuhub/power-index/internal/domain/scoring"
)

// ══════════════════════════════════════════════════════════════════════════════
// INPUT PORTS
// ══════════════════════════════════════════════════════════════════════════════

// SolveSource - чтение решений пользователя для расчёта рейтинга.
// Реализация находится в infrastructure слое (PostgreSQL, in-memory).
type SolveSource interface {
	// RecentSolves возвращает до limit решений с положительным временем,
	// от самого свежего, с текущей базой головоломки.
	RecentSolves(ctx context.Context, userID string, limit int) ([]scoring.Solve, error)
}

// Roster - реестр всех известных пользователей.
type Roster interface {
	// ListUsers возвращает всех пользователей.
	ListUsers(ctx context.Context) ([]User, error)

	// GetUser возвращает пользователя по ID или ErrUserNotFound.
	GetUser(ctx context.Context, userID string) (*User, error)
}

// ══════════════════════════════════════════════════════════════════════════════
// ENTRY STORE
// ══════════════════════════════════════════════════════════════════════════════

// EntryStore - хранилище закешированных записей лидерборда.
// Только Refresher пишет счёт и только пересчёт рангов пишет ранги.
type EntryStore interface {
	// Upsert создаёт или полностью перезаписывает счёт пользователя.
	// Ранг существующей записи сохраняется до следующего пересчёта рангов.
	Upsert(ctx context.Context, standing Standing) error

	// UpsertMany записывает несколько Standing одной транзакцией.
	UpsertMany(ctx context.Context, standings []Standing) error

	// UpdateRanks блокирует все записи, вызывает assign на снимке
	// и записывает все ранги одной операцией. При невозможности получить
	// блокировку возвращает ErrRankLockUnavailable и ничего не пишет.
	UpdateRanks(ctx context.Context, assign RankAssigner) ([]RankAssignment, error)

	// List возвращает все записи в порядке ранга.
	List(ctx context.Context) ([]Entry, error)

	// Get возвращает запись пользователя или ErrEntryNotFound.
	Get(ctx context.Context, userID string) (*Entry, error)
}

// ══════════════════════════════════════════════════════════════════════════════
// QUERY OPTIONS
// ══════════════════════════════════════════════════════════════════════════════

// SortField - поле сортировки для отображения.
type SortField string

const (
	SortByRank     SortField = "rank"
	SortByUsername SortField = "username"
	SortByScore    SortField = "score"
	SortBySolved   SortField = "solved"
)

// ParseSortField разбирает поле сортировки; пустая строка - по рангу.
func ParseSortField(s string) (SortField, error) {
	switch f := SortField(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return SortByRank, nil
	case SortByRank, SortByUsername, SortByScore, SortBySolved:
		return f, nil
	default:
		return "", ErrInvalidSortField
	}
}

// SortOrder - направление сортировки.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// ParseSortOrder разбирает направление; всё, кроме "desc", считается "asc".
func ParseSortOrder(s string) SortOrder {
	if strings.EqualFold(strings.TrimSpace(s), string(SortDesc)) {
		return SortDesc
	}
	return SortAsc
}

const (
	// DefaultPageSize - размер страницы лидерборда.
	DefaultPageSize = 25

	// MaxPageSize - максимальный размер страницы.
	MaxPageSize = 100

	// PodiumSize - сколько лучших игроков показывается отдельно.
	PodiumSize = 3
)

// ListOptions содержит опции запроса к лидерборду для отображения.
type ListOptions struct {
	// Search - подстрока имени пользователя (без учёта регистра).
	Search string

	// SortBy - поле сортировки.
	SortBy SortField

	// Order - направление сортировки.
	Order SortOrder

	// Page - номер страницы (начиная с 1).
	Page int

	// PageSize - размер страницы.
	PageSize int
}

// DefaultListOptions возвращает опции по умолчанию.
func DefaultListOptions() ListOptions {
	return ListOptions{
		SortBy:   SortByRank,
		Order:    SortAsc,
		Page:     1,
		PageSize: DefaultPageSize,
	}
}

// WithPage устанавливает номер страницы.
func (o ListOptions) WithPage(page int) ListOptions {
	if page < 1 {
		page = 1
	}
	o.Page = page
	return o
}

// WithPageSize устанавливает размер страницы.
func (o ListOptions) WithPageSize(size int) ListOptions {
	if size < 1 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	o.PageSize = size
	return o
}

// Offset возвращает смещение первой записи страницы.
// При переполнении возвращает math.MaxInt: такая страница всегда пуста.
func (o ListOptions) Offset() int {
	if o.Page <= 1 || o.PageSize <= 0 {
		return 0
	}
	if o.Page-1 > math.MaxInt/o.PageSize {
		return math.MaxInt
	}
	return (o.Page - 1) * o.PageSize
}

// Limit возвращает размер страницы.
func (o ListOptions) Limit() int {
	return o.PageSize
}
