// Package leaderboard содержит доменную модель лидерборда Sudoku Power Index.
// Лидерборд - это снимок: счёт обновляется пересчётом из решений,
// а ранги - отдельной операцией пересчёта рангов.
package leaderboard

import (
	"errors"
	"fmt"
	"time"

	"github.com/sudokuhub/power-index/internal/domain/scoring"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// Rank представляет позицию игрока в лидерборде.
// Rank начинается с 1 (первое место); 0 - ранг ещё не назначен.
type Rank int

// Unranked - запись создана пересчётом счёта, но ранги ещё не пересчитывались.
const Unranked Rank = 0

// IsValid проверяет, что ранг положительный.
func (r Rank) IsValid() bool {
	return r > 0
}

// IsTop возвращает true, если игрок в топ-N.
func (r Rank) IsTop(n int) bool {
	return r >= 1 && int(r) <= n
}

// String возвращает строковое представление ранга.
func (r Rank) String() string {
	if r == Unranked {
		return "-"
	}
	return fmt.Sprintf("#%d", r)
}

// User - участник лидерборда из внешнего реестра пользователей.
type User struct {
	ID       string
	Username string
}

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD ENTRY
// ══════════════════════════════════════════════════════════════════════════════

// Entry - закешированная запись лидерборда. Ровно одна на пользователя.
type Entry struct {
	// UserID - идентификатор пользователя.
	UserID string

	// Username - отображаемое имя (только для чтения, из реестра пользователей).
	Username string

	// Score - скорректированный рейтинг до нормализации.
	Score float64

	// Solved - количество учтённых решений.
	Solved int

	// Rank - позиция на момент последнего пересчёта рангов.
	Rank Rank

	// UpdatedAt - время последнего пересчёта счёта.
	UpdatedAt time.Time
}

// IsRanked возвращает true, если записи назначен ранг.
func (e *Entry) IsRanked() bool {
	return e.Rank.IsValid()
}

// Clone создаёт копию записи.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	clone := *e
	return &clone
}

// String возвращает строковое представление для логирования.
func (e *Entry) String() string {
	return fmt.Sprintf("Entry{User: %s, Score: %.4f, Solved: %d, Rank: %s}",
		e.UserID, e.Score, e.Solved, e.Rank)
}

// Standing - результат пересчёта счёта одного пользователя.
// Записывается в кеш целиком: счёт, количество решений и время.
type Standing struct {
	UserID    string
	Score     float64
	Solved    int
	UpdatedAt time.Time
}

// NewStanding создаёт Standing из рассчитанного рейтинга.
func NewStanding(userID string, rating scoring.Rating, at time.Time) (Standing, error) {
	if userID == "" {
		return Standing{}, ErrInvalidUserID
	}
	if rating.Score < 0 || rating.Solved < 0 {
		return Standing{}, ErrInvalidScore
	}
	return Standing{
		UserID:    userID,
		Score:     rating.Score,
		Solved:    rating.Solved,
		UpdatedAt: at,
	}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// DOMAIN ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrInvalidUserID - пустой ID пользователя.
	ErrInvalidUserID = errors.New("invalid user id: cannot be empty")

	// ErrInvalidScore - отрицательный счёт или количество решений.
	ErrInvalidScore = errors.New("invalid score: must be non-negative")

	// ErrEntryNotFound - записи для пользователя нет.
	ErrEntryNotFound = errors.New("leaderboard entry not found")

	// ErrUserNotFound - пользователя нет в реестре.
	ErrUserNotFound = errors.New("user not found")

	// ErrRankLockUnavailable - хранилище не выдало блокировку записей.
	// Пересчёт рангов целиком не выполнен; вызывающий может повторить.
	ErrRankLockUnavailable = errors.New("leaderboard rank lock unavailable")

	// ErrRankWriteConflict - параллельная запись помешала пересчёту рангов.
	// Ни один ранг не записан; вызывающий может повторить.
	ErrRankWriteConflict = errors.New("leaderboard rank write conflict")

	// ErrInvalidSortField - неизвестное поле сортировки.
	ErrInvalidSortField = errors.New("invalid sort field")
)

// IsRetryableRankError возвращает true для ошибок пересчёта рангов,
// после которых безопасно повторить операцию.
func IsRetryableRankError(err error) bool {
	return errors.Is(err, ErrRankLockUnavailable) || errors.Is(err, ErrRankWriteConflict)
}
