// Package puzzle содержит статистику головоломок и решения игроков.
// Статистика - источник базы нормализации для расчёта SPI.
package puzzle

import (
	"errors"
	"fmt"
	"time"

	"github.com/sudokuhub/power-index/internal/domain/scoring"
)

const (
	// MinRating - минимальная оценка головоломки.
	MinRating = 1

	// MaxRating - максимальная оценка головоломки.
	MaxRating = 5
)

// ══════════════════════════════════════════════════════════════════════════════
// STATS
// ══════════════════════════════════════════════════════════════════════════════

// Stats - накопительная статистика головоломки.
type Stats struct {
	PuzzleID      string
	Solves        int
	SumTime       int64
	SumRatings    int
	RatingsCount  int
	LastAttempted time.Time
}

// AverageTime возвращает среднее время решения. До первого решения не определено.
func (s Stats) AverageTime() (float64, bool) {
	if s.Solves <= 0 {
		return 0, false
	}
	return float64(s.SumTime) / float64(s.Solves), true
}

// AverageRating возвращает среднюю оценку. Без оценок не определена.
func (s Stats) AverageRating() (float64, bool) {
	if s.RatingsCount <= 0 {
		return 0, false
	}
	return float64(s.SumRatings) / float64(s.RatingsCount), true
}

// Baseline возвращает базу нормализации для расчёта SPI.
func (s Stats) Baseline() scoring.Baseline {
	avg, ok := s.AverageTime()
	if !ok || avg <= 0 {
		return scoring.NoBaseline
	}
	return scoring.NewBaseline(avg)
}

// ══════════════════════════════════════════════════════════════════════════════
// SOLVE RECORD
// ══════════════════════════════════════════════════════════════════════════════

// SolveRecord - единственная запись о решении головоломки пользователем.
// Повторное решение перезаписывает время, оценку и дату.
type SolveRecord struct {
	UserID      string
	PuzzleID    string
	Time        int
	Rating      *int
	CompletedAt time.Time
}

// Completion - факт завершения головоломки.
type Completion struct {
	UserID      string
	PuzzleID    string
	Time        int
	Rating      *int
	CompletedAt time.Time
}

// Validate проверяет входные данные завершения.
func (c Completion) Validate() error {
	if c.UserID == "" {
		return ErrInvalidUserID
	}
	if c.PuzzleID == "" {
		return ErrInvalidPuzzleID
	}
	if c.Time < 0 {
		return ErrInvalidTime
	}
	if c.Rating != nil && (*c.Rating < MinRating || *c.Rating > MaxRating) {
		return fmt.Errorf("%w: %d", ErrInvalidRating, *c.Rating)
	}
	if c.CompletedAt.IsZero() {
		return ErrMissingTimestamp
	}
	return nil
}

// ApplyCompletion применяет завершение к статистике.
// previous == nil означает первое решение пользователя.
//
// Первое решение: solves+1, sum_time+t, оценка добавляется.
// Повторное: sum_time корректируется на разницу времени, оценка
// добавляется, заменяется или снимается.
func ApplyCompletion(stats Stats, previous *SolveRecord, c Completion) (Stats, SolveRecord, error) {
	if err := c.Validate(); err != nil {
		return stats, SolveRecord{}, err
	}
	if previous != nil && (previous.UserID != c.UserID || previous.PuzzleID != c.PuzzleID) {
		return stats, SolveRecord{}, ErrRecordMismatch
	}

	next := stats
	if previous == nil {
		next.Solves++
		next.SumTime += int64(c.Time)
		if c.Rating != nil {
			next.SumRatings += *c.Rating
			next.RatingsCount++
		}
	} else {
		next.SumTime += int64(c.Time - previous.Time)
		switch {
		case c.Rating != nil && previous.Rating != nil:
			next.SumRatings += *c.Rating - *previous.Rating
		case c.Rating != nil:
			next.SumRatings += *c.Rating
			next.RatingsCount++
		case previous.Rating != nil:
			next.SumRatings -= *previous.Rating
			next.RatingsCount--
		}
	}
	next.LastAttempted = c.CompletedAt

	record := SolveRecord{
		UserID:      c.UserID,
		PuzzleID:    c.PuzzleID,
		Time:        c.Time,
		Rating:      copyRating(c.Rating),
		CompletedAt: c.CompletedAt,
	}
	return next, record, nil
}

func copyRating(r *int) *int {
	if r == nil {
		return nil
	}
	v := *r
	return &v
}

// ══════════════════════════════════════════════════════════════════════════════
// DOMAIN ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrInvalidUserID - пустой ID пользователя.
	ErrInvalidUserID = errors.New("invalid user id: cannot be empty")

	// ErrInvalidPuzzleID - пустой ID головоломки.
	ErrInvalidPuzzleID = errors.New("invalid puzzle id: cannot be empty")

	// ErrInvalidTime - отрицательное время решения.
	ErrInvalidTime = errors.New("invalid time: must be non-negative")

	// ErrInvalidRating - оценка вне диапазона 1..5.
	ErrInvalidRating = errors.New("invalid rating: must be between 1 and 5")

	// ErrMissingTimestamp - не указан момент завершения.
	ErrMissingTimestamp = errors.New("completion timestamp is required")

	// ErrRecordMismatch - предыдущая запись относится к другой паре.
	ErrRecordMismatch = errors.New("previous solve record does not match completion")

	// ErrPuzzleNotFound - головоломка не найдена.
	ErrPuzzleNotFound = errors.New("puzzle not found")
)
