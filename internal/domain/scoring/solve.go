// Package scoring содержит расчёт Sudoku Power Index (SPI).
//
// Расчёт разделён на две стратегии:
//   - Scorer оценивает одну решённую головоломку относительно среднего времени;
//   - Aggregator сворачивает список оценок игрока в одно число.
//
// Policy связывает их и гарантирует общий контракт фильтрации:
// неположительные и неопределённые оценки отбрасываются, учитываются
// только последние MaxRecent решений.
package scoring

import (
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// Baseline - нормировочная база головоломки: среднее время решения.
// Пока головоломку никто не решил, база не определена.
type Baseline struct {
	averageTime float64
	defined     bool
}

// NoBaseline - база головоломки без единого решения.
var NoBaseline = Baseline{}

// NewBaseline создаёт определённую базу из среднего времени в секундах.
func NewBaseline(averageTime float64) Baseline {
	return Baseline{averageTime: averageTime, defined: true}
}

// AverageTime возвращает среднее время и признак того, что база определена.
func (b Baseline) AverageTime() (float64, bool) {
	return b.averageTime, b.defined
}

// IsDefined возвращает true, если у головоломки есть хотя бы одно решение.
func (b Baseline) IsDefined() bool {
	return b.defined
}

// Solve - одно решение головоломки игроком вместе с текущей базой головоломки.
type Solve struct {
	// PuzzleID - идентификатор головоломки.
	PuzzleID string

	// Time - затраченное время в секундах.
	Time float64

	// CompletedAt - момент последнего завершения.
	CompletedAt time.Time

	// Baseline - среднее время головоломки на момент чтения.
	Baseline Baseline
}

// Sample - одна оценка решения с моментом завершения.
// Момент нужен стратегиям, учитывающим давность решения.
type Sample struct {
	Value float64
	At    time.Time
}

// Values возвращает только значения оценок.
func Values(samples []Sample) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s.Value
	}
	return out
}
