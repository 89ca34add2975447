package scoring

import (
	"math"
)

// Epsilon - нижняя граница времени перед делением.
const Epsilon = 1e-8

// Scorer оценивает одно решение. false означает, что решение не участвует
// в расчёте (нет базы или неположительное время) - это не ошибка.
type Scorer interface {
	// Name возвращает имя стратегии для конфигурации и логов.
	Name() string

	// Score возвращает оценку решения.
	Score(s Solve) (float64, bool)
}

// operands проверяет предусловия и возвращает (avg, user) с нижней границей Epsilon.
func operands(s Solve) (float64, float64, bool) {
	avg, ok := s.Baseline.AverageTime()
	if !ok || avg <= 0 || s.Time <= 0 {
		return 0, 0, false
	}
	return math.Max(avg, Epsilon), math.Max(s.Time, Epsilon), true
}

// ══════════════════════════════════════════════════════════════════════════════
// SPEED RATIO (по умолчанию)
// ══════════════════════════════════════════════════════════════════════════════

// SpeedRatio: avg * (avg / user) = avg² / user.
// Решение ровно за среднее время даёт avg, быстрее - сверхлинейный бонус.
type SpeedRatio struct{}

// Name implements Scorer.
func (SpeedRatio) Name() string { return "speed_ratio" }

// Score implements Scorer.
func (SpeedRatio) Score(s Solve) (float64, bool) {
	avg, user, ok := operands(s)
	if !ok {
		return 0, false
	}
	return avg * (avg / user), true
}

// ══════════════════════════════════════════════════════════════════════════════
// LOG SPEED
// ══════════════════════════════════════════════════════════════════════════════

// LogSpeed сглаживает бонус за скорость логарифмом:
// avg * log2(1 + avg/user). Решение за среднее время по-прежнему даёт avg.
type LogSpeed struct{}

// Name implements Scorer.
func (LogSpeed) Name() string { return "log_speed" }

// Score implements Scorer.
func (LogSpeed) Score(s Solve) (float64, bool) {
	avg, user, ok := operands(s)
	if !ok {
		return 0, false
	}
	return avg * math.Log1p(avg/user) / math.Ln2, true
}
