package leaderboard

import (
	"math"
	"sort"

	"github.com/sudokuhub/power-index/internal/domain/scoring"
)

// MaxNormalizedScore - значение SPI лучшего игрока.
const MaxNormalizedScore = 100.0

// ══════════════════════════════════════════════════════════════════════════════
// RANKING AGGREGATOR
// ══════════════════════════════════════════════════════════════════════════════

// UserRating - рассчитанный рейтинг одного пользователя.
type UserRating struct {
	UserID string
	Rating scoring.Rating
}

// Ranked - позиция пользователя в построенном лидерборде.
type Ranked struct {
	UserID          string
	AdjustedScore   float64
	NormalizedScore float64
	Solved          int
	Rank            Rank
}

// Normalize переводит рейтинг в шкалу 0..100 относительно максимума.
// При max <= 0 возвращает 0.
func Normalize(score, max float64) float64 {
	if max <= 0 {
		return 0
	}
	return MaxNormalizedScore * score / max
}

// RoundScore округляет SPI до двух знаков для отображения.
func RoundScore(v float64) float64 {
	return math.Round(v*100) / 100
}

// MaxScore возвращает максимальный рейтинг (0, если рейтингов нет).
func MaxScore(ratings []UserRating) float64 {
	var max float64
	for _, r := range ratings {
		if r.Rating.Score > max {
			max = r.Rating.Score
		}
	}
	return max
}

// BuildLeaderboard нормализует рейтинги и упорядочивает их.
// Сортировка по убыванию SPI, при равенстве - по UserID по возрастанию.
// Ранг - позиция в этом порядке: 1..N без пропусков и без общих мест.
func BuildLeaderboard(ratings []UserRating) []Ranked {
	max := MaxScore(ratings)

	out := make([]Ranked, len(ratings))
	for i, r := range ratings {
		out[i] = Ranked{
			UserID:          r.UserID,
			AdjustedScore:   r.Rating.Score,
			NormalizedScore: Normalize(r.Rating.Score, max),
			Solved:          r.Rating.Solved,
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return ranksBefore(out[i].NormalizedScore, out[i].UserID, out[j].NormalizedScore, out[j].UserID)
	})
	for i := range out {
		out[i].Rank = Rank(i + 1)
	}
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// RANK ASSIGNMENT
// ══════════════════════════════════════════════════════════════════════════════

// RankAssignment - новый ранг одной записи.
type RankAssignment struct {
	UserID       string
	PreviousRank Rank
	Rank         Rank
}

// Changed возвращает true, если ранг изменился.
func (a RankAssignment) Changed() bool {
	return a.PreviousRank != a.Rank
}

// RankAssigner вычисляет ранги по снимку записей.
// Хранилище вызывает его под блокировкой и записывает результат одной операцией.
type RankAssigner func(snapshot []Entry) []RankAssignment

// AssignRanks - чистая функция: снимок записей -> ранги.
// Порядок тот же, что у BuildLeaderboard: по убыванию счёта, затем по UserID.
// Нормализация монотонна, поэтому сортировка по сырому счёту даёт тот же порядок.
func AssignRanks(snapshot []Entry) []RankAssignment {
	ordered := make([]Entry, len(snapshot))
	copy(ordered, snapshot)
	sort.Slice(ordered, func(i, j int) bool {
		return ranksBefore(ordered[i].Score, ordered[i].UserID, ordered[j].Score, ordered[j].UserID)
	})

	out := make([]RankAssignment, len(ordered))
	for i, e := range ordered {
		out[i] = RankAssignment{
			UserID:       e.UserID,
			PreviousRank: e.Rank,
			Rank:         Rank(i + 1),
		}
	}
	return out
}

// CountChanged возвращает количество записей, чей ранг изменился.
func CountChanged(assignments []RankAssignment) int {
	var n int
	for _, a := range assignments {
		if a.Changed() {
			n++
		}
	}
	return n
}

func ranksBefore(scoreA float64, idA string, scoreB float64, idB string) bool {
	if scoreA != scoreB {
		return scoreA > scoreB
	}
	return idA < idB
}
