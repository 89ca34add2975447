package scoring

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// DefaultMaxRecent - сколько последних решений учитывается.
const DefaultMaxRecent = 100

// ══════════════════════════════════════════════════════════════════════════════
// POLICY
// ══════════════════════════════════════════════════════════════════════════════

// Policy связывает Scorer и Aggregator и применяет общий контракт:
//  1. учитываются только решения с положительным временем;
//  2. из них не более MaxRecent самых свежих;
//  3. неопределённые и неположительные оценки отбрасываются.
//
// Один и тот же Policy используется и для полного, и для точечного пересчёта.
type Policy struct {
	Scorer     Scorer
	Aggregator Aggregator
	MaxRecent  int
}

// DefaultPolicy возвращает эталонную формулу: SpeedRatio + VolumeWeightedMean.
func DefaultPolicy() Policy {
	return Policy{
		Scorer:     SpeedRatio{},
		Aggregator: VolumeWeightedMean{Lambda: DefaultLambda},
		MaxRecent:  DefaultMaxRecent,
	}
}

// Rating - результат расчёта для одного игрока.
type Rating struct {
	// Score - скорректированный рейтинг (до нормализации).
	Score float64

	// Solved - количество учтённых решений.
	Solved int
}

// Limit возвращает эффективный лимит последних решений.
func (p Policy) Limit() int {
	if p.MaxRecent <= 0 {
		return DefaultMaxRecent
	}
	return p.MaxRecent
}

// Samples применяет фильтрацию и ограничение и возвращает оценки
// от самого свежего решения к самому старому.
func (p Policy) Samples(solves []Solve) []Sample {
	recent := make([]Solve, 0, len(solves))
	for _, s := range solves {
		if s.Time > 0 {
			recent = append(recent, s)
		}
	}

	// Самые свежие первыми; при равном времени сохраняется порядок источника.
	sort.SliceStable(recent, func(i, j int) bool {
		return recent[i].CompletedAt.After(recent[j].CompletedAt)
	})
	if limit := p.Limit(); len(recent) > limit {
		recent = recent[:limit]
	}

	samples := make([]Sample, 0, len(recent))
	for _, s := range recent {
		value, ok := p.Scorer.Score(s)
		if !ok || value <= 0 {
			continue
		}
		samples = append(samples, Sample{Value: value, At: s.CompletedAt})
	}
	return samples
}

// Rate рассчитывает рейтинг игрока. Без учтённых решений - ровно (0.0, 0).
func (p Policy) Rate(solves []Solve, now time.Time) Rating {
	samples := p.Samples(solves)
	if len(samples) == 0 {
		return Rating{}
	}
	return Rating{
		Score:  p.Aggregator.Aggregate(samples, now),
		Solved: len(samples),
	}
}

// String возвращает описание политики для логов.
func (p Policy) String() string {
	return fmt.Sprintf("%s/%s/max=%d", p.Scorer.Name(), p.Aggregator.Name(), p.Limit())
}

// ══════════════════════════════════════════════════════════════════════════════
// REGISTRY
// ══════════════════════════════════════════════════════════════════════════════

// Options - параметры для сборки Policy по именам стратегий.
type Options struct {
	Scorer      string
	Aggregator  string
	MaxRecent   int
	Lambda      float64
	HalfLife    time.Duration
	PriorMean   float64
	PriorWeight float64
}

var (
	// ErrUnknownScorer - неизвестное имя стратегии оценки.
	ErrUnknownScorer = errors.New("unknown scorer")

	// ErrUnknownAggregator - неизвестное имя стратегии агрегации.
	ErrUnknownAggregator = errors.New("unknown aggregator")
)

// NewPolicy собирает Policy по именам. Пустые имена означают стратегии по умолчанию.
func NewPolicy(opts Options) (Policy, error) {
	p := DefaultPolicy()
	if opts.MaxRecent > 0 {
		p.MaxRecent = opts.MaxRecent
	}
	lambda := lambdaOrDefault(opts.Lambda)

	switch opts.Scorer {
	case "", "speed_ratio":
		p.Scorer = SpeedRatio{}
	case "log_speed":
		p.Scorer = LogSpeed{}
	default:
		return Policy{}, fmt.Errorf("%w: %q", ErrUnknownScorer, opts.Scorer)
	}

	switch opts.Aggregator {
	case "", "volume_mean":
		p.Aggregator = VolumeWeightedMean{Lambda: lambda}
	case "volume_geometric":
		p.Aggregator = VolumeWeightedGeometricMean{Lambda: lambda}
	case "recency_geometric":
		p.Aggregator = RecencyWeightedGeometricMean{Lambda: lambda, HalfLife: opts.HalfLife}
	case "bayesian":
		p.Aggregator = BayesianMean{PriorMean: opts.PriorMean, PriorWeight: opts.PriorWeight}
	case "sum":
		p.Aggregator = Sum{}
	case "mean":
		p.Aggregator = Mean{}
	default:
		return Policy{}, fmt.Errorf("%w: %q", ErrUnknownAggregator, opts.Aggregator)
	}

	return p, nil
}
