package scoring

import (
	"math"
	"time"
)

// DefaultLambda - скорость роста весового коэффициента объёма.
const DefaultLambda = 0.2

// Aggregator сворачивает оценки игрока в рейтинг.
// now передаётся явно: стратегии не читают часы сами.
type Aggregator interface {
	// Name возвращает имя стратегии для конфигурации и логов.
	Name() string

	// Aggregate возвращает рейтинг. Для пустого списка - 0.
	Aggregate(samples []Sample, now time.Time) float64
}

// VolumeWeight возвращает 1 - e^(-lambda*n).
// Стремится к 1 при росте числа решений и к 0 при малом объёме.
func VolumeWeight(n int, lambda float64) float64 {
	return 1.0 - math.Exp(-lambda*float64(n))
}

func lambdaOrDefault(l float64) float64 {
	if l <= 0 {
		return DefaultLambda
	}
	return l
}

// ══════════════════════════════════════════════════════════════════════════════
// VOLUME-WEIGHTED MEAN (по умолчанию)
// ══════════════════════════════════════════════════════════════════════════════

// VolumeWeightedMean: mean(scores) * VolumeWeight(count).
type VolumeWeightedMean struct {
	Lambda float64
}

// Name implements Aggregator.
func (VolumeWeightedMean) Name() string { return "volume_mean" }

// Aggregate implements Aggregator.
func (a VolumeWeightedMean) Aggregate(samples []Sample, _ time.Time) float64 {
	if len(samples) == 0 {
		return 0
	}
	return arithmeticMean(samples) * VolumeWeight(len(samples), lambdaOrDefault(a.Lambda))
}

// ══════════════════════════════════════════════════════════════════════════════
// VOLUME-WEIGHTED GEOMETRIC MEAN
// ══════════════════════════════════════════════════════════════════════════════

// VolumeWeightedGeometricMean: exp(mean(ln score)) * VolumeWeight(count).
// Менее чувствителен к единичным выбросам, чем арифметическое среднее.
type VolumeWeightedGeometricMean struct {
	Lambda float64
}

// Name implements Aggregator.
func (VolumeWeightedGeometricMean) Name() string { return "volume_geometric" }

// Aggregate implements Aggregator.
func (a VolumeWeightedGeometricMean) Aggregate(samples []Sample, _ time.Time) float64 {
	if len(samples) == 0 {
		return 0
	}
	var logSum float64
	for _, s := range samples {
		logSum += math.Log(s.Value)
	}
	mean := math.Exp(logSum / float64(len(samples)))
	return mean * VolumeWeight(len(samples), lambdaOrDefault(a.Lambda))
}

// ══════════════════════════════════════════════════════════════════════════════
// RECENCY-WEIGHTED GEOMETRIC MEAN
// ══════════════════════════════════════════════════════════════════════════════

// DefaultHalfLife - период полураспада веса решения.
const DefaultHalfLife = 30 * 24 * time.Hour

// RecencyWeightedGeometricMean - геометрическое среднее, где вес решения
// экспоненциально убывает с давностью: w = 0.5^(age/HalfLife).
// Решения "из будущего" относительно now получают вес 1.
type RecencyWeightedGeometricMean struct {
	Lambda   float64
	HalfLife time.Duration
}

// Name implements Aggregator.
func (RecencyWeightedGeometricMean) Name() string { return "recency_geometric" }

// Aggregate implements Aggregator.
func (a RecencyWeightedGeometricMean) Aggregate(samples []Sample, now time.Time) float64 {
	if len(samples) == 0 {
		return 0
	}
	halfLife := a.HalfLife
	if halfLife <= 0 {
		halfLife = DefaultHalfLife
	}

	var weightedLogs, weights float64
	for _, s := range samples {
		age := now.Sub(s.At)
		if age < 0 {
			age = 0
		}
		w := math.Pow(0.5, float64(age)/float64(halfLife))
		weightedLogs += w * math.Log(s.Value)
		weights += w
	}
	if weights == 0 {
		return 0
	}
	return math.Exp(weightedLogs/weights) * VolumeWeight(len(samples), lambdaOrDefault(a.Lambda))
}

// ══════════════════════════════════════════════════════════════════════════════
// BAYESIAN MEAN
// ══════════════════════════════════════════════════════════════════════════════

// BayesianMean сглаживает среднее к априорному значению:
// (PriorWeight*PriorMean + Σscores) / (PriorWeight + count).
// Малое число решений тянет рейтинг к PriorMean.
type BayesianMean struct {
	PriorMean   float64
	PriorWeight float64
}

// Name implements Aggregator.
func (BayesianMean) Name() string { return "bayesian" }

// Aggregate implements Aggregator.
func (a BayesianMean) Aggregate(samples []Sample, _ time.Time) float64 {
	if len(samples) == 0 {
		return 0
	}
	weight := math.Max(a.PriorWeight, 0)
	return (weight*a.PriorMean + sum(samples)) / (weight + float64(len(samples)))
}

// ══════════════════════════════════════════════════════════════════════════════
// SUM / MEAN
// ══════════════════════════════════════════════════════════════════════════════

// Sum - сумма оценок. Поощряет объём без ограничения.
type Sum struct{}

// Name implements Aggregator.
func (Sum) Name() string { return "sum" }

// Aggregate implements Aggregator.
func (Sum) Aggregate(samples []Sample, _ time.Time) float64 {
	return sum(samples)
}

// Mean - арифметическое среднее без поправки на объём.
type Mean struct{}

// Name implements Aggregator.
func (Mean) Name() string { return "mean" }

// Aggregate implements Aggregator.
func (Mean) Aggregate(samples []Sample, _ time.Time) float64 {
	if len(samples) == 0 {
		return 0
	}
	return arithmeticMean(samples)
}

func sum(samples []Sample) float64 {
	var total float64
	for _, s := range samples {
		total += s.Value
	}
	return total
}

func arithmeticMean(samples []Sample) float64 {
	return sum(samples) / float64(len(samples))
}
