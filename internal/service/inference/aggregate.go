package inference

import (
	"math"
	"sort"

	"deepguard/internal/models"
)

// Aggregator folds named scores into one probability in [0,1]. Implementations
// must be deterministic for identical input.
type Aggregator interface {
	Combine(scores models.ScoreSet) float64
}

// WeightedMean averages scores by weight. Names missing from Weights weigh 1;
// a zero weight drops the score. Precision < 0 disables rounding.
type WeightedMean struct {
	Weights   map[string]float64
	Precision int
}

// NewWeightedMean copies weights so later edits by the caller have no effect.
func NewWeightedMean(weights map[string]float64, precision int) *WeightedMean {
	copied := make(map[string]float64, len(weights))
	for k, v := range weights {
		copied[k] = v
	}
	return &WeightedMean{Weights: copied, Precision: precision}
}

func (w *WeightedMean) Combine(scores models.ScoreSet) float64 {
	// fixed key order keeps float summation reproducible
	names := make([]string, 0, len(scores))
	for name := range scores {
		names = append(names, name)
	}
	sort.Strings(names)

	var sum, total float64
	for _, name := range names {
		score := scores[name]
		if math.IsNaN(score) {
			continue
		}
		weight := w.weight(name)
		if weight <= 0 || math.IsInf(weight, 0) || math.IsNaN(weight) {
			continue
		}
		sum += clamp(score) * weight
		total += weight
	}
	if total == 0 {
		return 0
	}
	return w.round(clamp(sum / total))
}

func (w *WeightedMean) weight(name string) float64 {
	if v, ok := w.Weights[name]; ok {
		return v
	}
	return 1
}

func (w *WeightedMean) round(v float64) float64 {
	if w.Precision < 0 {
		return v
	}
	scale := math.Pow(10, float64(w.Precision))
	return math.Round(v*scale) / scale
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
