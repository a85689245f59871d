package scoring

import "github.com/ajharbinger/dilution-monitor/internal/models"

// WeightedScore pairs a sub-score with its configured weight
type WeightedScore struct {
	Name   string
	Score  models.SubScore
	Weight float64
}

// NormalizedWeights drops the weights of unavailable sub-scores and rescales
// the remainder to sum to 1. Unavailable entries get weight 0.
// Returns nil when no available sub-score carries positive weight.
func NormalizedWeights(parts []WeightedScore) []float64 {
	var total float64
	for _, p := range parts {
		if p.Score.Available && p.Weight > 0 {
			total += p.Weight
		}
	}
	if total <= 0 {
		return nil
	}

	out := make([]float64, len(parts))
	for i, p := range parts {
		if p.Score.Available && p.Weight > 0 {
			out[i] = p.Weight / total
		}
	}
	return out
}

// Composite is the weighted mean over available sub-scores.
// The bool is false when the composite is undefined.
func Composite(parts []WeightedScore) (float64, bool) {
	weights := NormalizedWeights(parts)
	if weights == nil {
		return 0, false
	}
	var sum float64
	for i, p := range parts {
		sum += weights[i] * p.Score.Score
	}
	return clampScore(sum), true
}
