package scoring

import (
	"math"

	"github.com/okian/calmmind/internal/domain/model"
)

// RawScore applies bias + Σ weight·value and squashes it through the
// logistic function. Keys missing from weights contribute nothing.
func RawScore(v FeatureVector, cfg model.ScoringConfig) float64 {
	z := cfg.Bias
	for _, f := range v {
		z += cfg.Weights[f.Key] * f.Value
	}
	return 1 / (1 + math.Exp(-z))
}

// Score is RawScore rounded to two decimals.
func Score(v FeatureVector, cfg model.ScoringConfig) float64 {
	return Round2(RawScore(v, cfg))
}

// Round2 rounds x to two decimal places.
func Round2(x float64) float64 {
	return math.Round(x*100) / 100
}
