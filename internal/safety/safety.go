// Package safety holds the product safety score formula.
//
// The recompute engine and the lookup client's preview both call Compute, so a stored score
// and a locally derived one can never disagree for the same ingredients.
package safety

import "math"

// Color is the traffic-light bucket of a score.
type Color string

// Score colors.
const (
	Red    Color = "red"
	Yellow Color = "yellow"
	Green  Color = "green"
)

// Bucket boundaries. A score of exactly YellowMin is yellow and exactly GreenMin is green.
const (
	YellowMin = 50.0
	GreenMin  = 85.0

	// Epsilon is the tolerance used when comparing two scores for equality.
	Epsilon = 1e-9
)

// Valid reports whether c is one of the three known colors.
func (c Color) Valid() bool {
	switch c {
	case Red, Yellow, Green:
		return true
	}
	return false
}

// Score is a computed score and its color.
type Score struct {
	Value float64 `json:"safetyScore"`
	Color Color   `json:"safetyColor"`
}

// Equal compares two scores with Epsilon tolerance.
func (s Score) Equal(o Score) bool {
	return s.Color == o.Color && math.Abs(s.Value-o.Value) <= Epsilon
}

// Risk is anything that carries a risk weight.
type Risk interface {
	EffectiveRisk() float64
}

// TotalRisk sums the effective risk of every entry. Negative weights count as zero.
func TotalRisk[R Risk](items []R) float64 {
	total := 0.0
	for _, it := range items {
		if r := it.EffectiveRisk(); r > 0 {
			total += r
		}
	}
	return total
}

// FromTotalRisk maps a summed risk onto 0..100: 100 − min(100, 20·ln(1+risk)), floored at 0.
// Negative input is treated as zero.
func FromTotalRisk(totalRisk float64) float64 {
	if totalRisk < 0 || math.IsNaN(totalRisk) {
		totalRisk = 0
	}
	penalty := math.Min(100, 20*math.Log1p(totalRisk))
	return math.Max(0, 100-penalty)
}

// ColorFor buckets a score.
func ColorFor(score float64) Color {
	switch {
	case score >= GreenMin:
		return Green
	case score >= YellowMin:
		return Yellow
	default:
		return Red
	}
}

// Compute derives the score and color for a set of risk-bearing items.
func Compute[R Risk](items []R) Score {
	v := FromTotalRisk(TotalRisk(items))
	return Score{Value: v, Color: ColorFor(v)}
}
