package analysis

import (
	"math"

	"dcf_valuation/pkg/core/valuation"
)

// Distribution summarises simulated outcomes with a 95% percentile interval
type Distribution struct {
	valuation.Summary
	CI95Lower float64 `json:"ci95_lower"` // 2.5th percentile
	CI95Upper float64 `json:"ci95_upper"` // 97.5th percentile
}

// Describe returns nil for an empty sample
func Describe(values []float64) *Distribution {
	if len(values) == 0 {
		return nil
	}
	sorted := valuation.SortedCopy(values)
	return &Distribution{
		Summary:   valuation.Summarize(sorted),
		CI95Lower: Percentile(sorted, 0.025),
		CI95Upper: Percentile(sorted, 0.975),
	}
}

// Percentile of an ascending, non-empty sample. It interpolates linearly
// between order statistics at rank (n-1)p, the rule numpy and Excel's
// PERCENTILE.INC use, so p=0 and p=1 return the sample extremes.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 1 || p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[n-1]
	}
	rank := float64(n-1) * p
	lo := int(math.Floor(rank))
	if lo >= n-1 {
		return sorted[n-1]
	}
	return sorted[lo] + (rank-float64(lo))*(sorted[lo+1]-sorted[lo])
}
