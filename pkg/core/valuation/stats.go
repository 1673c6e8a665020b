package valuation

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Summary describes a sample of valuation outputs
type Summary struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	Std    float64 `json:"std"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// Summarize returns count, mean, median, sample std, min and max of values.
// Std is 0 for fewer than two observations.
func Summarize(values []float64) Summary {
	if len(values) == 0 {
		return Summary{}
	}
	sorted := SortedCopy(values)
	s := Summary{
		Count:  len(sorted),
		Mean:   stat.Mean(sorted, nil),
		Median: Median(sorted),
		Min:    sorted[0],
		Max:    sorted[len(sorted)-1],
	}
	if len(sorted) > 1 {
		s.Std = stat.StdDev(sorted, nil)
	}
	return s
}

// Median of an ascending slice, averaging the middle pair for even lengths
func Median(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// SortedCopy returns an ascending copy of values
func SortedCopy(values []float64) []float64 {
	out := cloneSeries(values)
	sort.Float64s(out)
	return out
}

// FilterOutliers drops values more than k sample standard deviations from the
// mean. Nothing is dropped when the sample is too small or has zero spread.
func FilterOutliers(values []float64, k float64) []float64 {
	if len(values) < 2 {
		return values
	}
	mean, std := stat.MeanStdDev(values, nil)
	if std == 0 || math.IsNaN(std) {
		return values
	}
	kept := make([]float64, 0, len(values))
	for _, v := range values {
		if math.Abs(v-mean) <= k*std {
			kept = append(kept, v)
		}
	}
	return kept
}
