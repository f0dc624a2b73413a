// Package stats reduces a collection of parsed prices into summary
// statistics. Compute is a pure function of the input multiset: the same
// prices in any order produce the same record.
package stats

import (
	"math"
	"sort"

	"adwatch/pkg/models"
)

// Compute summarizes prices into count, min, max, rounded mean and
// interpolated percentiles. An empty input yields a zero-filled record —
// a cold or blocked search is a valid, reportable outcome, not an error.
func Compute(prices []int64) models.PriceStats {
	if len(prices) == 0 {
		return models.PriceStats{}
	}

	sorted := make([]int64, len(prices))
	copy(sorted, prices)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum int64
	for _, p := range sorted {
		sum += p
	}

	n := len(sorted)
	return models.PriceStats{
		Count:  n,
		Min:    sorted[0],
		Max:    sorted[n-1],
		Mean:   int64(math.Round(float64(sum) / float64(n))),
		P25:    percentile(sorted, 0.25),
		Median: percentile(sorted, 0.5),
		P75:    percentile(sorted, 0.75),
	}
}

// percentile estimates the p-th percentile of a sorted slice by linear
// interpolation between the two nearest ranks: for a zero-indexed slice of
// length n the target index is k = (n-1)*p, and the result interpolates
// between floor(k) and ceil(k) weighted by the fractional part.
func percentile(sorted []int64, p float64) int64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}

	k := float64(n-1) * p
	lo := int(math.Floor(k))
	hi := int(math.Ceil(k))
	if lo == hi {
		return sorted[lo]
	}

	frac := k - float64(lo)
	v := float64(sorted[lo]) + frac*float64(sorted[hi]-sorted[lo])
	return int64(math.Round(v))
}
