// Package stats holds summary statistics over score and saver-count series.
package stats

import (
	"math"
	"sort"
)

// Mean returns the arithmetic mean, or 0 for an empty series.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// Variance returns the sample variance (n-1 denominator), or 0 for fewer than two values.
func Variance(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := Mean(xs)
	ss := 0.0
	for _, x := range xs {
		d := x - m
		ss += d * d
	}
	return ss / float64(len(xs)-1)
}

// StdDev returns the sample standard deviation.
func StdDev(xs []float64) float64 {
	return math.Sqrt(Variance(xs))
}

// Gini returns the Gini coefficient of non-negative values: 0 is perfect equality,
// (n-1)/n means one holder owns everything. Empty or all-zero input gives 0.
func Gini(xs []float64) float64 {
	n := len(xs)
	if n == 0 {
		return 0
	}
	sorted := make([]float64, n)
	copy(sorted, xs)
	sort.Float64s(sorted)

	total, weighted := 0.0, 0.0
	for i, x := range sorted {
		total += x
		weighted += float64(i+1) * x
	}
	if total == 0 {
		return 0
	}
	return 2*weighted/(float64(n)*total) - float64(n+1)/float64(n)
}

// RollingStd returns the sample standard deviation over each full window; the result
// has len(xs)-window+1 entries (none if the series is shorter than the window).
func RollingStd(xs []float64, window int) []float64 {
	if window < 2 || len(xs) < window {
		return nil
	}
	out := make([]float64, 0, len(xs)-window+1)
	for i := 0; i+window <= len(xs); i++ {
		out = append(out, StdDev(xs[i:i+window]))
	}
	return out
}

// ArgMin returns the index and value of the smallest entry (first on ties).
// It returns -1 for an empty series.
func ArgMin(xs []float64) (int, float64) {
	if len(xs) == 0 {
		return -1, 0
	}
	idx, min := 0, xs[0]
	for i, x := range xs[1:] {
		if x < min {
			idx, min = i+1, x
		}
	}
	return idx, min
}

// IsFlat reports whether every value equals the first.
func IsFlat(xs []float64) bool {
	for _, x := range xs {
		if x != xs[0] {
			return false
		}
	}
	return true
}

// Stationary is a variance-ratio check: the series is split in halves and judged
// stationary when the larger half variance is at most maxRatio times the smaller and
// the half means differ by less than two pooled standard deviations. Flat series
// are stationary.
func Stationary(xs []float64, maxRatio float64) bool {
	if IsFlat(xs) {
		return true
	}
	if len(xs) < 4 {
		return false
	}
	a, b := xs[:len(xs)/2], xs[len(xs)/2:]
	va, vb := Variance(a), Variance(b)
	lo, hi := math.Min(va, vb), math.Max(va, vb)
	if lo == 0 {
		return false
	}
	if hi/lo > maxRatio {
		return false
	}
	return math.Abs(Mean(a)-Mean(b)) < 2*math.Sqrt((va+vb)/2)
}

// StationaryStd applies Stationary to the rolling standard deviation of xs.
func StationaryStd(xs []float64, window int, maxRatio float64) bool {
	rolled := RollingStd(xs, window)
	if len(rolled) == 0 {
		return false
	}
	return Stationary(rolled, maxRatio)
}
