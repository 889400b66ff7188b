// Package stats summarizes duration samples into the distribution figures reported by
// every metrics endpoint.
package stats

import (
	"math"
	"sort"

	"github.com/kurihiro0119/workmetrics/internal/domain"
)

// Summarize computes count, mean, median, p75, p90, min and max of samples.
// It returns nil for an empty sample set. samples is not modified.
func Summarize(name string, samples []float64) *domain.StageStats {
	if len(samples) == 0 {
		return nil
	}
	sorted := sortedCopy(samples)
	return &domain.StageStats{
		Name:   name,
		Count:  len(sorted),
		Mean:   Mean(sorted),
		Median: medianSorted(sorted),
		P75:    percentileSorted(sorted, 0.75),
		P90:    percentileSorted(sorted, 0.90),
		Min:    sorted[0],
		Max:    sorted[len(sorted)-1],
	}
}

// Mean returns the arithmetic mean of samples, 0 when empty
func Mean(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s
	}
	return sum / float64(len(samples))
}

// Median returns the middle value of samples; for an even count it is the mean of the
// two middle values. 0 when empty.
func Median(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	return medianSorted(sortedCopy(samples))
}

// Round rounds v to the given number of decimal places
func Round(v float64, places int) float64 {
	pow := math.Pow(10, float64(places))
	return math.Round(v*pow) / pow
}

func sortedCopy(samples []float64) []float64 {
	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)
	return sorted
}

func medianSorted(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// percentileSorted returns the nearest-rank percentile of sorted for p in [0, 1]: the
// element at floor(n*p), clamped to the last one
func percentileSorted(sorted []float64, p float64) float64 {
	idx := int(math.Floor(float64(len(sorted)) * p))
	if idx < 0 {
		idx = 0
	}
	if idx > len(sorted)-1 {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
