package util

import (
	"math"
	"sort"
	"time"
)

// ----------------------------------------------------------------------------
// Summary statistics
// ----------------------------------------------------------------------------

// Stats summarizes a set of observations
type Stats struct {
	Count        int     `json:"count"`
	StdDeviation float64 `json:"std_deviation"`
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	Mean         float64 `json:"mean"`
	P50          float64 `json:"p50"`
	P90          float64 `json:"p90"`
	P99          float64 `json:"p99"`
	P999         float64 `json:"p999"`
}

// NewStats computes count, standard deviation, minimum, maximum, mean and
// nearest-rank percentiles from an array of float64 values.
// The input slice is not modified.
func NewStats(values []float64) Stats {
	if len(values) == 0 {
		return Stats{}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	mean := sum / float64(len(sorted))

	// population standard deviation
	var sumSquaredDiffs float64
	for _, v := range sorted {
		diff := v - mean
		sumSquaredDiffs += diff * diff
	}
	stdDev := math.Sqrt(sumSquaredDiffs / float64(len(sorted)))

	return Stats{
		Count:        len(sorted),
		StdDeviation: stdDev,
		Min:          sorted[0],
		Max:          sorted[len(sorted)-1],
		Mean:         mean,
		P50:          Percentile(sorted, 50),
		P90:          Percentile(sorted, 90),
		P99:          Percentile(sorted, 99),
		P999:         Percentile(sorted, 99.9),
	}
}

// NewDurationStats is NewStats for durations, values are in nanoseconds
func NewDurationStats(durations []time.Duration) Stats {
	values := make([]float64, len(durations))
	for i, d := range durations {
		values[i] = float64(d.Nanoseconds())
	}
	return NewStats(values)
}

// Percentile returns the nearest-rank percentile (0-100) of an ascending
// sorted slice. Returns 0 for an empty slice.
func Percentile(sorted []float64, percentile float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if percentile <= 0 {
		return sorted[0]
	}
	if percentile >= 100 {
		return sorted[len(sorted)-1]
	}

	rank := int(math.Ceil(percentile / 100.0 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}
