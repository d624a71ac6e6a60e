package util

import (
	"math"
	"testing"
	"time"
)

func TestNewStatsEmpty(t *testing.T) {
	s := NewStats(nil)
	if s.Count != 0 || s.Max != 0 || s.Mean != 0 {
		t.Errorf("Expected zero stats for empty input, got %+v", s)
	}
}

func TestNewStatsValues(t *testing.T) {
	values := []float64{5, 1, 4, 2, 3}
	s := NewStats(values)

	if s.Count != 5 {
		t.Errorf("Expected count 5, got %d", s.Count)
	}
	if s.Min != 1 || s.Max != 5 {
		t.Errorf("Expected min 1 and max 5, got %v and %v", s.Min, s.Max)
	}
	if s.Mean != 3 {
		t.Errorf("Expected mean 3, got %v", s.Mean)
	}
	if math.Abs(s.StdDeviation-math.Sqrt2) > 1e-9 {
		t.Errorf("Expected std deviation sqrt(2), got %v", s.StdDeviation)
	}
	if s.P50 != 3 {
		t.Errorf("Expected p50 3, got %v", s.P50)
	}

	// input must not be reordered
	if values[0] != 5 || values[4] != 3 {
		t.Errorf("NewStats modified its input: %v", values)
	}
}

func TestPercentileNearestRank(t *testing.T) {
	sorted := make([]float64, 100)
	for i := range sorted {
		sorted[i] = float64(i + 1)
	}

	cases := map[float64]float64{
		0:    1,
		1:    1,
		50:   50,
		90:   90,
		99:   99,
		99.9: 100,
		100:  100,
	}
	for p, want := range cases {
		if got := Percentile(sorted, p); got != want {
			t.Errorf("Percentile(%v) = %v, want %v", p, got, want)
		}
	}

	if got := Percentile(nil, 50); got != 0 {
		t.Errorf("Expected 0 for empty slice, got %v", got)
	}
}

func TestNewDurationStats(t *testing.T) {
	s := NewDurationStats([]time.Duration{time.Microsecond, 3 * time.Microsecond})
	if s.Min != 1000 || s.Max != 3000 || s.Mean != 2000 {
		t.Errorf("Unexpected duration stats: %+v", s)
	}
}
