// Package dataset provides the immutable dataset handle the training and
// forecasting layers read through, plus CSV loading and automated time
// series feature engineering.
package dataset

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// Ref is an immutable handle to a time-indexed table. Timestamps are
// strictly increasing at a single inferred frequency; gap handling is the
// ingestion layer's responsibility, not this package's.
type Ref struct {
	ID         string
	Name       string
	Timestamps []time.Time
	Target     []float64
	Features   map[string][]float64
	Frequency  time.Duration
}

// New builds a dataset handle from parsed columns. Timestamps must be
// strictly increasing and aligned with the target.
func New(id, name string, timestamps []time.Time, target []float64, features map[string][]float64) (*Ref, error) {
	if len(timestamps) != len(target) {
		return nil, errors.New("dataset: timestamp and target columns must have the same length")
	}
	if len(timestamps) < 2 {
		return nil, errors.New("dataset: need at least 2 observations")
	}
	for i := 1; i < len(timestamps); i++ {
		if !timestamps[i].After(timestamps[i-1]) {
			return nil, fmt.Errorf("dataset: timestamps not strictly increasing at index %d", i)
		}
	}
	for col, vals := range features {
		if len(vals) != len(target) {
			return nil, fmt.Errorf("dataset: feature column %q has %d values, want %d", col, len(vals), len(target))
		}
	}

	return &Ref{
		ID:         id,
		Name:       name,
		Timestamps: timestamps,
		Target:     target,
		Features:   features,
		Frequency:  inferFrequency(timestamps),
	}, nil
}

// Len returns the number of observations.
func (r *Ref) Len() int {
	return len(r.Target)
}

// LastTimestamp returns the last observed timestamp.
func (r *Ref) LastTimestamp() time.Time {
	return r.Timestamps[len(r.Timestamps)-1]
}

// FeatureColumns returns the feature column names in sorted order.
func (r *Ref) FeatureColumns() []string {
	cols := make([]string, 0, len(r.Features))
	for col := range r.Features {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols
}

// Slice returns target values in [start, end).
func (r *Ref) Slice(start, end int) []float64 {
	out := make([]float64, end-start)
	copy(out, r.Target[start:end])
	return out
}

// inferFrequency returns the most common gap between successive timestamps.
func inferFrequency(timestamps []time.Time) time.Duration {
	counts := make(map[time.Duration]int)
	for i := 1; i < len(timestamps); i++ {
		counts[timestamps[i].Sub(timestamps[i-1])]++
	}

	var freq time.Duration
	best := 0
	for gap, n := range counts {
		if n > best || (n == best && gap < freq) {
			freq = gap
			best = n
		}
	}
	return freq
}
