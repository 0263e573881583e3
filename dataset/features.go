package dataset

import (
	"fmt"
	"math"
	"time"
)

// FeatureBuilder derives supervised-learning features from a univariate
// series: target lags, rolling statistics over past windows, and calendar
// fields. All features at index i use only observations before i, so the
// derived matrix introduces no future leakage.
type FeatureBuilder struct {
	Lags     []int
	Windows  []int
	Calendar bool
}

// NewFeatureBuilder returns a builder with the default lag and window set.
func NewFeatureBuilder() *FeatureBuilder {
	return &FeatureBuilder{
		Lags:     []int{1, 7, 14, 30},
		Windows:  []int{7, 14},
		Calendar: true,
	}
}

// Columns returns the derived feature names in build order.
func (b *FeatureBuilder) Columns() []string {
	var cols []string
	for _, lag := range b.Lags {
		cols = append(cols, fmt.Sprintf("lag_%d", lag))
	}
	for _, w := range b.Windows {
		cols = append(cols, fmt.Sprintf("rolling_mean_%d", w), fmt.Sprintf("rolling_std_%d", w))
	}
	if b.Calendar {
		cols = append(cols, "dow", "dom", "month", "is_weekend")
	}
	return cols
}

// MaxLag returns the longest lookback any feature needs.
func (b *FeatureBuilder) MaxLag() int {
	maxLag := 0
	for _, lag := range b.Lags {
		if lag > maxLag {
			maxLag = lag
		}
	}
	for _, w := range b.Windows {
		if w > maxLag {
			maxLag = w
		}
	}
	return maxLag
}

// Row builds the feature row for index i over values[:i] history. The
// values slice may extend past the original series during recursive
// forecasting; ts is the timestamp of index i.
func (b *FeatureBuilder) Row(values []float64, ts time.Time, i int) []float64 {
	row := make([]float64, 0, len(b.Columns()))
	for _, lag := range b.Lags {
		if i-lag >= 0 {
			row = append(row, values[i-lag])
		} else {
			row = append(row, math.NaN())
		}
	}
	for _, w := range b.Windows {
		mean, std := pastWindowStats(values, i, w)
		row = append(row, mean, std)
	}
	if b.Calendar {
		dow := float64(ts.Weekday())
		weekend := 0.0
		if ts.Weekday() == time.Saturday || ts.Weekday() == time.Sunday {
			weekend = 1.0
		}
		row = append(row, dow, float64(ts.Day()), float64(ts.Month()), weekend)
	}
	return row
}

// Matrix builds the full training matrix, skipping the warm-up prefix
// where lags are unavailable. Returns rows, the aligned targets, and the
// source index of each row.
func (b *FeatureBuilder) Matrix(values []float64, timestamps []time.Time) ([][]float64, []float64, []int) {
	start := b.MaxLag()
	if start >= len(values) {
		return nil, nil, nil
	}

	rows := make([][]float64, 0, len(values)-start)
	targets := make([]float64, 0, len(values)-start)
	indices := make([]int, 0, len(values)-start)
	for i := start; i < len(values); i++ {
		rows = append(rows, b.Row(values, timestamps[i], i))
		targets = append(targets, values[i])
		indices = append(indices, i)
	}
	return rows, targets, indices
}

func pastWindowStats(values []float64, i, window int) (mean, std float64) {
	start := i - window
	if start < 0 {
		start = 0
	}
	if start >= i {
		return math.NaN(), math.NaN()
	}

	n := float64(i - start)
	for _, v := range values[start:i] {
		mean += v
	}
	mean /= n

	if i-start < 2 {
		return mean, 0
	}
	for _, v := range values[start:i] {
		d := v - mean
		std += d * d
	}
	std = math.Sqrt(std / (n - 1))
	return mean, std
}
