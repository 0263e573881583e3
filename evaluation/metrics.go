// Package evaluation computes point-forecast accuracy metrics from paired
// actual/predicted series.
package evaluation

import (
	"errors"
	"math"
)

// Metrics holds the standard accuracy metrics for one validation window.
// MAPE is in percent. Undefined metrics (e.g. MAPE with all-zero actuals)
// are NaN.
type Metrics struct {
	MAPE float64 `json:"mape"`
	RMSE float64 `json:"rmse"`
	MAE  float64 `json:"mae"`
	R2   float64 `json:"r2"`
}

// Evaluate computes metrics over paired actual/predicted values. Pairs where
// either side is NaN are dropped; zero actuals are skipped for MAPE only.
func Evaluate(actual, predicted []float64) (Metrics, error) {
	if len(actual) != len(predicted) {
		return Metrics{}, errors.New("evaluation: actual and predicted lengths differ")
	}

	var (
		n       int
		sse     float64
		absSum  float64
		mapeSum float64
		mapeN   int
		meanSum float64
	)
	for i := range actual {
		if math.IsNaN(actual[i]) || math.IsNaN(predicted[i]) {
			continue
		}
		diff := actual[i] - predicted[i]
		sse += diff * diff
		absSum += math.Abs(diff)
		meanSum += actual[i]
		n++
		if actual[i] != 0 {
			mapeSum += math.Abs(diff / actual[i])
			mapeN++
		}
	}
	if n == 0 {
		return Metrics{}, errors.New("evaluation: no valid actual/predicted pairs")
	}

	m := Metrics{
		RMSE: math.Sqrt(sse / float64(n)),
		MAE:  absSum / float64(n),
		MAPE: math.NaN(),
		R2:   math.NaN(),
	}
	if mapeN > 0 {
		m.MAPE = mapeSum / float64(mapeN) * 100
	}

	mean := meanSum / float64(n)
	var sst float64
	for i := range actual {
		if math.IsNaN(actual[i]) || math.IsNaN(predicted[i]) {
			continue
		}
		d := actual[i] - mean
		sst += d * d
	}
	if sst > 0 {
		m.R2 = 1 - sse/sst
	}
	return m, nil
}

// Mean averages per-fold metrics into a single cross-validated score. NaN
// entries are skipped per metric.
func Mean(folds []Metrics) Metrics {
	avg := func(pick func(Metrics) float64) float64 {
		sum, n := 0.0, 0
		for _, m := range folds {
			v := pick(m)
			if math.IsNaN(v) {
				continue
			}
			sum += v
			n++
		}
		if n == 0 {
			return math.NaN()
		}
		return sum / float64(n)
	}
	return Metrics{
		MAPE: avg(func(m Metrics) float64 { return m.MAPE }),
		RMSE: avg(func(m Metrics) float64 { return m.RMSE }),
		MAE:  avg(func(m Metrics) float64 { return m.MAE }),
		R2:   avg(func(m Metrics) float64 { return m.R2 }),
	}
}
