package algorithms

import (
	"encoding/json"
	"fmt"
	"math"

	"automl-forecast-engine/split"
)

// DecompositionAdapter fits a classical seasonal decomposition: a centered
// moving-average trend, a per-phase seasonal pattern, and a residual
// component whose spread drives the native uncertainty of the forecast.
type DecompositionAdapter struct{}

type decompositionState struct {
	Mode     string    `json:"mode"` // "additive" or "multiplicative"
	Period   int       `json:"period"`
	Level    float64   `json:"level"`
	Slope    float64   `json:"slope"`
	Seasonal []float64 `json:"seasonal"` // one factor per phase
	Phase    int       `json:"phase"`    // phase of the first forecast step
	ResidStd float64   `json:"resid_std"`
}

func (a *DecompositionAdapter) Name() string { return Decomposition }

func (a *DecompositionAdapter) Space() SearchSpace {
	return SearchSpace{
		{Name: "seasonality_mode", Type: CategoricalDim, Choices: []string{"additive", "multiplicative"}},
		{Name: "trend_smoothing", Type: ContinuousDim, Min: 0.01, Max: 0.9, Log: true},
		{Name: "seasonal_smoothing", Type: ContinuousDim, Min: 0.01, Max: 0.9, Log: true},
	}
}

func (a *DecompositionAdapter) Fit(train TrainingData, params Params) (*FittedState, error) {
	period := seasonalPeriod(train.Frequency)
	n := len(train.Values)
	if n < 2*period {
		return nil, &FitError{
			Algorithm: a.Name(),
			Reason:    fmt.Sprintf("%d observations, seasonal period %d needs at least %d", n, period, 2*period),
			Err:       split.ErrInsufficientData,
		}
	}

	mode := params.String("seasonality_mode", "additive")
	alpha := params.Float("trend_smoothing", 0.3)
	gamma := params.Float("seasonal_smoothing", 0.1)
	y := train.Values

	trend := centeredMovingAverage(y, period)

	// Detrend, then average each phase of the cycle into the seasonal pattern.
	pattern := make([]float64, period)
	counts := make([]int, period)
	for i := range y {
		if math.IsNaN(trend[i]) {
			continue
		}
		var detr float64
		if mode == "multiplicative" {
			if trend[i] == 0 {
				continue
			}
			detr = y[i] / trend[i]
		} else {
			detr = y[i] - trend[i]
		}
		pattern[i%period] += detr
		counts[i%period]++
	}
	for i := range pattern {
		if counts[i] > 0 {
			pattern[i] /= float64(counts[i])
		} else if mode == "multiplicative" {
			pattern[i] = 1
		}
	}
	normalizePattern(pattern, mode)

	// Blend the average pattern with the most recent full cycle that still
	// has trend coverage; gamma controls how much the latest cycle dominates.
	lastValid := -1
	for i := n - 1; i >= 0; i-- {
		if !math.IsNaN(trend[i]) {
			lastValid = i
			break
		}
	}
	if lastValid >= period-1 {
		for idx := lastValid - period + 1; idx <= lastValid; idx++ {
			if math.IsNaN(trend[idx]) {
				continue
			}
			var latest float64
			if mode == "multiplicative" {
				if trend[idx] == 0 {
					continue
				}
				latest = y[idx] / trend[idx]
			} else {
				latest = y[idx] - trend[idx]
			}
			phase := idx % period
			pattern[phase] = (1-gamma)*pattern[phase] + gamma*latest
		}
	}

	// Level and slope from the trend tail, exponentially weighted by alpha.
	// The moving average leaves a NaN tail, so project the level forward to
	// the last observation before forecasting from it.
	level, slope, lastIdx := trendTail(trend, alpha)
	level += slope * float64(n-1-lastIdx)

	// Residual spread on the original scale.
	var resid []float64
	for i := range y {
		if math.IsNaN(trend[i]) {
			continue
		}
		var fitted float64
		if mode == "multiplicative" {
			fitted = trend[i] * pattern[i%period]
		} else {
			fitted = trend[i] + pattern[i%period]
		}
		resid = append(resid, y[i]-fitted)
	}
	residStd := stddev(resid)
	if math.IsNaN(residStd) || math.IsInf(residStd, 0) {
		return nil, &FitError{Algorithm: a.Name(), Reason: "residual variance did not converge"}
	}

	payload, err := json.Marshal(decompositionState{
		Mode:     mode,
		Period:   period,
		Level:    level,
		Slope:    slope,
		Seasonal: pattern,
		Phase:    n % period,
		ResidStd: residStd,
	})
	if err != nil {
		return nil, &FitError{Algorithm: a.Name(), Reason: "encoding state", Err: err}
	}

	return &FittedState{
		Algorithm: a.Name(),
		Params:    params,
		TrainEnd:  train.Timestamps[n-1],
		Frequency: train.Frequency,
		Payload:   payload,
	}, nil
}

func (a *DecompositionAdapter) Predict(state *FittedState, horizon int, confidence float64) ([]Prediction, error) {
	var s decompositionState
	if err := json.Unmarshal(state.Payload, &s); err != nil {
		return nil, fmt.Errorf("decomposition: decoding state: %w", err)
	}

	z := zScore(confidence)
	preds := make([]Prediction, horizon)
	for k := 1; k <= horizon; k++ {
		trend := s.Level + s.Slope*float64(k)
		seasonal := s.Seasonal[(s.Phase+k-1)%s.Period]

		var point float64
		if s.Mode == "multiplicative" {
			point = trend * seasonal
		} else {
			point = trend + seasonal
		}

		// Residuals accumulate with distance from the last observation, so
		// the interval half-width grows as sqrt(k).
		width := z * s.ResidStd * math.Sqrt(float64(k))
		preds[k-1] = Prediction{Point: point, Lower: point - width, Upper: point + width}
	}
	return preds, nil
}

// centeredMovingAverage computes the trend component; edges where the
// window does not fit are NaN.
func centeredMovingAverage(y []float64, period int) []float64 {
	n := len(y)
	trend := make([]float64, n)
	for i := range trend {
		trend[i] = math.NaN()
	}

	half := period / 2
	for i := half; i < n-half; i++ {
		sum := 0.0
		if period%2 == 0 {
			// 2xM average for even periods
			sum = y[i-half]/2 + y[i+half]/2
			for j := i - half + 1; j < i+half; j++ {
				sum += y[j]
			}
			trend[i] = sum / float64(period)
		} else {
			for j := i - half; j <= i+half; j++ {
				sum += y[j]
			}
			trend[i] = sum / float64(period)
		}
	}
	return trend
}

// normalizePattern centers an additive pattern on 0 and a multiplicative
// pattern on 1.
func normalizePattern(pattern []float64, mode string) {
	m := mean(pattern)
	if mode == "multiplicative" {
		if m == 0 {
			return
		}
		for i := range pattern {
			pattern[i] /= m
		}
		return
	}
	for i := range pattern {
		pattern[i] -= m
	}
}

// trendTail estimates the level and per-step slope at the last non-NaN
// trend value, discounting older observations by alpha. Returns the index
// that level refers to.
func trendTail(trend []float64, alpha float64) (level, slope float64, lastIdx int) {
	var xs []int
	var ys []float64
	for i, v := range trend {
		if !math.IsNaN(v) {
			xs = append(xs, i)
			ys = append(ys, v)
		}
	}
	if len(ys) == 0 {
		return 0, 0, 0
	}
	if len(ys) == 1 {
		return ys[0], 0, xs[0]
	}

	// Weighted least squares, recent points weighted (1-alpha)^(age).
	last := xs[len(xs)-1]
	var sw, swx, swy, swxx, swxy float64
	for i := range xs {
		age := float64(last - xs[i])
		w := math.Pow(1-alpha, age)
		x := float64(xs[i] - last) // 0 at the series end
		sw += w
		swx += w * x
		swy += w * ys[i]
		swxx += w * x * x
		swxy += w * x * ys[i]
	}
	den := sw*swxx - swx*swx
	if den == 0 {
		return ys[len(ys)-1], 0, last
	}
	slope = (sw*swxy - swx*swy) / den
	level = (swy - slope*swx) / sw
	return level, slope, last
}
