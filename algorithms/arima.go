package algorithms

import (
	"encoding/json"
	"fmt"
	"math"

	"automl-forecast-engine/split"
)

// ARIMAAdapter fits an autoregressive integrated moving average model by
// conditional sum of squares, with optional seasonal differencing at the
// dataset's inferred cycle length. Forecast intervals come from the
// accumulated forecast-error variance (psi weights), so they widen with
// the horizon by construction.
type ARIMAAdapter struct{}

type arimaState struct {
	P            int       `json:"p"`
	D            int       `json:"d"`
	Q            int       `json:"q"`
	Seasonal     bool      `json:"seasonal"`
	Period       int       `json:"period"`
	AR           []float64 `json:"ar"`
	MA           []float64 `json:"ma"`
	Intercept    float64   `json:"intercept"`
	Variance     float64   `json:"variance"`
	ARTail       []float64 `json:"ar_tail"`       // last p values of the stationary series
	ResidTail    []float64 `json:"resid_tail"`    // last q residuals
	StageLasts   []float64 `json:"stage_lasts"`   // last value at each regular differencing stage
	SeasonalTail []float64 `json:"seasonal_tail"` // last period values of the original series
}

func (a *ARIMAAdapter) Name() string { return ARIMA }

func (a *ARIMAAdapter) Space() SearchSpace {
	return SearchSpace{
		{Name: "p", Type: IntegerDim, Min: 0, Max: 5},
		{Name: "d", Type: IntegerDim, Min: 0, Max: 2},
		{Name: "q", Type: IntegerDim, Min: 0, Max: 5},
		{Name: "seasonal", Type: CategoricalDim, Choices: []string{"false", "true"}},
	}
}

func (a *ARIMAAdapter) Fit(train TrainingData, params Params) (*FittedState, error) {
	p := params.Int("p", 1)
	d := params.Int("d", 1)
	q := params.Int("q", 1)
	seasonal := params.String("seasonal", "false") == "true"
	period := seasonalPeriod(train.Frequency)

	y := train.Values
	n := len(y)
	if p == 0 && q == 0 && d == 0 {
		return nil, &FitError{Algorithm: a.Name(), Reason: "degenerate order (0,0,0)"}
	}
	if seasonal && n < 2*period+d+p+q {
		return nil, &FitError{
			Algorithm: a.Name(),
			Reason:    fmt.Sprintf("%d observations, seasonal differencing at period %d needs at least %d", n, period, 2*period+d+p+q),
			Err:       split.ErrInsufficientData,
		}
	}

	// Seasonal differencing first, then d regular differences.
	w := y
	if seasonal {
		w = seasonalDiff(w, period)
	}
	stageLasts := make([]float64, d)
	for j := 0; j < d; j++ {
		if len(w) < 2 {
			return nil, &FitError{Algorithm: a.Name(), Reason: "differencing exhausted the series", Err: split.ErrInsufficientData}
		}
		stageLasts[j] = w[len(w)-1]
		w = diff(w)
	}

	if len(w) < p+q+d+10 {
		return nil, &FitError{
			Algorithm: a.Name(),
			Reason:    fmt.Sprintf("%d stationary observations for order (%d,%d,%d), need at least %d", len(w), p, d, q, p+q+d+10),
			Err:       split.ErrInsufficientData,
		}
	}

	ar, ma, intercept, variance, residuals, err := fitCSS(w, p, q)
	if err != nil {
		return nil, &FitError{Algorithm: a.Name(), Reason: "conditional sum of squares estimation", Err: err}
	}
	if math.IsNaN(variance) || math.IsInf(variance, 0) || variance < 0 {
		return nil, &FitError{Algorithm: a.Name(), Reason: "residual variance did not converge"}
	}

	st := arimaState{
		P: p, D: d, Q: q,
		Seasonal:   seasonal,
		Period:     period,
		AR:         ar,
		MA:         ma,
		Intercept:  intercept,
		Variance:   variance,
		StageLasts: stageLasts,
	}
	if p > 0 {
		st.ARTail = append(st.ARTail, w[len(w)-p:]...)
	}
	if q > 0 {
		st.ResidTail = append(st.ResidTail, residuals[len(residuals)-q:]...)
	}
	if seasonal {
		st.SeasonalTail = append(st.SeasonalTail, y[n-period:]...)
	}

	payload, err := json.Marshal(st)
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

func (a *ARIMAAdapter) Predict(state *FittedState, horizon int, confidence float64) ([]Prediction, error) {
	var s arimaState
	if err := json.Unmarshal(state.Payload, &s); err != nil {
		return nil, fmt.Errorf("arima: decoding state: %w", err)
	}

	// Forecast recursion on the stationary scale; future shocks are zero.
	ext := append([]float64{}, s.ARTail...)
	resid := append([]float64{}, s.ResidTail...)
	points := make([]float64, horizon)
	for h := 0; h < horizon; h++ {
		pred := s.Intercept
		for i := 0; i < s.P; i++ {
			idx := len(ext) - 1 - i
			if idx >= 0 {
				pred += s.AR[i] * (ext[idx] - s.Intercept)
			}
		}
		for i := 0; i < s.Q; i++ {
			idx := len(resid) - 1 - i
			if idx >= 0 {
				pred += s.MA[i] * resid[idx]
			}
		}
		ext = append(ext, pred)
		resid = append(resid, 0)
		points[h] = pred
	}

	// Undo regular differencing, innermost stage first.
	for j := s.D - 1; j >= 0; j-- {
		last := s.StageLasts[j]
		for k := range points {
			if k == 0 {
				points[k] += last
			} else {
				points[k] += points[k-1]
			}
		}
	}
	// Undo seasonal differencing against the original tail.
	if s.Seasonal {
		hist := append([]float64{}, s.SeasonalTail...)
		for k := range points {
			points[k] += hist[len(hist)-s.Period]
			hist = append(hist, points[k])
		}
	}

	// Interval half-widths from cumulative psi-weight variance.
	psi := psiWeights(s.AR, s.MA, s.D, s.Seasonal, s.Period, horizon)
	z := zScore(confidence)
	preds := make([]Prediction, horizon)
	cum := 0.0
	for k := 0; k < horizon; k++ {
		cum += psi[k] * psi[k]
		width := z * math.Sqrt(s.Variance*cum)
		preds[k] = Prediction{Point: points[k], Lower: points[k] - width, Upper: points[k] + width}
	}
	return preds, nil
}

// fitCSS estimates AR/MA coefficients by iterative conditional sum of
// squares: Yule-Walker initial AR estimates refined by gradient steps.
func fitCSS(w []float64, p, q int) (ar, ma []float64, intercept, variance float64, residuals []float64, err error) {
	n := len(w)
	intercept = mean(w)
	ar = make([]float64, p)
	ma = make([]float64, q)

	if p > 0 {
		if acf := sampleACF(w, p); acf != nil {
			if init := yuleWalker(acf, p); init != nil {
				copy(ar, init)
			}
		}
	}
	for i := range ma {
		ma[i] = 0.1
	}

	const (
		maxIter      = 100
		tolerance    = 1e-6
		learningRate = 0.01
	)
	start := p
	if q > start {
		start = q
	}

	residuals = make([]float64, n)
	prevSSE := math.Inf(1)
	for iter := 0; iter < maxIter; iter++ {
		sse := 0.0
		arGrad := make([]float64, p)
		maGrad := make([]float64, q)
		for t := start; t < n; t++ {
			pred := intercept
			for i := 0; i < p; i++ {
				pred += ar[i] * (w[t-i-1] - intercept)
			}
			for i := 0; i < q; i++ {
				pred += ma[i] * residuals[t-i-1]
			}
			residuals[t] = w[t] - pred
			sse += residuals[t] * residuals[t]
			for i := 0; i < p; i++ {
				arGrad[i] -= 2 * residuals[t] * (w[t-i-1] - intercept)
			}
			for i := 0; i < q; i++ {
				maGrad[i] -= 2 * residuals[t] * residuals[t-i-1]
			}
		}

		for i := 0; i < p; i++ {
			ar[i] -= learningRate * arGrad[i] / float64(n)
			ar[i] = clamp(ar[i], -0.99, 0.99) // stationarity bound
		}
		for i := 0; i < q; i++ {
			ma[i] -= learningRate * maGrad[i] / float64(n)
			ma[i] = clamp(ma[i], -0.99, 0.99) // invertibility bound
		}

		if math.Abs(prevSSE-sse) < tolerance {
			break
		}
		prevSSE = sse
	}

	sse := 0.0
	count := 0
	for t := start; t < n; t++ {
		sse += residuals[t] * residuals[t]
		count++
	}
	dof := count - p - q - 1
	if dof < 1 {
		dof = count
	}
	variance = sse / float64(dof)
	return ar, ma, intercept, variance, residuals, nil
}

// psiWeights expands the fitted ARMA into moving-average representation
// weights, then folds in regular and seasonal integration so the resulting
// cumulative variance matches the integrated process.
func psiWeights(ar, ma []float64, d int, seasonal bool, period, horizon int) []float64 {
	psi := make([]float64, horizon)
	for j := 0; j < horizon; j++ {
		v := 0.0
		if j == 0 {
			v = 1
		}
		if j >= 1 && j <= len(ma) {
			v += ma[j-1]
		}
		for i := 1; i <= len(ar) && i <= j; i++ {
			v += ar[i-1] * psi[j-i]
		}
		psi[j] = v
	}
	for r := 0; r < d; r++ {
		for j := 1; j < horizon; j++ {
			psi[j] += psi[j-1]
		}
	}
	if seasonal {
		for j := period; j < horizon; j++ {
			psi[j] += psi[j-period]
		}
	}
	return psi
}

// sampleACF computes autocorrelations up to maxLag, including lag 0.
func sampleACF(w []float64, maxLag int) []float64 {
	n := len(w)
	if n <= maxLag {
		return nil
	}
	m := mean(w)
	den := 0.0
	for _, v := range w {
		den += (v - m) * (v - m)
	}
	if den == 0 {
		return nil
	}
	acf := make([]float64, maxLag+1)
	acf[0] = 1
	for lag := 1; lag <= maxLag; lag++ {
		num := 0.0
		for t := lag; t < n; t++ {
			num += (w[t] - m) * (w[t-lag] - m)
		}
		acf[lag] = num / den
	}
	return acf
}

// yuleWalker solves for AR coefficients via Levinson-Durbin recursion.
func yuleWalker(acf []float64, order int) []float64 {
	if order <= 0 || len(acf) <= order {
		return nil
	}
	phi := make([]float64, order)
	phi[0] = acf[1]
	if order == 1 {
		return phi
	}
	v := 1 - phi[0]*phi[0]
	for i := 1; i < order; i++ {
		lambda := acf[i+1]
		for j := 0; j < i; j++ {
			lambda -= phi[j] * acf[i-j]
		}
		if v == 0 {
			break
		}
		lambda /= v

		next := make([]float64, i+1)
		for j := 0; j < i; j++ {
			next[j] = phi[j] - lambda*phi[i-1-j]
		}
		next[i] = lambda
		copy(phi, next)

		v *= 1 - lambda*lambda
		if v <= 0 {
			break
		}
	}
	return phi
}

func diff(y []float64) []float64 {
	out := make([]float64, len(y)-1)
	for i := 1; i < len(y); i++ {
		out[i-1] = y[i] - y[i-1]
	}
	return out
}

func seasonalDiff(y []float64, period int) []float64 {
	if len(y) <= period {
		return nil
	}
	out := make([]float64, len(y)-period)
	for i := period; i < len(y); i++ {
		out[i-period] = y[i] - y[i-period]
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
