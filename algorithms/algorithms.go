// Package algorithms provides the uniform adapter contract over the
// supported forecasting algorithm families, one concrete variant per
// family. The search engine and orchestrator depend only on the Adapter
// interface, never on a concrete variant.
package algorithms

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Algorithm ids. These are the values accepted in training requests.
const (
	Decomposition = "decomposition"
	ARIMA         = "arima"
	TreeBoost     = "treeboost"
	LeafBoost     = "leafboost"
)

// DimensionType classifies a search-space dimension.
type DimensionType string

const (
	ContinuousDim  DimensionType = "continuous"
	IntegerDim     DimensionType = "integer"
	CategoricalDim DimensionType = "categorical"
)

// Dimension is one named hyperparameter with its bounds or choices.
type Dimension struct {
	Name    string        `json:"name"`
	Type    DimensionType `json:"type"`
	Min     float64       `json:"min,omitempty"`
	Max     float64       `json:"max,omitempty"`
	Log     bool          `json:"log,omitempty"` // sample on a log scale
	Choices []string      `json:"choices,omitempty"`
}

// SearchSpace is the declarative hyperparameter space an adapter exposes.
type SearchSpace []Dimension

// Params is one hyperparameter configuration. Values are float64 for
// continuous dimensions, int-valued float64 for integer dimensions, and
// string for categorical ones.
type Params map[string]interface{}

// Float reads a continuous parameter, falling back to def.
func (p Params) Float(name string, def float64) float64 {
	switch v := p[name].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return def
}

// Int reads an integer parameter, falling back to def.
func (p Params) Int(name string, def int) int {
	switch v := p[name].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return def
}

// String reads a categorical parameter, falling back to def.
func (p Params) String(name, def string) string {
	if v, ok := p[name].(string); ok {
		return v
	}
	return def
}

// FitError reports a failed model fit: numerical non-convergence or too
// little data for the requested configuration. The caller records it as a
// failed trial; it is never a run-level fatal error.
type FitError struct {
	Algorithm string
	Reason    string
	Err       error
}

func (e *FitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s fit failed: %s: %v", e.Algorithm, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s fit failed: %s", e.Algorithm, e.Reason)
}

func (e *FitError) Unwrap() error { return e.Err }

// TrainingData is the slice of a dataset an adapter fits on. Features are
// exogenous columns aligned with Values; boosted variants consume them,
// statistical variants ignore them.
type TrainingData struct {
	Values     []float64
	Timestamps []time.Time
	Frequency  time.Duration
	Features   map[string][]float64
}

// FeatureColumns returns the exogenous column names in sorted order.
func (t TrainingData) FeatureColumns() []string {
	cols := make([]string, 0, len(t.Features))
	for col := range t.Features {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols
}

// FittedState is the serializable outcome of a fit. Payload is the
// adapter-specific model state; the surrounding fields are what the
// forecast layer needs to stamp and validate predictions.
type FittedState struct {
	Algorithm      string          `json:"algorithm"`
	Params         Params          `json:"hyperparameters"`
	TrainEnd       time.Time       `json:"train_end"`
	Frequency      time.Duration   `json:"frequency"`
	FeatureColumns []string        `json:"feature_columns,omitempty"`
	Payload        json.RawMessage `json:"payload"`
}

// Encode serializes the fitted state to an opaque blob for persistence.
func (s *FittedState) Encode() ([]byte, error) {
	return json.Marshal(s)
}

// DecodeState restores a fitted state from a persisted blob.
func DecodeState(blob []byte) (*FittedState, error) {
	var s FittedState
	if err := json.Unmarshal(blob, &s); err != nil {
		return nil, fmt.Errorf("algorithms: decoding fitted state: %w", err)
	}
	return &s, nil
}

// Prediction is one forecast step: point estimate with interval bounds.
type Prediction struct {
	Point float64 `json:"point"`
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// FutureRow is one caller-supplied scoring row for batch prediction.
type FutureRow struct {
	Timestamp time.Time
	Features  map[string]float64
}

// Adapter is the uniform capability every algorithm family implements.
// Predict must produce interval widths that never decrease as the horizon
// step increases, for a fixed confidence level.
type Adapter interface {
	Name() string
	Space() SearchSpace
	Fit(train TrainingData, params Params) (*FittedState, error)
	Predict(state *FittedState, horizon int, confidence float64) ([]Prediction, error)
}

// RowPredictor is implemented by adapters that score caller-supplied
// feature rows directly, consuming exogenous values the caller provides.
type RowPredictor interface {
	PredictRows(state *FittedState, rows []FutureRow, confidence float64) ([]Prediction, error)
}

// Registry returns the adapters for the given algorithm ids, rejecting
// unknown ids.
func Registry(ids []string) ([]Adapter, error) {
	all := map[string]Adapter{
		Decomposition: &DecompositionAdapter{},
		ARIMA:         &ARIMAAdapter{},
		TreeBoost:     NewTreeBoost(),
		LeafBoost:     NewLeafBoost(),
	}

	adapters := make([]Adapter, 0, len(ids))
	for _, id := range ids {
		a, ok := all[id]
		if !ok {
			return nil, fmt.Errorf("algorithms: unknown algorithm %q", id)
		}
		adapters = append(adapters, a)
	}
	return adapters, nil
}

// Lookup returns a single adapter by id.
func Lookup(id string) (Adapter, error) {
	adapters, err := Registry([]string{id})
	if err != nil {
		return nil, err
	}
	return adapters[0], nil
}

// All returns every supported algorithm id.
func All() []string {
	return []string{Decomposition, ARIMA, TreeBoost, LeafBoost}
}

// seasonalPeriod maps a sampling frequency to the seasonal cycle length
// used by the seasonal variants: weekly cycle for daily data, daily cycle
// for hourly data, yearly cycle for monthly data.
func seasonalPeriod(freq time.Duration) int {
	switch {
	case freq == 0:
		return 1
	case freq >= 28*24*time.Hour:
		return 12
	case freq >= 7*24*time.Hour:
		return 52
	case freq >= 24*time.Hour:
		return 7
	case freq >= time.Hour:
		return 24
	default:
		return 60
	}
}
