package algorithms

import (
	"errors"
	"math"
	"testing"
	"time"

	"automl-forecast-engine/split"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syntheticDaily builds n daily observations with trend, weekly
// seasonality, and a deterministic wobble standing in for noise.
func syntheticDaily(n int) TrainingData {
	values := make([]float64, n)
	timestamps := make([]time.Time, n)
	base := time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		timestamps[i] = base.AddDate(0, 0, i)
		values[i] = 100 + 0.25*float64(i) +
			8*math.Sin(2*math.Pi*float64(i)/7) +
			2*math.Sin(float64(i)*1.7)
	}
	return TrainingData{
		Values:     values,
		Timestamps: timestamps,
		Frequency:  24 * time.Hour,
	}
}

func defaultParams(a Adapter) Params {
	p := Params{}
	for _, dim := range a.Space() {
		switch dim.Type {
		case CategoricalDim:
			p[dim.Name] = dim.Choices[0]
		case IntegerDim:
			p[dim.Name] = int((dim.Min + dim.Max) / 2)
		default:
			p[dim.Name] = (dim.Min + dim.Max) / 2
		}
	}
	return p
}

func TestRegistry_KnownAndUnknown(t *testing.T) {
	adapters, err := Registry(All())
	require.NoError(t, err)
	require.Len(t, adapters, 4)

	_, err = Registry([]string{"prophet"})
	assert.Error(t, err)
}

func TestAdapters_FitPredictRoundTrip(t *testing.T) {
	train := syntheticDaily(200)
	for _, id := range All() {
		t.Run(id, func(t *testing.T) {
			adapter, err := Lookup(id)
			require.NoError(t, err)

			state, err := adapter.Fit(train, defaultParams(adapter))
			require.NoError(t, err)
			assert.Equal(t, id, state.Algorithm)
			assert.Equal(t, train.Timestamps[len(train.Timestamps)-1], state.TrainEnd)

			preds, err := adapter.Predict(state, 30, 0.95)
			require.NoError(t, err)
			require.Len(t, preds, 30)
			for i, p := range preds {
				assert.Falsef(t, math.IsNaN(p.Point), "step %d point is NaN", i)
				assert.LessOrEqualf(t, p.Lower, p.Point, "step %d lower above point", i)
				assert.GreaterOrEqualf(t, p.Upper, p.Point, "step %d upper below point", i)
			}
		})
	}
}

func TestAdapters_IntervalWidthNeverShrinks(t *testing.T) {
	train := syntheticDaily(200)
	for _, id := range All() {
		for _, confidence := range []float64{0.90, 0.95, 0.99} {
			adapter, err := Lookup(id)
			require.NoError(t, err)

			state, err := adapter.Fit(train, defaultParams(adapter))
			require.NoError(t, err)

			preds, err := adapter.Predict(state, 60, confidence)
			require.NoError(t, err)

			prev := -1.0
			for i, p := range preds {
				width := p.Upper - p.Lower
				if width < prev-1e-9 {
					t.Fatalf("%s at %.2f: interval width shrank at step %d (%f < %f)",
						id, confidence, i, width, prev)
				}
				prev = width
			}
		}
	}
}

func TestAdapters_StateSurvivesEncoding(t *testing.T) {
	train := syntheticDaily(200)
	for _, id := range All() {
		adapter, err := Lookup(id)
		require.NoError(t, err)

		state, err := adapter.Fit(train, defaultParams(adapter))
		require.NoError(t, err)

		blob, err := state.Encode()
		require.NoError(t, err)
		restored, err := DecodeState(blob)
		require.NoError(t, err)

		orig, err := adapter.Predict(state, 14, 0.95)
		require.NoError(t, err)
		again, err := adapter.Predict(restored, 14, 0.95)
		require.NoError(t, err)

		for i := range orig {
			assert.InDeltaf(t, orig[i].Point, again[i].Point, 1e-9, "%s step %d", id, i)
		}
	}
}

func TestSeasonalAdapters_TooFewObservations(t *testing.T) {
	train := syntheticDaily(5)
	for _, id := range []string{Decomposition, TreeBoost, LeafBoost} {
		adapter, err := Lookup(id)
		require.NoError(t, err)

		_, err = adapter.Fit(train, defaultParams(adapter))
		require.Errorf(t, err, "%s should reject 5 observations", id)

		var fitErr *FitError
		require.ErrorAsf(t, err, &fitErr, "%s must fail with FitError", id)
		assert.Truef(t, errors.Is(err, split.ErrInsufficientData),
			"%s failure should carry the insufficient-data cause", id)
	}
}

func TestARIMA_SeasonalNeedsTwoCycles(t *testing.T) {
	adapter := &ARIMAAdapter{}
	train := syntheticDaily(12) // under two weekly cycles

	params := defaultParams(adapter)
	params["seasonal"] = "true"
	_, err := adapter.Fit(train, params)
	require.Error(t, err)
	assert.True(t, errors.Is(err, split.ErrInsufficientData))
}

func TestParams_TypedAccessors(t *testing.T) {
	p := Params{"a": 1.5, "b": 3, "c": "x", "d": float64(7)}
	assert.Equal(t, 1.5, p.Float("a", 0))
	assert.Equal(t, 3, p.Int("b", 0))
	assert.Equal(t, 7, p.Int("d", 0))
	assert.Equal(t, "x", p.String("c", ""))
	assert.Equal(t, "fallback", p.String("missing", "fallback"))
}

func TestZScore(t *testing.T) {
	assert.InDelta(t, 1.6449, zScore(0.90), 1e-3)
	assert.InDelta(t, 1.9600, zScore(0.95), 1e-3)
	assert.InDelta(t, 2.5758, zScore(0.99), 1e-3)
}
