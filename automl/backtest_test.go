package automl

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"automl-forecast-engine/algorithms"
	"automl-forecast-engine/split"
)

func TestBacktestWalksForward(t *testing.T) {
	orc, _ := newTestOrchestrator(t)
	ds := dailyDataset(t, 200)

	res, err := orc.Backtest(BacktestRequest{
		DatasetID: ds.ID,
		Algorithm: algorithms.Decomposition,
		Folds:     3,
		Horizon:   14,
	}, ds)
	require.NoError(t, err)

	require.Len(t, res.Windows, 3)
	for i, wnd := range res.Windows {
		assert.Equal(t, wnd.Fold.TrainEnd, wnd.Fold.ValStart)
		assert.Equal(t, 14, wnd.Fold.ValSize())
		assert.False(t, math.IsNaN(wnd.Metrics.MAPE))
		if i > 0 {
			assert.Greater(t, wnd.Fold.ValStart, res.Windows[i-1].Fold.ValStart)
		}
	}
	assert.Greater(t, res.Overall.RMSE, 0.0)
	assert.False(t, math.IsNaN(res.Overall.MAPE))
}

func TestBacktestDefaultsToSpaceMidpoints(t *testing.T) {
	orc, _ := newTestOrchestrator(t)
	ds := dailyDataset(t, 200)

	res, err := orc.Backtest(BacktestRequest{
		DatasetID: ds.ID,
		Algorithm: algorithms.ARIMA,
	}, ds)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Params)
	// Folds and horizon fall back to the orchestrator's defaults.
	require.NotEmpty(t, res.Windows)
	assert.Equal(t, 30, res.Windows[0].Fold.ValSize())
}

func TestBacktestValidation(t *testing.T) {
	orc, _ := newTestOrchestrator(t)
	ds := dailyDataset(t, 200)

	_, err := orc.Backtest(BacktestRequest{DatasetID: ds.ID, Algorithm: "prophet"}, ds)
	assert.Error(t, err)

	_, err = orc.Backtest(BacktestRequest{Algorithm: algorithms.ARIMA}, ds)
	assert.Error(t, err)

	_, err = orc.Backtest(BacktestRequest{DatasetID: ds.ID, Algorithm: algorithms.ARIMA, Horizon: 9000}, ds)
	assert.Error(t, err)
}

func TestBacktestShortSeriesIsInsufficientData(t *testing.T) {
	orc, _ := newTestOrchestrator(t)
	ds := dailyDataset(t, 10)

	_, err := orc.Backtest(BacktestRequest{
		DatasetID: ds.ID,
		Algorithm: algorithms.Decomposition,
	}, ds)
	assert.ErrorIs(t, err, split.ErrInsufficientData)
}
