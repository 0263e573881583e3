package automl

import (
	"math"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"automl-forecast-engine/algorithms"
	"automl-forecast-engine/dataset"
	"automl-forecast-engine/evaluation"
	"automl-forecast-engine/modelstore"
	"automl-forecast-engine/search"
)

func dailyDataset(t *testing.T, n int) *dataset.Ref {
	t.Helper()
	base := time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)
	timestamps := make([]time.Time, n)
	values := make([]float64, n)
	for i := range values {
		timestamps[i] = base.Add(time.Duration(i) * 24 * time.Hour)
		values[i] = 500 + 0.8*float64(i) + 30*math.Sin(2*math.Pi*float64(i)/7)
	}
	ds, err := dataset.New("ds-automl", "daily sales", timestamps, values, nil)
	require.NoError(t, err)
	return ds
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	return log
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, modelstore.Store) {
	t.Helper()
	store := modelstore.NewMemoryStore()
	return New(Config{Workers: 2, Seed: 7}, store, quietLogger(), nil), store
}

func TestSubmitValidatesRequestSynchronously(t *testing.T) {
	orc, _ := newTestOrchestrator(t)
	ds := dailyDataset(t, 100)

	valid := TrainingRequest{
		DatasetID:  ds.ID,
		Algorithms: []string{algorithms.TreeBoost},
		Horizon:    14,
		MaxTrials:  2,
		Timeout:    time.Minute,
	}

	cases := map[string]func(r *TrainingRequest){
		"no dataset":        func(r *TrainingRequest) { r.DatasetID = "" },
		"no algorithms":     func(r *TrainingRequest) { r.Algorithms = nil },
		"unknown algorithm": func(r *TrainingRequest) { r.Algorithms = []string{"prophet"} },
		"zero horizon":      func(r *TrainingRequest) { r.Horizon = 0 },
		"huge horizon":      func(r *TrainingRequest) { r.Horizon = MaxHorizon + 1 },
		"negative trials":   func(r *TrainingRequest) { r.MaxTrials = -1 },
		"negative timeout":  func(r *TrainingRequest) { r.Timeout = -time.Second },
		"negative folds":    func(r *TrainingRequest) { r.Folds = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := valid
			req.Algorithms = append([]string(nil), valid.Algorithms...)
			mutate(&req)
			_, err := orc.Submit(req, ds)
			assert.Error(t, err)
		})
	}
	orc.Wait()
}

func TestSubmitAppliesConfiguredDefaults(t *testing.T) {
	store := modelstore.NewMemoryStore()
	orc := New(Config{
		Workers:          1,
		Seed:             7,
		DefaultFolds:     2,
		DefaultMaxTrials: 2,
		DefaultTimeout:   30 * time.Second,
	}, store, quietLogger(), nil)
	ds := dailyDataset(t, 100)

	// Trials, timeout, and folds omitted entirely.
	run, err := orc.Submit(TrainingRequest{
		DatasetID:  ds.ID,
		Algorithms: []string{algorithms.Decomposition},
		Horizon:    14,
	}, ds)
	require.NoError(t, err)
	assert.Equal(t, 2, run.Request.MaxTrials)
	assert.Equal(t, 30*time.Second, run.Request.Timeout)
	assert.Equal(t, 2, run.Request.Folds)

	orc.Wait()
	final, err := orc.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, final.Status)
	require.Len(t, final.AllResults, 1)
	assert.Len(t, final.AllResults[0].Trials, 2)
}

func TestConfiguredMaxHorizonBoundsRequests(t *testing.T) {
	store := modelstore.NewMemoryStore()
	orc := New(Config{Workers: 1, MaxHorizon: 30}, store, quietLogger(), nil)
	ds := dailyDataset(t, 100)

	_, err := orc.Submit(TrainingRequest{
		DatasetID:  ds.ID,
		Algorithms: []string{algorithms.Decomposition},
		Horizon:    31,
		MaxTrials:  1,
		Timeout:    time.Minute,
	}, ds)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "horizon")
	orc.Wait()
}

func TestRunCompletesWithBoostedPair(t *testing.T) {
	orc, store := newTestOrchestrator(t)
	ds := dailyDataset(t, 400)

	run, err := orc.Submit(TrainingRequest{
		DatasetID:  ds.ID,
		Algorithms: []string{algorithms.TreeBoost, algorithms.LeafBoost},
		Horizon:    30,
		MaxTrials:  10,
		Timeout:    5 * time.Minute,
	}, ds)
	require.NoError(t, err)
	assert.Contains(t, []RunStatus{StatusQueued, StatusRunning}, run.Status)

	orc.Wait()
	final, err := orc.GetRun(run.ID)
	require.NoError(t, err)

	require.Equal(t, StatusCompleted, final.Status)
	require.Len(t, final.AllResults, 2)
	assert.Contains(t, []string{algorithms.TreeBoost, algorithms.LeafBoost}, final.BestAlgorithm)
	assert.NotEmpty(t, final.BestModelID)
	require.NotNil(t, final.FinishedAt)

	best, err := store.List(modelstore.Filter{DatasetID: ds.ID, OnlyBest: true})
	require.NoError(t, err)
	require.Len(t, best, 1)
	assert.Equal(t, final.BestModelID, best[0].ID)
	assert.Equal(t, modelstore.StatusCompleted, best[0].Status)
	assert.NotEmpty(t, best[0].StateBlob)
}

func TestRunFailsWhenSeriesTooShort(t *testing.T) {
	orc, store := newTestOrchestrator(t)
	ds := dailyDataset(t, 5)

	run, err := orc.Submit(TrainingRequest{
		DatasetID:  ds.ID,
		Algorithms: []string{algorithms.Decomposition},
		Horizon:    7,
		MaxTrials:  3,
		Timeout:    time.Minute,
	}, ds)
	require.NoError(t, err)

	orc.Wait()
	final, err := orc.GetRun(run.ID)
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, final.Status)
	assert.Empty(t, final.BestAlgorithm)
	assert.Contains(t, final.Error, "insufficient data")

	models, err := store.List(modelstore.Filter{DatasetID: ds.ID})
	require.NoError(t, err)
	assert.Empty(t, models)
}

func TestPartialFailureStillCompletes(t *testing.T) {
	orc, _ := newTestOrchestrator(t)
	// 65 daily points: enough for weekly decomposition, but the boosted
	// model's lag warm-up leaves the earliest fold with too few rows, so
	// every treeboost trial fails.
	ds := dailyDataset(t, 65)

	run, err := orc.Submit(TrainingRequest{
		DatasetID:  ds.ID,
		Algorithms: []string{algorithms.TreeBoost, algorithms.Decomposition},
		Horizon:    14,
		MaxTrials:  3,
		Timeout:    time.Minute,
	}, ds)
	require.NoError(t, err)

	orc.Wait()
	final, err := orc.GetRun(run.ID)
	require.NoError(t, err)

	require.Equal(t, StatusCompleted, final.Status)
	require.Len(t, final.AllResults, 2)
	assert.Equal(t, algorithms.Decomposition, final.BestAlgorithm)
	assert.Equal(t, search.StatusFailed, final.AllResults[0].Status)
	assert.Equal(t, search.StatusSucceeded, final.AllResults[1].Status)
}

func TestCancelMarksRunFailed(t *testing.T) {
	orc, store := newTestOrchestrator(t)
	ds := dailyDataset(t, 400)

	run, err := orc.Submit(TrainingRequest{
		DatasetID:  ds.ID,
		Algorithms: []string{algorithms.TreeBoost},
		Horizon:    30,
		MaxTrials:  500,
		Timeout:    time.Hour,
	}, ds)
	require.NoError(t, err)
	require.NoError(t, orc.Cancel(run.ID))

	orc.Wait()
	final, err := orc.GetRun(run.ID)
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, final.Status)
	assert.Contains(t, final.Error, "cancelled")

	models, err := store.List(modelstore.Filter{DatasetID: ds.ID})
	require.NoError(t, err)
	assert.Empty(t, models)
}

func TestGetRunUnknownID(t *testing.T) {
	orc, _ := newTestOrchestrator(t)
	_, err := orc.GetRun("nope")
	assert.ErrorIs(t, err, ErrRunNotFound)
	assert.ErrorIs(t, orc.Cancel("nope"), ErrRunNotFound)
}

func TestPickWinnerMAPEThenRMSEThenOrder(t *testing.T) {
	res := func(algo string, mape, rmse float64) *search.Result {
		return &search.Result{
			Algorithm: algo,
			Status:    search.StatusSucceeded,
			Best: &search.Trial{
				Algorithm: algo,
				Metrics:   evaluation.Metrics{MAPE: mape, RMSE: rmse},
			},
		}
	}

	assert.Equal(t, "b",
		pickWinner([]*search.Result{res("a", 5, 1), res("b", 4, 9)}).Algorithm)
	assert.Equal(t, "b",
		pickWinner([]*search.Result{res("a", 5, 9), res("b", 5, 1)}).Algorithm)
	assert.Equal(t, "a",
		pickWinner([]*search.Result{res("a", 5, 9), res("b", 5, 9)}).Algorithm)
	assert.Nil(t, pickWinner([]*search.Result{
		{Algorithm: "a", Status: search.StatusFailed},
	}))
}

func TestAggregateFailurePreservesPerAlgorithmReasons(t *testing.T) {
	msg := aggregateFailure([]*search.Result{
		{Algorithm: "arima", Status: search.StatusFailed, Error: "fit diverged"},
		{Algorithm: "treeboost", Status: search.StatusFailed, Error: "too few rows"},
	})
	assert.Contains(t, msg, "arima: fit diverged")
	assert.Contains(t, msg, "treeboost: too few rows")
}
