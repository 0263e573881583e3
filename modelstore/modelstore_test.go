package modelstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"automl-forecast-engine/algorithms"
	"automl-forecast-engine/evaluation"
)

func newModel(dataset, algorithm string) *TrainedModel {
	return &TrainedModel{
		DatasetID:       dataset,
		Algorithm:       algorithm,
		Hyperparameters: algorithms.Params{"alpha": 0.3},
		Metrics:         evaluation.Metrics{MAPE: 5.2, RMSE: 12.1, MAE: 9.4, R2: 0.91},
		TrainingTime:    3 * time.Second,
		Status:          StatusCompleted,
		StateBlob:       []byte(`{"algorithm":"stub"}`),
	}
}

// stores returns one of each implementation so every test covers both.
func stores(t *testing.T) map[string]Store {
	t.Helper()
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	return map[string]Store{"memory": NewMemoryStore(), "file": fs}
}

func TestSaveAssignsIDAndRoundTrips(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			m := newModel("ds-1", "arima")
			require.NoError(t, store.Save(m))
			require.NotEmpty(t, m.ID)

			got, err := store.Get(m.ID)
			require.NoError(t, err)
			assert.Equal(t, "ds-1", got.DatasetID)
			assert.Equal(t, "arima", got.Algorithm)
			assert.Equal(t, 5.2, got.Metrics.MAPE)
			assert.Equal(t, []byte(`{"algorithm":"stub"}`), got.StateBlob)
			assert.False(t, got.CreatedAt.IsZero())
		})
	}
}

func TestGetUnknownIDIsNotFound(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Get("missing")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestSaveRejectsInvalidRecords(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, store.Save(&TrainedModel{Algorithm: "arima", Status: StatusCompleted}))
			assert.Error(t, store.Save(&TrainedModel{DatasetID: "ds", Status: StatusCompleted}))
			assert.Error(t, store.Save(&TrainedModel{DatasetID: "ds", Algorithm: "arima", Status: "bogus"}))
		})
	}
}

func TestListFiltersByDatasetAlgorithmAndStatus(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Save(newModel("ds-1", "arima")))
			require.NoError(t, store.Save(newModel("ds-1", "treeboost")))
			failed := newModel("ds-2", "arima")
			failed.Status = StatusFailed
			require.NoError(t, store.Save(failed))

			byDataset, err := store.List(Filter{DatasetID: "ds-1"})
			require.NoError(t, err)
			assert.Len(t, byDataset, 2)

			byAlgo, err := store.List(Filter{Algorithm: "arima"})
			require.NoError(t, err)
			assert.Len(t, byAlgo, 2)

			byStatus, err := store.List(Filter{Status: StatusFailed})
			require.NoError(t, err)
			require.Len(t, byStatus, 1)
			assert.Equal(t, "ds-2", byStatus[0].DatasetID)
		})
	}
}

func TestMarkBestIsExclusivePerDataset(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			a, b := newModel("ds-1", "arima"), newModel("ds-1", "treeboost")
			other := newModel("ds-2", "arima")
			require.NoError(t, store.Save(a))
			require.NoError(t, store.Save(b))
			require.NoError(t, store.Save(other))
			require.NoError(t, store.MarkBest("ds-2", other.ID))

			require.NoError(t, store.MarkBest("ds-1", a.ID))
			require.NoError(t, store.MarkBest("ds-1", b.ID))

			best, err := store.List(Filter{DatasetID: "ds-1", OnlyBest: true})
			require.NoError(t, err)
			require.Len(t, best, 1)
			assert.Equal(t, b.ID, best[0].ID)

			// The other dataset's flag is untouched.
			otherBest, err := store.List(Filter{DatasetID: "ds-2", OnlyBest: true})
			require.NoError(t, err)
			require.Len(t, otherBest, 1)
			assert.Equal(t, other.ID, otherBest[0].ID)
		})
	}
}

func TestMarkBestRejectsWrongDataset(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			m := newModel("ds-1", "arima")
			require.NoError(t, store.Save(m))
			assert.ErrorIs(t, store.MarkBest("ds-2", m.ID), ErrNotFound)
		})
	}
}

func TestDeployRequiresCompletedStatus(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			training := newModel("ds-1", "arima")
			training.Status = StatusTraining
			require.NoError(t, store.Save(training))
			assert.Error(t, store.Deploy(training.ID))

			done := newModel("ds-1", "treeboost")
			require.NoError(t, store.Save(done))
			require.NoError(t, store.Deploy(done.ID))

			got, err := store.Get(done.ID)
			require.NoError(t, err)
			assert.Equal(t, StatusDeployed, got.Status)
			require.NotNil(t, got.DeployedAt)
		})
	}
}

func TestStoredModelsAreIsolatedFromCallerMutation(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			m := newModel("ds-1", "arima")
			require.NoError(t, store.Save(m))
			m.StateBlob[0] = 'X'
			m.Hyperparameters["alpha"] = 0.9

			got, err := store.Get(m.ID)
			require.NoError(t, err)
			assert.Equal(t, byte('{'), got.StateBlob[0])
			assert.Equal(t, 0.3, got.Hyperparameters["alpha"])
		})
	}
}

func TestFileStoreSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir)
	require.NoError(t, err)

	m := newModel("ds-1", "arima")
	require.NoError(t, fs.Save(m))
	require.NoError(t, fs.MarkBest("ds-1", m.ID))

	reopened, err := NewFileStore(dir)
	require.NoError(t, err)
	got, err := reopened.Get(m.ID)
	require.NoError(t, err)
	assert.True(t, got.IsBest)
	assert.Equal(t, m.StateBlob, got.StateBlob)
}

func TestDeleteRemovesModel(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			m := newModel("ds-1", "arima")
			require.NoError(t, store.Save(m))
			require.NoError(t, store.Delete(m.ID))
			_, err := store.Get(m.ID)
			assert.ErrorIs(t, err, ErrNotFound)
			assert.ErrorIs(t, store.Delete(m.ID), ErrNotFound)
		})
	}
}
