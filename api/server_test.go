package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"automl-forecast-engine/automl"
	"automl-forecast-engine/dataset"
	"automl-forecast-engine/forecast"
	"automl-forecast-engine/modelstore"
)

type testEnv struct {
	server       *Server
	orchestrator *automl.Orchestrator
	store        modelstore.Store
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	store := modelstore.NewMemoryStore()
	orc := automl.New(automl.Config{Workers: 2, Seed: 11}, store, log, nil)
	gen := forecast.New(store, forecast.NewMemoryCache(time.Minute), log, 365)
	srv := NewServer(dataset.NewRegistry(), orc, store, gen, log, opts)
	return &testEnv{server: srv, orchestrator: orc, store: store}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, req)
	return rec
}

func uploadBody(n int) DatasetRequest {
	base := time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)
	req := DatasetRequest{Name: "daily revenue"}
	for i := 0; i < n; i++ {
		req.Timestamps = append(req.Timestamps, base.Add(time.Duration(i)*24*time.Hour).Format(time.RFC3339))
		req.Values = append(req.Values, 400+0.6*float64(i)+25*math.Sin(2*math.Pi*float64(i)/7))
	}
	return req
}

func TestTrainingAndForecastFlow(t *testing.T) {
	env := newTestEnv(t, Options{})

	// Upload a dataset.
	rec := env.do(t, "POST", "/api/v1/datasets", uploadBody(120), nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var ds DatasetResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ds))
	require.NotEmpty(t, ds.ID)
	assert.Equal(t, 120, ds.Rows)
	assert.Equal(t, "24h0m0s", ds.Frequency)

	// Submit training.
	rec = env.do(t, "POST", "/api/v1/training/automl", TrainingRequest{
		DatasetID:      ds.ID,
		Algorithms:     []string{"decomposition"},
		Horizon:        14,
		MaxTrials:      3,
		TimeoutSeconds: 60,
	}, nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var run automl.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	require.NotEmpty(t, run.ID)

	env.orchestrator.Wait()

	// Poll the run.
	rec = env.do(t, "GET", "/api/v1/training/runs/"+run.ID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	require.Equal(t, automl.StatusCompleted, run.Status)
	require.NotEmpty(t, run.BestModelID)

	// Comparison table.
	rec = env.do(t, "GET", "/api/v1/training/runs/"+run.ID+"/comparison", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var cmp struct {
		BestAlgorithm string            `json:"best_algorithm"`
		Results       []ComparisonEntry `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cmp))
	assert.Equal(t, "decomposition", cmp.BestAlgorithm)
	require.Len(t, cmp.Results, 1)
	require.NotNil(t, cmp.Results[0].MAPE)

	// Model listing hides state blobs.
	rec = env.do(t, "GET", "/api/v1/models?dataset_id="+ds.ID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listing struct {
		Models []modelstore.TrainedModel `json:"models"`
		Count  int                       `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	require.Equal(t, 1, listing.Count)
	assert.True(t, listing.Models[0].IsBest)
	assert.Empty(t, listing.Models[0].StateBlob)

	// Deploy.
	rec = env.do(t, "POST", "/api/v1/models/"+run.BestModelID+"/deploy", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Forecast.
	rec = env.do(t, "POST", "/api/v1/forecast", ForecastRequest{
		ModelID: run.BestModelID, Horizon: 14, Confidence: 0.95,
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var fc forecast.Forecast
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fc))
	require.Len(t, fc.Points, 14)

	// Batch predictions at explicit timestamps.
	next := fc.Points[0].Timestamp
	rec = env.do(t, "POST", "/api/v1/forecast/batch", BatchPredictRequest{
		ModelID: run.BestModelID,
		Rows: []forecast.FutureRow{
			{Timestamp: next},
			{Timestamp: next.Add(48 * time.Hour)},
		},
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var batch struct {
		Predictions []forecast.Point `json:"predictions"`
		Count       int              `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &batch))
	assert.Equal(t, 2, batch.Count)
	assert.InDelta(t, fc.Points[0].Value, batch.Predictions[0].Value, 1e-9)
}

func TestSubmitTrainingValidation(t *testing.T) {
	env := newTestEnv(t, Options{})

	rec := env.do(t, "POST", "/api/v1/training/automl", TrainingRequest{
		DatasetID: "missing", Algorithms: []string{"arima"}, Horizon: 7, MaxTrials: 1, TimeoutSeconds: 10,
	}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	up := env.do(t, "POST", "/api/v1/datasets", uploadBody(60), nil)
	var ds DatasetResponse
	require.NoError(t, json.Unmarshal(up.Body.Bytes(), &ds))

	rec = env.do(t, "POST", "/api/v1/training/automl", TrainingRequest{
		DatasetID: ds.ID, Algorithms: []string{"prophet"}, Horizon: 7, MaxTrials: 1, TimeoutSeconds: 10,
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, "POST", "/api/v1/training/automl", TrainingRequest{
		DatasetID: ds.ID, Algorithms: []string{"arima"}, Horizon: 9000, MaxTrials: 1, TimeoutSeconds: 10,
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	env.orchestrator.Wait()
}

func TestTrainingDefaultsApplied(t *testing.T) {
	env := newTestEnv(t, Options{})

	up := env.do(t, "POST", "/api/v1/datasets", uploadBody(120), nil)
	var ds DatasetResponse
	require.NoError(t, json.Unmarshal(up.Body.Bytes(), &ds))

	// Trials and timeout omitted: the configured defaults apply instead of
	// the request being rejected.
	rec := env.do(t, "POST", "/api/v1/training/automl", TrainingRequest{
		DatasetID:  ds.ID,
		Algorithms: []string{"decomposition"},
		Horizon:    14,
	}, nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var run automl.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.GreaterOrEqual(t, run.Request.MaxTrials, 1)
	assert.Greater(t, run.Request.Timeout, time.Duration(0))
	assert.GreaterOrEqual(t, run.Request.Folds, 1)
	env.orchestrator.Wait()
}

func TestBacktestEndpoint(t *testing.T) {
	env := newTestEnv(t, Options{})

	up := env.do(t, "POST", "/api/v1/datasets", uploadBody(150), nil)
	var ds DatasetResponse
	require.NoError(t, json.Unmarshal(up.Body.Bytes(), &ds))

	rec := env.do(t, "POST", "/api/v1/training/backtest", automl.BacktestRequest{
		DatasetID: ds.ID,
		Algorithm: "decomposition",
		Folds:     3,
		Horizon:   14,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var result automl.BacktestResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Len(t, result.Windows, 3)
	assert.Greater(t, result.Overall.RMSE, 0.0)

	rec = env.do(t, "POST", "/api/v1/training/backtest", automl.BacktestRequest{
		DatasetID: "missing", Algorithm: "decomposition",
	}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, "POST", "/api/v1/training/backtest", automl.BacktestRequest{
		DatasetID: ds.ID, Algorithm: "prophet",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestForecastRejectsBadConfidence(t *testing.T) {
	env := newTestEnv(t, Options{})
	rec := env.do(t, "POST", "/api/v1/forecast", ForecastRequest{
		ModelID: "whatever", Horizon: 7, Confidence: 1.5,
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestForecastUnknownModelIs404(t *testing.T) {
	env := newTestEnv(t, Options{})
	rec := env.do(t, "POST", "/api/v1/forecast", ForecastRequest{
		ModelID: "missing", Horizon: 7, Confidence: 0.95,
	}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t, Options{})
	rec := env.do(t, "GET", "/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}

func TestAuthMiddleware(t *testing.T) {
	const secret = "test-secret"
	env := newTestEnv(t, Options{JWTSecret: secret})

	rec := env.do(t, "GET", "/api/v1/models", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, "GET", "/api/v1/models", nil, map[string]string{
		"Authorization": "Bearer not-a-token",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "tester",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(secret))
	require.NoError(t, err)

	rec = env.do(t, "GET", "/api/v1/models", nil, map[string]string{
		"Authorization": "Bearer " + token,
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	// Health stays open without a token.
	rec = env.do(t, "GET", "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitMiddleware(t *testing.T) {
	env := newTestEnv(t, Options{RateLimit: 2, RateBurst: 2})

	limited := false
	for i := 0; i < 10; i++ {
		rec := env.do(t, "GET", "/api/v1/models", nil, nil)
		if rec.Code == http.StatusTooManyRequests {
			limited = true
			break
		}
		require.Equal(t, http.StatusOK, rec.Code, fmt.Sprintf("request %d", i))
	}
	assert.True(t, limited)
}
