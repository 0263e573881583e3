// Package api exposes the training and forecasting engine over HTTP. The
// surface is deliberately thin: handlers validate and translate, all
// domain behavior lives in the automl, forecast, and modelstore packages.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"automl-forecast-engine/automl"
	"automl-forecast-engine/dataset"
	"automl-forecast-engine/forecast"
	"automl-forecast-engine/modelstore"
	"automl-forecast-engine/search"
)

// Server represents the HTTP API server.
type Server struct {
	router       *mux.Router
	datasets     *dataset.Registry
	orchestrator *automl.Orchestrator
	models       modelstore.Store
	forecasts    *forecast.Generator
	log          *logrus.Logger
}

// Options configures the optional middleware around the core handlers.
type Options struct {
	// JWTSecret enables bearer-token auth on /api/v1 routes when set.
	JWTSecret string
	// RateLimit caps requests per second across the server; zero disables.
	RateLimit float64
	// RateBurst is the limiter's burst allowance.
	RateBurst int
	// MetricsRegistry backs the /metrics endpoint; nil uses the default
	// Prometheus registry.
	MetricsRegistry *prometheus.Registry
}

// NewServer wires the API around its collaborators.
func NewServer(datasets *dataset.Registry, orchestrator *automl.Orchestrator, models modelstore.Store, forecasts *forecast.Generator, logger *logrus.Logger, opts Options) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	s := &Server{
		router:       mux.NewRouter(),
		datasets:     datasets,
		orchestrator: orchestrator,
		models:       models,
		forecasts:    forecasts,
		log:          logger,
	}
	s.setupRoutes(opts)
	return s
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	s.router.ServeHTTP(w, r)
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes(opts Options) {
	api := s.router.PathPrefix("/api/v1").Subrouter()
	if opts.RateLimit > 0 {
		api.Use(rateLimitMiddleware(opts.RateLimit, opts.RateBurst))
	}
	if opts.JWTSecret != "" {
		api.Use(authMiddleware(opts.JWTSecret))
	}

	// Dataset endpoints
	api.HandleFunc("/datasets", s.uploadDataset).Methods("POST")
	api.HandleFunc("/datasets", s.listDatasets).Methods("GET")

	// Training endpoints
	api.HandleFunc("/training/automl", s.submitTraining).Methods("POST")
	api.HandleFunc("/training/runs/{id}", s.getRun).Methods("GET")
	api.HandleFunc("/training/runs/{id}/cancel", s.cancelRun).Methods("POST")
	api.HandleFunc("/training/runs/{id}/comparison", s.runComparison).Methods("GET")
	api.HandleFunc("/training/backtest", s.runBacktest).Methods("POST")

	// Model endpoints
	api.HandleFunc("/models", s.listModels).Methods("GET")
	api.HandleFunc("/models/{id}/deploy", s.deployModel).Methods("POST")

	// Forecast endpoints
	api.HandleFunc("/forecast", s.generateForecast).Methods("POST")
	api.HandleFunc("/forecast/batch", s.batchPredict).Methods("POST")

	// System endpoints
	s.router.HandleFunc("/health", s.healthCheck).Methods("GET")
	if opts.MetricsRegistry != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(opts.MetricsRegistry, promhttp.HandlerOpts{}))
	} else {
		s.router.Handle("/metrics", promhttp.Handler())
	}
}

// DatasetRequest represents an uploaded dataset.
type DatasetRequest struct {
	Name       string               `json:"name"`
	Timestamps []string             `json:"timestamps"`
	Values     []float64            `json:"values"`
	Features   map[string][]float64 `json:"features,omitempty"`
}

// DatasetResponse summarizes a stored dataset.
type DatasetResponse struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Rows      int      `json:"rows"`
	Frequency string   `json:"frequency"`
	Features  []string `json:"features,omitempty"`
}

// uploadDataset stores a series for later training.
func (s *Server) uploadDataset(w http.ResponseWriter, r *http.Request) {
	var req DatasetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}

	timestamps := make([]time.Time, len(req.Timestamps))
	for i, raw := range req.Timestamps {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, fmt.Sprintf("Invalid timestamp format: %v", err), http.StatusBadRequest)
			return
		}
		timestamps[i] = ts
	}

	ref, err := dataset.New("", req.Name, timestamps, req.Values, req.Features)
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid dataset: %v", err), http.StatusBadRequest)
		return
	}
	s.datasets.Add(ref)

	s.log.WithFields(logrus.Fields{"dataset_id": ref.ID, "rows": ref.Len()}).Info("dataset uploaded")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(datasetResponse(ref))
}

func (s *Server) listDatasets(w http.ResponseWriter, r *http.Request) {
	refs := s.datasets.List()
	out := make([]DatasetResponse, len(refs))
	for i, ref := range refs {
		out[i] = datasetResponse(ref)
	}
	json.NewEncoder(w).Encode(map[string]interface{}{"datasets": out, "count": len(out)})
}

func datasetResponse(ref *dataset.Ref) DatasetResponse {
	return DatasetResponse{
		ID:        ref.ID,
		Name:      ref.Name,
		Rows:      ref.Len(),
		Frequency: ref.Frequency.String(),
		Features:  ref.FeatureColumns(),
	}
}

// TrainingRequest represents an AutoML submission.
type TrainingRequest struct {
	DatasetID      string   `json:"dataset_id"`
	Algorithms     []string `json:"algorithms"`
	Horizon        int      `json:"horizon"`
	MaxTrials      int      `json:"max_trials"`
	TimeoutSeconds int      `json:"timeout_seconds"`
	Folds          int      `json:"folds,omitempty"`
}

// submitTraining starts a background AutoML run and returns its handle.
func (s *Server) submitTraining(w http.ResponseWriter, r *http.Request) {
	var req TrainingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}

	ds, err := s.datasets.Get(req.DatasetID)
	if err != nil {
		http.Error(w, "Dataset not found", http.StatusNotFound)
		return
	}

	run, err := s.orchestrator.Submit(automl.TrainingRequest{
		DatasetID:  req.DatasetID,
		Algorithms: req.Algorithms,
		Horizon:    req.Horizon,
		MaxTrials:  req.MaxTrials,
		Timeout:    time.Duration(req.TimeoutSeconds) * time.Second,
		Folds:      req.Folds,
	}, ds)
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid training request: %v", err), http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(run)
}

// getRun returns the run record for polling.
func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.orchestrator.GetRun(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}
	json.NewEncoder(w).Encode(run)
}

func (s *Server) cancelRun(w http.ResponseWriter, r *http.Request) {
	if err := s.orchestrator.Cancel(mux.Vars(r)["id"]); err != nil {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "cancelling"})
}

// runBacktest walks one fixed configuration forward across a dataset and
// returns the per-window metrics synchronously.
func (s *Server) runBacktest(w http.ResponseWriter, r *http.Request) {
	var req automl.BacktestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}

	ds, err := s.datasets.Get(req.DatasetID)
	if err != nil {
		http.Error(w, "Dataset not found", http.StatusNotFound)
		return
	}

	result, err := s.orchestrator.Backtest(req, ds)
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid backtest request: %v", err), http.StatusBadRequest)
		return
	}
	json.NewEncoder(w).Encode(result)
}

// ComparisonEntry is one algorithm's line in a run comparison table.
type ComparisonEntry struct {
	Algorithm string   `json:"algorithm"`
	Status    string   `json:"status"`
	Trials    int      `json:"trials"`
	MAPE      *float64 `json:"mape,omitempty"`
	RMSE      *float64 `json:"rmse,omitempty"`
	MAE       *float64 `json:"mae,omitempty"`
	R2        *float64 `json:"r2,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// runComparison summarizes per-algorithm outcomes of a finished run.
func (s *Server) runComparison(w http.ResponseWriter, r *http.Request) {
	run, err := s.orchestrator.GetRun(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}
	if !run.Terminal() {
		http.Error(w, "Run is still in progress", http.StatusConflict)
		return
	}

	entries := make([]ComparisonEntry, 0, len(run.AllResults))
	for _, res := range run.AllResults {
		entries = append(entries, comparisonEntry(res))
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"run_id":         run.ID,
		"status":         run.Status,
		"best_algorithm": run.BestAlgorithm,
		"results":        entries,
	})
}

func comparisonEntry(res *search.Result) ComparisonEntry {
	entry := ComparisonEntry{
		Algorithm: res.Algorithm,
		Status:    string(res.Status),
		Trials:    len(res.Trials),
		Error:     res.Error,
	}
	if res.Best != nil {
		m := res.Best.Metrics
		entry.MAPE, entry.RMSE, entry.MAE, entry.R2 = &m.MAPE, &m.RMSE, &m.MAE, &m.R2
	}
	return entry
}

// listModels returns stored models, optionally filtered by dataset.
func (s *Server) listModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.models.List(modelstore.Filter{DatasetID: r.URL.Query().Get("dataset_id")})
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to list models: %v", err), http.StatusInternalServerError)
		return
	}
	// State blobs are internal; strip them from listings.
	for _, m := range models {
		m.StateBlob = nil
	}
	json.NewEncoder(w).Encode(map[string]interface{}{"models": models, "count": len(models)})
}

func (s *Server) deployModel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.models.Deploy(id); err != nil {
		if errors.Is(err, modelstore.ErrNotFound) {
			http.Error(w, "Model not found", http.StatusNotFound)
			return
		}
		http.Error(w, fmt.Sprintf("Cannot deploy model: %v", err), http.StatusConflict)
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "deployed", "model_id": id})
}

// ForecastRequest represents a horizon forecast request.
type ForecastRequest struct {
	ModelID    string  `json:"model_id"`
	Horizon    int     `json:"horizon"`
	Confidence float64 `json:"confidence"`
}

// generateForecast produces a horizon of predictions from a stored model.
func (s *Server) generateForecast(w http.ResponseWriter, r *http.Request) {
	var req ForecastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}
	if req.Confidence == 0 {
		req.Confidence = 0.95
	}

	fc, err := s.forecasts.Generate(r.Context(), req.ModelID, req.Horizon, req.Confidence)
	if err != nil {
		s.forecastError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(fc)
}

// BatchPredictRequest represents batch scoring of supplied future rows.
type BatchPredictRequest struct {
	ModelID    string               `json:"model_id"`
	Confidence float64              `json:"confidence"`
	Rows       []forecast.FutureRow `json:"rows"`
}

func (s *Server) batchPredict(w http.ResponseWriter, r *http.Request) {
	var req BatchPredictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}
	if req.Confidence == 0 {
		req.Confidence = 0.95
	}

	points, err := s.forecasts.BatchPredict(r.Context(), req.ModelID, req.Rows, req.Confidence)
	if err != nil {
		s.forecastError(w, err)
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{"predictions": points, "count": len(points)})
}

// forecastError maps forecast-layer failures onto HTTP statuses.
func (s *Server) forecastError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, modelstore.ErrNotFound):
		http.Error(w, "Model not found", http.StatusNotFound)
	case errors.Is(err, forecast.ErrModelNotReady):
		http.Error(w, fmt.Sprintf("Model not ready: %v", err), http.StatusConflict)
	case errors.Is(err, forecast.ErrSchemaMismatch):
		http.Error(w, fmt.Sprintf("Schema mismatch: %v", err), http.StatusUnprocessableEntity)
	default:
		http.Error(w, fmt.Sprintf("Invalid forecast request: %v", err), http.StatusBadRequest)
	}
}

var startTime = time.Now()

// healthCheck returns health status.
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(startTime).String(),
	})
}
