package automl

import (
	"errors"
	"fmt"
	"math"
	"time"

	"automl-forecast-engine/algorithms"
	"automl-forecast-engine/dataset"
	"automl-forecast-engine/evaluation"
	"automl-forecast-engine/search"
	"automl-forecast-engine/split"
)

// BacktestRequest describes a walk-forward evaluation of one fixed
// configuration. Zero Folds and Horizon fall back to the orchestrator's
// configured defaults; nil Params evaluate the algorithm's space midpoints.
type BacktestRequest struct {
	DatasetID string            `json:"dataset_id"`
	Algorithm string            `json:"algorithm"`
	Params    algorithms.Params `json:"hyperparameters,omitempty"`
	Folds     int               `json:"folds,omitempty"`
	Horizon   int               `json:"horizon,omitempty"`
}

// BacktestWindow is one walk-forward window's outcome.
type BacktestWindow struct {
	Fold    split.Fold         `json:"fold"`
	Metrics evaluation.Metrics `json:"metrics"`
}

// BacktestResult aggregates the walk-forward windows of one configuration.
type BacktestResult struct {
	DatasetID string             `json:"dataset_id"`
	Algorithm string             `json:"algorithm"`
	Params    algorithms.Params  `json:"hyperparameters"`
	Windows   []BacktestWindow   `json:"windows"`
	Overall   evaluation.Metrics `json:"overall"`
	Elapsed   time.Duration      `json:"elapsed"`
}

// Backtest walks one configuration forward across the dataset: each window
// trains on everything before it and validates on the window itself, the
// same fold layout the search engine selects models on. It runs
// synchronously and persists nothing.
func (o *Orchestrator) Backtest(req BacktestRequest, ds *dataset.Ref) (*BacktestResult, error) {
	if req.DatasetID == "" {
		return nil, errors.New("automl: dataset id is required")
	}
	if ds == nil || ds.Len() == 0 {
		return nil, errors.New("automl: dataset is empty")
	}
	adapter, err := algorithms.Lookup(req.Algorithm)
	if err != nil {
		return nil, fmt.Errorf("automl: %w", err)
	}
	if req.Folds == 0 {
		req.Folds = o.cfg.DefaultFolds
	}
	if req.Folds < 1 {
		return nil, errors.New("automl: folds must be at least 1")
	}
	if req.Horizon == 0 {
		req.Horizon = o.cfg.FoldSize
	}
	if req.Horizon < 1 || req.Horizon > o.cfg.MaxHorizon {
		return nil, fmt.Errorf("automl: horizon must be in [1, %d], got %d", o.cfg.MaxHorizon, req.Horizon)
	}
	params := req.Params
	if params == nil {
		params = midpointParams(adapter.Space())
	}

	started := time.Now()
	eng := search.New(adapter, search.Config{
		Folds:        req.Folds,
		MinTrainSize: defaultMinTrainSize,
		ValSize:      split.ValidationSize(req.Horizon, o.cfg.FoldSize),
		Seed:         o.cfg.Seed,
	}, o.log)
	trial, err := eng.Evaluate(algorithms.TrainingData{
		Values:     ds.Target,
		Timestamps: ds.Timestamps,
		Frequency:  ds.Frequency,
		Features:   ds.Features,
	}, params)
	if err != nil {
		return nil, fmt.Errorf("automl: %w", err)
	}

	windows := make([]BacktestWindow, len(trial.Folds))
	for i, fold := range trial.Folds {
		windows[i] = BacktestWindow{Fold: fold, Metrics: trial.FoldMetrics[i]}
	}
	return &BacktestResult{
		DatasetID: req.DatasetID,
		Algorithm: req.Algorithm,
		Params:    params,
		Windows:   windows,
		Overall:   trial.Metrics,
		Elapsed:   time.Since(started),
	}, nil
}

// midpointParams evaluates a space at its center: numeric dimensions at
// their midpoint (geometric on log scales), categoricals at their first
// choice.
func midpointParams(space algorithms.SearchSpace) algorithms.Params {
	params := make(algorithms.Params, len(space))
	for _, dim := range space {
		switch dim.Type {
		case algorithms.CategoricalDim:
			params[dim.Name] = dim.Choices[0]
		case algorithms.IntegerDim:
			params[dim.Name] = int((dim.Min + dim.Max) / 2)
		default:
			if dim.Log {
				params[dim.Name] = math.Exp((math.Log(dim.Min) + math.Log(dim.Max)) / 2)
			} else {
				params[dim.Name] = (dim.Min + dim.Max) / 2
			}
		}
	}
	return params
}
