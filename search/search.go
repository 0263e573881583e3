// Package search runs sequential hyperparameter optimization for one
// algorithm family over temporally valid cross-validation folds. Trials
// are scored by mean validation MAPE; failed fits become failed trials,
// never run-level errors.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"automl-forecast-engine/algorithms"
	"automl-forecast-engine/evaluation"
	"automl-forecast-engine/split"
)

// Status is the terminal state of one algorithm's search.
type Status string

const (
	StatusPending         Status = "pending"
	StatusRunning         Status = "running"
	StatusSucceeded       Status = "succeeded"
	StatusFailed          Status = "failed"
	StatusBudgetExhausted Status = "budget_exhausted"
)

// Trial is one evaluated hyperparameter configuration. Folds records the
// exact boundaries the trial was validated on, so any result can be
// reproduced from the trial record alone.
type Trial struct {
	Index       int                  `json:"index"`
	Algorithm   string               `json:"algorithm"`
	Params      algorithms.Params    `json:"hyperparameters"`
	Folds       []split.Fold         `json:"folds"`
	FoldMetrics []evaluation.Metrics `json:"fold_metrics,omitempty"`
	Metrics     evaluation.Metrics   `json:"metrics"`
	Score       float64              `json:"score"` // mean MAPE; +Inf for failed trials
	Duration    time.Duration        `json:"duration"`
	Succeeded   bool                 `json:"succeeded"`
	Error       string               `json:"error,omitempty"`
}

// Result is the outcome of one algorithm's search.
type Result struct {
	Algorithm string        `json:"algorithm"`
	Status    Status        `json:"status"`
	Trials    []Trial       `json:"trials"`
	Best      *Trial        `json:"best,omitempty"`
	Elapsed   time.Duration `json:"elapsed"`
	Error     string        `json:"error,omitempty"`

	// Err carries the fatal pre-trial error, if any, for errors.Is checks.
	Err error `json:"-"`
}

// Config bounds a search. Both MaxTrials and Timeout are enforced, checked
// between trials; a running fit is never interrupted.
type Config struct {
	MaxTrials    int
	Timeout      time.Duration
	Folds        int
	MinTrainSize int
	ValSize      int
	Seed         int64
}

// Engine optimizes one adapter's hyperparameters on one series.
type Engine struct {
	adapter algorithms.Adapter
	cfg     Config
	log     *logrus.Entry
}

// New builds an engine for the given adapter.
func New(adapter algorithms.Adapter, cfg Config, logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.New()
	}
	return &Engine{
		adapter: adapter,
		cfg:     cfg,
		log:     logger.WithField("algorithm", adapter.Name()),
	}
}

// Run executes the search until the trial budget, the time budget, or ctx
// cancellation stops it, whichever comes first. Cancellation is observed
// between trials.
func (e *Engine) Run(ctx context.Context, train algorithms.TrainingData) *Result {
	started := time.Now()
	res := &Result{Algorithm: e.adapter.Name(), Status: StatusRunning}

	folds, err := split.Split(len(train.Values), split.Config{
		Folds:        e.cfg.Folds,
		MinTrainSize: e.cfg.MinTrainSize,
		ValSize:      e.cfg.ValSize,
	})
	if err != nil {
		// No fold layout exists, so no trial can ever run.
		res.Status = StatusFailed
		res.Error = err.Error()
		res.Err = err
		res.Elapsed = time.Since(started)
		e.log.WithError(err).Warn("search aborted before first trial")
		return res
	}

	deadline := started.Add(e.cfg.Timeout)
	smp := newSampler(e.adapter.Space(), e.cfg.Seed)
	failed := map[string]bool{}
	budgetHit := false

	for i := 0; i < e.cfg.MaxTrials; i++ {
		if ctx.Err() != nil {
			break
		}
		if e.cfg.Timeout > 0 && !time.Now().Before(deadline) {
			budgetHit = true
			break
		}

		params, ok := e.proposeFresh(smp, failed)
		if !ok {
			// Every remaining configuration in the space already failed.
			e.log.WithField("failed_configs", len(failed)).Info("no untried configurations remain")
			break
		}
		trial := e.runTrial(i, params, folds, train)
		smp.observe(params, trial.Score)
		if !trial.Succeeded {
			failed[paramKey(params)] = true
		}
		res.Trials = append(res.Trials, trial)

		if trial.Succeeded && better(&trial, res.Best) {
			best := trial
			res.Best = &best
		}

		e.log.WithFields(logrus.Fields{
			"trial":    i,
			"score":    trial.Score,
			"duration": trial.Duration,
		}).Debug("trial finished")
	}

	res.Elapsed = time.Since(started)
	switch {
	case res.Best == nil:
		res.Status = StatusFailed
		res.Error = lastError(res.Trials)
	case budgetHit:
		res.Status = StatusBudgetExhausted
	default:
		res.Status = StatusSucceeded
	}

	e.log.WithFields(logrus.Fields{
		"status":  res.Status,
		"trials":  len(res.Trials),
		"elapsed": res.Elapsed,
	}).Info("search finished")
	return res
}

// Evaluate runs one fixed configuration across the fold layout, with no
// sampling and no budgets. The returned trial carries the exact fold
// boundaries and per-fold metrics, so callers can report walk-forward
// results window by window.
func (e *Engine) Evaluate(train algorithms.TrainingData, params algorithms.Params) (Trial, error) {
	folds, err := split.Split(len(train.Values), split.Config{
		Folds:        e.cfg.Folds,
		MinTrainSize: e.cfg.MinTrainSize,
		ValSize:      e.cfg.ValSize,
	})
	if err != nil {
		return Trial{}, err
	}
	trial := e.runTrial(0, params, folds, train)
	if !trial.Succeeded {
		return trial, fmt.Errorf("evaluating %s configuration: %s", e.adapter.Name(), trial.Error)
	}
	return trial, nil
}

// proposeFresh draws a configuration that has not already failed, redrawing
// when the sampler lands on one that has. When redraws keep colliding and
// the space is purely discrete, it falls back to scanning the space, so a
// failing configuration is never proposed twice; ok is false once no
// untried configuration is left.
func (e *Engine) proposeFresh(smp *sampler, failed map[string]bool) (algorithms.Params, bool) {
	for attempt := 0; attempt < 16; attempt++ {
		params := smp.propose()
		if !failed[paramKey(params)] {
			return params, true
		}
	}
	if spaceCardinality(e.adapter.Space()) > 0 {
		for _, params := range enumerateSpace(e.adapter.Space()) {
			if !failed[paramKey(params)] {
				return params, true
			}
		}
	}
	return nil, false
}

// spaceCardinality counts the distinct configurations of a purely discrete
// space; zero means unbounded (the space has a continuous dimension).
func spaceCardinality(space algorithms.SearchSpace) int {
	n := 1
	for _, dim := range space {
		switch dim.Type {
		case algorithms.IntegerDim:
			n *= int(dim.Max) - int(dim.Min) + 1
		case algorithms.CategoricalDim:
			n *= len(dim.Choices)
		default:
			return 0
		}
	}
	return n
}

// enumerateSpace lists every configuration of a purely discrete space in
// dimension order. Only meaningful when spaceCardinality is non-zero.
func enumerateSpace(space algorithms.SearchSpace) []algorithms.Params {
	configs := []algorithms.Params{{}}
	for _, dim := range space {
		var values []interface{}
		switch dim.Type {
		case algorithms.IntegerDim:
			for v := int(dim.Min); v <= int(dim.Max); v++ {
				values = append(values, v)
			}
		case algorithms.CategoricalDim:
			for _, c := range dim.Choices {
				values = append(values, c)
			}
		}
		next := make([]algorithms.Params, 0, len(configs)*len(values))
		for _, base := range configs {
			for _, v := range values {
				p := make(algorithms.Params, len(base)+1)
				for k, bv := range base {
					p[k] = bv
				}
				p[dim.Name] = v
				next = append(next, p)
			}
		}
		configs = next
	}
	return configs
}

// runTrial fits and validates one configuration across all folds. Any fit
// or prediction error fails the whole trial.
func (e *Engine) runTrial(index int, params algorithms.Params, folds []split.Fold, train algorithms.TrainingData) Trial {
	started := time.Now()
	trial := Trial{
		Index:     index,
		Algorithm: e.adapter.Name(),
		Params:    params,
		Folds:     folds,
		Score:     math.Inf(1),
	}

	var foldMetrics []evaluation.Metrics
	for _, fold := range folds {
		state, err := e.adapter.Fit(sliceTraining(train, fold.TrainStart, fold.TrainEnd), params)
		if err != nil {
			trial.Error = err.Error()
			trial.Duration = time.Since(started)
			return trial
		}

		preds, err := e.predictFold(state, fold, train)
		if err != nil {
			trial.Error = err.Error()
			trial.Duration = time.Since(started)
			return trial
		}

		points := make([]float64, len(preds))
		for i, p := range preds {
			points[i] = p.Point
		}
		m, err := evaluation.Evaluate(train.Values[fold.ValStart:fold.ValEnd], points)
		if err != nil {
			trial.Error = err.Error()
			trial.Duration = time.Since(started)
			return trial
		}
		foldMetrics = append(foldMetrics, m)
	}

	trial.FoldMetrics = foldMetrics
	trial.Metrics = evaluation.Mean(foldMetrics)
	trial.Duration = time.Since(started)

	if math.IsNaN(trial.Metrics.MAPE) {
		trial.Error = "validation MAPE undefined (all actuals zero)"
		return trial
	}
	trial.Score = trial.Metrics.MAPE
	trial.Succeeded = true
	return trial
}

// predictFold scores the validation window. Adapters that consume
// caller-supplied rows get the true exogenous values for the window;
// everything else forecasts by horizon step.
func (e *Engine) predictFold(state *algorithms.FittedState, fold split.Fold, train algorithms.TrainingData) ([]algorithms.Prediction, error) {
	const confidence = 0.95
	rp, ok := e.adapter.(algorithms.RowPredictor)
	if !ok || len(train.Features) == 0 {
		return e.adapter.Predict(state, fold.ValSize(), confidence)
	}

	rows := make([]algorithms.FutureRow, fold.ValSize())
	for i := range rows {
		idx := fold.ValStart + i
		feats := make(map[string]float64, len(train.Features))
		for col, vals := range train.Features {
			feats[col] = vals[idx]
		}
		rows[i] = algorithms.FutureRow{Timestamp: train.Timestamps[idx], Features: feats}
	}
	return rp.PredictRows(state, rows, confidence)
}

// better reports whether candidate beats current: lower MAPE, then lower
// RMSE, then the earlier trial (current wins ties on both).
func better(candidate, current *Trial) bool {
	if current == nil {
		return true
	}
	if candidate.Score != current.Score {
		return candidate.Score < current.Score
	}
	return candidate.Metrics.RMSE < current.Metrics.RMSE
}

func sliceTraining(t algorithms.TrainingData, start, end int) algorithms.TrainingData {
	out := algorithms.TrainingData{
		Values:     t.Values[start:end],
		Timestamps: t.Timestamps[start:end],
		Frequency:  t.Frequency,
	}
	if len(t.Features) > 0 {
		out.Features = make(map[string][]float64, len(t.Features))
		for col, vals := range t.Features {
			out.Features[col] = vals[start:end]
		}
	}
	return out
}

func paramKey(p algorithms.Params) string {
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Sprintf("%v", p)
	}
	return string(b)
}

func lastError(trials []Trial) string {
	for i := len(trials) - 1; i >= 0; i-- {
		if trials[i].Error != "" {
			return trials[i].Error
		}
	}
	return "no trials executed"
}

// IsInsufficientData reports whether a search failed before its first trial
// because the series is too short for any fold layout.
func IsInsufficientData(res *Result) bool {
	return res.Status == StatusFailed && errors.Is(res.Err, split.ErrInsufficientData)
}
