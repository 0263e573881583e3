// Package automl orchestrates AutoML training runs: it fans a request's
// algorithm list out to per-algorithm hyperparameter searches, aggregates
// their results, refits the winning configuration on the full series, and
// persists it as the dataset's best model.
package automl

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"automl-forecast-engine/algorithms"
	"automl-forecast-engine/dataset"
	"automl-forecast-engine/modelstore"
	"automl-forecast-engine/search"
	"automl-forecast-engine/split"
)

// RunStatus is the lifecycle state of one AutoML run.
type RunStatus string

const (
	StatusQueued    RunStatus = "queued"
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
)

// ErrRunNotFound reports a lookup for an unknown run id.
var ErrRunNotFound = errors.New("run not found")

const (
	// MaxHorizon is the default bound on how far ahead a request may ask
	// to forecast; Config.MaxHorizon overrides it.
	MaxHorizon = 365

	defaultMinTrainSize = 30
)

// TrainingRequest describes one AutoML submission. Immutable once
// submitted.
type TrainingRequest struct {
	DatasetID  string        `json:"dataset_id"`
	Algorithms []string      `json:"algorithms"`
	Horizon    int           `json:"horizon"`
	MaxTrials  int           `json:"max_trials"`
	Timeout    time.Duration `json:"timeout"`
	Folds      int           `json:"folds,omitempty"`
}

// Run is the pollable record of one AutoML execution. AllResults holds one
// entry per requested algorithm once the run is terminal.
type Run struct {
	ID            string           `json:"id"`
	Request       TrainingRequest  `json:"request"`
	Status        RunStatus        `json:"status"`
	AllResults    []*search.Result `json:"all_results,omitempty"`
	BestAlgorithm string           `json:"best_algorithm,omitempty"`
	BestModelID   string           `json:"best_model_id,omitempty"`
	Error         string           `json:"error,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	StartedAt     *time.Time       `json:"started_at,omitempty"`
	FinishedAt    *time.Time       `json:"finished_at,omitempty"`
	Elapsed       time.Duration    `json:"elapsed"`
}

// Terminal reports whether the run has left the running state for good.
func (r *Run) Terminal() bool {
	return r.Status == StatusCompleted || r.Status == StatusFailed
}

// Config tunes the orchestrator.
type Config struct {
	// Workers bounds how many algorithms fit concurrently within one run.
	Workers int
	// Seed makes trial proposals reproducible across identical runs.
	Seed int64
	// FoldSize caps the validation window length per fold.
	FoldSize int
	// DefaultFolds, DefaultMaxTrials, and DefaultTimeout fill request
	// fields the caller omits.
	DefaultFolds     int
	DefaultMaxTrials int
	DefaultTimeout   time.Duration
	// MaxHorizon bounds how far ahead a request may ask to forecast.
	MaxHorizon int
}

func (c Config) withDefaults() Config {
	if c.Workers < 1 {
		c.Workers = 2
	}
	if c.FoldSize < 1 {
		c.FoldSize = 30
	}
	if c.DefaultFolds < 1 {
		c.DefaultFolds = 3
	}
	if c.DefaultMaxTrials < 1 {
		c.DefaultMaxTrials = 20
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 10 * time.Minute
	}
	if c.MaxHorizon < 1 {
		c.MaxHorizon = MaxHorizon
	}
	return c
}

// runEntry pairs the shared run record with its cancellation hook. The
// record is mutated only through Orchestrator.mutate.
type runEntry struct {
	run     *Run
	dataset *dataset.Ref
	cancel  context.CancelFunc
}

// Orchestrator owns every run record and is the single writer of run and
// model state transitions.
type Orchestrator struct {
	cfg     Config
	store   modelstore.Store
	log     *logrus.Logger
	metrics *Metrics

	mu   sync.RWMutex
	runs map[string]*runEntry
	wg   sync.WaitGroup
}

// New builds an orchestrator persisting winners into store.
func New(cfg Config, store modelstore.Store, logger *logrus.Logger, metrics *Metrics) *Orchestrator {
	if logger == nil {
		logger = logrus.New()
	}
	if metrics == nil {
		metrics = NopMetrics()
	}
	return &Orchestrator{
		cfg:     cfg.withDefaults(),
		store:   store,
		log:     logger,
		metrics: metrics,
		runs:    make(map[string]*runEntry),
	}
}

// Submit fills omitted request fields from the configured defaults,
// validates the result, registers a queued run, and starts training in the
// background. The returned handle is a snapshot; poll GetRun for progress.
func (o *Orchestrator) Submit(req TrainingRequest, ds *dataset.Ref) (*Run, error) {
	req = o.applyDefaults(req)
	if err := o.validateRequest(req); err != nil {
		return nil, err
	}
	if ds == nil || ds.Len() == 0 {
		return nil, errors.New("automl: dataset is empty")
	}

	ctx, cancel := context.WithCancel(context.Background())
	run := &Run{
		ID:        uuid.New().String(),
		Request:   req,
		Status:    StatusQueued,
		CreatedAt: time.Now().UTC(),
	}

	o.mu.Lock()
	o.runs[run.ID] = &runEntry{run: run, dataset: ds, cancel: cancel}
	o.mu.Unlock()

	o.metrics.RunSubmitted()
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.execute(ctx, run.ID)
	}()

	return o.snapshot(run.ID)
}

// GetRun returns a snapshot of the run record.
func (o *Orchestrator) GetRun(id string) (*Run, error) { return o.snapshot(id) }

// ListRuns returns snapshots of every run, newest first.
func (o *Orchestrator) ListRuns() []*Run {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make([]*Run, 0, len(o.runs))
	for _, e := range o.runs {
		out = append(out, cloneRun(e.run))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Cancel requests cancellation of a run. In-flight fits finish; the search
// loops observe the signal between trials, so cancellation latency is
// bounded by one trial's duration.
func (o *Orchestrator) Cancel(id string) error {
	o.mu.RLock()
	e, ok := o.runs[id]
	o.mu.RUnlock()
	if !ok {
		return ErrRunNotFound
	}
	e.cancel()
	return nil
}

// Wait blocks until every background run has finished. Intended for
// shutdown and tests.
func (o *Orchestrator) Wait() { o.wg.Wait() }

// execute drives one run from queued to a terminal state.
func (o *Orchestrator) execute(ctx context.Context, runID string) {
	started := time.Now()
	log := o.log.WithField("run_id", runID)

	var req TrainingRequest
	var ds *dataset.Ref
	o.mutate(runID, func(e *runEntry) {
		now := started.UTC()
		e.run.Status = StatusRunning
		e.run.StartedAt = &now
		req = e.run.Request
		ds = e.dataset
	})
	log.WithFields(logrus.Fields{
		"dataset":    req.DatasetID,
		"algorithms": req.Algorithms,
		"horizon":    req.Horizon,
	}).Info("automl run started")

	train := algorithms.TrainingData{
		Values:     ds.Target,
		Timestamps: ds.Timestamps,
		Frequency:  ds.Frequency,
		Features:   ds.Features,
	}

	results := o.searchAll(ctx, req, train)
	elapsed := time.Since(started)

	// Cancellation before any terminal bookkeeping: the run fails with an
	// explicit reason and nothing is persisted.
	if ctx.Err() != nil {
		o.finish(runID, func(r *Run) {
			r.Status = StatusFailed
			r.Error = "run cancelled by caller"
			r.AllResults = results
			r.Elapsed = elapsed
		})
		log.Info("automl run cancelled")
		return
	}

	winner := pickWinner(results)
	if winner == nil {
		o.finish(runID, func(r *Run) {
			r.Status = StatusFailed
			r.Error = aggregateFailure(results)
			r.AllResults = results
			r.Elapsed = elapsed
		})
		log.Warn("automl run failed: no algorithm produced a usable trial")
		return
	}

	modelID, err := o.persistWinner(req, train, winner)
	if err != nil {
		o.finish(runID, func(r *Run) {
			r.Status = StatusFailed
			r.Error = fmt.Sprintf("refitting winning configuration: %v", err)
			r.AllResults = results
			r.Elapsed = elapsed
		})
		log.WithError(err).Warn("automl run failed during final refit")
		return
	}

	o.finish(runID, func(r *Run) {
		r.Status = StatusCompleted
		r.BestAlgorithm = winner.Algorithm
		r.BestModelID = modelID
		r.AllResults = results
		r.Elapsed = elapsed
	})
	log.WithFields(logrus.Fields{
		"best_algorithm": winner.Algorithm,
		"best_mape":      winner.Best.Metrics.MAPE,
		"elapsed":        elapsed,
	}).Info("automl run completed")
}

// searchAll runs each algorithm's search in the worker pool. Each worker
// appends into its own result slot, so result writes never contend.
func (o *Orchestrator) searchAll(ctx context.Context, req TrainingRequest, train algorithms.TrainingData) []*search.Result {
	results := make([]*search.Result, len(req.Algorithms))
	sem := make(chan struct{}, o.cfg.Workers)
	var wg sync.WaitGroup

	for i, id := range req.Algorithms {
		wg.Add(1)
		go func(slot int, algoID string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			adapter, err := algorithms.Lookup(algoID)
			if err != nil {
				results[slot] = &search.Result{
					Algorithm: algoID,
					Status:    search.StatusFailed,
					Error:     err.Error(),
					Err:       err,
				}
				return
			}

			eng := search.New(adapter, search.Config{
				MaxTrials:    req.MaxTrials,
				Timeout:      req.Timeout,
				Folds:        req.Folds,
				MinTrainSize: defaultMinTrainSize,
				ValSize:      split.ValidationSize(req.Horizon, o.cfg.FoldSize),
				Seed:         o.cfg.Seed + int64(slot),
			}, o.log)
			res := eng.Run(ctx, train)
			results[slot] = res
			o.metrics.SearchFinished(algoID, string(res.Status), len(res.Trials))
		}(i, id)
	}
	wg.Wait()
	return results
}

// persistWinner refits the winning configuration on the full series and
// saves it as the dataset's best model.
func (o *Orchestrator) persistWinner(req TrainingRequest, train algorithms.TrainingData, winner *search.Result) (string, error) {
	adapter, err := algorithms.Lookup(winner.Algorithm)
	if err != nil {
		return "", err
	}

	fitStart := time.Now()
	state, err := adapter.Fit(train, winner.Best.Params)
	if err != nil {
		return "", err
	}
	blob, err := state.Encode()
	if err != nil {
		return "", err
	}

	model := &modelstore.TrainedModel{
		DatasetID:       req.DatasetID,
		Algorithm:       winner.Algorithm,
		Hyperparameters: winner.Best.Params,
		Metrics:         winner.Best.Metrics,
		TrainingTime:    time.Since(fitStart),
		Status:          modelstore.StatusCompleted,
		StateBlob:       blob,
	}
	if err := o.store.Save(model); err != nil {
		return "", err
	}
	if err := o.store.MarkBest(req.DatasetID, model.ID); err != nil {
		return "", err
	}
	return model.ID, nil
}

// finish applies the terminal transition and records run metrics.
func (o *Orchestrator) finish(runID string, apply func(*Run)) {
	var status RunStatus
	var elapsed time.Duration
	o.mutate(runID, func(e *runEntry) {
		apply(e.run)
		now := time.Now().UTC()
		e.run.FinishedAt = &now
		status = e.run.Status
		elapsed = e.run.Elapsed
	})
	o.metrics.RunFinished(string(status), elapsed)
}

// mutate is the single state-transition path for a run record.
func (o *Orchestrator) mutate(runID string, apply func(*runEntry)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if e, ok := o.runs[runID]; ok {
		apply(e)
	}
}

func (o *Orchestrator) snapshot(id string) (*Run, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	e, ok := o.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	return cloneRun(e.run), nil
}

func cloneRun(r *Run) *Run {
	out := *r
	if r.AllResults != nil {
		out.AllResults = append([]*search.Result(nil), r.AllResults...)
	}
	if r.StartedAt != nil {
		t := *r.StartedAt
		out.StartedAt = &t
	}
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		out.FinishedAt = &t
	}
	return &out
}

// applyDefaults fills omitted request fields from the configured defaults.
// Negative values are left for validation to reject.
func (o *Orchestrator) applyDefaults(req TrainingRequest) TrainingRequest {
	if req.MaxTrials == 0 {
		req.MaxTrials = o.cfg.DefaultMaxTrials
	}
	if req.Timeout == 0 {
		req.Timeout = o.cfg.DefaultTimeout
	}
	if req.Folds == 0 {
		req.Folds = o.cfg.DefaultFolds
	}
	return req
}

func (o *Orchestrator) validateRequest(req TrainingRequest) error {
	if req.DatasetID == "" {
		return errors.New("automl: dataset id is required")
	}
	if len(req.Algorithms) == 0 {
		return errors.New("automl: at least one algorithm is required")
	}
	for _, id := range req.Algorithms {
		if _, err := algorithms.Lookup(id); err != nil {
			return fmt.Errorf("automl: %w", err)
		}
	}
	if req.Horizon < 1 || req.Horizon > o.cfg.MaxHorizon {
		return fmt.Errorf("automl: horizon must be in [1, %d], got %d", o.cfg.MaxHorizon, req.Horizon)
	}
	if req.MaxTrials < 1 {
		return errors.New("automl: max trials must be at least 1")
	}
	if req.Timeout <= 0 {
		return errors.New("automl: timeout must be positive")
	}
	if req.Folds < 1 {
		return errors.New("automl: folds must be at least 1")
	}
	return nil
}

// pickWinner chooses the overall best algorithm result: minimum best-trial
// MAPE, ties broken by lower RMSE, then request order (results arrive in
// request order and earlier entries win exact ties).
func pickWinner(results []*search.Result) *search.Result {
	var winner *search.Result
	for _, res := range results {
		if res == nil || res.Best == nil {
			continue
		}
		if winner == nil {
			winner = res
			continue
		}
		switch {
		case res.Best.Metrics.MAPE < winner.Best.Metrics.MAPE:
			winner = res
		case res.Best.Metrics.MAPE == winner.Best.Metrics.MAPE &&
			res.Best.Metrics.RMSE < winner.Best.Metrics.RMSE:
			winner = res
		}
	}
	return winner
}

// aggregateFailure condenses per-algorithm failures into one run-level
// reason, preferring the insufficient-data explanation when every
// algorithm hit it.
func aggregateFailure(results []*search.Result) string {
	if len(results) == 0 {
		return "no algorithms were executed"
	}
	allInsufficient := true
	var reasons []string
	for _, res := range results {
		if res == nil {
			continue
		}
		if !search.IsInsufficientData(res) {
			allInsufficient = false
		}
		if res.Error != "" {
			reasons = append(reasons, fmt.Sprintf("%s: %s", res.Algorithm, res.Error))
		}
	}
	if allInsufficient {
		return "all algorithms failed: " + split.ErrInsufficientData.Error()
	}
	if len(reasons) == 0 {
		return "all algorithms failed without a recorded reason"
	}
	return "all algorithms failed: " + strings.Join(reasons, "; ")
}
