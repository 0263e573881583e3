// Package forecast turns persisted trained models into bounded
// predictions: a generated horizon stamped at the training frequency, or
// batch scoring of caller-supplied future rows.
package forecast

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"automl-forecast-engine/algorithms"
	"automl-forecast-engine/modelstore"
)

var (
	// ErrModelNotReady reports a forecast request against a model whose
	// training has not completed.
	ErrModelNotReady = errors.New("model is not ready for forecasting")
	// ErrSchemaMismatch reports batch rows whose feature columns differ
	// from the columns the model was trained with.
	ErrSchemaMismatch = errors.New("feature columns do not match the model's training schema")
)

// Point is one forecast step.
type Point struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
	Lower     float64   `json:"lower"`
	Upper     float64   `json:"upper"`
}

// Forecast is one immutable prediction record.
type Forecast struct {
	ID         string    `json:"id"`
	ModelID    string    `json:"model_id"`
	Algorithm  string    `json:"algorithm"`
	Horizon    int       `json:"horizon"`
	Confidence float64   `json:"confidence"`
	Points     []Point   `json:"points"`
	CreatedAt  time.Time `json:"created_at"`
}

// Generator produces forecasts from stored models. It is stateless aside
// from the optional result cache and safe for unbounded concurrent use.
type Generator struct {
	store      modelstore.Store
	cache      Cache
	log        *logrus.Logger
	maxHorizon int
}

// New builds a generator. cache may be nil to disable result caching.
func New(store modelstore.Store, cache Cache, logger *logrus.Logger, maxHorizon int) *Generator {
	if logger == nil {
		logger = logrus.New()
	}
	if maxHorizon < 1 {
		maxHorizon = 365
	}
	return &Generator{store: store, cache: cache, log: logger, maxHorizon: maxHorizon}
}

// Generate produces a horizon of predictions from the model's last
// training observation forward. Validation failures reject synchronously;
// no Forecast record is created for them.
func (g *Generator) Generate(ctx context.Context, modelID string, horizon int, confidence float64) (*Forecast, error) {
	if horizon < 1 || horizon > g.maxHorizon {
		return nil, fmt.Errorf("forecast: horizon must be in [1, %d], got %d", g.maxHorizon, horizon)
	}
	if err := validConfidence(confidence); err != nil {
		return nil, err
	}

	key := cacheKey(modelID, horizon, confidence)
	if g.cache != nil {
		if cached, ok := g.cache.Get(ctx, key); ok {
			return cached, nil
		}
	}

	model, state, adapter, err := g.load(modelID)
	if err != nil {
		return nil, err
	}

	preds, err := adapter.Predict(state, horizon, confidence)
	if err != nil {
		return nil, fmt.Errorf("forecast: %w", err)
	}

	points := make([]Point, len(preds))
	for i, p := range preds {
		points[i] = Point{
			Timestamp: state.TrainEnd.Add(time.Duration(i+1) * state.Frequency),
			Value:     p.Point,
			Lower:     p.Lower,
			Upper:     p.Upper,
		}
	}

	fc := &Forecast{
		ID:         uuid.New().String(),
		ModelID:    model.ID,
		Algorithm:  model.Algorithm,
		Horizon:    horizon,
		Confidence: confidence,
		Points:     points,
		CreatedAt:  time.Now().UTC(),
	}
	if g.cache != nil {
		g.cache.Set(ctx, key, fc)
	}
	g.log.WithFields(logrus.Fields{
		"model_id": model.ID,
		"horizon":  horizon,
	}).Debug("forecast generated")
	return fc, nil
}

// FutureRow is one caller-supplied scoring row for batch prediction.
type FutureRow struct {
	Timestamp time.Time          `json:"timestamp"`
	Features  map[string]float64 `json:"features,omitempty"`
}

// BatchPredict scores the supplied future rows in their given order. Row
// feature columns must match the model's training schema exactly.
func (g *Generator) BatchPredict(ctx context.Context, modelID string, rows []FutureRow, confidence float64) ([]Point, error) {
	if len(rows) == 0 {
		return nil, errors.New("forecast: at least one future row is required")
	}
	if len(rows) > g.maxHorizon {
		return nil, fmt.Errorf("forecast: at most %d rows per batch, got %d", g.maxHorizon, len(rows))
	}
	if err := validConfidence(confidence); err != nil {
		return nil, err
	}

	_, state, adapter, err := g.load(modelID)
	if err != nil {
		return nil, err
	}
	if err := checkSchema(state, rows); err != nil {
		return nil, err
	}

	if rp, ok := adapter.(algorithms.RowPredictor); ok {
		return predictRows(rp, state, rows, confidence)
	}
	return predictBySteps(adapter, state, rows, confidence)
}

// load fetches the model, enforces readiness, and decodes its state.
func (g *Generator) load(modelID string) (*modelstore.TrainedModel, *algorithms.FittedState, algorithms.Adapter, error) {
	model, err := g.store.Get(modelID)
	if err != nil {
		return nil, nil, nil, err
	}
	if model.Status != modelstore.StatusCompleted && model.Status != modelstore.StatusDeployed {
		return nil, nil, nil, fmt.Errorf("forecast: model %s has status %s: %w", modelID, model.Status, ErrModelNotReady)
	}
	state, err := algorithms.DecodeState(model.StateBlob)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("forecast: %w", err)
	}
	adapter, err := algorithms.Lookup(state.Algorithm)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("forecast: %w", err)
	}
	return model, state, adapter, nil
}

func predictRows(rp algorithms.RowPredictor, state *algorithms.FittedState, rows []FutureRow, confidence float64) ([]Point, error) {
	in := make([]algorithms.FutureRow, len(rows))
	for i, r := range rows {
		in[i] = algorithms.FutureRow{Timestamp: r.Timestamp, Features: r.Features}
	}
	preds, err := rp.PredictRows(state, in, confidence)
	if err != nil {
		return nil, fmt.Errorf("forecast: %w", err)
	}
	return toPoints(rows, preds), nil
}

// predictBySteps serves batch rows from adapters without native row
// scoring: each timestamp maps onto its horizon step, and the generated
// forecast at that step answers for the row.
func predictBySteps(adapter algorithms.Adapter, state *algorithms.FittedState, rows []FutureRow, confidence float64) ([]Point, error) {
	steps := make([]int, len(rows))
	maxStep := 0
	for i, r := range rows {
		k := stepFor(state, r.Timestamp)
		if k < 1 {
			return nil, fmt.Errorf("forecast: timestamp %s is not after the training window", r.Timestamp.Format(time.RFC3339))
		}
		steps[i] = k
		if k > maxStep {
			maxStep = k
		}
	}

	preds, err := adapter.Predict(state, maxStep, confidence)
	if err != nil {
		return nil, fmt.Errorf("forecast: %w", err)
	}
	out := make([]algorithms.Prediction, len(rows))
	for i, k := range steps {
		out[i] = preds[k-1]
	}
	return toPoints(rows, out), nil
}

func stepFor(state *algorithms.FittedState, ts time.Time) int {
	if state.Frequency <= 0 {
		return -1
	}
	delta := ts.Sub(state.TrainEnd)
	k := float64(delta) / float64(state.Frequency)
	return int(k + 0.5)
}

func toPoints(rows []FutureRow, preds []algorithms.Prediction) []Point {
	points := make([]Point, len(rows))
	for i, p := range preds {
		points[i] = Point{
			Timestamp: rows[i].Timestamp,
			Value:     p.Point,
			Lower:     p.Lower,
			Upper:     p.Upper,
		}
	}
	return points
}

// checkSchema compares the union of supplied row columns against the
// model's training columns.
func checkSchema(state *algorithms.FittedState, rows []FutureRow) error {
	supplied := map[string]bool{}
	for _, r := range rows {
		for col := range r.Features {
			supplied[col] = true
		}
	}
	trained := state.FeatureColumns

	if len(supplied) != len(trained) {
		return schemaError(trained, supplied)
	}
	for _, col := range trained {
		if !supplied[col] {
			return schemaError(trained, supplied)
		}
	}
	return nil
}

func schemaError(trained []string, supplied map[string]bool) error {
	got := make([]string, 0, len(supplied))
	for col := range supplied {
		got = append(got, col)
	}
	sort.Strings(got)
	return fmt.Errorf("forecast: trained on %v, got %v: %w", trained, got, ErrSchemaMismatch)
}

func validConfidence(confidence float64) error {
	if confidence <= 0 || confidence >= 1 {
		return fmt.Errorf("forecast: confidence level must be in (0, 1), got %g", confidence)
	}
	return nil
}

func cacheKey(modelID string, horizon int, confidence float64) string {
	return fmt.Sprintf("forecast:%s:%d:%g", modelID, horizon, confidence)
}
