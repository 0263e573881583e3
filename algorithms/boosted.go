package algorithms

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"automl-forecast-engine/dataset"
	"automl-forecast-engine/split"
)

// boostSeed fixes the subsampling RNG so a fitted state is fully
// determined by its training data and hyperparameters.
const boostSeed = 42

// minBoostRows is the smallest usable training matrix after the lag
// warm-up prefix is dropped.
const minBoostRows = 20

// BoostedAdapter is a gradient-boosted regression tree forecaster over
// engineered lag/rolling/calendar features plus any exogenous columns.
// The two registered variants differ in how each tree grows: TreeBoost
// expands depth-wise to a maximum depth, LeafBoost grows leaf-wise to a
// leaf budget. Intervals are empirical residual quantiles widened with
// the horizon step.
type BoostedAdapter struct {
	name     string
	space    SearchSpace
	leafwise bool
}

// NewTreeBoost returns the depth-wise boosted tree variant.
func NewTreeBoost() *BoostedAdapter {
	return &BoostedAdapter{
		name: TreeBoost,
		space: SearchSpace{
			{Name: "n_estimators", Type: IntegerDim, Min: 50, Max: 300},
			{Name: "max_depth", Type: IntegerDim, Min: 3, Max: 10},
			{Name: "learning_rate", Type: ContinuousDim, Min: 0.01, Max: 0.3, Log: true},
			{Name: "subsample", Type: ContinuousDim, Min: 0.6, Max: 1.0},
		},
	}
}

// NewLeafBoost returns the leaf-wise boosted tree variant.
func NewLeafBoost() *BoostedAdapter {
	return &BoostedAdapter{
		name:     LeafBoost,
		leafwise: true,
		space: SearchSpace{
			{Name: "n_estimators", Type: IntegerDim, Min: 50, Max: 300},
			{Name: "num_leaves", Type: IntegerDim, Min: 15, Max: 127},
			{Name: "learning_rate", Type: ContinuousDim, Min: 0.01, Max: 0.3, Log: true},
			{Name: "subsample", Type: ContinuousDim, Min: 0.6, Max: 1.0},
		},
	}
}

type boostTree struct {
	Feature   int        `json:"f"`
	Threshold float64    `json:"t"`
	Left      *boostTree `json:"l,omitempty"`
	Right     *boostTree `json:"r,omitempty"`
	Value     float64    `json:"v"`
	Leaf      bool       `json:"leaf"`
}

type boostState struct {
	Baseline     float64            `json:"baseline"`
	LearningRate float64            `json:"learning_rate"`
	Trees        []*boostTree       `json:"trees"`
	Residuals    []float64          `json:"residuals"` // sorted in-sample residuals
	Tail         []float64          `json:"tail"`      // trailing targets for lag recursion
	Exogenous    []string           `json:"exogenous,omitempty"`
	LastExo      map[string]float64 `json:"last_exo,omitempty"`
}

func (a *BoostedAdapter) Name() string { return a.name }

func (a *BoostedAdapter) Space() SearchSpace { return a.space }

func (a *BoostedAdapter) Fit(train TrainingData, params Params) (*FittedState, error) {
	builder := dataset.NewFeatureBuilder()
	rows, targets, indices := builder.Matrix(train.Values, train.Timestamps)
	if len(rows) < minBoostRows {
		return nil, &FitError{
			Algorithm: a.Name(),
			Reason: fmt.Sprintf("%d usable rows after %d-step lag warm-up, need at least %d",
				len(rows), builder.MaxLag(), minBoostRows),
			Err: split.ErrInsufficientData,
		}
	}

	// Append exogenous columns, aligned to the surviving row indices.
	exo := train.FeatureColumns()
	for _, col := range exo {
		vals := train.Features[col]
		for k, i := range indices {
			rows[k] = append(rows[k], vals[i])
		}
	}

	nTrees := params.Int("n_estimators", 100)
	lr := params.Float("learning_rate", 0.1)
	subsample := params.Float("subsample", 0.8)

	grow := func(idx []int, resid []float64) *boostTree {
		if a.leafwise {
			return growLeafwise(rows, resid, idx, params.Int("num_leaves", 31))
		}
		return growDepthwise(rows, resid, idx, params.Int("max_depth", 6), 0)
	}

	rng := rand.New(rand.NewSource(boostSeed))
	baseline := mean(targets)
	preds := make([]float64, len(targets))
	for i := range preds {
		preds[i] = baseline
	}

	trees := make([]*boostTree, 0, nTrees)
	resid := make([]float64, len(targets))
	for m := 0; m < nTrees; m++ {
		for i := range targets {
			resid[i] = targets[i] - preds[i]
		}

		idx := sampleRows(len(rows), subsample, rng)
		tree := grow(idx, resid)
		if tree == nil {
			break
		}
		trees = append(trees, tree)

		for i := range rows {
			preds[i] += lr * tree.predict(rows[i])
		}
	}

	finalResid := make([]float64, len(targets))
	for i := range targets {
		finalResid[i] = targets[i] - preds[i]
		if math.IsNaN(finalResid[i]) || math.IsInf(finalResid[i], 0) {
			return nil, &FitError{Algorithm: a.Name(), Reason: "boosting diverged"}
		}
	}
	sort.Float64s(finalResid)

	tailLen := builder.MaxLag()
	lastExo := make(map[string]float64, len(exo))
	for _, col := range exo {
		vals := train.Features[col]
		lastExo[col] = vals[len(vals)-1]
	}

	payload, err := json.Marshal(boostState{
		Baseline:     baseline,
		LearningRate: lr,
		Trees:        trees,
		Residuals:    finalResid,
		Tail:         append([]float64{}, train.Values[len(train.Values)-tailLen:]...),
		Exogenous:    exo,
		LastExo:      lastExo,
	})
	if err != nil {
		return nil, &FitError{Algorithm: a.Name(), Reason: "encoding state", Err: err}
	}

	return &FittedState{
		Algorithm:      a.Name(),
		Params:         params,
		TrainEnd:       train.Timestamps[len(train.Timestamps)-1],
		Frequency:      train.Frequency,
		FeatureColumns: exo,
		Payload:        payload,
	}, nil
}

func (a *BoostedAdapter) Predict(state *FittedState, horizon int, confidence float64) ([]Prediction, error) {
	return a.predictSteps(state, horizon, confidence, nil)
}

// PredictRows scores caller-supplied future rows, using their exogenous
// feature values where provided. Rows must be timestamp-ordered.
func (a *BoostedAdapter) PredictRows(state *FittedState, rows []FutureRow, confidence float64) ([]Prediction, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	steps := make([]int, len(rows))
	exoBySteps := make(map[int]map[string]float64, len(rows))
	maxStep := 0
	for i, row := range rows {
		if state.Frequency <= 0 {
			return nil, fmt.Errorf("%s: fitted state has no sampling frequency", a.name)
		}
		k := int(math.Round(float64(row.Timestamp.Sub(state.TrainEnd)) / float64(state.Frequency)))
		if k < 1 {
			return nil, fmt.Errorf("%s: timestamp %v does not follow the training window", a.name, row.Timestamp)
		}
		steps[i] = k
		exoBySteps[k] = row.Features
		if k > maxStep {
			maxStep = k
		}
	}

	all, err := a.predictSteps(state, maxStep, confidence, exoBySteps)
	if err != nil {
		return nil, err
	}
	out := make([]Prediction, len(rows))
	for i, k := range steps {
		out[i] = all[k-1]
	}
	return out, nil
}

// predictSteps runs the recursive multi-step forecast. exoBySteps, when
// non-nil, overrides the carry-forward exogenous values at given steps.
func (a *BoostedAdapter) predictSteps(state *FittedState, horizon int, confidence float64, exoBySteps map[int]map[string]float64) ([]Prediction, error) {
	var s boostState
	if err := json.Unmarshal(state.Payload, &s); err != nil {
		return nil, fmt.Errorf("%s: decoding state: %w", a.name, err)
	}

	builder := dataset.NewFeatureBuilder()
	values := append([]float64{}, s.Tail...)
	alpha := (1 - confidence) / 2
	qLo := quantile(s.Residuals, alpha)
	qHi := quantile(s.Residuals, 1-alpha)

	preds := make([]Prediction, horizon)
	for k := 1; k <= horizon; k++ {
		ts := state.TrainEnd.Add(time.Duration(k) * state.Frequency)
		row := builder.Row(values, ts, len(values))
		for _, col := range s.Exogenous {
			v := s.LastExo[col]
			if exo, ok := exoBySteps[k]; ok {
				if supplied, ok := exo[col]; ok {
					v = supplied
				}
			}
			row = append(row, v)
		}

		point := s.Baseline
		for _, tree := range s.Trees {
			point += s.LearningRate * tree.predict(row)
		}
		values = append(values, point)

		// One-step residual quantiles widened by sqrt(step): recursive
		// forecasts compound their own errors further out.
		scale := math.Sqrt(float64(k))
		preds[k-1] = Prediction{
			Point: point,
			Lower: point + qLo*scale,
			Upper: point + qHi*scale,
		}
	}
	return preds, nil
}

func (t *boostTree) predict(row []float64) float64 {
	node := t
	for !node.Leaf {
		v := row[node.Feature]
		if math.IsNaN(v) || v <= node.Threshold {
			node = node.Left
		} else {
			node = node.Right
		}
	}
	return node.Value
}

const minLeafSize = 5

type splitChoice struct {
	feature   int
	threshold float64
	gain      float64
	left      []int
	right     []int
}

// bestSplit scans quantile-candidate thresholds per feature for the SSE
// reduction maximizing split of idx.
func bestSplit(rows [][]float64, resid []float64, idx []int) *splitChoice {
	if len(idx) < 2*minLeafSize {
		return nil
	}
	parentSSE, _ := sseOf(resid, idx)

	var best *splitChoice
	nFeatures := len(rows[idx[0]])
	vals := make([]float64, 0, len(idx))
	for f := 0; f < nFeatures; f++ {
		vals = vals[:0]
		for _, i := range idx {
			if !math.IsNaN(rows[i][f]) {
				vals = append(vals, rows[i][f])
			}
		}
		if len(vals) < 2 {
			continue
		}
		sort.Float64s(vals)

		// At most 16 candidate thresholds per feature.
		nCand := 16
		if len(vals)-1 < nCand {
			nCand = len(vals) - 1
		}
		for c := 1; c <= nCand; c++ {
			pos := c * (len(vals) - 1) / (nCand + 1)
			threshold := vals[pos]
			if vals[pos] == vals[len(vals)-1] {
				continue
			}

			var left, right []int
			for _, i := range idx {
				v := rows[i][f]
				if math.IsNaN(v) || v <= threshold {
					left = append(left, i)
				} else {
					right = append(right, i)
				}
			}
			if len(left) < minLeafSize || len(right) < minLeafSize {
				continue
			}

			lSSE, _ := sseOf(resid, left)
			rSSE, _ := sseOf(resid, right)
			gain := parentSSE - lSSE - rSSE
			if best == nil || gain > best.gain {
				best = &splitChoice{feature: f, threshold: threshold, gain: gain, left: left, right: right}
			}
		}
	}
	if best == nil || best.gain <= 0 {
		return nil
	}
	return best
}

// growDepthwise builds a tree by recursive splitting to maxDepth.
func growDepthwise(rows [][]float64, resid []float64, idx []int, maxDepth, depth int) *boostTree {
	if len(idx) == 0 {
		return nil
	}
	_, leafMean := sseOf(resid, idx)
	if depth >= maxDepth {
		return &boostTree{Leaf: true, Value: leafMean}
	}
	choice := bestSplit(rows, resid, idx)
	if choice == nil {
		return &boostTree{Leaf: true, Value: leafMean}
	}
	return &boostTree{
		Feature:   choice.feature,
		Threshold: choice.threshold,
		Left:      growDepthwise(rows, resid, choice.left, maxDepth, depth+1),
		Right:     growDepthwise(rows, resid, choice.right, maxDepth, depth+1),
	}
}

// growLeafwise repeatedly splits the highest-gain leaf until the leaf
// budget is spent.
func growLeafwise(rows [][]float64, resid []float64, idx []int, numLeaves int) *boostTree {
	if len(idx) == 0 {
		return nil
	}
	_, rootMean := sseOf(resid, idx)
	root := &boostTree{Leaf: true, Value: rootMean}

	type openLeaf struct {
		node *boostTree
		idx  []int
	}
	open := []openLeaf{{node: root, idx: idx}}
	leaves := 1

	for leaves < numLeaves {
		bestLeaf := -1
		var bestChoice *splitChoice
		for i, leaf := range open {
			choice := bestSplit(rows, resid, leaf.idx)
			if choice == nil {
				continue
			}
			if bestChoice == nil || choice.gain > bestChoice.gain {
				bestLeaf = i
				bestChoice = choice
			}
		}
		if bestChoice == nil {
			break
		}

		node := open[bestLeaf].node
		_, lMean := sseOf(resid, bestChoice.left)
		_, rMean := sseOf(resid, bestChoice.right)
		node.Leaf = false
		node.Value = 0
		node.Feature = bestChoice.feature
		node.Threshold = bestChoice.threshold
		node.Left = &boostTree{Leaf: true, Value: lMean}
		node.Right = &boostTree{Leaf: true, Value: rMean}

		open = append(open[:bestLeaf], open[bestLeaf+1:]...)
		open = append(open,
			openLeaf{node: node.Left, idx: bestChoice.left},
			openLeaf{node: node.Right, idx: bestChoice.right})
		leaves++
	}
	return root
}

func sseOf(resid []float64, idx []int) (sse, m float64) {
	for _, i := range idx {
		m += resid[i]
	}
	m /= float64(len(idx))
	for _, i := range idx {
		d := resid[i] - m
		sse += d * d
	}
	return sse, m
}

// sampleRows draws a subsample of row indices without replacement.
func sampleRows(n int, fraction float64, rng *rand.Rand) []int {
	k := int(fraction * float64(n))
	if k < minLeafSize*2 {
		k = n
	}
	if k >= n {
		idx := make([]int, n)
		for i := range idx {
			idx[i] = i
		}
		return idx
	}
	perm := rng.Perm(n)[:k]
	sort.Ints(perm)
	return perm
}

// quantile interpolates the q-quantile of sorted values.
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
