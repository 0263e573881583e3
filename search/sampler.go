package search

import (
	"math"
	"math/rand"
	"sort"

	"automl-forecast-engine/algorithms"
)

// sampler proposes hyperparameter configurations sequentially, in the
// tree-structured Parzen spirit: random exploration during warm-up, then
// draws concentrated around the best-scoring quarter of the history.
type sampler struct {
	space   algorithms.SearchSpace
	rng     *rand.Rand
	history []observation

	warmup   int
	topFrac  float64
	exploit  float64 // probability of sampling near a good observation
}

type observation struct {
	params algorithms.Params
	score  float64
}

func newSampler(space algorithms.SearchSpace, seed int64) *sampler {
	return &sampler{
		space:   space,
		rng:     rand.New(rand.NewSource(seed)),
		warmup:  8,
		topFrac: 0.25,
		exploit: 0.8,
	}
}

// observe records a finished trial's configuration and score.
func (s *sampler) observe(params algorithms.Params, score float64) {
	s.history = append(s.history, observation{params: params, score: score})
}

// propose draws the next configuration.
func (s *sampler) propose() algorithms.Params {
	good := s.goodObservations()
	params := make(algorithms.Params, len(s.space))
	for _, dim := range s.space {
		if len(good) > 0 && s.rng.Float64() < s.exploit {
			params[dim.Name] = s.sampleNear(dim, good)
		} else {
			params[dim.Name] = s.sampleUniform(dim)
		}
	}
	return params
}

// goodObservations returns the top quarter of finite-score history, or
// nil while still warming up.
func (s *sampler) goodObservations() []observation {
	var finite []observation
	for _, obs := range s.history {
		if !math.IsInf(obs.score, 1) && !math.IsNaN(obs.score) {
			finite = append(finite, obs)
		}
	}
	if len(finite) < s.warmup {
		return nil
	}
	sort.Slice(finite, func(i, j int) bool { return finite[i].score < finite[j].score })
	n := int(math.Ceil(s.topFrac * float64(len(finite))))
	if n < 1 {
		n = 1
	}
	return finite[:n]
}

func (s *sampler) sampleUniform(dim algorithms.Dimension) interface{} {
	switch dim.Type {
	case algorithms.CategoricalDim:
		return dim.Choices[s.rng.Intn(len(dim.Choices))]
	case algorithms.IntegerDim:
		lo, hi := int(dim.Min), int(dim.Max)
		return lo + s.rng.Intn(hi-lo+1)
	default:
		if dim.Log {
			lo, hi := math.Log(dim.Min), math.Log(dim.Max)
			return math.Exp(lo + s.rng.Float64()*(hi-lo))
		}
		return dim.Min + s.rng.Float64()*(dim.Max-dim.Min)
	}
}

// sampleNear perturbs the dimension's value from a randomly chosen good
// observation: a kernel draw for numeric dimensions, frequency-weighted
// choice for categorical ones.
func (s *sampler) sampleNear(dim algorithms.Dimension, good []observation) interface{} {
	switch dim.Type {
	case algorithms.CategoricalDim:
		counts := make(map[string]int, len(dim.Choices))
		total := 0
		for _, obs := range good {
			c := obs.params.String(dim.Name, "")
			if c != "" {
				counts[c]++
				total++
			}
		}
		if total == 0 {
			return s.sampleUniform(dim)
		}
		pick := s.rng.Intn(total)
		for _, choice := range dim.Choices {
			pick -= counts[choice]
			if pick < 0 {
				return choice
			}
		}
		return dim.Choices[len(dim.Choices)-1]

	case algorithms.IntegerDim:
		center := good[s.rng.Intn(len(good))].params.Float(dim.Name, (dim.Min+dim.Max)/2)
		width := (dim.Max - dim.Min) / 10
		if width < 1 {
			width = 1
		}
		v := math.Round(center + s.rng.NormFloat64()*width)
		return int(clampFloat(v, dim.Min, dim.Max))

	default:
		center := good[s.rng.Intn(len(good))].params.Float(dim.Name, (dim.Min+dim.Max)/2)
		if dim.Log {
			lo, hi := math.Log(dim.Min), math.Log(dim.Max)
			v := math.Log(center) + s.rng.NormFloat64()*(hi-lo)/10
			return math.Exp(clampFloat(v, lo, hi))
		}
		v := center + s.rng.NormFloat64()*(dim.Max-dim.Min)/10
		return clampFloat(v, dim.Min, dim.Max)
	}
}

func clampFloat(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
