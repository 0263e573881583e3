// Package split produces temporally valid train/validation folds for time
// series cross-validation. Folds never shuffle: every fold's training range
// strictly precedes its validation range, which is the single enforcement
// point against future-information leakage during model selection.
package split

import (
	"errors"
	"fmt"
)

// ErrInsufficientData reports a series too short for the requested folds.
var ErrInsufficientData = errors.New("insufficient data for requested folds")

// Fold is one train/validation split expressed as index ranges over the
// series: train is [TrainStart, TrainEnd), validation is [ValStart, ValEnd).
type Fold struct {
	TrainStart int `json:"train_start"`
	TrainEnd   int `json:"train_end"`
	ValStart   int `json:"val_start"`
	ValEnd     int `json:"val_end"`
}

// TrainSize returns the number of training observations in the fold.
func (f Fold) TrainSize() int { return f.TrainEnd - f.TrainStart }

// ValSize returns the number of validation observations in the fold.
func (f Fold) ValSize() int { return f.ValEnd - f.ValStart }

// Config controls fold generation.
type Config struct {
	Folds        int // number of folds to produce
	MinTrainSize int // smallest acceptable training window
	ValSize      int // validation window length, per fold
}

// Split builds expanding-window folds over a series of length n. Validation
// windows are counted back from the end of the series in steps of ValSize,
// each fold training on everything before its validation window. Folds are
// returned oldest validation window first. Fewer than Config.Folds may be
// returned when the series only supports some of them; a series too short
// for even one fold is ErrInsufficientData.
func Split(n int, cfg Config) ([]Fold, error) {
	if cfg.Folds < 1 {
		return nil, fmt.Errorf("split: folds must be at least 1, got %d", cfg.Folds)
	}
	if cfg.ValSize < 1 {
		cfg.ValSize = 1
	}
	if cfg.MinTrainSize < 1 {
		cfg.MinTrainSize = 1
	}
	if n < cfg.MinTrainSize+cfg.ValSize {
		return nil, fmt.Errorf("split: series of %d observations, need at least %d: %w",
			n, cfg.MinTrainSize+cfg.ValSize, ErrInsufficientData)
	}

	var folds []Fold
	for i := 0; i < cfg.Folds; i++ {
		valEnd := n - i*cfg.ValSize
		valStart := valEnd - cfg.ValSize
		if valStart < cfg.MinTrainSize {
			break
		}
		folds = append(folds, Fold{
			TrainStart: 0,
			TrainEnd:   valStart,
			ValStart:   valStart,
			ValEnd:     valEnd,
		})
	}

	// Oldest validation window first, so walk-forward order reads naturally.
	for i, j := 0, len(folds)-1; i < j; i, j = i+1, j-1 {
		folds[i], folds[j] = folds[j], folds[i]
	}
	return folds, nil
}

// ValidationSize picks the per-fold validation length: the forecast horizon
// capped by the configured fold size, never below 1.
func ValidationSize(horizon, foldSize int) int {
	size := horizon
	if foldSize > 0 && foldSize < size {
		size = foldSize
	}
	if size < 1 {
		size = 1
	}
	return size
}
