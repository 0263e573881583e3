package split

import (
	"errors"
	"testing"
)

func TestSplit_ExpandingWindow(t *testing.T) {
	folds, err := Split(100, Config{Folds: 3, MinTrainSize: 30, ValSize: 10})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(folds) != 3 {
		t.Fatalf("expected 3 folds, got %d", len(folds))
	}

	for i, f := range folds {
		if f.TrainStart != 0 {
			t.Errorf("fold %d: train must start at 0, got %d", i, f.TrainStart)
		}
		if f.TrainEnd != f.ValStart {
			t.Errorf("fold %d: train end %d != val start %d", i, f.TrainEnd, f.ValStart)
		}
		if f.ValSize() != 10 {
			t.Errorf("fold %d: val size %d, want 10", i, f.ValSize())
		}
		if f.TrainSize() < 30 {
			t.Errorf("fold %d: train size %d below minimum", i, f.TrainSize())
		}
	}

	// Walk-forward order: later folds validate on later windows.
	for i := 1; i < len(folds); i++ {
		if folds[i].ValStart <= folds[i-1].ValStart {
			t.Error("folds not in walk-forward order")
		}
	}
	if folds[len(folds)-1].ValEnd != 100 {
		t.Errorf("last fold must validate through the series end, got %d", folds[len(folds)-1].ValEnd)
	}
}

func TestSplit_TrainAlwaysPrecedesValidation(t *testing.T) {
	folds, err := Split(365, Config{Folds: 5, MinTrainSize: 50, ValSize: 30})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, f := range folds {
		if f.TrainEnd > f.ValStart {
			t.Errorf("fold %d: training range overlaps validation range", i)
		}
	}
}

func TestSplit_InsufficientData(t *testing.T) {
	_, err := Split(5, Config{Folds: 3, MinTrainSize: 30, ValSize: 10})
	if !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}
}

func TestSplit_TruncatesFoldsOnShortSeries(t *testing.T) {
	// Only one fold fits: 40 observations, min train 25, val 10.
	folds, err := Split(40, Config{Folds: 5, MinTrainSize: 25, ValSize: 10})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(folds) != 1 {
		t.Fatalf("expected 1 fold, got %d", len(folds))
	}
}

func TestValidationSize(t *testing.T) {
	tests := []struct {
		horizon, foldSize, want int
	}{
		{30, 0, 30},
		{30, 10, 10},
		{7, 30, 7},
		{0, 0, 1},
	}
	for _, tt := range tests {
		if got := ValidationSize(tt.horizon, tt.foldSize); got != tt.want {
			t.Errorf("ValidationSize(%d, %d) = %d, want %d", tt.horizon, tt.foldSize, got, tt.want)
		}
	}
}
