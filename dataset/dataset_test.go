package dataset

import (
	"math"
	"strings"
	"testing"
	"time"
)

func dailyTimestamps(n int) []time.Time {
	ts := make([]time.Time, n)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range ts {
		ts[i] = base.AddDate(0, 0, i)
	}
	return ts
}

func TestNew_InfersDailyFrequency(t *testing.T) {
	ts := dailyTimestamps(10)
	target := make([]float64, 10)

	ref, err := New("ds1", "sales", ts, target, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ref.Frequency != 24*time.Hour {
		t.Errorf("expected daily frequency, got %v", ref.Frequency)
	}
}

func TestNew_RejectsUnorderedTimestamps(t *testing.T) {
	ts := dailyTimestamps(5)
	ts[2], ts[3] = ts[3], ts[2]

	if _, err := New("ds1", "sales", ts, make([]float64, 5), nil); err == nil {
		t.Error("expected error for unordered timestamps")
	}
}

func TestNew_RejectsMisalignedFeatures(t *testing.T) {
	_, err := New("ds1", "sales", dailyTimestamps(5), make([]float64, 5),
		map[string][]float64{"promo": {1, 2}})
	if err == nil {
		t.Error("expected error for misaligned feature column")
	}
}

func TestLoadCSVFromReader(t *testing.T) {
	csvData := `date,sales,promo
2024-01-01,100.5,0
2024-01-02,101.0,1
2024-01-03,99.8,0
`
	ref, err := LoadCSVFromReader(strings.NewReader(csvData), "ds1", "sales", CSVOptions{
		DateColumn:     "date",
		TargetColumn:   "sales",
		FeatureColumns: []string{"promo"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ref.Len() != 3 {
		t.Fatalf("expected 3 rows, got %d", ref.Len())
	}
	if ref.Target[1] != 101.0 {
		t.Errorf("expected target 101.0, got %f", ref.Target[1])
	}
	if ref.Features["promo"][1] != 1 {
		t.Errorf("expected promo=1 at index 1, got %f", ref.Features["promo"][1])
	}
}

func TestLoadCSVFromReader_MissingColumn(t *testing.T) {
	csvData := "date,sales\n2024-01-01,100\n"
	_, err := LoadCSVFromReader(strings.NewReader(csvData), "ds1", "s", CSVOptions{
		DateColumn: "date", TargetColumn: "revenue",
	})
	if err == nil {
		t.Error("expected error for missing target column")
	}
}

func TestFeatureBuilder_NoLeakage(t *testing.T) {
	b := NewFeatureBuilder()
	n := 60
	values := make([]float64, n)
	for i := range values {
		values[i] = float64(i)
	}
	ts := dailyTimestamps(n)

	rows, targets, indices := b.Matrix(values, ts)
	if len(rows) != n-b.MaxLag() {
		t.Fatalf("expected %d rows, got %d", n-b.MaxLag(), len(rows))
	}

	// lag_1 must equal the previous observation, never the current one.
	for k, row := range rows {
		i := indices[k]
		if row[0] != values[i-1] {
			t.Fatalf("row %d: lag_1=%f, want %f", k, row[0], values[i-1])
		}
		if targets[k] != values[i] {
			t.Fatalf("row %d: target=%f, want %f", k, targets[k], values[i])
		}
	}
}

func TestFeatureBuilder_RowShapeMatchesColumns(t *testing.T) {
	b := NewFeatureBuilder()
	values := make([]float64, 40)
	row := b.Row(values, time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), 35)
	if len(row) != len(b.Columns()) {
		t.Fatalf("row has %d values, columns are %d", len(row), len(b.Columns()))
	}
	for _, v := range row {
		if math.IsNaN(v) {
			t.Error("no NaN expected past the warm-up prefix")
			break
		}
	}
}
