package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"
)

// CSVOptions controls how a CSV file is parsed into a dataset.
type CSVOptions struct {
	DateColumn     string
	TargetColumn   string
	FeatureColumns []string
	DateFormat     string // default "2006-01-02"
}

// LoadCSV reads a CSV file with a header row into a dataset handle.
func LoadCSV(filename, id, name string, opts CSVOptions) (*Ref, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return LoadCSVFromReader(file, id, name, opts)
}

// LoadCSVFromReader parses CSV data from r into a dataset handle.
func LoadCSVFromReader(r io.Reader, id, name string, opts CSVOptions) (*Ref, error) {
	if opts.DateFormat == "" {
		opts.DateFormat = "2006-01-02"
	}

	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("dataset: reading CSV header: %w", err)
	}

	colIdx := make(map[string]int, len(header))
	for i, col := range header {
		colIdx[col] = i
	}

	dateIdx, ok := colIdx[opts.DateColumn]
	if !ok {
		return nil, fmt.Errorf("dataset: date column %q not found", opts.DateColumn)
	}
	targetIdx, ok := colIdx[opts.TargetColumn]
	if !ok {
		return nil, fmt.Errorf("dataset: target column %q not found", opts.TargetColumn)
	}
	featureIdx := make(map[string]int, len(opts.FeatureColumns))
	for _, col := range opts.FeatureColumns {
		idx, ok := colIdx[col]
		if !ok {
			return nil, fmt.Errorf("dataset: feature column %q not found", col)
		}
		featureIdx[col] = idx
	}

	var (
		timestamps []time.Time
		target     []float64
		features   = make(map[string][]float64, len(featureIdx))
	)
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("dataset: reading CSV line %d: %w", line, err)
		}

		ts, err := time.Parse(opts.DateFormat, record[dateIdx])
		if err != nil {
			return nil, fmt.Errorf("dataset: line %d: bad date %q: %w", line, record[dateIdx], err)
		}
		val, err := strconv.ParseFloat(record[targetIdx], 64)
		if err != nil {
			return nil, fmt.Errorf("dataset: line %d: bad target %q: %w", line, record[targetIdx], err)
		}

		timestamps = append(timestamps, ts)
		target = append(target, val)
		for col, idx := range featureIdx {
			fval, err := strconv.ParseFloat(record[idx], 64)
			if err != nil {
				return nil, fmt.Errorf("dataset: line %d: bad value %q in column %q: %w", line, record[idx], col, err)
			}
			features[col] = append(features[col], fval)
		}
	}

	return New(id, name, timestamps, target, features)
}
