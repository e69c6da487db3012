package dataset

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"XetraCast/internal/domain/models"
)

// WriteJSONLines writes one DeepAR record per line and returns the count.
func WriteJSONLines(w io.Writer, records []models.TimeSeries) (int, error) {
	enc := json.NewEncoder(w)
	for i := range records {
		if err := enc.Encode(records[i]); err != nil {
			return i, fmt.Errorf("encode record %d (%s): %w", i, records[i].Symbol, err)
		}
	}
	return len(records), nil
}

// ReadJSONLines reads records written by WriteJSONLines.
func ReadJSONLines(r io.Reader) ([]models.TimeSeries, error) {
	dec := json.NewDecoder(r)
	var out []models.TimeSeries
	for {
		var ts models.TimeSeries
		err := dec.Decode(&ts)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("decode record %d: %w", len(out), err)
		}
		out = append(out, ts)
	}
}

// Manifest describes a prepared dataset so later commands can reuse it
// without rebuilding the panel.
type Manifest struct {
	Freq             string    `json:"freq"`
	Target           string    `json:"target"`
	Covariates       []string  `json:"covariates"`
	Categories       bool      `json:"categories"`
	PredictionLength int       `json:"prediction_length"`
	TestWindows      int       `json:"test_windows"`
	TrainEnd         time.Time `json:"train_end"`
	Symbols          []string  `json:"symbols"`
	Dropped          []string  `json:"dropped,omitempty"`
	TrainURI         string    `json:"train_uri,omitempty"`
	TestURI          string    `json:"test_uri,omitempty"`
	TrainCount       int       `json:"train_count"`
	TestCount        int       `json:"test_count"`
	CreatedAt        time.Time `json:"created_at"`
}

// Frequency parses the manifest's frequency.
func (m *Manifest) Frequency() (Frequency, error) { return ParseFrequency(m.Freq) }

// RecordOptions rebuilds the options the dataset was written with.
func (m *Manifest) RecordOptions() (RecordOptions, error) {
	target, err := ParseField(m.Target)
	if err != nil {
		return RecordOptions{}, err
	}
	covs, err := ParseFields(m.Covariates)
	if err != nil {
		return RecordOptions{}, err
	}
	return RecordOptions{Target: target, Covariates: covs, Categories: m.Categories}, nil
}
