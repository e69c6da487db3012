package deepar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"XetraCast/internal/domain/models"
	"XetraCast/internal/services/dataset"
	"XetraCast/pkg/logger"
)

var (
	ErrNotConfigured     = errors.New("deepar: prediction parameters not set")
	ErrDynamicFeatLength = errors.New("deepar: dynamic features must cover history plus horizon")
	ErrHorizonMismatch   = errors.New("deepar: response horizon does not match prediction length")
	ErrMissingQuantile   = errors.New("deepar: response lacks a requested quantile")
)

const (
	OutputMean      = "mean"
	OutputQuantiles = "quantiles"
	OutputSamples   = "samples"
)

// Invoker sends one serialized request to a hosted model and returns the raw response.
type Invoker interface {
	Invoke(ctx context.Context, body []byte) ([]byte, error)
}

// Query is one forecast request. Series carries the history; its dynamic
// features, if any, must extend prediction-length steps past the target.
type Query struct {
	Series      models.TimeSeries
	NumSamples  int
	Quantiles   []string
	OutputTypes []string
}

// config fills in the endpoint defaults: 100 samples, mean and quantiles
// output, and the 0.1/0.5/0.9 quantiles.
func (q Query) config() requestConfig {
	cfg := requestConfig{
		NumSamples:  q.NumSamples,
		OutputTypes: q.OutputTypes,
		Quantiles:   q.Quantiles,
	}
	if cfg.NumSamples <= 0 {
		cfg.NumSamples = 100
	}
	if len(cfg.OutputTypes) == 0 {
		cfg.OutputTypes = []string{OutputMean, OutputQuantiles}
	}
	if len(cfg.Quantiles) == 0 {
		cfg.Quantiles = []string{"0.1", "0.5", "0.9"}
	}
	return cfg
}

func (c requestConfig) wants(output string) bool {
	for _, o := range c.OutputTypes {
		if o == output {
			return true
		}
	}
	return false
}

type requestConfig struct {
	NumSamples  int      `json:"num_samples"`
	OutputTypes []string `json:"output_types"`
	Quantiles   []string `json:"quantiles"`
}

type request struct {
	Instances     []models.TimeSeries `json:"instances"`
	Configuration requestConfig       `json:"configuration"`
}

type prediction struct {
	Mean      []float64            `json:"mean"`
	Quantiles map[string][]float64 `json:"quantiles"`
	Samples   [][]float64          `json:"samples"`
}

type response struct {
	Predictions []prediction `json:"predictions"`
}

// Predictor encodes queries for a DeepAR endpoint and decodes its forecasts.
type Predictor struct {
	inv              Invoker
	log              *logger.Logger
	freq             dataset.Frequency
	predictionLength int
}

func NewPredictor(inv Invoker, log *logger.Logger) *Predictor {
	if log == nil {
		log = logger.NewNop()
	}
	return &Predictor{inv: inv, log: log.With("predictor")}
}

// SetPredictionParameters fixes the series frequency and the horizon the
// endpoint was trained for. Predict refuses to run until this is called.
func (p *Predictor) SetPredictionParameters(freq dataset.Frequency, predictionLength int) error {
	if predictionLength <= 0 {
		return fmt.Errorf("prediction length must be positive, got %d", predictionLength)
	}
	p.freq = freq
	p.predictionLength = predictionLength
	return nil
}

// PredictionLength returns the configured horizon, zero when unset.
func (p *Predictor) PredictionLength() int { return p.predictionLength }

// Predict sends q to the endpoint and returns the decoded forecast.
func (p *Predictor) Predict(ctx context.Context, q Query) (*models.Forecast, error) {
	body, err := p.EncodeRequest(q)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	raw, err := p.inv.Invoke(ctx, body)
	if err != nil {
		return nil, fmt.Errorf("invoke endpoint for %s: %w", q.Series.Symbol, err)
	}
	p.log.Debug("endpoint invoked",
		logger.String("symbol", q.Series.Symbol),
		logger.Int("request_bytes", len(body)),
		logger.Int("response_bytes", len(raw)),
		logger.Duration("elapsed", time.Since(start)),
	)
	return p.DecodeResponse(q, raw)
}

// EncodeRequest validates q and renders the JSON request body.
func (p *Predictor) EncodeRequest(q Query) ([]byte, error) {
	if p.predictionLength <= 0 {
		return nil, ErrNotConfigured
	}
	if q.Series.Len() == 0 {
		return nil, fmt.Errorf("predict %s: empty target", q.Series.Symbol)
	}
	want := q.Series.Len() + p.predictionLength
	for i, f := range q.Series.DynamicFeat {
		if len(f) != want {
			return nil, fmt.Errorf("%w: feature %d of %s has %d points, want %d",
				ErrDynamicFeatLength, i, q.Series.Symbol, len(f), want)
		}
	}

	body, err := json.Marshal(request{
		Instances:     []models.TimeSeries{q.Series},
		Configuration: q.config(),
	})
	if err != nil {
		return nil, fmt.Errorf("encode request for %s: %w", q.Series.Symbol, err)
	}
	return body, nil
}

// DecodeResponse parses the endpoint's answer to q. Every returned sequence
// must span the prediction length, and when quantiles were requested each
// requested quantile must be present.
func (p *Predictor) DecodeResponse(q Query, raw []byte) (*models.Forecast, error) {
	series := q.Series
	if p.predictionLength <= 0 {
		return nil, ErrNotConfigured
	}
	var resp response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode response for %s: %w", series.Symbol, err)
	}
	if len(resp.Predictions) != 1 {
		return nil, fmt.Errorf("decode response for %s: got %d predictions, want 1", series.Symbol, len(resp.Predictions))
	}
	pred := resp.Predictions[0]

	n := p.predictionLength
	if pred.Mean != nil && len(pred.Mean) != n {
		return nil, fmt.Errorf("%w: mean has %d points, want %d", ErrHorizonMismatch, len(pred.Mean), n)
	}
	for key, vs := range pred.Quantiles {
		if len(vs) != n {
			return nil, fmt.Errorf("%w: quantile %s has %d points, want %d", ErrHorizonMismatch, key, len(vs), n)
		}
	}
	if cfg := q.config(); cfg.wants(OutputQuantiles) {
		for _, key := range cfg.Quantiles {
			if _, ok := pred.Quantiles[key]; !ok {
				return nil, fmt.Errorf("%w: %s missing for %s", ErrMissingQuantile, key, series.Symbol)
			}
		}
	}
	for i, s := range pred.Samples {
		if len(s) != n {
			return nil, fmt.Errorf("%w: sample %d has %d points, want %d", ErrHorizonMismatch, i, len(s), n)
		}
	}

	start := p.freq.Add(p.freq.Truncate(series.Start), series.Len())
	return &models.Forecast{
		Symbol:    series.Symbol,
		Start:     start,
		Freq:      p.freq.String(),
		Index:     p.freq.Range(start, n),
		Mean:      pred.Mean,
		Quantiles: pred.Quantiles,
		Samples:   pred.Samples,
	}, nil
}

// QuantilesForConfidence returns the lower bound, median and upper bound of a
// central interval holding confidence percent of the predictive mass.
func QuantilesForConfidence(confidence int) ([]string, error) {
	if confidence <= 0 || confidence >= 100 {
		return nil, fmt.Errorf("confidence must be in (0, 100), got %d", confidence)
	}
	lower := float64(100-confidence) / 200
	upper := float64(100+confidence) / 200
	qs := []string{formatQuantile(lower), "0.5", formatQuantile(upper)}
	return qs, nil
}

// SortedQuantiles lists the quantile keys of f in ascending order.
func SortedQuantiles(f *models.Forecast) []string {
	keys := make([]string, 0, len(f.Quantiles))
	for k := range f.Quantiles {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, _ := strconv.ParseFloat(keys[i], 64)
		b, _ := strconv.ParseFloat(keys[j], 64)
		return a < b
	})
	return keys
}

func formatQuantile(q float64) string {
	return strconv.FormatFloat(q, 'f', -1, 64)
}
