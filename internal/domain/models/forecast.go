package models

import "time"

// Forecast is a decoded quantile forecast for one series.
type Forecast struct {
	Symbol    string               `json:"symbol"`
	Start     time.Time            `json:"start"`
	Freq      string               `json:"freq"`
	Index     []time.Time          `json:"index"`
	Mean      []float64            `json:"mean,omitempty"`
	Quantiles map[string][]float64 `json:"quantiles"`
	Samples   [][]float64          `json:"samples,omitempty"`
}

// Horizon returns the number of forecast steps.
func (f *Forecast) Horizon() int { return len(f.Index) }

// ForecastView bundles a forecast with the history it was conditioned on and,
// when known, the realised values over the same horizon.
type ForecastView struct {
	Forecast   *Forecast   `json:"forecast"`
	History    []float64   `json:"history"`
	HistoryIdx []time.Time `json:"history_index"`
	Actual     []float64   `json:"actual,omitempty"`
	Lower      string      `json:"lower"`
	Upper      string      `json:"upper"`
	Cached     bool        `json:"cached"`
}

// ForecastEvent is the message published for every served forecast.
type ForecastEvent struct {
	ID        string               `json:"id"`
	Endpoint  string               `json:"endpoint"`
	Symbol    string               `json:"symbol"`
	Start     time.Time            `json:"start"`
	Freq      string               `json:"freq"`
	Quantiles map[string][]float64 `json:"quantiles"`
	CreatedAt time.Time            `json:"created_at"`
}
