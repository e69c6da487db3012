package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	recordsWritten  *prometheus.CounterVec
	remoteCalls     *prometheus.CounterVec
	remoteLatency   *prometheus.HistogramVec
	cacheLookups    *prometheus.CounterVec
	forecastsServed *prometheus.CounterVec
	errorsTotal     *prometheus.CounterVec
}

// New registers the recorder's collectors with the default registry.
func New() *Recorder {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers the collectors with reg.
func NewWithRegisterer(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		recordsWritten: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xetracast_dataset_records_total",
				Help: "DeepAR records written, by dataset channel",
			},
			[]string{"channel"},
		),
		remoteCalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xetracast_remote_calls_total",
				Help: "Calls to remote services, by operation and result",
			},
			[]string{"op", "result"},
		),
		remoteLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "xetracast_remote_call_duration_seconds",
				Help:    "Duration of remote calls in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 300, 900, 3600},
			},
			[]string{"op"},
		),
		cacheLookups: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xetracast_forecast_cache_lookups_total",
				Help: "Forecast cache lookups, by result",
			},
			[]string{"result"},
		),
		forecastsServed: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xetracast_forecasts_total",
				Help: "Forecasts served, by symbol",
			},
			[]string{"symbol"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xetracast_errors_total",
				Help: "Errors encountered, by kind",
			},
			[]string{"kind"},
		),
	}
}

// RecordRecords counts records written to a dataset channel (train, test).
func (r *Recorder) RecordRecords(channel string, n int) {
	r.recordsWritten.WithLabelValues(channel).Add(float64(n))
}

// RecordRemoteCall records the outcome and latency of one remote operation.
func (r *Recorder) RecordRemoteCall(op string, d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.remoteCalls.WithLabelValues(op, result).Inc()
	r.remoteLatency.WithLabelValues(op).Observe(d.Seconds())
}

// RecordCacheLookup counts a forecast cache hit or miss.
func (r *Recorder) RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	r.cacheLookups.WithLabelValues(result).Inc()
}

// RecordForecast counts a served forecast.
func (r *Recorder) RecordForecast(symbol string) {
	r.forecastsServed.WithLabelValues(symbol).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// Nop discards every measurement.
type Nop struct{}

func (Nop) RecordRecords(string, int) {}
func (Nop) RecordRemoteCall(string, time.Duration, error) {}
func (Nop) RecordCacheLookup(bool) {}
func (Nop) RecordForecast(string) {}
func (Nop) RecordError(string) {}
