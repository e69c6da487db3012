package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"XetraCast/internal/domain/models"
	domrepo "XetraCast/internal/domain/repository"
	"XetraCast/internal/services/dataset"
	"XetraCast/internal/services/deepar"
	"XetraCast/pkg/cache"
	applogger "XetraCast/pkg/logger"
)

var ErrCutoffOutOfRange = errors.New("usecase: cutoff outside the forecastable range")

// ForecastConfig tunes forecast requests and caching.
type ForecastConfig struct {
	Endpoint      string
	NumSamples    int
	Confidence    int
	CacheTTL      time.Duration
	HistoryPoints int // history returned with a forecast; 4 horizons when zero
}

// Params selects one forecast. A zero Cutoff means the latest cutoff whose
// horizon is still covered by known covariates.
type Params struct {
	Symbol     string
	Cutoff     time.Time
	Confidence int
	NumSamples int
}

// ForecastUseCase answers quantile forecasts for prepared series.
type ForecastUseCase struct {
	data      PreparedSource
	invoker   deepar.Invoker
	cache     cache.Service
	registry  domrepo.Registry
	publisher domrepo.ForecastPublisher
	metrics   domrepo.Metrics
	cfg       ForecastConfig
	l         *applogger.Logger
	now       func() time.Time
}

// NewForecastUseCase wires the forecast flow. cache may be nil.
func NewForecastUseCase(
	data PreparedSource,
	invoker deepar.Invoker,
	c cache.Service,
	registry domrepo.Registry,
	publisher domrepo.ForecastPublisher,
	metrics domrepo.Metrics,
	cfg ForecastConfig,
	l *applogger.Logger,
) *ForecastUseCase {
	if cfg.NumSamples <= 0 {
		cfg.NumSamples = 100
	}
	if cfg.Confidence <= 0 {
		cfg.Confidence = 80
	}
	if l == nil {
		l = applogger.NewNop()
	}
	return &ForecastUseCase{
		data:      data,
		invoker:   invoker,
		cache:     c,
		registry:  registry,
		publisher: publisher,
		metrics:   metrics,
		cfg:       cfg,
		l:         l.With("forecast"),
		now:       time.Now,
	}
}

// Symbols lists the prepared symbols.
func (uc *ForecastUseCase) Symbols() ([]string, error) {
	p, err := uc.data.Get()
	if err != nil {
		return nil, err
	}
	return p.Symbols(), nil
}

// Series returns the full prepared series of symbol and its frequency.
func (uc *ForecastUseCase) Series(symbol string) (*models.TimeSeries, dataset.Frequency, error) {
	p, err := uc.data.Get()
	if err != nil {
		return nil, dataset.Frequency{}, err
	}
	ts, err := p.Find(symbol)
	if err != nil {
		return nil, dataset.Frequency{}, err
	}
	return ts, p.Freq, nil
}

// Covariates names the dynamic features of the prepared records.
func (uc *ForecastUseCase) Covariates() []string {
	p, err := uc.data.Get()
	if err != nil {
		return nil
	}
	return p.Manifest.Covariates
}

// Forecast cuts the symbol's history at the cutoff, asks the endpoint for
// the median and the confidence band, and returns them together with the
// history and the realised values that followed the cutoff.
func (uc *ForecastUseCase) Forecast(ctx context.Context, in Params) (*models.ForecastView, error) {
	if in.Confidence == 0 {
		in.Confidence = uc.cfg.Confidence
	}
	if in.NumSamples <= 0 {
		in.NumSamples = uc.cfg.NumSamples
	}
	quantiles, err := deepar.QuantilesForConfidence(in.Confidence)
	if err != nil {
		return nil, err
	}

	p, err := uc.data.Get()
	if err != nil {
		return nil, err
	}
	full, err := p.Find(in.Symbol)
	if err != nil {
		return nil, err
	}
	horizon := p.Manifest.PredictionLength
	n, err := historyLength(full, p.Freq, horizon, in.Cutoff)
	if err != nil {
		return nil, err
	}
	cutoff := p.Freq.Add(p.Freq.Truncate(full.Start), n)

	key := cache.Key("forecast", uc.cfg.Endpoint, in.Symbol, cache.HashKey(fmt.Sprintf("%s|%d|%d|%s",
		cutoff.Format(time.RFC3339), in.Confidence, in.NumSamples, p.Manifest.CreatedAt.Format(time.RFC3339Nano))))
	if view, ok := uc.cached(ctx, key); ok {
		return view, nil
	}

	predictor := deepar.NewPredictor(uc.invoker, uc.l)
	if err := predictor.SetPredictionParameters(p.Freq, horizon); err != nil {
		return nil, err
	}
	start := time.Now()
	fc, err := predictor.Predict(ctx, deepar.Query{
		Series:      full.Truncate(n, horizon),
		NumSamples:  in.NumSamples,
		Quantiles:   quantiles,
		OutputTypes: []string{deepar.OutputMean, deepar.OutputQuantiles},
	})
	uc.metrics.RecordRemoteCall("invoke_endpoint", time.Since(start), err)
	if err != nil {
		uc.metrics.RecordError("forecast")
		return nil, err
	}

	view := &models.ForecastView{
		Forecast: fc,
		Lower:    quantiles[0],
		Upper:    quantiles[2],
	}
	keep := uc.cfg.HistoryPoints
	if keep <= 0 {
		keep = 4 * horizon
	}
	from := max(0, n-keep)
	view.History = append([]float64(nil), full.Target[from:n]...)
	view.HistoryIdx = p.Freq.Range(p.Freq.Add(p.Freq.Truncate(full.Start), from), n-from)
	if n < full.Len() {
		view.Actual = append([]float64(nil), full.Target[n:min(n+horizon, full.Len())]...)
	}

	uc.record(ctx, fc)
	uc.metrics.RecordForecast(in.Symbol)
	if uc.cache != nil && uc.cfg.CacheTTL > 0 {
		if err := uc.cache.Set(ctx, key, view, uc.cfg.CacheTTL); err != nil {
			uc.l.Warn("cache forecast failed", applogger.String("key", key), applogger.Error(err))
		}
	}
	uc.l.Info("forecast served",
		applogger.String("symbol", in.Symbol),
		applogger.Time("cutoff", cutoff),
		applogger.Int("horizon", fc.Horizon()),
		applogger.Strings("quantiles", quantiles),
	)
	return view, nil
}

// LatestCutoff returns the cutoff Forecast uses when none is given.
func (uc *ForecastUseCase) LatestCutoff(symbol string) (time.Time, error) {
	p, err := uc.data.Get()
	if err != nil {
		return time.Time{}, err
	}
	full, err := p.Find(symbol)
	if err != nil {
		return time.Time{}, err
	}
	n, err := historyLength(full, p.Freq, p.Manifest.PredictionLength, time.Time{})
	if err != nil {
		return time.Time{}, err
	}
	return p.Freq.Add(p.Freq.Truncate(full.Start), n), nil
}

// historyLength counts the points before cutoff. With covariates the
// horizon after the cutoff must lie inside the series, since the endpoint
// needs their future values.
func historyLength(ts *models.TimeSeries, freq dataset.Frequency, horizon int, cutoff time.Time) (int, error) {
	limit := ts.Len()
	if len(ts.DynamicFeat) > 0 {
		limit -= horizon
	}
	if cutoff.IsZero() {
		if limit < 1 {
			return 0, fmt.Errorf("%w: %s has %d points, horizon is %d", ErrCutoffOutOfRange, ts.Symbol, ts.Len(), horizon)
		}
		return limit, nil
	}
	n := freq.Steps(freq.Truncate(ts.Start), cutoff)
	if n < 1 || n > limit {
		last := freq.Add(freq.Truncate(ts.Start), max(limit, 0))
		return 0, fmt.Errorf("%w: %s must be after %s and no later than %s", ErrCutoffOutOfRange,
			cutoff.Format(models.StartLayout), ts.Start.Format(models.StartLayout), last.Format(models.StartLayout))
	}
	return n, nil
}

func (uc *ForecastUseCase) cached(ctx context.Context, key string) (*models.ForecastView, bool) {
	if uc.cache == nil || uc.cfg.CacheTTL <= 0 {
		return nil, false
	}
	var view models.ForecastView
	err := uc.cache.Get(ctx, key, &view)
	if errors.Is(err, cache.ErrCacheMiss) {
		uc.metrics.RecordCacheLookup(false)
		return nil, false
	}
	if err != nil {
		uc.l.Warn("cache lookup failed", applogger.String("key", key), applogger.Error(err))
		return nil, false
	}
	uc.metrics.RecordCacheLookup(true)
	view.Cached = true
	return &view, true
}

// record stores and publishes a served forecast. Failures are logged only;
// the caller still gets the forecast.
func (uc *ForecastUseCase) record(ctx context.Context, fc *models.Forecast) {
	id := uuid.NewString()
	now := uc.now().UTC()
	payload, err := json.Marshal(fc)
	if err != nil {
		uc.l.Error("encode forecast failed", applogger.Error(err))
		return
	}
	if err := uc.registry.SaveForecast(ctx, &models.ForecastRecord{
		ID:        id,
		Endpoint:  uc.cfg.Endpoint,
		Symbol:    fc.Symbol,
		Start:     fc.Start,
		Horizon:   fc.Horizon(),
		Payload:   payload,
		CreatedAt: now,
	}); err != nil {
		uc.l.Error("record forecast failed", applogger.String("symbol", fc.Symbol), applogger.Error(err))
	}
	if err := uc.publisher.PublishForecast(ctx, &models.ForecastEvent{
		ID:        id,
		Endpoint:  uc.cfg.Endpoint,
		Symbol:    fc.Symbol,
		Start:     fc.Start,
		Freq:      fc.Freq,
		Quantiles: fc.Quantiles,
		CreatedAt: now,
	}); err != nil {
		uc.metrics.RecordError("publish")
		uc.l.Error("publish forecast failed", applogger.String("symbol", fc.Symbol), applogger.Error(err))
	}
}

// History returns the most recent recorded forecasts for symbol.
func (uc *ForecastUseCase) History(ctx context.Context, symbol string, limit int) ([]models.ForecastRecord, error) {
	return uc.registry.ListForecasts(ctx, symbol, limit)
}
