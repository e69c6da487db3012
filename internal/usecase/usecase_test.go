package usecase

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"XetraCast/internal/domain/models"
	domrepo "XetraCast/internal/domain/repository"
	"XetraCast/internal/services/dataset"
	"XetraCast/internal/services/deepar"
	"XetraCast/pkg/cache"
	"XetraCast/pkg/metrics"
)

type fixture struct {
	dir     string
	store   *fakeObjectStore
	builder *DatasetBuilder
}

// prepare builds a dataset of BMW (close 10..19) and SAP (close 100..109),
// ten hourly points each, horizon 2, train end 14:00 and two test windows.
func prepare(t *testing.T) fixture {
	t.Helper()
	freq, err := dataset.ParseFrequency("H")
	require.NoError(t, err)

	fx := fixture{dir: t.TempDir(), store: &fakeObjectStore{}}
	src := &fakeSource{bars: hourlyBars(10, map[string]float64{"SAP": 100, "BMW": 10})}
	fx.builder = NewDatasetBuilder(src, fx.store, metrics.Nop{}, DatasetConfig{
		From:      day,
		To:        day,
		Freq:      freq,
		Build:     dataset.BuildOptions{SecurityType: "Common stock"},
		Records:   dataset.RecordOptions{Target: dataset.FieldClose, Covariates: []dataset.Field{dataset.FieldOpen}, Categories: true},
		TrainEnd:  day.Add(14 * time.Hour),
		Horizon:   2,
		Windows:   2,
		OutputDir: fx.dir,
		KeyPrefix: "xetracast/run",
	}, nil)
	_, err = fx.builder.Build(context.Background())
	require.NoError(t, err)
	return fx
}

func TestDatasetBuilderBuild(t *testing.T) {
	fx := prepare(t)

	p, err := LoadPrepared(fx.dir)
	require.NoError(t, err)
	m := p.Manifest
	assert.Equal(t, "H", m.Freq)
	assert.Equal(t, []string{"BMW", "SAP"}, m.Symbols)
	assert.Equal(t, []string{"open"}, m.Covariates)
	assert.Equal(t, 2, m.TrainCount)
	assert.Equal(t, 4, m.TestCount)
	assert.Equal(t, "s3://bucket/xetracast/run/train/", m.TrainURI)
	assert.Equal(t, "s3://bucket/xetracast/run/test/", m.TestURI)
	assert.Contains(t, fx.store.objects, "xetracast/run/train/train.json")
	assert.Contains(t, fx.store.objects, "xetracast/run/test/test.json")

	for _, name := range []string{SeriesFile, TrainFile, TestFile, ManifestFile} {
		_, err := os.Stat(filepath.Join(fx.dir, name))
		assert.NoError(t, err, name)
	}

	sap, err := p.Find("SAP")
	require.NoError(t, err)
	assert.Equal(t, day.Add(8*time.Hour), sap.Start)
	assert.Len(t, sap.Target, 10)
	assert.Equal(t, 109.0, sap.Target[9])
	assert.Equal(t, 108.5, sap.DynamicFeat[0][9])
	assert.Equal(t, []int{1}, sap.Cat)
}

func TestDatasetBuilderPropagatesSourceErrors(t *testing.T) {
	freq, err := dataset.ParseFrequency("H")
	require.NoError(t, err)
	b := NewDatasetBuilder(&fakeSource{err: errors.New("bucket unreachable")}, nil, metrics.Nop{},
		DatasetConfig{Freq: freq, Horizon: 2, OutputDir: t.TempDir()}, nil)
	_, err = b.Build(context.Background())
	assert.ErrorContains(t, err, "bucket unreachable")
}

func TestLoadPreparedMissing(t *testing.T) {
	_, err := LoadPrepared(t.TempDir())
	assert.ErrorIs(t, err, ErrNotPrepared)

	_, err = NewPreparedStore(t.TempDir()).Get()
	assert.ErrorIs(t, err, ErrNotPrepared)
}

func TestPreparedStoreCaches(t *testing.T) {
	fx := prepare(t)
	s := NewPreparedStore(fx.dir)
	a, err := s.Get()
	require.NoError(t, err)
	b, err := s.Get()
	require.NoError(t, err)
	assert.Same(t, a, b)
}

type forecastFixture struct {
	uc        *ForecastUseCase
	inv       *echoInvoker
	registry  *memRegistry
	publisher *fakePublisher
}

func newForecastFixture(t *testing.T, c cache.Service) forecastFixture {
	t.Helper()
	fx := prepare(t)
	ff := forecastFixture{
		inv:       &echoInvoker{horizon: 2},
		registry:  newMemRegistry(),
		publisher: &fakePublisher{},
	}
	ff.uc = NewForecastUseCase(NewPreparedStore(fx.dir), ff.inv, c, ff.registry, ff.publisher, metrics.Nop{},
		ForecastConfig{Endpoint: "ep", CacheTTL: time.Minute}, nil)
	return ff
}

func TestForecastAtLatestCutoff(t *testing.T) {
	ff := newForecastFixture(t, nil)

	view, err := ff.uc.Forecast(context.Background(), Params{Symbol: "SAP"})
	require.NoError(t, err)

	// Covariates are known through 17:00, so the last cutoff is 16:00.
	fc := view.Forecast
	assert.Equal(t, day.Add(16*time.Hour), fc.Start)
	assert.Equal(t, "SAP", fc.Symbol)
	assert.Equal(t, "0.1", view.Lower)
	assert.Equal(t, "0.9", view.Upper)
	assert.Equal(t, []float64{107.5, 108.5}, fc.Quantiles["0.5"])
	assert.Equal(t, []float64{108, 109}, view.Actual)
	assert.Len(t, view.History, 8)
	assert.Equal(t, day.Add(8*time.Hour), view.HistoryIdx[0])
	assert.False(t, view.Cached)

	require.Len(t, ff.inv.requests, 1)
	req := ff.inv.requests[0]
	assert.Len(t, req.Instances[0].Target, 8)
	assert.Len(t, req.Instances[0].DynamicFeat[0], 10)
	assert.Equal(t, []int{1}, req.Instances[0].Cat)
	assert.Equal(t, []string{"0.1", "0.5", "0.9"}, req.Configuration.Quantiles)
	assert.Equal(t, 100, req.Configuration.NumSamples)

	recs, err := ff.uc.History(context.Background(), "SAP", 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "ep", recs[0].Endpoint)
	assert.Equal(t, 2, recs[0].Horizon)
	require.Len(t, ff.publisher.events, 1)
	assert.Equal(t, recs[0].ID, ff.publisher.events[0].ID)
}

func TestForecastAtCutoff(t *testing.T) {
	ff := newForecastFixture(t, nil)

	view, err := ff.uc.Forecast(context.Background(), Params{
		Symbol:     "BMW",
		Cutoff:     day.Add(12 * time.Hour),
		Confidence: 90,
		NumSamples: 20,
	})
	require.NoError(t, err)
	assert.Equal(t, day.Add(12*time.Hour), view.Forecast.Start)
	assert.Equal(t, []float64{14, 15}, view.Actual)
	assert.Equal(t, []float64{10, 11, 12, 13}, view.History)
	assert.Equal(t, "0.05", view.Lower)
	assert.Equal(t, "0.95", view.Upper)
	assert.Equal(t, 20, ff.inv.requests[0].Configuration.NumSamples)
}

func TestForecastRejectsBadInput(t *testing.T) {
	ff := newForecastFixture(t, nil)
	ctx := context.Background()

	_, err := ff.uc.Forecast(ctx, Params{Symbol: "SAP", Cutoff: day.Add(17 * time.Hour)})
	assert.ErrorIs(t, err, ErrCutoffOutOfRange)

	_, err = ff.uc.Forecast(ctx, Params{Symbol: "SAP", Cutoff: day.Add(8 * time.Hour)})
	assert.ErrorIs(t, err, ErrCutoffOutOfRange)

	_, err = ff.uc.Forecast(ctx, Params{Symbol: "VOW3"})
	assert.ErrorIs(t, err, dataset.ErrUnknownSymbol)

	_, err = ff.uc.Forecast(ctx, Params{Symbol: "SAP", Confidence: 100})
	assert.Error(t, err)
	assert.Zero(t, ff.inv.calls)
}

func TestForecastUsesCache(t *testing.T) {
	mc := cache.NewMemoryCache()
	t.Cleanup(func() { mc.Close() })
	ff := newForecastFixture(t, mc)
	ctx := context.Background()

	first, err := ff.uc.Forecast(ctx, Params{Symbol: "SAP"})
	require.NoError(t, err)
	second, err := ff.uc.Forecast(ctx, Params{Symbol: "SAP"})
	require.NoError(t, err)

	assert.Equal(t, 1, ff.inv.calls)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Forecast.Quantiles, second.Forecast.Quantiles)
	assert.True(t, first.Forecast.Start.Equal(second.Forecast.Start))

	_, err = ff.uc.Forecast(ctx, Params{Symbol: "SAP", Confidence: 50})
	require.NoError(t, err)
	assert.Equal(t, 2, ff.inv.calls)
}

func TestForecastSurvivesPublishFailure(t *testing.T) {
	ff := newForecastFixture(t, nil)
	ff.publisher.err = errors.New("broker down")

	_, err := ff.uc.Forecast(context.Background(), Params{Symbol: "SAP"})
	require.NoError(t, err)
	assert.Len(t, ff.registry.forecasts, 1)
}

func TestLatestCutoff(t *testing.T) {
	ff := newForecastFixture(t, nil)
	c, err := ff.uc.LatestCutoff("BMW")
	require.NoError(t, err)
	assert.Equal(t, day.Add(16*time.Hour), c)

	syms, err := ff.uc.Symbols()
	require.NoError(t, err)
	assert.Equal(t, []string{"BMW", "SAP"}, syms)
	assert.Equal(t, []string{"open"}, ff.uc.Covariates())
}

func newTrainingUseCase(t *testing.T, trainer Trainer, hoster Hoster, reg domrepo.Registry) *TrainingUseCase {
	t.Helper()
	fx := prepare(t)
	return NewTrainingUseCase(NewPreparedStore(fx.dir), trainer, hoster, reg, metrics.Nop{},
		TrainingConfig{Hyperparameters: map[string]string{"epochs": "5"}, EndpointName: "xetra-ep"}, nil)
}

func TestTrainRecordsJob(t *testing.T) {
	reg := newMemRegistry()
	trainer := &fakeTrainer{job: &models.TrainingJob{Name: "deepar-1", Status: models.StatusCompleted, ModelArtifact: "s3://bucket/model.tar.gz"}}
	uc := newTrainingUseCase(t, trainer, &fakeHoster{}, reg)

	job, err := uc.Train(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "deepar-1", job.Name)

	hp := trainer.in.Hyperparameters
	assert.Equal(t, "H", hp.TimeFreq)
	assert.Equal(t, 2, hp.PredictionLength)
	assert.Equal(t, 2, hp.ContextLength)
	assert.Equal(t, 5, hp.Epochs)
	assert.Equal(t, "s3://bucket/xetracast/run/train/", trainer.in.TrainURI)
	assert.Equal(t, "s3://bucket/xetracast/run/test/", trainer.in.TestURI)

	saved, err := reg.GetTrainingJob(context.Background(), "deepar-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, saved.Status)
}

func TestTrainRecordsFailedJob(t *testing.T) {
	reg := newMemRegistry()
	trainer := &fakeTrainer{
		job: &models.TrainingJob{Name: "deepar-2", Status: models.StatusFailed, FailureReason: "AlgorithmError"},
		err: deepar.ErrJobFailed,
	}
	uc := newTrainingUseCase(t, trainer, &fakeHoster{}, reg)

	_, err := uc.Train(context.Background())
	assert.ErrorIs(t, err, deepar.ErrJobFailed)
	saved, err := reg.GetTrainingJob(context.Background(), "deepar-2")
	require.NoError(t, err)
	assert.Equal(t, "AlgorithmError", saved.FailureReason)
}

func TestDeployAndTeardown(t *testing.T) {
	ctx := context.Background()
	reg := newMemRegistry()
	require.NoError(t, reg.SaveTrainingJob(ctx, &models.TrainingJob{Name: "old", Status: models.StatusCompleted}))
	require.NoError(t, reg.SaveTrainingJob(ctx, &models.TrainingJob{Name: "new", Status: models.StatusCompleted}))
	require.NoError(t, reg.SaveTrainingJob(ctx, &models.TrainingJob{Name: "broken", Status: models.StatusFailed}))
	hoster := &fakeHoster{}
	uc := newTrainingUseCase(t, &fakeTrainer{}, hoster, reg)

	ep, err := uc.Deploy(ctx, "", "")
	require.NoError(t, err)
	assert.Equal(t, "xetra-ep", ep.Name)
	assert.Equal(t, "new", ep.TrainingJob)

	_, err = uc.Deploy(ctx, "broken", "other")
	assert.Error(t, err)

	_, err = uc.Deploy(ctx, "old", "second")
	require.NoError(t, err)

	hoster.deleteErr = map[string]error{"second": errors.New("throttled")}
	deleted, err := uc.TeardownAll(ctx)
	assert.ErrorContains(t, err, "throttled")
	assert.Equal(t, []string{"xetra-ep"}, deleted)

	active, err := reg.ActiveEndpoints(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "second", active[0].Name)

	// Endpoints the registry never saw are still deleted remotely.
	require.NoError(t, uc.Teardown(ctx, "untracked"))
	assert.Contains(t, hoster.deleted, "untracked")
}

func TestDeployRecordsFailedEndpoint(t *testing.T) {
	ctx := context.Background()
	reg := newMemRegistry()
	require.NoError(t, reg.SaveTrainingJob(ctx, &models.TrainingJob{Name: "job", Status: models.StatusCompleted}))
	uc := newTrainingUseCase(t, &fakeTrainer{}, &fakeHoster{deployErr: deepar.ErrEndpointFailed}, reg)

	_, err := uc.Deploy(ctx, "job", "ep")
	assert.ErrorIs(t, err, deepar.ErrEndpointFailed)
	ep, err := reg.GetEndpoint(ctx, "ep")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, ep.Status)
}

func TestIngest(t *testing.T) {
	src := &fakeSource{bars: hourlyBars(3, map[string]float64{"SAP": 100})}
	store := &fakeBarStore{}
	uc := NewIngestUseCase(src, store, metrics.Nop{}, nil)

	res, err := uc.Ingest(context.Background(), day, day)
	require.NoError(t, err)
	assert.True(t, store.inited)
	assert.Equal(t, 3, res.Loaded)
	assert.Equal(t, 3, res.Stored)
	assert.Len(t, store.stored, 3)

	_, err = uc.Ingest(context.Background(), day.AddDate(0, 0, 1), day)
	assert.Error(t, err)
}

func TestDatasetBuilderDerivesTrainEnd(t *testing.T) {
	freq, err := dataset.ParseFrequency("H")
	require.NoError(t, err)
	dir := t.TempDir()
	b := NewDatasetBuilder(&fakeSource{bars: hourlyBars(10, map[string]float64{"SAP": 100})}, nil, metrics.Nop{}, DatasetConfig{
		Freq:      freq,
		Records:   dataset.RecordOptions{Target: dataset.FieldClose},
		Horizon:   2,
		Windows:   2,
		OutputDir: dir,
	}, nil)

	m, err := b.Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, day.Add(14*time.Hour), m.TrainEnd)
	assert.Empty(t, m.TrainURI)
	assert.Equal(t, 1, m.TrainCount)
	assert.Equal(t, 2, m.TestCount)
}
