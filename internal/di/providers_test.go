package di

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"XetraCast/internal/repository"
	"XetraCast/internal/services/dataset"
	"XetraCast/pkg/config"
	applogger "XetraCast/pkg/logger"
)

func testConfig() *config.Config {
	c := &config.Config{}
	c.Source.From = "2018-01-02"
	c.Source.To = "2018-01-31"
	c.Source.SecurityType = "Common stock"
	c.Source.Symbols = []string{"BMW", "SAP"}
	c.Dataset.Freq = "H"
	c.Dataset.Target = "close"
	c.Dataset.Covariates = []string{"open", "max"}
	c.Dataset.PredictionLength = 24
	c.Dataset.TestWindows = 2
	c.Dataset.OutputDir = "data"
	return c
}

func TestDatasetConfig(t *testing.T) {
	c := testConfig()
	c.Dataset.TrainEnd = "2018-01-20 17:00:00"
	c.Dataset.Categories = true

	dc, err := DatasetConfig(c)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2018, 1, 2, 0, 0, 0, 0, time.UTC), dc.From)
	assert.Equal(t, time.Date(2018, 1, 31, 0, 0, 0, 0, time.UTC), dc.To)
	assert.Equal(t, "H", dc.Freq.String())
	assert.Equal(t, dataset.Field("close"), dc.Records.Target)
	assert.Len(t, dc.Records.Covariates, 2)
	assert.True(t, dc.Records.Categories)
	assert.Equal(t, time.Date(2018, 1, 20, 17, 0, 0, 0, time.UTC), dc.TrainEnd)
	assert.Equal(t, []string{"BMW", "SAP"}, dc.Build.Symbols)
	assert.Equal(t, 24, dc.Horizon)
	assert.Equal(t, 2, dc.Windows)
}

func TestDatasetConfigErrors(t *testing.T) {
	tests := map[string]func(c *config.Config){
		"bad from":      func(c *config.Config) { c.Source.From = "yesterday" },
		"reversed":      func(c *config.Config) { c.Source.To = "2017-12-31" },
		"bad freq":      func(c *config.Config) { c.Dataset.Freq = "fortnight" },
		"bad target":    func(c *config.Config) { c.Dataset.Target = "vwap" },
		"bad covariate": func(c *config.Config) { c.Dataset.Covariates = []string{"spread"} },
		"bad train end": func(c *config.Config) { c.Dataset.TrainEnd = "soon" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			c := testConfig()
			mutate(c)
			_, err := DatasetConfig(c)
			assert.Error(t, err)
		})
	}
}

func TestOptionalBackends(t *testing.T) {
	c := testConfig()

	assert.Nil(t, ProvideObjectStore(c, nil, nil))
	assert.Nil(t, ProvideBarStore(nil, nil))
	assert.Nil(t, ProvideIngestUseCase(nil, nil, nil, nil))
	assert.IsType(t, repository.NopPublisher{}, ProvideForecastPublisher(nil))

	ch, cleanup, err := ProvideClickHouseClient(c, nil)
	require.NoError(t, err)
	assert.Nil(t, ch)
	cleanup()

	producer, cleanup, err := ProvideKafkaProducer(c, nil)
	require.NoError(t, err)
	assert.Nil(t, producer)
	cleanup()

	cs, cleanup, err := ProvideCache(c, applogger.NewNop())
	require.NoError(t, err)
	require.NotNil(t, cs)
	cleanup()
}

func TestProvideRegistryCleanup(t *testing.T) {
	c := testConfig()
	c.Registry.SQLitePath = filepath.Join(t.TempDir(), "registry.db")

	r, cleanup, err := ProvideRegistry(c, applogger.NewNop())
	require.NoError(t, err)
	require.NoError(t, r.Ping(context.Background()))

	cleanup()
	assert.Error(t, r.Ping(context.Background()))
}

func containerConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "source:\n  from: \"2018-01-02\"\n  to: \"2018-01-31\"\n  local_dir: " + dir + "\n" +
		"log:\n  output: stderr\n" +
		"registry:\n  sqlite_path: " + filepath.Join(dir, "registry.db") + "\n" +
		"dataset:\n  output_dir: " + filepath.Join(dir, "data") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	c, err := config.Load(path)
	require.NoError(t, err)
	c.AWS.Region = "eu-central-1"
	return c
}

func TestInitializeContainerCleanup(t *testing.T) {
	c, cleanup, err := InitializeContainer(containerConfig(t))
	require.NoError(t, err)
	require.NotNil(t, c.App)
	require.NoError(t, c.Registry.Ping(context.Background()))

	cleanup()
	assert.Error(t, c.Registry.Ping(context.Background()))
}

func TestInitializeContainerFailsLate(t *testing.T) {
	cfg := containerConfig(t)
	cfg.AWS.Region = "mars-north-1"

	c, cleanup, err := InitializeContainer(cfg)
	assert.Error(t, err)
	assert.Nil(t, c)
	assert.Nil(t, cleanup)
}

func TestProvideBarSource(t *testing.T) {
	c := testConfig()
	c.Source.Type = "pds"
	c.Source.LocalDir = t.TempDir()

	pds, err := repository.NewPDSSource(repository.PDSConfig{LocalDir: c.Source.LocalDir}, nil, nil)
	require.NoError(t, err)
	assert.Same(t, pds, ProvideBarSource(c, pds, nil))

	// Without a warehouse the public dataset is the only source.
	c.Source.Type = "clickhouse"
	assert.Same(t, pds, ProvideBarSource(c, pds, nil))
}
