package di

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker"
	"github.com/aws/aws-sdk-go-v2/service/sagemakerruntime"

	domrepo "XetraCast/internal/domain/repository"
	"XetraCast/internal/handler/api"
	"XetraCast/internal/repository"
	"XetraCast/internal/scheduler"
	"XetraCast/internal/services/dataset"
	"XetraCast/internal/services/deepar"
	"XetraCast/internal/usecase"
	"XetraCast/pkg/cache"
	pkgch "XetraCast/pkg/clickhouse"
	"XetraCast/pkg/config"
	pkghttp "XetraCast/pkg/http"
	pkgkafka "XetraCast/pkg/kafka"
	applogger "XetraCast/pkg/logger"
	"XetraCast/pkg/metrics"
	"XetraCast/pkg/server"
	"XetraCast/pkg/util"
)

// Container holds the wired application. Optional parts are nil when their
// backend is disabled in configuration.
type Container struct {
	Config     *config.Config
	Logger     *applogger.Logger
	Registry   *repository.SQLiteRegistry
	Cache      cache.Service
	Publisher  domrepo.ForecastPublisher
	ClickHouse *pkgch.Client
	Prepared   *usecase.PreparedStore
	Builder    *usecase.DatasetBuilder
	Training   *usecase.TrainingUseCase
	Forecast   *usecase.ForecastUseCase
	Ingest     *usecase.IngestUseCase
	App        *server.App
}

// closer adapts a Close method to a wire cleanup func.
func closer(l *applogger.Logger, resource string, close func() error) func() {
	return func() {
		if err := close(); err != nil {
			l.Warn("close failed", applogger.String("resource", resource), applogger.Error(err))
		}
	}
}

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l, nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
var (
	recorderOnce sync.Once
	recorder     *metrics.Recorder
)

// ProvideMetrics returns the recorder bound to the default Prometheus
// registry. The registry is process-wide, so the recorder is too.
func ProvideMetrics() domrepo.Metrics {
	recorderOnce.Do(func() { recorder = metrics.New() })
	return recorder
}

// ProvideAWSConfig loads credentials and region from the default chain.
func ProvideAWSConfig(cfg *config.Config) (aws.Config, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return aws.Config{}, fmt.Errorf("aws config: %w", err)
	}
	return awsCfg, nil
}

func ProvideS3Client(awsCfg aws.Config) *s3.Client {
	return s3.NewFromConfig(awsCfg)
}

func ProvideSageMakerClient(awsCfg aws.Config) *sagemaker.Client {
	return sagemaker.NewFromConfig(awsCfg)
}

// ProvidePDSSource reads the public Xetra bucket anonymously, or a local
// mirror when source.local_dir is set.
func ProvidePDSSource(cfg *config.Config, awsCfg aws.Config, l *applogger.Logger) (*repository.PDSSource, error) {
	var client repository.S3API
	if cfg.Source.LocalDir == "" {
		client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.Region = cfg.Source.PDSRegion
			o.Credentials = aws.AnonymousCredentials{}
		})
	}
	src, err := repository.NewPDSSource(repository.PDSConfig{
		Bucket:       cfg.Source.PDSBucket,
		LocalDir:     cfg.Source.LocalDir,
		Calendar:     cfg.Source.Calendar,
		SecurityType: cfg.Source.SecurityType,
		Symbols:      cfg.Source.Symbols,
	}, client, l)
	if err != nil {
		return nil, fmt.Errorf("pds source: %w", err)
	}
	return src, nil
}

// ProvideClickHouseClient creates a ClickHouse client, or nil when the
// warehouse is disabled.
func ProvideClickHouseClient(cfg *config.Config, l *applogger.Logger) (*pkgch.Client, func(), error) {
	if !cfg.ClickHouse.Enabled {
		return nil, func() {}, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithAddr(cfg.ClickHouse.Host, cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithPool(10, 5, 5*time.Minute),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.InitSchema(ctx, []string{
		"CREATE DATABASE IF NOT EXISTS " + cfg.ClickHouse.Database,
	}); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, closer(l, "clickhouse", client.Close), nil
}

// ProvideBarStore returns the ClickHouse bar warehouse, or nil without a client.
func ProvideBarStore(ch *pkgch.Client, l *applogger.Logger) domrepo.BarStore {
	if ch == nil {
		return nil
	}
	return repository.NewCHBarStore(ch, "", l)
}

// ProvideBarSource picks where the dataset builder reads bars from.
func ProvideBarSource(cfg *config.Config, pds *repository.PDSSource, store domrepo.BarStore) domrepo.BarSource {
	if cfg.Source.Type == "clickhouse" && store != nil {
		return store
	}
	return pds
}

// ProvideObjectStore returns the dataset bucket, or nil when none is configured.
func ProvideObjectStore(cfg *config.Config, client *s3.Client, l *applogger.Logger) domrepo.ObjectStore {
	if cfg.AWS.Bucket == "" {
		return nil
	}
	return repository.NewS3Store(client, cfg.AWS.Bucket, cfg.AWS.Prefix, l)
}

func ProvideRegistry(cfg *config.Config, l *applogger.Logger) (*repository.SQLiteRegistry, func(), error) {
	r, err := repository.NewSQLiteRegistry(cfg.Registry.SQLitePath, l)
	if err != nil {
		return nil, nil, fmt.Errorf("registry: %w", err)
	}
	return r, closer(l, "registry", r.Close), nil
}

// ProvideCache returns a memory cache in front of Redis when Redis is
// enabled, and a process-local cache otherwise.
func ProvideCache(cfg *config.Config, l *applogger.Logger) (cache.Service, func(), error) {
	if !cfg.Redis.Enabled {
		mc := cache.NewMemoryCache(cache.WithMemoryTTL(cfg.Forecast.CacheTTL))
		return mc, closer(l, "memory cache", mc.Close), nil
	}
	rc, err := cache.NewRedisCache(
		cache.WithRedisAddr(cfg.Redis.Host, cfg.Redis.Port),
		cache.WithRedisAuth(cfg.Redis.Password, cfg.Redis.DB),
		cache.WithRedisPool(10, 2),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("redis cache: %w", err)
	}
	lc := cache.NewLayeredCache(rc, cache.WithLayeredMemoryTTL(time.Minute))
	return lc, closer(l, "redis cache", lc.Close), nil
}

// ProvideKafkaProducer creates a Kafka producer, or nil when Kafka is disabled.
func ProvideKafkaProducer(cfg *config.Config, l *applogger.Logger) (*pkgkafka.Producer, func(), error) {
	if !cfg.Kafka.Enabled {
		return nil, func() {}, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithTopic(cfg.Kafka.Topic, cfg.Kafka.AutoCreateTopic),
		pkgkafka.WithDelivery(cfg.Kafka.RequiredAcks, cfg.Kafka.Producer.MaxAttempts, cfg.Kafka.Compression),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.BatchBytes, cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, closer(l, "kafka producer", producer.Close), nil
}

// ProvideForecastPublisher streams forecasts to Kafka, or drops them when
// no producer is configured.
func ProvideForecastPublisher(producer *pkgkafka.Producer) domrepo.ForecastPublisher {
	if producer == nil {
		return repository.NopPublisher{}
	}
	return repository.NewKafkaForecastPublisher(producer)
}

// ProvideInvoker returns the endpoint client for the configured mode.
func ProvideInvoker(cfg *config.Config, awsCfg aws.Config) deepar.Invoker {
	if cfg.Endpoint.Mode == "http" {
		client := pkghttp.NewClient(
			pkghttp.WithTimeout(cfg.Endpoint.Timeout),
			pkghttp.WithRateLimit(cfg.Endpoint.RequestsPerSec),
			pkghttp.WithMaxRetryTime(cfg.Endpoint.MaxRetryTime),
		)
		return repository.NewHTTPInvoker(client, cfg.Endpoint.URL)
	}
	return repository.NewSageMakerInvoker(
		sagemakerruntime.NewFromConfig(awsCfg),
		cfg.Endpoint.Name,
		cfg.Endpoint.RequestsPerSec,
	)
}

func ProvideEstimator(cfg *config.Config, sm *sagemaker.Client, l *applogger.Logger) (*deepar.Estimator, error) {
	image, err := deepar.ImageURI(cfg.AWS.Region, cfg.Training.Image)
	if err != nil {
		return nil, err
	}
	return deepar.NewEstimator(sm, deepar.EstimatorConfig{
		Image:         image,
		RoleARN:       cfg.AWS.RoleARN,
		InstanceType:  cfg.Training.InstanceType,
		InstanceCount: cfg.Training.InstanceCount,
		VolumeSizeGB:  cfg.Training.VolumeSizeGB,
		MaxRuntime:    cfg.Training.MaxRuntime,
		OutputPath:    fmt.Sprintf("s3://%s/%s/output", cfg.AWS.Bucket, cfg.AWS.Prefix),
		JobPrefix:     cfg.Training.JobPrefix,
		Poll:          deepar.PollConfig{Interval: cfg.Training.PollInterval},
	}, l), nil
}

func ProvideDeployer(cfg *config.Config, sm *sagemaker.Client, l *applogger.Logger) (*deepar.Deployer, error) {
	image, err := deepar.ImageURI(cfg.AWS.Region, cfg.Training.Image)
	if err != nil {
		return nil, err
	}
	return deepar.NewDeployer(sm, deepar.DeployerConfig{
		Image:         image,
		RoleARN:       cfg.AWS.RoleARN,
		InstanceType:  cfg.Endpoint.InstanceType,
		InstanceCount: cfg.Endpoint.InstanceCount,
		Poll:          deepar.PollConfig{Interval: cfg.Training.PollInterval},
	}, l), nil
}

func ProvidePreparedStore(cfg *config.Config) *usecase.PreparedStore {
	return usecase.NewPreparedStore(cfg.Dataset.OutputDir)
}

// DatasetConfig translates the source and dataset sections of cfg.
func DatasetConfig(cfg *config.Config) (usecase.DatasetConfig, error) {
	var out usecase.DatasetConfig
	from, err := util.ParseDate(cfg.Source.From)
	if err != nil {
		return out, fmt.Errorf("source.from: %w", err)
	}
	to, err := util.ParseDate(cfg.Source.To)
	if err != nil {
		return out, fmt.Errorf("source.to: %w", err)
	}
	if to.Before(from) {
		return out, fmt.Errorf("source.to %s is before source.from %s", cfg.Source.To, cfg.Source.From)
	}
	freq, err := dataset.ParseFrequency(cfg.Dataset.Freq)
	if err != nil {
		return out, fmt.Errorf("dataset.freq: %w", err)
	}
	target, err := dataset.ParseField(cfg.Dataset.Target)
	if err != nil {
		return out, fmt.Errorf("dataset.target: %w", err)
	}
	covariates, err := dataset.ParseFields(cfg.Dataset.Covariates)
	if err != nil {
		return out, fmt.Errorf("dataset.covariates: %w", err)
	}
	var trainEnd time.Time
	if cfg.Dataset.TrainEnd != "" {
		t, ok := util.ParseTime(cfg.Dataset.TrainEnd)
		if !ok {
			return out, fmt.Errorf("dataset.train_end: cannot parse %q", cfg.Dataset.TrainEnd)
		}
		trainEnd = t
	}

	return usecase.DatasetConfig{
		From: from,
		To:   to,
		Freq: freq,
		Build: dataset.BuildOptions{
			SecurityType: cfg.Source.SecurityType,
			Symbols:      cfg.Source.Symbols,
		},
		Records: dataset.RecordOptions{
			Target:     target,
			Covariates: covariates,
			Categories: cfg.Dataset.Categories,
		},
		TrainEnd:  trainEnd,
		Horizon:   cfg.Dataset.PredictionLength,
		Windows:   cfg.Dataset.TestWindows,
		OutputDir: cfg.Dataset.OutputDir,
		KeyPrefix: "data",
	}, nil
}

func ProvideDatasetBuilder(
	cfg *config.Config,
	source domrepo.BarSource,
	store domrepo.ObjectStore,
	m domrepo.Metrics,
	l *applogger.Logger,
) (*usecase.DatasetBuilder, error) {
	dc, err := DatasetConfig(cfg)
	if err != nil {
		return nil, err
	}
	return usecase.NewDatasetBuilder(source, store, m, dc, l), nil
}

func ProvideTrainingUseCase(
	cfg *config.Config,
	prepared *usecase.PreparedStore,
	estimator *deepar.Estimator,
	deployer *deepar.Deployer,
	registry *repository.SQLiteRegistry,
	m domrepo.Metrics,
	l *applogger.Logger,
) *usecase.TrainingUseCase {
	return usecase.NewTrainingUseCase(prepared, estimator, deployer, registry, m, usecase.TrainingConfig{
		Hyperparameters: cfg.Training.Hyperparameters,
		EndpointName:    cfg.Endpoint.Name,
	}, l)
}

func ProvideForecastUseCase(
	cfg *config.Config,
	prepared *usecase.PreparedStore,
	invoker deepar.Invoker,
	c cache.Service,
	registry *repository.SQLiteRegistry,
	pub domrepo.ForecastPublisher,
	m domrepo.Metrics,
	l *applogger.Logger,
) *usecase.ForecastUseCase {
	endpoint := cfg.Endpoint.Name
	if cfg.Endpoint.Mode == "http" {
		endpoint = cfg.Endpoint.URL
	}
	return usecase.NewForecastUseCase(prepared, invoker, c, registry, pub, m, usecase.ForecastConfig{
		Endpoint:      endpoint,
		NumSamples:    cfg.Forecast.NumSamples,
		Confidence:    cfg.Forecast.Confidence,
		CacheTTL:      cfg.Forecast.CacheTTL,
		HistoryPoints: cfg.Forecast.HistoryPoints,
	}, l)
}

// ProvideIngestUseCase copies public-dataset bars into the warehouse. It is
// nil without a warehouse.
func ProvideIngestUseCase(pds *repository.PDSSource, store domrepo.BarStore, m domrepo.Metrics, l *applogger.Logger) *usecase.IngestUseCase {
	if store == nil {
		return nil
	}
	return usecase.NewIngestUseCase(pds, store, m, l)
}

func ProvideScheduler(cfg *config.Config, fc *usecase.ForecastUseCase, c cache.Service, l *applogger.Logger) *scheduler.Scheduler {
	return scheduler.New(context.Background(), fc, c, cfg.Source.Symbols, l)
}

// ProvideDashboard creates the dashboard routes with a health check per
// backing store.
func ProvideDashboard(
	fc *usecase.ForecastUseCase,
	registry *repository.SQLiteRegistry,
	store domrepo.BarStore,
	l *applogger.Logger,
) *api.DashboardHandler {
	checks := map[string]api.HealthCheck{
		"registry": registry.Ping,
	}
	if store != nil {
		checks["clickhouse"] = store.Health
	}
	return api.NewDashboardHandler(l, fc, checks)
}

func ProvideApp(cfg *config.Config, h *api.DashboardHandler, s *scheduler.Scheduler, l *applogger.Logger) *server.App {
	return server.New(cfg, h, s, l)
}
