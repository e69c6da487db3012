//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"XetraCast/pkg/config"
)

// InitializeContainer wires up all dependencies. The returned func closes
// every client that was opened; call it once the container is done.
// Wire generates the implementation of this function.
func InitializeContainer(cfg *config.Config) (*Container, func(), error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideAWSConfig,
		ProvideS3Client,
		ProvideSageMakerClient,
		ProvideClickHouseClient,
		ProvideKafkaProducer,
		ProvideCache,

		// Repositories
		ProvidePDSSource,
		ProvideBarStore,
		ProvideBarSource,
		ProvideObjectStore,
		ProvideRegistry,
		ProvideForecastPublisher,
		ProvideInvoker,

		// Remote model lifecycle
		ProvideEstimator,
		ProvideDeployer,

		// Use cases
		ProvidePreparedStore,
		ProvideDatasetBuilder,
		ProvideTrainingUseCase,
		ProvideForecastUseCase,
		ProvideIngestUseCase,

		// Serving
		ProvideScheduler,
		ProvideDashboard,
		ProvideApp,

		wire.Struct(new(Container), "*"),
	)
	return nil, nil, nil
}
